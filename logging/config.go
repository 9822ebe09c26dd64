package logging

import "time"

// Sink names accepted in Config.EnabledSinks.
const (
	SinkConsole = "console"
	SinkJSON    = "json"
	SinkMemory  = "memory"
)

var knownSinks = []string{SinkConsole, SinkJSON, SinkMemory}

// Config drives the event router and the sinks built for it. Fields are
// stamped on every event; per-event extras win over them.
type Config struct {
	EnabledSinks     []string
	BufferSize       int
	MinimumSeverity  Severity
	Fields           map[string]any
	JSON             JSONConfig
	Console          ConsoleConfig
	DropWarnInterval time.Duration
}

// JSONConfig configures the zerolog line sink. An empty Path writes to the
// process output.
type JSONConfig struct {
	Path          string
	FlushInterval time.Duration
}

type ConsoleConfig struct {
	Prefix string
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{SinkConsole},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
		Console: ConsoleConfig{
			Prefix: "[spacerama] ",
		},
	}
}

// Sinks returns the enabled sink names that this package can build, in
// order and without duplicates. It falls back to the console sink.
func (c Config) Sinks() []string {
	seen := make(map[string]struct{}, len(c.EnabledSinks))
	out := make([]string, 0, len(c.EnabledSinks))
	for _, name := range c.EnabledSinks {
		if !isKnownSink(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		out = append(out, SinkConsole)
	}
	return out
}

// UnknownSinks lists enabled names that Sinks skips.
func (c Config) UnknownSinks() []string {
	var unknown []string
	for _, name := range c.EnabledSinks {
		if name != "" && !isKnownSink(name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func isKnownSink(name string) bool {
	for _, known := range knownSinks {
		if known == name {
			return true
		}
	}
	return false
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
