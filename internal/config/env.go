package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Observability captures opt-in diagnostics toggles read from the environment.
type Observability struct {
	EnablePprofTrace bool     `env:"ENABLE_PPROF_TRACE" envDefault:"false"`
	LogSinks         []string `env:"LOG_SINKS" envSeparator:"," envDefault:"console"`
	LogJSONPath      string   `env:"LOG_JSON_PATH"`
	LogLevel         string   `env:"LOG_LEVEL"`
	OTelMetrics      bool     `env:"OTEL_METRICS" envDefault:"false"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadObservability reads the observability toggles.
func LoadObservability() (Observability, error) {
	var cfg Observability
	if err := ParseEnv(&cfg); err != nil {
		return Observability{}, err
	}
	return cfg, nil
}
