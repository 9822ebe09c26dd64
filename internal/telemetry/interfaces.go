package telemetry

import (
	"log"

	"github.com/gsharad007/spacerama/logging"
)

// Logger exposes the logging capabilities required by session and relay components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// Metrics exposes the counters and gauges the rollback core reports.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// WrapMetrics adapts the in-process counter table into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryAdd(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryStore(key, value)
}

// Multi fans every update out to each non-nil backend.
func Multi(backends ...Metrics) Metrics {
	filtered := make([]Metrics, 0, len(backends))
	for _, backend := range backends {
		if backend != nil {
			filtered = append(filtered, backend)
		}
	}
	return multiMetrics(filtered)
}

type multiMetrics []Metrics

func (m multiMetrics) Add(key string, delta uint64) {
	for _, backend := range m {
		backend.Add(key, delta)
	}
}

func (m multiMetrics) Store(key string, value uint64) {
	for _, backend := range m {
		backend.Store(key, value)
	}
}

// Metric keys shared by the session, engine and transports.
const (
	MetricTicks              = "session_ticks_total"
	MetricRollbacks          = "rollback_total"
	MetricResimulatedTicks   = "rollback_resimulated_ticks_total"
	MetricDesyncs            = "rollback_desync_total"
	MetricSyncTestMismatches = "rollback_synctest_mismatch_total"
	MetricPredictionDepth    = "prediction_depth_ticks"
	MetricMalformedMessages  = "netsync_malformed_total"
	MetricProtocolMismatches = "netsync_protocol_mismatch_total"
	MetricUnknownActors      = "netsync_unknown_actor_total"
	MetricInboxDropped       = "transport_inbox_dropped_total"
	MetricConditionerDropped = "transport_conditioner_dropped_total"
	MetricTickOverruns       = "sim_tick_overrun_total"
)
