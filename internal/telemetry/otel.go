package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/gsharad007/spacerama/internal/telemetry"

// OTel publishes metrics through OpenTelemetry instruments. Counters and
// gauges are created lazily the first time a key is seen. Without a
// configured global provider the instruments are no-ops.
type OTel struct {
	meter  metric.Meter
	logger Logger

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	gauges   map[string]metric.Int64Gauge
}

// NewOTel builds an adapter on the given meter, or on the global meter
// provider when meter is nil.
func NewOTel(meter metric.Meter, logger Logger) *OTel {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	return &OTel{
		meter:    meter,
		logger:   logger,
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Int64Gauge),
	}
}

func (o *OTel) Add(key string, delta uint64) {
	if o == nil || key == "" {
		return
	}
	counter, ok := o.counter(key)
	if !ok {
		return
	}
	counter.Add(context.Background(), int64(delta))
}

func (o *OTel) Store(key string, value uint64) {
	if o == nil || key == "" {
		return
	}
	gauge, ok := o.gauge(key)
	if !ok {
		return
	}
	gauge.Record(context.Background(), int64(value))
}

func (o *OTel) counter(key string) (metric.Int64Counter, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.counters[key]; ok {
		return existing, true
	}
	counter, err := o.meter.Int64Counter(key)
	if err != nil {
		o.logf("creating counter %s: %v", key, err)
		return nil, false
	}
	o.counters[key] = counter
	return counter, true
}

func (o *OTel) gauge(key string) (metric.Int64Gauge, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.gauges[key]; ok {
		return existing, true
	}
	gauge, err := o.meter.Int64Gauge(key)
	if err != nil {
		o.logf("creating gauge %s: %v", key, err)
		return nil, false
	}
	o.gauges[key] = gauge
	return gauge, true
}

func (o *OTel) logf(format string, args ...any) {
	if o.logger == nil {
		return
	}
	o.logger.Printf(format, args...)
}
