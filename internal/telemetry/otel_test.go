package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestOTelCachesInstruments(t *testing.T) {
	adapter := NewOTel(noop.NewMeterProvider().Meter("test"), nil)

	adapter.Add(MetricRollbacks, 1)
	adapter.Add(MetricRollbacks, 2)
	adapter.Store(MetricPredictionDepth, 5)
	adapter.Add("", 1)

	if got := len(adapter.counters); got != 1 {
		t.Fatalf("expected 1 counter, got %d", got)
	}
	if got := len(adapter.gauges); got != 1 {
		t.Fatalf("expected 1 gauge, got %d", got)
	}
}

func TestOTelNilSafe(t *testing.T) {
	var adapter *OTel
	adapter.Add("ignored", 1)
	adapter.Store("ignored", 1)
}

func TestOTelUsesGlobalMeterByDefault(t *testing.T) {
	adapter := NewOTel(nil, nil)
	adapter.Add(MetricTicks, 1)
	if adapter.meter == nil {
		t.Fatalf("expected a meter from the global provider")
	}
}
