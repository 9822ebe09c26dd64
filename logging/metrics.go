package logging

import (
	"sync"
	"sync/atomic"
)

// Metrics is an in-process counter table keyed by metric name. The zero
// value is ready to use.
type Metrics struct {
	values sync.Map
}

func (m *Metrics) counter(key string) *atomic.Uint64 {
	if existing, ok := m.values.Load(key); ok {
		return existing.(*atomic.Uint64)
	}
	actual, _ := m.values.LoadOrStore(key, new(atomic.Uint64))
	return actual.(*atomic.Uint64)
}

// TelemetryAdd increments the named counter.
func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.counter(key).Add(delta)
}

// TelemetryStore overwrites the named gauge.
func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.counter(key).Store(value)
}

// Snapshot copies every metric into a plain map.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.values.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return out
}
