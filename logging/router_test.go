package logging

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *recordingSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestNewRouterRequiresSinks(t *testing.T) {
	if _, err := NewRouter(DefaultConfig(), nil, nil, nil); !errors.Is(err, errNoSinks) {
		t.Fatalf("expected errNoSinks, got %v", err)
	}
}

func TestRouterDeliversEventsAndStampsFields(t *testing.T) {
	fixed := time.Unix(1700000000, 0).UTC()
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityDebug
	cfg.Fields = map[string]any{"session": "abc"}
	sink := &recordingSink{}
	router, err := NewRouter(cfg, ClockFunc(func() time.Time { return fixed }), log.New(io.Discard, "", 0), map[string]Sink{"memory": sink})
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}

	router.Publish(context.Background(), Event{Type: "test.one", Tick: 3, Severity: SeverityInfo})
	router.Publish(context.Background(), Event{Type: "test.two", Tick: 4, Severity: SeverityDebug, Extra: map[string]any{"session": "override"}})

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].Time.Equal(fixed) {
		t.Fatalf("expected clock time %v, got %v", fixed, events[0].Time)
	}
	if events[0].Extra["session"] != "abc" {
		t.Fatalf("expected router field to be stamped, got %v", events[0].Extra)
	}
	if events[1].Extra["session"] != "override" {
		t.Fatalf("expected event field to win, got %v", events[1].Extra)
	}
	if !sink.closed {
		t.Fatalf("expected sink to be closed")
	}
	if stats := router.Stats(); stats.EventsTotal != 2 {
		t.Fatalf("expected 2 routed events, got %d", stats.EventsTotal)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityWarn
	sink := &recordingSink{}
	router, err := NewRouter(cfg, nil, log.New(io.Discard, "", 0), map[string]Sink{"memory": sink})
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	router.Publish(context.Background(), Event{Type: "test.info", Severity: SeverityInfo})
	router.Publish(context.Background(), Event{Type: "test.warn", Severity: SeverityWarn})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	events := sink.snapshot()
	if len(events) != 1 || events[0].Type != "test.warn" {
		t.Fatalf("expected only the warning to pass, got %+v", events)
	}
}

func TestRouterIgnoresPublishAfterClose(t *testing.T) {
	sink := &recordingSink{}
	router, err := NewRouter(DefaultConfig(), nil, log.New(io.Discard, "", 0), map[string]Sink{"memory": sink})
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	router.Publish(context.Background(), Event{Type: "late", Severity: SeverityError})
	if len(sink.snapshot()) != 0 {
		t.Fatalf("expected no events after close")
	}
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestWithFieldsDoesNotMutateCallerExtra(t *testing.T) {
	var captured Event
	pub := WithFields(PublisherFunc(func(_ context.Context, event Event) {
		captured = event
	}), map[string]any{"role": "client"})

	extra := map[string]any{"peer": 2}
	pub.Publish(context.Background(), Event{Type: "x", Extra: extra})

	if captured.Extra["role"] != "client" || captured.Extra["peer"] != 2 {
		t.Fatalf("unexpected merged extra: %v", captured.Extra)
	}
	if _, leaked := extra["role"]; leaked {
		t.Fatalf("expected caller map to stay untouched")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	var metrics Metrics
	metrics.TelemetryAdd("rollbacks", 2)
	metrics.TelemetryAdd("rollbacks", 3)
	metrics.TelemetryStore("depth", 7)
	metrics.TelemetryAdd("", 1)

	snapshot := metrics.Snapshot()
	if snapshot["rollbacks"] != 5 {
		t.Fatalf("expected rollbacks=5, got %d", snapshot["rollbacks"])
	}
	if snapshot["depth"] != 7 {
		t.Fatalf("expected depth=7, got %d", snapshot["depth"])
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics, got %v", snapshot)
	}

	var nilMetrics *Metrics
	nilMetrics.TelemetryAdd("x", 1)
	if len(nilMetrics.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot from nil metrics")
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"debug":   SeverityDebug,
		"warning": SeverityWarn,
		"ERROR":   SeverityError,
		"bogus":   SeverityInfo,
	}
	for raw, want := range cases {
		if got := ParseSeverity(raw); got != want {
			t.Fatalf("ParseSeverity(%q) = %s, want %s", raw, got, want)
		}
	}
}
