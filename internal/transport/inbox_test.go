package transport

import (
	"testing"

	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/logging"
)

func TestInboxWraparound(t *testing.T) {
	inbox := NewInbox(3, nil)
	for _, payload := range []string{"a", "b", "c"} {
		if !inbox.Push([]byte(payload)) {
			t.Fatalf("expected push to succeed for %s", payload)
		}
	}
	if inbox.Push([]byte("overflow")) {
		t.Fatalf("expected push to fail when inbox full")
	}
	drained := inbox.Drain()
	if len(drained) != 3 || string(drained[0]) != "a" || string(drained[2]) != "c" {
		t.Fatalf("unexpected drain order %q", drained)
	}
	for _, payload := range []string{"d", "e"} {
		if !inbox.Push([]byte(payload)) {
			t.Fatalf("expected push to succeed after drain for %s", payload)
		}
	}
	wrapped := inbox.Drain()
	if len(wrapped) != 2 || string(wrapped[0]) != "d" || string(wrapped[1]) != "e" {
		t.Fatalf("unexpected order after wraparound: %q", wrapped)
	}
}

func TestInboxOverflowCountsDrops(t *testing.T) {
	metrics := &logging.Metrics{}
	inbox := NewInbox(1, telemetry.WrapMetrics(metrics))
	inbox.Push([]byte("one"))
	inbox.Push([]byte("two"))
	inbox.Push([]byte("three"))

	snapshot := metrics.Snapshot()
	if snapshot[telemetry.MetricInboxDropped] != 2 {
		t.Fatalf("expected 2 drops, got %d", snapshot[telemetry.MetricInboxDropped])
	}
	if snapshot[inboxOccupancyMetricKey] != 1 {
		t.Fatalf("expected occupancy 1, got %d", snapshot[inboxOccupancyMetricKey])
	}
}

func TestInboxNilSafe(t *testing.T) {
	var inbox *Inbox
	if inbox.Push(nil) || inbox.Len() != 0 || inbox.Drain() != nil || inbox.Capacity() != 0 {
		t.Fatalf("expected nil inbox to be inert")
	}
}
