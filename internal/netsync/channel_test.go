package netsync

import (
	"testing"

	"github.com/gsharad007/spacerama/internal/geom"
	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/sim"
	"github.com/gsharad007/spacerama/internal/snapshot"
	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/internal/transport"
	"github.com/gsharad007/spacerama/logging"
	loggingnetwork "github.com/gsharad007/spacerama/logging/network"
	"github.com/gsharad007/spacerama/logging/sinks"
)

const testProtocol = 7

func newPair(t *testing.T, redundancy int) (*Channel, *Channel, *transport.MemoryNetwork) {
	t.Helper()
	network := transport.NewMemoryNetwork()
	a := NewChannel(network.Endpoint(PeerFor(1)), Config{ProtocolID: testProtocol, Local: 1, Redundancy: redundancy})
	b := NewChannel(network.Endpoint(PeerFor(2)), Config{ProtocolID: testProtocol, Local: 2, Redundancy: redundancy})
	return a, b, network
}

func TestSendInputCarriesRedundantHistory(t *testing.T) {
	a, b, _ := newPair(t, 3)
	for tick := sim.Tick(0); tick < 5; tick++ {
		if err := a.SendInput(tick, input.ActionVector{Thrust: float32(tick)}); err != nil {
			t.Fatalf("SendInput returned error: %v", err)
		}
	}
	updates := b.Poll()
	// 1 + 2 + 3 + 3 + 3 records across five datagrams.
	if len(updates) != 12 {
		t.Fatalf("expected 12 input updates, got %d", len(updates))
	}
	last := updates[len(updates)-1]
	if last.Kind != KindInput || last.Input.Actor != 1 || last.Input.Tick != 4 || last.Input.Action.Thrust != 4 {
		t.Fatalf("unexpected final update %+v", last)
	}
	seen := map[sim.Tick]bool{}
	for _, update := range updates[len(updates)-3:] {
		seen[update.Input.Tick] = true
	}
	if !seen[2] || !seen[3] || !seen[4] {
		t.Fatalf("expected the last datagram to carry ticks 2..4, got %v", seen)
	}
}

func TestLostDatagramHealsThroughRedundancy(t *testing.T) {
	network := transport.NewMemoryNetwork()
	a := NewChannel(network.Endpoint("1"), Config{ProtocolID: testProtocol, Local: 1, Redundancy: 4})
	receiver := network.Endpoint("2")
	b := NewChannel(receiver, Config{ProtocolID: testProtocol, Local: 2})

	a.SendInput(0, input.ActionVector{Yaw: 1})
	receiver.Recv()
	a.SendInput(1, input.ActionVector{Yaw: 0.5})

	ticks := map[sim.Tick]bool{}
	for _, update := range b.Poll() {
		ticks[update.Input.Tick] = true
	}
	if !ticks[0] || !ticks[1] {
		t.Fatalf("expected tick 0 to be recovered from the second datagram, got %v", ticks)
	}
}

func TestSendStateRoundTrip(t *testing.T) {
	a, b, _ := newPair(t, 0)
	ship := snapshot.NewEntityState(0)
	ship.Position = geom.Vec3{X: 3}
	ship.AutoBalance = true
	if err := a.SendState(9, []snapshot.EntityState{ship}); err != nil {
		t.Fatalf("SendState returned error: %v", err)
	}
	updates := b.Poll()
	if len(updates) != 1 || updates[0].Kind != KindState {
		t.Fatalf("expected one state update, got %+v", updates)
	}
	state := updates[0].State
	if state.Tick != 9 || len(state.Entities) != 1 || state.Entities[0] != ship {
		t.Fatalf("unexpected state update %+v", state)
	}
}

func TestPollDropsForeignProtocolAndGarbage(t *testing.T) {
	network := transport.NewMemoryNetwork()
	memory := sinks.NewMemorySink()
	metrics := &logging.Metrics{}
	receiver := NewChannel(network.Endpoint("2"), Config{
		ProtocolID: testProtocol,
		Local:      2,
		Metrics:    telemetry.WrapMetrics(metrics),
		Publisher:  memory,
	})
	foreign := NewChannel(network.Endpoint("3"), Config{ProtocolID: testProtocol + 1, Local: 3})
	raw := network.Endpoint("4")

	foreign.SendInput(0, input.ActionVector{Thrust: 1})
	raw.Send("2", []byte("not msgpack"))

	if updates := receiver.Poll(); len(updates) != 0 {
		t.Fatalf("expected every datagram to be dropped, got %+v", updates)
	}
	counts := metrics.Snapshot()
	if counts[telemetry.MetricProtocolMismatches] != 1 || counts[telemetry.MetricMalformedMessages] != 1 {
		t.Fatalf("unexpected metrics %v", counts)
	}
	if len(memory.OfType(loggingnetwork.EventProtocolMismatch)) != 1 {
		t.Fatalf("expected a protocol mismatch event")
	}
	if len(memory.OfType(loggingnetwork.EventMalformedMessage)) != 1 {
		t.Fatalf("expected a malformed message event")
	}
}

func TestPollSkipsOwnEcho(t *testing.T) {
	network := transport.NewMemoryNetwork()
	a := NewChannel(network.Endpoint("1"), Config{ProtocolID: testProtocol, Local: 1})
	echo := network.Endpoint("relay")
	a.SendInput(0, input.ActionVector{})
	for _, data := range echo.Recv() {
		echo.Send("1", data)
	}
	if updates := a.Poll(); len(updates) != 0 {
		t.Fatalf("expected own inputs to be ignored, got %d", len(updates))
	}
}

func TestDecodeRejectsIncompleteEnvelopes(t *testing.T) {
	for name, env := range map[string]Envelope{
		"input without records": {Kind: KindInput},
		"state without body":    {Kind: KindState},
		"unknown kind":          {Kind: 9, Inputs: []InputRecord{{}}},
	} {
		data, err := Encode(env)
		if err != nil {
			t.Fatalf("%s: Encode returned error: %v", name, err)
		}
		if _, err := Decode(data); err == nil {
			t.Fatalf("%s: expected Decode to fail", name)
		}
	}
}
