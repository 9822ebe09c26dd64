package session

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/gsharad007/spacerama/internal/config"
	"github.com/gsharad007/spacerama/internal/geom"
	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/netsync"
	"github.com/gsharad007/spacerama/internal/rollback"
	"github.com/gsharad007/spacerama/internal/sim"
	"github.com/gsharad007/spacerama/internal/snapshot"
	"github.com/gsharad007/spacerama/internal/transport"
	"github.com/gsharad007/spacerama/logging/lifecycle"
	loggingrollback "github.com/gsharad007/spacerama/logging/rollback"
	"github.com/gsharad007/spacerama/logging/sinks"
)

type fatalfer interface {
	Helper()
	Fatalf(format string, args ...any)
}

func tuning(delay, maxPred int, factor float64) config.SessionConfig {
	cfg := config.DefaultSessionConfig()
	cfg.InputDelayTicks = delay
	cfg.MaxPredictionTicks = maxPred
	cfg.CorrectionTicksFactor = factor
	return cfg
}

func newTestSession(t fatalfer, cfg Config, deps Deps) *Session {
	t.Helper()
	s, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func tick(t fatalfer, s *Session, action input.ActionVector) CorrectedState {
	t.Helper()
	state, err := s.Tick(action)
	if err != nil {
		t.Fatalf("tick %d: %v", s.Next(), err)
	}
	return state
}

var thrust = input.ActionVector{Thrust: 1}

func TestNewRejectsInvalidTuning(t *testing.T) {
	cfg := tuning(2, 0, 1)
	_, err := New(Config{Tuning: cfg, Local: 1, Actors: []input.ActorID{1}}, Deps{})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	_, err = New(Config{Tuning: tuning(2, 8, 1), Local: 3, Actors: []input.ActorID{1, 2}}, Deps{})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected missing local ship to be rejected, got %v", err)
	}
}

func TestSpawnSeparatesShips(t *testing.T) {
	s := newTestSession(t, Config{Tuning: tuning(0, 8, 1), Local: 1, Actors: []input.ActorID{1, 2, 3}}, Deps{})
	live := s.Engine().Live()
	if len(live) != 3 || live[2].Position.X != 2*SpawnSpacing || live[2].Entity != 2 {
		t.Fatalf("unexpected spawn layout %+v", live)
	}
}

func TestLocalInputIsDelayed(t *testing.T) {
	s := newTestSession(t, Config{Tuning: tuning(2, 8, 1), Local: 1, Actors: []input.ActorID{1}}, Deps{})
	tick(t, s, thrust)
	tick(t, s, input.ActionVector{})
	if got := s.Buffer().Get(1, 1); got.Predicted || !got.Action.IsZero() {
		t.Fatalf("expected zero confirmed input before the delay elapses, got %+v", got)
	}
	tick(t, s, input.ActionVector{})
	if got := s.Buffer().Get(1, 2); got.Predicted || got.Action != thrust {
		t.Fatalf("expected tick 0 sample applied at tick 2, got %+v", got)
	}
}

func TestDuplicateLocalSampleWarnsAndKeepsFirst(t *testing.T) {
	events := sinks.NewMemorySink()
	s := newTestSession(t, Config{Tuning: tuning(0, 8, 1), Local: 1, Actors: []input.ActorID{1}}, Deps{Publisher: events})

	s.Sample(0, thrust)
	tick(t, s, input.ActionVector{Yaw: 1})

	if got := s.Buffer().Get(1, 0).Action; got != thrust {
		t.Fatalf("expected first sample kept, got %+v", got)
	}
	warnings := events.OfType(loggingrollback.EventDuplicateLocalInput)
	if len(warnings) != 1 {
		t.Fatalf("expected one duplicate warning, got %d", len(warnings))
	}
	if warnings[0].Extra["session"] != s.ID() {
		t.Fatalf("expected session id stamped on event, got %+v", warnings[0].Extra)
	}
}

// runScenario drives actor 1 while a fake peer plays actor 2: the peer
// confirms idle input up to tick 6, then its tick 7 thrust only arrives
// while actor 1 is about to simulate tick 12.
func runScenario(t *testing.T, factor float64) (*Session, CorrectedState) {
	t.Helper()
	network := transport.NewMemoryNetwork()
	s := newTestSession(t, Config{Tuning: tuning(2, 8, factor), Local: 1, Actors: []input.ActorID{1, 2}},
		Deps{Transport: network.Endpoint("1")})
	peer := netsync.NewChannel(network.Endpoint("2"), netsync.Config{Local: 2})

	var rolled CorrectedState
	for tk := sim.Tick(0); tk <= 12; tk++ {
		switch {
		case tk <= 6:
			if err := peer.SendInput(tk, input.ActionVector{}); err != nil {
				t.Fatalf("peer send: %v", err)
			}
		case tk == 12:
			if err := peer.SendInput(7, thrust); err != nil {
				t.Fatalf("peer send: %v", err)
			}
		}
		state := tick(t, s, input.ActionVector{})
		if tk < 12 && state.Rollback != nil {
			t.Fatalf("unexpected rollback at tick %d: %+v", tk, state.Rollback)
		}
		rolled = state
	}
	return s, rolled
}

func TestTwoActorScenarioRollsBackToTickSeven(t *testing.T) {
	s, state := runScenario(t, 1)
	if state.Tick != 12 || state.Rollback == nil {
		t.Fatalf("expected a rollback while simulating tick 12, got %+v", state)
	}
	if state.Rollback.Target != 7 || state.Rollback.Current != 11 || state.Rollback.Resimulated != 5 {
		t.Fatalf("unexpected rollback %+v", *state.Rollback)
	}
	if state.Rollback.CorrectionTicks != 5 {
		t.Fatalf("expected 5 correction ticks, got %d", state.Rollback.CorrectionTicks)
	}
	if !state.Predicted {
		t.Fatalf("expected tick 12 to remain predicted")
	}
	if s.Engine().Live()[1].LinearVelocity.ApproxEqual(geom.Vec3{}, 1e-6) {
		t.Fatalf("expected remote ship to move after the rollback")
	}
	if s.Engine().CorrectionRemaining(1) == 0 {
		t.Fatalf("expected the remote ship correction to be easing in")
	}
}

func TestCorrectionDurationScalesWithFactor(t *testing.T) {
	_, fast := runScenario(t, 1)
	_, slow := runScenario(t, 2)
	if fast.Rollback == nil || slow.Rollback == nil {
		t.Fatalf("expected rollbacks in both runs")
	}
	if slow.Rollback.CorrectionTicks != 2*fast.Rollback.CorrectionTicks {
		t.Fatalf("expected correction to double with the factor, got %d and %d",
			fast.Rollback.CorrectionTicks, slow.Rollback.CorrectionTicks)
	}
	_, none := runScenario(t, 0)
	if none.Rollback.CorrectionTicks != 0 {
		t.Fatalf("expected zero factor to snap, got %d", none.Rollback.CorrectionTicks)
	}
}

func TestHoldLastPredictionAtTickTwenty(t *testing.T) {
	s, _ := runScenario(t, 1)
	for s.Next() <= 20 {
		tick(t, s, input.ActionVector{})
	}
	frame := s.Buffer().Get(2, 20)
	if !frame.Predicted || frame.Action != thrust {
		t.Fatalf("expected held thrust predicted at tick 20, got %+v", frame)
	}
}

func TestPredictAllOffReadsRemoteAsIdle(t *testing.T) {
	cfg := tuning(0, 8, 1)
	cfg.PredictAll = false
	network := transport.NewMemoryNetwork()
	s := newTestSession(t, Config{Tuning: cfg, Local: 1, Actors: []input.ActorID{1, 2}},
		Deps{Transport: network.Endpoint("1")})
	peer := netsync.NewChannel(network.Endpoint("2"), netsync.Config{Local: 2})
	if err := peer.SendInput(0, thrust); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	tick(t, s, input.ActionVector{})
	tick(t, s, input.ActionVector{})
	if got := s.Buffer().Get(2, 1); !got.Action.IsZero() {
		t.Fatalf("expected no remote prediction, got %+v", got)
	}
}

func TestClientAppliesAuthoritativeState(t *testing.T) {
	network := transport.NewMemoryNetwork()
	events := sinks.NewMemorySink()
	client := newTestSession(t, Config{Tuning: tuning(0, 8, 1), Role: RoleClient, Local: 1, Actors: []input.ActorID{1, 2}},
		Deps{Transport: network.Endpoint("1"), Publisher: events})
	server := netsync.NewChannel(network.Endpoint("0"), netsync.Config{Local: 0})

	for client.Next() <= 5 {
		tick(t, client, input.ActionVector{})
	}
	authoritative := client.Engine().Live()
	authoritative[1].Position = geom.Vec3{X: 10, Y: 1}
	if err := server.SendState(5, authoritative); err != nil {
		t.Fatalf("server send: %v", err)
	}
	state := tick(t, client, input.ActionVector{})
	if state.Rollback == nil || state.Rollback.Target != 6 {
		t.Fatalf("expected state-triggered rollback, got %+v", state.Rollback)
	}
	if got := client.Engine().Live()[1].Position; !got.ApproxEqual(geom.Vec3{X: 10, Y: 1}, 1e-4) {
		t.Fatalf("expected authoritative position adopted, got %+v", got)
	}
	performed := events.OfType(loggingrollback.EventRollbackPerformed)
	if len(performed) != 1 || !performed[0].Payload.(loggingrollback.PerformedPayload).TriggeredByState {
		t.Fatalf("expected one state-triggered rollback event, got %+v", performed)
	}
}

func TestPeerIgnoresAuthoritativeState(t *testing.T) {
	network := transport.NewMemoryNetwork()
	s := newTestSession(t, Config{Tuning: tuning(0, 8, 1), Local: 1, Actors: []input.ActorID{1, 2}},
		Deps{Transport: network.Endpoint("1")})
	other := netsync.NewChannel(network.Endpoint("2"), netsync.Config{Local: 2})
	tick(t, s, input.ActionVector{})

	bogus := s.Engine().Live()
	bogus[0].Position = geom.Vec3{Z: 50}
	if err := other.SendState(0, bogus); err != nil {
		t.Fatalf("send: %v", err)
	}
	if state := tick(t, s, input.ActionVector{}); state.Rollback != nil {
		t.Fatalf("expected peer to ignore state, got rollback %+v", state.Rollback)
	}
}

func TestInputBeyondWindowIsReportedAsDesync(t *testing.T) {
	network := transport.NewMemoryNetwork()
	events := sinks.NewMemorySink()
	s := newTestSession(t, Config{Tuning: tuning(2, 8, 1), Local: 1, Actors: []input.ActorID{1, 2}},
		Deps{Transport: network.Endpoint("1"), Publisher: events})
	peer := netsync.NewChannel(network.Endpoint("2"), netsync.Config{Local: 2})

	for s.Next() < 25 {
		tick(t, s, input.ActionVector{})
	}
	if err := peer.SendInput(3, input.ActionVector{}); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	tick(t, s, input.ActionVector{})
	if got := s.Engine().Stats().Desyncs; got != 0 {
		t.Fatalf("expected late input matching the simulated one to pass, got %d desyncs", got)
	}

	if err := peer.SendInput(3, thrust); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	state := tick(t, s, input.ActionVector{})
	if state.Rollback != nil {
		t.Fatalf("expected no rollback past the window, got %+v", state.Rollback)
	}
	desyncs := events.OfType(loggingrollback.EventDesync)
	if len(desyncs) != 1 {
		t.Fatalf("expected one desync event, got %d", len(desyncs))
	}
	if payload := desyncs[0].Payload.(loggingrollback.DesyncPayload); payload.Reason != rollback.DesyncLateInput || payload.Target != 3 {
		t.Fatalf("unexpected desync payload %+v", payload)
	}
	if got := s.Engine().Stats().Desyncs; got != 1 {
		t.Fatalf("expected one counted desync, got %d", got)
	}
}

func TestInputFromActorWithoutShipIsIgnored(t *testing.T) {
	network := transport.NewMemoryNetwork()
	s := newTestSession(t, Config{Tuning: tuning(0, 8, 1), Local: 1, Actors: []input.ActorID{1}},
		Deps{Transport: network.Endpoint("1")})
	stray := netsync.NewChannel(network.Endpoint("9"), netsync.Config{Local: 9})

	if state := tick(t, s, input.ActionVector{}); state.Predicted {
		t.Fatalf("expected a lone actor to be fully confirmed")
	}
	if err := stray.SendInput(100, thrust); err != nil {
		t.Fatalf("stray send: %v", err)
	}
	var state CorrectedState
	for s.Next() < 40 {
		state = tick(t, s, input.ActionVector{})
	}
	if state.Predicted {
		t.Fatalf("expected tick %d confirmed despite stray input", state.Tick)
	}
	if actors := s.Buffer().Actors(); len(actors) != 1 || actors[0] != 1 {
		t.Fatalf("expected only actor 1 tracked, got %v", actors)
	}
	if got := s.Engine().Stats().Desyncs; got != 0 {
		t.Fatalf("expected no desync from stray input, got %d", got)
	}
}

func TestServerBroadcastsAndClientConverges(t *testing.T) {
	network := transport.NewMemoryNetwork()
	cfg := tuning(1, 8, 1)
	cfg.ReplicationIntervalTicks = 1
	server := newTestSession(t, Config{Tuning: cfg, Role: RoleServer, Local: 0, Actors: []input.ActorID{1}},
		Deps{Transport: network.Endpoint("0")})
	client := newTestSession(t, Config{Tuning: cfg, Role: RoleClient, Local: 1, Actors: []input.ActorID{1}},
		Deps{Transport: network.Endpoint("1")})

	for i := 0; i < 30; i++ {
		action := input.ActionVector{}
		if i < 10 {
			action = input.ActionVector{Thrust: 1, Yaw: 0.5}
		}
		tick(t, client, action)
		tick(t, server, input.ActionVector{Thrust: -1})
	}
	if snapshot.Checksum(client.Engine().Live()) != snapshot.Checksum(server.Engine().Live()) {
		t.Fatalf("expected client and server to agree:\n%+v\n%+v", client.Engine().Live(), server.Engine().Live())
	}
	if client.Engine().Live()[0].LinearVelocity.ApproxEqual(geom.Vec3{}, 1e-6) {
		t.Fatalf("expected the client's ship to have moved")
	}
}

type recordedTick struct {
	tick     sim.Tick
	inputs   []input.Frame
	checksum uint64
}

type fakeRecorder struct {
	ticks []recordedTick
}

func (r *fakeRecorder) RecordTick(tick sim.Tick, inputs []input.Frame, checksum uint64) error {
	r.ticks = append(r.ticks, recordedTick{tick: tick, inputs: inputs, checksum: checksum})
	return nil
}

func TestRecorderReceivesFinalTicksInOrder(t *testing.T) {
	recorder := &fakeRecorder{}
	s := newTestSession(t, Config{Tuning: tuning(0, 8, 1), Local: 1, Actors: []input.ActorID{1}}, Deps{Recorder: recorder})
	for i := 0; i < 20; i++ {
		tick(t, s, thrust)
	}
	if len(recorder.ticks) != 12 {
		t.Fatalf("expected ticks 0..11 recorded, got %d", len(recorder.ticks))
	}
	for i, rec := range recorder.ticks {
		if rec.tick != sim.Tick(i) {
			t.Fatalf("expected tick %d at position %d, got %d", i, i, rec.tick)
		}
		if len(rec.inputs) != 1 || rec.inputs[0].Action != thrust {
			t.Fatalf("unexpected inputs %+v", rec.inputs)
		}
	}
	if recorder.ticks[0].checksum == recorder.ticks[11].checksum {
		t.Fatalf("expected checksums to follow the moving ship")
	}
}

func TestCloseEmitsLifecycleEvents(t *testing.T) {
	events := sinks.NewMemorySink()
	s := newTestSession(t, Config{Tuning: tuning(0, 8, 1), Local: 1, Actors: []input.ActorID{1}, ID: "fixed"}, Deps{Publisher: events})
	if got := events.OfType(lifecycle.EventSessionStarted); len(got) != 1 || got[0].Extra["session"] != "fixed" {
		t.Fatalf("expected session started event, got %+v", got)
	}
	tick(t, s, input.ActionVector{})
	if err := s.Close("test"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close("again"); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	ended := events.OfType(lifecycle.EventSessionEnded)
	if len(ended) != 1 || ended[0].Payload.(lifecycle.SessionEndedPayload).Reason != "test" {
		t.Fatalf("expected one session ended event, got %+v", ended)
	}
	if _, err := s.Tick(input.ActionVector{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// laggyTransport holds every inbound datagram for a drawn number of Recv
// calls and releases them newest first.
type laggyTransport struct {
	next    transport.Transport
	lag     func() int
	now     int
	pending []laggyDatagram
}

type laggyDatagram struct {
	due     int
	payload []byte
}

func (l *laggyTransport) Send(peer transport.Peer, payload []byte) error {
	return l.next.Send(peer, payload)
}

func (l *laggyTransport) Recv() [][]byte {
	l.now++
	for _, payload := range l.next.Recv() {
		l.pending = append(l.pending, laggyDatagram{due: l.now + l.lag(), payload: payload})
	}
	var out [][]byte
	keep := l.pending[:0]
	for _, datagram := range l.pending {
		if datagram.due <= l.now {
			out = append(out, datagram.payload)
		} else {
			keep = append(keep, datagram)
		}
	}
	l.pending = keep
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (l *laggyTransport) Close() error {
	return l.next.Close()
}

func TestSessionsConvergeRegardlessOfDeliveryOrder(t *testing.T) {
	axis := rapid.SampledFrom([]float32{-1, -0.5, 0, 0.5, 1})
	actionGen := rapid.Custom(func(t *rapid.T) input.ActionVector {
		return input.ActionVector{
			Thrust:      axis.Draw(t, "thrust"),
			Roll:        axis.Draw(t, "roll"),
			Pitch:       axis.Draw(t, "pitch"),
			Yaw:         axis.Draw(t, "yaw"),
			AutoBalance: rapid.SampledFrom([]float32{0, 1}).Draw(t, "autobalance"),
		}
	})

	rapid.Check(t, func(rt *rapid.T) {
		const maxLag = 4
		delay := rapid.IntRange(0, 2).Draw(rt, "delay")
		ticks := rapid.IntRange(5, 30).Draw(rt, "ticks")
		samplesA := rapid.SliceOfN(actionGen, ticks, ticks).Draw(rt, "samplesA")
		samplesB := rapid.SliceOfN(actionGen, ticks, ticks).Draw(rt, "samplesB")
		lag := func() int { return rapid.IntRange(0, maxLag).Draw(rt, "lag") }

		cfg := tuning(delay, 8, 1)
		actors := []input.ActorID{1, 2}
		network := transport.NewMemoryNetwork()
		a := newTestSession(rt, Config{Tuning: cfg, Local: 1, Actors: actors},
			Deps{Transport: &laggyTransport{next: network.Endpoint("1"), lag: lag}})
		b := newTestSession(rt, Config{Tuning: cfg, Local: 2, Actors: actors},
			Deps{Transport: &laggyTransport{next: network.Endpoint("2"), lag: lag}})

		total := ticks + delay + maxLag + 4
		sample := func(samples []input.ActionVector, i int) input.ActionVector {
			if i < len(samples) {
				return samples[i]
			}
			return input.ActionVector{}
		}
		for i := 0; i < total; i++ {
			tick(rt, a, sample(samplesA, i))
			tick(rt, b, sample(samplesB, i))
		}

		reference := newTestSession(rt, Config{Tuning: cfg, Local: 1, Actors: actors}, Deps{})
		for i := 0; i < total; i++ {
			applied := input.ActionVector{}
			if i >= delay {
				applied = sample(samplesB, i-delay)
			}
			reference.Engine().OnConfirmed(2, sim.Tick(i), applied)
		}
		for i := 0; i < total; i++ {
			tick(rt, reference, sample(samplesA, i))
		}

		want := snapshot.Checksum(reference.Engine().Live())
		if got := snapshot.Checksum(a.Engine().Live()); got != want {
			rt.Fatalf("session A diverged from reference:\n%+v\n%+v", a.Engine().Live(), reference.Engine().Live())
		}
		if got := snapshot.Checksum(b.Engine().Live()); got != want {
			rt.Fatalf("session B diverged from reference:\n%+v\n%+v", b.Engine().Live(), reference.Engine().Live())
		}
		if a.Engine().Stats().Desyncs != 0 || b.Engine().Stats().Desyncs != 0 {
			rt.Fatalf("expected no desyncs within the prediction window")
		}
	})
}
