// Package rollback owns the live simulation of a session: it predicts ahead
// of confirmed input, detects when a confirmation or authoritative state
// contradicts what was simulated, restores the snapshot before the earliest
// divergence and resimulates forward, easing the displayed result toward
// the corrected state.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/physics"
	"github.com/gsharad007/spacerama/internal/sim"
	"github.com/gsharad007/spacerama/internal/snapshot"
	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/logging"
	loggingrollback "github.com/gsharad007/spacerama/logging/rollback"
)

// ErrTickOrder is returned by Advance when ticks are skipped or repeated.
var ErrTickOrder = errors.New("rollback: ticks must advance one at a time")

// State is the engine's reconciliation state.
type State int

const (
	Idle State = iota
	RollbackPending
	Resimulating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RollbackPending:
		return "rollback_pending"
	case Resimulating:
		return "resimulating"
	default:
		return "unknown"
	}
}

const (
	DesyncEvicted       = "snapshot_evicted"
	DesyncTooDeep       = "beyond_max_prediction"
	DesyncStateEvicted  = "authoritative_state_evicted"
	DesyncLateInput     = "input_beyond_window"
	DefaultEpsilon      = float32(1e-4)
	DefaultTickDuration = float32(1.0 / 64.0)
)

// Config carries the tuning the engine needs.
type Config struct {
	MaxPredictionTicks    int
	CorrectionTicksFactor float64
	Epsilon               float32
	// SyncTestTicks > 0 forces a rollback of that many ticks after every
	// advance and checks the resimulation is bit-identical.
	SyncTestTicks int
	TickDuration  float32
}

// Deps are the engine's collaborators. Only Buffer, Store and Stepper are required.
type Deps struct {
	Buffer    *input.Buffer
	Store     *snapshot.Store
	Stepper   physics.Stepper
	Policy    *DesyncPolicy
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Logger    telemetry.Logger
}

// Result summarises one resolved rollback.
type Result struct {
	Target          sim.Tick
	Current         sim.Tick
	Resimulated     int
	CorrectionTicks int
}

type usedSlot struct {
	tick    sim.Tick
	valid   bool
	actions []input.ActionVector
}

// Engine is driven by a single session goroutine.
type Engine struct {
	cfg       Config
	buffer    *input.Buffer
	store     *snapshot.Store
	stepper   physics.Stepper
	policy    *DesyncPolicy
	publisher logging.Publisher
	metrics   telemetry.Metrics
	logger    telemetry.Logger

	actors  []input.ActorID
	index   map[input.ActorID]int
	initial []snapshot.EntityState
	live    []snapshot.EntityState

	current    sim.Tick
	hasCurrent bool
	used       []usedSlot

	state       State
	target      sim.Tick
	byState     bool
	held        map[sim.Tick][]snapshot.EntityState
	corrections []correction
	late        map[input.ActorID]sim.Tick
	lastResult  Result
	overLimit   bool
	stats       Stats
}

// Stats counts engine outcomes over the session.
type Stats struct {
	Rollbacks          uint64
	ResimulatedTicks   uint64
	Desyncs            uint64
	SyncTestMismatches uint64
}

// NewEngine builds an engine for actors, where actors[i] owns initial[i].
func NewEngine(cfg Config, deps Deps, actors []input.ActorID, initial []snapshot.EntityState) (*Engine, error) {
	if deps.Buffer == nil || deps.Store == nil || deps.Stepper == nil {
		return nil, errors.New("rollback: buffer, store and stepper are required")
	}
	if len(actors) != len(initial) {
		return nil, fmt.Errorf("rollback: %d actors but %d initial entities", len(actors), len(initial))
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	if cfg.TickDuration <= 0 {
		cfg.TickDuration = DefaultTickDuration
	}
	if cfg.MaxPredictionTicks < 1 {
		cfg.MaxPredictionTicks = 1
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Policy == nil {
		deps.Policy = NewDesyncPolicy()
	}
	index := make(map[input.ActorID]int, len(actors))
	for i, actor := range actors {
		if _, dup := index[actor]; dup {
			return nil, fmt.Errorf("rollback: duplicate actor %d", actor)
		}
		index[actor] = i
	}
	return &Engine{
		cfg:         cfg,
		buffer:      deps.Buffer,
		store:       deps.Store,
		stepper:     deps.Stepper,
		policy:      deps.Policy,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		actors:      append([]input.ActorID(nil), actors...),
		index:       index,
		initial:     snapshot.Clone(initial),
		live:        snapshot.Clone(initial),
		used:        make([]usedSlot, usedTicks(deps.Store.Capacity())),
		held:        make(map[sim.Tick][]snapshot.EntityState),
		corrections: make([]correction, len(actors)),
		late:        make(map[input.ActorID]sim.Tick),
	}, nil
}

// State reports where the reconciliation state machine is.
func (e *Engine) State() State {
	return e.state
}

// Current returns the last simulated tick.
func (e *Engine) Current() (sim.Tick, bool) {
	return e.current, e.hasCurrent
}

// Next returns the tick Advance expects.
func (e *Engine) Next() sim.Tick {
	if !e.hasCurrent {
		return 0
	}
	return e.current + 1
}

// PendingTarget reports the earliest diverging tick awaiting resolution.
func (e *Engine) PendingTarget() (sim.Tick, bool) {
	return e.target, e.state == RollbackPending
}

// Live returns a copy of the simulated (uncorrected) state.
func (e *Engine) Live() []snapshot.EntityState {
	return snapshot.Clone(e.live)
}

// Stats returns the running outcome counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// LastResult returns the most recent resolved rollback.
func (e *Engine) LastResult() Result {
	return e.lastResult
}

// Actors returns the arena order of actors.
func (e *Engine) Actors() []input.ActorID {
	return append([]input.ActorID(nil), e.actors...)
}

// OnConfirmed records a confirmed input and schedules a rollback when it
// contradicts the input tick was simulated with.
func (e *Engine) OnConfirmed(actor input.ActorID, tick sim.Tick, action input.ActionVector) {
	previous, had := e.buffer.Confirmed(actor, tick)
	if !e.buffer.Confirm(actor, tick, action) {
		return
	}
	if had && previous.ApproxEqual(action, e.cfg.Epsilon) {
		return
	}
	if !e.hasCurrent || tick > e.current {
		return
	}
	idx, ok := e.index[actor]
	if !ok {
		return
	}
	slot, ok := e.usedAt(tick)
	if !ok {
		return
	}
	if slot.actions[idx].ApproxEqual(action, e.cfg.Epsilon) {
		return
	}
	e.schedule(tick, false)
}

// OnLate handles an input for a tick that already left the rollback window.
// It cannot be rolled back to, so an input that contradicts what the tick
// was simulated with, or one too old to check, is reported as a desync.
// An actor is reported again only for a tick newer than its last report.
func (e *Engine) OnLate(actor input.ActorID, tick sim.Tick, action input.ActionVector) {
	idx, ok := e.index[actor]
	if !ok || !e.hasCurrent || tick > e.current {
		return
	}
	if reported, ok := e.late[actor]; ok && tick <= reported {
		return
	}
	if slot, ok := e.usedAt(tick); ok && slot.actions[idx].ApproxEqual(action, e.cfg.Epsilon) {
		return
	}
	e.late[actor] = tick
	e.desync(tick, DesyncLateInput)
}

// OnAuthoritative applies trusted state for tick. States for ticks not yet
// simulated are held and applied right after that tick is simulated.
func (e *Engine) OnAuthoritative(tick sim.Tick, entities []snapshot.EntityState) {
	if !e.hasCurrent || tick > e.current {
		e.held[tick] = snapshot.Clone(entities)
		return
	}
	stored, ok := e.store.Load(tick)
	if !ok {
		e.desync(tick, DesyncStateEvicted)
		return
	}
	diverged := false
	for _, state := range entities {
		local, found := snapshot.Find(stored, state.Entity)
		if found && local.ApproxEqual(state, e.cfg.Epsilon) {
			continue
		}
		if e.store.Patch(tick, state) {
			diverged = true
		}
	}
	if diverged {
		e.schedule(tick+1, true)
	}
}

func (e *Engine) schedule(target sim.Tick, byState bool) {
	if e.state == RollbackPending && target >= e.target {
		e.byState = e.byState || byState
		return
	}
	e.target = target
	e.byState = byState || (e.state == RollbackPending && e.byState)
	e.state = RollbackPending
}

// Resolve services a pending rollback. It returns false when there was
// nothing to do or when the rollback had to be abandoned as a desync.
func (e *Engine) Resolve() (Result, bool) {
	if e.state != RollbackPending {
		return Result{}, false
	}
	target, byState := e.target, e.byState
	e.state = Idle
	e.byState = false

	depth := int(e.current) - int(target) + 1
	if depth > e.cfg.MaxPredictionTicks {
		e.desync(target, DesyncTooDeep)
		return Result{}, false
	}
	base, ok := e.loadBefore(target)
	if !ok {
		e.desync(target, DesyncEvicted)
		return Result{}, false
	}

	displayed := e.Displayed()
	e.state = Resimulating
	e.live = e.resimulate(base, target, e.current, true)
	e.state = Idle

	result := Result{
		Target:          target,
		Current:         e.current,
		Resimulated:     max(depth, 0),
		CorrectionTicks: CorrectionTicks(depth, e.cfg.CorrectionTicksFactor),
	}
	for i := range e.live {
		if c, ok := newCorrection(displayed[i], e.live[i], result.CorrectionTicks, e.cfg.Epsilon); ok {
			e.corrections[i] = c
		} else {
			e.corrections[i] = correction{}
		}
	}
	e.lastResult = result
	e.stats.Rollbacks++
	e.stats.ResimulatedTicks += uint64(result.Resimulated)
	e.policy.NoteRollback()
	e.add(telemetry.MetricRollbacks, 1)
	e.add(telemetry.MetricResimulatedTicks, uint64(result.Resimulated))
	loggingrollback.Performed(context.Background(), e.publisher, uint64(e.current), e.localRef(), loggingrollback.PerformedPayload{
		Target:           uint64(target),
		Current:          uint64(e.current),
		Resimulated:      result.Resimulated,
		CorrectionTicks:  result.CorrectionTicks,
		TriggeredByState: byState,
	}, nil)
	return result, true
}

// Advance resolves any pending rollback, then simulates tick with the best
// available inputs and stores its snapshot.
func (e *Engine) Advance(tick sim.Tick) error {
	if tick != e.Next() {
		return fmt.Errorf("%w: got %d, want %d", ErrTickOrder, tick, e.Next())
	}
	for i := range e.corrections {
		e.corrections[i].step()
	}
	e.Resolve()

	actions := e.inputsFor(tick)
	e.live = e.step(e.live, actions)
	e.store.Save(tick, e.live)
	e.recordUsed(tick, actions)
	e.current = tick
	e.hasCurrent = true

	if held, ok := e.held[tick]; ok {
		delete(e.held, tick)
		e.OnAuthoritative(tick, held)
		e.Resolve()
	}
	for heldTick := range e.held {
		if heldTick < tick {
			delete(e.held, heldTick)
		}
	}

	e.checkPredictionDepth(tick)
	if e.cfg.SyncTestTicks > 0 {
		e.syncTest()
	}
	return nil
}

// Displayed returns the live state with the active visual corrections applied.
func (e *Engine) Displayed() []snapshot.EntityState {
	out := snapshot.Clone(e.live)
	for i := range out {
		if i < len(e.corrections) && e.corrections[i].active() {
			out[i] = e.corrections[i].apply(out[i])
		}
	}
	return out
}

// CorrectionRemaining reports how many ticks of easing are left for entity i.
func (e *Engine) CorrectionRemaining(i int) int {
	if i < 0 || i >= len(e.corrections) {
		return 0
	}
	return e.corrections[i].remaining
}

func (e *Engine) inputsFor(tick sim.Tick) []input.ActionVector {
	actions := make([]input.ActionVector, len(e.actors))
	for i, actor := range e.actors {
		actions[i] = e.buffer.Get(actor, tick).Action
	}
	return actions
}

func (e *Engine) step(prev []snapshot.EntityState, actions []input.ActionVector) []snapshot.EntityState {
	next := make([]snapshot.EntityState, len(prev))
	for i, state := range prev {
		var action input.ActionVector
		if i < len(actions) {
			action = actions[i]
		}
		next[i] = e.stepper.Step(state, physics.ShipForces(state, action), e.cfg.TickDuration)
	}
	return next
}

// resimulate replays from..to on top of base. With record set the snapshots
// and used inputs are overwritten.
func (e *Engine) resimulate(base []snapshot.EntityState, from, to sim.Tick, record bool) []snapshot.EntityState {
	state := base
	if from > to {
		return state
	}
	for t := from; ; t++ {
		actions := e.inputsFor(t)
		state = e.step(state, actions)
		if record {
			e.store.Save(t, state)
			e.recordUsed(t, actions)
		}
		if t == to {
			return state
		}
	}
}

// syncTest rewinds SyncTestTicks ticks, replays them with the inputs they
// were simulated with and checks the result is bit-identical.
func (e *Engine) syncTest() {
	span := sim.Tick(e.cfg.SyncTestTicks)
	if e.current+1 < span {
		return
	}
	from := e.current + 1 - span
	base, ok := e.loadBefore(from)
	if !ok {
		return
	}
	state := base
	for t := from; t <= e.current; t++ {
		slot, ok := e.usedAt(t)
		if !ok {
			return
		}
		state = e.step(state, slot.actions)
	}
	expected := snapshot.Checksum(e.live)
	actual := snapshot.Checksum(state)
	if expected == actual {
		return
	}
	e.stats.SyncTestMismatches++
	e.add(telemetry.MetricSyncTestMismatches, 1)
	loggingrollback.SyncTestMismatch(context.Background(), e.publisher, uint64(e.current), e.localRef(), loggingrollback.SyncTestPayload{
		Expected: expected,
		Actual:   actual,
	}, nil)
	if e.logger != nil {
		e.logger.Printf("[rollback] synctest mismatch at tick %d: %x != %x", e.current, expected, actual)
	}
}

func (e *Engine) loadBefore(target sim.Tick) ([]snapshot.EntityState, bool) {
	if target == 0 {
		return snapshot.Clone(e.initial), true
	}
	return e.store.Load(target - 1)
}

// usedTicks sizes the used-input ring. It outlives the snapshot ring so
// late duplicates of settled inputs can still be checked.
func usedTicks(history int) int {
	if history < 1 {
		return 0
	}
	return 2 * history
}

func (e *Engine) usedAt(tick sim.Tick) (usedSlot, bool) {
	if len(e.used) == 0 {
		return usedSlot{}, false
	}
	slot := e.used[int(uint64(tick)%uint64(len(e.used)))]
	if !slot.valid || slot.tick != tick {
		return usedSlot{}, false
	}
	return slot, true
}

func (e *Engine) recordUsed(tick sim.Tick, actions []input.ActionVector) {
	if len(e.used) == 0 {
		return
	}
	slot := &e.used[int(uint64(tick)%uint64(len(e.used)))]
	slot.tick = tick
	slot.valid = true
	slot.actions = append(slot.actions[:0], actions...)
}

func (e *Engine) desync(target sim.Tick, reason string) {
	e.stats.Desyncs++
	e.policy.NoteDesync(reason, target)
	e.add(telemetry.MetricDesyncs, 1)
	loggingrollback.Desync(context.Background(), e.publisher, uint64(e.current), e.localRef(), loggingrollback.DesyncPayload{
		Target:  uint64(target),
		Current: uint64(e.current),
		Reason:  reason,
	}, nil)
	if signal, ok := e.policy.Consume(); ok {
		loggingrollback.ResyncHint(context.Background(), e.publisher, uint64(e.current), e.localRef(), loggingrollback.ResyncHintPayload{
			Reasons:   signal.ReasonStrings(),
			Rollbacks: signal.Rollbacks,
			Desyncs:   signal.Desyncs,
		}, nil)
		if e.logger != nil {
			e.logger.Printf("[rollback] resync hint: %s", signal.Summary())
		}
	}
}

func (e *Engine) checkPredictionDepth(tick sim.Tick) {
	confirmed, ok := e.buffer.ConfirmedThroughAll()
	var depth uint64
	switch {
	case !ok:
		depth = uint64(tick) + 1
	case confirmed < tick:
		depth = uint64(tick - confirmed)
	}
	if e.metrics != nil {
		e.metrics.Store(telemetry.MetricPredictionDepth, depth)
	}
	over := depth > uint64(e.cfg.MaxPredictionTicks)
	if over && !e.overLimit {
		loggingrollback.PredictionLimit(context.Background(), e.publisher, uint64(tick), e.localRef(), loggingrollback.PredictionLimitPayload{
			Confirmed: uint64(confirmed),
			Depth:     depth,
			Limit:     e.cfg.MaxPredictionTicks,
		}, nil)
	}
	e.overLimit = over
}

func (e *Engine) add(key string, delta uint64) {
	if e.metrics != nil {
		e.metrics.Add(key, delta)
	}
}

func (e *Engine) localRef() logging.EntityRef {
	local := e.buffer.Local()
	return logging.EntityRef{ID: strconv.FormatUint(uint64(local), 10), Kind: logging.EntityKindActor}
}
