package input

import (
	"errors"

	"github.com/gsharad007/spacerama/internal/sim"
)

// ErrDuplicateLocal is returned when local input is recorded twice for a tick.
var ErrDuplicateLocal = errors.New("input: local input already recorded for tick")

// BufferConfig describes the participants and the history the buffer keeps.
type BufferConfig struct {
	Local           ActorID
	Actors          []ActorID
	InputDelayTicks int
	// HoldRemote selects hold-last prediction for remote actors. When false an
	// unconfirmed remote tick reads as the zero vector.
	HoldRemote bool
}

// Buffer stores local samples and confirmed inputs for every actor, keyed by
// tick. It is owned by a single session goroutine.
type Buffer struct {
	local      ActorID
	actors     []ActorID
	delay      int
	holdRemote bool

	samples   map[sim.Tick]ActionVector
	confirmed map[ActorID]map[sim.Tick]ActionVector
	evicted   map[ActorID]Frame
	through   map[ActorID]int64
}

// NewBuffer constructs an empty buffer. The local actor is always tracked
// even when it is missing from cfg.Actors.
func NewBuffer(cfg BufferConfig) *Buffer {
	actors := make([]ActorID, 0, len(cfg.Actors)+1)
	seen := make(map[ActorID]struct{}, len(cfg.Actors)+1)
	for _, actor := range append([]ActorID{cfg.Local}, cfg.Actors...) {
		if _, ok := seen[actor]; ok {
			continue
		}
		seen[actor] = struct{}{}
		actors = append(actors, actor)
	}
	delay := cfg.InputDelayTicks
	if delay < 0 {
		delay = 0
	}
	b := &Buffer{
		local:      cfg.Local,
		actors:     actors,
		delay:      delay,
		holdRemote: cfg.HoldRemote,
		samples:    make(map[sim.Tick]ActionVector),
		confirmed:  make(map[ActorID]map[sim.Tick]ActionVector, len(actors)),
		evicted:    make(map[ActorID]Frame, len(actors)),
		through:    make(map[ActorID]int64, len(actors)),
	}
	for _, actor := range actors {
		b.confirmed[actor] = make(map[sim.Tick]ActionVector)
		b.through[actor] = -1
	}
	return b
}

// Local returns the local actor id.
func (b *Buffer) Local() ActorID {
	return b.local
}

// Actors returns every tracked actor, local first.
func (b *Buffer) Actors() []ActorID {
	return append([]ActorID(nil), b.actors...)
}

// RecordLocal stores the local sample captured at tick.
func (b *Buffer) RecordLocal(tick sim.Tick, action ActionVector) error {
	if _, exists := b.samples[tick]; exists {
		return ErrDuplicateLocal
	}
	b.samples[tick] = action
	return nil
}

// DelayedLocal returns the local sample recorded InputDelayTicks before tick.
// Before the delay has elapsed, or when no sample was recorded, it returns
// the zero vector and false.
func (b *Buffer) DelayedLocal(tick sim.Tick) (ActionVector, bool) {
	if uint64(tick) < uint64(b.delay) {
		return ActionVector{}, false
	}
	action, ok := b.samples[tick-sim.Tick(b.delay)]
	return action, ok
}

// Confirm inserts or overwrites the confirmed input for (actor, tick). It
// reports false and stores nothing for an actor the buffer was not built with.
func (b *Buffer) Confirm(actor ActorID, tick sim.Tick, action ActionVector) bool {
	frames, ok := b.confirmed[actor]
	if !ok {
		return false
	}
	frames[tick] = action
	b.advanceThrough(actor)
	return true
}

// Confirmed returns the confirmed input for (actor, tick), if any.
func (b *Buffer) Confirmed(actor ActorID, tick sim.Tick) (ActionVector, bool) {
	action, ok := b.confirmed[actor][tick]
	return action, ok
}

// Get returns the best available input for prediction. A confirmed frame is
// returned as-is; otherwise the latest confirmed frame at or before tick is
// held and tagged Predicted. Remote actors read as zero instead when
// HoldRemote is off.
func (b *Buffer) Get(actor ActorID, tick sim.Tick) Frame {
	if action, ok := b.confirmed[actor][tick]; ok {
		return Frame{Tick: tick, Actor: actor, Action: action}
	}
	predicted := Frame{Tick: tick, Actor: actor, Predicted: true}
	if actor != b.local && !b.holdRemote {
		return predicted
	}
	var (
		best  sim.Tick
		found bool
	)
	for confirmedTick := range b.confirmed[actor] {
		if confirmedTick <= tick && (!found || confirmedTick > best) {
			best = confirmedTick
			found = true
		}
	}
	if found {
		predicted.Action = b.confirmed[actor][best]
		return predicted
	}
	if last, ok := b.evicted[actor]; ok && last.Tick <= tick {
		predicted.Action = last.Action
	}
	return predicted
}

// ConfirmedThrough reports the highest tick up to which every input of actor
// is confirmed.
func (b *Buffer) ConfirmedThrough(actor ActorID) (sim.Tick, bool) {
	through, ok := b.through[actor]
	if !ok || through < 0 {
		return 0, false
	}
	return sim.Tick(through), true
}

// ConfirmedThroughAll is the minimum ConfirmedThrough across all actors.
func (b *Buffer) ConfirmedThroughAll() (sim.Tick, bool) {
	var (
		lowest sim.Tick
		found  bool
	)
	for _, actor := range b.actors {
		through, ok := b.ConfirmedThrough(actor)
		if !ok {
			return 0, false
		}
		if !found || through < lowest {
			lowest = through
			found = true
		}
	}
	return lowest, found
}

// Evict drops every sample and confirmed frame older than before. The newest
// dropped frame per actor is remembered so hold-last prediction keeps working.
// Ticks that were never confirmed before eviction count as settled.
func (b *Buffer) Evict(before sim.Tick) {
	for tick := range b.samples {
		if tick < before {
			delete(b.samples, tick)
		}
	}
	for actor, frames := range b.confirmed {
		for tick, action := range frames {
			if tick >= before {
				continue
			}
			if last, ok := b.evicted[actor]; !ok || tick >= last.Tick {
				b.evicted[actor] = Frame{Tick: tick, Actor: actor, Action: action}
			}
			delete(frames, tick)
		}
		if before > 0 && b.through[actor] < int64(before)-1 {
			b.through[actor] = int64(before) - 1
			b.advanceThrough(actor)
		}
	}
}

// Len reports how many confirmed frames are held for actor.
func (b *Buffer) Len(actor ActorID) int {
	return len(b.confirmed[actor])
}

func (b *Buffer) advanceThrough(actor ActorID) {
	frames := b.confirmed[actor]
	next := b.through[actor] + 1
	for {
		if _, ok := frames[sim.Tick(next)]; !ok {
			break
		}
		next++
	}
	b.through[actor] = next - 1
}
