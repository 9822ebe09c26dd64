package app

import (
	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/sim"
)

// InputSource produces the local action sample for a tick.
type InputSource interface {
	Sample(tick sim.Tick) input.ActionVector
}

type InputSourceFunc func(tick sim.Tick) input.ActionVector

func (f InputSourceFunc) Sample(tick sim.Tick) input.ActionVector {
	if f == nil {
		return input.ActionVector{}
	}
	return f(tick)
}

// scriptPhase is how long each scripted control is held.
const scriptPhase = 32

// ScriptedInput drives a headless ship through a fixed cycle of controls.
// Actors start at different points of the cycle so their ships diverge.
func ScriptedInput(actor input.ActorID) InputSource {
	script := []map[input.Control]float32{
		{input.ForwardThrust: 1},
		{input.ForwardThrust: 1, input.Rudder: 0.5},
		{},
		{input.Aileron: -0.75, input.Elevator: 0.25},
		{input.ReverseThrust: 1},
		{input.ToggleAutoBalance: 1},
	}
	offset := uint64(actor) * 2
	return InputSourceFunc(func(tick sim.Tick) input.ActionVector {
		phase := (uint64(tick)/scriptPhase + offset) % uint64(len(script))
		return input.Combine(script[phase])
	})
}
