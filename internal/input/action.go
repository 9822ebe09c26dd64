package input

import "github.com/gsharad007/spacerama/internal/sim"

// ActorID identifies a session participant. It is assigned at join time and
// never changes.
type ActorID uint64

// ActionVector is the normalized per-tick control sample for one ship.
type ActionVector struct {
	Thrust      float32 `msgpack:"t"`
	Roll        float32 `msgpack:"r"`
	Pitch       float32 `msgpack:"p"`
	Yaw         float32 `msgpack:"y"`
	Action1     float32 `msgpack:"a1"`
	Action2     float32 `msgpack:"a2"`
	AutoBalance float32 `msgpack:"ab"`
}

// IsZero reports whether every axis is exactly zero.
func (a ActionVector) IsZero() bool {
	return a == ActionVector{}
}

// ApproxEqual compares component-wise within epsilon.
func (a ActionVector) ApproxEqual(b ActionVector, epsilon float32) bool {
	return within(a.Thrust, b.Thrust, epsilon) &&
		within(a.Roll, b.Roll, epsilon) &&
		within(a.Pitch, b.Pitch, epsilon) &&
		within(a.Yaw, b.Yaw, epsilon) &&
		within(a.Action1, b.Action1, epsilon) &&
		within(a.Action2, b.Action2, epsilon) &&
		within(a.AutoBalance, b.AutoBalance, epsilon)
}

func within(a, b, epsilon float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= epsilon
}

// Frame is one actor's input for one tick. Predicted frames were produced by
// hold-last extrapolation and may later be corrected by a confirmation.
type Frame struct {
	Tick      sim.Tick
	Actor     ActorID
	Action    ActionVector
	Predicted bool
}

// Control names a device-independent binding.
type Control int

const (
	ForwardThrust Control = iota
	ReverseThrust
	Aileron
	Elevator
	Rudder
	Fire1
	Fire2
	ToggleAutoBalance
)

// Deadzone is applied to analog axis samples before they are combined.
const Deadzone float32 = 0.1

// Combine folds the current control samples (1 for a pressed button, the raw
// value for an analog axis) into an ActionVector. Axes are clamped to [-1, 1].
func Combine(samples map[Control]float32) ActionVector {
	var out ActionVector
	for control, value := range samples {
		if within(value, 0, Deadzone) {
			continue
		}
		switch control {
		case ForwardThrust:
			out.Thrust += value
		case ReverseThrust:
			out.Thrust -= value
		case Aileron:
			out.Roll += value
		case Elevator:
			out.Pitch += value
		case Rudder:
			out.Yaw += value
		case Fire1:
			out.Action1 += value
		case Fire2:
			out.Action2 += value
		case ToggleAutoBalance:
			out.AutoBalance += value
		}
	}
	out.Thrust = clamp(out.Thrust)
	out.Roll = clamp(out.Roll)
	out.Pitch = clamp(out.Pitch)
	out.Yaw = clamp(out.Yaw)
	out.Action1 = clamp(out.Action1)
	out.Action2 = clamp(out.Action2)
	out.AutoBalance = clamp(out.AutoBalance)
	return out
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
