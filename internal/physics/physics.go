// Package physics integrates ship rigid bodies. The only requirement the
// rollback engine places on it is determinism: identical state, forces and
// dt must always produce bit-identical results.
package physics

import (
	"github.com/gsharad007/spacerama/internal/geom"
	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/snapshot"
)

const (
	PropulsionStrength float32 = 10
	AngularStrength    float32 = 0.1
)

// Forces are the impulses applied to a ship for one tick.
type Forces struct {
	Impulse        geom.Vec3
	AngularImpulse geom.Vec3
	// AutoBalanceHeld reports whether the auto-balance toggle is held this tick.
	AutoBalanceHeld bool
}

// Stepper advances one entity by dt seconds.
type Stepper interface {
	Step(state snapshot.EntityState, forces Forces, dt float32) snapshot.EntityState
}

// StepperFunc adapts a function into a Stepper.
type StepperFunc func(state snapshot.EntityState, forces Forces, dt float32) snapshot.EntityState

func (f StepperFunc) Step(state snapshot.EntityState, forces Forces, dt float32) snapshot.EntityState {
	return f(state, forces, dt)
}

// ShipForces maps an action vector onto thruster impulses in world space:
// propulsion along the ship's back axis, roll around back, pitch around
// right and yaw around down.
func ShipForces(state snapshot.EntityState, action input.ActionVector) Forces {
	back := state.Rotation.Rotate(geom.Back)
	right := state.Rotation.Rotate(geom.Right)
	down := state.Rotation.Rotate(geom.Down)

	thrust := float32(action.Thrust * PropulsionStrength)
	angular := back.Scale(float32(action.Roll * AngularStrength)).
		Add(right.Scale(float32(action.Pitch * AngularStrength))).
		Add(down.Scale(float32(action.Yaw * AngularStrength)))

	return Forces{
		Impulse:         back.Scale(thrust),
		AngularImpulse:  angular,
		AutoBalanceHeld: action.AutoBalance > 0.5,
	}
}

// Ship is a zero-gravity rigid body with unit-axis inertia.
type Ship struct {
	Mass    float32
	Inertia float32
	// BalanceDamping is the fraction of angular velocity removed per tick
	// while auto-balance is on.
	BalanceDamping float32
}

// DefaultShip returns the tuning the prototype flies with.
func DefaultShip() Ship {
	return Ship{Mass: 1, Inertia: 1, BalanceDamping: 0.1}
}

// Step applies impulses, toggles auto-balance on a rising edge and
// integrates with semi-implicit Euler.
func (s Ship) Step(state snapshot.EntityState, forces Forces, dt float32) snapshot.EntityState {
	mass := s.Mass
	if mass <= 0 {
		mass = 1
	}
	inertia := s.Inertia
	if inertia <= 0 {
		inertia = 1
	}

	next := state
	next.LinearVelocity = state.LinearVelocity.Add(forces.Impulse.Scale(1 / mass))
	next.AngularVelocity = state.AngularVelocity.Add(forces.AngularImpulse.Scale(1 / inertia))

	if forces.AutoBalanceHeld && !state.AutoBalanceLatch {
		next.AutoBalance = !state.AutoBalance
	}
	next.AutoBalanceLatch = forces.AutoBalanceHeld
	if next.AutoBalance && s.BalanceDamping > 0 {
		next.AngularVelocity = next.AngularVelocity.Scale(1 - s.BalanceDamping)
	}

	next.Position = state.Position.Add(next.LinearVelocity.Scale(dt))
	next.Rotation = state.Rotation.Integrate(next.AngularVelocity, dt)
	return next
}
