package snapshot

import (
	"github.com/gsharad007/spacerama/internal/geom"
	"github.com/gsharad007/spacerama/internal/sim"
)

// EntityID indexes an entity in the session arena. Actor i owns entity i.
type EntityID uint32

// EntityState is the complete simulated state of one ship.
type EntityState struct {
	Entity          EntityID  `msgpack:"e"`
	Position        geom.Vec3 `msgpack:"p"`
	Rotation        geom.Quat `msgpack:"q"`
	LinearVelocity  geom.Vec3 `msgpack:"v"`
	AngularVelocity geom.Vec3 `msgpack:"w"`
	AutoBalance     bool      `msgpack:"ab"`
	// AutoBalanceLatch remembers whether the toggle was held on the previous
	// tick so only a rising edge flips AutoBalance.
	AutoBalanceLatch bool `msgpack:"abl"`
}

// NewEntityState returns a ship at rest at the origin.
func NewEntityState(id EntityID) EntityState {
	return EntityState{Entity: id, Rotation: geom.Identity}
}

// ApproxEqual compares every simulated field, floats within epsilon.
func (s EntityState) ApproxEqual(o EntityState, epsilon float32) bool {
	return s.Entity == o.Entity &&
		s.AutoBalance == o.AutoBalance &&
		s.AutoBalanceLatch == o.AutoBalanceLatch &&
		s.Position.ApproxEqual(o.Position, epsilon) &&
		s.Rotation.ApproxEqual(o.Rotation, epsilon) &&
		s.LinearVelocity.ApproxEqual(o.LinearVelocity, epsilon) &&
		s.AngularVelocity.ApproxEqual(o.AngularVelocity, epsilon)
}

// Snapshot is the state of every entity after a tick was simulated.
type Snapshot struct {
	Tick     sim.Tick      `msgpack:"tick"`
	Entities []EntityState `msgpack:"entities"`
}

// Find returns the state of id within the snapshot.
func (s Snapshot) Find(id EntityID) (EntityState, bool) {
	return Find(s.Entities, id)
}

// Find locates id in entities. Entities are stored in arena order so the
// index is tried first.
func Find(entities []EntityState, id EntityID) (EntityState, bool) {
	if int(id) < len(entities) && entities[id].Entity == id {
		return entities[id], true
	}
	for _, state := range entities {
		if state.Entity == id {
			return state, true
		}
	}
	return EntityState{}, false
}

// Clone deep-copies an entity slice.
func Clone(entities []EntityState) []EntityState {
	if entities == nil {
		return nil
	}
	return append([]EntityState(nil), entities...)
}
