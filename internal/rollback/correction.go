package rollback

import (
	"math"

	"github.com/gsharad007/spacerama/internal/geom"
	"github.com/gsharad007/spacerama/internal/snapshot"
)

// correction eases one entity's displayed transform from where it was shown
// before a rollback to the corrected simulation. It only ever touches the
// displayed copy.
type correction struct {
	positionOffset geom.Vec3
	rotationOffset geom.Quat
	total          int
	remaining      int
}

// CorrectionTicks is how long a correction lasts after resimulating
// resimulated ticks. At least one tick is counted so an authoritative patch
// of the current tick still eases in.
func CorrectionTicks(resimulated int, factor float64) int {
	if resimulated < 1 {
		resimulated = 1
	}
	return int(math.Round(float64(resimulated) * factor))
}

func newCorrection(displayed, corrected snapshot.EntityState, ticks int, epsilon float32) (correction, bool) {
	if ticks <= 0 {
		return correction{}, false
	}
	offset := displayed.Position.Sub(corrected.Position)
	rotation := displayed.Rotation.Mul(corrected.Rotation.Conjugate()).Normalize()
	if offset.ApproxEqual(geom.Vec3{}, epsilon) && rotation.ApproxEqual(geom.Identity, epsilon) {
		return correction{}, false
	}
	return correction{
		positionOffset: offset,
		rotationOffset: rotation,
		total:          ticks,
		remaining:      ticks,
	}, true
}

func (c correction) active() bool {
	return c.remaining > 0 && c.total > 0
}

// weight is the share of the original error still shown.
func (c correction) weight() float32 {
	if !c.active() {
		return 0
	}
	return float32(c.remaining) / float32(c.total)
}

func (c correction) apply(state snapshot.EntityState) snapshot.EntityState {
	w := c.weight()
	if w == 0 {
		return state
	}
	state.Position = state.Position.Add(c.positionOffset.Scale(w))
	state.Rotation = geom.Identity.Slerp(c.rotationOffset, w).Mul(state.Rotation).Normalize()
	return state
}

func (c *correction) step() {
	if c.remaining > 0 {
		c.remaining--
	}
}
