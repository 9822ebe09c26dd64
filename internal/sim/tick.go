package sim

// Tick identifies one fixed simulation step. Numbering starts at 0 when a
// session starts and is never reset while it runs.
type Tick uint64

// Sub returns t-d, saturating at zero.
func (t Tick) Sub(d uint64) Tick {
	if uint64(t) < d {
		return 0
	}
	return t - Tick(d)
}

// Before reports whether t is strictly earlier than other.
func (t Tick) Before(other Tick) bool {
	return t < other
}
