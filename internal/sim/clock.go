package sim

import (
	"time"

	"github.com/gsharad007/spacerama/logging"
)

// FixedClock converts wall time into fixed simulation steps. Advance hands
// out at most one tick per call; any remaining backlog stays in the
// accumulator so the caller drains it with repeated calls and no tick is
// ever skipped.
type FixedClock struct {
	clock       logging.Clock
	step        time.Duration
	maxBacklog  time.Duration
	accumulator time.Duration
	last        time.Time
	next        Tick
	started     bool
	clamped     uint64
}

// NewFixedClock builds a clock running tickRate steps per second. When
// catchupMaxTicks is positive the accumulator never holds more than that many
// steps; older wall time is discarded (ticks are still numbered contiguously).
func NewFixedClock(clock logging.Clock, tickRate int, catchupMaxTicks int) *FixedClock {
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	step := time.Second / time.Duration(tickRate)
	var maxBacklog time.Duration
	if catchupMaxTicks > 0 {
		maxBacklog = step * time.Duration(catchupMaxTicks)
	}
	return &FixedClock{clock: clock, step: step, maxBacklog: maxBacklog}
}

// DefaultTickRate matches the 64Hz fixed update the ship simulation was tuned for.
const DefaultTickRate = 64

// Step reports the fixed step length.
func (c *FixedClock) Step() time.Duration {
	if c == nil {
		return 0
	}
	return c.step
}

// Advance returns the next tick when at least one step of wall time has
// accumulated since the clock started.
func (c *FixedClock) Advance() (Tick, bool) {
	if c == nil {
		return 0, false
	}
	c.sample()
	if c.accumulator < c.step {
		return 0, false
	}
	c.accumulator -= c.step
	tick := c.next
	c.next++
	return tick, true
}

// Backlog reports how many steps are currently due.
func (c *FixedClock) Backlog() int {
	if c == nil || c.step <= 0 {
		return 0
	}
	c.sample()
	return int(c.accumulator / c.step)
}

// Next reports the tick the following Advance will hand out.
func (c *FixedClock) Next() Tick {
	if c == nil {
		return 0
	}
	return c.next
}

// Clamped reports how many times backlog was discarded by the catch-up limit.
func (c *FixedClock) Clamped() uint64 {
	if c == nil {
		return 0
	}
	return c.clamped
}

func (c *FixedClock) sample() {
	now := c.clock.Now()
	if !c.started {
		c.started = true
		c.last = now
		return
	}
	if elapsed := now.Sub(c.last); elapsed > 0 {
		c.accumulator += elapsed
	}
	c.last = now
	if c.maxBacklog > 0 && c.accumulator > c.maxBacklog {
		c.accumulator = c.maxBacklog
		c.clamped++
	}
}
