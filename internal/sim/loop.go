package sim

import (
	"context"
	"time"

	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/logging"
)

// LoopConfig tunes the fixed-timestep runner.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
}

// LoopTickContext is handed to the step hook for every tick.
type LoopTickContext struct {
	Tick  Tick
	Now   time.Time
	Delta time.Duration
}

// LoopStepResult reports how one tick went.
type LoopStepResult struct {
	Tick     Tick
	Now      time.Time
	Duration time.Duration
	Budget   time.Duration
	Overrun  bool
}

// LoopHooks are the callbacks the runner drives. Step is required.
type LoopHooks struct {
	Step      func(LoopTickContext)
	AfterStep func(LoopStepResult)
}

// Loop drives a FixedClock from a ticker and runs one step per due tick.
type Loop struct {
	clock   *FixedClock
	wall    logging.Clock
	hooks   LoopHooks
	config  LoopConfig
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// NewLoop wires a runner around the provided hooks.
func NewLoop(cfg LoopConfig, wall logging.Clock, hooks LoopHooks, logger telemetry.Logger, metrics telemetry.Metrics) *Loop {
	if hooks.Step == nil {
		return nil
	}
	if wall == nil {
		wall = logging.SystemClock{}
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	return &Loop{
		clock:   NewFixedClock(wall, cfg.TickRate, cfg.CatchupMaxTicks),
		wall:    wall,
		hooks:   hooks,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Clock exposes the fixed clock backing the loop.
func (l *Loop) Clock() *FixedClock {
	if l == nil {
		return nil
	}
	return l.clock
}

// Pump runs the ticks that were due when it was called and reports how many
// ran. Time spent stepping is left in the accumulator for the next Pump, so a
// slow step cannot keep a single Pump running forever.
func (l *Loop) Pump() int {
	if l == nil {
		return 0
	}
	ran := 0
	budget := l.clock.Step()
	for due := l.clock.Backlog(); ran < due; {
		tick, ok := l.clock.Advance()
		if !ok {
			return ran
		}
		start := l.wall.Now()
		l.hooks.Step(LoopTickContext{Tick: tick, Now: start, Delta: budget})
		result := LoopStepResult{
			Tick:     tick,
			Now:      start,
			Duration: l.wall.Now().Sub(start),
			Budget:   budget,
		}
		if result.Duration > budget {
			result.Overrun = true
			if l.metrics != nil {
				l.metrics.Add(telemetry.MetricTickOverruns, 1)
			}
			if l.logger != nil {
				l.logger.Printf("[loop] tick %d took %s (budget %s)", tick, result.Duration, budget)
			}
		}
		if l.metrics != nil {
			l.metrics.Add(telemetry.MetricTicks, 1)
		}
		if l.hooks.AfterStep != nil {
			l.hooks.AfterStep(result)
		}
		ran++
	}
	return ran
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(l.clock.Step())
	defer ticker.Stop()

	l.clock.Advance()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Pump()
		}
	}
}
