// Package config holds the immutable tuning a session is built from and
// the loaders that produce it from settings files, environment and flags.
package config

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig marks configuration that must abort session creation.
var ErrInvalidConfig = errors.New("invalid session configuration")

const (
	DefaultInputDelayTicks       = 2
	DefaultMaxPredictionTicks    = 8
	DefaultCorrectionTicksFactor = 1.0
	DefaultTickRate              = 64
	DefaultProtocolID            = 0
	DefaultReplicationInterval   = 2
	DefaultDivergenceEpsilon     = 1e-4
)

// SessionConfig is passed by value into session construction and never
// mutated afterwards.
type SessionConfig struct {
	InputDelayTicks       int
	MaxPredictionTicks    int
	CorrectionTicksFactor float64
	PlayerCount           int
	ProtocolID            uint64
	TickRate              int
	// HistoryTicks is how many ticks of snapshots and inputs are kept. Zero
	// means exactly the rollback window.
	HistoryTicks int
	// PredictAll enables hold-last prediction for remote actors. When false
	// unconfirmed remote input reads as zero.
	PredictAll bool
	// ReplicationIntervalTicks is how often the server role broadcasts
	// authoritative state.
	ReplicationIntervalTicks int
	DivergenceEpsilon        float32
	SyncTestTicks            int
	InputRedundancy          int
}

// DefaultSessionConfig mirrors the shipped network settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		InputDelayTicks:          DefaultInputDelayTicks,
		MaxPredictionTicks:       DefaultMaxPredictionTicks,
		CorrectionTicksFactor:    DefaultCorrectionTicksFactor,
		PlayerCount:              2,
		ProtocolID:               DefaultProtocolID,
		TickRate:                 DefaultTickRate,
		PredictAll:               true,
		ReplicationIntervalTicks: DefaultReplicationInterval,
		DivergenceEpsilon:        DefaultDivergenceEpsilon,
	}
}

// Window is the rollback window: max_prediction_ticks + input_delay_ticks.
func (c SessionConfig) Window() int {
	return c.MaxPredictionTicks + c.InputDelayTicks
}

// History returns the effective history length.
func (c SessionConfig) History() int {
	if c.HistoryTicks == 0 {
		return c.Window()
	}
	return c.HistoryTicks
}

// Validate reports the first violated constraint wrapped in ErrInvalidConfig.
func (c SessionConfig) Validate() error {
	switch {
	case c.InputDelayTicks < 0:
		return fmt.Errorf("%w: input_delay_ticks must be >= 0, got %d", ErrInvalidConfig, c.InputDelayTicks)
	case c.MaxPredictionTicks < 1:
		return fmt.Errorf("%w: max_prediction_ticks must be >= 1, got %d", ErrInvalidConfig, c.MaxPredictionTicks)
	case math.IsNaN(c.CorrectionTicksFactor) || math.IsInf(c.CorrectionTicksFactor, 0):
		return fmt.Errorf("%w: correction_ticks_factor must be finite", ErrInvalidConfig)
	case c.CorrectionTicksFactor < 0:
		return fmt.Errorf("%w: correction_ticks_factor must be >= 0, got %v", ErrInvalidConfig, c.CorrectionTicksFactor)
	case c.PlayerCount < 1:
		return fmt.Errorf("%w: player_count must be >= 1, got %d", ErrInvalidConfig, c.PlayerCount)
	case c.TickRate < 1:
		return fmt.Errorf("%w: tick_rate must be >= 1, got %d", ErrInvalidConfig, c.TickRate)
	case c.History() < c.Window():
		return fmt.Errorf("%w: history of %d ticks is shorter than the rollback window of %d", ErrInvalidConfig, c.History(), c.Window())
	case c.ReplicationIntervalTicks < 0:
		return fmt.Errorf("%w: replication interval must be >= 0, got %d", ErrInvalidConfig, c.ReplicationIntervalTicks)
	case c.SyncTestTicks < 0 || c.SyncTestTicks > c.History():
		return fmt.Errorf("%w: synctest ticks must be within [0, %d], got %d", ErrInvalidConfig, c.History(), c.SyncTestTicks)
	case c.DivergenceEpsilon < 0:
		return fmt.Errorf("%w: divergence epsilon must be >= 0", ErrInvalidConfig)
	}
	return nil
}
