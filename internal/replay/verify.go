package replay

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"gorm.io/gorm"

	"github.com/gsharad007/spacerama/internal/config"
	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/physics"
	"github.com/gsharad007/spacerama/internal/session"
	"github.com/gsharad007/spacerama/internal/sim"
	"github.com/gsharad007/spacerama/internal/snapshot"
)

// ErrNotFound is returned when a recording id is unknown.
var ErrNotFound = errors.New("replay: recording not found")

// Mismatch is a tick whose replayed state differs from the recording.
type Mismatch struct {
	Tick     sim.Tick
	Expected uint64
	Actual   uint64
}

// Report summarises a verification run.
type Report struct {
	ID         string
	Ticks      int
	Mismatches []Mismatch
}

// OK reports whether every tick matched.
func (r Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Load returns a recording header and its ticks ordered by tick.
func Load(db *gorm.DB, id string) (Recording, error) {
	var recording Recording
	err := db.Preload("Ticks", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("tick ASC")
	}).First(&recording, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Recording{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Recording{}, fmt.Errorf("load recording %s: %w", id, err)
	}
	return recording, nil
}

// List returns every recording header, newest first.
func List(db *gorm.DB) ([]Recording, error) {
	var recordings []Recording
	if err := db.Order("created_at DESC").Find(&recordings).Error; err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return recordings, nil
}

// Verify replays a recording through a fresh session with every input
// confirmed up front and compares each tick's checksum.
func Verify(db *gorm.DB, id string, stepper physics.Stepper) (Report, error) {
	recording, err := Load(db, id)
	if err != nil {
		return Report{}, err
	}
	var actors []input.ActorID
	if err := msgpack.Unmarshal(recording.Actors, &actors); err != nil {
		return Report{}, fmt.Errorf("decode actors: %w", err)
	}
	if len(actors) == 0 {
		return Report{}, fmt.Errorf("recording %s has no actors", id)
	}

	tuning := config.DefaultSessionConfig()
	tuning.InputDelayTicks = 0
	tuning.MaxPredictionTicks = max(recording.MaxPredictionTicks, 1)
	tuning.TickRate = recording.TickRate
	tuning.ProtocolID = recording.ProtocolID
	tuning.PlayerCount = len(actors)

	s, err := session.New(session.Config{
		Tuning: tuning,
		Role:   session.RolePeer,
		Local:  actors[0],
		Actors: actors,
		ID:     "verify-" + id,
	}, session.Deps{Stepper: stepper})
	if err != nil {
		return Report{}, fmt.Errorf("build verification session: %w", err)
	}
	defer s.Close("verified")

	report := Report{ID: id}
	for _, record := range recording.Ticks {
		tick := sim.Tick(record.Tick)
		if tick != s.Next() {
			return report, fmt.Errorf("recording %s skips from tick %d to %d", id, s.Next(), tick)
		}
		var frames []input.Frame
		if err := msgpack.Unmarshal(record.Inputs, &frames); err != nil {
			return report, fmt.Errorf("decode inputs for tick %d: %w", tick, err)
		}
		local := input.ActionVector{}
		for _, frame := range frames {
			if frame.Actor == actors[0] {
				local = frame.Action
				continue
			}
			s.Engine().OnConfirmed(frame.Actor, tick, frame.Action)
		}
		if _, err := s.Tick(local); err != nil {
			return report, err
		}
		actual := snapshot.Checksum(s.Engine().Live())
		expected := uint64(record.Checksum)
		if actual != expected {
			report.Mismatches = append(report.Mismatches, Mismatch{Tick: tick, Expected: expected, Actual: actual})
		}
		report.Ticks++
	}
	return report, nil
}
