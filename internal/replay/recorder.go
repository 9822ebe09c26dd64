package replay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"gorm.io/gorm"

	"github.com/gsharad007/spacerama/internal/config"
	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/sim"
)

// DefaultFlushEvery is how many ticks are buffered before a batch insert.
const DefaultFlushEvery = 128

var errRecorderClosed = errors.New("replay: recorder closed")

// Meta describes the session being recorded.
type Meta struct {
	ID     string
	Mode   string
	Actors []input.ActorID
	Tuning config.SessionConfig
}

// Recorder buffers finalized ticks and writes them in batches.
type Recorder struct {
	db         *gorm.DB
	id         string
	flushEvery int

	mu      sync.Mutex
	pending []TickRecord
	written int
	closed  bool
}

// NewRecorder stores the recording header and returns a recorder for its ticks.
func NewRecorder(db *gorm.DB, meta Meta, flushEvery int) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("replay: nil database")
	}
	if meta.ID == "" {
		return nil, errors.New("replay: recording needs an id")
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	actors, err := msgpack.Marshal(meta.Actors)
	if err != nil {
		return nil, fmt.Errorf("encode actors: %w", err)
	}
	header := Recording{
		ID:                 meta.ID,
		Mode:               meta.Mode,
		Actors:             actors,
		InputDelayTicks:    meta.Tuning.InputDelayTicks,
		MaxPredictionTicks: meta.Tuning.MaxPredictionTicks,
		TickRate:           meta.Tuning.TickRate,
		ProtocolID:         meta.Tuning.ProtocolID,
	}
	if err := db.Create(&header).Error; err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &Recorder{
		db:         db,
		id:         meta.ID,
		flushEvery: flushEvery,
		pending:    make([]TickRecord, 0, flushEvery),
	}, nil
}

// ID returns the recording id.
func (r *Recorder) ID() string {
	return r.id
}

// RecordTick queues one finalized tick.
func (r *Recorder) RecordTick(tick sim.Tick, inputs []input.Frame, checksum uint64) error {
	encoded, err := msgpack.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("encode inputs for tick %d: %w", tick, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRecorderClosed
	}
	r.pending = append(r.pending, TickRecord{
		RecordingID: r.id,
		Tick:        uint64(tick),
		Checksum:    int64(checksum),
		Inputs:      encoded,
	})
	if len(r.pending) >= r.flushEvery {
		return r.flushLocked()
	}
	return nil
}

// Flush writes every queued tick.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.db.Create(&r.pending).Error; err != nil {
		return fmt.Errorf("insert %d ticks: %w", len(r.pending), err)
	}
	r.written += len(r.pending)
	r.pending = make([]TickRecord, 0, r.flushEvery)
	return nil
}

// Written reports how many ticks reached the database.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close flushes the remaining ticks. Further records are rejected.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.flushLocked()
}
