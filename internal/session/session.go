// Package session owns everything one rollback session needs: the input
// buffer, snapshot store, engine and synchronization channel. A Session is
// driven by a single goroutine calling Tick once per fixed step.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/gsharad007/spacerama/internal/config"
	"github.com/gsharad007/spacerama/internal/geom"
	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/netsync"
	"github.com/gsharad007/spacerama/internal/physics"
	"github.com/gsharad007/spacerama/internal/rollback"
	"github.com/gsharad007/spacerama/internal/sim"
	"github.com/gsharad007/spacerama/internal/snapshot"
	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/internal/transport"
	"github.com/gsharad007/spacerama/logging"
	"github.com/gsharad007/spacerama/logging/lifecycle"
	loggingrollback "github.com/gsharad007/spacerama/logging/rollback"
)

// ErrClosed is returned by Tick after Close.
var ErrClosed = errors.New("session: closed")

// Role selects how a session treats authoritative state.
type Role int

const (
	// RolePeer exchanges inputs only; every peer simulates everything.
	RolePeer Role = iota
	// RoleClient additionally trusts authoritative state from the server.
	RoleClient
	// RoleServer has no ship of its own and broadcasts authoritative state.
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RolePeer:
		return "peer"
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// SpawnSpacing separates ships along the X axis at spawn.
const SpawnSpacing float32 = 4

// Config describes one session. Actors lists the ships in arena order:
// actor i owns entity i.
type Config struct {
	Tuning config.SessionConfig
	Role   Role
	Local  input.ActorID
	Actors []input.ActorID
	ID     string
}

// Deps are the collaborators a session uses. Transport may be nil for a
// single-player or synctest session.
type Deps struct {
	Transport transport.Transport
	Stepper   physics.Stepper
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Logger    telemetry.Logger
	Recorder  Recorder
}

// Recorder receives every tick once it can no longer be rolled back.
type Recorder interface {
	RecordTick(tick sim.Tick, inputs []input.Frame, checksum uint64) error
}

// CorrectedState is what the presentation layer draws for one tick.
type CorrectedState struct {
	Tick     sim.Tick
	Entities []snapshot.EntityState
	// Predicted is set while some input for Tick is still unconfirmed.
	Predicted bool
	Rollback  *rollback.Result
}

// Session is not safe for concurrent use.
type Session struct {
	id        string
	cfg       config.SessionConfig
	role      Role
	local     input.ActorID
	actors    []input.ActorID
	buffer    *input.Buffer
	store     *snapshot.Store
	engine    *rollback.Engine
	channel   *netsync.Channel
	publisher logging.Publisher
	metrics   telemetry.Metrics
	logger    telemetry.Logger
	recorder  Recorder

	strays      map[input.ActorID]struct{}
	recorded    sim.Tick
	hasRecorded bool
	closed      bool
}

// New validates the tuning and builds a session from fresh instances.
func New(cfg Config, deps Deps) (*Session, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Actors) == 0 {
		return nil, fmt.Errorf("%w: session needs at least one actor", config.ErrInvalidConfig)
	}
	if cfg.Role != RoleServer && !containsActor(cfg.Actors, cfg.Local) {
		return nil, fmt.Errorf("%w: local actor %d has no ship", config.ErrInvalidConfig, cfg.Local)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if deps.Stepper == nil {
		deps.Stepper = physics.DefaultShip()
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	publisher := logging.WithFields(deps.Publisher, map[string]any{
		"session": cfg.ID,
		"role":    cfg.Role.String(),
	})

	buffer := input.NewBuffer(input.BufferConfig{
		Local:           cfg.Local,
		Actors:          cfg.Actors,
		InputDelayTicks: cfg.Tuning.InputDelayTicks,
		HoldRemote:      cfg.Tuning.PredictAll,
	})
	// One extra slot keeps the snapshot before the oldest rollback target.
	store := snapshot.NewStore(cfg.Tuning.History() + 1)

	engine, err := rollback.NewEngine(rollback.Config{
		MaxPredictionTicks:    cfg.Tuning.MaxPredictionTicks,
		CorrectionTicksFactor: cfg.Tuning.CorrectionTicksFactor,
		Epsilon:               cfg.Tuning.DivergenceEpsilon,
		SyncTestTicks:         cfg.Tuning.SyncTestTicks,
		TickDuration:          1 / float32(cfg.Tuning.TickRate),
	}, rollback.Deps{
		Buffer:    buffer,
		Store:     store,
		Stepper:   deps.Stepper,
		Publisher: publisher,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	}, cfg.Actors, spawn(len(cfg.Actors)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	var channel *netsync.Channel
	if deps.Transport != nil {
		channel = netsync.NewChannel(deps.Transport, netsync.Config{
			ProtocolID: cfg.Tuning.ProtocolID,
			Local:      cfg.Local,
			Redundancy: cfg.Tuning.InputRedundancy,
			Logger:     deps.Logger,
			Metrics:    deps.Metrics,
			Publisher:  publisher,
		})
	}

	s := &Session{
		id:        cfg.ID,
		cfg:       cfg.Tuning,
		role:      cfg.Role,
		local:     cfg.Local,
		actors:    append([]input.ActorID(nil), cfg.Actors...),
		buffer:    buffer,
		store:     store,
		engine:    engine,
		channel:   channel,
		publisher: publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		recorder:  deps.Recorder,
		strays:    make(map[input.ActorID]struct{}),
	}
	lifecycle.SessionStarted(context.Background(), publisher, 0, s.localRef(), lifecycle.SessionStartedPayload{
		Mode:                  cfg.Role.String(),
		Players:               len(cfg.Actors),
		InputDelayTicks:       cfg.Tuning.InputDelayTicks,
		MaxPredictionTicks:    cfg.Tuning.MaxPredictionTicks,
		CorrectionTicksFactor: cfg.Tuning.CorrectionTicksFactor,
	}, nil)
	return s, nil
}

func spawn(count int) []snapshot.EntityState {
	entities := make([]snapshot.EntityState, count)
	for i := range entities {
		entities[i] = snapshot.NewEntityState(snapshot.EntityID(i))
		entities[i].Position = geom.Vec3{X: float32(float32(i) * SpawnSpacing)}
	}
	return entities
}

func containsActor(actors []input.ActorID, actor input.ActorID) bool {
	for _, candidate := range actors {
		if candidate == actor {
			return true
		}
	}
	return false
}

// ID returns the session id stamped on every event.
func (s *Session) ID() string {
	return s.id
}

// Role returns the session role.
func (s *Session) Role() Role {
	return s.role
}

// Next is the tick the following Tick call simulates.
func (s *Session) Next() sim.Tick {
	return s.engine.Next()
}

// Engine exposes the rollback engine for inspection.
func (s *Session) Engine() *rollback.Engine {
	return s.engine
}

// Buffer exposes the input buffer for inspection.
func (s *Session) Buffer() *input.Buffer {
	return s.buffer
}

// Sample records the local action for tick ahead of the Tick call that
// would otherwise record it. A second sample for the same tick is ignored.
func (s *Session) Sample(tick sim.Tick, action input.ActionVector) {
	if s.role == RoleServer {
		return
	}
	if err := s.buffer.RecordLocal(tick, action); err != nil {
		loggingrollback.DuplicateLocalInput(context.Background(), s.publisher, uint64(tick), s.localRef(), nil)
	}
}

// Tick runs one fixed step with action as the local sample and returns the
// visually corrected state to draw.
func (s *Session) Tick(action input.ActionVector) (CorrectedState, error) {
	if s.closed {
		return CorrectedState{}, ErrClosed
	}
	tick := s.engine.Next()
	s.Sample(tick, action)

	delayed := s.releaseLocal(tick)
	s.poll(tick)

	before := s.engine.Stats().Rollbacks
	if err := s.engine.Advance(tick); err != nil {
		return CorrectedState{}, err
	}
	if s.metrics != nil {
		s.metrics.Add(telemetry.MetricTicks, 1)
	}

	s.send(tick, delayed)
	s.finalize(tick)
	s.evict(tick)

	state := CorrectedState{
		Tick:     tick,
		Entities: s.engine.Displayed(),
	}
	if confirmed, ok := s.buffer.ConfirmedThroughAll(); !ok || confirmed < tick {
		state.Predicted = true
	}
	if s.engine.Stats().Rollbacks != before {
		result := s.engine.LastResult()
		state.Rollback = &result
	}
	return state, nil
}

// releaseLocal confirms the local input that becomes due at tick. Before
// the delay has elapsed the local ship idles.
func (s *Session) releaseLocal(tick sim.Tick) input.ActionVector {
	if s.role == RoleServer {
		// The server has no ship; its own slot is settled every tick.
		s.buffer.Confirm(s.local, tick, input.ActionVector{})
		return input.ActionVector{}
	}
	delayed, _ := s.buffer.DelayedLocal(tick)
	s.engine.OnConfirmed(s.local, tick, delayed)
	return delayed
}

func (s *Session) poll(tick sim.Tick) {
	if s.channel == nil {
		return
	}
	horizon := s.horizon(tick)
	for _, update := range s.channel.Poll() {
		switch update.Kind {
		case netsync.KindInput:
			if !containsActor(s.actors, update.Input.Actor) {
				s.strayInput(tick, update.Input.Actor)
				continue
			}
			if update.Input.Tick < horizon {
				s.engine.OnLate(update.Input.Actor, update.Input.Tick, update.Input.Action)
				continue
			}
			s.engine.OnConfirmed(update.Input.Actor, update.Input.Tick, update.Input.Action)
		case netsync.KindState:
			if s.role != RoleClient {
				continue
			}
			s.engine.OnAuthoritative(update.State.Tick, update.State.Entities)
		}
	}
}

// strayInput counts input from an actor without a ship. It is logged once
// per actor.
func (s *Session) strayInput(tick sim.Tick, actor input.ActorID) {
	if s.metrics != nil {
		s.metrics.Add(telemetry.MetricUnknownActors, 1)
	}
	if _, seen := s.strays[actor]; seen {
		return
	}
	s.strays[actor] = struct{}{}
	s.logf("[session] ignoring input from actor %d at tick %d: no ship in this session", actor, tick)
}

func (s *Session) send(tick sim.Tick, delayed input.ActionVector) {
	if s.channel == nil {
		return
	}
	if s.role != RoleServer {
		if err := s.channel.SendInput(tick, delayed); err != nil {
			s.logf("[session] send input tick=%d: %v", tick, err)
		}
		return
	}
	interval := s.cfg.ReplicationIntervalTicks
	if interval <= 0 || uint64(tick)%uint64(interval) != 0 {
		return
	}
	if err := s.channel.SendState(tick, s.engine.Live()); err != nil {
		s.logf("[session] send state tick=%d: %v", tick, err)
	}
}

// finalize hands ticks that can no longer be rolled back to the recorder.
func (s *Session) finalize(tick sim.Tick) {
	if s.recorder == nil || uint64(tick) < uint64(s.cfg.MaxPredictionTicks) {
		return
	}
	final := tick - sim.Tick(s.cfg.MaxPredictionTicks)
	start := sim.Tick(0)
	if s.hasRecorded {
		start = s.recorded + 1
	}
	for t := start; t <= final; t++ {
		entities, ok := s.store.Load(t)
		if !ok {
			continue
		}
		frames := make([]input.Frame, 0, len(s.actors))
		for _, actor := range s.actors {
			frames = append(frames, s.buffer.Get(actor, t))
		}
		if err := s.recorder.RecordTick(t, frames, snapshot.Checksum(entities)); err != nil {
			s.logf("[session] record tick=%d: %v", t, err)
		}
	}
	s.recorded = final
	s.hasRecorded = true
}

func (s *Session) evict(tick sim.Tick) {
	s.buffer.Evict(s.horizon(tick))
}

// horizon is the oldest tick whose input is still kept.
func (s *Session) horizon(tick sim.Tick) sim.Tick {
	return tick.Sub(uint64(s.cfg.Window()))
}

// Close ends the session and closes its transport.
func (s *Session) Close(reason string) error {
	if s.closed {
		return nil
	}
	s.closed = true
	stats := s.engine.Stats()
	current, _ := s.engine.Current()
	lifecycle.SessionEnded(context.Background(), s.publisher, uint64(current), s.localRef(), lifecycle.SessionEndedPayload{
		Reason:    reason,
		Rollbacks: stats.Rollbacks,
		Desyncs:   stats.Desyncs,
	}, nil)
	if s.channel != nil {
		return s.channel.Close()
	}
	return nil
}

func (s *Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Session) localRef() logging.EntityRef {
	return logging.EntityRef{ID: strconv.FormatUint(uint64(s.local), 10), Kind: logging.EntityKindActor}
}
