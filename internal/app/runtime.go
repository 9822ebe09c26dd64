package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gsharad007/spacerama/internal/config"
	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/replay"
	"github.com/gsharad007/spacerama/internal/rollback"
	"github.com/gsharad007/spacerama/internal/session"
	"github.com/gsharad007/spacerama/internal/sim"
	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/internal/transport"
	"github.com/gsharad007/spacerama/logging"
	loggingSinks "github.com/gsharad007/spacerama/logging/sinks"
)

// runtime carries the process-wide collaborators every mode shares.
type runtime struct {
	settings config.Settings
	obs      config.Observability
	logger   telemetry.Logger
	router   *logging.Router
	counters *logging.Metrics
	metrics  telemetry.Metrics
	db       *gorm.DB
	board    *statusBoard
	files    []io.Closer
}

func newRuntime(settings config.Settings, obs config.Observability, logger telemetry.Logger, stdout io.Writer) (*runtime, error) {
	rt := &runtime{
		settings: settings,
		obs:      obs,
		logger:   logger,
		counters: &logging.Metrics{},
		board:    newStatusBoard(),
	}

	rt.metrics = telemetry.WrapMetrics(rt.counters)
	if obs.OTelMetrics {
		rt.metrics = telemetry.Multi(rt.metrics, telemetry.NewOTel(nil, logger))
	}

	logConfig := logging.DefaultConfig()
	logConfig.EnabledSinks = obs.LogSinks
	level := settings.LogLevel
	if obs.LogLevel != "" {
		level = obs.LogLevel
	}
	logConfig.MinimumSeverity = logging.ParseSeverity(level)
	logConfig.JSON.Path = obs.LogJSONPath
	logConfig.Fields = map[string]any{
		"protocol": settings.Shared.ProtocolID,
		"tickRate": settings.Shared.TickRate,
	}

	sinks, err := rt.buildSinks(logConfig, stdout)
	if err != nil {
		rt.closeFiles()
		return nil, err
	}

	fallback := log.Default()
	if provider, ok := logger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallback = candidate
		}
	}
	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, fallback, sinks)
	if err != nil {
		rt.closeFiles()
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	rt.router = router

	if settings.Replay.Enabled {
		db, err := replay.Open(settings.Replay.Path)
		if err != nil {
			rt.close(context.Background())
			return nil, err
		}
		rt.db = db
	}
	return rt, nil
}

func (rt *runtime) buildSinks(cfg logging.Config, stdout io.Writer) (map[string]logging.Sink, error) {
	if stdout == nil {
		stdout = os.Stdout
	}
	for _, name := range cfg.UnknownSinks() {
		rt.logf("ignoring unknown log sink %q", name)
	}
	sinks := make(map[string]logging.Sink)
	for _, name := range cfg.Sinks() {
		switch name {
		case logging.SinkConsole:
			sinks[name] = loggingSinks.NewConsoleSink(stdout, cfg.Console)
		case logging.SinkJSON:
			var w io.Writer = stdout
			if path := cfg.JSON.Path; path != "" {
				file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return nil, fmt.Errorf("open json log %s: %w", path, err)
				}
				rt.files = append(rt.files, file)
				w = file
			}
			sinks[name] = loggingSinks.NewJSON(w, cfg.JSON.FlushInterval)
		case logging.SinkMemory:
			sinks[name] = loggingSinks.NewMemorySink()
		}
	}
	return sinks, nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.router != nil {
		if err := rt.router.Close(ctx); err != nil {
			rt.logf("failed to close logging router: %v", err)
		}
	}
	if rt.db != nil {
		if err := replay.Close(rt.db); err != nil {
			rt.logf("failed to close replay db: %v", err)
		}
	}
	rt.closeFiles()
}

func (rt *runtime) closeFiles() {
	for _, file := range rt.files {
		file.Close()
	}
	rt.files = nil
}

func (rt *runtime) publisher() logging.Publisher {
	if rt.router == nil {
		return logging.NopPublisher()
	}
	return rt.router
}

// tuning derives the session tuning, applying the command line synctest depth.
func (rt *runtime) tuning(opts Options) config.SessionConfig {
	tuning := rt.settings.Session()
	tuning.SyncTestTicks = opts.SyncTest
	return tuning
}

// players lists the actor ids 1..PlayerCount. Id 0 is reserved for the server.
func players(count int) []input.ActorID {
	actors := make([]input.ActorID, 0, count)
	for i := 1; i <= count; i++ {
		actors = append(actors, input.ActorID(i))
	}
	return actors
}

// hosted is a session plus the recorder writing its finalized ticks.
type hosted struct {
	session  *session.Session
	recorder *replay.Recorder
	input    InputSource
	ticks    int
}

func (rt *runtime) host(tuning config.SessionConfig, role session.Role, local input.ActorID, actors []input.ActorID, tr transport.Transport, source InputSource) (*hosted, error) {
	cfg := session.Config{Tuning: tuning, Role: role, Local: local, Actors: actors}
	deps := session.Deps{
		Transport: tr,
		Publisher: rt.publisher(),
		Metrics:   rt.metrics,
		Logger:    rt.logger,
	}

	var recorder *replay.Recorder
	if rt.db != nil {
		cfg.ID = uuid.NewString()
		var err error
		recorder, err = replay.NewRecorder(rt.db, replay.Meta{
			ID:     cfg.ID,
			Mode:   role.String(),
			Actors: actors,
			Tuning: tuning,
		}, 0)
		if err != nil {
			return nil, err
		}
		deps.Recorder = recorder
	}

	sess, err := session.New(cfg, deps)
	if err != nil {
		if recorder != nil {
			recorder.Close()
		}
		return nil, err
	}
	if source == nil {
		source = ScriptedInput(local)
	}
	return &hosted{session: sess, recorder: recorder, input: source}, nil
}

// step runs one tick and publishes the session status.
func (rt *runtime) step(h *hosted) error {
	state, err := h.session.Tick(h.input.Sample(h.session.Next()))
	if err != nil {
		return err
	}
	h.ticks++
	rt.board.update(h.session, state)
	return nil
}

func (rt *runtime) finish(h *hosted, reason string) {
	stats := h.session.Engine().Stats()
	rt.logf("session %s (%s) ended after %d ticks: rollbacks=%d resimulated=%d desyncs=%d synctest_mismatches=%d",
		h.session.ID(), h.session.Role(), h.ticks, stats.Rollbacks, stats.ResimulatedTicks, stats.Desyncs, stats.SyncTestMismatches)
	if err := h.session.Close(reason); err != nil {
		rt.logf("close session %s: %v", h.session.ID(), err)
	}
	if h.recorder != nil {
		if err := h.recorder.Close(); err != nil {
			rt.logf("close recording %s: %v", h.recorder.ID(), err)
		} else {
			rt.logf("recorded %d ticks as %s", h.recorder.Written(), h.recorder.ID())
		}
	}
}

func (rt *runtime) loop(step func(sim.LoopTickContext)) *sim.Loop {
	return sim.NewLoop(sim.LoopConfig{TickRate: rt.settings.Shared.TickRate}, logging.SystemClock{}, sim.LoopHooks{Step: step}, rt.logger, rt.metrics)
}

func (rt *runtime) logf(format string, args ...any) {
	if rt.logger != nil {
		rt.logger.Printf(format, args...)
	}
}

// SessionStatus is the per-session block of /diagnostics.
type SessionStatus struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Tick      uint64         `json:"tick"`
	Predicted bool           `json:"predicted"`
	Engine    string         `json:"engine"`
	Stats     rollback.Stats `json:"stats"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// statusBoard is written by session goroutines and read by HTTP handlers.
type statusBoard struct {
	mu       sync.RWMutex
	sessions map[string]SessionStatus
}

func newStatusBoard() *statusBoard {
	return &statusBoard{sessions: make(map[string]SessionStatus)}
}

func (b *statusBoard) update(sess *session.Session, state session.CorrectedState) {
	status := SessionStatus{
		ID:        sess.ID(),
		Role:      sess.Role().String(),
		Tick:      uint64(state.Tick),
		Predicted: state.Predicted,
		Engine:    sess.Engine().State().String(),
		Stats:     sess.Engine().Stats(),
		UpdatedAt: time.Now(),
	}
	b.mu.Lock()
	b.sessions[status.ID] = status
	b.mu.Unlock()
}

func (b *statusBoard) snapshot() []SessionStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]SessionStatus, 0, len(b.sessions))
	for _, status := range b.sessions {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
