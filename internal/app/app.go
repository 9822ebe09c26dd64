// Package app wires settings, logging, metrics, transports and sessions into
// the runnable modes of the spacerama binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gsharad007/spacerama/internal/config"
	"github.com/gsharad007/spacerama/internal/input"
	servernet "github.com/gsharad007/spacerama/internal/net"
	"github.com/gsharad007/spacerama/internal/net/ws"
	"github.com/gsharad007/spacerama/internal/netsync"
	"github.com/gsharad007/spacerama/internal/physics"
	"github.com/gsharad007/spacerama/internal/replay"
	"github.com/gsharad007/spacerama/internal/session"
	"github.com/gsharad007/spacerama/internal/sim"
	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/internal/transport"
	"github.com/gsharad007/spacerama/logging"
)

// ServerActor is the actor id a server session confirms for itself.
const ServerActor input.ActorID = 0

const shutdownTimeout = 5 * time.Second

var (
	// ErrSyncTestFailed is returned when a synctest run saw a checksum mismatch.
	ErrSyncTestFailed = errors.New("synctest: resimulation diverged")
	// ErrReplayMismatch is returned when a verified recording does not reproduce.
	ErrReplayMismatch = errors.New("replay: recording did not reproduce")
)

type Config struct {
	Options Options
	Logger  telemetry.Logger
	// Stdout receives the console and json sinks; it defaults to os.Stdout.
	Stdout io.Writer
	// Input overrides the scripted input of every local ship.
	Input func(actor input.ActorID) InputSource
}

// Run executes the selected mode until it finishes or ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	opts := cfg.Options
	if opts.Mode == "" {
		opts.Mode = ModeHostServer
	}

	settings, err := config.Load(opts.ConfigDir)
	if err != nil {
		return err
	}
	if opts.ClientID != 0 {
		settings.Client.ClientID = opts.ClientID
	}
	obs, err := config.LoadObservability()
	if err != nil {
		return err
	}

	rt, err := newRuntime(settings, obs, logger, cfg.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.close(closeCtx)
	}()

	if opts.Verify != "" {
		return rt.verify(opts.Verify)
	}

	source := func(actor input.ActorID) InputSource {
		if cfg.Input != nil {
			return cfg.Input(actor)
		}
		return ScriptedInput(actor)
	}

	switch opts.Mode {
	case ModeHostServer:
		return rt.runHostServer(ctx, opts, source)
	case ModeServerAndClient:
		return rt.runServerAndClient(ctx, opts, source)
	case ModeServer:
		return rt.runServer(ctx, opts)
	case ModeClient:
		return rt.runRemote(ctx, opts, session.RoleClient, source)
	case ModeP2P:
		return rt.runRemote(ctx, opts, session.RolePeer, source)
	case ModeSyncTest:
		return rt.runSyncTest(ctx, opts, source)
	default:
		return fmt.Errorf("unknown mode %q", opts.Mode)
	}
}

func (rt *runtime) localActor() input.ActorID {
	return input.ActorID(rt.settings.Client.ClientID)
}

// condition wraps tr in a link conditioner when the settings ask for one.
func (rt *runtime) condition(tr transport.Transport, settings config.ConditionerSettings) transport.Transport {
	cfg := transport.ConditionerConfig{
		Latency: settings.Latency(),
		Jitter:  settings.Jitter(),
		Loss:    settings.PacketLoss,
		Seed:    settings.Seed,
	}
	if !cfg.Enabled() {
		return tr
	}
	rt.logf("link conditioner enabled: latency=%s jitter=%s loss=%.3f", cfg.Latency, cfg.Jitter, cfg.Loss)
	return transport.NewConditioner(tr, cfg, logging.SystemClock{}, rt.metrics)
}

// drive runs step once per fixed tick until ctx ends, step fails or limit
// ticks have run.
func (rt *runtime) drive(ctx context.Context, limit int, step func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runErr error
	ticks := 0
	loop := rt.loop(func(sim.LoopTickContext) {
		if runErr != nil || ctx.Err() != nil {
			return
		}
		if err := step(); err != nil {
			runErr = err
			cancel()
			return
		}
		ticks++
		if limit > 0 && ticks >= limit {
			cancel()
		}
	})
	loop.Run(ctx)
	return runErr
}

// runHostServer steps a server and a client session in one loop over the
// in-process channel.
func (rt *runtime) runHostServer(ctx context.Context, opts Options, source func(input.ActorID) InputSource) error {
	tuning := rt.tuning(opts)
	local := rt.localActor()
	actors := []input.ActorID{local}
	network := transport.NewMemoryNetwork()

	server, err := rt.host(tuning, session.RoleServer, ServerActor, actors,
		rt.condition(network.Endpoint(netsync.PeerFor(ServerActor)), rt.settings.Server.Conditioner), nil)
	if err != nil {
		return err
	}
	defer rt.finish(server, "shutdown")
	client, err := rt.host(tuning, session.RoleClient, local, actors,
		rt.condition(network.Endpoint(netsync.PeerFor(local)), rt.settings.Client.Conditioner), source(local))
	if err != nil {
		return err
	}
	defer rt.finish(client, "shutdown")

	return rt.drive(ctx, opts.Ticks, func() error {
		if err := rt.step(client); err != nil {
			return err
		}
		return rt.step(server)
	})
}

// runServerAndClient runs the same pair as runHostServer on two loops.
func (rt *runtime) runServerAndClient(ctx context.Context, opts Options, source func(input.ActorID) InputSource) error {
	tuning := rt.tuning(opts)
	local := rt.localActor()
	actors := []input.ActorID{local}
	network := transport.NewMemoryNetwork()

	server, err := rt.host(tuning, session.RoleServer, ServerActor, actors,
		rt.condition(network.Endpoint(netsync.PeerFor(ServerActor)), rt.settings.Server.Conditioner), nil)
	if err != nil {
		return err
	}
	defer rt.finish(server, "shutdown")
	client, err := rt.host(tuning, session.RoleClient, local, actors,
		rt.condition(network.Endpoint(netsync.PeerFor(local)), rt.settings.Client.Conditioner), source(local))
	if err != nil {
		return err
	}
	defer rt.finish(client, "shutdown")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, h := range []*hosted{server, client} {
		wg.Add(1)
		go func(i int, h *hosted) {
			defer wg.Done()
			errs[i] = rt.drive(ctx, opts.Ticks, func() error { return rt.step(h) })
			if errs[i] != nil {
				cancel()
			}
		}(i, h)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// runServer hosts the relay and an authoritative server session on it.
func (rt *runtime) runServer(ctx context.Context, opts Options) error {
	relay := ws.NewHandler(ws.HandlerConfig{
		Logger:    rt.logger,
		Metrics:   rt.metrics,
		Publisher: rt.publisher(),
	})
	handler := servernet.NewHTTPHandler(relay, servernet.HTTPHandlerConfig{
		TickRate:         rt.settings.Shared.TickRate,
		Logger:           rt.logger,
		Metrics:          rt.counters,
		Sessions:         func() any { return rt.board.snapshot() },
		EnablePprofTrace: rt.obs.EnablePprofTrace,
	})

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(rt.settings.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	rt.logf("relay listening on %s", listener.Addr())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		relay.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.logf("server shutdown: %v", err)
		}
	}()

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", listener.Addr().(*net.TCPAddr).Port)
	tr, err := transport.DialWebSocket(ctx, transport.WebSocketConfig{
		URL:     url,
		Peer:    netsync.PeerFor(ServerActor),
		Logger:  rt.logger,
		Metrics: rt.metrics,
	})
	if err != nil {
		return err
	}
	tuning := rt.tuning(opts)
	server, err := rt.host(tuning, session.RoleServer, ServerActor, players(tuning.PlayerCount),
		rt.condition(tr, rt.settings.Server.Conditioner), nil)
	if err != nil {
		tr.Close()
		return err
	}
	defer rt.finish(server, "shutdown")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err, ok := <-serveErr:
			if ok && err != nil {
				rt.logf("http server failed: %v", err)
				cancel()
			}
		case <-runCtx.Done():
		}
	}()
	return rt.drive(runCtx, opts.Ticks, func() error { return rt.step(server) })
}

// runRemote joins a relay as a client of the server or as a peer.
func (rt *runtime) runRemote(ctx context.Context, opts Options, role session.Role, source func(input.ActorID) InputSource) error {
	local := rt.localActor()
	tr, err := transport.DialWebSocket(ctx, transport.WebSocketConfig{
		URL:     rt.settings.ServerURL(),
		Peer:    netsync.PeerFor(local),
		Logger:  rt.logger,
		Metrics: rt.metrics,
	})
	if err != nil {
		return err
	}
	tuning := rt.tuning(opts)
	h, err := rt.host(tuning, role, local, players(tuning.PlayerCount),
		rt.condition(tr, rt.settings.Client.Conditioner), source(local))
	if err != nil {
		tr.Close()
		return err
	}
	defer rt.finish(h, "shutdown")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-tr.Done():
			rt.logf("relay connection lost")
			cancel()
		case <-runCtx.Done():
		}
	}()
	return rt.drive(runCtx, opts.Ticks, func() error { return rt.step(h) })
}

// runSyncTest runs a single local session with forced rollbacks. A bounded
// run is stepped as fast as possible; an unbounded one follows the clock.
func (rt *runtime) runSyncTest(ctx context.Context, opts Options, source func(input.ActorID) InputSource) error {
	tuning := rt.tuning(opts)
	local := rt.localActor()
	h, err := rt.host(tuning, session.RolePeer, local, []input.ActorID{local}, nil, source(local))
	if err != nil {
		return err
	}
	defer rt.finish(h, "synctest")

	if opts.Ticks > 0 {
		for i := 0; i < opts.Ticks && ctx.Err() == nil; i++ {
			if err := rt.step(h); err != nil {
				return err
			}
		}
	} else if err := rt.drive(ctx, 0, func() error { return rt.step(h) }); err != nil {
		return err
	}

	if mismatches := h.session.Engine().Stats().SyncTestMismatches; mismatches > 0 {
		return fmt.Errorf("%w: %d mismatches over %d ticks", ErrSyncTestFailed, mismatches, h.ticks)
	}
	rt.logf("synctest passed: %d ticks, depth %d", h.ticks, tuning.SyncTestTicks)
	return nil
}

// verify replays a stored recording and compares every checksum.
func (rt *runtime) verify(id string) error {
	db := rt.db
	if db == nil {
		opened, err := replay.Open(rt.settings.Replay.Path)
		if err != nil {
			return err
		}
		defer replay.Close(opened)
		db = opened
	}
	report, err := replay.Verify(db, id, physics.DefaultShip())
	if err != nil {
		return err
	}
	if !report.OK() {
		first := report.Mismatches[0]
		return fmt.Errorf("%w: %s has %d mismatches, first at tick %d (expected %x, got %x)",
			ErrReplayMismatch, id, len(report.Mismatches), first.Tick, first.Expected, first.Actual)
	}
	rt.logf("recording %s verified: %d ticks", id, report.Ticks)
	return nil
}
