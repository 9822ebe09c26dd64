package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gsharad007/spacerama/internal/config"
	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/replay"
	"github.com/gsharad007/spacerama/internal/sim"
)

func TestParseArgsDefaults(t *testing.T) {
	opts, err := ParseArgs(nil, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}
	if opts.Mode != ModeHostServer {
		t.Fatalf("expected default mode %q, got %q", ModeHostServer, opts.Mode)
	}
	if opts.ConfigDir != "." {
		t.Fatalf("expected config dir '.', got %q", opts.ConfigDir)
	}
	if opts.SyncTest != 0 || opts.Ticks != 0 || opts.ClientID != 0 {
		t.Fatalf("expected zero optional flags, got %+v", opts)
	}
}

func TestParseArgsFlags(t *testing.T) {
	opts, err := ParseArgs([]string{"--mode", "p2p", "--client-id", "3", "--config-dir", "/tmp/cfg", "--ticks", "120"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}
	if opts.Mode != ModeP2P || opts.ClientID != 3 || opts.ConfigDir != "/tmp/cfg" || opts.Ticks != 120 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseArgsSyncTestDefaultsDepth(t *testing.T) {
	opts, err := ParseArgs([]string{"--mode=synctest"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}
	if opts.SyncTest != DefaultSyncTestTicks {
		t.Fatalf("expected synctest depth %d, got %d", DefaultSyncTestTicks, opts.SyncTest)
	}

	opts, err = ParseArgs([]string{"--mode=synctest", "--synctest=3"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs returned error: %v", err)
	}
	if opts.SyncTest != 3 {
		t.Fatalf("expected explicit synctest depth 3, got %d", opts.SyncTest)
	}
}

func TestParseArgsRejectsInvalidInput(t *testing.T) {
	cases := [][]string{
		{"--mode", "spectator"},
		{"--ticks", "-1"},
		{"--synctest", "-2"},
		{"--unknown"},
	}
	for _, args := range cases {
		if _, err := ParseArgs(args, io.Discard); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestScriptedInputStaysNormalized(t *testing.T) {
	one := ScriptedInput(1)
	two := ScriptedInput(2)
	differs := false
	for tick := sim.Tick(0); tick < 6*scriptPhase; tick++ {
		a := one.Sample(tick)
		b := two.Sample(tick)
		for _, axis := range []float32{a.Thrust, a.Roll, a.Pitch, a.Yaw, a.AutoBalance} {
			if axis < -1 || axis > 1 {
				t.Fatalf("expected normalized axis at tick %d, got %+v", tick, a)
			}
		}
		if a != b {
			differs = true
		}
	}
	if !differs {
		t.Fatalf("expected actors to follow different scripts")
	}
	if got := one.Sample(0); got != one.Sample(0) {
		t.Fatalf("expected scripted input to be deterministic")
	}
}

func quietEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LOG_SINKS", "memory")
	t.Setenv("ENABLE_PPROF_TRACE", "false")
	t.Setenv("OTEL_METRICS", "false")
}

func writeSettings(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, config.SettingsFile), []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}
}

func TestRunSyncTestPasses(t *testing.T) {
	quietEnv(t)

	err := Run(context.Background(), Config{
		Options: Options{Mode: ModeSyncTest, ConfigDir: t.TempDir(), SyncTest: 6, Ticks: 200},
		Stdout:  io.Discard,
	})
	if err != nil {
		t.Fatalf("expected synctest to pass, got %v", err)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	quietEnv(t)

	err := Run(context.Background(), Config{
		Options: Options{Mode: "spectator", ConfigDir: t.TempDir()},
		Stdout:  io.Discard,
	})
	if err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestRunRejectsInvalidTuning(t *testing.T) {
	quietEnv(t)
	dir := t.TempDir()
	writeSettings(t, dir, `{"client": {"maxPredictionTicks": 0}}`)

	err := Run(context.Background(), Config{
		Options: Options{Mode: ModeSyncTest, ConfigDir: dir, SyncTest: 2, Ticks: 10},
		Stdout:  io.Discard,
	})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRunHostServerRecordsVerifiableReplay(t *testing.T) {
	quietEnv(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "replays.db")
	writeSettings(t, dir, `{"replay": {"enabled": true, "path": "`+filepath.ToSlash(dbPath)+`"}}`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := Run(ctx, Config{
		Options: Options{Mode: ModeHostServer, ConfigDir: dir, Ticks: 40},
		Stdout:  io.Discard,
		Input: func(actor input.ActorID) InputSource {
			return InputSourceFunc(func(tick sim.Tick) input.ActionVector {
				if tick%10 < 5 {
					return input.ActionVector{Thrust: 1, Yaw: 0.25}
				}
				return input.ActionVector{}
			})
		},
	})
	if err != nil {
		t.Fatalf("host-server run failed: %v", err)
	}

	db, err := replay.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open replay db: %v", err)
	}
	recordings, err := replay.List(db)
	replay.Close(db)
	if err != nil {
		t.Fatalf("failed to list recordings: %v", err)
	}
	if len(recordings) != 2 {
		t.Fatalf("expected a server and a client recording, got %d", len(recordings))
	}

	for _, recording := range recordings {
		err := Run(context.Background(), Config{
			Options: Options{Mode: ModeHostServer, ConfigDir: dir, Verify: recording.ID},
			Stdout:  io.Discard,
		})
		if err != nil {
			t.Fatalf("expected %s recording %s to verify, got %v", recording.Mode, recording.ID, err)
		}
	}
}

func TestRunServerAndClientStopsAfterTicks(t *testing.T) {
	quietEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := Run(ctx, Config{
		Options: Options{Mode: ModeServerAndClient, ConfigDir: t.TempDir(), Ticks: 20},
		Stdout:  io.Discard,
	})
	if err != nil {
		t.Fatalf("server-and-client run failed: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("expected run to stop on its own before the deadline")
	}
}

func TestVerifyUnknownRecording(t *testing.T) {
	quietEnv(t)
	dir := t.TempDir()
	writeSettings(t, dir, `{"replay": {"path": "`+filepath.ToSlash(filepath.Join(dir, "replays.db"))+`"}}`)

	err := Run(context.Background(), Config{
		Options: Options{ConfigDir: dir, Verify: "missing"},
		Stdout:  io.Discard,
	})
	if !errors.Is(err, replay.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
