package app

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// Mode selects which sessions a process hosts.
type Mode string

const (
	// ModeHostServer runs a server and a client session in one loop over an
	// in-process channel.
	ModeHostServer Mode = "host-server"
	// ModeServerAndClient runs the same pair on two loops and goroutines.
	ModeServerAndClient Mode = "server-and-client"
	ModeServer          Mode = "server"
	ModeClient          Mode = "client"
	ModeP2P             Mode = "p2p"
	ModeSyncTest        Mode = "synctest"
)

// DefaultSyncTestTicks is the forced rollback depth used by the synctest
// mode when --synctest is not given.
const DefaultSyncTestTicks = 8

var modes = []Mode{ModeHostServer, ModeServerAndClient, ModeServer, ModeClient, ModeP2P, ModeSyncTest}

// Options are the parsed command line flags.
type Options struct {
	Mode      Mode
	ClientID  uint64
	ConfigDir string
	// SyncTest forces a rollback of that many ticks after every advance.
	SyncTest int
	// Ticks stops the run after that many ticks; zero runs until interrupted.
	Ticks int
	// Verify names a stored recording to replay instead of running a session.
	Verify string
}

// ParseArgs parses the command line (without the program name).
func ParseArgs(args []string, output io.Writer) (Options, error) {
	fs := pflag.NewFlagSet("spacerama", pflag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	var opts Options
	var mode string
	fs.StringVar(&mode, "mode", string(ModeHostServer), "host-server, server-and-client, server, client, p2p or synctest")
	fs.Uint64Var(&opts.ClientID, "client-id", 0, "local client id (defaults to the settings file)")
	fs.StringVar(&opts.ConfigDir, "config-dir", ".", "directory holding spacerama.settings.json")
	fs.IntVar(&opts.SyncTest, "synctest", 0, "force a rollback of N ticks after every tick and compare checksums")
	fs.IntVar(&opts.Ticks, "ticks", 0, "stop after N ticks (0 runs until interrupted)")
	fs.StringVar(&opts.Verify, "verify", "", "replay the recording with this id and compare checksums")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	opts.Mode = Mode(mode)
	if !validMode(opts.Mode) {
		return Options{}, fmt.Errorf("unknown mode %q", mode)
	}
	if opts.SyncTest < 0 {
		return Options{}, fmt.Errorf("--synctest must not be negative, got %d", opts.SyncTest)
	}
	if opts.Ticks < 0 {
		return Options{}, fmt.Errorf("--ticks must not be negative, got %d", opts.Ticks)
	}
	if opts.Mode == ModeSyncTest && opts.SyncTest == 0 {
		opts.SyncTest = DefaultSyncTestTicks
	}
	return opts, nil
}

func validMode(mode Mode) bool {
	for _, candidate := range modes {
		if candidate == mode {
			return true
		}
	}
	return false
}
