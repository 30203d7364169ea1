package relay

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/antonkrylov/sshim/internal/config"
)

const usage = `usage: sshim <transport> [transport-options...] <host> <command> [args...]

Internal invocations (never typed by a user directly):
  sshim --remote [--sockdir=<path>] [--try=<n>] [--timeout=<seconds>] [--session=<id>] <command> [args...]
`

// Main is the process entrypoint used by cmd/sshim. It dispatches to
// the role DetectRole selects, applies any ambient config.Config
// defaults that weren't overridden on the command line, and returns the
// process exit code (spec §6: L always exits 0 on a clean end).
func Main(argv []string) int {
	opts, err := DetectRole(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	if opts.Help {
		fmt.Fprint(os.Stderr, usage)
		return 0
	}

	applyConfigDefaults(opts)

	if opts.SessionID == "" && opts.Role == RoleLocal {
		opts.SessionID = NewSessionID()
	}
	logger := NewLogger(opts.Role, opts.SessionID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch opts.Role {
	case RoleLocal:
		l := &Local{Opts: opts, Log: logger}
		return l.Run(ctx)
	case RoleRemoteFirst, RoleRemoteResume:
		r := &RemoteProxy{Opts: opts, Log: logger}
		return r.Run(ctx)
	case RoleDaemon:
		d := &Daemon{Opts: opts, Log: logger}
		return d.Run(ctx)
	default:
		fmt.Fprintf(os.Stderr, "sshim: unknown role %v\n", opts.Role)
		return 2
	}
}

// applyConfigDefaults loads the optional ~/.sshim/config.yaml (path
// overridable via SSHIM_CONFIG) and fills in the Options fields it
// supplies a default for, but only while a field still holds its
// built-in default (Timeout, MaxAttempts) or is empty (RecordDir). A
// flag that sets a different value therefore wins; a flag that repeats
// the built-in default cannot be told apart from no flag at all.
func applyConfigDefaults(opts *Options) {
	path := os.Getenv("SSHIM_CONFIG")
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return
	}
	if opts.Timeout == defaultTimeoutSeconds {
		opts.Timeout = int(cfg.Timeout(defaultTimeoutSeconds).Seconds())
	}
	if opts.RecordDir == "" {
		opts.RecordDir = cfg.RecordDir
	}
	if opts.MaxAttempts == maxSpawnAttempts {
		opts.MaxAttempts = cfg.SpawnAttempts(maxSpawnAttempts)
	}
	if opts.Role == RoleLocal {
		if extra, ok := cfg.Transport(opts.Transport); ok {
			if err := ApplyTransportOverrides(opts, TransportOptions{
				ValueFlags: extra.ValueFlags,
				BoolFlags:  extra.BoolFlags,
			}); err != nil {
				fmt.Fprintf(os.Stderr, "sshim: config transport override for %q: %v\n", opts.Transport, err)
			}
		}
	}
}
