package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// Role identifies which of the three process roles a given invocation
// plays, per spec §4.1.
type Role int

const (
	// RoleLocal is the invoking application's proxy: the first
	// positional argument names a transport client and --remote is
	// absent.
	RoleLocal Role = iota
	// RoleRemoteFirst is R's first incarnation: --remote is present and
	// --sockdir is not, so this process still has to bootstrap D.
	RoleRemoteFirst
	// RoleRemoteResume is R reconnecting to an already-bootstrapped D:
	// both --remote and --sockdir are present.
	RoleRemoteResume
	// RoleDaemon is selected by --remote plus --daemon-internal, which
	// only RoleRemoteFirst's detached self-re-exec passes.
	RoleDaemon
)

func (r Role) String() string {
	switch r {
	case RoleLocal:
		return "local"
	case RoleRemoteFirst:
		return "remote-first"
	case RoleRemoteResume:
		return "remote-resume"
	case RoleDaemon:
		return "daemon"
	default:
		return "unknown"
	}
}

// Options is the parsed form of the argument vector, shared by all
// three roles. Not every field is meaningful for every role.
type Options struct {
	Role Role

	// Transport, TransportArgs and Host are set only for RoleLocal: the
	// transport client name, its own options, and the resolved host.
	// Command, the user's remote command, is set for every role.
	Transport     string
	TransportArgs []string
	Host          string
	Command       []string

	// Set for RoleRemoteFirst/RoleRemoteResume/RoleDaemon.
	Try         int
	SockDir     string
	Timeout     int // seconds, default 10 per spec §4.1/§4.2
	SessionID   string
	RecordDir   string
	MaxAttempts int // spawn retry ceiling, default 5 per spec §4.4

	Help bool

	remoteSeen         bool
	daemonInternalSeen bool
	rawTransportArgv   []string // positional[1:], kept for ApplyTransportOverrides
}

const defaultTimeoutSeconds = 10

// DetectRole implements the three branches of spec §4.1: a transport
// name with no --remote is L; --remote alone is R's first incarnation;
// --remote plus --sockdir is R resuming. It also recognizes -h/--help
// ahead of role detection so the shim can print usage regardless of
// invocation shape.
func DetectRole(argv []string) (*Options, error) {
	opts := &Options{Timeout: defaultTimeoutSeconds, MaxAttempts: maxSpawnAttempts}

	var positional []string
	i := 0
	for i < len(argv) {
		a := argv[i]
		switch {
		case a == "-h" || a == "--help":
			opts.Help = true
			i++
		case a == "--remote":
			opts.remoteSeen = true
			i++
		case a == "--daemon-internal":
			opts.daemonInternalSeen = true
			i++
		case a == "--":
			i++
			positional = append(positional, argv[i:]...)
			i = len(argv)
		case strings.HasPrefix(a, "--try="):
			v, err := strconv.Atoi(strings.TrimPrefix(a, "--try="))
			if err != nil {
				return nil, fmt.Errorf("relay: bad --try value: %w", err)
			}
			opts.Try = v
			i++
		case strings.HasPrefix(a, "--sockdir="):
			opts.SockDir = strings.TrimPrefix(a, "--sockdir=")
			i++
		case strings.HasPrefix(a, "--timeout="):
			v, err := strconv.Atoi(strings.TrimPrefix(a, "--timeout="))
			if err != nil {
				return nil, fmt.Errorf("relay: bad --timeout value: %w", err)
			}
			opts.Timeout = v
			i++
		case strings.HasPrefix(a, "--session="):
			opts.SessionID = strings.TrimPrefix(a, "--session=")
			i++
		case strings.HasPrefix(a, "--record-dir="):
			opts.RecordDir = strings.TrimPrefix(a, "--record-dir=")
			i++
		default:
			positional = append(positional, a)
			i++
		}
	}

	if opts.Help {
		return opts, nil
	}

	if opts.remoteSeen {
		switch {
		case opts.daemonInternalSeen:
			// Reached only via the self-reexec in RemoteProxy's bootstrap
			// fork/detach handoff (spec §4.1); never a direct user
			// invocation, but still routed through the same argv parser
			// so the daemon inherits --sockdir/--timeout/--record-dir
			// uniformly with the other roles.
			opts.Role = RoleDaemon
		case opts.SockDir != "":
			opts.Role = RoleRemoteResume
		default:
			opts.Role = RoleRemoteFirst
		}
		opts.Command = positional
		return opts, nil
	}

	if len(positional) == 0 {
		return nil, fmt.Errorf("relay: missing transport client name")
	}
	opts.Role = RoleLocal
	opts.Transport = positional[0]
	opts.rawTransportArgv = positional[1:]
	transportArgs, host, command, err := SplitTransportArgs(positional[1:], TransportOptions{})
	if err != nil {
		return nil, err
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("relay: missing remote command")
	}
	opts.TransportArgs = transportArgs
	opts.Host = host
	opts.Command = command
	return opts, nil
}
