package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// maxSpawnAttempts is the retry ceiling of spec §4.4, overridable via
// config.Config.SpawnAttempts.
const maxSpawnAttempts = 5

// Local is the L role: the only process the invoking application talks
// to directly. It owns the durable stream-0 replay buffer, the tally
// counters for streams 1/2, the memoized insertion point for the
// re-spawned shim command, and the current epoch. Grounded on
// cmd/xrunner/ssh_proxy.go's child-process piping and
// cmd/xrunner/ssh_bootstrap.go's retry idiom, with xrunner's gRPC dial
// loop replaced by the raw pipe handshake of spec §4.2/§4.4.
type Local struct {
	Opts *Options
	Log  *slog.Logger

	selfPath string
	sockDir  string
	try      int

	stream0 *Stream // app stdin -> command, durable replay
	stream1 *Stream // command stdout -> app stdout, tally only
	stream2 *Stream // command stderr -> app stderr, tally only
}

// Run implements the full L lifecycle: spawn with increasing epoch
// (spec §4.4), the L-side mirror handshake (spec §4.2), then the
// generic forwarding engine against the app's inherited stdio. Exit
// status is always 0 on a clean end; non-zero only on the fatal paths
// of spec §7.
func (l *Local) Run(ctx context.Context) int {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	l.selfPath = self
	l.stream0 = NewStream()
	l.stream1 = NewStream()
	l.stream2 = NewStream()

	restore, err := makeStdinRaw()
	if err != nil {
		l.Log.Warn("raw stdin mode unavailable", "err", err)
	} else {
		defer restore()
	}

	return l.runLoop(ctx)
}

// runLoop is the spawn/respawn retry loop of spec §4.4. It assumes the
// replay buffers already exist (either freshly created by Run, or
// carried over from a previous forwarding session by a respawn
// triggered from forward), so a reconnect never loses buffered bytes.
func (l *Local) runLoop(ctx context.Context) int {
	maxAttempts := l.Opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = maxSpawnAttempts
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		l.try++
		child, stdin, stdout, stderr, err := l.spawnR()
		if err != nil {
			l.Log.Warn("spawn remote proxy failed", "attempt", attempt, "err", err)
			continue
		}

		fatal, err := l.handshake(stdin, stdout)
		if err != nil {
			if err == errBootstrapComplete {
				l.Log.Info("daemon bootstrapped, connecting for real", "sockdir", l.sockDir)
			} else {
				l.Log.Warn("handshake failed, respawning", "attempt", attempt, "err", err)
			}
			stdin.Close()
			stdout.Close()
			_ = child.Process.Kill()
			_ = child.Wait()
			if fatal {
				return 1
			}
			continue
		}

		return l.forward(ctx, child, stdin, stdout, stderr)
	}

	l.Log.Error("exhausted spawn attempts", "max", maxAttempts)
	return 1
}

// spawnR launches the transport client with the remote command
// replaced per spec §4.4: [transport, transportArgs..., host,
// shim-binary, --remote, --try=N, --sockdir=<path> (once known),
// user-command...].
func (l *Local) spawnR() (*exec.Cmd, io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	args := make([]string, 0, len(l.Opts.TransportArgs)+len(l.Opts.Command)+8)
	args = append(args, l.Opts.TransportArgs...)
	args = append(args, l.Opts.Host, l.selfPath, "--remote", "--try="+strconv.Itoa(l.try))
	if l.sockDir != "" {
		args = append(args, "--sockdir="+l.sockDir)
	}
	args = append(args, "--timeout="+strconv.Itoa(l.Opts.Timeout))
	if l.Opts.SessionID != "" {
		args = append(args, "--session="+l.Opts.SessionID)
	}
	args = append(args, l.Opts.Command...)

	cmd := exec.Command(l.Opts.Transport, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, nil, err
	}
	return cmd, stdin, stdout, stderr, nil
}

// handshake performs the L-side mirror of spec §4.2. The bool return
// reports whether a failure is fatal (D unreachable) rather than
// recoverable (timeout, worth another spawn attempt).
func (l *Local) handshake(stdin io.WriteCloser, stdout io.ReadCloser) (fatal bool, err error) {
	timeout := time.Duration(l.Opts.Timeout) * time.Second

	if l.sockDir == "" {
		sockDir, err := ReadLineTimeout(stdout, timeout)
		if err != nil {
			return false, fmt.Errorf("relay: read sockdir: %w", err)
		}
		l.sockDir = sockDir
		if err := WriteLine(stdin, "OK"); err != nil {
			return false, fmt.Errorf("relay: write OK: %w", err)
		}
		// The bootstrap incarnation of R exits right after this; L must
		// spawn again (now with --sockdir known) to get an incarnation
		// that actually forwards data (spec §4.1's fork/detach handoff).
		return false, errBootstrapComplete
	}

	if err := WriteLine(stdin, fmt.Sprintf("%d,%d", l.stream1.RBytes(), l.stream2.RBytes())); err != nil {
		return false, fmt.Errorf("relay: write byte-count line: %w", err)
	}

	reply, err := ReadLineTimeout(stdout, timeout)
	if err != nil {
		return false, fmt.Errorf("relay: read daemon reply: %w", err)
	}
	if reply == "X" {
		return true, ErrDaemonUnreachable
	}
	confirmed, err := strconv.ParseUint(reply, 10, 64)
	if err != nil {
		return false, fmt.Errorf("relay: malformed daemon reply %q: %w", reply, err)
	}
	if err := l.stream0.Rewind(confirmed); err != nil {
		return true, err
	}
	return false, nil
}

// forward wires the app's inherited stdio to the transport child's
// pipes through the generic pump for the rest of the session.
func (l *Local) forward(ctx context.Context, child *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.ReadCloser) int {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	respawn := make(chan struct{}, 1)
	trigger := func() {
		select {
		case respawn <- struct{}{}:
		default:
		}
		cancel()
	}

	// spec §4.3 step 5: a write failure has two distinct meanings for L.
	// Failing to write to the transport child's stdin means the transport
	// itself broke — that's the reconnect path, same as a broken read on
	// streams 1/2. Failing to write to the app's own stdout/stderr means
	// the app's consumer vanished, which L handles by synthesizing
	// stream-0 EOF (stop reading the app's input) rather than respawning.
	appGone := func() { l.stream0.MarkEOF() }

	endpoints := []Endpoint{
		{Name: "l-stream0", Stream: l.stream0, Src: os.Stdin, Originating: true, Dst: stdin,
			OnWriteBroken: trigger},
		{Name: "l-stream1", Stream: l.stream1, Src: stdout, Originating: false, OnBroken: trigger,
			Dst: os.Stdout, StripMarker: true, OnWriteBroken: appGone},
		{Name: "l-stream2", Stream: l.stream2, Src: stderr, Originating: false, OnBroken: trigger,
			Dst: os.Stderr, StripMarker: true, OnWriteBroken: appGone},
	}

	_ = Run(runCtx, endpoints)
	stdin.Close()
	_ = child.Wait()

	// spec §4.3 step 8 / §6: streams 1 and 2 both eof-latched and fully
	// written to the app is what "the session is over" actually means.
	// A read or write error can still fire trigger() while that happens
	// — the app's own stdout consumer going away right as the command
	// exits, say — so respawn being set is not on its own proof the
	// transport broke. Once both streams are genuinely drained this was
	// always a clean end, never a reconnect, no matter what else fired.
	if l.stream1.Drained() && l.stream2.Drained() {
		l.stream0.Close()
		l.stream1.Close()
		l.stream2.Close()
		return 0
	}

	select {
	case <-respawn:
		return l.runLoop(ctx)
	default:
	}

	// The session is ending for good, not respawning: unblock any
	// straggling goroutine and let the durable streams go — nothing will
	// ever pump them again.
	l.stream0.Close()
	l.stream1.Close()
	l.stream2.Close()
	return 0
}
