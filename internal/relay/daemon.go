package relay

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Daemon is the D role: the only long-lived process on the remote side.
// It owns the sockdir, both listeners, the user command, and the
// durable replay buffers for streams 1 and 2 (spec's §4.2 mechanics —
// see SPEC_FULL.md's "Resolved ambiguities"). Grounded on the session
// bookkeeping in internal/remote/pty.go (sync.Once-guarded teardown,
// cleanup deferred to process exit) and the accept-loop shape of
// internal/remote/shell.go, replaced with the epoch/eviction protocol
// of spec §4.2 and the sockdir lifecycle of spec §3.
type Daemon struct {
	Opts *Options
	Log  *slog.Logger

	dir  *SockDir
	cmd  *exec.Cmd
	once sync.Once

	stream0 *Stream // command's stdin, tally only
	stream1 *Stream // command's stdout, durable replay
	stream2 *Stream // command's stderr, durable replay

	mu            sync.Mutex
	currentEpoch  int
	activeConn1   net.Conn
	activeConn2   net.Conn
	finackSet     map[int]bool
	commandReaped bool
}

// Run implements D's half of spec §4.1 (accept loops) and §4.2 (epoch
// protocol), wiring the accepted connections into the forwarding engine
// against the user command's stdio, and exits only once §4.3 step 8's
// D-specific condition holds: finack set empty and the command reaped.
func (d *Daemon) Run(ctx context.Context) int {
	// Sockets and any transcript files created below should not be
	// group/world accessible — a session's byte stream is as sensitive
	// as the transport that carries it.
	oldMask := unix.Umask(0o077)
	defer unix.Umask(oldMask)

	dir := OpenSockDir(d.Opts.SockDir)
	d.dir = dir

	sock1, sock2, err := dir.Listen()
	if err != nil {
		d.Log.Error("listen failed", "err", err)
		return 1
	}
	defer d.teardown()

	d.stream0 = NewStream()
	d.stream1 = NewStream()
	d.stream2 = NewStream()
	d.finackSet = map[int]bool{}

	cmd := exec.Command(d.Opts.Command[0], d.Opts.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		d.Log.Error("command stdin pipe failed", "err", err)
		return 1
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.Log.Error("command stdout pipe failed", "err", err)
		return 1
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		d.Log.Error("command stderr pipe failed", "err", err)
		return 1
	}
	if err := cmd.Start(); err != nil {
		d.Log.Error("command start failed", "err", err)
		return 1
	}
	d.cmd = cmd

	var stdoutSrc io.Reader = stdout
	var stderrSrc io.Reader = stderr
	if d.Opts.RecordDir != "" {
		tr1, err := OpenTranscript(d.Opts.RecordDir, "1")
		if err != nil {
			d.Log.Warn("open stdout transcript failed", "err", err)
		} else {
			defer tr1.Close()
			stdoutSrc = io.TeeReader(stdout, tr1)
		}
		tr2, err := OpenTranscript(d.Opts.RecordDir, "2")
		if err != nil {
			d.Log.Warn("open stderr transcript failed", "err", err)
		} else {
			defer tr2.Close()
			stderrSrc = io.TeeReader(stderr, tr2)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.acceptLoop(runCtx, sock1, streamRoleData)
	go d.acceptLoop(runCtx, sock2, streamRoleFinack)

	// Stream 0's sink (the command's stdin) and streams 1/2's sources
	// (the command's stdout/stderr) are fixed for the whole daemon
	// lifetime; only their sockdir-side peers churn across R
	// reconnects, so they're pumped independently of connection
	// handling in serveDataConn/serveFinackConn.
	endpoints := []Endpoint{
		{Name: "d-stream0", Stream: d.stream0, Dst: stdin, StripMarker: true,
			OnDrained: func() { stdin.Close() }},
		{Name: "d-stream1", Stream: d.stream1, Src: stdoutSrc, Originating: true},
		{Name: "d-stream2", Stream: d.stream2, Src: stderrSrc, Originating: true},
	}

	go d.reap(runCtx, cancel)

	pumpDone := make(chan struct{})
	go func() {
		_ = Run(runCtx, endpoints)
		close(pumpDone)
	}()

	<-runCtx.Done()
	<-pumpDone
	return 0
}

const (
	streamRoleData = iota
	streamRoleFinack
)

// acceptLoop accepts connections on one of D's two listeners and runs
// the epoch handshake of spec §4.2 for each, evicting any previously
// registered peer for the same socket role before wiring the new one
// into the forwarding engine.
func (d *Daemon) acceptLoop(ctx context.Context, l net.Listener, role int) {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go d.handleConn(ctx, conn, role)
	}
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn, role int) {
	line, err := ReadLineTimeout(conn, time.Duration(d.Opts.Timeout)*time.Second)
	if err != nil {
		conn.Close()
		return
	}
	epoch, err := strconv.Atoi(line)
	if err != nil {
		conn.Close()
		return
	}

	d.mu.Lock()
	if epoch < d.currentEpoch {
		d.mu.Unlock()
		conn.Close()
		return
	}
	d.currentEpoch = epoch
	switch role {
	case streamRoleData:
		if d.activeConn1 != nil {
			d.activeConn1.Close()
		}
		d.activeConn1 = conn
	case streamRoleFinack:
		if d.activeConn2 != nil {
			d.activeConn2.Close()
		}
		d.activeConn2 = conn
	}
	d.mu.Unlock()

	switch role {
	case streamRoleData:
		d.serveDataConn(ctx, conn)
	case streamRoleFinack:
		d.serveFinackConn(ctx, conn)
	}
}

// serveDataConn implements spec §4.2 step 3 (write rbytes[0], read
// n1,n2, rewind) then wires stream 0 (conn -> command stdin, already
// running independently in Run) and stream 1 (command stdout -> conn)
// through the pump for this connection's lifetime.
func (d *Daemon) serveDataConn(ctx context.Context, conn net.Conn) {
	if err := WriteLine(conn, strconv.FormatUint(d.stream0.RBytes(), 10)); err != nil {
		return
	}
	line, err := ReadLineTimeout(conn, time.Duration(d.Opts.Timeout)*time.Second)
	if err != nil {
		return
	}
	n1, n2, err := SplitByteCounts(line)
	if err != nil {
		d.Log.Warn("malformed byte-count line", "line", line)
		return
	}
	if err := d.stream1.Rewind(n1); err != nil {
		d.Log.Error("stream1 rewind failed, session unrecoverable", "err", err)
		return
	}
	if err := d.stream2.Rewind(n2); err != nil {
		d.Log.Error("stream2 rewind failed, session unrecoverable", "err", err)
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	brokenOnce := sync.OnceFunc(cancel)

	endpoints := []Endpoint{
		{Name: "d-conn-stream0-in", Stream: d.stream0, Src: conn, Originating: false, OnBroken: brokenOnce},
		{Name: "d-conn-stream1-out", Stream: d.stream1, Dst: conn},
	}
	_ = Run(connCtx, endpoints)
}

// serveFinackConn wires stream 2 (command stderr -> conn) and reads
// finack bytes flowing the other way, removing them from the finack
// set (spec §3, §4.3 step 6).
func (d *Daemon) serveFinackConn(ctx context.Context, conn net.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		for {
			line, err := ReadLineTimeout(conn, time.Hour)
			if err != nil {
				return
			}
			stream, err := strconv.Atoi(line)
			if err != nil || (stream != 1 && stream != 2) {
				continue // silently tolerated per spec §7
			}
			d.mu.Lock()
			delete(d.finackSet, stream)
			empty := len(d.finackSet) == 0
			reaped := d.commandReaped
			d.mu.Unlock()
			if empty && reaped {
				d.maybeExit()
			}
		}
	}()

	endpoints := []Endpoint{
		{Name: "d-conn-stream2-out", Stream: d.stream2, Dst: conn},
	}
	_ = Run(connCtx, endpoints)
}

// reap waits for the user command to exit and records the finack set
// D must clear before it may exit (spec §3's finack set, §4.3 step 8).
func (d *Daemon) reap(ctx context.Context, cancel context.CancelFunc) {
	d.mu.Lock()
	d.finackSet[1] = true
	d.finackSet[2] = true
	d.mu.Unlock()

	err := d.cmd.Wait()
	if err != nil {
		d.Log.Info("user command exited", "err", err)
	}
	d.mu.Lock()
	d.commandReaped = true
	empty := len(d.finackSet) == 0
	d.mu.Unlock()

	if empty {
		cancel()
	}
	// Otherwise wait for the last finack to arrive on sock.2; that path
	// calls maybeExit itself.
}

func (d *Daemon) maybeExit() {
	d.mu.Lock()
	ready := d.commandReaped && len(d.finackSet) == 0
	d.mu.Unlock()
	if ready {
		d.teardown()
		os.Exit(0)
	}
}

func (d *Daemon) teardown() {
	d.once.Do(func() {
		if d.dir != nil {
			d.dir.Remove()
		}
		// The daemon itself is exiting for good here, unlike a per-
		// connection sub-pump's cancellation (serveDataConn's connCtx),
		// which must never reach for Close on these same durable streams.
		if d.stream0 != nil {
			d.stream0.Close()
			d.stream1.Close()
			d.stream2.Close()
		}
	})
}
