package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// RemoteProxy is the R role: a transient, stateless byte relay between
// L (reached through its own standard streams, piped over the
// transport) and D (reached through the sockdir's two unix sockets).
// Grounded on the stateless bidirectional-copy shape of the retrieval
// pack's bridge helper, generalized from two streams to three and made
// epoch/finack aware per spec §4.2–§4.3.
//
// No field on RemoteProxy survives past one process lifetime — matching
// spec §2's "R is stateless beyond the current epoch and the active
// socket pair" — which is why, unlike Local and Daemon, it holds no
// durable Stream at all: its three Streams are plain forwarding buffers
// scoped to Run's lifetime.
type RemoteProxy struct {
	Opts *Options
	Log  *slog.Logger

	finackMu sync.Mutex
}

// Run implements both R bootstrap branches of spec §4.1 and then the
// forwarding loop of §4.3.
func (r *RemoteProxy) Run(ctx context.Context) int {
	if r.Opts.SockDir == "" {
		return r.runFirstIncarnation(ctx)
	}
	return r.runResume(ctx)
}

// runFirstIncarnation creates the sockdir, hands its path to L over R's
// own stdout, waits for the "OK" ack, then re-execs itself as a
// detached daemon process and exits — the Go-idiomatic stand-in for the
// source's fork()-then-exit-the-parent handoff (a real fork of a
// multi-threaded Go runtime is not safe, so the equivalent here is
// spawn-and-detach via exec.Command plus Setsid, grounded on the
// process-detach idiom golang.org/x/sys/unix exists to support).
func (r *RemoteProxy) runFirstIncarnation(ctx context.Context) int {
	dir, err := NewSockDir()
	if err != nil {
		r.Log.Error("create sockdir failed", "err", err)
		return 1
	}

	if err := WriteLine(os.Stdout, dir.Path); err != nil {
		r.Log.Warn("write sockdir to stdout failed", "err", err)
		dir.Remove()
		return 1
	}

	ack, err := ReadLineTimeout(os.Stdin, time.Duration(r.Opts.Timeout)*time.Second)
	if err != nil || ack != "OK" {
		r.Log.Warn("bootstrap ack not received, exiting for retry", "err", err, "ack", ack)
		dir.Remove()
		return 1
	}

	if err := r.spawnDetachedDaemon(dir.Path); err != nil {
		r.Log.Error("spawn daemon failed", "err", err)
		dir.Remove()
		return 1
	}

	return 0
}

func (r *RemoteProxy) spawnDetachedDaemon(sockDir string) error {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}

	args := []string{"--remote", "--daemon-internal", "--sockdir=" + sockDir,
		"--timeout=" + strconv.Itoa(r.Opts.Timeout)}
	if r.Opts.SessionID != "" {
		args = append(args, "--session="+r.Opts.SessionID)
	}
	if r.Opts.RecordDir != "" {
		args = append(args, "--record-dir="+r.Opts.RecordDir)
	}
	args = append(args, r.Opts.Command...)

	cmd := exec.Command(self, args...)
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("relay: open devnull: %w", err)
	}
	defer devnull.Close()
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("relay: start daemon: %w", err)
	}
	// The daemon is intentionally not Wait()ed on: it outlives this
	// process by design (spec §2: "detached from the transport so it
	// survives transport breaks").
	if err := cmd.Process.Release(); err != nil {
		r.Log.Warn("release daemon process handle failed", "err", err)
	}
	return nil
}

// runResume implements R reconnecting to an already-bootstrapped D
// (spec §4.1's third branch): wait for sock.2 to exist, connect to
// sock.2 then sock.1, announce this incarnation's epoch on both, then
// splice bytes between R's own stdio (toward L) and the two sockets
// (toward D) until the session ends.
func (r *RemoteProxy) runResume(ctx context.Context) int {
	deadline := time.Now().Add(time.Duration(r.Opts.Timeout) * time.Second)
	for !WaitForSock2(r.Opts.SockDir) {
		if time.Now().After(deadline) {
			r.Log.Warn("timed out waiting for sock.2")
			return 1
		}
		time.Sleep(20 * time.Millisecond)
	}

	sockDir := OpenSockDir(r.Opts.SockDir)

	conn2, err := net.Dial("unix", sockDir.Sock2())
	if err != nil {
		r.Log.Warn("dial sock.2 failed", "err", err)
		_ = WriteLine(os.Stdout, "X")
		return 1
	}
	defer conn2.Close()

	conn1, err := net.Dial("unix", sockDir.Sock1())
	if err != nil {
		r.Log.Warn("dial sock.1 failed", "err", err)
		_ = WriteLine(os.Stdout, "X")
		return 1
	}
	defer conn1.Close()

	epochLine := strconv.Itoa(r.Opts.Try)
	if err := WriteLine(conn1, epochLine); err != nil {
		r.Log.Warn("announce epoch on sock.1 failed", "err", err)
		return 1
	}
	if err := WriteLine(conn2, epochLine); err != nil {
		r.Log.Warn("announce epoch on sock.2 failed", "err", err)
		return 1
	}

	stream0 := NewStream() // L (stdin) -> D (conn1)
	stream1 := NewStream() // D (conn1) -> L (stdout)
	stream2 := NewStream() // D (conn2) -> L (stderr)

	finacked := make(chan struct{})
	pending := atomic.Int32{}
	pending.Store(2)
	onFinackSeen := func() {
		if pending.Add(-1) == 0 {
			close(finacked)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	abort := func() {
		cancel()
	}

	endpoints := []Endpoint{
		{Name: "r-stream0", Stream: stream0, Src: os.Stdin, Originating: false, OnBroken: abort, Dst: conn1},
		{Name: "r-stream1", Stream: stream1, Src: conn1, Originating: false, OnBroken: abort, Dst: os.Stdout,
			OnDrained: func() { r.sendFinack(conn2, 1); onFinackSeen() }},
		{Name: "r-stream2", Stream: stream2, Src: conn2, Originating: false, OnBroken: abort, Dst: os.Stderr,
			OnDrained: func() { r.sendFinack(conn2, 2); onFinackSeen() }},
	}

	go func() {
		select {
		case <-finacked:
			cancel()
		case <-runCtx.Done():
		}
	}()

	_ = Run(runCtx, endpoints)
	return 0
}

func (r *RemoteProxy) sendFinack(conn net.Conn, stream int) {
	r.finackMu.Lock()
	defer r.finackMu.Unlock()
	if err := WriteLine(conn, strconv.Itoa(stream)); err != nil {
		r.Log.Warn("send finack failed", "stream", stream, "err", err)
	}
}
