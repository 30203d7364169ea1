package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"syscall"
	"time"
)

// readChunk is the maximum size of a single producer-side read (spec
// §4.3 step 2: "read up to 8 KiB").
const readChunk = 8192

// readPollInterval bounds how long a reader goroutine's Read call is
// allowed to sit idle when Src supports a read deadline (the same
// deadliner idiom wire.go's ReadLineTimeout uses for the handshake
// reads, applied here to the data-forwarding path too). Without this a
// reader already parked inside Read when ctx is cancelled — a live
// interactive stdin with nothing left to send, or a still-open
// transport pipe waiting on its peer — would never notice and Run
// would block forever waiting for it to return.
const readPollInterval = 200 * time.Millisecond

// writeChunk is the maximum size of a single non-flush write (spec §4.3
// step 4: "write up to 8 KiB... or unlimited on a flush pass"). The
// writer caps each write at writeChunk bytes until the stream's eof has
// latched; from then on it writes everything Pending() returns in one
// call, which takes the place of the poll loop's flush pass in this
// goroutine-pair design.
const writeChunk = 8192

// Endpoint wires one Stream to its producer and consumer handles for one
// direction of one role. This is the generic shape shared by L, R, and D
// — each role just describes its handles differently (spec §4.3).
//
// This is the goroutine-pair replacement for the source's single-
// threaded poll(2) loop that spec.md §9 itself flags as a wart: one
// reader goroutine per Endpoint with a Src, one writer goroutine per
// Endpoint with a Dst, coordinated only through the Stream's mutex and
// condition variables. Grounded on the teacher's StreamPTY read/flush
// loop (internal/remote/pty.go) and the paired-goroutine bidirectional
// copy in the retrieval pack's bridge helper, generalized from two
// streams to three and made epoch/finack aware.
type Endpoint struct {
	Name   string
	Stream *Stream

	// Src is read from and appended to Stream. Nil means this endpoint
	// has no producer side (e.g. D's d-stream0, whose bytes are appended
	// by the per-connection pump in serveDataConn).
	Src io.Reader

	// Originating tells the reader goroutine what a zero-length read
	// means (spec §4.3 step 3): true for a stream's true producer (the
	// app on stream 0 at L, the user command on streams 1/2 at D) —
	// EOF there means "append the marker and latch eof[i]". False means
	// Src is a mid-stream relay handle (a transport pipe, a unix
	// socket) whose EOF means the link broke and OnBroken should fire so
	// the caller can trigger reconnect, not stream completion.
	Originating bool

	// Dst is written to from Stream's pending bytes. Nil means this
	// endpoint has no consumer side.
	Dst io.Writer

	// StripMarker is true when Dst is a user-facing sink that must
	// never see the in-band EOF marker (L writing streams 1/2 to the
	// app; D writing stream 0 to the command).
	StripMarker bool

	// OnBroken is invoked once, from the reader goroutine, when Src
	// returns an error or (for a non-originating endpoint) a
	// zero-length read — signaling the mid-stream break of spec §4.3
	// step 3/step 5's recovery path.
	OnBroken func()

	// OnWriteBroken is invoked once, from the writer goroutine, when a
	// write to Dst fails with any error, broken pipe included (spec §4.3
	// step 5).
	OnWriteBroken func()

	// OnDrained is invoked once the writer goroutine observes
	// Stream.Drained() (eof latched and ibuf caught up to len(buf)),
	// implementing the finack/close-stdin behavior of spec §4.3 step 6.
	OnDrained func()
}

// Run starts a reader and/or writer goroutine per Endpoint and blocks
// until ctx is cancelled or every one of those goroutines has returned:
// a writer returns once its stream is drained (eof latched and fully
// written, spec §4.3 step 8), a reader once Src reports EOF or an error.
//
// On ctx cancellation Run only Broadcasts each endpoint's Stream, never
// Closes it: a Stream handed to Run may be a durable one a caller
// reuses across many Run calls (a respawn at L, a reconnect at D), and
// Stream.Close is a permanent one-way latch — closing it here would
// leave the next Run call's writer seeing a dead Stream the moment its
// backlog drains, silently dropping everything appended after that.
// Broadcast only wakes a goroutine parked in WaitReadable/WaitWritable,
// though — it does nothing for a reader already inside a blocking
// Src.Read. runReader itself is what makes that case interruptible, by
// polling Src with a short read deadline whenever Src supports one.
func Run(ctx context.Context, endpoints []Endpoint) error {
	var wg sync.WaitGroup
	var onceMu sync.Mutex
	fired := make(map[int]bool, len(endpoints)*2)

	for idx, ep := range endpoints {
		ep := ep
		idx := idx
		if ep.Src != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runReader(ctx, ep, &onceMu, fired, idx*2)
			}()
		}
		if ep.Dst != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runWriter(ctx, ep, &onceMu, fired, idx*2+1)
			}()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		for _, ep := range endpoints {
			ep.Stream.Broadcast()
		}
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}

func fireOnce(mu *sync.Mutex, fired map[int]bool, key int, fn func()) {
	if key < 0 {
		return
	}
	mu.Lock()
	already := fired[key]
	if !already {
		fired[key] = true
	}
	mu.Unlock()
	if !already && fn != nil {
		fn()
	}
}

func runReader(ctx context.Context, ep Endpoint, mu *sync.Mutex, fired map[int]bool, key int) {
	buf := make([]byte, readChunk)
	dl, pollable := ep.Src.(deadliner)
	for {
		ep.Stream.WaitWritable(ctx)
		if ctx.Err() != nil {
			return
		}
		if pollable {
			if err := dl.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
				// Src doesn't actually support deadlines despite the type
				// assertion (a regular file behind *os.File, say) — fall
				// back to a plain blocking read for the rest of this
				// endpoint's life.
				pollable = false
			}
		}
		n, err := ep.Src.Read(buf)
		if n > 0 {
			ep.Stream.Append(buf[:n])
		}
		if err != nil {
			if pollable && isTimeout(err) {
				continue
			}
			if err == io.EOF {
				if ep.Originating {
					// Append's own marker detection latches eof once this
					// lands in buf (spec §4.3 step 2); no separate MarkEOF
					// call needed.
					ep.Stream.Append([]byte(Marker))
				} else {
					fireOnce(mu, fired, key, ep.OnBroken)
				}
			} else {
				fireOnce(mu, fired, key, ep.OnBroken)
			}
			return
		}
	}
}

func runWriter(ctx context.Context, ep Endpoint, mu *sync.Mutex, fired map[int]bool, key int) {
	for {
		if ctx.Err() != nil {
			return
		}
		readable := ep.Stream.WaitReadable(ctx)
		if !readable {
			return
		}
		pending := ep.Stream.Pending()
		if len(pending) == 0 {
			if ep.Stream.Drained() {
				fireOnce(mu, fired, key, ep.OnDrained)
				return
			}
			continue
		}

		n := len(pending)
		if n > writeChunk && !ep.Stream.EOF() {
			n = writeChunk
		}
		chunk := pending[:n]

		writeLen := n
		if ep.StripMarker && ep.Stream.EOF() && HasSuffix(pending[:n]) {
			writeLen = TrimTrailing(pending, n)
		}

		if writeLen > 0 {
			if _, err := ep.Dst.Write(chunk[:writeLen]); err != nil {
				fireOnce(mu, fired, key, ep.OnWriteBroken)
				return
			}
		}
		ep.Stream.Advance(n)

		if ep.Stream.Drained() {
			fireOnce(mu, fired, key, ep.OnDrained)
			return
		}
	}
}

// IsBrokenPipe reports whether err is the broken-pipe error kind
// referenced by spec §4.3 step 5 and §9's note on replacing the
// source's signal-handler flag with a direct error inspection.
func IsBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}
