package relay

import (
	"context"
	"sync"
)

// BufSize is the per-stream backpressure threshold and truncation unit
// (spec §3): 1024 * 8192 = 8 MiB.
const BufSize = 1024 * 8192

// hardCap is the point at which a replay buffer is truncated: once it
// reaches 3*BufSize, the oldest BufSize bytes are dropped.
const hardCap = 3 * BufSize

// Stream holds the per-stream replay state described in spec §3: the
// total bytes ever read from the producer (RBytes), the bounded replay
// ring (buf), the write cursor into it (ibuf), and the latched
// end-of-stream flag (eof). It is grounded on the offset/ack bookkeeping
// in the teacher's shell session state (lastAckBy/StartOffset/AckOffset),
// reworked here from a durable on-disk log into an in-memory bounded
// ring guarded by a mutex and a pair of condition variables.
//
// The zero value is not usable; construct with NewStream.
type Stream struct {
	mu   sync.Mutex
	rc   *sync.Cond // signaled when buf grows or eof is set (wakes writers)
	wc   *sync.Cond // signaled when ibuf advances or eof is set (wakes backpressured readers)

	rbytes uint64
	buf    []byte
	ibuf   int
	eof    bool

	// closed short-circuits WaitReadable/WaitWritable once the owning
	// role has torn the stream down for good (Close, called from
	// Local.forward's final return and Daemon.teardown) so blocked
	// goroutines don't wait forever.
	closed bool
}

// NewStream returns an empty Stream ready for use.
func NewStream() *Stream {
	s := &Stream{}
	s.rc = sync.NewCond(&s.mu)
	s.wc = sync.NewCond(&s.mu)
	return s
}

// RBytes returns the total number of bytes ever read for this stream.
func (s *Stream) RBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rbytes
}

// Append adds p to the replay buffer and advances rbytes, applying the
// truncation policy of spec §4.3 step 7. If the buffer's new tail equals
// the EOF marker, eof latches right here (spec §4.3 step 2: "if the
// appended tail equals the EOF marker, set eof[i]") — this holds
// regardless of whether this hop is the marker's true origin or just a
// relay forwarding bytes an upstream hop already terminated, which is
// what lets a mid-stream relay (R's sockets, D's inbound connection)
// recognize an in-band EOF it did not itself synthesize.
func (s *Stream) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	s.buf = append(s.buf, p...)
	s.rbytes += uint64(len(p))
	if len(s.buf) >= hardCap {
		drop := BufSize
		// Never drop past ibuf; a caller that lets pending bytes exceed
		// hardCap has already violated backpressure, but clamp defensively
		// rather than corrupt the invariant 0 <= ibuf <= len(buf).
		if drop > s.ibuf {
			drop = s.ibuf
		}
		s.buf = s.buf[drop:]
		s.ibuf -= drop
	}
	if !s.eof && len(s.buf) >= markerLen && string(s.buf[len(s.buf)-markerLen:]) == Marker {
		s.eof = true
	}
	s.rc.Broadcast()
	s.wc.Broadcast()
	s.mu.Unlock()
}

// MarkEOF latches eof. Once set it never reverts (spec §3 invariant).
func (s *Stream) MarkEOF() {
	s.mu.Lock()
	s.eof = true
	s.rc.Broadcast()
	s.wc.Broadcast()
	s.mu.Unlock()
}

// EOF reports whether eof has latched, either because Append saw the
// end-of-stream marker arrive or because MarkEOF was called.
func (s *Stream) EOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

// Pending returns the unwritten tail of the replay buffer, buf[ibuf:].
// The returned slice aliases internal storage and must not be retained
// past the next call to Advance or Append; callers copy what they need
// before releasing back to the pump loop.
func (s *Stream) Pending() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf[s.ibuf:]
}

// PendingLen returns len(buf) - ibuf without copying, for backpressure
// checks on the producer side (spec §4.3 step 2).
func (s *Stream) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf) - s.ibuf
}

// Advance moves ibuf forward by n bytes, the number of bytes the pump
// just confirmed writing to the consumer.
func (s *Stream) Advance(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.ibuf += n
	s.wc.Broadcast()
	s.mu.Unlock()
}

// Drained reports whether every byte in buf has been written and, if
// eof is set, whether the loop-exit condition of spec §4.3 step 8 holds
// for this stream in isolation (callers combine this with the finack
// and reap checks for D).
func (s *Stream) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof && s.ibuf == len(s.buf)
}

// Rewind implements the resume-point rewind of spec §4.2 step 4:
// ibuf <- len(buf) - (rbytes - confirmed), where confirmed is the number
// of bytes the peer has reported already delivered downstream. It
// returns ErrWindowExhausted when the computed cursor would be negative
// — the resume point has already been discarded from the bounded
// window, which is fatal for the session (spec §7, scenario S6).
func (s *Stream) Rewind(confirmed uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if confirmed > s.rbytes {
		// Peer claims to have seen more than we ever produced; treat as a
		// bookkeeping violation rather than silently going negative the
		// other direction.
		return ErrWindowExhausted
	}
	behind := s.rbytes - confirmed
	cursor := len(s.buf) - int(behind)
	if cursor < 0 {
		return ErrWindowExhausted
	}
	s.ibuf = cursor
	s.rc.Broadcast()
	s.wc.Broadcast()
	return nil
}

// Close permanently marks the stream torn down and wakes any goroutine
// blocked in WaitReadable/WaitWritable. This is a one-way, whole-of-life
// latch for a Stream nothing will ever pump again — a role's Run calls
// it on final exit, not on every respawn/reconnect attempt: a durable
// Stream that survives past one sub-pump (Local's stream0/1/2 across a
// respawn, Daemon's stream0/1 across an R reconnect) must never see this
// called from that sub-pump's own cancellation path, or the next
// sub-pump's writer would see a permanently closed Stream and return
// from WaitReadable/WaitWritable the instant its backlog drains, even
// though the durable Stream is about to receive more bytes.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.rc.Broadcast()
	s.wc.Broadcast()
	s.mu.Unlock()
}

// Broadcast wakes any goroutine blocked in WaitReadable/WaitWritable so
// it can re-check its wait condition, including a ctx passed to that
// call — used by a sub-pump's own cancellation to unstick its readers
// and writers without touching the Stream's permanent closed flag.
func (s *Stream) Broadcast() {
	s.mu.Lock()
	s.rc.Broadcast()
	s.wc.Broadcast()
	s.mu.Unlock()
}

// WaitReadable blocks until there is new data to write (buf grew, or
// eof was set), the stream was permanently closed, or ctx is done. It
// returns false if there is nothing left to drain, whether because the
// stream is closed/drained or because ctx ended the wait early — either
// way the caller's sub-pump is done with this Stream for now, but (in
// the ctx case) the Stream itself is left usable by the next sub-pump.
func (s *Stream) WaitReadable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf)-s.ibuf == 0 && !s.eof && !s.closed && ctx.Err() == nil {
		s.rc.Wait()
	}
	return (len(s.buf)-s.ibuf > 0 || (s.eof && s.ibuf < len(s.buf))) && ctx.Err() == nil
}

// WaitWritable blocks a producer-side reader once PendingLen exceeds
// BufSize (spec §4.3 step 2 backpressure) until the consumer advances
// ibuf enough to make room, the stream is closed, or ctx is done.
func (s *Stream) WaitWritable(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf)-s.ibuf > BufSize && !s.closed && ctx.Err() == nil {
		s.wc.Wait()
	}
}
