package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamAppendPendingAdvance(t *testing.T) {
	s := NewStream()
	s.Append([]byte("hello "))
	s.Append([]byte("world"))

	require.EqualValues(t, 11, s.RBytes())
	assert.Equal(t, "hello world", string(s.Pending()))
	assert.Equal(t, 11, s.PendingLen())

	s.Advance(6)
	assert.Equal(t, "world", string(s.Pending()))
	assert.Equal(t, 5, s.PendingLen())
}

func TestStreamEOFLatches(t *testing.T) {
	s := NewStream()
	assert.False(t, s.EOF())
	s.MarkEOF()
	assert.True(t, s.EOF())
	// Latches: a second call is a no-op, never reverts.
	s.MarkEOF()
	assert.True(t, s.EOF())
}

func TestStreamDrained(t *testing.T) {
	s := NewStream()
	s.Append([]byte("abc"))
	assert.False(t, s.Drained(), "not eof yet")
	s.MarkEOF()
	assert.False(t, s.Drained(), "eof but bytes still pending")
	s.Advance(3)
	assert.True(t, s.Drained())
}

func TestStreamNeverDropsUnconsumedBytes(t *testing.T) {
	s := NewStream()
	chunk := make([]byte, BufSize)
	// A stalled consumer (ibuf stuck at 0) means every appended byte is
	// still undelivered; Append must never truncate past ibuf even once
	// the buffer sails past hardCap, or an undelivered byte would be
	// lost outright.
	for i := 0; i < 4; i++ {
		s.Append(chunk)
	}
	require.EqualValues(t, 4*BufSize, s.RBytes())
	assert.Equal(t, 4*BufSize, len(s.Pending()), "no truncation may occur while nothing has been consumed")
}

func TestStreamTruncatesOnlyTheConsumedPrefix(t *testing.T) {
	s := NewStream()
	chunk := make([]byte, BufSize)
	// A consumer that fully keeps up: append then immediately advance,
	// so ibuf tracks len(buf) and truncation is free to reclaim space
	// once the buffer crosses hardCap.
	for i := 0; i < 6; i++ {
		s.Append(chunk)
		s.Advance(len(chunk))
	}
	require.EqualValues(t, 6*BufSize, s.RBytes())
	assert.LessOrEqual(t, len(s.buf), hardCap, "a fully-consumed buffer must not grow past hardCap forever")
	assert.GreaterOrEqual(t, s.ibuf, 0)
	assert.LessOrEqual(t, s.ibuf, len(s.buf))
}

func TestStreamRewind(t *testing.T) {
	s := NewStream()
	s.Append([]byte("0123456789"))
	s.Advance(10)

	// Peer confirms it only actually delivered the first 4 bytes
	// downstream; resume must rewind ibuf back to that point.
	err := s.Rewind(4)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(s.Pending()))
}

func TestStreamRewindExhausted(t *testing.T) {
	s := NewStream()
	s.Append([]byte("0123456789"))
	s.Advance(10)

	// Peer claims more delivered than was ever produced.
	err := s.Rewind(11)
	assert.ErrorIs(t, err, ErrWindowExhausted)

	// Peer's confirmed point predates what the truncated window still
	// holds: a fully-kept-up consumer lets the buffer truncate down to
	// hardCap repeatedly, so asking to rewind all the way back to byte 0
	// after enough traffic must fail (spec's scenario S6).
	chunk := make([]byte, BufSize)
	big := NewStream()
	for i := 0; i < 6; i++ {
		big.Append(chunk)
		big.Advance(len(chunk))
	}
	err = big.Rewind(0)
	assert.ErrorIs(t, err, ErrWindowExhausted)
}

func TestStreamWaitWritableBlocksUntilCloseOrDrain(t *testing.T) {
	s := NewStream()
	chunk := make([]byte, BufSize+1)
	s.Append(chunk) // over BufSize: a producer must now block

	done := make(chan struct{})
	go func() {
		s.WaitWritable(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitWritable returned before backpressure was relieved")
	case <-time.After(50 * time.Millisecond):
	}

	s.Advance(len(chunk))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitWritable never unblocked after Advance relieved backpressure")
	}
}

func TestStreamWaitWritableUnblocksOnClose(t *testing.T) {
	s := NewStream()
	s.Append(make([]byte, BufSize+1))

	done := make(chan struct{})
	go func() {
		s.WaitWritable(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitWritable returned before Close")
	case <-time.After(20 * time.Millisecond):
	}

	s.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitWritable never unblocked after Close")
	}
}

func TestStreamWaitReadable(t *testing.T) {
	s := NewStream()
	done := make(chan bool, 1)
	go func() {
		done <- s.WaitReadable(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("WaitReadable returned before there was anything to read")
	case <-time.After(20 * time.Millisecond):
	}

	s.Append([]byte("x"))
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitReadable never unblocked after Append")
	}
}

func TestStreamWaitWritableUnblocksOnCtxWithoutClosing(t *testing.T) {
	s := NewStream()
	s.Append(make([]byte, BufSize+1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.WaitWritable(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitWritable returned before ctx was cancelled")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitWritable never unblocked after ctx cancellation")
	}

	// The Stream itself must still be perfectly usable by a later
	// sub-pump: ctx cancellation must not have latched s.closed.
	assert.False(t, s.closed, "ctx cancellation must not close a Stream a caller may reuse")

	unblocked := make(chan bool, 1)
	go func() {
		unblocked <- s.WaitReadable(context.Background())
	}()
	s.Append([]byte("more"))
	select {
	case ok := <-unblocked:
		assert.True(t, ok, "a fresh ctx must still see new data after a prior sub-pump's ctx was cancelled")
	case <-time.After(time.Second):
		t.Fatal("stream stopped delivering new data after an unrelated ctx cancellation")
	}
}
