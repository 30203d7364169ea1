package relay

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, "hello"))
	require.NoError(t, WriteLine(&buf, "world"))

	line, err := ReadLine(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", line)

	line, err = ReadLine(&buf)
	require.NoError(t, err)
	assert.Equal(t, "world", line)
}

func TestReadLineStopsAtNewlineNotAtStreamData(t *testing.T) {
	// The line reader must not overconsume into the raw bytes that
	// immediately follow the newline on the same handle.
	r := bytes.NewReader([]byte("42,7\nBINARYFOLLOWS"))
	line, err := ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "42,7", line)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "BINARYFOLLOWS", string(rest))
}

func TestReadLineRejectsOverlongLine(t *testing.T) {
	r := bytes.NewReader(bytes.Repeat([]byte("x"), maxLineLen+10))
	_, err := ReadLine(r)
	assert.Error(t, err)
}

func TestReadLineEOFWithoutNewlineReturnsWhatItHas(t *testing.T) {
	r := bytes.NewReader([]byte("no-newline"))
	line, err := ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "no-newline", line)
}

func TestReadLineTimeoutOnDeadlinerConn(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	_, err := ReadLineTimeout(c1, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestReadLineTimeoutOnDeadlinerConnSucceeds(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() { _ = WriteLine(c2, "ok") }()

	line, err := ReadLineTimeout(c1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", line)
}

func TestReadLineTimeoutOnPlainReaderNoDeadline(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	_, err := ReadLineTimeout(pr, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestSplitByteCounts(t *testing.T) {
	n1, n2, err := SplitByteCounts("123,456")
	require.NoError(t, err)
	assert.EqualValues(t, 123, n1)
	assert.EqualValues(t, 456, n2)

	_, _, err = SplitByteCounts("nope")
	assert.Error(t, err)

	_, _, err = SplitByteCounts("12,")
	assert.Error(t, err)

	_, _, err = SplitByteCounts("1,2x")
	assert.Error(t, err)
}
