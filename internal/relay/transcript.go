package relay

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Transcript records a copy of the user command's stdout/stderr for
// post-mortem debugging. D wraps the command's output pipes in an
// io.TeeReader, so the transcript sees each chunk as it is read from the
// command, before it is appended to its Stream. Write never reports an
// error to the TeeReader, so a failing transcript cannot stop or alter
// the forwarded byte stream. This supplements spec.md
// (which has no observability surface) the way the teacher's durable
// shell transcripts (internal/remote/shell.go) motivated it, but kept
// optional and off the critical path.
type Transcript struct {
	w   io.WriteCloser
	enc *zstd.Encoder
}

// OpenTranscript creates "<dir>/stream-<name>.zst" and returns a writer
// that compresses everything written to it. Used only by D when started
// with --record-dir.
func OpenTranscript(dir, name string) (*Transcript, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("relay: create record dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("stream-%s.zst", name)))
	if err != nil {
		return nil, fmt.Errorf("relay: create transcript: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("relay: create zstd encoder: %w", err)
	}
	return &Transcript{w: f, enc: enc}, nil
}

// Write implements io.Writer. A Transcript is safe to leave nil, so
// io.TeeReader(src, transcript) works even when --record-dir wasn't given
// and OpenTranscript returned (nil, nil).
func (t *Transcript) Write(p []byte) (int, error) {
	if t == nil {
		return len(p), nil
	}
	// Encoder errors are dropped: the transcript is diagnostic only.
	_, _ = t.enc.Write(p)
	return len(p), nil
}

// Close flushes and closes the underlying encoder and file.
func (t *Transcript) Close() error {
	if t == nil {
		return nil
	}
	if err := t.enc.Close(); err != nil {
		t.w.Close()
		return err
	}
	return t.w.Close()
}
