package frame

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/irctrakz/mcastrec/pkg/core"
)

// Writer appends frames to a log. Each frame goes out in a single Write so
// a failure is reported for the frame that caused it.
type Writer struct {
	mu   sync.Mutex
	w    io.Writer
	file *os.File
	buf  []byte
	size int64

	frames uint64
	bytes  uint64
}

// OpenWriter opens path for appending, creating it if needed. Existing frames
// are kept so a capture can resume into the same log.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrOpenFailed, path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", core.ErrOpenFailed, path, err)
	}
	return &Writer{w: f, file: f, size: st.Size(), buf: make([]byte, 0, HeaderSize+1500)}, nil
}

// NewWriter wraps an arbitrary writer. Close does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, HeaderSize+1500)}
}

// WriteFrame encodes and appends one frame. If the underlying file accepted
// only part of the frame, the partial record is truncated away so later
// frames stay readable.
func (w *Writer) WriteFrame(ts int64, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return os.ErrClosed
	}

	rec, err := AppendFrame(w.buf[:0], ts, payload)
	if err != nil {
		return err
	}
	w.buf = rec

	n, err := w.w.Write(rec)
	if err != nil {
		if n > 0 && w.file != nil {
			if terr := w.file.Truncate(w.size); terr != nil {
				return fmt.Errorf("write frame: %w (rollback failed: %v)", err, terr)
			}
		}
		return fmt.Errorf("write frame: %w", err)
	}
	w.size += int64(n)
	w.frames++
	w.bytes += uint64(len(payload))
	return nil
}

// Flush commits written frames to stable storage when backed by a file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close flushes and closes the log. Calling Close twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	w.w = nil
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	serr := f.Sync()
	if err := f.Close(); err != nil {
		return err
	}
	return serr
}

// Counts returns the number of frames and payload bytes written through w.
func (w *Writer) Counts() (frames, bytes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.bytes
}
