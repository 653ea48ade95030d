package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/irctrakz/mcastrec/pkg/core"
)

// Reader decodes frames sequentially from a log.
//
// Next treats a clean EOF and the first decode failure the same way: both
// end the stream. Err tells the two apart after the fact, so replay can keep
// going on a damaged tail while still reporting it.
type Reader struct {
	src    io.ReadSeeker
	closer io.Closer
	br     *bufio.Reader

	pending *Frame
	offset  int64
	done    bool
	err     error
}

// Open opens path for replay. It fails with core.ErrOpenFailed if the file
// cannot be opened and core.ErrEmptyLog if no frame can be decoded from it.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrOpenFailed, path, err)
	}
	r, err := newReader(f, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader reads frames from rs. Like Open it decodes the first frame
// immediately and fails with core.ErrEmptyLog if there is none.
func NewReader(rs io.ReadSeeker) (*Reader, error) {
	return newReader(rs, nil)
}

func newReader(rs io.ReadSeeker, closer io.Closer) (*Reader, error) {
	r := &Reader{src: rs, closer: closer, br: bufio.NewReaderSize(rs, 64*1024)}
	if err := r.prime(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) prime() error {
	f, ok := r.decode()
	if !ok {
		if r.err != nil {
			return fmt.Errorf("%w: %v", core.ErrEmptyLog, r.err)
		}
		return core.ErrEmptyLog
	}
	r.pending = &f
	return nil
}

// Next returns the next frame, or false at end of stream (clean EOF or
// decode failure).
func (r *Reader) Next() (Frame, bool) {
	if r.pending != nil {
		f := *r.pending
		r.pending = nil
		return f, true
	}
	return r.decode()
}

func (r *Reader) decode() (Frame, bool) {
	if r.done || r.br == nil {
		return Frame{}, false
	}
	f, err := Decode(r.br)
	if err != nil {
		r.done = true
		if !errors.Is(err, io.EOF) {
			r.err = err
		}
		return Frame{}, false
	}
	r.offset += int64(f.Size())
	return f, true
}

// Rewind repositions to the first frame.
func (r *Reader) Rewind() error {
	if r.src == nil {
		return os.ErrClosed
	}
	if _, err := r.src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}
	r.br.Reset(r.src)
	r.pending = nil
	r.offset = 0
	r.done = false
	r.err = nil
	return nil
}

// Err returns the decode error that ended the stream, or nil after a clean EOF.
func (r *Reader) Err() error { return r.err }

// Offset returns the byte offset just past the last frame returned by Next
// (or primed by Open).
func (r *Reader) Offset() int64 { return r.offset }

// Close releases the underlying file. Safe to call more than once.
func (r *Reader) Close() error {
	r.src = nil
	r.br = nil
	r.pending = nil
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}
