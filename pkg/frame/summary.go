package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/irctrakz/mcastrec/pkg/core"
)

// Summary describes the contents of a log.
type Summary struct {
	Frames     uint64
	Bytes      uint64
	FirstTS    int64
	LastTS     int64
	MinPayload int
	MaxPayload int

	// ValidBytes is the offset of the end of the last decodable frame.
	ValidBytes int64

	// TailErr is the decode error that stopped the scan, nil for a clean EOF.
	TailErr error
}

// Duration is the span between the first and last frame timestamps.
func (s Summary) Duration() time.Duration {
	if s.Frames < 2 {
		return 0
	}
	return time.Duration(s.LastTS-s.FirstTS) * time.Millisecond
}

// Clean reports whether the log ended exactly at a frame boundary.
func (s Summary) Clean() bool { return s.TailErr == nil }

// Summarize scans the whole log at path. An empty file yields a zero Summary.
func Summarize(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %s: %v", core.ErrOpenFailed, path, err)
	}
	defer f.Close()
	return SummarizeReader(f)
}

// SummarizeReader scans frames from r until EOF or the first decode failure.
func SummarizeReader(r io.Reader) (Summary, error) {
	var s Summary
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		f, err := Decode(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return s, nil
			}
			if errors.Is(err, ErrTruncated) || errors.Is(err, ErrInvalidLength) {
				s.TailErr = err
				return s, nil
			}
			return s, err
		}
		n := len(f.Payload)
		if s.Frames == 0 {
			s.FirstTS = f.Timestamp
			s.MinPayload = n
			s.MaxPayload = n
		}
		if n < s.MinPayload {
			s.MinPayload = n
		}
		if n > s.MaxPayload {
			s.MaxPayload = n
		}
		s.LastTS = f.Timestamp
		s.Frames++
		s.Bytes += uint64(n)
		s.ValidBytes += int64(f.Size())
	}
}
