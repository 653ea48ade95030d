// Package frame implements the capture log format: a headerless, append-only
// sequence of records, each
//
//	int64  timestamp_ms  big-endian
//	uint32 length        big-endian, 1..65535
//	[length]byte payload
//
// EOF at a record boundary is the only terminator.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed size of the timestamp and length fields.
	HeaderSize = 12

	// MaxPayload is the largest payload a frame may carry.
	MaxPayload = 65535
)

var (
	// ErrPayloadTooLarge is returned when encoding more than MaxPayload bytes.
	ErrPayloadTooLarge = errors.New("frame: payload too large")

	// ErrInvalidLength is returned for a zero length, or a decoded length
	// above MaxPayload.
	ErrInvalidLength = errors.New("frame: invalid length")

	// ErrTruncated is returned when the stream ends inside a frame.
	ErrTruncated = errors.New("frame: truncated")
)

// Frame is one timestamped datagram.
type Frame struct {
	// Timestamp is milliseconds since the Unix epoch at capture time.
	Timestamp int64

	// Payload is the datagram, never inspected.
	Payload []byte
}

// Size returns the encoded size of f.
func (f Frame) Size() int { return HeaderSize + len(f.Payload) }

func checkLength(n int) error {
	if n == 0 {
		return ErrInvalidLength
	}
	if n > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	return nil
}

// Encode returns the encoded frame for payload stamped with ts.
func Encode(ts int64, payload []byte) ([]byte, error) {
	return AppendFrame(nil, ts, payload)
}

// AppendFrame appends the encoded frame to dst and returns the extended slice.
// dst is returned unchanged on error.
func AppendFrame(dst []byte, ts int64, payload []byte) ([]byte, error) {
	if err := checkLength(len(payload)); err != nil {
		return dst, err
	}
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(ts))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// Decode reads one frame from r. It returns io.EOF only when r is exhausted
// exactly at a frame boundary; a partial header or payload is ErrTruncated.
func Decode(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Frame{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Frame{}, fmt.Errorf("%w: header", ErrTruncated)
		}
		return Frame{}, err
	}

	ts := int64(binary.BigEndian.Uint64(hdr[0:8]))
	n := binary.BigEndian.Uint32(hdr[8:12])
	if n == 0 || n > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: payload wants %d bytes", ErrTruncated, n)
		}
		return Frame{}, err
	}
	return Frame{Timestamp: ts, Payload: payload}, nil
}
