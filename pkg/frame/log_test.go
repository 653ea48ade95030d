package frame

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, path string, frames ...Frame) {
	t.Helper()
	w, err := OpenWriter(path)
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f.Timestamp, f.Payload))
	}
	require.NoError(t, w.Close())
}

func readAll(r *Reader) []Frame {
	var out []Frame
	for {
		f, ok := r.Next()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func TestWriterAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")

	writeLog(t, path, Frame{Timestamp: 1000, Payload: []byte("a")}, Frame{Timestamp: 1001, Payload: []byte("bb")})
	writeLog(t, path, Frame{Timestamp: 2000, Payload: []byte("ccc")})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got := readAll(r)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1000), got[0].Timestamp)
	assert.Equal(t, []byte("bb"), got[1].Payload)
	assert.Equal(t, int64(2000), got[2].Timestamp)
	assert.NoError(t, r.Err())
	assert.Equal(t, int64(3*HeaderSize+6), r.Offset())
}

func TestWriterRejectsBadPayloadWithoutWriting(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	assert.ErrorIs(t, w.WriteFrame(1, nil), ErrInvalidLength)
	assert.ErrorIs(t, w.WriteFrame(1, make([]byte, MaxPayload+1)), ErrPayloadTooLarge)
	assert.Zero(t, buf.Len())

	require.NoError(t, w.WriteFrame(1, []byte("x")))
	frames, n := w.Counts()
	assert.Equal(t, uint64(1), frames)
	assert.Equal(t, uint64(1), n)
}

func TestWriterCloseIdempotent(t *testing.T) {
	w, err := OpenWriter(filepath.Join(t.TempDir(), "x.bin"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteFrame(1, []byte("late")), os.ErrClosed)
}

func TestOpenWriterFailure(t *testing.T) {
	_, err := OpenWriter(filepath.Join(t.TempDir(), "missing-dir", "x.bin"))
	assert.ErrorIs(t, err, core.ErrOpenFailed)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.bin"))
	assert.ErrorIs(t, err, core.ErrOpenFailed)
}

func TestOpenEmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := Open(path)
	assert.ErrorIs(t, err, core.ErrEmptyLog)
}

func TestOpenCorruptFirstFrameIsEmptyLog(t *testing.T) {
	rec, err := Encode(1, []byte("payload"))
	require.NoError(t, err)

	_, err = NewReader(bytes.NewReader(rec[:HeaderSize+2]))
	assert.ErrorIs(t, err, core.ErrEmptyLog)
}

func TestReaderTruncatedTailEndsStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame(10, []byte("one")))
	require.NoError(t, w.WriteFrame(20, []byte("two")))
	require.NoError(t, w.WriteFrame(30, []byte("three")))
	data := buf.Bytes()[:buf.Len()-2]

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	got := readAll(r)
	require.Len(t, got, 2, "the partial third frame must not surface")
	assert.ErrorIs(t, r.Err(), ErrTruncated)
	assert.Equal(t, int64(2*HeaderSize+6), r.Offset())

	_, ok := r.Next()
	assert.False(t, ok, "stream stays ended")
}

func TestReaderRewind(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame(0, []byte("A")))
	require.NoError(t, w.WriteFrame(200, []byte("B")))

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	first := readAll(r)
	require.NoError(t, r.Rewind())
	second := readAll(r)

	assert.Equal(t, first, second)
	require.Len(t, second, 2)
	assert.Equal(t, []byte("A"), second[0].Payload)
}

func TestReaderClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.bin")
	writeLog(t, path, Frame{Timestamp: 1, Payload: []byte("z")})

	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, ok := r.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, r.Rewind(), os.ErrClosed)
}

func TestSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.bin")
	writeLog(t, path,
		Frame{Timestamp: 1000, Payload: []byte("abcd")},
		Frame{Timestamp: 1500, Payload: []byte("a")},
		Frame{Timestamp: 3000, Payload: []byte("abcdefgh")},
	)

	s, err := Summarize(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s.Frames)
	assert.Equal(t, uint64(13), s.Bytes)
	assert.Equal(t, 1, s.MinPayload)
	assert.Equal(t, 8, s.MaxPayload)
	assert.Equal(t, int64(1000), s.FirstTS)
	assert.Equal(t, int64(3000), s.LastTS)
	assert.Equal(t, "2s", s.Duration().String())
	assert.True(t, s.Clean())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = Summarize(path)
	require.NoError(t, err)
	assert.False(t, s.Clean())
	assert.Equal(t, int64(3*HeaderSize+13), s.ValidBytes)
}

func TestSummarizeEmpty(t *testing.T) {
	s, err := SummarizeReader(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, s.Frames)
	assert.Zero(t, s.Duration())
	assert.True(t, s.Clean())
}
