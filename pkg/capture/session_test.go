package capture

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/irctrakz/mcastrec/pkg/clock"
	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/frame"
	"github.com/irctrakz/mcastrec/pkg/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness wires a session to a mock receiver, a manual clock and a
// recording sink.
type harness struct {
	session *Session
	clock   *clock.Manual
	sink    *core.RecordingSink

	mu        sync.Mutex
	receivers []*socket.MockReceiver
	startErr  error
}

func newHarness(t *testing.T, extra ...Option) *harness {
	t.Helper()
	h := &harness{
		clock: clock.NewManual(time.UnixMilli(1_000)),
		sink:  &core.RecordingSink{},
	}
	opts := []Option{
		WithClock(h.clock),
		WithSink(h.sink),
		WithReceiverFactory(func(p core.PacketProcessor) Receiver {
			m := socket.NewMockReceiver(p)
			h.mu.Lock()
			m.StartErr = h.startErr
			h.receivers = append(h.receivers, m)
			h.mu.Unlock()
			return m
		}),
	}
	h.session = NewSession(append(opts, extra...)...)
	return h
}

func (h *harness) receiver(t *testing.T) *socket.MockReceiver {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.receivers, "no receiver created")
	return h.receivers[len(h.receivers)-1]
}

func (h *harness) created() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.receivers)
}

func captureConfig(path string) core.CaptureConfig {
	return core.CaptureConfig{BindAddress: "224.0.0.1", Port: 62040, Path: path}
}

func readFrames(t *testing.T, path string) []frame.Frame {
	t.Helper()
	r, err := frame.Open(path)
	require.NoError(t, err)
	defer r.Close()
	var out []frame.Frame
	for {
		f, ok := r.Next()
		if !ok {
			break
		}
		out = append(out, f)
	}
	require.NoError(t, r.Err())
	return out
}

// fakeWriter records frames and fails the calls listed in failOn.
type fakeWriter struct {
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
	frames []frame.Frame
	closed bool
}

func (w *fakeWriter) WriteFrame(ts int64, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failOn[w.calls] {
		return errors.New("no space left on device")
	}
	w.frames = append(w.frames, frame.Frame{Timestamp: ts, Payload: append([]byte(nil), payload...)})
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestSession_RecordsFramesWithClockTimestamps(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "cap.bin")

	require.NoError(t, h.session.Start(captureConfig(path)))
	assert.True(t, h.session.Active())
	assert.Equal(t, "Listening on 224.0.0.1:62040", h.sink.Last())

	rcv := h.receiver(t)
	require.NoError(t, rcv.SimulatePacketReceived([]byte("a")))
	h.clock.Advance(250 * time.Millisecond)
	require.NoError(t, rcv.SimulatePacketReceived([]byte("bc")))

	assert.Equal(t, Stats{PacketCount: 2, ByteCount: 3}, h.session.Stats())
	assert.Equal(t, "Packets: 2 | Bytes: 3", h.sink.Last())
	assert.True(t, h.sink.Contains("Packets: 1 | Bytes: 1"))

	require.NoError(t, h.session.Stop())
	assert.Equal(t, StatusStopped, h.sink.Last())
	assert.False(t, rcv.Running())

	frames := readFrames(t, path)
	require.Len(t, frames, 2)
	assert.Equal(t, frame.Frame{Timestamp: 1000, Payload: []byte("a")}, frames[0])
	assert.Equal(t, frame.Frame{Timestamp: 1250, Payload: []byte("bc")}, frames[1])
}

func TestSession_ValidationAcquiresNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never.bin")

	tests := []struct {
		name   string
		cfg    core.CaptureConfig
		err    error
		status string
	}{
		{"port", core.CaptureConfig{BindAddress: "224.0.0.1", Port: 0, Path: path}, core.ErrInvalidPort, StatusInvalidPort},
		{"address", core.CaptureConfig{BindAddress: "224.0.0", Port: 62040, Path: path}, core.ErrInvalidAddress, StatusInvalidAddress},
		{"path", core.CaptureConfig{BindAddress: "224.0.0.1", Port: 62040}, core.ErrEmptyPath, StatusNoPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			err := h.session.Start(tt.cfg)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.status, h.sink.Last())
			assert.Zero(t, h.created())
			assert.False(t, h.session.Active())
		})
	}

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "log file must not be created")
}

func TestSession_OpenFailureStartsNoReceiver(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "missing-dir", "cap.bin")

	err := h.session.Start(captureConfig(path))
	assert.ErrorIs(t, err, core.ErrOpenFailed)
	assert.Equal(t, StatusOpenFailed, h.sink.Last())
	assert.Zero(t, h.created())
	assert.False(t, h.session.Active())
}

func TestSession_ReceiverFailureClosesLog(t *testing.T) {
	tests := []struct {
		err    error
		status string
	}{
		{core.ErrBindFailed, StatusBindFailed},
		{core.ErrJoinFailed, StatusJoinFailed},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			w := &fakeWriter{}
			h := newHarness(t, WithWriterOpener(func(string) (FrameWriter, error) { return w, nil }))
			h.startErr = tt.err

			err := h.session.Start(captureConfig("cap.bin"))
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.status, h.sink.Last())
			assert.True(t, w.closed, "log must be closed on failed start")
			assert.False(t, h.session.Active())

			// Nothing to stop; no Stopped line either.
			require.NoError(t, h.session.Stop())
			assert.Equal(t, tt.status, h.sink.Last())
		})
	}
}

func TestSession_WriteFailureKeepsCapturing(t *testing.T) {
	w := &fakeWriter{failOn: map[int]bool{2: true}}
	h := newHarness(t, WithWriterOpener(func(string) (FrameWriter, error) { return w, nil }))
	require.NoError(t, h.session.Start(captureConfig("cap.bin")))

	rcv := h.receiver(t)
	require.NoError(t, rcv.SimulatePacketReceived([]byte("one")))
	assert.Error(t, rcv.SimulatePacketReceived([]byte("two")))
	require.NoError(t, rcv.SimulatePacketReceived([]byte("three")))

	assert.True(t, h.session.Active())
	assert.Equal(t, Stats{PacketCount: 2, ByteCount: 8, WriteErrors: 1}, h.session.Stats())
	assert.Equal(t, "Packets: 2 | Bytes: 8", h.sink.Last())

	found := false
	for _, m := range h.sink.Messages() {
		if m == "Write failed: no space left on device" {
			found = true
		}
	}
	assert.True(t, found, "write failure must be reported")

	require.NoError(t, h.session.Stop())
	require.Len(t, w.frames, 2)
	assert.Equal(t, "three", string(w.frames[1].Payload))
}

func TestSession_EmptyDatagramIgnored(t *testing.T) {
	w := &fakeWriter{}
	h := newHarness(t, WithWriterOpener(func(string) (FrameWriter, error) { return w, nil }))
	require.NoError(t, h.session.Start(captureConfig("cap.bin")))
	defer h.session.Stop()

	require.NoError(t, h.receiver(t).SimulatePacketReceived(nil))
	assert.Zero(t, h.session.Stats())
	assert.Empty(t, w.frames)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Stop())
	assert.Empty(t, h.sink.Messages())

	require.NoError(t, h.session.Start(captureConfig(filepath.Join(t.TempDir(), "cap.bin"))))
	require.NoError(t, h.session.Stop())
	require.NoError(t, h.session.Stop())

	stopped := 0
	for _, m := range h.sink.Messages() {
		if m == StatusStopped {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped)
	starts, stops := h.receiver(t).Calls()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestSession_AlreadyActive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(captureConfig(filepath.Join(t.TempDir(), "cap.bin"))))
	defer h.session.Stop()

	err := h.session.Start(captureConfig(filepath.Join(t.TempDir(), "other.bin")))
	assert.ErrorIs(t, err, core.ErrAlreadyActive)
	assert.Equal(t, 1, h.created())
}

func TestSession_RestartResetsCountersAndAppends(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "cap.bin")

	require.NoError(t, h.session.Start(captureConfig(path)))
	require.NoError(t, h.receiver(t).SimulatePacketReceived([]byte("first")))
	require.NoError(t, h.session.Stop())
	assert.Equal(t, uint64(1), h.session.Stats().PacketCount, "stats survive Stop")

	require.NoError(t, h.session.Start(captureConfig(path)))
	assert.Zero(t, h.session.Stats())
	require.NoError(t, h.receiver(t).SimulatePacketReceived([]byte("second")))
	require.NoError(t, h.session.Stop())

	frames := readFrames(t, path)
	require.Len(t, frames, 2)
	assert.Equal(t, "first", string(frames[0].Payload))
	assert.Equal(t, "second", string(frames[1].Payload))
}

func TestSession_LoopbackCapture(t *testing.T) {
	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("cannot listen locally: %v", err)
	}
	port := probe.LocalAddr().(*net.UDPAddr).Port
	probe.Close()

	sockCfg := socket.DefaultConfig()
	sockCfg.ReadTimeout = 50 * time.Millisecond
	sink := &core.RecordingSink{}
	s := NewSession(WithSink(sink), WithSocketConfig(sockCfg))
	path := filepath.Join(t.TempDir(), "loop.bin")

	require.NoError(t, s.Start(core.CaptureConfig{BindAddress: "127.0.0.1", Port: port, Path: path}))

	client, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer client.Close()

	payloads := []string{"alpha", "beta", "gamma"}
	for _, p := range payloads {
		_, err := client.Write([]byte(p))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return s.Stats().PacketCount == 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Equal(t, uint64(14), s.Stats().ByteCount)

	frames := readFrames(t, path)
	require.Len(t, frames, 3)
	for i, p := range payloads {
		assert.Equal(t, p, string(frames[i].Payload))
		if i > 0 {
			assert.GreaterOrEqual(t, frames[i].Timestamp, frames[i-1].Timestamp)
		}
	}
}
