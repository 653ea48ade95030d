package socket

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered payloads for assertions.
type collector struct {
	mu   sync.Mutex
	pkts [][]byte
	ch   chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 64)}
}

func (c *collector) ProcessPacket(p core.Packet) error {
	c.mu.Lock()
	c.pkts = append(c.pkts, p.Data())
	c.mu.Unlock()
	c.ch <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for datagram %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.pkts))
	copy(out, c.pkts)
	return out
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("cannot listen locally: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	return cfg
}

func TestReceiver_DeliversInArrivalOrder(t *testing.T) {
	port := freeUDPPort(t)
	c := newCollector()
	r := NewReceiver(testConfig(), c)
	require.NoError(t, r.Start("127.0.0.1", port))
	defer r.Stop()

	client, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer client.Close()

	want := [][]byte{[]byte("one"), []byte("two"), {0x00, 0xff, 0x10}}
	for _, p := range want {
		_, err := client.Write(p)
		require.NoError(t, err)
	}

	got := c.wait(t, len(want))
	assert.Equal(t, want, got)

	m := r.Metrics()
	assert.Equal(t, uint64(3), m.PacketsReceived)
	assert.Equal(t, uint64(9), m.BytesReceived)
	assert.Zero(t, m.Errors)
}

func TestReceiver_ProcessorErrorsAreCounted(t *testing.T) {
	port := freeUDPPort(t)
	done := make(chan struct{}, 4)
	proc := core.PacketProcessorFunc(func(core.Packet) error {
		done <- struct{}{}
		return errors.New("disk full")
	})
	r := NewReceiver(testConfig(), proc)
	require.NoError(t, r.Start("127.0.0.1", port))
	defer r.Stop()

	client, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not delivered")
	}
	require.Eventually(t, func() bool { return r.Metrics().Errors == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, r.Running())
}

func TestReceiver_InvalidParameters(t *testing.T) {
	r := NewReceiver(testConfig(), newCollector())

	err := r.Start("not-an-ip", 62040)
	assert.ErrorIs(t, err, core.ErrInvalidAddress)

	err = r.Start("224.0.0.1", 0)
	assert.ErrorIs(t, err, core.ErrInvalidPort)

	err = r.Start("224.0.0.1", 70000)
	assert.ErrorIs(t, err, core.ErrInvalidPort)

	assert.False(t, r.Running())
	assert.Nil(t, r.LocalAddr())
}

func TestReceiver_NoProcessor(t *testing.T) {
	r := NewReceiver(testConfig(), nil)
	assert.Error(t, r.Start("127.0.0.1", freeUDPPort(t)))
	assert.False(t, r.Running())
}

func TestReceiver_StopIsIdempotentAndRestartable(t *testing.T) {
	port := freeUDPPort(t)
	c := newCollector()
	r := NewReceiver(testConfig(), c)

	assert.NoError(t, r.Stop(), "stop before start")

	require.NoError(t, r.Start("127.0.0.1", port))
	err := r.Start("127.0.0.1", port)
	assert.ErrorIs(t, err, core.ErrAlreadyActive)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.False(t, r.Running())

	require.NoError(t, r.Start("127.0.0.1", port))
	defer r.Stop()

	client, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("again"))
	require.NoError(t, err)

	got := c.wait(t, 1)
	assert.Equal(t, []byte("again"), got[0])
}

func TestReceiver_BindsWildcard(t *testing.T) {
	port := freeUDPPort(t)
	r := NewReceiver(testConfig(), newCollector())
	require.NoError(t, r.Start("127.0.0.1", port))
	defer r.Stop()

	addr, ok := r.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	assert.True(t, addr.IP.IsUnspecified(), "bound to %v", addr.IP)
	assert.Equal(t, port, addr.Port)
}

func TestSender_SendsToDestination(t *testing.T) {
	srv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("cannot listen locally: %v", err)
	}
	defer srv.Close()
	port := srv.LocalAddr().(*net.UDPAddr).Port

	s := NewSender(testConfig())
	defer s.Close()
	require.NoError(t, s.Open("127.0.0.1", port))

	require.NoError(t, s.Send([]byte("hello")))
	require.NoError(t, s.Send([]byte("world!")))

	buf := make([]byte, 64)
	for _, want := range []string{"hello", "world!"} {
		require.NoError(t, srv.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := srv.ReadFromUDP(buf)
		require.NoError(t, err)
		assert.Equal(t, want, string(buf[:n]))
	}

	m := s.Metrics()
	assert.Equal(t, uint64(2), m.PacketsSent)
	assert.Equal(t, uint64(11), m.BytesSent)
	assert.Equal(t, port, s.Destination().Port)
}

func TestSender_SocketReusedAcrossOpens(t *testing.T) {
	s := NewSender(testConfig())
	defer s.Close()

	require.NoError(t, s.Open("127.0.0.1", 40001))
	first := s.LocalAddr().String()

	require.NoError(t, s.Open("127.0.0.1", 40002))
	assert.Equal(t, first, s.LocalAddr().String())
	assert.Equal(t, 40002, s.Destination().Port)

	require.NoError(t, s.Close())
	assert.Nil(t, s.LocalAddr())
	assert.NoError(t, s.Close())
}

func TestSender_NotOpen(t *testing.T) {
	s := NewSender(testConfig())
	assert.Error(t, s.Send([]byte("x")))
	assert.Equal(t, uint64(1), s.Metrics().Errors)
}

func TestSender_InvalidParameters(t *testing.T) {
	s := NewSender(testConfig())
	assert.ErrorIs(t, s.Open("999.1.1.1", 1000), core.ErrInvalidAddress)
	assert.ErrorIs(t, s.Open("127.0.0.1", -1), core.ErrInvalidPort)
	assert.Nil(t, s.LocalAddr())
}

func TestMockSender_FailFunc(t *testing.T) {
	m := NewMockSender()
	m.FailFunc = func(n int, _ []byte) error {
		if n == 1 {
			return errors.New("network unreachable")
		}
		return nil
	}

	assert.NoError(t, m.Send([]byte("a")))
	assert.Error(t, m.Send([]byte("b")))
	assert.NoError(t, m.Send([]byte("c")))

	assert.Equal(t, [][]byte{[]byte("a"), []byte("c")}, m.GetSentPackets())
	assert.Equal(t, uint64(1), m.Metrics().Errors)
	assert.Equal(t, uint64(2), m.Metrics().PacketsSent)
}

func TestMockReceiver_Lifecycle(t *testing.T) {
	c := newCollector()
	m := NewMockReceiver(c)

	assert.Error(t, m.SimulatePacketReceived([]byte("early")))

	require.NoError(t, m.Start("224.0.0.1", 62040))
	require.NoError(t, m.SimulatePacketReceived([]byte("p")))
	assert.Len(t, c.wait(t, 1), 1)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	starts, stops := m.Calls()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)

	m.StartErr = core.ErrJoinFailed
	assert.ErrorIs(t, m.Start("224.0.0.1", 62040), core.ErrJoinFailed)
	assert.False(t, m.Running())
}
