package socket

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/logging"
)

// MockReceiver stands in for Receiver in tests: nothing is bound and
// datagrams arrive through SimulatePacketReceived.
type MockReceiver struct {
	processor core.PacketProcessor
	metrics   core.SocketMetrics

	// StartErr, when set, is returned by Start.
	StartErr error

	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	lastAddr string
	lastPort int
}

// NewMockReceiver creates a new mock receiver
func NewMockReceiver(processor core.PacketProcessor) *MockReceiver {
	return &MockReceiver{processor: processor}
}

// Start records the address and marks the receiver running.
func (m *MockReceiver) Start(bindAddress string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("receiver: %w", core.ErrAlreadyActive)
	}
	if m.StartErr != nil {
		return m.StartErr
	}
	m.running = true
	m.starts++
	m.lastAddr, m.lastPort = bindAddress, port
	logging.Debugf("Mock receiver started on %s:%d", bindAddress, port)
	return nil
}

// Stop stops the mock receiver
func (m *MockReceiver) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.stops++
	return nil
}

// Running reports whether Start succeeded without a later Stop.
func (m *MockReceiver) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Calls returns how many times Start and Stop took effect.
func (m *MockReceiver) Calls() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

// Metrics returns the metrics for the mock receiver
func (m *MockReceiver) Metrics() core.SocketMetrics {
	return m.metrics.Snapshot()
}

// SimulatePacketReceived delivers data as if it had arrived on the socket.
// This is a test-only method that doesn't exist in the real implementation
func (m *MockReceiver) SimulatePacketReceived(data []byte) error {
	m.mu.Lock()
	running := m.running
	processor := m.processor
	m.mu.Unlock()

	if !running {
		return fmt.Errorf("receiver not running")
	}
	if processor == nil {
		return fmt.Errorf("no packet processor set")
	}

	atomic.AddUint64(&m.metrics.PacketsReceived, 1)
	atomic.AddUint64(&m.metrics.BytesReceived, uint64(len(data)))

	if err := processor.ProcessPacket(core.NewPacket(data)); err != nil {
		atomic.AddUint64(&m.metrics.Errors, 1)
		return fmt.Errorf("failed to process packet: %v", err)
	}
	return nil
}

// MockSender records every payload instead of transmitting it.
type MockSender struct {
	metrics core.SocketMetrics

	// FailFunc, when set, is consulted for each send; a non-nil result
	// fails that send.
	FailFunc func(n int, payload []byte) error

	// OnSend, when set, runs after each recorded send.
	OnSend func(payload []byte)

	// OpenErr, when set, is returned by Open.
	OpenErr error

	mu     sync.Mutex
	sent   [][]byte
	dest   string
	opens  int
	closes int
}

// NewMockSender creates a new mock sender
func NewMockSender() *MockSender {
	return &MockSender{}
}

// Open records the destination.
func (m *MockSender) Open(destAddress string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.opens++
	m.dest = fmt.Sprintf("%s:%d", destAddress, port)
	return nil
}

// Close counts the call.
func (m *MockSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Destination returns the address given to the last successful Open.
func (m *MockSender) Destination() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dest
}

// Calls returns how many times Open succeeded and Close was called.
func (m *MockSender) Calls() (opens, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes
}

// Send records a copy of payload.
func (m *MockSender) Send(payload []byte) error {
	m.mu.Lock()
	n := len(m.sent) + int(atomic.LoadUint64(&m.metrics.Errors))
	fail := m.FailFunc
	m.mu.Unlock()

	if fail != nil {
		if err := fail(n, payload); err != nil {
			atomic.AddUint64(&m.metrics.Errors, 1)
			return err
		}
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.mu.Lock()
	m.sent = append(m.sent, buf)
	m.mu.Unlock()

	atomic.AddUint64(&m.metrics.PacketsSent, 1)
	atomic.AddUint64(&m.metrics.BytesSent, uint64(len(payload)))
	if m.OnSend != nil {
		m.OnSend(buf)
	}
	return nil
}

// GetSentPackets returns copies of all payloads sent so far
// This is a test-only method that doesn't exist in the real implementation
func (m *MockSender) GetSentPackets() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	packets := make([][]byte, len(m.sent))
	copy(packets, m.sent)
	return packets
}

// Metrics returns the metrics for the mock sender
func (m *MockSender) Metrics() core.SocketMetrics {
	return m.metrics.Snapshot()
}
