package core

import "sync/atomic"

// SocketMetrics contains counters for a UDP endpoint. Fields are updated
// with sync/atomic; read them through Snapshot.
type SocketMetrics struct {
	// PacketsSent is the number of datagrams sent.
	PacketsSent uint64

	// PacketsReceived is the number of datagrams received.
	PacketsReceived uint64

	// BytesSent is the number of payload bytes sent.
	BytesSent uint64

	// BytesReceived is the number of payload bytes received.
	BytesReceived uint64

	// Errors is the number of errors encountered.
	Errors uint64
}

// Snapshot returns a consistent-per-field copy of m.
func (m *SocketMetrics) Snapshot() SocketMetrics {
	if m == nil {
		return SocketMetrics{}
	}
	return SocketMetrics{
		PacketsSent:     atomic.LoadUint64(&m.PacketsSent),
		PacketsReceived: atomic.LoadUint64(&m.PacketsReceived),
		BytesSent:       atomic.LoadUint64(&m.BytesSent),
		BytesReceived:   atomic.LoadUint64(&m.BytesReceived),
		Errors:          atomic.LoadUint64(&m.Errors),
	}
}

// Reset zeroes all counters.
func (m *SocketMetrics) Reset() {
	atomic.StoreUint64(&m.PacketsSent, 0)
	atomic.StoreUint64(&m.PacketsReceived, 0)
	atomic.StoreUint64(&m.BytesSent, 0)
	atomic.StoreUint64(&m.BytesReceived, 0)
	atomic.StoreUint64(&m.Errors, 0)
}
