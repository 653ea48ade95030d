package core

// Packet is one received UDP datagram. The payload is opaque.
type Packet interface {
	// Data returns the datagram payload. Consumers must not modify it.
	Data() []byte

	// Length returns the payload length
	Length() int
}

// PacketProcessor consumes datagrams delivered by a receiver, one at a time
// and in arrival order.
type PacketProcessor interface {
	// ProcessPacket handles one datagram. An error is counted by the
	// receiver but does not stop it.
	ProcessPacket(packet Packet) error
}

// PacketProcessorFunc adapts a plain function to PacketProcessor.
type PacketProcessorFunc func(packet Packet) error

// ProcessPacket calls f(packet).
func (f PacketProcessorFunc) ProcessPacket(packet Packet) error { return f(packet) }

// SimplePacket is a simple implementation of Packet
type SimplePacket struct {
	data []byte
}

// NewPacket copies data into a new packet, so the caller may reuse its
// read buffer immediately.
func NewPacket(data []byte) Packet {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &SimplePacket{data: buf}
}

// Data returns the packet data
func (p *SimplePacket) Data() []byte {
	return p.data
}

// Length returns the packet length
func (p *SimplePacket) Length() int {
	return len(p.data)
}
