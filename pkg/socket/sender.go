package socket

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Sender transmits datagrams to one destination from an unconnected UDP
// socket. The socket survives Open calls for the same address family so a
// replay can be restarted without rebinding.
type Sender struct {
	config Config

	metrics core.SocketMetrics

	mu      sync.Mutex
	conn    *net.UDPConn
	network string
	dest    *net.UDPAddr

	log *logrus.Entry
}

// NewSender creates a sender; no socket is opened until Open.
func NewSender(config Config) *Sender {
	return &Sender{
		config: config.withDefaults(),
		log:    logging.WithComponent("sender"),
	}
}

// Open sets the destination, creating the socket on first use or when the
// address family changes. Multicast TTL and loopback are applied for group
// destinations.
func (s *Sender) Open(destAddress string, port int) error {
	ip, err := core.ParseIP(destAddress)
	if err != nil {
		return err
	}
	if err := core.ValidatePort(port); err != nil {
		return err
	}
	network, _ := family(ip)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && s.network != network {
		s.conn.Close()
		s.conn = nil
	}
	if s.conn == nil {
		conn, err := net.ListenUDP(network, nil)
		if err != nil {
			return fmt.Errorf("%w: sender socket: %v", core.ErrBindFailed, err)
		}
		s.conn = conn
		s.network = network
		s.log.WithField("local", conn.LocalAddr().String()).Debug("sender socket opened")
	}

	s.dest = &net.UDPAddr{IP: ip, Port: port}
	if ip.IsMulticast() {
		if err := s.applyMulticastOptions(ip); err != nil {
			s.log.Warnf("multicast options on %s: %v", ip, err)
		}
	}
	return nil
}

func (s *Sender) applyMulticastOptions(ip net.IP) error {
	ifi, err := s.config.lookupInterface()
	if err != nil {
		return err
	}
	if ip.To4() != nil {
		p := ipv4.NewPacketConn(s.conn)
		if err := p.SetMulticastTTL(s.config.TTL); err != nil {
			return err
		}
		if err := p.SetMulticastLoopback(s.config.Loopback); err != nil {
			return err
		}
		if ifi != nil {
			return p.SetMulticastInterface(ifi)
		}
		return nil
	}
	p := ipv6.NewPacketConn(s.conn)
	if err := p.SetMulticastHopLimit(s.config.TTL); err != nil {
		return err
	}
	if err := p.SetMulticastLoopback(s.config.Loopback); err != nil {
		return err
	}
	if ifi != nil {
		return p.SetMulticastInterface(ifi)
	}
	return nil
}

// Send writes payload as one datagram to the destination. There are no
// retries; failures are counted and returned.
func (s *Sender) Send(payload []byte) error {
	s.mu.Lock()
	conn, dest := s.conn, s.dest
	s.mu.Unlock()

	if conn == nil || dest == nil {
		atomic.AddUint64(&s.metrics.Errors, 1)
		return fmt.Errorf("sender not open")
	}

	n, err := conn.WriteToUDP(payload, dest)
	if err != nil {
		atomic.AddUint64(&s.metrics.Errors, 1)
		return fmt.Errorf("send to %s: %w", dest, err)
	}
	atomic.AddUint64(&s.metrics.PacketsSent, 1)
	atomic.AddUint64(&s.metrics.BytesSent, uint64(n))
	return nil
}

// Destination returns the current destination, or nil before Open.
func (s *Sender) Destination() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dest
}

// LocalAddr returns the socket's local address, or nil before Open.
func (s *Sender) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Metrics returns the metrics for the sender
func (s *Sender) Metrics() core.SocketMetrics {
	return s.metrics.Snapshot()
}

// Close releases the socket. A later Open creates a new one.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.dest = nil
	s.log.Debug("sender socket closed")
	return err
}
