// Package socket holds the UDP endpoints: a multicast Receiver feeding a
// core.PacketProcessor, and a Sender used by replay.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Receiver binds a UDP port, optionally joins a multicast group on it, and
// hands every datagram to a packet processor in arrival order.
type Receiver struct {
	config Config

	// Packet processor for handling datagrams from the socket
	processor core.PacketProcessor

	// Metrics
	metrics core.SocketMetrics

	conn  net.PacketConn
	p4    *ipv4.PacketConn
	p6    *ipv6.PacketConn
	group *net.UDPAddr
	ifi   *net.Interface

	// Control
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	log *logrus.Entry
}

// NewReceiver creates a receiver that delivers to processor.
func NewReceiver(config Config, processor core.PacketProcessor) *Receiver {
	return &Receiver{
		config:    config.withDefaults(),
		processor: processor,
		log:       logging.WithComponent("receiver"),
	}
}

// Start binds the wildcard address of bindAddress's family on port and, when
// bindAddress is a multicast group, joins it. Nothing stays bound on error.
func (r *Receiver) Start(bindAddress string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("receiver: %w", core.ErrAlreadyActive)
	}
	if r.processor == nil {
		return fmt.Errorf("no packet processor set")
	}

	ip, err := core.ParseIP(bindAddress)
	if err != nil {
		return err
	}
	if err := core.ValidatePort(port); err != nil {
		return err
	}
	ifi, err := r.config.lookupInterface()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrJoinFailed, err)
	}

	network, wildcard := family(ip)
	lc := net.ListenConfig{Control: reuseControl}
	laddr := net.JoinHostPort(wildcard.String(), strconv.Itoa(port))
	conn, err := lc.ListenPacket(context.Background(), network, laddr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrBindFailed, laddr, err)
	}

	r.conn = conn
	r.ifi = ifi
	r.group = nil
	r.p4, r.p6 = nil, nil
	if ip.IsMulticast() {
		if err := r.join(ip); err != nil {
			conn.Close()
			r.conn = nil
			r.p4, r.p6 = nil, nil
			return fmt.Errorf("%w: %s: %v", core.ErrJoinFailed, ip, err)
		}
	}

	r.metrics.Reset()
	r.stopCh = make(chan struct{})
	r.running = true
	r.wg.Add(1)
	go r.listenLoop(r.conn, r.stopCh)

	r.log.WithFields(logrus.Fields{
		"address": ip.String(),
		"port":    port,
		"group":   r.group != nil,
	}).Debug("receiver started")
	return nil
}

func (r *Receiver) join(ip net.IP) error {
	group := &net.UDPAddr{IP: ip}
	if ip.To4() != nil {
		p := ipv4.NewPacketConn(r.conn)
		if err := p.JoinGroup(r.ifi, group); err != nil {
			return err
		}
		r.p4 = p
	} else {
		p := ipv6.NewPacketConn(r.conn)
		if err := p.JoinGroup(r.ifi, group); err != nil {
			return err
		}
		r.p6 = p
	}
	r.group = group
	return nil
}

func (r *Receiver) leave() error {
	if r.group == nil {
		return nil
	}
	var err error
	switch {
	case r.p4 != nil:
		err = r.p4.LeaveGroup(r.ifi, r.group)
	case r.p6 != nil:
		err = r.p6.LeaveGroup(r.ifi, r.group)
	}
	r.group = nil
	return err
}

// Stop leaves the group, closes the socket and waits for the read loop.
// Calling Stop on a stopped receiver is a no-op.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	close(r.stopCh)
	if err := r.leave(); err != nil {
		r.log.Warnf("leave group failed: %v", err)
	}
	err := r.conn.Close()
	r.wg.Wait()

	r.conn = nil
	r.p4, r.p6 = nil, nil
	r.running = false

	r.log.Debug("receiver stopped")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Running reports whether the receiver is bound.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LocalAddr returns the bound address, or nil when stopped.
func (r *Receiver) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Metrics returns the metrics for the receiver
func (r *Receiver) Metrics() core.SocketMetrics {
	return r.metrics.Snapshot()
}

// listenLoop reads datagrams until stopCh closes. conn and stopCh are passed
// in so the loop never touches fields guarded by mu.
func (r *Receiver) listenLoop(conn net.PacketConn, stopCh chan struct{}) {
	defer r.wg.Done()

	buf := make([]byte, r.config.ReadBufferSize)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Errorf("Failed to reset read deadline: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-stopCh:
				return
			default:
			}
			r.log.Errorf("Failed to read from socket: %v", err)
			atomic.AddUint64(&r.metrics.Errors, 1)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		atomic.AddUint64(&r.metrics.PacketsReceived, 1)
		atomic.AddUint64(&r.metrics.BytesReceived, uint64(n))
		logging.Debugf("datagram from %v len=%d", peer, n)

		if err := r.processor.ProcessPacket(core.NewPacket(buf[:n])); err != nil {
			atomic.AddUint64(&r.metrics.Errors, 1)
			r.log.Debugf("processor rejected datagram: %v", err)
		}
	}
}
