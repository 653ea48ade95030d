package socket

import (
	"fmt"
	"net"
	"time"
)

// Config contains configuration shared by the receiver and the sender.
type Config struct {
	// Interface names the NIC used for group membership and multicast
	// egress. Empty selects the system default route.
	Interface string

	// ReadBufferSize is the receive buffer for a single datagram.
	ReadBufferSize int

	// ReadTimeout bounds each blocking read so the loop can observe Stop.
	ReadTimeout time.Duration

	// TTL is the multicast hop limit for sent datagrams.
	TTL int

	// Loopback controls whether sent multicast is delivered back to
	// listeners on this host.
	Loopback bool
}

// DefaultConfig returns the default configuration for the socket layer
func DefaultConfig() Config {
	return Config{
		ReadBufferSize: 65536,
		ReadTimeout:    500 * time.Millisecond,
		TTL:            1,
		Loopback:       true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	return c
}

// lookupInterface resolves c.Interface; a nil result means "let the kernel pick".
func (c Config) lookupInterface() (*net.Interface, error) {
	if c.Interface == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(c.Interface)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", c.Interface, err)
	}
	return ifi, nil
}

// family returns the udp network name and wildcard address for ip.
func family(ip net.IP) (network string, wildcard net.IP) {
	if ip.To4() != nil {
		return "udp4", net.IPv4zero
	}
	return "udp6", net.IPv6unspecified
}
