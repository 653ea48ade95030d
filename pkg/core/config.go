package core

import (
	"fmt"
	"net"
)

// CaptureConfig contains the parameters of one capture session.
type CaptureConfig struct {
	// BindAddress is the group (or unicast) address to listen on. It must be
	// an IP literal; multicast addresses are joined.
	BindAddress string `json:"bind_address" yaml:"bindAddress"`

	// Port is the UDP port to bind (1-65535).
	Port int `json:"port" yaml:"port"`

	// Path is the log file to append frames to.
	Path string `json:"path" yaml:"path"`
}

// ReplayConfig contains the parameters of one replay session.
type ReplayConfig struct {
	// DestAddress is the IP literal datagrams are sent to.
	DestAddress string `json:"dest_address" yaml:"destAddress"`

	// DestPort is the destination UDP port (1-65535).
	DestPort int `json:"dest_port" yaml:"destPort"`

	// Path is the log file to replay.
	Path string `json:"path" yaml:"path"`

	// Loop restarts from the first frame when the end of the log is reached.
	Loop bool `json:"loop" yaml:"loop"`
}

// Validate checks the capture parameters without touching the network or disk.
func (c CaptureConfig) Validate() error {
	if err := ValidatePort(c.Port); err != nil {
		return err
	}
	if _, err := ParseIP(c.BindAddress); err != nil {
		return err
	}
	if c.Path == "" {
		return ErrEmptyPath
	}
	return nil
}

// Validate checks the replay parameters without touching the network or disk.
func (c ReplayConfig) Validate() error {
	if _, err := ParseIP(c.DestAddress); err != nil {
		return err
	}
	if err := ValidatePort(c.DestPort); err != nil {
		return err
	}
	if c.Path == "" {
		return ErrEmptyPath
	}
	return nil
}

// ParseIP parses an IP literal, wrapping failures in ErrInvalidAddress.
func ParseIP(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return ip, nil
}

// ValidatePort reports ErrInvalidPort for anything outside 1-65535.
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return nil
}
