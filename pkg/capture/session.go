// Package capture records datagrams from a multicast group into a frame log.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/irctrakz/mcastrec/pkg/clock"
	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/frame"
	"github.com/irctrakz/mcastrec/pkg/logging"
	"github.com/irctrakz/mcastrec/pkg/socket"
	"github.com/sirupsen/logrus"
)

// Status lines reported to the sink.
const (
	StatusInvalidPort    = "Invalid port."
	StatusInvalidAddress = "Invalid IP address."
	StatusNoPath         = "Choose a file to record to."
	StatusOpenFailed     = "Failed to open file."
	StatusBindFailed     = "Bind failed."
	StatusJoinFailed     = "Join multicast failed."
	StatusStopped        = "Stopped."
)

// Receiver is the socket side of a capture.
type Receiver interface {
	Start(bindAddress string, port int) error
	Stop() error
}

// FrameWriter is the log side of a capture.
type FrameWriter interface {
	WriteFrame(ts int64, payload []byte) error
	Close() error
}

// Stats are the counters of the current (or last) capture.
type Stats struct {
	PacketCount uint64 `json:"packets"`
	ByteCount   uint64 `json:"bytes"`
	WriteErrors uint64 `json:"write_errors"`
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used to timestamp frames.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithSink sets the status sink.
func WithSink(sink core.StatusSink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithSocketConfig sets the receiver socket configuration.
func WithSocketConfig(cfg socket.Config) Option {
	return func(s *Session) { s.socketConfig = cfg }
}

// WithReceiverFactory replaces the socket receiver, mainly for tests.
func WithReceiverFactory(f func(core.PacketProcessor) Receiver) Option {
	return func(s *Session) { s.newReceiver = f }
}

// WithWriterOpener replaces frame.OpenWriter, mainly for tests.
func WithWriterOpener(f func(path string) (FrameWriter, error)) Option {
	return func(s *Session) { s.openWriter = f }
}

// Session owns one receiver and one log writer while active.
type Session struct {
	clock        clock.Clock
	sink         core.StatusSink
	socketConfig socket.Config
	newReceiver  func(core.PacketProcessor) Receiver
	openWriter   func(path string) (FrameWriter, error)
	log          *logrus.Entry

	// lifeMu serializes Start and Stop. It is never held by the packet path.
	lifeMu   sync.Mutex
	active   bool
	receiver Receiver
	config   core.CaptureConfig

	// mu guards the writer and counters used by ProcessPacket.
	mu     sync.Mutex
	writer FrameWriter
	stats  Stats
}

// NewSession creates an idle capture session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		clock:        clock.Real(),
		sink:         core.NopSink,
		socketConfig: socket.DefaultConfig(),
		log:          logging.WithComponent("capture"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newReceiver == nil {
		cfg := s.socketConfig
		s.newReceiver = func(p core.PacketProcessor) Receiver {
			return socket.NewReceiver(cfg, p)
		}
	}
	if s.openWriter == nil {
		s.openWriter = func(path string) (FrameWriter, error) {
			return frame.OpenWriter(path)
		}
	}
	return s
}

// Start validates cfg, opens the log for append and starts receiving.
// Anything acquired is released again if a later step fails.
func (s *Session) Start(cfg core.CaptureConfig) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.active {
		return fmt.Errorf("capture: %w", core.ErrAlreadyActive)
	}

	if err := cfg.Validate(); err != nil {
		s.report(validationStatus(err))
		return err
	}

	w, err := s.openWriter(cfg.Path)
	if err != nil {
		s.report(StatusOpenFailed)
		s.log.WithError(err).Warn("open log failed")
		if !errors.Is(err, core.ErrOpenFailed) {
			err = fmt.Errorf("%w: %v", core.ErrOpenFailed, err)
		}
		return err
	}

	s.mu.Lock()
	s.writer = w
	s.stats = Stats{}
	s.mu.Unlock()

	rcv := s.newReceiver(s)
	if err := rcv.Start(cfg.BindAddress, cfg.Port); err != nil {
		s.mu.Lock()
		s.writer = nil
		s.mu.Unlock()
		if cerr := w.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("close log after failed start")
		}
		if errors.Is(err, core.ErrJoinFailed) {
			s.report(StatusJoinFailed)
		} else {
			s.report(StatusBindFailed)
		}
		s.log.WithError(err).Warn("receiver start failed")
		return err
	}

	s.receiver = rcv
	s.config = cfg
	s.active = true

	s.log.WithFields(logrus.Fields{
		"address": cfg.BindAddress,
		"port":    cfg.Port,
		"path":    cfg.Path,
	}).Info("capture started")
	s.report(fmt.Sprintf("Listening on %s:%d", cfg.BindAddress, cfg.Port))
	return nil
}

// Stop stops receiving, closes the log and reports Stopped. It is a no-op
// when the session is not active.
func (s *Session) Stop() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.active {
		return nil
	}

	// The receiver waits for its read loop, which may be inside
	// ProcessPacket, so mu must not be held here.
	rerr := s.receiver.Stop()
	s.receiver = nil

	s.mu.Lock()
	w := s.writer
	s.writer = nil
	stats := s.stats
	s.mu.Unlock()

	werr := w.Close()
	s.active = false

	s.log.WithFields(logrus.Fields{
		"packets":      stats.PacketCount,
		"bytes":        stats.ByteCount,
		"write_errors": stats.WriteErrors,
	}).Info("capture stopped")
	s.report(StatusStopped)

	if rerr != nil {
		return rerr
	}
	return werr
}

// ProcessPacket timestamps one datagram and appends it to the log. A failed
// write is counted and reported, and capture continues.
func (s *Session) ProcessPacket(p core.Packet) error {
	data := p.Data()
	if len(data) == 0 {
		s.log.Debug("ignoring empty datagram")
		return nil
	}

	s.mu.Lock()
	if s.writer == nil {
		s.mu.Unlock()
		return nil
	}
	ts := s.clock.Now().UnixMilli()
	if err := s.writer.WriteFrame(ts, data); err != nil {
		s.stats.WriteErrors++
		s.mu.Unlock()
		s.log.WithError(err).Warn("write frame failed")
		s.report(fmt.Sprintf("Write failed: %v", err))
		return err
	}
	s.stats.PacketCount++
	s.stats.ByteCount += uint64(len(data))
	stats := s.stats
	s.mu.Unlock()

	s.report(fmt.Sprintf("Packets: %d | Bytes: %d", stats.PacketCount, stats.ByteCount))
	return nil
}

// Stats returns the counters of the current or most recent capture.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Active reports whether a capture is running.
func (s *Session) Active() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.active
}

// Config returns the parameters of the current or most recent capture.
func (s *Session) Config() core.CaptureConfig {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.config
}

func (s *Session) report(message string) {
	s.sink.OnStatus(message)
}

func validationStatus(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidPort):
		return StatusInvalidPort
	case errors.Is(err, core.ErrInvalidAddress):
		return StatusInvalidAddress
	case errors.Is(err, core.ErrEmptyPath):
		return StatusNoPath
	}
	return err.Error()
}
