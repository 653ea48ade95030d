package replay

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

// StatusSenderFailed is reported when the sending socket cannot be opened.
const StatusSenderFailed = "Failed to open replay socket."

// Sender is the socket side of a replay. *socket.Sender implements it.
type Sender interface {
	Open(destAddress string, port int) error
	Send(payload []byte) error
	Close() error
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock that paces sends.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithSink sets the status sink.
func WithSink(sink core.StatusSink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithSocketConfig sets the sender socket configuration.
func WithSocketConfig(cfg socket.Config) Option {
	return func(s *Session) { s.socketConfig = cfg }
}

// WithSender replaces the UDP sender, mainly for tests.
func WithSender(sender Sender) Option {
	return func(s *Session) { s.sender = sender }
}

// Session replays one log at a time through a sender that is kept open
// between runs.
type Session struct {
	clock        clock.Clock
	sink         core.StatusSink
	socketConfig socket.Config
	sender       Sender
	sched        *Scheduler
	log          *logrus.Entry

	mu     sync.Mutex
	config core.ReplayConfig
}

// NewSession creates an idle replay session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		clock:        clock.Real(),
		sink:         core.NopSink,
		socketConfig: socket.DefaultConfig(),
		log:          logging.WithComponent("replay"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sender == nil {
		s.sender = socket.NewSender(s.socketConfig)
	}
	s.sched = NewScheduler(s.clock, s.sink)
	return s
}

// Start validates cfg, opens the log and begins sending its frames. The
// first frame goes out immediately.
func (s *Session) Start(cfg core.ReplayConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched.Active() {
		return fmt.Errorf("replay: %w", core.ErrAlreadyActive)
	}

	if err := cfg.Validate(); err != nil {
		s.report(validationStatus(err))
		return err
	}

	r, err := frame.Open(cfg.Path)
	if err != nil {
		if errors.Is(err, core.ErrEmptyLog) {
			s.report(StatusEmpty)
		} else {
			s.report(StatusOpenFailed)
		}
		s.log.WithError(err).Warn("open log failed")
		return err
	}

	if err := s.sender.Open(cfg.DestAddress, cfg.DestPort); err != nil {
		r.Close()
		s.report(StatusSenderFailed)
		s.log.WithError(err).Warn("open sender failed")
		return err
	}

	s.log.WithFields(logrus.Fields{
		"address": cfg.DestAddress,
		"port":    cfg.DestPort,
		"path":    cfg.Path,
		"loop":    cfg.Loop,
	}).Info("replay started")
	s.report(StatusReplaying)

	if err := s.sched.Start(r, s.sender, cfg.Loop); err != nil {
		if errors.Is(err, core.ErrEmptyLog) {
			s.report(StatusEmpty)
		}
		return err
	}
	s.config = cfg
	return nil
}

// Stop cancels the run and reports "Replay stopped.". It is a no-op when
// nothing is replaying.
func (s *Session) Stop() error {
	s.sched.Stop()
	return nil
}

// Close stops any run and releases the sender socket.
func (s *Session) Close() error {
	s.Stop()
	return s.sender.Close()
}

// Active reports whether a replay is running.
func (s *Session) Active() bool {
	return s.sched.Active()
}

// State returns the scheduler state.
func (s *Session) State() State {
	return s.sched.State()
}

// Done returns a channel closed when the current run ends, whether by
// completion or Stop.
func (s *Session) Done() <-chan struct{} {
	return s.sched.Done()
}

// Stats returns the counters of the current or most recent run.
func (s *Session) Stats() Stats {
	return s.sched.Stats()
}

// Config returns the parameters of the most recent successful Start.
func (s *Session) Config() core.ReplayConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *Session) report(message string) {
	s.sink.OnStatus(message)
}

func validationStatus(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidAddress):
		return StatusInvalidAddress
	case errors.Is(err, core.ErrInvalidPort):
		return StatusInvalidPort
	case errors.Is(err, core.ErrEmptyPath):
		return StatusNoPath
	}
	return err.Error()
}
