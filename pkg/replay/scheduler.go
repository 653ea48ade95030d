// Package replay retransmits a frame log with its original inter-packet
// timing.
package replay

import (
	"fmt"
	"sync"
	"time"

	"github.com/irctrakz/mcastrec/pkg/clock"
	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/frame"
	"github.com/irctrakz/mcastrec/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Status lines reported to the sink.
const (
	StatusInvalidAddress = "Invalid replay IP address."
	StatusInvalidPort    = "Invalid replay port."
	StatusNoPath         = "Choose a capture file to replay."
	StatusOpenFailed     = "Failed to open replay file."
	StatusEmpty          = "Capture file is empty."
	StatusReplaying      = "Replaying..."
	StatusStopped        = "Replay stopped."
	StatusCompleted      = "Replay completed."
	StatusCompletedEmpty = "Replay completed (file empty)."
)

// State is the scheduler's position in a run.
type State int

const (
	StateIdle State = iota
	StatePriming
	StateSending
	StateLooping
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePriming:
		return "priming"
	case StateSending:
		return "sending"
	case StateLooping:
		return "looping"
	case StateCompleted:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FrameSource yields frames in log order. *frame.Reader implements it.
type FrameSource interface {
	Next() (frame.Frame, bool)
	Rewind() error
	Err() error
	Offset() int64
	Close() error
}

// PacketSender transmits one payload. *socket.Sender implements it.
type PacketSender interface {
	Send(payload []byte) error
}

// Stats are the counters of the current (or last) run.
type Stats struct {
	PacketsSent uint64 `json:"packets_sent"`
	BytesSent   uint64 `json:"bytes_sent"`
	SendErrors  uint64 `json:"send_errors"`
	Loops       uint64 `json:"loops"`
}

// Scheduler paces frames from a source onto a sender. At most one send is
// pending at any time; each send is a clock timer continuation.
type Scheduler struct {
	clock clock.Clock
	sink  core.StatusSink
	log   *logrus.Entry

	mu      sync.Mutex
	state   State
	src     FrameSource
	sender  PacketSender
	loop    bool
	pending []byte
	prevTS  int64
	timer   clock.Timer
	gen     uint64
	done    chan struct{}
	stats   Stats
}

// NewScheduler creates an idle scheduler. A nil sink discards status lines.
func NewScheduler(c clock.Clock, sink core.StatusSink) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	if sink == nil {
		sink = core.NopSink
	}
	done := make(chan struct{})
	close(done)
	return &Scheduler{
		clock: c,
		sink:  sink,
		log:   logging.WithComponent("replay"),
		done:  done,
	}
}

// Start primes the first frame of src and schedules it for immediate
// sending. It fails with core.ErrEmptyLog, without touching sender, when src
// has no frame; src is closed in that case. On success the scheduler owns
// src until the run ends.
func (s *Scheduler) Start(src FrameSource, sender PacketSender, loop bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("replay: %w", core.ErrAlreadyActive)
	}

	s.state = StatePriming
	f, ok := src.Next()
	if !ok {
		s.state = StateIdle
		src.Close()
		return core.ErrEmptyLog
	}

	s.src = src
	s.sender = sender
	s.loop = loop
	s.pending = f.Payload
	s.prevTS = f.Timestamp
	s.stats = Stats{}
	s.done = make(chan struct{})
	s.gen++
	s.state = StateSending
	s.scheduleLocked(0)
	return nil
}

func (s *Scheduler) scheduleLocked(delay time.Duration) {
	gen := s.gen
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen) })
}

// fire sends the pending payload and reads ahead to schedule the next one.
// The send happens under mu so nothing goes out once Stop has returned.
func (s *Scheduler) fire(gen uint64) {
	var notes []string

	s.mu.Lock()
	if gen != s.gen || s.state != StateSending {
		s.mu.Unlock()
		return
	}
	s.timer = nil

	if err := s.sender.Send(s.pending); err != nil {
		s.stats.SendErrors++
		s.log.WithError(err).Debug("send failed")
		notes = append(notes, fmt.Sprintf("Send failed: %v", err))
	} else {
		s.stats.PacketsSent++
		s.stats.BytesSent += uint64(len(s.pending))
	}

	more, finished := s.advanceLocked()
	notes = append(notes, more...)
	s.mu.Unlock()

	for _, n := range notes {
		s.sink.OnStatus(n)
	}
	if finished != nil {
		close(finished)
	}
}

// advanceLocked moves to the next frame, looping or completing at the end.
// A non-nil channel means the run ended and must be closed once the notes
// have been reported.
func (s *Scheduler) advanceLocked() ([]string, chan struct{}) {
	var notes []string

	f, ok := s.src.Next()
	if ok {
		delay := f.Timestamp - s.prevTS
		if delay < 0 {
			delay = 0
		}
		s.prevTS = f.Timestamp
		s.pending = f.Payload
		s.scheduleLocked(time.Duration(delay) * time.Millisecond)
		return nil, nil
	}

	if err := s.src.Err(); err != nil {
		s.log.WithError(err).WithField("offset", s.src.Offset()).Warn("corrupt log tail")
		notes = append(notes, fmt.Sprintf("Replay: log corrupt at offset %d, treating as end of stream.", s.src.Offset()))
	}

	if !s.loop {
		return s.completeLocked(notes, StatusCompleted)
	}

	s.state = StateLooping
	if err := s.src.Rewind(); err != nil {
		s.log.WithError(err).Warn("rewind failed")
		return s.completeLocked(notes, StatusCompleted)
	}
	f, ok = s.src.Next()
	if !ok {
		return s.completeLocked(notes, StatusCompletedEmpty)
	}

	// The first frame of a new pass goes out immediately; pacing resumes
	// from its timestamp.
	s.stats.Loops++
	s.prevTS = f.Timestamp
	s.pending = f.Payload
	s.state = StateSending
	s.scheduleLocked(0)
	return notes, nil
}

func (s *Scheduler) completeLocked(notes []string, status string) ([]string, chan struct{}) {
	s.state = StateCompleted
	s.log.WithFields(logrus.Fields{
		"packets": s.stats.PacketsSent,
		"bytes":   s.stats.BytesSent,
		"loops":   s.stats.Loops,
	}).Info(status)
	return append(notes, status), s.releaseLocked()
}

// releaseLocked closes the source and returns to Idle. The caller closes the
// returned channel after reporting.
func (s *Scheduler) releaseLocked() chan struct{} {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.src != nil {
		if err := s.src.Close(); err != nil {
			s.log.WithError(err).Debug("close log")
		}
	}
	s.src = nil
	s.sender = nil
	s.pending = nil
	s.state = StateIdle
	return s.done
}

// Stop cancels the pending send, closes the source and reports
// "Replay stopped.". It returns false, and does nothing, when idle.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return false
	}
	s.gen++
	finished := s.releaseLocked()
	s.mu.Unlock()

	s.log.Info("replay stopped")
	s.sink.OnStatus(StatusStopped)
	close(finished)
	return true
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether a run is in progress.
func (s *Scheduler) Active() bool {
	return s.State() != StateIdle
}

// Done returns a channel closed when the current run returns to Idle. It is
// already closed while idle.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stats returns the counters of the current or most recent run.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
