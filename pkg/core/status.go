package core

import (
	"sync"

	"github.com/irctrakz/mcastrec/pkg/logging"
)

// StatusSink receives human-readable state transitions and error messages
// from the capture and replay sessions. Implementations must be safe for
// concurrent use and must not call back into the session.
type StatusSink interface {
	OnStatus(message string)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(message string)

// OnStatus calls f(message).
func (f StatusFunc) OnStatus(message string) { f(message) }

type nopSink struct{}

func (nopSink) OnStatus(string) {}

// NopSink discards status messages.
var NopSink StatusSink = nopSink{}

// LogSink writes status messages to the process logger under component.
type LogSink struct {
	Component string
}

// OnStatus logs message at info level.
func (s LogSink) OnStatus(message string) {
	logging.WithComponent(s.Component).Info(message)
}

// MultiSink fans a status message out to several sinks.
func MultiSink(sinks ...StatusSink) StatusSink {
	return StatusFunc(func(message string) {
		for _, s := range sinks {
			if s != nil {
				s.OnStatus(message)
			}
		}
	})
}

// RecordingSink keeps every status message, for tests and for front-ends
// that display the latest line.
type RecordingSink struct {
	mu       sync.Mutex
	messages []string
}

// OnStatus appends message.
func (r *RecordingSink) OnStatus(message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
}

// Messages returns a copy of all recorded messages.
func (r *RecordingSink) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

// Last returns the most recent message, or "" if none.
func (r *RecordingSink) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

// Contains reports whether message was recorded.
func (r *RecordingSink) Contains(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m == message {
			return true
		}
	}
	return false
}
