// Package recorder pairs one capture and one replay session and keeps them
// from running at the same time.
package recorder

import (
	"time"

	"github.com/irctrakz/mcastrec/pkg/capture"
	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/replay"
)

// Recorder is the engine a front-end drives.
type Recorder struct {
	Capture *capture.Session
	Replay  *replay.Session

	started time.Time
}

// New wraps existing sessions.
func New(c *capture.Session, r *replay.Session) *Recorder {
	return &Recorder{Capture: c, Replay: r, started: time.Now()}
}

// StartCapture stops any replay, then starts capturing.
func (r *Recorder) StartCapture(cfg core.CaptureConfig) error {
	if r.Replay.Active() {
		r.Replay.Stop()
	}
	return r.Capture.Start(cfg)
}

// StartReplay stops any capture, then starts replaying.
func (r *Recorder) StartReplay(cfg core.ReplayConfig) error {
	if r.Capture.Active() {
		r.Capture.Stop()
	}
	return r.Replay.Start(cfg)
}

// Stop stops whichever session is active.
func (r *Recorder) Stop() error {
	cerr := r.Capture.Stop()
	rerr := r.Replay.Stop()
	if cerr != nil {
		return cerr
	}
	return rerr
}

// Close stops everything and releases the replay socket.
func (r *Recorder) Close() error {
	cerr := r.Capture.Stop()
	rerr := r.Replay.Close()
	if cerr != nil {
		return cerr
	}
	return rerr
}

// Snapshot is a point-in-time view of both sessions.
type Snapshot struct {
	Uptime  string          `json:"uptime"`
	Mode    string          `json:"mode"`
	Capture CaptureSnapshot `json:"capture"`
	Replay  ReplaySnapshot  `json:"replay"`
}

// CaptureSnapshot describes the capture session.
type CaptureSnapshot struct {
	Active bool               `json:"active"`
	Config core.CaptureConfig `json:"config"`
	Stats  capture.Stats      `json:"stats"`
}

// ReplaySnapshot describes the replay session.
type ReplaySnapshot struct {
	Active bool              `json:"active"`
	State  string            `json:"state"`
	Config core.ReplayConfig `json:"config"`
	Stats  replay.Stats      `json:"stats"`
}

// Snapshot collects the state of both sessions.
func (r *Recorder) Snapshot() Snapshot {
	s := Snapshot{
		Uptime: time.Since(r.started).Round(time.Second).String(),
		Capture: CaptureSnapshot{
			Active: r.Capture.Active(),
			Config: r.Capture.Config(),
			Stats:  r.Capture.Stats(),
		},
		Replay: ReplaySnapshot{
			Active: r.Replay.Active(),
			State:  r.Replay.State().String(),
			Config: r.Replay.Config(),
			Stats:  r.Replay.Stats(),
		},
	}
	switch {
	case s.Capture.Active:
		s.Mode = "capturing"
	case s.Replay.Active:
		s.Mode = "replaying"
	default:
		s.Mode = "idle"
	}
	return s
}
