package main

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/irctrakz/mcastrec/pkg/logging"
	"github.com/irctrakz/mcastrec/pkg/recorder"
)

type statsLine struct {
	Timestamp string `json:"ts"`
	recorder.Snapshot
	RT map[string]uint64 `json:"rt"`
}

type statsReporter struct {
	rec    *recorder.Recorder
	format string
	now    func() time.Time
	logf   func(format string, args ...interface{})
}

func newStatsReporter(rec *recorder.Recorder, format string) *statsReporter {
	return &statsReporter{
		rec:    rec,
		format: format,
		now:    time.Now,
		logf:   logging.Infof,
	}
}

// Run logs a stats line every interval until ctx is done.
func (r *statsReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Dump()
		}
	}
}

// Dump logs one stats line.
func (r *statsReporter) Dump() {
	r.logf("stats: %s", r.line())
}

func (r *statsReporter) line() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := statsLine{
		Timestamp: r.now().UTC().Format(time.RFC3339),
		Snapshot:  r.rec.Snapshot(),
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}

	switch r.format {
	case "json":
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprintf("marshal failed: %v", err)
		}
		return string(b)
	default:
		c, p := s.Capture.Stats, s.Replay.Stats
		return fmt.Sprintf("ts=%s mode=%s up=%s | capture: pkts=%d bytes=%d werr=%d | replay: state=%s sent=%d/%d err=%d loops=%d | rt: heap=%dMi gor=%d gc=%d",
			s.Timestamp, s.Mode, s.Uptime,
			c.PacketCount, c.ByteCount, c.WriteErrors,
			s.Replay.State, p.PacketsSent, p.BytesSent, p.SendErrors, p.Loops,
			s.RT["heap_alloc"]/(1024*1024), s.RT["goroutines"], s.RT["num_gc"],
		)
	}
}
