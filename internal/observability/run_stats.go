// Package observability tracks per-run flattening statistics.
package observability

import (
	"fmt"
	"sync"
	"time"
)

// Outcome is the result of processing one file.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// FileStats holds statistics for one processed file.
type FileStats struct {
	Input       string
	Rows        int
	InputBytes  int64
	OutputBytes int64
	Duration    time.Duration
	Outcome     Outcome
}

// Summary holds totals for a run.
type Summary struct {
	Files       int
	Succeeded   int
	Failed      int
	Skipped     int
	Rows        int64
	InputBytes  int64
	OutputBytes int64
	Elapsed     time.Duration
	Slowest     string
	SlowestTime time.Duration
}

// String formats the summary as a single log line.
func (s Summary) String() string {
	line := fmt.Sprintf("files=%d succeeded=%d failed=%d skipped=%d rows=%d in_bytes=%d out_bytes=%d elapsed=%s",
		s.Files, s.Succeeded, s.Failed, s.Skipped, s.Rows, s.InputBytes, s.OutputBytes, s.Elapsed.Round(time.Millisecond))
	if s.Slowest != "" {
		line += fmt.Sprintf(" slowest=%s (%s)", s.Slowest, s.SlowestTime.Round(time.Millisecond))
	}
	return line
}

// RunStats accumulates file statistics. It is safe for concurrent use.
type RunStats struct {
	mu      sync.Mutex
	started time.Time
	files   []FileStats
	now     func() time.Time
}

// NewRunStats creates a tracker whose elapsed time starts now.
func NewRunStats() *RunStats {
	return &RunStats{started: time.Now(), now: time.Now}
}

// Record adds the statistics for one file.
func (r *RunStats) Record(fs FileStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, fs)
}

// Summary returns the totals recorded so far.
func (r *RunStats) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{Files: len(r.files), Elapsed: r.now().Sub(r.started)}
	for _, f := range r.files {
		switch f.Outcome {
		case OutcomeSucceeded:
			s.Succeeded++
			s.Rows += int64(f.Rows)
			s.InputBytes += f.InputBytes
			s.OutputBytes += f.OutputBytes
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		}
		if f.Duration > s.SlowestTime {
			s.Slowest = f.Input
			s.SlowestTime = f.Duration
		}
	}
	return s
}
