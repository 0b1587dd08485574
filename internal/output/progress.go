package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/crankmeter/internal/metrics"
)

// Snapshotter is the part of *metrics.Aggregator the progress line reads.
type Snapshotter interface {
	Snapshot(quantiles ...float64) metrics.Report
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   Snapshotter
	interval time.Duration
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source Snapshotter, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		source:   source,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 2) {
		close(p.done)
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(p.writer, "\r"+ProgressLine(p.source.Snapshot(0.5, 0.99)))
		case <-p.done:
			return
		}
	}
}

// ProgressLine summarizes a report on one line using the windowed rate.
func ProgressLine(r metrics.Report) string {
	line := fmt.Sprintf("Requests: %d | Successes: %d | Failures: %d | RPS: %.1f",
		r.Total, r.Successes, r.Failures, r.WindowRPS)
	if p50, ok := r.Quantile(0.5); ok {
		p99, _ := r.Quantile(0.99)
		line += fmt.Sprintf(" | P50 %s P99 %s", round(p50), round(p99))
	}
	if names := endpointsByVolume(r.Endpoints); len(names) > 0 && r.Total > 0 {
		ep := r.Endpoints[names[0]]
		share := (float64(ep.Total) / float64(r.Total)) * 100
		line += fmt.Sprintf(" | Top Endpoint: %s (%.0f%%)", names[0], share)
	}
	return line
}
