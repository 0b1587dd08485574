package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQuantiles are reported when Snapshot is called without quantiles.
var DefaultQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// FailureCounts partitions failures by outcome class.
type FailureCounts struct {
	Transport int64 `json:"transport" yaml:"transport"`
	Status    int64 `json:"status" yaml:"status"`
}

// Total returns the number of failed attempts.
func (f FailureCounts) Total() int64 {
	return f.Transport + f.Status
}

// QuantileLatency is one estimated latency quantile.
type QuantileLatency struct {
	Quantile  float64       `json:"quantile" yaml:"quantile"`
	Latency   time.Duration `json:"-" yaml:"-"`
	LatencyMs float64       `json:"latency_ms" yaml:"latency_ms"`
}

// Report is an immutable summary of an Aggregator at one point in time.
type Report struct {
	RunID           string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Total           int64         `json:"total" yaml:"total"`
	Successes       int64         `json:"successes" yaml:"successes"`
	Failures        int64         `json:"failures" yaml:"failures"`
	FailuresByClass FailureCounts `json:"failures_by_class" yaml:"failures_by_class"`
	ErrorRate       float64       `json:"error_rate" yaml:"error_rate"`
	BytesTotal      int64         `json:"bytes_total" yaml:"bytes_total"`
	BytesSentTotal  int64         `json:"bytes_sent_total" yaml:"bytes_sent_total"`

	// Overall throughput since the run started.
	ThroughputRPS float64 `json:"throughput_rps" yaml:"throughput_rps"`
	ThroughputBPS float64 `json:"throughput_bps" yaml:"throughput_bps"`
	SentBPS       float64 `json:"sent_bps" yaml:"sent_bps"`
	// Instantaneous throughput over the retained window.
	WindowRPS float64 `json:"window_rps" yaml:"window_rps"`
	WindowBPS float64 `json:"window_bps" yaml:"window_bps"`

	Elapsed     time.Duration     `json:"-" yaml:"-"`
	Window      time.Duration     `json:"-" yaml:"-"`
	Idle        time.Duration     `json:"-" yaml:"-"`
	MinLatency  time.Duration     `json:"-" yaml:"-"`
	MaxLatency  time.Duration     `json:"-" yaml:"-"`
	MeanLatency time.Duration     `json:"-" yaml:"-"`
	Quantiles   []QuantileLatency `json:"quantiles,omitempty" yaml:"quantiles,omitempty"`

	// JSON-friendly millisecond fields.
	ElapsedMs     float64 `json:"elapsed_ms" yaml:"elapsed_ms"`
	WindowMs      float64 `json:"window_ms" yaml:"window_ms"`
	IdleMs        float64 `json:"idle_ms" yaml:"idle_ms"`
	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`

	StatusCodes     map[int]int64     `json:"status_codes,omitempty" yaml:"status_codes,omitempty"`
	TransportErrors map[string]int64  `json:"transport_errors,omitempty" yaml:"transport_errors,omitempty"`
	Endpoints       map[string]Report `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// Quantile returns the estimate for q if it was requested in the snapshot.
func (r Report) Quantile(q float64) (time.Duration, bool) {
	for _, ql := range r.Quantiles {
		if math.Abs(ql.Quantile-q) < 1e-9 {
			return ql.Latency, true
		}
	}
	return 0, false
}

// Snapshot summarizes the current state using the aggregator's clock. Only
// quantiles inside (0, 1) are estimated; with no arguments DefaultQuantiles
// are used. Snapshot may run concurrently with Record and never blocks it.
func (a *Aggregator) Snapshot(quantiles ...float64) Report {
	return a.SnapshotAt(a.now(), quantiles...)
}

// SnapshotAt is Snapshot evaluated at an explicit instant.
func (a *Aggregator) SnapshotAt(now time.Time, quantiles ...float64) Report {
	qs := normalizeQuantiles(quantiles)
	r := a.report(now, qs)
	if a.nested {
		return r
	}
	a.endpoints.Range(func(key, value any) bool {
		if r.Endpoints == nil {
			r.Endpoints = make(map[string]Report)
		}
		r.Endpoints[key.(string)] = value.(*Aggregator).report(now, qs)
		return true
	})
	return r
}

// report reads each counter once. Total is the sum of the outcome counters
// it read, so a snapshot taken mid-burst still partitions exactly.
func (a *Aggregator) report(now time.Time, qs []float64) Report {
	r := Report{
		RunID:     a.id,
		Successes: a.outcomes[Success].Load(),
		FailuresByClass: FailureCounts{
			Transport: a.outcomes[TransportFailure].Load(),
			Status:    a.outcomes[StatusFailure].Load(),
		},
		BytesTotal:     a.bytes.Load(),
		BytesSentTotal: a.bytesSent.Load(),
	}
	r.Failures = r.FailuresByClass.Total()
	r.Total = r.Successes + r.Failures
	total := r.Total

	elapsed := now.Sub(a.start)
	if elapsed < 0 {
		elapsed = 0
	}
	r.Elapsed = elapsed

	if total > 0 {
		r.ErrorRate = float64(r.Failures) / float64(total)
		r.MeanLatency = time.Duration(a.durSum.Load() / total)
		if v := a.minLat.Load(); v != math.MaxInt64 {
			r.MinLatency = time.Duration(v)
		}
		if v := a.maxLat.Load(); v >= 0 {
			r.MaxLatency = time.Duration(v)
		}
		if last := a.last.Load(); last != math.MinInt64 && elapsed > time.Duration(last) {
			r.Idle = elapsed - time.Duration(last)
		}
		r.Quantiles = a.quantiles(qs, r.MinLatency, r.MaxLatency)
	}

	if secs := elapsed.Seconds(); secs > 0 {
		r.ThroughputRPS = float64(total) / secs
		r.ThroughputBPS = float64(r.BytesTotal) / secs
		r.SentBPS = float64(r.BytesSentTotal) / secs
	}

	w := a.window.sum(floorSeconds(now.Sub(a.start)))
	if w.span > 0 {
		r.Window = w.span
		r.WindowRPS = float64(w.count) / w.span.Seconds()
		r.WindowBPS = float64(w.bytes) / w.span.Seconds()
	}

	r.StatusCodes = collectCounters[int](&a.statusCodes)
	r.TransportErrors = collectCounters[string](&a.reasons)

	r.ElapsedMs = ms(r.Elapsed)
	r.WindowMs = ms(r.Window)
	r.IdleMs = ms(r.Idle)
	r.MinLatencyMs = ms(r.MinLatency)
	r.MaxLatencyMs = ms(r.MaxLatency)
	r.MeanLatencyMs = ms(r.MeanLatency)
	return r
}

// quantiles estimates qs from the sketch and pins each estimate into the
// exactly tracked [lo, hi] range.
func (a *Aggregator) quantiles(qs []float64, lo, hi time.Duration) []QuantileLatency {
	est := a.sketch.quantiles(qs)
	if len(est) == 0 {
		return nil
	}
	out := make([]QuantileLatency, len(qs))
	for i, q := range qs {
		d := est[i]
		if d < lo {
			d = lo
		}
		if d > hi {
			d = hi
		}
		out[i] = QuantileLatency{Quantile: q, Latency: d, LatencyMs: ms(d)}
	}
	return out
}

func normalizeQuantiles(qs []float64) []float64 {
	if len(qs) == 0 {
		qs = DefaultQuantiles
	}
	out := make([]float64, 0, len(qs))
	for _, q := range qs {
		if validQuantile(q) {
			out = append(out, q)
		}
	}
	sort.Float64s(out)
	uniq := out[:0]
	for _, q := range out {
		if len(uniq) == 0 || q != uniq[len(uniq)-1] {
			uniq = append(uniq, q)
		}
	}
	return uniq
}

func collectCounters[K comparable](m *sync.Map) map[K]int64 {
	var out map[K]int64
	m.Range(func(key, value any) bool {
		if out == nil {
			out = make(map[K]int64)
		}
		out[key.(K)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
