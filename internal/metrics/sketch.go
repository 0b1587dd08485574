package metrics

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// SketchOptions bound the range and resolution of a LatencySketch.
type SketchOptions struct {
	Min   time.Duration // lower edge of the first bucket
	Max   time.Duration // values above Max land in the last bucket
	Ratio float64       // multiplicative bucket width, at least MinSketchRatio
}

// MinSketchRatio is the finest bucket width accepted. Narrower ratios are
// raised to it so the bucket count stays in the tens of thousands.
const MinSketchRatio = 1.001

// DefaultSketchOptions track 1µs to 1h at 2% bucket width (≤1% relative error).
var DefaultSketchOptions = SketchOptions{
	Min:   time.Microsecond,
	Max:   time.Hour,
	Ratio: 1.02,
}

func (o SketchOptions) normalize() SketchOptions {
	if o.Min <= 0 {
		o.Min = DefaultSketchOptions.Min
	}
	if o.Max <= o.Min {
		o.Max = DefaultSketchOptions.Max
		if o.Max <= o.Min {
			o.Max = 2 * o.Min
		}
	}
	switch {
	case !(o.Ratio > 1) || math.IsInf(o.Ratio, 0):
		o.Ratio = DefaultSketchOptions.Ratio
	case o.Ratio < MinSketchRatio:
		o.Ratio = MinSketchRatio
	}
	return o
}

// BucketCount returns ceil(ln(Max/Min) / ln(Ratio)) + 1, the number of
// counters a sketch built from these options allocates.
func (o SketchOptions) BucketCount() int {
	o = o.normalize()
	return int(math.Ceil(math.Log(float64(o.Max)/float64(o.Min))/math.Log(o.Ratio))) + 1
}

// RelativeError is the worst-case relative error of a quantile estimate for
// values inside [Min, Max].
func (o SketchOptions) RelativeError() float64 {
	return (o.normalize().Ratio - 1) / 2
}

// LatencySketch is a logarithmic-bucket histogram. Bucket i covers
// [Min·Ratio^i, Min·Ratio^(i+1)) and is a single atomic counter, so
// concurrent inserts only contend on the bucket they hit.
type LatencySketch struct {
	opts     SketchOptions
	min      float64
	ratio    float64
	logRatio float64
	counts   []atomic.Int64
}

// NewLatencySketch allocates all buckets up front; memory never grows.
func NewLatencySketch(opts SketchOptions) *LatencySketch {
	opts = opts.normalize()
	return &LatencySketch{
		opts:     opts,
		min:      float64(opts.Min),
		ratio:    opts.Ratio,
		logRatio: math.Log(opts.Ratio),
		counts:   make([]atomic.Int64, opts.BucketCount()),
	}
}

// Options returns the normalized options the sketch was built with.
func (s *LatencySketch) Options() SketchOptions {
	return s.opts
}

// Len returns the fixed number of buckets.
func (s *LatencySketch) Len() int {
	return len(s.counts)
}

// Insert adds one observation. Out-of-range values are clamped into the
// first or last bucket rather than dropped.
func (s *LatencySketch) Insert(d time.Duration) {
	s.counts[s.index(d)].Add(1)
}

func (s *LatencySketch) index(d time.Duration) int {
	v := float64(d)
	if v <= s.min {
		return 0
	}
	f := math.Log(v/s.min) / s.logRatio
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f >= float64(len(s.counts)-1) {
		return len(s.counts) - 1
	}
	return int(f)
}

// midpoint is the arithmetic centre of bucket i.
func (s *LatencySketch) midpoint(i int) time.Duration {
	lo := s.min * math.Pow(s.ratio, float64(i))
	return time.Duration(lo * (1 + s.ratio) / 2)
}

// load copies the counters so a quantile walk sees one consistent view
// while producers keep inserting.
func (s *LatencySketch) load() ([]int64, int64) {
	counts := make([]int64, len(s.counts))
	var total int64
	for i := range s.counts {
		c := s.counts[i].Load()
		counts[i] = c
		total += c
	}
	return counts, total
}

// Count returns the number of inserted observations.
func (s *LatencySketch) Count() int64 {
	var total int64
	for i := range s.counts {
		total += s.counts[i].Load()
	}
	return total
}

// NonEmpty returns how many buckets hold at least one observation.
func (s *LatencySketch) NonEmpty() int {
	n := 0
	for i := range s.counts {
		if s.counts[i].Load() > 0 {
			n++
		}
	}
	return n
}

// Quantile estimates a single quantile. ok is false when the sketch is empty
// or q is outside (0, 1).
func (s *LatencySketch) Quantile(q float64) (time.Duration, bool) {
	if !validQuantile(q) {
		return 0, false
	}
	est := s.quantiles([]float64{q})
	if len(est) == 0 {
		return 0, false
	}
	return est[0], true
}

// quantiles expects qs sorted ascending and validated. It returns nil when
// the sketch is empty.
func (s *LatencySketch) quantiles(qs []float64) []time.Duration {
	counts, total := s.load()
	if total == 0 || len(qs) == 0 {
		return nil
	}
	out := make([]time.Duration, len(qs))
	idx, cum := 0, counts[0]
	for n, q := range qs {
		rank := int64(math.Ceil(q * float64(total)))
		if rank < 1 {
			rank = 1
		}
		for cum < rank && idx < len(counts)-1 {
			idx++
			cum += counts[idx]
		}
		out[n] = s.midpoint(idx)
	}
	return out
}

// Histogram exports the sketch into an HDR histogram in microseconds. Each
// bucket contributes its count at the bucket midpoint.
func (s *LatencySketch) Histogram() *hdrhistogram.Histogram {
	highest := s.opts.Max.Microseconds()
	if highest < 2 {
		highest = 2
	}
	h := hdrhistogram.New(1, highest, 3)
	counts, _ := s.load()
	for i, c := range counts {
		if c == 0 {
			continue
		}
		us := s.midpoint(i).Microseconds()
		if us < h.LowestTrackableValue() {
			us = h.LowestTrackableValue()
		}
		if us > h.HighestTrackableValue() {
			us = h.HighestTrackableValue()
		}
		_ = h.RecordValues(us, c)
	}
	return h
}

func validQuantile(q float64) bool {
	return q > 0 && q < 1
}
