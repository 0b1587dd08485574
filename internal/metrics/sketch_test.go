package metrics_test

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/torosent/crankmeter/internal/metrics"
)

func TestSketchBucketCount(t *testing.T) {
	tests := []struct {
		name string
		opts metrics.SketchOptions
	}{
		{name: "defaults", opts: metrics.DefaultSketchOptions},
		{name: "1ms to 60s", opts: metrics.SketchOptions{Min: time.Millisecond, Max: time.Minute, Ratio: 1.02}},
		{name: "coarse", opts: metrics.SketchOptions{Min: time.Microsecond, Max: time.Second, Ratio: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := int(math.Ceil(math.Log(float64(tt.opts.Max)/float64(tt.opts.Min))/math.Log(tt.opts.Ratio))) + 1
			if got := tt.opts.BucketCount(); got != want {
				t.Fatalf("BucketCount() = %d, want %d", got, want)
			}
			if got := metrics.NewLatencySketch(tt.opts).Len(); got != want {
				t.Fatalf("Len() = %d, want %d", got, want)
			}
		})
	}
}

func TestSketchOptionsNormalize(t *testing.T) {
	s := metrics.NewLatencySketch(metrics.SketchOptions{})
	if s.Options() != metrics.DefaultSketchOptions {
		t.Fatalf("expected defaults, got %+v", s.Options())
	}
	if got := metrics.DefaultSketchOptions.RelativeError(); math.Abs(got-0.01) > 1e-12 {
		t.Fatalf("expected 1%% relative error, got %f", got)
	}
}

func TestSketchRaisesRatioToFinestWidth(t *testing.T) {
	s := metrics.NewLatencySketch(metrics.SketchOptions{Min: time.Microsecond, Max: time.Hour, Ratio: 1.0000001})
	if got := s.Options().Ratio; got != metrics.MinSketchRatio {
		t.Fatalf("expected ratio %g, got %g", metrics.MinSketchRatio, got)
	}
	if s.Len() > 25_000 {
		t.Fatalf("expected a bounded bucket count, got %d", s.Len())
	}
}

func TestSketchBoundedMemory(t *testing.T) {
	n := 10_000_000
	if testing.Short() {
		n = 100_000
	}

	s := metrics.NewLatencySketch(metrics.DefaultSketchOptions)
	before := s.Len()

	rng := rand.New(rand.NewPCG(1, 2))
	span := int64(time.Minute - time.Millisecond)
	for i := 0; i < n; i++ {
		s.Insert(time.Millisecond + time.Duration(rng.Int64N(span)))
	}

	if s.Len() != before {
		t.Fatalf("bucket count changed from %d to %d", before, s.Len())
	}
	if s.Count() != int64(n) {
		t.Fatalf("expected %d observations, got %d", n, s.Count())
	}
	bound := metrics.SketchOptions{Min: time.Millisecond, Max: time.Minute, Ratio: 1.02}.BucketCount()
	if s.NonEmpty() > bound {
		t.Fatalf("%d non-empty buckets exceeds %d for the 1ms-60s range", s.NonEmpty(), bound)
	}
}

func TestSketchQuantileAccuracy(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	distributions := map[string]func() time.Duration{
		"uniform 1-100ms": func() time.Duration {
			return time.Millisecond + time.Duration(rng.Int64N(int64(99*time.Millisecond)))
		},
		"exponential mean 50ms": func() time.Duration {
			return time.Millisecond + time.Duration(rng.ExpFloat64()*float64(50*time.Millisecond))
		},
		"lognormal": func() time.Duration {
			return time.Duration(math.Exp(rng.NormFloat64()*1.5) * float64(20*time.Millisecond))
		},
	}

	for name, draw := range distributions {
		t.Run(name, func(t *testing.T) {
			s := metrics.NewLatencySketch(metrics.DefaultSketchOptions)
			values := make([]time.Duration, 20000)
			for i := range values {
				values[i] = draw()
				s.Insert(values[i])
			}
			sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

			for _, q := range []float64{0.5, 0.9, 0.99} {
				want := exactQuantile(values, q)
				got, ok := s.Quantile(q)
				if !ok {
					t.Fatalf("p%v undefined", q*100)
				}
				if rel := relErr(got, want); rel > 0.02 {
					t.Errorf("p%v: got %s want %s (relative error %.4f)", q*100, got, want, rel)
				}
			}
		})
	}
}

func TestSketchQuantileEdges(t *testing.T) {
	s := metrics.NewLatencySketch(metrics.DefaultSketchOptions)
	if _, ok := s.Quantile(0.5); ok {
		t.Fatal("expected empty sketch to have no quantiles")
	}

	s.Insert(0)
	s.Insert(2 * time.Hour)
	if s.Count() != 2 {
		t.Fatalf("out-of-range values must be kept, got count %d", s.Count())
	}
	for _, q := range []float64{0, 1, -0.5, 1.5, math.NaN()} {
		if _, ok := s.Quantile(q); ok {
			t.Errorf("expected q=%v to be rejected", q)
		}
	}
}

func TestSketchHistogramExport(t *testing.T) {
	s := metrics.NewLatencySketch(metrics.DefaultSketchOptions)
	for i := 0; i < 1000; i++ {
		s.Insert(42 * time.Millisecond)
	}
	s.Insert(3 * time.Millisecond)

	h := s.Histogram()
	if h.TotalCount() != s.Count() {
		t.Fatalf("expected %d values in histogram, got %d", s.Count(), h.TotalCount())
	}

	got := time.Duration(h.ValueAtQuantile(99)) * time.Microsecond
	if rel := relErr(got, 42*time.Millisecond); rel > 0.02 {
		t.Fatalf("hdr p99 %s too far from 42ms (%.4f)", got, rel)
	}
	est, _ := s.Quantile(0.99)
	if rel := relErr(got, est); rel > 0.01 {
		t.Fatalf("hdr p99 %s disagrees with sketch p99 %s", got, est)
	}
}

func exactQuantile(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func relErr(got, want time.Duration) float64 {
	if want == 0 {
		return math.Abs(float64(got))
	}
	return math.Abs(float64(got-want)) / float64(want)
}
