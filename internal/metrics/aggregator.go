package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger used for internal anomalies.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithSketch overrides the latency sketch range and resolution.
func WithSketch(opts SketchOptions) Option {
	return func(a *Aggregator) {
		a.sketchOpts = opts
	}
}

// WithRetention sets the instantaneous throughput horizon (one-second
// granularity). Values below a second are ignored; values above MaxRetention
// are capped.
func WithRetention(d time.Duration) Option {
	return func(a *Aggregator) {
		if d >= time.Second {
			a.retention = min(d, MaxRetention)
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(a *Aggregator) {
		if id != "" {
			a.id = id
		}
	}
}

// Aggregator folds Samples from any number of goroutines into bounded
// summary state. Create one per test run and share the pointer; it is never
// reset.
type Aggregator struct {
	id         string
	start      time.Time
	now        func() time.Time
	logger     *zap.Logger
	retention  time.Duration
	sketchOpts SketchOptions

	outcomes  [numOutcomes]atomic.Int64
	bytes     atomic.Int64
	bytesSent atomic.Int64
	durSum    atomic.Int64
	minLat    atomic.Int64
	maxLat    atomic.Int64
	last      atomic.Int64 // latest sample offset from start, in ns

	sketch *LatencySketch
	window *rateWindow

	statusCodes sync.Map // int -> *atomic.Int64
	reasons     sync.Map // string -> *atomic.Int64
	endpoints   sync.Map // string -> *Aggregator
	nested      bool
}

// NewAggregator creates an empty Aggregator whose elapsed time starts now.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:        time.Now,
		logger:     zap.NewNop(),
		retention:  DefaultRetention,
		sketchOpts: DefaultSketchOptions,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = ulid.Make().String()
	}
	a.start = a.now()
	a.init()
	return a
}

func (a *Aggregator) init() {
	a.minLat.Store(math.MaxInt64)
	a.maxLat.Store(-1)
	a.last.Store(math.MinInt64)
	a.sketch = NewLatencySketch(a.sketchOpts)
	a.window = newRateWindow(a.retention)
}

// child builds an endpoint breakdown sharing the parent's clock and grid.
func (a *Aggregator) child() *Aggregator {
	c := &Aggregator{
		id:         a.id,
		start:      a.start,
		now:        a.now,
		logger:     a.logger,
		retention:  a.retention,
		sketchOpts: a.sketchOpts,
		nested:     true,
	}
	c.init()
	return c
}

// ID returns the run identifier.
func (a *Aggregator) ID() string {
	return a.id
}

// Started returns the time the run began.
func (a *Aggregator) Started() time.Time {
	return a.start
}

// Sketch exposes the latency distribution, e.g. for HDR export.
func (a *Aggregator) Sketch() *LatencySketch {
	return a.sketch
}

// Record folds one sample into the aggregate. It is safe for concurrent
// use, never blocks on other producers and never fails: malformed samples
// are normalized rather than dropped.
func (a *Aggregator) Record(s Sample) {
	if s.Duration < 0 {
		s.Duration = 0
	}
	if s.Bytes < 0 {
		s.Bytes = 0
	}
	if s.BytesSent < 0 {
		s.BytesSent = 0
	}
	if !s.Outcome.valid() {
		a.logger.Warn("unknown outcome counted as transport failure", zap.Stringer("outcome", s.Outcome))
		s.Outcome = TransportFailure
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = a.now()
	}

	a.outcomes[s.Outcome].Add(1)
	a.bytes.Add(s.Bytes)
	a.bytesSent.Add(s.BytesSent)
	a.durSum.Add(int64(s.Duration))
	storeMin(&a.minLat, int64(s.Duration))
	storeMax(&a.maxLat, int64(s.Duration))
	a.sketch.Insert(s.Duration)

	offset := s.Timestamp.Sub(a.start)
	last := storeMax(&a.last, int64(offset))
	sec := floorSeconds(offset)
	if sec > floorSeconds(time.Duration(last))-a.window.size() {
		a.window.add(sec, s.Bytes)
	}

	if s.StatusCode > 0 {
		counterFor(&a.statusCodes, s.StatusCode).Add(1)
	}
	if s.Outcome == TransportFailure {
		reason := s.Reason
		if reason == "" {
			reason = "unknown"
		}
		counterFor(&a.reasons, reason).Add(1)
	}
	if s.Endpoint != "" && !a.nested {
		a.endpoint(s.Endpoint).Record(s)
	}
}

func (a *Aggregator) endpoint(name string) *Aggregator {
	if v, ok := a.endpoints.Load(name); ok {
		return v.(*Aggregator)
	}
	v, _ := a.endpoints.LoadOrStore(name, a.child())
	return v.(*Aggregator)
}

func counterFor[K comparable](m *sync.Map, key K) *atomic.Int64 {
	if v, ok := m.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// storeMin lowers v to x if x is smaller.
func storeMin(v *atomic.Int64, x int64) {
	for {
		cur := v.Load()
		if x >= cur || v.CompareAndSwap(cur, x) {
			return
		}
	}
}

// storeMax raises v to x if x is larger and returns the resulting maximum.
func storeMax(v *atomic.Int64, x int64) int64 {
	for {
		cur := v.Load()
		if x <= cur {
			return cur
		}
		if v.CompareAndSwap(cur, x) {
			return x
		}
	}
}
