// Package instrument measures a single HTTP attempt and reports it to a
// Recorder as exactly one metrics.Sample, without altering the attempt's
// result.
package instrument

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/crankmeter/internal/metrics"
	"github.com/torosent/crankmeter/internal/tracing"
)

// Recorder consumes samples. *metrics.Aggregator satisfies it.
type Recorder interface {
	Record(metrics.Sample)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(metrics.Sample)

// Record calls f(s).
func (f RecorderFunc) Record(s metrics.Sample) { f(s) }

// Result is what the transport reports about one attempt. StatusCode is 0
// when no response was received. BytesSent counts the request payload handed
// to the transport, even when the attempt then failed.
type Result struct {
	StatusCode int
	Bytes      int64
	BytesSent  int64
}

// Operation performs one attempt. A non-nil error means the transport failed
// before a usable response was obtained.
type Operation func(ctx context.Context) (Result, error)

// StatusError marks an attempt whose response status was rejected. Do never
// returns it; it is set on spans and may be returned by callers that treat
// rejected statuses as errors.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unacceptable status %d", e.StatusCode)
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Wrapper) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets the logger for bookkeeping failures.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Wrapper) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithTracer emits one client span per attempt.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Wrapper) {
		w.tracer = tracer
	}
}

// WithEndpoint labels every sample for the per-endpoint breakdown.
func WithEndpoint(name string) Option {
	return func(w *Wrapper) {
		w.endpoint = name
	}
}

// Wrapper times operations and records their outcome.
type Wrapper struct {
	recorder Recorder
	accept   AcceptFunc
	now      func() time.Time
	logger   *zap.Logger
	tracer   trace.Tracer
	endpoint string
}

// New returns a Wrapper reporting to rec. A nil accept means DefaultAccept.
func New(rec Recorder, accept AcceptFunc, opts ...Option) *Wrapper {
	if rec == nil {
		rec = RecorderFunc(func(metrics.Sample) {})
	}
	if accept == nil {
		accept = DefaultAccept
	}
	w := &Wrapper{
		recorder: rec,
		accept:   accept,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ForEndpoint returns a copy of w that labels samples with name.
func (w *Wrapper) ForEndpoint(name string) *Wrapper {
	c := *w
	c.endpoint = name
	return &c
}

// Do runs op once, records exactly one sample and returns op's result and
// error unchanged. Panics raised by op itself are not recovered.
func (w *Wrapper) Do(ctx context.Context, op Operation) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var span trace.Span
	if w.tracer != nil {
		ctx, span = tracing.StartRequestSpan(ctx, w.tracer, w.endpoint)
	}

	start := w.now()
	res, err := op(ctx)
	end := w.now()

	w.observe(span, start, end, res, err)
	return res, err
}

func (w *Wrapper) observe(span trace.Span, start, end time.Time, res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("recording sample failed",
				zap.Any("panic", r),
				zap.String("endpoint", w.endpoint),
			)
		}
	}()

	outcome, reason := Classify(res, err, w.accept)
	if span != nil {
		defer tracing.EndSpan(span, spanError(outcome, res, err),
			tracing.AttrOutcome.String(outcome.String()),
			tracing.AttrStatusCode.Int(res.StatusCode),
			tracing.AttrBytes.Int64(res.Bytes),
			tracing.AttrBytesSent.Int64(res.BytesSent),
		)
	}

	w.recorder.Record(metrics.Sample{
		Duration:   end.Sub(start),
		Outcome:    outcome,
		Bytes:      res.Bytes,
		BytesSent:  res.BytesSent,
		Timestamp:  end,
		StatusCode: res.StatusCode,
		Reason:     reason,
		Endpoint:   w.endpoint,
	})
}

// Classify maps an attempt's result to an outcome and, for transport
// failures, a reason label.
func Classify(res Result, err error, accept AcceptFunc) (metrics.Outcome, string) {
	if err != nil {
		return metrics.TransportFailure, metrics.TransportReason(err)
	}
	if accept == nil {
		accept = DefaultAccept
	}
	if !accept(res.StatusCode) {
		return metrics.StatusFailure, ""
	}
	return metrics.Success, ""
}

func spanError(outcome metrics.Outcome, res Result, err error) error {
	switch outcome {
	case metrics.TransportFailure:
		return err
	case metrics.StatusFailure:
		return &StatusError{StatusCode: res.StatusCode}
	default:
		return nil
	}
}
