// Package metrics aggregates per-request samples from a load test into a
// bounded, concurrently updated summary.
//
// # Aggregator
//
// The central [Aggregator] type is shared by every worker. Each completed
// attempt is reported exactly once as a [Sample]:
//
//	agg := metrics.NewAggregator(metrics.WithLogger(logger))
//
//	agg.Record(metrics.Sample{
//		Duration:   latency,
//		Outcome:    metrics.Success,
//		Bytes:      n,
//		Timestamp:  time.Now(),
//		StatusCode: 200,
//	})
//
//	report := agg.Snapshot(0.5, 0.99)
//
// Record never blocks on other producers: counters are atomics, the latency
// distribution is a [LatencySketch] of atomic bucket counters, and the
// instantaneous rate is a ring of per-second buckets that are replaced in
// place as time moves on. Memory is fixed when the Aggregator is created and
// does not grow with the number of samples.
//
// # Reports
//
// A [Report] carries counts, error rate, overall and windowed throughput, and
// latency quantiles. Quantile estimates are within [SketchOptions.RelativeError]
// of the true value for latencies inside the sketch range and always lie
// within the observed [min, max]. Durations are exposed both as
// time.Duration and as millisecond floats for JSON consumers.
//
// # Failure classes
//
// A failed attempt is either a transport failure (no response, see
// [TransportReason]) or a status failure (a response the caller rejected).
// Both are counted toward the error rate and kept apart in
// [Report.FailuresByClass].
package metrics
