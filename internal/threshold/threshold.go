// Package threshold turns assertions such as "http_req_duration:p95 < 500"
// into pass/fail results over a metrics.Report.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/crankmeter/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "http_req_duration", "http_req_failed"
	Aggregate string  // e.g., "p95", "p99.9", "avg", "max", "rate"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Quantile returns the quantile a "pNN" aggregate refers to.
func (t Threshold) Quantile() (float64, bool) {
	return parsePercentile(t.Aggregate)
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against a report.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Quantiles lists the quantiles a snapshot must include for Evaluate to see
// every percentile threshold, sorted and without duplicates.
func (e *Evaluator) Quantiles() []float64 {
	seen := map[float64]bool{}
	var qs []float64
	for _, t := range e.thresholds {
		if q, ok := t.Quantile(); ok && !seen[q] {
			seen[q] = true
			qs = append(qs, q)
		}
	}
	sort.Float64s(qs)
	return qs
}

// Evaluate checks all thresholds against the provided report.
func (e *Evaluator) Evaluate(report metrics.Report) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		result := e.evaluateOne(t, report)
		results = append(results, result)
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, report metrics.Report) Result {
	actual, err := extractMetricValue(t, report)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("✗ %s: error: %v", t.Raw, err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9.]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "http_req_duration:p95 < 500"     (latency percentile in ms, any pNN or pNN.N)
// - "http_req_duration:avg < 200"     (average latency in ms)
// - "http_req_duration:max < 1000"    (max latency in ms)
// - "http_req_failed:rate < 0.01"     (failure rate as decimal)
// - "http_req_failed:count < 10"      (failure count; also transport, status)
// - "http_requests:rate > 100"        (requests per second over the whole run)
// - "http_requests:window_rate > 100" (requests per second over the recent window)
// - "data_received:rate > 1024"       (bytes per second; also count)
// - "data_sent:count > 0"             (request bytes; also rate)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'http_req_duration:p95 < 500')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := supported[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: http_req_duration, http_req_failed, http_requests, data_received, data_sent)", metric)
	}
	if !aggregates(aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s", aggregate, metric)
	}

	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var supported = map[string]func(string) bool{
	"http_req_duration": func(a string) bool {
		if _, ok := parsePercentile(a); ok {
			return true
		}
		return oneOf(a, "avg", "mean", "min", "max")
	},
	"http_req_failed": func(a string) bool { return oneOf(a, "rate", "count", "transport", "status") },
	"http_requests":   func(a string) bool { return oneOf(a, "rate", "window_rate", "count") },
	"data_received":   func(a string) bool { return oneOf(a, "rate", "window_rate", "count") },
	"data_sent":       func(a string) bool { return oneOf(a, "rate", "count") },
}

func oneOf(s string, options ...string) bool {
	for _, v := range options {
		if s == v {
			return true
		}
	}
	return false
}

func isValidOperator(operator string) bool {
	return oneOf(operator, "<", "<=", ">", ">=", "==")
}

// parsePercentile reads "p95" as 0.95 and "p99.9" as 0.999.
func parsePercentile(aggregate string) (float64, bool) {
	if !strings.HasPrefix(aggregate, "p") {
		return 0, false
	}
	pct, err := strconv.ParseFloat(aggregate[1:], 64)
	if err != nil || pct <= 0 || pct >= 100 {
		return 0, false
	}
	return pct / 100, true
}

func extractMetricValue(t Threshold, report metrics.Report) (float64, error) {
	switch t.Metric {
	case "http_req_duration":
		return extractLatencyMetric(t.Aggregate, report)
	case "http_req_failed":
		return extractFailureMetric(t.Aggregate, report)
	case "http_requests":
		return extractRequestMetric(t.Aggregate, report)
	case "data_received":
		return extractDataMetric(t.Aggregate, report)
	case "data_sent":
		return extractSentMetric(t.Aggregate, report)
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatencyMetric(aggregate string, report metrics.Report) (float64, error) {
	if q, ok := parsePercentile(aggregate); ok {
		if report.Total == 0 {
			return 0, nil
		}
		d, ok := report.Quantile(q)
		if !ok {
			return 0, fmt.Errorf("quantile %g was not computed", q)
		}
		return float64(d) / 1e6, nil
	}
	switch aggregate {
	case "avg", "mean":
		return report.MeanLatencyMs, nil
	case "min":
		return report.MinLatencyMs, nil
	case "max":
		return report.MaxLatencyMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for http_req_duration", aggregate)
	}
}

func extractFailureMetric(aggregate string, report metrics.Report) (float64, error) {
	switch aggregate {
	case "count":
		return float64(report.Failures), nil
	case "transport":
		return float64(report.FailuresByClass.Transport), nil
	case "status":
		return float64(report.FailuresByClass.Status), nil
	case "rate":
		return report.ErrorRate, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for http_req_failed (use 'count', 'transport', 'status' or 'rate')", aggregate)
	}
}

func extractRequestMetric(aggregate string, report metrics.Report) (float64, error) {
	switch aggregate {
	case "count":
		return float64(report.Total), nil
	case "rate":
		return report.ThroughputRPS, nil
	case "window_rate":
		return report.WindowRPS, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for http_requests (use 'count', 'rate' or 'window_rate')", aggregate)
	}
}

func extractDataMetric(aggregate string, report metrics.Report) (float64, error) {
	switch aggregate {
	case "count":
		return float64(report.BytesTotal), nil
	case "rate":
		return report.ThroughputBPS, nil
	case "window_rate":
		return report.WindowBPS, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for data_received (use 'count', 'rate' or 'window_rate')", aggregate)
	}
}

func extractSentMetric(aggregate string, report metrics.Report) (float64, error) {
	switch aggregate {
	case "count":
		return float64(report.BytesSentTotal), nil
	case "rate":
		return report.SentBPS, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for data_sent (use 'count' or 'rate')", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
