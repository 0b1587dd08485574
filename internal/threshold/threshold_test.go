package threshold

import (
	"math"
	"testing"
	"time"

	"github.com/torosent/crankmeter/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "valid p95 latency threshold",
			input: "http_req_duration:p95 < 500",
			want: Threshold{
				Metric:    "http_req_duration",
				Aggregate: "p95",
				Operator:  "<",
				Value:     500,
				Raw:       "http_req_duration:p95 < 500",
			},
			wantError: false,
		},
		{
			name:  "valid failure rate threshold",
			input: "http_req_failed:rate < 0.01",
			want: Threshold{
				Metric:    "http_req_failed",
				Aggregate: "rate",
				Operator:  "<",
				Value:     0.01,
				Raw:       "http_req_failed:rate < 0.01",
			},
			wantError: false,
		},
		{
			name:  "valid p99 latency with <=",
			input: "http_req_duration:p99 <= 1000",
			want: Threshold{
				Metric:    "http_req_duration",
				Aggregate: "p99",
				Operator:  "<=",
				Value:     1000,
				Raw:       "http_req_duration:p99 <= 1000",
			},
			wantError: false,
		},
		{
			name:  "valid requests rate threshold with >",
			input: "http_requests:rate > 100",
			want: Threshold{
				Metric:    "http_requests",
				Aggregate: "rate",
				Operator:  ">",
				Value:     100,
				Raw:       "http_requests:rate > 100",
			},
			wantError: false,
		},
		{
			name:  "valid avg latency",
			input: "http_req_duration:avg < 200",
			want: Threshold{
				Metric:    "http_req_duration",
				Aggregate: "avg",
				Operator:  "<",
				Value:     200,
				Raw:       "http_req_duration:avg < 200",
			},
			wantError: false,
		},
		{
			name:      "empty string",
			input:     "",
			wantError: true,
		},
		{
			name:      "invalid format - missing operator",
			input:     "http_req_duration:p95 500",
			wantError: true,
		},
		{
			name:      "invalid metric",
			input:     "invalid_metric:p95 < 500",
			wantError: true,
		},
		{
			name:      "invalid aggregate",
			input:     "http_req_duration:median < 500",
			wantError: true,
		},
		{
			name:      "percentile on failure metric",
			input:     "http_req_failed:p95 < 1",
			wantError: true,
		},
		{
			name:      "percentile out of range",
			input:     "http_req_duration:p100 < 500",
			wantError: true,
		},
		{
			name:      "invalid operator",
			input:     "http_req_duration:p95 << 500",
			wantError: true,
		},
		{
			name:      "invalid value - not a number",
			input:     "http_req_duration:p95 < abc",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("Parse() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError {
				if got.Metric != tt.want.Metric {
					t.Errorf("Parse() Metric = %v, want %v", got.Metric, tt.want.Metric)
				}
				if got.Aggregate != tt.want.Aggregate {
					t.Errorf("Parse() Aggregate = %v, want %v", got.Aggregate, tt.want.Aggregate)
				}
				if got.Operator != tt.want.Operator {
					t.Errorf("Parse() Operator = %v, want %v", got.Operator, tt.want.Operator)
				}
				if got.Value != tt.want.Value {
					t.Errorf("Parse() Value = %v, want %v", got.Value, tt.want.Value)
				}
				if got.Raw != tt.want.Raw {
					t.Errorf("Parse() Raw = %v, want %v", got.Raw, tt.want.Raw)
				}
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	tests := []struct {
		name      string
		input     []string
		wantCount int
		wantError bool
	}{
		{
			name: "multiple valid thresholds",
			input: []string{
				"http_req_duration:p95 < 500",
				"http_req_failed:rate < 0.01",
				"http_requests:rate > 100",
			},
			wantCount: 3,
			wantError: false,
		},
		{
			name:      "empty slice",
			input:     []string{},
			wantCount: 0,
			wantError: false,
		},
		{
			name: "one valid, one invalid",
			input: []string{
				"http_req_duration:p95 < 500",
				"invalid threshold",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMultiple(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ParseMultiple() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && len(got) != tt.wantCount {
				t.Errorf("ParseMultiple() returned %d thresholds, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func testReport() metrics.Report {
	q := func(q float64, ms int) metrics.QuantileLatency {
		d := time.Duration(ms) * time.Millisecond
		return metrics.QuantileLatency{Quantile: q, Latency: d, LatencyMs: float64(ms)}
	}
	return metrics.Report{
		Total:           1000,
		Successes:       980,
		Failures:        20,
		FailuresByClass: metrics.FailureCounts{Transport: 5, Status: 15},
		ErrorRate:       0.02,
		BytesTotal:      2048000,
		BytesSentTotal:  64000,
		ThroughputRPS:   100,
		ThroughputBPS:   204800,
		SentBPS:         6400,
		WindowRPS:       120,
		WindowBPS:       245760,
		MinLatencyMs:    10,
		MaxLatencyMs:    500,
		MeanLatencyMs:   100,
		Quantiles: []metrics.QuantileLatency{
			q(0.5, 80), q(0.9, 200), q(0.95, 300), q(0.99, 400), q(0.999, 480),
		},
	}
}

func TestEvaluator(t *testing.T) {
	report := testReport()

	tests := []struct {
		name       string
		thresholds []string
		wantPass   []bool
	}{
		{
			name: "all thresholds pass",
			thresholds: []string{
				"http_req_duration:p99 < 500",
				"http_req_failed:rate < 0.05",
				"http_requests:rate > 50",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "some thresholds fail",
			thresholds: []string{
				"http_req_duration:p99 < 300",
				"http_req_failed:rate < 0.01",
				"http_requests:rate > 50",
			},
			wantPass: []bool{false, false, true},
		},
		{
			name: "latency percentiles",
			thresholds: []string{
				"http_req_duration:p50 < 100",
				"http_req_duration:p90 < 250",
				"http_req_duration:p95 <= 300",
				"http_req_duration:p99.9 < 490",
			},
			wantPass: []bool{true, true, true, true},
		},
		{
			name: "avg and max latency",
			thresholds: []string{
				"http_req_duration:avg < 150",
				"http_req_duration:max < 600",
				"http_req_duration:min > 5",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "failure classes",
			thresholds: []string{
				"http_req_failed:count < 50",
				"http_req_failed:transport == 5",
				"http_req_failed:status < 10",
			},
			wantPass: []bool{true, true, false},
		},
		{
			name: "request and data rates",
			thresholds: []string{
				"http_requests:count > 900",
				"http_requests:window_rate >= 120",
				"data_received:rate > 200000",
				"data_received:count < 1000",
				"data_sent:count == 64000",
				"data_sent:rate < 5000",
			},
			wantPass: []bool{true, true, true, false, true, false},
		},
		{
			name: "percentile missing from report",
			thresholds: []string{
				"http_req_duration:p75 < 1000",
			},
			wantPass: []bool{false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thresholds, err := ParseMultiple(tt.thresholds)
			if err != nil {
				t.Fatalf("ParseMultiple() error = %v", err)
			}

			evaluator := NewEvaluator(thresholds)
			results := evaluator.Evaluate(report)

			if len(results) != len(tt.wantPass) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.wantPass))
			}

			allPass := true
			for i, result := range results {
				allPass = allPass && tt.wantPass[i]
				if result.Pass != tt.wantPass[i] {
					t.Errorf("threshold[%d] %q: got pass=%v, want %v (actual=%.2f)",
						i, result.Threshold.Raw, result.Pass, tt.wantPass[i], result.Actual)
				}
			}
			if AllPassed(results) != allPass {
				t.Errorf("AllPassed() = %v, want %v", AllPassed(results), allPass)
			}
		})
	}
}

func TestEvaluatorAgainstAggregator(t *testing.T) {
	agg := metrics.NewAggregator()
	for i := 1; i <= 100; i++ {
		agg.Record(metrics.Sample{Duration: time.Duration(i) * time.Millisecond, Outcome: metrics.Success})
	}

	thresholds, err := ParseMultiple([]string{
		"http_req_duration:p95 < 100",
		"http_req_duration:p75 > 70",
		"http_req_failed:rate == 0",
	})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	evaluator := NewEvaluator(thresholds)

	qs := evaluator.Quantiles()
	if len(qs) != 2 || qs[0] != 0.75 || qs[1] != 0.95 {
		t.Fatalf("Quantiles() = %v, want [0.75 0.95]", qs)
	}

	results := evaluator.Evaluate(agg.Snapshot(qs...))
	if !AllPassed(results) {
		for _, r := range results {
			t.Log(r.Message)
		}
		t.Fatal("expected all thresholds to pass")
	}
}

func TestEvaluateEmptyReport(t *testing.T) {
	thresholds, err := ParseMultiple([]string{"http_req_duration:p99 < 10", "http_requests:count == 0"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	results := NewEvaluator(thresholds).Evaluate(metrics.NewAggregator().Snapshot())
	if !AllPassed(results) {
		t.Fatalf("empty report should satisfy upper bounds: %+v", results)
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{"less than true", 50, "<", 100, true},
		{"less than false", 100, "<", 50, false},
		{"less than equal", 100, "<", 100, false},
		{"less than or equal true", 50, "<=", 100, true},
		{"less than or equal equal", 100, "<=", 100, true},
		{"less than or equal false", 150, "<=", 100, false},
		{"greater than true", 150, ">", 100, true},
		{"greater than false", 50, ">", 100, false},
		{"greater than equal", 100, ">", 100, false},
		{"greater than or equal true", 150, ">=", 100, true},
		{"greater than or equal equal", 100, ">=", 100, true},
		{"greater than or equal false", 50, ">=", 100, false},
		{"equal true", 100, "==", 100, true},
		{"equal false", 100, "==", 101, false},
		{"equal with floating point precision", 100.0000000001, "==", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compareValues(tt.actual, tt.operator, tt.expected)
			if got != tt.want {
				t.Errorf("compareValues(%.2f, %s, %.2f) = %v, want %v",
					tt.actual, tt.operator, tt.expected, got, tt.want)
			}
		})
	}
}

func TestExtractMetricValue(t *testing.T) {
	report := testReport()

	tests := []struct {
		name      string
		threshold Threshold
		want      float64
		wantError bool
	}{
		{"http_req_duration p50", Threshold{Metric: "http_req_duration", Aggregate: "p50"}, 80, false},
		{"http_req_duration p99.9", Threshold{Metric: "http_req_duration", Aggregate: "p99.9"}, 480, false},
		{"http_req_duration avg", Threshold{Metric: "http_req_duration", Aggregate: "avg"}, 100, false},
		{"http_req_duration min", Threshold{Metric: "http_req_duration", Aggregate: "min"}, 10, false},
		{"http_req_duration max", Threshold{Metric: "http_req_duration", Aggregate: "max"}, 500, false},
		{"http_req_failed rate", Threshold{Metric: "http_req_failed", Aggregate: "rate"}, 0.02, false},
		{"http_req_failed count", Threshold{Metric: "http_req_failed", Aggregate: "count"}, 20, false},
		{"http_requests rate", Threshold{Metric: "http_requests", Aggregate: "rate"}, 100, false},
		{"http_requests window_rate", Threshold{Metric: "http_requests", Aggregate: "window_rate"}, 120, false},
		{"http_requests count", Threshold{Metric: "http_requests", Aggregate: "count"}, 1000, false},
		{"data_received window_rate", Threshold{Metric: "data_received", Aggregate: "window_rate"}, 245760, false},
		{"data_sent count", Threshold{Metric: "data_sent", Aggregate: "count"}, 64000, false},
		{"data_sent rate", Threshold{Metric: "data_sent", Aggregate: "rate"}, 6400, false},
		{"data_sent window_rate unsupported", Threshold{Metric: "data_sent", Aggregate: "window_rate"}, 0, true},
		{"unsupported metric", Threshold{Metric: "invalid_metric", Aggregate: "p95"}, 0, true},
		{"unsupported aggregate for metric", Threshold{Metric: "http_req_failed", Aggregate: "p95"}, 0, true},
		{"missing quantile", Threshold{Metric: "http_req_duration", Aggregate: "p75"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractMetricValue(tt.threshold, report)
			if (err != nil) != tt.wantError {
				t.Errorf("extractMetricValue() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("extractMetricValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePercentile(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"p50", 0.5, true},
		{"p99.9", 0.999, true},
		{"p0", 0, false},
		{"p100", 0, false},
		{"avg", 0, false},
		{"px", 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePercentile(tt.in)
		if ok != tt.ok || math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("parsePercentile(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
