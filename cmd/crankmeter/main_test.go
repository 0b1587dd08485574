package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/crankmeter/internal/config"
	"github.com/torosent/crankmeter/internal/metrics"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func runCapture(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRunJSONReport(t *testing.T) {
	server := newTestServer(t, http.StatusOK, "ok")

	stdout, _, err := runCapture(t,
		"--target", server.URL,
		"-t", "20", "-c", "2",
		"--progress", "0",
		"--output", "json",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run() failed: %v", err)
	}

	var report metrics.Report
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, stdout)
	}
	if report.Total != 20 || report.Successes != 20 || report.Failures != 0 {
		t.Fatalf("unexpected counts: total=%d successes=%d failures=%d", report.Total, report.Successes, report.Failures)
	}
	if report.BytesTotal != 40 {
		t.Errorf("BytesTotal = %d, want 40", report.BytesTotal)
	}
	if report.StatusCodes[http.StatusOK] != 20 {
		t.Errorf("status 200 count = %d, want 20", report.StatusCodes[http.StatusOK])
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}
	if len(report.Quantiles) != len(metrics.DefaultQuantiles) {
		t.Errorf("expected default quantiles, got %d", len(report.Quantiles))
	}
}

func TestRunDurationDoesNotAbortInFlightRequests(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	stdout, _, err := runCapture(t,
		"--target", server.URL,
		"-d", "1s", "-c", "4",
		"--progress", "0",
		"--output", "json",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	var report metrics.Report
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, stdout)
	}
	if report.Failures != 0 || len(report.TransportErrors) != 0 {
		t.Fatalf("run deadline recorded as failures: failures=%d reasons=%v", report.Failures, report.TransportErrors)
	}
	if report.Total == 0 || report.Successes != report.Total {
		t.Fatalf("unexpected counts: total=%d successes=%d", report.Total, report.Successes)
	}
}

func TestRunReportsBytesSent(t *testing.T) {
	server := newTestServer(t, http.StatusOK, "ok")

	stdout, _, err := runCapture(t,
		"--target", server.URL,
		"--method", "POST",
		"--body", "hello",
		"-t", "4",
		"--progress", "0",
		"--output", "json",
		"--threshold", "data_sent:count == 20",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run() failed: %v\n%s", err, stdout)
	}
	if !strings.Contains(stdout, `"bytes_sent_total": 20`) {
		t.Errorf("expected 20 bytes sent in report:\n%s", stdout)
	}
	if !strings.Contains(stdout, "1/1 passed") {
		t.Errorf("expected data_sent threshold to pass:\n%s", stdout)
	}
}

func TestRunTextReport(t *testing.T) {
	server := newTestServer(t, http.StatusOK, "ok")

	stdout, _, err := runCapture(t,
		"--target", server.URL,
		"-t", "5",
		"--progress", "0",
		"--quantiles", "0.5,0.99",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	for _, want := range []string{"Total Requests:", "P50", "P99"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("text report missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunFailuresReturnError(t *testing.T) {
	server := newTestServer(t, http.StatusInternalServerError, "")

	_, _, err := runCapture(t,
		"--target", server.URL,
		"-t", "3",
		"--progress", "0",
		"--log-level", "error",
	)
	if err == nil || !strings.Contains(err.Error(), "3 requests failed") {
		t.Fatalf("expected failure error, got %v", err)
	}
}

func TestRunAcceptStatusTurnsFailuresIntoSuccesses(t *testing.T) {
	server := newTestServer(t, http.StatusNotFound, "")

	stdout, _, err := runCapture(t,
		"--target", server.URL,
		"-t", "3",
		"--progress", "0",
		"--accept-status", "2xx,404",
		"-o", "json",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	var report metrics.Report
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON report: %v", err)
	}
	if report.Successes != 3 {
		t.Errorf("Successes = %d, want 3", report.Successes)
	}
}

func TestRunThresholds(t *testing.T) {
	server := newTestServer(t, http.StatusOK, "ok")

	stdout, _, err := runCapture(t,
		"--target", server.URL,
		"-t", "10",
		"--progress", "0",
		"--threshold", "http_req_duration:p99.9 < 60000",
		"--threshold", "http_requests:count >= 10",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	if !strings.Contains(stdout, "2/2 passed") {
		t.Errorf("expected passing thresholds:\n%s", stdout)
	}

	stdout, _, err = runCapture(t,
		"--target", server.URL,
		"-t", "10",
		"--progress", "0",
		"--threshold", "http_requests:count > 10",
		"--log-level", "error",
	)
	if err == nil || !strings.Contains(err.Error(), "thresholds failed") {
		t.Fatalf("expected threshold failure, got %v", err)
	}
	if !strings.Contains(stdout, "0/1 passed") {
		t.Errorf("expected failing threshold summary:\n%s", stdout)
	}
}

func TestRunWritesHDRFile(t *testing.T) {
	server := newTestServer(t, http.StatusOK, "ok")
	path := filepath.Join(t.TempDir(), "latency.hdr")

	_, _, err := runCapture(t,
		"--target", server.URL,
		"-t", "5",
		"--progress", "0",
		"--hdr-file", path,
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read hdr file: %v", err)
	}
	if !strings.Contains(string(data), "Percentile") {
		t.Errorf("unexpected hdr content:\n%s", data)
	}
}

func TestRunEndpointsFromConfig(t *testing.T) {
	server := newTestServer(t, http.StatusOK, "ok")
	configPath := filepath.Join(t.TempDir(), "run.yaml")
	content := fmt.Sprintf(`
target: %s
total: 40
concurrency: 4
report:
  format: json
  progress: 0
log:
  level: error
endpoints:
  - name: users
    path: /users
    weight: 1
  - name: orders
    path: /orders
    weight: 1
`, server.URL)
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	stdout, _, err := runCapture(t, "--config", configPath)
	if err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	var report metrics.Report
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, stdout)
	}
	users, orders := report.Endpoints["users"], report.Endpoints["orders"]
	if users.Total == 0 || orders.Total == 0 {
		t.Fatalf("expected traffic on both endpoints, got %+v", report.Endpoints)
	}
	if users.Total+orders.Total != report.Total {
		t.Fatalf("endpoint totals %d+%d != %d", users.Total, orders.Total, report.Total)
	}
}

func TestRunHelpReturnsNil(t *testing.T) {
	if _, _, err := runCapture(t); err != nil {
		t.Fatalf("expected nil error for help, got %v", err)
	}
}

func TestRunValidationError(t *testing.T) {
	_, _, err := runCapture(t, "--target", "http://localhost", "-c", "0")
	var vErr config.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRunRejectsBadAcceptStatus(t *testing.T) {
	_, _, err := runCapture(t, "--target", "http://localhost", "-t", "1", "--accept-status", "abc", "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "accept status") {
		t.Fatalf("expected accept-status error, got %v", err)
	}
}

func TestMergeQuantiles(t *testing.T) {
	got := mergeQuantiles(nil, []float64{0.999})
	if len(got) != len(metrics.DefaultQuantiles)+1 || got[len(got)-1] != 0.999 {
		t.Fatalf("unexpected merge: %v", got)
	}
	got = mergeQuantiles([]float64{0.75}, nil)
	if len(got) != 1 || got[0] != 0.75 {
		t.Fatalf("unexpected merge: %v", got)
	}
}
