package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/torosent/crankmeter/internal/metrics"
)

type Config struct {
	TargetURL    string            `mapstructure:"target"`
	Method       string            `mapstructure:"method"`
	Headers      map[string]string `mapstructure:"headers"`
	Body         string            `mapstructure:"body"`
	BodyFile     string            `mapstructure:"body_file"`
	Concurrency  int               `mapstructure:"concurrency"`
	Rate         int               `mapstructure:"rate"`
	Duration     time.Duration     `mapstructure:"duration"`
	Total        int               `mapstructure:"total"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	Arrival      ArrivalConfig     `mapstructure:"arrival"`
	Endpoints    []Endpoint        `mapstructure:"endpoints"`
	AcceptStatus string            `mapstructure:"accept_status"`
	Thresholds   []string          `mapstructure:"thresholds"`
	Report       ReportConfig      `mapstructure:"report"`
	Metrics      MetricsConfig     `mapstructure:"metrics"`
	Log          LogConfig         `mapstructure:"log"`
	Tracing      TracingConfig     `mapstructure:"tracing"`
	ConfigFile   string            `mapstructure:"-"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model"`
}

type Endpoint struct {
	Name     string            `mapstructure:"name"`
	Weight   int               `mapstructure:"weight"`
	Method   string            `mapstructure:"method"`
	URL      string            `mapstructure:"url"`
	Path     string            `mapstructure:"path"`
	Headers  map[string]string `mapstructure:"headers"`
	Body     string            `mapstructure:"body"`
	BodyFile string            `mapstructure:"body_file"`
}

type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// ReportConfig controls what is printed at the end of a run and while it is
// in progress.
type ReportConfig struct {
	Format    OutputFormat  `mapstructure:"format"`
	Quantiles []float64     `mapstructure:"quantiles"`
	HDRFile   string        `mapstructure:"hdr_file"`
	Progress  time.Duration `mapstructure:"progress"` // 0 disables the live line
}

// MetricsConfig tunes the aggregator and the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr        string        `mapstructure:"addr"`
	Retention   time.Duration `mapstructure:"retention"`
	SketchMin   time.Duration `mapstructure:"sketch_min"`
	SketchMax   time.Duration `mapstructure:"sketch_max"`
	SketchRatio float64       `mapstructure:"sketch_ratio"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an OTLP endpoint is configured, either directly or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to true when tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if !t.Enabled() {
		return false
	}
	if t.Propagate == nil {
		return true
	}
	return *t.Propagate
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.TargetURL) == "" {
		targetSatisfied := len(c.Endpoints) > 0
		for _, ep := range c.Endpoints {
			if strings.TrimSpace(ep.URL) == "" {
				targetSatisfied = false
				break
			}
		}
		if !targetSatisfied {
			issues = append(issues, "target is required (use --help for usage information)")
		}
	}

	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be >= 1")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Total < 0 {
		issues = append(issues, "total must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if strings.TrimSpace(c.Body) != "" && strings.TrimSpace(c.BodyFile) != "" {
		issues = append(issues, "body and bodyFile are mutually exclusive")
	}

	issues = append(issues, validateArrivalConfig(c.Arrival)...)
	issues = append(issues, validateEndpoints(c.Endpoints)...)
	issues = append(issues, validateReportConfig(c.Report)...)
	issues = append(issues, validateMetricsConfig(c.Metrics)...)
	issues = append(issues, validateLogConfig(c.Log)...)

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0 and 1, got %g", c.Tracing.SampleRate))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists settings that are valid but deserve the operator's attention.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Rate > 1000 {
		warnings = append(warnings, fmt.Sprintf("high rate limit configured (%d RPS); ensure you have authorization to test the target system", c.Rate))
	}
	if c.Concurrency > 500 {
		warnings = append(warnings, fmt.Sprintf("high concurrency configured (%d workers); ensure you have authorization to test the target system", c.Concurrency))
	}
	if c.Total == 0 && c.Duration == 0 {
		warnings = append(warnings, "neither total nor duration is set; the run stops only on interrupt")
	}
	return warnings
}

func validateArrivalConfig(arr ArrivalConfig) []string {
	model := arr.Model
	if model == "" {
		model = ArrivalModelUniform
	}
	switch model {
	case ArrivalModelUniform, ArrivalModelPoisson:
		return nil
	default:
		return []string{fmt.Sprintf("arrival model %q is not supported", model)}
	}
}

func validateEndpoints(endpoints []Endpoint) []string {
	var issues []string
	seenNames := map[string]int{}
	for idx, ep := range endpoints {
		if ep.Weight <= 0 {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: weight must be >= 1", idx))
		}
		if strings.TrimSpace(ep.Body) != "" && strings.TrimSpace(ep.BodyFile) != "" {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: body and bodyFile are mutually exclusive", idx))
		}
		name := strings.TrimSpace(ep.Name)
		if name != "" {
			key := strings.ToLower(name)
			if prev, ok := seenNames[key]; ok {
				issues = append(issues, fmt.Sprintf("endpoints[%d]: duplicate name also defined at index %d", idx, prev))
			} else {
				seenNames[key] = idx
			}
		}
	}
	return issues
}

func validateReportConfig(r ReportConfig) []string {
	var issues []string
	switch r.Format {
	case "", OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output format %q is not supported (use text, json or yaml)", r.Format))
	}
	for _, q := range r.Quantiles {
		if !(q > 0 && q < 1) {
			issues = append(issues, fmt.Sprintf("quantile %g must be between 0 and 1 (exclusive)", q))
		}
	}
	if r.Progress < 0 {
		issues = append(issues, "progress interval must be >= 0")
	}
	return issues
}

func validateMetricsConfig(m MetricsConfig) []string {
	var issues []string
	if m.Retention != 0 && m.Retention < time.Second {
		issues = append(issues, "metrics: retention must be at least 1s")
	}
	if m.Retention > metrics.MaxRetention {
		issues = append(issues, fmt.Sprintf("metrics: retention must be at most %s", metrics.MaxRetention))
	}
	if m.SketchMin < 0 || m.SketchMax < 0 {
		issues = append(issues, "metrics: sketch range must be positive")
	}
	if m.SketchMin > 0 && m.SketchMax > 0 && m.SketchMin >= m.SketchMax {
		issues = append(issues, "metrics: sketch_min must be below sketch_max")
	}
	if m.SketchRatio != 0 && (m.SketchRatio < metrics.MinSketchRatio || math.IsInf(m.SketchRatio, 0)) {
		issues = append(issues, fmt.Sprintf("metrics: sketch_ratio must be at least %g", metrics.MinSketchRatio))
	}
	return issues
}

func validateLogConfig(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log level %q is not supported", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log format %q is not supported (use console or json)", l.Format))
	}
	return issues
}
