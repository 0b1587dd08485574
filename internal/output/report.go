package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/crankmeter/internal/config"
	"github.com/torosent/crankmeter/internal/metrics"
)

// Print renders r in the requested format. Unknown formats fall back to text.
func Print(w io.Writer, format config.OutputFormat, r metrics.Report) error {
	switch format {
	case config.OutputJSON:
		return PrintJSONReport(w, r)
	case config.OutputYAML:
		return PrintYAMLReport(w, r)
	default:
		PrintReport(w, r)
		return nil
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r metrics.Report) {
	fmt.Fprintln(w, "\n--- Load Test Results ---")
	if r.RunID != "" {
		fmt.Fprintf(w, "Run ID:            %s\n", r.RunID)
	}
	fmt.Fprintf(w, "Total Requests:    %d\n", r.Total)
	fmt.Fprintf(w, "Successful:        %d\n", r.Successes)
	fmt.Fprintf(w, "Failed:            %d (transport %d, status %d)\n",
		r.Failures, r.FailuresByClass.Transport, r.FailuresByClass.Status)
	fmt.Fprintf(w, "Error Rate:        %.2f%%\n", r.ErrorRate*100)
	fmt.Fprintf(w, "Duration:          %s\n", round(r.Elapsed))
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", r.ThroughputRPS)
	fmt.Fprintf(w, "Bytes received:    %d (%.2f B/s)\n", r.BytesTotal, r.ThroughputBPS)
	if r.BytesSentTotal > 0 {
		fmt.Fprintf(w, "Bytes sent:        %d (%.2f B/s)\n", r.BytesSentTotal, r.SentBPS)
	}
	if r.Window > 0 {
		fmt.Fprintf(w, "Last %-13s %.2f req/s, %.2f B/s\n", round(r.Window).String()+":", r.WindowRPS, r.WindowBPS)
	}

	fmt.Fprintln(w, "\nLatency:")
	if r.Total == 0 {
		fmt.Fprintln(w, "  No samples recorded")
	} else {
		fmt.Fprintf(w, "  Min:             %s\n", round(r.MinLatency))
		fmt.Fprintf(w, "  Max:             %s\n", round(r.MaxLatency))
		fmt.Fprintf(w, "  Mean:            %s\n", round(r.MeanLatency))
		for _, q := range r.Quantiles {
			fmt.Fprintf(w, "  %-17s%s\n", QuantileLabel(q.Quantile)+":", round(q.Latency))
		}
	}

	if len(r.StatusCodes) > 0 {
		fmt.Fprintln(w, "\nStatus Codes:")
		writeRows(w, metrics.FlattenStatusCodes(r.StatusCodes), "  ")
	}
	if len(r.TransportErrors) > 0 {
		fmt.Fprintln(w, "\nTransport Errors:")
		writeRows(w, metrics.FlattenReasons(r.TransportErrors), "  ")
	}

	if len(r.Endpoints) > 0 {
		fmt.Fprintln(w, "\nEndpoint Breakdown:")
		for _, name := range endpointsByVolume(r.Endpoints) {
			endpoint := r.Endpoints[name]
			share := 0.0
			if r.Total > 0 {
				share = (float64(endpoint.Total) / float64(r.Total)) * 100
			}
			p99, _ := endpoint.Quantile(0.99)

			fmt.Fprintf(
				w,
				"  - %s: total=%d (%.1f%%), successes=%d, failures=%d, rps=%.2f, p99=%s\n",
				name,
				endpoint.Total,
				share,
				endpoint.Successes,
				endpoint.Failures,
				endpoint.ThroughputRPS,
				round(p99),
			)
			if len(endpoint.StatusCodes) > 0 {
				fmt.Fprintln(w, "    Status Codes:")
				writeRows(w, metrics.FlattenStatusCodes(endpoint.StatusCodes), "      ")
			}
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r metrics.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report with the same field names
// as the JSON report.
func PrintYAMLReport(w io.Writer, r metrics.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// QuantileLabel formats 0.99 as "P99" and 0.999 as "P99.9".
func QuantileLabel(q float64) string {
	pct := math.Round(q*100*1000) / 1000
	return "P" + strconv.FormatFloat(pct, 'f', -1, 64)
}

func writeRows(w io.Writer, rows []metrics.CountRow, indent string) {
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s: %d\n", indent, row.Label, row.Count)
	}
}

func endpointsByVolume(endpoints map[string]metrics.Report) []string {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ti, tj := endpoints[names[i]].Total, endpoints[names[j]].Total
		if ti != tj {
			return ti > tj
		}
		return names[i] < names[j]
	})
	return names
}

func round(d time.Duration) time.Duration {
	if d >= time.Millisecond {
		return d.Round(10 * time.Microsecond)
	}
	return d.Round(time.Microsecond)
}
