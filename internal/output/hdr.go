package output

import (
	"fmt"
	"io"
	"os"

	"github.com/torosent/crankmeter/internal/metrics"
)

// WriteHDR writes the latency distribution as an HDR percentile table with
// values in milliseconds, the format read by HdrHistogram plotters.
func WriteHDR(w io.Writer, sketch *metrics.LatencySketch) error {
	h := sketch.Histogram()
	if _, err := h.PercentilesPrint(w, 5, 1000.0); err != nil {
		return fmt.Errorf("write hdr percentiles: %w", err)
	}
	return nil
}

// WriteHDRFile writes the percentile table to path, replacing any existing file.
func WriteHDRFile(path string, sketch *metrics.LatencySketch) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create hdr file: %w", err)
	}
	if err := WriteHDR(f, sketch); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
