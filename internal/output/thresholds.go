package output

import (
	"fmt"
	"io"

	"github.com/torosent/crankmeter/internal/threshold"
)

// PrintThresholds writes one line per evaluated threshold and a pass/fail
// summary. Nothing is written when results is empty.
func PrintThresholds(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	passed := 0
	fmt.Fprintln(w, "Thresholds:")
	for _, r := range results {
		if r.Pass {
			passed++
		}
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
	fmt.Fprintf(w, "  %d/%d passed\n", passed, len(results))
}
