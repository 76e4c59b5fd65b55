package profiler

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/warptile/warptile"
)

// Entry is the measured outcome of one profiled configuration.
type Entry struct {
	Problem    string  `json:"problem"`
	Groups     int     `json:"groups"`
	AvgMS      float64 `json:"avg_ms"`
	BestMS     float64 `json:"best_ms"`
	GFLOPS     float64 `json:"gflops"`
	Verified   bool    `json:"verified"`
	Mismatches int     `json:"mismatches,omitempty"`
}

// Report aggregates the entries of one profiler invocation.
type Report struct {
	Features warptile.CPUFeatures `json:"cpu_features"`
	Entries  []Entry              `json:"results"`
}

// NewReport starts an empty report stamped with the host's CPU features.
func NewReport() *Report {
	return &Report{Features: warptile.Features()}
}

// Add appends an entry.
func (r *Report) Add(e Entry) { r.Entries = append(r.Entries, e) }

// Failed reports whether any entry failed verification.
func (r *Report) Failed() bool {
	for _, e := range r.Entries {
		if !e.Verified && e.Mismatches > 0 {
			return true
		}
	}
	return false
}

// WriteJSON emits the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// String renders a human-readable table.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-24s %8s %10s %10s %14s %s\n",
		"problem", "groups", "avg ms", "best ms", "throughput", "verify")
	for _, e := range r.Entries {
		status := "-"
		if e.Verified {
			status = "pass"
		} else if e.Mismatches > 0 {
			status = fmt.Sprintf("FAIL (%d)", e.Mismatches)
		}
		fmt.Fprintf(&sb, "%-24s %8d %10.3f %10.3f %14s %s\n",
			e.Problem, e.Groups, e.AvgMS, e.BestMS,
			humanize.SIWithDigits(e.GFLOPS*1e9, 2, "FLOP/s"), status)
	}
	return sb.String()
}
