package orchestrator

import (
	"fmt"
	"strings"

	"github.com/bebsworthy/diagmcp/internal/protocol"
)

const (
	summaryRule    = "============================================================"
	markerSuccess  = "✅ SUCCESS"
	markerFailed   = "❌ FAILED"
	unknownTaskTag = "Unknown Task"
)

// Rollup is the aggregate view of a result sequence
type Rollup struct {
	Total          int
	Successful     int
	Failed         int
	SeverityCounts map[protocol.Severity]int
	Critical       []string
	Text           string
}

// Summarize computes counts and the human-readable rollup for results.
// It does not modify results and returns the same output for the same input.
func Summarize(results []protocol.CapabilityResult) Rollup {
	rollup := Rollup{
		Total:          len(results),
		SeverityCounts: newSeverityCounts(),
	}

	for _, r := range results {
		if r.Success {
			rollup.Successful++
		} else {
			rollup.Failed++
		}
		if _, ok := rollup.SeverityCounts[r.Severity]; ok {
			rollup.SeverityCounts[r.Severity]++
		}
		if r.Severity == protocol.SeverityHigh {
			rollup.Critical = append(rollup.Critical, fmt.Sprintf("%s: %s", resultLabel(r), singleLine(r.Analysis)))
		}
	}

	rollup.Text = renderRollup(rollup, results)
	return rollup
}

func newSeverityCounts() map[protocol.Severity]int {
	return map[protocol.Severity]int{
		protocol.SeverityHigh:   0,
		protocol.SeverityMedium: 0,
		protocol.SeverityLow:    0,
	}
}

func resultLabel(r protocol.CapabilityResult) string {
	for _, label := range []string{r.Task, r.Capability} {
		if label = singleLine(label); label != "" {
			return label
		}
	}
	return unknownTaskTag
}

// singleLine collapses whitespace, line breaks included, and drops the marker
// runes so text taken from model output or capabilities cannot add rollup
// lines of its own.
func singleLine(s string) string {
	s = strings.NewReplacer("✅", "", "❌", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func renderRollup(rollup Rollup, results []protocol.CapabilityResult) string {
	var b strings.Builder

	b.WriteString(summaryRule + "\n")
	b.WriteString("DIAGNOSTIC EXECUTION SUMMARY\n")
	b.WriteString(summaryRule + "\n")
	fmt.Fprintf(&b, "Total Tasks: %d\n", rollup.Total)
	fmt.Fprintf(&b, "Successful: %d\n", rollup.Successful)
	fmt.Fprintf(&b, "Failed: %d\n", rollup.Failed)
	fmt.Fprintf(&b, "Severity: high=%d medium=%d low=%d\n",
		rollup.SeverityCounts[protocol.SeverityHigh],
		rollup.SeverityCounts[protocol.SeverityMedium],
		rollup.SeverityCounts[protocol.SeverityLow])
	b.WriteString(summaryRule + "\n")

	for i, r := range results {
		marker := markerSuccess
		if !r.Success {
			marker = markerFailed
		}
		fmt.Fprintf(&b, "\n%d. %s: %s\n", i+1, resultLabel(r), marker)
		if r.Analysis != "" {
			fmt.Fprintf(&b, "   Analysis: %s\n", singleLine(r.Analysis))
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "   Error: %s\n", singleLine(r.Error))
		}
		if r.Recommendation != "" {
			fmt.Fprintf(&b, "   Recommendation: %s\n", singleLine(r.Recommendation))
		}
	}

	if len(rollup.Critical) > 0 {
		b.WriteString("\nCritical findings:\n")
		for _, line := range rollup.Critical {
			fmt.Fprintf(&b, " - %s\n", line)
		}
	}

	return b.String()
}
