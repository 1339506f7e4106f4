package diagnostics

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// eventEntry is one event log record as emitted by the queries below
type eventEntry struct {
	TimeGenerated string `json:"TimeGenerated"`
	Source        string `json:"Source"`
	EventID       int    `json:"EventID"`
	Message       string `json:"Message"`
}

const eventSelect = ` | Select-Object @{n='TimeGenerated';e={$_.TimeGenerated.ToString('o')}}, Source, EventID, Message`

// Event IDs 41 (Kernel-Power), 1001 (BugCheck) and 6008 (unexpected shutdown)
// mark crashes and blue screens.
var eventQueries = []struct {
	key    string
	script string
}{
	{"system_errors", `Get-EventLog -LogName System -Newest 50 -EntryType Error` + eventSelect},
	{"application_errors", `Get-EventLog -LogName Application -Newest 50 -EntryType Error` + eventSelect},
	{"critical_events", `Get-EventLog -LogName System -Newest 100 | Where-Object { $_.EventID -in @(41, 1001, 6008) }` + eventSelect},
}

const maxEventMessage = 500

func (tk *Toolkit) verifyEventLogs(ctx context.Context, req Request) (Finding, error) {
	if !tk.Env.IsWindows() {
		return Finding{}, unsupported(tk.Env.GOOS)
	}

	data := map[string]interface{}{}
	counts := map[string]int{}
	for _, q := range eventQueries {
		var entries []eventEntry
		if err := powershellJSON(ctx, tk.Runner, q.script, &entries); err != nil {
			if ctx.Err() != nil {
				return Finding{}, ctx.Err()
			}
			data[q.key+"_note"] = fmt.Sprintf("Could not retrieve %s: %v", q.key, err)
			continue
		}
		for i := range entries {
			entries[i].Message = truncateMessage(entries[i].Message, maxEventMessage)
		}
		data[q.key] = entries
		counts[q.key] = len(entries)
	}

	totalErrors := counts["system_errors"] + counts["application_errors"]
	criticalCount := counts["critical_events"]
	data["system_error_count"] = counts["system_errors"]
	data["application_error_count"] = counts["application_errors"]
	data["critical_event_count"] = criticalCount

	switch {
	case criticalCount > 0:
		return Finding{
			Analysis:       fmt.Sprintf("CRITICAL: %d system crash/BSOD event(s) detected", criticalCount),
			Severity:       protocol.SeverityHigh,
			Recommendation: "Review crash dumps and recent driver or hardware changes",
			Data:           data,
		}, nil
	case totalErrors > tk.thresholds().EventErrorCount:
		return Finding{
			Analysis:       fmt.Sprintf("High error volume: %d errors in recent logs", totalErrors),
			Severity:       protocol.SeverityMedium,
			Recommendation: "Review the most frequent error sources in Event Viewer",
			Data:           data,
		}, nil
	case totalErrors > 0:
		return Finding{
			Analysis: fmt.Sprintf("%d errors found in event logs", totalErrors),
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	default:
		return Finding{
			Analysis: "No critical errors in recent event logs",
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	}
}

// truncateMessage cuts s to at most max bytes on a rune boundary and marks
// the cut with "..."
func truncateMessage(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
