package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Output formats accepted by --output
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutputFormat(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("invalid output format %q (must be text, json or yaml)", format)
	}
}

// writeOutput renders v as JSON or YAML, or calls text for the text format
func writeOutput(w io.Writer, format string, v interface{}, text func(io.Writer)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(w)
		return nil
	}
}

// readModelOutput returns the model output named by args: a file path, "-"
// for stdin, or stdin when no argument is given. inline wins over both.
func readModelOutput(args []string, inline string, stdin io.Reader) (string, string, error) {
	if inline != "" {
		if len(args) > 0 {
			return "", "", fmt.Errorf("--text cannot be combined with a file argument")
		}
		return inline, "flag", nil
	}

	source := "stdin"
	var r io.Reader = stdin
	if len(args) > 0 && args[0] != "-" {
		source = args[0]
		info, err := os.Stat(source)
		if err != nil {
			return "", "", fmt.Errorf("cannot read %s: %w", source, err)
		}
		if info.IsDir() {
			return "", "", fmt.Errorf("%s is a directory", source)
		}
		file, err := os.Open(source)
		if err != nil {
			return "", "", fmt.Errorf("cannot open %s: %w", source, err)
		}
		defer file.Close()
		r = file
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", "", fmt.Errorf("failed to read model output from %s: %w", source, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", "", fmt.Errorf("model output from %s is empty", source)
	}
	return string(data), source, nil
}

func printReport(w io.Writer, report *protocol.ExecutionReport) {
	fmt.Fprintln(w, report.ExecutionSummary)
	if report.FallbackReason != "" {
		fmt.Fprintf(w, "\nFell back to direct mode: %s\n", report.FallbackReason)
	}
	if report.UserMessage != "" {
		fmt.Fprintf(w, "\n%s\n", report.UserMessage)
	}
	fmt.Fprintf(w, "\nRun %s (%s): %d/%d tasks completed\n",
		report.RunID, report.Mode, report.TasksCompleted, report.TasksRequested)
}

func printFailure(w io.Writer, failure *protocol.ExtractionFailure) {
	fmt.Fprintf(w, "No diagnostics ran: %s", failure.Error)
	if failure.Reason != "" {
		fmt.Fprintf(w, " (%s)", failure.Reason)
	}
	fmt.Fprintln(w)
	if failure.UserMessage != "" {
		fmt.Fprintf(w, "\n%s\n", failure.UserMessage)
	}
}

func printParseResult(w io.Writer, result *protocol.ParseResult) {
	if !result.Success {
		fmt.Fprintf(w, "No task block: %s\n", result.Error)
		return
	}
	if result.Summary != "" {
		fmt.Fprintf(w, "Summary: %s\n", result.Summary)
	}
	fmt.Fprintf(w, "Tasks (%d):\n", result.TaskCount)
	for i, task := range result.Tasks {
		fmt.Fprintf(w, "  %d. %s\n", i+1, task)
	}
	if len(result.Categories) > 0 {
		fmt.Fprintln(w, "Categories:")
		for _, assignment := range result.Categories {
			fmt.Fprintf(w, "  %s: %s\n", assignment.Category, strings.Join(assignment.Tasks, "; "))
		}
	}
}

func printCapabilityResult(w io.Writer, result protocol.CapabilityResult) {
	status := "OK"
	if !result.Success {
		status = "FAILED"
	}
	fmt.Fprintf(w, "[%s] %s (%s)\n", status, result.Capability, result.Category)
	if result.Analysis != "" {
		fmt.Fprintf(w, "  Analysis: %s\n", result.Analysis)
	}
	if result.Severity != "" {
		fmt.Fprintf(w, "  Severity: %s\n", result.Severity)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", result.Error)
	}
	if result.Recommendation != "" {
		fmt.Fprintf(w, "  Recommendation: %s\n", result.Recommendation)
	}
}
