package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/orchestrator"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

const replyWithTasks = `Let me look into that.
<MCP_TASKS>{"tasks": ["Check disk space", "Check CPU temperature"], "summary": "Slow machine"}</MCP_TASKS>`

func testRegistry(t *testing.T) *diagnostics.Registry {
	t.Helper()

	fixed := func(name string, category protocol.Category, analysis string) diagnostics.Capability {
		return diagnostics.NewCapability(diagnostics.Spec{
			Name:        name,
			Description: "test " + name,
			Category:    category,
			Timeout:     time.Second,
		}, func(ctx context.Context, req diagnostics.Request) (diagnostics.Finding, error) {
			return diagnostics.Finding{Analysis: analysis, Severity: protocol.SeverityLow}, nil
		})
	}

	registry, err := diagnostics.NewRegistry(config.DiagnosticsConfig{},
		fixed(diagnostics.CapAnalyzeCPUThermal, protocol.CategoryThermal, "CPU temperature normal"),
		fixed(diagnostics.CapInspectDiskUsage, protocol.CategoryDisk, "Disk space healthy"),
	)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	return registry
}

func TestValidateOutputFormat(t *testing.T) {
	for _, format := range []string{outputText, outputJSON, outputYAML} {
		if err := validateOutputFormat(format); err != nil {
			t.Errorf("Expected %q to be valid, got %v", format, err)
		}
	}
	if err := validateOutputFormat("xml"); err == nil {
		t.Error("Expected error for xml output")
	}
}

func TestWriteOutput(t *testing.T) {
	report := &protocol.ExecutionReport{RunID: "run-1", Mode: protocol.ModeDirect, TasksRequested: 1, TasksCompleted: 1}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeOutput(&buf, outputJSON, report, nil); err != nil {
			t.Fatalf("writeOutput failed: %v", err)
		}
		var decoded protocol.ExecutionReport
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("Output is not JSON: %v", err)
		}
		if decoded.RunID != "run-1" {
			t.Errorf("Expected run-1, got %q", decoded.RunID)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeOutput(&buf, outputYAML, report, nil); err != nil {
			t.Fatalf("writeOutput failed: %v", err)
		}
		var decoded map[string]interface{}
		if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("Output is not YAML: %v", err)
		}
		if decoded["run_id"] != "run-1" || decoded["mode"] != "direct" {
			t.Errorf("Unexpected YAML: %s", buf.String())
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		called := false
		err := writeOutput(&buf, outputText, report, func(w io.Writer) {
			called = true
			printReport(w, report)
		})
		if err != nil {
			t.Fatalf("writeOutput failed: %v", err)
		}
		if !called {
			t.Fatal("Expected the text renderer to be called")
		}
		if !strings.Contains(buf.String(), "Run run-1 (direct): 1/1 tasks completed") {
			t.Errorf("Unexpected text output: %q", buf.String())
		}
	})
}

func TestReadModelOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reply.txt")
	if err := os.WriteFile(path, []byte(replyWithTasks), 0644); err != nil {
		t.Fatalf("Failed to write reply: %v", err)
	}
	emptyPath := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(emptyPath, []byte("  \n"), 0644); err != nil {
		t.Fatalf("Failed to write empty reply: %v", err)
	}

	tests := []struct {
		name       string
		args       []string
		inline     string
		stdin      string
		wantSource string
		wantErr    bool
	}{
		{"inline", nil, "inline text", "", "flag", false},
		{"file", []string{path}, "", "", path, false},
		{"stdin_dash", []string{"-"}, "", "from stdin", "stdin", false},
		{"stdin_default", nil, "", "from stdin", "stdin", false},
		{"inline_and_file", []string{path}, "inline", "", "", true},
		{"missing_file", []string{filepath.Join(dir, "nope.txt")}, "", "", "", true},
		{"directory", []string{dir}, "", "", "", true},
		{"empty_file", []string{emptyPath}, "", "", "", true},
		{"empty_stdin", nil, "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, source, err := readModelOutput(tt.args, tt.inline, strings.NewReader(tt.stdin))
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got text %q", text)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if source != tt.wantSource {
				t.Errorf("Expected source %q, got %q", tt.wantSource, source)
			}
			if text == "" {
				t.Error("Expected text")
			}
		})
	}
}

func TestNewApp_Execute(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Delegation.Enabled = true

	a, err := newApp(cfg, logging.Discard(), testRegistry(t))
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}

	for _, mode := range []protocol.ExecutionMode{protocol.ModeDirect, protocol.ModeDelegated} {
		t.Run(string(mode), func(t *testing.T) {
			report, failure, err := a.orchestrator.Execute(context.Background(), replyWithTasks, orchestrator.Options{Mode: mode})
			if err != nil || failure != nil {
				t.Fatalf("Execute failed: %v %+v", err, failure)
			}
			if report.TasksCompleted != 2 {
				t.Errorf("Expected 2 completed tasks, got %d", report.TasksCompleted)
			}
			if report.Mode != mode {
				t.Errorf("Expected mode %s, got %s (fallback: %q)", mode, report.Mode, report.FallbackReason)
			}
		})
	}
}

func TestNewApp_InvalidMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Orchestrator.DefaultMode = "sideways"

	if _, err := newApp(cfg, logging.Discard(), testRegistry(t)); err == nil {
		t.Error("Expected error for invalid default mode")
	}
}

func TestProbeCapability(t *testing.T) {
	registry := testRegistry(t)

	result, err := probeCapability(context.Background(), registry, "INSPECT_DISK_USAGE", "")
	if err != nil {
		t.Fatalf("probeCapability failed: %v", err)
	}
	if !result.Success || result.Analysis != "Disk space healthy" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if result.Category != protocol.CategoryDisk {
		t.Errorf("Expected disk category, got %s", result.Category)
	}
	if result.Task != "test inspect_disk_usage" {
		t.Errorf("Expected the description as task, got %q", result.Task)
	}

	_, err = probeCapability(context.Background(), registry, "defrag_everything", "")
	if err == nil || !strings.Contains(err.Error(), diagnostics.CapAnalyzeCPUThermal) {
		t.Errorf("Expected unknown capability error listing the available names, got %v", err)
	}
}

func TestPrintHelpers(t *testing.T) {
	var buf bytes.Buffer

	printFailure(&buf, &protocol.ExtractionFailure{Error: protocol.NoTaskBlockError, UserMessage: "Try restarting."})
	if !strings.Contains(buf.String(), protocol.NoTaskBlockError) || !strings.Contains(buf.String(), "Try restarting.") {
		t.Errorf("Unexpected failure output: %q", buf.String())
	}

	buf.Reset()
	printParseResult(&buf, &protocol.ParseResult{
		Success:   true,
		Tasks:     []string{"Check disk space"},
		TaskCount: 1,
		Categories: []protocol.CategoryAssignment{
			{Category: protocol.CategoryDisk, Tasks: []string{"Check disk space"}},
		},
	})
	if !strings.Contains(buf.String(), "1. Check disk space") || !strings.Contains(buf.String(), "disk: Check disk space") {
		t.Errorf("Unexpected parse output: %q", buf.String())
	}

	buf.Reset()
	printCapabilities(&buf, testRegistry(t).Infos())
	if strings.Count(buf.String(), "\n") != 2 {
		t.Errorf("Expected one line per capability, got %q", buf.String())
	}

	buf.Reset()
	printProgress(&buf, 0, 2, protocol.CapabilityResult{Success: false, Task: "Check disk space"})
	if buf.String() != "[1/2] Check disk space: failed\n" {
		t.Errorf("Unexpected progress line: %q", buf.String())
	}
}

func TestVersionOutput(t *testing.T) {
	info := currentVersion()
	if info.GoVersion == "" || !strings.Contains(info.Platform, "/") {
		t.Errorf("Unexpected version info: %+v", info)
	}

	var buf bytes.Buffer
	printVersion(&buf, info)
	if !strings.HasPrefix(buf.String(), "diagmcp - Model Context Protocol PC diagnostics\n") {
		t.Errorf("Unexpected text output: %q", buf.String())
	}

	buf.Reset()
	if err := writeOutput(&buf, outputJSON, info, nil); err != nil {
		t.Fatalf("writeOutput failed: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if decoded["version"] != BuildDate || decoded["git_commit"] != GitCommit {
		t.Errorf("Unexpected JSON: %v", decoded)
	}
}

func TestRemoteRunError(t *testing.T) {
	if err := remoteRunError("ws://localhost:8765", nil); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}

	rejected := diagerrors.ProtocolError(protocol.ErrorCodeInvalidRequest, "bad request", nil)
	if err := remoteRunError("ws://localhost:8765", rejected); err != rejected {
		t.Errorf("Expected other errors unchanged, got %v", err)
	}

	lost := diagerrors.NetworkError(protocol.ErrorCodeConnectionLost, "connection lost before the request completed", nil)
	err := remoteRunError("ws://localhost:8765", lost)
	if !strings.Contains(err.Error(), "lost connection to ws://localhost:8765") {
		t.Errorf("Unexpected message: %v", err)
	}
	if !diagerrors.IsCode(err, protocol.ErrorCodeConnectionLost) {
		t.Error("Expected the wrapped error to keep its code")
	}
}
