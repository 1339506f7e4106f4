package server

import (
	"context"
	"testing"
	"time"

	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	"github.com/bebsworthy/diagmcp/internal/orchestrator"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

const twoTaskOutput = `Checking now.
<MCP_TASKS>{"tasks": ["Check CPU temperature", "Check disk space"], "summary": "Quick check"}</MCP_TASKS>`

func fixedCapability(name string, category protocol.Category, analysis string) diagnostics.Capability {
	return diagnostics.NewCapability(diagnostics.Spec{
		Name:        name,
		Description: "test " + name,
		Category:    category,
		Timeout:     time.Second,
	}, func(ctx context.Context, req diagnostics.Request) (diagnostics.Finding, error) {
		return diagnostics.Finding{Analysis: analysis, Severity: protocol.SeverityLow}, nil
	})
}

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()

	registry, err := diagnostics.NewRegistry(config.DiagnosticsConfig{},
		fixedCapability(diagnostics.CapAnalyzeCPUThermal, protocol.CategoryThermal, "CPU temperature normal"),
		fixedCapability(diagnostics.CapInspectDiskUsage, protocol.CategoryDisk, "Disk space healthy"),
	)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{Registry: registry})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	return orch
}
