package delegation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	"github.com/bebsworthy/diagmcp/internal/metrics"
	"github.com/bebsworthy/diagmcp/internal/orchestrator"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

func echoCapability(name string, category protocol.Category) diagnostics.Capability {
	return diagnostics.NewCapability(diagnostics.Spec{
		Name:        name,
		Description: "echo " + name,
		Category:    category,
		Timeout:     time.Second,
	}, func(ctx context.Context, req diagnostics.Request) (diagnostics.Finding, error) {
		return diagnostics.Finding{
			Analysis: "checked by " + name,
			Severity: protocol.SeverityLow,
			Data:     map[string]interface{}{"category": string(req.Category)},
		}, nil
	})
}

func testRegistry(t *testing.T) *diagnostics.Registry {
	t.Helper()
	registry, err := diagnostics.NewRegistry(config.DiagnosticsConfig{},
		echoCapability(diagnostics.CapAnalyzeCPUThermal, protocol.CategoryThermal),
		echoCapability(diagnostics.CapInspectDiskUsage, protocol.CategoryDisk),
		echoCapability(diagnostics.CapCheckMemoryUsage, protocol.CategoryMemory),
		echoCapability(diagnostics.CapVerifyEventLogs, protocol.CategoryEventLog),
		echoCapability(diagnostics.CapScanSystemFiles, protocol.CategorySystemFiles),
	)
	require.NoError(t, err)
	return registry
}

func enabledSettings() config.DelegationConfig {
	return config.DelegationConfig{
		Enabled:         true,
		InitTimeout:     2 * time.Second,
		MaxInitAttempts: 2,
	}
}

func TestNewCoordinatorRequiresRegistry(t *testing.T) {
	_, err := NewCoordinator(Config{})
	assert.Error(t, err)
}

func TestNewCoordinatorRejectsAnonymousSpecialist(t *testing.T) {
	_, err := NewCoordinator(Config{
		Registry:    testRegistry(t),
		Specialists: []Specialist{{Categories: []protocol.Category{protocol.CategoryDisk}}},
	})
	assert.Error(t, err)
}

func TestAcquireDisabled(t *testing.T) {
	coordinator, err := NewCoordinator(Config{Registry: testRegistry(t)})
	require.NoError(t, err)

	availability := coordinator.Acquire(context.Background())
	_, ok := availability.Executor()
	assert.False(t, ok)
	assert.Equal(t, "delegated execution is disabled", availability.Reason())
}

func TestDelegatedRoundTrip(t *testing.T) {
	registry := testRegistry(t)
	monitor := metrics.NewMonitor()

	coordinator, err := NewCoordinator(Config{
		Registry: registry,
		Settings: enabledSettings(),
		Monitor:  monitor,
	})
	require.NoError(t, err)

	availability := coordinator.Acquire(context.Background())
	executor, ok := availability.Executor()
	require.True(t, ok, "expected ready executor, got reason %q", availability.Reason())
	defer executor.Close()

	steps := orchestrator.Plan([]string{
		"Check CPU temperature",
		"Look for crash events",
		"Check memory",
		"Run SFC scan",
		"Hum a tune",
	})

	results, err := executor.Execute(context.Background(), steps)
	require.NoError(t, err)
	require.Len(t, results, len(steps))

	for i, step := range steps {
		assert.Equal(t, step.Task, results[i].Task)
		assert.Equal(t, step.Category, results[i].Category)
		assert.True(t, results[i].Success, "step %d: %+v", i, results[i])
		if step.Capability != "" {
			assert.Equal(t, "checked by "+step.Capability, results[i].Analysis)
			assert.Equal(t, string(step.Category), results[i].RawData["category"])
		}
	}

	conn := monitor.GetConnectionMetrics()
	assert.Equal(t, int64(1), conn.TotalConnections)
	assert.NotNil(t, monitor.GetOperationMetrics("delegated:"+diagnostics.CapVerifyEventLogs))
}

func TestDelegatedThroughOrchestrator(t *testing.T) {
	registry := testRegistry(t)

	coordinator, err := NewCoordinator(Config{Registry: registry, Settings: enabledSettings()})
	require.NoError(t, err)

	orch, err := orchestrator.New(orchestrator.Config{
		Registry:  registry,
		Delegator: coordinator,
	})
	require.NoError(t, err)

	output := `<MCP_TASKS>{"tasks": ["Check disk space", "Check event logs", "Check CPU thermal"]}</MCP_TASKS>`
	report, failure, err := orch.Execute(context.Background(), output, orchestrator.Options{Mode: protocol.ModeDelegated})
	require.NoError(t, err)
	require.Nil(t, failure)

	assert.Equal(t, protocol.ModeDelegated, report.Mode)
	assert.Empty(t, report.FallbackReason)
	assert.Len(t, report.Results, 3)
	assert.Equal(t, 3, report.TasksCompleted)
}

func TestExecuteRejectsDisallowedTool(t *testing.T) {
	coordinator, err := NewCoordinator(Config{
		Registry: testRegistry(t),
		Settings: enabledSettings(),
		Specialists: []Specialist{{
			Name:       "narrow",
			Categories: []protocol.Category{protocol.CategoryDisk},
			Tools:      []string{diagnostics.CapInspectDiskUsage},
		}},
	})
	require.NoError(t, err)

	availability := coordinator.Acquire(context.Background())
	executor, ok := availability.Executor()
	require.True(t, ok, availability.Reason())
	defer executor.Close()

	_, err = executor.Execute(context.Background(), []orchestrator.Step{
		{Index: 0, Task: "Check CPU", Category: protocol.CategoryThermal, Capability: diagnostics.CapAnalyzeCPUThermal},
	})
	assert.Error(t, err)
}

func TestAssign(t *testing.T) {
	coordinator, err := NewCoordinator(Config{Registry: testRegistry(t)})
	require.NoError(t, err)

	tests := []struct {
		name string
		step orchestrator.Step
		want string
	}{
		{"by_category", orchestrator.Step{Category: protocol.CategoryDisk, Capability: diagnostics.CapInspectDiskUsage}, "system"},
		{"security_category", orchestrator.Step{Category: protocol.CategoryEventLog, Capability: diagnostics.CapVerifyEventLogs}, "security"},
		{"tool_owner_wins", orchestrator.Step{Category: protocol.CategorySystemFiles, Capability: diagnostics.CapCheckMemoryUsage}, "system"},
		{"unmatched_general", orchestrator.Step{Category: protocol.CategoryGeneral}, "system"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coordinator.assign(tt.step)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestDefaultSpecialistsCoverBuiltins(t *testing.T) {
	owned := make(map[string]string)
	for _, s := range DefaultSpecialists {
		for _, tool := range s.Tools {
			if prev, dup := owned[tool]; dup {
				t.Errorf("Tool %s allowlisted by both %s and %s", tool, prev, s.Name)
			}
			owned[tool] = s.Name
		}
	}

	for _, c := range diagnostics.Builtins(diagnostics.NewToolkit(config.DefaultConfig().Diagnostics)) {
		assert.Contains(t, owned, c.Name())
	}

	for _, category := range protocol.AllCategories {
		handled := false
		for _, s := range DefaultSpecialists {
			if s.Handles(category) {
				handled = true
			}
		}
		assert.True(t, handled, "category %s has no specialist", category)
	}
}
