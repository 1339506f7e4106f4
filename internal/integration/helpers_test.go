package integration

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bebsworthy/diagmcp/internal/client"
	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/delegation"
	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	"github.com/bebsworthy/diagmcp/internal/history"
	"github.com/bebsworthy/diagmcp/internal/metrics"
	"github.com/bebsworthy/diagmcp/internal/orchestrator"
	"github.com/bebsworthy/diagmcp/internal/protocol"
	"github.com/bebsworthy/diagmcp/internal/server"
)

const slowMachineReply = `I'll run a few checks.
<MCP_TASKS>{"tasks": ["Check CPU temperature", "Check disk space", "Check memory usage"], "summary": "Slow machine"}</MCP_TASKS>`

// countingCapability returns a fake capability and the number of times it ran
func countingCapability(name string, category protocol.Category, delay time.Duration) (diagnostics.Capability, *int64) {
	var calls int64
	capability := diagnostics.NewCapability(diagnostics.Spec{
		Name:        name,
		Description: "fake " + name,
		Category:    category,
		Timeout:     5 * time.Second,
	}, func(ctx context.Context, req diagnostics.Request) (diagnostics.Finding, error) {
		atomic.AddInt64(&calls, 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return diagnostics.Finding{}, ctx.Err()
		}
		return diagnostics.Finding{Analysis: name + " ok", Severity: protocol.SeverityLow}, nil
	})
	return capability, &calls
}

// unavailableDelegator never has specialists ready
type unavailableDelegator struct{}

func (unavailableDelegator) Acquire(ctx context.Context) orchestrator.Availability {
	return orchestrator.Unavailable("specialists offline")
}

// testStack is a running WebSocket server and MCP server sharing one
// orchestrator and one run history
type testStack struct {
	url     string
	ws      *server.WebSocketServer
	mcp     *server.MCPServer
	history *history.Ring
	monitor *metrics.Monitor
	calls   map[string]*int64
}

type stackOption func(*orchestrator.Config, *diagnostics.Registry) error

func withCoordinator() stackOption {
	return func(cfg *orchestrator.Config, registry *diagnostics.Registry) error {
		coordinator, err := delegation.NewCoordinator(delegation.Config{
			Registry: registry,
			Settings: config.DefaultConfig().Delegation,
			Monitor:  cfg.Monitor,
		})
		if err != nil {
			return err
		}
		cfg.Delegator = coordinator
		return nil
	}
}

func withDelegator(d orchestrator.Delegator) stackOption {
	return func(cfg *orchestrator.Config, registry *diagnostics.Registry) error {
		cfg.Delegator = d
		return nil
	}
}

func withParallel(maxConcurrency int) stackOption {
	return func(cfg *orchestrator.Config, registry *diagnostics.Registry) error {
		cfg.Settings.Parallel = true
		cfg.Settings.MaxConcurrency = maxConcurrency
		return nil
	}
}

func newTestStack(t *testing.T, delay time.Duration, opts ...stackOption) *testStack {
	t.Helper()

	stack := &testStack{
		monitor: metrics.NewMonitor(),
		calls:   make(map[string]*int64),
	}

	var caps []diagnostics.Capability
	for _, def := range []struct {
		name     string
		category protocol.Category
	}{
		{diagnostics.CapAnalyzeCPUThermal, protocol.CategoryThermal},
		{diagnostics.CapInspectDiskUsage, protocol.CategoryDisk},
		{diagnostics.CapCheckMemoryUsage, protocol.CategoryMemory},
	} {
		capability, calls := countingCapability(def.name, def.category, delay)
		caps = append(caps, capability)
		stack.calls[def.name] = calls
	}

	registry, err := diagnostics.NewRegistry(config.DiagnosticsConfig{}, caps...)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}

	orchCfg := orchestrator.Config{Registry: registry, Monitor: stack.monitor}
	for _, opt := range opts {
		if err := opt(&orchCfg, registry); err != nil {
			t.Fatalf("Failed to apply option: %v", err)
		}
	}
	orch, err := orchestrator.New(orchCfg)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	stack.history = history.NewRing(20, 0, 0)
	stack.ws = server.NewWebSocketServer(orch, nil, stack.monitor)
	stack.ws.SetHistory(stack.history)
	stack.mcp = server.NewMCPServer(orch, nil, stack.monitor, "integration")
	stack.mcp.SetHistory(stack.history)

	httpServer := httptest.NewServer(stack.ws.Handler())
	stack.url = "ws" + strings.TrimPrefix(httpServer.URL, "http")

	t.Cleanup(func() {
		stack.ws.Close()
		httpServer.Close()
		stack.history.Close()
	})
	return stack
}

func (s *testStack) connect(t *testing.T) *client.WebSocketClient {
	t.Helper()

	c := client.NewWebSocketClient(s.url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ConnectWithRetry(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func (s *testStack) totalCalls() int64 {
	var total int64
	for _, calls := range s.calls {
		total += atomic.LoadInt64(calls)
	}
	return total
}
