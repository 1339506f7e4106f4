package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	"github.com/bebsworthy/diagmcp/internal/history"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeText(t *testing.T, result *mcp.CallToolResult, v interface{}) {
	t.Helper()
	text, err := ToolResultText(result)
	if err != nil {
		t.Fatalf("Failed to read tool result: %v", err)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("Failed to decode tool result %q: %v", text, err)
	}
}

func TestMCPServer_ExecuteTasks(t *testing.T) {
	mcpSrv := NewMCPServer(newTestOrchestrator(t), nil, nil, "test")

	result, err := mcpSrv.handleExecuteTasks(context.Background(), callRequest(protocol.ToolExecuteTasks, map[string]interface{}{
		"model_output": twoTaskOutput,
	}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if result.IsError {
		t.Fatal("Expected a successful tool result")
	}

	var report protocol.ExecutionReport
	decodeText(t, result, &report)

	if report.TasksRequested != 2 || report.TasksCompleted != 2 {
		t.Errorf("Expected 2/2 tasks, got %d/%d", report.TasksCompleted, report.TasksRequested)
	}
	if report.Mode != protocol.ModeDirect {
		t.Errorf("Expected direct mode, got %s", report.Mode)
	}
	if report.RunID == "" {
		t.Error("Expected a run ID")
	}
	if !strings.Contains(report.ExecutionSummary, "DIAGNOSTIC EXECUTION SUMMARY") {
		t.Errorf("Summary missing header: %q", report.ExecutionSummary)
	}
}

func TestMCPServer_ExecuteTasksWithoutBlock(t *testing.T) {
	mcpSrv := NewMCPServer(newTestOrchestrator(t), nil, nil, "test")

	result, err := mcpSrv.handleExecuteTasks(context.Background(), callRequest(protocol.ToolExecuteTasks, map[string]interface{}{
		"model_output": "Have you tried turning it off and on again?",
	}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}

	var failure protocol.ExtractionFailure
	decodeText(t, result, &failure)

	if failure.Error != protocol.NoTaskBlockError {
		t.Errorf("Expected %q, got %q", protocol.NoTaskBlockError, failure.Error)
	}
	if failure.UserMessage != "Have you tried turning it off and on again?" {
		t.Errorf("Unexpected user message: %q", failure.UserMessage)
	}
}

func TestMCPServer_ExecuteTasksMissingArgument(t *testing.T) {
	mcpSrv := NewMCPServer(newTestOrchestrator(t), nil, nil, "test")

	result, err := mcpSrv.handleExecuteTasks(context.Background(), callRequest(protocol.ToolExecuteTasks, map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !result.IsError {
		t.Fatal("Expected an error result")
	}

	var errResp protocol.MCPErrorResponse
	decodeText(t, result, &errResp)
	if errResp.Code != protocol.ErrorCodeInvalidRequest {
		t.Errorf("Expected code %s, got %s", protocol.ErrorCodeInvalidRequest, errResp.Code)
	}
}

func TestMCPServer_ParseTasks(t *testing.T) {
	mcpSrv := NewMCPServer(newTestOrchestrator(t), nil, nil, "test")

	result, err := mcpSrv.handleParseTasks(context.Background(), callRequest(protocol.ToolParseTasks, map[string]interface{}{
		"model_output": twoTaskOutput,
	}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}

	var parsed protocol.ParseResult
	decodeText(t, result, &parsed)

	if !parsed.Success || parsed.TaskCount != 2 {
		t.Errorf("Unexpected parse result: %+v", parsed)
	}
	if parsed.Summary != "Quick check" {
		t.Errorf("Expected summary 'Quick check', got %q", parsed.Summary)
	}
}

func TestMCPServer_Health(t *testing.T) {
	mcpSrv := NewMCPServer(newTestOrchestrator(t), nil, nil, "test")

	if !mcpSrv.IsHealthy() {
		t.Error("Expected healthy server")
	}

	health := mcpSrv.GetHealth()
	want := []string{diagnostics.CapAnalyzeCPUThermal, diagnostics.CapInspectDiskUsage}
	if len(health.Capabilities) != len(want) {
		t.Fatalf("Expected %v, got %v", want, health.Capabilities)
	}
}

// TestMCPServer_InProcessClient drives the server through a real MCP client
func TestMCPServer_InProcessClient(t *testing.T) {
	mcpSrv := NewMCPServer(newTestOrchestrator(t), nil, nil, "test")

	ctx := context.Background()
	c, err := client.NewInProcessClient(mcpSrv.Server())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "server-test", Version: "test"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("Failed to list tools: %v", err)
	}
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		protocol.ToolExecuteTasks,
		protocol.ToolParseTasks,
		protocol.ToolListCapabilities,
		diagnostics.CapAnalyzeCPUThermal,
		diagnostics.CapInspectDiskUsage,
	} {
		if !names[want] {
			t.Errorf("Tool %s not listed", want)
		}
	}

	listResult, err := c.CallTool(ctx, callRequest(protocol.ToolListCapabilities, nil))
	if err != nil {
		t.Fatalf("list_capabilities failed: %v", err)
	}
	var list protocol.ListCapabilitiesResponse
	decodeText(t, listResult, &list)
	if list.Meta.TotalCount != 2 {
		t.Errorf("Expected 2 capabilities, got %d", list.Meta.TotalCount)
	}

	capResult, err := c.CallTool(ctx, callRequest(diagnostics.CapInspectDiskUsage, map[string]interface{}{
		"task":     "Check disk space",
		"category": string(protocol.CategoryDisk),
	}))
	if err != nil {
		t.Fatalf("Capability call failed: %v", err)
	}
	decoded, err := DecodeCapabilityResult(capResult)
	if err != nil {
		t.Fatalf("Failed to decode capability result: %v", err)
	}
	if !decoded.Success || decoded.Task != "Check disk space" || decoded.Analysis != "Disk space healthy" {
		t.Errorf("Unexpected capability result: %+v", decoded)
	}
}

func TestDecodeCapabilityResult_ToolError(t *testing.T) {
	result, err := errorResult("boom", protocol.ErrorCodeCapabilityFailed)
	if err != nil {
		t.Fatalf("errorResult failed: %v", err)
	}

	_, err = DecodeCapabilityResult(result)
	if err == nil {
		t.Fatal("Expected error for tool error result")
	}
	if !strings.Contains(err.Error(), protocol.ErrorCodeCapabilityFailed) {
		t.Errorf("Expected error to carry the code, got %v", err)
	}
}

func TestGetMCPContext(t *testing.T) {
	ctx := GetMCPContext()
	for _, want := range []string{"<MCP_TASKS>", protocol.ToolExecuteTasks} {
		if !strings.Contains(ctx, want) {
			t.Errorf("Context missing %q", want)
		}
	}
}

func TestMCPServer_RunHistory(t *testing.T) {
	mcpSrv := NewMCPServer(newTestOrchestrator(t), nil, nil, "test")
	ctx := context.Background()

	disabled, err := mcpSrv.handleListRecentRuns(ctx, callRequest(protocol.ToolListRecentRuns, nil))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !disabled.IsError {
		t.Error("Expected an error result while history is disabled")
	}

	ring := history.NewRing(10, 0, 0)
	defer ring.Close()
	mcpSrv.SetHistory(ring)

	execResult, err := mcpSrv.handleExecuteTasks(ctx, callRequest(protocol.ToolExecuteTasks, map[string]interface{}{
		"model_output": twoTaskOutput,
	}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var report protocol.ExecutionReport
	decodeText(t, execResult, &report)

	listResult, err := mcpSrv.handleListRecentRuns(ctx, callRequest(protocol.ToolListRecentRuns, map[string]interface{}{
		"limit": 5,
	}))
	if err != nil {
		t.Fatalf("list_recent_runs failed: %v", err)
	}
	var list protocol.ListRecentRunsResponse
	decodeText(t, listResult, &list)
	if list.Meta.TotalCount != 1 || list.Data.Runs[0].RunID != report.RunID {
		t.Fatalf("Expected the executed run in history, got %+v", list.Data.Runs)
	}

	getResult, err := mcpSrv.handleGetRunReport(ctx, callRequest(protocol.ToolGetRunReport, map[string]interface{}{
		"run_id": report.RunID,
	}))
	if err != nil {
		t.Fatalf("get_run_report failed: %v", err)
	}
	var fetched protocol.ExecutionReport
	decodeText(t, getResult, &fetched)
	if fetched.RunID != report.RunID || len(fetched.Results) != 2 {
		t.Errorf("Unexpected fetched report: %+v", fetched)
	}

	missing, err := mcpSrv.handleGetRunReport(ctx, callRequest(protocol.ToolGetRunReport, map[string]interface{}{
		"run_id": "no-such-run",
	}))
	if err != nil {
		t.Fatalf("get_run_report failed: %v", err)
	}
	var errResp protocol.MCPErrorResponse
	decodeText(t, missing, &errResp)
	if !missing.IsError || errResp.Code != protocol.ErrorCodeRunNotFound {
		t.Errorf("Expected %s, got %+v", protocol.ErrorCodeRunNotFound, errResp)
	}
}
