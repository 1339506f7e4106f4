// Package server exposes the diagnostic task pipeline over MCP and WebSocket.
//
// The MCP server speaks the Model Context Protocol over stdio using the
// mcp-go library. It provides the pipeline tools plus one tool per
// registered capability.
//
// Available MCP Tools:
// - execute_mcp_tasks: Extract the task block from model output and run it
// - parse_mcp_tasks: Extract and classify the task block without running it
// - list_capabilities: Describe every registered diagnostic capability
// - list_recent_runs: Summarize recent reports kept in the run history
// - get_run_report: Fetch one recent report by run ID
// - <capability name>: Run one capability directly
//
// The WebSocket server offers the same pipeline to remote clients and streams
// one progress message per result before the final report.
//
// Example usage:
//
//	orch, _ := orchestrator.New(orchestrator.Config{Registry: registry})
//	mcpServer := server.NewMCPServer(orch, logger, monitor, "1.0.0")
//
//	// Start MCP server on stdio
//	if err := mcpServer.Serve(); err != nil {
//		log.Fatal(err)
//	}
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/history"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/metrics"
	"github.com/bebsworthy/diagmcp/internal/orchestrator"
	"github.com/bebsworthy/diagmcp/internal/protocol"
	"github.com/bebsworthy/diagmcp/internal/tasks"
)

// MCPServer provides the MCP interface for diagmcp using mcp-go library
type MCPServer struct {
	orchestrator *orchestrator.Orchestrator
	mcpServer    *server.MCPServer
	logger       *logging.Logger
	monitor      *metrics.Monitor
	history      *history.Ring
	startTime    time.Time
}

// NewMCPServer creates a new MCP server backed by orch
func NewMCPServer(orch *orchestrator.Orchestrator, logger *logging.Logger, monitor *metrics.Monitor, version string) *MCPServer {
	if logger == nil {
		logger = logging.Discard()
	}
	if monitor == nil {
		monitor = metrics.NewMonitor()
	}

	mcpServer := server.NewMCPServer(
		"diagmcp",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(GetMCPContext()),
		server.WithRecovery(),
	)

	mcpSrv := &MCPServer{
		orchestrator: orch,
		mcpServer:    mcpServer,
		logger:       logger,
		monitor:      monitor,
		startTime:    time.Now(),
	}

	mcpSrv.registerTools()

	return mcpSrv
}

// registerTools registers the pipeline tools and one tool per capability
func (mcpSrv *MCPServer) registerTools() {
	mcpSrv.mcpServer.AddTool(
		mcp.NewTool(protocol.ToolExecuteTasks,
			mcp.WithDescription("Extract the <MCP_TASKS> block from language model output and execute every task"),
			mcp.WithString("model_output",
				mcp.Required(),
				mcp.Description("Raw model output containing a <MCP_TASKS>...</MCP_TASKS> block"),
			),
			mcp.WithBoolean("use_delegated",
				mcp.Description("Route tasks through the coordinator and specialists"),
			),
		),
		mcpSrv.handleExecuteTasks,
	)

	mcpSrv.mcpServer.AddTool(
		mcp.NewTool(protocol.ToolParseTasks,
			mcp.WithDescription("Extract and classify the <MCP_TASKS> block without executing it"),
			mcp.WithString("model_output",
				mcp.Required(),
				mcp.Description("Raw model output containing a <MCP_TASKS>...</MCP_TASKS> block"),
			),
		),
		mcpSrv.handleParseTasks,
	)

	mcpSrv.mcpServer.AddTool(
		mcp.NewTool(protocol.ToolListCapabilities,
			mcp.WithDescription("List all registered diagnostic capabilities"),
		),
		mcpSrv.handleListCapabilities,
	)

	mcpSrv.mcpServer.AddTool(
		mcp.NewTool(protocol.ToolListRecentRuns,
			mcp.WithDescription("List recent execution reports, newest last"),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of runs to return (default 10)"),
			),
			mcp.WithString("mode",
				mcp.Description("Only runs executed in this mode"),
				mcp.Enum(string(protocol.ModeDirect), string(protocol.ModeDelegated)),
			),
			mcp.WithBoolean("failed_only",
				mcp.Description("Only runs with at least one failed task"),
			),
			mcp.WithString("pattern",
				mcp.Description("Regex matched against summaries, tasks and analyses"),
			),
		),
		mcpSrv.handleListRecentRuns,
	)

	mcpSrv.mcpServer.AddTool(
		mcp.NewTool(protocol.ToolGetRunReport,
			mcp.WithDescription("Fetch the full report of a recent run"),
			mcp.WithString("run_id",
				mcp.Required(),
				mcp.Description("Run ID from execute_mcp_tasks or list_recent_runs"),
			),
		),
		mcpSrv.handleGetRunReport,
	)

	RegisterCapabilityTools(mcpSrv.mcpServer, mcpSrv.orchestrator.Registry())
}

// SetHistory records every report in ring and serves the run history tools from it
func (mcpSrv *MCPServer) SetHistory(ring *history.Ring) {
	mcpSrv.history = ring
}

// Serve runs the MCP server on stdio until stdin closes
func (mcpSrv *MCPServer) Serve() error {
	return server.ServeStdio(mcpSrv.mcpServer)
}

// Server returns the underlying mcp-go server
func (mcpSrv *MCPServer) Server() *server.MCPServer {
	return mcpSrv.mcpServer
}

// Tool Handlers using mcp-go API

// handleExecuteTasks handles the execute_mcp_tasks tool
func (mcpSrv *MCPServer) handleExecuteTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parsed, err := parseToolArguments(protocol.ToolExecuteTasks, request)
	if err != nil {
		return errorResult(err.Error(), protocol.ErrorCodeInvalidRequest)
	}
	req := parsed.(*protocol.ExecuteTasksRequest)

	var opts orchestrator.Options
	if req.UseDelegated {
		opts.Mode = protocol.ModeDelegated
	}

	var (
		report  *protocol.ExecutionReport
		failure *protocol.ExtractionFailure
	)
	err = mcpSrv.monitor.TrackOperation(ctx, "mcp_execute_tasks", func() error {
		var execErr error
		report, failure, execErr = mcpSrv.orchestrator.Execute(ctx, req.ModelOutput, opts)
		return execErr
	})
	if err != nil {
		mcpSrv.logger.LogError(ctx, "execute_mcp_tasks failed", err)
		return errorResult(err.Error(), diagerrors.GetCode(err))
	}
	if failure != nil {
		return jsonResult(failure)
	}
	if mcpSrv.history != nil {
		mcpSrv.history.Record(report)
	}
	return jsonResult(report)
}

// handleParseTasks handles the parse_mcp_tasks tool
func (mcpSrv *MCPServer) handleParseTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parsed, err := parseToolArguments(protocol.ToolParseTasks, request)
	if err != nil {
		return errorResult(err.Error(), protocol.ErrorCodeInvalidRequest)
	}
	req := parsed.(*protocol.ParseTasksRequest)

	return jsonResult(tasks.Parse(req.ModelOutput))
}

// handleListCapabilities handles the list_capabilities tool
func (mcpSrv *MCPServer) handleListCapabilities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := mcpSrv.orchestrator.Registry().Infos()
	return jsonResult(protocol.NewListCapabilitiesResponse(infos))
}

// handleListRecentRuns handles the list_recent_runs tool
func (mcpSrv *MCPServer) handleListRecentRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if mcpSrv.history == nil {
		return errorResult("run history is disabled", protocol.ErrorCodeConfiguration)
	}

	parsed, err := parseToolArguments(protocol.ToolListRecentRuns, request)
	if err != nil {
		return errorResult(err.Error(), protocol.ErrorCodeInvalidRequest)
	}
	req := parsed.(*protocol.ListRecentRunsRequest)

	limit := req.Limit
	if limit == 0 {
		limit = 10
	}

	entries, err := mcpSrv.history.Get(history.GetOptions{
		Limit:      limit,
		Mode:       req.Mode,
		FailedOnly: req.FailedOnly,
		Pattern:    req.Pattern,
	})
	if err != nil {
		return errorResult(err.Error(), protocol.ErrorCodeInvalidRequest)
	}

	runs := make([]protocol.RunSummary, 0, len(entries))
	for _, entry := range entries {
		runs = append(runs, protocol.NewRunSummary(entry.Report))
	}
	return jsonResult(protocol.NewListRecentRunsResponse(runs))
}

// handleGetRunReport handles the get_run_report tool
func (mcpSrv *MCPServer) handleGetRunReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if mcpSrv.history == nil {
		return errorResult("run history is disabled", protocol.ErrorCodeConfiguration)
	}

	parsed, err := parseToolArguments(protocol.ToolGetRunReport, request)
	if err != nil {
		return errorResult(err.Error(), protocol.ErrorCodeInvalidRequest)
	}
	req := parsed.(*protocol.GetRunReportRequest)

	report, ok := mcpSrv.history.Lookup(req.RunID)
	if !ok {
		return errorResult(fmt.Sprintf("run %s not found in history", req.RunID), protocol.ErrorCodeRunNotFound)
	}
	return jsonResult(report)
}

// IsHealthy reports whether the server can execute tasks
func (mcpSrv *MCPServer) IsHealthy() bool {
	return mcpSrv.orchestrator != nil && mcpSrv.orchestrator.Registry().Len() > 0
}

// GetHealth returns detailed health information about the MCP server
func (mcpSrv *MCPServer) GetHealth() MCPServerHealth {
	return MCPServerHealth{
		IsHealthy:    mcpSrv.IsHealthy(),
		Capabilities: mcpSrv.orchestrator.Registry().Names(),
		Uptime:       time.Since(mcpSrv.startTime).Round(time.Second).String(),
	}
}

// MCPServerHealth represents the health status of the MCP server
type MCPServerHealth struct {
	IsHealthy    bool     `json:"is_healthy"`
	Capabilities []string `json:"capabilities"`
	Uptime       string   `json:"uptime"`
}
