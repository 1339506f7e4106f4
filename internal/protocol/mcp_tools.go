package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Pipeline tool names
const (
	ToolExecuteTasks     = "execute_mcp_tasks"
	ToolParseTasks       = "parse_mcp_tasks"
	ToolListCapabilities = "list_capabilities"
	ToolListRecentRuns   = "list_recent_runs"
	ToolGetRunReport     = "get_run_report"
)

// MCP Tool Definitions

// MCPTool represents a tool available through the MCP interface
type MCPTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

// GetMCPTools returns the pipeline tools. Capability tools are added per registry entry.
func GetMCPTools() []MCPTool {
	return []MCPTool{
		{
			Name:        ToolExecuteTasks,
			Description: "Extract the MCP task block from language model output and execute every task",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"model_output": map[string]interface{}{
						"type":        "string",
						"description": "Raw model output containing a <MCP_TASKS>...</MCP_TASKS> block",
					},
					"use_delegated": map[string]interface{}{
						"type":        "boolean",
						"default":     false,
						"description": "Route tasks through the coordinator and specialists",
					},
				},
				"required": []string{"model_output"},
			},
		},
		{
			Name:        ToolParseTasks,
			Description: "Extract and classify the MCP task block without executing it",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"model_output": map[string]interface{}{
						"type":        "string",
						"description": "Raw model output containing a <MCP_TASKS>...</MCP_TASKS> block",
					},
				},
				"required": []string{"model_output"},
			},
		},
		{
			Name:        ToolListCapabilities,
			Description: "List all registered diagnostic capabilities",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolListRecentRuns,
			Description: "List recent execution reports, newest last",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{
						"type":        "number",
						"default":     10,
						"description": "Maximum number of runs to return",
					},
					"mode": map[string]interface{}{
						"type":        "string",
						"enum":        []string{string(ModeDirect), string(ModeDelegated)},
						"description": "Only runs executed in this mode",
					},
					"failed_only": map[string]interface{}{
						"type":        "boolean",
						"description": "Only runs with at least one failed task",
					},
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Regex matched against summaries, tasks and analyses",
					},
				},
			},
		},
		{
			Name:        ToolGetRunReport,
			Description: "Fetch the full report of a recent run",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"run_id": map[string]interface{}{
						"type":        "string",
						"description": "Run ID from execute_mcp_tasks or list_recent_runs",
					},
				},
				"required": []string{"run_id"},
			},
		},
	}
}

// CapabilityTool describes the MCP tool wrapping a single diagnostic capability
func CapabilityTool(name, description string) MCPTool {
	return MCPTool{
		Name:        name,
		Description: description,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task": map[string]interface{}{
					"type":        "string",
					"description": "Task text the result is tagged with",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"enum":        categoryNames(),
					"description": "Category the task was classified into",
				},
			},
		},
	}
}

func categoryNames() []string {
	names := make([]string, len(AllCategories))
	for i, c := range AllCategories {
		names[i] = string(c)
	}
	return names
}

// MCP Request/Response Structures

// ExecuteTasksRequest represents a request to execute_mcp_tasks
type ExecuteTasksRequest struct {
	ModelOutput  string `json:"model_output" validate:"required"`
	UseDelegated bool   `json:"use_delegated,omitempty"`
}

// ParseTasksRequest represents a request to parse_mcp_tasks
type ParseTasksRequest struct {
	ModelOutput string `json:"model_output" validate:"required"`
}

// ListRecentRunsRequest represents a request to list_recent_runs
type ListRecentRunsRequest struct {
	Limit      int           `json:"limit,omitempty"`
	Mode       ExecutionMode `json:"mode,omitempty"`
	FailedOnly bool          `json:"failed_only,omitempty"`
	Pattern    string        `json:"pattern,omitempty"`
}

// GetRunReportRequest represents a request to get_run_report
type GetRunReportRequest struct {
	RunID string `json:"run_id" validate:"required"`
}

// CapabilityRequest represents a request to a capability tool
type CapabilityRequest struct {
	Task     string   `json:"task,omitempty"`
	Category Category `json:"category,omitempty"`
}

// CapabilityInfo describes one registered capability
type CapabilityInfo struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Category    Category `json:"category" yaml:"category"`
	Timeout     string   `json:"timeout" yaml:"timeout"`
}

// ListCapabilitiesResponse represents the response from list_capabilities
type ListCapabilitiesResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Capabilities []CapabilityInfo `json:"capabilities"`
	} `json:"data"`
	Meta struct {
		TotalCount int `json:"total_count"`
	} `json:"meta"`
}

// RunSummary is the condensed view of a recorded run
type RunSummary struct {
	RunID              string           `json:"run_id" yaml:"run_id"`
	Mode               ExecutionMode    `json:"mode" yaml:"mode"`
	TasksRequested     int              `json:"tasks_requested" yaml:"tasks_requested"`
	TasksCompleted     int              `json:"tasks_completed" yaml:"tasks_completed"`
	TasksFailed        int              `json:"tasks_failed" yaml:"tasks_failed"`
	Summary            string           `json:"summary" yaml:"summary"`
	SeverityCounts     map[Severity]int `json:"severity_counts" yaml:"severity_counts"`
	ExecutionTimestamp time.Time        `json:"execution_timestamp" yaml:"execution_timestamp"`
}

// NewRunSummary condenses a report
func NewRunSummary(r *ExecutionReport) RunSummary {
	return RunSummary{
		RunID:              r.RunID,
		Mode:               r.Mode,
		TasksRequested:     r.TasksRequested,
		TasksCompleted:     r.TasksCompleted,
		TasksFailed:        r.TasksFailed,
		Summary:            r.Summary,
		SeverityCounts:     r.SeverityCounts,
		ExecutionTimestamp: r.ExecutionTimestamp,
	}
}

// ListRecentRunsResponse represents the response from list_recent_runs
type ListRecentRunsResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Runs []RunSummary `json:"runs"`
	} `json:"data"`
	Meta struct {
		TotalCount int `json:"total_count"`
	} `json:"meta"`
}

// NewListRecentRunsResponse creates a new list recent runs response
func NewListRecentRunsResponse(runs []RunSummary) *ListRecentRunsResponse {
	response := &ListRecentRunsResponse{Success: true}
	response.Data.Runs = runs
	if response.Data.Runs == nil {
		response.Data.Runs = []RunSummary{}
	}
	response.Meta.TotalCount = len(runs)
	return response
}

// MCPErrorResponse represents an error response from MCP tools
type MCPErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// Helper functions for creating responses

// NewListCapabilitiesResponse creates a new list capabilities response
func NewListCapabilitiesResponse(capabilities []CapabilityInfo) *ListCapabilitiesResponse {
	response := &ListCapabilitiesResponse{
		Success: true,
	}
	response.Data.Capabilities = capabilities
	response.Meta.TotalCount = len(capabilities)
	return response
}

// NewMCPErrorResponse creates a new MCP error response
func NewMCPErrorResponse(message, code string) *MCPErrorResponse {
	return &MCPErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	}
}

// Utility functions for JSON handling

// ParseMCPRequest parses a JSON request into the appropriate struct.
// Any tool that is not a pipeline tool is treated as a capability tool.
func ParseMCPRequest(toolName string, data []byte) (interface{}, error) {
	switch toolName {
	case ToolExecuteTasks:
		var req ExecuteTasksRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &req, nil

	case ToolParseTasks:
		var req ParseTasksRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &req, nil

	case ToolListCapabilities:
		return &struct{}{}, nil

	case ToolListRecentRuns:
		var req ListRecentRunsRequest
		if len(data) == 0 {
			return &req, nil
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &req, nil

	case ToolGetRunReport:
		var req GetRunReportRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &req, nil

	default:
		var req CapabilityRequest
		if len(data) == 0 {
			return &req, nil
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &req, nil
	}
}

// SerializeMCPResponse serializes an MCP response to JSON
func SerializeMCPResponse(response interface{}) ([]byte, error) {
	return json.Marshal(response)
}

// ValidateMCPRequest performs validation on MCP requests
func ValidateMCPRequest(toolName string, req interface{}) error {
	switch r := req.(type) {
	case *ExecuteTasksRequest:
		if r.ModelOutput == "" {
			return fmt.Errorf("model_output is required")
		}
	case *ParseTasksRequest:
		if r.ModelOutput == "" {
			return fmt.Errorf("model_output is required")
		}
	case *ListRecentRunsRequest:
		if r.Limit < 0 {
			return fmt.Errorf("limit must be non-negative, got %d", r.Limit)
		}
		if r.Mode != "" && r.Mode != ModeDirect && r.Mode != ModeDelegated {
			return fmt.Errorf("invalid mode: %s", r.Mode)
		}
	case *GetRunReportRequest:
		if r.RunID == "" {
			return fmt.Errorf("run_id is required")
		}
	case *CapabilityRequest:
		if r.Category != "" && !r.Category.IsValid() {
			return fmt.Errorf("invalid category for %s: %s", toolName, r.Category)
		}
	}
	return nil
}
