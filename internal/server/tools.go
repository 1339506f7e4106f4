package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// RegisterCapabilityTools exposes every capability in registry as an MCP tool.
// Each tool takes optional task and category arguments and answers with the
// JSON encoded protocol.CapabilityResult.
func RegisterCapabilityTools(s *server.MCPServer, registry *diagnostics.Registry) {
	for _, capability := range registry.List() {
		s.AddTool(capabilityTool(capability), capabilityHandler(capability))
	}
}

// NewCapabilityServer creates an mcp-go server that carries only the
// capability tools. The delegated layer talks to it in-process.
func NewCapabilityServer(registry *diagnostics.Registry, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"diagmcp-capabilities",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	RegisterCapabilityTools(s, registry)
	return s
}

func capabilityTool(capability diagnostics.Capability) mcp.Tool {
	categories := make([]string, len(protocol.AllCategories))
	for i, c := range protocol.AllCategories {
		categories[i] = string(c)
	}

	return mcp.NewTool(capability.Name(),
		mcp.WithDescription(capability.Description()),
		mcp.WithString("task",
			mcp.Description("Task text the result is tagged with"),
		),
		mcp.WithString("category",
			mcp.Description("Category the task was classified into"),
			mcp.Enum(categories...),
		),
	)
}

func capabilityHandler(capability diagnostics.Capability) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := parseToolArguments(capability.Name(), request)
		if err != nil {
			return errorResult(err.Error(), protocol.ErrorCodeInvalidRequest)
		}
		capReq := req.(*protocol.CapabilityRequest)

		result := capability.Invoke(ctx, diagnostics.Request{
			Task:     capReq.Task,
			Category: capReq.Category,
		})
		return jsonResult(result)
	}
}

// parseToolArguments decodes and validates the arguments of a tool call
func parseToolArguments(toolName string, request mcp.CallToolRequest) (interface{}, error) {
	raw, err := json.Marshal(request.GetArguments())
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	req, err := protocol.ParseMCPRequest(toolName, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", toolName, err)
	}
	if err := protocol.ValidateMCPRequest(toolName, req); err != nil {
		return nil, err
	}
	return req, nil
}

// jsonResult wraps v as indented JSON text content
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	resultJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
	}, nil
}

// errorResult reports a tool level failure the caller can read
func errorResult(message, code string) (*mcp.CallToolResult, error) {
	result, err := jsonResult(protocol.NewMCPErrorResponse(message, code))
	if err != nil {
		return nil, err
	}
	result.IsError = true
	return result, nil
}

// ToolResultText returns the text of the first content item of a tool result
func ToolResultText(result *mcp.CallToolResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nil tool result")
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("empty tool result content")
	}

	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text, nil
	case *mcp.TextContent:
		return c.Text, nil
	default:
		return "", fmt.Errorf("unexpected content type: %T", result.Content[0])
	}
}

// DecodeCapabilityResult reads the CapabilityResult a capability tool returned
func DecodeCapabilityResult(result *mcp.CallToolResult) (protocol.CapabilityResult, error) {
	var decoded protocol.CapabilityResult

	text, err := ToolResultText(result)
	if err != nil {
		return decoded, err
	}
	if result.IsError {
		var toolErr protocol.MCPErrorResponse
		if err := json.Unmarshal([]byte(text), &toolErr); err == nil && toolErr.Error != "" {
			return decoded, fmt.Errorf("tool error (%s): %s", toolErr.Code, toolErr.Error)
		}
		return decoded, fmt.Errorf("tool error: %s", text)
	}

	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return decoded, fmt.Errorf("failed to parse capability result: %w", err)
	}
	return decoded, nil
}
