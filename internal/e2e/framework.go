// Package e2e drives a real diagmcp binary over stdio with JSON-RPC 2.0.
//
// The tests start "diagmcp serve --no-websocket" as a child process and talk
// MCP to it the way an LLM client would. They cover:
//
// - The MCP handshake and tool listing
// - Task parsing and capability listing through tools/call
// - The no-task-block path of execute_tasks
// - The run history tools
//
// Build the binary first with "go build -o diagmcp ." from the project root;
// the tests skip when it cannot be found.
package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// BinaryName is the executable the suite looks for
const BinaryName = "diagmcp"

// E2ETestSuite runs one diagmcp server process for a test
type E2ETestSuite struct {
	t          *testing.T
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	responses  chan *MCPResponse
	readErr    chan error
	binaryPath string
	tempDir    string
	cleanup    []func() error
	mu         sync.Mutex
	reqID      int
}

// MCPRequest represents a JSON-RPC 2.0 request
type MCPRequest struct {
	JSONRpc string      `json:"jsonrpc"`
	ID      int         `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// MCPResponse represents a JSON-RPC 2.0 response
type MCPResponse struct {
	JSONRpc string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

// MCPError is a JSON-RPC 2.0 error object
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolCallResult is the subset of a tools/call result the tests read
type ToolCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// NewE2ETestSuite creates a suite, skipping the test when no binary is built
func NewE2ETestSuite(t *testing.T) *E2ETestSuite {
	t.Helper()

	binaryPath, err := findBinary()
	if err != nil {
		t.Skipf("Skipping end-to-end test: %v", err)
	}

	suite := &E2ETestSuite{
		t:          t,
		tempDir:    t.TempDir(),
		binaryPath: binaryPath,
		responses:  make(chan *MCPResponse, 16),
		readErr:    make(chan error, 1),
		reqID:      1,
	}
	t.Cleanup(suite.Cleanup)

	t.Logf("Using diagmcp binary at: %s", binaryPath)
	return suite
}

// findBinary looks for the binary in the working directory and up to three parents
func findBinary() (string, error) {
	if path := os.Getenv("DIAGMCP_BINARY"); path != "" {
		return path, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for i := 0; i < 4; i++ {
		candidate := filepath.Join(cwd, BinaryName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		cwd = filepath.Dir(cwd)
	}

	return "", fmt.Errorf("%s binary not found, run 'go build -o %s .' from the project root", BinaryName, BinaryName)
}

// StartServer starts "diagmcp serve" on stdio only
func (s *E2ETestSuite) StartServer(extraArgs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := append([]string{"serve", "--no-websocket"}, extraArgs...)
	s.cmd = exec.Command(s.binaryPath, args...)
	s.cmd.Dir = s.tempDir
	s.cmd.Env = append(os.Environ(), "DIAGMCP_LOGGING_OUTPUT_FILE="+filepath.Join(s.tempDir, "server.log"))

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	s.stdin = stdin

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.addCleanup(func() error {
		s.stdin.Close()
		done := make(chan struct{})
		go func() {
			s.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.cmd.Process.Kill()
			<-done
		}
		return nil
	})

	go s.readResponses(stdout)

	s.t.Logf("diagmcp server started (PID: %d)", s.cmd.Process.Pid)
	return nil
}

// readResponses decodes every JSON line the server writes
func (s *E2ETestSuite) readResponses(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !json.Valid(line) {
			continue
		}
		var response MCPResponse
		if err := json.Unmarshal(line, &response); err != nil || response.ID == 0 {
			// Notifications carry no ID
			continue
		}
		s.responses <- &response
	}
	s.readErr <- fmt.Errorf("server stdout closed: %v", scanner.Err())
}

// Initialize performs the MCP handshake
func (s *E2ETestSuite) Initialize() error {
	response, err := s.SendMCPRequest("initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "e2e-test-client",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return err
	}
	if response.Error != nil {
		return fmt.Errorf("initialize failed: %s", response.Error.Message)
	}
	return s.notify("notifications/initialized")
}

func (s *E2ETestSuite) notify(method string) error {
	data, err := json.Marshal(MCPRequest{JSONRpc: "2.0", Method: method})
	if err != nil {
		return err
	}
	_, err = s.stdin.Write(append(data, '\n'))
	return err
}

// SendMCPRequest sends a JSON-RPC 2.0 request and waits for its response
func (s *E2ETestSuite) SendMCPRequest(method string, params interface{}) (*MCPResponse, error) {
	s.mu.Lock()
	reqID := s.reqID
	s.reqID++
	s.mu.Unlock()

	requestJSON, err := json.Marshal(MCPRequest{
		JSONRpc: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, err := s.stdin.Write(append(requestJSON, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	s.t.Logf("Sent MCP request: %s", requestJSON)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for {
		select {
		case response := <-s.responses:
			if response.ID == reqID {
				return response, nil
			}
		case err := <-s.readErr:
			return nil, err
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for response to %s", method)
		}
	}
}

// CallTool invokes a tool and decodes the JSON text of its result into v.
// It returns whether the tool reported an error.
func (s *E2ETestSuite) CallTool(name string, args map[string]interface{}, v interface{}) (bool, error) {
	response, err := s.SendMCPRequest("tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return false, err
	}
	if response.Error != nil {
		return false, fmt.Errorf("tools/call %s failed: %s", name, response.Error.Message)
	}

	var result ToolCallResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return false, fmt.Errorf("invalid tools/call result: %w", err)
	}
	if len(result.Content) == 0 {
		return result.IsError, fmt.Errorf("tools/call %s returned no content", name)
	}
	if v != nil {
		if err := json.Unmarshal([]byte(result.Content[0].Text), v); err != nil {
			return result.IsError, fmt.Errorf("failed to decode %s result: %w", name, err)
		}
	}
	return result.IsError, nil
}

func (s *E2ETestSuite) addCleanup(cleanup func() error) {
	s.cleanup = append(s.cleanup, cleanup)
}

// Cleanup stops the server and releases resources in reverse order
func (s *E2ETestSuite) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.cleanup) - 1; i >= 0; i-- {
		if err := s.cleanup[i](); err != nil {
			s.t.Logf("Cleanup error: %v", err)
		}
	}
	s.cleanup = nil
}
