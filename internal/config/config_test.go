package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig tests the default configuration
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("Expected default config to be non-nil")
	}

	// Test server defaults
	if config.Server.Host != "localhost" {
		t.Errorf("Expected default host 'localhost', got '%s'", config.Server.Host)
	}

	if config.Server.WebSocketPort != 8765 {
		t.Errorf("Expected default websocket port 8765, got %d", config.Server.WebSocketPort)
	}

	if config.Server.MCPTransport != "stdio" {
		t.Errorf("Expected default MCP transport 'stdio', got '%s'", config.Server.MCPTransport)
	}

	// Test orchestrator defaults
	if config.Orchestrator.DefaultMode != "direct" {
		t.Errorf("Expected default mode 'direct', got '%s'", config.Orchestrator.DefaultMode)
	}

	if config.Orchestrator.Parallel {
		t.Error("Expected parallel execution to be disabled by default")
	}

	// Delegation is off unless configured
	if config.Delegation.Enabled {
		t.Error("Expected delegation to be disabled by default")
	}

	// Test diagnostics defaults
	if config.Diagnostics.PingCount != 4 {
		t.Errorf("Expected default ping count 4, got %d", config.Diagnostics.PingCount)
	}

	if config.Diagnostics.Thresholds.ThermalHigh != 80 || config.Diagnostics.Thresholds.ThermalMedium != 70 {
		t.Errorf("Unexpected thermal thresholds: %+v", config.Diagnostics.Thresholds)
	}

	if config.Diagnostics.Thresholds.DriverMaxAgeDays != 730 {
		t.Errorf("Expected driver max age 730 days, got %d", config.Diagnostics.Thresholds.DriverMaxAgeDays)
	}

	// Test WebSocket defaults
	if config.WebSocket.ReconnectMaxAttempts != 10 {
		t.Errorf("Expected default max attempts 10, got %d", config.WebSocket.ReconnectMaxAttempts)
	}

	// Test logging defaults
	if config.Logging.Level != "info" {
		t.Errorf("Expected default log level 'info', got '%s'", config.Logging.Level)
	}

	if config.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got '%s'", config.Logging.Format)
	}

	if err := validateConfig(config); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

// TestLoadConfig_NoFile tests loading config when no file exists
func TestLoadConfig_NoFile(t *testing.T) {
	// Explicit non-existent file should error
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent-config.yaml"))
	if err == nil {
		t.Error("Expected error when specific config file doesn't exist")
	}

	// Empty config file path should use defaults
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Expected no error when no config file specified, got %v", err)
	}

	if config.Server.Host != "localhost" {
		t.Errorf("Expected default host, got '%s'", config.Server.Host)
	}
}

// TestLoadConfig_WithFile tests loading config from file
func TestLoadConfig_WithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
server:
  host: "0.0.0.0"
  websocket_port: 9000

orchestrator:
  parallel: true
  max_concurrency: 2

delegation:
  enabled: true
  init_timeout: "5s"

diagnostics:
  disabled:
    - scan_system_files
  network_target: "1.1.1.1"
  timeouts:
    verify_event_logs: "2m"
  thresholds:
    disk_high: 95
    disk_medium: 85

logging:
  level: "debug"
  verbose: true
`

	if err := os.WriteFile(path, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host '0.0.0.0', got '%s'", config.Server.Host)
	}

	if config.Server.WebSocketPort != 9000 {
		t.Errorf("Expected port 9000, got %d", config.Server.WebSocketPort)
	}

	if !config.Orchestrator.Parallel || config.Orchestrator.MaxConcurrency != 2 {
		t.Errorf("Unexpected orchestrator config: %+v", config.Orchestrator)
	}

	if !config.Delegation.Enabled || config.Delegation.InitTimeout != 5*time.Second {
		t.Errorf("Unexpected delegation config: %+v", config.Delegation)
	}

	if !config.Diagnostics.IsDisabled("scan_system_files") {
		t.Error("Expected scan_system_files to be disabled")
	}

	if config.Diagnostics.NetworkTarget != "1.1.1.1" {
		t.Errorf("Expected network target '1.1.1.1', got '%s'", config.Diagnostics.NetworkTarget)
	}

	if config.Diagnostics.Timeouts["verify_event_logs"] != 2*time.Minute {
		t.Errorf("Expected event log timeout 2m, got %v", config.Diagnostics.Timeouts["verify_event_logs"])
	}

	if config.Diagnostics.Thresholds.DiskHigh != 95 {
		t.Errorf("Expected disk high 95, got %v", config.Diagnostics.Thresholds.DiskHigh)
	}

	// Unset thresholds keep their defaults
	if config.Diagnostics.Thresholds.MemoryHigh != 90 {
		t.Errorf("Expected memory high 90, got %v", config.Diagnostics.Thresholds.MemoryHigh)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", config.Logging.Level)
	}

	if !config.Logging.Verbose {
		t.Error("Expected verbose logging to be true")
	}
}

// TestLoadConfig_InvalidFile tests loading invalid config file
func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := os.WriteFile(path, []byte("invalid: yaml: content:\n  - broken"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Error("Expected error when loading invalid config file")
	}
}

// TestValidateConfig tests configuration validation
func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name         string
		modifyConfig func(*Config)
		expectError  bool
	}{
		{
			name:         "valid config",
			modifyConfig: func(c *Config) {},
			expectError:  false,
		},
		{
			name: "empty host",
			modifyConfig: func(c *Config) {
				c.Server.Host = ""
			},
			expectError: true,
		},
		{
			name: "invalid port - too low",
			modifyConfig: func(c *Config) {
				c.Server.WebSocketPort = 0
			},
			expectError: true,
		},
		{
			name: "invalid port - too high",
			modifyConfig: func(c *Config) {
				c.Server.WebSocketPort = 70000
			},
			expectError: true,
		},
		{
			name: "invalid MCP transport",
			modifyConfig: func(c *Config) {
				c.Server.MCPTransport = "invalid"
			},
			expectError: true,
		},
		{
			name: "invalid default mode",
			modifyConfig: func(c *Config) {
				c.Orchestrator.DefaultMode = "swarm"
			},
			expectError: true,
		},
		{
			name: "delegated default mode",
			modifyConfig: func(c *Config) {
				c.Orchestrator.DefaultMode = "delegated"
			},
			expectError: false,
		},
		{
			name: "zero concurrency",
			modifyConfig: func(c *Config) {
				c.Orchestrator.MaxConcurrency = 0
			},
			expectError: true,
		},
		{
			name: "zero init attempts",
			modifyConfig: func(c *Config) {
				c.Delegation.MaxInitAttempts = 0
			},
			expectError: true,
		},
		{
			name: "empty network target",
			modifyConfig: func(c *Config) {
				c.Diagnostics.NetworkTarget = ""
			},
			expectError: true,
		},
		{
			name: "invalid output size",
			modifyConfig: func(c *Config) {
				c.Diagnostics.MaxOutputSize = "lots"
			},
			expectError: true,
		},
		{
			name: "negative capability timeout",
			modifyConfig: func(c *Config) {
				c.Diagnostics.Timeouts = map[string]time.Duration{"inspect_disk_usage": -time.Second}
			},
			expectError: true,
		},
		{
			name: "inverted disk ladder",
			modifyConfig: func(c *Config) {
				c.Diagnostics.Thresholds.DiskMedium = 95
				c.Diagnostics.Thresholds.DiskHigh = 90
			},
			expectError: true,
		},
		{
			name: "memory threshold over 100",
			modifyConfig: func(c *Config) {
				c.Diagnostics.Thresholds.MemoryHigh = 120
			},
			expectError: true,
		},
		{
			name: "zero history capacity",
			modifyConfig: func(c *Config) {
				c.History.Capacity = 0
			},
			expectError: true,
		},
		{
			name: "non-positive history age",
			modifyConfig: func(c *Config) {
				c.History.MaxAge = 0
			},
			expectError: true,
		},
		{
			name: "invalid history size",
			modifyConfig: func(c *Config) {
				c.History.MaxSize = "lots"
			},
			expectError: true,
		},
		{
			name: "invalid log level",
			modifyConfig: func(c *Config) {
				c.Logging.Level = "invalid"
			},
			expectError: true,
		},
		{
			name: "invalid log format",
			modifyConfig: func(c *Config) {
				c.Logging.Format = "invalid"
			},
			expectError: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := DefaultConfig()
			test.modifyConfig(config)

			err := validateConfig(config)

			if test.expectError && err == nil {
				t.Error("Expected validation error but got none")
			}

			if !test.expectError && err != nil {
				t.Errorf("Expected no validation error but got: %v", err)
			}
		})
	}
}

// TestParseSize tests size string parsing
func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		hasError bool
	}{
		{"1B", 1, false},
		{"1KB", 1024, false},
		{"1MB", 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"256KB", 256 * 1024, false},
		{"1", 1, false},
		{"1kb", 1024, false},
		{"", 0, true},
		{"invalid", 0, true},
		{"-1MB", 0, true},
		{"1.5MB", 0, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			result, err := ParseSize(test.input)

			if test.hasError {
				if err == nil {
					t.Errorf("Expected error for input '%s'", test.input)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error for input '%s': %v", test.input, err)
				} else if result != test.expected {
					t.Errorf("For input '%s', expected %d bytes, got %d", test.input, test.expected, result)
				}
			}
		})
	}
}

// TestDiagnosticsHelpers tests MaxOutputBytes and IsDisabled
func TestDiagnosticsHelpers(t *testing.T) {
	cfg := DefaultConfig().Diagnostics

	if cfg.MaxOutputBytes() != 1024*1024 {
		t.Errorf("Expected 1MB output cap, got %d", cfg.MaxOutputBytes())
	}

	cfg.MaxOutputSize = "bogus"
	if cfg.MaxOutputBytes() != 1024*1024 {
		t.Errorf("Expected fallback to 1MB, got %d", cfg.MaxOutputBytes())
	}

	cfg.Disabled = []string{"Check_GPU_Status"}
	if !cfg.IsDisabled("check_gpu_status") {
		t.Error("Expected case-insensitive disabled match")
	}
	if cfg.IsDisabled("inspect_disk_usage") {
		t.Error("Expected inspect_disk_usage to be enabled")
	}
}

func TestHistoryHelpers(t *testing.T) {
	cfg := DefaultConfig().History

	if cfg.MaxSizeBytes() != 5*1024*1024 {
		t.Errorf("Expected 5MB history cap, got %d", cfg.MaxSizeBytes())
	}

	cfg.MaxSize = "64KB"
	if cfg.MaxSizeBytes() != 64*1024 {
		t.Errorf("Expected 64KB, got %d", cfg.MaxSizeBytes())
	}
}

// TestGetConfigPaths tests config path discovery
func TestGetConfigPaths(t *testing.T) {
	paths := GetConfigPaths()

	if len(paths) == 0 {
		t.Error("Expected at least some config paths")
	}

	found := false
	for _, path := range paths {
		if filepath.Dir(path) == "." {
			found = true
			break
		}
	}

	if !found {
		t.Error("Expected current directory to be in config paths")
	}
}

// TestGetEnvVarName tests environment variable name generation
func TestGetEnvVarName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"server.host", "DIAGMCP_SERVER_HOST"},
		{"server.websocket_port", "DIAGMCP_SERVER_WEBSOCKET_PORT"},
		{"delegation.enabled", "DIAGMCP_DELEGATION_ENABLED"},
		{"logging.level", "DIAGMCP_LOGGING_LEVEL"},
	}

	for _, test := range tests {
		result := GetEnvVarName(test.input)
		if result != test.expected {
			t.Errorf("For input '%s', expected '%s', got '%s'", test.input, test.expected, result)
		}
	}
}

// TestExampleConfig tests the example configuration
func TestExampleConfig(t *testing.T) {
	config := ExampleConfig()

	if config.Server.Host != "0.0.0.0" {
		t.Errorf("Expected example host '0.0.0.0', got '%s'", config.Server.Host)
	}

	if !config.Delegation.Enabled {
		t.Error("Expected example delegation to be enabled")
	}

	if !config.Development.DebugMode {
		t.Error("Expected example debug mode to be true")
	}

	if err := validateConfig(config); err != nil {
		t.Errorf("Example config should be valid: %v", err)
	}
}

// TestEnvironmentVariables tests environment variable loading
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("DIAGMCP_SERVER_HOST", "test-host")
	t.Setenv("DIAGMCP_SERVER_WEBSOCKET_PORT", "9999")
	t.Setenv("DIAGMCP_DELEGATION_ENABLED", "true")
	t.Setenv("DIAGMCP_ORCHESTRATOR_MAX_CONCURRENCY", "8")
	t.Setenv("DIAGMCP_LOGGING_LEVEL", "debug")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.Host != "test-host" {
		t.Errorf("Expected host 'test-host', got '%s'", config.Server.Host)
	}

	if config.Server.WebSocketPort != 9999 {
		t.Errorf("Expected port 9999, got %d", config.Server.WebSocketPort)
	}

	if !config.Delegation.Enabled {
		t.Error("Expected delegation to be enabled from environment")
	}

	if config.Orchestrator.MaxConcurrency != 8 {
		t.Errorf("Expected max concurrency 8, got %d", config.Orchestrator.MaxConcurrency)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", config.Logging.Level)
	}
}

// BenchmarkLoadConfig benchmarks configuration loading
func BenchmarkLoadConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, err := LoadConfig("")
		if err != nil {
			b.Fatalf("Failed to load config: %v", err)
		}
	}
}
