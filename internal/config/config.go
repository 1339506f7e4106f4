// Package config provides configuration management for diagmcp.
//
// This package handles loading configuration from multiple sources:
// - Configuration files (YAML, JSON, TOML)
// - Environment variables
// - Command line flags
// - Default values
//
// Configuration is loaded in order of precedence (highest to lowest):
// 1. Command line flags
// 2. Environment variables
// 3. Configuration file
// 4. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete diagmcp configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Delegation   DelegationConfig   `mapstructure:"delegation" yaml:"delegation"`
	Diagnostics  DiagnosticsConfig  `mapstructure:"diagnostics" yaml:"diagnostics"`
	WebSocket    WebSocketConfig    `mapstructure:"websocket" yaml:"websocket"`
	History      HistoryConfig      `mapstructure:"history" yaml:"history"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Development  DevelopmentConfig  `mapstructure:"development" yaml:"development"`
}

// ServerConfig contains server-specific configuration
type ServerConfig struct {
	Host                    string        `mapstructure:"host" yaml:"host"`
	WebSocketPort           int           `mapstructure:"websocket_port" yaml:"websocket_port"`
	MCPTransport            string        `mapstructure:"mcp_transport" yaml:"mcp_transport"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout" yaml:"graceful_shutdown_timeout"`
}

// OrchestratorConfig controls how task bundles are executed
type OrchestratorConfig struct {
	DefaultMode    string `mapstructure:"default_mode" yaml:"default_mode"`
	Parallel       bool   `mapstructure:"parallel" yaml:"parallel"`
	MaxConcurrency int    `mapstructure:"max_concurrency" yaml:"max_concurrency"`
}

// DelegationConfig controls the coordinator/specialist layer
type DelegationConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	InitTimeout     time.Duration `mapstructure:"init_timeout" yaml:"init_timeout"`
	MaxInitAttempts int           `mapstructure:"max_init_attempts" yaml:"max_init_attempts"`
}

// DiagnosticsConfig contains capability configuration
type DiagnosticsConfig struct {
	Disabled      []string                 `mapstructure:"disabled" yaml:"disabled"`
	NetworkTarget string                   `mapstructure:"network_target" yaml:"network_target"`
	PingCount     int                      `mapstructure:"ping_count" yaml:"ping_count"`
	MaxOutputSize string                   `mapstructure:"max_output_size" yaml:"max_output_size"`
	Timeouts      map[string]time.Duration `mapstructure:"timeouts" yaml:"timeouts"`
	Thresholds    ThresholdsConfig         `mapstructure:"thresholds" yaml:"thresholds"`
}

// ThresholdsConfig holds the severity ladder boundaries
type ThresholdsConfig struct {
	ThermalHigh      float64 `mapstructure:"thermal_high" yaml:"thermal_high"`
	ThermalMedium    float64 `mapstructure:"thermal_medium" yaml:"thermal_medium"`
	DiskHigh         float64 `mapstructure:"disk_high" yaml:"disk_high"`
	DiskMedium       float64 `mapstructure:"disk_medium" yaml:"disk_medium"`
	MemoryHigh       float64 `mapstructure:"memory_high" yaml:"memory_high"`
	MemoryMedium     float64 `mapstructure:"memory_medium" yaml:"memory_medium"`
	BatteryLow       float64 `mapstructure:"battery_low" yaml:"battery_low"`
	EventErrorCount  int     `mapstructure:"event_error_count" yaml:"event_error_count"`
	DriverMaxAgeDays int     `mapstructure:"driver_max_age_days" yaml:"driver_max_age_days"`
}

// WebSocketConfig contains WebSocket client and server configuration
type WebSocketConfig struct {
	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay" yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`
	PingInterval          time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	HandshakeTimeout      time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
}

// HistoryConfig bounds the in-memory record of recent execution reports
type HistoryConfig struct {
	Capacity int           `mapstructure:"capacity" yaml:"capacity"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
	MaxSize  string        `mapstructure:"max_size" yaml:"max_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	OutputFile string `mapstructure:"output_file" yaml:"output_file"`
	Verbose    bool   `mapstructure:"verbose" yaml:"verbose"`
}

// DevelopmentConfig contains development and debugging options
type DevelopmentConfig struct {
	DebugMode      bool `mapstructure:"debug_mode" yaml:"debug_mode"`
	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                    "localhost",
			WebSocketPort:           8765,
			MCPTransport:            "stdio",
			GracefulShutdownTimeout: 10 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			DefaultMode:    "direct",
			Parallel:       false,
			MaxConcurrency: 4,
		},
		Delegation: DelegationConfig{
			Enabled:         false,
			InitTimeout:     10 * time.Second,
			MaxInitAttempts: 3,
		},
		Diagnostics: DiagnosticsConfig{
			Disabled:      []string{},
			NetworkTarget: "8.8.8.8",
			PingCount:     4,
			MaxOutputSize: "1MB",
			Timeouts:      map[string]time.Duration{},
			Thresholds: ThresholdsConfig{
				ThermalHigh:      80,
				ThermalMedium:    70,
				DiskHigh:         90,
				DiskMedium:       80,
				MemoryHigh:       90,
				MemoryMedium:     80,
				BatteryLow:       20,
				EventErrorCount:  100,
				DriverMaxAgeDays: 730,
			},
		},
		WebSocket: WebSocketConfig{
			ReconnectInitialDelay: 1 * time.Second,
			ReconnectMaxDelay:     30 * time.Second,
			ReconnectMaxAttempts:  10,
			PingInterval:          30 * time.Second,
			WriteTimeout:          10 * time.Second,
			ReadTimeout:           60 * time.Second,
			HandshakeTimeout:      10 * time.Second,
		},
		History: HistoryConfig{
			Capacity: 100,
			MaxAge:   24 * time.Hour,
			MaxSize:  "5MB",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			OutputFile: "",
			Verbose:    false,
		},
		Development: DevelopmentConfig{
			DebugMode:      false,
			MetricsEnabled: false,
		},
	}
}

// LoadConfig loads configuration from various sources
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure environment variable handling
	v.SetEnvPrefix("DIAGMCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// Search for config file in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.diagmcp")
		v.AddConfigPath("/etc/diagmcp")
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// A specific config file that cannot be found is an error
			if configFile != "" {
				return nil, fmt.Errorf("config file not found: %s", configFile)
			}
		} else if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configFile)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Server defaults
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.websocket_port", defaults.Server.WebSocketPort)
	v.SetDefault("server.mcp_transport", defaults.Server.MCPTransport)
	v.SetDefault("server.graceful_shutdown_timeout", defaults.Server.GracefulShutdownTimeout)

	// Orchestrator defaults
	v.SetDefault("orchestrator.default_mode", defaults.Orchestrator.DefaultMode)
	v.SetDefault("orchestrator.parallel", defaults.Orchestrator.Parallel)
	v.SetDefault("orchestrator.max_concurrency", defaults.Orchestrator.MaxConcurrency)

	// Delegation defaults
	v.SetDefault("delegation.enabled", defaults.Delegation.Enabled)
	v.SetDefault("delegation.init_timeout", defaults.Delegation.InitTimeout)
	v.SetDefault("delegation.max_init_attempts", defaults.Delegation.MaxInitAttempts)

	// Diagnostics defaults
	v.SetDefault("diagnostics.disabled", defaults.Diagnostics.Disabled)
	v.SetDefault("diagnostics.network_target", defaults.Diagnostics.NetworkTarget)
	v.SetDefault("diagnostics.ping_count", defaults.Diagnostics.PingCount)
	v.SetDefault("diagnostics.max_output_size", defaults.Diagnostics.MaxOutputSize)
	v.SetDefault("diagnostics.timeouts", defaults.Diagnostics.Timeouts)
	v.SetDefault("diagnostics.thresholds.thermal_high", defaults.Diagnostics.Thresholds.ThermalHigh)
	v.SetDefault("diagnostics.thresholds.thermal_medium", defaults.Diagnostics.Thresholds.ThermalMedium)
	v.SetDefault("diagnostics.thresholds.disk_high", defaults.Diagnostics.Thresholds.DiskHigh)
	v.SetDefault("diagnostics.thresholds.disk_medium", defaults.Diagnostics.Thresholds.DiskMedium)
	v.SetDefault("diagnostics.thresholds.memory_high", defaults.Diagnostics.Thresholds.MemoryHigh)
	v.SetDefault("diagnostics.thresholds.memory_medium", defaults.Diagnostics.Thresholds.MemoryMedium)
	v.SetDefault("diagnostics.thresholds.battery_low", defaults.Diagnostics.Thresholds.BatteryLow)
	v.SetDefault("diagnostics.thresholds.event_error_count", defaults.Diagnostics.Thresholds.EventErrorCount)
	v.SetDefault("diagnostics.thresholds.driver_max_age_days", defaults.Diagnostics.Thresholds.DriverMaxAgeDays)

	// WebSocket defaults
	v.SetDefault("websocket.reconnect_initial_delay", defaults.WebSocket.ReconnectInitialDelay)
	v.SetDefault("websocket.reconnect_max_delay", defaults.WebSocket.ReconnectMaxDelay)
	v.SetDefault("websocket.reconnect_max_attempts", defaults.WebSocket.ReconnectMaxAttempts)
	v.SetDefault("websocket.ping_interval", defaults.WebSocket.PingInterval)
	v.SetDefault("websocket.write_timeout", defaults.WebSocket.WriteTimeout)
	v.SetDefault("websocket.read_timeout", defaults.WebSocket.ReadTimeout)
	v.SetDefault("websocket.handshake_timeout", defaults.WebSocket.HandshakeTimeout)

	// History defaults
	v.SetDefault("history.capacity", defaults.History.Capacity)
	v.SetDefault("history.max_age", defaults.History.MaxAge)
	v.SetDefault("history.max_size", defaults.History.MaxSize)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output_file", defaults.Logging.OutputFile)
	v.SetDefault("logging.verbose", defaults.Logging.Verbose)

	// Development defaults
	v.SetDefault("development.debug_mode", defaults.Development.DebugMode)
	v.SetDefault("development.metrics_enabled", defaults.Development.MetricsEnabled)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	// Validate server configuration
	if config.Server.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}

	if config.Server.WebSocketPort < 1 || config.Server.WebSocketPort > 65535 {
		return fmt.Errorf("server.websocket_port must be between 1 and 65535, got %d", config.Server.WebSocketPort)
	}

	if config.Server.MCPTransport != "stdio" {
		return fmt.Errorf("server.mcp_transport must be 'stdio', got %s", config.Server.MCPTransport)
	}

	if config.Server.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("server.graceful_shutdown_timeout must be positive, got %v", config.Server.GracefulShutdownTimeout)
	}

	// Validate orchestrator configuration
	if config.Orchestrator.DefaultMode != "direct" && config.Orchestrator.DefaultMode != "delegated" {
		return fmt.Errorf("orchestrator.default_mode must be 'direct' or 'delegated', got %s", config.Orchestrator.DefaultMode)
	}

	if config.Orchestrator.MaxConcurrency < 1 {
		return fmt.Errorf("orchestrator.max_concurrency must be at least 1, got %d", config.Orchestrator.MaxConcurrency)
	}

	// Validate delegation configuration
	if config.Delegation.InitTimeout <= 0 {
		return fmt.Errorf("delegation.init_timeout must be positive, got %v", config.Delegation.InitTimeout)
	}

	if config.Delegation.MaxInitAttempts < 1 {
		return fmt.Errorf("delegation.max_init_attempts must be at least 1, got %d", config.Delegation.MaxInitAttempts)
	}

	// Validate diagnostics configuration
	if config.Diagnostics.NetworkTarget == "" {
		return fmt.Errorf("diagnostics.network_target cannot be empty")
	}

	if config.Diagnostics.PingCount < 1 {
		return fmt.Errorf("diagnostics.ping_count must be at least 1, got %d", config.Diagnostics.PingCount)
	}

	if err := validateSizeString(config.Diagnostics.MaxOutputSize, "diagnostics.max_output_size"); err != nil {
		return err
	}

	for name, timeout := range config.Diagnostics.Timeouts {
		if timeout <= 0 {
			return fmt.Errorf("diagnostics.timeouts.%s must be positive, got %v", name, timeout)
		}
	}

	if err := validateThresholds(config.Diagnostics.Thresholds); err != nil {
		return err
	}

	// Validate WebSocket configuration
	if config.WebSocket.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("websocket.reconnect_max_attempts must be non-negative, got %d", config.WebSocket.ReconnectMaxAttempts)
	}

	if config.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket.ping_interval must be positive, got %v", config.WebSocket.PingInterval)
	}

	// Validate history configuration
	if config.History.Capacity < 1 {
		return fmt.Errorf("history.capacity must be at least 1, got %d", config.History.Capacity)
	}

	if config.History.MaxAge <= 0 {
		return fmt.Errorf("history.max_age must be positive, got %v", config.History.MaxAge)
	}

	if err := validateSizeString(config.History.MaxSize, "history.max_size"); err != nil {
		return err
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[config.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %s", config.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[config.Logging.Format] {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %s", config.Logging.Format)
	}

	return nil
}

// validateThresholds checks each ladder is ordered and within range
func validateThresholds(t ThresholdsConfig) error {
	ladders := []struct {
		name         string
		medium, high float64
		max          float64
	}{
		{"thermal", t.ThermalMedium, t.ThermalHigh, 150},
		{"disk", t.DiskMedium, t.DiskHigh, 100},
		{"memory", t.MemoryMedium, t.MemoryHigh, 100},
	}

	for _, l := range ladders {
		if l.medium <= 0 || l.high > l.max {
			return fmt.Errorf("diagnostics.thresholds.%s must be within (0, %v], got medium=%v high=%v", l.name, l.max, l.medium, l.high)
		}
		if l.medium >= l.high {
			return fmt.Errorf("diagnostics.thresholds.%s_medium must be below %s_high, got %v >= %v", l.name, l.name, l.medium, l.high)
		}
	}

	if t.BatteryLow < 0 || t.BatteryLow > 100 {
		return fmt.Errorf("diagnostics.thresholds.battery_low must be between 0 and 100, got %v", t.BatteryLow)
	}

	if t.EventErrorCount < 0 {
		return fmt.Errorf("diagnostics.thresholds.event_error_count must be non-negative, got %d", t.EventErrorCount)
	}

	if t.DriverMaxAgeDays < 1 {
		return fmt.Errorf("diagnostics.thresholds.driver_max_age_days must be at least 1, got %d", t.DriverMaxAgeDays)
	}

	return nil
}

// validateSizeString validates size strings like "5MB", "64KB"
func validateSizeString(size, field string) error {
	if size == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}

	if _, err := ParseSize(size); err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}

	return nil
}

// ParseSize parses size strings like "5MB", "64KB" into bytes
func ParseSize(size string) (int64, error) {
	if size == "" {
		return 0, fmt.Errorf("size string cannot be empty")
	}

	size = strings.ToUpper(size)

	// Longest suffix first so "MB" is not read as "B"
	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"TB", 1024 * 1024 * 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	var multiplier int64 = 1
	var valueStr string

	for _, unit := range units {
		if strings.HasSuffix(size, unit.suffix) {
			multiplier = unit.multiplier
			valueStr = strings.TrimSuffix(size, unit.suffix)
			break
		}
	}

	// No unit means bytes
	if valueStr == "" {
		valueStr = size
		multiplier = 1
	}

	var value int64
	var floatValue float64

	if n, err := fmt.Sscanf(valueStr, "%f", &floatValue); err == nil && n == 1 {
		if floatValue == float64(int64(floatValue)) {
			value = int64(floatValue)
		} else {
			return 0, fmt.Errorf("float values not supported in size string: %s", valueStr)
		}
	} else {
		return 0, fmt.Errorf("invalid numeric value in size string: %s", valueStr)
	}

	if value < 0 {
		return 0, fmt.Errorf("size value cannot be negative: %d", value)
	}

	return value * multiplier, nil
}

// MaxOutputBytes returns the parsed diagnostics.max_output_size, or 1MB if it is invalid
func (c DiagnosticsConfig) MaxOutputBytes() int64 {
	n, err := ParseSize(c.MaxOutputSize)
	if err != nil || n <= 0 {
		return 1024 * 1024
	}
	return n
}

// MaxSizeBytes returns the parsed history.max_size, or 5MB if it is invalid
func (c HistoryConfig) MaxSizeBytes() int64 {
	n, err := ParseSize(c.MaxSize)
	if err != nil || n <= 0 {
		return 5 * 1024 * 1024
	}
	return n
}

// IsDisabled reports whether the named capability is disabled
func (c DiagnosticsConfig) IsDisabled(name string) bool {
	for _, d := range c.Disabled {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// GetConfigPaths returns the paths where config files are searched
func GetConfigPaths() []string {
	paths := []string{
		"./config.yaml",
		"./config.yml",
		"./config.json",
		"./config.toml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".diagmcp", "config.yaml"),
			filepath.Join(home, ".diagmcp", "config.yml"),
			filepath.Join(home, ".diagmcp", "config.json"),
			filepath.Join(home, ".diagmcp", "config.toml"),
		)
	}

	paths = append(paths,
		"/etc/diagmcp/config.yaml",
		"/etc/diagmcp/config.yml",
		"/etc/diagmcp/config.json",
		"/etc/diagmcp/config.toml",
	)

	return paths
}

// GetEnvVarName returns the environment variable name for a config key
func GetEnvVarName(key string) string {
	return "DIAGMCP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ExampleConfig returns an example configuration for documentation
func ExampleConfig() *Config {
	config := DefaultConfig()

	config.Server.Host = "0.0.0.0"
	config.Orchestrator.Parallel = true
	config.Delegation.Enabled = true
	config.Diagnostics.Disabled = []string{"scan_system_files"}
	config.Diagnostics.Timeouts = map[string]time.Duration{
		"verify_event_logs": 2 * time.Minute,
	}
	config.Logging.Level = "debug"
	config.Logging.Verbose = true
	config.Development.DebugMode = true
	config.Development.MetricsEnabled = true

	return config
}
