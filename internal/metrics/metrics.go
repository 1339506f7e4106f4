// Package metrics provides performance monitoring and metrics collection for diagmcp.
//
// This package implements:
// - Per-capability timing and success rates
// - Error rate tracking and categorization
// - Run outcomes per execution mode and finding severity
// - WebSocket connection metrics
// - Integration with structured logging
//
// A Monitor is created once per process and shared by the orchestrator and the
// transports. It is safe for concurrent use.
//
// Example usage:
//
//	monitor := metrics.NewMonitor()
//	monitor.SetLogger(logger.Logger)
//
//	err := monitor.TrackOperation(ctx, "inspect_disk_usage", func() error {
//		return probe(ctx)
//	})
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// OperationKey is the context key for operation names
type OperationKey struct{}

// Monitor provides performance monitoring functionality
type Monitor struct {
	logger *slog.Logger
	mu     sync.RWMutex

	operations  map[string]*OperationMetrics
	errors      map[string]*ErrorMetrics
	connections *ConnectionMetrics
	runs        *RunMetrics
}

// OperationMetrics tracks metrics for specific operations
type OperationMetrics struct {
	Name            string        `json:"name" yaml:"name"`
	Count           int64         `json:"count" yaml:"count"`
	TotalDuration   time.Duration `json:"total_duration" yaml:"total_duration"`
	AverageDuration time.Duration `json:"average_duration" yaml:"average_duration"`
	MinDuration     time.Duration `json:"min_duration" yaml:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration" yaml:"max_duration"`
	LastExecution   time.Time     `json:"last_execution" yaml:"last_execution"`
	Errors          int64         `json:"errors" yaml:"errors"`
	Successes       int64         `json:"successes" yaml:"successes"`
}

// SuccessRate returns the percentage of successful executions
func (o *OperationMetrics) SuccessRate() float64 {
	if o.Count == 0 {
		return 0
	}
	return float64(o.Successes) / float64(o.Count) * 100
}

// ErrorMetrics tracks error occurrences and patterns
type ErrorMetrics struct {
	Type         string    `json:"type" yaml:"type"`
	Code         string    `json:"code" yaml:"code"`
	Count        int64     `json:"count" yaml:"count"`
	LastOccurred time.Time `json:"last_occurred" yaml:"last_occurred"`
	Component    string    `json:"component" yaml:"component"`
	Message      string    `json:"message" yaml:"message"`
}

// ConnectionMetrics tracks connection-related metrics
type ConnectionMetrics struct {
	ActiveConnections    int64         `json:"active_connections" yaml:"active_connections"`
	TotalConnections     int64         `json:"total_connections" yaml:"total_connections"`
	FailedConnections    int64         `json:"failed_connections" yaml:"failed_connections"`
	ReconnectionAttempts int64         `json:"reconnection_attempts" yaml:"reconnection_attempts"`
	AverageConnectTime   time.Duration `json:"average_connect_time" yaml:"average_connect_time"`
	LastConnectTime      time.Time     `json:"last_connect_time" yaml:"last_connect_time"`
}

// RunMetrics counts orchestration runs. Findings is keyed by severity.
type RunMetrics struct {
	Runs           int64            `json:"runs" yaml:"runs"`
	ByMode         map[string]int64 `json:"by_mode" yaml:"by_mode"`
	Fallbacks      int64            `json:"fallbacks" yaml:"fallbacks"`
	TasksCompleted int64            `json:"tasks_completed" yaml:"tasks_completed"`
	TasksFailed    int64            `json:"tasks_failed" yaml:"tasks_failed"`
	Findings       map[string]int64 `json:"findings" yaml:"findings"`
}

func newRunMetrics() *RunMetrics {
	return &RunMetrics{
		ByMode:   make(map[string]int64),
		Findings: make(map[string]int64),
	}
}

// RunOutcome is what RecordRun needs to know about a finished run
type RunOutcome struct {
	Mode           string
	Fallback       bool
	TasksCompleted int
	TasksFailed    int
	Findings       map[string]int
}

// Connection events accepted by TrackConnection
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectFailed    = "connect_failed"
	EventReconnectAttempt = "reconnect_attempt"
)

// NewMonitor creates a new performance monitor
func NewMonitor() *Monitor {
	return &Monitor{
		operations:  make(map[string]*OperationMetrics),
		errors:      make(map[string]*ErrorMetrics),
		connections: &ConnectionMetrics{},
		runs:        newRunMetrics(),
	}
}

// SetLogger sets the logger for metrics output
func (m *Monitor) SetLogger(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger.With(slog.String("component", "metrics"))
}

func (m *Monitor) log() *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// WithOperation adds operation context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey{}, operation)
}

// GetOperation retrieves operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(OperationKey{}).(string); ok {
		return op
	}
	return ""
}

// TrackOperation tracks the execution of an operation
func (m *Monitor) TrackOperation(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	m.RecordOperation(operation, duration, err == nil)

	if logger := m.log(); logger != nil {
		level := slog.LevelDebug
		status := "success"
		if err != nil {
			level = slog.LevelWarn
			status = "error"
		}

		attrs := []slog.Attr{
			slog.String("operation", operation),
			slog.Duration("duration", duration),
			slog.String("status", status),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.LogAttrs(ctx, level, "Operation completed", attrs...)
	}

	return err
}

// RecordOperation records one execution of an operation
func (m *Monitor) RecordOperation(name string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, exists := m.operations[name]
	if !exists {
		metrics = &OperationMetrics{
			Name:        name,
			MinDuration: duration,
			MaxDuration: duration,
		}
		m.operations[name] = metrics
	}

	metrics.Count++
	metrics.TotalDuration += duration
	metrics.LastExecution = time.Now()

	if duration < metrics.MinDuration {
		metrics.MinDuration = duration
	}
	if duration > metrics.MaxDuration {
		metrics.MaxDuration = duration
	}

	metrics.AverageDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)

	if success {
		metrics.Successes++
	} else {
		metrics.Errors++
	}
}

// RecordRun adds one finished run to the run counters
func (m *Monitor) RecordRun(outcome RunOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs.Runs++
	m.runs.ByMode[outcome.Mode]++
	if outcome.Fallback {
		m.runs.Fallbacks++
	}
	m.runs.TasksCompleted += int64(outcome.TasksCompleted)
	m.runs.TasksFailed += int64(outcome.TasksFailed)
	for severity, n := range outcome.Findings {
		m.runs.Findings[severity] += int64(n)
	}
}

// TrackError tracks error occurrences
func (m *Monitor) TrackError(ctx context.Context, errorType, code, component, message string) {
	key := errorType + ":" + code

	m.mu.Lock()
	errorMetrics, exists := m.errors[key]
	if !exists {
		errorMetrics = &ErrorMetrics{
			Type:      errorType,
			Code:      code,
			Component: component,
		}
		m.errors[key] = errorMetrics
	}

	errorMetrics.Count++
	errorMetrics.LastOccurred = time.Now()
	errorMetrics.Message = message
	count := errorMetrics.Count
	logger := m.logger
	m.mu.Unlock()

	if logger != nil {
		logger.WarnContext(ctx, "Error tracked",
			slog.String("error_type", errorType),
			slog.String("error_code", code),
			slog.String("component", component),
			slog.Int64("count", count),
			slog.String("message", message),
		)
	}
}

// TrackConnection tracks connection-related metrics
func (m *Monitor) TrackConnection(event string, duration time.Duration) {
	m.mu.Lock()

	switch event {
	case EventConnect:
		m.connections.TotalConnections++
		m.connections.ActiveConnections++
		m.connections.LastConnectTime = time.Now()

		// Running average
		prev := time.Duration(m.connections.AverageConnectTime.Nanoseconds() *
			(m.connections.TotalConnections - 1))
		m.connections.AverageConnectTime = (prev + duration) /
			time.Duration(m.connections.TotalConnections)

	case EventDisconnect:
		if m.connections.ActiveConnections > 0 {
			m.connections.ActiveConnections--
		}

	case EventConnectFailed:
		m.connections.FailedConnections++

	case EventReconnectAttempt:
		m.connections.ReconnectionAttempts++
	}

	active := m.connections.ActiveConnections
	total := m.connections.TotalConnections
	logger := m.logger
	m.mu.Unlock()

	if logger != nil {
		logger.Debug("Connection event",
			slog.String("event", event),
			slog.Duration("duration", duration),
			slog.Int64("active_connections", active),
			slog.Int64("total_connections", total),
		)
	}
}

// GetOperationMetrics returns metrics for a specific operation
func (m *Monitor) GetOperationMetrics(operation string) *OperationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, exists := m.operations[operation]; exists {
		copy := *metrics
		return &copy
	}
	return nil
}

// GetAllOperationMetrics returns all operation metrics sorted by name
func (m *Monitor) GetAllOperationMetrics() []OperationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]OperationMetrics, 0, len(m.operations))
	for _, metrics := range m.operations {
		result = append(result, *metrics)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetErrorMetrics returns all error metrics keyed by "type:code"
func (m *Monitor) GetErrorMetrics() map[string]*ErrorMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*ErrorMetrics)
	for key, metrics := range m.errors {
		copy := *metrics
		result[key] = &copy
	}
	return result
}

// GetConnectionMetrics returns connection metrics
func (m *Monitor) GetConnectionMetrics() *ConnectionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copy := *m.connections
	return &copy
}

// GetRunMetrics returns a copy of the run counters
func (m *Monitor) GetRunMetrics() RunMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := *m.runs
	runs.ByMode = make(map[string]int64, len(m.runs.ByMode))
	for mode, n := range m.runs.ByMode {
		runs.ByMode[mode] = n
	}
	runs.Findings = make(map[string]int64, len(m.runs.Findings))
	for severity, n := range m.runs.Findings {
		runs.Findings[severity] = n
	}
	return runs
}

// LogMetricsSummary logs a summary of all collected metrics
func (m *Monitor) LogMetricsSummary(ctx context.Context) {
	logger := m.log()
	if logger == nil {
		return
	}

	operations := m.GetAllOperationMetrics()
	errs := m.GetErrorMetrics()
	conns := m.GetConnectionMetrics()
	runs := m.GetRunMetrics()

	logger.InfoContext(ctx, "Run metrics",
		slog.Int64("runs", runs.Runs),
		slog.Int64("direct", runs.ByMode["direct"]),
		slog.Int64("delegated", runs.ByMode["delegated"]),
		slog.Int64("fallbacks", runs.Fallbacks),
		slog.Int64("tasks_completed", runs.TasksCompleted),
		slog.Int64("tasks_failed", runs.TasksFailed),
		slog.Int64("high_findings", runs.Findings["high"]),
	)

	logger.InfoContext(ctx, "Metrics Summary - Operations",
		slog.Int("total_operations", len(operations)),
	)

	for _, op := range operations {
		logger.InfoContext(ctx, "Operation metrics",
			slog.String("operation", op.Name),
			slog.Int64("count", op.Count),
			slog.Duration("avg_duration", op.AverageDuration),
			slog.Duration("min_duration", op.MinDuration),
			slog.Duration("max_duration", op.MaxDuration),
			slog.Float64("success_rate", op.SuccessRate()),
		)
	}

	logger.InfoContext(ctx, "Metrics Summary - Errors",
		slog.Int("total_error_types", len(errs)),
	)

	for _, e := range errs {
		logger.InfoContext(ctx, "Error metrics",
			slog.String("error_type", e.Type),
			slog.String("error_code", e.Code),
			slog.String("component", e.Component),
			slog.Int64("count", e.Count),
			slog.Time("last_occurred", e.LastOccurred),
		)
	}

	logger.InfoContext(ctx, "Connection metrics",
		slog.Int64("active_connections", conns.ActiveConnections),
		slog.Int64("total_connections", conns.TotalConnections),
		slog.Int64("failed_connections", conns.FailedConnections),
		slog.Int64("reconnection_attempts", conns.ReconnectionAttempts),
		slog.Duration("avg_connect_time", conns.AverageConnectTime),
	)
}

// Reset clears all metrics
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.operations = make(map[string]*OperationMetrics)
	m.errors = make(map[string]*ErrorMetrics)
	m.connections = &ConnectionMetrics{}
	m.runs = newRunMetrics()
}

// Timer provides convenient timing functionality
type Timer struct {
	start     time.Time
	operation string
	monitor   *Monitor
}

// NewTimer creates a new timer for an operation
func NewTimer(operation string, monitor *Monitor) *Timer {
	return &Timer{
		start:     time.Now(),
		operation: operation,
		monitor:   monitor,
	}
}

// Elapsed returns the time since the timer started
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop stops the timer and records the outcome
func (t *Timer) Stop(success bool) time.Duration {
	duration := time.Since(t.start)
	t.monitor.RecordOperation(t.operation, duration, success)
	return duration
}
