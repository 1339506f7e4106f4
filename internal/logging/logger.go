// Package logging provides structured logging functionality for diagmcp.
//
// This package implements a centralized logging system with:
// - Structured logging using Go's slog package
// - Configurable log levels and output formats
// - Run correlation (every orchestration run id is used as correlation id)
// - Timing helpers plus logging for capability results and run reports
// - Integration with the diagmcp configuration system
//
// Example usage:
//
//	logger, _ := logging.NewOrchestratorLogger(cfg.Logging)
//	logger.Info("Registry ready", "capabilities", 10)
//
//	// With context for correlation
//	ctx = logging.WithRunID(ctx, runID)
//	logger.InfoContext(ctx, "Executing task", "task", task, "category", category)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// CorrelationIDKey is the context key for correlation IDs
type CorrelationIDKey struct{}

// Logger wraps slog.Logger with diagmcp-specific functionality
type Logger struct {
	*slog.Logger
	config config.LoggingConfig
	writer io.Writer
}

// LogLevel represents log levels
type LogLevel = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// NewLogger creates a new structured logger with the given configuration
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	writer, err := createLogWriter(cfg.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	logger, err := NewWithWriter(cfg, writer)
	if err != nil {
		if closer, ok := writer.(io.Closer); ok && writer != os.Stderr {
			closer.Close()
		}
		return nil, err
	}
	return logger, nil
}

// NewWithWriter creates a logger that writes to w instead of the configured output
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (*Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Verbose,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	// Wrap handler to add correlation ID support
	handler = &CorrelationHandler{Handler: handler}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
		writer: w,
	}, nil
}

// Discard returns a logger that drops everything. Used by tests and library callers
// that do not care about logs.
func Discard() *Logger {
	logger, _ := NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, io.Discard)
	return logger
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// createLogWriter creates the appropriate writer for log output.
// Logs go to stderr by default since stdout carries the MCP stdio transport.
func createLogWriter(outputFile string) (io.Writer, error) {
	if outputFile == "" {
		return os.Stderr, nil
	}

	dir := filepath.Dir(outputFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}

	file, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", outputFile, err)
	}

	return file, nil
}

// CorrelationHandler wraps another handler to add correlation ID support
type CorrelationHandler struct {
	slog.Handler
}

// Handle processes log records and adds correlation ID if present in context
func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		r.AddAttrs(slog.String("correlation_id", correlationID))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes
func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup returns a new handler with the given group
func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{Handler: h.Handler.WithGroup(name)}
}

// Correlation ID helpers

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey{}, correlationID)
}

// WithRunID marks every log line of an orchestration run with its id
func WithRunID(ctx context.Context, runID string) context.Context {
	return WithCorrelationID(ctx, runID)
}

// GetCorrelationID retrieves the correlation ID from the context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Component-specific logger creation

func newComponentLogger(cfg config.LoggingConfig, component string, attrs ...any) (*Logger, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	args := append([]any{
		slog.String("component", component),
		slog.String("service", "diagmcp"),
	}, attrs...)
	logger.Logger = logger.Logger.With(args...)

	return logger, nil
}

// NewServerLogger creates a logger for the MCP and WebSocket servers
func NewServerLogger(cfg config.LoggingConfig) (*Logger, error) {
	return newComponentLogger(cfg, "server")
}

// NewOrchestratorLogger creates a logger for the execution orchestrator
func NewOrchestratorLogger(cfg config.LoggingConfig) (*Logger, error) {
	return newComponentLogger(cfg, "orchestrator")
}

// NewClientLogger creates a logger for the WebSocket client
func NewClientLogger(cfg config.LoggingConfig, serverURL string) (*Logger, error) {
	return newComponentLogger(cfg, "client", slog.String("server_url", serverURL))
}

// Component returns a child logger tagged with a different component name
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", name)),
		config: l.config,
		writer: l.writer,
	}
}

// Performance logging helpers

// LogTiming logs the duration of an operation
func (l *Logger) LogTiming(ctx context.Context, operation string, start time.Time, attrs ...slog.Attr) {
	duration := time.Since(start)

	allAttrs := []slog.Attr{
		slog.String("operation", operation),
		slog.Duration("duration", duration),
		slog.String("performance", "timing"),
	}
	allAttrs = append(allAttrs, attrs...)

	l.LogAttrs(ctx, slog.LevelInfo, "Operation completed", allAttrs...)
}

// attrError is implemented by errors that know how to describe themselves to slog
type attrError interface {
	error
	LogAttrs() []slog.Attr
}

// LogError logs an error with proper context and error details
func (l *Logger) LogError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	l.logErrorAt(ctx, slog.LevelError, msg, err, attrs...)
}

// LogWarnError logs a recoverable error at warn level
func (l *Logger) LogWarnError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	l.logErrorAt(ctx, slog.LevelWarn, msg, err, attrs...)
}

func (l *Logger) logErrorAt(ctx context.Context, level slog.Level, msg string, err error, attrs ...slog.Attr) {
	var allAttrs []slog.Attr
	if ae, ok := err.(attrError); ok {
		allAttrs = append(allAttrs, slog.String("error", ae.Error()))
		allAttrs = append(allAttrs, ae.LogAttrs()...)
	} else {
		allAttrs = append(allAttrs,
			slog.String("error", err.Error()),
			slog.String("error_type", fmt.Sprintf("%T", err)),
		)
	}
	allAttrs = append(allAttrs, attrs...)

	l.LogAttrs(ctx, level, msg, allAttrs...)
}

// LogRequest logs request/response information
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, attrs ...slog.Attr) {
	allAttrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", duration),
		slog.String("type", "request"),
	}
	allAttrs = append(allAttrs, attrs...)

	level := slog.LevelInfo
	if statusCode >= 400 {
		level = slog.LevelWarn
	}
	if statusCode >= 500 {
		level = slog.LevelError
	}

	l.LogAttrs(ctx, level, "Request processed", allAttrs...)
}

// Close closes any file resources used by the logger
func (l *Logger) Close() error {
	if l.writer == os.Stderr || l.writer == os.Stdout {
		return nil
	}
	if closer, ok := l.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Diagnostics logging helpers

// ResultAttrs describes a capability result for a log line
func ResultAttrs(result protocol.CapabilityResult) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("capability", result.Capability),
		slog.String("category", string(result.Category)),
		slog.Bool("success", result.Success),
	}
	if result.Severity != "" {
		attrs = append(attrs, slog.String("severity", string(result.Severity)))
	}
	if result.Error != "" {
		attrs = append(attrs, slog.String("error", result.Error))
	}
	return attrs
}

// LogResult logs a finished capability. Failures are logged at warn level,
// successes at debug.
func (l *Logger) LogResult(ctx context.Context, result protocol.CapabilityResult, duration time.Duration) {
	attrs := append(ResultAttrs(result), slog.Duration("duration", duration))

	level := slog.LevelDebug
	if !result.Success {
		level = slog.LevelWarn
	}
	l.LogAttrs(ctx, level, "Capability finished", attrs...)
}

// LogReport logs a completed run with its counts and elapsed time
func (l *Logger) LogReport(ctx context.Context, report *protocol.ExecutionReport, start time.Time) {
	attrs := []slog.Attr{
		slog.String("run_id", report.RunID),
		slog.String("mode", string(report.Mode)),
		slog.Int("tasks_requested", report.TasksRequested),
		slog.Int("tasks_completed", report.TasksCompleted),
		slog.Int("tasks_failed", report.TasksFailed),
		slog.Int("high_severity", report.SeverityCounts[protocol.SeverityHigh]),
		slog.Duration("duration", time.Since(start)),
	}
	if report.FallbackReason != "" {
		attrs = append(attrs, slog.String("fallback_reason", report.FallbackReason))
	}

	level := slog.LevelInfo
	if report.TasksFailed > 0 {
		level = slog.LevelWarn
	}
	l.LogAttrs(ctx, level, "Run completed", attrs...)
}
