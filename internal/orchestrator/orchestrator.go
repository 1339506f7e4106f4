// Package orchestrator turns model output into an execution report: it
// extracts the task block, plans one capability per task, runs the plan
// directly or through a delegated executor, and rolls the results up.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/metrics"
	"github.com/bebsworthy/diagmcp/internal/protocol"
	"github.com/bebsworthy/diagmcp/internal/tasks"
)

// Config holds the orchestrator's collaborators. Registry is required.
type Config struct {
	Registry  *diagnostics.Registry
	Delegator Delegator
	Monitor   *metrics.Monitor
	Logger    *logging.Logger
	Settings  config.OrchestratorConfig
	Now       func() time.Time
}

// Options tune a single Execute call
type Options struct {
	// Mode overrides the configured default mode when set
	Mode protocol.ExecutionMode

	// OnResult is called once per result with the result's position in the
	// report and the total number of results. In parallel mode calls arrive
	// in completion order.
	OnResult func(index, total int, result protocol.CapabilityResult)
}

// Orchestrator executes task bundles against a capability registry
type Orchestrator struct {
	registry  *diagnostics.Registry
	delegator Delegator
	monitor   *metrics.Monitor
	logger    *logging.Logger
	settings  config.OrchestratorConfig
	now       func() time.Time
}

// New creates an orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, diagerrors.ConfigurationError(protocol.ErrorCodeConfiguration,
			"orchestrator requires a capability registry", nil)
	}

	settings := cfg.Settings
	if settings.DefaultMode == "" {
		settings.DefaultMode = string(protocol.ModeDirect)
	}
	if err := validateMode(protocol.ExecutionMode(settings.DefaultMode)); err != nil {
		return nil, err
	}
	if settings.MaxConcurrency < 1 {
		settings.MaxConcurrency = 1
	}

	o := &Orchestrator{
		registry:  cfg.Registry,
		delegator: cfg.Delegator,
		monitor:   cfg.Monitor,
		logger:    cfg.Logger,
		settings:  settings,
		now:       cfg.Now,
	}
	if o.monitor == nil {
		o.monitor = metrics.NewMonitor()
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.now == nil {
		o.now = time.Now
	}

	return o, nil
}

// Registry returns the capability registry the orchestrator executes against
func (o *Orchestrator) Registry() *diagnostics.Registry {
	return o.registry
}

// Execute runs every task found in modelOutput. When the text holds no usable
// task block the ExtractionFailure is returned instead of a report. The error
// is reserved for invalid options.
func (o *Orchestrator) Execute(ctx context.Context, modelOutput string, opts Options) (*protocol.ExecutionReport, *protocol.ExtractionFailure, error) {
	mode := opts.Mode
	if mode == "" {
		mode = protocol.ExecutionMode(o.settings.DefaultMode)
	}
	if err := validateMode(mode); err != nil {
		return nil, nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	start := time.Now()

	extraction, err := tasks.Extract(modelOutput)
	if err != nil {
		o.logger.LogWarnError(ctx, "No usable task block in model output", err)
		o.monitor.TrackError(ctx, string(diagerrors.GetType(err)), diagerrors.GetCode(err), "extractor", err.Error())
		return nil, tasks.FailureFor(modelOutput, err), nil
	}

	bundle := extraction.Bundle
	steps := Plan(bundle.Tasks)

	o.logger.InfoContext(ctx, "Executing MCP tasks",
		"run_id", runID,
		"task_count", len(bundle.Tasks),
		"mode", mode)

	emit := func(index int, result protocol.CapabilityResult) {
		if opts.OnResult != nil {
			opts.OnResult(index, len(steps), result)
		}
	}

	report := &protocol.ExecutionReport{
		RunID:          runID,
		Mode:           protocol.ModeDirect,
		TasksRequested: len(bundle.Tasks),
		Summary:        tasks.Summary(bundle),
		UserMessage:    extraction.UserMessage,
	}

	var results []protocol.CapabilityResult
	if mode == protocol.ModeDelegated {
		results, report.FallbackReason = o.runDelegated(ctx, steps)
		if results != nil {
			report.Mode = protocol.ModeDelegated
			for i, r := range results {
				emit(i, r)
			}
		}
	}
	if results == nil {
		results = o.runDirect(ctx, steps, emit)
	}

	rollup := Summarize(results)
	report.Results = results
	report.TasksCompleted = rollup.Successful
	report.TasksFailed = rollup.Failed
	report.ExecutionSummary = rollup.Text
	report.SeverityCounts = rollup.SeverityCounts
	report.ExecutionTimestamp = o.now().UTC().Truncate(time.Second)

	o.monitor.RecordOperation("execute_mcp_tasks", time.Since(start), true)
	o.monitor.RecordRun(runOutcome(report))
	o.logger.LogReport(ctx, report, start)

	return report, nil, nil
}

func runOutcome(report *protocol.ExecutionReport) metrics.RunOutcome {
	findings := make(map[string]int, len(report.SeverityCounts))
	for severity, n := range report.SeverityCounts {
		findings[string(severity)] = n
	}
	return metrics.RunOutcome{
		Mode:           string(report.Mode),
		Fallback:       report.FallbackReason != "",
		TasksCompleted: report.TasksCompleted,
		TasksFailed:    report.TasksFailed,
		Findings:       findings,
	}
}

// runDelegated hands the plan to the delegated layer. A nil result slice
// means the caller must fall back to direct execution; the string is the
// reason.
func (o *Orchestrator) runDelegated(ctx context.Context, steps []Step) ([]protocol.CapabilityResult, string) {
	if o.delegator == nil {
		return nil, o.fallback(ctx, "delegated execution is not configured", nil)
	}

	availability := o.delegator.Acquire(ctx)
	executor, ok := availability.Executor()
	if !ok {
		return nil, o.fallback(ctx, availability.Reason(), nil)
	}
	defer func() {
		if err := executor.Close(); err != nil {
			o.logger.LogWarnError(ctx, "Failed to close delegated executor", err)
		}
	}()

	var results []protocol.CapabilityResult
	err := o.monitor.TrackOperation(ctx, "delegated_execution", func() error {
		return diagerrors.WithRecover(ctx, func() error {
			var err error
			results, err = executor.Execute(ctx, steps)
			return err
		})
	})
	if err != nil {
		return nil, o.fallback(ctx, "delegated execution failed", err)
	}
	if len(results) != len(steps) {
		reason := fmt.Sprintf("delegated execution returned %d results for %d tasks", len(results), len(steps))
		return nil, o.fallback(ctx, reason, nil)
	}

	return results, ""
}

func (o *Orchestrator) fallback(ctx context.Context, reason string, cause error) string {
	err := diagerrors.ModeFallbackError(protocol.ErrorCodeDelegationFailed, reason, cause)
	o.logger.LogWarnError(ctx, "Falling back to direct execution", err)
	o.monitor.TrackError(ctx, string(err.Type), err.Code, "delegation", err.Error())

	if cause != nil {
		return reason + ": " + cause.Error()
	}
	return reason
}

func validateMode(mode protocol.ExecutionMode) error {
	switch mode {
	case protocol.ModeDirect, protocol.ModeDelegated:
		return nil
	default:
		return diagerrors.ConfigurationError(protocol.ErrorCodeConfiguration,
			fmt.Sprintf("unknown execution mode %q", mode), nil)
	}
}
