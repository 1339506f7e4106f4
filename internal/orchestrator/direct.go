package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/metrics"
	"github.com/bebsworthy/diagmcp/internal/protocol"
	"github.com/bebsworthy/diagmcp/internal/tasks"
)

const (
	noMatchAnalysis       = "Task acknowledged but no specific tool matched"
	noMatchRecommendation = "Manual investigation may be required"
)

// Plan routes every task to at most one capability. Tasks are visited in
// bucket order, then task order within a bucket, and each task only under its
// primary category, so the plan has exactly one step per task.
func Plan(taskList []string) []Step {
	classification := tasks.Classify(taskList)
	steps := make([]Step, 0, len(taskList))

	for _, bucket := range classification {
		for i, task := range bucket.Tasks {
			if tasks.PrimaryCategory(task) != bucket.Category {
				continue
			}
			steps = append(steps, Step{
				Index:      bucket.Indices[i],
				Task:       task,
				Category:   bucket.Category,
				Capability: tasks.SelectCapability(bucket.Category, task),
			})
		}
	}

	return steps
}

// Acknowledged is the result for a task no capability rule matched
func Acknowledged(step Step) protocol.CapabilityResult {
	return protocol.CapabilityResult{
		Success:        true,
		Task:           step.Task,
		Category:       step.Category,
		Analysis:       noMatchAnalysis,
		Recommendation: noMatchRecommendation,
	}
}

// failedStep builds the failure record for a step that never produced a result
func failedStep(step Step, message string) protocol.CapabilityResult {
	return protocol.CapabilityResult{
		Success:    false,
		Task:       step.Task,
		Category:   step.Category,
		Capability: step.Capability,
		Error:      message,
	}
}

// resultFunc receives each result as soon as it is available
type resultFunc func(index int, result protocol.CapabilityResult)

func (o *Orchestrator) runDirect(ctx context.Context, steps []Step, emit resultFunc) []protocol.CapabilityResult {
	results := make([]protocol.CapabilityResult, len(steps))

	if !o.settings.Parallel || len(steps) < 2 {
		for i, step := range steps {
			results[i] = o.runStep(ctx, step)
			emit(i, results[i])
		}
		return results
	}

	var emitMu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.settings.MaxConcurrency)

	for i, step := range steps {
		i, step := i, step
		g.Go(func() error {
			results[i] = o.runStep(ctx, step)

			emitMu.Lock()
			emit(i, results[i])
			emitMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// runStep executes one step. It never panics and always returns a result
// tagged with the step's task and category.
func (o *Orchestrator) runStep(ctx context.Context, step Step) protocol.CapabilityResult {
	if step.Capability == "" {
		o.logger.DebugContext(ctx, "No capability matched task",
			"task", step.Task,
			"category", step.Category)
		return Acknowledged(step)
	}

	capability, ok := o.registry.Get(step.Capability)
	if !ok {
		result := failedStep(step, fmt.Sprintf("capability %s is not available", step.Capability))
		o.monitor.TrackError(ctx, string(diagerrors.ErrorTypeConfiguration),
			protocol.ErrorCodeUnknownCapability, step.Capability, result.Error)
		return result
	}

	timer := metrics.NewTimer(step.Capability, o.monitor)

	var result protocol.CapabilityResult
	err := diagerrors.WithRecover(ctx, func() error {
		result = capability.Invoke(ctx, diagnostics.Request{
			Task:     step.Task,
			Category: step.Category,
		})
		return nil
	})
	if err != nil {
		o.logger.LogError(ctx, "Capability panicked", err)
		result = failedStep(step, fmt.Sprintf("capability %s failed: %v", step.Capability, err))
	}

	duration := timer.Stop(result.Success)

	// Capabilities tag results themselves; the plan is authoritative.
	result.Task = step.Task
	result.Category = step.Category
	result.Capability = step.Capability

	if !result.Success {
		errorType, code := failureKind(result.Error)
		o.monitor.TrackError(ctx, string(errorType), code, step.Capability, result.Error)
	}

	o.logger.LogResult(ctx, result, duration)

	return result
}

// failureKind maps a failed result's error text back to an error type and code
func failureKind(message string) (diagerrors.ErrorType, string) {
	switch {
	case strings.HasPrefix(message, "timed out"):
		return diagerrors.ErrorTypeTimeout, protocol.ErrorCodeTimeout
	case strings.HasPrefix(message, diagerrors.ErrUnsupported.Message):
		return diagerrors.ErrorTypeConfiguration, protocol.ErrorCodeUnsupported
	case strings.HasPrefix(message, diagerrors.ErrNotElevated.Message):
		return diagerrors.ErrorTypePermission, protocol.ErrorCodePermissionDenied
	default:
		return diagerrors.ErrorTypeCapability, protocol.ErrorCodeCapabilityFailed
	}
}
