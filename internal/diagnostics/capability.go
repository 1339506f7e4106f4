// Package diagnostics implements the diagnostic capability set.
//
// A capability is a named probe with a uniform result contract. Every
// capability is built with NewCapability, which bounds the probe with its
// timeout, recovers panics and converts probe errors into a failed
// protocol.CapabilityResult. Invoke therefore never returns an error and never
// panics.
//
// Probes reach the operating system only through a CommandRunner and a
// HostStats, both held by a Toolkit, so tests can replace them with fakes.
//
// Example usage:
//
//	registry, err := diagnostics.NewDefaultRegistry(cfg.Diagnostics)
//	if err != nil {
//		return err
//	}
//	capability, _ := registry.Get("inspect_disk_usage")
//	result := capability.Invoke(ctx, diagnostics.Request{Task: "Check disk space"})
package diagnostics

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Capability is a named, idempotent diagnostic probe
type Capability interface {
	Name() string
	Description() string
	Category() protocol.Category
	Timeout() time.Duration
	Invoke(ctx context.Context, req Request) protocol.CapabilityResult
}

// Request tags the result of one invocation with the task that caused it
type Request struct {
	Task     string
	Category protocol.Category
}

// Finding is what a probe reports on success. A probe that fails may still
// return a Finding carrying a recommendation and partial data.
type Finding struct {
	Analysis       string
	Severity       protocol.Severity
	Recommendation string
	Data           map[string]interface{}
}

// Probe performs the actual diagnostic work
type Probe func(ctx context.Context, req Request) (Finding, error)

// Spec describes a capability independently of its probe
type Spec struct {
	Name        string
	Description string
	Category    protocol.Category
	Timeout     time.Duration
}

type probeCapability struct {
	spec  Spec
	probe Probe
}

// NewCapability wraps probe with timeout enforcement and panic isolation
func NewCapability(spec Spec, probe Probe) Capability {
	return &probeCapability{spec: spec, probe: probe}
}

func (c *probeCapability) Name() string                { return c.spec.Name }
func (c *probeCapability) Description() string         { return c.spec.Description }
func (c *probeCapability) Category() protocol.Category { return c.spec.Category }
func (c *probeCapability) Timeout() time.Duration      { return c.spec.Timeout }

type probeOutcome struct {
	finding Finding
	err     error
}

// Invoke runs the probe and normalizes its outcome
func (c *probeCapability) Invoke(ctx context.Context, req Request) protocol.CapabilityResult {
	result := protocol.CapabilityResult{
		Task:       req.Task,
		Category:   req.Category,
		Capability: c.spec.Name,
	}
	if result.Task == "" {
		result.Task = c.spec.Description
	}
	if result.Category == "" {
		result.Category = c.spec.Category
	}

	probeCtx := ctx
	if c.spec.Timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, c.spec.Timeout)
		defer cancel()
	}

	// Buffered so a probe that ignores its context can still finish and exit
	done := make(chan probeOutcome, 1)
	go func() {
		var outcome probeOutcome
		outcome.err = diagerrors.WithRecover(probeCtx, func() error {
			var err error
			outcome.finding, err = c.probe(probeCtx, req)
			return err
		})
		done <- outcome
	}()

	var outcome probeOutcome
	select {
	case outcome = <-done:
	case <-probeCtx.Done():
		outcome.err = probeCtx.Err()
	}

	if outcome.err == nil && stderrors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		outcome.err = probeCtx.Err()
	}

	if outcome.err != nil {
		result.Success = false
		result.Error = c.errorText(ctx, outcome.err)
		result.Recommendation = outcome.finding.Recommendation
		result.RawData = outcome.finding.Data
		return result
	}

	result.Success = true
	result.Analysis = outcome.finding.Analysis
	result.Severity = outcome.finding.Severity
	result.Recommendation = outcome.finding.Recommendation
	result.RawData = outcome.finding.Data
	return result
}

// errorText renders err for the result record. A deadline hit while the
// caller's context is still live is the capability's own timeout.
func (c *probeCapability) errorText(parent context.Context, err error) string {
	if stderrors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Sprintf("timed out after %s", c.spec.Timeout)
	}
	if stderrors.Is(err, context.Canceled) || parent.Err() != nil {
		return "cancelled: " + err.Error()
	}

	var diagErr *diagerrors.DiagError
	if stderrors.As(err, &diagErr) {
		if diagErr.Underlying != nil {
			return diagErr.Message + ": " + diagErr.Underlying.Error()
		}
		return diagErr.Message
	}
	return err.Error()
}

// unsupported is the error returned by probes that cannot run on this OS
func unsupported(goos string) error {
	return diagerrors.ConfigurationError(protocol.ErrorCodeUnsupported,
		"unsupported on this platform", nil).WithDetails("goos", goos)
}

// notElevated is the error returned by probes that require administrator rights
func notElevated() error {
	return diagerrors.PermissionError(protocol.ErrorCodePermissionDenied,
		"Administrator privileges required", nil)
}
