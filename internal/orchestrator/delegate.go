package orchestrator

import (
	"context"

	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Step is one planned unit of work: a task routed to a capability under its
// primary category. An empty Capability means no rule matched.
type Step struct {
	Index      int               `json:"index"`
	Task       string            `json:"task"`
	Category   protocol.Category `json:"category"`
	Capability string            `json:"capability,omitempty"`
}

// Executor runs a plan on behalf of the orchestrator. Execute must return
// exactly one result per step, in step order.
type Executor interface {
	Execute(ctx context.Context, steps []Step) ([]protocol.CapabilityResult, error)
	Close() error
}

// Delegator provides an Executor for delegated runs
type Delegator interface {
	Acquire(ctx context.Context) Availability
}

// Availability is either Ready with an executor or Unavailable with a reason
type Availability struct {
	executor Executor
	reason   string
}

// Ready wraps an executor that can take the run
func Ready(executor Executor) Availability {
	return Availability{executor: executor}
}

// Unavailable records why delegated execution cannot be used
func Unavailable(reason string) Availability {
	if reason == "" {
		reason = "delegated execution unavailable"
	}
	return Availability{reason: reason}
}

// Executor returns the executor when the delegated layer is ready
func (a Availability) Executor() (Executor, bool) {
	return a.executor, a.executor != nil
}

// Reason returns the unavailability reason; empty when ready
func (a Availability) Reason() string {
	return a.reason
}
