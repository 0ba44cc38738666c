// Package events distributes execution observability events to subscribers
// through buffered channels with filtering. It replaces ad-hoc callback
// wiring between the execution monitor and its consumers: the monitor
// publishes, and any number of subscribers (CLI verbose output, tests,
// future exporters) receive without coupling.
package events

import (
	"time"

	"github.com/meridian-ops/meridian/internal/types"
)

// EventType identifies the kind of execution event.
type EventType string

const (
	// EventExecutionObserved fires when the monitor registers an execution.
	EventExecutionObserved EventType = "execution.observed"

	// EventExecutionTimeout fires when an execution exceeds its deadline.
	EventExecutionTimeout EventType = "execution.timeout"

	// EventExecutionDecision fires for each supervisory decision taken.
	EventExecutionDecision EventType = "execution.decision"

	// EventExecutionCancelled fires when a CANCEL decision removes an
	// execution from active tracking.
	EventExecutionCancelled EventType = "execution.cancelled"

	// EventExecutionRetryScheduled fires when a backoff retry is armed.
	EventExecutionRetryScheduled EventType = "execution.retry_scheduled"

	// EventExecutionCompleted fires when an execution finishes.
	EventExecutionCompleted EventType = "execution.completed"

	// EventWorkflowStarted fires when an executor begins a workflow.
	EventWorkflowStarted EventType = "workflow.started"

	// EventWorkflowReplanned fires when the replanner substitutes a plan.
	EventWorkflowReplanned EventType = "workflow.replanned"

	// EventWorkflowCompleted fires when an executor finishes a workflow.
	EventWorkflowCompleted EventType = "workflow.completed"
)

// Event is a single observability event.
type Event struct {
	// Type classifies the event.
	Type EventType

	// ExecutionID identifies the execution the event concerns, if any.
	ExecutionID types.ID

	// WorkflowID identifies the workflow the event concerns, if any.
	WorkflowID types.ID

	// ActionName names the action involved, if any.
	ActionName string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Data carries event-specific details.
	Data map[string]any
}

// Filter selects which events a subscriber receives. Zero-value fields
// match everything.
type Filter struct {
	// Types restricts delivery to the listed event types.
	Types []EventType

	// ExecutionID restricts delivery to one execution.
	ExecutionID types.ID

	// ActionName restricts delivery to one action.
	ActionName string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.ExecutionID.IsZero() && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.ActionName != "" && f.ActionName != e.ActionName {
		return false
	}
	return true
}
