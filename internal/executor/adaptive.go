package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/events"
	"github.com/meridian-ops/meridian/internal/monitor"
	"github.com/meridian-ops/meridian/internal/replan"
	"github.com/meridian-ops/meridian/internal/types"
	"github.com/meridian-ops/meridian/internal/workflow"
)

// AdaptiveExecutor executes workflows sequentially with failure recovery:
// when an action fails it consults the replanner, rolls the world state back
// to the last known-good point, and resumes on a substitute plan. Once the
// replan budget is exhausted the original failure is surfaced.
type AdaptiveExecutor struct {
	exec      *MonitoredExecutor
	replanner *replan.DynamicReplanner
}

// NewAdaptive creates an AdaptiveExecutor layering the given replanner over
// a monitored executor.
func NewAdaptive(exec *MonitoredExecutor, replanner *replan.DynamicReplanner) *AdaptiveExecutor {
	return &AdaptiveExecutor{exec: exec, replanner: replanner}
}

// Execute runs the workflow's plan one action at a time, recording every
// outcome with the replanner's learning store. On failure it evaluates the
// replan triggers, rolls back to the last successful state, and continues
// on the substitute plan. Recovery ends when the goal is satisfied, when no
// substitute plan exists, or when the replan budget runs out.
//
// A failure that recovery absorbs does not count in the summary: after a
// fully recovered run Succeeded equals TotalActions. Only terminal failures
// appear in Failed.
func (e *AdaptiveExecutor) Execute(ctx context.Context, wf *workflow.Workflow) (*Summary, error) {
	if !wf.Executable() {
		return nil, types.NewError(types.PLAN_NOT_FOUND, fmt.Sprintf("workflow %s has no executable plan", wf.Name))
	}

	ctx, span := e.exec.tracer.Start(ctx, "executor.ExecuteAdaptive",
		trace.WithAttributes(attribute.String("workflow.name", wf.Name)))
	defer span.End()

	e.exec.publish(ctx, events.Event{
		Type:       events.EventWorkflowStarted,
		WorkflowID: wf.ID,
		Data:       map[string]any{"adaptive": true},
	})

	start := time.Now()
	initial := wf.Plan.Start
	goal := wf.Plan.Goal
	plannedCost := wf.Plan.Cost

	summary := &Summary{
		WorkflowID: wf.ID,
		Workflow:   wf.Name,
		FinalState: initial,
	}

	current := initial
	pending := append([]action.Action(nil), wf.Plan.Actions...)
	var history []replan.HistoryEntry
	var lastFailure error
	replans := 0
	actualCost := 0.0

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			summary.TotalActions = summary.Succeeded + summary.Failed
			summary.Duration = time.Since(start)
			return summary, err
		}

		act := pending[0]
		pending = pending[1:]

		out := e.exec.runAction(ctx, act, wf.Context, current)
		actualCost += act.EffectiveCost() * float64(1+out.retries)
		e.replanner.RecordExecution(act.Name, out.err == nil, out.duration)

		if out.err == nil {
			summary.Succeeded++
			current = current.Apply(act.Effects)
			history = append(history, replan.HistoryEntry{
				ActionName: act.Name,
				Success:    true,
				State:      current,
			})
			continue
		}

		lastFailure = out.err
		history = append(history, replan.HistoryEntry{
			ActionName: act.Name,
			Success:    false,
			State:      current,
		})

		es := replan.ExecutionState{
			FailedAction:   act.Name,
			OpenCircuits:   e.openCircuits(pending),
			PlannedCost:    plannedCost,
			ActualCost:     actualCost,
			ReplanAttempts: replans,
		}
		verdict := e.replanner.ShouldReplan(es)
		if !verdict.Needed {
			summary.Failed++
			break
		}

		rollback := e.replanner.RollbackState(initial, history)
		result := e.replanner.Replan(ctx, rollback.State, goal, es)
		if !result.Success {
			summary.Failed++
			e.exec.logger.Warn("recovery exhausted",
				"workflow", wf.Name,
				"failed_action", act.Name,
				"reason", result.Reason,
			)
			break
		}

		replans = result.Attempts
		current = rollback.State
		pending = append([]action.Action(nil), result.Plan.Actions...)
		plannedCost = result.Plan.Cost

		e.exec.logger.Info("resuming on substitute plan",
			"workflow", wf.Name,
			"rollback_point", rollback.RollbackPoint,
			"undone", rollback.ActionsToUndo,
			"steps", result.Plan.Len(),
		)
		e.exec.publish(ctx, events.Event{
			Type:       events.EventWorkflowReplanned,
			WorkflowID: wf.ID,
			ActionName: act.Name,
			Data: map[string]any{
				"attempt":  result.Attempts,
				"new_cost": result.Plan.Cost,
			},
		})
	}

	summary.Replans = replans
	summary.TotalActions = summary.Succeeded + summary.Failed
	summary.Duration = time.Since(start)
	summary.FinalState = current

	e.exec.publish(ctx, events.Event{
		Type:       events.EventWorkflowCompleted,
		WorkflowID: wf.ID,
		Data: map[string]any{
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"replans":   summary.Replans,
		},
	})

	if !current.Satisfies(goal) && lastFailure != nil {
		return summary, types.WrapError(types.EXECUTION_FAILED,
			fmt.Sprintf("workflow %s did not reach goal %q", wf.Name, goal.Name), lastFailure)
	}
	return summary, nil
}

// openCircuits returns the names of pending actions whose breakers are open.
func (e *AdaptiveExecutor) openCircuits(pending []action.Action) []string {
	var open []string
	for _, act := range pending {
		if e.exec.monitor.CircuitState(act.Name) == monitor.StateOpen {
			open = append(open, act.Name)
		}
	}
	return open
}

// Replanner exposes the underlying replanner, for learning and pattern
// inspection.
func (e *AdaptiveExecutor) Replanner() *replan.DynamicReplanner {
	return e.replanner
}

// GenerateReport produces the post-run report including learning stats.
func (e *AdaptiveExecutor) GenerateReport() Report {
	report := e.exec.GenerateReport()
	report.Learning = e.replanner.LearningStats()
	report.Patterns = e.replanner.AnalyzeReplanPatterns()
	return report
}
