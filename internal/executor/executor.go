// Package executor runs workflows under monitor supervision. The
// MonitoredExecutor executes optimizer batches with bounded concurrency,
// feeding every invocation through the monitor's OODA loop and circuit
// breakers; the AdaptiveExecutor layers replanning and rollback on top.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/events"
	"github.com/meridian-ops/meridian/internal/monitor"
	"github.com/meridian-ops/meridian/internal/state"
	"github.com/meridian-ops/meridian/internal/tool"
	"github.com/meridian-ops/meridian/internal/types"
	"github.com/meridian-ops/meridian/internal/workflow"
)

// Summary is the outcome of one workflow execution.
type Summary struct {
	// WorkflowID identifies the executed workflow.
	WorkflowID types.ID

	// Workflow is the workflow's name.
	Workflow string

	// TotalActions is the number of plan steps attempted or skipped.
	TotalActions int

	// Succeeded counts actions that completed successfully.
	Succeeded int

	// Failed counts actions that failed or were skipped.
	Failed int

	// Replans counts plan substitutions performed during the run.
	Replans int

	// Duration is the wall-clock execution time.
	Duration time.Duration

	// FinalState is the world state after the last applied effect.
	FinalState state.WorldState
}

// attemptOutcome is the result of running one action to completion,
// including any supervised retries.
type attemptOutcome struct {
	action   action.Action
	duration time.Duration
	retries  int
	err      error
}

// MonitoredExecutor executes workflows batch by batch under monitor
// supervision. Independent actions within a batch run concurrently, bounded
// by MaxParallel.
//
// Thread-safe: a single executor may run multiple workflows concurrently.
type MonitoredExecutor struct {
	monitor   *monitor.ExecutionMonitor
	registry  *tool.Registry
	optimizer *workflow.Optimizer
	logger    *slog.Logger
	tracer    trace.Tracer
	bus       events.Bus

	maxParallel int
	maxRetries  int
	stopOnError bool
}

// ExecutorOption is a functional option for configuring executors.
type ExecutorOption func(*MonitoredExecutor)

// WithExecutorLogger configures the executor to use the specified logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *MonitoredExecutor) {
		if logger != nil {
			e.logger = logger.With("component", "executor")
		}
	}
}

// WithExecutorTracer configures the executor to use the specified tracer.
func WithExecutorTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *MonitoredExecutor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithExecutorBus configures the executor to publish workflow events.
func WithExecutorBus(bus events.Bus) ExecutorOption {
	return func(e *MonitoredExecutor) {
		e.bus = bus
	}
}

// WithMaxParallel bounds concurrent action invocations within a batch.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *MonitoredExecutor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithMaxRetries caps the monitor-scheduled backoff retries per action
// invocation. Failures without a RETRY_WITH_BACKOFF decision are never
// re-invoked regardless of this setting.
func WithMaxRetries(n int) ExecutorOption {
	return func(e *MonitoredExecutor) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithStopOnError makes the executor abort the workflow on the first
// failed action instead of skipping it and continuing.
func WithStopOnError(stop bool) ExecutorOption {
	return func(e *MonitoredExecutor) {
		e.stopOnError = stop
	}
}

// NewMonitored creates a MonitoredExecutor over the given monitor and tool
// registry.
func NewMonitored(m *monitor.ExecutionMonitor, registry *tool.Registry, opts ...ExecutorOption) *MonitoredExecutor {
	e := &MonitoredExecutor{
		monitor:     m,
		registry:    registry,
		optimizer:   workflow.NewOptimizer(slog.Default()),
		logger:      slog.Default().With("component", "executor"),
		tracer:      otel.Tracer("meridian/executor"),
		maxParallel: 4,
		maxRetries:  2,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the workflow's plan. The plan is first batched by the
// optimizer; batches run in order, actions within a batch concurrently.
// A failed action either aborts the run (stop-on-error) or is counted and
// skipped, in which case its effects never reach the final state.
func (e *MonitoredExecutor) Execute(ctx context.Context, wf *workflow.Workflow) (*Summary, error) {
	if !wf.Executable() {
		return nil, types.NewError(types.PLAN_NOT_FOUND, fmt.Sprintf("workflow %s has no executable plan", wf.Name))
	}

	ctx, span := e.tracer.Start(ctx, "executor.Execute",
		trace.WithAttributes(
			attribute.String("workflow.name", wf.Name),
			attribute.Int("workflow.steps", wf.Plan.Len()),
		))
	defer span.End()

	optimized, err := e.optimizer.Optimize(wf)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, events.Event{
		Type:       events.EventWorkflowStarted,
		WorkflowID: wf.ID,
		Data:       map[string]any{"batches": len(optimized.Batches)},
	})

	start := time.Now()
	summary := &Summary{
		WorkflowID:   wf.ID,
		Workflow:     wf.Name,
		TotalActions: wf.Plan.Len(),
		FinalState:   wf.Plan.Start,
	}

	var firstErr error
	current := wf.Plan.Start

batches:
	for bi, batch := range optimized.Batches {
		outcomes := e.runBatch(ctx, batch, wf.Context, current)

		for _, out := range outcomes {
			if out.err == nil {
				summary.Succeeded++
				current = current.Apply(out.action.Effects)
				continue
			}
			summary.Failed++
			if firstErr == nil {
				firstErr = out.err
			}
			e.logger.Warn("action failed",
				"workflow", wf.Name,
				"batch", bi,
				"action", out.action.Name,
				"error", out.err,
			)
			if e.stopOnError {
				break batches
			}
		}
	}

	summary.Duration = time.Since(start)
	summary.FinalState = current

	e.publish(ctx, events.Event{
		Type:       events.EventWorkflowCompleted,
		WorkflowID: wf.ID,
		Data: map[string]any{
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
		},
	})

	if firstErr != nil && e.stopOnError {
		return summary, types.WrapError(types.EXECUTION_FAILED, fmt.Sprintf("workflow %s aborted", wf.Name), firstErr)
	}
	return summary, nil
}

// runBatch executes one optimizer batch with bounded concurrency and
// returns outcomes in batch order.
func (e *MonitoredExecutor) runBatch(ctx context.Context, batch []action.Action, actx *action.Context, current state.WorldState) []attemptOutcome {
	outcomes := make([]attemptOutcome, len(batch))
	sem := make(chan struct{}, e.maxParallel)

	var wg sync.WaitGroup
	for i, act := range batch {
		wg.Add(1)
		go func(i int, act action.Action) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = e.runAction(ctx, act, actx, current)
		}(i, act)
	}
	wg.Wait()

	return outcomes
}

// runAction executes a single action under full supervision: breaker
// admission, precondition check, observe, invoke, supervised retries,
// complete.
func (e *MonitoredExecutor) runAction(ctx context.Context, act action.Action, actx *action.Context, current state.WorldState) attemptOutcome {
	out := attemptOutcome{action: act}
	started := time.Now()
	defer func() { out.duration = time.Since(started) }()

	if err := e.monitor.Allow(act.Name); err != nil {
		out.err = err
		return out
	}

	// A plan whose ordering the optimizer preserved should never present an
	// action whose preconditions the accumulated state cannot meet; if it
	// does, executing it would wedge the workflow.
	if !act.CanExecute(current) {
		out.err = types.NewError(types.EXECUTION_DEADLOCK,
			fmt.Sprintf("action %s preconditions unmet in current state", act.Name))
		return out
	}

	invoker, err := e.registry.Resolve(act.ToolName)
	if err != nil {
		out.err = err
		return out
	}

	executionID := types.NewID()
	e.monitor.Observe(ctx, executionID, act, started)

	params := act.Params(actx)
	invErr := e.invoke(ctx, invoker, params)

	// One supervised recovery pass per failed attempt. The tool is only
	// re-invoked when Act actually scheduled a retry; a plain failure with no
	// retry decision falls through to Complete and is handled by the caller
	// (skip, abort, or replan). maxRetries caps the scheduled retries.
	for invErr != nil && out.retries < e.maxRetries {
		if ctx.Err() != nil {
			break
		}
		analysis := e.monitor.Orient(executionID)
		if analysis == nil {
			break
		}
		decisions := e.monitor.Decide(analysis)
		taken := e.monitor.Act(ctx, executionID, decisions)

		if cancelled(taken) {
			invErr = types.WrapError(types.EXECUTION_TIMEOUT,
				fmt.Sprintf("action %s cancelled by monitor", act.Name), invErr)
			out.err = invErr
			return out
		}

		delay, scheduled := retryDelay(taken)
		if !scheduled {
			break
		}

		out.retries++
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				out.err = ctx.Err()
				return out
			}
		}
		invErr = e.invoke(ctx, invoker, params)
	}

	e.monitor.Complete(ctx, executionID, invErr)
	out.err = invErr
	return out
}

// invoke calls the tool once, folding an unsuccessful Result into an error.
func (e *MonitoredExecutor) invoke(ctx context.Context, invoker tool.Invoker, params map[string]any) error {
	result, err := invoker.Invoke(ctx, params)
	if err != nil {
		return err
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return types.NewRetryableError(types.EXECUTION_FAILED, msg)
	}
	return nil
}

// retryDelay reports whether the monitor scheduled a backoff retry, and
// with what delay.
func retryDelay(taken []monitor.ActionTaken) (time.Duration, bool) {
	for _, t := range taken {
		if t.Type == "retry_scheduled" {
			return t.Delay, true
		}
	}
	return 0, false
}

func cancelled(taken []monitor.ActionTaken) bool {
	for _, t := range taken {
		if t.Type == "cancelled" {
			return true
		}
	}
	return false
}

// Monitor exposes the underlying execution monitor.
func (e *MonitoredExecutor) Monitor() *monitor.ExecutionMonitor {
	return e.monitor
}

func (e *MonitoredExecutor) publish(ctx context.Context, event events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Debug("event publish failed", "type", event.Type, "error", err)
	}
}
