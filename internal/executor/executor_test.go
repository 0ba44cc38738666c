package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/monitor"
	"github.com/meridian-ops/meridian/internal/planner"
	"github.com/meridian-ops/meridian/internal/state"
	"github.com/meridian-ops/meridian/internal/tool"
	"github.com/meridian-ops/meridian/internal/types"
	"github.com/meridian-ops/meridian/internal/workflow"
)

var allToolNames = []string{
	"service.connect",
	"service.authenticate",
	"dataset.create",
	"dataset.verify",
	"content.ingest",
	"index.search.build",
	"index.graph.build",
	"code.analyze",
	"search.query",
}

func newTestMonitor() *monitor.ExecutionMonitor {
	cfg := monitor.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.Cooldown = 50 * time.Millisecond
	cfg.RetryBaseDelay = 5 * time.Millisecond
	return monitor.New(cfg)
}

func buildConnectWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	b := workflow.NewBuilder(planner.New(), action.DefaultLibrary())
	wf, err := b.Build(context.Background(), "connect-only",
		state.NewGoal("connected", state.Conditions{state.HasConnection: true}),
		&action.Context{})
	require.NoError(t, err)
	return wf
}

func buildDocumentWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	b := workflow.NewBuilder(planner.New(), action.DefaultLibrary())
	wf, err := b.DocumentWorkflow(context.Background(), &action.Context{
		DatasetName: "demo",
		URLs:        []string{"https://example.com/doc"},
		Query:       "setup guide",
	})
	require.NoError(t, err)
	require.True(t, wf.Executable())
	return wf
}

func TestMonitoredExecutor_FullPipeline(t *testing.T) {
	wf := buildDocumentWorkflow(t)
	exec := NewMonitored(newTestMonitor(), tool.StubRegistry(allToolNames...))

	summary, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, wf.Plan.Len(), summary.TotalActions)
	assert.Equal(t, summary.TotalActions, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Replans)
	assert.True(t, summary.FinalState.Get(state.ResultsAvailable))
}

func TestMonitoredExecutor_RejectsPlanlessWorkflow(t *testing.T) {
	exec := NewMonitored(newTestMonitor(), tool.StubRegistry(allToolNames...))

	wf := &workflow.Workflow{ID: types.NewID(), Name: "empty"}
	_, err := exec.Execute(context.Background(), wf)
	require.Error(t, err)

	var merr *types.MeridianError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, types.PLAN_NOT_FOUND, merr.Code)
}

func TestMonitoredExecutor_IndependentActionsRunInOneBatch(t *testing.T) {
	library := action.DefaultLibrary()
	start := state.Initial().Apply(state.Conditions{state.HasData: true})
	goal := state.NewGoal("indexes", state.Conditions{
		state.SearchReady: true,
		state.GraphReady:  true,
	})

	plan, err := planner.New().FindPlan(context.Background(), start, goal, library.All())
	require.NoError(t, err)
	require.Equal(t, 2, plan.Len())

	var mu sync.Mutex
	inFlight, peak := 0, 0
	registry := tool.NewRegistry()
	for _, name := range []string{"index.search.build", "index.graph.build"} {
		registry.Register(tool.FuncTool{ToolName: name, Fn: func(_ context.Context, _ map[string]any) (tool.Result, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return tool.Result{Success: true}, nil
		}})
	}

	wf := &workflow.Workflow{ID: types.NewID(), Name: "indexes", Plan: plan, Context: &action.Context{DatasetName: "demo"}}
	exec := NewMonitored(newTestMonitor(), registry)

	summary, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.True(t, summary.FinalState.Get(state.SearchReady))
	assert.True(t, summary.FinalState.Get(state.GraphReady))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, peak, "independent actions should overlap")
}

func TestMonitoredExecutor_StopOnErrorAborts(t *testing.T) {
	wf := buildDocumentWorkflow(t)

	registry := tool.StubRegistry(allToolNames...)
	registry.Register(tool.FuncTool{ToolName: "dataset.create", Fn: func(_ context.Context, _ map[string]any) (tool.Result, error) {
		return tool.Result{Success: false, Error: "quota exceeded"}, nil
	}})

	exec := NewMonitored(newTestMonitor(), registry, WithStopOnError(true), WithMaxRetries(0))
	summary, err := exec.Execute(context.Background(), wf)
	require.Error(t, err)

	var merr *types.MeridianError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, types.EXECUTION_FAILED, merr.Code)

	// connectService and authenticate ran; nothing after createDataset did.
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.FinalState.Get(state.DatasetExists))
}

func TestMonitoredExecutor_SkipsFailedActionWithoutStopOnError(t *testing.T) {
	library := action.DefaultLibrary()
	start := state.Initial().Apply(state.Conditions{state.HasData: true})
	goal := state.NewGoal("indexes", state.Conditions{
		state.SearchReady: true,
		state.GraphReady:  true,
	})
	plan, err := planner.New().FindPlan(context.Background(), start, goal, library.All())
	require.NoError(t, err)

	registry := tool.StubRegistry(allToolNames...)
	registry.Register(tool.FuncTool{ToolName: "index.graph.build", Fn: func(_ context.Context, _ map[string]any) (tool.Result, error) {
		return tool.Result{Success: false, Error: "graph store unavailable"}, nil
	}})

	wf := &workflow.Workflow{ID: types.NewID(), Name: "indexes", Plan: plan, Context: &action.Context{DatasetName: "demo"}}
	exec := NewMonitored(newTestMonitor(), registry, WithMaxRetries(0))

	summary, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.FinalState.Get(state.SearchReady))
	assert.False(t, summary.FinalState.Get(state.GraphReady), "failed action effects must not apply")
}

func TestMonitoredExecutor_UnknownToolFails(t *testing.T) {
	wf := buildDocumentWorkflow(t)

	// Registry missing search.query.
	registry := tool.StubRegistry(allToolNames[:len(allToolNames)-1]...)
	exec := NewMonitored(newTestMonitor(), registry)

	summary, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.FinalState.Get(state.ResultsAvailable))
}

func TestMonitoredExecutor_DeadlockedPlanDetected(t *testing.T) {
	library := action.DefaultLibrary()
	search, ok := library.Find("runSearch")
	require.True(t, ok)

	// Handcrafted plan whose only action cannot execute from the start state.
	plan := &planner.Plan{
		Actions: []action.Action{search},
		Cost:    search.EffectiveCost(),
		Goal:    state.NewGoal("results", state.Conditions{state.ResultsAvailable: true}),
		Start:   state.Initial(),
	}
	wf := &workflow.Workflow{ID: types.NewID(), Name: "wedged", Plan: plan, Context: &action.Context{}}

	exec := NewMonitored(newTestMonitor(), tool.StubRegistry(allToolNames...), WithStopOnError(true))
	_, err := exec.Execute(context.Background(), wf)
	require.Error(t, err)

	var merr *types.MeridianError
	require.True(t, errors.As(err, &merr))
	require.NotNil(t, merr.Cause)

	var cause *types.MeridianError
	require.True(t, errors.As(merr.Cause, &cause))
	assert.Equal(t, types.EXECUTION_DEADLOCK, cause.Code)
}

func TestMonitoredExecutor_FailureWithoutRetryDecisionRunsToolOnce(t *testing.T) {
	wf := buildConnectWorkflow(t)

	var calls atomic.Int32
	registry := tool.StubRegistry(allToolNames...)
	registry.Register(tool.FuncTool{ToolName: "service.connect", Fn: func(_ context.Context, _ map[string]any) (tool.Result, error) {
		if calls.Add(1) == 1 {
			return tool.Result{Success: false, Error: "transient outage"}, nil
		}
		return tool.Result{Success: true}, nil
	}})

	// Default retry cap: the tool must still run exactly once, because the
	// monitor issued no RETRY_WITH_BACKOFF decision for a first failure.
	exec := NewMonitored(newTestMonitor(), registry, WithStopOnError(true))
	summary, err := exec.Execute(context.Background(), wf)
	require.Error(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Succeeded)
}

func TestMonitoredExecutor_RetriesWhenMonitorSchedulesBackoff(t *testing.T) {
	cfg := monitor.DefaultConfig()
	cfg.FailureThreshold = 10
	cfg.RetryBaseDelay = 2 * time.Millisecond
	mon := monitor.New(cfg)

	library := action.DefaultLibrary()
	connect, ok := library.Find("connectService")
	require.True(t, ok)

	// Push the recent error rate over the threshold so the next failure
	// produces a RETRY_WITH_BACKOFF decision.
	for i := 0; i < 4; i++ {
		id := types.NewID()
		mon.Observe(context.Background(), id, connect, time.Now())
		mon.Complete(context.Background(), id, errors.New("seed failure"))
	}

	var calls atomic.Int32
	registry := tool.StubRegistry(allToolNames...)
	registry.Register(tool.FuncTool{ToolName: "service.connect", Fn: func(_ context.Context, _ map[string]any) (tool.Result, error) {
		if calls.Add(1) == 1 {
			return tool.Result{Success: false, Error: "transient outage"}, nil
		}
		return tool.Result{Success: true}, nil
	}})

	wf := buildConnectWorkflow(t)
	exec := NewMonitored(mon, registry)

	summary, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, int32(2), calls.Load(), "scheduled backoff should re-invoke once")
	assert.True(t, summary.FinalState.Get(state.HasConnection))
}

func TestMonitoredExecutor_GoalAlreadySatisfiedRunsTrivially(t *testing.T) {
	library := action.DefaultLibrary()
	start := state.Initial().Apply(state.Conditions{state.HasConnection: true})
	goal := state.NewGoal("connected", state.Conditions{state.HasConnection: true})

	plan, err := planner.New().FindPlan(context.Background(), start, goal, library.All())
	require.NoError(t, err)
	require.Equal(t, 0, plan.Len())

	wf := &workflow.Workflow{ID: types.NewID(), Name: "noop", Plan: plan, Context: &action.Context{}}
	require.True(t, wf.Executable())

	exec := NewMonitored(newTestMonitor(), tool.StubRegistry(allToolNames...))
	summary, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Zero(t, summary.TotalActions)
	assert.Zero(t, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.True(t, summary.FinalState.Get(state.HasConnection))
}

func TestMonitoredExecutor_GenerateReport(t *testing.T) {
	wf := buildDocumentWorkflow(t)
	exec := NewMonitored(newTestMonitor(), tool.StubRegistry(allToolNames...))

	_, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)

	report := exec.GenerateReport()
	require.Len(t, report.Actions, wf.Plan.Len())
	for _, a := range report.Actions {
		assert.Equal(t, 1, a.Count)
		assert.Equal(t, 1.0, a.SuccessRate)
		assert.Equal(t, "closed", a.Circuit)
	}
	assert.NotEmpty(t, report.String())
}
