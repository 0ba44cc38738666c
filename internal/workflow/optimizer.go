package workflow

import (
	"log/slog"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/types"
)

// OptimizedWorkflow is the result of dependency analysis over a plan.
// Batches execute in order; actions within a batch have no dependency edges
// between them and may run concurrently.
type OptimizedWorkflow struct {
	// Batches groups plan actions into the minimum number of sequential
	// stages that preserve the plan's effect/precondition partial order.
	Batches [][]action.Action

	// Sequential is the original linear step count. len(Batches) is always
	// less than or equal to Sequential; equality means no parallelism was
	// found.
	Sequential int
}

// ParallelismFound reports whether batching shortened the critical path.
func (o *OptimizedWorkflow) ParallelismFound() bool {
	return len(o.Batches) < o.Sequential
}

// Optimizer analyzes a plan's action graph to find independent actions that
// can run in parallel batches.
type Optimizer struct {
	logger *slog.Logger
}

// NewOptimizer creates an Optimizer.
func NewOptimizer(logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{logger: logger}
}

// Optimize builds a dependency graph over the workflow's plan: action B
// depends on an earlier action A when any of A's effect conditions is
// referenced in B's preconditions. Actions are then grouped by dependency
// depth, yielding the minimum batch count that respects every edge.
func (o *Optimizer) Optimize(wf *Workflow) (*OptimizedWorkflow, error) {
	if !wf.Executable() {
		return nil, types.NewError(types.PLAN_NOT_FOUND, "cannot optimize a workflow without a plan")
	}

	actions := wf.Plan.Actions
	n := len(actions)
	if n == 0 {
		return &OptimizedWorkflow{Sequential: 0}, nil
	}

	// level[i] is the 0-based batch index for action i:
	// one past the deepest earlier action it depends on.
	level := make([]int, n)
	maxLevel := 0
	for i := 1; i < n; i++ {
		for j := 0; j < i; j++ {
			if dependsOn(actions[i], actions[j]) && level[j]+1 > level[i] {
				level[i] = level[j] + 1
			}
		}
		if level[i] > maxLevel {
			maxLevel = level[i]
		}
	}

	batches := make([][]action.Action, maxLevel+1)
	for i, a := range actions {
		batches[level[i]] = append(batches[level[i]], a)
	}

	o.logger.Debug("workflow optimized",
		"workflow", wf.Name,
		"sequential", n,
		"batches", len(batches),
	)

	return &OptimizedWorkflow{
		Batches:    batches,
		Sequential: n,
	}, nil
}

// dependsOn reports whether action b depends on action a: any condition a
// produces as an effect is referenced among b's preconditions.
func dependsOn(b, a action.Action) bool {
	for cond := range a.Effects {
		if _, ok := b.Preconditions[cond]; ok {
			return true
		}
	}
	return false
}
