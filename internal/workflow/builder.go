package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/planner"
	"github.com/meridian-ops/meridian/internal/state"
	"github.com/meridian-ops/meridian/internal/types"
)

// Builder converts a domain context plus a goal template into a named
// workflow via the planner.
type Builder struct {
	planner *planner.Planner
	library *action.Library
	logger  *slog.Logger
}

// BuilderOption is a functional option for configuring a Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger configures the builder to use the specified logger.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a Builder over the given planner and action library.
func NewBuilder(p *planner.Planner, library *action.Library, opts ...BuilderOption) *Builder {
	b := &Builder{
		planner: p,
		library: library,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build plans a workflow for an arbitrary goal. When the goal is unreachable
// the returned workflow carries a nil plan and the error wraps
// planner.ErrGoalUnreachable, so callers can either fail or degrade.
func (b *Builder) Build(ctx context.Context, name string, goal state.Goal, actx *action.Context) (*Workflow, error) {
	wf := &Workflow{
		ID:      types.NewID(),
		Name:    name,
		Context: actx,
	}

	plan, err := b.planner.FindPlan(ctx, state.Initial(), goal, b.library.All())
	if err != nil {
		if errors.Is(err, planner.ErrGoalUnreachable) {
			b.logger.Warn("workflow not executable",
				"workflow", name,
				"goal", goal.Name,
			)
			return wf, err
		}
		return nil, err
	}

	wf.Plan = plan
	b.logger.Info("workflow built",
		"workflow", name,
		"goal", goal.Name,
		"actions", plan.Len(),
		"cost", plan.Cost,
	)
	return wf, nil
}

// DocumentWorkflow builds the document ingestion pipeline: connect, create
// and verify the dataset, ingest the context's URLs, index, and search.
func (b *Builder) DocumentWorkflow(ctx context.Context, actx *action.Context) (*Workflow, error) {
	goal := state.NewGoal("document-pipeline", state.Conditions{
		state.ResultsAvailable: true,
	})
	return b.Build(ctx, "document-workflow", goal, actx)
}

// CodeWorkflow builds the code analysis pipeline: the dataset must end up
// graph-indexed with code analysis attached.
func (b *Builder) CodeWorkflow(ctx context.Context, actx *action.Context) (*Workflow, error) {
	goal := state.NewGoal("code-pipeline", state.Conditions{
		state.GraphReady: true,
		state.CodeReady:  true,
	})
	return b.Build(ctx, "code-workflow", goal, actx)
}

// StrategyComparison reports the outcome of planning toward one goal.
type StrategyComparison struct {
	// Goal is the goal that was planned for.
	Goal state.Goal

	// Plan is the computed plan, nil when the goal is unreachable.
	Plan *planner.Plan

	// Cost is the plan's total cost. Meaningless when Reachable is false.
	Cost float64

	// Steps is the plan length.
	Steps int

	// Reachable reports whether a plan was found.
	Reachable bool
}

// CompareStrategies plans toward each goal and returns the comparisons
// sorted ascending by plan cost, with unreachable goals last.
func (b *Builder) CompareStrategies(ctx context.Context, goals []state.Goal) ([]StrategyComparison, error) {
	comparisons := make([]StrategyComparison, 0, len(goals))

	for _, goal := range goals {
		plan, err := b.planner.FindPlan(ctx, state.Initial(), goal, b.library.All())
		if err != nil {
			if errors.Is(err, planner.ErrGoalUnreachable) {
				comparisons = append(comparisons, StrategyComparison{Goal: goal})
				continue
			}
			return nil, err
		}
		comparisons = append(comparisons, StrategyComparison{
			Goal:      goal,
			Plan:      plan,
			Cost:      plan.Cost,
			Steps:     plan.Len(),
			Reachable: true,
		})
	}

	sort.SliceStable(comparisons, func(i, j int) bool {
		if comparisons[i].Reachable != comparisons[j].Reachable {
			return comparisons[i].Reachable
		}
		return comparisons[i].Cost < comparisons[j].Cost
	})

	return comparisons, nil
}
