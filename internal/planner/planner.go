// Package planner implements cost-optimal, goal-directed search over the
// action catalog. Nodes are world states, edges are executable actions
// weighted by cost, and the heuristic is the count of unmet goal conditions
// scaled by the cheapest action cost (admissible, so returned plans are
// minimum cost).
package planner

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/state"
	"github.com/meridian-ops/meridian/internal/types"
)

// DefaultMaxDepth bounds the search: plans longer than this many actions are
// treated as unreachable.
const DefaultMaxDepth = 15

// ErrGoalUnreachable is returned when no plan reaches the goal within the
// search bound. Callers should treat this as a graceful degradation signal,
// not a fault.
var ErrGoalUnreachable = types.NewError(types.GOAL_UNREACHABLE, "no plan reaches the goal within the search bound")

// Planner performs best-first search from a start state to a goal using a
// fixed action set.
type Planner struct {
	maxDepth int
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option is a functional option for configuring a Planner.
type Option func(*Planner)

// WithMaxDepth overrides the maximum plan length considered by the search.
func WithMaxDepth(depth int) Option {
	return func(p *Planner) {
		if depth > 0 {
			p.maxDepth = depth
		}
	}
}

// WithLogger configures the planner to use the specified structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTracer configures the planner to emit OpenTelemetry spans for each
// search invocation.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Planner) {
		p.tracer = tracer
	}
}

// New creates a Planner with the given options.
// Defaults: max depth 15, slog.Default(), no tracer.
func New(opts ...Option) *Planner {
	p := &Planner{
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// searchNode is a frontier entry in the A* search.
type searchNode struct {
	state   state.WorldState
	actions []action.Action // path from the start state
	g       float64         // accumulated cost
	h       float64         // heuristic estimate to goal
	order   int             // discovery order, final tie-break
	index   int             // heap bookkeeping
}

func (n *searchNode) f() float64 { return n.g + n.h }

// frontier is a min-heap ordered by f, then h, then path length, then
// discovery order. Discovery order encodes catalog order because expansion
// iterates the action list front to back, which makes plans reproducible:
// of two equal-cost actions reaching the same state, the one defined first
// in the library wins.
type frontier []*searchNode

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].f() != f[j].f() {
		return f[i].f() < f[j].f()
	}
	if f[i].h != f[j].h {
		return f[i].h < f[j].h
	}
	if len(f[i].actions) != len(f[j].actions) {
		return len(f[i].actions) < len(f[j].actions)
	}
	return f[i].order < f[j].order
}

func (f frontier) Swap(i, j int) {
	f[i], f[j] = f[j], f[i]
	f[i].index = i
	f[j].index = j
}

func (f *frontier) Push(x any) {
	n := x.(*searchNode)
	n.index = len(*f)
	*f = append(*f, n)
}

func (f *frontier) Pop() any {
	old := *f
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*f = old[:len(old)-1]
	return n
}

// FindPlan searches for the cheapest action sequence from start to goal over
// the given action set. Returns ErrGoalUnreachable when the frontier is
// exhausted or the depth bound is hit without satisfying the goal.
//
// The context is checked between expansions; cancellation aborts the search
// with the context's error.
func (p *Planner) FindPlan(ctx context.Context, start state.WorldState, goal state.Goal, actions []action.Action) (*Plan, error) {
	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "planner.find_plan",
			trace.WithAttributes(
				attribute.String("goal.name", goal.Name),
				attribute.Int("actions.count", len(actions)),
			),
		)
		defer span.End()
	}

	// Cheapest action cost scales the unmet-condition heuristic so it stays
	// admissible for fractional costs.
	minCost := 0.0
	for i, a := range actions {
		c := a.EffectiveCost()
		if i == 0 || c < minCost {
			minCost = c
		}
	}

	heuristic := func(ws state.WorldState) float64 {
		return float64(goal.UnmetBy(ws)) * minCost
	}

	open := &frontier{}
	heap.Init(open)

	discovered := 0
	root := &searchNode{
		state: start,
		g:     0,
		h:     heuristic(start),
		order: discovered,
	}
	heap.Push(open, root)

	// bestCost tracks the cheapest accumulated cost at which each state
	// signature has been reached. Revisits at equal or worse cost are pruned.
	bestCost := map[string]float64{start.Signature(): 0}

	expanded := 0
	for open.Len() > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		node := heap.Pop(open).(*searchNode)

		// A stale frontier entry: the state was re-reached more cheaply
		// after this entry was pushed.
		if g, ok := bestCost[node.state.Signature()]; ok && node.g > g {
			continue
		}

		if node.state.Satisfies(goal) {
			p.logger.Debug("plan found",
				"goal", goal.Name,
				"cost", node.g,
				"length", len(node.actions),
				"expanded", expanded,
			)
			plan := &Plan{
				Actions: node.actions,
				Cost:    node.g,
				Goal:    goal,
				Start:   start,
			}
			return plan, nil
		}

		if len(node.actions) >= p.maxDepth {
			continue
		}
		expanded++

		for _, a := range actions {
			if !a.CanExecute(node.state) {
				continue
			}

			nextState := node.state.Apply(a.Effects)
			nextG := node.g + a.EffectiveCost()

			sig := nextState.Signature()
			if g, ok := bestCost[sig]; ok && nextG >= g {
				continue
			}
			bestCost[sig] = nextG

			path := make([]action.Action, len(node.actions)+1)
			copy(path, node.actions)
			path[len(node.actions)] = a

			discovered++
			heap.Push(open, &searchNode{
				state:   nextState,
				actions: path,
				g:       nextG,
				h:       heuristic(nextState),
				order:   discovered,
			})
		}
	}

	p.logger.Debug("goal unreachable",
		"goal", goal.Name,
		"expanded", expanded,
		"max_depth", p.maxDepth,
	)
	return nil, fmt.Errorf("goal %q: %w", goal.Name, ErrGoalUnreachable)
}
