package planner

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/state"
)

func TestFindPlan_FullPipeline(t *testing.T) {
	p := New()
	lib := action.DefaultLibrary()
	goal := state.NewGoal("searchable", state.Conditions{state.ResultsAvailable: true})

	plan, err := p.FindPlan(context.Background(), state.Initial(), goal, lib.All())
	require.NoError(t, err)
	require.NotNil(t, plan)

	assert.Equal(t, []string{
		"connectService", "authenticate", "createDataset", "verifyDataset",
		"ingestContent", "buildSearchIndex", "runSearch",
	}, plan.ActionNames())
	assert.Equal(t, 11.0, plan.Cost)
	assert.True(t, plan.FinalState().Satisfies(goal))
}

func TestFindPlan_AlreadySatisfied(t *testing.T) {
	p := New()
	goal := state.NewGoal("connected", state.Conditions{state.HasConnection: true})
	start := state.New(state.Conditions{state.HasConnection: true})

	plan, err := p.FindPlan(context.Background(), start, goal, action.DefaultLibrary().All())
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Len())
	assert.Equal(t, 0.0, plan.Cost)
}

func TestFindPlan_Unreachable(t *testing.T) {
	p := New()
	// No action in the catalog can unset a condition, so a goal requiring
	// hasConnection=false from a connected state is unreachable.
	goal := state.NewGoal("impossible", state.Conditions{
		state.HasConnection: false,
		state.SearchReady:   true,
	})
	start := state.New(state.Conditions{state.HasConnection: true})

	plan, err := p.FindPlan(context.Background(), start, goal, action.DefaultLibrary().All())
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, ErrGoalUnreachable)
}

func TestFindPlan_ChoosesCheaperOfEqualEffects(t *testing.T) {
	actions := []action.Action{
		{
			Name:     "expensiveIngest",
			Effects:  state.Conditions{state.HasData: true},
			Cost:     10,
			ToolName: "t",
		},
		{
			Name:     "cheapIngest",
			Effects:  state.Conditions{state.HasData: true},
			Cost:     1,
			ToolName: "t",
		},
	}
	goal := state.NewGoal("data", state.Conditions{state.HasData: true})

	plan, err := New().FindPlan(context.Background(), state.Initial(), goal, actions)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Len())
	assert.Equal(t, "cheapIngest", plan.Actions[0].Name)
	assert.Equal(t, 1.0, plan.Cost)
}

func TestFindPlan_EqualCostPrefersCatalogOrder(t *testing.T) {
	actions := []action.Action{
		{Name: "first", Effects: state.Conditions{state.HasData: true}, Cost: 2, ToolName: "t"},
		{Name: "second", Effects: state.Conditions{state.HasData: true}, Cost: 2, ToolName: "t"},
	}
	goal := state.NewGoal("data", state.Conditions{state.HasData: true})

	// Deterministic: repeated searches always pick the action defined first.
	for i := 0; i < 10; i++ {
		plan, err := New().FindPlan(context.Background(), state.Initial(), goal, actions)
		require.NoError(t, err)
		require.Equal(t, 1, plan.Len())
		assert.Equal(t, "first", plan.Actions[0].Name)
	}
}

func TestFindPlan_PrefersCheaperMultiStepPath(t *testing.T) {
	// Direct route costs 10; the two-step detour costs 3 and must win.
	actions := []action.Action{
		{Name: "direct", Effects: state.Conditions{state.SearchReady: true}, Cost: 10, ToolName: "t"},
		{Name: "stage", Effects: state.Conditions{state.HasData: true}, Cost: 1, ToolName: "t"},
		{
			Name:          "finish",
			Preconditions: state.Conditions{state.HasData: true},
			Effects:       state.Conditions{state.SearchReady: true},
			Cost:          2,
			ToolName:      "t",
		},
	}
	goal := state.NewGoal("search", state.Conditions{state.SearchReady: true})

	plan, err := New().FindPlan(context.Background(), state.Initial(), goal, actions)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage", "finish"}, plan.ActionNames())
	assert.Equal(t, 3.0, plan.Cost)
}

func TestFindPlan_DepthBound(t *testing.T) {
	// A chain requiring 3 steps is unreachable with max depth 2.
	actions := []action.Action{
		{Name: "a", Effects: state.Conditions{state.HasConnection: true}, Cost: 1, ToolName: "t"},
		{
			Name:          "b",
			Preconditions: state.Conditions{state.HasConnection: true},
			Effects:       state.Conditions{state.HasAuth: true},
			Cost:          1,
			ToolName:      "t",
		},
		{
			Name:          "c",
			Preconditions: state.Conditions{state.HasAuth: true},
			Effects:       state.Conditions{state.DatasetExists: true},
			Cost:          1,
			ToolName:      "t",
		},
	}
	goal := state.NewGoal("deep", state.Conditions{state.DatasetExists: true})

	plan, err := New(WithMaxDepth(2)).FindPlan(context.Background(), state.Initial(), goal, actions)
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, ErrGoalUnreachable)

	plan, err = New(WithMaxDepth(3)).FindPlan(context.Background(), state.Initial(), goal, actions)
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Len())
}

func TestFindPlan_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	goal := state.NewGoal("searchable", state.Conditions{state.ResultsAvailable: true})
	_, err := New().FindPlan(ctx, state.Initial(), goal, action.DefaultLibrary().All())
	assert.ErrorIs(t, err, context.Canceled)
}

// bruteForce enumerates all action sequences up to maxLen and returns the
// cheapest total cost of any sequence reaching the goal, or +Inf.
func bruteForce(start state.WorldState, goal state.Goal, actions []action.Action, maxLen int) float64 {
	best := math.Inf(1)
	var walk func(ws state.WorldState, cost float64, depth int)
	walk = func(ws state.WorldState, cost float64, depth int) {
		if ws.Satisfies(goal) {
			if cost < best {
				best = cost
			}
			return
		}
		if depth >= maxLen || cost >= best {
			return
		}
		for _, a := range actions {
			if a.CanExecute(ws) {
				walk(ws.Apply(a.Effects), cost+a.EffectiveCost(), depth+1)
			}
		}
	}
	walk(start, 0, 0)
	return best
}

func TestFindPlan_OptimalVersusBruteForce(t *testing.T) {
	lib := action.DefaultLibrary()
	goals := []state.Goal{
		state.NewGoal("results", state.Conditions{state.ResultsAvailable: true}),
		state.NewGoal("indexes", state.Conditions{state.SearchReady: true, state.GraphReady: true}),
		state.NewGoal("code", state.Conditions{state.GraphReady: true, state.CodeReady: true}),
		state.NewGoal("data-only", state.Conditions{state.HasData: true}),
	}

	for _, goal := range goals {
		t.Run(goal.Name, func(t *testing.T) {
			plan, err := New().FindPlan(context.Background(), state.Initial(), goal, lib.All())
			require.NoError(t, err)

			want := bruteForce(state.Initial(), goal, lib.All(), DefaultMaxDepth)
			require.False(t, math.IsInf(want, 1), "brute force found no plan")
			assert.Equal(t, want, plan.Cost, "planner cost must match brute-force optimum")
		})
	}
}

func TestPlan_ActionNamesAndFinalState(t *testing.T) {
	var nilPlan *Plan
	assert.Equal(t, 0, nilPlan.Len())
	assert.Nil(t, nilPlan.ActionNames())
}
