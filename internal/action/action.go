// Package action defines the unit of plannable work: a named, preconditioned,
// cost-bearing operation bound to an external tool, plus the fixed catalog
// (Library) the planner and replanner search over.
package action

import (
	"strings"

	"github.com/meridian-ops/meridian/internal/state"
)

// Context carries the domain parameters a workflow is bound to. Param binders
// read from it to derive tool invocation arguments.
type Context struct {
	// DatasetName identifies the dataset the workflow operates on.
	DatasetName string

	// URLs are content sources for ingestion.
	URLs []string

	// RepoPath points at a source repository for code analysis.
	RepoPath string

	// Query is the search query to run once the dataset is searchable.
	Query string

	// Extra holds any additional tool-specific parameters.
	Extra map[string]any
}

// ParamBinder derives tool invocation arguments from a domain context.
// Binders must be pure: no side effects, no retained references to the
// returned map.
type ParamBinder func(ctx *Context) map[string]any

// Action is a named unit of work with preconditions, effects, and a cost.
// Actions are defined once in a Library and never mutated; cost adjustments
// produce copies via WithCost.
type Action struct {
	// Name uniquely identifies the action within a library.
	Name string

	// Description is a short human-readable summary, also matched by
	// Library.ByCategory.
	Description string

	// Preconditions must all match the current world state for the action
	// to be executable. Missing conditions compare as false.
	Preconditions state.Conditions

	// Effects are merged into the world state when the action succeeds.
	Effects state.Conditions

	// Cost is the non-negative planning cost. Defaults to 1 when zero.
	Cost float64

	// ToolName identifies the external operation the executor invokes.
	ToolName string

	// Bind derives invocation parameters from the workflow context.
	// May be nil for parameterless tools.
	Bind ParamBinder
}

// EffectiveCost returns the action's cost, defaulting to 1 when unset.
func (a Action) EffectiveCost() float64 {
	if a.Cost <= 0 {
		return 1
	}
	return a.Cost
}

// CanExecute reports whether every precondition matches the given state.
func (a Action) CanExecute(ws state.WorldState) bool {
	return ws.Matches(a.Preconditions)
}

// Params binds invocation parameters from the context.
// Returns an empty map when the action has no binder.
func (a Action) Params(ctx *Context) map[string]any {
	if a.Bind == nil {
		return map[string]any{}
	}
	return a.Bind(ctx)
}

// WithCost returns a copy of the action with the given cost.
// The receiver is unchanged, so shared library entries stay pristine.
func (a Action) WithCost(cost float64) Action {
	a.Cost = cost
	return a
}

// OverlapsEffects reports whether the two actions produce at least one
// common effect with the same value. Used when searching for substitutes.
func (a Action) OverlapsEffects(other Action) bool {
	for k, v := range a.Effects {
		if ov, ok := other.Effects[k]; ok && ov == v {
			return true
		}
	}
	return false
}

// matchesCategory reports whether the category substring appears in the
// action's name or description, case-insensitively.
func (a Action) matchesCategory(category string) bool {
	c := strings.ToLower(category)
	return strings.Contains(strings.ToLower(a.Name), c) ||
		strings.Contains(strings.ToLower(a.Description), c)
}
