package planner

import (
	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/state"
)

// Plan is an ordered, costed sequence of actions achieving a goal from a
// start state. Plans are immutable once returned by the planner.
type Plan struct {
	// Actions is the execution order.
	Actions []action.Action

	// Cost is the sum of action costs.
	Cost float64

	// Goal is the goal this plan was computed for.
	Goal state.Goal

	// Start is the world state the plan begins from.
	Start state.WorldState
}

// Len returns the number of actions in the plan.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Actions)
}

// ActionNames returns the action names in execution order.
func (p *Plan) ActionNames() []string {
	if p == nil {
		return nil
	}
	names := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		names[i] = a.Name
	}
	return names
}

// FinalState returns the world state after applying every action's effects
// in order, starting from the plan's start state.
func (p *Plan) FinalState() state.WorldState {
	ws := p.Start
	for _, a := range p.Actions {
		ws = ws.Apply(a.Effects)
	}
	return ws
}
