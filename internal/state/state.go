// Package state models the world as an immutable snapshot of named boolean
// conditions. Planning searches over WorldStates; execution advances through
// them one action at a time while retaining a linear history for rollback.
package state

import (
	"sort"
	"strings"
)

// Condition names a single boolean fact about the system configuration.
type Condition string

// Default condition vocabulary describing the operational pipeline.
const (
	HasConnection    Condition = "hasConnection"
	HasAuth          Condition = "hasAuth"
	DatasetExists    Condition = "datasetExists"
	DatasetReady     Condition = "datasetReady"
	HasData          Condition = "hasData"
	SearchReady      Condition = "searchReady"
	GraphReady       Condition = "graphReady"
	CodeReady        Condition = "codeReady"
	ResultsAvailable Condition = "resultsAvailable"
)

// Conditions is a partial mapping from condition name to desired or observed
// value. Used for action preconditions, action effects, and goals.
type Conditions map[Condition]bool

// Clone returns a deep copy of the condition map.
func (c Conditions) Clone() Conditions {
	out := make(Conditions, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// WorldState is an immutable snapshot of boolean conditions.
// All mutating operations return a new WorldState; the receiver is never
// modified. Missing conditions are treated as false.
type WorldState struct {
	conditions Conditions
}

// New creates a WorldState from the given conditions.
// The input map is copied; later changes to it do not affect the state.
func New(conditions Conditions) WorldState {
	if conditions == nil {
		conditions = Conditions{}
	}
	return WorldState{conditions: conditions.Clone()}
}

// Initial returns the pristine start state with the full default vocabulary
// present and every condition false.
func Initial() WorldState {
	return New(Conditions{
		HasConnection:    false,
		HasAuth:          false,
		DatasetExists:    false,
		DatasetReady:     false,
		HasData:          false,
		SearchReady:      false,
		GraphReady:       false,
		CodeReady:        false,
		ResultsAvailable: false,
	})
}

// Get returns the value of a condition. Missing conditions default to false.
func (ws WorldState) Get(c Condition) bool {
	return ws.conditions[c]
}

// Conditions returns a copy of the full condition map.
func (ws WorldState) Conditions() Conditions {
	return ws.conditions.Clone()
}

// Apply returns a new WorldState equal to the receiver with the given effects
// merged in. The receiver is left unchanged.
func (ws WorldState) Apply(effects Conditions) WorldState {
	next := ws.conditions.Clone()
	for k, v := range effects {
		next[k] = v
	}
	return WorldState{conditions: next}
}

// Matches reports whether every key/value pair in want matches this state.
// Conditions absent from the state compare as false.
func (ws WorldState) Matches(want Conditions) bool {
	for k, v := range want {
		if ws.conditions[k] != v {
			return false
		}
	}
	return true
}

// Satisfies reports whether this state meets every condition of the goal.
func (ws WorldState) Satisfies(goal Goal) bool {
	return ws.Matches(goal.Conditions)
}

// Signature returns a canonical string key for this state, suitable for
// planner closed-set deduplication. Only true conditions contribute, so
// states differing solely by explicit-false entries compare equal.
func (ws WorldState) Signature() string {
	keys := make([]string, 0, len(ws.conditions))
	for k, v := range ws.conditions {
		if v {
			keys = append(keys, string(k))
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// Goal is a partial condition map a WorldState must satisfy.
type Goal struct {
	// Name is an optional human-readable label for the goal.
	Name string

	// Conditions are the required key/value pairs.
	Conditions Conditions
}

// NewGoal creates a named goal over the given conditions.
func NewGoal(name string, conditions Conditions) Goal {
	return Goal{Name: name, Conditions: conditions.Clone()}
}

// UnmetBy counts how many goal conditions the state does not yet satisfy.
// Used as the planner's admissible heuristic: each unmet condition needs at
// least one more action, so the count never overestimates remaining cost
// for unit-or-greater action costs.
func (g Goal) UnmetBy(ws WorldState) int {
	unmet := 0
	for k, v := range g.Conditions {
		if ws.Get(k) != v {
			unmet++
		}
	}
	return unmet
}
