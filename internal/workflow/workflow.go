// Package workflow turns a domain context and a goal template into a named,
// executable plan, and analyzes plans for safe parallel execution.
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/planner"
	"github.com/meridian-ops/meridian/internal/types"
)

// Workflow is a named plan bound to a domain context.
// A workflow with a nil Plan is non-executable; callers must check
// Executable() before handing it to an executor. An empty plan (the goal
// already holds in the start state) is executable and runs trivially.
type Workflow struct {
	// ID uniquely identifies this workflow instance.
	ID types.ID

	// Name is the human-readable workflow name.
	Name string

	// Plan is the computed action sequence. Nil when planning failed.
	Plan *planner.Plan

	// Context carries the domain parameters actions bind against.
	Context *action.Context
}

// Executable reports whether the workflow carries a usable plan.
func (w *Workflow) Executable() bool {
	return w != nil && w.Plan != nil
}

// planYAML is the serializable shape used for operator inspection.
type planYAML struct {
	Workflow string         `yaml:"workflow"`
	Goal     string         `yaml:"goal"`
	Cost     float64        `yaml:"cost"`
	Steps    []planStepYAML `yaml:"steps"`
}

type planStepYAML struct {
	Action string  `yaml:"action"`
	Tool   string  `yaml:"tool"`
	Cost   float64 `yaml:"cost"`
}

// RenderYAML renders the workflow's plan as YAML for operator inspection.
// Returns an error if the workflow has no plan.
func (w *Workflow) RenderYAML() (string, error) {
	if !w.Executable() {
		return "", types.NewError(types.PLAN_NOT_FOUND, fmt.Sprintf("workflow %s has no plan", w.Name))
	}

	doc := planYAML{
		Workflow: w.Name,
		Goal:     w.Plan.Goal.Name,
		Cost:     w.Plan.Cost,
		Steps:    make([]planStepYAML, 0, len(w.Plan.Actions)),
	}
	for _, a := range w.Plan.Actions {
		doc.Steps = append(doc.Steps, planStepYAML{
			Action: a.Name,
			Tool:   a.ToolName,
			Cost:   a.EffectiveCost(),
		})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to render plan: %w", err)
	}
	return string(out), nil
}
