package action

import (
	"fmt"

	"github.com/meridian-ops/meridian/internal/state"
	"github.com/meridian-ops/meridian/internal/types"
)

// Library is a fixed, ordered catalog of actions. It is the single source of
// truth the planner and replanner search over. A Library is never mutated
// after construction; catalog order is significant because the planner uses
// it as the final tie-break for reproducible plans.
type Library struct {
	actions []Action
	byName  map[string]int
}

// NewLibrary builds a library from the given actions, preserving order.
func NewLibrary(actions ...Action) *Library {
	byName := make(map[string]int, len(actions))
	for i, a := range actions {
		if _, exists := byName[a.Name]; !exists {
			byName[a.Name] = i
		}
	}
	return &Library{actions: actions, byName: byName}
}

// All returns a copy of the full catalog in definition order.
func (l *Library) All() []Action {
	out := make([]Action, len(l.actions))
	copy(out, l.actions)
	return out
}

// ByCategory returns actions whose name or description contains the given
// substring, case-insensitively.
func (l *Library) ByCategory(category string) []Action {
	var out []Action
	for _, a := range l.actions {
		if a.matchesCategory(category) {
			out = append(out, a)
		}
	}
	return out
}

// Find returns the action with the given name, or false if absent.
func (l *Library) Find(name string) (Action, bool) {
	idx, ok := l.byName[name]
	if !ok {
		return Action{}, false
	}
	return l.actions[idx], true
}

// Len returns the number of actions in the catalog.
func (l *Library) Len() int {
	return len(l.actions)
}

// Validate checks catalog invariants: unique names, non-empty name and tool
// name, and non-negative costs.
func (l *Library) Validate() error {
	seen := make(map[string]bool, len(l.actions))
	for _, a := range l.actions {
		if a.Name == "" {
			return types.NewError(types.LIBRARY_INVALID, "action with empty name")
		}
		if seen[a.Name] {
			return types.NewError(types.LIBRARY_INVALID, fmt.Sprintf("duplicate action name: %s", a.Name))
		}
		seen[a.Name] = true
		if a.ToolName == "" {
			return types.NewError(types.LIBRARY_INVALID, fmt.Sprintf("action %s has no tool name", a.Name))
		}
		if a.Cost < 0 {
			return types.NewError(types.LIBRARY_INVALID, fmt.Sprintf("action %s has negative cost", a.Name))
		}
	}
	return nil
}

// DefaultLibrary returns the standard operational catalog covering the
// connect/auth/dataset/ingest/index/search/code pipeline.
func DefaultLibrary() *Library {
	return NewLibrary(
		Action{
			Name:          "connectService",
			Description:   "Establish a connection to the backing service",
			Preconditions: state.Conditions{},
			Effects:       state.Conditions{state.HasConnection: true},
			Cost:          1,
			ToolName:      "service.connect",
		},
		Action{
			Name:          "authenticate",
			Description:   "Authenticate the established service connection",
			Preconditions: state.Conditions{state.HasConnection: true},
			Effects:       state.Conditions{state.HasAuth: true},
			Cost:          1,
			ToolName:      "service.authenticate",
		},
		Action{
			Name:          "createDataset",
			Description:   "Create a new dataset for ingested content",
			Preconditions: state.Conditions{state.HasConnection: true, state.HasAuth: true},
			Effects:       state.Conditions{state.DatasetExists: true},
			Cost:          2,
			ToolName:      "dataset.create",
			Bind: func(ctx *Context) map[string]any {
				return map[string]any{"name": ctx.DatasetName}
			},
		},
		Action{
			Name:          "verifyDataset",
			Description:   "Verify the dataset exists and is ready for ingestion",
			Preconditions: state.Conditions{state.DatasetExists: true},
			Effects:       state.Conditions{state.DatasetReady: true},
			Cost:          1,
			ToolName:      "dataset.verify",
			Bind: func(ctx *Context) map[string]any {
				return map[string]any{"name": ctx.DatasetName}
			},
		},
		Action{
			Name:          "ingestContent",
			Description:   "Ingest content from the configured sources into the dataset",
			Preconditions: state.Conditions{state.DatasetReady: true},
			Effects:       state.Conditions{state.HasData: true},
			Cost:          3,
			ToolName:      "content.ingest",
			Bind: func(ctx *Context) map[string]any {
				return map[string]any{"dataset": ctx.DatasetName, "urls": ctx.URLs}
			},
		},
		Action{
			Name:          "buildSearchIndex",
			Description:   "Build the embedding index so the dataset is searchable",
			Preconditions: state.Conditions{state.HasData: true},
			Effects:       state.Conditions{state.SearchReady: true},
			Cost:          2,
			ToolName:      "index.search.build",
			Bind: func(ctx *Context) map[string]any {
				return map[string]any{"dataset": ctx.DatasetName}
			},
		},
		Action{
			Name:          "buildGraphIndex",
			Description:   "Build the relationship graph index over ingested content",
			Preconditions: state.Conditions{state.HasData: true},
			Effects:       state.Conditions{state.GraphReady: true},
			Cost:          3,
			ToolName:      "index.graph.build",
			Bind: func(ctx *Context) map[string]any {
				return map[string]any{"dataset": ctx.DatasetName}
			},
		},
		Action{
			Name:          "analyzeCode",
			Description:   "Analyze the source repository and attach results to the dataset",
			Preconditions: state.Conditions{state.HasAuth: true, state.DatasetReady: true},
			Effects:       state.Conditions{state.CodeReady: true},
			Cost:          2,
			ToolName:      "code.analyze",
			Bind: func(ctx *Context) map[string]any {
				return map[string]any{"dataset": ctx.DatasetName, "repoPath": ctx.RepoPath}
			},
		},
		Action{
			Name:          "runSearch",
			Description:   "Run a search query against the indexed dataset",
			Preconditions: state.Conditions{state.SearchReady: true},
			Effects:       state.Conditions{state.ResultsAvailable: true},
			Cost:          1,
			ToolName:      "search.query",
			Bind: func(ctx *Context) map[string]any {
				return map[string]any{"dataset": ctx.DatasetName, "query": ctx.Query}
			},
		},
	)
}
