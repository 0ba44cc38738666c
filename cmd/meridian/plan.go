package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/planner"
	"github.com/meridian-ops/meridian/internal/state"
	"github.com/meridian-ops/meridian/internal/workflow"
)

var (
	planDataset string
	planURLs    []string
	planRepo    string
	planQuery   string
	planGoal    string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute a workflow plan without executing it",
	Long: `Plan computes the cost-optimal action sequence for a goal and prints
it as YAML. Nothing is executed.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planDataset, "dataset", "default", "Dataset name actions bind against")
	planCmd.Flags().StringSliceVar(&planURLs, "url", nil, "Content URLs to ingest")
	planCmd.Flags().StringVar(&planRepo, "repo", "", "Source repository path for code analysis")
	planCmd.Flags().StringVar(&planQuery, "query", "", "Search query to run once indexed")
	planCmd.Flags().StringVar(&planGoal, "goal", "document", "Goal template: document or code")
}

func runPlan(cmd *cobra.Command, args []string) error {
	builder := newBuilder()
	actx := &action.Context{
		DatasetName: planDataset,
		URLs:        planURLs,
		RepoPath:    planRepo,
		Query:       planQuery,
	}

	wf, err := buildWorkflow(cmd, builder, planGoal, actx)
	if err != nil {
		return err
	}

	rendered, err := wf.RenderYAML()
	if err != nil {
		return err
	}
	cmd.Println(rendered)
	return nil
}

// newBuilder wires the planner and default catalog from the loaded config.
func newBuilder() *workflow.Builder {
	p := planner.New(planner.WithMaxDepth(cfg.Planner.MaxDepth))
	return workflow.NewBuilder(p, action.DefaultLibrary())
}

// buildWorkflow resolves a goal template name to a built workflow.
func buildWorkflow(cmd *cobra.Command, builder *workflow.Builder, goalName string, actx *action.Context) (*workflow.Workflow, error) {
	ctx := cmd.Context()
	switch goalName {
	case "document":
		return builder.DocumentWorkflow(ctx, actx)
	case "code":
		return builder.CodeWorkflow(ctx, actx)
	default:
		return nil, fmt.Errorf("unknown goal template %q (want document or code)", goalName)
	}
}

// goalTemplates returns the built-in goals, for strategy comparison.
func goalTemplates() []state.Goal {
	return []state.Goal{
		state.NewGoal("document-searchable", state.Conditions{state.ResultsAvailable: true}),
		state.NewGoal("code-indexed", state.Conditions{state.GraphReady: true, state.CodeReady: true}),
	}
}
