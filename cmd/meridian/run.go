package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/events"
	"github.com/meridian-ops/meridian/internal/executor"
	"github.com/meridian-ops/meridian/internal/monitor"
	"github.com/meridian-ops/meridian/internal/planner"
	"github.com/meridian-ops/meridian/internal/replan"
	"github.com/meridian-ops/meridian/internal/tool"
)

var (
	runDataset  string
	runURLs     []string
	runRepo     string
	runQuery    string
	runGoal     string
	runAdaptive bool
	runReport   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan and execute a workflow",
	Long: `Run plans the workflow for a goal and executes it under monitor
supervision. With --adaptive, failures trigger rollback and replanning.

Execution uses the built-in simulated tools; integrate real tools by
registering them with the tool registry.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runDataset, "dataset", "default", "Dataset name actions bind against")
	runCmd.Flags().StringSliceVar(&runURLs, "url", nil, "Content URLs to ingest")
	runCmd.Flags().StringVar(&runRepo, "repo", "", "Source repository path for code analysis")
	runCmd.Flags().StringVar(&runQuery, "query", "", "Search query to run once indexed")
	runCmd.Flags().StringVar(&runGoal, "goal", "document", "Goal template: document or code")
	runCmd.Flags().BoolVar(&runAdaptive, "adaptive", true, "Recover from failures by replanning")
	runCmd.Flags().BoolVar(&runReport, "report", false, "Print the execution report afterwards")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	builder := newBuilder()
	actx := &action.Context{
		DatasetName: runDataset,
		URLs:        runURLs,
		RepoPath:    runRepo,
		Query:       runQuery,
	}

	wf, err := buildWorkflow(cmd, builder, runGoal, actx)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	mon := monitor.New(cfg.Monitor.MonitorSettings(), monitor.WithEventBus(bus))
	exec := executor.NewMonitored(mon, simulatedRegistry(),
		executor.WithExecutorBus(bus),
		executor.WithMaxParallel(cfg.Executor.MaxParallel),
		executor.WithMaxRetries(cfg.Executor.MaxRetries),
		executor.WithStopOnError(cfg.Executor.StopOnError),
	)

	var summary *executor.Summary
	var adaptive *executor.AdaptiveExecutor
	if runAdaptive {
		p := planner.New(planner.WithMaxDepth(cfg.Planner.MaxDepth))
		rp := replan.New(cfg.Replanner.ReplanSettings(), p, action.DefaultLibrary())
		adaptive = executor.NewAdaptive(exec, rp)
		summary, err = adaptive.Execute(ctx, wf)
	} else {
		summary, err = exec.Execute(ctx, wf)
	}
	if summary != nil {
		cmd.Printf("workflow %s: %d/%d actions succeeded, %d replans, %s\n",
			summary.Workflow, summary.Succeeded, summary.TotalActions,
			summary.Replans, summary.Duration.Round(time.Millisecond))
	}
	if err != nil {
		return err
	}

	if runReport {
		var report executor.Report
		if adaptive != nil {
			report = adaptive.GenerateReport()
		} else {
			report = exec.GenerateReport()
		}
		cmd.Println(report.String())
	}
	return nil
}

// simulatedRegistry registers an echoing stub for every catalog tool.
func simulatedRegistry() *tool.Registry {
	names := make([]string, 0)
	for _, a := range action.DefaultLibrary().All() {
		names = append(names, a.ToolName)
	}
	return tool.StubRegistry(names...)
}
