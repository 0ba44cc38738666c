package main

import (
	"github.com/spf13/cobra"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "Compare the built-in goal templates by plan cost",
	Long: `Strategies plans every built-in goal template and prints them ordered
by total cost, cheapest first. Unreachable goals sort last.`,
	RunE: runStrategies,
}

func runStrategies(cmd *cobra.Command, args []string) error {
	builder := newBuilder()

	comparisons, err := builder.CompareStrategies(cmd.Context(), goalTemplates())
	if err != nil {
		return err
	}

	cmd.Printf("%-24s %8s %6s %s\n", "goal", "cost", "steps", "reachable")
	for _, c := range comparisons {
		if !c.Reachable {
			cmd.Printf("%-24s %8s %6s %v\n", c.Goal.Name, "-", "-", false)
			continue
		}
		cmd.Printf("%-24s %8.1f %6d %v\n", c.Goal.Name, c.Cost, c.Steps, true)
	}
	return nil
}
