package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wiseyoda/specflow/internal/statestore"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestration and workflow status for this project",
	Run: func(cmd *cobra.Command, args []string) {
		projectPath, err := resolveProjectPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		store := statestore.New()
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Orchestrations ==="))
		orchestrations, warnings := store.ListOrchestrations(projectPath)
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %v\n", w)
		}
		if len(orchestrations) == 0 {
			fmt.Println(gray("  (none)"))
		}
		for _, o := range orchestrations {
			fmt.Printf("  %s  %-16s  phase=%-10s  cost=$%.4f\n", o.ID, yellow(o.Status), o.CurrentPhase, o.TotalCostUsd)
			if statusVerbose {
				for _, e := range o.DecisionLog {
					fmt.Printf("      %s  %-28s  %s\n", gray(e.Timestamp), e.Decision, e.Reason)
				}
			}
		}

		fmt.Printf("\n%s\n\n", cyan("=== Workflows ==="))
		workflows, warnings := store.ListWorkflows(projectPath)
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %v\n", w)
		}
		if len(workflows) == 0 {
			fmt.Println(gray("  (none)"))
		}
		for _, w := range workflows {
			fmt.Printf("  %s  %-20s  %-10s  $%.4f\n", w.ID, w.Skill, yellow(w.Status), w.CostUsd)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusVerbose, "verbose", false, "include each orchestration's decision log")
}
