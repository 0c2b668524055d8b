package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/procheal"
	"github.com/wiseyoda/specflow/internal/procprobe"
	"github.com/wiseyoda/specflow/internal/reconcile"
	"github.com/wiseyoda/specflow/internal/statestore"
	"github.com/wiseyoda/specflow/internal/workflow"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a one-shot reconciliation sweep for this project",
	Long: `reconcile re-derives authoritative status for every workflow and
orchestration in this project from on-disk evidence, and reports (but
never kills) any orphaned child processes it finds.`,
	Run: func(cmd *cobra.Command, args []string) {
		projectPath, err := resolveProjectPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		state := statestore.New()
		probe := procprobe.New()
		health := procheal.New(probe)
		clk := clock.SystemClock{}
		wf := workflow.New(state, probe, clk)
		reconciler := reconcile.New(state, health, wf, clk)

		result, err := reconciler.ReconcileWorkflows([]string{projectPath})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n", cyan("=== Reconciliation Result ==="))
		fmt.Printf("projects checked:        %d\n", result.ProjectsChecked)
		fmt.Printf("workflows checked:       %d\n", result.WorkflowsChecked)
		fmt.Printf("workflows updated:       %d\n", result.WorkflowsUpdated)
		fmt.Printf("orchestrations checked:  %d\n", result.OrchestrationsChecked)
		fmt.Printf("orchestrations updated:  %d\n", result.OrchestrationsUpdated)
		fmt.Printf("orphans found:           %d\n", result.OrphansFound)
		fmt.Printf("orphans killed:          %d (the core never auto-kills)\n", result.OrphansKilled)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "warning: %v\n", e)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
