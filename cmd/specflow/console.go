package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/console"
	"github.com/wiseyoda/specflow/internal/orchstore"
	"github.com/wiseyoda/specflow/internal/procheal"
	"github.com/wiseyoda/specflow/internal/procprobe"
	"github.com/wiseyoda/specflow/internal/reconcile"
	"github.com/wiseyoda/specflow/internal/statestore"
	"github.com/wiseyoda/specflow/internal/workflow"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open an interactive operator console for this project",
	Run: func(cmd *cobra.Command, args []string) {
		projectPath, err := resolveProjectPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		state := statestore.New()
		probe := procprobe.New()
		clk := clock.SystemClock{}
		health := procheal.New(probe)
		wf := workflow.New(state, probe, clk)
		orchestrations := orchstore.New(state, clk)
		reconciler := reconcile.New(state, health, wf, clk)

		c, err := console.New(console.Config{
			Store:          state,
			Orchestrations: orchestrations,
			Reconciler:     reconciler,
			ProjectPath:    projectPath,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := c.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
