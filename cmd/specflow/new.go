package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/config"
	"github.com/wiseyoda/specflow/internal/model"
	"github.com/wiseyoda/specflow/internal/statestore"
)

var newAutoMerge bool

// newCmd bootstraps a fresh OrchestrationExecution record: status running,
// phase design, no batches. The batch plan is filled in later, when the
// Runner leaves the analyze phase (see runner.BatchPlanner).
var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new orchestration record for this project",
	Run: func(cmd *cobra.Command, args []string) {
		projectPath, err := resolveProjectPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cfg, err := config.Load(projectPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
			os.Exit(1)
		}
		cfg.Orchestration.AutoMerge = cfg.Orchestration.AutoMerge || newAutoMerge

		clk := clock.SystemClock{}
		now := clk.ISONow()

		o := &model.OrchestrationExecution{
			ID:           uuid.NewString(),
			ProjectID:    projectID(projectPath),
			ProjectPath:  projectPath,
			Status:       model.StatusRunning,
			Config:       cfg.Orchestration,
			CurrentPhase: model.PhaseDesign,
			StartedAt:    now,
			UpdatedAt:    now,
			DecisionLog:  []model.DecisionLogEntry{{Timestamp: now, Decision: "created", Reason: ""}},
		}
		if err := o.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		state := statestore.New()
		if err := state.WriteOrchestration(projectPath, o); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s created orchestration %s\n", green("✓"), o.ID)
		fmt.Printf("  run it with: specflow run %s\n", o.ID)
	},
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().BoolVar(&newAutoMerge, "auto-merge", false, "automatically advance verify->merge without an operator trigger")
}
