package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wiseyoda/specflow/internal/advisor"
	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/config"
	"github.com/wiseyoda/specflow/internal/control"
	"github.com/wiseyoda/specflow/internal/model"
	"github.com/wiseyoda/specflow/internal/orchstore"
	"github.com/wiseyoda/specflow/internal/procheal"
	"github.com/wiseyoda/specflow/internal/procprobe"
	"github.com/wiseyoda/specflow/internal/reconcile"
	"github.com/wiseyoda/specflow/internal/runner"
	"github.com/wiseyoda/specflow/internal/statestore"
	"github.com/wiseyoda/specflow/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <orchestration-id>",
	Short: "Drive one orchestration to completion",
	Long: `run starts a Runner loop for a single orchestration: it reconciles
on-disk state once, opens a control socket for pause/resume/status
commands, and polls until the orchestration reaches a terminal state or
is interrupted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		orchestrationID := args[0]

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

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		state := statestore.New()
		probe := procprobe.New()
		clk := clock.SystemClock{}
		health := procheal.New(probe)
		health.StaleThreshold = time.Duration(cfg.Runner.StaleThresholdMs) * time.Millisecond
		health.OrphanGracePeriod = time.Duration(cfg.Runner.OrphanGracePeriodMs) * time.Millisecond

		wf := workflow.New(state, probe, clk)
		orchestrations := orchstore.New(state, clk)
		reconciler := reconcile.New(state, health, wf, clk).
			WithMaxOrchestrationAge(time.Duration(cfg.Runner.MaxOrchestrationAgeMs) * time.Millisecond)

		if _, err := reconciler.EnsureReconciliation([]string{projectPath}); err != nil {
			logger.Warn("startup reconciliation reported errors", "error", err)
		}

		adv := advisor.New()

		deps := runner.Deps{
			Orchestrations: orchestrations,
			Workflows:      wf,
			Health:         health,
			Clock:          clk,
			Advisor:        adv,
			Logger:         logger,
		}
		rc := &runner.Context{
			ProjectID:          projectID(projectPath),
			ProjectPath:        projectPath,
			OrchestrationID:    orchestrationID,
			PollingInterval:    time.Duration(cfg.Orchestration.PollingIntervalMs) * time.Millisecond,
			MaxPollingAttempts: cfg.Orchestration.MaxPollingAttempts,
			IntentWindow:       time.Duration(cfg.Runner.IntentWindowMs) * time.Millisecond,
			StaleFailThreshold: cfg.Runner.StaleFailThreshold,
			CostSoftCapUsd:     cfg.Runner.CostSoftCapUsd,
		}
		run := runner.New(deps, rc)

		srv := control.NewServer(socketPath(projectPath), func(c control.Command) (map[string]any, error) {
			return dispatchControlCommand(orchestrations, projectPath, c)
		})
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: starting control socket: %v\n", err)
			os.Exit(1)
		}
		defer srv.Stop()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s watching orchestration %s (poll every %s)\n", green("specflow"), orchestrationID, rc.PollingInterval)

		if err := run.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: runner exited: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("specflow: stopped")
	},
}

func dispatchControlCommand(store *orchstore.Store, projectPath string, c control.Command) (map[string]any, error) {
	switch c.Type {
	case "pause":
		if _, err := store.Pause(projectPath, c.OrchestrationID); err != nil {
			return nil, err
		}
		return map[string]any{"message": "paused"}, nil
	case "resume":
		if c.Option != "" && !model.RecoveryOption(c.Option).IsValid() {
			return nil, fmt.Errorf("invalid recovery option %q", c.Option)
		}
		if _, err := store.Resume(projectPath, c.OrchestrationID); err != nil {
			return nil, err
		}
		return map[string]any{"message": "resumed"}, nil
	case "status":
		o, err := store.Get(projectPath, c.OrchestrationID)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, fmt.Errorf("orchestration %s not found", c.OrchestrationID)
		}
		return map[string]any{"status": string(o.Status), "phase": string(o.CurrentPhase), "costUsd": o.TotalCostUsd}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", c.Type)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
