package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wiseyoda/specflow/internal/control"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <orchestration-id>",
	Short: "Pause a running orchestration",
	Long: `Pause stops the Runner from polling or spawning further workflows for
this orchestration. It does not kill any already-spawned child process —
pause is observation-only; resume picks back up where the linked workflow
left off.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		orchestrationID := args[0]
		reason, _ := cmd.Flags().GetString("reason")

		projectPath, err := resolveProjectPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		client := control.NewClient(socketPath(projectPath))
		resp, err := client.Pause(orchestrationID, reason)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to send pause command: %v\n", err)
			fmt.Fprintf(os.Stderr, "Hint: is a runner process attached to this project? Try 'specflow status'.\n")
			os.Exit(1)
		}
		if !resp.Success {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s Pause failed: %s\n", red("✗"), resp.Error)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Paused %s\n", green("✓"), orchestrationID)
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	pauseCmd.Flags().String("reason", "", "why this orchestration is being paused")
}
