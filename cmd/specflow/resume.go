package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wiseyoda/specflow/internal/control"
	"github.com/wiseyoda/specflow/internal/model"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <orchestration-id> [retry|skip|abort]",
	Short: "Resume a paused or needs_attention orchestration",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		orchestrationID := args[0]
		option := ""
		if len(args) == 2 {
			option = args[1]
			opt := model.RecoveryOption(option)
			if !opt.IsValid() {
				fmt.Fprintf(os.Stderr, "Error: invalid recovery option %q (want retry, skip, or abort)\n", option)
				os.Exit(1)
			}
		}

		projectPath, err := resolveProjectPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		client := control.NewClient(socketPath(projectPath))
		resp, err := client.Resume(orchestrationID, option)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to send resume command: %v\n", err)
			os.Exit(1)
		}
		if !resp.Success {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s Resume failed: %s\n", red("✗"), resp.Error)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Resumed %s\n", green("✓"), orchestrationID)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
