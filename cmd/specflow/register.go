package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/registry"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Add this project to the supervisor's registry",
	Run: func(cmd *cobra.Command, args []string) {
		projectPath, err := resolveProjectPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		r, err := registry.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		id := projectID(projectPath)
		now := clock.SystemClock{}.ISONow()
		existing, already := r.Projects[id]
		entry := registry.Project{
			Path:         projectPath,
			Name:         filepath.Base(projectPath),
			RegisteredAt: now,
			LastSeen:     now,
		}
		if already {
			entry.RegisteredAt = existing.RegisteredAt
		}
		r.Projects[id] = entry

		if err := registry.Save(r); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s registered %s as %s\n", green("✓"), projectPath, id)
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
