// Command specflow supervises orchestration pipelines: it drives the
// Runner loop for an orchestration, reports status, relays operator
// pause/resume/reconcile requests, and hosts the interactive console.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "specflow",
	Short: "Supervises AI-assisted coding workflows and orchestrations",
	Long: `specflow drives orchestration pipelines (design -> analyze -> implement
-> verify -> merge) composed of child-process workflows, persists their
state as durable JSON records, and reconciles on-disk evidence after a
restart.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
