//go:build !windows

// Package console implements the interactive operator REPL: listing
// orchestrations, inspecting one in detail, resolving needs_attention
// states, pausing/resuming, and triggering a manual reconciliation sweep.
package console

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/wiseyoda/specflow/internal/orchstore"
	"github.com/wiseyoda/specflow/internal/reconcile"
	"github.com/wiseyoda/specflow/internal/statestore"
)

// Config bundles the console's dependencies.
type Config struct {
	Store        *statestore.StateStore
	Orchestrations *orchstore.Store
	Reconciler   *reconcile.Reconciler
	ProjectPath  string
}

// Console is the interactive operator REPL.
type Console struct {
	cfg Config
	rl  *readline.Instance
}

// New constructs a Console. readline history is kept at
// ~/.specflow/console_history, mirroring the teacher's REPL convention.
func New(cfg Config) (*Console, error) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("list"),
		readline.PcItem("show"),
		readline.PcItem("pause"),
		readline.PcItem("resume"),
		readline.PcItem("reconcile"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "specflow> ",
		HistoryFile:       historyPath(),
		HistoryLimit:      1000,
		AutoComplete:      completer,
		InterruptPrompt:   "^C",
		EOFPrompt:         "quit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("console: init readline: %w", err)
	}

	return &Console{cfg: cfg, rl: rl}, nil
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".specflow_console_history"
	}
	return filepath.Join(home, ".specflow", "console_history")
}

// Run drives the read-eval-print loop until the user quits or EOFs.
func (c *Console) Run() error {
	defer c.rl.Close()
	c.printWelcome()

	for {
		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("console: readline: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if done := c.dispatch(line); done {
			return nil
		}
	}
}

func (c *Console) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n", cyan("specflow operator console"))
	fmt.Println("Type 'help' for commands, 'quit' to exit.")
	fmt.Println()
}

func (c *Console) dispatch(line string) (quit bool) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "quit", "exit", "/quit":
		return true
	case "help", "/help":
		c.printHelp()
	case "list":
		c.cmdList()
	case "show":
		c.cmdShow(args)
	case "pause":
		c.cmdPause(args)
	case "resume":
		c.cmdResume(args)
	case "reconcile":
		c.cmdReconcile()
	default:
		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("%s unknown command %q — try 'help'\n", red("✗"), cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Println(`Commands:
  list                          show all orchestrations and their status
  show <id>                     show one orchestration in detail
  pause <id>                    pause a running orchestration
  resume <id> [retry|skip|abort] resume a paused or needs_attention orchestration
  reconcile                     run a reconciliation sweep for this project
  quit                          exit the console`)
}

func (c *Console) cmdList() {
	orchestrations, warnings := c.cfg.Store.ListOrchestrations(c.cfg.ProjectPath)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}
	if len(orchestrations) == 0 {
		fmt.Println("no orchestrations found")
		return
	}
	yellow := color.New(color.FgYellow).SprintFunc()
	for _, o := range orchestrations {
		fmt.Printf("%s  %-16s  phase=%-10s  cost=$%.4f\n", o.ID, yellow(o.Status), o.CurrentPhase, o.TotalCostUsd)
	}
}

func (c *Console) cmdShow(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: show <orchestration-id>")
		return
	}
	o, err := c.cfg.Orchestrations.Get(c.cfg.ProjectPath, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if o == nil {
		fmt.Println("not found")
		return
	}
	fmt.Printf("id:           %s\n", o.ID)
	fmt.Printf("status:       %s\n", o.Status)
	fmt.Printf("phase:        %s\n", o.CurrentPhase)
	fmt.Printf("cost:         $%.4f\n", o.TotalCostUsd)
	if o.RecoveryContext != nil {
		fmt.Printf("issue:        %s\n", o.RecoveryContext.Issue)
		fmt.Printf("options:      %v\n", o.RecoveryContext.Options)
	}
	fmt.Println("decision log:")
	for _, e := range o.DecisionLog {
		fmt.Printf("  %s  %-28s  %s\n", e.Timestamp, e.Decision, e.Reason)
	}
}

func (c *Console) cmdPause(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: pause <orchestration-id>")
		return
	}
	if _, err := c.cfg.Orchestrations.Pause(c.cfg.ProjectPath, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s paused %s\n", green("✓"), args[0])
}

func (c *Console) cmdResume(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: resume <orchestration-id> [retry|skip|abort]")
		return
	}
	if _, err := c.cfg.Orchestrations.Resume(c.cfg.ProjectPath, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s resumed %s\n", green("✓"), args[0])
}

func (c *Console) cmdReconcile() {
	result, err := c.cfg.Reconciler.ReconcileWorkflows([]string{c.cfg.ProjectPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Printf("projects=%d workflows=%d/%d updated orchestrations=%d/%d updated orphansFound=%d\n",
		result.ProjectsChecked, result.WorkflowsUpdated, result.WorkflowsChecked,
		result.OrchestrationsUpdated, result.OrchestrationsChecked, result.OrphansFound)
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: %v\n", e)
	}
}
