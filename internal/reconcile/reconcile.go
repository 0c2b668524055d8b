// Package reconcile implements Reconciler (C8): the one-shot idempotent
// startup sweep that re-derives authoritative workflow/orchestration
// status from on-disk evidence, and reports (never kills) orphan
// processes.
package reconcile

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/model"
	"github.com/wiseyoda/specflow/internal/procheal"
	"github.com/wiseyoda/specflow/internal/procprobe"
	"github.com/wiseyoda/specflow/internal/statestore"
	"github.com/wiseyoda/specflow/internal/workflow"
)

// maxConcurrentProjectSweeps bounds how many projects are reconciled at
// once; unbounded fan-out would let one huge registry spawn hundreds of
// concurrent `ps` shells and file-tree walks at once.
const maxConcurrentProjectSweeps = 8

// DefaultMaxOrchestrationAge is the staleness threshold past which a
// running orchestration whose updatedAt hasn't moved is marked failed.
const DefaultMaxOrchestrationAge = 4 * time.Hour

// Result is ReconciliationResult from the component design.
type Result struct {
	ProjectsChecked        int
	WorkflowsChecked       int
	WorkflowsUpdated       int
	OrchestrationsChecked  int
	OrchestrationsUpdated  int
	OrphansFound           int
	OrphansKilled          int // always 0 — the core never auto-kills orphans
	Errors                 []error
}

// Orphan is one reported-but-untouched candidate process.
type Orphan struct {
	PID       int
	AgeMs     int64
	Command   string
}

// Reconciler implements C8. The done/inProgress latch is process-scoped,
// per §5/§9's singleton-reconciliation-latch design note, with an
// explicit Reset for tests — no hidden module-level flags.
type Reconciler struct {
	state  *statestore.StateStore
	health *procheal.Evaluator
	wf     *workflow.Manager
	clock  clock.Clock

	maxOrchestrationAge time.Duration

	mu         sync.Mutex
	done       bool
	inProgress bool
}

// New returns a Reconciler with default tunables.
func New(state *statestore.StateStore, health *procheal.Evaluator, wf *workflow.Manager, clk clock.Clock) *Reconciler {
	return &Reconciler{
		state:               state,
		health:              health,
		wf:                  wf,
		clock:               clk,
		maxOrchestrationAge: DefaultMaxOrchestrationAge,
	}
}

// WithMaxOrchestrationAge overrides the default staleness threshold.
func (rc *Reconciler) WithMaxOrchestrationAge(d time.Duration) *Reconciler {
	rc.maxOrchestrationAge = d
	return rc
}

// Reset clears the done/inProgress latch. Tests call this between runs;
// production code never needs to.
func (rc *Reconciler) Reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.done = false
	rc.inProgress = false
}

// EnsureReconciliation runs ReconcileWorkflows exactly once per process
// lifetime (unless Reset is called). Subsequent calls return an empty
// Result and a nil error without resweeping; no earlier result is cached.
func (rc *Reconciler) EnsureReconciliation(projectPaths []string) (*Result, error) {
	rc.mu.Lock()
	if rc.done {
		rc.mu.Unlock()
		return &Result{}, nil
	}
	if rc.inProgress {
		rc.mu.Unlock()
		return nil, fmt.Errorf("reconcile: already in progress")
	}
	rc.inProgress = true
	rc.mu.Unlock()

	defer func() {
		rc.mu.Lock()
		rc.inProgress = false
		rc.done = true
		rc.mu.Unlock()
	}()

	return rc.ReconcileWorkflows(projectPaths)
}

// ReconcileWorkflows performs the full sweep across every project path
// given, idempotently: running it twice in a row with no external change
// updates 0 workflows and 0 orchestrations the second time (P6). Each
// project is an independent tree on disk, so sweeps run concurrently,
// bounded by maxConcurrentProjectSweeps; per-project results are merged
// under a mutex since Result's counters are plain ints, not atomics.
func (rc *Reconciler) ReconcileWorkflows(projectPaths []string) (*Result, error) {
	result := &Result{}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentProjectSweeps)

	for _, projectPath := range projectPaths {
		projectPath := projectPath
		g.Go(func() error {
			local := &Result{}
			err := rc.reconcileProject(projectPath, local)

			mu.Lock()
			defer mu.Unlock()
			result.ProjectsChecked++
			result.WorkflowsChecked += local.WorkflowsChecked
			result.WorkflowsUpdated += local.WorkflowsUpdated
			result.OrchestrationsChecked += local.OrchestrationsChecked
			result.OrchestrationsUpdated += local.OrchestrationsUpdated
			result.OrphansFound += local.OrphansFound
			result.Errors = append(result.Errors, local.Errors...)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("project %s: %w", projectPath, err))
			}
			return nil
		})
	}
	// g.Wait() never returns an error: every Go func above recovers its
	// own error into result.Errors instead of propagating it, so a
	// failure in one project's sweep doesn't cancel the others.
	_ = g.Wait()

	return result, nil
}

func (rc *Reconciler) reconcileProject(projectPath string, result *Result) error {
	if err := rc.reconcileWorkflowsForProject(projectPath, result); err != nil {
		return err
	}
	if err := rc.wf.RebuildIndex(projectPath); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	if err := rc.reconcileOrchestrationsForProject(projectPath, result); err != nil {
		return err
	}
	if err := rc.reportOrphans(projectPath, result); err != nil {
		return err
	}
	return nil
}

func (rc *Reconciler) reconcileWorkflowsForProject(projectPath string, result *Result) error {
	workflows, warnings := rc.state.ListWorkflows(projectPath)
	for _, w := range warnings {
		result.Errors = append(result.Errors, w)
	}

	for _, w := range workflows {
		if !w.Status.IsActive() {
			continue
		}
		result.WorkflowsChecked++

		sessionPath := workflow.SessionFilePath(projectPath, w.SessionID)
		health := rc.health.Evaluate(w, sessionPath)

		switch health.HealthStatus {
		case model.HealthDead:
			w.Status = model.WorkflowFailed
			w.Error = "Process terminated unexpectedly (detected on startup)"
			w.UpdatedAt = rc.clock.ISONow()
			w.Logs = append(w.Logs, "[RECONCILE] Process dead, marking as failed")
			if err := rc.state.WriteWorkflow(projectPath, w); err != nil {
				return fmt.Errorf("write reconciled workflow %s: %w", w.ID, err)
			}
			result.WorkflowsUpdated++
		case model.HealthStale:
			w.Status = model.WorkflowStale
			w.Error = "Session inactive (no updates in N+ minutes)"
			w.UpdatedAt = rc.clock.ISONow()
			if err := rc.state.WriteWorkflow(projectPath, w); err != nil {
				return fmt.Errorf("write reconciled workflow %s: %w", w.ID, err)
			}
			result.WorkflowsUpdated++
		}
	}
	return nil
}

func (rc *Reconciler) reconcileOrchestrationsForProject(projectPath string, result *Result) error {
	orchestrations, warnings := rc.state.ListOrchestrations(projectPath)
	for _, w := range warnings {
		result.Errors = append(result.Errors, w)
	}

	now := rc.clock.Now()

	for _, o := range orchestrations {
		if o.Status != model.StatusRunning && o.Status != model.StatusPaused && o.Status != model.StatusWaitingMerge {
			continue
		}
		result.OrchestrationsChecked++

		linkedID := o.LinkedWorkflowID()
		if linkedID != "" {
			w, err := rc.state.ReadWorkflow(projectPath, linkedID)
			if err == nil && (w.Status == model.WorkflowFailed || w.Status == model.WorkflowCancelled) {
				o.Status = model.StatusFailed
				o.ErrorMessage = fmt.Sprintf("Linked workflow %s: %s", linkedID, w.Error)
				o.CompletedAt = rc.clock.ISONow()
				o.UpdatedAt = rc.clock.ISONow()
				o.DecisionLog = append(o.DecisionLog, model.DecisionLogEntry{
					Timestamp: rc.clock.ISONow(),
					Decision:  model.DecisionReconcileFailed,
					Reason:    o.ErrorMessage,
				})
				if err := rc.state.WriteOrchestration(projectPath, o); err != nil {
					return fmt.Errorf("write reconciled orchestration %s: %w", o.ID, err)
				}
				result.OrchestrationsUpdated++
				continue
			}
		}

		if o.Status == model.StatusRunning {
			updatedAt, err := time.Parse(time.RFC3339Nano, o.UpdatedAt)
			if err == nil && now.Sub(updatedAt) > rc.maxOrchestrationAge {
				o.Status = model.StatusFailed
				o.CompletedAt = rc.clock.ISONow()
				o.UpdatedAt = rc.clock.ISONow()
				o.DecisionLog = append(o.DecisionLog, model.DecisionLogEntry{
					Timestamp: rc.clock.ISONow(),
					Decision:  model.DecisionReconcileStale,
					Reason:    fmt.Sprintf("no update in %s", now.Sub(updatedAt)),
				})
				if err := rc.state.WriteOrchestration(projectPath, o); err != nil {
					return fmt.Errorf("write reconciled orchestration %s: %w", o.ID, err)
				}
				result.OrchestrationsUpdated++
			}
		}
	}
	return nil
}

// reportOrphans enumerates candidate child processes and reports (never
// kills) any whose PID is untracked by an active workflow and old enough
// to clear the orphan grace period. This is a hard safety policy:
// orphansKilled is always 0 here.
func (rc *Reconciler) reportOrphans(projectPath string, result *Result) error {
	tracked, err := rc.trackedPIDs(projectPath)
	if err != nil {
		return fmt.Errorf("collect tracked pids: %w", err)
	}

	candidates, err := procprobe.EnumerateCandidates()
	if err != nil {
		// Enumeration failure (e.g. ps missing) is reported, not fatal.
		result.Errors = append(result.Errors, fmt.Errorf("enumerate candidates: %w", err))
		return nil
	}

	for _, c := range candidates {
		if tracked[c.PID] {
			continue
		}
		age := time.Since(c.StartTime)
		if !rc.health.IsOrphanEligible(age) {
			continue
		}
		result.OrphansFound++
	}
	return nil
}

func (rc *Reconciler) trackedPIDs(projectPath string) (map[int]bool, error) {
	workflows, _ := rc.state.ListWorkflows(projectPath)
	tracked := make(map[int]bool)
	for _, w := range workflows {
		if !w.Status.IsActive() {
			continue
		}
		if w.PID != 0 {
			tracked[w.PID] = true
		}
		if w.BashPID != 0 {
			tracked[w.BashPID] = true
		}
		if w.ClaudePID != 0 {
			tracked[w.ClaudePID] = true
		}
		if w.SessionID != "" {
			if pf, err := rc.state.ReadPidFile(projectPath, w.SessionID); err == nil && pf != nil {
				if pf.BashPID != 0 {
					tracked[pf.BashPID] = true
				}
				if pf.ClaudePID != 0 {
					tracked[pf.ClaudePID] = true
				}
			}
		}
	}
	return tracked, nil
}

// FindOrphanedClaudeProcesses exposes orphan discovery as a standalone
// query, outside the full sweep.
func (rc *Reconciler) FindOrphanedClaudeProcesses(projectPath string) ([]Orphan, error) {
	tracked, err := rc.trackedPIDs(projectPath)
	if err != nil {
		return nil, err
	}
	candidates, err := procprobe.EnumerateCandidates()
	if err != nil {
		return nil, err
	}
	var orphans []Orphan
	for _, c := range candidates {
		if tracked[c.PID] {
			continue
		}
		age := time.Since(c.StartTime)
		if !rc.health.IsOrphanEligible(age) {
			continue
		}
		orphans = append(orphans, Orphan{PID: c.PID, AgeMs: age.Milliseconds(), Command: c.Command})
	}
	return orphans, nil
}

// CleanupOrphanedProcess terminates pid, but ONLY if it appears in a
// dashboard-written PID file for workflowID — i.e. it is not actually
// orphaned from the dashboard's point of view, just from this project's.
// This is the sole path in the system that may ever terminate a PID found
// by orphan enumeration; reconcileWorkflows itself never calls it.
func (rc *Reconciler) CleanupOrphanedProcess(probe *procprobe.Probe, projectPath string, pid int, ageMs int64, workflowID string) error {
	if workflowID == "" {
		return fmt.Errorf("reconcile: refusing to kill pid %d with no dashboard-tracked workflow id", pid)
	}
	w, err := rc.state.ReadWorkflow(projectPath, workflowID)
	if err != nil {
		return fmt.Errorf("reconcile: workflow %s not found for guarded kill: %w", workflowID, err)
	}
	tracked := false
	if pid > 0 && w.SessionID != "" {
		if pf, err := rc.state.ReadPidFile(projectPath, w.SessionID); err == nil && pf != nil {
			tracked = pf.BashPID == pid || pf.ClaudePID == pid
		}
	}
	if !tracked {
		return fmt.Errorf("reconcile: pid %d is not in the pid file of workflow %s, refusing to kill", pid, workflowID)
	}
	if !probe.Kill(pid, false) {
		return fmt.Errorf("reconcile: failed to signal pid %d", pid)
	}
	return nil
}
