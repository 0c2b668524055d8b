// Package procheal implements HealthEvaluator (C4): it combines
// ProcessProbe's PID liveness with session-file freshness into a single
// alive/stale/dead/unclear verdict for a workflow.
//
// It is named procheal, not health, because the teacher repo this module
// descends from already used internal/health for an unrelated code-quality
// concern; reusing that name here would collide.
package procheal

import (
	"os"
	"time"

	"github.com/wiseyoda/specflow/internal/model"
	"github.com/wiseyoda/specflow/internal/procprobe"
)

// Default tunables, overridable via Evaluator.StaleThreshold /
// OrphanGracePeriod.
const (
	DefaultStaleThreshold   = 10 * time.Minute
	DefaultOrphanGracePeriod = 5 * time.Minute
)

// PidProbe is the subset of procprobe.Probe the evaluator needs, so tests
// can substitute a fake without touching real processes.
type PidProbe interface {
	IsPidAlive(pid int) bool
}

// Evaluator implements HealthEvaluator (C4).
type Evaluator struct {
	Probe PidProbe

	// StaleThreshold is how old a session file's mtime may be before a
	// workflow with tracked PIDs still alive is nonetheless marked stale.
	StaleThreshold time.Duration

	// OrphanGracePeriod is the minimum age below which a candidate process
	// is never considered an orphan by the reconciler.
	OrphanGracePeriod time.Duration
}

// New returns an Evaluator with default thresholds.
func New(probe PidProbe) *Evaluator {
	return &Evaluator{
		Probe:             probe,
		StaleThreshold:    DefaultStaleThreshold,
		OrphanGracePeriod: DefaultOrphanGracePeriod,
	}
}

// trackedPIDs collects every PID a WorkflowExecution records, in the
// order the legacy/primary fields appear.
func trackedPIDs(w *model.WorkflowExecution) []int {
	var pids []int
	if w.PID != 0 {
		pids = append(pids, w.PID)
	}
	if w.BashPID != 0 {
		pids = append(pids, w.BashPID)
	}
	if w.ClaudePID != 0 {
		pids = append(pids, w.ClaudePID)
	}
	return pids
}

// Evaluate applies the decision table to w and its session file, if any.
//
//  1. No PID information and status=pending → alive (not yet spawned).
//  2. No PID information and status≠pending → unclear (nothing to check).
//  3. Tracked PIDs exist and none are alive → dead.
//  4. Session file exists and its mtime is older than StaleThreshold → stale.
//  5. Session file exists but os.Stat fails for a reason other than the
//     file being absent → unclear (probe I/O error).
//  6. Otherwise → alive.
func (e *Evaluator) Evaluate(w *model.WorkflowExecution, sessionFilePath string) model.ProcessHealth {
	pids := trackedPIDs(w)

	if len(pids) == 0 {
		if w.Status == model.WorkflowPending {
			return model.ProcessHealth{HealthStatus: model.HealthAlive}
		}
		// Status claims the workflow is underway but nothing was ever
		// recorded to check liveness against.
		return model.ProcessHealth{HealthStatus: model.HealthUnclear}
	}

	anyAlive := false
	for _, pid := range pids {
		if e.Probe.IsPidAlive(pid) {
			anyAlive = true
			break
		}
	}
	if !anyAlive {
		alive := false
		return model.ProcessHealth{HealthStatus: model.HealthDead, PidAlive: &alive}
	}

	if sessionFilePath != "" {
		info, err := os.Stat(sessionFilePath)
		switch {
		case err == nil:
			age := time.Since(info.ModTime())
			ageMs := age.Milliseconds()
			if age > e.StaleThreshold {
				return model.ProcessHealth{HealthStatus: model.HealthStale, SessionFileAge: ageMs}
			}
			return model.ProcessHealth{HealthStatus: model.HealthAlive, SessionFileAge: ageMs}
		case os.IsNotExist(err):
			// No session file yet; tracked PIDs are alive, nothing more to
			// check.
		default:
			return model.ProcessHealth{HealthStatus: model.HealthUnclear}
		}
	}

	return model.ProcessHealth{HealthStatus: model.HealthAlive}
}

// IsOrphanEligible reports whether age is at least OrphanGracePeriod —
// the minimum age below which a candidate process must never be reported
// as an orphan.
func (e *Evaluator) IsOrphanEligible(age time.Duration) bool {
	return age >= e.OrphanGracePeriod
}

var _ PidProbe = (*procprobe.Probe)(nil)
