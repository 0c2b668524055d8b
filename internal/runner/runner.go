// Package runner implements Runner (C7): the polling loop that drives one
// orchestration through decide/spawn/observe/heal/escalate until it
// reaches a terminal state or is cancelled.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/model"
	"github.com/wiseyoda/specflow/internal/orchstore"
	"github.com/wiseyoda/specflow/internal/procheal"
	"github.com/wiseyoda/specflow/internal/workflow"
)

// Advisor is the optional escalation summarizer; nil disables it.
type Advisor interface {
	Summarize(ctx context.Context, issue string, detail string) (string, error)
}

// SpawnIntent is the dedup guard's record of a recent spawn request, kept
// in memory per orchestration (FR-006). It never touches disk: the guard
// only needs to survive within one Runner's lifetime.
type SpawnIntent struct {
	Skill     string
	Context   string
	Timestamp time.Time
}

// Deps bundles the collaborators a Runner needs; all are required except
// Advisor and BatchPlanner, which fall back to sane defaults.
type Deps struct {
	Orchestrations *orchstore.Store
	Workflows      *workflow.Manager
	Health         *procheal.Evaluator
	Clock          clock.Clock
	Advisor        Advisor      // optional
	BatchPlanner   BatchPlanner // optional; defaults to FileBatchPlanner{}
	Logger         *slog.Logger
}

// Context carries the identity and tunables for one orchestration's
// Runner, matching RunnerContext in the component design.
type Context struct {
	ProjectID          string
	ProjectPath        string
	OrchestrationID    string
	PollingInterval    time.Duration
	MaxPollingAttempts int
	IntentWindow       time.Duration

	// StaleFailThreshold is the number of consecutive stale polls before a
	// stale workflow is treated as a failure. Zero means New applies
	// defaultStaleFailThreshold (3, the same value as config.Default()).
	StaleFailThreshold int

	// CostSoftCapUsd triggers a one-time cost_warning decision once an
	// orchestration's totalCostUsd crosses it. Zero disables the warning.
	CostSoftCapUsd float64

	consecutiveUnclearChecks int
	lastIntent               *SpawnIntent
}

// defaultStaleFailThreshold is applied when Context.StaleFailThreshold is
// left at its zero value, matching config.Default()'s Runner tunable.
const defaultStaleFailThreshold = 3

// Runner drives exactly one orchestration.
type Runner struct {
	deps Deps
	rc   *Context

	staleStreak      int
	lastObservedCost map[string]float64
	costCapWarned    bool
}

// New returns a Runner for rc using deps. If rc.IntentWindow is zero it
// defaults to 2x PollingInterval, per the spec's recommended default for
// an otherwise-unspecified tunable.
func New(deps Deps, rc *Context) *Runner {
	if rc.IntentWindow == 0 {
		rc.IntentWindow = 2 * rc.PollingInterval
	}
	if rc.StaleFailThreshold == 0 {
		rc.StaleFailThreshold = defaultStaleFailThreshold
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.BatchPlanner == nil {
		deps.BatchPlanner = FileBatchPlanner{}
	}
	return &Runner{deps: deps, rc: rc, lastObservedCost: make(map[string]float64)}
}

// Run executes the main loop until the orchestration is terminal, is
// cancelled, or ctx is done. On cancellation the runner completes the
// current atomic write (already done by the time a suspension point is
// reached) then returns without further mutation.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		o, err := r.deps.Orchestrations.Get(r.rc.ProjectPath, r.rc.OrchestrationID)
		if err != nil {
			return fmt.Errorf("runner: read orchestration: %w", err)
		}
		if o == nil {
			return fmt.Errorf("runner: orchestration %s not found", r.rc.OrchestrationID)
		}
		if o.Status.IsTerminal() {
			return nil
		}
		if o.Status == model.StatusPaused {
			if !r.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if o.Status == model.StatusNeedsAttention {
			if !r.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if err := r.tick(ctx, o); err != nil {
			r.deps.Logger.Error("runner tick failed", "orchestrationId", o.ID, "error", err)
		}

		if !r.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (r *Runner) sleep(ctx context.Context) bool {
	t := time.NewTimer(r.rc.PollingInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// tick performs one decide/observe/act cycle.
func (r *Runner) tick(ctx context.Context, o *model.OrchestrationExecution) error {
	active, err := r.deps.Workflows.FindActiveByOrchestration(r.rc.ProjectPath, o.ID)
	if err != nil {
		return fmt.Errorf("find active workflows: %w", err)
	}

	switch len(active) {
	case 0:
		return r.decideSpawnOrObserveTerminal(ctx, o)
	case 1:
		return r.observe(ctx, o, active[0])
	default:
		_, err := r.deps.Orchestrations.SetNeedsAttention(r.rc.ProjectPath, o.ID, "duplicate active workflows",
			[]model.RecoveryOption{model.RecoveryRetry, model.RecoveryAbort}, "")
		return err
	}
}

// decideSpawnOrObserveTerminal handles the case where no workflow is
// currently active for the phase: either nothing has been linked yet (so
// we spawn), or the linked workflow already reached a terminal state on a
// prior tick and we just haven't reacted to it yet.
func (r *Runner) decideSpawnOrObserveTerminal(ctx context.Context, o *model.OrchestrationExecution) error {
	linkedID := o.LinkedWorkflowID()
	if linkedID == "" {
		return r.spawnForCurrentPhase(ctx, o, "")
	}

	w, err := r.deps.Workflows.GetWorkflow(r.rc.ProjectPath, linkedID)
	if err != nil {
		return fmt.Errorf("get linked workflow: %w", err)
	}
	if w == nil {
		// Linked id points at a record we can't find; treat like an
		// unclear health signal rather than crashing the loop.
		return r.noteUnclear(o)
	}
	if w.Status.IsTerminalSuccess() {
		return r.onSuccess(o, w)
	}
	if w.Status.IsTerminalFailure() {
		return r.onFailure(o, w)
	}
	// Pending, not yet surfaced as active by FindActiveByOrchestration —
	// wait for the next poll.
	return nil
}

// skillForPhase maps a pipeline phase to the command identifier the
// WorkflowManager spawns. The skill catalog proper is an external
// collaborator (§1 out of scope); these are the stable identifiers the
// Runner itself must agree on.
func skillForPhase(phase model.Phase) string {
	switch phase {
	case model.PhaseDesign:
		return "design"
	case model.PhaseAnalyze:
		return "analyze"
	case model.PhaseImplement:
		return "implement"
	case model.PhaseVerify:
		return "verify"
	case model.PhaseMerge:
		return "merge"
	}
	return string(phase)
}

func (r *Runner) spawnForCurrentPhase(ctx context.Context, o *model.OrchestrationExecution, spawnContext string) error {
	skill := skillForPhase(o.CurrentPhase)
	if o.CurrentPhase == model.PhaseImplement {
		skill = "implement"
	}

	if r.suppressDuplicateSpawn(skill, spawnContext) {
		r.deps.Logger.Info("spawn suppressed", "orchestrationId", o.ID, "skill", skill)
		_, err := r.deps.Orchestrations.LogSpawnSuppressed(r.rc.ProjectPath, o.ID, skill)
		return err
	}

	w, err := r.deps.Workflows.StartWorkflow(r.rc.ProjectPath, o.ProjectID, skill, 0, "", o.ID)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", skill, err)
	}

	r.recordIntent(skill, spawnContext)

	_, err = r.deps.Orchestrations.LinkWorkflowExecution(r.rc.ProjectPath, o.ID, w.ID)
	return err
}

// suppressDuplicateSpawn implements the FR-006 spawn-intent guard: an
// identical (skill, context) spawn within IntentWindow is suppressed.
func (r *Runner) suppressDuplicateSpawn(skill, spawnContext string) bool {
	now := r.deps.Clock.Now()
	if r.rc.lastIntent != nil &&
		r.rc.lastIntent.Skill == skill &&
		r.rc.lastIntent.Context == spawnContext &&
		now.Sub(r.rc.lastIntent.Timestamp) < r.rc.IntentWindow {
		return true
	}
	return false
}

func (r *Runner) recordIntent(skill, spawnContext string) {
	r.rc.lastIntent = &SpawnIntent{Skill: skill, Context: spawnContext, Timestamp: r.deps.Clock.Now()}
}

// observe evaluates the health of the one active workflow and reacts.
func (r *Runner) observe(ctx context.Context, o *model.OrchestrationExecution, w *model.WorkflowExecution) error {
	sessionPath := workflow.SessionFilePath(r.rc.ProjectPath, w.SessionID)
	health := r.deps.Health.Evaluate(w, sessionPath)

	r.accrueCost(o, w)

	switch health.HealthStatus {
	case model.HealthAlive:
		r.staleStreak = 0
		r.rc.consecutiveUnclearChecks = 0
		return nil
	case model.HealthStale:
		r.staleStreak++
		if r.staleStreak >= r.rc.StaleFailThreshold {
			r.staleStreak = 0
			return r.applyFailurePolicy(o, w, "workflow session went stale")
		}
		return nil
	case model.HealthDead:
		r.staleStreak = 0
		return r.applyFailurePolicy(o, w, "workflow process is dead")
	case model.HealthUnclear:
		return r.noteUnclear(o)
	default:
		return r.noteUnclear(o)
	}
}

// accrueCost pulls the delta in w's reported cost since the last
// observation into the orchestration total, and fires the cost soft-cap
// warning the first time the new total crosses CostSoftCapUsd.
func (r *Runner) accrueCost(o *model.OrchestrationExecution, w *model.WorkflowExecution) {
	last := r.lastObservedCost[w.ID]
	delta := w.CostUsd - last
	if delta <= 0 {
		return
	}
	r.lastObservedCost[w.ID] = w.CostUsd
	updated, err := r.deps.Orchestrations.AddCost(r.rc.ProjectPath, o.ID, delta)
	if err != nil {
		r.deps.Logger.Warn("addCost failed", "orchestrationId", o.ID, "error", err)
		return
	}
	if r.rc.CostSoftCapUsd > 0 && !r.costCapWarned && updated.TotalCostUsd >= r.rc.CostSoftCapUsd {
		r.costCapWarned = true
		if _, err := r.deps.Orchestrations.WarnCostSoftCap(r.rc.ProjectPath, o.ID, r.rc.CostSoftCapUsd); err != nil {
			r.deps.Logger.Warn("warnCostSoftCap failed", "orchestrationId", o.ID, "error", err)
		}
	}
}

// noteUnclear increments the circuit breaker and escalates once it trips.
func (r *Runner) noteUnclear(o *model.OrchestrationExecution) error {
	r.rc.consecutiveUnclearChecks++
	if r.rc.consecutiveUnclearChecks < r.rc.MaxPollingAttempts {
		return nil
	}
	r.rc.consecutiveUnclearChecks = 0
	_, err := r.deps.Orchestrations.SetNeedsAttention(r.rc.ProjectPath, o.ID,
		"health determination remained unclear past the polling attempt limit",
		[]model.RecoveryOption{model.RecoveryRetry, model.RecoveryAbort}, "")
	return err
}

// applyFailurePolicy is invoked when a linked workflow is confirmed dead
// or failed. implement-phase failures try to heal within budget; every
// other phase escalates directly.
func (r *Runner) applyFailurePolicy(o *model.OrchestrationExecution, w *model.WorkflowExecution, reason string) error {
	if o.CurrentPhase != model.PhaseImplement {
		return r.escalate(o, w, reason, []model.RecoveryOption{model.RecoveryRetry, model.RecoveryAbort})
	}

	if !r.deps.Orchestrations.CanHealBatch(o) {
		return r.escalate(o, w, reason, []model.RecoveryOption{model.RecoveryRetry, model.RecoverySkip, model.RecoveryAbort})
	}

	if _, err := r.deps.Orchestrations.IncrementHealAttempt(r.rc.ProjectPath, o.ID); err != nil {
		return fmt.Errorf("increment heal attempt: %w", err)
	}

	batchSummary := fmt.Sprintf("batch %d: %s", o.Batches.Current, reason)
	healer, err := r.deps.Workflows.StartWorkflow(r.rc.ProjectPath, o.ProjectID, "heal", 0, "", o.ID)
	if err != nil {
		return fmt.Errorf("spawn healer: %w", err)
	}
	_, err = r.deps.Orchestrations.HealBatch(r.rc.ProjectPath, o.ID, healer.ID)
	_ = batchSummary // carried in the healer's prompt context by the external skill invoker, not persisted here
	return err
}

// escalate marks needs_attention, optionally enriching the issue text
// with an AI-generated summary when an Advisor is configured.
func (r *Runner) escalate(o *model.OrchestrationExecution, w *model.WorkflowExecution, reason string, options []model.RecoveryOption) error {
	issue := reason
	if r.deps.Advisor != nil {
		if summary, err := r.deps.Advisor.Summarize(context.Background(), reason, w.Error); err == nil && summary != "" {
			issue = summary
		} else if err != nil {
			r.deps.Logger.Debug("advisor summarize skipped", "error", err)
		}
	}
	_, err := r.deps.Orchestrations.SetNeedsAttention(r.rc.ProjectPath, o.ID, issue, options, w.ID)
	return err
}

// onSuccess transitions the orchestration forward after a linked
// workflow finishes successfully.
func (r *Runner) onSuccess(o *model.OrchestrationExecution, w *model.WorkflowExecution) error {
	r.accrueCost(o, w)

	switch o.CurrentPhase {
	case model.PhaseMerge:
		_, err := r.deps.Orchestrations.CompleteMerge(r.rc.ProjectPath, o.ID)
		return err
	case model.PhaseAnalyze:
		// The analyze->implement edge needs a batch plan before the phase
		// can flip, so it can't go through the generic
		// TransitionToNextPhase walk (see orchstore.TransitionToImplement).
		items, err := r.deps.BatchPlanner.PlanBatches(r.rc.ProjectPath, o.Config.BatchSize)
		if err != nil {
			return fmt.Errorf("plan batches: %w", err)
		}
		_, err = r.deps.Orchestrations.TransitionToImplement(r.rc.ProjectPath, o.ID, items)
		return err
	case model.PhaseImplement:
		if _, err := r.deps.Orchestrations.CompleteBatch(r.rc.ProjectPath, o.ID, w.Status); err != nil {
			return fmt.Errorf("complete batch: %w", err)
		}
		return nil // next tick spawns the next batch's workflow, or verify
	default:
		_, err := r.deps.Orchestrations.TransitionToNextPhase(r.rc.ProjectPath, o.ID)
		return err
	}
}

func (r *Runner) onFailure(o *model.OrchestrationExecution, w *model.WorkflowExecution) error {
	reason := w.Error
	if reason == "" {
		reason = "workflow reported failure"
	}
	return r.applyFailurePolicy(o, w, reason)
}
