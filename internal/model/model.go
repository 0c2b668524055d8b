// Package model defines the persisted record shapes for orchestrations and
// workflows, and the enums and validation rules that bound them.
package model

import (
	"fmt"
)

// OrchestrationStatus is the top-level state of an OrchestrationExecution.
type OrchestrationStatus string

const (
	StatusPending        OrchestrationStatus = "pending"
	StatusRunning        OrchestrationStatus = "running"
	StatusPaused         OrchestrationStatus = "paused"
	StatusWaitingMerge   OrchestrationStatus = "waiting_merge"
	StatusNeedsAttention OrchestrationStatus = "needs_attention"
	StatusCompleted      OrchestrationStatus = "completed"
	StatusFailed         OrchestrationStatus = "failed"
)

// IsValid reports whether s is one of the declared OrchestrationStatus values.
func (s OrchestrationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusWaitingMerge,
		StatusNeedsAttention, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further mutation of the orchestration is
// permitted once status reaches this value.
func (s OrchestrationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Phase is the current pipeline stage of an orchestration.
type Phase string

const (
	PhaseDesign    Phase = "design"
	PhaseAnalyze   Phase = "analyze"
	PhaseImplement Phase = "implement"
	PhaseVerify    Phase = "verify"
	PhaseMerge     Phase = "merge"
	PhaseDone      Phase = "done"
)

// phaseOrder defines the fixed progression transitionToNextPhase follows.
var phaseOrder = []Phase{PhaseDesign, PhaseAnalyze, PhaseImplement, PhaseVerify, PhaseMerge, PhaseDone}

// IsValid reports whether p is one of the declared Phase values.
func (p Phase) IsValid() bool {
	for _, candidate := range phaseOrder {
		if candidate == p {
			return true
		}
	}
	return false
}

// Next returns the phase immediately following p in the fixed pipeline
// order, and false if p is already the terminal phase or unrecognized.
func (p Phase) Next() (Phase, bool) {
	for i, candidate := range phaseOrder {
		if candidate == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

// WorkflowStatus is the lifecycle state of a single spawned child session.
type WorkflowStatus string

const (
	WorkflowPending         WorkflowStatus = "pending"
	WorkflowRunning         WorkflowStatus = "running"
	WorkflowWaitingForInput WorkflowStatus = "waiting_for_input"
	WorkflowStale           WorkflowStatus = "stale"
	WorkflowCompleted       WorkflowStatus = "completed"
	WorkflowFailed          WorkflowStatus = "failed"
	WorkflowCancelled       WorkflowStatus = "cancelled"
)

// IsValid reports whether s is one of the declared WorkflowStatus values.
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowPending, WorkflowRunning, WorkflowWaitingForInput, WorkflowStale,
		WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// IsActive reports whether a workflow in this status counts toward
// invariant I8 (at most one active workflow per orchestration).
func (s WorkflowStatus) IsActive() bool {
	return s == WorkflowRunning || s == WorkflowWaitingForInput || s == WorkflowStale
}

// IsTerminal reports whether the workflow will never transition further.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// IsTerminalSuccess reports whether the workflow finished successfully.
func (s WorkflowStatus) IsTerminalSuccess() bool {
	return s == WorkflowCompleted
}

// IsTerminalFailure reports whether the workflow finished unsuccessfully.
func (s WorkflowStatus) IsTerminalFailure() bool {
	return s == WorkflowFailed || s == WorkflowCancelled
}

// RecoveryOption is one of the choices an operator may make to resolve a
// needs_attention orchestration.
type RecoveryOption string

const (
	RecoveryRetry RecoveryOption = "retry"
	RecoverySkip  RecoveryOption = "skip"
	RecoveryAbort RecoveryOption = "abort"
)

// IsValid reports whether o is one of the declared RecoveryOption values.
func (o RecoveryOption) IsValid() bool {
	switch o {
	case RecoveryRetry, RecoverySkip, RecoveryAbort:
		return true
	}
	return false
}

// Config holds the closed set of tunables for one orchestration. There is
// no arbitrary key passthrough; every knob the runner consults is a named
// field here.
type Config struct {
	BatchSize          int  `json:"batchSize"`
	MaxHealAttempts    int  `json:"maxHealAttempts"`
	PollingIntervalMs  int  `json:"pollingIntervalMs"`
	MaxPollingAttempts int  `json:"maxPollingAttempts"`
	AutoMerge          bool `json:"autoMerge"`
}

// Validate checks that every field is within a sane range.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batchSize must be positive, got %d", c.BatchSize)
	}
	if c.MaxHealAttempts < 0 {
		return fmt.Errorf("config: maxHealAttempts must be non-negative, got %d", c.MaxHealAttempts)
	}
	if c.PollingIntervalMs <= 0 {
		return fmt.Errorf("config: pollingIntervalMs must be positive, got %d", c.PollingIntervalMs)
	}
	if c.MaxPollingAttempts <= 0 {
		return fmt.Errorf("config: maxPollingAttempts must be positive, got %d", c.MaxPollingAttempts)
	}
	return nil
}

// Batch is one subset of implementation tasks executed by a single
// workflow inside the implement phase.
type Batch struct {
	Index               int    `json:"index"`
	TaskIDs              []string `json:"taskIds"`
	WorkflowExecutionID  string   `json:"workflowExecutionId,omitempty"`
	HealAttempts         int      `json:"healAttempts"`
	Healed               bool     `json:"healed"`
}

// BatchTracking is the implement-phase scheduling state.
type BatchTracking struct {
	Items     []Batch `json:"items"`
	Current   int     `json:"current"`
	Completed []int   `json:"completed"`
}

// Executions records the workflow-id linkage for each non-implement phase
// plus the ordered implement-phase healers.
type Executions struct {
	Design  string   `json:"design,omitempty"`
	Analyze string   `json:"analyze,omitempty"`
	Implement []string `json:"implement,omitempty"`
	Verify  string   `json:"verify,omitempty"`
	Merge   string   `json:"merge,omitempty"`
	Healers []string `json:"healers,omitempty"`
}

// DecisionLogEntry is one append-only audit record of an OrchestrationStore
// mutation.
type DecisionLogEntry struct {
	Timestamp string `json:"timestamp"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
}

// Stable decision identifiers appended to DecisionLogEntry.Decision.
const (
	DecisionPhaseTransition     = "phase_transition"
	DecisionBatchComplete       = "batch_complete"
	DecisionHealAttempt         = "heal_attempt"
	DecisionSpawnSuppressed     = "spawn_suppressed_duplicate"
	DecisionEscalateAttention   = "escalate_needs_attention"
	DecisionCostWarning         = "cost_warning"
	DecisionPause               = "pause"
	DecisionResume               = "resume"
	DecisionCompleted            = "completed"
	DecisionFailed                = "failed"
	DecisionReconcileFailed       = "reconcile_failed"
	DecisionReconcileStale        = "reconcile_stale"
)

// RecoveryContext is populated iff Status == StatusNeedsAttention.
type RecoveryContext struct {
	Issue            string           `json:"issue"`
	Options          []RecoveryOption `json:"options"`
	FailedWorkflowID string           `json:"failedWorkflowId,omitempty"`
}

// OrchestrationExecution is the durable state machine record for one
// pipeline run.
type OrchestrationExecution struct {
	ID          string              `json:"id"`
	ProjectID   string              `json:"projectId"`
	ProjectPath string              `json:"projectPath"`
	Status      OrchestrationStatus `json:"status"`
	Config      Config              `json:"config"`
	CurrentPhase Phase              `json:"currentPhase"`
	Executions  Executions          `json:"executions"`
	Batches     BatchTracking       `json:"batches"`
	StartedAt   string              `json:"startedAt"`
	UpdatedAt   string              `json:"updatedAt"`
	CompletedAt string              `json:"completedAt,omitempty"`
	DecisionLog []DecisionLogEntry  `json:"decisionLog"`
	TotalCostUsd float64            `json:"totalCostUsd"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	RecoveryContext *RecoveryContext `json:"recoveryContext,omitempty"`
}

// LinkedWorkflowID returns the workflow id tied to the orchestration's
// current phase, or "" if nothing has been linked yet (design/analyze/
// verify/merge each carry a single id; implement carries one per batch,
// selected by Batches.Current).
func (o *OrchestrationExecution) LinkedWorkflowID() string {
	switch o.CurrentPhase {
	case PhaseDesign:
		return o.Executions.Design
	case PhaseAnalyze:
		return o.Executions.Analyze
	case PhaseVerify:
		return o.Executions.Verify
	case PhaseMerge:
		return o.Executions.Merge
	case PhaseImplement:
		if o.Batches.Current >= 0 && o.Batches.Current < len(o.Batches.Items) {
			return o.Batches.Items[o.Batches.Current].WorkflowExecutionID
		}
	}
	return ""
}

// Validate enforces the shape-level invariants that can be checked without
// consulting any other record: enum bounds, I1, I2, I3, I4, I7.
func (o *OrchestrationExecution) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("orchestration: id is required")
	}
	if !o.Status.IsValid() {
		return fmt.Errorf("orchestration %s: invalid status %q", o.ID, o.Status)
	}
	if !o.CurrentPhase.IsValid() {
		return fmt.Errorf("orchestration %s: invalid currentPhase %q", o.ID, o.CurrentPhase)
	}
	if err := o.Config.Validate(); err != nil {
		return fmt.Errorf("orchestration %s: %w", o.ID, err)
	}
	if o.Status == StatusCompleted && (o.CompletedAt == "" || o.CurrentPhase != PhaseDone) {
		return fmt.Errorf("orchestration %s: I1 violated (completed without completedAt/currentPhase=done)", o.ID)
	}
	if o.CurrentPhase == PhaseImplement {
		if o.Batches.Current < 0 || o.Batches.Current >= len(o.Batches.Items) {
			return fmt.Errorf("orchestration %s: I2 violated (batches.current=%d out of range [0,%d))", o.ID, o.Batches.Current, len(o.Batches.Items))
		}
	}
	for i, b := range o.Batches.Items {
		if b.HealAttempts > o.Config.MaxHealAttempts {
			return fmt.Errorf("orchestration %s: I3 violated (batch %d healAttempts=%d > max=%d)", o.ID, i, b.HealAttempts, o.Config.MaxHealAttempts)
		}
	}
	hasRecovery := o.RecoveryContext != nil
	if (o.Status == StatusNeedsAttention) != hasRecovery {
		return fmt.Errorf("orchestration %s: I4 violated (needs_attention xor recoveryContext present)", o.ID)
	}
	if o.TotalCostUsd < 0 {
		return fmt.Errorf("orchestration %s: I7 violated (totalCostUsd=%f negative)", o.ID, o.TotalCostUsd)
	}
	if o.RecoveryContext != nil {
		for _, opt := range o.RecoveryContext.Options {
			if !opt.IsValid() {
				return fmt.Errorf("orchestration %s: invalid recovery option %q", o.ID, opt)
			}
		}
	}
	return nil
}

// WorkflowExecution is one spawned child-process session.
type WorkflowExecution struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"sessionId,omitempty"`
	ProjectID       string         `json:"projectId"`
	OrchestrationID string         `json:"orchestrationId,omitempty"`
	Skill           string         `json:"skill"`
	Status          WorkflowStatus `json:"status"`
	PID             int            `json:"pid,omitempty"`
	BashPID         int            `json:"bashPid,omitempty"`
	ClaudePID       int            `json:"claudePid,omitempty"`
	StartedAt       string         `json:"startedAt"`
	UpdatedAt       string         `json:"updatedAt"`
	CostUsd         float64        `json:"costUsd"`
	Error           string         `json:"error,omitempty"`
	Logs            []string       `json:"logs,omitempty"`
}

// Validate enforces enum bounds and I5 can't be checked here (needs clock);
// it only checks shape.
func (w *WorkflowExecution) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow: id is required")
	}
	if !w.Status.IsValid() {
		return fmt.Errorf("workflow %s: invalid status %q", w.ID, w.Status)
	}
	if w.Skill == "" {
		return fmt.Errorf("workflow %s: skill is required", w.ID)
	}
	if w.CostUsd < 0 {
		return fmt.Errorf("workflow %s: costUsd must be non-negative, got %f", w.ID, w.CostUsd)
	}
	return nil
}

// IndexEntry is one row of the derived index.json cache.
type IndexEntry struct {
	SessionID string         `json:"sessionId"`
	Status    WorkflowStatus `json:"status"`
	UpdatedAt string         `json:"updatedAt"`
}

// PidFile is the handoff contract a spawned child writes before (or as)
// it becomes observable to the supervisor.
type PidFile struct {
	BashPID   int    `json:"bashPid,omitempty"`
	ClaudePID int    `json:"claudePid,omitempty"`
	StartedAt string `json:"startedAt"`
}

// ProcessHealth is HealthEvaluator's verdict on one workflow.
type ProcessHealth struct {
	HealthStatus   HealthStatus `json:"healthStatus"`
	SessionFileAge int64        `json:"sessionFileAge,omitempty"`
	PidAlive       *bool        `json:"pidAlive,omitempty"`
}

// HealthStatus is the liveness verdict HealthEvaluator produces.
type HealthStatus string

const (
	HealthAlive   HealthStatus = "alive"
	HealthStale   HealthStatus = "stale"
	HealthDead    HealthStatus = "dead"
	HealthUnclear HealthStatus = "unclear"
)
