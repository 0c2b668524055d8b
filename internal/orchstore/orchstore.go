// Package orchstore implements OrchestrationStore (C6): the mutator
// surface over OrchestrationExecution. Every mutator reads current state,
// validates preconditions, applies the change, bumps UpdatedAt, writes
// atomically, and returns the new state (or nil if the orchestration does
// not exist). Status and phase changes, heal attempts, batch completion,
// cost warnings and suppressed spawns append a DecisionLogEntry;
// LinkWorkflowExecution, AddCost, UpdateBatches and HealBatch do not.
package orchstore

import (
	"errors"
	"fmt"

	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/model"
	"github.com/wiseyoda/specflow/internal/statestore"
)

// ErrPrecondition is returned when a mutator's precondition is not met —
// e.g. transitioning a terminal orchestration, or linking a workflow when
// the current phase expects no link.
var ErrPrecondition = errors.New("orchstore: precondition violated")

// ErrInvariant is returned when applying a mutation would break one of
// the bug-like invariants (negative cost delta, out-of-range batch index).
// Unlike ErrPrecondition this indicates a caller bug, not a legitimate
// race; the state is never written in this case.
var ErrInvariant = errors.New("orchstore: invariant violated")

// Store implements OrchestrationStore (C6) on top of a StateStore.
type Store struct {
	state *statestore.StateStore
	clock clock.Clock
}

// New returns a Store backed by state, using clock for all timestamps.
func New(state *statestore.StateStore, clk clock.Clock) *Store {
	return &Store{state: state, clock: clk}
}

// Get returns the current orchestration, or nil if not found.
func (s *Store) Get(projectPath, id string) (*model.OrchestrationExecution, error) {
	o, err := s.state.ReadOrchestration(projectPath, id)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (s *Store) appendDecision(o *model.OrchestrationExecution, decision, reason string) {
	o.DecisionLog = append(o.DecisionLog, model.DecisionLogEntry{
		Timestamp: s.clock.ISONow(),
		Decision:  decision,
		Reason:    reason,
	})
}

func (s *Store) commit(projectPath string, o *model.OrchestrationExecution) (*model.OrchestrationExecution, error) {
	o.UpdatedAt = s.clock.ISONow()
	if err := s.state.WriteOrchestration(projectPath, o); err != nil {
		return nil, fmt.Errorf("orchstore: commit %s: %w", o.ID, err)
	}
	return o, nil
}

// mutate loads the orchestration, applies fn, and commits the result. fn
// returns the decision/reason to log, or ("", "") to commit without
// appending a decision entry.
func (s *Store) mutate(projectPath, id string, fn func(o *model.OrchestrationExecution) (decision, reason string, err error)) (*model.OrchestrationExecution, error) {
	o, err := s.Get(projectPath, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, nil
	}
	decision, reason, err := fn(o)
	if err != nil {
		return nil, err
	}
	if decision != "" {
		s.appendDecision(o, decision, reason)
	}
	return s.commit(projectPath, o)
}

// TransitionToNextPhase advances currentPhase following the fixed
// pipeline order. verify→merge only happens here if AutoMerge is set;
// otherwise callers must use TriggerMerge explicitly. The analyze→implement
// edge is excluded: it requires a non-empty batch plan to satisfy I2, so
// callers must use TransitionToImplement for that hop instead.
func (s *Store) TransitionToNextPhase(projectPath, id string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.Status.IsTerminal() {
			return "", "", fmt.Errorf("%w: orchestration %s is terminal", ErrPrecondition, id)
		}
		if o.CurrentPhase == model.PhaseVerify && !o.Config.AutoMerge {
			return "", "", fmt.Errorf("%w: verify->merge requires autoMerge or triggerMerge", ErrPrecondition)
		}
		next, ok := o.CurrentPhase.Next()
		if !ok {
			return "", "", fmt.Errorf("%w: phase %s has no successor", ErrPrecondition, o.CurrentPhase)
		}
		if next == model.PhaseImplement {
			return "", "", fmt.Errorf("%w: analyze->implement requires transitionToImplement with a batch plan", ErrPrecondition)
		}
		from := o.CurrentPhase
		o.CurrentPhase = next
		if next == model.PhaseDone {
			o.Status = model.StatusCompleted
			o.CompletedAt = s.clock.ISONow()
		}
		return model.DecisionPhaseTransition, fmt.Sprintf("%s->%s", from, next), nil
	})
}

// TransitionToImplement advances analyze→implement, populating Batches in
// the same mutation that flips CurrentPhase so I2 (0 ≤ batches.current <
// len(batches.items) whenever phase=implement) is already satisfied by the
// time the write commits. items must be non-empty — callers derive them
// from the analyze phase's output (the batch-planning contract the spec
// defers to an external parser; see internal/runner.BatchPlanner).
func (s *Store) TransitionToImplement(projectPath, id string, items []model.Batch) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.Status.IsTerminal() {
			return "", "", fmt.Errorf("%w: orchestration %s is terminal", ErrPrecondition, id)
		}
		if o.CurrentPhase != model.PhaseAnalyze {
			return "", "", fmt.Errorf("%w: transitionToImplement requires phase=analyze, got %s", ErrPrecondition, o.CurrentPhase)
		}
		if len(items) == 0 {
			return "", "", fmt.Errorf("%w: transitionToImplement requires a non-empty batch plan", ErrInvariant)
		}
		o.CurrentPhase = model.PhaseImplement
		o.Batches = model.BatchTracking{Items: items, Current: 0, Completed: nil}
		return model.DecisionPhaseTransition, "analyze->implement", nil
	})
}

// LinkWorkflowExecution records workflowID in the slot the current phase
// expects: the matching single-workflow field for design/analyze/
// verify/merge, or the current batch's WorkflowExecutionID for implement.
func (s *Store) LinkWorkflowExecution(projectPath, id, workflowID string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		switch o.CurrentPhase {
		case model.PhaseDesign:
			o.Executions.Design = workflowID
		case model.PhaseAnalyze:
			o.Executions.Analyze = workflowID
		case model.PhaseVerify:
			o.Executions.Verify = workflowID
		case model.PhaseMerge:
			o.Executions.Merge = workflowID
		case model.PhaseImplement:
			if o.Batches.Current < 0 || o.Batches.Current >= len(o.Batches.Items) {
				return "", "", fmt.Errorf("%w: no current batch to link", ErrInvariant)
			}
			o.Batches.Items[o.Batches.Current].WorkflowExecutionID = workflowID
		default:
			return "", "", fmt.Errorf("%w: phase %s does not expect a link", ErrPrecondition, o.CurrentPhase)
		}
		return "", "", nil
	})
}

// AddCost increases TotalCostUsd by delta, which must be non-negative to
// preserve I7 (monotonically non-decreasing cost).
func (s *Store) AddCost(projectPath, id string, delta float64) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if delta < 0 {
			return "", "", fmt.Errorf("%w: addCost delta %f is negative", ErrInvariant, delta)
		}
		if o.Status.IsTerminal() {
			return "", "", fmt.Errorf("%w: orchestration %s is terminal", ErrPrecondition, id)
		}
		o.TotalCostUsd += delta
		return "", "", nil
	})
}

// UpdateBatches replaces Batches with batchPlan and resets Current to 0.
// It may only be called while Batches.Items is empty, i.e. once per
// orchestration on entering the implement phase.
func (s *Store) UpdateBatches(projectPath, id string, items []model.Batch) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.CurrentPhase != model.PhaseImplement {
			return "", "", fmt.Errorf("%w: updateBatches requires phase=implement, got %s", ErrPrecondition, o.CurrentPhase)
		}
		if len(o.Batches.Items) != 0 {
			return "", "", fmt.Errorf("%w: batches already populated", ErrPrecondition)
		}
		o.Batches = model.BatchTracking{Items: items, Current: 0, Completed: nil}
		return "", "", nil
	})
}

// CompleteBatch marks the current implement-phase batch complete,
// advances Current, and transitions to verify once every batch is done.
// Precondition: the current batch has a linked workflow that finished in
// terminal-success.
func (s *Store) CompleteBatch(projectPath, id string, currentWorkflowStatus model.WorkflowStatus) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.CurrentPhase != model.PhaseImplement {
			return "", "", fmt.Errorf("%w: completeBatch requires phase=implement", ErrPrecondition)
		}
		if o.Batches.Current < 0 || o.Batches.Current >= len(o.Batches.Items) {
			return "", "", fmt.Errorf("%w: current batch index out of range", ErrInvariant)
		}
		if !currentWorkflowStatus.IsTerminalSuccess() {
			return "", "", fmt.Errorf("%w: current batch's workflow is not terminal-success", ErrPrecondition)
		}
		completedIndex := o.Batches.Current
		o.Batches.Completed = append(o.Batches.Completed, completedIndex)
		o.Batches.Current++
		s.appendDecision(o, model.DecisionBatchComplete, fmt.Sprintf("%d", completedIndex))
		if o.Batches.Current >= len(o.Batches.Items) {
			o.CurrentPhase = model.PhaseVerify
			return model.DecisionPhaseTransition, "implement->verify", nil
		}
		return "", "", nil
	})
}

// CanHealBatch is a pure query: true iff the current batch's heal attempt
// count is still below the orchestration's configured maximum.
func (s *Store) CanHealBatch(o *model.OrchestrationExecution) bool {
	if o.CurrentPhase != model.PhaseImplement {
		return false
	}
	if o.Batches.Current < 0 || o.Batches.Current >= len(o.Batches.Items) {
		return false
	}
	return o.Batches.Items[o.Batches.Current].HealAttempts < o.Config.MaxHealAttempts
}

// HealBatch marks the current batch healed and appends healerSessionID to
// the healer workflow list. Precondition: the batch had failed and
// CanHealBatch was true before this call.
func (s *Store) HealBatch(projectPath, id, healerSessionID string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.CurrentPhase != model.PhaseImplement {
			return "", "", fmt.Errorf("%w: healBatch requires phase=implement", ErrPrecondition)
		}
		if o.Batches.Current < 0 || o.Batches.Current >= len(o.Batches.Items) {
			return "", "", fmt.Errorf("%w: no current batch to heal", ErrInvariant)
		}
		o.Batches.Items[o.Batches.Current].Healed = true
		o.Executions.Healers = append(o.Executions.Healers, healerSessionID)
		return "", "", nil
	})
}

// IncrementHealAttempt increments the current batch's heal attempt
// counter. Precondition: the current batch has failed. A count above
// MaxHealAttempts is refused by the write (invariant I3), so callers check
// CanHealBatch first and escalate via SetNeedsAttention when it is false.
func (s *Store) IncrementHealAttempt(projectPath, id string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.CurrentPhase != model.PhaseImplement {
			return "", "", fmt.Errorf("%w: incrementHealAttempt requires phase=implement", ErrPrecondition)
		}
		if o.Batches.Current < 0 || o.Batches.Current >= len(o.Batches.Items) {
			return "", "", fmt.Errorf("%w: no current batch", ErrInvariant)
		}
		o.Batches.Items[o.Batches.Current].HealAttempts++
		return model.DecisionHealAttempt, fmt.Sprintf("%d", o.Batches.Items[o.Batches.Current].HealAttempts), nil
	})
}

// SetNeedsAttention transitions the orchestration to needs_attention and
// populates RecoveryContext. Precondition: not already terminal.
func (s *Store) SetNeedsAttention(projectPath, id, issue string, options []model.RecoveryOption, failedWorkflowID string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.Status.IsTerminal() {
			return "", "", fmt.Errorf("%w: orchestration %s is terminal", ErrPrecondition, id)
		}
		for _, opt := range options {
			if !opt.IsValid() {
				return "", "", fmt.Errorf("%w: invalid recovery option %q", ErrInvariant, opt)
			}
		}
		o.Status = model.StatusNeedsAttention
		o.RecoveryContext = &model.RecoveryContext{
			Issue:            issue,
			Options:          options,
			FailedWorkflowID: failedWorkflowID,
		}
		return model.DecisionEscalateAttention, issue, nil
	})
}

// Pause transitions a running orchestration to paused. It does not touch
// any linked child process — pause is observation-only; the runner simply
// stops polling while status=paused.
func (s *Store) Pause(projectPath, id string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.Status != model.StatusRunning {
			return "", "", fmt.Errorf("%w: pause requires status=running, got %s", ErrPrecondition, o.Status)
		}
		o.Status = model.StatusPaused
		return model.DecisionPause, "", nil
	})
}

// Resume transitions a paused or needs_attention orchestration back to
// running, clearing any RecoveryContext.
func (s *Store) Resume(projectPath, id string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.Status != model.StatusPaused && o.Status != model.StatusNeedsAttention {
			return "", "", fmt.Errorf("%w: resume requires status in {paused, needs_attention}, got %s", ErrPrecondition, o.Status)
		}
		o.Status = model.StatusRunning
		o.RecoveryContext = nil
		return model.DecisionResume, "", nil
	})
}

// TriggerMerge transitions verify->merge explicitly, used when AutoMerge
// is false. Precondition: phase=verify and the verify workflow finished
// in terminal-success.
func (s *Store) TriggerMerge(projectPath, id string, verifyWorkflowStatus model.WorkflowStatus) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.CurrentPhase != model.PhaseVerify {
			return "", "", fmt.Errorf("%w: triggerMerge requires phase=verify, got %s", ErrPrecondition, o.CurrentPhase)
		}
		if !verifyWorkflowStatus.IsTerminalSuccess() {
			return "", "", fmt.Errorf("%w: verify workflow is not terminal-success", ErrPrecondition)
		}
		o.CurrentPhase = model.PhaseMerge
		return model.DecisionPhaseTransition, "verify->merge", nil
	})
}

// Fail terminally fails the orchestration with msg as ErrorMessage.
func (s *Store) Fail(projectPath, id, msg string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.Status.IsTerminal() {
			return "", "", fmt.Errorf("%w: orchestration %s is already terminal", ErrPrecondition, id)
		}
		o.Status = model.StatusFailed
		o.ErrorMessage = msg
		o.CompletedAt = s.clock.ISONow()
		return model.DecisionFailed, msg, nil
	})
}

// CompleteMerge marks the orchestration fully completed after a
// successful merge workflow. This is a thin convenience over directly
// setting status/currentPhase so the Runner doesn't duplicate the I1
// bookkeeping (completedAt + currentPhase=done together).
func (s *Store) CompleteMerge(projectPath, id string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		if o.CurrentPhase != model.PhaseMerge {
			return "", "", fmt.Errorf("%w: completeMerge requires phase=merge, got %s", ErrPrecondition, o.CurrentPhase)
		}
		o.CurrentPhase = model.PhaseDone
		o.Status = model.StatusCompleted
		o.CompletedAt = s.clock.ISONow()
		return model.DecisionCompleted, "", nil
	})
}

// WarnCostSoftCap appends a cost_warning decision without changing status,
// used when totalCostUsd crosses an operator-configured soft cap.
func (s *Store) WarnCostSoftCap(projectPath, id string, softCapUsd float64) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		return model.DecisionCostWarning, fmt.Sprintf("totalCostUsd=%.4f exceeds soft cap %.4f", o.TotalCostUsd, softCapUsd), nil
	})
}

// LogSpawnSuppressed records that the Runner's spawn-intent guard (FR-006)
// suppressed a duplicate spawn attempt for skill, without mutating any
// other field.
func (s *Store) LogSpawnSuppressed(projectPath, id, skill string) (*model.OrchestrationExecution, error) {
	return s.mutate(projectPath, id, func(o *model.OrchestrationExecution) (string, string, error) {
		return model.DecisionSpawnSuppressed, skill, nil
	})
}
