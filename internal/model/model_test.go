package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseNext(t *testing.T) {
	tests := []struct {
		name    string
		phase   Phase
		want    Phase
		wantOK  bool
	}{
		{"design to analyze", PhaseDesign, PhaseAnalyze, true},
		{"analyze to implement", PhaseAnalyze, PhaseImplement, true},
		{"implement to verify", PhaseImplement, PhaseVerify, true},
		{"verify to merge", PhaseVerify, PhaseMerge, true},
		{"merge to done", PhaseMerge, PhaseDone, true},
		{"done has no next", PhaseDone, "", false},
		{"unrecognized phase has no next", Phase("bogus"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.phase.Next()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWorkflowStatusClassification(t *testing.T) {
	assert.True(t, WorkflowRunning.IsActive())
	assert.True(t, WorkflowWaitingForInput.IsActive())
	assert.True(t, WorkflowStale.IsActive())
	assert.False(t, WorkflowPending.IsActive())
	assert.False(t, WorkflowCompleted.IsActive())

	assert.True(t, WorkflowCompleted.IsTerminal())
	assert.True(t, WorkflowFailed.IsTerminal())
	assert.True(t, WorkflowCancelled.IsTerminal())
	assert.False(t, WorkflowRunning.IsTerminal())

	assert.True(t, WorkflowCompleted.IsTerminalSuccess())
	assert.False(t, WorkflowFailed.IsTerminalSuccess())

	assert.True(t, WorkflowFailed.IsTerminalFailure())
	assert.True(t, WorkflowCancelled.IsTerminalFailure())
	assert.False(t, WorkflowCompleted.IsTerminalFailure())
}

func validConfig() Config {
	return Config{BatchSize: 5, MaxHealAttempts: 2, PollingIntervalMs: 5000, MaxPollingAttempts: 10}
}

func baseOrchestration() *OrchestrationExecution {
	return &OrchestrationExecution{
		ID:           "orch-1",
		ProjectID:    "proj-1",
		ProjectPath:  "/tmp/proj",
		Status:       StatusRunning,
		Config:       validConfig(),
		CurrentPhase: PhaseDesign,
		StartedAt:    "2026-07-31T00:00:00Z",
		UpdatedAt:    "2026-07-31T00:00:00Z",
	}
}

func TestOrchestrationValidate_Valid(t *testing.T) {
	o := baseOrchestration()
	require.NoError(t, o.Validate())
}

func TestOrchestrationValidate_I1CompletedRequiresCompletedAtAndDone(t *testing.T) {
	o := baseOrchestration()
	o.Status = StatusCompleted
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I1")

	o.CompletedAt = "2026-07-31T01:00:00Z"
	o.CurrentPhase = PhaseDone
	require.NoError(t, o.Validate())
}

func TestOrchestrationValidate_I2ImplementRequiresBatchesInRange(t *testing.T) {
	o := baseOrchestration()
	o.CurrentPhase = PhaseImplement
	o.Batches = BatchTracking{Items: nil, Current: 0}
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I2")

	o.Batches = BatchTracking{Items: []Batch{{Index: 0, TaskIDs: []string{"t1"}}}, Current: 0}
	require.NoError(t, o.Validate())
}

func TestOrchestrationValidate_I3HealAttemptsBounded(t *testing.T) {
	o := baseOrchestration()
	o.CurrentPhase = PhaseImplement
	o.Batches = BatchTracking{
		Items:   []Batch{{Index: 0, TaskIDs: []string{"t1"}, HealAttempts: 3}},
		Current: 0,
	}
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I3")
}

func TestOrchestrationValidate_I4NeedsAttentionRequiresRecoveryContext(t *testing.T) {
	o := baseOrchestration()
	o.Status = StatusNeedsAttention
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I4")

	o.RecoveryContext = &RecoveryContext{Issue: "boom", Options: []RecoveryOption{RecoveryRetry, RecoveryAbort}}
	require.NoError(t, o.Validate())

	// The converse: recoveryContext present without needs_attention also violates I4.
	o.Status = StatusRunning
	err = o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I4")
}

func TestOrchestrationValidate_I7CostNeverNegative(t *testing.T) {
	o := baseOrchestration()
	o.TotalCostUsd = -0.01
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I7")
}

func TestLinkedWorkflowID(t *testing.T) {
	o := baseOrchestration()
	o.Executions.Design = "wf-design"
	assert.Equal(t, "wf-design", o.LinkedWorkflowID())

	o.CurrentPhase = PhaseImplement
	o.Batches = BatchTracking{
		Items:   []Batch{{Index: 0, TaskIDs: []string{"t1"}, WorkflowExecutionID: "wf-batch-0"}},
		Current: 0,
	}
	assert.Equal(t, "wf-batch-0", o.LinkedWorkflowID())

	o.Batches.Current = 5 // out of range
	assert.Equal(t, "", o.LinkedWorkflowID())

	o.CurrentPhase = PhaseDone
	assert.Equal(t, "", o.LinkedWorkflowID())
}

func TestConfigValidate(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	bad := c
	bad.BatchSize = 0
	assert.Error(t, bad.Validate())

	bad = c
	bad.PollingIntervalMs = -1
	assert.Error(t, bad.Validate())

	bad = c
	bad.MaxPollingAttempts = 0
	assert.Error(t, bad.Validate())
}
