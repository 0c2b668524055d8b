package runner

import (
	"context"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/model"
	"github.com/wiseyoda/specflow/internal/orchstore"
	"github.com/wiseyoda/specflow/internal/procheal"
	"github.com/wiseyoda/specflow/internal/statestore"
	"github.com/wiseyoda/specflow/internal/workflow"
)

type fakeProbe struct{ alive map[int]bool }

func (f *fakeProbe) IsPidAlive(pid int) bool { return f.alive[pid] }

func sleepBuilder() workflow.CommandBuilder {
	return func(workDir, skill, resumeSessionID string) *exec.Cmd {
		return exec.Command("sh", "-c", "sleep 0.2")
	}
}

func baseOrchestration(dir string) *model.OrchestrationExecution {
	return &model.OrchestrationExecution{
		ID:           "orch-1",
		ProjectID:    "proj-1",
		ProjectPath:  dir,
		Status:       model.StatusRunning,
		Config:       model.Config{BatchSize: 5, MaxHealAttempts: 2, PollingIntervalMs: 5000, MaxPollingAttempts: 3},
		CurrentPhase: model.PhaseDesign,
		StartedAt:    "2026-07-31T00:00:00Z",
		UpdatedAt:    "2026-07-31T00:00:00Z",
	}
}

func newHarness(t *testing.T, alive map[int]bool) (*Runner, *orchstore.Store, *statestore.StateStore, string) {
	t.Helper()
	dir := t.TempDir()
	fc := clock.NewFakeClock(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	state := statestore.New()
	orch := orchstore.New(state, fc)
	wf := workflow.New(state, nil, fc).WithCommandBuilder(sleepBuilder())
	health := procheal.New(&fakeProbe{alive: alive})

	deps := Deps{
		Orchestrations: orch,
		Workflows:      wf,
		Health:         health,
		Clock:          fc,
		Logger:         slog.New(slog.DiscardHandler),
	}
	rc := &Context{
		ProjectID:          "proj-1",
		ProjectPath:        dir,
		OrchestrationID:    "orch-1",
		PollingInterval:    10 * time.Millisecond,
		MaxPollingAttempts: 3,
	}
	r := New(deps, rc)
	return r, orch, state, dir
}

func TestTickNoActiveWorkflowsSpawnsAndLinks(t *testing.T) {
	r, orch, state, dir := newHarness(t, nil)
	require.NoError(t, state.WriteOrchestration(dir, baseOrchestration(dir)))

	o, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))

	got, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.NotEmpty(t, got.Executions.Design)
}

func TestTickMultipleActiveEscalates(t *testing.T) {
	r, orch, state, dir := newHarness(t, nil)
	require.NoError(t, state.WriteOrchestration(dir, baseOrchestration(dir)))

	for _, id := range []string{"wf-a", "wf-b"} {
		w := &model.WorkflowExecution{ID: id, ProjectID: "proj-1", OrchestrationID: "orch-1",
			Skill: "design", Status: model.WorkflowRunning, StartedAt: "2026-07-31T00:00:00Z", UpdatedAt: "2026-07-31T00:00:00Z"}
		require.NoError(t, state.WriteWorkflow(dir, w))
	}

	o, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))

	got, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsAttention, got.Status)
}

func TestOnSuccessNonImplementAdvancesPhase(t *testing.T) {
	r, orch, state, dir := newHarness(t, nil)
	base := baseOrchestration(dir)
	base.Executions.Design = "wf-done"
	require.NoError(t, state.WriteOrchestration(dir, base))

	w := &model.WorkflowExecution{ID: "wf-done", ProjectID: "proj-1", OrchestrationID: "orch-1",
		Skill: "design", Status: model.WorkflowCompleted, StartedAt: "2026-07-31T00:00:00Z", UpdatedAt: "2026-07-31T00:00:00Z"}
	require.NoError(t, state.WriteWorkflow(dir, w))

	o, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))

	got, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseAnalyze, got.CurrentPhase)
}

func TestOnSuccessAnalyzePlansBatchesAndTransitionsToImplement(t *testing.T) {
	r, orch, state, dir := newHarness(t, nil)
	base := baseOrchestration(dir)
	base.CurrentPhase = model.PhaseAnalyze
	base.Executions.Analyze = "wf-analyze-done"
	require.NoError(t, state.WriteOrchestration(dir, base))

	w := &model.WorkflowExecution{ID: "wf-analyze-done", ProjectID: "proj-1", OrchestrationID: "orch-1",
		Skill: "analyze", Status: model.WorkflowCompleted, StartedAt: "2026-07-31T00:00:00Z", UpdatedAt: "2026-07-31T00:00:00Z"}
	require.NoError(t, state.WriteWorkflow(dir, w))

	o, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))

	got, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseImplement, got.CurrentPhase)
	require.NotEmpty(t, got.Batches.Items) // no tasks.json present -> FileBatchPlanner's single fallback batch
	assert.Equal(t, 0, got.Batches.Current)
}

func TestObserveUnclearNoPIDTripsCircuitBreakerThroughRealHealthPath(t *testing.T) {
	r, orch, state, dir := newHarness(t, nil)
	base := baseOrchestration(dir)
	base.Executions.Design = "wf-nopid"
	require.NoError(t, state.WriteOrchestration(dir, base))

	w := &model.WorkflowExecution{ID: "wf-nopid", ProjectID: "proj-1", OrchestrationID: "orch-1",
		Skill: "design", Status: model.WorkflowRunning, StartedAt: "2026-07-31T00:00:00Z", UpdatedAt: "2026-07-31T00:00:00Z"}
	require.NoError(t, state.WriteWorkflow(dir, w))

	for i := 0; i < 2; i++ {
		o, err := orch.Get(dir, "orch-1")
		require.NoError(t, err)
		require.NoError(t, r.tick(context.Background(), o))

		got, err := orch.Get(dir, "orch-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusRunning, got.Status)
	}

	o, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))

	got, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsAttention, got.Status)
}

func TestObserveDeadNonImplementEscalates(t *testing.T) {
	r, orch, state, dir := newHarness(t, nil) // no PIDs alive
	base := baseOrchestration(dir)
	base.Executions.Design = "wf-running"
	require.NoError(t, state.WriteOrchestration(dir, base))

	w := &model.WorkflowExecution{ID: "wf-running", ProjectID: "proj-1", OrchestrationID: "orch-1",
		Skill: "design", Status: model.WorkflowRunning, PID: 99999, StartedAt: "2026-07-31T00:00:00Z", UpdatedAt: "2026-07-31T00:00:00Z"}
	require.NoError(t, state.WriteWorkflow(dir, w))

	o, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))

	got, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsAttention, got.Status)
	require.NotNil(t, got.RecoveryContext)
	assert.Equal(t, "wf-running", got.RecoveryContext.FailedWorkflowID)
}

func TestObserveDeadImplementHealsWithinBudget(t *testing.T) {
	r, orch, state, dir := newHarness(t, nil)
	r.deps.Workflows = workflow.New(state, nil, r.deps.Clock).WithCommandBuilder(sleepBuilder())

	base := baseOrchestration(dir)
	base.CurrentPhase = model.PhaseImplement
	base.Batches = model.BatchTracking{
		Items:   []model.Batch{{Index: 0, TaskIDs: []string{"t1"}, WorkflowExecutionID: "wf-running"}},
		Current: 0,
	}
	require.NoError(t, state.WriteOrchestration(dir, base))

	w := &model.WorkflowExecution{ID: "wf-running", ProjectID: "proj-1", OrchestrationID: "orch-1",
		Skill: "implement", Status: model.WorkflowRunning, PID: 99999, StartedAt: "2026-07-31T00:00:00Z", UpdatedAt: "2026-07-31T00:00:00Z"}
	require.NoError(t, state.WriteWorkflow(dir, w))

	o, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))

	got, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status) // healed, not escalated
	assert.Equal(t, 1, got.Batches.Items[0].HealAttempts)
	assert.NotEmpty(t, got.Executions.Healers)
}

func countDecisions(o *model.OrchestrationExecution, decision string) int {
	n := 0
	for _, e := range o.DecisionLog {
		if e.Decision == decision {
			n++
		}
	}
	return n
}

func TestAccrueCostWarnsOnceWhenCrossingSoftCap(t *testing.T) {
	r, orch, state, dir := newHarness(t, map[int]bool{99999: true})
	r.rc.CostSoftCapUsd = 1.0

	base := baseOrchestration(dir)
	base.Executions.Design = "wf-running"
	require.NoError(t, state.WriteOrchestration(dir, base))

	w := &model.WorkflowExecution{ID: "wf-running", ProjectID: "proj-1", OrchestrationID: "orch-1",
		Skill: "design", Status: model.WorkflowRunning, PID: 99999, CostUsd: 0.5,
		StartedAt: "2026-07-31T00:00:00Z", UpdatedAt: "2026-07-31T00:00:00Z"}
	require.NoError(t, state.WriteWorkflow(dir, w))

	o, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))

	got, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.TotalCostUsd)
	assert.Equal(t, 0, countDecisions(got, model.DecisionCostWarning))

	w.CostUsd = 1.5
	require.NoError(t, state.WriteWorkflow(dir, w))
	o, err = orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))

	got, err = orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.TotalCostUsd)
	assert.Equal(t, 1, countDecisions(got, model.DecisionCostWarning))

	// A further tick with cost unchanged must not warn a second time.
	o, err = orch.Get(dir, "orch-1")
	require.NoError(t, err)
	require.NoError(t, r.tick(context.Background(), o))
	got, err = orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, countDecisions(got, model.DecisionCostWarning))
}

func TestStaleFailThresholdDefaultsWhenUnset(t *testing.T) {
	deps := Deps{Logger: slog.New(slog.DiscardHandler)}
	r := New(deps, &Context{PollingInterval: time.Second})
	assert.Equal(t, defaultStaleFailThreshold, r.rc.StaleFailThreshold)
}

func TestSuppressDuplicateSpawnWithinWindow(t *testing.T) {
	r, _, _, _ := newHarness(t, nil)
	r.rc.IntentWindow = time.Hour
	r.recordIntent("design", "")
	assert.True(t, r.suppressDuplicateSpawn("design", ""))
	assert.False(t, r.suppressDuplicateSpawn("analyze", ""))
}

func TestNoteUnclearTripsAfterMaxPollingAttempts(t *testing.T) {
	r, orch, state, dir := newHarness(t, nil)
	require.NoError(t, state.WriteOrchestration(dir, baseOrchestration(dir)))
	o, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)

	require.NoError(t, r.noteUnclear(o))
	require.NoError(t, r.noteUnclear(o))
	require.NoError(t, r.noteUnclear(o))

	got, err := orch.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsAttention, got.Status)
}
