package console

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiseyoda/specflow/internal/clock"
	"github.com/wiseyoda/specflow/internal/model"
	"github.com/wiseyoda/specflow/internal/orchstore"
	"github.com/wiseyoda/specflow/internal/procheal"
	"github.com/wiseyoda/specflow/internal/procprobe"
	"github.com/wiseyoda/specflow/internal/reconcile"
	"github.com/wiseyoda/specflow/internal/statestore"
	"github.com/wiseyoda/specflow/internal/workflow"
)

func newTestConsole(t *testing.T) (*Console, string) {
	t.Helper()
	dir := t.TempDir()
	fc := clock.NewFakeClock(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	state := statestore.New()
	orch := orchstore.New(state, fc)
	health := procheal.New(procprobe.New())
	wf := workflow.New(state, procprobe.New(), fc)
	rc := reconcile.New(state, health, wf, fc)

	o := &model.OrchestrationExecution{
		ID: "orch-1", ProjectID: "proj-1", ProjectPath: dir, Status: model.StatusRunning,
		Config:       model.Config{BatchSize: 5, MaxHealAttempts: 2, PollingIntervalMs: 5000, MaxPollingAttempts: 10},
		CurrentPhase: model.PhaseDesign, StartedAt: fc.ISONow(), UpdatedAt: fc.ISONow(),
	}
	require.NoError(t, state.WriteOrchestration(dir, o))

	return &Console{cfg: Config{Store: state, Orchestrations: orch, Reconciler: rc, ProjectPath: dir}}, dir
}

func TestDispatchQuit(t *testing.T) {
	c, _ := newTestConsole(t)
	assert.True(t, c.dispatch("quit"))
	assert.True(t, c.dispatch("exit"))
	assert.False(t, c.dispatch("help"))
}

func TestDispatchUnknownCommandDoesNotQuit(t *testing.T) {
	c, _ := newTestConsole(t)
	assert.False(t, c.dispatch("bogus-command"))
}

func TestDispatchPauseThenResume(t *testing.T) {
	c, dir := newTestConsole(t)

	assert.False(t, c.dispatch("pause orch-1"))
	got, err := c.cfg.Orchestrations.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, got.Status)

	assert.False(t, c.dispatch("resume orch-1"))
	got, err = c.cfg.Orchestrations.Get(dir, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
}

func TestDispatchShowMissingOrchestration(t *testing.T) {
	c, _ := newTestConsole(t)
	assert.False(t, c.dispatch("show does-not-exist"))
}

func TestDispatchReconcile(t *testing.T) {
	c, _ := newTestConsole(t)
	assert.False(t, c.dispatch("reconcile"))
}

func TestDispatchListWithNoArgs(t *testing.T) {
	c, _ := newTestConsole(t)
	assert.False(t, c.dispatch("list"))
}
