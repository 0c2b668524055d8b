package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlayMergesNonZeroFieldsOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".specflow"), 0o755))
	yamlData := []byte(`
orchestration:
  batchSize: 8
  autoMerge: true
runner:
  costSoftCapUsd: 5.50
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), yamlData, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, 8, cfg.Orchestration.BatchSize)
	assert.True(t, cfg.Orchestration.AutoMerge)
	assert.Equal(t, 5.50, cfg.Runner.CostSoftCapUsd)

	// Untouched fields keep their defaults.
	assert.Equal(t, def.Orchestration.MaxHealAttempts, cfg.Orchestration.MaxHealAttempts)
	assert.Equal(t, def.Runner.StaleThresholdMs, cfg.Runner.StaleThresholdMs)
}

func TestLoadRejectsInvalidOrchestrationConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".specflow"), 0o755))
	yamlData := []byte(`
orchestration:
  batchSize: -1
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), yamlData, 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".specflow"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("not: valid: yaml: ["), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}
