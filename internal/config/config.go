// Package config loads the optional per-project YAML overlay for
// orchestration defaults and the supervisor's polling/staleness tunables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wiseyoda/specflow/internal/model"
)

// FileName is the config file's path relative to a project root.
const FileName = ".specflow/config.yaml"

// Runner holds supervisor-wide tunables that are not part of any single
// OrchestrationExecution's Config (those travel with the record itself).
type Runner struct {
	StaleThresholdMs      int64 `yaml:"staleThresholdMs"`
	OrphanGracePeriodMs   int64 `yaml:"orphanGracePeriodMs"`
	IntentWindowMs        int64 `yaml:"intentWindowMs"`
	StaleFailThreshold    int   `yaml:"staleFailThreshold"`
	MaxOrchestrationAgeMs int64 `yaml:"maxOrchestrationAgeMs"`
	CostSoftCapUsd        float64 `yaml:"costSoftCapUsd"`
}

// File is the full decoded shape of .specflow/config.yaml.
type File struct {
	Orchestration model.Config `yaml:"orchestration"`
	Runner        Runner       `yaml:"runner"`
}

// Default returns the built-in defaults, used when no config file exists
// or a field is left unset (zero value) in one that does.
func Default() File {
	return File{
		Orchestration: model.Config{
			BatchSize:          5,
			MaxHealAttempts:    2,
			PollingIntervalMs:  5000,
			MaxPollingAttempts: 10,
			AutoMerge:          false,
		},
		Runner: Runner{
			StaleThresholdMs:      int64(10 * time.Minute / time.Millisecond),
			OrphanGracePeriodMs:   int64(5 * time.Minute / time.Millisecond),
			IntentWindowMs:        0, // 0 means "2x pollingIntervalMs", resolved by the runner
			StaleFailThreshold:    3,
			MaxOrchestrationAgeMs: int64(4 * time.Hour / time.Millisecond),
			CostSoftCapUsd:        0, // 0 disables the soft-cap warning
		},
	}
}

// Load reads <projectPath>/.specflow/config.yaml if present, overlaying
// its fields onto Default(). A missing file is not an error.
func Load(projectPath string) (File, error) {
	cfg := Default()
	path := filepath.Join(projectPath, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay File
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	mergeNonZero(&cfg, overlay)

	if err := cfg.Orchestration.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func mergeNonZero(base *File, overlay File) {
	if overlay.Orchestration.BatchSize != 0 {
		base.Orchestration.BatchSize = overlay.Orchestration.BatchSize
	}
	if overlay.Orchestration.MaxHealAttempts != 0 {
		base.Orchestration.MaxHealAttempts = overlay.Orchestration.MaxHealAttempts
	}
	if overlay.Orchestration.PollingIntervalMs != 0 {
		base.Orchestration.PollingIntervalMs = overlay.Orchestration.PollingIntervalMs
	}
	if overlay.Orchestration.MaxPollingAttempts != 0 {
		base.Orchestration.MaxPollingAttempts = overlay.Orchestration.MaxPollingAttempts
	}
	base.Orchestration.AutoMerge = base.Orchestration.AutoMerge || overlay.Orchestration.AutoMerge

	if overlay.Runner.StaleThresholdMs != 0 {
		base.Runner.StaleThresholdMs = overlay.Runner.StaleThresholdMs
	}
	if overlay.Runner.OrphanGracePeriodMs != 0 {
		base.Runner.OrphanGracePeriodMs = overlay.Runner.OrphanGracePeriodMs
	}
	if overlay.Runner.IntentWindowMs != 0 {
		base.Runner.IntentWindowMs = overlay.Runner.IntentWindowMs
	}
	if overlay.Runner.StaleFailThreshold != 0 {
		base.Runner.StaleFailThreshold = overlay.Runner.StaleFailThreshold
	}
	if overlay.Runner.MaxOrchestrationAgeMs != 0 {
		base.Runner.MaxOrchestrationAgeMs = overlay.Runner.MaxOrchestrationAgeMs
	}
	if overlay.Runner.CostSoftCapUsd != 0 {
		base.Runner.CostSoftCapUsd = overlay.Runner.CostSoftCapUsd
	}
}
