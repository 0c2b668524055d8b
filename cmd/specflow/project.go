package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// resolveProjectPath returns the current directory, the conventional root
// every subcommand operates against unless a future --project flag is
// added.
func resolveProjectPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	return cwd, nil
}

// socketPath returns the control socket path for a project, mirroring the
// teacher's <projectPath>/.vc/executor.sock convention.
func socketPath(projectPath string) string {
	return filepath.Join(projectPath, ".specflow", "control.sock")
}

// projectID derives a stable id (a name-based UUID) for a project path.
// `specflow register` keys the project's registry entry by this same id.
func projectID(projectPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(projectPath)).String()
}
