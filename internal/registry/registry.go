// Package registry reads and writes the stable $HOME/.specflow/registry.json
// contract that maps project ids to their on-disk paths. Discovery of
// credentials and richer project metadata is an external collaborator
// (§1 out of scope); this package only satisfies the documented shape.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Project is one entry in the registry.
type Project struct {
	Path          string `json:"path"`
	Name          string `json:"name"`
	RegisteredAt  string `json:"registered_at"`
	LastSeen      string `json:"last_seen,omitempty"`
}

// Config is the optional registry-wide settings block.
type Config struct {
	DevFolders []string `json:"dev_folders,omitempty"`
}

// Registry is the decoded shape of registry.json.
type Registry struct {
	Projects map[string]Project `json:"projects"`
	Config   *Config            `json:"config,omitempty"`
}

// Path returns $HOME/.specflow/registry.json.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("registry: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".specflow", "registry.json"), nil
}

// Load reads the registry, returning an empty Registry (not an error) if
// the file does not exist yet.
func Load() (*Registry, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{Projects: map[string]Project{}}, nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("registry: decode %s: %w", path, err)
	}
	if r.Projects == nil {
		r.Projects = map[string]Project{}
	}
	return &r, nil
}

// Save atomically writes r back to registry.json.
func Save(r *Registry) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("registry: create dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("registry: rename into place: %w", err)
	}
	return nil
}

// ProjectPaths returns every registered project's filesystem path, in no
// particular order.
func (r *Registry) ProjectPaths() []string {
	paths := make([]string, 0, len(r.Projects))
	for _, p := range r.Projects {
		paths = append(paths, p.Path)
	}
	return paths
}
