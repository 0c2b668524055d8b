// Package statestore implements atomic, schema-validated persistence of
// OrchestrationExecution and WorkflowExecution records on a project
// filesystem, per the directory layout described in the registry contract.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wiseyoda/specflow/internal/model"
)

// ErrNotFound is returned by direct reads when the requested record does
// not exist on disk. Enumeration operations skip missing records, and skip
// invalid ones with a returned warning, instead of returning this.
var ErrNotFound = errors.New("statestore: record not found")

// retryDelays is the backoff schedule for transient I/O errors (EAGAIN,
// rename races), per the error taxonomy's "retry up to 3 times" rule.
var retryDelays = []time.Duration{10 * time.Millisecond, 50 * time.Millisecond, 200 * time.Millisecond}

// StateStore is the sole writer/reader of on-disk orchestration and
// workflow state. It holds no in-memory cache: every call round-trips to
// the filesystem so readers always observe a committed version.
type StateStore struct{}

// New returns a StateStore. It is stateless and safe for concurrent use;
// safety across writers to the same file is provided by the OS rename
// primitive, not by any lock held here.
func New() *StateStore {
	return &StateStore{}
}

func workflowsDir(projectPath string) string {
	return filepath.Join(projectPath, ".specflow", "workflows")
}

func orchestrationPath(projectPath, id string) string {
	return filepath.Join(workflowsDir(projectPath), fmt.Sprintf("orchestration-%s.json", id))
}

func pendingWorkflowPath(projectPath, id string) string {
	return filepath.Join(workflowsDir(projectPath), fmt.Sprintf("pending-%s.json", id))
}

func workflowMetadataPath(projectPath, sessionID string) string {
	return filepath.Join(workflowsDir(projectPath), sessionID, "metadata.json")
}

func pidFilePath(projectPath, sessionID string) string {
	return filepath.Join(workflowsDir(projectPath), sessionID, "pid.json")
}

func indexPath(projectPath string) string {
	return filepath.Join(workflowsDir(projectPath), "index.json")
}

// writeAtomic writes data to a sibling temp file, fsyncs it, then renames
// it over path. A crash mid-write leaves either the prior complete version
// or no change; readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statestore: create dir %s: %w", dir, err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelays[attempt-1])
		}
		if err := writeAtomicOnce(dir, path, data); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("statestore: atomic write %s failed after retries: %w", path, lastErr)
}

func writeAtomicOnce(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		// Best-effort cleanup; the rename below removes the need for this
		// on the success path.
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// ReadOrchestration loads and validates one OrchestrationExecution. It
// returns ErrNotFound if absent, and fails loudly (per the error taxonomy)
// if the record fails schema validation.
func (s *StateStore) ReadOrchestration(projectPath, id string) (*model.OrchestrationExecution, error) {
	data, err := readFile(orchestrationPath(projectPath, id))
	if err != nil {
		return nil, err
	}
	var o model.OrchestrationExecution
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("statestore: decode orchestration %s: %w", id, err)
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("statestore: validate orchestration %s: %w", id, err)
	}
	return &o, nil
}

// WriteOrchestration atomically persists o. Callers (OrchestrationStore)
// are responsible for bumping UpdatedAt and appending decision log entries
// before calling this.
func (s *StateStore) WriteOrchestration(projectPath string, o *model.OrchestrationExecution) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("statestore: refusing to write invalid orchestration: %w", err)
	}
	data, err := marshal(o)
	if err != nil {
		return fmt.Errorf("statestore: encode orchestration %s: %w", o.ID, err)
	}
	return writeAtomic(orchestrationPath(projectPath, o.ID), data)
}

// ReadWorkflow loads a WorkflowExecution by its natural key: a session id
// if one has been assigned, otherwise the pre-spawn workflow id.
func (s *StateStore) ReadWorkflow(projectPath, sessionOrWorkflowID string) (*model.WorkflowExecution, error) {
	path := workflowMetadataPath(projectPath, sessionOrWorkflowID)
	data, err := readFile(path)
	if errors.Is(err, ErrNotFound) {
		data, err = readFile(pendingWorkflowPath(projectPath, sessionOrWorkflowID))
	}
	if err != nil {
		return nil, err
	}
	var w model.WorkflowExecution
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("statestore: decode workflow %s: %w", sessionOrWorkflowID, err)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("statestore: validate workflow %s: %w", sessionOrWorkflowID, err)
	}
	return &w, nil
}

// WriteWorkflow atomically persists w. A workflow without a SessionID yet
// is written to pending-<id>.json; once SessionID is assigned, writes go
// to <sessionId>/metadata.json and the pending file (if any) is removed.
func (s *StateStore) WriteWorkflow(projectPath string, w *model.WorkflowExecution) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("statestore: refusing to write invalid workflow: %w", err)
	}
	data, err := marshal(w)
	if err != nil {
		return fmt.Errorf("statestore: encode workflow %s: %w", w.ID, err)
	}
	if w.SessionID == "" {
		return writeAtomic(pendingWorkflowPath(projectPath, w.ID), data)
	}
	if err := writeAtomic(workflowMetadataPath(projectPath, w.SessionID), data); err != nil {
		return err
	}
	// Best-effort: a workflow that just got its session assigned no longer
	// needs its pending placeholder. Absence of the pending file is fine.
	_ = os.Remove(pendingWorkflowPath(projectPath, w.ID))
	return nil
}

// CreateBackup copies the current contents of path to path+".bak" before a
// risky mutation (e.g. a manual repair tool). Absence of the source file
// is not an error.
func (s *StateStore) CreateBackup(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("statestore: read %s for backup: %w", path, err)
	}
	return writeAtomic(path+".bak", data)
}

// ListOrchestrations returns every valid OrchestrationExecution under
// projectPath. Records that fail to parse or validate are skipped (not
// fatal); callers that need to surface the skip can inspect the returned
// warnings slice.
func (s *StateStore) ListOrchestrations(projectPath string) ([]*model.OrchestrationExecution, []error) {
	dir := workflowsDir(projectPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("statestore: list %s: %w", dir, err)}
	}

	var out []*model.OrchestrationExecution
	var warnings []error
	for _, e := range entries {
		if e.IsDir() || !isOrchestrationFile(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			warnings = append(warnings, fmt.Errorf("statestore: read %s: %w", e.Name(), err))
			continue
		}
		var o model.OrchestrationExecution
		if err := json.Unmarshal(data, &o); err != nil {
			warnings = append(warnings, fmt.Errorf("statestore: decode %s: %w", e.Name(), err))
			continue
		}
		if err := o.Validate(); err != nil {
			warnings = append(warnings, fmt.Errorf("statestore: skip invalid %s: %w", e.Name(), err))
			continue
		}
		out = append(out, &o)
	}
	return out, warnings
}

func isOrchestrationFile(name string) bool {
	return len(name) > len("orchestration-.json") &&
		name[:len("orchestration-")] == "orchestration-" &&
		filepath.Ext(name) == ".json"
}

// ListWorkflows returns every valid WorkflowExecution under projectPath,
// scanning both pending-*.json placeholders and <sessionId>/metadata.json
// files. Invalid records are skipped, not fatal.
func (s *StateStore) ListWorkflows(projectPath string) ([]*model.WorkflowExecution, []error) {
	dir := workflowsDir(projectPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("statestore: list %s: %w", dir, err)}
	}

	var out []*model.WorkflowExecution
	var warnings []error
	for _, e := range entries {
		var path string
		switch {
		case e.IsDir():
			path = filepath.Join(dir, e.Name(), "metadata.json")
		case isPendingFile(e.Name()):
			path = filepath.Join(dir, e.Name())
		default:
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // directory without a metadata.json yet
			}
			warnings = append(warnings, fmt.Errorf("statestore: read %s: %w", path, err))
			continue
		}
		var w model.WorkflowExecution
		if err := json.Unmarshal(data, &w); err != nil {
			warnings = append(warnings, fmt.Errorf("statestore: decode %s: %w", path, err))
			continue
		}
		if err := w.Validate(); err != nil {
			warnings = append(warnings, fmt.Errorf("statestore: skip invalid %s: %w", path, err))
			continue
		}
		out = append(out, &w)
	}
	return out, warnings
}

func isPendingFile(name string) bool {
	return len(name) > len("pending-.json") &&
		name[:len("pending-")] == "pending-" &&
		filepath.Ext(name) == ".json"
}

// ReadPidFile loads the pid.json handoff contract for sessionID. It
// returns ErrNotFound if the child has not written one yet.
func (s *StateStore) ReadPidFile(projectPath, sessionID string) (*model.PidFile, error) {
	data, err := readFile(pidFilePath(projectPath, sessionID))
	if err != nil {
		return nil, err
	}
	var p model.PidFile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("statestore: decode pid file for %s: %w", sessionID, err)
	}
	return &p, nil
}

// WritePidFile atomically persists the PID handoff contract for sessionID.
func (s *StateStore) WritePidFile(projectPath, sessionID string, p *model.PidFile) error {
	data, err := marshal(p)
	if err != nil {
		return fmt.Errorf("statestore: encode pid file for %s: %w", sessionID, err)
	}
	return writeAtomic(pidFilePath(projectPath, sessionID), data)
}

// WriteIndex atomically replaces index.json with entries, which callers
// (WorkflowManager.rebuildIndex) have already truncated and sorted.
func (s *StateStore) WriteIndex(projectPath string, entries []model.IndexEntry) error {
	data, err := marshal(entries)
	if err != nil {
		return fmt.Errorf("statestore: encode index: %w", err)
	}
	return writeAtomic(indexPath(projectPath), data)
}

// ReadIndex loads index.json. It is a derived cache and MUST NOT be
// treated as a source of truth for health decisions; callers that need
// authoritative state must use ListWorkflows instead.
func (s *StateStore) ReadIndex(projectPath string) ([]model.IndexEntry, error) {
	data, err := readFile(indexPath(projectPath))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []model.IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("statestore: decode index: %w", err)
	}
	return entries, nil
}

// SortIndexEntries sorts entries by UpdatedAt descending, in place, for
// callers building the derived index cache.
func SortIndexEntries(entries []model.IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt > entries[j].UpdatedAt
	})
}
