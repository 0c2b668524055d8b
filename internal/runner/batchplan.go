package runner

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/wiseyoda/specflow/internal/model"
)

// tasksFileName is where the analyze phase's workflow is expected to drop
// its task breakdown before finishing: a flat JSON array of task id
// strings, relative to the project root.
const tasksFileName = ".specflow/tasks.json"

// BatchPlanner splits a flat task list into fixed-size batches. It plays
// the role the design document assigns to an external BatchParser — the
// analyze-phase output format and task extraction are out of scope here,
// but the Runner still needs a concrete plan to populate Batches.Items
// before it can transition into the implement phase.
type BatchPlanner interface {
	PlanBatches(projectPath string, batchSize int) ([]model.Batch, error)
}

// FileBatchPlanner reads tasksFileName and chunks the ids it finds into
// batches of batchSize. A missing file or an empty array is not an error
// (a file that is not a JSON string array is): it falls
// back to a single synthetic batch so an orchestration whose analyze
// workflow didn't write a task list still makes forward progress instead
// of stalling forever on an upstream format this package doesn't control.
type FileBatchPlanner struct{}

func (FileBatchPlanner) PlanBatches(projectPath string, batchSize int) ([]model.Batch, error) {
	taskIDs, err := readTaskIDs(filepath.Join(projectPath, tasksFileName))
	if err != nil {
		return nil, err
	}
	if len(taskIDs) == 0 {
		taskIDs = []string{"default"}
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	var batches []model.Batch
	for start := 0; start < len(taskIDs); start += batchSize {
		end := start + batchSize
		if end > len(taskIDs) {
			end = len(taskIDs)
		}
		batches = append(batches, model.Batch{
			Index:   len(batches),
			TaskIDs: append([]string(nil), taskIDs[start:end]...),
		})
	}
	return batches, nil
}

func readTaskIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
