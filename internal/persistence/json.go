package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/logimos/reactor/internal/engine"
)

// JSONStore implements file-based JSON persistence, one file per
// execution, adapted from the teacher's JSONPersistence but retargeted at
// engine.WorkflowExecution.
type JSONStore struct {
	dataDir string
}

var _ engine.Store = (*JSONStore)(nil)
var _ Store = (*JSONStore)(nil)

// NewJSONStore creates a JSON file store rooted at dataDir, creating the
// directory if needed.
func NewJSONStore(dataDir string) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &JSONStore{dataDir: dataDir}, nil
}

func (j *JSONStore) path(id string) string {
	return filepath.Join(j.dataDir, fmt.Sprintf("%s.json", id))
}

func (j *JSONStore) Save(execution *engine.WorkflowExecution) error {
	return j.write(execution)
}

func (j *JSONStore) Update(_ string, execution *engine.WorkflowExecution) error {
	return j.write(execution)
}

func (j *JSONStore) write(execution *engine.WorkflowExecution) error {
	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	if err := os.WriteFile(j.path(execution.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write execution file: %w", err)
	}
	return nil
}

func (j *JSONStore) Load(id string) (*engine.WorkflowExecution, error) {
	data, err := os.ReadFile(j.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{ID: id}
		}
		return nil, fmt.Errorf("failed to read execution file: %w", err)
	}

	var execution engine.WorkflowExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &execution, nil
}

func (j *JSONStore) Find(filter Filter) ([]*engine.WorkflowExecution, error) {
	files, err := filepath.Glob(filepath.Join(j.dataDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	out := make([]*engine.WorkflowExecution, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue // skip files that can't be read
		}

		var execution engine.WorkflowExecution
		if err := json.Unmarshal(data, &execution); err != nil {
			continue // skip files that can't be parsed
		}

		if filter.WorkflowName != "" && execution.WorkflowName != filter.WorkflowName {
			continue
		}
		if filter.Status != "" && execution.Status != filter.Status {
			continue
		}
		out = append(out, &execution)
	}
	return out, nil
}
