package persistence

import (
	"sync"

	"github.com/logimos/reactor/internal/engine"
)

// MemoryStore is an in-process Store backed by a map + mutex. Default for
// tests and for single-process deployments that don't need durability
// across restarts.
type MemoryStore struct {
	mu         sync.Mutex
	executions map[string]*engine.WorkflowExecution
}

var _ engine.Store = (*MemoryStore)(nil)
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{executions: make(map[string]*engine.WorkflowExecution)}
}

func (s *MemoryStore) Save(execution *engine.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execution.ID] = execution.Clone()
	return nil
}

func (s *MemoryStore) Update(id string, execution *engine.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[id] = execution.Clone()
	return nil
}

func (s *MemoryStore) Load(id string) (*engine.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return execution.Clone(), nil
}

func (s *MemoryStore) Find(filter Filter) ([]*engine.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*engine.WorkflowExecution
	for _, execution := range s.executions {
		if filter.WorkflowName != "" && execution.WorkflowName != filter.WorkflowName {
			continue
		}
		if filter.Status != "" && execution.Status != filter.Status {
			continue
		}
		out = append(out, execution.Clone())
	}
	return out, nil
}
