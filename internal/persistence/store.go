// Package persistence defines the workflow-execution persistence adapter
// contract, plus reference implementations (in-memory, JSON file, SQL).
package persistence

import "github.com/logimos/reactor/internal/engine"

// Filter narrows a Find query. Any zero field is unconstrained. Alias of
// engine.Filter so every concrete Store here also satisfies engine.Store
// without this package needing to be imported by package engine.
type Filter = engine.Filter

// Store is the persistence adapter the workflow executor calls after every
// transition and on every status change. Implementations give no ordering
// guarantee across executions.
type Store interface {
	Save(execution *engine.WorkflowExecution) error
	Update(id string, execution *engine.WorkflowExecution) error
	Load(id string) (*engine.WorkflowExecution, error)
	Find(filter Filter) ([]*engine.WorkflowExecution, error)
}

// ErrNotFound is returned by Load when no execution exists for the id.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return "execution not found: " + e.ID }
