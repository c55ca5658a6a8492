package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/logimos/reactor/internal/lock"
	"go.uber.org/zap"
)

// Engine is the top-level entry point: it owns one shared persistence
// Store and concurrency manager across every registered workflow, and
// dispatches Execute/Resume calls to the right WorkflowExecutor.
type Engine struct {
	mu          sync.RWMutex
	executors   map[string]*WorkflowExecutor
	store       Store
	concurrency *ConcurrencyManager
	logger      *zap.Logger
}

// New builds an Engine backed by store for persistence and lockAdapter for
// the distributed mirror of SEQUENTIAL-mode hard locks.
func New(store Store, lockAdapter lock.Adapter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		executors:   make(map[string]*WorkflowExecutor),
		store:       store,
		concurrency: NewConcurrencyManager(lockAdapter),
		logger:      logger,
	}
}

// RegisterWorkflow wires a WorkflowDefinition and its StateDefinitions into
// an executor, running every registered plugin's OnInit hook once.
func (e *Engine) RegisterWorkflow(ctx context.Context, def *WorkflowDefinition, states []StateDefinition) error {
	if def.Name == "" {
		return definitionErrorf("workflow definition has no name")
	}
	if def.Initial == "" {
		return definitionErrorf("workflow %q has no initial state", def.Name)
	}

	registry := NewStateRegistry(states)
	if _, err := registry.Definition(def.Initial); err != nil {
		return fmt.Errorf("workflow %q: %w", def.Name, err)
	}

	retryEngine := NewRetryEngine(NewStateExecutor(e.logger), e.logger)
	executor := NewWorkflowExecutor(def, registry, e.concurrency, retryEngine, e.store, e.logger)
	if err := executor.Init(ctx); err != nil {
		return fmt.Errorf("workflow %q: plugin init: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[def.Name] = executor
	return nil
}

// Execute starts a new execution of the named workflow.
func (e *Engine) Execute(ctx context.Context, workflowName string, opts ExecuteOptions) (*WorkflowExecution, error) {
	executor, err := e.executorFor(workflowName)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, opts)
}

// Resume reanimates a suspended execution of the named workflow.
func (e *Engine) Resume(ctx context.Context, workflowName, executionID string, opts ResumeOptions) (*WorkflowExecution, error) {
	executor, err := e.executorFor(workflowName)
	if err != nil {
		return nil, err
	}
	return executor.Resume(ctx, executionID, opts)
}

// Get loads a single execution's current persisted state, independent of
// which workflow it belongs to.
func (e *Engine) Get(executionID string) (*WorkflowExecution, error) {
	return e.store.Load(executionID)
}

// Find lists executions matching filter.
func (e *Engine) Find(filter Filter) ([]*WorkflowExecution, error) {
	return e.store.Find(filter)
}

// Concurrency exposes the shared ConcurrencyManager, for the lock janitor
// to sweep hard-locked groups without the engine owning a cron dependency
// itself.
func (e *Engine) Concurrency() *ConcurrencyManager {
	return e.concurrency
}

func (e *Engine) executorFor(workflowName string) (*WorkflowExecutor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	executor, ok := e.executors[workflowName]
	if !ok {
		return nil, definitionErrorf("unregistered workflow: %s", workflowName)
	}
	return executor, nil
}
