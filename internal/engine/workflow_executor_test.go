package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/logimos/reactor/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is a minimal engine.Store used only by this package's tests. It
// lives here rather than in package persistence to avoid persistence's
// import of package engine turning into a cycle for an internal test.
type memStore struct {
	mu         sync.Mutex
	executions map[string]*WorkflowExecution
}

func newMemStore() *memStore {
	return &memStore{executions: make(map[string]*WorkflowExecution)}
}

func (s *memStore) Save(execution *WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execution.ID] = execution.Clone()
	return nil
}

func (s *memStore) Update(id string, execution *WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[id] = execution.Clone()
	return nil
}

func (s *memStore) Load(id string) (*WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return nil, definitionErrorf("unknown execution: %s", id)
	}
	return execution.Clone(), nil
}

func (s *memStore) Find(filter Filter) ([]*WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WorkflowExecution
	for _, e := range s.executions {
		if filter.WorkflowName != "" && e.WorkflowName != filter.WorkflowName {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// funcState is a State whose Execute body is a test-supplied closure, so
// each scenario can script its own sequence of outcomes without a new type.
type funcState struct {
	id string
	fn func(attempt int) (ExecutionResult, error)

	mu      sync.Mutex
	attempt int
}

func (s *funcState) ID() string { return s.id }

func (s *funcState) Execute(ctx context.Context, actions Actions) (ExecutionResult, error) {
	s.mu.Lock()
	s.attempt++
	n := s.attempt
	s.mu.Unlock()
	return s.fn(n)
}

func factoryFor(id string, fn func(attempt int) (ExecutionResult, error)) func() State {
	return func() State {
		return &funcState{id: id, fn: fn}
	}
}

func newTestExecutor(t *testing.T, def *WorkflowDefinition, states []StateDefinition, store Store, adapter lock.Adapter) *WorkflowExecutor {
	t.Helper()
	if adapter == nil {
		adapter = lock.NewMemoryAdapter()
	}
	logger := zap.NewNop()
	registry := NewStateRegistry(states)
	concurrency := NewConcurrencyManager(adapter)
	retry := NewRetryEngine(NewStateExecutor(logger), logger)
	return NewWorkflowExecutor(def, registry, concurrency, retry, store, logger)
}

// S1: sequential serialization. Two back-to-back executions sharing
// groupBy=userId: the second's lock acquisition is denied while the first
// holds it, and with an EXIT decision at lock_acquisition it returns
// RUNNING without any persistence write. Different userId values proceed
// concurrently.
func TestWorkflowExecutor_SequentialSerialization(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	def := &WorkflowDefinition{
		Name:    "seq",
		States:  []string{"hold"},
		Initial: "hold",
		Concurrency: &ConcurrencyConfig{
			Mode:         ModeSequential,
			GroupByField: "userId",
		},
		ErrorHandler: ErrorHandlerFunc(func(ec ErrorContext) ErrorOutcome {
			if ec.Phase == PhaseLockAcquisition {
				return ErrorOutcome{Decision: DecisionExit}
			}
			return ErrorOutcome{Decision: DecisionFail}
		}),
	}
	states := []StateDefinition{{
		ID: "hold",
		Factory: factoryFor("hold", func(attempt int) (ExecutionResult, error) {
			started <- struct{}{}
			<-release
			return DefaultActions.Complete(nil, nil), nil
		}),
	}}

	store := newMemStore()
	adapter := lock.NewMemoryAdapter()
	executor := newTestExecutor(t, def, states, store, adapter)

	var firstDone sync.WaitGroup
	firstDone.Add(1)
	go func() {
		defer firstDone.Done()
		_, err := executor.Execute(context.Background(), ExecuteOptions{ExecutionID: "u1-a", Data: map[string]interface{}{"userId": "u1"}})
		assert.NoError(t, err)
	}()

	<-started // first execution now holds the group lock

	second, err := executor.Execute(context.Background(), ExecuteOptions{ExecutionID: "u1-b", Data: map[string]interface{}{"userId": "u1"}})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, second.Status)
	assert.Equal(t, "hold", second.Context.CurrentState)
	assert.Empty(t, second.Context.History, "no transitions should be recorded for a lock-denied execution")

	close(release)
	firstDone.Wait()

	first, err := store.Load("u1-a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, first.Status)

	// A distinct userId is never blocked by u1's holder.
	otherDef := &WorkflowDefinition{
		Name:    "seq",
		States:  []string{"hold"},
		Initial: "hold",
		Concurrency: &ConcurrencyConfig{
			Mode:         ModeSequential,
			GroupByField: "userId",
		},
	}
	otherStates := []StateDefinition{{
		ID: "hold",
		Factory: factoryFor("hold", func(attempt int) (ExecutionResult, error) {
			return DefaultActions.Complete(nil, nil), nil
		}),
	}}
	otherExecutor := newTestExecutor(t, otherDef, otherStates, newMemStore(), adapter)
	u2, err := otherExecutor.Execute(context.Background(), ExecuteOptions{ExecutionID: "u2-a", Data: map[string]interface{}{"userId": "u2"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, u2.Status)
}

// Lock acquisition is a single attempt: with no ErrorHandler configured, a
// denied second execution throws immediately instead of blocking.
func TestWorkflowExecutor_LockAcquisitionNoHandlerThrows(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	def := &WorkflowDefinition{
		Name:    "seq",
		States:  []string{"hold"},
		Initial: "hold",
		Concurrency: &ConcurrencyConfig{
			Mode:         ModeSequential,
			GroupByField: "userId",
		},
	}
	states := []StateDefinition{{
		ID: "hold",
		Factory: factoryFor("hold", func(attempt int) (ExecutionResult, error) {
			started <- struct{}{}
			<-release
			return DefaultActions.Complete(nil, nil), nil
		}),
	}}

	store := newMemStore()
	adapter := lock.NewMemoryAdapter()
	executor := newTestExecutor(t, def, states, store, adapter)

	var firstDone sync.WaitGroup
	firstDone.Add(1)
	go func() {
		defer firstDone.Done()
		_, err := executor.Execute(context.Background(), ExecuteOptions{ExecutionID: "u1-a", Data: map[string]interface{}{"userId": "u1"}})
		assert.NoError(t, err)
	}()
	<-started

	_, err := executor.Execute(context.Background(), ExecuteOptions{ExecutionID: "u1-b", Data: map[string]interface{}{"userId": "u1"}})
	require.Error(t, err)

	close(release)
	firstDone.Wait()
}

// A FAIL_NO_PERSIST decision at lock_acquisition must propagate the error
// without writing a FAILED status to the store.
func TestWorkflowExecutor_LockAcquisitionFailNoPersist(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	def := &WorkflowDefinition{
		Name:    "seq",
		States:  []string{"hold"},
		Initial: "hold",
		Concurrency: &ConcurrencyConfig{
			Mode:         ModeSequential,
			GroupByField: "userId",
		},
		ErrorHandler: ErrorHandlerFunc(func(ec ErrorContext) ErrorOutcome {
			return ErrorOutcome{Decision: DecisionFailNoPersist}
		}),
	}
	states := []StateDefinition{{
		ID: "hold",
		Factory: factoryFor("hold", func(attempt int) (ExecutionResult, error) {
			started <- struct{}{}
			<-release
			return DefaultActions.Complete(nil, nil), nil
		}),
	}}

	store := newMemStore()
	adapter := lock.NewMemoryAdapter()
	executor := newTestExecutor(t, def, states, store, adapter)

	var firstDone sync.WaitGroup
	firstDone.Add(1)
	go func() {
		defer firstDone.Done()
		_, err := executor.Execute(context.Background(), ExecuteOptions{ExecutionID: "u1-a", Data: map[string]interface{}{"userId": "u1"}})
		assert.NoError(t, err)
	}()
	<-started

	second, err := executor.Execute(context.Background(), ExecuteOptions{ExecutionID: "u1-b", Data: map[string]interface{}{"userId": "u1"}})
	require.Error(t, err)
	require.NotNil(t, second)
	assert.Equal(t, StatusFailed, second.Status, "the returned execution still reflects the failure in memory")

	close(release)
	firstDone.Wait()

	persisted, loadErr := store.Load("u1-b")
	require.NoError(t, loadErr)
	assert.Equal(t, StatusRunning, persisted.Status, "FAIL_NO_PERSIST must never overwrite the stored execution with a FAILED status")
}

// S2: throttle saturation. maxConcurrentAfterUnlock=2: the first two
// acquisitions succeed, a third is denied, and after the first releases the
// third succeeds.
func TestConcurrencyManager_ThrottleSaturation(t *testing.T) {
	cfg := &ConcurrencyConfig{Mode: ModeThrottle, MaxConcurrentAfterUnlock: 2}
	mgr := NewConcurrencyManager(lock.NewMemoryAdapter())
	ctx := context.Background()

	ok1, err := mgr.AcquireGroupLock(ctx, "g", "exec1", cfg)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := mgr.AcquireGroupLock(ctx, "g", "exec2", cfg)
	require.NoError(t, err)
	assert.True(t, ok2)

	ok3, err := mgr.AcquireGroupLock(ctx, "g", "exec3", cfg)
	require.NoError(t, err)
	assert.False(t, ok3)

	require.NoError(t, mgr.ReleaseGroupLock(ctx, "g", "exec1"))

	ok3again, err := mgr.AcquireGroupLock(ctx, "g", "exec3", cfg)
	require.NoError(t, err)
	assert.True(t, ok3again)
}

// S3: conditional transition with virtual outputs. START branches to END
// when ctx.Data["skipAll"] is true, stamping {skipped:true} onto every
// bypassed state's output, and to STEP_A otherwise.
func TestWorkflowExecutor_ConditionalVirtualOutputs(t *testing.T) {
	skipAll := func(ctx *WorkflowContext) bool {
		v, _ := ctx.Data["skipAll"].(bool)
		return v
	}

	def := &WorkflowDefinition{
		Name:    "branch",
		States:  []string{"START", "STEP_A", "STEP_B", "STEP_C", "END"},
		Initial: "START",
		ConditionalTransitions: []ConditionalGroup{
			{
				From: "START",
				Conditions: []ConditionalEdge{
					{
						Guard: skipAll,
						To:    "END",
						VirtualOutputs: map[string]interface{}{
							"STEP_A": map[string]interface{}{"skipped": true},
							"STEP_B": map[string]interface{}{"skipped": true},
							"STEP_C": map[string]interface{}{"skipped": true},
						},
					},
				},
				Default: strPtr("STEP_A"),
			},
		},
	}
	states := []StateDefinition{
		{ID: "START", Factory: factoryFor("START", func(int) (ExecutionResult, error) {
			return DefaultActions.Next(nil, nil), nil
		})},
		{ID: "STEP_A", Factory: factoryFor("STEP_A", func(int) (ExecutionResult, error) {
			return DefaultActions.Next(nil, nil), nil
		})},
		{ID: "STEP_B", Factory: factoryFor("STEP_B", func(int) (ExecutionResult, error) {
			return DefaultActions.Next(nil, nil), nil
		})},
		{ID: "STEP_C", Factory: factoryFor("STEP_C", func(int) (ExecutionResult, error) {
			return DefaultActions.Next(nil, nil), nil
		})},
		{ID: "END", Factory: factoryFor("END", func(int) (ExecutionResult, error) {
			return DefaultActions.Complete(nil, map[string]interface{}{"done": true}), nil
		})},
	}

	executor := newTestExecutor(t, def, states, newMemStore(), nil)
	execution, err := executor.Execute(context.Background(), ExecuteOptions{
		Data: map[string]interface{}{"skipAll": true},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, execution.Status)
	assert.Equal(t, map[string]interface{}{"skipped": true}, execution.Context.Outputs["STEP_A"])
	assert.Equal(t, map[string]interface{}{"skipped": true}, execution.Context.Outputs["STEP_B"])
	assert.Equal(t, map[string]interface{}{"skipped": true}, execution.Context.Outputs["STEP_C"])
	assert.Equal(t, map[string]interface{}{"done": true}, execution.Context.Outputs["END"])
}

func strPtr(s string) *string { return &s }

// S4: exponential backoff with cap. maxAttempts=5, initialDelay=100ms,
// maxDelay=200ms, multiplier=2, succeeding on attempt 4: the three observed
// sleeps are 100ms, 200ms, 200ms (clamped).
func TestRetryEngine_ExponentialBackoffCap(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  5,
		Strategy:     RetryExponential,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		Multiplier:   2,
	}
	re := NewRetryEngine(NewStateExecutor(zap.NewNop()), zap.NewNop())

	assert.Equal(t, 100*time.Millisecond, re.backoff(policy, 1))
	assert.Equal(t, 200*time.Millisecond, re.backoff(policy, 2))
	assert.Equal(t, 200*time.Millisecond, re.backoff(policy, 3))
}

func TestRetryEngine_SucceedsOnFourthAttempt(t *testing.T) {
	def := StateDefinition{
		ID: "flaky",
		Retry: &RetryPolicy{
			MaxAttempts:  5,
			Strategy:     RetryExponential,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
		},
	}
	state := &funcState{id: "flaky", fn: func(attempt int) (ExecutionResult, error) {
		if attempt < 4 {
			return ExecutionResult{}, assertErr{msg: "not yet"}
		}
		return DefaultActions.Next(nil, nil), nil
	}}

	re := NewRetryEngine(NewStateExecutor(zap.NewNop()), zap.NewNop())
	wfCtx := newWorkflowContext("exec", "flaky", nil)

	result, err := re.Run(context.Background(), def, state, wfCtx, nil)

	require.NoError(t, err)
	assert.Equal(t, ActionNext, result.Action)

	failures := 0
	for _, rec := range wfCtx.History {
		if rec.Status == TransitionFailure {
			failures++
		}
	}
	assert.Equal(t, 3, failures)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

// S5: onFailure override. The state's underlying error is replaced by the
// state's OnFailure hook, and every retry attempt's history entry records
// the overridden error, not the original.
func TestStateExecutor_OnFailureOverride(t *testing.T) {
	underlying := assertErr{msg: "db down"}
	overridden := assertErr{msg: "svc unavailable"}

	state := &overridingState{id: "write", underlying: underlying, overridden: overridden}
	def := StateDefinition{
		ID: "write",
		Retry: &RetryPolicy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
		},
	}

	re := NewRetryEngine(NewStateExecutor(zap.NewNop()), zap.NewNop())
	wfCtx := newWorkflowContext("exec", "write", nil)

	_, err := re.Run(context.Background(), def, state, wfCtx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "svc unavailable")

	require.Len(t, wfCtx.History, 3)
	for _, rec := range wfCtx.History {
		assert.Equal(t, "svc unavailable", rec.Error)
	}
}

type overridingState struct {
	id         string
	underlying error
	overridden error
}

func (s *overridingState) ID() string { return s.id }

func (s *overridingState) Execute(ctx context.Context, actions Actions) (ExecutionResult, error) {
	return ExecutionResult{}, s.underlying
}

func (s *overridingState) OnFailure(ctx context.Context, wfCtx *WorkflowContext, err error) error {
	return s.overridden
}

// S6: resume with SKIP past the last state. An execution suspended in its
// only state, resumed with strategy SKIP, completes immediately with
// completedAt set and its group lock released.
func TestWorkflowExecutor_ResumeSkipPastLastState(t *testing.T) {
	def := &WorkflowDefinition{
		Name:    "one-state",
		States:  []string{"only"},
		Initial: "only",
		Concurrency: &ConcurrencyConfig{
			Mode:         ModeSequential,
			GroupByField: "userId",
		},
	}
	states := []StateDefinition{{
		ID: "only",
		Factory: factoryFor("only", func(int) (ExecutionResult, error) {
			return DefaultActions.Suspend(nil, nil, "approval"), nil
		}),
	}}

	store := newMemStore()
	adapter := lock.NewMemoryAdapter()
	executor := newTestExecutor(t, def, states, store, adapter)

	suspended, err := executor.Execute(context.Background(), ExecuteOptions{
		ExecutionID: "exec-1",
		Data:        map[string]interface{}{"userId": "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, suspended.Status)

	resumed, err := executor.Resume(context.Background(), "exec-1", ResumeOptions{Strategy: ResumeSkip})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	require.NotNil(t, resumed.Context.Metadata.CompletedAt)

	locked, err := adapter.IsLocked(context.Background(), lock.GroupKey("u1"))
	require.NoError(t, err)
	assert.False(t, locked)
}
