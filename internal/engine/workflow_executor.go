package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// generateExecutionID produces an auto-generated execution identifier in
// the exec_<unix-ms>_<random-base36> form; uuid.NewString is still used
// elsewhere (audit.KafkaSink's per-message EventID) for internal
// correlation ids that aren't the execution id itself.
func generateExecutionID() string {
	ms := time.Now().UnixMilli()
	suffix := strconv.FormatInt(rand.Int63(), 36) // #nosec G404 -- id suffix, not a security token
	return fmt.Sprintf("exec_%d_%s", ms, suffix)
}

// WorkflowExecutor drives one WorkflowDefinition's executions from start to
// a terminal or suspended state, composing the concurrency manager, retry
// engine, plugin manager, and a persistence Store.
type WorkflowExecutor struct {
	def         *WorkflowDefinition
	registry    *StateRegistry
	concurrency *ConcurrencyManager
	retry       *RetryEngine
	plugins     *pluginManager
	store       Store
	logger      *zap.Logger
}

// NewWorkflowExecutor wires the components a single workflow needs to run.
func NewWorkflowExecutor(def *WorkflowDefinition, registry *StateRegistry, concurrency *ConcurrencyManager, retry *RetryEngine, store Store, logger *zap.Logger) *WorkflowExecutor {
	return &WorkflowExecutor{
		def:         def,
		registry:    registry,
		concurrency: concurrency,
		retry:       retry,
		plugins:     newPluginManager(def.Plugins),
		store:       store,
		logger:      logger,
	}
}

// Init runs the registered plugins' OnInit hooks once, before any
// execution of this workflow starts.
func (we *WorkflowExecutor) Init(ctx context.Context) error {
	return we.plugins.onInit(ctx)
}

// Execute starts a new execution of the workflow at its initial state and
// drives it until it completes, fails, or suspends.
func (we *WorkflowExecutor) Execute(ctx context.Context, opts ExecuteOptions) (*WorkflowExecution, error) {
	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = generateExecutionID()
	}

	wfCtx := newWorkflowContext(executionID, we.def.Initial, opts.Data)

	extended, err := we.plugins.extendContext(ctx, wfCtx)
	if err != nil {
		return nil, err
	}
	wfCtx = extended

	execution := &WorkflowExecution{
		ID:           executionID,
		WorkflowName: we.def.Name,
		Status:       StatusRunning,
		Context:      wfCtx,
	}
	if err := we.store.Save(execution); err != nil {
		return nil, err
	}

	if hook := we.def.Hooks.OnStart; hook != nil {
		if err := hook(ctx, wfCtx); err != nil {
			return we.fail(ctx, execution, err)
		}
	}

	return we.run(ctx, execution)
}

// Resume reanimates a suspended execution per opts.Strategy.
func (we *WorkflowExecutor) Resume(ctx context.Context, executionID string, opts ResumeOptions) (*WorkflowExecution, error) {
	execution, err := we.store.Load(executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status != StatusSuspended {
		return nil, definitionErrorf("execution %q is not suspended (status=%s)", executionID, execution.Status)
	}

	wfCtx := execution.Context
	for k, v := range opts.Data {
		wfCtx.Data[k] = v
	}

	switch opts.Strategy {
	case ResumeSkip:
		next, _ := we.def.next(wfCtx)
		if next == nil {
			execution.Status = StatusCompleted
			execution.Suspension = nil
			now := time.Now()
			wfCtx.Metadata.CompletedAt = &now
			wfCtx.touch()
			if err := we.store.Update(execution.ID, execution); err != nil {
				return nil, err
			}
			return execution, nil
		}
		wfCtx.CurrentState = *next

	case ResumeGoto:
		if !we.def.CanTransition(wfCtx.CurrentState, opts.TargetState) {
			return nil, definitionErrorf("illegal resume goto: %s -> %s", wfCtx.CurrentState, opts.TargetState)
		}
		wfCtx.CurrentState = opts.TargetState

	case ResumeRetry:
		// re-enter the state the execution suspended at, unchanged.

	default:
		return nil, definitionErrorf("unknown resume strategy: %s", opts.Strategy)
	}

	execution.Status = StatusRunning
	execution.Suspension = nil
	wfCtx.touch()
	if err := we.store.Update(execution.ID, execution); err != nil {
		return nil, err
	}

	return we.run(ctx, execution)
}

// run is the transition loop shared by Execute and Resume. It advances
// execution one state at a time until a terminal action, an unrecoverable
// error, or context cancellation.
func (we *WorkflowExecutor) run(ctx context.Context, execution *WorkflowExecution) (*WorkflowExecution, error) {
	wfCtx := execution.Context

	for {
		if err := ctx.Err(); err != nil {
			return we.fail(ctx, execution, err)
		}

		groupID := GroupIDFor(wfCtx, we.def.Concurrency)
		wfCtx.GroupID = groupID
		exit, err := we.acquireLock(ctx, groupID, wfCtx.ExecutionID)
		if err != nil {
			return we.fail(ctx, execution, err)
		}
		if exit {
			return execution, nil
		}

		result, runErr := we.runState(ctx, wfCtx)
		if runErr != nil {
			outcome, handled := we.handleError(ctx, execution, runErr)
			if !handled {
				_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
				return we.fail(ctx, execution, runErr)
			}
			switch outcome.Decision {
			case DecisionContinue:
				_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
				continue
			case DecisionTransitionTo:
				if !we.def.CanTransition(wfCtx.CurrentState, outcome.TargetState) {
					_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
					return we.fail(ctx, execution, definitionErrorf("error handler requested illegal transition: %s -> %s", wfCtx.CurrentState, outcome.TargetState))
				}
				wfCtx.appendTransition(TransitionRecord{
					From:        wfCtx.CurrentState,
					To:          outcome.TargetState,
					StartedAt:   time.Now(),
					CompletedAt: time.Now(),
					Status:      TransitionErrorRecovery,
				})
				wfCtx.CurrentState = outcome.TargetState
				if outcome.Output != nil {
					wfCtx.Outputs[wfCtx.CurrentState] = outcome.Output
				}
				_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
				if err := we.store.Update(execution.ID, execution); err != nil {
					return nil, err
				}
				continue
			case DecisionExit, DecisionFail:
				_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
				return we.fail(ctx, execution, runErr)
			case DecisionFailNoPersist:
				_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
				return execution, runErr
			default:
				_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
				return we.fail(ctx, execution, runErr)
			}
		}

		if err := we.applyResult(ctx, execution, result); err != nil {
			_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
			return we.fail(ctx, execution, err)
		}

		stateDef, _ := we.registry.Definition(wfCtx.CurrentState)
		if stateDef.UnlockAfter {
			_ = we.concurrency.PartialUnlock(ctx, groupID, wfCtx.ExecutionID, we.def.Concurrency)
		}

		terminal, err := we.advance(ctx, execution, result)
		if err != nil {
			_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
			return we.fail(ctx, execution, err)
		}
		if terminal {
			_ = we.concurrency.ReleaseGroupLock(ctx, groupID, wfCtx.ExecutionID)
			return execution, nil
		}
	}
}

// acquireLock makes a single, non-blocking attempt at the group lock —
// there is no queue; the caller decides whether to retry. On denial it
// consults def.ErrorHandler once at PhaseLockAcquisition: EXIT or CONTINUE
// return the execution as-is (exit=true, no error, no persistence write);
// anything else, including no handler at all, throws immediately.
func (we *WorkflowExecutor) acquireLock(ctx context.Context, groupID, executionID string) (exit bool, err error) {
	ok, err := we.concurrency.AcquireGroupLock(ctx, groupID, executionID, we.def.Concurrency)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	lockErr := fmt.Errorf("group %q lock denied for execution %q", groupID, executionID)
	if we.def.ErrorHandler == nil {
		return false, lockErr
	}

	outcome := normalizeOutcome(we.def.ErrorHandler.Handle(ErrorContext{
		Error: lockErr,
		Phase: PhaseLockAcquisition,
	}))
	switch outcome.Decision {
	case DecisionExit, DecisionContinue:
		return true, nil
	default:
		return false, withDecision(lockErr, outcome)
	}
}

func (we *WorkflowExecutor) runState(ctx context.Context, wfCtx *WorkflowContext) (ExecutionResult, error) {
	stateDef, err := we.registry.Definition(wfCtx.CurrentState)
	if err != nil {
		return ExecutionResult{}, err
	}
	state, err := we.registry.Resolve(wfCtx.CurrentState)
	if err != nil {
		return ExecutionResult{}, err
	}

	if err := we.plugins.beforeExecute(ctx, wfCtx); err != nil {
		return ExecutionResult{}, err
	}
	if hook := we.def.Hooks.BeforeState; hook != nil {
		if err := hook(ctx, wfCtx); err != nil {
			return ExecutionResult{}, err
		}
	}

	result, err := we.retry.Run(ctx, stateDef, state, wfCtx, we.def.ErrorHandler)
	if err != nil {
		return result, err
	}

	if err := we.plugins.afterExecute(ctx, wfCtx); err != nil {
		return result, err
	}
	if hook := we.def.Hooks.AfterState; hook != nil {
		if err := hook(ctx, wfCtx); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (we *WorkflowExecutor) handleError(ctx context.Context, execution *WorkflowExecution, err error) (ErrorOutcome, bool) {
	if we.def.Hooks.OnError != nil {
		_ = we.def.Hooks.OnError(ctx, execution.Context, err)
	}
	we.plugins.onError(ctx, execution.Context, err)

	if d, ok := asDecision(err); ok {
		return d.outcome, true
	}
	if _, isDef := err.(*DefinitionError); isDef {
		return ErrorOutcome{}, false
	}
	if we.def.ErrorHandler == nil {
		return ErrorOutcome{}, false
	}
	outcome := normalizeOutcome(we.def.ErrorHandler.Handle(ErrorContext{
		Error:   err,
		Phase:   PhaseStateExecute,
		Context: execution.Context,
	}))
	return outcome, true
}

// applyResult merges a successful ExecutionResult into the running
// WorkflowContext and appends its transition record. It does not move
// CurrentState — that's advance's job.
func (we *WorkflowExecutor) applyResult(ctx context.Context, execution *WorkflowExecution, result ExecutionResult) error {
	wfCtx := execution.Context
	for k, v := range result.Data {
		wfCtx.Data[k] = v
	}
	if result.Output != nil {
		wfCtx.Outputs[wfCtx.CurrentState] = result.Output
	}
	return we.store.Update(execution.ID, execution)
}

// advance interprets the state's chosen Action and moves the execution
// forward. It reports terminal=true once the caller should stop looping
// (suspended or completed).
func (we *WorkflowExecutor) advance(ctx context.Context, execution *WorkflowExecution, result ExecutionResult) (terminal bool, err error) {
	wfCtx := execution.Context
	from := wfCtx.CurrentState

	switch result.Action {
	case ActionSuspend:
		execution.Status = StatusSuspended
		execution.Suspension = &Suspension{WaitingFor: result.SuspensionWaitingFor, SuspendedAt: time.Now()}
		wfCtx.appendTransition(TransitionRecord{
			From:        from,
			To:          from,
			StartedAt:   time.Now(),
			CompletedAt: time.Now(),
			Status:      TransitionSuspended,
		})
		return true, we.store.Update(execution.ID, execution)

	case ActionComplete:
		execution.Status = StatusCompleted
		now := time.Now()
		wfCtx.Metadata.CompletedAt = &now
		wfCtx.appendTransition(TransitionRecord{
			From:        from,
			To:          from,
			StartedAt:   time.Now(),
			CompletedAt: time.Now(),
			Status:      TransitionSuccess,
		})
		if hook := we.def.Hooks.OnComplete; hook != nil {
			if err := hook(ctx, wfCtx); err != nil {
				we.logger.Warn("workflow onComplete failed", zap.String("workflow", we.def.Name), zap.Error(err))
			}
		}
		return true, we.store.Update(execution.ID, execution)

	case ActionGoto:
		if !we.def.CanTransition(from, result.TargetState) {
			return false, definitionErrorf("illegal goto: %s -> %s", from, result.TargetState)
		}
		wfCtx.appendTransition(TransitionRecord{
			From:        from,
			To:          result.TargetState,
			StartedAt:   time.Now(),
			CompletedAt: time.Now(),
			Status:      TransitionSuccess,
		})
		wfCtx.CurrentState = result.TargetState
		return false, we.store.Update(execution.ID, execution)

	case ActionNext:
		next, _ := we.def.next(wfCtx)
		if next == nil {
			execution.Status = StatusCompleted
			now := time.Now()
			wfCtx.Metadata.CompletedAt = &now
			wfCtx.appendTransition(TransitionRecord{
				From:        from,
				To:          from,
				StartedAt:   time.Now(),
				CompletedAt: time.Now(),
				Status:      TransitionSuccess,
			})
			if hook := we.def.Hooks.OnComplete; hook != nil {
				if err := hook(ctx, wfCtx); err != nil {
					we.logger.Warn("workflow onComplete failed", zap.String("workflow", we.def.Name), zap.Error(err))
				}
			}
			return true, we.store.Update(execution.ID, execution)
		}
		wfCtx.appendTransition(TransitionRecord{
			From:        from,
			To:          *next,
			StartedAt:   time.Now(),
			CompletedAt: time.Now(),
			Status:      TransitionSuccess,
		})
		wfCtx.CurrentState = *next
		return false, we.store.Update(execution.ID, execution)

	default:
		return false, definitionErrorf("state %q returned unknown action %q", from, result.Action)
	}
}

func (we *WorkflowExecutor) fail(ctx context.Context, execution *WorkflowExecution, cause error) (*WorkflowExecution, error) {
	execution.Status = StatusFailed
	execution.Context.touch()
	if d, ok := asDecision(cause); ok && d.outcome.Decision == DecisionFailNoPersist {
		return execution, cause
	}
	if err := we.store.Update(execution.ID, execution); err != nil {
		we.logger.Error("failed to persist failed execution", zap.String("execution", execution.ID), zap.Error(err))
	}
	return execution, cause
}
