package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StateExecutor runs one state's Execute exactly once (retries happen
// above this layer), enforcing its timeout and delay, and ordering its
// lifecycle hooks deterministically:
//
//	success: onStart -> delay -> execute -> onSuccess -> onFinish
//	failure: onStart -> delay -> execute (err) -> onFailure (may override) -> onFinish
type StateExecutor struct {
	logger *zap.Logger
}

// NewStateExecutor builds a StateExecutor that logs swallowed hook errors
// through logger.
func NewStateExecutor(logger *zap.Logger) *StateExecutor {
	return &StateExecutor{logger: logger}
}

// Run executes def/state once against wfCtx and returns the resulting
// ExecutionResult, or the (possibly hook-overridden) error.
func (se *StateExecutor) Run(ctx context.Context, def StateDefinition, state State, wfCtx *WorkflowContext) (ExecutionResult, error) {
	if onStart, ok := state.(StateOnStart); ok {
		if err := onStart.OnStart(ctx, wfCtx); err != nil {
			se.logger.Warn("state onStart failed", zap.String("state", def.ID), zap.Error(err))
		}
	}

	if def.Delay > 0 {
		timer := time.NewTimer(def.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return se.finish(ctx, def, state, wfCtx, ExecutionResult{}, ctx.Err())
		}
	}

	result, err := se.execute(ctx, def, state)

	if err != nil {
		if onFailure, ok := state.(StateOnFailure); ok {
			if override := onFailure.OnFailure(ctx, wfCtx, err); override != nil {
				err = override
			}
		}
		return se.finish(ctx, def, state, wfCtx, result, err)
	}

	if onSuccess, ok := state.(StateOnSuccess); ok {
		if hookErr := onSuccess.OnSuccess(ctx, wfCtx, result); hookErr != nil {
			se.logger.Warn("state onSuccess failed", zap.String("state", def.ID), zap.Error(hookErr))
		}
	}

	return se.finish(ctx, def, state, wfCtx, result, nil)
}

func (se *StateExecutor) finish(ctx context.Context, def StateDefinition, state State, wfCtx *WorkflowContext, result ExecutionResult, err error) (ExecutionResult, error) {
	if onFinish, ok := state.(StateOnFinish); ok {
		if hookErr := onFinish.OnFinish(ctx, wfCtx); hookErr != nil {
			se.logger.Warn("state onFinish failed", zap.String("state", def.ID), zap.Error(hookErr))
		}
	}
	return result, err
}

// execute runs the state's Execute call, racing it against the configured
// timeout. The in-flight call cannot be cooperatively interrupted: its
// result is simply discarded once the timeout fires, though a cancellation
// signal is still propagated via ctx for states that check it.
func (se *StateExecutor) execute(ctx context.Context, def StateDefinition, state State) (ExecutionResult, error) {
	if def.Timeout <= 0 {
		return state.Execute(ctx, DefaultActions)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	started := time.Now()

	go func() {
		result, err := state.Execute(runCtx, DefaultActions)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(def.Timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.result, o.err
	case <-timer.C:
		return ExecutionResult{}, &StateTimeout{
			State:      def.ID,
			Configured: def.Timeout,
			Elapsed:    time.Since(started),
		}
	}
}
