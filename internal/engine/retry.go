package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryEngine wraps one state attempt in the workflow executor's transition
// loop, interacting with the error handler between attempts.
type RetryEngine struct {
	stateExecutor *StateExecutor
	logger        *zap.Logger
}

// NewRetryEngine builds a RetryEngine driving stateExecutor.
func NewRetryEngine(stateExecutor *StateExecutor, logger *zap.Logger) *RetryEngine {
	return &RetryEngine{stateExecutor: stateExecutor, logger: logger}
}

// Run executes def/state, retrying on failure per def.Retry, consulting
// handler (which may be nil) between attempts. Every failed attempt appends
// a "failure" transition to wfCtx.History.
func (re *RetryEngine) Run(ctx context.Context, def StateDefinition, state State, wfCtx *WorkflowContext, handler ErrorHandler) (ExecutionResult, error) {
	n := def.Retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= n; attempt++ {
		wfCtx.Metadata.TotalAttempts++
		startedAt := time.Now()
		result, err := re.stateExecutor.Run(ctx, def, state, wfCtx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		wfCtx.appendTransition(TransitionRecord{
			From:        wfCtx.CurrentState,
			To:          wfCtx.CurrentState,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
			Duration:    time.Since(startedAt),
			Status:      TransitionFailure,
			Attempt:     attempt,
			Error:       err.Error(),
		})

		if handler != nil {
			outcome, handlerErr := re.consult(handler, ErrorContext{
				Error:       err,
				Phase:       PhaseStateExecute,
				Context:     wfCtx,
				Attempt:     attempt,
				MaxAttempts: n,
			})
			if handlerErr != nil {
				re.logger.Warn("error handler panicked during retry", zap.Error(handlerErr))
			} else {
				switch outcome.Decision {
				case DecisionStopRetry:
					return ExecutionResult{}, err
				case DecisionTransitionTo, DecisionExit, DecisionContinue, DecisionFail, DecisionFailNoPersist:
					return ExecutionResult{}, withDecision(err, outcome)
				}
			}
		}

		if attempt == n {
			if def.Retry != nil {
				return ExecutionResult{}, &RetryExhausted{OriginalError: lastErr, Attempts: n, Policy: def.Retry}
			}
			return ExecutionResult{}, lastErr
		}

		time.Sleep(re.backoff(def.Retry, attempt))
	}

	return ExecutionResult{}, lastErr
}

// consult calls handler.Handle, recovering a handler panic the way a
// handler "throwing" would be caught in the source runtime.
func (re *RetryEngine) consult(handler ErrorHandler, ec ErrorContext) (outcome ErrorOutcome, panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr = toError(r)
		}
	}()
	return normalizeOutcome(handler.Handle(ec)), nil
}

func (re *RetryEngine) backoff(policy *RetryPolicy, attempt int) time.Duration {
	if policy == nil {
		return 0
	}
	var d time.Duration
	switch policy.Strategy {
	case RetryLinear:
		d = policy.InitialDelay * time.Duration(attempt)
	case RetryExponential:
		mult := policy.multiplier()
		factor := 1.0
		for i := 0; i < attempt-1; i++ {
			factor *= mult
		}
		d = time.Duration(float64(policy.InitialDelay) * factor)
	default:
		d = policy.InitialDelay
	}
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	return d
}

func toError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return definitionErrorf("%v", r)
}
