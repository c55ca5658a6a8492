package engine

import (
	"fmt"
	"time"
)

// ErrorPhase tags where, in the workflow executor's lifecycle, an error
// originated. The workflow executor hands the handler PhaseLockAcquisition
// for a denied group lock and PhaseStateExecute for every other error it
// routes there, including failures of the BeforeState/AfterState hooks and
// of plugin hooks; PhaseWorkflowStart, PhaseBeforeState and PhaseAfterState
// are declared but not produced, and an OnStart hook failure fails the
// execution without consulting the handler.
type ErrorPhase string

const (
	PhaseLockAcquisition ErrorPhase = "lock_acquisition"
	PhaseWorkflowStart   ErrorPhase = "workflow_start"
	PhaseBeforeState     ErrorPhase = "before_state"
	PhaseStateExecute    ErrorPhase = "state_execute"
	PhaseAfterState      ErrorPhase = "after_state"
)

// Decision is what an ErrorHandler asks the engine to do about an error.
type Decision string

const (
	DecisionContinue       Decision = "CONTINUE"
	DecisionExit           Decision = "EXIT"
	DecisionFail           Decision = "FAIL"
	DecisionFailNoPersist  Decision = "FAIL_NO_PERSIST"
	DecisionTransitionTo   Decision = "TRANSITION_TO"
	DecisionStopRetry      Decision = "STOP_RETRY"
)

// ErrorOutcome is the normalized record produced by an ErrorHandler: a
// decision plus whatever extra data that decision needs.
type ErrorOutcome struct {
	Decision    Decision
	TargetState string
	Output      interface{}
}

// ErrorContext is everything handed to an ErrorHandler.
type ErrorContext struct {
	Error       error
	Phase       ErrorPhase
	Context     *WorkflowContext
	Attempt     int
	MaxAttempts int
}

// ErrorHandler is the pluggable recovery-decision producer.
type ErrorHandler interface {
	Handle(ec ErrorContext) ErrorOutcome
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(ec ErrorContext) ErrorOutcome

func (f ErrorHandlerFunc) Handle(ec ErrorContext) ErrorOutcome { return f(ec) }

// StateTimeout is returned when a state's configured timeout elapses before
// Execute returns.
type StateTimeout struct {
	State     string
	Configured time.Duration
	Elapsed   time.Duration
}

func (e *StateTimeout) Error() string {
	return fmt.Sprintf("state %q timed out after %s (configured %s)", e.State, e.Elapsed, e.Configured)
}

// RetryExhausted wraps the final underlying error once a configured retry
// policy has used up all its attempts.
type RetryExhausted struct {
	OriginalError error
	Attempts      int
	Policy        *RetryPolicy
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.OriginalError)
}

func (e *RetryExhausted) Unwrap() error { return e.OriginalError }

// DefinitionError covers unknown workflows, unregistered states, and
// illegal goto targets — always surfaced, never routed through a handler.
type DefinitionError struct {
	Message string
}

func (e *DefinitionError) Error() string { return e.Message }

func definitionErrorf(format string, args ...interface{}) error {
	return &DefinitionError{Message: fmt.Sprintf(format, args...)}
}

// decisionError is attached to the error rethrown by the retry engine so
// the workflow executor's transition loop knows how to process it without
// re-invoking the handler.
type decisionError struct {
	err     error
	outcome ErrorOutcome
}

func (d *decisionError) Error() string { return d.err.Error() }
func (d *decisionError) Unwrap() error { return d.err }

func withDecision(err error, outcome ErrorOutcome) error {
	return &decisionError{err: err, outcome: outcome}
}

func asDecision(err error) (*decisionError, bool) {
	d, ok := err.(*decisionError)
	return d, ok
}

// normalizeOutcome guards against a handler returning the zero value: an
// empty Decision becomes DecisionFail.
func normalizeOutcome(o ErrorOutcome) ErrorOutcome {
	if o.Decision == "" {
		o.Decision = DecisionFail
	}
	return o
}
