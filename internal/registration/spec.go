// Package registration is the declarative builder surface workflows are
// assembled through: a WorkflowSpec/StateSpec pair compiles into the
// immutable engine.WorkflowDefinition and []engine.StateDefinition the
// engine actually runs, instead of the engine reading workflow metadata
// off running state values.
package registration

import (
	"context"
	"time"

	"github.com/logimos/reactor/internal/engine"
)

// TransitionSpec and ConditionalGroupSpec are aliases of their engine
// counterparts: explicit transitions are already a plain data shape, and
// guard functions are necessarily code-side, so there's nothing a
// registration-specific type would add.
type (
	TransitionSpec      = engine.TransitionSpec
	ConditionalGroupSpec = engine.ConditionalGroup
)

// StateHooks are the optional per-state lifecycle callbacks a StateSpec
// may declare instead of implementing them as methods on the State value
// itself. Any field may be nil.
type StateHooks struct {
	OnStart   func(ctx context.Context, wfCtx *engine.WorkflowContext) error
	OnSuccess func(ctx context.Context, wfCtx *engine.WorkflowContext, result engine.ExecutionResult) error
	OnFailure func(ctx context.Context, wfCtx *engine.WorkflowContext, err error) error
	OnFinish  func(ctx context.Context, wfCtx *engine.WorkflowContext) error
}

func (h StateHooks) empty() bool {
	return h.OnStart == nil && h.OnSuccess == nil && h.OnFailure == nil && h.OnFinish == nil
}

// StateSpec is the declarative description of one state, compiled into an
// engine.StateDefinition.
type StateSpec struct {
	ID          string
	Hooks       StateHooks
	Timeout     time.Duration
	Delay       time.Duration
	Retry       *engine.RetryPolicy
	UnlockAfter bool
	Factory     func() engine.State
}

// WorkflowSpec is the declarative description of an entire workflow,
// compiled into an engine.WorkflowDefinition plus its states.
type WorkflowSpec struct {
	Name                   string
	States                 []StateSpec
	Initial                string
	Transitions            []TransitionSpec
	ConditionalTransitions []ConditionalGroupSpec
	Concurrency            *engine.ConcurrencyConfig
	ErrorHandler           engine.ErrorHandler
	Hooks                  engine.Hooks
	Plugins                []engine.Plugin
}

// hookedState wraps a plain engine.State with the optional hooks declared
// on its StateSpec, so StateExecutor's type assertions against
// engine.StateOnStart/OnSuccess/OnFailure/OnFinish see them regardless of
// whether the underlying State implements those methods itself.
type hookedState struct {
	engine.State
	hooks StateHooks
}

func (h *hookedState) OnStart(ctx context.Context, wfCtx *engine.WorkflowContext) error {
	if h.hooks.OnStart == nil {
		return nil
	}
	return h.hooks.OnStart(ctx, wfCtx)
}

func (h *hookedState) OnSuccess(ctx context.Context, wfCtx *engine.WorkflowContext, result engine.ExecutionResult) error {
	if h.hooks.OnSuccess == nil {
		return nil
	}
	return h.hooks.OnSuccess(ctx, wfCtx, result)
}

func (h *hookedState) OnFailure(ctx context.Context, wfCtx *engine.WorkflowContext, err error) error {
	if h.hooks.OnFailure == nil {
		return nil
	}
	return h.hooks.OnFailure(ctx, wfCtx, err)
}

func (h *hookedState) OnFinish(ctx context.Context, wfCtx *engine.WorkflowContext) error {
	if h.hooks.OnFinish == nil {
		return nil
	}
	return h.hooks.OnFinish(ctx, wfCtx)
}
