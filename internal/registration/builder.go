package registration

import (
	"fmt"

	"github.com/logimos/reactor/internal/engine"
)

// Builder validates and compiles a WorkflowSpec into the types the engine
// registers, the same role the teacher's validateWorkflow played for its
// flat YAML workflow shape.
type Builder struct {
	spec WorkflowSpec
}

// NewBuilder wraps spec for validation and compilation.
func NewBuilder(spec WorkflowSpec) *Builder {
	return &Builder{spec: spec}
}

// Compile validates the spec and produces the engine-ready definition and
// state list. It never mutates the receiver's spec.
func (b *Builder) Compile() (*engine.WorkflowDefinition, []engine.StateDefinition, error) {
	if b.spec.Name == "" {
		return nil, nil, fmt.Errorf("workflow spec has no name")
	}
	if len(b.spec.States) == 0 {
		return nil, nil, fmt.Errorf("workflow %q declares no states", b.spec.Name)
	}

	ids := make(map[string]struct{}, len(b.spec.States))
	order := make([]string, 0, len(b.spec.States))
	defs := make([]engine.StateDefinition, 0, len(b.spec.States))

	for _, s := range b.spec.States {
		if s.ID == "" {
			return nil, nil, fmt.Errorf("workflow %q: a state has no id", b.spec.Name)
		}
		if _, dup := ids[s.ID]; dup {
			return nil, nil, fmt.Errorf("workflow %q: duplicate state id %q", b.spec.Name, s.ID)
		}
		if s.Factory == nil {
			return nil, nil, fmt.Errorf("workflow %q: state %q has no factory", b.spec.Name, s.ID)
		}
		if err := validateRetry(s.Retry); err != nil {
			return nil, nil, fmt.Errorf("workflow %q: state %q: %w", b.spec.Name, s.ID, err)
		}

		ids[s.ID] = struct{}{}
		order = append(order, s.ID)

		factory := s.Factory
		hooks := s.Hooks
		if !hooks.empty() {
			inner := factory
			factory = func() engine.State {
				return &hookedState{State: inner(), hooks: hooks}
			}
		}

		defs = append(defs, engine.StateDefinition{
			ID:          s.ID,
			Timeout:     s.Timeout,
			Delay:       s.Delay,
			Retry:       s.Retry,
			UnlockAfter: s.UnlockAfter,
			Factory:     factory,
		})
	}

	if b.spec.Initial == "" {
		return nil, nil, fmt.Errorf("workflow %q has no initial state", b.spec.Name)
	}
	if _, ok := ids[b.spec.Initial]; !ok {
		return nil, nil, fmt.Errorf("workflow %q: initial state %q is not a declared state", b.spec.Name, b.spec.Initial)
	}

	for _, t := range b.spec.Transitions {
		for _, from := range t.From {
			if _, ok := ids[from]; !ok {
				return nil, nil, fmt.Errorf("workflow %q: transition references unknown state %q", b.spec.Name, from)
			}
		}
		if _, ok := ids[t.To]; !ok {
			return nil, nil, fmt.Errorf("workflow %q: transition targets unknown state %q", b.spec.Name, t.To)
		}
	}

	for _, g := range b.spec.ConditionalTransitions {
		if _, ok := ids[g.From]; !ok {
			return nil, nil, fmt.Errorf("workflow %q: conditional group references unknown state %q", b.spec.Name, g.From)
		}
		for _, c := range g.Conditions {
			if _, ok := ids[c.To]; !ok {
				return nil, nil, fmt.Errorf("workflow %q: conditional edge targets unknown state %q", b.spec.Name, c.To)
			}
		}
		if g.Default != nil {
			if _, ok := ids[*g.Default]; !ok {
				return nil, nil, fmt.Errorf("workflow %q: conditional default targets unknown state %q", b.spec.Name, *g.Default)
			}
		}
	}

	def := &engine.WorkflowDefinition{
		Name:                   b.spec.Name,
		States:                 order,
		Initial:                b.spec.Initial,
		Transitions:            b.spec.Transitions,
		ConditionalTransitions: b.spec.ConditionalTransitions,
		Concurrency:            b.spec.Concurrency,
		ErrorHandler:           b.spec.ErrorHandler,
		Hooks:                  b.spec.Hooks,
		Plugins:                b.spec.Plugins,
	}

	return def, defs, nil
}

func validateRetry(policy *engine.RetryPolicy) error {
	if policy == nil {
		return nil
	}
	if policy.MaxAttempts < 1 {
		return fmt.Errorf("retry policy has MaxAttempts < 1")
	}
	if policy.InitialDelay < 0 {
		return fmt.Errorf("retry policy has negative InitialDelay")
	}
	if policy.MaxDelay < 0 {
		return fmt.Errorf("retry policy has negative MaxDelay")
	}
	return nil
}
