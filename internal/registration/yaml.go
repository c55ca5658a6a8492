package registration

import (
	"fmt"
	"time"

	"github.com/logimos/reactor/internal/engine"

	"gopkg.in/yaml.v3"
)

// yamlWorkflow is the file-declarable subset of WorkflowSpec: state
// factories, guards, and hooks are necessarily code-side, so this only
// covers metadata, mirroring how the teacher's WorkflowStep.Action is a
// string key into a separately-registered Go Action rather than code
// itself.
type yamlWorkflow struct {
	Name                   string                  `yaml:"name"`
	Initial                string                  `yaml:"initial"`
	States                 []yamlState             `yaml:"states"`
	Transitions            []yamlTransition        `yaml:"transitions"`
	ConditionalTransitions []yamlConditionalGroup  `yaml:"conditionalTransitions,omitempty"`
	Concurrency            *yamlConcurrency        `yaml:"concurrency,omitempty"`
}

type yamlState struct {
	ID          string         `yaml:"id"`
	Timeout     string         `yaml:"timeout,omitempty"`
	Delay       string         `yaml:"delay,omitempty"`
	UnlockAfter bool           `yaml:"unlockAfter,omitempty"`
	Retry       *yamlRetry     `yaml:"retry,omitempty"`
}

type yamlRetry struct {
	MaxAttempts  int     `yaml:"maxAttempts"`
	Strategy     string  `yaml:"strategy"`
	InitialDelay string  `yaml:"initialDelay"`
	MaxDelay     string  `yaml:"maxDelay,omitempty"`
	Multiplier   float64 `yaml:"multiplier,omitempty"`
}

type yamlTransition struct {
	From []string `yaml:"from"`
	To   string   `yaml:"to"`
}

// yamlConditionalGroup is the metadata-only shape of a ConditionalGroup:
// guards and virtual-output functions are code, so each edge only carries
// its target state here and is filled in later via AttachGuard, the same
// two-step pattern AttachFactory uses for states.
type yamlConditionalGroup struct {
	From       string                `yaml:"from"`
	Conditions []yamlConditionalEdge `yaml:"conditions"`
	Default    *string               `yaml:"default,omitempty"`
}

type yamlConditionalEdge struct {
	To string `yaml:"to"`
}

type yamlConcurrency struct {
	GroupByField             string `yaml:"groupByField"`
	Mode                     string `yaml:"mode"`
	MaxConcurrentAfterUnlock int    `yaml:"maxConcurrentAfterUnlock,omitempty"`
}

// LoadYAML parses the file-declarable metadata subset of a WorkflowSpec.
// Every StateSpec.Factory in the result is nil; call AttachFactory for
// each state id before compiling.
func LoadYAML(data []byte) (*WorkflowSpec, error) {
	var doc yamlWorkflow
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow yaml: %w", err)
	}

	states := make([]StateSpec, 0, len(doc.States))
	for _, s := range doc.States {
		timeout, err := parseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("state %q: timeout: %w", s.ID, err)
		}
		delay, err := parseDuration(s.Delay)
		if err != nil {
			return nil, fmt.Errorf("state %q: delay: %w", s.ID, err)
		}

		var retry *engine.RetryPolicy
		if s.Retry != nil {
			initialDelay, err := parseDuration(s.Retry.InitialDelay)
			if err != nil {
				return nil, fmt.Errorf("state %q: retry.initialDelay: %w", s.ID, err)
			}
			maxDelay, err := parseDuration(s.Retry.MaxDelay)
			if err != nil {
				return nil, fmt.Errorf("state %q: retry.maxDelay: %w", s.ID, err)
			}
			retry = &engine.RetryPolicy{
				MaxAttempts:  s.Retry.MaxAttempts,
				Strategy:     engine.RetryStrategy(s.Retry.Strategy),
				InitialDelay: initialDelay,
				MaxDelay:     maxDelay,
				Multiplier:   s.Retry.Multiplier,
			}
		}

		states = append(states, StateSpec{
			ID:          s.ID,
			Timeout:     timeout,
			Delay:       delay,
			Retry:       retry,
			UnlockAfter: s.UnlockAfter,
		})
	}

	transitions := make([]TransitionSpec, 0, len(doc.Transitions))
	for _, t := range doc.Transitions {
		transitions = append(transitions, TransitionSpec{From: t.From, To: t.To})
	}

	conditionalTransitions := make([]engine.ConditionalGroup, 0, len(doc.ConditionalTransitions))
	for _, g := range doc.ConditionalTransitions {
		conditions := make([]engine.ConditionalEdge, 0, len(g.Conditions))
		for _, c := range g.Conditions {
			conditions = append(conditions, engine.ConditionalEdge{To: c.To})
		}
		conditionalTransitions = append(conditionalTransitions, engine.ConditionalGroup{
			From:       g.From,
			Conditions: conditions,
			Default:    g.Default,
		})
	}

	var concurrency *engine.ConcurrencyConfig
	if doc.Concurrency != nil {
		concurrency = &engine.ConcurrencyConfig{
			GroupByField:             doc.Concurrency.GroupByField,
			Mode:                     engine.ConcurrencyMode(doc.Concurrency.Mode),
			MaxConcurrentAfterUnlock: doc.Concurrency.MaxConcurrentAfterUnlock,
		}
	}

	return &WorkflowSpec{
		Name:                   doc.Name,
		Initial:                doc.Initial,
		States:                 states,
		Transitions:            transitions,
		ConditionalTransitions: conditionalTransitions,
		Concurrency:            concurrency,
	}, nil
}

// AttachFactory sets the Factory for the named state, required before
// Compile since YAML cannot carry executable code.
func (s *WorkflowSpec) AttachFactory(stateID string, factory func() engine.State) error {
	for i := range s.States {
		if s.States[i].ID == stateID {
			s.States[i].Factory = factory
			return nil
		}
	}
	return fmt.Errorf("workflow %q: no declared state %q to attach a factory to", s.Name, stateID)
}

// AttachGuard sets the Guard and VirtualOutputs for the conditional edge
// leaving from at the given index (its position in the YAML-declared
// conditions list), required before Compile since YAML cannot carry
// executable guard functions.
func (s *WorkflowSpec) AttachGuard(from string, index int, guard func(*engine.WorkflowContext) bool, virtualOutputs map[string]interface{}) error {
	for i := range s.ConditionalTransitions {
		if s.ConditionalTransitions[i].From != from {
			continue
		}
		if index < 0 || index >= len(s.ConditionalTransitions[i].Conditions) {
			return fmt.Errorf("workflow %q: conditional group %q has no edge at index %d", s.Name, from, index)
		}
		s.ConditionalTransitions[i].Conditions[index].Guard = guard
		s.ConditionalTransitions[i].Conditions[index].VirtualOutputs = virtualOutputs
		return nil
	}
	return fmt.Errorf("workflow %q: no declared conditional group from state %q", s.Name, from)
}

// AttachDefaultVirtualOutputs sets the virtual outputs applied when no
// guard in the conditional group leaving from matches.
func (s *WorkflowSpec) AttachDefaultVirtualOutputs(from string, virtualOutputs map[string]interface{}) error {
	for i := range s.ConditionalTransitions {
		if s.ConditionalTransitions[i].From == from {
			s.ConditionalTransitions[i].DefaultVirtualOutputs = virtualOutputs
			return nil
		}
	}
	return fmt.Errorf("workflow %q: no declared conditional group from state %q", s.Name, from)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
