package engine

import "fmt"

// StateRegistry resolves a state identifier to a fresh executable State,
// via the factory registered for it. The workflow executor resolves once
// per state run, so every retry attempt of that run shares one instance,
// while a later run of the same state gets a new one.
type StateRegistry struct {
	defs map[string]StateDefinition
}

// NewStateRegistry builds a registry from a workflow's state definitions.
func NewStateRegistry(defs []StateDefinition) *StateRegistry {
	m := make(map[string]StateDefinition, len(defs))
	for _, d := range defs {
		m[d.ID] = d
	}
	return &StateRegistry{defs: m}
}

// Definition returns the registered StateDefinition for id.
func (r *StateRegistry) Definition(id string) (StateDefinition, error) {
	d, ok := r.defs[id]
	if !ok {
		return StateDefinition{}, definitionErrorf("unregistered state: %s", id)
	}
	return d, nil
}

// Resolve instantiates the State for id via its registered factory.
func (r *StateRegistry) Resolve(id string) (State, error) {
	d, err := r.Definition(id)
	if err != nil {
		return nil, err
	}
	if d.Factory == nil {
		return nil, definitionErrorf("state %q has no factory", id)
	}
	instance := d.Factory()
	if instance == nil {
		return nil, definitionErrorf("state %q factory returned nil", id)
	}
	if instance.ID() != id {
		return nil, definitionErrorf("state %q factory returned state with id %q", id, instance.ID())
	}
	return instance, nil
}

func (r *StateRegistry) String() string {
	return fmt.Sprintf("StateRegistry(%d states)", len(r.defs))
}
