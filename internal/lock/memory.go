package lock

import (
	"context"
	"sync"
)

// MemoryAdapter is an in-process Adapter backed by a map + mutex. It is the
// default for tests and single-process deployments.
type MemoryAdapter struct {
	mu      sync.Mutex
	holders map[string]string
}

var _ Adapter = (*MemoryAdapter)(nil)

// NewMemoryAdapter constructs an empty in-memory lock adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{holders: make(map[string]string)}
}

func (m *MemoryAdapter) Acquire(_ context.Context, key, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, locked := m.holders[key]; locked {
		if current == holder {
			return true, nil
		}
		return false, nil
	}
	m.holders[key] = holder
	return true, nil
}

func (m *MemoryAdapter) Release(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, locked := m.holders[key]; locked && current == holder {
		delete(m.holders, key)
	}
	return nil
}

func (m *MemoryAdapter) IsLocked(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, locked := m.holders[key]
	return locked, nil
}

func (m *MemoryAdapter) Extend(_ context.Context, key, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, locked := m.holders[key]
	return locked && current == holder, nil
}
