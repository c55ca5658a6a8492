package engine

import (
	"context"
	"sync"

	"github.com/logimos/reactor/internal/lock"
)

// softLock is the in-memory counter of active executions per group.
type softLock struct {
	active        map[string]struct{}
	maxConcurrent int
}

// groupLockInfo is the concurrency manager's per-group bookkeeping.
type groupLockInfo struct {
	hardLocked       bool
	currentExecution string
	soft             softLock
}

func newGroupLockInfo() *groupLockInfo {
	return &groupLockInfo{soft: softLock{active: make(map[string]struct{})}}
}

func (g *groupLockInfo) empty() bool {
	return !g.hardLocked && len(g.soft.active) == 0
}

// ConcurrencyManager grants or denies execution-level access to a logical
// group according to SEQUENTIAL/THROTTLE/PARALLEL modes, and provides the
// two-step partial-unlock / release protocol.
//
// All operations on groupLocks are critical sections; the map is mutated by
// every concurrently running execution.
type ConcurrencyManager struct {
	mu         sync.Mutex
	groupLocks map[string]*groupLockInfo
	adapter    lock.Adapter
}

// NewConcurrencyManager builds a manager backed by the given lock adapter,
// used only for SEQUENTIAL mode's external mirror.
func NewConcurrencyManager(adapter lock.Adapter) *ConcurrencyManager {
	return &ConcurrencyManager{
		groupLocks: make(map[string]*groupLockInfo),
		adapter:    adapter,
	}
}

// GroupIDFor resolves a group id from a ConcurrencyConfig: the named field
// in context Data, falling back to Context.GroupID, or the function form.
func GroupIDFor(ctx *WorkflowContext, cfg *ConcurrencyConfig) string {
	if cfg == nil {
		return ""
	}
	if cfg.GroupByFunc != nil {
		return cfg.GroupByFunc(ctx)
	}
	if cfg.GroupByField != "" {
		if v, ok := ctx.Data[cfg.GroupByField]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ctx.GroupID
}

// AcquireGroupLock attempts to grant executionID access to groupID under
// cfg's mode. A nil cfg always succeeds (no lock configured).
func (m *ConcurrencyManager) AcquireGroupLock(ctx context.Context, groupID, executionID string, cfg *ConcurrencyConfig) (bool, error) {
	if cfg == nil {
		return true, nil
	}

	switch cfg.Mode {
	case ModeParallel:
		m.mu.Lock()
		defer m.mu.Unlock()
		info := m.groupOrNew(groupID)
		info.soft.active[executionID] = struct{}{}
		return true, nil

	case ModeThrottle:
		m.mu.Lock()
		defer m.mu.Unlock()
		info := m.groupOrNew(groupID)
		if _, already := info.soft.active[executionID]; already {
			return true, nil
		}
		max := cfg.MaxConcurrentAfterUnlock
		if max > 0 && len(info.soft.active) >= max {
			return false, nil
		}
		info.soft.active[executionID] = struct{}{}
		return true, nil

	case ModeSequential:
		return m.acquireSequential(ctx, groupID, executionID, cfg)

	default:
		return true, nil
	}
}

func (m *ConcurrencyManager) acquireSequential(ctx context.Context, groupID, executionID string, cfg *ConcurrencyConfig) (bool, error) {
	m.mu.Lock()
	info := m.groupOrNew(groupID)

	if info.hardLocked && info.currentExecution == executionID {
		m.mu.Unlock()
		return true, nil
	}
	if info.hardLocked {
		m.mu.Unlock()
		return false, nil
	}
	if _, already := info.soft.active[executionID]; !already {
		max := cfg.MaxConcurrentAfterUnlock
		if max > 0 && len(info.soft.active) >= max {
			m.mu.Unlock()
			return false, nil
		}
	}
	m.mu.Unlock()

	ok, err := m.adapter.Acquire(ctx, lock.GroupKey(groupID), executionID)
	if err != nil || !ok {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	info = m.groupOrNew(groupID)
	info.hardLocked = true
	info.currentExecution = executionID
	info.soft.active[executionID] = struct{}{}
	return true, nil
}

// PartialUnlock releases the hard lock while retaining the holder's soft
// lock slot, letting a workflow hand off its exclusive phase before
// finishing. A no-op for non-holders or unconfigured groups.
func (m *ConcurrencyManager) PartialUnlock(ctx context.Context, groupID, executionID string, cfg *ConcurrencyConfig) error {
	if cfg == nil || cfg.Mode != ModeSequential {
		return nil
	}

	m.mu.Lock()
	info, exists := m.groupLocks[groupID]
	if !exists || !info.hardLocked || info.currentExecution != executionID {
		m.mu.Unlock()
		return nil
	}
	info.hardLocked = false
	info.currentExecution = ""
	m.mu.Unlock()

	return m.adapter.Release(ctx, lock.GroupKey(groupID), executionID)
}

// ReleaseGroupLock removes executionID from the group's soft lock, and
// releases the hard lock too if it was the holder. Idempotent: releasing
// an already-released execution, or an unknown group, is a no-op.
func (m *ConcurrencyManager) ReleaseGroupLock(ctx context.Context, groupID, executionID string) error {
	m.mu.Lock()
	info, exists := m.groupLocks[groupID]
	if !exists {
		m.mu.Unlock()
		return nil
	}

	delete(info.soft.active, executionID)
	wasHolder := info.hardLocked && info.currentExecution == executionID
	if wasHolder {
		info.hardLocked = false
		info.currentExecution = ""
	}
	empty := info.empty()
	if empty {
		delete(m.groupLocks, groupID)
	}
	m.mu.Unlock()

	if wasHolder {
		return m.adapter.Release(ctx, lock.GroupKey(groupID), executionID)
	}
	return nil
}

func (m *ConcurrencyManager) groupOrNew(groupID string) *groupLockInfo {
	info, exists := m.groupLocks[groupID]
	if !exists {
		info = newGroupLockInfo()
		m.groupLocks[groupID] = info
	}
	return info
}

// HardLockedGroups returns a snapshot of {groupID: executionID} for every
// group currently holding a SEQUENTIAL hard lock — used by the lock
// janitor to refresh TTLs without reaching into manager internals.
func (m *ConcurrencyManager) HardLockedGroups() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string)
	for groupID, info := range m.groupLocks {
		if info.hardLocked {
			out[groupID] = info.currentExecution
		}
	}
	return out
}
