package engine

import (
	"context"
	"testing"

	"github.com/logimos/reactor/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Invariant 5: reentrancy. Acquiring twice for the same holder both
// succeed, under SEQUENTIAL and THROTTLE modes alike.
func TestConcurrencyManager_Reentrancy(t *testing.T) {
	ctx := context.Background()

	t.Run("sequential", func(t *testing.T) {
		mgr := NewConcurrencyManager(lock.NewMemoryAdapter())
		cfg := &ConcurrencyConfig{Mode: ModeSequential}
		ok1, err := mgr.AcquireGroupLock(ctx, "g", "x", cfg)
		require.NoError(t, err)
		assert.True(t, ok1)
		ok2, err := mgr.AcquireGroupLock(ctx, "g", "x", cfg)
		require.NoError(t, err)
		assert.True(t, ok2)
	})

	t.Run("throttle", func(t *testing.T) {
		mgr := NewConcurrencyManager(lock.NewMemoryAdapter())
		cfg := &ConcurrencyConfig{Mode: ModeThrottle, MaxConcurrentAfterUnlock: 1}
		ok1, err := mgr.AcquireGroupLock(ctx, "g", "x", cfg)
		require.NoError(t, err)
		assert.True(t, ok1)
		ok2, err := mgr.AcquireGroupLock(ctx, "g", "x", cfg)
		require.NoError(t, err)
		assert.True(t, ok2)
	})
}

// Invariant 6: release idempotence. A second release of an
// already-released holder is a no-op, not an error.
func TestConcurrencyManager_ReleaseIdempotence(t *testing.T) {
	ctx := context.Background()
	mgr := NewConcurrencyManager(lock.NewMemoryAdapter())
	cfg := &ConcurrencyConfig{Mode: ModeSequential}

	ok, err := mgr.AcquireGroupLock(ctx, "g", "x", cfg)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mgr.ReleaseGroupLock(ctx, "g", "x"))
	require.NoError(t, mgr.ReleaseGroupLock(ctx, "g", "x"))

	// The group is free again: a different holder can now acquire it.
	ok2, err := mgr.AcquireGroupLock(ctx, "g", "y", cfg)
	require.NoError(t, err)
	assert.True(t, ok2)
}

// Invariant 2: at most one execution holds a SEQUENTIAL group's hard lock
// at any instant; a second holder is rejected outright.
func TestConcurrencyManager_SequentialExclusivity(t *testing.T) {
	ctx := context.Background()
	mgr := NewConcurrencyManager(lock.NewMemoryAdapter())
	cfg := &ConcurrencyConfig{Mode: ModeSequential}

	ok1, err := mgr.AcquireGroupLock(ctx, "g", "a", cfg)
	require.NoError(t, err)
	require.True(t, ok1)

	ok2, err := mgr.AcquireGroupLock(ctx, "g", "b", cfg)
	require.NoError(t, err)
	assert.False(t, ok2)
}

// PartialUnlock releases the hard lock but keeps the holder's soft slot, so
// a later ReleaseGroupLock from the same holder is still the clean,
// idempotent path — it just no longer needs to touch the external adapter.
func TestConcurrencyManager_PartialUnlock(t *testing.T) {
	ctx := context.Background()
	mgr := NewConcurrencyManager(lock.NewMemoryAdapter())
	cfg := &ConcurrencyConfig{Mode: ModeSequential}

	ok, err := mgr.AcquireGroupLock(ctx, "g", "a", cfg)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mgr.PartialUnlock(ctx, "g", "a", cfg))

	// The hard lock is gone: a different holder can now acquire it.
	ok2, err := mgr.AcquireGroupLock(ctx, "g", "b", cfg)
	require.NoError(t, err)
	assert.True(t, ok2)
}
