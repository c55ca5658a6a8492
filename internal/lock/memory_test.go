package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapter_AcquireReleaseExtend(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter()

	ok, err := adapter.Acquire(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	// A different holder is denied while "a" holds the key.
	ok, err = adapter.Acquire(ctx, "k", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	// The same holder reacquiring is idempotent.
	ok, err = adapter.Acquire(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	locked, err := adapter.IsLocked(ctx, "k")
	require.NoError(t, err)
	assert.True(t, locked)

	extended, err := adapter.Extend(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, extended)

	extended, err = adapter.Extend(ctx, "k", "b")
	require.NoError(t, err)
	assert.False(t, extended)

	require.NoError(t, adapter.Release(ctx, "k", "a"))
	locked, err = adapter.IsLocked(ctx, "k")
	require.NoError(t, err)
	assert.False(t, locked)

	// Releasing again is a no-op, not an error.
	require.NoError(t, adapter.Release(ctx, "k", "a"))

	ok, err = adapter.Acquire(ctx, "k", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}
