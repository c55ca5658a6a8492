// Package lock defines the distributed lock adapter the concurrency
// manager mirrors SEQUENTIAL-mode hard locks into, plus reference
// implementations.
package lock

import "context"

// Adapter is the external, non-blocking distributed lock primitive used
// only by SEQUENTIAL mode, keyed "workflow:group:<groupId>".
type Adapter interface {
	// Acquire attempts to take the lock for holder; it never blocks.
	Acquire(ctx context.Context, key, holder string) (bool, error)
	// Release gives up the lock if held by holder; a no-op otherwise.
	Release(ctx context.Context, key, holder string) error
	// IsLocked reports whether the key is currently held by anyone.
	IsLocked(ctx context.Context, key string) (bool, error)
	// Extend refreshes the lock's TTL if still held by holder.
	Extend(ctx context.Context, key, holder string) (bool, error)
}

// GroupKey builds the external lock key for a group id.
func GroupKey(groupID string) string {
	return "workflow:group:" + groupID
}
