// Package housekeeping carries background maintenance that must never
// drive workflow execution itself — only refresh bookkeeping that would
// otherwise expire.
package housekeeping

import (
	"context"

	"github.com/logimos/reactor/internal/engine"
	"github.com/logimos/reactor/internal/lock"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// groupLocks is the subset of engine.ConcurrencyManager the janitor needs:
// a snapshot of currently hard-locked groups.
type groupLocks interface {
	HardLockedGroups() map[string]string
}

// LockJanitor periodically extends the TTL of every SEQUENTIAL-mode hard
// lock still held by a running execution. It never acquires, releases, or
// starts a workflow — it cannot violate a "no time-based triggers" rule
// because nothing it does drives execution forward.
type LockJanitor struct {
	cron        *cron.Cron
	concurrency groupLocks
	adapter     lock.Adapter
	logger      *zap.Logger
}

// NewLockJanitor builds a janitor that extends locks tracked by
// concurrency via adapter. The cron schedule is passed to Start and is
// parsed with seconds precision (e.g. "*/5 * * * * *" for every five
// seconds).
func NewLockJanitor(concurrency *engine.ConcurrencyManager, adapter lock.Adapter, logger *zap.Logger) *LockJanitor {
	return &LockJanitor{
		cron:        cron.New(cron.WithSeconds()),
		concurrency: concurrency,
		adapter:     adapter,
		logger:      logger,
	}
}

// Start schedules the TTL-refresh sweep and starts the cron scheduler.
func (j *LockJanitor) Start(schedule string) error {
	_, err := j.cron.AddFunc(schedule, j.sweep)
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("lock janitor started", zap.String("schedule", schedule))
	return nil
}

// Stop stops the cron scheduler, waiting for any in-flight sweep.
func (j *LockJanitor) Stop() context.Context {
	return j.cron.Stop()
}

func (j *LockJanitor) sweep() {
	ctx := context.Background()
	for groupID, executionID := range j.concurrency.HardLockedGroups() {
		key := lock.GroupKey(groupID)
		extended, err := j.adapter.Extend(ctx, key, executionID)
		if err != nil {
			j.logger.Warn("failed to extend lock", zap.String("group", groupID), zap.Error(err))
			continue
		}
		if !extended {
			j.logger.Warn("lock janitor found a hard lock it no longer owns",
				zap.String("group", groupID), zap.String("execution", executionID))
		}
	}
}
