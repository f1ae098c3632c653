package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const snoozeLockKey = "crm:lock:snooze-sweep"

// Locker grants a lease so one replica runs a sweep per tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// SnoozeSweeper reopens conversations whose snooze expired.
type SnoozeSweeper interface {
	CheckSnoozed(ctx context.Context) (int, error)
}

// SnoozeWorker runs the snooze sweep on a fixed interval.
type SnoozeWorker struct {
	sweeper  SnoozeSweeper
	locker   Locker
	interval time.Duration
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewSnoozeWorker builds the worker. A nil locker runs every tick locally.
func NewSnoozeWorker(sweeper SnoozeSweeper, locker Locker, interval, lockTTL time.Duration, logger *zap.Logger) *SnoozeWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 || lockTTL > interval {
		lockTTL = interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnoozeWorker{sweeper: sweeper, locker: locker, interval: interval, lockTTL: lockTTL, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (w *SnoozeWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("snooze worker started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("snooze worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep if this replica wins the lock.
func (w *SnoozeWorker) Tick(ctx context.Context) {
	if w.locker != nil {
		release, ok, err := w.locker.TryLock(ctx, snoozeLockKey, w.lockTTL)
		if err != nil {
			w.logger.Warn("snooze lock unavailable", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		defer release()
	}
	reopened, err := w.sweeper.CheckSnoozed(ctx)
	if err != nil {
		w.logger.Error("snooze sweep failed", zap.Error(err))
		return
	}
	if reopened > 0 {
		w.logger.Info("snoozed conversations reopened", zap.Int("count", reopened))
	}
}
