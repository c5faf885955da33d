package reaper

import (
	"context"
	"time"

	"carecall-rtc/pkg/logger"
)

// Tick runs one pass if the cross-replica claim can be taken. It reports
// whether a pass ran. With a nil claimer every tick runs.
func (r *Reaper) Tick(ctx context.Context, lock Claimer, ttl time.Duration) (Report, bool) {
	l := logger.FromOr(ctx, r.log)
	if lock != nil {
		ok, release, err := lock.Claim(ctx, LockKey, ttl)
		if err != nil {
			l.Warn("reaper lock failed", "err", err)
			return Report{}, false
		}
		if !ok {
			l.Debug("reaper lock held elsewhere, skipping pass")
			return Report{}, false
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				l.Warn("reaper lock release failed", "err", err)
			}
		}()
	}

	rep, err := r.ReapDeadRooms(ctx)
	if err != nil {
		l.Warn("reap pass failed", "err", err)
		return Report{}, false
	}
	return rep, true
}

// Run ticks every interval until ctx is canceled. A non-positive interval
// returns immediately.
func (r *Reaper) Run(ctx context.Context, interval time.Duration, lock Claimer) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Tick(ctx, lock, interval)
		}
	}
}
