package scheduler

import (
	"context"
	"time"
)

// Locker — блокировка лидера между экземплярами планировщика
// (repo.AdvisoryLock).
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Check(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Run выполняет Tick каждые interval, пока ctx не отменён.
//
// Тики выполняет только лидер: экземпляр, взявший lock. Остальные
// пробуют взять lock на каждом тике. При потере lock экземпляр
// перестаёт тикать до следующего успешного TryLock.
// nil locker — экземпляр всегда лидер.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, locker Locker) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	leader := false
	defer func() {
		if leader && locker != nil {
			// ctx уже отменён
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := locker.Unlock(unlockCtx); err != nil {
				s.logger.Warn("failed to release leader lock", "error", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		leader = s.ensureLeader(ctx, locker, leader)
		if !leader {
			continue
		}

		result, err := s.Tick(ctx)
		if err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
			continue
		}
		if result.Due > 0 {
			s.logger.Info("scheduler tick",
				"due", result.Due,
				"processed", result.Processed,
				"created", result.Created,
			)
		}
	}
}

// ensureLeader берёт или подтверждает лидерство.
func (s *Scheduler) ensureLeader(ctx context.Context, locker Locker, leader bool) bool {
	if locker == nil {
		return true
	}

	if leader {
		if err := locker.Check(ctx); err == nil {
			return true
		}
		s.logger.Warn("leader lock lost")
		leader = false
	}

	ok, err := locker.TryLock(ctx)
	if err != nil {
		s.logger.Error("failed to acquire leader lock", "error", err)
		return false
	}
	if ok {
		s.logger.Info("became scheduler leader")
	}
	return ok
}
