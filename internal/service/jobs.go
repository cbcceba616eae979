package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/sweeplock"
)

// RunReconcileLoop периодически запускает сверку неоплаченных заказов. interval <= 0 отключает цикл.
func (s *Service) RunReconcileLoop(ctx context.Context, interval time.Duration, locker sweeplock.Locker) error {
	return s.runPeriodically(ctx, "reconcile", interval, locker, func(ctx context.Context) error {
		res, err := s.Reconcile(ctx, s.opts.ReconcileLookback, s.opts.ReconcileLimit)
		if err != nil {
			return err
		}
		if len(res.Updated) > 0 {
			s.logger.Info("reconcile sweep finished", zap.Int("checked", res.Checked), zap.Int64s("updated", res.Updated))
		}
		return nil
	})
}

// RunAutoCompleteLoop периодически завершает давно исполненные заказы. interval <= 0 отключает цикл.
func (s *Service) RunAutoCompleteLoop(ctx context.Context, interval time.Duration, locker sweeplock.Locker) error {
	return s.runPeriodically(ctx, "auto-complete", interval, locker, func(ctx context.Context) error {
		_, err := s.AutoComplete(ctx, s.opts.AutoCompleteDays)
		return err
	})
}

func (s *Service) runPeriodically(
	ctx context.Context,
	name string,
	interval time.Duration,
	locker sweeplock.Locker,
	fn func(ctx context.Context) error,
) error {
	if interval <= 0 {
		s.logger.Info("background job disabled", zap.String("job", name))
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx, name, interval, locker, fn)
		}
	}
}

// runOnce выполняет задачу, если ни один другой экземпляр сервиса не выполняет её сейчас.
func (s *Service) runOnce(
	ctx context.Context,
	name string,
	ttl time.Duration,
	locker sweeplock.Locker,
	fn func(ctx context.Context) error,
) {
	if locker != nil {
		release, ok, err := locker.TryLock(ctx, name, ttl)
		if err != nil {
			s.logger.Warn("acquire job lock", zap.String("job", name), zap.Error(err))
			return
		}
		if !ok {
			s.logger.Debug("job is running elsewhere, skipping", zap.String("job", name))
			return
		}
		defer release()
	}

	if err := fn(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("background job failed", zap.String("job", name), zap.Error(err))
	}
}
