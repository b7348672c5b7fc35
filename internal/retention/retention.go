// Package retention purges deliveries whose retention window has lapsed.
// Attempt rows go with them via the ON DELETE CASCADE on delivery_attempts.
package retention

import (
	"context"
	"time"

	"github.com/quayhook/quayhook/internal/logging"
	"github.com/quayhook/quayhook/internal/metrics"
)

// DeliveryPurger deletes deliveries whose expires_at is before now and
// returns how many rows went away.
type DeliveryPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs the periodic purge.
type Sweeper struct {
	purger   DeliveryPurger
	interval time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

func New(purger DeliveryPurger, interval time.Duration, logger *logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		purger:   purger,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.purger.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("retention sweep failed")
		return
	}
	if deleted > 0 {
		metrics.RetentionDeletesTotal.Add(float64(deleted))
		s.logger.WithContext(ctx).WithField("deleted", deleted).Info("retention sweep purged expired deliveries")
	}
}
