// Package scheduler runs the periodic reconciliation work: the order
// expiry sweep that returns unpaid reservations to the pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/didstack/backoffice/internal/clock"
	"github.com/didstack/backoffice/internal/observability/metrics"
	orderdomain "github.com/didstack/backoffice/internal/order/domain"
	"github.com/didstack/backoffice/internal/redislock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler misconfigured")

const sweepLockKey = "scheduler:lock:expire_orders"

type Params struct {
	fx.In

	Log    *zap.Logger
	Ledger orderdomain.Ledger
	Clock  clock.Clock
	Locker *redislock.Locker `optional:"true"`
	Config Config            `optional:"true"`
}

type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	clock  clock.Clock
	ledger orderdomain.Ledger
	locker *redislock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Ledger == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:    p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:    p.Config.withDefaults(),
		clock:  p.Clock,
		ledger: p.Ledger,
		locker: p.Locker,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	m := metrics.Default()
	m.IncJobRun(name)

	err := fn(ctx)
	m.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	m.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, "expire_orders", s.ExpireOrdersJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpireOrdersJob sweeps unpaid orders past their reservation window.
// Each release is conditional on payment still being incomplete, so a
// confirm that lands mid-sweep is never undone. A single order's
// failure is logged and the sweep moves on.
func (s *Scheduler) ExpireOrdersJob(ctx context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("sweep lock unavailable", zap.Error(err))
		} else if !ok {
			return nil
		} else {
			defer func() { _ = s.locker.Release(ctx, sweepLockKey, token) }()
		}
	}

	now := s.clock.Now()
	var jobErr error
	expired := 0

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		orderIDs, err := s.ledger.ExpiredOrderIDs(ctx, now, s.cfg.SweepBatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(orderIDs) == 0 {
			break
		}

		progressed := false
		for _, orderID := range orderIDs {
			if err := s.ledger.Release(ctx, orderID); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.log.Error("expiry release failed",
					zap.String("order_id", orderID.String()),
					zap.Error(err),
				)
				continue
			}
			progressed = true
			expired++
			s.log.Info("order expired",
				zap.String("order_id", orderID.String()),
				zap.Time("deadline", now),
			)
		}
		if !progressed || len(orderIDs) < s.cfg.SweepBatchSize {
			// Short batch means the backlog is drained; a batch with no
			// progress would only spin on the same failures.
			break
		}
	}

	metrics.Default().IncOrdersExpired(expired)
	return jobErr
}
