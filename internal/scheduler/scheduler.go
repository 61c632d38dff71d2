package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/config"
	"github.com/mamadbah2/broiler/internal/lock"
	"github.com/mamadbah2/broiler/internal/service/accrual"
	"github.com/mamadbah2/broiler/internal/service/metrics"
)

const (
	accrualJob  = "feed_accrual"
	backfillJob = "metrics_backfill"
	cronActor   = "system"
)

// AccrualRunner runs the daily feed checkpoint over live cycles.
type AccrualRunner interface {
	Run(ctx context.Context, officerID, userID string) (*accrual.Summary, error)
}

// BackfillRunner replays metrics over archived cycles.
type BackfillRunner interface {
	Backfill(ctx context.Context) (*metrics.BackfillSummary, error)
}

// Scheduler manages the periodic batch triggers.
type Scheduler struct {
	cron     *cron.Cron
	accrual  AccrualRunner
	backfill BackfillRunner
	locker   lock.Locker
	cfg      config.SchedulerConfig
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler on the configured timezone. locker may be nil.
func NewScheduler(cfg config.SchedulerConfig, lockTTL time.Duration, accrualSvc AccrualRunner, backfillSvc BackfillRunner, locker lock.Locker, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.Nop{}
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load scheduler timezone %s: %w", cfg.Timezone, err)
	}

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		accrual:  accrualSvc,
		backfill: backfillSvc,
		locker:   locker,
		cfg:      cfg,
		lockTTL:  lockTTL,
		logger:   logger,
	}, nil
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler",
		zap.String("accrual", s.cfg.AccrualCron),
		zap.String("backfill", s.cfg.BackfillCron),
		zap.String("timezone", s.cfg.Timezone))

	if _, err := s.cron.AddFunc(s.cfg.AccrualCron, func() { s.runJob(accrualJob, s.runAccrual) }); err != nil {
		return fmt.Errorf("schedule feed accrual: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.BackfillCron, func() { s.runJob(backfillJob, s.runBackfill) }); err != nil {
		return fmt.Errorf("schedule metrics backfill: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

// runJob executes fn under the job lock with the configured timeout. A lock
// held elsewhere skips the run; a lock backend failure does not.
func (s *Scheduler) runJob(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	release, err := s.locker.Acquire(ctx, name, s.lockTTL)
	switch {
	case errors.Is(err, lock.ErrHeld):
		s.logger.Info("job already running elsewhere, skipping", zap.String("job", name))
		return
	case err != nil:
		s.logger.Warn("job lock unavailable, running unguarded", zap.String("job", name), zap.Error(err))
	default:
		defer func() {
			if err := release(context.Background()); err != nil {
				s.logger.Warn("failed to release job lock", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	started := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.logger.Info("scheduled job finished", zap.String("job", name), zap.Duration("took", time.Since(started)))
}

func (s *Scheduler) runAccrual(ctx context.Context) error {
	summary, err := s.accrual.Run(ctx, "", cronActor)
	if err != nil {
		return err
	}
	if summary.Errors > 0 {
		s.logger.Warn("feed accrual finished with errors", zap.Int("errors", summary.Errors), zap.Int("processed", summary.Processed))
	}
	return nil
}

func (s *Scheduler) runBackfill(ctx context.Context) error {
	summary, err := s.backfill.Backfill(ctx)
	if err != nil {
		return err
	}
	if summary.Errors > 0 {
		s.logger.Warn("metrics backfill finished with errors", zap.Int("errors", summary.Errors), zap.Int("processed", summary.Processed))
	}
	return nil
}
