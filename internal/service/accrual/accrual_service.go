package accrual

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/repository/gormdb"
	"github.com/mamadbah2/broiler/internal/telemetry"
)

const defaultConcurrency = 4

// RunArchive stores batch run reports.
type RunArchive interface {
	SaveRunReport(ctx context.Context, report *models.RunReport) error
}

// FeedUpdate is the outcome of a checkpoint that moved a cycle forward.
type FeedUpdate struct {
	CycleID   string          `json:"cycle_id"`
	CycleName string          `json:"cycle_name"`
	AddedBags decimal.Decimal `json:"added_bags"`
	NewAge    int             `json:"new_age"`
}

// Failure records a cycle the batch could not update.
type Failure struct {
	CycleID string `json:"cycle_id"`
	Error   string `json:"error"`
}

// Summary aggregates one batch run. Results only holds cycles that moved.
type Summary struct {
	Processed int          `json:"processed"`
	Updated   int          `json:"updated"`
	Errors    int          `json:"errors"`
	Results   []FeedUpdate `json:"results"`
	Failures  []Failure    `json:"failures,omitempty"`
}

// Service applies the feed schedule to live cycles.
type Service struct {
	repo        *gormdb.Repository
	archive     RunArchive
	location    *time.Location
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewService builds the accrual service. archive may be nil.
func NewService(repo *gormdb.Repository, archive RunArchive, location *time.Location, concurrency int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		repo:        repo,
		archive:     archive,
		location:    location,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// UpdateCycleFeed checkpoints one cycle. The row is re-read under lock so a
// concurrent run that already advanced the age turns this call into a no-op.
// It returns nil when nothing changed.
func (s *Service) UpdateCycleFeed(ctx context.Context, cycle models.Cycle, userID string, force bool) (*FeedUpdate, error) {
	now := s.now().In(s.location)

	var update *FeedUpdate
	err := s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		current, err := tx.LockCycle(cycle.ID)
		if err != nil {
			return err
		}
		cp := Compute(*current, now, force)
		if cp == nil {
			return nil
		}
		if err := tx.SaveCheckpoint(current.ID, cp.Intake, cp.Age); err != nil {
			return err
		}
		if cp.AddedBags.GreaterThan(LogThreshold) {
			id := current.ID
			entry := &models.CycleLog{
				CycleID:     &id,
				Kind:        models.LogNote,
				ValueChange: cp.AddedBags,
				Note:        fmt.Sprintf("Day %d feed consumption: %s bags", cp.Age, cp.AddedBags.StringFixed(3)),
				Actor:       userID,
				CreatedAt:   now.UTC(),
			}
			if err := tx.AppendCycleLog(entry); err != nil {
				return err
			}
		}
		update = &FeedUpdate{
			CycleID:   current.ID,
			CycleName: current.Name,
			AddedBags: cp.AddedBags,
			NewAge:    cp.Age,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return update, nil
}

// Run checkpoints every live cycle, optionally only those of one officer's
// farmers. A failing cycle is counted and skipped.
func (s *Service) Run(ctx context.Context, officerID, userID string) (*Summary, error) {
	started := s.now()
	cycles, err := s.repo.WithContext(ctx).ActiveCycles(officerID)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		summary = &Summary{Processed: len(cycles), Results: []FeedUpdate{}}
		items   = make([]models.RunItem, 0, len(cycles))
	)

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, cycle := range cycles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			update, err := s.UpdateCycleFeed(ctx, cycle, userID, false)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				telemetry.AccrualItem("error")
				summary.Errors++
				summary.Failures = append(summary.Failures, Failure{CycleID: cycle.ID, Error: err.Error()})
				items = append(items, models.RunItem{CycleID: cycle.ID, CycleName: cycle.Name, Error: err.Error()})
				s.logger.Warn("feed accrual failed", zap.String("cycle_id", cycle.ID), zap.Error(err))
			case update == nil:
				telemetry.AccrualItem("noop")
			default:
				telemetry.AccrualItem("updated")
				summary.Updated++
				summary.Results = append(summary.Results, *update)
				items = append(items, models.RunItem{
					CycleID:   update.CycleID,
					CycleName: update.CycleName,
					AddedBags: update.AddedBags.StringFixed(3),
					NewAge:    update.NewAge,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("feed accrual run: %w", err)
	}

	s.logger.Info("feed accrual run finished",
		zap.String("officer_id", officerID),
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors))

	s.archiveReport(ctx, &models.RunReport{
		Kind:       models.RunAccrual,
		Scope:      officerID,
		StartedAt:  started.UTC(),
		FinishedAt: s.now().UTC(),
		Processed:  summary.Processed,
		Updated:    summary.Updated,
		Errors:     summary.Errors,
		Items:      items,
	})
	return summary, nil
}

func (s *Service) archiveReport(ctx context.Context, report *models.RunReport) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveRunReport(ctx, report); err != nil {
		s.logger.Warn("failed to archive run report", zap.String("kind", string(report.Kind)), zap.Error(err))
	}
}
