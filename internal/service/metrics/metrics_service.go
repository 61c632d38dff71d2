package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/config"
	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/repository/gormdb"
	"github.com/mamadbah2/broiler/internal/telemetry"
)

// RunArchive stores batch run reports.
type RunArchive interface {
	SaveRunReport(ctx context.Context, report *models.RunReport) error
}

// BackfillSummary counts a backfill over archived histories.
type BackfillSummary struct {
	Processed int      `json:"processed"`
	Updated   int      `json:"updated"`
	Errors    int      `json:"errors"`
	Failures  []string `json:"failures,omitempty"`
}

// Service recomputes SaleMetrics. It reads cycles and sales but never writes them.
type Service struct {
	repo    *gormdb.Repository
	pricing config.PricingConfig
	archive RunArchive
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(repo *gormdb.Repository, pricing config.PricingConfig, archive RunArchive, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, pricing: pricing, archive: archive, logger: logger, now: time.Now}
}

// Recalculate rebuilds the projection for ref in its own transaction.
func (s *Service) Recalculate(ctx context.Context, ref models.CycleRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	return s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		return s.RecalculateIn(tx, ref)
	})
}

// RecalculateIn rebuilds the projection for ref inside the caller's unit of
// work. A key without sales ends up with no metrics row.
func (s *Service) RecalculateIn(tx *gormdb.Repository, ref models.CycleRef) (err error) {
	if err := ref.Validate(); err != nil {
		return err
	}
	defer func() { telemetry.Recalculation(err) }()

	sales, err := tx.SalesWithReports(ref)
	if err != nil {
		return err
	}
	if len(sales) == 0 {
		return tx.DeleteMetrics(ref)
	}

	figures, err := parentFigures(tx, ref)
	if err != nil {
		return err
	}

	m := Aggregate(figures, sales, s.pricing)
	m.CycleID, m.HistoryID = ref.Pointers()
	m.LastRecalculatedAt = s.now().UTC()
	return tx.UpsertMetrics(&m)
}

// Get returns the stored projection for ref, or NotFound.
func (s *Service) Get(ctx context.Context, ref models.CycleRef) (*models.SaleMetrics, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	m, err := s.repo.WithContext(ctx).GetMetrics(ref)
	if err != nil {
		return nil, err
	}
	if m == nil {
		_, id := ref.Column()
		return nil, models.NotFound("metrics", id)
	}
	return m, nil
}

// Backfill replays the recalculation for every archived history. Item
// failures are counted and never stop the batch.
func (s *Service) Backfill(ctx context.Context) (*BackfillSummary, error) {
	started := s.now()
	histories, err := s.repo.WithContext(ctx).ArchivedHistories()
	if err != nil {
		return nil, err
	}

	summary := &BackfillSummary{Processed: len(histories)}
	items := make([]models.RunItem, 0)
	for _, h := range histories {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ref := models.ForHistory(h.ID)
		if err := s.Recalculate(ctx, ref); err != nil {
			aggErr := models.Aggregation(ref, err)
			summary.Errors++
			summary.Failures = append(summary.Failures, aggErr.Error())
			items = append(items, models.RunItem{HistoryID: h.ID, CycleName: h.CycleName, Error: err.Error()})
			s.logger.Warn("metrics backfill item failed", zap.String("history_id", h.ID), zap.Error(aggErr))
			continue
		}
		summary.Updated++
	}

	s.logger.Info("metrics backfill finished",
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors))

	if s.archive != nil {
		report := &models.RunReport{
			Kind:       models.RunBackfill,
			StartedAt:  started.UTC(),
			FinishedAt: s.now().UTC(),
			Processed:  summary.Processed,
			Updated:    summary.Updated,
			Errors:     summary.Errors,
			Items:      items,
		}
		if err := s.archive.SaveRunReport(ctx, report); err != nil {
			s.logger.Warn("failed to archive run report", zap.String("kind", string(report.Kind)), zap.Error(err))
		}
	}
	return summary, nil
}

func parentFigures(tx *gormdb.Repository, ref models.CycleRef) (models.CycleFigures, error) {
	if ref.IsHistory() {
		h, err := tx.GetHistory(ref.HistoryID)
		if err != nil {
			return models.CycleFigures{}, err
		}
		return models.ArchivedCycle{History: *h}.Figures(), nil
	}
	c, err := tx.GetCycle(ref.CycleID)
	if err != nil {
		return models.CycleFigures{}, err
	}
	return models.ActiveCycle{Cycle: *c}.Figures(), nil
}
