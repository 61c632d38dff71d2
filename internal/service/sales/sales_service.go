// Package sales records sales against cycles and histories. Figures are
// corrected by appending revisions and moving the selected pointer.
package sales

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/repository/gormdb"
)

const minReasonLength = 3

// MetricsRecalculator rebuilds a projection inside an open unit of work.
type MetricsRecalculator interface {
	RecalculateIn(tx *gormdb.Repository, ref models.CycleRef) error
}

type Service struct {
	repo    *gormdb.Repository
	metrics MetricsRecalculator
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(repo *gormdb.Repository, metrics MetricsRecalculator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, metrics: metrics, logger: logger, now: time.Now}
}

// RecordSaleInput describes a sale on a cycle or a history.
type RecordSaleInput struct {
	Ref       models.CycleRef
	SaleDate  time.Time
	Figures   models.SaleFigures
	CreatedBy string
}

// RecordSale stores the sale with its first revision selected.
func (s *Service) RecordSale(ctx context.Context, in RecordSaleInput) (*models.SaleWithReport, error) {
	if err := in.Ref.Validate(); err != nil {
		return nil, err
	}
	if err := in.Figures.Validate(); err != nil {
		return nil, err
	}
	saleDate := in.SaleDate
	if saleDate.IsZero() {
		saleDate = s.now()
	}

	var out models.SaleWithReport
	err := s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		if err := lockParent(tx, in.Ref); err != nil {
			return err
		}

		cycleID, historyID := in.Ref.Pointers()
		sale := models.SaleEvent{
			CycleID:       cycleID,
			HistoryID:     historyID,
			SaleDate:      saleDate.UTC(),
			BirdsSold:     in.Figures.BirdsSold,
			TotalWeight:   in.Figures.TotalWeight,
			TotalAmount:   in.Figures.TotalAmount,
			MedicineCost:  in.Figures.MedicineCost,
			FeedBreakdown: in.Figures.FeedBreakdown,
			CreatedBy:     in.CreatedBy,
		}
		if err := tx.CreateSale(&sale); err != nil {
			return err
		}

		report := newReport(sale.ID, 1, in.Figures, "Initial report", in.CreatedBy)
		if err := tx.CreateSaleReport(report); err != nil {
			return err
		}
		if err := tx.SelectReport(sale.ID, report.ID); err != nil {
			return err
		}
		sale.SelectedReportID = &report.ID

		out = models.SaleWithReport{Sale: sale, Selected: report}
		return s.metrics.RecalculateIn(tx, in.Ref)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sale recorded", zap.String("sale_id", out.Sale.ID), zap.Stringer("parent", in.Ref))
	return &out, nil
}

// ReviseSaleInput appends corrected figures to a sale.
type ReviseSaleInput struct {
	SaleID    string
	Figures   models.SaleFigures
	Reason    string
	CreatedBy string
}

// ReviseSale appends a new revision and makes it the selected one. Earlier
// revisions are never modified.
func (s *Service) ReviseSale(ctx context.Context, in ReviseSaleInput) (*models.SaleReport, error) {
	reason := strings.TrimSpace(in.Reason)
	if len(reason) < minReasonLength {
		return nil, models.Validationf("reason must be at least %d characters", minReasonLength)
	}
	if err := in.Figures.Validate(); err != nil {
		return nil, err
	}

	var report *models.SaleReport
	err := s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		sale, ref, err := lockSale(tx, in.SaleID)
		if err != nil {
			return err
		}
		existing, err := tx.SaleReports(sale.ID)
		if err != nil {
			return err
		}
		revision := 1
		for _, r := range existing {
			if r.Revision >= revision {
				revision = r.Revision + 1
			}
		}

		report = newReport(sale.ID, revision, in.Figures, reason, in.CreatedBy)
		if err := tx.CreateSaleReport(report); err != nil {
			return err
		}
		if err := tx.SelectReport(sale.ID, report.ID); err != nil {
			return err
		}
		return s.metrics.RecalculateIn(tx, ref)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// SelectRevision points a sale back at one of its existing revisions.
func (s *Service) SelectRevision(ctx context.Context, saleID, reportID string) error {
	return s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		sale, ref, err := lockSale(tx, saleID)
		if err != nil {
			return err
		}
		reports, err := tx.SaleReports(sale.ID)
		if err != nil {
			return err
		}
		found := false
		for _, r := range reports {
			if r.ID == reportID {
				found = true
				break
			}
		}
		if !found {
			return models.NotFound("sale report", reportID)
		}
		if err := tx.SelectReport(sale.ID, reportID); err != nil {
			return err
		}
		return s.metrics.RecalculateIn(tx, ref)
	})
}

// Revisions lists a sale's revisions, oldest first.
func (s *Service) Revisions(ctx context.Context, saleID string) ([]models.SaleReport, error) {
	return s.repo.WithContext(ctx).SaleReports(saleID)
}

func newReport(saleID string, revision int, f models.SaleFigures, reason, createdBy string) *models.SaleReport {
	return &models.SaleReport{
		SaleID:        saleID,
		Revision:      revision,
		BirdsSold:     f.BirdsSold,
		TotalWeight:   f.TotalWeight,
		TotalAmount:   f.TotalAmount,
		MedicineCost:  f.MedicineCost,
		FeedBreakdown: f.FeedBreakdown,
		Reason:        reason,
		CreatedBy:     createdBy,
	}
}

// lockSale locks the sale's owner before the sale itself, matching the order
// lifecycle transitions take when they retarget sales.
func lockSale(tx *gormdb.Repository, saleID string) (*models.SaleEvent, models.CycleRef, error) {
	peek, err := tx.GetSale(saleID)
	if err != nil {
		return nil, models.CycleRef{}, err
	}
	ref := saleRef(peek)
	if err := ref.Validate(); err != nil {
		return nil, models.CycleRef{}, err
	}
	if err := lockParent(tx, ref); err != nil {
		return nil, models.CycleRef{}, err
	}
	sale, err := tx.LockSale(saleID)
	if err != nil {
		return nil, models.CycleRef{}, err
	}
	if saleRef(sale) != ref {
		return nil, models.CycleRef{}, models.Conflictf("sale %s moved to another cycle, retry", saleID)
	}
	return sale, ref, nil
}

func saleRef(sale *models.SaleEvent) models.CycleRef {
	var ref models.CycleRef
	if sale.HistoryID != nil {
		ref.HistoryID = *sale.HistoryID
	}
	if sale.CycleID != nil {
		ref.CycleID = *sale.CycleID
	}
	return ref
}

// lockParent serializes with lifecycle transitions on the sale's owner.
func lockParent(tx *gormdb.Repository, ref models.CycleRef) error {
	if !ref.IsHistory() {
		_, err := tx.LockCycle(ref.CycleID)
		return err
	}
	h, err := tx.LockHistory(ref.HistoryID)
	if err != nil {
		return err
	}
	if h.Status == models.CycleDeleted {
		return models.Conflictf("cycle history %s is deleted", h.ID)
	}
	return nil
}
