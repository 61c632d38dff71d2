package gormdb

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mamadbah2/broiler/internal/domain/models"
)

func (r *Repository) CreateSale(sale *models.SaleEvent) error {
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if err := r.db.Create(sale).Error; err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (r *Repository) GetSale(id string) (*models.SaleEvent, error) {
	var sale models.SaleEvent
	if err := r.db.First(&sale, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "sale", id)
	}
	return &sale, nil
}

// LockSale loads a sale and holds its row lock until the transaction ends.
func (r *Repository) LockSale(id string) (*models.SaleEvent, error) {
	var sale models.SaleEvent
	if err := r.locked().First(&sale, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "sale", id)
	}
	return &sale, nil
}

// CreateSaleReport appends an immutable revision.
func (r *Repository) CreateSaleReport(report *models.SaleReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if err := r.db.Create(report).Error; err != nil {
		return fmt.Errorf("insert sale report: %w", err)
	}
	return nil
}

// SaleReports lists a sale's revisions in order.
func (r *Repository) SaleReports(saleID string) ([]models.SaleReport, error) {
	var reports []models.SaleReport
	if err := r.db.Where("sale_id = ?", saleID).Order("revision asc").Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("list reports for sale %s: %w", saleID, err)
	}
	return reports, nil
}

// SelectReport moves a sale's authoritative revision pointer.
func (r *Repository) SelectReport(saleID, reportID string) error {
	err := r.db.Model(&models.SaleEvent{}).Where("id = ?", saleID).
		UpdateColumn("selected_report_id", reportID).Error
	if err != nil {
		return fmt.Errorf("select report %s for sale %s: %w", reportID, saleID, err)
	}
	return nil
}

// SalesWithReports loads every sale of a cycle or history joined to its selected revision.
func (r *Repository) SalesWithReports(ref models.CycleRef) ([]models.SaleWithReport, error) {
	var sales []models.SaleEvent
	if err := r.db.Scopes(refScope(ref)).Order("sale_date asc, id asc").Find(&sales).Error; err != nil {
		return nil, fmt.Errorf("list sales for %s: %w", ref, err)
	}

	selectedIDs := make([]string, 0, len(sales))
	for _, s := range sales {
		if s.SelectedReportID != nil {
			selectedIDs = append(selectedIDs, *s.SelectedReportID)
		}
	}

	reports := map[string]*models.SaleReport{}
	if len(selectedIDs) > 0 {
		var rows []models.SaleReport
		if err := r.db.Where("id IN ?", selectedIDs).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load selected reports for %s: %w", ref, err)
		}
		for i := range rows {
			reports[rows[i].ID] = &rows[i]
		}
	}

	out := make([]models.SaleWithReport, 0, len(sales))
	for _, s := range sales {
		item := models.SaleWithReport{Sale: s}
		if s.SelectedReportID != nil {
			item.Selected = reports[*s.SelectedReportID]
		}
		out = append(out, item)
	}
	return out, nil
}

// GetMetrics returns the projection for a key, or nil when none exists.
func (r *Repository) GetMetrics(ref models.CycleRef) (*models.SaleMetrics, error) {
	var rows []models.SaleMetrics
	if err := r.db.Scopes(refScope(ref)).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load metrics for %s: %w", ref, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpsertMetrics writes the single projection row for the metrics key.
func (r *Repository) UpsertMetrics(m *models.SaleMetrics) error {
	ref := models.CycleRef{}
	if m.HistoryID != nil {
		ref.HistoryID = *m.HistoryID
	} else if m.CycleID != nil {
		ref.CycleID = *m.CycleID
	}

	var existing []models.SaleMetrics
	if err := r.locked().Scopes(refScope(ref)).Limit(1).Find(&existing).Error; err != nil {
		return fmt.Errorf("load metrics for %s: %w", ref, err)
	}
	if len(existing) == 0 {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if err := r.db.Create(m).Error; err != nil {
			return fmt.Errorf("insert metrics for %s: %w", ref, err)
		}
		return nil
	}

	m.ID = existing[0].ID
	if err := r.db.Save(m).Error; err != nil {
		return fmt.Errorf("update metrics for %s: %w", ref, err)
	}
	return nil
}

// DeleteMetrics removes the projection for a key, if any.
func (r *Repository) DeleteMetrics(ref models.CycleRef) error {
	if err := r.db.Scopes(refScope(ref)).Delete(&models.SaleMetrics{}).Error; err != nil {
		return fmt.Errorf("delete metrics for %s: %w", ref, err)
	}
	return nil
}
