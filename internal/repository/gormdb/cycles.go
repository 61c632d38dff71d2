package gormdb

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mamadbah2/broiler/internal/domain/models"
)

// CreateCycle inserts a live cycle.
func (r *Repository) CreateCycle(cycle *models.Cycle) error {
	if cycle.ID == "" {
		cycle.ID = uuid.NewString()
	}
	if err := r.db.Create(cycle).Error; err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

func (r *Repository) GetCycle(id string) (*models.Cycle, error) {
	var cycle models.Cycle
	if err := r.db.First(&cycle, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "cycle", id)
	}
	return &cycle, nil
}

// LockCycle loads a cycle and holds its row lock until the transaction ends.
func (r *Repository) LockCycle(id string) (*models.Cycle, error) {
	var cycle models.Cycle
	if err := r.locked().First(&cycle, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "cycle", id)
	}
	return &cycle, nil
}

// ActiveCycles lists live cycles, optionally only those of farmers under one officer.
func (r *Repository) ActiveCycles(officerID string) ([]models.Cycle, error) {
	q := r.db.Model(&models.Cycle{}).Where("cycles.status = ?", models.CycleActive)
	if officerID != "" {
		q = q.Select("cycles.*").
			Joins("JOIN farmer_accounts ON farmer_accounts.id = cycles.farmer_id").
			Where("farmer_accounts.officer_id = ?", officerID)
	}
	var cycles []models.Cycle
	if err := q.Order("cycles.created_at asc").Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("list active cycles: %w", err)
	}
	return cycles, nil
}

// SaveCheckpoint stores the accrual checkpoint of a cycle.
func (r *Repository) SaveCheckpoint(id string, intake decimal.Decimal, age int) error {
	err := r.db.Model(&models.Cycle{}).Where("id = ?", id).Updates(map[string]any{
		"intake": intake,
		"age":    age,
	}).Error
	if err != nil {
		return fmt.Errorf("update cycle %s checkpoint: %w", id, err)
	}
	return nil
}

// SetCycleFigure overwrites one of doc, mortality or age on a live cycle.
func (r *Repository) SetCycleFigure(id string, field models.CorrectionField, value int) error {
	if err := r.db.Model(&models.Cycle{}).Where("id = ?", id).Update(string(field), value).Error; err != nil {
		return fmt.Errorf("update cycle %s %s: %w", id, field, err)
	}
	return nil
}

func (r *Repository) DeleteCycle(id string) error {
	if err := r.db.Delete(&models.Cycle{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete cycle %s: %w", id, err)
	}
	return nil
}

// CreateHistory inserts an archived snapshot.
func (r *Repository) CreateHistory(history *models.CycleHistory) error {
	if history.ID == "" {
		history.ID = uuid.NewString()
	}
	if err := r.db.Create(history).Error; err != nil {
		return fmt.Errorf("insert cycle history: %w", err)
	}
	return nil
}

func (r *Repository) GetHistory(id string) (*models.CycleHistory, error) {
	var history models.CycleHistory
	if err := r.db.First(&history, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "cycle history", id)
	}
	return &history, nil
}

// LockHistory loads a history row and holds its row lock until the transaction ends.
func (r *Repository) LockHistory(id string) (*models.CycleHistory, error) {
	var history models.CycleHistory
	if err := r.locked().First(&history, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "cycle history", id)
	}
	return &history, nil
}

// ArchivedHistories lists histories still in the archived state.
func (r *Repository) ArchivedHistories() ([]models.CycleHistory, error) {
	var histories []models.CycleHistory
	if err := r.db.Where("status = ?", models.CycleArchived).Order("end_date asc").Find(&histories).Error; err != nil {
		return nil, fmt.Errorf("list archived histories: %w", err)
	}
	return histories, nil
}

func (r *Repository) SetHistoryStatus(id string, status models.CycleStatus) error {
	if err := r.db.Model(&models.CycleHistory{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		return fmt.Errorf("update history %s status: %w", id, err)
	}
	return nil
}

// SetHistoryFigure overwrites one of doc, mortality or age on a history.
func (r *Repository) SetHistoryFigure(id string, field models.CorrectionField, value int) error {
	if err := r.db.Model(&models.CycleHistory{}).Where("id = ?", id).Update(string(field), value).Error; err != nil {
		return fmt.Errorf("update history %s %s: %w", id, field, err)
	}
	return nil
}

func (r *Repository) DeleteHistory(id string) error {
	if err := r.db.Delete(&models.CycleHistory{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete history %s: %w", id, err)
	}
	return nil
}

// AppendCycleLog inserts an audit entry.
func (r *Repository) AppendCycleLog(entry *models.CycleLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("insert cycle log: %w", err)
	}
	return nil
}

// CycleLogs lists the audit entries of a cycle or history, oldest first.
func (r *Repository) CycleLogs(ref models.CycleRef) ([]models.CycleLog, error) {
	var logs []models.CycleLog
	if err := r.db.Scopes(refScope(ref)).Order("created_at asc, id asc").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list logs for %s: %w", ref, err)
	}
	return logs, nil
}

// Retarget moves every log and sale owned by from onto to, clearing the old owner column.
func (r *Repository) Retarget(from, to models.CycleRef) error {
	cycleID, historyID := to.Pointers()
	values := map[string]any{"cycle_id": cycleID, "history_id": historyID}

	if err := r.db.Model(&models.CycleLog{}).Scopes(refScope(from)).UpdateColumns(values).Error; err != nil {
		return fmt.Errorf("retarget logs from %s: %w", from, err)
	}
	if err := r.db.Model(&models.SaleEvent{}).Scopes(refScope(from)).UpdateColumns(values).Error; err != nil {
		return fmt.Errorf("retarget sales from %s: %w", from, err)
	}
	return nil
}
