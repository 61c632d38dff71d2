package gormdb

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mamadbah2/broiler/internal/domain/models"
)

// CreateFarmer inserts a new account.
func (r *Repository) CreateFarmer(account *models.FarmerAccount) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if err := r.db.Create(account).Error; err != nil {
		return fmt.Errorf("insert farmer account: %w", err)
	}
	return nil
}

// GetFarmer loads an account without locking.
func (r *Repository) GetFarmer(id string) (*models.FarmerAccount, error) {
	var account models.FarmerAccount
	if err := r.db.First(&account, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "farmer", id)
	}
	return &account, nil
}

// LockFarmer loads an account and holds its row lock until the transaction ends.
func (r *Repository) LockFarmer(id string) (*models.FarmerAccount, error) {
	var account models.FarmerAccount
	if err := r.locked().First(&account, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "farmer", id)
	}
	return &account, nil
}

// SaveFarmerBalances persists the balance columns of a locked account.
func (r *Repository) SaveFarmerBalances(account *models.FarmerAccount) error {
	err := r.db.Model(account).Updates(map[string]any{
		"main_stock":     account.MainStock,
		"total_consumed": account.TotalConsumed,
	}).Error
	if err != nil {
		return fmt.Errorf("update farmer %s balance: %w", account.ID, err)
	}
	return nil
}

// SetFarmerStatus flips an account between active and archived.
func (r *Repository) SetFarmerStatus(id string, status models.FarmerStatus) error {
	res := r.db.Model(&models.FarmerAccount{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update farmer %s status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NotFound("farmer", id)
	}
	return nil
}

// AppendLedgerEntry inserts an immutable ledger row.
func (r *Repository) AppendLedgerEntry(entry *models.StockLedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// LedgerEntries lists a farmer's entries oldest first.
func (r *Repository) LedgerEntries(farmerID string) ([]models.StockLedgerEntry, error) {
	var entries []models.StockLedgerEntry
	if err := r.db.Where("farmer_id = ?", farmerID).Order("created_at asc, id asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list ledger entries for %s: %w", farmerID, err)
	}
	return entries, nil
}

// LedgerEntriesByReference lists every entry sharing a reference id.
func (r *Repository) LedgerEntriesByReference(referenceID string) ([]models.StockLedgerEntry, error) {
	var entries []models.StockLedgerEntry
	if err := r.db.Where("reference_id = ?", referenceID).Order("created_at asc, id asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list ledger entries for reference %s: %w", referenceID, err)
	}
	return entries, nil
}

// LedgerSum adds up a farmer's entries.
func (r *Repository) LedgerSum(farmerID string) (decimal.Decimal, int, error) {
	entries, err := r.LedgerEntries(farmerID)
	if err != nil {
		return decimal.Zero, 0, err
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum, len(entries), nil
}
