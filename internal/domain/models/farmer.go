package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FarmerStatus tracks whether an account can still take part in stock operations.
type FarmerStatus string

const (
	FarmerActive   FarmerStatus = "active"
	FarmerArchived FarmerStatus = "archived"
)

// FarmerAccount holds a farmer's feed stock balance. MainStock always equals the
// sum of the account's ledger entries.
type FarmerAccount struct {
	ID             string          `gorm:"size:36;primaryKey" json:"id"`
	OrganizationID string          `gorm:"size:36;index;not null" json:"organization_id"`
	OfficerID      string          `gorm:"size:36;index" json:"officer_id,omitempty"`
	Name           string          `gorm:"size:120;not null" json:"name"`
	MainStock      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"main_stock"`
	TotalConsumed  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_consumed"`
	Status         FarmerStatus    `gorm:"size:16;not null" json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LedgerKind enumerates the reasons a stock balance can move.
type LedgerKind string

const (
	LedgerInitial    LedgerKind = "INITIAL"
	LedgerRestock    LedgerKind = "RESTOCK"
	LedgerCorrection LedgerKind = "CORRECTION"
	LedgerCycleClose LedgerKind = "CYCLE_CLOSE"
	LedgerTransfer   LedgerKind = "TRANSFER"
	LedgerReversal   LedgerKind = "REVERSAL"
)

// StockPlaces is the number of decimal places stored for stock quantities.
const StockPlaces = 4

// RoundStock rounds a quantity half away from zero to the stored precision,
// so a balance and the entries that produced it round identically.
func RoundStock(d decimal.Decimal) decimal.Decimal { return d.Round(StockPlaces) }

// ErrImmutableEntry is returned when something tries to rewrite ledger history.
var ErrImmutableEntry = errors.New("ledger entries are append-only")

// StockLedgerEntry is one signed movement against a farmer account.
type StockLedgerEntry struct {
	ID          string          `gorm:"size:36;primaryKey" json:"id"`
	FarmerID    string          `gorm:"size:36;index;not null" json:"farmer_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Kind        LedgerKind      `gorm:"size:16;index;not null" json:"kind"`
	ReferenceID *string         `gorm:"size:36;index" json:"reference_id,omitempty"`
	Note        string          `gorm:"size:255" json:"note"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
}

func (e *StockLedgerEntry) BeforeUpdate(*gorm.DB) error { return ErrImmutableEntry }

func (e *StockLedgerEntry) BeforeDelete(*gorm.DB) error { return ErrImmutableEntry }

// Reconciliation compares an account balance against its ledger.
type Reconciliation struct {
	FarmerID   string          `json:"farmer_id"`
	MainStock  decimal.Decimal `json:"main_stock"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	EntryCount int             `json:"entry_count"`
	Balanced   bool            `json:"balanced"`
}
