package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleStatus is the lifecycle state of a production episode.
type CycleStatus string

const (
	CycleActive   CycleStatus = "active"
	CycleArchived CycleStatus = "archived"
	CycleDeleted  CycleStatus = "deleted"
)

// Cycle is a live production cycle. Intake holds bags consumed but not yet
// deducted from the farmer's stock.
type Cycle struct {
	ID             string          `gorm:"size:36;primaryKey" json:"id"`
	Name           string          `gorm:"size:120;not null" json:"name"`
	FarmerID       string          `gorm:"size:36;index;not null" json:"farmer_id"`
	OrganizationID string          `gorm:"size:36;index;not null" json:"organization_id"`
	Doc            int             `gorm:"not null" json:"doc"`
	Mortality      int             `gorm:"not null" json:"mortality"`
	Age            int             `gorm:"not null" json:"age"`
	Intake         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"intake"`
	Status         CycleStatus     `gorm:"size:16;not null" json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CycleHistory is the archived snapshot of an ended cycle.
type CycleHistory struct {
	ID             string          `gorm:"size:36;primaryKey" json:"id"`
	CycleName      string          `gorm:"size:120;not null" json:"cycle_name"`
	FarmerID       string          `gorm:"size:36;index;not null" json:"farmer_id"`
	OrganizationID string          `gorm:"size:36;index;not null" json:"organization_id"`
	Doc            int             `gorm:"not null" json:"doc"`
	FinalIntake    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"final_intake"`
	Mortality      int             `gorm:"not null" json:"mortality"`
	Age            int             `gorm:"not null" json:"age"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	Status         CycleStatus     `gorm:"size:16;index;not null" json:"status"`
	ClosedBy       string          `gorm:"size:36" json:"closed_by"`
	ClosedByName   string          `gorm:"size:120" json:"closed_by_name"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LogKind classifies audit entries attached to a cycle.
type LogKind string

const (
	LogSystem     LogKind = "SYSTEM"
	LogNote       LogKind = "NOTE"
	LogCorrection LogKind = "CORRECTION"
)

// CycleLog is an audit entry owned by exactly one of a cycle or a history.
type CycleLog struct {
	ID          string          `gorm:"size:36;primaryKey" json:"id"`
	CycleID     *string         `gorm:"size:36;index" json:"cycle_id,omitempty"`
	HistoryID   *string         `gorm:"size:36;index" json:"history_id,omitempty"`
	Kind        LogKind         `gorm:"size:16;not null" json:"kind"`
	Field       string          `gorm:"size:32" json:"field,omitempty"`
	ValueChange decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"value_change"`
	Note        string          `gorm:"size:500" json:"note"`
	Actor       string          `gorm:"size:36" json:"actor,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CorrectionField names the cycle figures an officer may correct by hand.
type CorrectionField string

const (
	FieldDoc       CorrectionField = "doc"
	FieldMortality CorrectionField = "mortality"
	FieldAge       CorrectionField = "age"
)

// Valid reports whether the field can be corrected.
func (f CorrectionField) Valid() bool {
	switch f {
	case FieldDoc, FieldMortality, FieldAge:
		return true
	}
	return false
}

// CycleFigures are the flock figures the metrics engine reads from a parent.
type CycleFigures struct {
	Doc       int
	Mortality int
	Age       int
}

// CycleState is either an ActiveCycle or an ArchivedCycle.
type CycleState interface {
	Ref() CycleRef
	Figures() CycleFigures
	Status() CycleStatus
	isCycleState()
}

// ActiveCycle wraps a live cycle row.
type ActiveCycle struct{ Cycle Cycle }

// ArchivedCycle wraps a history row, archived or soft-deleted.
type ArchivedCycle struct{ History CycleHistory }

func (a ActiveCycle) Ref() CycleRef { return ForCycle(a.Cycle.ID) }
func (a ActiveCycle) Figures() CycleFigures {
	return CycleFigures{Doc: a.Cycle.Doc, Mortality: a.Cycle.Mortality, Age: a.Cycle.Age}
}
func (a ActiveCycle) Status() CycleStatus { return CycleActive }
func (ActiveCycle) isCycleState()         {}

func (a ArchivedCycle) Ref() CycleRef { return ForHistory(a.History.ID) }
func (a ArchivedCycle) Figures() CycleFigures {
	return CycleFigures{Doc: a.History.Doc, Mortality: a.History.Mortality, Age: a.History.Age}
}
func (a ArchivedCycle) Status() CycleStatus { return a.History.Status }
func (ArchivedCycle) isCycleState()         {}

// CycleRef addresses the owner of logs, sales and metrics: a live cycle xor a history.
type CycleRef struct {
	CycleID   string `json:"cycle_id,omitempty"`
	HistoryID string `json:"history_id,omitempty"`
}

func ForCycle(id string) CycleRef   { return CycleRef{CycleID: id} }
func ForHistory(id string) CycleRef { return CycleRef{HistoryID: id} }

// Validate enforces that exactly one id is set.
func (r CycleRef) Validate() error {
	switch {
	case r.CycleID == "" && r.HistoryID == "":
		return InvalidArgumentf("either cycleId or historyId is required")
	case r.CycleID != "" && r.HistoryID != "":
		return InvalidArgumentf("cycleId and historyId are mutually exclusive")
	}
	return nil
}

func (r CycleRef) IsHistory() bool { return r.HistoryID != "" }

// Column returns the owning column name and id for queries.
func (r CycleRef) Column() (string, string) {
	if r.IsHistory() {
		return "history_id", r.HistoryID
	}
	return "cycle_id", r.CycleID
}

// Pointers returns the (cycleId, historyId) pair as nullable columns.
func (r CycleRef) Pointers() (*string, *string) {
	if r.IsHistory() {
		id := r.HistoryID
		return nil, &id
	}
	id := r.CycleID
	return &id, nil
}

func (r CycleRef) String() string {
	if r.IsHistory() {
		return "history " + r.HistoryID
	}
	return "cycle " + r.CycleID
}
