package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FeedLine is one row of a sale's feed breakdown.
type FeedLine struct {
	FeedType string          `json:"feed_type"`
	Bags     decimal.Decimal `json:"bags"`
}

// FeedBreakdown is stored as a JSON column and validated before every write.
type FeedBreakdown = datatypes.JSONSlice[FeedLine]

// ValidateFeedBreakdown rejects unnamed feed types and negative bag counts.
func ValidateFeedBreakdown(lines []FeedLine) error {
	for i, line := range lines {
		if strings.TrimSpace(line.FeedType) == "" {
			return Validationf("feed breakdown line %d has no feed type", i+1)
		}
		if line.Bags.IsNegative() {
			return Validationf("feed breakdown line %d has negative bags", i+1).With("bags", line.Bags.String())
		}
	}
	return nil
}

// TotalBags sums the bags across a breakdown.
func TotalBags(lines []FeedLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Bags)
	}
	return total
}

// SaleFigures are the financial figures of a sale, either raw or from a revision.
type SaleFigures struct {
	BirdsSold     int             `json:"birds_sold"`
	TotalWeight   float64         `json:"total_weight"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	MedicineCost  decimal.Decimal `json:"medicine_cost"`
	FeedBreakdown []FeedLine      `json:"feed_breakdown"`
}

// Validate checks the figures before they are persisted.
func (f SaleFigures) Validate() error {
	switch {
	case f.BirdsSold < 0:
		return Validationf("birds sold must not be negative").With("birds_sold", f.BirdsSold)
	case f.TotalWeight < 0:
		return Validationf("total weight must not be negative").With("total_weight", f.TotalWeight)
	case f.TotalAmount.IsNegative():
		return Validationf("total amount must not be negative").With("total_amount", f.TotalAmount.String())
	case f.MedicineCost.IsNegative():
		return Validationf("medicine cost must not be negative").With("medicine_cost", f.MedicineCost.String())
	}
	return ValidateFeedBreakdown(f.FeedBreakdown)
}

// SaleEvent is a sale attached to exactly one of a cycle or a history.
type SaleEvent struct {
	ID               string          `gorm:"size:36;primaryKey" json:"id"`
	CycleID          *string         `gorm:"size:36;index" json:"cycle_id,omitempty"`
	HistoryID        *string         `gorm:"size:36;index" json:"history_id,omitempty"`
	SaleDate         time.Time       `json:"sale_date"`
	BirdsSold        int             `gorm:"not null" json:"birds_sold"`
	TotalWeight      float64         `gorm:"not null" json:"total_weight"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	MedicineCost     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"medicine_cost"`
	FeedBreakdown    FeedBreakdown   `json:"feed_breakdown"`
	SelectedReportID *string         `gorm:"size:36" json:"selected_report_id,omitempty"`
	CreatedBy        string          `gorm:"size:36" json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (s *SaleEvent) BeforeSave(*gorm.DB) error {
	return ValidateFeedBreakdown(s.FeedBreakdown)
}

// Figures returns the sale's raw figures.
func (s SaleEvent) Figures() SaleFigures {
	return SaleFigures{
		BirdsSold:     s.BirdsSold,
		TotalWeight:   s.TotalWeight,
		TotalAmount:   s.TotalAmount,
		MedicineCost:  s.MedicineCost,
		FeedBreakdown: s.FeedBreakdown,
	}
}

// ErrImmutableReport is returned when a persisted revision is modified.
var ErrImmutableReport = errors.New("sale reports are immutable revisions")

// SaleReport is an immutable revision of a sale's figures.
type SaleReport struct {
	ID            string          `gorm:"size:36;primaryKey" json:"id"`
	SaleID        string          `gorm:"size:36;index;not null" json:"sale_id"`
	Revision      int             `gorm:"not null" json:"revision"`
	BirdsSold     int             `gorm:"not null" json:"birds_sold"`
	TotalWeight   float64         `gorm:"not null" json:"total_weight"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	MedicineCost  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"medicine_cost"`
	FeedBreakdown FeedBreakdown   `json:"feed_breakdown"`
	Reason        string          `gorm:"size:255" json:"reason"`
	CreatedBy     string          `gorm:"size:36" json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (r *SaleReport) BeforeSave(*gorm.DB) error {
	return ValidateFeedBreakdown(r.FeedBreakdown)
}

func (r *SaleReport) BeforeUpdate(*gorm.DB) error { return ErrImmutableReport }

// Figures returns the revision's figures.
func (r SaleReport) Figures() SaleFigures {
	return SaleFigures{
		BirdsSold:     r.BirdsSold,
		TotalWeight:   r.TotalWeight,
		TotalAmount:   r.TotalAmount,
		MedicineCost:  r.MedicineCost,
		FeedBreakdown: r.FeedBreakdown,
	}
}

// SaleWithReport pairs a sale with its selected revision, if any.
type SaleWithReport struct {
	Sale     SaleEvent   `json:"sale"`
	Selected *SaleReport `json:"selected,omitempty"`
}

// Effective returns the selected revision's figures when present, else the raw sale.
func (s SaleWithReport) Effective() SaleFigures {
	if s.Selected != nil {
		return s.Selected.Figures()
	}
	return s.Sale.Figures()
}

// SaleMetrics is the derived KPI projection for one cycle or history.
type SaleMetrics struct {
	ID                 string          `gorm:"size:36;primaryKey" json:"id"`
	CycleID            *string         `gorm:"size:36;uniqueIndex" json:"cycle_id,omitempty"`
	HistoryID          *string         `gorm:"size:36;uniqueIndex" json:"history_id,omitempty"`
	SaleCount          int             `gorm:"not null" json:"sale_count"`
	Fcr                float64         `gorm:"not null" json:"fcr"`
	SurvivalRate       float64         `gorm:"not null" json:"survival_rate"`
	Epi                float64         `gorm:"not null" json:"epi"`
	AverageWeight      float64         `gorm:"not null" json:"average_weight"`
	AverageAge         float64         `gorm:"not null" json:"average_age"`
	TotalBirdsSold     int             `gorm:"not null" json:"total_birds_sold"`
	TotalWeight        float64         `gorm:"not null" json:"total_weight"`
	TotalFeedBags      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_feed_bags"`
	DocCost            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"doc_cost"`
	FeedCost           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"feed_cost"`
	MedicineCost       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"medicine_cost"`
	TotalRevenue       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_revenue"`
	NetProfit          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"net_profit"`
	DocPricePerBird    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"doc_price_per_bird"`
	FeedPricePerBag    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"feed_price_per_bag"`
	LastRecalculatedAt time.Time       `json:"last_recalculated_at"`
}
