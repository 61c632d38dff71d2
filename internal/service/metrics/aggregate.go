// Package metrics maintains the SaleMetrics projection of each cycle or
// history from its sales.
package metrics

import (
	"github.com/shopspring/decimal"

	"github.com/mamadbah2/broiler/internal/config"
	"github.com/mamadbah2/broiler/internal/domain/models"
)

// KgPerBag converts feed bags into kilograms for the conversion ratio.
const KgPerBag = 50

// Aggregate folds a parent's sales into a projection. Keys and the
// recalculation timestamp are left for the caller.
func Aggregate(figures models.CycleFigures, sales []models.SaleWithReport, pricing config.PricingConfig) models.SaleMetrics {
	var (
		birdsSold   int
		totalWeight float64
		totalAge    int
		revenue     = decimal.Zero
		medicine    = decimal.Zero
		feedBags    = decimal.Zero
	)
	for _, sale := range sales {
		f := sale.Effective()
		birdsSold += f.BirdsSold
		totalWeight += f.TotalWeight
		revenue = revenue.Add(f.TotalAmount)
		medicine = medicine.Add(f.MedicineCost)
		feedBags = feedBags.Add(models.TotalBags(f.FeedBreakdown))
		totalAge += figures.Age
	}

	m := models.SaleMetrics{
		SaleCount:       len(sales),
		TotalBirdsSold:  birdsSold,
		TotalWeight:     totalWeight,
		TotalFeedBags:   feedBags,
		MedicineCost:    medicine,
		TotalRevenue:    revenue,
		DocPricePerBird: pricing.DocPricePerBird,
		FeedPricePerBag: pricing.FeedPricePerBag,
	}

	if birdsSold > 0 {
		m.AverageWeight = totalWeight / float64(birdsSold)
	}
	if len(sales) > 0 {
		m.AverageAge = float64(totalAge) / float64(len(sales))
	}
	if totalWeight > 0 {
		m.Fcr = feedBags.InexactFloat64() * KgPerBag / totalWeight
	}
	if figures.Doc > 0 {
		m.SurvivalRate = float64(figures.Doc-figures.Mortality) / float64(figures.Doc) * 100
	}
	if m.Fcr > 0 && figures.Age > 0 {
		m.Epi = m.SurvivalRate * m.AverageWeight / (m.Fcr * float64(figures.Age)) * 100
	}

	m.DocCost = decimal.NewFromInt(int64(figures.Doc)).Mul(pricing.DocPricePerBird)
	m.FeedCost = feedBags.Mul(pricing.FeedPricePerBag)
	m.NetProfit = revenue.Sub(m.DocCost).Sub(m.FeedCost).Sub(medicine)
	return m
}
