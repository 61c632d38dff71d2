package metrics

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mamadbah2/broiler/internal/config"
	"github.com/mamadbah2/broiler/internal/domain/models"
)

var testPricing = config.PricingConfig{
	DocPricePerBird: decimal.RequireFromString("0.5"),
	FeedPricePerBag: decimal.NewFromInt(30),
}

func sale(birds int, weight float64, amount, medicine int64, bags ...int64) models.SaleWithReport {
	lines := make([]models.FeedLine, 0, len(bags))
	for _, b := range bags {
		lines = append(lines, models.FeedLine{FeedType: "grower", Bags: decimal.NewFromInt(b)})
	}
	return models.SaleWithReport{Sale: models.SaleEvent{
		BirdsSold:     birds,
		TotalWeight:   weight,
		TotalAmount:   decimal.NewFromInt(amount),
		MedicineCost:  decimal.NewFromInt(medicine),
		FeedBreakdown: lines,
	}}
}

func TestAggregatePerformanceFigures(t *testing.T) {
	figures := models.CycleFigures{Doc: 100, Mortality: 10, Age: 30}
	sales := []models.SaleWithReport{
		sale(45, 90, 2000, 60, 15, 5),
		sale(45, 90, 1500, 40, 20),
	}

	m := Aggregate(figures, sales, testPricing)

	assert.Equal(t, 2, m.SaleCount)
	assert.Equal(t, 90, m.TotalBirdsSold)
	assert.InDelta(t, 180, m.TotalWeight, 1e-9)
	assert.True(t, m.TotalFeedBags.Equal(decimal.NewFromInt(40)))
	assert.InDelta(t, 90, m.SurvivalRate, 1e-9)
	assert.InDelta(t, 2, m.AverageWeight, 1e-9)
	assert.InDelta(t, 11.11, m.Fcr, 0.01)
	assert.InDelta(t, 54.0, m.Epi, 0.01)
	assert.InDelta(t, 30, m.AverageAge, 1e-9)
}

func TestAggregateCosts(t *testing.T) {
	figures := models.CycleFigures{Doc: 100, Mortality: 10, Age: 30}
	sales := []models.SaleWithReport{
		sale(45, 90, 2000, 60, 15, 5),
		sale(45, 90, 1500, 40, 20),
	}

	m := Aggregate(figures, sales, testPricing)

	assert.True(t, m.DocCost.Equal(decimal.NewFromInt(50)), m.DocCost.String())
	assert.True(t, m.FeedCost.Equal(decimal.NewFromInt(1200)), m.FeedCost.String())
	assert.True(t, m.MedicineCost.Equal(decimal.NewFromInt(100)), m.MedicineCost.String())
	assert.True(t, m.TotalRevenue.Equal(decimal.NewFromInt(3500)), m.TotalRevenue.String())
	assert.True(t, m.NetProfit.Equal(decimal.NewFromInt(2150)), m.NetProfit.String())
	assert.True(t, m.DocPricePerBird.Equal(testPricing.DocPricePerBird))
	assert.True(t, m.FeedPricePerBag.Equal(testPricing.FeedPricePerBag))
}

func TestAggregatePrefersSelectedRevision(t *testing.T) {
	raw := sale(50, 100, 1000, 0, 10)
	raw.Selected = &models.SaleReport{
		BirdsSold:     50,
		TotalWeight:   125,
		TotalAmount:   decimal.NewFromInt(1250),
		MedicineCost:  decimal.Zero,
		FeedBreakdown: []models.FeedLine{{FeedType: "finisher", Bags: decimal.NewFromInt(12)}},
	}

	m := Aggregate(models.CycleFigures{Doc: 60, Age: 35}, []models.SaleWithReport{raw}, testPricing)

	assert.InDelta(t, 125, m.TotalWeight, 1e-9)
	assert.True(t, m.TotalRevenue.Equal(decimal.NewFromInt(1250)))
	assert.True(t, m.TotalFeedBags.Equal(decimal.NewFromInt(12)))
	assert.InDelta(t, 2.5, m.AverageWeight, 1e-9)
}

func TestAggregateGuardsZeroDenominators(t *testing.T) {
	m := Aggregate(models.CycleFigures{Doc: 0, Age: 0}, []models.SaleWithReport{sale(0, 0, 0, 0)}, testPricing)

	assert.Zero(t, m.AverageWeight)
	assert.Zero(t, m.Fcr)
	assert.Zero(t, m.SurvivalRate)
	assert.Zero(t, m.Epi)
	assert.True(t, m.NetProfit.IsZero())
}
