// Package accrual derives a cycle's cumulative feed intake from its age and
// checkpoints it once per calendar day.
package accrual

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/broiler/internal/domain/models"
)

const (
	// GramsPerBag is the mass of one feed bag.
	GramsPerBag = 50000
	// MaxScheduleAge is the last age with its own schedule value.
	MaxScheduleAge = 40
)

// LogThreshold is the smallest daily delta, in bags, worth an audit note.
var LogThreshold = decimal.RequireFromString("0.001")

// feedSchedule is the cumulative feed in grams per bird, indexed by age in days.
var feedSchedule = [MaxScheduleAge + 1]int{
	0, 16, 36, 60, 88, 120, 156, 197, 241, 288,
	338, 392, 449, 509, 572, 638, 707, 779, 854, 933,
	1015, 1100, 1188, 1279, 1373, 1470, 1570, 1674, 1781, 1891,
	2004, 2120, 2239, 2361, 2486, 2615, 2747, 2882, 3020, 3161,
	3304,
}

var gramsPerBag = decimal.NewFromInt(GramsPerBag)

// CumulativeGrams returns the feed eaten per bird up to age. Ages beyond the
// table stay at the last value.
func CumulativeGrams(age int) int {
	switch {
	case age < 0:
		return feedSchedule[0]
	case age > MaxScheduleAge:
		return feedSchedule[MaxScheduleAge]
	}
	return feedSchedule[age]
}

// CurrentAge counts calendar days since start in now's location, day one
// being the start date itself.
func CurrentAge(start, now time.Time) int {
	loc := now.Location()
	s := start.In(loc)
	from := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	age := int(to.Sub(from)/(24*time.Hour)) + 1
	if age < 0 {
		return 0
	}
	return age
}

// Checkpoint is the new accrual state of a cycle.
type Checkpoint struct {
	Intake    decimal.Decimal
	Age       int
	AddedBags decimal.Decimal
}

// Compute returns the checkpoint a cycle should move to at now, or nil when
// its stored age is already current and force is unset.
func Compute(cycle models.Cycle, now time.Time, force bool) *Checkpoint {
	age := CurrentAge(cycle.CreatedAt, now)
	if !force && age <= cycle.Age {
		return nil
	}

	liveBirds := cycle.Doc - cycle.Mortality
	if liveBirds < 0 {
		liveBirds = 0
	}
	grams := decimal.NewFromInt(int64(CumulativeGrams(age))).Mul(decimal.NewFromInt(int64(liveBirds)))
	intake := models.RoundStock(grams.Div(gramsPerBag))

	return &Checkpoint{
		Intake:    intake,
		Age:       age,
		AddedBags: intake.Sub(cycle.Intake),
	}
}
