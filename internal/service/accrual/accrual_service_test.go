package accrual

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/repository/gormdb"
	"github.com/mamadbah2/broiler/internal/repository/gormdb/gormtest"
)

type memoryArchive struct {
	mu      sync.Mutex
	reports []*models.RunReport
}

func (m *memoryArchive) SaveRunReport(_ context.Context, report *models.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

var cycleStart = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, now time.Time) (*Service, *gormdb.Repository, *memoryArchive) {
	t.Helper()
	repo := gormtest.Open(t)
	archive := &memoryArchive{}
	svc := NewService(repo, archive, time.UTC, 2, nil)
	svc.now = func() time.Time { return now }
	return svc, repo, archive
}

func seedCycle(t *testing.T, repo *gormdb.Repository, officerID string, cycle models.Cycle) models.Cycle {
	t.Helper()
	farmer := &models.FarmerAccount{
		OrganizationID: "org-1",
		OfficerID:      officerID,
		Name:           "farmer " + officerID,
		Status:         models.FarmerActive,
	}
	require.NoError(t, repo.CreateFarmer(farmer))

	cycle.FarmerID = farmer.ID
	cycle.OrganizationID = farmer.OrganizationID
	cycle.Status = models.CycleActive
	if cycle.Name == "" {
		cycle.Name = "Batch " + officerID
	}
	if cycle.CreatedAt.IsZero() {
		cycle.CreatedAt = cycleStart
	}
	require.NoError(t, repo.CreateCycle(&cycle))
	return cycle
}

func TestUpdateCycleFeedAppliesDailyDelta(t *testing.T) {
	svc, repo, _ := newTestService(t, cycleStart.AddDate(0, 0, 5).Add(4*time.Hour))
	cycle := seedCycle(t, repo, "o1", models.Cycle{Doc: 1000, Age: 5, Intake: decimal.RequireFromString("2.4")})

	update, err := svc.UpdateCycleFeed(context.Background(), cycle, "user-1", false)
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, cycle.Name, update.CycleName)
	assert.Equal(t, 6, update.NewAge)
	assert.True(t, update.AddedBags.Equal(decimal.RequireFromString("0.72")), update.AddedBags.String())

	stored, err := repo.GetCycle(cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.Age)
	assert.True(t, stored.Intake.Equal(decimal.RequireFromString("3.12")), stored.Intake.String())

	logs, err := repo.CycleLogs(models.ForCycle(cycle.ID))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogNote, logs[0].Kind)
	assert.Equal(t, "user-1", logs[0].Actor)
}

func TestUpdateCycleFeedIsIdempotentWithinADay(t *testing.T) {
	svc, repo, _ := newTestService(t, cycleStart.AddDate(0, 0, 5))
	cycle := seedCycle(t, repo, "o1", models.Cycle{Doc: 1000, Age: 5, Intake: decimal.RequireFromString("2.4")})
	ctx := context.Background()

	first, err := svc.UpdateCycleFeed(ctx, cycle, "user-1", false)
	require.NoError(t, err)
	require.NotNil(t, first)

	// A stale snapshot must not double count: the stored age wins.
	second, err := svc.UpdateCycleFeed(ctx, cycle, "user-1", false)
	require.NoError(t, err)
	assert.Nil(t, second)

	stored, err := repo.GetCycle(cycle.ID)
	require.NoError(t, err)
	assert.True(t, stored.Intake.Equal(decimal.RequireFromString("3.12")), stored.Intake.String())

	logs, err := repo.CycleLogs(models.ForCycle(cycle.ID))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestUpdateCycleFeedSkipsLogForNegligibleDelta(t *testing.T) {
	svc, repo, _ := newTestService(t, cycleStart.AddDate(0, 0, 5))
	cycle := seedCycle(t, repo, "o1", models.Cycle{Doc: 1000, Age: 6, Intake: decimal.RequireFromString("3.12")})

	update, err := svc.UpdateCycleFeed(context.Background(), cycle, "user-1", true)
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.True(t, update.AddedBags.IsZero())

	logs, err := repo.CycleLogs(models.ForCycle(cycle.ID))
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestUpdateCycleFeedUnknownCycle(t *testing.T) {
	svc, _, _ := newTestService(t, cycleStart)

	_, err := svc.UpdateCycleFeed(context.Background(), models.Cycle{ID: "missing"}, "user-1", false)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRunAggregatesOnlyUpdatedCycles(t *testing.T) {
	svc, repo, archive := newTestService(t, cycleStart.AddDate(0, 0, 5))
	seedCycle(t, repo, "o1", models.Cycle{Name: "due", Doc: 1000, Age: 5, Intake: decimal.RequireFromString("2.4")})
	seedCycle(t, repo, "o1", models.Cycle{Name: "current", Doc: 800, Age: 6, Intake: decimal.RequireFromString("2.496")})
	seedCycle(t, repo, "o2", models.Cycle{Name: "other officer", Doc: 500, Age: 2})

	summary, err := svc.Run(context.Background(), "", "cron")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Updated)
	assert.Zero(t, summary.Errors)
	require.Len(t, summary.Results, 2)

	require.Len(t, archive.reports, 1)
	report := archive.reports[0]
	assert.Equal(t, models.RunAccrual, report.Kind)
	assert.Equal(t, 3, report.Processed)
	assert.Len(t, report.Items, 2)
}

func TestRunFiltersByOfficer(t *testing.T) {
	svc, repo, _ := newTestService(t, cycleStart.AddDate(0, 0, 5))
	mine := seedCycle(t, repo, "o1", models.Cycle{Doc: 1000})
	other := seedCycle(t, repo, "o2", models.Cycle{Doc: 1000})

	summary, err := svc.Run(context.Background(), "o1", "officer")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, mine.ID, summary.Results[0].CycleID)

	untouched, err := repo.GetCycle(other.ID)
	require.NoError(t, err)
	assert.Zero(t, untouched.Age)
}

func TestConcurrentUpdatesAdvanceCycleOnce(t *testing.T) {
	svc, repo, _ := newTestService(t, cycleStart.AddDate(0, 0, 5))
	cycle := seedCycle(t, repo, "o1", models.Cycle{Doc: 1000, Age: 5, Intake: decimal.RequireFromString("2.4")})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updates int
		errs    []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			update, err := svc.UpdateCycleFeed(context.Background(), cycle, "user-1", false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if update != nil {
				updates++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, updates)

	stored, err := repo.GetCycle(cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.Age)
	assert.True(t, stored.Intake.Equal(decimal.RequireFromString("3.12")), stored.Intake.String())

	logs, err := repo.CycleLogs(models.ForCycle(cycle.ID))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	svc, repo, archive := newTestService(t, cycleStart.AddDate(0, 0, 5))
	seedCycle(t, repo, "o1", models.Cycle{Doc: 1000, Age: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, "", "system")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, archive.reports)
}
