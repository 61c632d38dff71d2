package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/broiler/internal/config"
	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/repository/gormdb"
	"github.com/mamadbah2/broiler/internal/repository/gormdb/gormtest"
	"github.com/mamadbah2/broiler/internal/service/ledger"
	"github.com/mamadbah2/broiler/internal/service/metrics"
)

type recordingNotifier struct {
	sent []models.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

type fixture struct {
	svc      *Service
	ledger   *ledger.Service
	repo     *gormdb.Repository
	notifier *recordingNotifier
}

var pricing = config.PricingConfig{
	DocPricePerBird: decimal.RequireFromString("0.5"),
	FeedPricePerBag: decimal.NewFromInt(30),
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := gormtest.Open(t)
	ledgerSvc := ledger.NewService(repo, nil)
	metricsSvc := metrics.NewService(repo, pricing, nil, nil)
	notifier := &recordingNotifier{}
	svc := NewService(repo, ledgerSvc, metricsSvc, notifier, nil)
	svc.now = func() time.Time { return time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC) }
	return &fixture{svc: svc, ledger: ledgerSvc, repo: repo, notifier: notifier}
}

func (f *fixture) farmer(t *testing.T, stock int64) *models.FarmerAccount {
	t.Helper()
	account, err := f.ledger.RegisterFarmer(context.Background(), ledger.RegisterFarmerInput{
		OrganizationID: "org-1",
		Name:           "Thierno",
		InitialStock:   decimal.NewFromInt(stock),
	})
	require.NoError(t, err)
	return account
}

func (f *fixture) cycle(t *testing.T, farmerID string) *models.Cycle {
	t.Helper()
	cycle, err := f.svc.StartCycle(context.Background(), StartCycleInput{
		FarmerID:  farmerID,
		Name:      "Batch 12",
		Doc:       100,
		StartDate: time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC),
		Actor:     "officer-1",
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.DB().Model(&models.Cycle{}).Where("id = ?", cycle.ID).
		Updates(map[string]any{"mortality": 10, "age": 30}).Error)
	cycle.Mortality, cycle.Age = 10, 30
	return cycle
}

func (f *fixture) sale(t *testing.T, ref models.CycleRef) *models.SaleEvent {
	t.Helper()
	cycleID, historyID := ref.Pointers()
	s := &models.SaleEvent{
		CycleID:       cycleID,
		HistoryID:     historyID,
		SaleDate:      time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		BirdsSold:     90,
		TotalWeight:   180,
		TotalAmount:   decimal.NewFromInt(3000),
		MedicineCost:  decimal.Zero,
		FeedBreakdown: []models.FeedLine{{FeedType: "grower", Bags: decimal.NewFromInt(40)}},
	}
	require.NoError(t, f.repo.CreateSale(s))
	return s
}

func (f *fixture) stock(t *testing.T, farmerID string) decimal.Decimal {
	t.Helper()
	account, err := f.repo.GetFarmer(farmerID)
	require.NoError(t, err)
	return account.MainStock
}

func (f *fixture) metricsRows(t *testing.T, ref models.CycleRef) int64 {
	t.Helper()
	column, id := ref.Column()
	var n int64
	require.NoError(t, f.repo.DB().Model(&models.SaleMetrics{}).Where(column+" = ?", id).Count(&n).Error)
	return n
}

func TestStartCycleValidation(t *testing.T) {
	f := newFixture(t)
	farmer := f.farmer(t, 0)
	ctx := context.Background()

	_, err := f.svc.StartCycle(ctx, StartCycleInput{FarmerID: farmer.ID, Name: "x", Doc: 0})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.StartCycle(ctx, StartCycleInput{FarmerID: "missing", Name: "x", Doc: 10})
	assert.ErrorIs(t, err, models.ErrNotFound)

	cycle, err := f.svc.StartCycle(ctx, StartCycleInput{FarmerID: farmer.ID, Name: "Batch 1", Doc: 500})
	require.NoError(t, err)
	assert.Equal(t, models.CycleActive, cycle.Status)
	assert.True(t, cycle.Intake.IsZero())
	assert.Equal(t, farmer.OrganizationID, cycle.OrganizationID)
}

func TestEndCycleArchivesAndRealizesIntake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, 10)
	cycle := f.cycle(t, farmer.ID)
	s := f.sale(t, models.ForCycle(cycle.ID))
	require.NoError(t, f.svc.metrics.RecalculateIn(f.repo, models.ForCycle(cycle.ID)))

	historyID, err := f.svc.End(ctx, EndCycleInput{
		CycleID:  cycle.ID,
		Intake:   decimal.NewFromInt(6),
		UserID:   "user-1",
		UserName: "Aminata",
	})
	require.NoError(t, err)

	_, err = f.repo.GetCycle(cycle.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	state, err := f.svc.Load(ctx, models.ForHistory(historyID))
	require.NoError(t, err)
	archived, ok := state.(models.ArchivedCycle)
	require.True(t, ok)
	assert.Equal(t, models.CycleArchived, archived.History.Status)
	assert.True(t, archived.History.FinalIntake.Equal(decimal.NewFromInt(6)))
	assert.Equal(t, cycle.CreatedAt.Unix(), archived.History.StartDate.Unix())
	assert.Equal(t, "Aminata", archived.History.ClosedByName)

	account, err := f.repo.GetFarmer(farmer.ID)
	require.NoError(t, err)
	assert.True(t, account.MainStock.Equal(decimal.NewFromInt(4)))
	assert.True(t, account.TotalConsumed.Equal(decimal.NewFromInt(6)))

	entries, err := f.ledger.Entries(ctx, farmer.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	closing := entries[0]
	if closing.Kind != models.LedgerCycleClose {
		closing = entries[1]
	}
	assert.Equal(t, models.LedgerCycleClose, closing.Kind)
	assert.True(t, closing.Amount.Equal(decimal.NewFromInt(-6)))
	require.NotNil(t, closing.ReferenceID)
	assert.Equal(t, historyID, *closing.ReferenceID)

	cycleLogs, err := f.repo.CycleLogs(models.ForCycle(cycle.ID))
	require.NoError(t, err)
	assert.Empty(t, cycleLogs)
	historyLogs, err := f.repo.CycleLogs(models.ForHistory(historyID))
	require.NoError(t, err)
	require.Len(t, historyLogs, 2)
	assert.Equal(t, models.LogSystem, historyLogs[1].Kind)
	for _, l := range historyLogs {
		assert.Nil(t, l.CycleID)
	}

	var moved models.SaleEvent
	require.NoError(t, f.repo.DB().First(&moved, "id = ?", s.ID).Error)
	assert.Nil(t, moved.CycleID)
	require.NotNil(t, moved.HistoryID)
	assert.Equal(t, historyID, *moved.HistoryID)

	assert.EqualValues(t, 0, f.metricsRows(t, models.ForCycle(cycle.ID)))
	assert.EqualValues(t, 1, f.metricsRows(t, models.ForHistory(historyID)))

	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	require.NotNil(t, n.Scope)
	assert.Equal(t, "org-1", n.Scope.OrganizationID)
	assert.Equal(t, historyID, n.Metadata["history_id"])
}

func TestEndCycleInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, 5)
	cycle := f.cycle(t, farmer.ID)

	_, err := f.svc.End(ctx, EndCycleInput{CycleID: cycle.ID, Intake: decimal.NewFromInt(6), UserID: "user-1"})
	require.ErrorIs(t, err, models.ErrValidation)

	var typed *models.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "6", typed.Context["requested"])
	assert.Equal(t, "5", typed.Context["available"])

	assert.True(t, f.stock(t, farmer.ID).Equal(decimal.NewFromInt(5)))
	_, err = f.repo.GetCycle(cycle.ID)
	assert.NoError(t, err)

	var histories int64
	require.NoError(t, f.repo.DB().Model(&models.CycleHistory{}).Count(&histories).Error)
	assert.Zero(t, histories)
	assert.Empty(t, f.notifier.sent)
}

func TestEndCycleFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, 5)
	cycle := f.cycle(t, farmer.ID)

	_, err := f.svc.End(ctx, EndCycleInput{CycleID: "missing", Intake: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.End(ctx, EndCycleInput{CycleID: cycle.ID, Intake: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.End(ctx, EndCycleInput{CycleID: cycle.ID, Intake: decimal.NewFromInt(1), UserName: strings.Repeat("é", 121)})
	assert.ErrorIs(t, err, models.ErrValidation)

	require.NoError(t, f.ledger.ArchiveFarmer(ctx, farmer.ID))
	_, err = f.svc.End(ctx, EndCycleInput{CycleID: cycle.ID, Intake: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConcurrentEndsArchiveOnce(t *testing.T) {
	f := newFixture(t)
	farmer := f.farmer(t, 10)
	cycle := f.cycle(t, farmer.ID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		histories []string
		errs      []error
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			historyID, err := f.svc.End(context.Background(), EndCycleInput{CycleID: cycle.ID, Intake: decimal.NewFromInt(3), UserID: "user-1"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			histories = append(histories, historyID)
		}()
	}
	wg.Wait()

	require.Len(t, histories, 1)
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, models.ErrNotFound)
	}
	assert.True(t, f.stock(t, farmer.ID).Equal(decimal.NewFromInt(7)))

	rec, err := f.ledger.Reconcile(context.Background(), farmer.ID)
	require.NoError(t, err)
	assert.True(t, rec.Balanced)
}

func TestEndCycleSurvivesNotificationFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("whatsapp down")
	farmer := f.farmer(t, 5)
	cycle := f.cycle(t, farmer.ID)

	historyID, err := f.svc.End(context.Background(), EndCycleInput{CycleID: cycle.ID, Intake: decimal.NewFromInt(2)})
	require.NoError(t, err)
	assert.NotEmpty(t, historyID)
	assert.Len(t, f.notifier.sent, 1)
}

func TestEndThenReopenRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, 10)
	cycle := f.cycle(t, farmer.ID)
	s := f.sale(t, models.ForCycle(cycle.ID))
	before := f.stock(t, farmer.ID)

	historyID, err := f.svc.End(ctx, EndCycleInput{CycleID: cycle.ID, Intake: decimal.RequireFromString("7.5")})
	require.NoError(t, err)

	cycleID, err := f.svc.Reopen(ctx, historyID, "officer-1")
	require.NoError(t, err)

	state, err := f.svc.Load(ctx, models.ForCycle(cycleID))
	require.NoError(t, err)
	active, ok := state.(models.ActiveCycle)
	require.True(t, ok)
	assert.Equal(t, cycle.Doc, active.Cycle.Doc)
	assert.Equal(t, cycle.Mortality, active.Cycle.Mortality)
	assert.Equal(t, cycle.Age, active.Cycle.Age)
	assert.True(t, active.Cycle.Intake.Equal(decimal.RequireFromString("7.5")))
	assert.Equal(t, cycle.CreatedAt.Unix(), active.Cycle.CreatedAt.Unix())

	account, err := f.repo.GetFarmer(farmer.ID)
	require.NoError(t, err)
	assert.True(t, account.MainStock.Equal(before), account.MainStock.String())
	assert.True(t, account.TotalConsumed.IsZero())

	_, err = f.repo.GetHistory(historyID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	var moved models.SaleEvent
	require.NoError(t, f.repo.DB().First(&moved, "id = ?", s.ID).Error)
	require.NotNil(t, moved.CycleID)
	assert.Equal(t, cycleID, *moved.CycleID)
	assert.Nil(t, moved.HistoryID)

	logs, err := f.repo.CycleLogs(models.ForCycle(cycleID))
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	assert.EqualValues(t, 1, f.metricsRows(t, models.ForCycle(cycleID)))
	assert.EqualValues(t, 0, f.metricsRows(t, models.ForHistory(historyID)))

	rec, err := f.ledger.Reconcile(ctx, farmer.ID)
	require.NoError(t, err)
	assert.True(t, rec.Balanced)
}

func TestReopenRejectsMissingOrDeletedHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, 10)
	cycle := f.cycle(t, farmer.ID)

	_, err := f.svc.Reopen(ctx, "missing", "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	historyID, err := f.svc.End(ctx, EndCycleInput{CycleID: cycle.ID, Intake: decimal.NewFromInt(3)})
	require.NoError(t, err)
	require.NoError(t, f.svc.SoftDelete(ctx, historyID, "manager-1"))

	_, err = f.svc.Reopen(ctx, historyID, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, f.svc.SoftDelete(ctx, historyID, "manager-1"), models.ErrConflict)

	state, err := f.svc.Load(ctx, models.ForHistory(historyID))
	require.NoError(t, err)
	assert.Equal(t, models.CycleDeleted, state.Status())
}

func TestCorrectCycleFigures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, 10)
	cycle := f.cycle(t, farmer.ID)
	ref := models.ForCycle(cycle.ID)
	f.sale(t, ref)
	require.NoError(t, f.svc.metrics.RecalculateIn(f.repo, ref))

	err := f.svc.Correct(ctx, CorrectionInput{Ref: ref, Field: models.FieldMortality, NewValue: 20, Reason: "recount at the shed", Actor: "officer-1"})
	require.NoError(t, err)

	stored, err := f.repo.GetCycle(cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, stored.Mortality)

	logs, err := f.repo.CycleLogs(ref)
	require.NoError(t, err)
	var corrections []models.CycleLog
	for _, l := range logs {
		if l.Kind == models.LogCorrection {
			corrections = append(corrections, l)
		}
	}
	require.Len(t, corrections, 1)
	assert.Equal(t, "mortality", corrections[0].Field)
	assert.Equal(t, "officer-1", corrections[0].Actor)
	assert.True(t, corrections[0].ValueChange.Equal(decimal.NewFromInt(10)))

	m, err := f.repo.GetMetrics(ref)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.InDelta(t, 80, m.SurvivalRate, 1e-9)
}

func TestCorrectValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, 10)
	cycle := f.cycle(t, farmer.ID)
	ref := models.ForCycle(cycle.ID)

	tests := []struct {
		name string
		in   CorrectionInput
		want error
	}{
		{"short reason", CorrectionInput{Ref: ref, Field: models.FieldDoc, NewValue: 120, Reason: " ok "}, models.ErrValidation},
		{"unknown field", CorrectionInput{Ref: ref, Field: "intake", NewValue: 1, Reason: "typo fix"}, models.ErrValidation},
		{"negative", CorrectionInput{Ref: ref, Field: models.FieldAge, NewValue: -1, Reason: "typo fix"}, models.ErrValidation},
		{"mortality above doc", CorrectionInput{Ref: ref, Field: models.FieldMortality, NewValue: 101, Reason: "typo fix"}, models.ErrValidation},
		{"doc below mortality", CorrectionInput{Ref: ref, Field: models.FieldDoc, NewValue: 5, Reason: "typo fix"}, models.ErrValidation},
		{"no key", CorrectionInput{Field: models.FieldDoc, NewValue: 5, Reason: "typo fix"}, models.ErrInvalidArgument},
		{"missing cycle", CorrectionInput{Ref: models.ForCycle("missing"), Field: models.FieldDoc, NewValue: 5, Reason: "typo fix"}, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.svc.Correct(ctx, tt.in), tt.want)
		})
	}
}

func TestCorrectArchivedAndDeletedHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, 10)
	cycle := f.cycle(t, farmer.ID)

	historyID, err := f.svc.End(ctx, EndCycleInput{CycleID: cycle.ID, Intake: decimal.NewFromInt(1)})
	require.NoError(t, err)

	ref := models.ForHistory(historyID)
	require.NoError(t, f.svc.Correct(ctx, CorrectionInput{Ref: ref, Field: models.FieldAge, NewValue: 35, Reason: "wrong start date"}))
	h, err := f.repo.GetHistory(historyID)
	require.NoError(t, err)
	assert.Equal(t, 35, h.Age)

	require.NoError(t, f.svc.SoftDelete(ctx, historyID, ""))
	err = f.svc.Correct(ctx, CorrectionInput{Ref: ref, Field: models.FieldAge, NewValue: 36, Reason: "wrong start date"})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestLoadRequiresExactlyOneKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Load(context.Background(), models.CycleRef{})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
