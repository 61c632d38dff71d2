// Package lifecycle moves production cycles between the active, archived and
// deleted states. Each transition is one transaction spanning the cycle and
// history rows, their logs and sales, the farmer's ledger and the metrics
// projection.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/repository/gormdb"
	"github.com/mamadbah2/broiler/internal/telemetry"
)

const (
	minReasonLength = 3
	maxNameLength   = 120
	managerRole     = "manager"
	notifyTimeout   = 30 * time.Second
)

// StockLedger realizes and reverses cycle intake against a farmer's stock.
type StockLedger interface {
	RecordCycleClose(tx *gormdb.Repository, farmerID string, bags decimal.Decimal, historyID, note string) error
	ReverseCycleClose(tx *gormdb.Repository, farmerID string, bags decimal.Decimal, historyID, note string) error
}

// MetricsRecalculator rebuilds a projection inside an open unit of work.
type MetricsRecalculator interface {
	RecalculateIn(tx *gormdb.Repository, ref models.CycleRef) error
}

// Notifier delivers best-effort notifications.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Service is the cycle state machine.
type Service struct {
	repo     *gormdb.Repository
	ledger   StockLedger
	metrics  MetricsRecalculator
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires the state machine. notifier may be nil.
func NewService(repo *gormdb.Repository, ledger StockLedger, metrics MetricsRecalculator, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		metrics:  metrics,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// StartCycleInput describes a new flock placement.
type StartCycleInput struct {
	FarmerID  string
	Name      string
	Doc       int
	StartDate time.Time
	Actor     string
}

// StartCycle opens an active cycle for an active farmer.
func (s *Service) StartCycle(ctx context.Context, in StartCycleInput) (cycle *models.Cycle, err error) {
	defer func() { telemetry.Transition("start", err) }()

	switch {
	case strings.TrimSpace(in.Name) == "":
		return nil, models.Validationf("cycle name is required")
	case in.Doc <= 0:
		return nil, models.Validationf("doc must be positive").With("doc", in.Doc)
	}
	start := in.StartDate
	if start.IsZero() {
		start = s.now()
	}

	err = s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		farmer, err := activeFarmer(tx, in.FarmerID)
		if err != nil {
			return err
		}
		cycle = &models.Cycle{
			Name:           strings.TrimSpace(in.Name),
			FarmerID:       farmer.ID,
			OrganizationID: farmer.OrganizationID,
			Doc:            in.Doc,
			Intake:         decimal.Zero,
			Status:         models.CycleActive,
			CreatedAt:      start.UTC(),
		}
		if err := tx.CreateCycle(cycle); err != nil {
			return err
		}
		return s.appendLog(tx, models.ForCycle(cycle.ID), models.CycleLog{
			Kind:        models.LogSystem,
			ValueChange: decimal.NewFromInt(int64(in.Doc)),
			Note:        fmt.Sprintf("Cycle started with %d birds", in.Doc),
			Actor:       in.Actor,
		})
	})
	if err != nil {
		return nil, err
	}
	return cycle, nil
}

// Load resolves a reference to its current state.
func (s *Service) Load(ctx context.Context, ref models.CycleRef) (models.CycleState, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	repo := s.repo.WithContext(ctx)
	if ref.IsHistory() {
		h, err := repo.GetHistory(ref.HistoryID)
		if err != nil {
			return nil, err
		}
		return models.ArchivedCycle{History: *h}, nil
	}
	c, err := repo.GetCycle(ref.CycleID)
	if err != nil {
		return nil, err
	}
	return models.ActiveCycle{Cycle: *c}, nil
}

// Logs lists the audit trail of a cycle or history.
func (s *Service) Logs(ctx context.Context, ref models.CycleRef) ([]models.CycleLog, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return s.repo.WithContext(ctx).CycleLogs(ref)
}

// EndCycleInput closes a cycle with the intake to realize against stock.
type EndCycleInput struct {
	CycleID  string
	Intake   decimal.Decimal
	UserID   string
	UserName string
}

// End archives an active cycle. The history row replaces the cycle, its logs
// and sales follow it, and the intake is deducted from the farmer's stock.
func (s *Service) End(ctx context.Context, in EndCycleInput) (historyID string, err error) {
	defer func() { telemetry.Transition("end", err) }()

	in.Intake = models.RoundStock(in.Intake)
	switch {
	case in.Intake.IsNegative():
		return "", models.Validationf("intake must not be negative").With("intake", in.Intake.String())
	case utf8.RuneCountInString(in.UserName) > maxNameLength:
		return "", models.Validationf("user name must be at most %d characters", maxNameLength)
	}

	var history *models.CycleHistory
	err = s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		cycle, err := tx.LockCycle(in.CycleID)
		if err != nil {
			return err
		}
		farmer, err := activeFarmer(tx, cycle.FarmerID)
		if err != nil {
			return err
		}
		if farmer.MainStock.LessThan(in.Intake) {
			return models.Validationf("insufficient stock to close cycle").
				With("requested", in.Intake.String()).
				With("available", farmer.MainStock.String())
		}

		history = &models.CycleHistory{
			CycleName:      cycle.Name,
			FarmerID:       cycle.FarmerID,
			OrganizationID: cycle.OrganizationID,
			Doc:            cycle.Doc,
			FinalIntake:    in.Intake,
			Mortality:      cycle.Mortality,
			Age:            cycle.Age,
			StartDate:      cycle.CreatedAt,
			EndDate:        s.now().UTC(),
			Status:         models.CycleArchived,
			ClosedBy:       in.UserID,
			ClosedByName:   in.UserName,
		}
		if err := tx.CreateHistory(history); err != nil {
			return err
		}

		from, to := models.ForCycle(cycle.ID), models.ForHistory(history.ID)
		if err := tx.Retarget(from, to); err != nil {
			return err
		}

		note := fmt.Sprintf("Cycle closed by %s. Total consumption: %s bags", closer(in), in.Intake.StringFixed(2))
		if err := s.appendLog(tx, to, models.CycleLog{
			Kind:        models.LogSystem,
			ValueChange: in.Intake,
			Note:        note,
			Actor:       in.UserID,
		}); err != nil {
			return err
		}
		if err := s.ledger.RecordCycleClose(tx, cycle.FarmerID, in.Intake, history.ID, note); err != nil {
			return err
		}
		if err := tx.DeleteCycle(cycle.ID); err != nil {
			return err
		}
		return s.recalculate(tx, to, from)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("cycle ended",
		zap.String("cycle_id", in.CycleID),
		zap.String("history_id", history.ID),
		zap.String("intake", in.Intake.String()))

	s.notify(ctx, models.Notification{
		Scope:    &models.BroadcastScope{OrganizationID: history.OrganizationID, Role: managerRole},
		Title:    "Cycle closed",
		Message:  fmt.Sprintf("%s was closed by %s", history.CycleName, closer(in)),
		Details:  fmt.Sprintf("Final intake %s bags, %d of %d birds lost, day %d", in.Intake.StringFixed(2), history.Mortality, history.Doc, history.Age),
		Severity: models.SeverityInfo,
		Link:     "/histories/" + history.ID,
		Metadata: map[string]string{
			"history_id": history.ID,
			"farmer_id":  history.FarmerID,
		},
	})
	return history.ID, nil
}

// Reopen restores an archived history to an active cycle and credits the
// realized intake back to the farmer.
func (s *Service) Reopen(ctx context.Context, historyID, actor string) (cycleID string, err error) {
	defer func() { telemetry.Transition("reopen", err) }()

	err = s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		history, err := tx.LockHistory(historyID)
		if err != nil {
			return err
		}
		if history.Status == models.CycleDeleted {
			return models.NotFound("cycle history", historyID)
		}

		cycle := &models.Cycle{
			Name:           history.CycleName,
			FarmerID:       history.FarmerID,
			OrganizationID: history.OrganizationID,
			Doc:            history.Doc,
			Mortality:      history.Mortality,
			Age:            history.Age,
			Intake:         history.FinalIntake,
			Status:         models.CycleActive,
			CreatedAt:      history.StartDate,
		}
		if err := tx.CreateCycle(cycle); err != nil {
			return err
		}
		cycleID = cycle.ID

		note := fmt.Sprintf("Cycle reopened, %s bags returned to stock", history.FinalIntake.StringFixed(2))
		if err := s.ledger.ReverseCycleClose(tx, history.FarmerID, history.FinalIntake, history.ID, note); err != nil {
			return err
		}

		from, to := models.ForHistory(history.ID), models.ForCycle(cycle.ID)
		if err := tx.Retarget(from, to); err != nil {
			return err
		}
		if err := s.appendLog(tx, to, models.CycleLog{
			Kind:        models.LogSystem,
			ValueChange: history.FinalIntake,
			Note:        note,
			Actor:       actor,
		}); err != nil {
			return err
		}
		if err := tx.DeleteHistory(history.ID); err != nil {
			return err
		}
		return s.recalculate(tx, to, from)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("cycle reopened", zap.String("history_id", historyID), zap.String("cycle_id", cycleID))
	return cycleID, nil
}

// CorrectionInput overwrites one flock figure with an audited reason.
type CorrectionInput struct {
	Ref      models.CycleRef
	Field    models.CorrectionField
	NewValue int
	Reason   string
	Actor    string
}

// Correct adjusts doc, mortality or age on an active cycle or an archived
// history and refreshes its metrics.
func (s *Service) Correct(ctx context.Context, in CorrectionInput) (err error) {
	defer func() { telemetry.Transition("correct", err) }()

	if err := in.Ref.Validate(); err != nil {
		return err
	}
	reason := strings.TrimSpace(in.Reason)
	switch {
	case !in.Field.Valid():
		return models.Validationf("field %q cannot be corrected", in.Field)
	case len(reason) < minReasonLength:
		return models.Validationf("reason must be at least %d characters", minReasonLength)
	case in.NewValue < 0:
		return models.Validationf("%s must not be negative", in.Field).With("value", in.NewValue)
	}

	return s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		figures, err := s.lockFigures(tx, in.Ref)
		if err != nil {
			return err
		}

		var old int
		next := figures
		switch in.Field {
		case models.FieldDoc:
			old, next.Doc = figures.Doc, in.NewValue
		case models.FieldMortality:
			old, next.Mortality = figures.Mortality, in.NewValue
		case models.FieldAge:
			old, next.Age = figures.Age, in.NewValue
		}
		if old == in.NewValue {
			return models.Validationf("%s is already %d", in.Field, old)
		}
		if next.Mortality > next.Doc {
			return models.Validationf("mortality cannot exceed doc").
				With("doc", next.Doc).
				With("mortality", next.Mortality)
		}

		if in.Ref.IsHistory() {
			err = tx.SetHistoryFigure(in.Ref.HistoryID, in.Field, in.NewValue)
		} else {
			err = tx.SetCycleFigure(in.Ref.CycleID, in.Field, in.NewValue)
		}
		if err != nil {
			return err
		}

		if err := s.appendLog(tx, in.Ref, models.CycleLog{
			Kind:        models.LogCorrection,
			Field:       string(in.Field),
			ValueChange: decimal.NewFromInt(int64(in.NewValue - old)),
			Note:        fmt.Sprintf("%s corrected from %d to %d: %s", in.Field, old, in.NewValue, reason),
			Actor:       in.Actor,
		}); err != nil {
			return err
		}
		return s.metrics.RecalculateIn(tx, in.Ref)
	})
}

// SoftDelete marks an archived history as deleted. Its data is kept.
func (s *Service) SoftDelete(ctx context.Context, historyID, actor string) (err error) {
	defer func() { telemetry.Transition("delete", err) }()

	return s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		history, err := tx.LockHistory(historyID)
		if err != nil {
			return err
		}
		if history.Status == models.CycleDeleted {
			return models.Conflictf("cycle history %s is already deleted", historyID)
		}
		if err := tx.SetHistoryStatus(historyID, models.CycleDeleted); err != nil {
			return err
		}
		return s.appendLog(tx, models.ForHistory(historyID), models.CycleLog{
			Kind:  models.LogSystem,
			Note:  "Cycle history deleted",
			Actor: actor,
		})
	})
}

func (s *Service) lockFigures(tx *gormdb.Repository, ref models.CycleRef) (models.CycleFigures, error) {
	if ref.IsHistory() {
		h, err := tx.LockHistory(ref.HistoryID)
		if err != nil {
			return models.CycleFigures{}, err
		}
		if h.Status == models.CycleDeleted {
			return models.CycleFigures{}, models.Conflictf("cycle history %s is deleted", h.ID)
		}
		return models.ArchivedCycle{History: *h}.Figures(), nil
	}
	c, err := tx.LockCycle(ref.CycleID)
	if err != nil {
		return models.CycleFigures{}, err
	}
	return models.ActiveCycle{Cycle: *c}.Figures(), nil
}

func (s *Service) appendLog(tx *gormdb.Repository, ref models.CycleRef, entry models.CycleLog) error {
	entry.CycleID, entry.HistoryID = ref.Pointers()
	entry.CreatedAt = s.now().UTC()
	return tx.AppendCycleLog(&entry)
}

// recalculate refreshes every key touched by a retarget. Keys left without
// sales lose their row.
func (s *Service) recalculate(tx *gormdb.Repository, refs ...models.CycleRef) error {
	for _, ref := range refs {
		if err := s.metrics.RecalculateIn(tx, ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, n models.Notification) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	err := s.notifier.Notify(ctx, n)
	telemetry.Notification(err)
	if err != nil {
		s.logger.Warn("notification failed", zap.String("title", n.Title), zap.Error(err))
	}
}

func activeFarmer(tx *gormdb.Repository, farmerID string) (*models.FarmerAccount, error) {
	farmer, err := tx.LockFarmer(farmerID)
	if err != nil {
		return nil, err
	}
	if farmer.Status != models.FarmerActive {
		return nil, models.NotFound("active farmer", farmerID)
	}
	return farmer, nil
}

func closer(in EndCycleInput) string {
	if in.UserName != "" {
		return in.UserName
	}
	if in.UserID != "" {
		return in.UserID
	}
	return "system"
}
