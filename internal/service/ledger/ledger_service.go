package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/repository/gormdb"
	"github.com/mamadbah2/broiler/internal/telemetry"
)

// Service is the only writer of farmer balances. Every mutation updates the
// account and appends its ledger entry in the same transaction.
type Service struct {
	repo   *gormdb.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires a ledger over the relational store.
func NewService(repo *gormdb.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// RegisterFarmerInput describes a new farmer account.
type RegisterFarmerInput struct {
	OrganizationID string
	OfficerID      string
	Name           string
	InitialStock   decimal.Decimal
	Note           string
}

// RegisterFarmer creates an active account, booking any opening stock as an INITIAL entry.
func (s *Service) RegisterFarmer(ctx context.Context, in RegisterFarmerInput) (*models.FarmerAccount, error) {
	in.InitialStock = models.RoundStock(in.InitialStock)
	switch {
	case strings.TrimSpace(in.Name) == "":
		return nil, models.Validationf("farmer name is required")
	case in.OrganizationID == "":
		return nil, models.Validationf("organization id is required")
	case in.InitialStock.IsNegative():
		return nil, models.Validationf("initial stock must not be negative").With("initial_stock", in.InitialStock.String())
	}

	account := &models.FarmerAccount{
		OrganizationID: in.OrganizationID,
		OfficerID:      in.OfficerID,
		Name:           strings.TrimSpace(in.Name),
		MainStock:      decimal.Zero,
		TotalConsumed:  decimal.Zero,
		Status:         models.FarmerActive,
	}

	err := s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		if err := tx.CreateFarmer(account); err != nil {
			return err
		}
		if !in.InitialStock.IsPositive() {
			return nil
		}
		note := in.Note
		if note == "" {
			note = "Opening stock"
		}
		return s.post(tx, account, in.InitialStock, models.LedgerInitial, nil, note)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("farmer registered", zap.String("farmer_id", account.ID), zap.String("opening_stock", account.MainStock.String()))
	return account, nil
}

// ArchiveFarmer retires an account. Archived accounts reject stock operations and cycle closes.
func (s *Service) ArchiveFarmer(ctx context.Context, farmerID string) error {
	return s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		account, err := tx.LockFarmer(farmerID)
		if err != nil {
			return err
		}
		if account.Status == models.FarmerArchived {
			return models.Conflictf("farmer %s is already archived", farmerID)
		}
		return tx.SetFarmerStatus(farmerID, models.FarmerArchived)
	})
}

// AddStock books a restock.
func (s *Service) AddStock(ctx context.Context, farmerID string, amount decimal.Decimal, note string) error {
	amount = models.RoundStock(amount)
	if !amount.IsPositive() {
		return models.Validationf("stock amount must be positive").With("amount", amount.String())
	}
	return s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		account, err := ActiveAccount(tx, farmerID)
		if err != nil {
			return err
		}
		return s.post(tx, account, amount, models.LedgerRestock, nil, note)
	})
}

// DeductStock books a manual correction. The balance may go negative.
func (s *Service) DeductStock(ctx context.Context, farmerID string, amount decimal.Decimal, note string) error {
	amount = models.RoundStock(amount)
	if !amount.IsPositive() {
		return models.Validationf("stock amount must be positive").With("amount", amount.String())
	}
	return s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		account, err := ActiveAccount(tx, farmerID)
		if err != nil {
			return err
		}
		return s.post(tx, account, amount.Neg(), models.LedgerCorrection, nil, note)
	})
}

// TransferStock moves stock between two farmers as a paired TRANSFER debit and
// credit sharing a fresh reference id, which is returned.
func (s *Service) TransferStock(ctx context.Context, fromID, toID string, amount decimal.Decimal, note string) (string, error) {
	amount = models.RoundStock(amount)
	switch {
	case !amount.IsPositive():
		return "", models.Validationf("transfer amount must be positive").With("amount", amount.String())
	case fromID == toID:
		return "", models.Validationf("cannot transfer stock to the same farmer")
	}

	referenceID := uuid.NewString()
	err := s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		accounts, err := lockInOrder(tx, fromID, toID)
		if err != nil {
			return err
		}
		sender, receiver := accounts[fromID], accounts[toID]
		for _, acc := range []*models.FarmerAccount{sender, receiver} {
			if acc.Status != models.FarmerActive {
				return models.NotFound("active farmer", acc.ID)
			}
		}
		if sender.MainStock.LessThan(amount) {
			return models.Validationf("insufficient stock for transfer").
				With("requested", amount.String()).
				With("available", sender.MainStock.String())
		}
		if err := s.post(tx, sender, amount.Neg(), models.LedgerTransfer, &referenceID, note); err != nil {
			return err
		}
		return s.post(tx, receiver, amount, models.LedgerTransfer, &referenceID, note)
	})
	if err != nil {
		return "", err
	}
	return referenceID, nil
}

// RevertTransfer compensates both sides of a transfer with REVERSAL entries.
// The original entries are left untouched.
func (s *Service) RevertTransfer(ctx context.Context, referenceID string) error {
	return s.repo.Transaction(ctx, func(tx *gormdb.Repository) error {
		entries, err := tx.LedgerEntriesByReference(referenceID)
		if err != nil {
			return err
		}

		var (
			transfers []models.StockLedgerEntry
			reverted  bool
		)
		for _, e := range entries {
			switch e.Kind {
			case models.LedgerTransfer:
				transfers = append(transfers, e)
			case models.LedgerReversal:
				reverted = true
			}
		}
		if !isTransferPair(transfers) {
			return models.NotFound("transfer", referenceID)
		}
		if reverted {
			return models.Conflictf("transfer %s has already been reverted", referenceID)
		}

		accounts, err := lockInOrder(tx, transfers[0].FarmerID, transfers[1].FarmerID)
		if err != nil {
			return err
		}
		note := fmt.Sprintf("Reversal of transfer %s", referenceID)
		for _, e := range transfers {
			if err := s.post(tx, accounts[e.FarmerID], e.Amount.Neg(), models.LedgerReversal, &referenceID, note); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordCycleClose realizes a closed cycle's intake against the farmer's stock
// inside the caller's transaction.
func (s *Service) RecordCycleClose(tx *gormdb.Repository, farmerID string, bags decimal.Decimal, historyID, note string) error {
	bags = models.RoundStock(bags)
	if bags.IsNegative() {
		return models.Validationf("cycle close bags must not be negative").With("bags", bags.String())
	}
	account, err := ActiveAccount(tx, farmerID)
	if err != nil {
		return err
	}
	if account.MainStock.LessThan(bags) {
		return models.Validationf("insufficient stock to close cycle").
			With("requested", bags.String()).
			With("available", account.MainStock.String())
	}
	account.TotalConsumed = account.TotalConsumed.Add(bags)
	return s.post(tx, account, bags.Neg(), models.LedgerCycleClose, &historyID, note)
}

// ReverseCycleClose undoes RecordCycleClose for a reopened cycle inside the
// caller's transaction.
func (s *Service) ReverseCycleClose(tx *gormdb.Repository, farmerID string, bags decimal.Decimal, historyID, note string) error {
	bags = models.RoundStock(bags)
	if bags.IsNegative() {
		return models.Validationf("reversal bags must not be negative").With("bags", bags.String())
	}
	account, err := ActiveAccount(tx, farmerID)
	if err != nil {
		return err
	}
	account.TotalConsumed = account.TotalConsumed.Sub(bags)
	return s.post(tx, account, bags, models.LedgerReversal, &historyID, note)
}

// Entries lists a farmer's ledger, oldest first.
func (s *Service) Entries(ctx context.Context, farmerID string) ([]models.StockLedgerEntry, error) {
	repo := s.repo.WithContext(ctx)
	if _, err := repo.GetFarmer(farmerID); err != nil {
		return nil, err
	}
	return repo.LedgerEntries(farmerID)
}

// Reconcile checks that the stored balance equals the sum of the ledger.
func (s *Service) Reconcile(ctx context.Context, farmerID string) (models.Reconciliation, error) {
	repo := s.repo.WithContext(ctx)
	account, err := repo.GetFarmer(farmerID)
	if err != nil {
		return models.Reconciliation{}, err
	}
	sum, count, err := repo.LedgerSum(farmerID)
	if err != nil {
		return models.Reconciliation{}, err
	}
	rec := models.Reconciliation{
		FarmerID:   farmerID,
		MainStock:  account.MainStock,
		LedgerSum:  sum,
		EntryCount: count,
		Balanced:   account.MainStock.Equal(sum),
	}
	if !rec.Balanced {
		s.logger.Error("ledger out of balance",
			zap.String("farmer_id", farmerID),
			zap.String("main_stock", account.MainStock.String()),
			zap.String("ledger_sum", sum.String()))
	}
	return rec, nil
}

// ActiveAccount locks a farmer account, treating archived accounts as missing.
func ActiveAccount(tx *gormdb.Repository, farmerID string) (*models.FarmerAccount, error) {
	account, err := tx.LockFarmer(farmerID)
	if err != nil {
		return nil, err
	}
	if account.Status != models.FarmerActive {
		return nil, models.NotFound("active farmer", farmerID)
	}
	return account, nil
}

// post moves the balance and appends the matching entry. Both sides carry the
// same rounded amount so the stored balance stays equal to the entry sum.
func (s *Service) post(tx *gormdb.Repository, account *models.FarmerAccount, amount decimal.Decimal, kind models.LedgerKind, referenceID *string, note string) error {
	amount = models.RoundStock(amount)
	account.MainStock = account.MainStock.Add(amount)
	if err := tx.SaveFarmerBalances(account); err != nil {
		return err
	}
	entry := &models.StockLedgerEntry{
		FarmerID:    account.ID,
		Amount:      amount,
		Kind:        kind,
		ReferenceID: referenceID,
		Note:        note,
		CreatedAt:   s.now().UTC(),
	}
	if err := tx.AppendLedgerEntry(entry); err != nil {
		return err
	}
	tx.AfterCommit(func() { telemetry.LedgerEntry(string(kind)) })
	return nil
}

// lockInOrder locks two accounts in id order so concurrent transfers cannot deadlock.
func lockInOrder(tx *gormdb.Repository, a, b string) (map[string]*models.FarmerAccount, error) {
	ids := []string{a, b}
	sort.Strings(ids)
	out := make(map[string]*models.FarmerAccount, 2)
	for _, id := range ids {
		account, err := tx.LockFarmer(id)
		if err != nil {
			return nil, err
		}
		out[id] = account
	}
	return out, nil
}

func isTransferPair(entries []models.StockLedgerEntry) bool {
	if len(entries) != 2 || entries[0].FarmerID == entries[1].FarmerID {
		return false
	}
	return entries[0].Amount.Add(entries[1].Amount).IsZero() && !entries[0].Amount.IsZero()
}
