package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/service/ledger"
)

// StockLedger is the ledger surface exposed over HTTP.
type StockLedger interface {
	RegisterFarmer(ctx context.Context, in ledger.RegisterFarmerInput) (*models.FarmerAccount, error)
	ArchiveFarmer(ctx context.Context, farmerID string) error
	AddStock(ctx context.Context, farmerID string, amount decimal.Decimal, note string) error
	DeductStock(ctx context.Context, farmerID string, amount decimal.Decimal, note string) error
	TransferStock(ctx context.Context, fromID, toID string, amount decimal.Decimal, note string) (string, error)
	RevertTransfer(ctx context.Context, referenceID string) error
	Entries(ctx context.Context, farmerID string) ([]models.StockLedgerEntry, error)
	Reconcile(ctx context.Context, farmerID string) (models.Reconciliation, error)
}

// FarmerHandler serves farmer accounts and stock movements.
type FarmerHandler struct {
	ledger StockLedger
	logger *zap.Logger
}

func NewFarmerHandler(ledger StockLedger, logger *zap.Logger) *FarmerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FarmerHandler{ledger: ledger, logger: logger}
}

type registerFarmerRequest struct {
	OrganizationID string          `json:"organization_id" binding:"required"`
	OfficerID      string          `json:"officer_id"`
	Name           string          `json:"name" binding:"required,max=120"`
	InitialStock   decimal.Decimal `json:"initial_stock"`
	Note           string          `json:"note" binding:"max=255"`
}

type stockRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" binding:"max=255"`
}

type transferRequest struct {
	FromFarmerID string          `json:"from_farmer_id" binding:"required"`
	ToFarmerID   string          `json:"to_farmer_id" binding:"required,nefield=FromFarmerID"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note" binding:"max=255"`
}

// Register handles POST /farmers.
func (h *FarmerHandler) Register(c *gin.Context) {
	var req registerFarmerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	account, err := h.ledger.RegisterFarmer(c.Request.Context(), ledger.RegisterFarmerInput{
		OrganizationID: req.OrganizationID,
		OfficerID:      req.OfficerID,
		Name:           req.Name,
		InitialStock:   req.InitialStock,
		Note:           req.Note,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// Archive handles POST /farmers/:id/archive.
func (h *FarmerHandler) Archive(c *gin.Context) {
	if err := h.ledger.ArchiveFarmer(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddStock handles POST /farmers/:id/stock/add.
func (h *FarmerHandler) AddStock(c *gin.Context) {
	h.moveStock(c, h.ledger.AddStock)
}

// DeductStock handles POST /farmers/:id/stock/deduct.
func (h *FarmerHandler) DeductStock(c *gin.Context) {
	h.moveStock(c, h.ledger.DeductStock)
}

func (h *FarmerHandler) moveStock(c *gin.Context, move func(context.Context, string, decimal.Decimal, string) error) {
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	if err := move(c.Request.Context(), c.Param("id"), req.Amount, req.Note); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Ledger handles GET /farmers/:id/ledger.
func (h *FarmerHandler) Ledger(c *gin.Context) {
	entries, err := h.ledger.Entries(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Reconcile handles GET /farmers/:id/reconcile.
func (h *FarmerHandler) Reconcile(c *gin.Context) {
	rec, err := h.ledger.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Transfer handles POST /transfers.
func (h *FarmerHandler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	ref, err := h.ledger.TransferStock(c.Request.Context(), req.FromFarmerID, req.ToFarmerID, req.Amount, req.Note)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reference_id": ref})
}

// RevertTransfer handles POST /transfers/:ref/revert.
func (h *FarmerHandler) RevertTransfer(c *gin.Context) {
	if err := h.ledger.RevertTransfer(c.Request.Context(), c.Param("ref")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
