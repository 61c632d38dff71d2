package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/service/sales"
)

// SaleRecorder records sales and their revisions.
type SaleRecorder interface {
	RecordSale(ctx context.Context, in sales.RecordSaleInput) (*models.SaleWithReport, error)
	ReviseSale(ctx context.Context, in sales.ReviseSaleInput) (*models.SaleReport, error)
	SelectRevision(ctx context.Context, saleID, reportID string) error
	Revisions(ctx context.Context, saleID string) ([]models.SaleReport, error)
}

// SaleHandler serves sale events and their revisions.
type SaleHandler struct {
	sales  SaleRecorder
	logger *zap.Logger
}

func NewSaleHandler(sales SaleRecorder, logger *zap.Logger) *SaleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleHandler{sales: sales, logger: logger}
}

type saleFigures struct {
	BirdsSold     int               `json:"birds_sold" binding:"gte=0"`
	TotalWeight   float64           `json:"total_weight" binding:"gte=0"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	MedicineCost  decimal.Decimal   `json:"medicine_cost"`
	FeedBreakdown []models.FeedLine `json:"feed_breakdown"`
}

func (f saleFigures) model() models.SaleFigures {
	return models.SaleFigures{
		BirdsSold:     f.BirdsSold,
		TotalWeight:   f.TotalWeight,
		TotalAmount:   f.TotalAmount,
		MedicineCost:  f.MedicineCost,
		FeedBreakdown: f.FeedBreakdown,
	}
}

type recordSaleRequest struct {
	saleFigures
	CycleID   string     `json:"cycle_id"`
	HistoryID string     `json:"history_id"`
	SaleDate  *time.Time `json:"sale_date"`
	CreatedBy string     `json:"created_by"`
}

type reviseSaleRequest struct {
	saleFigures
	Reason    string `json:"reason" binding:"required,min=3"`
	CreatedBy string `json:"created_by"`
}

type selectRevisionRequest struct {
	ReportID string `json:"report_id" binding:"required"`
}

// Record handles POST /sales.
func (h *SaleHandler) Record(c *gin.Context) {
	var req recordSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	in := sales.RecordSaleInput{
		Ref:       models.CycleRef{CycleID: req.CycleID, HistoryID: req.HistoryID},
		Figures:   req.model(),
		CreatedBy: req.CreatedBy,
	}
	if req.SaleDate != nil {
		in.SaleDate = *req.SaleDate
	}
	sale, err := h.sales.RecordSale(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

// Revise handles POST /sales/:id/revisions.
func (h *SaleHandler) Revise(c *gin.Context) {
	var req reviseSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	report, err := h.sales.ReviseSale(c.Request.Context(), sales.ReviseSaleInput{
		SaleID:    c.Param("id"),
		Figures:   req.model(),
		Reason:    req.Reason,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// Select handles POST /sales/:id/select.
func (h *SaleHandler) Select(c *gin.Context) {
	var req selectRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	if err := h.sales.SelectRevision(c.Request.Context(), c.Param("id"), req.ReportID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Revisions handles GET /sales/:id/revisions.
func (h *SaleHandler) Revisions(c *gin.Context) {
	reports, err := h.sales.Revisions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revisions": reports})
}
