package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/service/accrual"
	"github.com/mamadbah2/broiler/internal/service/metrics"
)

// AccrualBatch runs the feed checkpoint over live cycles.
type AccrualBatch interface {
	Run(ctx context.Context, officerID, userID string) (*accrual.Summary, error)
}

// MetricsMaintainer recomputes cached sale metrics.
type MetricsMaintainer interface {
	Recalculate(ctx context.Context, ref models.CycleRef) error
	Backfill(ctx context.Context) (*metrics.BackfillSummary, error)
}

// RunHistory lists archived batch run reports.
type RunHistory interface {
	RecentRunReports(ctx context.Context, kind models.RunKind, limit int64) ([]models.RunReport, error)
}

const defaultRunLimit = 20

// BatchHandler triggers recalculations and batch runs on demand.
type BatchHandler struct {
	accrual AccrualBatch
	metrics MetricsMaintainer
	runs    RunHistory
	logger  *zap.Logger
}

// NewBatchHandler builds the handler. runs may be nil when reports are not archived.
func NewBatchHandler(acc AccrualBatch, m MetricsMaintainer, runs RunHistory, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{accrual: acc, metrics: m, runs: runs, logger: logger}
}

type recalculateRequest struct {
	CycleID   string `json:"cycle_id"`
	HistoryID string `json:"history_id"`
}

type runsQuery struct {
	Kind  string `form:"kind" binding:"omitempty,oneof=feed_accrual metrics_backfill"`
	Limit int64  `form:"limit" binding:"omitempty,min=1,max=100"`
}

type accrualRunRequest struct {
	OfficerID string `json:"officer_id"`
	UserID    string `json:"user_id" binding:"required"`
}

// Recalculate handles POST /metrics/recalculate.
func (h *BatchHandler) Recalculate(c *gin.Context) {
	var req recalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	if err := h.metrics.Recalculate(c.Request.Context(), models.CycleRef{CycleID: req.CycleID, HistoryID: req.HistoryID}); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Backfill handles POST /metrics/backfill.
func (h *BatchHandler) Backfill(c *gin.Context) {
	summary, err := h.metrics.Backfill(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RunAccrual handles POST /accrual/run.
func (h *BatchHandler) RunAccrual(c *gin.Context) {
	var req accrualRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	summary, err := h.accrual.Run(c.Request.Context(), req.OfficerID, req.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("accrual run finished",
		zap.String("officer_id", req.OfficerID),
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors))
	c.JSON(http.StatusOK, summary)
}

// Runs handles GET /runs.
func (h *BatchHandler) Runs(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run reports are not archived"})
		return
	}

	var q runsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	kind := models.RunKind(q.Kind)
	if kind == "" {
		kind = models.RunAccrual
	}
	if q.Limit == 0 {
		q.Limit = defaultRunLimit
	}

	reports, err := h.runs.RecentRunReports(c.Request.Context(), kind, q.Limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if reports == nil {
		reports = []models.RunReport{}
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "reports": reports})
}
