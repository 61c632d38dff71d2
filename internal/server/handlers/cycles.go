package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/domain/models"
	"github.com/mamadbah2/broiler/internal/service/accrual"
	"github.com/mamadbah2/broiler/internal/service/lifecycle"
)

// Lifecycle is the cycle state machine exposed over HTTP.
type Lifecycle interface {
	StartCycle(ctx context.Context, in lifecycle.StartCycleInput) (*models.Cycle, error)
	Load(ctx context.Context, ref models.CycleRef) (models.CycleState, error)
	Logs(ctx context.Context, ref models.CycleRef) ([]models.CycleLog, error)
	End(ctx context.Context, in lifecycle.EndCycleInput) (string, error)
	Reopen(ctx context.Context, historyID, actor string) (string, error)
	Correct(ctx context.Context, in lifecycle.CorrectionInput) error
	SoftDelete(ctx context.Context, historyID, actor string) error
}

// FeedAccrual advances one cycle along the feed schedule.
type FeedAccrual interface {
	UpdateCycleFeed(ctx context.Context, cycle models.Cycle, userID string, force bool) (*accrual.FeedUpdate, error)
}

// MetricsReader reads cached sale metrics.
type MetricsReader interface {
	Get(ctx context.Context, ref models.CycleRef) (*models.SaleMetrics, error)
}

// CycleHandler serves active cycles and archived histories.
type CycleHandler struct {
	lifecycle Lifecycle
	accrual   FeedAccrual
	metrics   MetricsReader
	logger    *zap.Logger
}

func NewCycleHandler(lc Lifecycle, acc FeedAccrual, metrics MetricsReader, logger *zap.Logger) *CycleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CycleHandler{lifecycle: lc, accrual: acc, metrics: metrics, logger: logger}
}

type startCycleRequest struct {
	FarmerID  string     `json:"farmer_id" binding:"required"`
	Name      string     `json:"name" binding:"required,max=120"`
	Doc       int        `json:"doc" binding:"required,gt=0"`
	StartDate *time.Time `json:"start_date"`
	Actor     string     `json:"actor"`
}

type endCycleRequest struct {
	Intake   decimal.Decimal `json:"intake"`
	UserID   string          `json:"user_id" binding:"required,max=36"`
	UserName string          `json:"user_name" binding:"max=120"`
}

type feedRequest struct {
	UserID string `json:"user_id"`
	Force  bool   `json:"force"`
}

type correctionRequest struct {
	Field    models.CorrectionField `json:"field" binding:"required,oneof=doc mortality age"`
	NewValue *int                   `json:"new_value" binding:"required,gte=0"`
	Reason   string                 `json:"reason" binding:"required,min=3"`
	Actor    string                 `json:"actor"`
}

type actorRequest struct {
	Actor string `json:"actor"`
}

type stateResponse struct {
	Status  models.CycleStatus   `json:"status"`
	Cycle   *models.Cycle        `json:"cycle,omitempty"`
	History *models.CycleHistory `json:"history,omitempty"`
}

// Start handles POST /cycles.
func (h *CycleHandler) Start(c *gin.Context) {
	var req startCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	in := lifecycle.StartCycleInput{FarmerID: req.FarmerID, Name: req.Name, Doc: req.Doc, Actor: req.Actor}
	if req.StartDate != nil {
		in.StartDate = *req.StartDate
	}
	cycle, err := h.lifecycle.StartCycle(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, cycle)
}

// GetCycle handles GET /cycles/:id.
func (h *CycleHandler) GetCycle(c *gin.Context) {
	h.state(c, models.ForCycle(c.Param("id")))
}

// GetHistory handles GET /histories/:id.
func (h *CycleHandler) GetHistory(c *gin.Context) {
	h.state(c, models.ForHistory(c.Param("id")))
}

func (h *CycleHandler) state(c *gin.Context, ref models.CycleRef) {
	state, err := h.lifecycle.Load(c.Request.Context(), ref)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := stateResponse{Status: state.Status()}
	switch s := state.(type) {
	case models.ActiveCycle:
		resp.Cycle = &s.Cycle
	case models.ArchivedCycle:
		resp.History = &s.History
	}
	c.JSON(http.StatusOK, resp)
}

// CycleLogs handles GET /cycles/:id/logs.
func (h *CycleHandler) CycleLogs(c *gin.Context) {
	h.logs(c, models.ForCycle(c.Param("id")))
}

// HistoryLogs handles GET /histories/:id/logs.
func (h *CycleHandler) HistoryLogs(c *gin.Context) {
	h.logs(c, models.ForHistory(c.Param("id")))
}

func (h *CycleHandler) logs(c *gin.Context, ref models.CycleRef) {
	logs, err := h.lifecycle.Logs(c.Request.Context(), ref)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// CycleMetrics handles GET /cycles/:id/metrics.
func (h *CycleHandler) CycleMetrics(c *gin.Context) {
	h.saleMetrics(c, models.ForCycle(c.Param("id")))
}

// HistoryMetrics handles GET /histories/:id/metrics.
func (h *CycleHandler) HistoryMetrics(c *gin.Context) {
	h.saleMetrics(c, models.ForHistory(c.Param("id")))
}

func (h *CycleHandler) saleMetrics(c *gin.Context, ref models.CycleRef) {
	m, err := h.metrics.Get(c.Request.Context(), ref)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// End handles POST /cycles/:id/end.
func (h *CycleHandler) End(c *gin.Context) {
	var req endCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	historyID, err := h.lifecycle.End(c.Request.Context(), lifecycle.EndCycleInput{
		CycleID:  c.Param("id"),
		Intake:   req.Intake,
		UserID:   req.UserID,
		UserName: req.UserName,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history_id": historyID})
}

// Feed handles POST /cycles/:id/feed. A null update means the cycle was
// already up to date.
func (h *CycleHandler) Feed(c *gin.Context) {
	var req feedRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	state, err := h.lifecycle.Load(c.Request.Context(), models.ForCycle(c.Param("id")))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	active, ok := state.(models.ActiveCycle)
	if !ok {
		writeError(c, h.logger, models.Conflictf("cycle %s is not active", c.Param("id")))
		return
	}

	update, err := h.accrual.UpdateCycleFeed(c.Request.Context(), active.Cycle, req.UserID, req.Force)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"update": update})
}

// CorrectCycle handles POST /cycles/:id/corrections.
func (h *CycleHandler) CorrectCycle(c *gin.Context) {
	h.correct(c, models.ForCycle(c.Param("id")))
}

// CorrectHistory handles POST /histories/:id/corrections.
func (h *CycleHandler) CorrectHistory(c *gin.Context) {
	h.correct(c, models.ForHistory(c.Param("id")))
}

func (h *CycleHandler) correct(c *gin.Context, ref models.CycleRef) {
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	err := h.lifecycle.Correct(c.Request.Context(), lifecycle.CorrectionInput{
		Ref:      ref,
		Field:    req.Field,
		NewValue: *req.NewValue,
		Reason:   req.Reason,
		Actor:    req.Actor,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reopen handles POST /histories/:id/reopen.
func (h *CycleHandler) Reopen(c *gin.Context) {
	var req actorRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	cycleID, err := h.lifecycle.Reopen(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycle_id": cycleID})
}

// Delete handles POST /histories/:id/delete.
func (h *CycleHandler) Delete(c *gin.Context) {
	var req actorRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	if err := h.lifecycle.SoftDelete(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindOptional binds a JSON body when one is present.
func bindOptional(c *gin.Context, obj any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(obj)
}
