package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/broiler/internal/domain/models"
)

type fakeRunHistory struct {
	reports []models.RunReport
	err     error
	kind    models.RunKind
	limit   int64
}

func (f *fakeRunHistory) RecentRunReports(_ context.Context, kind models.RunKind, limit int64) ([]models.RunReport, error) {
	f.kind, f.limit = kind, limit
	return f.reports, f.err
}

func serveRuns(h *BatchHandler, target string) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/runs", h.Runs)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRunsListsArchivedReports(t *testing.T) {
	started := time.Date(2025, 4, 10, 6, 0, 0, 0, time.UTC)
	runs := &fakeRunHistory{reports: []models.RunReport{{
		Kind:       models.RunBackfill,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Processed:  4,
		Updated:    3,
		Errors:     1,
	}}}
	h := NewBatchHandler(nil, nil, runs, nil)

	w := serveRuns(h, "/runs?kind=metrics_backfill&limit=5")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.RunBackfill, runs.kind)
	assert.Equal(t, int64(5), runs.limit)

	var body struct {
		Kind    models.RunKind     `json:"kind"`
		Reports []models.RunReport `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.RunBackfill, body.Kind)
	require.Len(t, body.Reports, 1)
	assert.Equal(t, 3, body.Reports[0].Updated)
}

func TestRunsDefaultsAndFailures(t *testing.T) {
	runs := &fakeRunHistory{}
	h := NewBatchHandler(nil, nil, runs, nil)

	w := serveRuns(h, "/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RunAccrual, runs.kind)
	assert.Equal(t, int64(defaultRunLimit), runs.limit)
	assert.JSONEq(t, `{"kind":"feed_accrual","reports":[]}`, w.Body.String())

	w = serveRuns(h, "/runs?kind=unknown")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"Kind":"oneof"`)

	w = serveRuns(h, "/runs?limit=1000")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"Limit":"max"`)

	runs.err = errors.New("connection reset")
	w = serveRuns(h, "/runs")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())

	w = serveRuns(NewBatchHandler(nil, nil, nil, nil), "/runs")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
