package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/domain/models"
)

func init() { gin.SetMode(gin.TestMode) }

func TestStatusFor(t *testing.T) {
	cases := map[models.ErrorKind]int{
		models.KindNotFound:        http.StatusNotFound,
		models.KindValidation:      http.StatusBadRequest,
		models.KindInvalidArgument: http.StatusBadRequest,
		models.KindConflict:        http.StatusConflict,
		models.KindAggregation:     http.StatusInternalServerError,
		"":                         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), string(kind))
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		body string
	}{
		{
			name: "typed with context",
			err:  models.Validationf("insufficient stock").With("available", "4"),
			code: http.StatusBadRequest,
			body: `{"error":"insufficient stock","kind":"validation","context":{"available":"4"}}`,
		},
		{
			name: "wrapped not found",
			err:  fmt.Errorf("load cycle: %w", models.NotFound("cycle", "c-1")),
			code: http.StatusNotFound,
			body: `{"error":"cycle c-1 not found","kind":"not_found"}`,
		},
		{
			name: "aggregation hides detail",
			err:  models.Aggregation(models.ForHistory("h-1"), errors.New("no such table")),
			code: http.StatusInternalServerError,
			body: `{"error":"internal error","kind":"aggregation"}`,
		},
		{
			name: "untyped",
			err:  errors.New("connection reset"),
			code: http.StatusInternalServerError,
			body: `{"error":"internal error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(c, zap.NewNop(), tt.err)

			assert.Equal(t, tt.code, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestValidationFieldsIgnoresOtherErrors(t *testing.T) {
	assert.Nil(t, ValidationFields(errors.New("EOF")))
}
