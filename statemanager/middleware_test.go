package statemanager

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_TracksOperationLifecycle(t *testing.T) {
	m := New(Config{ServiceName: "gateway"})

	e := echo.New()
	e.Use(m.Middleware("gateway-request"))
	var sawOpID string
	e.GET("/health", func(c echo.Context) error {
		sawOpID = GetOperationID(c)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.NotEmpty(t, sawOpID)
	op := m.GetOperation(sawOpID)
	require.NotNil(t, op)
	assert.Equal(t, "gateway-request", op.Operation)
	assert.Equal(t, StatusCompleted, op.Status)
}

func TestMiddleware_MarksFailedOnHandlerError(t *testing.T) {
	m := New(Config{ServiceName: "gateway"})

	e := echo.New()
	e.Use(m.Middleware("gateway-request"))
	e.GET("/boom", func(c echo.Context) error {
		return assert.AnError
	})
	e.HTTPErrorHandler = func(err error, c echo.Context) {}

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	ops := m.ListOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, StatusFailed, ops[0].Status)
}
