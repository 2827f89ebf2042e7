package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, checker *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	checker.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestChecker_Liveness(t *testing.T) {
	code, resp := serve(t, NewChecker("test"), "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestChecker_ReadinessBeforeStartup(t *testing.T) {
	code, resp := serve(t, NewChecker("test"), "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Checks["startup"].Status)
}

func TestChecker_OptionalFailureDegrades(t *testing.T) {
	checker := NewChecker("test")
	checker.AddCheck("database", func(context.Context) error { return nil }, true)
	checker.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") }, false)
	checker.SetReady(true)

	code, resp := serve(t, checker, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Checks["database"].Status)
	assert.Equal(t, "connection refused", resp.Checks["redis"].Message)
}

func TestChecker_CriticalFailure(t *testing.T) {
	checker := NewChecker("test")
	checker.AddCheck("database", func(context.Context) error { return errors.New("timeout") }, true)

	code, resp := serve(t, checker, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}
