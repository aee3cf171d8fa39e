package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkReturning(result Result) Dependency {
	return Dependency{Name: "dep", Check: func(ctx context.Context) Result { return result }}
}

func TestAggregatorReturnsHealthyWhenAllDepsHealthy(t *testing.T) {
	a := NewAggregator(
		Dependency{Name: "db", Check: func(ctx context.Context) Result { return Result{Healthy: true} }},
		Dependency{Name: "cache", Check: func(ctx context.Context) Result { return Result{Healthy: true} }},
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	a.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body aggregateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Components["db"])
}

func TestAggregatorReturns503WhenAnyDepUnhealthy(t *testing.T) {
	a := NewAggregator(
		Dependency{Name: "db", Check: func(ctx context.Context) Result { return Result{Healthy: true} }},
		checkReturning(Result{Healthy: false, Message: "connection refused"}),
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	a.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body aggregateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Components["dep"])
}

func TestStatusUpdateMarksUnhealthyAfterRetryThreshold(t *testing.T) {
	s := NewStatus()
	cfg := Config{Retries: 2}

	s.Update(Result{Healthy: false}, cfg)
	assert.True(t, s.Healthy, "one failure must not yet flip healthy with retries=2")

	s.Update(Result{Healthy: false}, cfg)
	assert.False(t, s.Healthy)

	s.Update(Result{Healthy: true}, cfg)
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFailures)
}

func TestStatusInStartPeriod(t *testing.T) {
	s := NewStatus()
	assert.False(t, s.InStartPeriod(Config{StartPeriod: 0}))
	assert.True(t, s.InStartPeriod(Config{StartPeriod: time.Hour}))
}
