package api

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

	"github.com/pageza/nutrilog/backend/internal/cache"
	"github.com/pageza/nutrilog/backend/internal/metrics"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	mem := cache.NewMemory(time.Minute, 10)
	_, _, _ = mem.Get(context.Background(), "missing")

	healthy := gin.New()
	NewHealthHandler(pingFunc(func(context.Context) error { return nil }), mem, metrics.NewCounters()).RegisterRoutes(healthy)

	w := httptest.NewRecorder()
	healthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["cache"].(map[string]interface{})["misses"])

	down := gin.New()
	NewHealthHandler(pingFunc(func(context.Context) error { return errors.New("connection refused") }), nil, metrics.NewCounters()).RegisterRoutes(down)

	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsSnapshot(t *testing.T) {
	counters := metrics.NewCounters()
	counters.RecordDispatch(context.Background(), metrics.DispatchRecord{Platform: metrics.PlatformChat, Route: "analysis", Success: true})
	counters.RecordDispatch(context.Background(), metrics.DispatchRecord{Platform: metrics.PlatformChat, Route: "analysis"})

	r := gin.New()
	NewHealthHandler(pingFunc(func(context.Context) error { return nil }), nil, counters).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.EqualValues(t, 2, snap.Received)
	assert.EqualValues(t, 1, snap.Failed)
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, "analysis", snap.Routes[0].Route)
}
