package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pageza/nutrilog/backend/internal/cache"
	"github.com/pageza/nutrilog/backend/internal/metrics"
)

// Version is reported by the health endpoint.
const Version = "v1.0.0"

// Pinger checks a backing store.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports liveness and dispatch counters.
type HealthHandler struct {
	db       Pinger
	cache    cache.Cache
	counters *metrics.Counters
}

func NewHealthHandler(db Pinger, c cache.Cache, counters *metrics.Counters) *HealthHandler {
	return &HealthHandler{db: db, cache: c, counters: counters}
}

func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/metrics", h.Metrics)
}

// Health returns 503 when the database does not answer within two seconds.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "healthy", "version": Version, "database": "ok"}
	status := http.StatusOK
	if err := h.db.HealthCheck(ctx); err != nil {
		_ = c.Error(err)
		body["status"] = "unhealthy"
		body["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.cache != nil {
		stats := h.cache.Stats()
		body["cache"] = gin.H{
			"hits":      stats.Hits,
			"misses":    stats.Misses,
			"entries":   stats.Entries,
			"evictions": stats.Evictions,
			"hit_rate":  stats.HitRate(),
		}
	}
	c.JSON(status, body)
}

func (h *HealthHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.counters.Snapshot())
}
