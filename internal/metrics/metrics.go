// Package metrics records one structured entry per webhook dispatch.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Platforms a dispatch can come from.
const (
	PlatformChat    = "chat"
	PlatformPayment = "payment"
)

// DispatchRecord describes one handled inbound event.
type DispatchRecord struct {
	Platform   string        `json:"platform"`
	Route      string        `json:"route"`
	ExternalID string        `json:"external_id,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
	Duration   time.Duration `json:"duration_ns"`
	Success    bool          `json:"success"`
	Outcome    string        `json:"outcome,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
}

// Recorder receives dispatch records. Implementations must not block the request for long
// and must be safe for concurrent use.
type Recorder interface {
	RecordDispatch(ctx context.Context, rec DispatchRecord)
}

// Multi fans a record out to several recorders.
type Multi []Recorder

func (m Multi) RecordDispatch(ctx context.Context, rec DispatchRecord) {
	for _, r := range m {
		if r != nil {
			r.RecordDispatch(ctx, rec)
		}
	}
}

// LogRecorder writes each record as a structured log line.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.Named("dispatch")}
}

func (l *LogRecorder) RecordDispatch(_ context.Context, rec DispatchRecord) {
	fields := []zap.Field{
		zap.String("platform", rec.Platform),
		zap.String("route", rec.Route),
		zap.String("external_id", rec.ExternalID),
		zap.Time("received_at", rec.ReceivedAt),
		zap.Duration("duration", rec.Duration),
		zap.Bool("success", rec.Success),
	}
	if rec.Outcome != "" {
		fields = append(fields, zap.String("outcome", rec.Outcome))
	}
	if !rec.Success {
		l.logger.Warn("dispatch failed", append(fields, zap.String("error_kind", rec.ErrorKind))...)
		return
	}
	l.logger.Info("dispatch processed", fields...)
}

// Counters aggregates dispatch records in memory for the metrics endpoint.
type Counters struct {
	mu      sync.Mutex
	started time.Time
	routes  map[string]*RouteStats
}

// RouteStats are the totals for one platform/route pair.
type RouteStats struct {
	Platform      string  `json:"platform"`
	Route         string  `json:"route"`
	Received      uint64  `json:"received"`
	Succeeded     uint64  `json:"succeeded"`
	Failed        uint64  `json:"failed"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`

	totalDuration time.Duration
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Since     time.Time    `json:"since"`
	Received  uint64       `json:"received"`
	Succeeded uint64       `json:"succeeded"`
	Failed    uint64       `json:"failed"`
	Routes    []RouteStats `json:"routes"`
}

func NewCounters() *Counters {
	return &Counters{started: time.Now().UTC(), routes: make(map[string]*RouteStats)}
}

func (c *Counters) RecordDispatch(_ context.Context, rec DispatchRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := rec.Platform + "/" + rec.Route
	stats, ok := c.routes[key]
	if !ok {
		stats = &RouteStats{Platform: rec.Platform, Route: rec.Route}
		c.routes[key] = stats
	}
	stats.Received++
	if rec.Success {
		stats.Succeeded++
	} else {
		stats.Failed++
	}
	stats.totalDuration += rec.Duration
	stats.AvgDurationMs = millis(stats.totalDuration) / float64(stats.Received)
	if ms := millis(rec.Duration); ms > stats.MaxDurationMs {
		stats.MaxDurationMs = ms
	}
}

// Snapshot returns the totals with routes sorted by platform and route.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{Since: c.started, Routes: make([]RouteStats, 0, len(c.routes))}
	for _, r := range c.routes {
		snap.Received += r.Received
		snap.Succeeded += r.Succeeded
		snap.Failed += r.Failed
		snap.Routes = append(snap.Routes, *r)
	}
	sort.Slice(snap.Routes, func(i, j int) bool {
		if snap.Routes[i].Platform != snap.Routes[j].Platform {
			return snap.Routes[i].Platform < snap.Routes[j].Platform
		}
		return snap.Routes[i].Route < snap.Routes[j].Route
	})
	return snap
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
