package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCountersAggregateByRoute(t *testing.T) {
	c := NewCounters()
	ctx := context.Background()
	c.RecordDispatch(ctx, DispatchRecord{Platform: PlatformChat, Route: "analysis", Duration: 20 * time.Millisecond, Success: true})
	c.RecordDispatch(ctx, DispatchRecord{Platform: PlatformChat, Route: "analysis", Duration: 40 * time.Millisecond, Success: false})
	c.RecordDispatch(ctx, DispatchRecord{Platform: PlatformPayment, Route: "subscription", Duration: time.Millisecond, Success: true})

	snap := c.Snapshot()
	assert.EqualValues(t, 3, snap.Received)
	assert.EqualValues(t, 2, snap.Succeeded)
	assert.EqualValues(t, 1, snap.Failed)
	require.Len(t, snap.Routes, 2)
	assert.Equal(t, "analysis", snap.Routes[0].Route)
	assert.InDelta(t, 30, snap.Routes[0].AvgDurationMs, 0.001)
	assert.InDelta(t, 40, snap.Routes[0].MaxDurationMs, 0.001)
}

func TestCountersConcurrentUse(t *testing.T) {
	c := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordDispatch(context.Background(), DispatchRecord{Platform: PlatformChat, Route: "quiz", Success: true})
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, c.Snapshot().Received)
}

func TestLogRecorderLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := Multi{NewLogRecorder(zap.New(core)), nil}

	rec.RecordDispatch(context.Background(), DispatchRecord{Platform: PlatformChat, Route: "help", Success: true})
	rec.RecordDispatch(context.Background(), DispatchRecord{Platform: PlatformChat, Route: "analysis", ErrorKind: "store"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "dispatch processed", entries[0].Message)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "store", entries[1].ContextMap()["error_kind"])
}
