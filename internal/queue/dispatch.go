package queue

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/pageza/nutrilog/backend/internal/metrics"
)

const (
	DefaultDispatchQueue  = "nutrilog.dispatch"
	defaultDispatchBuffer = 256
)

// DispatchPublisher is a metrics.Recorder that forwards records to a queue from a
// background goroutine. Records are dropped, not blocked on, when the buffer is full.
type DispatchPublisher struct {
	pub     Publisher
	queue   string
	records chan metrics.DispatchRecord
	done    chan struct{}
	once    sync.Once
	logger  *zap.Logger

	mu      sync.Mutex
	dropped uint64
}

var _ metrics.Recorder = (*DispatchPublisher)(nil)

// NewDispatchPublisher starts the forwarding goroutine. Call Close to flush and stop it.
func NewDispatchPublisher(pub Publisher, queueName string, buffer int, logger *zap.Logger) *DispatchPublisher {
	if queueName == "" {
		queueName = DefaultDispatchQueue
	}
	if buffer <= 0 {
		buffer = defaultDispatchBuffer
	}
	p := &DispatchPublisher{
		pub:     pub,
		queue:   queueName,
		records: make(chan metrics.DispatchRecord, buffer),
		done:    make(chan struct{}),
		logger:  logger.Named("dispatch_publisher"),
	}
	go p.run()
	return p
}

func (p *DispatchPublisher) RecordDispatch(_ context.Context, rec metrics.DispatchRecord) {
	select {
	case p.records <- rec:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
	}
}

// Dropped returns how many records were discarded because the buffer was full.
func (p *DispatchPublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *DispatchPublisher) run() {
	defer close(p.done)
	for rec := range p.records {
		body, err := json.Marshal(rec)
		if err != nil {
			p.logger.Error("failed to encode dispatch record", zap.Error(err))
			continue
		}
		if err := p.pub.Publish(p.queue, body); err != nil {
			p.logger.Warn("failed to publish dispatch record", zap.Error(err))
		}
	}
}

// Close publishes the buffered records and stops the goroutine. RecordDispatch must not
// be called afterwards.
func (p *DispatchPublisher) Close() {
	p.once.Do(func() {
		close(p.records)
		<-p.done
	})
}
