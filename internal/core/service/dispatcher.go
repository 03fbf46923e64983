package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/metrics"
	"github.com/rl1809/keydrop/internal/port"
)

const publishTimeout = 10 * time.Second

// Dispatcher moves post-commit events off the request path: Publish only
// enqueues, and a fixed pool of workers forwards to the downstream publisher.
type Dispatcher struct {
	queue   chan domain.Event
	sink    port.EventPublisher
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink port.EventPublisher, queueSize int, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		queue:   make(chan domain.Event, queueSize),
		sink:    sink,
		log:     log,
		metrics: m,
	}
}

// Start launches the workers. Call Close to drain and stop them.
func (d *Dispatcher) Start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.log.Info("event workers started", zap.Int("workers", workers))
}

// Publish enqueues the event without blocking. A full or closed queue drops
// the event; the order it describes is already committed.
func (d *Dispatcher) Publish(_ context.Context, event domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event, "dispatcher closed")
		return nil
	}
	select {
	case d.queue <- event:
	default:
		d.drop(event, "queue full")
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be published.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("event workers stopped")
}

func (d *Dispatcher) workerLoop(id int) {
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := d.sink.Publish(ctx, event); err != nil {
			d.log.Error("failed to publish event",
				zap.Int("worker", id),
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (d *Dispatcher) drop(event domain.Event, reason string) {
	d.metrics.EventDropped()
	d.log.Warn("event dropped",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("reason", reason),
	)
}

var _ port.EventPublisher = (*Dispatcher)(nil)
