package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultQueueSize = 1024

// AsyncDispatcher queues published events and delivers them to the wrapped
// dispatcher's handlers on a single background goroutine, in publish order.
// Publish never blocks: when the queue is full the event is dropped and
// logged.
type AsyncDispatcher struct {
	inner  Dispatcher
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan queuedEvent
	done   chan struct{}
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// NewAsyncDispatcher starts the delivery goroutine. Call Close to drain it.
func NewAsyncDispatcher(inner Dispatcher, queueSize int, logger *zap.Logger) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &AsyncDispatcher{
		inner:  inner,
		logger: logger,
		queue:  make(chan queuedEvent, queueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *AsyncDispatcher) run() {
	defer close(d.done)
	for q := range d.queue {
		_ = d.inner.Publish(q.ctx, q.event)
	}
}

// Publish enqueues the event. Request cancellation does not reach the
// handlers; context values do.
func (d *AsyncDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("event dropped after close",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return nil
	}
	select {
	case d.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		d.logger.Warn("event queue full; dropping event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Int("capacity", cap(d.queue)))
	}
	return nil
}

func (d *AsyncDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.inner.Subscribe(eventType, handler)
}

func (d *AsyncDispatcher) SubscribeAll(handler EventHandler) {
	d.inner.SubscribeAll(handler)
}

// Close stops accepting events and waits until the queue is drained or ctx
// ends.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("event queue not drained", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}
