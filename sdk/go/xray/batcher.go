package xray

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// deliverFunc attempts one network delivery of a whole batch.
type deliverFunc func(ctx context.Context, events []event) error

// batcher accumulates events in memory and flushes them with a single
// background goroutine when either the batch size or the flush interval is
// reached. Delivery failures discard the batch: there is no retry and no
// backpressure to producers.
type batcher struct {
	deliver       deliverFunc
	logger        *slog.Logger
	maxSize       int
	flushInterval time.Duration
	queueLimit    int

	mu     sync.Mutex
	events []event

	droppedEvents atomic.Int64 // total events dropped to honor queueLimit

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context // set by drain so the final flush respects the caller's deadline
}

func newBatcher(deliver deliverFunc, logger *slog.Logger, maxSize int, flushInterval time.Duration, queueLimit int) *batcher {
	return &batcher{
		deliver:       deliver,
		logger:        logger,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		queueLimit:    queueLimit,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// start begins the background flush loop. Call drain to stop.
func (b *batcher) start() {
	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// enqueue appends one event without blocking. When queueLimit is set and
// reached, the oldest queued events are dropped to make room.
func (b *batcher) enqueue(ev event) {
	b.mu.Lock()

	b.events = append(b.events, ev)
	if b.queueLimit > 0 && len(b.events) > b.queueLimit {
		over := len(b.events) - b.queueLimit
		b.events = append(b.events[:0], b.events[over:]...)
		b.droppedEvents.Add(int64(over))
		b.logger.Warn("xray: queue limit reached, dropping oldest events", "dropped", over)
	}
	full := len(b.events) >= b.maxSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

func (b *batcher) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final best-effort flush of whatever is still queued.
			if b.drainCtx != nil {
				b.flush(b.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *batcher) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.events) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	if err := b.deliver(ctx, batch); err != nil {
		// Fail-open: the batch is gone. Delivery problems must never
		// become a liveness hazard for the instrumented application.
		b.logger.Warn("xray: batch delivery failed, discarding",
			"error", err,
			"batch_size", len(batch),
		)
		return
	}

	b.logger.Debug("xray: batch delivered", "batch_size", len(batch))
}

// drain signals the flush loop to stop, waits for its final flush, and
// returns. ctx bounds both the wait and the final delivery attempt.
func (b *batcher) drain(ctx context.Context) {
	b.drainCtx = ctx
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("xray: drain timed out waiting for flush loop")
	}
}

// pending returns the current number of queued events.
func (b *batcher) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// dropped returns the total number of events dropped to honor the queue
// limit. A non-zero value indicates telemetry loss, never application harm.
func (b *batcher) dropped() int64 {
	return b.droppedEvents.Load()
}
