package application

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
)

var (
	ErrQueueFull       = errors.New("publish queue full")
	ErrPublisherClosed = errors.New("publisher closed")
)

type queued struct {
	span trace.SpanContext
	ev   domain.LifecycleEvent
}

// AsyncPublisher moves publishing off the request path. Events are sharded by
// payment id, so events of one payment reach next in the order they were
// handed in. Publish never blocks; a full shard drops the event.
type AsyncPublisher struct {
	log    *slog.Logger
	next   EventPublisher
	shards []chan queued

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncPublisher(log *slog.Logger, next EventPublisher, shards, depth int) *AsyncPublisher {
	if shards <= 0 {
		shards = 1
	}
	if depth <= 0 {
		depth = 1024
	}
	a := &AsyncPublisher{log: log, next: next, shards: make([]chan queued, shards)}
	for i := range a.shards {
		a.shards[i] = make(chan queued, depth)
		a.wg.Add(1)
		go a.work(a.shards[i])
	}
	return a
}

func (a *AsyncPublisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrPublisherClosed
	}
	select {
	case a.shards[a.shard(ev.PaymentID())] <- queued{span: trace.SpanContextFromContext(ctx), ev: ev}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	for _, ch := range a.shards {
		close(ch)
	}
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}

func (a *AsyncPublisher) shard(paymentID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(paymentID))
	return int(h.Sum32() % uint32(len(a.shards)))
}

func (a *AsyncPublisher) work(ch <-chan queued) {
	defer a.wg.Done()
	for q := range ch {
		ctx := trace.ContextWithRemoteSpanContext(context.Background(), q.span)
		if err := a.next.Publish(ctx, q.ev); err != nil {
			a.log.Error("async publish failed", "payment_id", q.ev.PaymentID(), "type", q.ev.Type, "version", q.ev.Data.Version, "err", err)
		}
	}
}

// LogPublisher records committed events in the service log.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev domain.LifecycleEvent) error {
	p.Log.Info("lifecycle event", "type", ev.Type, "payment_id", ev.PaymentID(), "status", ev.Data.Status, "version", ev.Data.Version)
	return nil
}
