package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
)

type sink struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
	block  chan struct{}
	err    error
}

func (s *sink) Publish(_ context.Context, ev domain.LifecycleEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func event(paymentID string, version int64) domain.LifecycleEvent {
	return domain.LifecycleEvent{Type: domain.EventRefunded, Data: domain.Payment{ID: paymentID, Version: version}}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAsyncPublisherKeepsPerPaymentOrder(t *testing.T) {
	out := &sink{}
	a := NewAsyncPublisher(quietLogger(), out, 4, 256)

	for v := int64(1); v <= 20; v++ {
		for p := 0; p < 5; p++ {
			require.NoError(t, a.Publish(context.Background(), event(fmt.Sprintf("p-%d", p), v)))
		}
	}
	require.NoError(t, a.Close())

	last := map[string]int64{}
	for _, ev := range out.events {
		assert.Greater(t, ev.Data.Version, last[ev.PaymentID()], "payment %s out of order", ev.PaymentID())
		last[ev.PaymentID()] = ev.Data.Version
	}
	assert.Len(t, out.events, 100)
}

func TestAsyncPublisherDropsWhenFull(t *testing.T) {
	out := &sink{block: make(chan struct{})}
	a := NewAsyncPublisher(quietLogger(), out, 1, 1)

	// The worker takes the first event and blocks in the sink; the second fills the queue.
	require.NoError(t, a.Publish(context.Background(), event("p-1", 1)))
	require.Eventually(t, func() bool { return len(a.shards[0]) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, a.Publish(context.Background(), event("p-1", 2)))

	assert.ErrorIs(t, a.Publish(context.Background(), event("p-1", 3)), ErrQueueFull)

	close(out.block)
	require.NoError(t, a.Close())
	assert.Len(t, out.events, 2)
	assert.ErrorIs(t, a.Publish(context.Background(), event("p-1", 4)), ErrPublisherClosed)
}

func TestAsyncPublisherSwallowsSinkErrors(t *testing.T) {
	out := &sink{err: errors.New("broker down")}
	a := NewAsyncPublisher(quietLogger(), out, 2, 8)

	require.NoError(t, a.Publish(context.Background(), event("p-1", 1)))
	require.NoError(t, a.Close())
	assert.Len(t, out.events, 1)
}
