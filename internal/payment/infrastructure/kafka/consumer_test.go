package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
	"github.com/dmehra2102/payment-orchestrator/pkg/idempotency"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type sink struct {
	events []domain.LifecycleEvent
	fail   int
}

func (s *sink) Publish(_ context.Context, ev domain.LifecycleEvent) error {
	if s.fail > 0 {
		s.fail--
		return errors.New("redis down")
	}
	s.events = append(s.events, ev)
	return nil
}

func message(t *testing.T, offset int64, typ domain.EventType, version int64) kafka.Message {
	t.Helper()
	ev := domain.NewLifecycleEvent(typ, domain.Payment{ID: "pay-1", Version: version}, time.Now())
	b, err := ev.Encode()
	require.NoError(t, err)
	return kafka.Message{
		Offset:  offset,
		Key:     []byte("pay-1"),
		Value:   b,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(typ)}},
	}
}

func newIdem(t *testing.T) *idempotency.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return idempotency.NewStore(rdb, time.Hour)
}

func TestConsumerForwardsOnceAndCommitsAll(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		message(t, 0, domain.EventCreated, 3),
		message(t, 1, domain.EventCaptured, 4),
		message(t, 2, domain.EventCaptured, 4), // redelivery
		{Offset: 3, Value: []byte("not json")},
		{Offset: 4, Value: []byte(`{}`), Headers: []kafka.Header{{Key: "event_type", Value: []byte("order.created")}}},
	}}
	out := &sink{}
	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), reader, out, newIdem(t))

	require.NoError(t, c.Run(context.Background()))

	require.Len(t, out.events, 2)
	assert.Equal(t, domain.EventCreated, out.events[0].Type)
	assert.Equal(t, domain.EventCaptured, out.events[1].Type)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, reader.committed)
}

func newTestConsumer(t *testing.T, reader Reader, out *sink) *Consumer {
	t.Helper()
	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), reader, out, newIdem(t))
	c.backoff = time.Millisecond
	c.maxBackoff = 4 * time.Millisecond
	return c
}

func TestConsumerRetriesSinkBeforeCommitting(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{message(t, 0, domain.EventRefunded, 5)}}
	out := &sink{fail: 3}
	c := newTestConsumer(t, reader, out)

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, out.events, 1)
	assert.Equal(t, int64(5), out.events[0].Data.Version)
	assert.Equal(t, []int64{0}, reader.committed)
}

func TestConsumerLeavesOffsetUncommittedWhileSinkDown(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		message(t, 0, domain.EventRefunded, 5),
		message(t, 1, domain.EventDisputed, 6),
	}}
	out := &sink{fail: 1 << 30}
	c := newTestConsumer(t, reader, out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	assert.Empty(t, out.events)
	assert.Empty(t, reader.committed)
	// The later event of the same payment was never fetched past the stuck one.
	assert.Len(t, reader.msgs, 1)
}
