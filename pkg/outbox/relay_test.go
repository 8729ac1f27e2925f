package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	batch    []Event
	lockErr  error
	sent     []int64
	failed   map[int64]bool // id -> permanent
	released []int64
	extended int
}

func (s *fakeStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	b := s.batch
	s.batch = nil
	return b, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id int64, errMsg string, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[int64]bool{}
	}
	s.failed[id] = permanent
	return nil
}

func (s *fakeStore) Release(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, ids...)
	return nil
}

func (s *fakeStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extended++
	return nil
}

type fakeProducer struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	failKey string
	err     error
}

func (p *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if string(m.Key) == p.failKey {
			return p.err
		}
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ev(id int64, aggregate string) Event {
	return Event{ID: id, AggregateType: "payment", AggregateID: aggregate, Type: "payment.created", Payload: []byte(`{}`)}
}

func TestDispatchBuildsKeyedMessage(t *testing.T) {
	prod := &fakeProducer{}
	d := NewDispatcher(discard(), prod, "payment.events")

	e := ev(1, "pay-1")
	e.Headers = map[string]string{"version": "3", "content_type": "application/json"}
	e.Traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	require.NoError(t, d.Dispatch(context.Background(), e))

	require.Len(t, prod.msgs, 1)
	msg := prod.msgs[0]
	assert.Equal(t, "payment.events", msg.Topic)
	assert.Equal(t, []byte("pay-1"), msg.Key)
	assert.Equal(t, []kafka.Header{
		{Key: "content_type", Value: []byte("application/json")},
		{Key: "version", Value: []byte("3")},
		{Key: "event_type", Value: []byte("payment.created")},
		{Key: "traceparent", Value: []byte(e.Traceparent)},
	}, msg.Headers)
}

func TestDispatchEmptyPayloadIsPermanent(t *testing.T) {
	d := NewDispatcher(discard(), &fakeProducer{}, "t")
	err := d.Dispatch(context.Background(), Event{ID: 9})
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestRunOnceMarksSentAndFailed(t *testing.T) {
	store := &fakeStore{batch: []Event{ev(1, "a"), ev(2, "b"), ev(3, "a"), ev(4, "c")}}
	prod := &fakeProducer{failKey: "b", err: errors.New("broker unavailable")}
	r := NewRelay(discard(), store, NewDispatcher(discard(), prod, "t"), "relay-1")

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 3, 4}, store.sent)
	assert.Equal(t, map[int64]bool{2: false}, store.failed)
}

func TestRunOnceKeepsAggregateOrderAfterFailure(t *testing.T) {
	store := &fakeStore{batch: []Event{ev(1, "a"), ev(2, "b"), ev(3, "a"), ev(4, "a")}}
	prod := &fakeProducer{failKey: "a", err: errors.New("timeout")}
	r := NewRelay(discard(), store, NewDispatcher(discard(), prod, "t"), "relay-1")

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, store.sent)
	assert.Contains(t, store.failed, int64(1))
	assert.Equal(t, []int64{3, 4}, store.released)
}

func TestRunOnceExtendsLongLeases(t *testing.T) {
	store := &fakeStore{batch: []Event{ev(1, "a"), ev(2, "b"), ev(3, "c")}}
	r := NewRelay(discard(), store, NewDispatcher(discard(), &fakeProducer{}, "t"), "relay-1", WithLease(time.Second))
	clock := time.Unix(0, 0)
	r.now = func() time.Time {
		clock = clock.Add(400 * time.Millisecond)
		return clock
	}

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Positive(t, store.extended)
}

func TestRunOnceLockError(t *testing.T) {
	store := &fakeStore{lockErr: errors.New("db down")}
	r := NewRelay(discard(), store, NewDispatcher(discard(), &fakeProducer{}, "t"), "relay-1")

	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{batch: []Event{ev(1, "a")}}
	r := NewRelay(discard(), store, NewDispatcher(discard(), &fakeProducer{}, "t"), "relay-1", WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.sent) == 1
	}, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
