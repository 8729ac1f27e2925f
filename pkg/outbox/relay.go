package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Store leases pending rows to one relay at a time. Rows whose lease expired
// are offered again. MarkFailed returns a row to pending unless permanent is
// set or its retries are exhausted. Release returns rows to pending without
// counting an attempt.
type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, permanent bool) error
	Release(ctx context.Context, ids []int64) error
	ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error
}

type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
	now       func() time.Time
}

type RelayOption func(*Relay)

func WithBatchSize(n int) RelayOption { return func(r *Relay) { r.batchSize = n } }

func WithInterval(d time.Duration) RelayOption { return func(r *Relay) { r.interval = d } }

func WithLease(d time.Duration) RelayOption { return func(r *Relay) { r.lease = d } }

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string, opts ...RelayOption) *Relay {
	r := &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("relay batch error", "relay_id", r.relayID, "err", err)
			}
		}
	}
}

// RunOnce dispatches one leased batch in id order and reports how many rows
// were sent. Once an aggregate fails, its later rows in the batch are
// released untouched so they never overtake the failed one.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	leasedAt := r.now()
	blocked := map[string]bool{}
	var sent, released []int64

	for i, e := range events {
		if r.now().Sub(leasedAt) > r.lease/2 {
			if err := r.store.ExtendLease(ctx, r.relayID, ids(events[i:]), r.lease); err != nil {
				r.log.Warn("relay extend lease failed", "relay_id", r.relayID, "err", err)
			}
			leasedAt = r.now()
		}
		if blocked[e.AggregateID] {
			released = append(released, e.ID)
			continue
		}
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			blocked[e.AggregateID] = true
			permanent := errors.Is(err, ErrPermanent)
			if mErr := r.store.MarkFailed(ctx, e.ID, err.Error(), permanent); mErr != nil {
				r.log.Error("relay mark failed error", "event_id", e.ID, "err", mErr)
			}
			continue
		}
		sent = append(sent, e.ID)
	}

	if len(released) > 0 {
		if err := r.store.Release(ctx, released); err != nil {
			r.log.Error("relay release error", "err", err)
		}
	}
	if len(sent) > 0 {
		if err := r.store.MarkSent(ctx, sent); err != nil {
			return 0, err
		}
	}
	return len(sent), nil
}

func ids(events []Event) []int64 {
	out := make([]int64, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}
