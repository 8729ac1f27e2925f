// Package memory is a PaymentStore kept in process memory with the same
// locking contract as the Postgres store. It backs tests and local runs.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dmehra2102/payment-orchestrator/internal/payment/application"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
)

const DefaultLockTimeout = 5 * time.Second

type row struct {
	lock chan struct{}
	p    domain.Payment
}

type Store struct {
	mu          sync.RWMutex
	rows        map[string]*row
	events      []domain.LifecycleEvent
	lockTimeout time.Duration
}

func NewStore(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{rows: make(map[string]*row), lockTimeout: lockTimeout}
}

func (s *Store) Begin(ctx context.Context) (application.PaymentTx, error) {
	return &tx{s: s, held: make(map[string]*row), updates: make(map[string]staged)}, nil
}

// Events returns the committed lifecycle events in commit order, the
// in-memory counterpart of the outbox table.
func (s *Store) Events() []domain.LifecycleEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

func (s *Store) Get(ctx context.Context, merchantID, id string) (domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok || r.p.MerchantID != merchantID {
		return domain.Payment{}, apperr.NotFound("payment %s not found", id)
	}
	return r.p.Clone(), nil
}

func (s *Store) List(ctx context.Context, merchantID string, q domain.ListQuery) (domain.Page, error) {
	s.mu.RLock()
	matched := make([]domain.Payment, 0)
	for _, r := range s.rows {
		p := r.p
		if p.MerchantID != merchantID {
			continue
		}
		if q.CustomerID != "" && p.CustomerID != q.CustomerID {
			continue
		}
		if q.Status != "" && p.Status != q.Status {
			continue
		}
		matched = append(matched, p.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, newestFirst)
	return paginate(matched, q)
}

// newestFirst orders by created_at descending with id as the tie breaker.
func newestFirst(a, b domain.Payment) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

func paginate(sorted []domain.Payment, q domain.ListQuery) (domain.Page, error) {
	page := domain.Page{Total: int64(len(sorted))}
	window := sorted

	switch {
	case q.StartingAfter != "":
		i := slices.IndexFunc(sorted, func(p domain.Payment) bool { return p.ID == q.StartingAfter })
		if i < 0 {
			return domain.Page{}, apperr.NotFound("payment %s not found", q.StartingAfter)
		}
		window = sorted[i+1:]
	case q.EndingBefore != "":
		i := slices.IndexFunc(sorted, func(p domain.Payment) bool { return p.ID == q.EndingBefore })
		if i < 0 {
			return domain.Page{}, apperr.NotFound("payment %s not found", q.EndingBefore)
		}
		// The page closest to the cursor, still newest first.
		start := max(i-q.Limit, 0)
		page.Data = sorted[start:i]
		page.HasMore = start > 0
		return page, nil
	}

	if len(window) > q.Limit {
		page.Data = window[:q.Limit]
		page.HasMore = true
	} else {
		page.Data = window
	}
	return page, nil
}

type staged struct {
	p        domain.Payment
	expected int64
}

type tx struct {
	s       *Store
	held    map[string]*row
	inserts []domain.Payment
	updates map[string]staged
	events  []domain.LifecycleEvent
	done    bool
}

func (t *tx) Insert(ctx context.Context, p domain.Payment) error {
	if t.done {
		return apperr.Internal(nil, "transaction closed")
	}
	t.inserts = append(t.inserts, p.Clone())
	return nil
}

func (t *tx) GetForUpdate(ctx context.Context, merchantID, id string) (domain.Payment, error) {
	if t.done {
		return domain.Payment{}, apperr.Internal(nil, "transaction closed")
	}
	t.s.mu.RLock()
	r, ok := t.s.rows[id]
	owned := ok && r.p.MerchantID == merchantID
	t.s.mu.RUnlock()
	if !owned {
		return domain.Payment{}, apperr.NotFound("payment %s not found", id)
	}

	if _, mine := t.held[id]; !mine {
		timer := time.NewTimer(t.s.lockTimeout)
		defer timer.Stop()
		select {
		case r.lock <- struct{}{}:
			t.held[id] = r
		case <-timer.C:
			return domain.Payment{}, apperr.Conflict("payment %s is locked by another operation", id)
		case <-ctx.Done():
			return domain.Payment{}, apperr.Conflict("payment %s is locked by another operation: %v", id, ctx.Err())
		}
	}

	if u, ok := t.updates[id]; ok {
		return u.p.Clone(), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return r.p.Clone(), nil
}

func (t *tx) Update(ctx context.Context, p domain.Payment, expectedVersion int64) error {
	if t.done {
		return apperr.Internal(nil, "transaction closed")
	}
	for i, ins := range t.inserts {
		if ins.ID == p.ID {
			if ins.Version != expectedVersion {
				return apperr.Conflict("payment %s changed concurrently", p.ID)
			}
			t.inserts[i] = p.Clone()
			return nil
		}
	}
	if _, ok := t.held[p.ID]; !ok {
		return apperr.Internal(nil, "payment %s updated without a row lock", p.ID)
	}
	if prev, ok := t.updates[p.ID]; ok {
		if prev.p.Version != expectedVersion {
			return apperr.Conflict("payment %s changed concurrently", p.ID)
		}
		expectedVersion = prev.expected
	}
	t.updates[p.ID] = staged{p: p.Clone(), expected: expectedVersion}
	return nil
}

func (t *tx) AppendEvents(ctx context.Context, events []domain.LifecycleEvent) error {
	if t.done {
		return apperr.Internal(nil, "transaction closed")
	}
	t.events = append(t.events, events...)
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return apperr.Internal(nil, "transaction closed")
	}
	defer t.release()

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, p := range t.inserts {
		if _, exists := t.s.rows[p.ID]; exists {
			return apperr.Conflict("payment %s already exists", p.ID)
		}
	}
	for id, u := range t.updates {
		if t.s.rows[id].p.Version != u.expected {
			return apperr.Conflict("payment %s changed concurrently", id)
		}
	}
	for _, p := range t.inserts {
		t.s.rows[p.ID] = &row{lock: make(chan struct{}, 1), p: p}
	}
	for id, u := range t.updates {
		t.s.rows[id].p = u.p
	}
	t.s.events = append(t.s.events, t.events...)
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *tx) release() {
	t.done = true
	for id, r := range t.held {
		<-r.lock
		delete(t.held, id)
	}
}
