package application

import (
	"context"
	"sync"
)

// paymentLocks serializes in-process work on one payment id from before the
// transaction begins until its events are handed to the publisher, so events
// of one payment are enqueued in commit order. Different ids never contend.
type paymentLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newPaymentLocks() *paymentLocks {
	return &paymentLocks{m: make(map[string]*lockEntry)}
}

func (l *paymentLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	e, ok := l.m[id]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			l.drop(id, e)
		}, nil
	case <-ctx.Done():
		l.drop(id, e)
		return nil, ctx.Err()
	}
}

func (l *paymentLocks) drop(id string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.m, id)
	}
	l.mu.Unlock()
}
