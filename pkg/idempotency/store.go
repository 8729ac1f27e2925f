package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers keys for ttl. Seen claims a key atomically, so of several
// concurrent callers exactly one observes it as new.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// EventKey identifies one lifecycle event independent of where it was read
// from, so a redelivered copy maps to the same key.
func (s *Store) EventKey(aggregateID string, version int64, eventType string) string {
	return fmt.Sprintf("idem:event:%s:%d:%s", aggregateID, version, eventType)
}

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}

	return !ok, nil
}

// Forget releases a claimed key so the work can be retried.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
