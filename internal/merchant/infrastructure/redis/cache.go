package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/payment-orchestrator/internal/merchant/domain"
)

const keyPrefix = "merchant:cred:"

type Cache struct {
	rdb redis.Cmdable
}

func NewCache(rdb redis.Cmdable) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) key(hash string) string { return keyPrefix + hash }

func (c *Cache) Get(ctx context.Context, hash string) (domain.Merchant, bool, error) {
	b, err := c.rdb.Get(ctx, c.key(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Merchant{}, false, nil
	}
	if err != nil {
		return domain.Merchant{}, false, err
	}
	var m domain.Merchant
	if err := json.Unmarshal(b, &m); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it.
		return domain.Merchant{}, false, nil
	}
	return m, true, nil
}

func (c *Cache) Set(ctx context.Context, hash string, m domain.Merchant, ttl time.Duration) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(hash), b, ttl).Err()
}

// Invalidate drops a cached credential, e.g. after a key is revoked.
func (c *Cache) Invalidate(ctx context.Context, hash string) error {
	return c.rdb.Del(ctx, c.key(hash)).Err()
}
