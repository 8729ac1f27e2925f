package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
)

const DefaultChannel = "payments"

// Publisher pushes lifecycle events to a Redis pub/sub channel for live
// dashboards. Delivery is best effort: subscribers that are not connected
// miss the event.
type Publisher struct {
	rdb     redis.Cmdable
	channel string
}

func NewPublisher(rdb redis.Cmdable, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	b, err := ev.Encode()
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, b).Err()
}
