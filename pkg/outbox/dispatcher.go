package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/segmentio/kafka-go"
)

// ErrPermanent marks dispatch failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent")

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Dispatcher struct {
	log      *slog.Logger
	producer Producer
	topic    string
}

func NewDispatcher(log *slog.Logger, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, topic: topic}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	if len(event.Payload) == 0 {
		return fmt.Errorf("%w: event %d has no payload", ErrPermanent, event.ID)
	}

	keys := make([]string, 0, len(event.Headers))
	for k := range event.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafka.Header, 0, len(keys)+2)
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(event.Headers[k])})
	}
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(event.Type)})
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(event.Traceparent)})
	}

	msg := kafka.Message{
		Topic:   d.topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "type", event.Type, "err", err)
		var tooLarge kafka.MessageTooLargeError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return err
	}
	d.log.Debug("outbox dispatched", "event_id", event.ID, "type", event.Type, "key", event.AggregateID)
	return nil
}
