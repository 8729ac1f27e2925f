package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/payment-orchestrator/internal/payment/application"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
	"github.com/dmehra2102/payment-orchestrator/pkg/tracing"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Deduper interface {
	EventKey(aggregateID string, version int64, eventType string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

const (
	retryBackoff    = 100 * time.Millisecond
	maxRetryBackoff = 5 * time.Second
)

// Consumer reads the lifecycle topic and forwards each event once to sink.
// Redelivered copies are recognised by payment id, version and type. An
// offset is committed only after its event was forwarded or skipped.
type Consumer struct {
	log        *slog.Logger
	reader     Reader
	sink       application.EventPublisher
	idem       Deduper
	tracer     trace.Tracer
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(log *slog.Logger, reader Reader, sink application.EventPublisher, idem Deduper) *Consumer {
	return &Consumer{
		log:    log,
		reader: reader,
		sink:   sink,
		idem:   idem,
		tracer: otel.Tracer("payment-stream"),

		backoff:    retryBackoff,
		maxBackoff: maxRetryBackoff,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !c.deliver(ctx, msg) {
			// Uncommitted; the group redelivers it after a restart.
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

// deliver retries msg with growing backoff until the sink accepts it. It
// reports false when ctx ends first. Later messages of the partition wait,
// so per-payment order survives a sink outage.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message) bool {
	wait := c.backoff
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		c.log.Warn("lifecycle event not forwarded, retrying", "partition", msg.Partition, "offset", msg.Offset, "retry_in", wait, "err", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

// handle forwards one message. Only a sink failure is returned; messages that
// can never be forwarded are logged and skipped.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeLifecycleEvent")
	defer span.End()

	if t := headerValue(msg.Headers, "event_type"); t != "" && !strings.HasPrefix(t, "payment.") {
		return nil
	}

	ev, err := domain.DecodeLifecycleEvent(msg.Value)
	if err != nil || ev.PaymentID() == "" {
		c.log.Error("undecodable lifecycle event skipped", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	span.SetAttributes(
		attribute.String("payment.id", ev.PaymentID()),
		attribute.String("event.type", string(ev.Type)),
		attribute.Int64("payment.version", ev.Data.Version),
	)

	key := c.idem.EventKey(ev.PaymentID(), ev.Data.Version, string(ev.Type))
	seen, err := c.idem.Seen(msgCtx, key)
	if err != nil {
		// Without the dedupe store a duplicate is preferable to a gap.
		c.log.Warn("idempotency check failed", "key", key, "err", err)
	}
	if seen {
		c.log.Debug("duplicate event skipped", "key", key)
		return nil
	}

	if err := c.sink.Publish(msgCtx, ev); err != nil {
		c.log.Error("forward lifecycle event failed", "payment_id", ev.PaymentID(), "type", ev.Type, "err", err)
		span.RecordError(err)
		if ferr := c.idem.Forget(context.WithoutCancel(msgCtx), key); ferr != nil {
			c.log.Warn("idempotency release failed", "key", key, "err", ferr)
		}
		return err
	}
	c.log.Debug("lifecycle event forwarded", "payment_id", ev.PaymentID(), "type", ev.Type, "version", ev.Data.Version)
	return nil
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
