package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the outbox relay's producer. Hash balancing keeps every key, and
// so every payment, on one partition.
type Writer struct {
	*kafka.Writer
}

func NewWriter(brokers []string) *Writer {
	return &Writer{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			// Dispatch sends one message per call.
			BatchTimeout: 10 * time.Millisecond,
			Compression:  kafka.Snappy,
		},
	}
}

func (w *Writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return w.Writer.WriteMessages(ctx, msgs...)
}
