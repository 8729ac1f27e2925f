package postgres

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/payment-orchestrator/internal/db"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
	"github.com/dmehra2102/payment-orchestrator/pkg/outbox"
	"github.com/dmehra2102/payment-orchestrator/pkg/tracing"
)

const aggregatePayment = "payment"

// AppendEvents writes one outbox row per event inside the payment's
// transaction. Under the row lock, outbox ids follow the payment's versions.
func (t *Tx) AppendEvents(ctx context.Context, events []domain.LifecycleEvent) error {
	traceparent := tracing.Traceparent(ctx)
	for _, ev := range events {
		payload, err := ev.Encode()
		if err != nil {
			return apperr.Internal(err, "encode %s event", ev.Type)
		}
		headers := map[string]string{
			"content_type": "application/json",
			"version":      strconv.FormatInt(ev.Data.Version, 10),
		}
		_, err = t.tx.Exec(ctx, `
			INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		`, aggregatePayment, ev.PaymentID(), string(ev.Type), payload, headers, traceparent)
		if err != nil {
			return mapErr(err, "outbox event for payment "+ev.PaymentID())
		}
	}
	return nil
}

// OutboxStore implements outbox.Store on the outbox table.
type OutboxStore struct {
	log        *slog.Logger
	pool       db.Pool
	maxRetries int
}

func NewOutboxStore(log *slog.Logger, pool db.Pool, maxRetries int) *OutboxStore {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &OutboxStore{log: log, pool: pool, maxRetries: maxRetries}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at, retry_count
		FROM outbox
		WHERE status = 'pending'
		   OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		return nil, err
	}

	var events []outbox.Event
	for rows.Next() {
		var e outbox.Event
		var headers map[string]string
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload, &headers, &e.Traceparent, &e.CreatedAt, &e.RetryCount); err != nil {
			rows.Close()
			return nil, err
		}
		e.Headers = headers
		e.Status = outbox.StatusInProgress
		e.RelayID = relayID
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	_, err = tx.Exec(ctx, `
		UPDATE outbox SET status = 'in_progress', relay_id = $1, lease_until = now() + $2::interval
		WHERE id = ANY($3)
	`, relayID, lease, ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status = 'sent', lease_until = NULL WHERE id = ANY($1)`, ids)
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string, permanent bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET status = CASE WHEN $3 OR retry_count + 1 >= $4 THEN 'failed' ELSE 'pending' END,
			last_error = $2, retry_count = retry_count + 1, relay_id = NULL, lease_until = NULL
		WHERE id = $1
	`, id, errMsg, permanent, s.maxRetries)
	if err == nil && permanent {
		s.log.Warn("outbox event parked", "event_id", id, "err", errMsg)
	}
	return err
}

func (s *OutboxStore) Release(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status = 'pending', relay_id = NULL, lease_until = NULL
		WHERE id = ANY($1) AND status = 'in_progress'
	`, ids)
	return err
}

func (s *OutboxStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET lease_until = now() + $1::interval
		WHERE id = ANY($2) AND relay_id = $3
	`, lease, ids, relayID)
	return err
}
