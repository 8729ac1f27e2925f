package postgres

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmehra2102/payment-orchestrator/internal/db"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/application"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
)

const paymentColumns = `id::text, merchant_id::text, customer_id::text, amount, currency, status::text,
	payment_method::text, description, metadata, refunded_amount, refund_reason, failure_code,
	failure_message, version, created_at, updated_at`

type Store struct {
	log         *slog.Logger
	pool        db.Pool
	lockTimeout time.Duration
}

// NewStore returns a store whose transactions wait at most lockTimeout for a
// row held by another transaction. Zero waits indefinitely.
func NewStore(log *slog.Logger, pool db.Pool, lockTimeout time.Duration) *Store {
	return &Store{log: log, pool: pool, lockTimeout: lockTimeout}
}

func (s *Store) Begin(ctx context.Context) (application.PaymentTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapErr(err, "begin transaction")
	}
	if s.lockTimeout > 0 {
		// SET does not accept bind parameters.
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				s.log.Warn("rollback after failed SET lock_timeout", "err", rbErr)
			}
			return nil, mapErr(err, "set lock timeout")
		}
	}
	return &Tx{tx: tx}, nil
}

func (s *Store) Get(ctx context.Context, merchantID, id string) (domain.Payment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND merchant_id = $2`, id, merchantID)
	p, err := scanPayment(row)
	if err != nil {
		return domain.Payment{}, mapErr(err, "payment "+id)
	}
	return p, nil
}

func (s *Store) List(ctx context.Context, merchantID string, q domain.ListQuery) (domain.Page, error) {
	if cursor := cmp.Or(q.StartingAfter, q.EndingBefore); cursor != "" {
		var exists bool
		err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1 AND merchant_id = $2)`, cursor, merchantID).Scan(&exists)
		if err != nil {
			return domain.Page{}, mapErr(err, "list cursor")
		}
		if !exists {
			return domain.Page{}, apperr.NotFound("payment %s not found", cursor)
		}
	}

	lq := buildListQuery(merchantID, q)

	var page domain.Page
	if err := s.pool.QueryRow(ctx, lq.count, lq.countArgs...).Scan(&page.Total); err != nil {
		return domain.Page{}, mapErr(err, "count payments")
	}

	rows, err := s.pool.Query(ctx, lq.page, lq.pageArgs...)
	if err != nil {
		return domain.Page{}, mapErr(err, "list payments")
	}
	defer rows.Close()

	page.Data = make([]domain.Payment, 0, q.Limit+1)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return domain.Page{}, mapErr(err, "scan payment")
		}
		page.Data = append(page.Data, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, mapErr(err, "list payments")
	}

	if len(page.Data) > q.Limit {
		page.Data = page.Data[:q.Limit]
		page.HasMore = true
	}
	if lq.reversed {
		slices.Reverse(page.Data)
	}
	return page, nil
}

type listQuery struct {
	page      string
	pageArgs  []any
	count     string
	countArgs []any
	// reversed pages are fetched oldest first and flipped after trimming.
	reversed bool
}

// buildListQuery pages newest first on (created_at, id). One extra row is
// fetched to detect has_more.
func buildListQuery(merchantID string, q domain.ListQuery) listQuery {
	args := []any{merchantID}
	where := []string{"merchant_id = $1"}
	if q.CustomerID != "" {
		args = append(args, q.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	lq := listQuery{
		count:     "SELECT count(*) FROM payments WHERE " + strings.Join(where, " AND "),
		countArgs: slices.Clone(args),
	}

	order := "created_at DESC, id DESC"
	switch {
	case q.StartingAfter != "":
		args = append(args, q.StartingAfter)
		where = append(where, fmt.Sprintf("(created_at, id) < (SELECT created_at, id FROM payments WHERE id = $%d)", len(args)))
	case q.EndingBefore != "":
		args = append(args, q.EndingBefore)
		where = append(where, fmt.Sprintf("(created_at, id) > (SELECT created_at, id FROM payments WHERE id = $%d)", len(args)))
		order = "created_at ASC, id ASC"
		lq.reversed = true
	}
	args = append(args, q.Limit+1)

	lq.page = fmt.Sprintf("SELECT %s FROM payments WHERE %s ORDER BY %s LIMIT $%d",
		paymentColumns, strings.Join(where, " AND "), order, len(args))
	lq.pageArgs = args
	return lq
}

// Tx wraps one pgx transaction. Rows read with GetForUpdate stay locked until
// Commit or Rollback.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Insert(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, merchant_id, customer_id, amount, currency, status, payment_method,
			description, metadata, refunded_amount, refund_reason, failure_code, failure_message,
			version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, p.ID, p.MerchantID, nullable(p.CustomerID), p.Amount, p.Currency, string(p.Status), string(p.Method),
		nullable(p.Description), nullableJSON(p.Metadata), p.RefundedAmount, nullable(p.RefundReason),
		nullable(p.FailureCode), nullable(p.FailureMessage), p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapErr(err, "insert payment "+p.ID)
	}
	return nil
}

func (t *Tx) GetForUpdate(ctx context.Context, merchantID, id string) (domain.Payment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND merchant_id = $2 FOR UPDATE`, id, merchantID)
	p, err := scanPayment(row)
	if err != nil {
		return domain.Payment{}, mapErr(err, "payment "+id)
	}
	return p, nil
}

// Update writes the mutable columns. Immutable fields are never rewritten.
func (t *Tx) Update(ctx context.Context, p domain.Payment, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET status = $3, refunded_amount = $4, refund_reason = $5, failure_code = $6,
			failure_message = $7, version = $8, updated_at = $9
		WHERE id = $1 AND version = $2
	`, p.ID, expectedVersion, string(p.Status), p.RefundedAmount, nullable(p.RefundReason),
		nullable(p.FailureCode), nullable(p.FailureMessage), p.Version, p.UpdatedAt)
	if err != nil {
		return mapErr(err, "update payment "+p.ID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("payment %s changed concurrently", p.ID)
	}
	return nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapErr(err, "commit")
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var (
		p                                          domain.Payment
		status, method                             string
		customer, desc, reason, failCode, failMsg *string
		metadata                                   []byte
	)
	err := row.Scan(&p.ID, &p.MerchantID, &customer, &p.Amount, &p.Currency, &status, &method,
		&desc, &metadata, &p.RefundedAmount, &reason, &failCode, &failMsg, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Payment{}, err
	}

	if p.Status, err = domain.ParseStatus(status); err != nil {
		return domain.Payment{}, err
	}
	if p.Method, err = domain.ParseMethod(method); err != nil {
		return domain.Payment{}, err
	}
	p.CustomerID = deref(customer)
	p.Description = deref(desc)
	p.RefundReason = deref(reason)
	p.FailureCode = deref(failCode)
	p.FailureMessage = deref(failMsg)
	if len(metadata) > 0 {
		p.Metadata = metadata
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// mapErr translates driver errors into the error taxonomy. Lock timeouts,
// serialization failures and deadlocks are conflicts the caller may retry.
func mapErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s not found", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return apperr.Conflict("%s: concurrent update, retry", what)
		case "23505":
			return apperr.Conflict("%s already exists", what)
		}
	}
	return apperr.Internal(err, "%s", what)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

