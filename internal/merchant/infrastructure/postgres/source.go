package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/payment-orchestrator/internal/db"
	"github.com/dmehra2102/payment-orchestrator/internal/merchant/application"
	"github.com/dmehra2102/payment-orchestrator/internal/merchant/domain"
)

type Source struct {
	log  *slog.Logger
	pool db.Pool
}

func NewSource(log *slog.Logger, pool db.Pool) *Source {
	return &Source{log: log, pool: pool}
}

// FindByCredentialHash returns the merchant owning an active API key. The
// merchant's own active flag is returned as stored; the directory decides.
func (s *Source) FindByCredentialHash(ctx context.Context, hash string) (domain.Merchant, error) {
	var m domain.Merchant
	err := s.pool.QueryRow(ctx, `
		SELECT m.id, m.name, m.email, m.active, m.allow_large_payments
		FROM merchants m
		JOIN api_keys ak ON ak.merchant_id = m.id
		WHERE ak.key_hash = $1 AND ak.active = true
	`, hash).Scan(&m.ID, &m.Name, &m.Email, &m.Active, &m.AllowLargePayments)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Merchant{}, application.ErrNotFound
	}
	if err != nil {
		return domain.Merchant{}, err
	}
	return m, nil
}

// RegisterKey stores a credential for a merchant. Used by the seed command;
// merchant management itself lives outside this service.
func (s *Source) RegisterKey(ctx context.Context, keyID, merchantID, credential string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, merchant_id, key_hash, active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (key_hash) DO NOTHING
	`, keyID, merchantID, domain.CredentialHash(credential))
	return err
}

// UpsertMerchant creates the merchant or overwrites its profile and flags.
func (s *Source) UpsertMerchant(ctx context.Context, m domain.Merchant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO merchants (id, name, email, active, allow_large_payments)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, active = EXCLUDED.active,
			allow_large_payments = EXCLUDED.allow_large_payments, updated_at = now()
	`, m.ID, m.Name, m.Email, m.Active, m.AllowLargePayments)
	return err
}
