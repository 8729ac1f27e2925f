package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/payment-orchestrator/internal/merchant/application"
	"github.com/dmehra2102/payment-orchestrator/internal/merchant/domain"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Source) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewSource(slog.New(slog.NewTextHandler(io.Discard, nil)), mock)
}

func TestSourceFindByCredentialHash(t *testing.T) {
	mock, src := newMock(t)
	hash := domain.CredentialHash("sk_test_1")

	mock.ExpectQuery(`FROM merchants m\s+JOIN api_keys ak`).
		WithArgs(hash).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email", "active", "allow_large_payments"}).
			AddRow("7a3c1e52-8f0e-4a53-9e8e-5f1c2b3d4e5f", "Acme", "ops@acme.test", true, false))

	m, err := src.FindByCredentialHash(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, "Acme", m.Name)
	assert.True(t, m.Active)
	assert.False(t, m.AllowLargePayments)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceUnknownKey(t *testing.T) {
	mock, src := newMock(t)

	mock.ExpectQuery(`FROM merchants m`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := src.FindByCredentialHash(context.Background(), "nope")
	assert.ErrorIs(t, err, application.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceQueryError(t *testing.T) {
	mock, src := newMock(t)

	mock.ExpectQuery(`FROM merchants m`).
		WithArgs("h").
		WillReturnError(errors.New("connection reset"))

	_, err := src.FindByCredentialHash(context.Background(), "h")
	require.Error(t, err)
	assert.NotErrorIs(t, err, application.ErrNotFound)
}

func TestSourceRegisterKey(t *testing.T) {
	mock, src := newMock(t)

	mock.ExpectExec(`INSERT INTO api_keys`).
		WithArgs("k-1", "m-1", domain.CredentialHash("sk_test_1")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, src.RegisterKey(context.Background(), "k-1", "m-1", "sk_test_1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceUpsertMerchant(t *testing.T) {
	mock, src := newMock(t)
	m := domain.Merchant{ID: "m-1", Name: "Acme", Email: "ops@acme.test", Active: true, AllowLargePayments: true}

	mock.ExpectExec(`(?s)INSERT INTO merchants.*ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("m-1", "Acme", "ops@acme.test", true, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, src.UpsertMerchant(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}
