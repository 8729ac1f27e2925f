package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmehra2102/payment-orchestrator/internal/merchant/domain"
	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
)

var ErrNotFound = errors.New("merchant not found")

// Source is the system of record for merchants. FindByCredentialHash returns
// ErrNotFound for unknown or revoked credentials.
type Source interface {
	FindByCredentialHash(ctx context.Context, hash string) (domain.Merchant, error)
}

// Cache holds resolved merchants for at most ttl.
type Cache interface {
	Get(ctx context.Context, hash string) (domain.Merchant, bool, error)
	Set(ctx context.Context, hash string, m domain.Merchant, ttl time.Duration) error
}

// Directory resolves API credentials to merchants. Reads may be served from
// the cache, so a deactivation becomes visible within ttl.
type Directory struct {
	log    *slog.Logger
	source Source
	cache  Cache
	ttl    time.Duration
}

func NewDirectory(log *slog.Logger, source Source, cache Cache, ttl time.Duration) *Directory {
	return &Directory{log: log, source: source, cache: cache, ttl: ttl}
}

func (d *Directory) Resolve(ctx context.Context, credential string) (domain.Merchant, error) {
	if credential == "" {
		return domain.Merchant{}, apperr.Authentication("missing API key")
	}
	hash := domain.CredentialHash(credential)

	m, ok := d.cached(ctx, hash)
	if !ok {
		var err error
		m, err = d.source.FindByCredentialHash(ctx, hash)
		if errors.Is(err, ErrNotFound) {
			return domain.Merchant{}, apperr.Authentication("invalid API key")
		}
		if err != nil {
			return domain.Merchant{}, apperr.Internal(err, "resolve merchant")
		}
		if d.cache != nil && d.ttl > 0 {
			if err := d.cache.Set(ctx, hash, m, d.ttl); err != nil {
				d.log.Warn("merchant cache set failed", "merchant_id", m.ID, "err", err)
			}
		}
	}

	if !m.Active {
		return domain.Merchant{}, apperr.Authentication("merchant %s is inactive", m.ID)
	}
	return m, nil
}

func (d *Directory) cached(ctx context.Context, hash string) (domain.Merchant, bool) {
	if d.cache == nil || d.ttl <= 0 {
		return domain.Merchant{}, false
	}
	m, ok, err := d.cache.Get(ctx, hash)
	if err != nil {
		d.log.Warn("merchant cache get failed", "err", err)
		return domain.Merchant{}, false
	}
	return m, ok
}
