// Package processor holds the deterministic processor used by tests and by
// the service when no external processor is configured.
package processor

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
)

// Config decides every outcome up front; nothing is random.
type Config struct {
	// ManualCapture authorizes into RequiresCapture instead of auto-capturing.
	ManualCapture bool
	// DeclineAbove declines authorizations above this amount. Zero disables.
	DeclineAbove int64
	// ActionMethods demand step-up verification for these methods.
	ActionMethods []domain.Method
	// Latency is spent on every call; the call honors ctx while waiting.
	Latency         time.Duration
	DeclineCaptures bool
	DeclineRefunds  bool
	DeclineVoids    bool
}

type Simulated struct {
	cfg Config

	authorizations atomic.Int64
	captures       atomic.Int64
	refunds        atomic.Int64
	voids          atomic.Int64
}

func NewSimulated(cfg Config) *Simulated {
	return &Simulated{cfg: cfg}
}

func (s *Simulated) Authorize(ctx context.Context, p domain.Payment) (domain.Outcome, error) {
	s.authorizations.Add(1)
	if err := s.wait(ctx); err != nil {
		return domain.Outcome{}, err
	}
	switch {
	case s.cfg.DeclineAbove > 0 && p.Amount > s.cfg.DeclineAbove:
		return domain.Declined("card_declined", "amount exceeds simulated limit"), nil
	case p.Version <= 2 && slices.Contains(s.cfg.ActionMethods, p.Method):
		// Only the first submission asks for verification; a confirm resubmits at a higher version.
		return domain.Outcome{Kind: domain.OutcomeRequiresAction}, nil
	case s.cfg.ManualCapture:
		return domain.Outcome{Kind: domain.OutcomeRequiresCapture}, nil
	}
	return domain.Succeeded(), nil
}

func (s *Simulated) Capture(ctx context.Context, p domain.Payment) (domain.Outcome, error) {
	s.captures.Add(1)
	if err := s.wait(ctx); err != nil {
		return domain.Outcome{}, err
	}
	if s.cfg.DeclineCaptures {
		return domain.Declined("capture_declined", "authorization expired"), nil
	}
	return domain.Succeeded(), nil
}

func (s *Simulated) Refund(ctx context.Context, p domain.Payment, amount int64) (domain.Outcome, error) {
	s.refunds.Add(1)
	if err := s.wait(ctx); err != nil {
		return domain.Outcome{}, err
	}
	if s.cfg.DeclineRefunds {
		return domain.Declined("refund_declined", "insufficient merchant balance"), nil
	}
	return domain.Succeeded(), nil
}

func (s *Simulated) Void(ctx context.Context, p domain.Payment) (domain.Outcome, error) {
	s.voids.Add(1)
	if err := s.wait(ctx); err != nil {
		return domain.Outcome{}, err
	}
	if s.cfg.DeclineVoids {
		return domain.Declined("void_declined", "authorization already settled"), nil
	}
	return domain.Succeeded(), nil
}

type Calls struct {
	Authorizations int64
	Captures       int64
	Refunds        int64
	Voids          int64
}

func (s *Simulated) Calls() Calls {
	return Calls{
		Authorizations: s.authorizations.Load(),
		Captures:       s.captures.Load(),
		Refunds:        s.refunds.Load(),
		Voids:          s.voids.Load(),
	}
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
