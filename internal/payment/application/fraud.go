package application

import (
	"fmt"

	merchant "github.com/dmehra2102/payment-orchestrator/internal/merchant/domain"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
)

// DefaultLargePaymentThreshold is 1,000,000.00 in minor units.
const DefaultLargePaymentThreshold int64 = 1_000_000_00

type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// ThresholdGate denies amounts above Threshold unless the merchant opted in
// to large payments. A zero Threshold uses DefaultLargePaymentThreshold.
type ThresholdGate struct {
	Threshold int64
}

func (g ThresholdGate) Evaluate(req domain.CreateRequest, m merchant.Merchant) Decision {
	limit := g.Threshold
	if limit <= 0 {
		limit = DefaultLargePaymentThreshold
	}
	if req.Amount > limit && !m.AllowLargePayments {
		return Deny("amount %d exceeds %d and merchant %s is not allowed large payments", req.Amount, limit, m.ID)
	}
	return Allow()
}

// Chain runs gates in order; the first denial wins. An empty chain allows.
type Chain []FraudGate

func (c Chain) Evaluate(req domain.CreateRequest, m merchant.Merchant) Decision {
	for _, g := range c {
		if d := g.Evaluate(req, m); !d.Allowed {
			return d
		}
	}
	return Allow()
}

// GateFunc adapts a plain function to FraudGate.
type GateFunc func(req domain.CreateRequest, m merchant.Merchant) Decision

func (f GateFunc) Evaluate(req domain.CreateRequest, m merchant.Merchant) Decision { return f(req, m) }
