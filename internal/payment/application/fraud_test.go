package application

import (
	"testing"

	"github.com/stretchr/testify/assert"

	merchant "github.com/dmehra2102/payment-orchestrator/internal/merchant/domain"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
)

func TestThresholdGate(t *testing.T) {
	small := merchant.Merchant{ID: "m-1", Active: true}
	large := merchant.Merchant{ID: "m-2", Active: true, AllowLargePayments: true}

	tests := map[string]struct {
		gate    ThresholdGate
		amount  int64
		m       merchant.Merchant
		allowed bool
	}{
		"below default":        {ThresholdGate{}, 1000, small, true},
		"at default":           {ThresholdGate{}, DefaultLargePaymentThreshold, small, true},
		"above default":        {ThresholdGate{}, DefaultLargePaymentThreshold + 1, small, false},
		"above but opted in":   {ThresholdGate{}, DefaultLargePaymentThreshold * 5, large, true},
		"custom threshold":     {ThresholdGate{Threshold: 500}, 501, small, false},
		"custom and opted in":  {ThresholdGate{Threshold: 500}, 501, large, true},
		"flag absent defaults": {ThresholdGate{Threshold: 500}, 501, merchant.Merchant{}, false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			d := tt.gate.Evaluate(domain.CreateRequest{Amount: tt.amount}, tt.m)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestChainFirstDenialWins(t *testing.T) {
	noCrypto := GateFunc(func(req domain.CreateRequest, _ merchant.Merchant) Decision {
		if req.Method == domain.MethodCrypto {
			return Deny("crypto not accepted")
		}
		return Allow()
	})
	chain := Chain{ThresholdGate{Threshold: 100}, noCrypto}
	m := merchant.Merchant{ID: "m-1"}

	assert.True(t, chain.Evaluate(domain.CreateRequest{Amount: 50, Method: domain.MethodCard}, m).Allowed)
	assert.Equal(t, "crypto not accepted", chain.Evaluate(domain.CreateRequest{Amount: 50, Method: domain.MethodCrypto}, m).Reason)
	assert.Contains(t, chain.Evaluate(domain.CreateRequest{Amount: 500, Method: domain.MethodCrypto}, m).Reason, "exceeds")
	assert.True(t, Chain{}.Evaluate(domain.CreateRequest{Amount: 1 << 40}, m).Allowed)
}
