package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func paymentIn(status Status, amount, refunded int64) Payment {
	return Payment{
		ID:             "3b1f7f4e-1111-4b7a-9d7e-0c0a3f2c9b10",
		Amount:         amount,
		Currency:       "USD",
		Status:         status,
		RefundedAmount: refunded,
		Version:        4,
	}
}

func TestTransitionFollowsGraph(t *testing.T) {
	allowed := []struct {
		from, to Status
		trigger  Trigger
	}{
		{StatusPending, StatusProcessing, TriggerSubmit},
		{StatusProcessing, StatusSucceeded, TriggerAuthorize},
		{StatusProcessing, StatusRequiresCapture, TriggerAuthorize},
		{StatusProcessing, StatusRequiresAction, TriggerAuthorize},
		{StatusProcessing, StatusFailed, TriggerAuthorize},
		{StatusRequiresAction, StatusRequiresConfirmation, TriggerVerify},
		{StatusRequiresAction, StatusFailed, TriggerVerify},
		{StatusRequiresAction, StatusCanceled, TriggerCancel},
		{StatusRequiresConfirmation, StatusProcessing, TriggerConfirm},
		{StatusRequiresConfirmation, StatusCanceled, TriggerCancel},
		{StatusRequiresCapture, StatusSucceeded, TriggerCapture},
		{StatusRequiresCapture, StatusCanceled, TriggerCancel},
		{StatusSucceeded, StatusRefunded, TriggerRefund},
		{StatusSucceeded, StatusPartiallyRefunded, TriggerRefund},
		{StatusSucceeded, StatusDisputed, TriggerDispute},
		{StatusPartiallyRefunded, StatusRefunded, TriggerRefund},
		{StatusPartiallyRefunded, StatusDisputed, TriggerDispute},
	}
	for _, tc := range allowed {
		p := paymentIn(tc.from, 1000, 0)
		require.NoError(t, p.Transition(tc.trigger, tc.to, now), "%s -> %s", tc.from, tc.to)
		assert.Equal(t, tc.to, p.Status)
		assert.Equal(t, int64(5), p.Version)
		assert.Equal(t, now, p.UpdatedAt)
	}
}

func TestTransitionRejectsUnknownEdges(t *testing.T) {
	rejected := []struct {
		from, to Status
		trigger  Trigger
	}{
		{StatusPending, StatusSucceeded, TriggerAuthorize},
		{StatusSucceeded, StatusSucceeded, TriggerCapture},
		{StatusRefunded, StatusRefunded, TriggerRefund},
		{StatusRequiresCapture, StatusRefunded, TriggerRefund},
		{StatusCanceled, StatusSucceeded, TriggerCapture},
		{StatusFailed, StatusProcessing, TriggerConfirm},
		{StatusDisputed, StatusRefunded, TriggerRefund},
		{StatusSucceeded, StatusCanceled, TriggerCancel},
	}
	for _, tc := range rejected {
		p := paymentIn(tc.from, 1000, 0)
		before := p
		err := p.Transition(tc.trigger, tc.to, now)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		assert.Contains(t, err.Error(), string(tc.trigger))
		assert.Contains(t, err.Error(), string(tc.from))
		assert.Equal(t, before, p, "payment must be unchanged")
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, s := range Statuses {
		if s.Terminal() {
			assert.Empty(t, transitions[s], "terminal %s has outgoing edges", s)
		}
	}
}

func TestRefundFullThenAgain(t *testing.T) {
	p := paymentIn(StatusSucceeded, 1000, 0)

	amount, err := p.RefundAmount(nil)
	require.NoError(t, err)
	require.Equal(t, int64(1000), amount)
	require.NoError(t, p.ApplyRefund(amount, "requested_by_customer", now))
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, int64(1000), p.RefundedAmount)

	_, err = p.RefundAmount(nil)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestRefundPartialSequence(t *testing.T) {
	p := paymentIn(StatusSucceeded, 1000, 0)
	amt := func(v int64) *int64 { return &v }

	a, err := p.RefundAmount(amt(400))
	require.NoError(t, err)
	require.NoError(t, p.ApplyRefund(a, "", now))
	assert.Equal(t, StatusPartiallyRefunded, p.Status)
	assert.Equal(t, int64(400), p.RefundedAmount)

	_, err = p.RefundAmount(amt(700))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, int64(400), p.RefundedAmount)

	a, err = p.RefundAmount(amt(600))
	require.NoError(t, err)
	require.NoError(t, p.ApplyRefund(a, "", now))
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, p.Amount, p.RefundedAmount)
}

func TestRefundAmountBounds(t *testing.T) {
	p := paymentIn(StatusPartiallyRefunded, 1000, 250)
	for _, bad := range []int64{0, -5, 751} {
		v := bad
		_, err := p.RefundAmount(&v)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "amount %d", bad)
	}
	assert.Error(t, p.ApplyRefund(751, "", now))
	assert.LessOrEqual(t, p.RefundedAmount, p.Amount)
}

func TestApplyAuthorization(t *testing.T) {
	tests := map[string]struct {
		outcome Outcome
		want    Status
	}{
		"auto capture":   {outcome: Succeeded(), want: StatusSucceeded},
		"manual capture": {outcome: Outcome{Kind: OutcomeRequiresCapture}, want: StatusRequiresCapture},
		"step up":        {outcome: Outcome{Kind: OutcomeRequiresAction}, want: StatusRequiresAction},
		"declined":       {outcome: Declined("card_declined", "insufficient funds"), want: StatusFailed},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p := paymentIn(StatusProcessing, 500, 0)
			require.NoError(t, p.ApplyAuthorization(tt.outcome, now))
			assert.Equal(t, tt.want, p.Status)
			if tt.want == StatusFailed {
				assert.Equal(t, "card_declined", p.FailureCode)
				assert.Equal(t, "insufficient funds", p.FailureMessage)
			} else {
				assert.Empty(t, p.FailureCode)
			}
		})
	}

	p := paymentIn(StatusProcessing, 500, 0)
	assert.True(t, apperr.Is(p.ApplyAuthorization(Outcome{Kind: "mystery"}, now), apperr.KindInternal))
	assert.Equal(t, StatusProcessing, p.Status)
}
