package domain

import (
	"slices"
	"time"

	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
)

// Trigger names what drives a transition; it is reported in conflicts.
type Trigger string

const (
	TriggerSubmit    Trigger = "submit"
	TriggerAuthorize Trigger = "authorize"
	TriggerVerify    Trigger = "verify"
	TriggerConfirm   Trigger = "confirm"
	TriggerCapture   Trigger = "capture"
	TriggerCancel    Trigger = "cancel"
	TriggerRefund    Trigger = "refund"
	TriggerDispute   Trigger = "dispute"
)

type edge struct {
	to      Status
	trigger Trigger
}

// transitions is the complete lifecycle graph. Anything absent is rejected.
var transitions = map[Status][]edge{
	StatusPending: {
		{StatusProcessing, TriggerSubmit},
	},
	StatusProcessing: {
		{StatusSucceeded, TriggerAuthorize},
		{StatusRequiresCapture, TriggerAuthorize},
		{StatusRequiresAction, TriggerAuthorize},
		{StatusFailed, TriggerAuthorize},
	},
	StatusRequiresAction: {
		{StatusRequiresConfirmation, TriggerVerify},
		{StatusFailed, TriggerVerify},
		{StatusCanceled, TriggerVerify},
		{StatusCanceled, TriggerCancel},
	},
	StatusRequiresConfirmation: {
		{StatusProcessing, TriggerConfirm},
		{StatusCanceled, TriggerConfirm},
		{StatusCanceled, TriggerCancel},
	},
	StatusRequiresCapture: {
		{StatusSucceeded, TriggerCapture},
		{StatusCanceled, TriggerCancel},
	},
	StatusSucceeded: {
		{StatusRefunded, TriggerRefund},
		{StatusPartiallyRefunded, TriggerRefund},
		{StatusDisputed, TriggerDispute},
	},
	StatusPartiallyRefunded: {
		{StatusRefunded, TriggerRefund},
		{StatusPartiallyRefunded, TriggerRefund},
		{StatusDisputed, TriggerDispute},
	},
}

// CanTransition reports whether trigger may move a payment from one state to another.
func CanTransition(from, to Status, trigger Trigger) bool {
	return slices.Contains(transitions[from], edge{to: to, trigger: trigger})
}

// Accepts reports whether any edge out of from is driven by trigger.
func Accepts(from Status, trigger Trigger) bool {
	return slices.ContainsFunc(transitions[from], func(e edge) bool { return e.trigger == trigger })
}

// Transition moves p along one edge of the lifecycle graph. On error p is unchanged.
func (p *Payment) Transition(trigger Trigger, to Status, now time.Time) error {
	if !CanTransition(p.Status, to, trigger) {
		return apperr.Conflict("cannot %s payment %s in status %s", trigger, p.ID, p.Status)
	}
	p.Status = to
	p.Version++
	p.UpdatedAt = now
	return nil
}

// Fail moves p into Failed and records why.
func (p *Payment) Fail(trigger Trigger, code, message string, now time.Time) error {
	if err := p.Transition(trigger, StatusFailed, now); err != nil {
		return err
	}
	p.FailureCode = code
	p.FailureMessage = message
	return nil
}

// ApplyAuthorization drives p from Processing with the processor's verdict.
func (p *Payment) ApplyAuthorization(o Outcome, now time.Time) error {
	switch o.Kind {
	case OutcomeSucceeded:
		return p.Transition(TriggerAuthorize, StatusSucceeded, now)
	case OutcomeRequiresCapture:
		return p.Transition(TriggerAuthorize, StatusRequiresCapture, now)
	case OutcomeRequiresAction:
		return p.Transition(TriggerAuthorize, StatusRequiresAction, now)
	case OutcomeFailed:
		return p.Fail(TriggerAuthorize, o.FailureCode, o.FailureMessage, now)
	}
	return apperr.Internal(nil, "processor returned unknown outcome %q", o.Kind)
}

// RefundAmount resolves the amount a refund request would move. A nil amount
// means the full remaining balance.
func (p Payment) RefundAmount(amount *int64) (int64, error) {
	if !Accepts(p.Status, TriggerRefund) {
		return 0, apperr.Conflict("cannot %s payment %s in status %s", TriggerRefund, p.ID, p.Status)
	}
	remaining := p.Remaining()
	if amount == nil {
		return remaining, nil
	}
	if *amount <= 0 || *amount > remaining {
		return 0, apperr.Validation("refund amount must be between 1 and %d, got %d", remaining, *amount)
	}
	return *amount, nil
}

// ApplyRefund records a refund of amount, which must come from RefundAmount.
func (p *Payment) ApplyRefund(amount int64, reason string, now time.Time) error {
	if amount <= 0 || amount > p.Remaining() {
		return apperr.Validation("refund amount must be between 1 and %d, got %d", p.Remaining(), amount)
	}
	to := StatusPartiallyRefunded
	if p.RefundedAmount+amount == p.Amount {
		to = StatusRefunded
	}
	if err := p.Transition(TriggerRefund, to, now); err != nil {
		return err
	}
	p.RefundedAmount += amount
	if reason != "" {
		p.RefundReason = reason
	}
	return nil
}
