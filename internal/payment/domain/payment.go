package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
)

const maxDescriptionLen = 500

type Payment struct {
	ID             string          `json:"id"`
	MerchantID     string          `json:"merchant_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	Status         Status          `json:"status"`
	Method         Method          `json:"payment_method"`
	Description    string          `json:"description,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	RefundedAmount int64           `json:"refunded_amount"`
	RefundReason   string          `json:"refund_reason,omitempty"`
	FailureCode    string          `json:"failure_code,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Remaining is the amount still refundable.
func (p Payment) Remaining() int64 {
	return p.Amount - p.RefundedAmount
}

// Clone returns a copy that shares no mutable memory with p.
func (p Payment) Clone() Payment {
	if p.Metadata != nil {
		p.Metadata = append(json.RawMessage(nil), p.Metadata...)
	}
	return p
}

type CreateRequest struct {
	Amount      int64           `json:"amount"`
	Currency    string          `json:"currency"`
	Method      Method          `json:"payment_method"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Validate checks the request without touching any state.
func (r CreateRequest) Validate() error {
	if r.Amount <= 0 {
		return apperr.Validation("amount must be a positive number of minor units, got %d", r.Amount)
	}
	if len(r.Currency) != 3 {
		return apperr.Validation("currency must be a 3-letter code, got %q", r.Currency)
	}
	for _, c := range r.Currency {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return apperr.Validation("currency must be a 3-letter code, got %q", r.Currency)
		}
	}
	if _, err := ParseMethod(string(r.Method)); err != nil {
		return apperr.Validation("%v", err)
	}
	if r.CustomerID != "" {
		if _, err := uuid.Parse(r.CustomerID); err != nil {
			return apperr.Validation("customer_id must be a UUID")
		}
	}
	if utf8.RuneCountInString(r.Description) > maxDescriptionLen {
		return apperr.Validation("description must be at most %d characters", maxDescriptionLen)
	}
	if len(r.Metadata) > 0 {
		trimmed := bytes.TrimSpace(r.Metadata)
		if !json.Valid(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
			return apperr.Validation("metadata must be a JSON object")
		}
	}
	return nil
}

// NewPayment builds the Pending row for a validated request.
func NewPayment(id, merchantID string, r CreateRequest, now time.Time) Payment {
	p := Payment{
		ID:          id,
		MerchantID:  merchantID,
		CustomerID:  r.CustomerID,
		Amount:      r.Amount,
		Currency:    strings.ToUpper(r.Currency),
		Status:      StatusPending,
		Method:      r.Method,
		Description: r.Description,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(r.Metadata) > 0 {
		p.Metadata = append(json.RawMessage(nil), bytes.TrimSpace(r.Metadata)...)
	}
	return p
}
