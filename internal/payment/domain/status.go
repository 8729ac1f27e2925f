package domain

import "fmt"

// StatusEncodingVersion is the version of the persisted status/method
// encoding. The strings below are the payment_status and payment_method enum
// labels created by migration 000001; adding a label requires a new migration
// and a bump here.
const StatusEncodingVersion = 1

type Status string

const (
	StatusPending              Status = "pending"
	StatusProcessing           Status = "processing"
	StatusRequiresAction       Status = "requires_action"
	StatusRequiresConfirmation Status = "requires_confirmation"
	StatusRequiresCapture      Status = "requires_capture"
	StatusSucceeded            Status = "succeeded"
	StatusFailed               Status = "failed"
	StatusCanceled             Status = "canceled"
	StatusRefunded             Status = "refunded"
	StatusPartiallyRefunded    Status = "partially_refunded"
	StatusDisputed             Status = "disputed"
)

// Statuses lists every lifecycle state in declaration order.
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusRequiresAction,
	StatusRequiresConfirmation,
	StatusRequiresCapture,
	StatusSucceeded,
	StatusFailed,
	StatusCanceled,
	StatusRefunded,
	StatusPartiallyRefunded,
	StatusDisputed,
}

// ParseStatus decodes a persisted status. Unknown labels are an error, never
// a silent default.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown payment status %q (encoding v%d)", s, StatusEncodingVersion)
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusCanceled, StatusRefunded, StatusDisputed:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodCrypto       Method = "crypto"
	MethodApplePay     Method = "apple_pay"
	MethodGooglePay    Method = "google_pay"
	MethodPayPal       Method = "paypal"
	MethodCustom       Method = "custom"
)

var Methods = []Method{
	MethodCard,
	MethodBankTransfer,
	MethodCrypto,
	MethodApplePay,
	MethodGooglePay,
	MethodPayPal,
	MethodCustom,
}

func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown payment method %q (encoding v%d)", s, StatusEncodingVersion)
}
