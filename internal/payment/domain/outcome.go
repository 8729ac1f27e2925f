package domain

type OutcomeKind string

const (
	OutcomeSucceeded       OutcomeKind = "succeeded"
	OutcomeRequiresCapture OutcomeKind = "requires_capture"
	OutcomeRequiresAction  OutcomeKind = "requires_action"
	OutcomeFailed          OutcomeKind = "failed"
)

// Outcome is the processor's verdict for one authorize, capture, refund or
// void attempt. A business decline is an Outcome, not an error.
type Outcome struct {
	Kind           OutcomeKind
	FailureCode    string
	FailureMessage string
}

func Succeeded() Outcome { return Outcome{Kind: OutcomeSucceeded} }

func Declined(code, message string) Outcome {
	return Outcome{Kind: OutcomeFailed, FailureCode: code, FailureMessage: message}
}
