package application

import (
	"context"

	merchant "github.com/dmehra2102/payment-orchestrator/internal/merchant/domain"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
)

// PaymentStore is the durable record of payments. Reads outside a transaction
// never lock.
type PaymentStore interface {
	Begin(ctx context.Context) (PaymentTx, error)
	Get(ctx context.Context, merchantID, id string) (domain.Payment, error)
	List(ctx context.Context, merchantID string, q domain.ListQuery) (domain.Page, error)
}

// PaymentTx is one atomic unit of work. GetForUpdate holds the row until
// Commit or Rollback; Update fails with a conflict if the stored version is
// no longer expectedVersion. AppendEvents records lifecycle events for
// delivery; they become visible exactly when the transaction commits.
// Rollback after Commit is a no-op.
type PaymentTx interface {
	Insert(ctx context.Context, p domain.Payment) error
	GetForUpdate(ctx context.Context, merchantID, id string) (domain.Payment, error)
	Update(ctx context.Context, p domain.Payment, expectedVersion int64) error
	AppendEvents(ctx context.Context, events []domain.LifecycleEvent) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Processor executes money movement. Business declines come back as an
// Outcome; an error means the call itself did not complete.
type Processor interface {
	Authorize(ctx context.Context, p domain.Payment) (domain.Outcome, error)
	Capture(ctx context.Context, p domain.Payment) (domain.Outcome, error)
	Refund(ctx context.Context, p domain.Payment, amount int64) (domain.Outcome, error)
}

// Voider is implemented by processors that release authorizations on cancel.
type Voider interface {
	Void(ctx context.Context, p domain.Payment) (domain.Outcome, error)
}

// EventPublisher is a best-effort post-commit sink. Durable delivery goes
// through PaymentTx.AppendEvents.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.LifecycleEvent) error
}

type MerchantDirectory interface {
	Resolve(ctx context.Context, credential string) (merchant.Merchant, error)
}

type FraudGate interface {
	Evaluate(req domain.CreateRequest, m merchant.Merchant) Decision
}
