package application

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
)

const maxReasonLen = 500

// Service drives payments through their lifecycle. It holds no per-payment
// state and is safe for concurrent use.
type Service struct {
	log              *slog.Logger
	store            PaymentStore
	processor        Processor
	merchants        MerchantDirectory
	fraud            FraudGate
	publisher        EventPublisher
	locks            *paymentLocks
	tracer           trace.Tracer
	now              func() time.Time
	newID            func() string
	processorTimeout time.Duration
}

type Option func(*Service)

func WithFraudGate(g FraudGate) Option {
	return func(s *Service) { s.fraud = g }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithProcessorTimeout bounds every processor call. A call that runs out of
// time leaves the payment in its pre-call state.
func WithProcessorTimeout(d time.Duration) Option {
	return func(s *Service) { s.processorTimeout = d }
}

func NewService(log *slog.Logger, store PaymentStore, processor Processor, merchants MerchantDirectory, publisher EventPublisher, opts ...Option) *Service {
	s := &Service{
		log:       log,
		store:     store,
		processor: processor,
		merchants: merchants,
		fraud:     ThresholdGate{},
		publisher: publisher,
		locks:     newPaymentLocks(),
		tracer:    otel.Tracer("payment-orchestrator"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates, gates and authorizes a new payment in one transaction.
// A processor decline is not an error: the payment is committed as Failed.
func (s *Service) Create(ctx context.Context, credential string, req domain.CreateRequest) (p domain.Payment, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.Create")
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return domain.Payment{}, err
	}
	m, err := s.merchants.Resolve(ctx, credential)
	if err != nil {
		return domain.Payment{}, err
	}
	span.SetAttributes(attribute.String("merchant.id", m.ID))

	if d := s.fraud.Evaluate(req, m); !d.Allowed {
		s.log.Warn("payment denied by fraud gate", "merchant_id", m.ID, "amount", req.Amount, "reason", d.Reason)
		return domain.Payment{}, apperr.Payment("payment declined by fraud check: %s", d.Reason)
	}

	p = domain.NewPayment(s.newID(), m.ID, req, s.now())
	span.SetAttributes(attribute.String("payment.id", p.ID))
	inserted := p.Version

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Payment{}, storeErr(err, "begin transaction")
	}
	defer s.rollback(ctx, tx)

	if err := tx.Insert(ctx, p); err != nil {
		return domain.Payment{}, storeErr(err, "insert payment")
	}
	if err := p.Transition(domain.TriggerSubmit, domain.StatusProcessing, s.now()); err != nil {
		return domain.Payment{}, err
	}
	submitted := p
	outcome, err := s.process(ctx, "authorize", func(ctx context.Context) (domain.Outcome, error) {
		return s.processor.Authorize(ctx, submitted)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := p.ApplyAuthorization(outcome, s.now()); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Update(ctx, p, inserted); err != nil {
		return domain.Payment{}, storeErr(err, "update payment")
	}
	events := domain.EventsFor(domain.EventCreated, p, p.UpdatedAt)
	if err := tx.AppendEvents(ctx, events); err != nil {
		return domain.Payment{}, storeErr(err, "record events")
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Payment{}, storeErr(err, "commit payment")
	}

	s.log.Info("payment created", "payment_id", p.ID, "merchant_id", p.MerchantID, "status", p.Status, "amount", p.Amount)
	s.emit(ctx, events)
	return p, nil
}

// Capture settles a payment awaiting manual capture. Capturing an already
// Succeeded payment returns it unchanged.
func (s *Service) Capture(ctx context.Context, credential, id string) (domain.Payment, error) {
	return s.mutate(ctx, credential, id, "Capture", func(ctx context.Context, p *domain.Payment) (domain.EventType, error) {
		if p.Status == domain.StatusSucceeded {
			return "", nil
		}
		if err := guard(*p, domain.TriggerCapture); err != nil {
			return "", err
		}
		current := *p
		outcome, err := s.process(ctx, "capture", func(ctx context.Context) (domain.Outcome, error) {
			return s.processor.Capture(ctx, current)
		})
		if err != nil {
			return "", err
		}
		if outcome.Kind == domain.OutcomeFailed {
			return "", declined("capture", outcome)
		}
		return domain.EventCaptured, p.Transition(domain.TriggerCapture, domain.StatusSucceeded, s.now())
	})
}

// Refund returns amount, or the full remaining balance when amount is nil.
func (s *Service) Refund(ctx context.Context, credential, id string, amount *int64, reason string) (domain.Payment, error) {
	if utf8.RuneCountInString(reason) > maxReasonLen {
		return domain.Payment{}, apperr.Validation("reason must be at most %d characters", maxReasonLen)
	}
	return s.mutate(ctx, credential, id, "Refund", func(ctx context.Context, p *domain.Payment) (domain.EventType, error) {
		amt, err := p.RefundAmount(amount)
		if err != nil {
			return "", err
		}
		current := *p
		outcome, err := s.process(ctx, "refund", func(ctx context.Context) (domain.Outcome, error) {
			return s.processor.Refund(ctx, current, amt)
		})
		if err != nil {
			return "", err
		}
		if outcome.Kind == domain.OutcomeFailed {
			return "", declined("refund", outcome)
		}
		return domain.EventRefunded, p.ApplyRefund(amt, reason, s.now())
	})
}

// Cancel releases a payment that has not been settled. An authorization held
// by a processor that supports voids is released first.
func (s *Service) Cancel(ctx context.Context, credential, id string) (domain.Payment, error) {
	return s.mutate(ctx, credential, id, "Cancel", func(ctx context.Context, p *domain.Payment) (domain.EventType, error) {
		if err := guard(*p, domain.TriggerCancel); err != nil {
			return "", err
		}
		if v, ok := s.processor.(Voider); ok && p.Status == domain.StatusRequiresCapture {
			current := *p
			outcome, err := s.process(ctx, "void", func(ctx context.Context) (domain.Outcome, error) {
				return v.Void(ctx, current)
			})
			if err != nil {
				return "", err
			}
			if outcome.Kind == domain.OutcomeFailed {
				return "", declined("void", outcome)
			}
		}
		return domain.EventCanceled, p.Transition(domain.TriggerCancel, domain.StatusCanceled, s.now())
	})
}

// Verify records the result of step-up verification.
func (s *Service) Verify(ctx context.Context, credential, id string, passed bool) (domain.Payment, error) {
	return s.mutate(ctx, credential, id, "Verify", func(ctx context.Context, p *domain.Payment) (domain.EventType, error) {
		if err := guard(*p, domain.TriggerVerify); err != nil {
			return "", err
		}
		if !passed {
			return domain.EventVerified, p.Fail(domain.TriggerVerify, "verification_failed", "customer verification failed", s.now())
		}
		return domain.EventVerified, p.Transition(domain.TriggerVerify, domain.StatusRequiresConfirmation, s.now())
	})
}

// Confirm resubmits a verified payment to the processor.
func (s *Service) Confirm(ctx context.Context, credential, id string) (domain.Payment, error) {
	return s.mutate(ctx, credential, id, "Confirm", func(ctx context.Context, p *domain.Payment) (domain.EventType, error) {
		if err := p.Transition(domain.TriggerConfirm, domain.StatusProcessing, s.now()); err != nil {
			return "", err
		}
		submitted := *p
		outcome, err := s.process(ctx, "authorize", func(ctx context.Context) (domain.Outcome, error) {
			return s.processor.Authorize(ctx, submitted)
		})
		if err != nil {
			return "", err
		}
		return domain.EventConfirmed, p.ApplyAuthorization(outcome, s.now())
	})
}

// Dispute records a chargeback against a settled payment.
func (s *Service) Dispute(ctx context.Context, credential, id, reason string) (domain.Payment, error) {
	if utf8.RuneCountInString(reason) > maxReasonLen {
		return domain.Payment{}, apperr.Validation("reason must be at most %d characters", maxReasonLen)
	}
	return s.mutate(ctx, credential, id, "Dispute", func(ctx context.Context, p *domain.Payment) (domain.EventType, error) {
		if err := p.Transition(domain.TriggerDispute, domain.StatusDisputed, s.now()); err != nil {
			return "", err
		}
		s.log.Warn("payment disputed", "payment_id", p.ID, "merchant_id", p.MerchantID, "reason", reason)
		return domain.EventDisputed, nil
	})
}

func (s *Service) Get(ctx context.Context, credential, id string) (p domain.Payment, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.Get", trace.WithAttributes(attribute.String("payment.id", id)))
	defer func() { endSpan(span, err) }()

	m, err := s.merchants.Resolve(ctx, credential)
	if err != nil {
		return domain.Payment{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.Payment{}, apperr.NotFound("payment %s not found", id)
	}
	p, err = s.store.Get(ctx, m.ID, id)
	if err != nil {
		return domain.Payment{}, storeErr(err, "get payment")
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, credential string, q domain.ListQuery) (page domain.Page, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.List")
	defer func() { endSpan(span, err) }()

	m, err := s.merchants.Resolve(ctx, credential)
	if err != nil {
		return domain.Page{}, err
	}
	q, err = q.Normalize()
	if err != nil {
		return domain.Page{}, err
	}
	page, err = s.store.List(ctx, m.ID, q)
	if err != nil {
		return domain.Page{}, storeErr(err, "list payments")
	}
	if page.Data == nil {
		page.Data = []domain.Payment{}
	}
	return page, nil
}

// mutation changes p in place and names the event announcing it. An empty
// event type means p was left as is and nothing is written.
type mutation func(ctx context.Context, p *domain.Payment) (domain.EventType, error)

func (s *Service) mutate(ctx context.Context, credential, id, op string, apply mutation) (p domain.Payment, err error) {
	ctx, span := s.tracer.Start(ctx, "payment."+op, trace.WithAttributes(attribute.String("payment.id", id)))
	defer func() { endSpan(span, err) }()

	m, err := s.merchants.Resolve(ctx, credential)
	if err != nil {
		return domain.Payment{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.Payment{}, apperr.NotFound("payment %s not found", id)
	}

	release, err := s.locks.acquire(ctx, id)
	if err != nil {
		return domain.Payment{}, apperr.Conflict("payment %s is busy: %v", id, err)
	}
	defer release()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Payment{}, storeErr(err, "begin transaction")
	}
	defer s.rollback(ctx, tx)

	p, err = tx.GetForUpdate(ctx, m.ID, id)
	if err != nil {
		return domain.Payment{}, storeErr(err, "load payment")
	}
	expected := p.Version

	event, err := apply(ctx, &p)
	if err != nil {
		return domain.Payment{}, err
	}
	if event == "" {
		return p, nil
	}
	if err := tx.Update(ctx, p, expected); err != nil {
		return domain.Payment{}, storeErr(err, "update payment")
	}
	events := domain.EventsFor(event, p, p.UpdatedAt)
	if err := tx.AppendEvents(ctx, events); err != nil {
		return domain.Payment{}, storeErr(err, "record events")
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Payment{}, storeErr(err, "commit payment")
	}

	s.log.Info("payment updated", "payment_id", p.ID, "event", event, "status", p.Status, "version", p.Version)
	s.emit(ctx, events)
	return p, nil
}

func (s *Service) process(ctx context.Context, op string, call func(context.Context) (domain.Outcome, error)) (domain.Outcome, error) {
	if s.processorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.processorTimeout)
		defer cancel()
	}
	outcome, err := call(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Outcome{}, apperr.Unavailable(err, "processor %s timed out", op)
	}
	if err != nil {
		return domain.Outcome{}, apperr.Unavailable(err, "processor %s failed", op)
	}
	return outcome, nil
}

// emit notifies the best-effort publisher. The events are already durable
// in the store, so failures are only logged.
func (s *Service) emit(ctx context.Context, events []domain.LifecycleEvent) {
	if s.publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.log.Error("publish lifecycle event failed", "payment_id", ev.PaymentID(), "type", ev.Type, "version", ev.Data.Version, "err", err)
		}
	}
}

func (s *Service) rollback(ctx context.Context, tx PaymentTx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("rollback failed", "err", err)
	}
}

func guard(p domain.Payment, t domain.Trigger) error {
	if !domain.Accepts(p.Status, t) {
		return apperr.Conflict("cannot %s payment %s in status %s", t, p.ID, p.Status)
	}
	return nil
}

func declined(op string, o domain.Outcome) error {
	return apperr.Payment("%s declined: %s (%s)", op, o.FailureMessage, o.FailureCode)
}

// storeErr keeps taxonomy errors raised by the store and wraps the rest.
func storeErr(err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err, "%s", op)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", string(apperr.KindOf(err))))
	}
	span.End()
}
