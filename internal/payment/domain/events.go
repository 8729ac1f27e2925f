package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventCreated   EventType = "payment.created"
	EventVerified  EventType = "payment.verified"
	EventConfirmed EventType = "payment.confirmed"
	EventCaptured  EventType = "payment.captured"
	EventCanceled  EventType = "payment.canceled"
	EventRefunded  EventType = "payment.refunded"
	EventDisputed  EventType = "payment.disputed"
	EventFailed    EventType = "payment.failed"
)

// LifecycleEvent is an immutable fact about a committed transition. Data is a
// snapshot; Data.Version orders events of the same payment.
type LifecycleEvent struct {
	Type      EventType `json:"type"`
	Data      Payment   `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

func NewLifecycleEvent(t EventType, p Payment, at time.Time) LifecycleEvent {
	return LifecycleEvent{Type: t, Data: p.Clone(), CreatedAt: at.UTC()}
}

// EventsFor returns the events announcing a committed transition: the
// primary event plus payment.failed when the payment landed in Failed.
func EventsFor(t EventType, p Payment, at time.Time) []LifecycleEvent {
	events := []LifecycleEvent{NewLifecycleEvent(t, p, at)}
	if p.Status == StatusFailed && t != EventFailed {
		events = append(events, NewLifecycleEvent(EventFailed, p, at))
	}
	return events
}

// PaymentID is the partition key of the event.
func (e LifecycleEvent) PaymentID() string { return e.Data.ID }

// Encode renders the wire format {"type", "data", "created_at"}.
func (e LifecycleEvent) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		Data      Payment   `json:"data"`
		CreatedAt string    `json:"created_at"`
	}{e.Type, e.Data, e.CreatedAt.Format(time.RFC3339)})
}

func DecodeLifecycleEvent(b []byte) (LifecycleEvent, error) {
	var ev LifecycleEvent
	err := json.Unmarshal(b, &ev)
	return ev, err
}
