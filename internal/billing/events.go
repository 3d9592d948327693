package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates billing domain events.
type EventType string

const (
	EventQuotationSent      EventType = "quotation.sent"
	EventQuotationAccepted  EventType = "quotation.accepted"
	EventQuotationExpired   EventType = "quotation.expired"
	EventQuotationConverted EventType = "quotation.converted"
	EventInvoicePaid        EventType = "invoice.paid"
	EventPaymentRecorded    EventType = "payment.recorded"
	EventPaymentRefunded    EventType = "payment.refunded"
)

// Event is a state-transition notification. Delivery is at-least-once;
// consumers must be idempotent on ID.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	FirmID     int64          `json:"firm_id"`
	EntityID   int64          `json:"entity_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// NewEvent constructs an Event with a fresh id.
func NewEvent(t EventType, firmID, entityID int64, meta map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		FirmID:     firmID,
		EntityID:   entityID,
		OccurredAt: time.Now().UTC(),
		Meta:       meta,
	}
}

// EventPublisher forwards events to external collaborators. Publish errors
// are reported to the caller but never roll back the ledger write that
// produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
