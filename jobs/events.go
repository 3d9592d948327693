package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/shared"
)

// QueuePublisher delivers billing events through the task queue. Delivery is
// at-least-once; consumers must tolerate duplicates.
type QueuePublisher struct {
	client *Client
	logger *slog.Logger
}

// NewQueuePublisher constructs a QueuePublisher.
func NewQueuePublisher(client *Client, logger *slog.Logger) *QueuePublisher {
	return &QueuePublisher{client: client, logger: logger}
}

// Publish enqueues the event for asynchronous processing.
func (p *QueuePublisher) Publish(ctx context.Context, evt billing.Event) error {
	task, err := NewBillingEventTask(evt)
	if err != nil {
		return err
	}
	_, err = p.client.Enqueue(ctx, task)
	return err
}

var _ billing.EventPublisher = (*QueuePublisher)(nil)

// EventRecorder consumes billing events and writes the audit trail.
type EventRecorder struct {
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewEventRecorder constructs an EventRecorder.
func NewEventRecorder(audit *shared.AuditLogger, logger *slog.Logger) *EventRecorder {
	return &EventRecorder{audit: audit, logger: logger}
}

// HandleBillingEvent persists the event into audit_logs. Malformed payloads
// are dropped rather than retried.
func (r *EventRecorder) HandleBillingEvent(ctx context.Context, t *asynq.Task) error {
	var evt billing.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		r.logger.Error("decode billing event", slog.Any("error", err))
		return asynq.SkipRetry
	}
	meta := map[string]any{"event_id": evt.ID.String(), "firm_id": evt.FirmID}
	for k, v := range evt.Meta {
		meta[k] = v
	}
	entity, action := splitEventType(evt.Type)
	err := r.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(evt.EntityID, 10),
		Meta:     meta,
		At:       evt.OccurredAt,
	})
	if err != nil {
		r.logger.Error("record billing event", slog.String("type", string(evt.Type)), slog.Any("error", err))
	}
	return err
}

// splitEventType maps "invoice.paid" to entity "invoice", action "paid".
func splitEventType(t billing.EventType) (entity, action string) {
	s := string(t)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:]
		}
	}
	return s, "event"
}
