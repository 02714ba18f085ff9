package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/obs/log"
	"github.com/meridianid/authserver/internal/store"
)

// Sink consumes every event raised on the Bus: in-process consumers
// (logger, audit log) or the remote webhook fan-out. A sink error is
// logged but never aborts delivery to the remaining sinks.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Bus fans an event out to every registered Sink synchronously on the
// publisher's goroutine.
type Bus struct {
	sinks []Sink
}

// NewBus constructs a Bus with the given sinks, evaluated in order.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

// Raise dispatches ev to every sink. Each sink's error is logged and
// does not prevent the remaining sinks (or the caller) from proceeding;
// the webhook sink's own durability comes from its delivery queue, not
// from blocking the publisher.
func (b *Bus) Raise(ctx context.Context, ev Event) {
	for _, s := range b.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			log.Errorw("webhook: sink failed", "sink", s.Name(), "event_type", ev.Type, "error", err)
		}
	}
}

// LoggerSink is the simplest in-process Sink: it structured-logs every
// event.
type LoggerSink struct{}

// Name implements Sink.
func (LoggerSink) Name() string { return "logger" }

// Handle implements Sink.
func (LoggerSink) Handle(_ context.Context, ev Event) error {
	log.Infow("event raised", "event_id", ev.ID, "event_type", ev.Type, "tenant_id", ev.TenantID)
	return nil
}

// AuditSink persists every event to a durable audit store. AuditStore
// is intentionally a minimal boundary; persistence of admin entities
// beyond this event record lives outside this module.
type AuditSink struct {
	Store AuditStore
}

// AuditStore is the narrow persistence boundary AuditSink writes
// through.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, ev Event) error
}

// Name implements Sink.
func (AuditSink) Name() string { return "audit" }

// Handle implements Sink.
func (a *AuditSink) Handle(ctx context.Context, ev Event) error {
	return a.Store.AppendAuditEvent(ctx, ev)
}

// WebhookSink fans an event out to every tenant-configured endpoint
// subscribed to its type, by enqueueing a Pending WebhookDelivery per
// endpoint. The
// retry Processor drains the queue asynchronously; Handle itself never
// performs outbound I/O so a slow or unreachable endpoint cannot block
// the synchronous Raise call.
type WebhookSink struct {
	Store store.WebhookStore
	Clock clock.Clock
}

// Name implements Sink.
func (*WebhookSink) Name() string { return "webhook" }

// Handle implements Sink.
func (w *WebhookSink) Handle(ctx context.Context, ev Event) error {
	endpoints, err := w.Store.ListEndpoints(ctx, ev.TenantID)
	if err != nil {
		return fmt.Errorf("webhook: listing endpoints: %w", err)
	}
	now := w.Clock.Now()
	body, err := json.Marshal(Payload{
		ID:        ev.ID,
		EventType: ev.Type,
		Timestamp: now.Unix(),
		TenantID:  ev.TenantID,
		Data:      ev.Data,
		Metadata:  ev.Metadata,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshalling payload: %w", err)
	}

	var firstErr error
	for _, ep := range endpoints {
		if !ep.Subscribes(ev.Type) {
			continue
		}
		d := &model.WebhookDelivery{
			TenantID:    ev.TenantID,
			ID:          uuid.NewString(),
			EndpointID:  ep.ID,
			EventType:   ev.Type,
			Payload:     body,
			Status:      model.DeliveryPending,
			NextRetryAt: now,
			CreatedAt:   now,
		}
		if err := w.Store.PutDelivery(ctx, d); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("webhook: enqueueing delivery for endpoint %s: %w", ep.ID, err)
		}
	}
	return firstErr
}
