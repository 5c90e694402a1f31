// Package events publishes domain events (bookings, queue tokens) for
// consumers such as waiting-room display boards.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
)

// Routing keys.
const (
	AppointmentBooked        = "appointment.booked"
	AppointmentStatusChanged = "appointment.status_changed"
	TokenIssued              = "token.issued"
	TokenStatusChanged       = "token.status_changed"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Envelope is the JSON body of every message.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	TenantID   string          `json:"tenant_id,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func NewEnvelope(ctx context.Context, routingKey string, payload any, now time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}
	return Envelope{
		Type:       routingKey,
		OccurredAt: now.UTC(),
		TenantID:   db.TenantFromContext(ctx),
		Data:       data,
	}, nil
}

// Emit publishes and logs failures. Events are best-effort: a broker outage
// never fails the operation that produced the event.
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, routingKey string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, routingKey, payload); err != nil {
		logger.Warn().Err(err).Str("event", routingKey).Msg("event publish failed")
	}
}

// NopPublisher drops every event. Used when AMQP_URL is empty.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Envelope
}

func (r *Recorder) Publish(ctx context.Context, routingKey string, payload any) error {
	env, err := NewEnvelope(ctx, routingKey, payload, time.Now())
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.Events = append(r.Events, env)
	r.mu.Unlock()
	return nil
}

// Types returns the routing keys recorded so far, in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}

// Fanout delivers every event to each publisher in turn. All publishers are
// tried; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, routingKey string, payload any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, routingKey, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
