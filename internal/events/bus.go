// Package events records domain events for the checkout flow so downstream
// systems (reporting, notifications) can consume an audit trail of payment
// outcomes.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded domain event keyed by the order it concerns.
type Event struct {
	ID         uuid.UUID
	Topic      string
	OrderID    int64
	Payload    json.RawMessage
	OccurredAt time.Time
}

// Store defines the persistence operation required by the bus.
type Store interface {
	InsertEvent(ctx context.Context, ev Event) error
}

// Notifier reacts to emitted events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Bus persists domain events and fans them out to downstream handlers.
type Bus struct {
	Store     Store
	Notifiers []Notifier
}

// Emit records the event and dispatches it to all configured notifiers.
func (b *Bus) Emit(ctx context.Context, topic string, orderID int64, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errors.New("events: store not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev := Event{
		ID:         uuid.New(),
		Topic:      topic,
		OrderID:    orderID,
		Payload:    encoded,
		OccurredAt: time.Now(),
	}
	if err := b.Store.InsertEvent(ctx, ev); err != nil {
		return Event{}, fmt.Errorf("events: persist event: %w", err)
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append(json.RawMessage(nil), v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}
