// Package events records checkout domain events in the ledger and hands them to notifiers.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

var (
	ErrNoStore      = errors.New("events: store not configured")
	ErrUnknownTopic = errors.New("events: unknown topic")
	ErrNoAggregate  = errors.New("events: aggregate id is required")
)

// EventStore persists events. *store.Queries satisfies it.
type EventStore interface {
	InsertDomainEvent(ctx context.Context, arg store.InsertDomainEventParams) (store.DomainEvent, error)
}

// Notifier reacts to a persisted event, e.g. by queueing a confirmation e-mail.
type Notifier interface {
	Notify(ctx context.Context, event store.DomainEvent) error
}

type NotifierFunc func(ctx context.Context, event store.DomainEvent) error

func (f NotifierFunc) Notify(ctx context.Context, event store.DomainEvent) error {
	return f(ctx, event)
}

// Bus writes events to the ledger, then runs every notifier. Notifier errors are joined and
// returned with the stored event; they never undo the write.
type Bus struct {
	Store     EventStore
	Notifiers []Notifier
}

// Emit stores payload under topic for the aggregate. payload may be raw JSON ([]byte,
// json.RawMessage or string) or any value json.Marshal accepts; nil stores {}.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (store.DomainEvent, error) {
	if b == nil || b.Store == nil {
		return store.DomainEvent{}, ErrNoStore
	}
	if !Known(topic) {
		return store.DomainEvent{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if aggregateID == uuid.Nil {
		return store.DomainEvent{}, ErrNoAggregate
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return store.DomainEvent{}, fmt.Errorf("events: encode %s payload: %w", topic, err)
	}

	ev, err := b.Store.InsertDomainEvent(ctx, store.InsertDomainEventParams{
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     body,
	})
	if err != nil {
		return store.DomainEvent{}, fmt.Errorf("events: persist %s: %w", topic, err)
	}

	errs := make([]error, 0, len(b.Notifiers))
	for _, n := range b.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("events: notify %s: %w", topic, err))
		}
	}
	return ev, errors.Join(errs...)
}

func marshalPayload(payload any) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return json.Marshal(v)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid json")
	}
	return bytes.Clone(raw), nil
}
