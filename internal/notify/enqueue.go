package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pahana-edu/bookshop-checkout/internal/events"
	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ConfirmationNotifier turns submitted-order events into confirmation tasks.
type ConfirmationNotifier struct {
	Queue   Enqueuer
	Enabled bool
}

// Notify implements events.Notifier.
func (n ConfirmationNotifier) Notify(ctx context.Context, event store.DomainEvent) error {
	if !n.Enabled || n.Queue == nil || event.Topic != events.TopicOrderSubmitted {
		return nil
	}
	var p OrderConfirmation
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("confirmation notify: decode payload: %w", err)
	}
	if p.Email == "" {
		return nil
	}
	task, err := NewOrderConfirmationTask(p)
	if err != nil {
		return err
	}
	if _, err := n.Queue.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("confirmation notify: enqueue: %w", err)
	}
	return nil
}

// EventLister reads persisted events; *store.Queries satisfies it.
type EventLister interface {
	ListDomainEventsSince(ctx context.Context, topic string, since time.Time, limit int) ([]store.DomainEvent, error)
}

// Resend re-enqueues confirmations for orders submitted since the given instant. Orders whose
// task is still retained are rejected by asynq as duplicates, so only lost confirmations are
// queued again. It returns how many events were examined.
func (n ConfirmationNotifier) Resend(ctx context.Context, src EventLister, since time.Time, limit int) (int, error) {
	if !n.Enabled || n.Queue == nil || src == nil {
		return 0, nil
	}
	evs, err := src.ListDomainEventsSince(ctx, events.TopicOrderSubmitted, since, limit)
	if err != nil {
		return 0, fmt.Errorf("confirmation resend: list events: %w", err)
	}
	var joined error
	for _, ev := range evs {
		if err := n.Notify(ctx, ev); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	return len(evs), joined
}
