package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InsertDomainEventParams holds the columns of a new domain event.
type InsertDomainEventParams struct {
	Topic       string
	AggregateID uuid.UUID
	Payload     []byte
}

const insertDomainEvent = `INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4)
RETURNING id, topic, aggregate_id, payload, occurred_at`

// InsertDomainEvent appends an event to the log.
func (q *Queries) InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	var ev DomainEvent
	err := q.db.QueryRow(ctx, insertDomainEvent, uuid.New(), arg.Topic, arg.AggregateID, arg.Payload).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}

const listDomainEventsSince = `SELECT id, topic, aggregate_id, payload, occurred_at FROM domain_events
WHERE topic = $1 AND occurred_at >= $2 ORDER BY occurred_at LIMIT $3`

// ListDomainEventsSince returns events of topic that occurred at or after since, oldest first.
func (q *Queries) ListDomainEventsSince(ctx context.Context, topic string, since time.Time, limit int) ([]DomainEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(ctx, listDomainEventsSince, topic, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DomainEvent
	for rows.Next() {
		var ev DomainEvent
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
