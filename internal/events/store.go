package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists events to Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore constructs a Postgres-backed event store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

// InsertEvent appends the event to the payment_events table.
func (s *PGStore) InsertEvent(ctx context.Context, ev Event) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO payment_events (id, topic, order_id, payload, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Topic, ev.OrderID, ev.Payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("events: insert %s: %w", ev.Topic, err)
	}
	return nil
}
