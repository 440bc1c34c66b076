package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store exposes the order primitives the orchestrator and reconciler consume.
type Store interface {
	Get(ctx context.Context, id int64) (Order, error)
	// UpdateStatus transitions the order and records the note alongside it.
	UpdateStatus(ctx context.Context, id int64, status Status, note string) error
	// MarkPaid transitions the order to paid only when it is not already paid.
	// It reports whether this call performed the transition.
	MarkPaid(ctx context.Context, id int64, note string) (bool, error)
	AddNote(ctx context.Context, id int64, note string) error
}

// PGStore implements Store on top of Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore constructs a Postgres-backed order store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

// Get loads an order by id.
func (s *PGStore) Get(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := s.Pool.QueryRow(ctx,
		`SELECT id, total_minor, currency, status, created_at, updated_at
		 FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.TotalMinor, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get %d: %w", id, err)
	}
	return o, nil
}

// UpdateStatus transitions the order status and appends the note.
func (s *PGStore) UpdateStatus(ctx context.Context, id int64, status Status, note string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("order: update status %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if note != "" {
		return s.AddNote(ctx, id, note)
	}
	return nil
}

// MarkPaid performs a conditional transition to paid. The WHERE clause keeps
// duplicate reconciliations from re-applying the transition.
func (s *PGStore) MarkPaid(ctx context.Context, id int64, note string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now()
		 WHERE id = $1 AND status <> $2`, id, StatusPaid)
	if err != nil {
		return false, fmt.Errorf("order: mark paid %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if note != "" {
		if err := s.AddNote(ctx, id, note); err != nil {
			return true, err
		}
	}
	return true, nil
}

// AddNote appends an operator-visible note to the order history.
func (s *PGStore) AddNote(ctx context.Context, id int64, note string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, id, note)
	if err != nil {
		return fmt.Errorf("order: add note %d: %w", id, err)
	}
	return nil
}
