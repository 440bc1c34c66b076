// Package session persists the association between a local order and the
// remote checkout session the gateway issued for it.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store maps order ids to gateway session ids. One active session per order;
// saving again supersedes the previous session.
type Store interface {
	Save(ctx context.Context, orderID int64, sessionID string) error
	Lookup(ctx context.Context, orderID int64) (string, bool, error)
}

// PGStore implements Store on top of Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore constructs a Postgres-backed session registry.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

// Save upserts the session id for the order. Idempotent; recreating a session
// for the same order overwrites the prior association.
func (s *PGStore) Save(ctx context.Context, orderID int64, sessionID string) error {
	if sessionID == "" {
		return errors.New("session: session id is required")
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO checkout_sessions (order_id, session_id, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (order_id)
		 DO UPDATE SET session_id = EXCLUDED.session_id, created_at = now()`,
		orderID, sessionID)
	if err != nil {
		return fmt.Errorf("session: save for order %d: %w", orderID, err)
	}
	return nil
}

// Lookup returns the session id associated with the order, if any.
func (s *PGStore) Lookup(ctx context.Context, orderID int64) (string, bool, error) {
	var sessionID string
	err := s.Pool.QueryRow(ctx,
		`SELECT session_id FROM checkout_sessions WHERE order_id = $1`, orderID).
		Scan(&sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("session: lookup for order %d: %w", orderID, err)
	}
	return sessionID, true, nil
}
