package store

import (
	"context"
	"fmt"
)

// IsEventProcessed reports whether a gateway event id is in the ledger.
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check processed event: %w", err)
	}
	return exists, nil
}

// RecordEvent adds a gateway event id to the ledger. Recording twice is a no-op.
func (s *Store) RecordEvent(ctx context.Context, eventID, eventType string) error {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO processed_events (event_id, event_type)
VALUES ($1, $2)
ON CONFLICT (event_id) DO NOTHING`, eventID, eventType); err != nil {
		return fmt.Errorf("store: record event: %w", err)
	}
	return nil
}
