package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventLogRepository records observed domain events for branch windows and
// conversion lookbacks.
type EventLogRepository struct {
	db *sql.DB
}

func (r *EventLogRepository) Append(ctx context.Context, userID, eventType string, occurredAt time.Time) error {
	query := `INSERT INTO event_log (user_id, event_type, occurred_at) VALUES ($1, $2, $3)`

	_, err := r.db.ExecContext(ctx, query, userID, eventType, occurredAt)
	if err != nil {
		return fmt.Errorf("failed to append event log: %w", err)
	}

	return nil
}

func (r *EventLogRepository) HasEventSince(ctx context.Context, userID, eventType string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM event_log
			WHERE user_id = $1 AND event_type = $2 AND occurred_at >= $3
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, userID, eventType, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query event log: %w", err)
	}

	return exists, nil
}
