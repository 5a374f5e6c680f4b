package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
)

// TickScheduleRepository stores evaluation schedules for segment/date
// journeys.
type TickScheduleRepository struct {
	db *sql.DB
}

func (r *TickScheduleRepository) SaveTickSchedule(ctx context.Context, schedule *models.TickSchedule) error {
	query := `
		INSERT INTO tick_schedules (
			id, journey_id, cron_expression, next_due_at, created_at, updated_at, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			next_due_at = EXCLUDED.next_due_at,
			updated_at = EXCLUDED.updated_at,
			active = EXCLUDED.active
	`

	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.JourneyID,
		schedule.CronExpression,
		schedule.NextDueAt,
		schedule.CreatedAt,
		schedule.UpdatedAt,
		schedule.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save tick schedule: %w", err)
	}

	return nil
}

func (r *TickScheduleRepository) TickScheduleByJourney(ctx context.Context, journeyID string) (*models.TickSchedule, error) {
	query := `
		SELECT id, journey_id, cron_expression, next_due_at, created_at, updated_at, active
		FROM tick_schedules
		WHERE journey_id = $1
	`

	schedule := &models.TickSchedule{}

	err := r.db.QueryRowContext(ctx, query, journeyID).Scan(
		&schedule.ID,
		&schedule.JourneyID,
		&schedule.CronExpression,
		&schedule.NextDueAt,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
		&schedule.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTickScheduleNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query tick schedule: %w", err)
	}

	return schedule, nil
}

func (r *TickScheduleRepository) DueTickSchedules(ctx context.Context, now time.Time) ([]*models.TickSchedule, error) {
	query := `
		SELECT id, journey_id, cron_expression, next_due_at, created_at, updated_at, active
		FROM tick_schedules
		WHERE active AND next_due_at <= $1
		ORDER BY next_due_at
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tick schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	schedules := make([]*models.TickSchedule, 0)

	for rows.Next() {
		schedule := &models.TickSchedule{}

		err := rows.Scan(
			&schedule.ID,
			&schedule.JourneyID,
			&schedule.CronExpression,
			&schedule.NextDueAt,
			&schedule.CreatedAt,
			&schedule.UpdatedAt,
			&schedule.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tick schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	return schedules, rows.Err()
}

func (r *TickScheduleRepository) DeactivateTickSchedule(ctx context.Context, id string) error {
	query := `UPDATE tick_schedules SET active = FALSE, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate tick schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read deactivate result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTickScheduleNotFound
	}

	return nil
}
