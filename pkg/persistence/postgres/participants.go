package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
)

// ParticipantRepository stores participant runs. Claim and terminate are
// conditional updates; the partial unique active index backs CreateActive.
type ParticipantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const uniqueViolation = "23505"

const participantColumns = `
	id, journey_id, user_id, status, current_node_id, entered_node_at,
	entered_journey_at, next_run_at, ended_at, history, created_at, updated_at
`

func (r *ParticipantRepository) CreateActive(ctx context.Context, participant *models.Participant) error {
	history, err := json.Marshal(participant.History)
	if err != nil {
		return fmt.Errorf("failed to marshal participant history: %w", err)
	}

	query := `
		INSERT INTO participants (` + participantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		participant.ID,
		participant.JourneyID,
		participant.UserID,
		string(participant.Status),
		participant.CurrentNodeID,
		participant.EnteredNodeAt,
		participant.EnteredJourneyAt,
		participant.NextRunAt,
		participant.EndedAt,
		history,
		participant.CreatedAt,
		participant.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return persistence.ErrActiveParticipantExists
	}

	if err != nil {
		return fmt.Errorf("failed to create participant: %w", err)
	}

	return nil
}

func (r *ParticipantRepository) ParticipantByID(ctx context.Context, id string) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`

	participant, err := scanParticipant(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrParticipantNotFound
	}

	return participant, err
}

func (r *ParticipantRepository) LatestByJourneyAndUser(ctx context.Context, journeyID, userID string) (*models.Participant, error) {
	query := `
		SELECT ` + participantColumns + ` FROM participants
		WHERE journey_id = $1 AND user_id = $2
		ORDER BY entered_journey_at DESC
		LIMIT 1
	`

	participant, err := scanParticipant(r.db.QueryRowContext(ctx, query, journeyID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrParticipantNotFound
	}

	return participant, err
}

func (r *ParticipantRepository) ActiveByUser(ctx context.Context, userID string) ([]*models.Participant, error) {
	query := `
		SELECT ` + participantColumns + ` FROM participants
		WHERE user_id = $1 AND status = 'active'
		ORDER BY entered_journey_at
	`

	return r.queryParticipants(ctx, query, userID)
}

func (r *ParticipantRepository) ActiveByJourney(ctx context.Context, journeyID string) ([]*models.Participant, error) {
	query := `
		SELECT ` + participantColumns + ` FROM participants
		WHERE journey_id = $1 AND status = 'active'
		ORDER BY entered_journey_at
	`

	return r.queryParticipants(ctx, query, journeyID)
}

func (r *ParticipantRepository) ListByJourney(ctx context.Context, journeyID string, status models.ParticipantStatus, limit int) ([]*models.Participant, error) {
	if limit <= 0 {
		limit = 100
	}

	if status == "" {
		query := `
			SELECT ` + participantColumns + ` FROM participants
			WHERE journey_id = $1
			ORDER BY entered_journey_at DESC
			LIMIT $2
		`

		return r.queryParticipants(ctx, query, journeyID, limit)
	}

	query := `
		SELECT ` + participantColumns + ` FROM participants
		WHERE journey_id = $1 AND status = $2
		ORDER BY entered_journey_at DESC
		LIMIT $3
	`

	return r.queryParticipants(ctx, query, journeyID, string(status), limit)
}

func (r *ParticipantRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Participant, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + participantColumns + ` FROM participants
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2
	`

	return r.queryParticipants(ctx, query, now, limit)
}

// ClaimDue performs the atomic claim-before-act transition: it clears
// next_run_at only if it still holds the due value and the participant is
// still active. A zero row count means another claimant won.
func (r *ParticipantRepository) ClaimDue(ctx context.Context, id string, dueAt time.Time) (bool, error) {
	query := `
		UPDATE participants
		SET next_run_at = NULL, claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND next_run_at = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, dueAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim participant: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	return affected == 1, nil
}

// Update writes the executor's position, schedule and history, but only
// while the row is still active. A terminal status written concurrently by
// the evaluator must survive, so zero affected rows surfaces as
// ErrParticipantNotActive and the caller stops its pass.
func (r *ParticipantRepository) Update(ctx context.Context, participant *models.Participant) error {
	history, err := json.Marshal(participant.History)
	if err != nil {
		return fmt.Errorf("failed to marshal participant history: %w", err)
	}

	participant.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE participants
		SET current_node_id = $2, entered_node_at = $3, next_run_at = $4,
			history = $5, claimed_at = NULL, updated_at = $6
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query,
		participant.ID,
		participant.CurrentNodeID,
		participant.EnteredNodeAt,
		participant.NextRunAt,
		history,
		participant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrParticipantNotActive
	}

	return nil
}

// ReleaseExpiredClaims rescues active rows whose claim was taken before
// olderThan without a later write-back: the claimed_at value becomes the
// due time again, so the next sweep re-runs the node at-least-once.
func (r *ParticipantRepository) ReleaseExpiredClaims(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		UPDATE participants
		SET next_run_at = claimed_at, claimed_at = NULL, updated_at = NOW()
		WHERE status = 'active' AND next_run_at IS NULL AND claimed_at <= $1
	`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired claims: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read release result: %w", err)
	}

	return int(affected), nil
}

// TerminateFromActive conditionally ends an active run, appending the
// terminal history entry in the same statement.
func (r *ParticipantRepository) TerminateFromActive(ctx context.Context, id string, status models.ParticipantStatus, reason string, at time.Time) (bool, error) {
	entry, err := json.Marshal(models.HistoryEntry{
		NodeID:  "",
		At:      at,
		Outcome: string(status),
		Detail:  reason,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal history entry: %w", err)
	}

	query := `
		UPDATE participants
		SET status = $2, next_run_at = NULL, claimed_at = NULL, ended_at = $3,
			history = history || $4::jsonb, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, id, string(status), at, entry)
	if err != nil {
		return false, fmt.Errorf("failed to terminate participant: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read terminate result: %w", err)
	}

	return affected == 1, nil
}

func (r *ParticipantRepository) CountByStatus(ctx context.Context, journeyID string) (map[models.ParticipantStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM participants WHERE journey_id = $1 GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to count participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.ParticipantStatus]int)

	for rows.Next() {
		var (
			status string
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan participant count: %w", err)
		}

		counts[models.ParticipantStatus(status)] = count
	}

	return counts, rows.Err()
}

func (r *ParticipantRepository) queryParticipants(ctx context.Context, query string, args ...any) ([]*models.Participant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	participants := make([]*models.Participant, 0)

	for rows.Next() {
		participant, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}

		participants = append(participants, participant)
	}

	return participants, rows.Err()
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var (
		participant models.Participant
		history     []byte
	)

	err := row.Scan(
		&participant.ID,
		&participant.JourneyID,
		&participant.UserID,
		&participant.Status,
		&participant.CurrentNodeID,
		&participant.EnteredNodeAt,
		&participant.EnteredJourneyAt,
		&participant.NextRunAt,
		&participant.EndedAt,
		&history,
		&participant.CreatedAt,
		&participant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(history, &participant.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant history: %w", err)
	}

	return &participant, nil
}
