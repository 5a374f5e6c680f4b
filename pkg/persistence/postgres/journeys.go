package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
)

// JourneyRepository reads and seeds authored journey definitions. The
// graph and policy columns are stored as JSONB in their authored shape.
type JourneyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const journeyColumns = `
	id, tenant_id, name, status, trigger_type, trigger_event, segment_id,
	tick_cron, graph, start_date, end_date, re_entry_policy,
	conversion_goal, exit_rules, created_at, updated_at
`

func (r *JourneyRepository) ActiveJourneys(ctx context.Context) ([]*models.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE status = 'active' ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active journeys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	journeys := make([]*models.Journey, 0)

	for rows.Next() {
		journey, err := scanJourney(rows)
		if err != nil {
			return nil, err
		}

		journeys = append(journeys, journey)
	}

	return journeys, rows.Err()
}

func (r *JourneyRepository) JourneyByID(ctx context.Context, id string) (*models.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE id = $1`

	journey, err := scanJourney(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrJourneyNotFound
	}

	return journey, err
}

func (r *JourneyRepository) SaveJourney(ctx context.Context, journey *models.Journey) error {
	graph, err := json.Marshal(journey.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal journey graph: %w", err)
	}

	reEntry, err := json.Marshal(journey.ReEntry)
	if err != nil {
		return fmt.Errorf("failed to marshal re-entry policy: %w", err)
	}

	conversion, err := marshalNullable(journey.Conversion)
	if err != nil {
		return fmt.Errorf("failed to marshal conversion goal: %w", err)
	}

	exitRules, err := marshalNullable(journey.ExitRules)
	if err != nil {
		return fmt.Errorf("failed to marshal exit rules: %w", err)
	}

	query := `
		INSERT INTO journeys (` + journeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id)
		DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			trigger_type = EXCLUDED.trigger_type,
			trigger_event = EXCLUDED.trigger_event,
			segment_id = EXCLUDED.segment_id,
			tick_cron = EXCLUDED.tick_cron,
			graph = EXCLUDED.graph,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			re_entry_policy = EXCLUDED.re_entry_policy,
			conversion_goal = EXCLUDED.conversion_goal,
			exit_rules = EXCLUDED.exit_rules,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	if journey.CreatedAt.IsZero() {
		journey.CreatedAt = now
	}

	journey.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, query,
		journey.ID,
		journey.TenantID,
		journey.Name,
		string(journey.Status),
		string(journey.TriggerType),
		nullString(journey.TriggerEvent),
		nullString(journey.SegmentID),
		nullString(journey.TickCron),
		graph,
		journey.StartDate,
		journey.EndDate,
		reEntry,
		conversion,
		exitRules,
		journey.CreatedAt,
		journey.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save journey: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJourney(row rowScanner) (*models.Journey, error) {
	var (
		journey      models.Journey
		triggerEvent sql.NullString
		segmentID    sql.NullString
		tickCron     sql.NullString
		graph        []byte
		reEntry      []byte
		conversion   []byte
		exitRules    []byte
	)

	err := row.Scan(
		&journey.ID,
		&journey.TenantID,
		&journey.Name,
		&journey.Status,
		&journey.TriggerType,
		&triggerEvent,
		&segmentID,
		&tickCron,
		&graph,
		&journey.StartDate,
		&journey.EndDate,
		&reEntry,
		&conversion,
		&exitRules,
		&journey.CreatedAt,
		&journey.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	journey.TriggerEvent = triggerEvent.String
	journey.SegmentID = segmentID.String
	journey.TickCron = tickCron.String

	journey.Graph = &models.Graph{}
	if err := json.Unmarshal(graph, journey.Graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journey graph: %w", err)
	}

	if err := json.Unmarshal(reEntry, &journey.ReEntry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal re-entry policy: %w", err)
	}

	if len(conversion) > 0 {
		journey.Conversion = &models.ConversionGoal{}
		if err := json.Unmarshal(conversion, journey.Conversion); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversion goal: %w", err)
		}
	}

	if len(exitRules) > 0 {
		if err := json.Unmarshal(exitRules, &journey.ExitRules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal exit rules: %w", err)
		}
	}

	return &journey, nil
}

func marshalNullable(value any) ([]byte, error) {
	switch v := value.(type) {
	case *models.ConversionGoal:
		if v == nil {
			return nil, nil
		}
	case []models.ExitRule:
		if len(v) == 0 {
			return nil, nil
		}
	}

	return json.Marshal(value)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
