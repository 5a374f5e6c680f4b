// Package postgres provides the PostgreSQL persistence implementation for
// journeys, participants, the event log and tick schedules.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/pumba68/qatering-journeys/pkg/persistence"
	"github.com/pumba68/qatering-journeys/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	journeyRepo     *JourneyRepository
	participantRepo *ParticipantRepository
	eventLogRepo    *EventLogRepository
	tickRepo        *TickScheduleRepository
}

// NewPersistence connects, migrates and returns the persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return newWithDB(database, logger), nil
}

// newWithDB wires repositories around an existing connection; tests use it
// with a mocked *sql.DB.
func newWithDB(database *sql.DB, logger *slog.Logger) *Persistence {
	return &Persistence{
		db:              database,
		logger:          logger,
		journeyRepo:     &JourneyRepository{db: database, logger: logger},
		participantRepo: &ParticipantRepository{db: database, logger: logger},
		eventLogRepo:    &EventLogRepository{db: database},
		tickRepo:        &TickScheduleRepository{db: database},
	}
}

func (p *Persistence) Journeys() persistence.JourneyRepository           { return p.journeyRepo }
func (p *Persistence) Participants() persistence.ParticipantRepository   { return p.participantRepo }
func (p *Persistence) EventLog() persistence.EventLogRepository          { return p.eventLogRepo }
func (p *Persistence) TickSchedules() persistence.TickScheduleRepository { return p.tickRepo }

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
