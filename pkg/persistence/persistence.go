// Package persistence provides the data storage abstraction for journeys,
// participants and the engine's observed event log.
package persistence

import (
	"context"
	"time"

	"github.com/pumba68/qatering-journeys/pkg/models"
)

type Persistence interface {
	Journeys() JourneyRepository
	Participants() ParticipantRepository
	EventLog() EventLogRepository
	TickSchedules() TickScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// JourneyRepository is read-mostly: the engine consumes authored journeys,
// it never edits them. Save exists for seeding and tooling.
type JourneyRepository interface {
	ActiveJourneys(ctx context.Context) ([]*models.Journey, error)
	JourneyByID(ctx context.Context, id string) (*models.Journey, error)
	SaveJourney(ctx context.Context, journey *models.Journey) error
}

// ParticipantRepository stores participant runs. The conditional operations
// (CreateActive, ClaimDue, TerminateFromActive) carry the engine's whole
// mutual-exclusion story; they must be atomic per participant.
type ParticipantRepository interface {
	// CreateActive inserts a new active participant. It returns
	// ErrActiveParticipantExists when an active row already exists for the
	// same (journey, user) pair, closing the concurrent-trigger race.
	CreateActive(ctx context.Context, participant *models.Participant) error

	ParticipantByID(ctx context.Context, id string) (*models.Participant, error)

	// LatestByJourneyAndUser returns the most recently entered run for the
	// pair, or ErrParticipantNotFound.
	LatestByJourneyAndUser(ctx context.Context, journeyID, userID string) (*models.Participant, error)

	ActiveByUser(ctx context.Context, userID string) ([]*models.Participant, error)
	ActiveByJourney(ctx context.Context, journeyID string) ([]*models.Participant, error)
	ListByJourney(ctx context.Context, journeyID string, status models.ParticipantStatus, limit int) ([]*models.Participant, error)

	// Due returns active participants whose NextRunAt is at or before now.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Participant, error)

	// ClaimDue atomically clears NextRunAt if it still equals dueAt and the
	// participant is still active. Exactly one concurrent claimant wins.
	ClaimDue(ctx context.Context, id string, dueAt time.Time) (bool, error)

	// Update persists executor-side mutations (position, history, schedule)
	// and applies only while the participant is still active. It returns
	// ErrParticipantNotActive when the evaluator terminated the run in the
	// meantime, so that terminal status is never overwritten.
	Update(ctx context.Context, participant *models.Participant) error

	// ReleaseExpiredClaims re-parks active participants whose claim was
	// taken before olderThan but whose pass never wrote back, making them
	// due again after a crash between claim and update.
	ReleaseExpiredClaims(ctx context.Context, olderThan time.Time) (int, error)

	// TerminateFromActive conditionally moves an active participant to a
	// terminal status, recording the reason in history. Returns false if
	// the participant was no longer active.
	TerminateFromActive(ctx context.Context, id string, status models.ParticipantStatus, reason string, at time.Time) (bool, error)

	CountByStatus(ctx context.Context, journeyID string) (map[models.ParticipantStatus]int, error)
}

// EventLogRepository records every domain event the engine observes, the
// source for branch event windows and conversion lookbacks.
type EventLogRepository interface {
	Append(ctx context.Context, userID, eventType string, occurredAt time.Time) error
	HasEventSince(ctx context.Context, userID, eventType string, since time.Time) (bool, error)
}

// TickScheduleRepository stores evaluation schedules for segment/date
// journeys with precomputed due times.
type TickScheduleRepository interface {
	SaveTickSchedule(ctx context.Context, schedule *models.TickSchedule) error
	TickScheduleByJourney(ctx context.Context, journeyID string) (*models.TickSchedule, error)
	DueTickSchedules(ctx context.Context, now time.Time) ([]*models.TickSchedule, error)
	DeactivateTickSchedule(ctx context.Context, id string) error
}
