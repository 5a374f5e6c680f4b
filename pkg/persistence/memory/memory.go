// Package memory provides an in-memory persistence implementation used by
// tests and single-process development. It honors the same conditional
// update semantics as the PostgreSQL implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
)

type Persistence struct {
	mu sync.RWMutex

	journeys      map[string]*models.Journey
	participants  map[string]*models.Participant
	claims        map[string]time.Time
	eventLog      []eventRecord
	tickSchedules map[string]*models.TickSchedule
}

type eventRecord struct {
	userID     string
	eventType  string
	occurredAt time.Time
}

func NewPersistence() *Persistence {
	return &Persistence{
		journeys:      make(map[string]*models.Journey),
		participants:  make(map[string]*models.Participant),
		claims:        make(map[string]time.Time),
		tickSchedules: make(map[string]*models.TickSchedule),
	}
}

func (p *Persistence) Journeys() persistence.JourneyRepository           { return &journeyRepo{p} }
func (p *Persistence) Participants() persistence.ParticipantRepository   { return &participantRepo{p} }
func (p *Persistence) EventLog() persistence.EventLogRepository          { return &eventLogRepo{p} }
func (p *Persistence) TickSchedules() persistence.TickScheduleRepository { return &tickRepo{p} }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

type journeyRepo struct {
	p *Persistence
}

func (r *journeyRepo) ActiveJourneys(_ context.Context) ([]*models.Journey, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	journeys := make([]*models.Journey, 0)

	for _, journey := range r.p.journeys {
		if journey.IsExecutable() {
			journeys = append(journeys, journey)
		}
	}

	sort.Slice(journeys, func(i, j int) bool { return journeys[i].ID < journeys[j].ID })

	return journeys, nil
}

func (r *journeyRepo) JourneyByID(_ context.Context, id string) (*models.Journey, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	journey, ok := r.p.journeys[id]
	if !ok {
		return nil, persistence.ErrJourneyNotFound
	}

	return journey, nil
}

func (r *journeyRepo) SaveJourney(_ context.Context, journey *models.Journey) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.journeys[journey.ID] = journey

	return nil
}

type participantRepo struct {
	p *Persistence
}

func (r *participantRepo) CreateActive(_ context.Context, participant *models.Participant) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, existing := range r.p.participants {
		if existing.JourneyID == participant.JourneyID &&
			existing.UserID == participant.UserID &&
			existing.Status == models.ParticipantActive {
			return persistence.ErrActiveParticipantExists
		}
	}

	r.p.participants[participant.ID] = participant.Clone()

	return nil
}

func (r *participantRepo) ParticipantByID(_ context.Context, id string) (*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	participant, ok := r.p.participants[id]
	if !ok {
		return nil, persistence.ErrParticipantNotFound
	}

	return participant.Clone(), nil
}

func (r *participantRepo) LatestByJourneyAndUser(_ context.Context, journeyID, userID string) (*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var latest *models.Participant

	for _, participant := range r.p.participants {
		if participant.JourneyID != journeyID || participant.UserID != userID {
			continue
		}

		if latest == nil || participant.EnteredJourneyAt.After(latest.EnteredJourneyAt) {
			latest = participant
		}
	}

	if latest == nil {
		return nil, persistence.ErrParticipantNotFound
	}

	return latest.Clone(), nil
}

func (r *participantRepo) ActiveByUser(_ context.Context, userID string) ([]*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	return r.p.collect(func(p *models.Participant) bool {
		return p.UserID == userID && p.Status == models.ParticipantActive
	}, 0), nil
}

func (r *participantRepo) ActiveByJourney(_ context.Context, journeyID string) ([]*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	return r.p.collect(func(p *models.Participant) bool {
		return p.JourneyID == journeyID && p.Status == models.ParticipantActive
	}, 0), nil
}

func (r *participantRepo) ListByJourney(_ context.Context, journeyID string, status models.ParticipantStatus, limit int) ([]*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	return r.p.collect(func(p *models.Participant) bool {
		if p.JourneyID != journeyID {
			return false
		}

		return status == "" || p.Status == status
	}, limit), nil
}

func (r *participantRepo) Due(_ context.Context, now time.Time, limit int) ([]*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	return r.p.collect(func(p *models.Participant) bool {
		return p.Status == models.ParticipantActive &&
			p.NextRunAt != nil &&
			!p.NextRunAt.After(now)
	}, limit), nil
}

func (r *participantRepo) ClaimDue(_ context.Context, id string, dueAt time.Time) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	participant, ok := r.p.participants[id]
	if !ok {
		return false, persistence.ErrParticipantNotFound
	}

	if participant.Status != models.ParticipantActive ||
		participant.NextRunAt == nil ||
		!participant.NextRunAt.Equal(dueAt) {
		return false, nil
	}

	participant.NextRunAt = nil
	participant.UpdatedAt = time.Now().UTC()
	r.p.claims[id] = time.Now().UTC()

	return true, nil
}

func (r *participantRepo) Update(_ context.Context, participant *models.Participant) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, ok := r.p.participants[participant.ID]
	if !ok {
		return persistence.ErrParticipantNotFound
	}

	// A terminal status written by the evaluator mid-pass wins over the
	// executor's stale state.
	if stored.Status != models.ParticipantActive {
		return persistence.ErrParticipantNotActive
	}

	participant.UpdatedAt = time.Now().UTC()
	r.p.participants[participant.ID] = participant.Clone()
	delete(r.p.claims, participant.ID)

	return nil
}

func (r *participantRepo) ReleaseExpiredClaims(_ context.Context, olderThan time.Time) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	released := 0

	for id, claimedAt := range r.p.claims {
		if claimedAt.After(olderThan) {
			continue
		}

		participant, ok := r.p.participants[id]
		if !ok || participant.Status != models.ParticipantActive || participant.NextRunAt != nil {
			delete(r.p.claims, id)
			continue
		}

		due := claimedAt
		participant.NextRunAt = &due
		participant.UpdatedAt = time.Now().UTC()
		delete(r.p.claims, id)
		released++
	}

	return released, nil
}

func (r *participantRepo) TerminateFromActive(_ context.Context, id string, status models.ParticipantStatus, reason string, at time.Time) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	participant, ok := r.p.participants[id]
	if !ok {
		return false, persistence.ErrParticipantNotFound
	}

	if participant.Status != models.ParticipantActive {
		return false, nil
	}

	participant.Status = status
	participant.NextRunAt = nil
	delete(r.p.claims, id)
	ended := at
	participant.EndedAt = &ended
	participant.UpdatedAt = time.Now().UTC()
	participant.Record("", string(status), reason, at)

	return true, nil
}

func (r *participantRepo) CountByStatus(_ context.Context, journeyID string) (map[models.ParticipantStatus]int, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	counts := make(map[models.ParticipantStatus]int)

	for _, participant := range r.p.participants {
		if participant.JourneyID == journeyID {
			counts[participant.Status]++
		}
	}

	return counts, nil
}

// collect filters participants under a held lock, returning clones sorted
// by entry time for deterministic iteration.
func (p *Persistence) collect(match func(*models.Participant) bool, limit int) []*models.Participant {
	matched := make([]*models.Participant, 0)

	for _, participant := range p.participants {
		if match(participant) {
			matched = append(matched, participant)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].EnteredJourneyAt.Before(matched[j].EnteredJourneyAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	clones := make([]*models.Participant, len(matched))
	for i, participant := range matched {
		clones[i] = participant.Clone()
	}

	return clones
}

type eventLogRepo struct {
	p *Persistence
}

func (r *eventLogRepo) Append(_ context.Context, userID, eventType string, occurredAt time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.eventLog = append(r.p.eventLog, eventRecord{
		userID:     userID,
		eventType:  eventType,
		occurredAt: occurredAt,
	})

	return nil
}

func (r *eventLogRepo) HasEventSince(_ context.Context, userID, eventType string, since time.Time) (bool, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, record := range r.p.eventLog {
		if record.userID == userID && record.eventType == eventType && !record.occurredAt.Before(since) {
			return true, nil
		}
	}

	return false, nil
}

type tickRepo struct {
	p *Persistence
}

func (r *tickRepo) SaveTickSchedule(_ context.Context, schedule *models.TickSchedule) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.tickSchedules[schedule.ID] = schedule

	return nil
}

func (r *tickRepo) TickScheduleByJourney(_ context.Context, journeyID string) (*models.TickSchedule, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, schedule := range r.p.tickSchedules {
		if schedule.JourneyID == journeyID {
			return schedule, nil
		}
	}

	return nil, persistence.ErrTickScheduleNotFound
}

func (r *tickRepo) DueTickSchedules(_ context.Context, now time.Time) ([]*models.TickSchedule, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	due := make([]*models.TickSchedule, 0)

	for _, schedule := range r.p.tickSchedules {
		if schedule.IsDue(now) {
			due = append(due, schedule)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].NextDueAt.Before(due[j].NextDueAt) })

	return due, nil
}

func (r *tickRepo) DeactivateTickSchedule(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	schedule, ok := r.p.tickSchedules[id]
	if !ok {
		return persistence.ErrTickScheduleNotFound
	}

	schedule.Active = false

	return nil
}
