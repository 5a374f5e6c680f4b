package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// TickSchedule is a stored evaluation schedule for a segment_entry or
// date_based journey. The next due time is precomputed so the tick poller
// can query for due rows without parsing cron expressions per poll.
type TickSchedule struct {
	// ID uniquely identifies this schedule entry
	ID string `json:"id" validate:"required"`

	// JourneyID is the journey whose audience is evaluated on each tick
	JourneyID string `json:"journey_id" validate:"required"`

	// CronExpression defines when the tick fires
	// (standard 5-field cron: minute hour day month weekday)
	CronExpression string `json:"cron_expression" validate:"required"`

	// NextDueAt is the precomputed next evaluation time
	NextDueAt time.Time `json:"next_due_at" validate:"required"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Active indicates whether the poller processes this schedule
	Active bool `json:"active"`
}

var ErrInvalidTickSchedule = errors.New("invalid tick schedule configuration")

// NewTickSchedule creates a schedule with the first due time computed from now.
func NewTickSchedule(id, journeyID, cronExpression string) (*TickSchedule, error) {
	now := time.Now().UTC()
	schedule := &TickSchedule{
		ID:             id,
		JourneyID:      journeyID,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.calculateNextDueAt(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// UpdateNextDueAt advances the due time past the current moment.
func (s *TickSchedule) UpdateNextDueAt() error {
	return s.calculateNextDueAt(time.Now().UTC())
}

func (s *TickSchedule) calculateNextDueAt(referenceTime time.Time) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	cronSchedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = cronSchedule.Next(referenceTime)
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue checks if this schedule is due at the given time.
func (s *TickSchedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}

// Validate performs validation on the schedule fields.
func (s *TickSchedule) Validate() error {
	if s.ID == "" || s.JourneyID == "" || s.CronExpression == "" {
		return ErrInvalidTickSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(s.CronExpression)

	return err
}
