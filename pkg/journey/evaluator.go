package journey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pumba68/qatering-journeys/pkg/eventbus"
	"github.com/pumba68/qatering-journeys/pkg/events"
	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
	"github.com/pumba68/qatering-journeys/pkg/segment"
)

// Evaluator watches the domain event stream for conversions and exits of
// active participants. It runs before trigger admission on each event so
// a conversion recorded for one run can never race the same event
// re-admitting the user.
type Evaluator struct {
	engineID  string
	journeys  persistence.JourneyRepository
	players   persistence.ParticipantRepository
	segments  segment.Resolver
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewEvaluator(
	engineID string,
	store persistence.Persistence,
	segments segment.Resolver,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		engineID:  engineID,
		journeys:  store.Journeys(),
		players:   store.Participants(),
		segments:  segments,
		publisher: publisher,
		logger:    logger.With("module", "evaluator"),
		now:       time.Now,
	}
}

// WithClock overrides the evaluator's clock.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// OnEvent checks every active run of the event's user against its
// journey's conversion goal and exit rules. Conversion wins over exit
// when both match the same event.
func (e *Evaluator) OnEvent(ctx context.Context, event *events.DomainEvent) error {
	if err := event.Validate(); err != nil {
		return nil
	}

	actives, err := e.players.ActiveByUser(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("loading active participants for %s: %w", event.UserID, err)
	}

	for _, participant := range actives {
		journey, err := e.journeys.JourneyByID(ctx, participant.JourneyID)
		if err != nil {
			e.logger.ErrorContext(ctx, "Loading journey for evaluation failed",
				"journey_id", participant.JourneyID, "error", err)
			continue
		}

		e.evaluate(ctx, journey, participant, event)
	}

	return nil
}

func (e *Evaluator) evaluate(ctx context.Context, journey *models.Journey, participant *models.Participant, event *events.DomainEvent) {
	now := e.now().UTC()
	eventType := string(event.Type)

	if goal := journey.Conversion; goal != nil && goal.EventType == eventType {
		deadline := participant.EnteredJourneyAt.AddDate(0, 0, goal.WindowDays)

		if !event.OccurredAt.After(deadline) {
			e.convert(ctx, participant, goal.EventType, now)
			return
		}
		// Outside the attribution window the event earns no conversion
		// credit; a conversion exit rule may still remove the participant.
	}

	for _, rule := range journey.ExitRules {
		switch rule.Kind {
		case models.ExitRuleEvent:
			if rule.EventType == eventType {
				e.exit(ctx, participant, "exit event "+eventType, now)
				return
			}
		case models.ExitRuleConversion:
			goalType := rule.EventType
			if goalType == "" && journey.Conversion != nil {
				goalType = journey.Conversion.EventType
			}

			if goalType == eventType {
				e.exit(ctx, participant, "conversion event "+eventType+" outside attribution window", now)
				return
			}
		case models.ExitRuleSegmentExit:
			// Evaluated on journey ticks, not on events.
		}
	}
}

// CheckSegmentExits removes active participants of the journey that have
// left a segment named by a segment_exit rule. The engine calls it on the
// journey's evaluation tick.
func (e *Evaluator) CheckSegmentExits(ctx context.Context, journey *models.Journey) error {
	var rules []models.ExitRule

	for _, rule := range journey.ExitRules {
		if rule.Kind == models.ExitRuleSegmentExit && rule.SegmentID != "" {
			rules = append(rules, rule)
		}
	}

	if len(rules) == 0 {
		return nil
	}

	actives, err := e.players.ActiveByJourney(ctx, journey.ID)
	if err != nil {
		return fmt.Errorf("loading active participants of %s: %w", journey.ID, err)
	}

	now := e.now().UTC()

	for _, participant := range actives {
		for _, rule := range rules {
			member, err := e.segments.IsUserInSegment(ctx, participant.UserID, rule.SegmentID)
			if err != nil {
				e.logger.ErrorContext(ctx, "Segment membership check failed",
					"segment_id", rule.SegmentID, "user_id", participant.UserID, "error", err)
				continue
			}

			if !member {
				e.exit(ctx, participant, "left segment "+rule.SegmentID, now)
				break
			}
		}
	}

	return nil
}

func (e *Evaluator) convert(ctx context.Context, participant *models.Participant, goalEventType string, now time.Time) {
	moved, err := e.players.TerminateFromActive(ctx, participant.ID, models.ParticipantConverted, "conversion goal "+goalEventType, now)
	if err != nil {
		e.logger.ErrorContext(ctx, "Converting participant failed",
			"participant_id", participant.ID, "error", err)
		return
	}

	if !moved {
		return
	}

	e.logger.InfoContext(ctx, "Participant converted",
		"participant_id", participant.ID, "journey_id", participant.JourneyID, "goal", goalEventType)

	e.publish(ctx, participant, events.ParticipantConverted{
		BaseLifecycle: e.lifecycle(participant, now),
		GoalEventType: goalEventType,
	})
}

func (e *Evaluator) exit(ctx context.Context, participant *models.Participant, reason string, now time.Time) {
	moved, err := e.players.TerminateFromActive(ctx, participant.ID, models.ParticipantExited, reason, now)
	if err != nil {
		e.logger.ErrorContext(ctx, "Exiting participant failed",
			"participant_id", participant.ID, "error", err)
		return
	}

	if !moved {
		return
	}

	e.logger.InfoContext(ctx, "Participant exited",
		"participant_id", participant.ID, "journey_id", participant.JourneyID, "reason", reason)

	e.publish(ctx, participant, events.ParticipantExited{
		BaseLifecycle: e.lifecycle(participant, now),
		Reason:        reason,
	})
}

func (e *Evaluator) lifecycle(participant *models.Participant, at time.Time) events.BaseLifecycle {
	return events.BaseLifecycle{
		ID:            uuid.New().String(),
		Timestamp:     at,
		JourneyID:     participant.JourneyID,
		ParticipantID: participant.ID,
		UserID:        participant.UserID,
		EngineID:      e.engineID,
	}
}

func (e *Evaluator) publish(ctx context.Context, participant *models.Participant, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, participant.JourneyID, event); err != nil {
		e.logger.WarnContext(ctx, "Publishing lifecycle event failed",
			"participant_id", participant.ID, "type", event.GetType(), "error", err)
	}
}
