package journey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pumba68/qatering-journeys/pkg/eventbus"
	"github.com/pumba68/qatering-journeys/pkg/events"
	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
	"github.com/pumba68/qatering-journeys/pkg/scheduler"
	"github.com/pumba68/qatering-journeys/pkg/segment"
)

// Listener admits users into journeys. Domain events feed event-triggered
// journeys and the observed event log; engine ticks feed segment_entry and
// date_based journeys. Admission failures are isolated per journey so one
// broken definition cannot block the rest.
type Listener struct {
	engineID  string
	journeys  persistence.JourneyRepository
	players   persistence.ParticipantRepository
	eventLog  persistence.EventLogRepository
	guard     *Guard
	segments  segment.Resolver
	queue     scheduler.WakeQueue
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewListener(
	engineID string,
	store persistence.Persistence,
	segments segment.Resolver,
	queue scheduler.WakeQueue,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Listener {
	return &Listener{
		engineID:  engineID,
		journeys:  store.Journeys(),
		players:   store.Participants(),
		eventLog:  store.EventLog(),
		guard:     NewGuard(store.Participants()),
		segments:  segments,
		queue:     queue,
		publisher: publisher,
		logger:    logger.With("module", "trigger"),
		now:       time.Now,
	}
}

// WithClock overrides the listener's clock.
func (l *Listener) WithClock(now func() time.Time) *Listener {
	l.now = now
	return l
}

// HandleDomainEvent records the event in the observed log and admits the
// event's user into every active journey triggered by this event type.
func (l *Listener) HandleDomainEvent(ctx context.Context, event *events.DomainEvent) error {
	if err := event.Validate(); err != nil {
		l.logger.WarnContext(ctx, "Dropping malformed domain event",
			"event_id", event.ID, "type", event.Type, "error", err)
		return nil
	}

	// The log feeds branch event windows; losing an append degrades branch
	// accuracy but must not drop admissions.
	if err := l.eventLog.Append(ctx, event.UserID, string(event.Type), event.OccurredAt); err != nil {
		l.logger.ErrorContext(ctx, "Appending to event log failed",
			"user_id", event.UserID, "type", event.Type, "error", err)
	}

	journeys, err := l.journeys.ActiveJourneys(ctx)
	if err != nil {
		return fmt.Errorf("loading active journeys: %w", err)
	}

	for _, journey := range journeys {
		if journey.TriggerType != models.TriggerTypeEvent || journey.TriggerEvent != string(event.Type) {
			continue
		}

		l.admit(ctx, journey, event.UserID)
	}

	return nil
}

// HandleTick evaluates a segment_entry or date_based journey's audience
// and admits every current segment member that passes the guard.
func (l *Listener) HandleTick(ctx context.Context, tick *events.JourneyTick) error {
	if err := tick.Validate(); err != nil {
		l.logger.WarnContext(ctx, "Dropping malformed journey tick", "tick_id", tick.ID, "error", err)
		return nil
	}

	journey, err := l.journeys.JourneyByID(ctx, tick.JourneyID)
	if errors.Is(err, persistence.ErrJourneyNotFound) {
		l.logger.WarnContext(ctx, "Tick for unknown journey", "journey_id", tick.JourneyID)
		return nil
	}

	if err != nil {
		return fmt.Errorf("loading journey %s: %w", tick.JourneyID, err)
	}

	if !journey.IsExecutable() || journey.SegmentID == "" {
		return nil
	}

	members, err := l.segments.ResolveSegment(ctx, journey.SegmentID)
	if err != nil {
		return fmt.Errorf("resolving segment %s: %w", journey.SegmentID, err)
	}

	for userID := range members {
		l.admit(ctx, journey, userID)
	}

	return nil
}

// admit runs the full admission pipeline for one (journey, user) pair:
// validity window, re-entry guard, single-active insert, wake enqueue and
// the entered lifecycle event. All denials and errors are local to the
// pair.
func (l *Listener) admit(ctx context.Context, journey *models.Journey, userID string) {
	now := l.now().UTC()

	if !journey.InValidityWindow(now) {
		l.logger.DebugContext(ctx, "Journey outside validity window",
			"journey_id", journey.ID, "user_id", userID)
		return
	}

	admitted, reason, err := l.guard.Admit(ctx, journey, userID, now)
	if err != nil {
		l.logger.ErrorContext(ctx, "Re-entry check failed",
			"journey_id", journey.ID, "user_id", userID, "error", err)
		return
	}

	if !admitted {
		l.logger.DebugContext(ctx, "Admission denied",
			"journey_id", journey.ID, "user_id", userID, "reason", reason)
		return
	}

	start, err := journey.Graph.Start()
	if err != nil {
		l.logger.ErrorContext(ctx, "Journey graph has no usable start node",
			"journey_id", journey.ID, "error", err)
		return
	}

	participant := models.NewParticipant(journey.ID, userID, start.ID, now)

	err = l.players.CreateActive(ctx, participant)
	if errors.Is(err, persistence.ErrActiveParticipantExists) {
		// A concurrent trigger won the insert; exactly one run survives.
		return
	}

	if err != nil {
		l.logger.ErrorContext(ctx, "Creating participant failed",
			"journey_id", journey.ID, "user_id", userID, "error", err)
		return
	}

	if err := l.queue.Enqueue(ctx, participant.ID, *participant.NextRunAt); err != nil {
		l.logger.WarnContext(ctx, "Wake enqueue failed, store sweep will recover",
			"participant_id", participant.ID, "error", err)
	}

	l.logger.InfoContext(ctx, "Participant entered journey",
		"participant_id", participant.ID, "journey_id", journey.ID, "user_id", userID)

	if l.publisher != nil {
		entered := events.ParticipantEntered{
			BaseLifecycle: events.BaseLifecycle{
				ID:            uuid.New().String(),
				Timestamp:     now,
				JourneyID:     journey.ID,
				ParticipantID: participant.ID,
				UserID:        userID,
				EngineID:      l.engineID,
			},
			NodeID: start.ID,
		}

		if err := l.publisher.Publish(ctx, journey.ID, entered); err != nil {
			l.logger.WarnContext(ctx, "Publishing entered event failed",
				"participant_id", participant.ID, "error", err)
		}
	}
}
