package journey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pumba68/qatering-journeys/pkg/dispatch"
	"github.com/pumba68/qatering-journeys/pkg/eventbus"
	"github.com/pumba68/qatering-journeys/pkg/events"
	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/otelhelper"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
	"github.com/pumba68/qatering-journeys/pkg/scheduler"
	"github.com/pumba68/qatering-journeys/pkg/segment"
)

// MaxHops bounds one execution pass. The graph editor rejects cycles, but
// a definition that slipped through must fail its participant, not spin
// the engine.
const MaxHops = 1000

// History outcome labels.
const (
	outcomeScheduled = "scheduled"
	outcomeBranch    = "branch"
)

// Executor advances claimed participants through their journey graph one
// wake at a time. Every pass starts with a conditional claim on the
// participant's due time, so duplicate wakes and competing engine
// instances collapse to a single execution.
type Executor struct {
	engineID   string
	journeys   persistence.JourneyRepository
	players    persistence.ParticipantRepository
	eventLog   persistence.EventLogRepository
	dispatcher *dispatch.Dispatcher
	segments   segment.Resolver
	attributes segment.AttributeResolver
	queue      scheduler.WakeQueue
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger
	maxHops    int
	now        func() time.Time
}

func NewExecutor(
	engineID string,
	store persistence.Persistence,
	dispatcher *dispatch.Dispatcher,
	segments segment.Resolver,
	attributes segment.AttributeResolver,
	queue scheduler.WakeQueue,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		engineID:   engineID,
		journeys:   store.Journeys(),
		players:    store.Participants(),
		eventLog:   store.EventLog(),
		dispatcher: dispatcher,
		segments:   segments,
		attributes: attributes,
		queue:      queue,
		publisher:  publisher,
		tracer:     noop.NewTracerProvider().Tracer("executor"),
		logger:     logger.With("module", "executor"),
		maxHops:    MaxHops,
		now:        time.Now,
	}
}

// WithTracer swaps the noop tracer for a real one.
func (e *Executor) WithTracer(tracer trace.Tracer) *Executor {
	e.tracer = tracer
	return e
}

// WithClock overrides the executor's clock.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// ExecuteDue runs one due participant identified by a wake. It is the
// scheduler.ExecuteFunc for the sweeper. Stale wakes (participant gone,
// no longer active, due time changed) are dropped silently; losing the
// claim race is not an error.
func (e *Executor) ExecuteDue(ctx context.Context, participantID string, dueAt time.Time) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "journey.execute",
		attribute.String(otelhelper.ParticipantIDKey, participantID),
		attribute.String(otelhelper.EngineIDKey, e.engineID))
	defer span.End()

	participant, err := e.players.ParticipantByID(ctx, participantID)
	if errors.Is(err, persistence.ErrParticipantNotFound) {
		return nil
	}

	if err != nil {
		otelhelper.SetError(span, err)
		return fmt.Errorf("loading participant %s: %w", participantID, err)
	}

	if participant.Status != models.ParticipantActive {
		return nil
	}

	journey, err := e.journeys.JourneyByID(ctx, participant.JourneyID)
	if errors.Is(err, persistence.ErrJourneyNotFound) {
		e.fail(ctx, participant, participant.CurrentNodeID, "journey definition missing")
		return nil
	}

	if err != nil {
		otelhelper.SetError(span, err)
		return fmt.Errorf("loading journey %s: %w", participant.JourneyID, err)
	}

	// A paused journey keeps its due participants parked; the sweep picks
	// them up again once the journey is active.
	if !journey.IsExecutable() {
		return nil
	}

	claimed, err := e.players.ClaimDue(ctx, participantID, dueAt)
	if err != nil {
		otelhelper.SetError(span, err)
		return fmt.Errorf("claiming participant %s: %w", participantID, err)
	}

	if !claimed {
		return nil
	}

	participant.NextRunAt = nil

	span.SetAttributes(
		attribute.String(otelhelper.JourneyIDKey, journey.ID),
		attribute.String(otelhelper.UserIDKey, participant.UserID))

	return e.walk(ctx, journey, participant)
}

// walk advances the participant until it parks on a delay, reaches an end
// node or fails. Store errors abort the pass and bubble up; the claim is
// already consumed, so the participant stays parked until an operator or
// a journey edit re-schedules it.
func (e *Executor) walk(ctx context.Context, journey *models.Journey, participant *models.Participant) error {
	for hops := 0; ; hops++ {
		if hops >= e.maxHops {
			e.fail(ctx, participant, participant.CurrentNodeID, "hop limit reached, graph cycle suspected")
			return nil
		}

		node, ok := journey.Graph.Node(participant.CurrentNodeID)
		if !ok {
			e.fail(ctx, participant, participant.CurrentNodeID, "current node missing from graph")
			return nil
		}

		now := e.now().UTC()

		switch node.Type {
		case models.NodeTypeStart:
			if !e.follow(participant, journey.Graph, node.ID, models.HandleOutput, now) {
				e.fail(ctx, participant, node.ID, "start node has no outgoing edge")
				return nil
			}
		case models.NodeTypeDelay:
			if node.Delay == nil {
				e.fail(ctx, participant, node.ID, "delay node missing config")
				return nil
			}

			// Queue backends carry millisecond scores; keep the stored wake
			// comparable at claim time.
			wakeAt := node.Delay.NextRunAfter(participant.EnteredNodeAt).Truncate(time.Millisecond)
			if wakeAt.After(now) {
				return e.park(ctx, participant, node.ID, wakeAt, now)
			}

			// The delay has elapsed; this wake moves the participant on.
			if !e.follow(participant, journey.Graph, node.ID, models.HandleOutput, now) {
				e.fail(ctx, participant, node.ID, "delay node has no outgoing edge")
				return nil
			}
		case models.NodeTypeEmail, models.NodeTypeInApp, models.NodeTypePush:
			if done := e.sendMessage(ctx, participant, node, now); done {
				return nil
			}

			if !e.follow(participant, journey.Graph, node.ID, models.HandleOutput, now) {
				e.fail(ctx, participant, node.ID, "message node has no outgoing edge")
				return nil
			}
		case models.NodeTypeBranch:
			handle, err := e.branch(ctx, participant, node)
			if err != nil {
				e.fail(ctx, participant, node.ID, "branch evaluation: "+err.Error())
				return nil
			}

			participant.Record(node.ID, outcomeBranch, string(handle), now)

			if !e.follow(participant, journey.Graph, node.ID, handle, now) {
				e.fail(ctx, participant, node.ID, fmt.Sprintf("branch node has no %s edge", handle))
				return nil
			}
		case models.NodeTypeIncentive:
			e.grantIncentive(ctx, participant, node, now)

			if !e.follow(participant, journey.Graph, node.ID, models.HandleOutput, now) {
				e.fail(ctx, participant, node.ID, "incentive node has no outgoing edge")
				return nil
			}
		case models.NodeTypeEnd:
			e.complete(ctx, participant, node.ID, now)
			return nil
		default:
			e.fail(ctx, participant, node.ID, fmt.Sprintf("unknown node type %q", node.Type))
			return nil
		}

		if err := e.players.Update(ctx, participant); err != nil {
			if errors.Is(err, persistence.ErrParticipantNotActive) {
				// The evaluator terminated the run mid-pass; its terminal
				// status wins and further steps stop here.
				return nil
			}

			return fmt.Errorf("persisting participant %s after node %s: %w", participant.ID, node.ID, err)
		}
	}
}

// park schedules the participant's wake for a delay node and stops the
// pass. The store write is the source of truth; a failed queue enqueue is
// only logged because the store sweep recovers it.
func (e *Executor) park(ctx context.Context, participant *models.Participant, nodeID string, wakeAt, now time.Time) error {
	participant.Record(nodeID, outcomeScheduled, wakeAt.Format(time.RFC3339), now)
	participant.NextRunAt = &wakeAt

	if err := e.players.Update(ctx, participant); err != nil {
		if errors.Is(err, persistence.ErrParticipantNotActive) {
			return nil
		}

		return fmt.Errorf("scheduling participant %s: %w", participant.ID, err)
	}

	if err := e.queue.Enqueue(ctx, participant.ID, wakeAt); err != nil {
		e.logger.WarnContext(ctx, "Wake enqueue failed, store sweep will recover",
			"participant_id", participant.ID, "error", err)
	}

	e.logger.DebugContext(ctx, "Participant parked on delay",
		"participant_id", participant.ID, "node_id", nodeID, "wake_at", wakeAt)

	return nil
}

// sendMessage dispatches one message node and records the outcome. It
// returns true when the pass must stop because the participant failed.
func (e *Executor) sendMessage(ctx context.Context, participant *models.Participant, node *models.Node, now time.Time) bool {
	if node.Message == nil {
		e.fail(ctx, participant, node.ID, "message node missing config")
		return true
	}

	channel, _ := dispatch.ChannelForNode(node.Type)
	outcome := e.dispatcher.Send(ctx, participant.UserID, channel, node.Message)

	participant.Record(node.ID, string(outcome.Status), outcome.Reason, now)

	if outcome.Failed() && node.Message.StopOnFailure() {
		e.fail(ctx, participant, node.ID, "send failed: "+outcome.Reason)
		return true
	}

	return false
}

func (e *Executor) grantIncentive(ctx context.Context, participant *models.Participant, node *models.Node, now time.Time) {
	if node.Incentive == nil {
		participant.Record(node.ID, string(dispatch.StatusFailed), "incentive node missing config", now)
		return
	}

	key := dispatch.IdempotencyKey{ParticipantID: participant.ID, NodeID: node.ID}
	outcome := e.dispatcher.Grant(ctx, participant.UserID, key, *node.Incentive)

	// Grant failures never stop the run; the participant keeps moving and
	// the outcome stays visible in history.
	participant.Record(node.ID, string(outcome.Status), outcome.Reason, now)
}

func (e *Executor) branch(ctx context.Context, participant *models.Participant, node *models.Node) (models.EdgeHandle, error) {
	config := node.Branch
	if config == nil {
		return "", errors.New("branch node missing config")
	}

	var (
		result bool
		err    error
	)

	switch config.Condition {
	case models.BranchAttribute:
		var value any

		value, err = e.attributes.Attribute(ctx, participant.UserID, config.Attribute)
		if err == nil {
			result, err = compareValues(config.Operator, value, config.Value)
		}
	case models.BranchEvent:
		since := participant.EnteredNodeAt.AddDate(0, 0, -config.WindowDays)
		result, err = e.eventLog.HasEventSince(ctx, participant.UserID, config.EventType, since)
	case models.BranchSegment:
		result, err = e.segments.IsUserInSegment(ctx, participant.UserID, config.SegmentID)
	default:
		err = fmt.Errorf("unknown branch condition %q", config.Condition)
	}

	if err != nil {
		return "", err
	}

	if result {
		return models.HandleYes, nil
	}

	return models.HandleNo, nil
}

func (e *Executor) follow(participant *models.Participant, graph *models.Graph, nodeID string, handle models.EdgeHandle, now time.Time) bool {
	next, ok := graph.Next(nodeID, handle)
	if !ok {
		return false
	}

	participant.CurrentNodeID = next
	participant.EnteredNodeAt = now

	return true
}

func (e *Executor) complete(ctx context.Context, participant *models.Participant, nodeID string, now time.Time) {
	moved, err := e.players.TerminateFromActive(ctx, participant.ID, models.ParticipantCompleted, "", now)
	if err != nil {
		e.logger.ErrorContext(ctx, "Completing participant failed",
			"participant_id", participant.ID, "error", err)
		return
	}

	if !moved {
		// An evaluator converted or exited the participant mid-pass; its
		// terminal status wins.
		return
	}

	e.logger.InfoContext(ctx, "Participant completed journey",
		"participant_id", participant.ID, "journey_id", participant.JourneyID, "node_id", nodeID)

	e.emit(ctx, participant, events.ParticipantCompleted{
		BaseLifecycle: e.lifecycle(participant, now),
		NodeID:        nodeID,
	})
}

func (e *Executor) fail(ctx context.Context, participant *models.Participant, nodeID, reason string) {
	now := e.now().UTC()

	moved, err := e.players.TerminateFromActive(ctx, participant.ID, models.ParticipantFailed, reason, now)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failing participant errored",
			"participant_id", participant.ID, "reason", reason, "error", err)
		return
	}

	if !moved {
		return
	}

	e.logger.WarnContext(ctx, "Participant failed",
		"participant_id", participant.ID, "journey_id", participant.JourneyID,
		"node_id", nodeID, "reason", reason)

	e.emit(ctx, participant, events.ParticipantFailed{
		BaseLifecycle: e.lifecycle(participant, now),
		NodeID:        nodeID,
		Reason:        reason,
	})
}

func (e *Executor) lifecycle(participant *models.Participant, at time.Time) events.BaseLifecycle {
	return events.BaseLifecycle{
		ID:            uuid.New().String(),
		Timestamp:     at,
		JourneyID:     participant.JourneyID,
		ParticipantID: participant.ID,
		UserID:        participant.UserID,
		EngineID:      e.engineID,
	}
}

func (e *Executor) emit(ctx context.Context, participant *models.Participant, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, participant.JourneyID, event); err != nil {
		e.logger.WarnContext(ctx, "Publishing lifecycle event failed",
			"participant_id", participant.ID, "type", event.GetType(), "error", err)
	}
}
