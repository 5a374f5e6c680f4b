package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pumba68/qatering-journeys/pkg/eventbus"
	"github.com/pumba68/qatering-journeys/pkg/events"
	"github.com/pumba68/qatering-journeys/pkg/journey"
	"github.com/pumba68/qatering-journeys/pkg/log"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
	"github.com/pumba68/qatering-journeys/pkg/scheduler"
)

// EngineManager owns one engine instance's moving parts: the event bus
// subscription feeding the evaluator and trigger listener, the wake
// sweeper driving the step executor and the tick poller firing
// segment/date evaluations.
type EngineManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	listener    *journey.Listener
	evaluator   *journey.Evaluator
	sweeper     *scheduler.Sweeper
	tickPoller  *scheduler.TickPoller
}

func NewEngineManager(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	listener *journey.Listener,
	evaluator *journey.Evaluator,
	sweeper *scheduler.Sweeper,
	tickPoller *scheduler.TickPoller,
	logger *slog.Logger,
) *EngineManager {
	return &EngineManager{
		id:          id,
		logger:      logger.With("module", "journey-engine", "engine_id", id),
		persistence: store,
		eventBus:    eventBus,
		listener:    listener,
		evaluator:   evaluator,
		sweeper:     sweeper,
		tickPoller:  tickPoller,
	}
}

func (m *EngineManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting engine manager")

	if err := m.configureJourneys(ctx); err != nil {
		return err
	}

	for _, eventType := range events.DomainEventTypes() {
		if err := m.eventBus.Handle(eventType, m.handleDomainEvent); err != nil {
			return err
		}
	}

	if err := m.eventBus.Handle(events.SegmentTickEvent, m.handleTick); err != nil {
		return err
	}

	if err := m.eventBus.Handle(events.DateTickEvent, m.handleTick); err != nil {
		return err
	}

	if err := m.eventBus.Subscribe(ctx); err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if err := m.sweeper.Start(ctx); err != nil {
		return err
	}

	if err := m.tickPoller.Start(ctx); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig != syscall.SIGHUP {
			m.logger.InfoContext(ctx, "Shutting down engine...")

			break
		}

		// SIGHUP re-reads journey definitions without dropping the bus
		// subscription.
		m.logger.InfoContext(ctx, "Reloading journeys")

		if err := m.configureJourneys(ctx); err != nil {
			m.logger.ErrorContext(ctx, "Journey reload failed", "error", err)
		}
	}

	if err := m.sweeper.Stop(ctx); err != nil {
		m.logger.ErrorContext(ctx, "Failed to stop sweeper", "error", err)
	}

	if err := m.tickPoller.Stop(ctx); err != nil {
		m.logger.ErrorContext(ctx, "Failed to stop tick poller", "error", err)
	}

	return nil
}

// configureJourneys validates every active journey and feeds the valid
// ones to the tick poller. An invalid definition is skipped with an
// error log instead of blocking the rest.
func (m *EngineManager) configureJourneys(ctx context.Context) error {
	active, err := m.persistence.Journeys().ActiveJourneys(ctx)
	if err != nil {
		return err
	}

	valid := active[:0]

	for _, item := range active {
		if err := journey.Validate(item); err != nil {
			log.WithJourney(m.logger, item.ID).ErrorContext(ctx, "Skipping invalid journey", "error", err)

			continue
		}

		valid = append(valid, item)
	}

	m.logger.InfoContext(ctx, "Journeys configured", "active", len(valid), "skipped", len(active)-len(valid))

	return m.tickPoller.Configure(ctx, valid)
}

// handleDomainEvent runs the evaluator before trigger admission so a
// conversion ending one run settles before the same event can re-admit
// the user.
func (m *EngineManager) handleDomainEvent(ctx context.Context, event any) error {
	domainEvent, ok := event.(*events.DomainEvent)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for domain event")

		return nil
	}

	if err := m.evaluator.OnEvent(ctx, domainEvent); err != nil {
		m.logger.ErrorContext(ctx, "Evaluator failed", "event_id", domainEvent.ID, "error", err)
	}

	return m.listener.HandleDomainEvent(ctx, domainEvent)
}

func (m *EngineManager) handleTick(ctx context.Context, event any) error {
	tick, ok := event.(*events.JourneyTick)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for journey tick")

		return nil
	}

	if err := m.listener.HandleTick(ctx, tick); err != nil {
		m.logger.ErrorContext(ctx, "Tick handling failed", "journey_id", tick.JourneyID, "error", err)
	}

	item, err := m.persistence.Journeys().JourneyByID(ctx, tick.JourneyID)
	if errors.Is(err, persistence.ErrJourneyNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	return m.evaluator.CheckSegmentExits(ctx, item)
}
