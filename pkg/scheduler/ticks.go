package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pumba68/qatering-journeys/pkg/eventbus"
	"github.com/pumba68/qatering-journeys/pkg/events"
	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
)

// TickPoller is a centralized poller for segment/date journey evaluation
// schedules. It queries the store for due ticks regardless of their
// individual cron expressions and publishes tick events for the trigger
// listener to consume.
type TickPoller struct {
	ticks    persistence.TickScheduleRepository
	bus      eventbus.EventPublisher
	interval time.Duration
	logger   *slog.Logger

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex

	// journeyKinds maps journey id to trigger type, refreshed by Configure,
	// so ticks carry the right event type.
	journeyKinds map[string]models.TriggerType
}

const DefaultTickPollInterval = time.Minute

func NewTickPoller(ticks persistence.TickScheduleRepository, bus eventbus.EventPublisher, interval time.Duration, logger *slog.Logger) *TickPoller {
	if interval <= 0 {
		interval = DefaultTickPollInterval
	}

	return &TickPoller{
		ticks:        ticks,
		bus:          bus,
		interval:     interval,
		logger:       logger.With("module", "tick_poller"),
		journeyKinds: make(map[string]models.TriggerType),
	}
}

// Configure ensures a tick schedule row exists for every active
// segment_entry or date_based journey, and deactivates rows whose journey
// is no longer executable.
func (p *TickPoller) Configure(ctx context.Context, journeys []*models.Journey) error {
	p.mu.Lock()
	for _, journey := range journeys {
		p.journeyKinds[journey.ID] = journey.TriggerType
	}
	p.mu.Unlock()

	for _, journey := range journeys {
		if journey.TriggerType == models.TriggerTypeEvent || journey.TickCron == "" {
			continue
		}

		if !journey.IsExecutable() {
			existing, err := p.ticks.TickScheduleByJourney(ctx, journey.ID)
			if err == nil {
				_ = p.ticks.DeactivateTickSchedule(ctx, existing.ID)
			}

			continue
		}

		existing, err := p.ticks.TickScheduleByJourney(ctx, journey.ID)
		if err == nil && existing.CronExpression == journey.TickCron && existing.Active {
			continue
		}

		id := "tick-" + uuid.New().String()[:8]
		if existing != nil {
			id = existing.ID
		}

		schedule, err := models.NewTickSchedule(id, journey.ID, journey.TickCron)
		if err != nil {
			p.logger.ErrorContext(ctx, "Invalid tick cron, skipping journey",
				"journey_id", journey.ID, "cron", journey.TickCron, "error", err)

			continue
		}

		if err := p.ticks.SaveTickSchedule(ctx, schedule); err != nil {
			return err
		}
	}

	return nil
}

// Start begins the poll loop.
func (p *TickPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.logger.Info("Starting tick poller", "interval", p.interval)

	p.ticker = time.NewTicker(p.interval)
	p.done = make(chan bool)
	p.started = true

	go func() {
		for {
			select {
			case <-p.done:
				return
			case <-ctx.Done():
				return
			case <-p.ticker.C:
				p.processDueTicks(ctx)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the poll loop.
func (p *TickPoller) Stop(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	if p.ticker != nil {
		p.ticker.Stop()
	}

	select {
	case p.done <- true:
	default:
	}

	p.started = false

	return nil
}

func (p *TickPoller) processDueTicks(ctx context.Context) {
	now := time.Now().UTC()

	due, err := p.ticks.DueTickSchedules(ctx, now)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to query due tick schedules", "error", err)

		return
	}

	if len(due) > 0 {
		p.logger.InfoContext(ctx, "Processing due tick schedules", "count", len(due))
	}

	for _, schedule := range due {
		if err := p.publishTick(ctx, schedule, now); err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish tick",
				"journey_id", schedule.JourneyID, "error", err)

			continue
		}

		if err := schedule.UpdateNextDueAt(); err != nil {
			p.logger.ErrorContext(ctx, "Failed to advance tick schedule",
				"journey_id", schedule.JourneyID, "error", err)

			continue
		}

		if err := p.ticks.SaveTickSchedule(ctx, schedule); err != nil {
			p.logger.ErrorContext(ctx, "Failed to save tick schedule",
				"journey_id", schedule.JourneyID, "error", err)
		}
	}
}

func (p *TickPoller) publishTick(ctx context.Context, schedule *models.TickSchedule, now time.Time) error {
	eventType := events.SegmentTickEvent

	p.mu.Lock()
	if p.journeyKinds[schedule.JourneyID] == models.TriggerTypeDateBased {
		eventType = events.DateTickEvent
	}
	p.mu.Unlock()

	tick := events.JourneyTick{
		ID:        "tick-" + uuid.New().String()[:8],
		Type:      eventType,
		JourneyID: schedule.JourneyID,
		FiredAt:   now,
	}

	return p.bus.Publish(ctx, schedule.JourneyID, tick)
}
