// Package scheduler wakes due participants without busy loops. A wake
// queue carries scheduled wakes; a periodic sweep over the participant
// store covers restarts and missed timers, making delivery at-least-once.
// Duplicate wakes are harmless: the executor's claim resolves them.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Wake is one scheduled executor invocation.
type Wake struct {
	ParticipantID string
	At            time.Time
}

// WakeQueue holds pending wakes keyed by participant. Enqueueing the same
// participant again replaces its wake time.
type WakeQueue interface {
	Enqueue(ctx context.Context, participantID string, at time.Time) error

	// Due claims and returns wakes due at or before now. A claimed wake is
	// delivered to exactly one caller.
	Due(ctx context.Context, now time.Time, limit int) ([]Wake, error)

	Close() error
}

// ExecuteFunc advances one due participant. Implemented by the step
// executor; it re-checks status and claims before acting.
type ExecuteFunc func(ctx context.Context, participantID string, dueAt time.Time) error

// Sweeper periodically drains the wake queue and re-scans the participant
// store for due rows the queue missed.
type Sweeper struct {
	queue    WakeQueue
	store    DueScanner
	execute  ExecuteFunc
	interval time.Duration
	logger   *slog.Logger

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

// DueScanner is the store-side view the sweeper needs.
type DueScanner interface {
	DueParticipants(ctx context.Context, now time.Time, limit int) ([]Wake, error)
}

const (
	DefaultSweepInterval = 5 * time.Second
	sweepBatchSize       = 200
)

func NewSweeper(queue WakeQueue, store DueScanner, execute ExecuteFunc, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		queue:    queue,
		store:    store,
		execute:  execute,
		interval: interval,
		logger:   logger.With("module", "sweeper"),
	}
}

// Start begins the sweep loop. The first sweep runs immediately, which
// re-enqueues every participant left past-due by a crash.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("Starting scheduler sweep loop", "interval", s.interval)

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan bool)
	s.started = true

	go func() {
		s.Sweep(ctx)

		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-s.ticker.C:
				s.Sweep(ctx)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the sweep loop.
func (s *Sweeper) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping scheduler sweep loop")

	if s.ticker != nil {
		s.ticker.Stop()
	}

	select {
	case s.done <- true:
	default:
	}

	s.started = false

	return nil
}

// Sweep runs one pass: queue wakes first, then the store scan.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	wakes, err := s.queue.Due(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to drain wake queue", "error", err)
	}

	for _, wake := range wakes {
		s.run(ctx, wake)
	}

	stored, err := s.store.DueParticipants(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to scan due participants", "error", err)

		return
	}

	for _, wake := range stored {
		s.run(ctx, wake)
	}
}

func (s *Sweeper) run(ctx context.Context, wake Wake) {
	err := s.execute(ctx, wake.ParticipantID, wake.At)
	if err != nil {
		// Execution errors are per-participant; the sweep keeps going.
		s.logger.ErrorContext(ctx, "Failed to execute due participant",
			"participant_id", wake.ParticipantID, "error", err)
	}
}
