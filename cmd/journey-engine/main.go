package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/pumba68/qatering-journeys/pkg/cmd"
	"github.com/pumba68/qatering-journeys/pkg/dispatch"
	"github.com/pumba68/qatering-journeys/pkg/journey"
	"github.com/pumba68/qatering-journeys/pkg/log"
	"github.com/pumba68/qatering-journeys/pkg/scheduler"
	"github.com/pumba68/qatering-journeys/pkg/segment"
)

func main() {
	command := &cli.Command{
		Name:                  "journey-engine",
		EnableShellCompletion: true,
		Usage:                 "Run the journey automation engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, memory)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the wake queue (in-memory queue if empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "Interval between due-participant sweeps",
				Value:   scheduler.DefaultSweepInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "dispatch-timeout",
				Usage:   "Timeout for message and incentive collaborator calls",
				Value:   dispatch.DefaultTimeout,
				Sources: cli.EnvVars("DISPATCH_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	engineID := command.String("engine-id")
	if engineID == "" {
		engineID = "engine-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("journey-engine").With("engine_id", engineID)

	logger.InfoContext(ctx, "Initializing journey engine")

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "journey-engine", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	queue, err := newWakeQueue(command.String("redis-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := queue.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close wake queue", "error", err)
		}
	}()

	// The log adapters stand in for the platform's messaging and wallet
	// services until their transports land.
	dispatcher := dispatch.NewDispatcher(
		dispatch.NewLogSender(logger),
		dispatch.NewLogIssuer(logger),
		command.Duration("dispatch-timeout"),
		logger,
	)

	segments := segment.NewStaticResolver(nil, nil)

	executor := journey.NewExecutor(engineID, store, dispatcher, segments, segments, queue, eventBus, logger)
	listener := journey.NewListener(engineID, store, segments, queue, eventBus, logger)
	evaluator := journey.NewEvaluator(engineID, store, segments, eventBus, logger)

	sweeper := scheduler.NewSweeper(
		queue,
		scheduler.NewStoreDueScanner(store.Participants()),
		executor.ExecuteDue,
		command.Duration("sweep-interval"),
		logger,
	)

	tickPoller := scheduler.NewTickPoller(store.TickSchedules(), eventBus, scheduler.DefaultTickPollInterval, logger)

	manager := NewEngineManager(engineID, store, eventBus, listener, evaluator, sweeper, tickPoller, logger)

	if err := manager.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to start engine", "error", err)

		return err
	}

	return nil
}

func newWakeQueue(redisURL string) (scheduler.WakeQueue, error) {
	if redisURL == "" {
		return scheduler.NewMemoryWakeQueue(), nil
	}

	return scheduler.NewRedisWakeQueue(redisURL)
}
