package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/ledgerflow/conductor/pkg/cmd"
	"github.com/ledgerflow/conductor/pkg/deadletter"
	"github.com/ledgerflow/conductor/pkg/engine"
	"github.com/ledgerflow/conductor/pkg/eventbus"
	"github.com/ledgerflow/conductor/pkg/log"
	"github.com/ledgerflow/conductor/pkg/otelhelper"
	"github.com/ledgerflow/conductor/pkg/resilience"
	"github.com/ledgerflow/conductor/pkg/triggers"
)

func main() {
	command := &cli.Command{
		Name:                  "conductor-engine",
		EnableShellCompletion: true,
		Usage:                 "Start the execution engine workers and trigger providers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL (postgres://... or a directory path for the file store)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the execution queue (empty disables the queue workers)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Queue consumers pulling executions in this process",
				Value:   4,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "scan-interval",
				Usage:   "Schedule scanner tick",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("SCAN_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "periodic-interval",
				Usage:   "Threshold and deadline evaluation tick",
				Value:   time.Minute,
				Sources: cli.EnvVars("PERIODIC_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "Dead-letter expiry sweep tick",
				Value:   time.Hour,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
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

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "engine-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("conductor-engine").With("worker_id", workerID)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing conductor engine")

	if _, err := otelhelper.NewTracer(ctx, "conductor-engine"); err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	pub, sub, err := cmd.NewChannel(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	bus := eventbus.NewWatermillEventBus(pub, sub)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	q, err := cmd.NewQueue(ctx, logger, command.String("redis-url"))
	if err != nil {
		return err
	}

	if q != nil {
		defer func() {
			if err := q.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close queue", "error", err)
			}
		}()
	}

	reg := cmd.NewRegistry(logger)
	manager := resilience.NewManager(logger, persistence, bus, nil)
	eng := engine.NewEngine(logger, persistence, reg, manager, bus, engine.Config{})
	dispatcher := triggers.NewDispatcher(logger, eng, q)
	callback := dispatcher.Callback()

	if q != nil {
		worker := engine.NewWorker(logger, eng, q, command.Int("concurrency"))
		worker.Start(ctx)

		defer worker.Stop(context.Background())
	}

	scanner := triggers.NewScanner(logger, persistence, command.Duration("scan-interval"))
	if err := scanner.Start(ctx, callback); err != nil {
		return err
	}

	defer func() {
		if err := scanner.Stop(context.Background()); err != nil {
			logger.Error("Failed to stop schedule scanner", "error", err)
		}
	}()

	periodic := triggers.NewPeriodicEvaluator(
		logger,
		persistence,
		triggers.WorkflowVariablesSource(persistence),
		command.Duration("periodic-interval"),
	)
	if err := periodic.Start(ctx, callback); err != nil {
		return err
	}

	defer func() {
		if err := periodic.Stop(context.Background()); err != nil {
			logger.Error("Failed to stop periodic evaluator", "error", err)
		}
	}()

	eventSub := triggers.NewEventSubscriber(logger, persistence, sub)
	if err := eventSub.Start(ctx, callback); err != nil {
		return err
	}

	defer func() {
		if err := eventSub.Stop(context.Background()); err != nil {
			logger.Error("Failed to stop event subscriber", "error", err)
		}
	}()

	deadLetters := deadletter.NewService(logger, persistence, eng, nil)
	sweeper := deadletter.NewSweeper(logger, deadLetters, command.Duration("sweep-interval"))
	sweeper.Start(ctx)

	defer sweeper.Stop()

	logger.InfoContext(ctx, "Conductor engine running")

	<-ctx.Done()
	logger.Info("Shutting down conductor engine")

	return nil
}
