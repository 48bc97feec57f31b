package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/ledgerflow/conductor/pkg/cmd"
	"github.com/ledgerflow/conductor/pkg/deadletter"
	"github.com/ledgerflow/conductor/pkg/engine"
	"github.com/ledgerflow/conductor/pkg/eventbus"
	"github.com/ledgerflow/conductor/pkg/log"
	"github.com/ledgerflow/conductor/pkg/monitor"
	"github.com/ledgerflow/conductor/pkg/otelhelper"
	"github.com/ledgerflow/conductor/pkg/resilience"
	"github.com/ledgerflow/conductor/pkg/triggers"
	"github.com/ledgerflow/conductor/pkg/web"
)

const defaultPort = 8080

func main() {
	command := &cli.Command{
		Name:                  "conductor-api",
		EnableShellCompletion: true,
		Usage:                 "Start the conductor management API and webhook intake",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Usage:   "Redis URL for the execution queue (empty runs executions in-process)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
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
	logger := log.WithModule("conductor-api")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing conductor API")

	if _, err := otelhelper.NewTracer(ctx, "conductor-api"); err != nil {
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
	gateway := triggers.NewGateway(logger, persistence, dispatcher.Callback())
	deadLetters := deadletter.NewService(logger, persistence, eng, nil)

	mon := monitor.New(logger, persistence, nil, bus, q)
	if err := mon.Register(bus); err != nil {
		return err
	}

	if err := bus.Subscribe(ctx); err != nil {
		return err
	}

	mon.StartQueuePolling(ctx, 0)
	defer mon.StopQueuePolling()

	app := fiber.New()
	handlers := web.NewAPIHandlers(logger, persistence, validator.New(), eng, dispatcher, gateway, deadLetters, mon)
	handlers.RegisterRoutes(app)

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", command.Int("port")))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down conductor API")

		return app.ShutdownWithContext(context.Background())
	}
}
