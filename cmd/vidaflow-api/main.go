package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/vidaflow/vidaflow/pkg/cmd"
	"github.com/vidaflow/vidaflow/pkg/eventbus"
	"github.com/vidaflow/vidaflow/pkg/log"
	trc "github.com/vidaflow/vidaflow/pkg/tracer"
)

const defaultPort = 9080

func main() {
	command := &cli.Command{
		Name:                  "vidaflow-api",
		Usage:                 "Manage clinic flows and patient executions",
		EnableShellCompletion: true,
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
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for notification deduplication",
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
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			tracerProvider, err := trc.InitTracer(ctx, "vidaflow-api")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			instanceID := fmt.Sprintf("api-%s", uuid.New().String()[:8])
			logger := log.WithModule("api").With("instance_id", instanceID)

			logger.Info("Initializing VidaFlow API")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"), 0)
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			var eventBus eventbus.EventBus
			if provider := command.String("event-bus"); provider != "" {
				eventBus = cmd.NewEventBus(provider, logger)
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.Error("Failed to close event bus", "error", err)
					}
				}()
			}

			dispatcher := cmd.NewDispatcher(eventBus, command.String("redis-url"), logger)

			api := NewAPI(
				logger,
				persistence,
				eventBus,
				dispatcher,
				instanceID,
			)

			if err := api.Start(command.Int("port")); err != nil {
				logger.Error("Failed to start API server", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
