// Package main provides the VidaFlow scheduler daemon: the delay-task
// processor and the recurring assignment poller.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/vidaflow/vidaflow/pkg/cmd"
	"github.com/vidaflow/vidaflow/pkg/conditions"
	"github.com/vidaflow/vidaflow/pkg/eventbus"
	"github.com/vidaflow/vidaflow/pkg/execution"
	"github.com/vidaflow/vidaflow/pkg/expr"
	"github.com/vidaflow/vidaflow/pkg/flow"
	"github.com/vidaflow/vidaflow/pkg/log"
	"github.com/vidaflow/vidaflow/pkg/scheduler"
	trc "github.com/vidaflow/vidaflow/pkg/tracer"
)

func main() {
	command := &cli.Command{
		Name:                  "vidaflow-scheduler",
		Usage:                 "Start the VidaFlow scheduler daemon",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler instance ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCHEDULER_ID"),
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
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to scan for due delay tasks and schedules",
				Value:   scheduler.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "claim-ttl",
				Usage:   "How long a task claim blocks other instances before it is considered stale",
				Value:   10 * time.Minute,
				Sources: cli.EnvVars("CLAIM_TTL"),
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

			tracerProvider, err := trc.InitTracer(ctx, "vidaflow-scheduler")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			instanceID := command.String("scheduler-id")
			if instanceID == "" {
				instanceID = fmt.Sprintf("scheduler-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("scheduler").With("instance_id", instanceID)

			logger.Info("Initializing VidaFlow Scheduler")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.Duration("claim-ttl"))
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

			linearizer := flow.NewLinearizer(conditions.NewEvaluator(logger), logger)
			executions := execution.NewService(persistence, linearizer, expr.NewEvaluator(logger), nil, eventBus, logger)
			processor := scheduler.NewProcessor(persistence, executions, dispatcher, eventBus, instanceID, logger)
			daemon := scheduler.NewDaemon(processor, executions, persistence, command.Duration("poll-interval"), logger)

			if err := daemon.Start(ctx); err != nil {
				return err
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-quit:
				logger.Info("Received shutdown signal", "signal", sig.String())
			case <-ctx.Done():
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			daemon.Stop(stopCtx)

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
