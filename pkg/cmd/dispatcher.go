package cmd

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/vidaflow/vidaflow/pkg/eventbus"
	"github.com/vidaflow/vidaflow/pkg/notification"
)

// NewDispatcher builds the notification dispatcher. With an event bus the
// dispatcher publishes notification.requested events for transport workers;
// without one it only logs, which is enough for local development. A redis
// URL adds the duplicate-suppression window.
func NewDispatcher(eventBus eventbus.EventBus, redisURL string, logger *slog.Logger) notification.Dispatcher {
	if eventBus == nil {
		return notification.NewLogDispatcher(logger)
	}

	var deduper *notification.Deduper

	if redisURL != "" {
		options, err := redis.ParseURL(redisURL)
		if err != nil {
			panic(fmt.Errorf("failed to parse redis URL: %w", err))
		}

		deduper = notification.NewDeduper(redis.NewClient(options))
	}

	return notification.NewEventBusDispatcher(eventBus, deduper, logger)
}
