package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vidaflow/vidaflow/pkg/eventbus"
	"github.com/vidaflow/vidaflow/pkg/events"
)

// EventBusDispatcher publishes a notification.requested event for transport
// workers (WhatsApp, email adapters) to consume. The engine never speaks a
// provider protocol itself.
type EventBusDispatcher struct {
	publisher eventbus.EventPublisher
	deduper   *Deduper
	logger    *slog.Logger
}

// NewEventBusDispatcher creates a dispatcher over the given publisher.
// deduper may be nil, in which case every request publishes.
func NewEventBusDispatcher(publisher eventbus.EventPublisher, deduper *Deduper, logger *slog.Logger) *EventBusDispatcher {
	return &EventBusDispatcher{
		publisher: publisher,
		deduper:   deduper,
		logger:    logger.With("module", "notification_dispatcher"),
	}
}

// Notify publishes the request. A suppressed duplicate counts as success:
// the patient already received this reminder inside the dedup window.
func (d *EventBusDispatcher) Notify(ctx context.Context, patientID, formName, executionID string) (Result, error) {
	if d.deduper != nil {
		first, err := d.deduper.FirstDelivery(ctx, executionID, formName)
		if err != nil {
			// Dedup store trouble must not block the notification itself.
			d.logger.WarnContext(ctx, "Notification dedup check failed, sending anyway",
				"execution_id", executionID, "error", err)
		} else if !first {
			d.logger.InfoContext(ctx, "Duplicate notification suppressed",
				"execution_id", executionID,
				"patient_id", patientID,
				"form_name", formName)

			return Result{Success: true, FormName: formName}, nil
		}
	}

	event := events.NotificationRequested{
		BaseEvent: events.NewBaseEvent(events.NotificationRequestedEvent, executionID, patientID),
		FormName:  formName,
	}

	err := d.publisher.Publish(ctx, executionID, event)
	if err != nil {
		return Result{Success: false, FormName: formName},
			fmt.Errorf("failed to publish notification request: %w", err)
	}

	d.logger.InfoContext(ctx, "Notification requested",
		"execution_id", executionID,
		"patient_id", patientID,
		"form_name", formName)

	return Result{Success: true, FormName: formName}, nil
}
