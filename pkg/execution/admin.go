package execution

import (
	"context"
	"time"

	"github.com/vidaflow/vidaflow/pkg/eventbus"
	"github.com/vidaflow/vidaflow/pkg/events"
	"github.com/vidaflow/vidaflow/pkg/models"
)

// Pause suspends an in-progress or pending execution. Paused executions
// reject step completions until resumed; the delay-task processor also skips
// them.
func (s *Service) Pause(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	return s.transition(ctx, executionID, func(execution *models.Execution) error {
		switch execution.Status {
		case models.ExecutionPending, models.ExecutionInProgress:
			execution.Status = models.ExecutionPaused
			return nil
		default:
			return ErrInvalidTransition
		}
	}, func(execution *models.Execution) eventbus.Event {
		return events.ExecutionPaused{
			BaseEvent: events.NewBaseEvent(events.ExecutionPausedEvent, execution.ID, execution.PatientID),
			Reason:    reason,
		}
	})
}

// Resume returns a paused execution to in-progress.
func (s *Service) Resume(ctx context.Context, executionID string) (*models.Execution, error) {
	return s.transition(ctx, executionID, func(execution *models.Execution) error {
		if execution.Status != models.ExecutionPaused {
			return ErrInvalidTransition
		}

		execution.Status = models.ExecutionInProgress

		return nil
	}, func(execution *models.Execution) eventbus.Event {
		return events.ExecutionResumed{
			BaseEvent: events.NewBaseEvent(events.ExecutionResumedEvent, execution.ID, execution.PatientID),
		}
	})
}

// Fail terminates an execution without completing it. Failed is terminal.
func (s *Service) Fail(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	return s.transition(ctx, executionID, func(execution *models.Execution) error {
		if execution.IsTerminal() {
			return ErrExecutionFinished
		}

		execution.Status = models.ExecutionFailed

		return nil
	}, func(execution *models.Execution) eventbus.Event {
		return events.ExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, execution.ID, execution.PatientID),
			Reason:    reason,
		}
	})
}

func (s *Service) transition(
	ctx context.Context,
	executionID string,
	apply func(*models.Execution) error,
	eventFor func(*models.Execution) eventbus.Event,
) (*models.Execution, error) {
	execution, err := s.persistence.ExecutionRepository().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	expectedUpdatedAt := execution.UpdatedAt

	if err := apply(execution); err != nil {
		return nil, err
	}

	execution.UpdatedAt = time.Now().UTC()

	if err := s.persistence.ExecutionRepository().UpdateExecution(ctx, execution, expectedUpdatedAt); err != nil {
		return nil, err
	}

	s.publish(ctx, execution.ID, eventFor(execution))

	return execution, nil
}
