// Package scheduler runs the delay-task processor and the recurring
// assignment poller. Multiple instances can run against the same database;
// the optimistic task claim guarantees each task is processed once.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vidaflow/vidaflow/pkg/eventbus"
	"github.com/vidaflow/vidaflow/pkg/events"
	"github.com/vidaflow/vidaflow/pkg/execution"
	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/notification"
	"github.com/vidaflow/vidaflow/pkg/persistence"
	"github.com/vidaflow/vidaflow/pkg/tracer"
)

// RunSummary reports what one processor pass did.
type RunSummary struct {
	Candidates int `json:"candidates"`
	Claimed    int `json:"claimed"`
	Processed  int `json:"processed"`
	Errored    int `json:"errored"`
}

// Processor claims due delay tasks and advances their executions. Each task
// goes through claim, advance, notify, mark processed; a failure at any point
// leaves the task claimed-but-unprocessed so a later pass retries it after
// the claim expires.
type Processor struct {
	persistence persistence.Persistence
	executions  *execution.Service
	dispatcher  notification.Dispatcher
	publisher   eventbus.EventPublisher
	instanceID  string
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewProcessor(
	p persistence.Persistence,
	executions *execution.Service,
	dispatcher notification.Dispatcher,
	publisher eventbus.EventPublisher,
	instanceID string,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		persistence: p,
		executions:  executions,
		dispatcher:  dispatcher,
		publisher:   publisher,
		instanceID:  instanceID,
		logger:      logger.With("module", "processor", "instance_id", instanceID),
		tracer:      otel.Tracer("vidaflow/scheduler"),
	}
}

// ProcessDueTasks runs one pass over tasks whose timer has elapsed.
func (p *Processor) ProcessDueTasks(ctx context.Context) (RunSummary, error) {
	return p.run(ctx, time.Now().UTC())
}

// ProcessAllPending runs one forced pass over every unprocessed task,
// elapsed or not. Operators use this to flush the queue in test clinics.
func (p *Processor) ProcessAllPending(ctx context.Context) (RunSummary, error) {
	return p.run(ctx, time.Time{})
}

func (p *Processor) run(ctx context.Context, before time.Time) (RunSummary, error) {
	ctx, span := p.tracer.Start(ctx, "processor.run", trace.WithAttributes(
		attribute.String(tracer.InstanceIDKey, p.instanceID),
	))
	defer span.End()

	summary := RunSummary{}

	tasks, err := p.persistence.DelayTaskRepository().ClaimableDelayTasks(ctx, before)
	if err != nil {
		err = fmt.Errorf("list claimable delay tasks: %w", err)
		tracer.SetError(span, err)

		return summary, err
	}

	summary.Candidates = len(tasks)

	for _, task := range tasks {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		claimed, err := p.persistence.DelayTaskRepository().ClaimDelayTask(ctx, task.ID, p.instanceID)
		if err != nil {
			summary.Errored++
			p.logger.Error("Failed to claim delay task", "task_id", task.ID, "error", err)

			continue
		}

		if !claimed {
			// Another instance won the claim. Expected under contention.
			continue
		}

		summary.Claimed++

		done, err := p.processTask(ctx, task)
		if err != nil {
			summary.Errored++
			p.logger.Error("Failed to process delay task",
				"task_id", task.ID,
				"execution_id", task.ExecutionID,
				"error", err)

			continue
		}

		if done {
			summary.Processed++
		}
	}

	span.SetAttributes(
		attribute.Int("vidaflow.tasks.candidates", summary.Candidates),
		attribute.Int("vidaflow.tasks.claimed", summary.Claimed),
		attribute.Int("vidaflow.tasks.processed", summary.Processed),
		attribute.Int("vidaflow.tasks.errored", summary.Errored),
	)

	if summary.Claimed > 0 || summary.Errored > 0 {
		p.logger.Info("Processor pass finished",
			"candidates", summary.Candidates,
			"claimed", summary.Claimed,
			"processed", summary.Processed,
			"errored", summary.Errored)
	}

	return summary, nil
}

// processTask advances one claimed task's execution. The order is fixed:
// advance durably first, then notify, then mark processed. A notify failure
// therefore never loses the advance; the retry finds the execution already
// moved and only re-sends the notification. done is false when the task was
// deliberately left unprocessed without an error (paused execution).
func (p *Processor) processTask(ctx context.Context, task *models.DelayTask) (done bool, err error) {
	ctx, span := p.tracer.Start(ctx, "processor.task", trace.WithAttributes(
		attribute.String(tracer.TaskIDKey, task.ID),
		attribute.String(tracer.ExecutionIDKey, task.ExecutionID),
		attribute.String(tracer.PatientIDKey, task.PatientID),
	))

	defer func() {
		if err != nil {
			tracer.SetError(span, err)
		}

		span.End()
	}()

	exec, advanced, err := p.executions.CompleteDelayStep(ctx, task.ExecutionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			// The execution is gone; the task can never fire.
			p.logger.Warn("Discarding delay task for missing execution",
				"task_id", task.ID,
				"execution_id", task.ExecutionID)

			return p.discardTask(ctx, task.ID)
		}

		return false, fmt.Errorf("advance execution %s: %w", task.ExecutionID, err)
	}

	if !advanced && exec.Status == models.ExecutionPaused {
		// The claim expires and a later pass retries after the resume.
		p.logger.Debug("Skipping delay task for paused execution",
			"task_id", task.ID,
			"execution_id", task.ExecutionID)

		return false, nil
	}

	if !advanced && exec.IsTerminal() {
		// Stale task: the execution finished or failed before the timer
		// fired. Nothing to advance, nothing to notify.
		p.logger.Info("Discarding delay task for finished execution",
			"task_id", task.ID,
			"execution_id", task.ExecutionID,
			"status", exec.Status)

		return p.discardTask(ctx, task.ID)
	}

	if !advanced {
		// A retry of a completed advance sits on the task's next node. Any
		// other step means the execution never parked on this task's delay
		// step: the task is an orphan from an interrupted completion.
		current := exec.Cursor.CurrentStep()
		if current == nil || current.NodeID != task.NextNodeID {
			p.logger.Info("Discarding delay task whose execution never parked",
				"task_id", task.ID,
				"execution_id", task.ExecutionID)

			return p.discardTask(ctx, task.ID)
		}
	}

	if current := exec.Cursor.CurrentStep(); current != nil && current.NodeType == models.NodeFormStart {
		if err := p.notifyFormAvailable(ctx, exec, current); err != nil {
			return false, err
		}
	}

	p.publish(ctx, exec.ID, events.DelayTaskElapsed{
		BaseEvent:  events.NewBaseEvent(events.DelayTaskElapsedEvent, exec.ID, exec.PatientID),
		TaskID:     task.ID,
		NextNodeID: exec.CurrentNode,
	})

	if err := p.persistence.DelayTaskRepository().MarkDelayTaskProcessed(ctx, task.ID); err != nil {
		return false, err
	}

	return true, nil
}

// discardTask retires a task that can never fire. A failed mark counts as an
// error so the pass reports it and a later pass retries the discard.
func (p *Processor) discardTask(ctx context.Context, taskID string) (bool, error) {
	if err := p.persistence.DelayTaskRepository().MarkDelayTaskProcessed(ctx, taskID); err != nil {
		return false, fmt.Errorf("discard delay task %s: %w", taskID, err)
	}

	return true, nil
}

// notifyFormAvailable dispatches the form-available message. A reported
// failure (Success=false) is logged and the task still completes; only a
// returned error keeps the task unprocessed for retry.
func (p *Processor) notifyFormAvailable(ctx context.Context, exec *models.Execution, step *models.StepDescriptor) error {
	if p.dispatcher == nil {
		return nil
	}

	formName := step.FormName
	if formName == "" {
		formName = step.Title
	}

	result, err := p.dispatcher.Notify(ctx, exec.PatientID, formName, exec.ID)
	if err != nil {
		return fmt.Errorf("dispatch notification for execution %s: %w", exec.ID, err)
	}

	if !result.Success {
		p.logger.Warn("Notification dispatch reported failure",
			"execution_id", exec.ID,
			"patient_id", exec.PatientID,
			"form_name", formName)
	}

	return nil
}

func (p *Processor) publish(ctx context.Context, key string, event eventbus.Event) {
	if p.publisher == nil {
		return
	}

	if err := p.publisher.Publish(ctx, key, event); err != nil {
		p.logger.Error("Failed to publish event",
			"event_type", event.GetType(),
			"error", err)
	}
}
