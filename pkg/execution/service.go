// Package execution implements the patient-facing step runner: assigning a
// flow to a patient and completing steps one at a time.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vidaflow/vidaflow/pkg/eventbus"
	"github.com/vidaflow/vidaflow/pkg/events"
	"github.com/vidaflow/vidaflow/pkg/expr"
	"github.com/vidaflow/vidaflow/pkg/flow"
	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/persistence"
	"github.com/vidaflow/vidaflow/pkg/tracer"
)

// FormEndProcessor runs the side effect attached to formEnd steps (report
// generation, document attachment). It runs synchronously inside step
// completion; a returned error aborts the advance before anything is
// persisted.
type FormEndProcessor interface {
	ProcessFormEnd(ctx context.Context, execution *models.Execution, step *models.StepDescriptor) error
}

// Service drives execution records through their step lists. Every mutation
// is load, mutate in memory, persist with a compare-and-set on updated_at;
// the service keeps no state of its own between calls.
type Service struct {
	persistence persistence.Persistence
	linearizer  *flow.Linearizer
	expressions *expr.Evaluator
	formEnd     FormEndProcessor
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewService(
	p persistence.Persistence,
	linearizer *flow.Linearizer,
	expressions *expr.Evaluator,
	formEnd FormEndProcessor,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		persistence: p,
		linearizer:  linearizer,
		expressions: expressions,
		formEnd:     formEnd,
		publisher:   publisher,
		logger:      logger.With("module", "execution"),
		tracer:      otel.Tracer("vidaflow/execution"),
	}
}

// Assign creates a new execution of a flow for a patient. The flow graph is
// linearized once, here; the execution carries its own copy of the step list
// from then on, so later edits to the flow never touch running executions.
func (s *Service) Assign(ctx context.Context, flowID, patientID string) (*models.Execution, error) {
	definition, err := s.persistence.FlowRepository().FlowByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	steps, err := s.linearizer.Linearize(definition, nil)
	if err != nil {
		return nil, fmt.Errorf("linearize flow %s: %w", flowID, err)
	}

	now := time.Now().UTC()

	execution := &models.Execution{
		ID:             uuid.New().String(),
		FlowID:         definition.ID,
		FlowName:       definition.Name,
		PatientID:      patientID,
		Status:         models.ExecutionPending,
		Cursor:         models.StepCursor{Steps: steps},
		TotalSteps:     len(steps),
		FieldResponses: models.FieldResponses{},
		StartedAt:      now,
		UpdatedAt:      now,
	}

	execution.SetCompletedSteps(0)

	if current := execution.Cursor.CurrentStep(); current != nil {
		execution.CurrentNode = current.NodeID
		available := now
		current.AvailableAt = &available
	}

	if err := s.persistence.ExecutionRepository().CreateExecution(ctx, execution); err != nil {
		return nil, err
	}

	s.publish(ctx, execution.ID, events.ExecutionAssigned{
		BaseEvent:  events.NewBaseEvent(events.ExecutionAssignedEvent, execution.ID, patientID),
		FlowID:     definition.ID,
		FlowName:   definition.Name,
		TotalSteps: execution.TotalSteps,
	})

	s.logger.Info("Execution assigned",
		"execution_id", execution.ID,
		"flow_id", definition.ID,
		"patient_id", patientID,
		"total_steps", execution.TotalSteps)

	return execution, nil
}

// CompleteCurrentStep records the patient's response for the current step,
// advances the cursor and persists the whole record in one conditional write.
// stepID must name the current step; an empty stepID skips the check.
//
// If the next step is a delay node a durable delay task is created and the
// execution parks until the processor picks it up. If the next step is a
// formEnd node its side effect runs synchronously before this call returns.
func (s *Service) CompleteCurrentStep(ctx context.Context, executionID, stepID string, response any) (execution *models.Execution, err error) {
	ctx, span := s.tracer.Start(ctx, "execution.complete_step", trace.WithAttributes(
		attribute.String(tracer.ExecutionIDKey, executionID),
	))

	defer func() {
		if err != nil {
			tracer.SetError(span, err)
		}

		span.End()
	}()

	execution, err = s.persistence.ExecutionRepository().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.IsTerminal() {
		return nil, ErrExecutionFinished
	}

	if execution.Status == models.ExecutionPaused {
		return nil, ErrExecutionPaused
	}

	expectedUpdatedAt := execution.UpdatedAt

	current := execution.Cursor.CurrentStep()
	if current == nil || current.Completed {
		return nil, ErrNoCurrentStep
	}

	span.SetAttributes(
		attribute.String(tracer.StepIDKey, current.NodeID),
		attribute.String(tracer.StepTypeKey, string(current.NodeType)),
	)

	if stepID != "" && stepID != current.NodeID {
		return nil, ErrStepMismatch
	}

	if current.NodeType == models.NodeDelay {
		return nil, ErrStepNotCompletable
	}

	now := time.Now().UTC()

	if current.AvailableAt != nil && current.AvailableAt.After(now) {
		return nil, ErrStepNotYetAvailable
	}

	s.recordResponse(ctx, execution, current, response, now)

	completedNode := current.NodeID
	completedType := current.NodeType

	// min(completed+1, total): a cursor that somehow drifted past the step
	// count must never push completed_steps beyond the total.
	safeCompleted := execution.CompletedSteps + 1
	if safeCompleted > execution.TotalSteps {
		safeCompleted = execution.TotalSteps
	}

	execution.SetCompletedSteps(safeCompleted)

	if execution.Status == models.ExecutionPending {
		execution.Status = models.ExecutionInProgress
	}

	execution.Cursor.Advance()

	var createdTask *models.DelayTask

	if !execution.IsTerminal() {
		createdTask, err = s.settle(ctx, execution, now)
		if err != nil {
			return nil, err
		}
	} else {
		execution.CurrentNode = ""
		execution.NextStepAvailableAt = nil
	}

	execution.UpdatedAt = now

	// The task row goes in before the execution moves. If the insert fails
	// the stored execution is still on its previous step and the patient can
	// retry; a pending task whose execution never parked on its delay step
	// is discarded by the processor.
	if createdTask != nil {
		if err := s.persistence.DelayTaskRepository().CreateDelayTask(ctx, createdTask); err != nil {
			return nil, fmt.Errorf("create delay task for execution %s: %w", execution.ID, err)
		}
	}

	if err := s.persistence.ExecutionRepository().UpdateExecution(ctx, execution, expectedUpdatedAt); err != nil {
		return nil, err
	}

	if createdTask != nil {
		s.publish(ctx, execution.ID, events.DelayTaskCreated{
			BaseEvent: events.NewBaseEvent(events.DelayTaskCreatedEvent, execution.ID, execution.PatientID),
			TaskID:    createdTask.ID,
			TriggerAt: createdTask.TriggerAt,
		})
	}

	s.publish(ctx, execution.ID, events.StepCompleted{
		BaseEvent: events.NewBaseEvent(events.StepCompletedEvent, execution.ID, execution.PatientID),
		NodeID:    completedNode,
		NodeType:  string(completedType),
		Progress:  execution.Progress,
	})

	if execution.Status == models.ExecutionCompleted {
		s.publish(ctx, execution.ID, events.ExecutionCompleted{
			BaseEvent:  events.NewBaseEvent(events.ExecutionCompletedEvent, execution.ID, execution.PatientID),
			FlowID:     execution.FlowID,
			Duration:   now.Sub(execution.StartedAt),
			TotalSteps: execution.TotalSteps,
		})
	}

	return execution, nil
}

// CompleteDelayStep is the processor's entry point. It marks the elapsed
// delay step completed and settles the cursor onto the next actionable step.
// advanced reports false when the current step is no longer a delay step,
// which means a previous attempt already moved the execution and this call is
// a retry that only needs its notification re-sent.
func (s *Service) CompleteDelayStep(ctx context.Context, executionID string) (execution *models.Execution, advanced bool, err error) {
	ctx, span := s.tracer.Start(ctx, "execution.complete_delay_step", trace.WithAttributes(
		attribute.String(tracer.ExecutionIDKey, executionID),
	))

	defer func() {
		if err != nil {
			tracer.SetError(span, err)
		}

		span.End()
	}()

	execution, err = s.persistence.ExecutionRepository().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, false, err
	}

	if execution.IsTerminal() || execution.Status == models.ExecutionPaused {
		return execution, false, nil
	}

	current := execution.Cursor.CurrentStep()
	if current == nil || current.NodeType != models.NodeDelay || current.Completed {
		return execution, false, nil
	}

	expectedUpdatedAt := execution.UpdatedAt
	now := time.Now().UTC()

	current.Completed = true
	current.CompletedAt = &now

	safeCompleted := execution.CompletedSteps + 1
	if safeCompleted > execution.TotalSteps {
		safeCompleted = execution.TotalSteps
	}

	execution.SetCompletedSteps(safeCompleted)

	if execution.Status == models.ExecutionPending {
		execution.Status = models.ExecutionInProgress
	}

	execution.Cursor.Advance()

	var createdTask *models.DelayTask

	if !execution.IsTerminal() {
		createdTask, err = s.settle(ctx, execution, now)
		if err != nil {
			return nil, false, err
		}
	} else {
		execution.CurrentNode = ""
		execution.NextStepAvailableAt = nil
	}

	execution.UpdatedAt = now

	// Task row first, same as the synchronous completion path.
	if createdTask != nil {
		if err := s.persistence.DelayTaskRepository().CreateDelayTask(ctx, createdTask); err != nil {
			return nil, false, fmt.Errorf("create delay task for execution %s: %w", execution.ID, err)
		}
	}

	if err := s.persistence.ExecutionRepository().UpdateExecution(ctx, execution, expectedUpdatedAt); err != nil {
		return nil, false, err
	}

	if execution.Status == models.ExecutionCompleted {
		s.publish(ctx, execution.ID, events.ExecutionCompleted{
			BaseEvent:  events.NewBaseEvent(events.ExecutionCompletedEvent, execution.ID, execution.PatientID),
			FlowID:     execution.FlowID,
			Duration:   now.Sub(execution.StartedAt),
			TotalSteps: execution.TotalSteps,
		})
	}

	return execution, true, nil
}

// settle positions the execution on its new current step after an advance.
// formEnd steps auto-process and complete in place, so the loop keeps going
// until it lands on a step the patient (or the scheduler) owns. Delay steps
// park the execution behind a delay task; everything else becomes available
// immediately.
func (s *Service) settle(ctx context.Context, execution *models.Execution, now time.Time) (*models.DelayTask, error) {
	for {
		current := execution.Cursor.CurrentStep()
		if current == nil {
			execution.CurrentNode = ""
			execution.NextStepAvailableAt = nil
			execution.SetCompletedSteps(execution.TotalSteps)

			return nil, nil
		}

		execution.CurrentNode = current.NodeID

		switch current.NodeType {
		case models.NodeFormEnd:
			if err := s.processFormEnd(ctx, execution, current, now); err != nil {
				return nil, err
			}

			safeCompleted := execution.CompletedSteps + 1
			if safeCompleted > execution.TotalSteps {
				safeCompleted = execution.TotalSteps
			}

			execution.SetCompletedSteps(safeCompleted)
			execution.Cursor.Advance()

			if execution.IsTerminal() {
				execution.CurrentNode = ""
				execution.NextStepAvailableAt = nil

				return nil, nil
			}

		case models.NodeDelay:
			triggerAt := now.Add(time.Duration(current.DelayMinutes) * time.Minute)
			execution.NextStepAvailableAt = &triggerAt
			available := triggerAt
			current.AvailableAt = &available

			nextNode, nextType, formName := s.stepAfterDelay(execution)

			return &models.DelayTask{
				ID:           uuid.New().String(),
				ExecutionID:  execution.ID,
				PatientID:    execution.PatientID,
				NextNodeID:   nextNode,
				NextNodeType: nextType,
				FormName:     formName,
				TriggerAt:    triggerAt,
				CreatedAt:    now,
			}, nil

		default:
			available := now
			current.AvailableAt = &available
			execution.NextStepAvailableAt = nil

			return nil, nil
		}
	}
}

func (s *Service) processFormEnd(ctx context.Context, execution *models.Execution, step *models.StepDescriptor, now time.Time) error {
	if s.formEnd != nil {
		if err := s.formEnd.ProcessFormEnd(ctx, execution, step); err != nil {
			return fmt.Errorf("formEnd processing for execution %s node %s: %w", execution.ID, step.NodeID, err)
		}
	}

	step.Completed = true
	step.CompletedAt = &now
	available := now
	step.AvailableAt = &available

	s.publish(ctx, execution.ID, events.FormEndProcessed{
		BaseEvent: events.NewBaseEvent(events.FormEndProcessedEvent, execution.ID, execution.PatientID),
		NodeID:    step.NodeID,
		FormID:    step.FormID,
		FormName:  step.FormName,
	})

	return nil
}

// stepAfterDelay peeks at the step following the delay the cursor sits on, so
// the delay task can carry the destination the processor will expose.
func (s *Service) stepAfterDelay(execution *models.Execution) (nodeID string, nodeType models.NodeType, formName string) {
	next := execution.Cursor.CurrentStepIndex + 1
	if next >= len(execution.Cursor.Steps) {
		return "", "", ""
	}

	step := execution.Cursor.Steps[next]

	return step.NodeID, step.NodeType, step.FormName
}

// recordResponse stores the raw response on the step and folds structured
// answers into the execution's response map. Calculator steps additionally
// evaluate their computed fields against everything answered so far.
func (s *Service) recordResponse(ctx context.Context, execution *models.Execution, step *models.StepDescriptor, response any, now time.Time) {
	step.Completed = true
	step.CompletedAt = &now
	step.Response = response

	answers, ok := response.(map[string]any)
	if ok {
		for nomenclatura, raw := range answers {
			value, err := models.CoerceValue(raw)
			if err != nil {
				s.logger.Warn("Discarding uncoercible response field",
					"execution_id", execution.ID,
					"field", nomenclatura,
					"error", err)

				continue
			}

			execution.FieldResponses[nomenclatura] = value
		}
	}

	if step.NodeType == models.NodeCalculator {
		s.computeCalculatorFields(ctx, execution, step)
	}
}

// computeCalculatorFields evaluates the calculo fields of a calculator node
// against the responses accumulated so far. The node's field list lives on
// the flow definition; a deleted flow only costs the computed values, never
// the step completion.
func (s *Service) computeCalculatorFields(ctx context.Context, execution *models.Execution, step *models.StepDescriptor) {
	definition, err := s.persistence.FlowRepository().FlowByID(ctx, execution.FlowID)
	if err != nil {
		s.logger.Warn("Skipping computed fields, flow definition unavailable",
			"execution_id", execution.ID,
			"flow_id", execution.FlowID,
			"error", err)

		return
	}

	node := definition.NodeByID(step.NodeID)
	if node == nil {
		return
	}

	for _, field := range flow.OrderedFields(node) {
		if field.FieldType != models.FieldCalculo || field.Formula == "" {
			continue
		}

		result := s.expressions.Evaluate(field.Formula, execution.FieldResponses.Numbers())
		execution.FieldResponses[field.Nomenclatura] = models.NumberValue(result)
	}

	if node.Formula != "" {
		result := s.expressions.Evaluate(node.Formula, execution.FieldResponses.Numbers())
		execution.FieldResponses[step.NodeID] = models.NumberValue(result)
	}
}

func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.Error("Failed to publish event",
			"event_type", event.GetType(),
			"error", err)
	}
}
