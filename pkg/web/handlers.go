package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/vidaflow/vidaflow/pkg/execution"
	"github.com/vidaflow/vidaflow/pkg/flow"
	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/persistence"
	"github.com/vidaflow/vidaflow/pkg/scheduler"
)

type APIHandlers struct {
	executions  *execution.Service
	processor   *scheduler.Processor
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	executions *execution.Service,
	processor *scheduler.Processor,
	p persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		executions:  executions,
		processor:   processor,
		persistence: p,
		validator:   validator,
	}
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.persistence.FlowRepository().Flows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(flows)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	definition, err := h.persistence.FlowRepository().FlowByID(c.Context(), id)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "flow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) SaveFlow(c fiber.Ctx) error {
	body := c.Body()

	if err := flow.ValidateDefinition(body); err != nil {
		return badRequest(c, err.Error())
	}

	var req SaveFlowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition := &models.FlowDefinition{
		ID:        req.ID,
		Name:      req.Name,
		ClinicID:  req.ClinicID,
		Nodes:     req.Nodes,
		Edges:     req.Edges,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if definition.ID == "" {
		definition.ID = uuid.New().String()
	}

	if err := flow.ValidateStructure(definition); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.FlowRepository().SaveFlow(c.Context(), definition); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	if err := h.persistence.FlowRepository().DeleteFlow(c.Context(), id); err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "flow not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) AssignFlow(c fiber.Ctx) error {
	var req AssignFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	exec, err := h.executions.Assign(c.Context(), req.FlowID, req.PatientID)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformExecutionResponse(exec))
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	exec, err := h.persistence.ExecutionRepository().ExecutionByID(c.Context(), id)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(TransformExecutionResponse(exec))
}

func (h *APIHandlers) GetPatientExecutions(c fiber.Ctx) error {
	patientID := c.Params("patientId")
	if patientID == "" {
		return badRequest(c, "Patient ID is required")
	}

	executions, err := h.persistence.ExecutionRepository().ExecutionsByPatient(c.Context(), patientID)
	if err != nil {
		return internalError(c, err)
	}

	responses := make([]ExecutionResponse, 0, len(executions))
	for _, exec := range executions {
		responses = append(responses, TransformExecutionResponse(exec))
	}

	return c.JSON(responses)
}

// CompleteStep records the patient's answer for the execution's current step
// and returns the updated progress. A concurrent write returns 409 and the
// client reloads.
func (h *APIHandlers) CompleteStep(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req CompleteStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	var response any
	if req.Response != nil {
		response = map[string]any(req.Response)
	}

	exec, err := h.executions.CompleteCurrentStep(c.Context(), id, req.StepID, response)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(TransformExecutionResponse(exec))
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req PauseExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	exec, err := h.executions.Pause(c.Context(), id, req.Reason)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(TransformExecutionResponse(exec))
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	exec, err := h.executions.Resume(c.Context(), id)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(TransformExecutionResponse(exec))
}

func (h *APIHandlers) FailExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req FailExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	exec, err := h.executions.Fail(c.Context(), id, req.Reason)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(TransformExecutionResponse(exec))
}

// ProcessDelayTasks forces a processor pass over every unprocessed task,
// ignoring trigger times. Operators use it to flush test clinics.
func (h *APIHandlers) ProcessDelayTasks(c fiber.Ctx) error {
	summary, err := h.processor.ProcessAllPending(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	var req CreateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	schedule, err := models.NewAssignmentSchedule(uuid.New().String(), req.FlowID, req.PatientID, req.CronExpression)
	if err != nil {
		return badRequest(c, "Invalid cron expression: "+err.Error())
	}

	if err := h.persistence.AssignmentScheduleRepository().SaveSchedule(c.Context(), schedule); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) DeleteSchedule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Schedule ID is required")
	}

	if err := h.persistence.AssignmentScheduleRepository().DeleteSchedule(c.Context(), id); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "VidaFlow API is healthy"
	httpStatus := http.StatusOK

	repositoryErr := h.persistence.HealthCheck(c.Context())
	if repositoryErr != nil {
		status = "unhealthy"
		message = "VidaFlow API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	repositoryCheck := "ok"
	if repositoryErr != nil {
		repositoryCheck = repositoryErr.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
