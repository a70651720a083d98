// Package web provides the HTTP surface for flow management, execution
// progress and scheduler administration.
package web

import (
	"time"

	"github.com/vidaflow/vidaflow/pkg/models"
)

// SaveFlowRequest carries a full flow definition from the flow builder.
type SaveFlowRequest struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"      validate:"required,min=3"`
	ClinicID string         `json:"clinic_id"`
	Nodes    []*models.Node `json:"nodes"     validate:"required,min=1,dive"`
	Edges    []*models.Edge `json:"edges"     validate:"dive"`
}

// AssignFlowRequest starts one execution of a flow for a patient.
type AssignFlowRequest struct {
	FlowID    string `json:"flow_id"    validate:"required"`
	PatientID string `json:"patient_id" validate:"required"`
}

// CompleteStepRequest carries a patient's answer for the current step.
type CompleteStepRequest struct {
	StepID   string         `json:"step_id"`
	Response map[string]any `json:"response"`
}

// PauseExecutionRequest optionally documents why an execution was paused.
type PauseExecutionRequest struct {
	Reason string `json:"reason"`
}

// FailExecutionRequest documents why an execution was terminated.
type FailExecutionRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CreateScheduleRequest registers a recurring flow assignment.
type CreateScheduleRequest struct {
	FlowID         string `json:"flow_id"         validate:"required"`
	PatientID      string `json:"patient_id"      validate:"required"`
	CronExpression string `json:"cron_expression" validate:"required"`
}

// ExecutionResponse is the patient-facing view of an execution. The full step
// list stays internal; clients see position and progress.
type ExecutionResponse struct {
	ID        string `json:"id"`
	FlowID    string `json:"flow_id"`
	FlowName  string `json:"flow_name"`
	PatientID string `json:"patient_id"`

	Status      models.ExecutionStatus `json:"status"`
	CurrentStep *StepResponse          `json:"current_step,omitempty"`

	TotalSteps     int `json:"total_steps"`
	CompletedSteps int `json:"completed_steps"`
	Progress       int `json:"progress"`

	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	NextStepAvailableAt *time.Time `json:"next_step_available_at,omitempty"`
}

// StepResponse is the client view of one step.
type StepResponse struct {
	NodeID      string          `json:"node_id"`
	NodeType    models.NodeType `json:"node_type"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	FormID      string          `json:"form_id,omitempty"`
	FormName    string          `json:"form_name,omitempty"`
	AvailableAt *time.Time      `json:"available_at,omitempty"`
}

// TransformExecutionResponse builds the client view of an execution.
func TransformExecutionResponse(execution *models.Execution) ExecutionResponse {
	response := ExecutionResponse{
		ID:                  execution.ID,
		FlowID:              execution.FlowID,
		FlowName:            execution.FlowName,
		PatientID:           execution.PatientID,
		Status:              execution.Status,
		TotalSteps:          execution.TotalSteps,
		CompletedSteps:      execution.CompletedSteps,
		Progress:            execution.Progress,
		StartedAt:           execution.StartedAt,
		CompletedAt:         execution.CompletedAt,
		NextStepAvailableAt: execution.NextStepAvailableAt,
	}

	if current := execution.Cursor.CurrentStep(); current != nil {
		response.CurrentStep = &StepResponse{
			NodeID:      current.NodeID,
			NodeType:    current.NodeType,
			Title:       current.Title,
			Description: current.Description,
			FormID:      current.FormID,
			FormName:    current.FormName,
			AvailableAt: current.AvailableAt,
		}
	}

	return response
}
