package models

import (
	"math"
	"time"
)

// ExecutionStatus represents the lifecycle state of one patient's traversal
// of a flow.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionInProgress ExecutionStatus = "in-progress"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionPaused     ExecutionStatus = "paused"
)

// Execution is the persisted, mutable state of one patient's traversal of a
// flow. It is the single source of truth shared by the patient-facing step
// runner and the delay-task processor; every mutation goes through a single
// compare-and-set write on the row.
type Execution struct {
	ID        string `json:"id"`
	FlowID    string `json:"flow_id"`
	FlowName  string `json:"flow_name"`
	PatientID string `json:"patient_id"`

	Status      ExecutionStatus `json:"status"`
	CurrentNode string          `json:"current_node"`

	// Cursor is persisted as the current_step JSON column.
	Cursor StepCursor `json:"current_step"`

	TotalSteps     int `json:"total_steps"`
	CompletedSteps int `json:"completed_steps"`
	Progress       int `json:"progress"`

	// FieldResponses accumulates every nomenclature-keyed answer collected
	// during this execution, for formula and condition evaluation.
	FieldResponses FieldResponses `json:"field_responses"`

	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	NextStepAvailableAt *time.Time `json:"next_step_available_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SetCompletedSteps clamps completed into [0, TotalSteps], recomputes the
// progress percentage and flips the status to completed at 100%.
func (e *Execution) SetCompletedSteps(completed int) {
	if completed < 0 {
		completed = 0
	}

	if completed > e.TotalSteps {
		completed = e.TotalSteps
	}

	e.CompletedSteps = completed
	e.Progress = progressFor(completed, e.TotalSteps)

	if e.Progress >= 100 {
		e.Status = ExecutionCompleted

		if e.CompletedAt == nil {
			now := time.Now().UTC()
			e.CompletedAt = &now
		}
	}
}

// IsTerminal reports whether no further transitions apply.
func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionCompleted || e.Status == ExecutionFailed
}

func progressFor(completed, total int) int {
	if total <= 0 {
		return 100
	}

	progress := int(math.Round(100 * float64(completed) / float64(total)))

	if progress > 100 {
		return 100
	}

	if progress < 0 {
		return 0
	}

	return progress
}
