package models

import "time"

// DelayTask is one durable "fire at TriggerAt, then advance execution past
// its delay step" job. Tasks are created when an execution reaches a delay
// node and are mutated exclusively by the processor: claim, advance, mark
// processed. A processed task never changes again.
type DelayTask struct {
	ID           string   `json:"id"`
	ExecutionID  string   `json:"execution_id" validate:"required"`
	PatientID    string   `json:"patient_id"   validate:"required"`
	NextNodeID   string   `json:"next_node_id" validate:"required"`
	NextNodeType NodeType `json:"next_node_type"`
	FormName     string   `json:"form_name,omitempty"`

	TriggerAt time.Time `json:"trigger_at"`

	Processed            bool       `json:"processed"`
	ProcessedAt          *time.Time `json:"processed_at,omitempty"`
	ProcessingStartedAt  *time.Time `json:"processing_started_at,omitempty"`
	ProcessingInstanceID string     `json:"processing_instance_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Due reports whether the task's timer has elapsed at the given instant.
func (t *DelayTask) Due(now time.Time) bool {
	return !t.TriggerAt.After(now)
}
