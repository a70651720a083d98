// Package events defines event types and structures for flow execution
// lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topic carrying every execution event.
const Topic = "vidaflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionAssignedEvent  EventType = "execution.assigned"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionFailedEvent    EventType = "execution.failed"

	// Step-level events.
	StepCompletedEvent    EventType = "step.completed"
	FormEndProcessedEvent EventType = "execution.formend.processed"

	// Delay queue events.
	DelayTaskCreatedEvent EventType = "delaytask.created"
	DelayTaskElapsedEvent EventType = "delaytask.elapsed"

	// Notification contract events.
	NotificationRequestedEvent EventType = "notification.requested"
	NotificationSentEvent      EventType = "notification.sent"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id"`
	PatientID   string         `json:"patient_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent fills the shared envelope of an event.
func NewBaseEvent(eventType EventType, executionID, patientID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
		PatientID:   patientID,
	}
}

type ExecutionAssigned struct {
	BaseEvent

	FlowID     string `json:"flow_id"`
	FlowName   string `json:"flow_name"`
	TotalSteps int    `json:"total_steps"`
}

func (e ExecutionAssigned) GetType() EventType {
	return ExecutionAssignedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	FlowID     string        `json:"flow_id"`
	Duration   time.Duration `json:"duration"`
	TotalSteps int           `json:"total_steps"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionPaused struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionFailed struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type StepCompleted struct {
	BaseEvent

	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
	Progress int    `json:"progress"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

// FormEndProcessed is published by the default formEnd processor so the
// document pipeline can attach generated files to the patient record.
type FormEndProcessed struct {
	BaseEvent

	NodeID   string `json:"node_id"`
	FormID   string `json:"form_id,omitempty"`
	FormName string `json:"form_name,omitempty"`
}

func (e FormEndProcessed) GetType() EventType {
	return FormEndProcessedEvent
}

type DelayTaskCreated struct {
	BaseEvent

	TaskID    string    `json:"task_id"`
	TriggerAt time.Time `json:"trigger_at"`
}

func (e DelayTaskCreated) GetType() EventType {
	return DelayTaskCreatedEvent
}

type DelayTaskElapsed struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	NextNodeID string `json:"next_node_id"`
}

func (e DelayTaskElapsed) GetType() EventType {
	return DelayTaskElapsedEvent
}

// NotificationRequested asks a transport worker (WhatsApp, email) to tell a
// patient a form is available. Transport adapters consume this event; the
// engine itself never speaks a provider protocol.
type NotificationRequested struct {
	BaseEvent

	FormName string `json:"form_name"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}

type NotificationSent struct {
	BaseEvent

	FormName    string `json:"form_name"`
	PatientName string `json:"patient_name,omitempty"`
}

func (e NotificationSent) GetType() EventType {
	return NotificationSentEvent
}
