// Package notification defines the "tell a patient a form is available"
// contract consumed by the delay-task processor, decoupled from any
// messaging transport.
package notification

import "context"

// Result reports a dispatch outcome. Transport failures should be reported
// here as Success=false where feasible; a returned error means the dispatch
// itself could not be attempted and the caller may retry later.
type Result struct {
	Success     bool   `json:"success"`
	PatientName string `json:"patient_name,omitempty"`
	FormName    string `json:"form_name,omitempty"`
}

// Dispatcher delivers a form-available message to a patient. Implementations
// are not required to retry internally; the processor's
// leave-task-unprocessed behavior is the sole retry mechanism.
type Dispatcher interface {
	Notify(ctx context.Context, patientID, formName, executionID string) (Result, error)
}
