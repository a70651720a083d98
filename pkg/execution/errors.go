package execution

import "errors"

var (
	// ErrExecutionFinished indicates a completed or failed execution was
	// asked to transition.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrExecutionPaused indicates the execution is administratively paused.
	ErrExecutionPaused = errors.New("execution is paused")

	// ErrNoCurrentStep indicates the cursor has no step to complete.
	ErrNoCurrentStep = errors.New("execution has no current step")

	// ErrStepNotYetAvailable indicates the current step's availability time
	// is still in the future.
	ErrStepNotYetAvailable = errors.New("current step is not yet available")

	// ErrStepMismatch indicates the caller tried to complete a step that is
	// not the current one (a stale page, usually).
	ErrStepMismatch = errors.New("step is not the current step")

	// ErrStepNotCompletable indicates the current step has no patient-facing
	// interaction (delay steps belong to the scheduler).
	ErrStepNotCompletable = errors.New("current step cannot be completed by the patient")

	// ErrInvalidTransition indicates an administrative transition from an
	// incompatible status.
	ErrInvalidTransition = errors.New("invalid status transition")
)
