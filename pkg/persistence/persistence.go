// Package persistence provides the data storage abstraction for flows,
// executions, delay tasks and assignment schedules.
package persistence

import (
	"context"
	"time"

	"github.com/vidaflow/vidaflow/pkg/models"
)

// FlowRepository stores flow definitions.
type FlowRepository interface {
	SaveFlow(ctx context.Context, flow *models.FlowDefinition) error
	FlowByID(ctx context.Context, id string) (*models.FlowDefinition, error)
	Flows(ctx context.Context) ([]*models.FlowDefinition, error)
	DeleteFlow(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records. The execution row is the only
// shared mutable resource of the engine, so every write is a single atomic
// read-modify-write: UpdateExecution applies a compare-and-set on the row's
// updated_at and fails with ErrExecutionConflict when another writer got
// there first.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	ExecutionsByPatient(ctx context.Context, patientID string) ([]*models.Execution, error)

	// UpdateExecution persists the whole record, step cursor included, only
	// if the stored row still carries expectedUpdatedAt.
	UpdateExecution(ctx context.Context, execution *models.Execution, expectedUpdatedAt time.Time) error
}

// DelayTaskRepository stores the durable delay work-queue. Claiming is the
// queue's single concurrency-control point and must be one conditional
// update, never a read followed by a separate write.
type DelayTaskRepository interface {
	CreateDelayTask(ctx context.Context, task *models.DelayTask) error
	DelayTaskByID(ctx context.Context, id string) (*models.DelayTask, error)

	// ClaimableDelayTasks lists unprocessed, unclaimed tasks. A non-zero
	// before restricts the scan to tasks due at or before that instant;
	// the zero time lists them all (forced execution).
	ClaimableDelayTasks(ctx context.Context, before time.Time) ([]*models.DelayTask, error)

	// ClaimDelayTask attempts the optimistic claim. It reports true only
	// when this call transitioned the task from unclaimed to claimed;
	// false means another instance won, which is expected, not an error.
	// Claims older than the repository's claim TTL count as unclaimed so a
	// crashed instance cannot strand a task forever.
	ClaimDelayTask(ctx context.Context, taskID, instanceID string) (bool, error)

	// MarkDelayTaskProcessed finishes a claimed task. Must only be called
	// after the execution advance has been durably committed.
	MarkDelayTaskProcessed(ctx context.Context, taskID string) error
}

// AssignmentScheduleRepository stores recurring flow assignments.
type AssignmentScheduleRepository interface {
	SaveSchedule(ctx context.Context, schedule *models.AssignmentSchedule) error
	ScheduleByID(ctx context.Context, id string) (*models.AssignmentSchedule, error)
	DueSchedules(ctx context.Context, before time.Time) ([]*models.AssignmentSchedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// Persistence bundles the repositories behind one connection lifecycle.
type Persistence interface {
	FlowRepository() FlowRepository
	ExecutionRepository() ExecutionRepository
	DelayTaskRepository() DelayTaskRepository
	AssignmentScheduleRepository() AssignmentScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
