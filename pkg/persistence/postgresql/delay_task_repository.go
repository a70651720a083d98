package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/persistence"
)

// DelayTaskRepository handles the durable delay work-queue. The claim is a
// single conditional UPDATE guarded by the processed/processing_started_at
// predicates; there is no external mutex anywhere in the queue.
type DelayTaskRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	claimTTL time.Duration
}

// NewDelayTaskRepository creates a new delay-task repository. claimTTL is the
// age after which a claim from a crashed instance becomes reclaimable.
func NewDelayTaskRepository(db *sql.DB, logger *slog.Logger, claimTTL time.Duration) *DelayTaskRepository {
	return &DelayTaskRepository{
		db:       db,
		logger:   logger.With("component", "delay_task_repository"),
		claimTTL: claimTTL,
	}
}

// CreateDelayTask inserts a new unprocessed task.
func (r *DelayTaskRepository) CreateDelayTask(ctx context.Context, task *models.DelayTask) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO delay_tasks (
			id, execution_id, patient_id, next_node_id, next_node_type,
			form_name, trigger_at, processed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.ExecutionID,
		task.PatientID,
		task.NextNodeID,
		task.NextNodeType,
		task.FormName,
		task.TriggerAt,
		task.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to create delay task", "task_id", task.ID, "error", err)

		return persistence.NewDelayTaskError("Create", task.ID, err)
	}

	return nil
}

// DelayTaskByID loads one task.
func (r *DelayTaskRepository) DelayTaskByID(ctx context.Context, id string) (*models.DelayTask, error) {
	query := selectDelayTask + " WHERE id = $1"

	task, err := r.scanDelayTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDelayTaskError("GetByID", id, persistence.ErrDelayTaskNotFound)
		}

		return nil, persistence.NewDelayTaskError("GetByID", id, err)
	}

	return task, nil
}

// ClaimableDelayTasks lists unprocessed tasks whose claim is free or expired.
// A zero before lists all of them (forced execution); otherwise only tasks
// due at or before that instant.
func (r *DelayTaskRepository) ClaimableDelayTasks(ctx context.Context, before time.Time) ([]*models.DelayTask, error) {
	query := selectDelayTask + `
		WHERE processed = false
		  AND (processing_started_at IS NULL OR processing_started_at < NOW() - ($1 * INTERVAL '1 second'))
	`

	args := []any{r.claimTTL.Seconds()}

	if !before.IsZero() {
		query += " AND trigger_at <= $2"

		args = append(args, before)
	}

	query += " ORDER BY trigger_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query claimable delay tasks: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var tasks []*models.DelayTask

	for rows.Next() {
		task, err := r.scanDelayTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delay task: %w", err)
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delay task rows: %w", err)
	}

	return tasks, nil
}

// ClaimDelayTask performs the optimistic claim: one conditional update whose
// WHERE clause re-checks the unclaimed predicate. Exactly one concurrent
// caller observes an affected row; everyone else reports false and moves on.
func (r *DelayTaskRepository) ClaimDelayTask(ctx context.Context, taskID, instanceID string) (bool, error) {
	query := `
		UPDATE delay_tasks
		SET processing_started_at = NOW(), processing_instance_id = $2
		WHERE id = $1
		  AND processed = false
		  AND (processing_started_at IS NULL OR processing_started_at < NOW() - ($3 * INTERVAL '1 second'))
	`

	result, err := r.db.ExecContext(ctx, query, taskID, instanceID, r.claimTTL.Seconds())
	if err != nil {
		return false, persistence.NewDelayTaskError("Claim", taskID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewDelayTaskError("Claim", taskID, err)
	}

	return affected == 1, nil
}

// MarkDelayTaskProcessed finishes a task permanently. Call only after the
// execution advance has committed.
func (r *DelayTaskRepository) MarkDelayTaskProcessed(ctx context.Context, taskID string) error {
	query := `
		UPDATE delay_tasks
		SET processed = true, processed_at = NOW()
		WHERE id = $1 AND processed = false
	`

	result, err := r.db.ExecContext(ctx, query, taskID)
	if err != nil {
		return persistence.NewDelayTaskError("MarkProcessed", taskID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewDelayTaskError("MarkProcessed", taskID, err)
	}

	if affected == 0 {
		return persistence.NewDelayTaskError("MarkProcessed", taskID, persistence.ErrDelayTaskNotFound)
	}

	return nil
}

const selectDelayTask = `
	SELECT id, execution_id, patient_id, next_node_id, next_node_type,
	       form_name, trigger_at, processed, processed_at,
	       processing_started_at, processing_instance_id, created_at
	FROM delay_tasks
`

func (r *DelayTaskRepository) scanDelayTask(row rowScanner) (*models.DelayTask, error) {
	task := &models.DelayTask{}

	var (
		formName   sql.NullString
		instanceID sql.NullString
	)

	err := row.Scan(
		&task.ID,
		&task.ExecutionID,
		&task.PatientID,
		&task.NextNodeID,
		&task.NextNodeType,
		&formName,
		&task.TriggerAt,
		&task.Processed,
		&task.ProcessedAt,
		&task.ProcessingStartedAt,
		&instanceID,
		&task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.FormName = formName.String
	task.ProcessingInstanceID = instanceID.String

	return task, nil
}
