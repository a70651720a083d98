package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// CreateExecution inserts a new execution row.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	cursorJSON, err := json.Marshal(execution.Cursor)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID,
			fmt.Errorf("failed to marshal step cursor: %w", err))
	}

	responsesJSON, err := json.Marshal(execution.FieldResponses)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID,
			fmt.Errorf("failed to marshal field responses: %w", err))
	}

	query := `
		INSERT INTO executions (
			id, flow_id, flow_name, patient_id, status, current_node,
			current_step, total_steps, completed_steps, progress,
			field_responses, started_at, completed_at,
			next_step_available_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.FlowID,
		execution.FlowName,
		execution.PatientID,
		execution.Status,
		execution.CurrentNode,
		cursorJSON,
		execution.TotalSteps,
		execution.CompletedSteps,
		execution.Progress,
		responsesJSON,
		execution.StartedAt,
		execution.CompletedAt,
		execution.NextStepAvailableAt,
		execution.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to create execution", "execution_id", execution.ID, "error", err)

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// ExecutionByID loads one execution row, cursor included.
func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	query := selectExecution + " WHERE id = $1"

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// ExecutionsByPatient lists a patient's executions, most recent first.
func (r *ExecutionRepository) ExecutionsByPatient(ctx context.Context, patientID string) ([]*models.Execution, error) {
	query := selectExecution + " WHERE patient_id = $1 ORDER BY started_at DESC"

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for patient %s: %w", patientID, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var executions []*models.Execution

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}

	return executions, nil
}

// UpdateExecution persists the whole record with a compare-and-set on
// updated_at. Zero affected rows means either the row vanished or another
// writer committed in between; the two cases map to distinct errors.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.Execution, expectedUpdatedAt time.Time) error {
	cursorJSON, err := json.Marshal(execution.Cursor)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID,
			fmt.Errorf("failed to marshal step cursor: %w", err))
	}

	responsesJSON, err := json.Marshal(execution.FieldResponses)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID,
			fmt.Errorf("failed to marshal field responses: %w", err))
	}

	execution.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE executions SET
			status = $2,
			current_node = $3,
			current_step = $4,
			total_steps = $5,
			completed_steps = $6,
			progress = $7,
			field_responses = $8,
			completed_at = $9,
			next_step_available_at = $10,
			updated_at = $11
		WHERE id = $1 AND updated_at = $12
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		execution.CurrentNode,
		cursorJSON,
		execution.TotalSteps,
		execution.CompletedSteps,
		execution.Progress,
		responsesJSON,
		execution.CompletedAt,
		execution.NextStepAvailableAt,
		execution.UpdatedAt,
		expectedUpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update execution", "execution_id", execution.ID, "error", err)

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)", execution.ID).Scan(&exists)
		if err != nil {
			return persistence.NewExecutionError("Update", execution.ID, err)
		}

		if !exists {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionConflict)
	}

	return nil
}

const selectExecution = `
	SELECT id, flow_id, flow_name, patient_id, status, current_node,
	       current_step, total_steps, completed_steps, progress,
	       field_responses, started_at, completed_at,
	       next_step_available_at, updated_at
	FROM executions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.Execution, error) {
	execution := &models.Execution{}

	var (
		cursorJSON    []byte
		responsesJSON []byte
		currentNode   sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.FlowID,
		&execution.FlowName,
		&execution.PatientID,
		&execution.Status,
		&currentNode,
		&cursorJSON,
		&execution.TotalSteps,
		&execution.CompletedSteps,
		&execution.Progress,
		&responsesJSON,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.NextStepAvailableAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.CurrentNode = currentNode.String

	if err := json.Unmarshal(cursorJSON, &execution.Cursor); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step cursor: %w", err)
	}

	if err := json.Unmarshal(responsesJSON, &execution.FieldResponses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field responses: %w", err)
	}

	return execution, nil
}
