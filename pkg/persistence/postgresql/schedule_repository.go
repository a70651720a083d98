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

// ScheduleRepository handles recurring assignment schedules.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

// SaveSchedule inserts or updates a schedule.
func (r *ScheduleRepository) SaveSchedule(ctx context.Context, schedule *models.AssignmentSchedule) error {
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	query := `
		INSERT INTO assignment_schedules (
			id, flow_id, patient_id, cron_expression, next_due_at,
			created_at, updated_at, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			flow_id = EXCLUDED.flow_id,
			patient_id = EXCLUDED.patient_id,
			cron_expression = EXCLUDED.cron_expression,
			next_due_at = EXCLUDED.next_due_at,
			updated_at = EXCLUDED.updated_at,
			active = EXCLUDED.active
	`

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.FlowID,
		schedule.PatientID,
		schedule.CronExpression,
		schedule.NextDueAt,
		schedule.CreatedAt,
		schedule.UpdatedAt,
		schedule.Active,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save schedule", "schedule_id", schedule.ID, "error", err)

		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}

// ScheduleByID retrieves a schedule by its ID.
func (r *ScheduleRepository) ScheduleByID(ctx context.Context, id string) (*models.AssignmentSchedule, error) {
	query := selectSchedule + " WHERE id = $1"

	schedule, err := r.scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to scan schedule %s: %w", id, err)
	}

	return schedule, nil
}

// DueSchedules retrieves active schedules due at or before the given instant.
func (r *ScheduleRepository) DueSchedules(ctx context.Context, before time.Time) ([]*models.AssignmentSchedule, error) {
	query := selectSchedule + `
		WHERE active = true AND next_due_at <= $1
		ORDER BY next_due_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var schedules []*models.AssignmentSchedule

	for rows.Next() {
		schedule, err := r.scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule rows: %w", err)
	}

	return schedules, nil
}

// DeleteSchedule removes a schedule permanently.
func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM assignment_schedules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrScheduleNotFound
	}

	return nil
}

const selectSchedule = `
	SELECT id, flow_id, patient_id, cron_expression, next_due_at,
	       created_at, updated_at, active
	FROM assignment_schedules
`

func (r *ScheduleRepository) scanSchedule(row rowScanner) (*models.AssignmentSchedule, error) {
	schedule := &models.AssignmentSchedule{}

	err := row.Scan(
		&schedule.ID,
		&schedule.FlowID,
		&schedule.PatientID,
		&schedule.CronExpression,
		&schedule.NextDueAt,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
		&schedule.Active,
	)
	if err != nil {
		return nil, err
	}

	return schedule, nil
}
