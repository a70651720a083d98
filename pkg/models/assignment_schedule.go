package models

import (
	"time"

	"github.com/robfig/cron/v3"
)

// AssignmentSchedule re-assigns a flow to a patient on a recurring cadence
// (periodic questionnaires, follow-up check-ins). NextDueAt is precomputed so
// the scheduler daemon can poll due schedules with one indexed query instead
// of keeping per-schedule timers.
type AssignmentSchedule struct {
	// ID uniquely identifies this schedule entry.
	ID string `json:"id" validate:"required"`

	FlowID    string `json:"flow_id"    validate:"required"`
	PatientID string `json:"patient_id" validate:"required"`

	// CronExpression uses the standard 5-field format
	// (minute hour day month weekday).
	CronExpression string `json:"cron_expression" validate:"required"`

	// NextDueAt is the precomputed next assignment time.
	NextDueAt time.Time `json:"next_due_at" validate:"required"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Active schedules are the only ones the poller considers.
	Active bool `json:"active"`
}

// NewAssignmentSchedule creates a schedule with its first due time computed
// from now.
func NewAssignmentSchedule(id, flowID, patientID, cronExpression string) (*AssignmentSchedule, error) {
	now := time.Now().UTC()
	schedule := &AssignmentSchedule{
		ID:             id,
		FlowID:         flowID,
		PatientID:      patientID,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.calculateNextDueAt(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// UpdateNextDueAt recomputes the next assignment time from now.
func (s *AssignmentSchedule) UpdateNextDueAt() error {
	return s.calculateNextDueAt(time.Now().UTC())
}

func (s *AssignmentSchedule) calculateNextDueAt(referenceTime time.Time) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	cronSchedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = cronSchedule.Next(referenceTime)
	s.UpdatedAt = time.Now().UTC()

	return nil
}
