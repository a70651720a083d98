package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/persistence"
)

const schedulesKind = "schedules"

// ScheduleRepository implements persistence.AssignmentScheduleRepository on files.
type ScheduleRepository struct {
	persistence *Persistence
}

func (r *ScheduleRepository) SaveSchedule(_ context.Context, schedule *models.AssignmentSchedule) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	return r.persistence.write(schedulesKind, schedule.ID, schedule)
}

func (r *ScheduleRepository) ScheduleByID(_ context.Context, id string) (*models.AssignmentSchedule, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	schedule := &models.AssignmentSchedule{}

	err := r.persistence.read(schedulesKind, id, schedule)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, err
	}

	return schedule, nil
}

func (r *ScheduleRepository) DueSchedules(_ context.Context, before time.Time) ([]*models.AssignmentSchedule, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := readAll[models.AssignmentSchedule](r.persistence, schedulesKind)
	if err != nil {
		return nil, err
	}

	var schedules []*models.AssignmentSchedule

	for _, schedule := range all {
		if schedule.Active && !schedule.NextDueAt.After(before) {
			schedules = append(schedules, schedule)
		}
	}

	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].NextDueAt.Before(schedules[j].NextDueAt)
	})

	return schedules, nil
}

func (r *ScheduleRepository) DeleteSchedule(_ context.Context, id string) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	err := os.Remove(r.persistence.entityPath(schedulesKind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrScheduleNotFound
		}

		return err
	}

	return nil
}
