package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/persistence"
)

const delayTasksKind = "delay_tasks"

// ClaimTTL mirrors the PostgreSQL default reclaim window.
const ClaimTTL = 10 * time.Minute

// DelayTaskRepository implements persistence.DelayTaskRepository on files.
// The process-wide mutex stands in for the database's conditional update, so
// concurrent claims still resolve to exactly one winner.
type DelayTaskRepository struct {
	persistence *Persistence
}

func (r *DelayTaskRepository) CreateDelayTask(_ context.Context, task *models.DelayTask) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	return r.persistence.write(delayTasksKind, task.ID, task)
}

func (r *DelayTaskRepository) DelayTaskByID(_ context.Context, id string) (*models.DelayTask, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	task := &models.DelayTask{}

	err := r.persistence.read(delayTasksKind, id, task)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewDelayTaskError("GetByID", id, persistence.ErrDelayTaskNotFound)
		}

		return nil, persistence.NewDelayTaskError("GetByID", id, err)
	}

	return task, nil
}

func (r *DelayTaskRepository) ClaimableDelayTasks(_ context.Context, before time.Time) ([]*models.DelayTask, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := readAll[models.DelayTask](r.persistence, delayTasksKind)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	var tasks []*models.DelayTask

	for _, task := range all {
		if !claimable(task, now) {
			continue
		}

		if !before.IsZero() && task.TriggerAt.After(before) {
			continue
		}

		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].TriggerAt.Before(tasks[j].TriggerAt)
	})

	return tasks, nil
}

func (r *DelayTaskRepository) ClaimDelayTask(_ context.Context, taskID, instanceID string) (bool, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	task := &models.DelayTask{}

	err := r.persistence.read(delayTasksKind, taskID, task)
	if err != nil {
		if os.IsNotExist(err) {
			return false, persistence.NewDelayTaskError("Claim", taskID, persistence.ErrDelayTaskNotFound)
		}

		return false, persistence.NewDelayTaskError("Claim", taskID, err)
	}

	now := time.Now().UTC()
	if !claimable(task, now) {
		return false, nil
	}

	task.ProcessingStartedAt = &now
	task.ProcessingInstanceID = instanceID

	if err := r.persistence.write(delayTasksKind, taskID, task); err != nil {
		return false, persistence.NewDelayTaskError("Claim", taskID, err)
	}

	return true, nil
}

func (r *DelayTaskRepository) MarkDelayTaskProcessed(_ context.Context, taskID string) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	task := &models.DelayTask{}

	err := r.persistence.read(delayTasksKind, taskID, task)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewDelayTaskError("MarkProcessed", taskID, persistence.ErrDelayTaskNotFound)
		}

		return persistence.NewDelayTaskError("MarkProcessed", taskID, err)
	}

	if task.Processed {
		return persistence.NewDelayTaskError("MarkProcessed", taskID, persistence.ErrDelayTaskNotFound)
	}

	now := time.Now().UTC()
	task.Processed = true
	task.ProcessedAt = &now

	return r.persistence.write(delayTasksKind, taskID, task)
}

// claimable reports whether a task is unprocessed and either unclaimed or
// holding an expired claim.
func claimable(task *models.DelayTask, now time.Time) bool {
	if task.Processed {
		return false
	}

	if task.ProcessingStartedAt == nil {
		return true
	}

	return task.ProcessingStartedAt.Before(now.Add(-ClaimTTL))
}
