package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/persistence"
)

const executionsKind = "executions"

// ExecutionRepository implements persistence.ExecutionRepository on files.
type ExecutionRepository struct {
	persistence *Persistence
}

func (r *ExecutionRepository) CreateExecution(_ context.Context, execution *models.Execution) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.persistence.write(executionsKind, execution.ID, execution)
}

func (r *ExecutionRepository) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	execution := &models.Execution{}

	err := r.persistence.read(executionsKind, id, execution)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ExecutionsByPatient(_ context.Context, patientID string) ([]*models.Execution, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := readAll[models.Execution](r.persistence, executionsKind)
	if err != nil {
		return nil, err
	}

	var executions []*models.Execution

	for _, execution := range all {
		if execution.PatientID == patientID {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

// UpdateExecution applies the same compare-and-set contract as the SQL
// implementation: the write only lands when the stored updated_at still
// matches the caller's expectation.
func (r *ExecutionRepository) UpdateExecution(_ context.Context, execution *models.Execution, expectedUpdatedAt time.Time) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	stored := &models.Execution{}

	err := r.persistence.read(executionsKind, execution.ID, stored)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionConflict)
	}

	execution.UpdatedAt = time.Now().UTC()

	return r.persistence.write(executionsKind, execution.ID, execution)
}
