package file

import (
	"context"
	"os"
	"sort"

	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/persistence"
)

const flowsKind = "flows"

// FlowRepository implements persistence.FlowRepository on files.
type FlowRepository struct {
	persistence *Persistence
}

func (r *FlowRepository) SaveFlow(_ context.Context, flow *models.FlowDefinition) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.persistence.write(flowsKind, flow.ID, flow)
}

func (r *FlowRepository) FlowByID(_ context.Context, id string) (*models.FlowDefinition, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	flow := &models.FlowDefinition{}

	err := r.persistence.read(flowsKind, id, flow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, err
	}

	return flow, nil
}

func (r *FlowRepository) Flows(_ context.Context) ([]*models.FlowDefinition, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	flows, err := readAll[models.FlowDefinition](r.persistence, flowsKind)
	if err != nil {
		return nil, err
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.Before(flows[j].CreatedAt)
	})

	return flows, nil
}

func (r *FlowRepository) DeleteFlow(_ context.Context, id string) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	err := os.Remove(r.persistence.entityPath(flowsKind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrFlowNotFound
		}

		return err
	}

	return nil
}
