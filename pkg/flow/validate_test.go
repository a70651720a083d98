package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidaflow/vidaflow/pkg/flow"
	"github.com/vidaflow/vidaflow/pkg/models"
)

func TestValidateDefinition(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "valid definition",
			raw: `{
				"name": "Acompanhamento",
				"nodes": [
					{"id": "n1", "type": "start"},
					{"id": "n2", "type": "question"},
					{"id": "n3", "type": "end"}
				],
				"edges": [
					{"id": "e1", "source": "n1", "target": "n2"},
					{"id": "e2", "source": "n2", "target": "n3"}
				]
			}`,
		},
		{
			name:    "name too short",
			raw:     `{"name": "Ab", "nodes": [{"id": "n1", "type": "start"}], "edges": []}`,
			wantErr: true,
		},
		{
			name:    "unknown node type",
			raw:     `{"name": "Fluxo", "nodes": [{"id": "n1", "type": "teleport"}], "edges": []}`,
			wantErr: true,
		},
		{
			name:    "negative delay",
			raw:     `{"name": "Fluxo", "nodes": [{"id": "n1", "type": "delay", "delay_minutes": -5}], "edges": []}`,
			wantErr: true,
		},
		{
			name:    "empty nodes",
			raw:     `{"name": "Fluxo", "nodes": [], "edges": []}`,
			wantErr: true,
		},
		{
			name:    "missing edge target",
			raw:     `{"name": "Fluxo", "nodes": [{"id": "n1", "type": "start"}], "edges": [{"id": "e1", "source": "n1"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := flow.ValidateDefinition([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateStructure(t *testing.T) {
	valid := &models.FlowDefinition{
		Name: "Fluxo",
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeStart},
			{ID: "n2", Type: models.NodeEnd},
		},
		Edges: []*models.Edge{{ID: "e1", Source: "n1", Target: "n2"}},
	}
	require.NoError(t, flow.ValidateStructure(valid))

	noStart := &models.FlowDefinition{
		Name:  "Fluxo",
		Nodes: []*models.Node{{ID: "n1", Type: models.NodeQuestion}},
	}
	assert.Error(t, flow.ValidateStructure(noStart))

	twoStarts := &models.FlowDefinition{
		Name: "Fluxo",
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeStart},
			{ID: "n2", Type: models.NodeStart},
		},
	}
	assert.Error(t, flow.ValidateStructure(twoStarts))

	duplicateIDs := &models.FlowDefinition{
		Name: "Fluxo",
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeStart},
			{ID: "n1", Type: models.NodeEnd},
		},
	}
	assert.Error(t, flow.ValidateStructure(duplicateIDs))

	danglingEdge := &models.FlowDefinition{
		Name:  "Fluxo",
		Nodes: []*models.Node{{ID: "n1", Type: models.NodeStart}},
		Edges: []*models.Edge{{ID: "e1", Source: "n1", Target: "ghost"}},
	}
	assert.Error(t, flow.ValidateStructure(danglingEdge))
}
