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

// FlowRepository handles flow-definition database operations. Nodes and edges
// are stored as JSON columns: the definition is read and written as a whole,
// never queried piecemeal.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

// SaveFlow inserts or updates a flow definition.
func (r *FlowRepository) SaveFlow(ctx context.Context, flow *models.FlowDefinition) error {
	nodesJSON, err := json.Marshal(flow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(flow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	query := `
		INSERT INTO flows (id, name, clinic_id, nodes, edges, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			clinic_id = EXCLUDED.clinic_id,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.ID, flow.Name, flow.ClinicID, nodesJSON, edgesJSON, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save flow", "flow_id", flow.ID, "error", err)

		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

// FlowByID loads one flow definition.
func (r *FlowRepository) FlowByID(ctx context.Context, id string) (*models.FlowDefinition, error) {
	query := `
		SELECT id, name, clinic_id, nodes, edges, created_at, updated_at
		FROM flows
		WHERE id = $1
	`

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, fmt.Errorf("failed to scan flow %s: %w", id, err)
	}

	return flow, nil
}

// Flows lists every flow definition.
func (r *FlowRepository) Flows(ctx context.Context) ([]*models.FlowDefinition, error) {
	query := `
		SELECT id, name, clinic_id, nodes, edges, created_at, updated_at
		FROM flows
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var flows []*models.FlowDefinition

	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flow rows: %w", err)
	}

	return flows, nil
}

// DeleteFlow removes a flow definition. Executions keep their embedded step
// lists, so deleting the definition does not orphan in-flight traversals.
func (r *FlowRepository) DeleteFlow(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM flows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrFlowNotFound
	}

	return nil
}

func (r *FlowRepository) scanFlow(row rowScanner) (*models.FlowDefinition, error) {
	flow := &models.FlowDefinition{}

	var (
		clinicID  sql.NullString
		nodesJSON []byte
		edgesJSON []byte
	)

	err := row.Scan(&flow.ID, &flow.Name, &clinicID, &nodesJSON, &edgesJSON, &flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		return nil, err
	}

	flow.ClinicID = clinicID.String

	if err := json.Unmarshal(nodesJSON, &flow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgesJSON, &flow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	return flow, nil
}
