// Package postgresql provides the PostgreSQL persistence implementation for
// flows, executions, delay tasks and assignment schedules.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/vidaflow/vidaflow/pkg/persistence"
	"github.com/vidaflow/vidaflow/pkg/persistence/sqlbase"
)

// DefaultClaimTTL is how long a delay-task claim is honored before the task
// becomes claimable again. It bounds how long a crashed processor instance
// can strand a claimed-but-unprocessed task.
const DefaultClaimTTL = 10 * time.Minute

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	flowRepo     *FlowRepository
	executionRepo *ExecutionRepository
	delayTaskRepo *DelayTaskRepository
	scheduleRepo  *ScheduleRepository
}

// NewPersistence connects, runs migrations and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	return NewPersistenceWithClaimTTL(ctx, logger, databaseURL, DefaultClaimTTL)
}

// NewPersistenceWithClaimTTL is NewPersistence with an explicit delay-task
// claim TTL, for operators that need a different reclaim window.
func NewPersistenceWithClaimTTL(ctx context.Context, logger *slog.Logger, databaseURL string, claimTTL time.Duration) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		flowRepo:      NewFlowRepository(database, logger),
		executionRepo: NewExecutionRepository(database, logger),
		delayTaskRepo: NewDelayTaskRepository(database, logger, claimTTL),
		scheduleRepo:  NewScheduleRepository(database, logger),
	}, nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) DelayTaskRepository() persistence.DelayTaskRepository {
	return p.delayTaskRepo
}

func (p *Persistence) AssignmentScheduleRepository() persistence.AssignmentScheduleRepository {
	return p.scheduleRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				clinic_id VARCHAR(255),
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flows_clinic_id ON flows(clinic_id);
		`,
		2: `
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				flow_name VARCHAR(255) NOT NULL,
				patient_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				current_node VARCHAR(255),
				-- The whole step list plus the cursor travels in one JSON
				-- document so the position and the per-step state always
				-- move atomically with the row.
				current_step JSONB NOT NULL,
				total_steps INTEGER NOT NULL,
				completed_steps INTEGER NOT NULL DEFAULT 0,
				progress INTEGER NOT NULL DEFAULT 0,
				field_responses JSONB NOT NULL DEFAULT '{}',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				next_step_available_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_patient_id ON executions(patient_id);
			CREATE INDEX idx_executions_flow_id ON executions(flow_id);
			CREATE INDEX idx_executions_status ON executions(status);
		`,
		3: `
			CREATE TABLE delay_tasks (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				patient_id VARCHAR(255) NOT NULL,
				next_node_id VARCHAR(255) NOT NULL,
				next_node_type VARCHAR(64) NOT NULL,
				form_name VARCHAR(255),
				trigger_at TIMESTAMP WITH TIME ZONE NOT NULL,
				processed BOOLEAN NOT NULL DEFAULT false,
				processed_at TIMESTAMP WITH TIME ZONE,
				processing_started_at TIMESTAMP WITH TIME ZONE,
				processing_instance_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_delay_tasks_execution_id ON delay_tasks(execution_id);

			-- The processor's candidate scan: unprocessed tasks by due time.
			CREATE INDEX idx_delay_tasks_pending ON delay_tasks(trigger_at)
				WHERE processed = false;
		`,
		4: `
			CREATE TABLE assignment_schedules (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				patient_id VARCHAR(255) NOT NULL,
				cron_expression VARCHAR(255) NOT NULL,
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true
			);

			CREATE INDEX idx_assignment_schedules_due ON assignment_schedules(active, next_due_at)
				WHERE active = true;
		`,
	}
}
