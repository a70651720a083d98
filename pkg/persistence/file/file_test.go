package file_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/persistence"
	"github.com/vidaflow/vidaflow/pkg/persistence/file"
)

func newPersistence(t *testing.T) *file.Persistence {
	t.Helper()
	return file.NewPersistence(t.TempDir())
}

func sampleExecution(id string) *models.Execution {
	now := time.Now().UTC()

	return &models.Execution{
		ID:        id,
		FlowID:    "flow-1",
		FlowName:  "Fluxo",
		PatientID: "patient-1",
		Status:    models.ExecutionInProgress,
		Cursor: models.StepCursor{
			Steps: []models.StepDescriptor{
				{NodeID: "q1", NodeType: models.NodeQuestion, Order: 0},
				{NodeID: "fs", NodeType: models.NodeFormStart, Order: 1},
			},
		},
		TotalSteps:     2,
		FieldResponses: models.FieldResponses{},
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

func TestExecutionRepository_RoundTrip(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	execution := sampleExecution("exec-1")
	execution.FieldResponses["peso"] = models.NumberValue(70)

	require.NoError(t, p.ExecutionRepository().CreateExecution(ctx, execution))

	loaded, err := p.ExecutionRepository().ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)

	assert.Equal(t, execution.ID, loaded.ID)
	assert.Len(t, loaded.Cursor.Steps, 2)
	assert.Equal(t, "q1", loaded.Cursor.CurrentStep().NodeID)

	peso, ok := loaded.FieldResponses["peso"].AsNumber()
	require.True(t, ok)
	assert.InDelta(t, 70, peso, 0.001)
}

func TestExecutionRepository_NotFound(t *testing.T) {
	p := newPersistence(t)

	_, err := p.ExecutionRepository().ExecutionByID(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_CompareAndSet(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	execution := sampleExecution("exec-1")
	require.NoError(t, p.ExecutionRepository().CreateExecution(ctx, execution))

	stored, err := p.ExecutionRepository().ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)

	// First writer wins.
	stored.CompletedSteps = 1
	require.NoError(t, p.ExecutionRepository().UpdateExecution(ctx, stored, stored.UpdatedAt))

	// A writer holding the old timestamp conflicts.
	stale := sampleExecution("exec-1")
	err = p.ExecutionRepository().UpdateExecution(ctx, stale, execution.UpdatedAt)
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionConflict(err))
}

func TestExecutionRepository_ConcurrentWritersOneWins(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	execution := sampleExecution("exec-1")
	require.NoError(t, p.ExecutionRepository().CreateExecution(ctx, execution))

	stored, err := p.ExecutionRepository().ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)

	expectedUpdatedAt := stored.UpdatedAt

	var wg sync.WaitGroup

	errs := make([]error, 10)

	for i := range errs {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			candidate := sampleExecution("exec-1")
			candidate.CompletedSteps = i
			errs[i] = p.ExecutionRepository().UpdateExecution(ctx, candidate, expectedUpdatedAt)
		}(i)
	}

	wg.Wait()

	wins := 0

	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, persistence.IsExecutionConflict(err))
		}
	}

	assert.Equal(t, 1, wins)
}

func TestDelayTaskRepository_ClaimOnce(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	task := &models.DelayTask{
		ID:          "task-1",
		ExecutionID: "exec-1",
		PatientID:   "patient-1",
		NextNodeID:  "fs",
		TriggerAt:   time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, p.DelayTaskRepository().CreateDelayTask(ctx, task))

	claimed, err := p.DelayTaskRepository().ClaimDelayTask(ctx, "task-1", "instance-a")
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim while the first is active loses.
	claimed, err = p.DelayTaskRepository().ClaimDelayTask(ctx, "task-1", "instance-b")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestDelayTaskRepository_ConcurrentClaimsOneWinner(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	task := &models.DelayTask{
		ID:          "task-1",
		ExecutionID: "exec-1",
		PatientID:   "patient-1",
		NextNodeID:  "fs",
		TriggerAt:   time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, p.DelayTaskRepository().CreateDelayTask(ctx, task))

	var (
		wg   sync.WaitGroup
		wins int32
		mu   sync.Mutex
	)

	for i := range 10 {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			claimed, err := p.DelayTaskRepository().ClaimDelayTask(ctx, "task-1", "instance")
			assert.NoError(t, err)

			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestDelayTaskRepository_StaleClaimReclaimable(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	staleStart := time.Now().UTC().Add(-file.ClaimTTL - time.Minute)
	task := &models.DelayTask{
		ID:                   "task-1",
		ExecutionID:          "exec-1",
		PatientID:            "patient-1",
		NextNodeID:           "fs",
		TriggerAt:            time.Now().UTC().Add(-time.Hour),
		ProcessingStartedAt:  &staleStart,
		ProcessingInstanceID: "crashed-instance",
	}
	require.NoError(t, p.DelayTaskRepository().CreateDelayTask(ctx, task))

	tasks, err := p.DelayTaskRepository().ClaimableDelayTasks(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	claimed, err := p.DelayTaskRepository().ClaimDelayTask(ctx, "task-1", "instance-b")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestDelayTaskRepository_ClaimableFiltersByTrigger(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	now := time.Now().UTC()

	due := &models.DelayTask{ID: "due", ExecutionID: "e1", PatientID: "p1", NextNodeID: "n", TriggerAt: now.Add(-time.Minute)}
	future := &models.DelayTask{ID: "future", ExecutionID: "e2", PatientID: "p1", NextNodeID: "n", TriggerAt: now.Add(time.Hour)}

	require.NoError(t, p.DelayTaskRepository().CreateDelayTask(ctx, due))
	require.NoError(t, p.DelayTaskRepository().CreateDelayTask(ctx, future))

	tasks, err := p.DelayTaskRepository().ClaimableDelayTasks(ctx, now)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "due", tasks[0].ID)

	// The zero time lists everything, for forced execution.
	tasks, err = p.DelayTaskRepository().ClaimableDelayTasks(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestDelayTaskRepository_MarkProcessed(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	task := &models.DelayTask{
		ID:          "task-1",
		ExecutionID: "exec-1",
		PatientID:   "patient-1",
		NextNodeID:  "fs",
		TriggerAt:   time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, p.DelayTaskRepository().CreateDelayTask(ctx, task))
	require.NoError(t, p.DelayTaskRepository().MarkDelayTaskProcessed(ctx, "task-1"))

	stored, err := p.DelayTaskRepository().DelayTaskByID(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	require.NotNil(t, stored.ProcessedAt)

	// A processed task is gone from the claimable set and cannot be claimed.
	tasks, err := p.DelayTaskRepository().ClaimableDelayTasks(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	claimed, err := p.DelayTaskRepository().ClaimDelayTask(ctx, "task-1", "instance-a")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestScheduleRepository_DueSchedules(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	due, err := models.NewAssignmentSchedule("due", "flow-1", "patient-1", "* * * * *")
	require.NoError(t, err)
	due.NextDueAt = time.Now().UTC().Add(-time.Minute)

	future, err := models.NewAssignmentSchedule("future", "flow-1", "patient-2", "0 9 * * 1")
	require.NoError(t, err)

	inactive, err := models.NewAssignmentSchedule("inactive", "flow-1", "patient-3", "* * * * *")
	require.NoError(t, err)
	inactive.NextDueAt = time.Now().UTC().Add(-time.Minute)
	inactive.Active = false

	for _, schedule := range []*models.AssignmentSchedule{due, future, inactive} {
		require.NoError(t, p.AssignmentScheduleRepository().SaveSchedule(ctx, schedule))
	}

	schedules, err := p.AssignmentScheduleRepository().DueSchedules(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "due", schedules[0].ID)
}

func TestFlowRepository_RoundTrip(t *testing.T) {
	p := newPersistence(t)
	ctx := context.Background()

	definition := &models.FlowDefinition{
		ID:   "flow-1",
		Name: "Fluxo",
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeStart},
			{ID: "n2", Type: models.NodeEnd},
		},
		Edges: []*models.Edge{{ID: "e1", Source: "n1", Target: "n2"}},
	}

	require.NoError(t, p.FlowRepository().SaveFlow(ctx, definition))

	loaded, err := p.FlowRepository().FlowByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "Fluxo", loaded.Name)
	assert.Len(t, loaded.Nodes, 2)

	flows, err := p.FlowRepository().Flows(ctx)
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	require.NoError(t, p.FlowRepository().DeleteFlow(ctx, "flow-1"))

	_, err = p.FlowRepository().FlowByID(ctx, "flow-1")
	require.Error(t, err)
	assert.True(t, persistence.IsFlowNotFound(err))
}
