package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/vidaflow/vidaflow/pkg/scheduler"
)

func TestDaemon_StartStop(t *testing.T) {
	f := newFixture(t)

	daemon := scheduler.NewDaemon(f.processor, f.executions, f.persistence, time.Minute, f.logger)

	ctx := context.Background()
	require.NoError(t, daemon.Start(ctx))

	err := daemon.Start(ctx)
	require.Error(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	daemon.Stop(stopCtx)

	// Stopping twice is safe.
	daemon.Stop(stopCtx)
}

func TestDaemon_RunOnceAssignsDueSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	schedule, err := models.NewAssignmentSchedule("sched-1", "flow-followup", "patient-42", "0 9 * * 1")
	require.NoError(t, err)

	// Force the schedule due now; NewAssignmentSchedule computed a future
	// time from the cron expression.
	schedule.NextDueAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.persistence.AssignmentScheduleRepository().SaveSchedule(ctx, schedule))

	daemon := scheduler.NewDaemon(f.processor, f.executions, f.persistence, time.Minute, f.logger)
	daemon.RunOnce(ctx)

	executions, err := f.persistence.ExecutionRepository().ExecutionsByPatient(ctx, "patient-42")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "flow-followup", executions[0].FlowID)
	assert.Equal(t, models.ExecutionPending, executions[0].Status)

	stored, err := f.persistence.AssignmentScheduleRepository().ScheduleByID(ctx, "sched-1")
	require.NoError(t, err)
	assert.True(t, stored.NextDueAt.After(time.Now().UTC()))

	// The schedule rolled forward, so a second pass assigns nothing new.
	daemon.RunOnce(ctx)

	executions, err = f.persistence.ExecutionRepository().ExecutionsByPatient(ctx, "patient-42")
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestDaemon_RunOnceProcessesDueTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exec, task := f.parkOnDelay(t)

	// Rewind the trigger so the regular due pass picks the task up.
	task.TriggerAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.persistence.DelayTaskRepository().CreateDelayTask(ctx, task))

	daemon := scheduler.NewDaemon(f.processor, f.executions, f.persistence, time.Minute, f.logger)
	daemon.RunOnce(ctx)

	stored, err := f.persistence.ExecutionRepository().ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "n-formstart", stored.CurrentNode)

	processed, err := f.persistence.DelayTaskRepository().DelayTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, processed.Processed)
}
