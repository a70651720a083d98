package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidaflow/vidaflow/pkg/conditions"
	"github.com/vidaflow/vidaflow/pkg/execution"
	"github.com/vidaflow/vidaflow/pkg/expr"
	"github.com/vidaflow/vidaflow/pkg/flow"
	"github.com/vidaflow/vidaflow/pkg/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vidaflow/vidaflow/pkg/notification"
	"github.com/vidaflow/vidaflow/pkg/persistence"
	"github.com/vidaflow/vidaflow/pkg/persistence/file"
	"github.com/vidaflow/vidaflow/pkg/scheduler"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls int32
	forms []string
	err   error
}

func (d *recordingDispatcher) Notify(_ context.Context, _ string, formName, _ string) (notification.Result, error) {
	atomic.AddInt32(&d.calls, 1)

	d.mu.Lock()
	d.forms = append(d.forms, formName)
	d.mu.Unlock()

	if d.err != nil {
		return notification.Result{}, d.err
	}

	return notification.Result{Success: true, FormName: formName}, nil
}

func followUpFlow() *models.FlowDefinition {
	return &models.FlowDefinition{
		ID:   "flow-followup",
		Name: "Retorno pós-consulta",
		Nodes: []*models.Node{
			{ID: "n-start", Type: models.NodeStart},
			{ID: "n-question", Type: models.NodeQuestion, Title: "Primeira consulta", Fields: []models.CalculatorField{
				{ID: "f1", Nomenclatura: "dor", Pergunta: "Nível de dor?", Order: 0, FieldType: models.FieldPergunta},
			}},
			{ID: "n-delay", Type: models.NodeDelay, Title: "Aguardar 2h", DelayMinutes: 120},
			{ID: "n-formstart", Type: models.NodeFormStart, Title: "Reavaliação", FormID: "form-3", FormName: "Reavaliação"},
			{ID: "n-end", Type: models.NodeEnd},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "n-start", Target: "n-question"},
			{ID: "e2", Source: "n-question", Target: "n-delay"},
			{ID: "e3", Source: "n-delay", Target: "n-formstart"},
			{ID: "e4", Source: "n-formstart", Target: "n-end"},
		},
	}
}

type fixture struct {
	persistence *file.Persistence
	executions  *execution.Service
	dispatcher  *recordingDispatcher
	processor   *scheduler.Processor
	logger      *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	persistence := file.NewPersistence(t.TempDir())
	dispatcher := &recordingDispatcher{}

	linearizer := flow.NewLinearizer(conditions.NewEvaluator(logger), logger)
	executions := execution.NewService(persistence, linearizer, expr.NewEvaluator(logger), nil, nil, logger)
	processor := scheduler.NewProcessor(persistence, executions, dispatcher, nil, "test-instance", logger)

	require.NoError(t, persistence.FlowRepository().SaveFlow(context.Background(), followUpFlow()))

	return &fixture{
		persistence: persistence,
		executions:  executions,
		dispatcher:  dispatcher,
		processor:   processor,
		logger:      logger,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// parkOnDelay creates an execution and completes steps until a delay task
// exists, then returns the execution and that task.
func (f *fixture) parkOnDelay(t *testing.T) (*models.Execution, *models.DelayTask) {
	t.Helper()
	ctx := context.Background()

	exec, err := f.executions.Assign(ctx, "flow-followup", "patient-9")
	require.NoError(t, err)

	exec, err = f.executions.CompleteCurrentStep(ctx, exec.ID, "n-question", map[string]any{"dor": 7.0})
	require.NoError(t, err)
	require.Equal(t, "n-delay", exec.CurrentNode)

	tasks, err := f.persistence.DelayTaskRepository().ClaimableDelayTasks(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	return exec, tasks[0]
}

func TestProcessor_DueTasksOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.parkOnDelay(t)

	// The task triggers two hours out, so the due pass finds nothing.
	summary, err := f.processor.ProcessDueTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Candidates)
	assert.Equal(t, 0, summary.Claimed)
}

func TestProcessor_ForcedPassAdvancesAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exec, task := f.parkOnDelay(t)

	summary, err := f.processor.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Candidates)
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Errored)

	stored, err := f.persistence.ExecutionRepository().ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "n-formstart", stored.CurrentNode)
	assert.Nil(t, stored.NextStepAvailableAt)

	current := stored.Cursor.CurrentStep()
	require.NotNil(t, current)
	assert.False(t, current.Completed)
	require.NotNil(t, current.AvailableAt)

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dispatcher.calls))
	assert.Equal(t, []string{"Reavaliação"}, f.dispatcher.forms)

	processed, err := f.persistence.DelayTaskRepository().DelayTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, processed.Processed)
	require.NotNil(t, processed.ProcessedAt)
}

func TestProcessor_SecondPassIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.parkOnDelay(t)

	_, err := f.processor.ProcessAllPending(ctx)
	require.NoError(t, err)

	summary, err := f.processor.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Candidates)

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dispatcher.calls))
}

func TestProcessor_StaleExecutionDiscardsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exec, task := f.parkOnDelay(t)

	_, err := f.executions.Fail(ctx, exec.ID, "patient dropped out")
	require.NoError(t, err)

	summary, err := f.processor.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 1, summary.Processed)

	processed, err := f.persistence.DelayTaskRepository().DelayTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, processed.Processed)

	assert.Equal(t, int32(0), atomic.LoadInt32(&f.dispatcher.calls))
}

func TestProcessor_PausedExecutionLeavesTaskPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exec, task := f.parkOnDelay(t)

	_, err := f.executions.Pause(ctx, exec.ID, "vacation")
	require.NoError(t, err)

	summary, err := f.processor.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Errored)

	pending, err := f.persistence.DelayTaskRepository().DelayTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, pending.Processed)
}

func TestProcessor_DispatchErrorKeepsTaskUnprocessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exec, task := f.parkOnDelay(t)

	f.dispatcher.err = errors.New("whatsapp gateway down")

	summary, err := f.processor.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Errored)

	// The advance landed before the dispatch attempt.
	stored, err := f.persistence.ExecutionRepository().ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "n-formstart", stored.CurrentNode)

	pending, err := f.persistence.DelayTaskRepository().DelayTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, pending.Processed)

	// Release the claim the way an expired TTL would, then retry: the
	// execution is already advanced so only the notification is re-sent.
	pending.ProcessingStartedAt = nil
	pending.ProcessingInstanceID = ""
	require.NoError(t, f.persistence.DelayTaskRepository().CreateDelayTask(ctx, pending))

	f.dispatcher.err = nil

	summary, err = f.processor.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	processed, err := f.persistence.DelayTaskRepository().DelayTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, processed.Processed)

	assert.Equal(t, int32(2), atomic.LoadInt32(&f.dispatcher.calls))
}

func TestProcessor_OrphanedTaskIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exec, err := f.executions.Assign(ctx, "flow-followup", "patient-2")
	require.NoError(t, err)

	// A task whose execution never parked on the delay step, as left behind
	// by a completion that failed between the task insert and the execution
	// write.
	now := time.Now().UTC()
	orphan := &models.DelayTask{
		ID:           uuid.New().String(),
		ExecutionID:  exec.ID,
		PatientID:    exec.PatientID,
		NextNodeID:   "n-formstart",
		NextNodeType: models.NodeFormStart,
		FormName:     "Reavaliação",
		TriggerAt:    now,
		CreatedAt:    now,
	}
	require.NoError(t, f.persistence.DelayTaskRepository().CreateDelayTask(ctx, orphan))

	summary, err := f.processor.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Errored)

	// Discarded without a notification; the execution stays where it was.
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.dispatcher.calls))

	stored, err := f.persistence.ExecutionRepository().ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "n-question", stored.CurrentNode)

	discarded, err := f.persistence.DelayTaskRepository().DelayTaskByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.True(t, discarded.Processed)
}

// stubbornTaskStore delegates to the real task repository but fails the
// processed mark on demand.
type stubbornTaskStore struct {
	persistence.DelayTaskRepository
	markErr error
}

func (s *stubbornTaskStore) MarkDelayTaskProcessed(ctx context.Context, taskID string) error {
	if s.markErr != nil {
		return s.markErr
	}

	return s.DelayTaskRepository.MarkDelayTaskProcessed(ctx, taskID)
}

type wrappedPersistence struct {
	*file.Persistence
	tasks persistence.DelayTaskRepository
}

func (w *wrappedPersistence) DelayTaskRepository() persistence.DelayTaskRepository {
	return w.tasks
}

func TestProcessor_MissingExecutionMarkFailureCountsErrored(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	store := file.NewPersistence(t.TempDir())
	tasks := &stubbornTaskStore{DelayTaskRepository: store.DelayTaskRepository()}
	wrapped := &wrappedPersistence{Persistence: store, tasks: tasks}
	dispatcher := &recordingDispatcher{}

	linearizer := flow.NewLinearizer(conditions.NewEvaluator(logger), logger)
	executions := execution.NewService(wrapped, linearizer, expr.NewEvaluator(logger), nil, nil, logger)
	processor := scheduler.NewProcessor(wrapped, executions, dispatcher, nil, "test-instance", logger)

	ctx := context.Background()
	now := time.Now().UTC()
	task := &models.DelayTask{
		ID:           uuid.New().String(),
		ExecutionID:  "gone",
		PatientID:    "patient-2",
		NextNodeID:   "n-formstart",
		NextNodeType: models.NodeFormStart,
		TriggerAt:    now,
		CreatedAt:    now,
	}
	require.NoError(t, store.DelayTaskRepository().CreateDelayTask(ctx, task))

	tasks.markErr = errors.New("write failed")

	summary, err := processor.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Errored)

	// Release the claim and let the mark succeed: the discard completes.
	stored, err := store.DelayTaskRepository().DelayTaskByID(ctx, task.ID)
	require.NoError(t, err)
	stored.ProcessingStartedAt = nil
	stored.ProcessingInstanceID = ""
	require.NoError(t, store.DelayTaskRepository().CreateDelayTask(ctx, stored))

	tasks.markErr = nil

	summary, err = processor.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
}

func TestProcessor_EmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	f := newFixture(t)
	ctx := context.Background()

	f.parkOnDelay(t)

	_, err := f.processor.ProcessAllPending(ctx)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}

	assert.True(t, names["processor.run"])
	assert.True(t, names["processor.task"])
	assert.True(t, names["execution.complete_delay_step"])
}

func TestProcessor_ConcurrentInstancesProcessTaskOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.parkOnDelay(t)

	other := scheduler.NewProcessor(f.persistence, f.executions, f.dispatcher, nil, "other-instance", f.logger)

	var wg sync.WaitGroup
	summaries := make([]scheduler.RunSummary, 2)

	for i, processor := range []*scheduler.Processor{f.processor, other} {
		wg.Add(1)

		go func(i int, processor *scheduler.Processor) {
			defer wg.Done()

			summary, err := processor.ProcessAllPending(ctx)
			assert.NoError(t, err)
			summaries[i] = summary
		}(i, processor)
	}

	wg.Wait()

	assert.Equal(t, 1, summaries[0].Processed+summaries[1].Processed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dispatcher.calls))
}
