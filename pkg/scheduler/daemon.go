package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vidaflow/vidaflow/pkg/execution"
	"github.com/vidaflow/vidaflow/pkg/persistence"
)

// DefaultPollInterval is how often the daemon scans for due work.
const DefaultPollInterval = 30 * time.Second

// Daemon drives the processor on a central ticker. One ticker per instance
// replaces per-task timers: a poll scans both due delay tasks and due
// assignment schedules in indexed queries, so thousands of parked executions
// cost two queries per tick.
type Daemon struct {
	processor   *Processor
	executions  *execution.Service
	persistence persistence.Persistence
	interval    time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func NewDaemon(
	processor *Processor,
	executions *execution.Service,
	p persistence.Persistence,
	interval time.Duration,
	logger *slog.Logger,
) *Daemon {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Daemon{
		processor:   processor,
		executions:  executions,
		persistence: p,
		interval:    interval,
		logger:      logger.With("module", "scheduler"),
	}
}

// Start launches the polling loop. It returns an error when already running.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("scheduler daemon already started")
	}

	d.started = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	d.logger.Info("Scheduler daemon started", "interval", d.interval)

	go d.loop(ctx)

	return nil
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (d *Daemon) Stop(ctx context.Context) {
	d.mu.Lock()

	if !d.started {
		d.mu.Unlock()
		return
	}

	d.started = false
	close(d.stop)
	done := d.done
	d.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}

	d.logger.Info("Scheduler daemon stopped")
}

func (d *Daemon) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// First pass immediately so a restart drains overdue work without
	// waiting a full interval.
	d.RunOnce(ctx)

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce executes one combined pass: due delay tasks, then due assignment
// schedules.
func (d *Daemon) RunOnce(ctx context.Context) {
	if _, err := d.processor.ProcessDueTasks(ctx); err != nil {
		d.logger.Error("Delay task pass failed", "error", err)
	}

	if err := d.assignDueSchedules(ctx); err != nil {
		d.logger.Error("Assignment schedule pass failed", "error", err)
	}
}

// assignDueSchedules creates a fresh execution for every schedule whose
// NextDueAt has passed, then rolls the schedule forward. A schedule that
// fails to assign keeps its due time and is retried next tick.
func (d *Daemon) assignDueSchedules(ctx context.Context) error {
	repo := d.persistence.AssignmentScheduleRepository()

	schedules, err := repo.DueSchedules(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	for _, schedule := range schedules {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		exec, err := d.executions.Assign(ctx, schedule.FlowID, schedule.PatientID)
		if err != nil {
			d.logger.Error("Scheduled assignment failed",
				"schedule_id", schedule.ID,
				"flow_id", schedule.FlowID,
				"patient_id", schedule.PatientID,
				"error", err)

			continue
		}

		if err := schedule.UpdateNextDueAt(); err != nil {
			d.logger.Error("Failed to roll schedule forward",
				"schedule_id", schedule.ID,
				"error", err)

			continue
		}

		if err := repo.SaveSchedule(ctx, schedule); err != nil {
			d.logger.Error("Failed to save schedule",
				"schedule_id", schedule.ID,
				"error", err)

			continue
		}

		d.logger.Info("Scheduled assignment created",
			"schedule_id", schedule.ID,
			"execution_id", exec.ID,
			"next_due_at", schedule.NextDueAt)
	}

	return nil
}
