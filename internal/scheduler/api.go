package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/watzon/loom/internal/cron"
	"github.com/watzon/loom/internal/metrics"
	"github.com/watzon/loom/internal/state"
	"github.com/watzon/loom/internal/workflow"
)

// ScheduleExecution validates and persists a new schedule, returning its
// id. Validation failures persist nothing: the cron expression must
// parse and have an upcoming run, and the template must exist.
func (s *Scheduler) ScheduleExecution(ctx context.Context, req CreateRequest) (string, error) {
	expr, err := cron.Parse(req.CronExpression)
	if err != nil {
		return "", fmt.Errorf("invalid cron expression: %w", err)
	}

	now := time.Now().UTC()
	next, err := expr.Next(now)
	if err != nil {
		return "", fmt.Errorf("cron expression %q: %w", req.CronExpression, err)
	}

	tpl, err := s.loader.Load(ctx, req.TemplateID)
	if err != nil {
		return "", fmt.Errorf("resolving template: %w", err)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	sched := &Schedule{
		ID:             uuid.New().String(),
		TemplateID:     tpl.ID,
		TemplateName:   tpl.Name,
		CronExpression: req.CronExpression,
		Options:        req.Options,
		Enabled:        enabled,
		Status:         StatusActive,
		MaxRuns:        req.MaxRuns,
		EndDate:        req.EndDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if enabled {
		sched.NextRun = &next
	}

	if err := s.store.Create(ctx, sched); err != nil {
		return "", err
	}

	log.Info().
		Str("schedule_id", sched.ID).
		Str("template_id", sched.TemplateID).
		Str("cron", sched.CronExpression).
		Time("next_run", next).
		Msg("Schedule created")

	return sched.ID, nil
}

// CancelSchedule removes a schedule permanently.
func (s *Scheduler) CancelSchedule(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	log.Info().Str("schedule_id", id).Msg("Schedule cancelled")
	return nil
}

// UpdateSchedule applies a partial update. A changed cron expression is
// revalidated and the next run recomputed.
func (s *Scheduler) UpdateSchedule(ctx context.Context, id string, upd Update) (*Schedule, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.CronExpression != nil {
		expr, err := cron.Parse(*upd.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression: %w", err)
		}
		next, err := expr.Next(time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("cron expression %q: %w", *upd.CronExpression, err)
		}
		sched.CronExpression = *upd.CronExpression
		if sched.Fireable() {
			sched.NextRun = &next
		}
	}
	if upd.Options != nil {
		sched.Options = *upd.Options
	}
	if upd.MaxRuns != nil {
		sched.MaxRuns = *upd.MaxRuns
	}
	if upd.EndDate != nil {
		sched.EndDate = upd.EndDate
	}

	if err := s.store.Update(ctx, sched); err != nil {
		return nil, err
	}

	return sched, nil
}

// ToggleSchedule enables or disables future firings. Re-enabling a
// paused or failed schedule reactivates it and recomputes the next run;
// a completed schedule is never re-armed.
func (s *Scheduler) ToggleSchedule(ctx context.Context, id string, enabled bool) (*Schedule, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sched.Status == StatusCompleted {
		return nil, fmt.Errorf("schedule %s is completed: %w", id, ErrScheduleNotFireable)
	}

	sched.Enabled = enabled
	if enabled {
		sched.Status = StatusActive
		expr, err := cron.Parse(sched.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("stored cron expression: %w", err)
		}
		next, err := expr.Next(time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("cron expression %q: %w", sched.CronExpression, err)
		}
		sched.NextRun = &next
	} else {
		sched.NextRun = nil
	}

	if err := s.store.Update(ctx, sched); err != nil {
		return nil, err
	}

	log.Info().Str("schedule_id", id).Bool("enabled", enabled).Msg("Schedule toggled")

	return sched, nil
}

// TriggerSchedule bypasses the timer and fires the schedule immediately,
// with full bookkeeping. Completed or disabled schedules do not fire and
// do not advance their run count.
func (s *Scheduler) TriggerSchedule(ctx context.Context, id string) (*workflow.Result, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sched.Fireable() {
		return nil, fmt.Errorf("schedule %s is %s: %w", id, sched.Status, ErrScheduleNotFireable)
	}

	if !s.acquire(sched.ID) {
		return nil, fmt.Errorf("schedule %s already has a run in flight", id)
	}
	defer s.release(sched.ID)

	res, err := s.fire(ctx, sched)
	if err != nil {
		return nil, fmt.Errorf("firing schedule %s: %w", id, err)
	}

	return res, nil
}

// ListSchedules returns all schedules.
func (s *Scheduler) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	return s.store.List(ctx)
}

// GetSchedule returns one schedule by id.
func (s *Scheduler) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	return s.store.Get(ctx, id)
}

// ListRecoverableExecutions surfaces runs orphaned by an unclean
// shutdown. Nothing is auto-resumed; the caller decides.
func (s *Scheduler) ListRecoverableExecutions(ctx context.Context) ([]*state.ExecutionState, error) {
	return s.states.Recoverable(ctx)
}

// ResumeExecution re-drives a paused or orphaned execution from its
// latest checkpoint.
func (s *Scheduler) ResumeExecution(ctx context.Context, executionID string) (*workflow.Result, error) {
	exec, err := s.states.Restore(ctx, executionID)
	if err != nil {
		return nil, err
	}
	metrics.RecordRecovery()

	tpl, err := s.loader.Load(ctx, exec.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", exec.TemplateID, err)
	}

	exe := workflow.NewExecutor(s.states)

	metrics.ExecutionStarted()
	res, err := exe.Execute(ctx, workflow.Request{
		ExecutionID: executionID,
		TemplateID:  exec.TemplateID,
		ScheduleID:  exec.ScheduleID,
		Graph:       &tpl.Graph,
		Options:     s.applyEngineDefaults(workflow.Options{Variables: exec.Variables}),
		Resume:      true,
	}, s.generate, nil)
	if res != nil {
		metrics.ExecutionFinished(string(res.Status), res.TotalExecutionTime)
	} else {
		metrics.ExecutionFinished(string(workflow.StatusFailed), 0)
	}
	if err != nil {
		return nil, err
	}

	return res, nil
}
