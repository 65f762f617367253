package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/watzon/loom/internal/config"
	"github.com/watzon/loom/internal/cron"
	"github.com/watzon/loom/internal/metrics"
	"github.com/watzon/loom/internal/state"
	"github.com/watzon/loom/internal/templates"
	"github.com/watzon/loom/internal/workflow"
)

// Scheduler drives recurring schedules: a poll loop scans for due
// schedules once per interval and fires each one through the workflow
// executor, updating run bookkeeping afterwards.
type Scheduler struct {
	store    *Store
	states   *state.Manager
	loader   templates.Loader
	generate workflow.NodeFunc
	cfg      config.SchedulerConfig
	engine   config.EngineConfig

	mu       sync.Mutex
	inflight map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler. generate is the node generation callback
// handed to the executor on every firing.
func New(store *Store, states *state.Manager, loader templates.Loader, generate workflow.NodeFunc, cfg config.SchedulerConfig, engine config.EngineConfig) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	return &Scheduler{
		store:    store,
		states:   states,
		loader:   loader,
		generate: generate,
		cfg:      cfg,
		engine:   engine,
		inflight: make(map[string]bool),
	}
}

// Start launches the poll loop. Call Stop to end it; stopping does not
// interrupt an in-flight execution.
func (s *Scheduler) Start(ctx context.Context) {
	s.done = make(chan struct{})
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		log.Info().Dur("poll_interval", s.cfg.PollInterval).Msg("Scheduler started")

		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop ends the poll loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.done == nil {
		return
	}
	close(s.done)
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// tick fires every due schedule, one at a time.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Scanning due schedules failed")
		return
	}

	for _, sched := range due {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !s.acquire(sched.ID) {
			// The previous firing of this schedule is still running;
			// this firing is coalesced.
			log.Debug().Str("schedule_id", sched.ID).Msg("Firing suppressed, previous run in flight")
			continue
		}
		s.fire(ctx, sched)
		s.release(sched.ID)
	}

	if n, err := s.store.CountActive(ctx); err == nil {
		metrics.SetActiveSchedules(n)
	}
}

// acquire marks a schedule in flight; false means it already was.
func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// fire runs one schedule firing to completion and updates bookkeeping.
// The returned error covers run-level failures (template resolution,
// structural graph errors); node-level failures land in the result.
func (s *Scheduler) fire(ctx context.Context, sched *Schedule) (*workflow.Result, error) {
	log.Info().
		Str("schedule_id", sched.ID).
		Str("template_id", sched.TemplateID).
		Int("run_count", sched.RunCount).
		Msg("Schedule firing")

	res, err := s.run(ctx, sched)

	finished := time.Now().UTC()
	sched.RunCount++
	sched.LastRun = &finished

	outcome := "completed"
	switch {
	case err != nil:
		outcome = "failed"
		sched.Status = StatusFailed
		sched.NextRun = nil
		sched.LastResult = &workflow.Summary{
			Status:     workflow.StatusFailed,
			Errors:     []string{err.Error()},
			FinishedAt: finished,
		}
	case res.Status == workflow.StatusFailed:
		outcome = "failed"
		sched.Status = StatusFailed
		sched.NextRun = nil
		summary := res.Summarize(finished)
		sched.LastResult = &summary
	default:
		summary := res.Summarize(finished)
		sched.LastResult = &summary
		s.advance(sched, finished)
	}

	metrics.RecordScheduleFiring(sched.ID, outcome)

	if updateErr := s.store.Update(ctx, sched); updateErr != nil {
		log.Error().Err(updateErr).Str("schedule_id", sched.ID).Msg("Updating schedule bookkeeping failed")
	}

	return res, err
}

// run loads the schedule's template and drives one execution.
func (s *Scheduler) run(ctx context.Context, sched *Schedule) (*workflow.Result, error) {
	tpl, err := s.loader.Load(ctx, sched.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", sched.TemplateID, err)
	}

	opts := s.applyEngineDefaults(sched.Options)
	if len(tpl.Variables) > 0 {
		merged := make(map[string]string, len(tpl.Variables)+len(opts.Variables))
		for k, v := range tpl.Variables {
			merged[k] = v
		}
		for k, v := range opts.Variables {
			merged[k] = v
		}
		opts.Variables = merged
	}

	exe := workflow.NewExecutor(s.states)

	metrics.ExecutionStarted()
	res, err := exe.Execute(ctx, workflow.Request{
		ExecutionID: uuid.New().String(),
		TemplateID:  sched.TemplateID,
		ScheduleID:  sched.ID,
		Graph:       &tpl.Graph,
		Options:     opts,
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

// applyEngineDefaults fills unset execution options from engine config.
func (s *Scheduler) applyEngineDefaults(opts workflow.Options) workflow.Options {
	if opts.MaxRetries == 0 && s.engine.MaxRetries > 0 {
		opts.MaxRetries = s.engine.MaxRetries
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = s.engine.RetryDelay
	}
	if opts.NodeTimeout == 0 {
		opts.NodeTimeout = s.engine.NodeTimeout
	}
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = s.engine.MaxConcurrency
	}
	if opts.CheckpointInterval == 0 {
		opts.CheckpointInterval = s.engine.CheckpointInterval
	}
	return opts
}

// advance computes the schedule's next firing and applies termination
// conditions: maxRuns reached or next run past endDate completes and
// disables the schedule.
func (s *Scheduler) advance(sched *Schedule, after time.Time) {
	if sched.MaxRuns > 0 && sched.RunCount >= sched.MaxRuns {
		s.complete(sched, "max runs reached")
		return
	}

	expr, err := cron.Parse(sched.CronExpression)
	if err != nil {
		// Validated at creation; a parse failure here means the stored
		// expression was corrupted.
		log.Error().Err(err).Str("schedule_id", sched.ID).Msg("Stored cron expression no longer parses")
		sched.Status = StatusFailed
		sched.NextRun = nil
		return
	}

	next, err := expr.Next(after)
	if err != nil {
		s.complete(sched, "no upcoming run")
		return
	}

	if sched.EndDate != nil && next.After(*sched.EndDate) {
		s.complete(sched, "end date reached")
		return
	}

	sched.NextRun = &next
}

func (s *Scheduler) complete(sched *Schedule, why string) {
	sched.Status = StatusCompleted
	sched.Enabled = false
	sched.NextRun = nil
	log.Info().Str("schedule_id", sched.ID).Str("reason", why).Msg("Schedule completed")
}

// ErrScheduleNotFireable is returned when triggering a schedule that has
// terminated or is disabled.
var ErrScheduleNotFireable = errors.New("schedule is not fireable")
