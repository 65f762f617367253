package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/loom/internal/cron"
)

// Recover re-arms schedules after a process restart and surfaces
// orphaned executions. A schedule whose next run elapsed while the
// process was down is rescheduled from now without double-firing; with
// catchup enabled, at most one missed firing per schedule is run
// immediately, bounded by the configured limit across all schedules.
//
// Orphaned executions are only reported, never auto-resumed.
func (s *Scheduler) Recover(ctx context.Context) error {
	now := time.Now().UTC()

	scheds, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	caughtUp := 0
	for _, sched := range scheds {
		if !sched.Fireable() {
			continue
		}

		expr, err := cron.Parse(sched.CronExpression)
		if err != nil {
			log.Error().Err(err).Str("schedule_id", sched.ID).Msg("Stored cron expression no longer parses")
			sched.Status = StatusFailed
			sched.NextRun = nil
			if err := s.store.Update(ctx, sched); err != nil {
				log.Error().Err(err).Str("schedule_id", sched.ID).Msg("Persisting failed schedule state")
			}
			continue
		}

		elapsed := sched.NextRun != nil && !sched.NextRun.After(now)

		if elapsed && s.cfg.Catchup && caughtUp < s.cfg.CatchupLimit {
			caughtUp++
			log.Info().
				Str("schedule_id", sched.ID).
				Time("missed", *sched.NextRun).
				Msg("Catching up missed firing")
			if s.acquire(sched.ID) {
				s.fire(ctx, sched)
				s.release(sched.ID)
			}
			// fire already advanced NextRun and persisted.
			continue
		}

		if sched.NextRun == nil || elapsed {
			next, err := expr.Next(now)
			if err != nil {
				s.complete(sched, "no upcoming run")
			} else {
				if elapsed {
					log.Info().
						Str("schedule_id", sched.ID).
						Time("missed", *sched.NextRun).
						Time("next_run", next).
						Msg("Missed firing skipped, schedule re-armed")
				}
				sched.NextRun = &next
			}
			if err := s.store.Update(ctx, sched); err != nil {
				log.Error().Err(err).Str("schedule_id", sched.ID).Msg("Re-arming schedule failed")
			}
		}
	}

	orphans, err := s.states.Recoverable(ctx)
	if err != nil {
		return err
	}
	for _, exec := range orphans {
		log.Warn().
			Str("execution_id", exec.ID).
			Str("template_id", exec.TemplateID).
			Str("status", string(exec.Status)).
			Int("completed_nodes", len(exec.CompletedNodes)).
			Msg("Recoverable execution found; resume or abandon it explicitly")
	}

	log.Info().
		Int("schedules", len(scheds)).
		Int("caught_up", caughtUp).
		Int("recoverable_executions", len(orphans)).
		Msg("Recovery scan complete")

	return nil
}
