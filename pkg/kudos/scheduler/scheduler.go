// Package scheduler runs the background jobs Kudos depends on:
// invitation expiry, deadline sweeps, notification dispatch, report
// generation, rating snapshots and token cleanup. Job state lives in the
// cron_tasks table; competing instances coordinate per job through
// FOR UPDATE SKIP LOCKED, so running several API nodes is safe.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"

	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// minJobInterval guards against spin loops from misconfigured schedules.
const minJobInterval = 1 * time.Second

// defaultTick is how often due jobs are polled.
const defaultTick = 60 * time.Second

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job mirrors one cron_tasks row. Exactly one of CronExpression,
// IntervalSeconds or RunOnceAt defines the schedule.
type Job struct {
	ID              string
	Name            string
	CronExpression  *string
	IntervalSeconds *int64
	RunOnceAt       *time.Time
	LastRunAt       *time.Time
	NextRunAt       *time.Time
	Enabled         bool
}

// JobFunc executes one job run and returns a short log line.
type JobFunc func(ctx context.Context) (string, error)

// Scheduler polls the cron_tasks table and dispatches registered
// handlers.
type Scheduler struct {
	store  *store.Store
	tick   time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]JobFunc
	running  map[string]bool
}

// New builds a scheduler. tick <= 0 uses the 60s default.
func New(st *store.Store, tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = defaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    st,
		tick:     tick,
		logger:   logger.With("component", "scheduler"),
		handlers: make(map[string]JobFunc),
		running:  make(map[string]bool),
	}
}

// Register binds a handler to a job name. Jobs without a handler are
// skipped with a warning.
func (s *Scheduler) Register(name string, fn JobFunc) {
	s.mu.Lock()
	s.handlers[name] = fn
	s.mu.Unlock()
}

// JobSpec declares a standing job for EnsureJobs.
type JobSpec struct {
	Name            string
	CronExpression  string // empty when interval-based
	IntervalSeconds int64  // 0 when cron-based
}

// EnsureJobs seeds missing cron_tasks rows for the given specs. Existing
// rows keep their operator-edited schedules.
func (s *Scheduler) EnsureJobs(ctx context.Context, specs []JobSpec) error {
	now := time.Now().UTC()
	for _, spec := range specs {
		var cronExpr *string
		var interval *int64
		if spec.CronExpression != "" {
			cronExpr = &spec.CronExpression
		} else {
			interval = &spec.IntervalSeconds
		}
		_, err := s.store.Pool().Exec(ctx, `
			INSERT INTO cron_tasks (id, name, cron_expression, interval_seconds,
				enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, TRUE, $5, $5)
			ON CONFLICT (name) DO NOTHING`,
			uuid.NewString(), spec.Name, cronExpr, interval, now)
		if err != nil {
			return fmt.Errorf("scheduler: ensure job %s: %w", spec.Name, err)
		}
	}
	return nil
}

// Run polls until the context is cancelled. An immediate first tick means
// due jobs do not wait out the initial interval after startup.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "tick", s.tick.String())
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	jobs, err := s.dueJobs(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("poll failed", "error", err)
		return
	}
	for _, job := range jobs {
		s.executeJob(ctx, job)
	}
}

func (s *Scheduler) dueJobs(ctx context.Context, now time.Time) ([]Job, error) {
	// Run-once jobs wait for their scheduled moment and fire only if they
	// have never run; everything else goes by next_run_at.
	rows, err := s.store.Pool().Query(ctx, `
		SELECT id, name, cron_expression, interval_seconds, run_once_at,
		       last_run_at, next_run_at, enabled
		FROM cron_tasks
		WHERE enabled AND NOT is_deleted
		  AND CASE WHEN run_once_at IS NOT NULL
		      THEN run_once_at <= $1 AND last_run_at IS NULL
		      ELSE next_run_at IS NULL OR next_run_at <= $1
		      END
		ORDER BY name`, now)
	if err != nil {
		return nil, fmt.Errorf("scheduler: due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Name, &j.CronExpression, &j.IntervalSeconds,
			&j.RunOnceAt, &j.LastRunAt, &j.NextRunAt, &j.Enabled); err != nil {
			return nil, fmt.Errorf("scheduler: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// executeJob claims the job row, runs the handler and records the
// outcome. Guards: a per-process duplicate guard and a spin-loop guard
// against schedules that resolve to "immediately, forever".
func (s *Scheduler) executeJob(ctx context.Context, job Job) {
	s.mu.Lock()
	if s.running[job.ID] {
		s.mu.Unlock()
		return
	}
	handler, ok := s.handlers[job.Name]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("no handler for job", "job", job.Name)
		return
	}
	if job.LastRunAt != nil && time.Since(*job.LastRunAt) < minJobInterval {
		s.mu.Unlock()
		return
	}
	s.running[job.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
	}()

	now := time.Now().UTC()
	claimed, err := s.claim(ctx, job, now)
	if err != nil {
		s.logger.Error("claim failed", "job", job.Name, "error", err)
		return
	}
	if !claimed {
		return
	}

	logLine, err := handler(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		logLine = err.Error()
		s.logger.Error("job failed", "job", job.Name, "error", err)
	} else {
		s.logger.Info("job finished", "job", job.Name, "log", logLine)
	}
	if _, uerr := s.store.Pool().Exec(ctx, `
		UPDATE cron_tasks SET last_status = $2, last_log = $3, updated_at = $4
		WHERE id = $1`, job.ID, status, logLine, time.Now().UTC()); uerr != nil {
		s.logger.Error("job status update failed", "job", job.Name, "error", uerr)
	}
}

// claim locks the job row, re-checks it is still due, and advances
// last_run_at / next_run_at so other instances skip it. Returns false
// when another instance got there first.
func (s *Scheduler) claim(ctx context.Context, job Job, now time.Time) (bool, error) {
	claimed := false
	err := s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		var nextRunAt *time.Time
		err := uow.QueryRow(ctx, `
			SELECT next_run_at FROM cron_tasks
			WHERE id = $1 AND enabled AND NOT is_deleted
			FOR UPDATE SKIP LOCKED`, job.ID).Scan(&nextRunAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil // locked elsewhere or disabled meanwhile
			}
			return fmt.Errorf("scheduler: lock job: %w", err)
		}
		if nextRunAt != nil && nextRunAt.After(now) {
			return nil // already advanced by another instance
		}

		next, disable, err := NextRun(job, now)
		if err != nil {
			// Broken schedule: park the job instead of retrying every tick.
			_, uerr := uow.Exec(ctx, `
				UPDATE cron_tasks SET enabled = FALSE, last_status = 'error',
					last_log = $2, updated_at = $3
				WHERE id = $1`, job.ID, err.Error(), now)
			if uerr != nil {
				return uerr
			}
			s.logger.Error("job disabled", "job", job.Name, "error", err)
			return nil
		}

		_, err = uow.Exec(ctx, `
			UPDATE cron_tasks
			SET last_run_at = $2, next_run_at = $3, enabled = $4, updated_at = $2
			WHERE id = $1`, job.ID, now, next, !disable)
		if err != nil {
			return fmt.Errorf("scheduler: advance job: %w", err)
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// NextRun computes the next due time for a job from now. run-once jobs
// report disable=true once fired. Intervals below the spin-loop guard are
// raised to it.
func NextRun(job Job, now time.Time) (next *time.Time, disable bool, err error) {
	switch {
	case job.CronExpression != nil:
		sched, err := cronParser.Parse(*job.CronExpression)
		if err != nil {
			return nil, false, fmt.Errorf("scheduler: cron %q: %w", *job.CronExpression, err)
		}
		n := sched.Next(now)
		if n.Sub(now) < minJobInterval {
			n = now.Add(minJobInterval)
		}
		return &n, false, nil

	case job.IntervalSeconds != nil:
		d := time.Duration(*job.IntervalSeconds) * time.Second
		if d < minJobInterval {
			d = minJobInterval
		}
		n := now.Add(d)
		return &n, false, nil

	case job.RunOnceAt != nil:
		return nil, true, nil

	default:
		return nil, false, fmt.Errorf("scheduler: job %s has no schedule", job.Name)
	}
}
