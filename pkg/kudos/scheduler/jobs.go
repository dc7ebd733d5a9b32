package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/kudos-app/kudos/pkg/kudos/gamification"
	"github.com/kudos-app/kudos/pkg/kudos/group"
	"github.com/kudos-app/kudos/pkg/kudos/notification"
	"github.com/kudos-app/kudos/pkg/kudos/report"
	"github.com/kudos-app/kudos/pkg/kudos/task"
	"github.com/kudos-app/kudos/pkg/kudos/token"
)

// Standing job names. The cron_tasks rows are keyed by these.
const (
	JobExpireInvitations    = "expire_invitations"
	JobSweepDeadlines       = "sweep_deadlines"
	JobDispatchDeliveries   = "dispatch_deliveries"
	JobProcessReports       = "process_reports"
	JobSnapshotRatings      = "snapshot_ratings"
	JobCleanupRefreshTokens = "cleanup_refresh_tokens"
)

// Deps are the services the standing jobs run against.
type Deps struct {
	Groups        *group.Service
	Tasks         *task.Service
	Dispatcher    *notification.Dispatcher
	Reports       *report.Manager
	Gamification  *gamification.Service
	Tokens        *token.Service
	DeliveryBatch int
	ReportBatch   int
}

// StandingJobs returns the default schedules. Frequent queue drains run
// on intervals; daily work runs on cron expressions.
func StandingJobs() []JobSpec {
	return []JobSpec{
		{Name: JobExpireInvitations, IntervalSeconds: 300},
		{Name: JobSweepDeadlines, IntervalSeconds: 300},
		{Name: JobDispatchDeliveries, IntervalSeconds: 60},
		{Name: JobProcessReports, IntervalSeconds: 60},
		{Name: JobSnapshotRatings, CronExpression: "15 0 * * *"},
		{Name: JobCleanupRefreshTokens, CronExpression: "45 3 * * *"},
	}
}

// RegisterStandard binds the standing job handlers and seeds their rows.
func (s *Scheduler) RegisterStandard(ctx context.Context, deps Deps) error {
	s.Register(JobExpireInvitations, func(ctx context.Context) (string, error) {
		n, err := deps.Groups.ExpireStale(ctx)
		return fmt.Sprintf("expired %d invitations", n), err
	})
	s.Register(JobSweepDeadlines, func(ctx context.Context) (string, error) {
		n, err := deps.Tasks.SweepDeadlines(ctx, time.Now().UTC())
		return fmt.Sprintf("swept %d overdue tasks", n), err
	})
	s.Register(JobDispatchDeliveries, func(ctx context.Context) (string, error) {
		n, err := deps.Dispatcher.DispatchDue(ctx, time.Now().UTC(), deps.DeliveryBatch)
		return fmt.Sprintf("dispatched %d deliveries", n), err
	})
	s.Register(JobProcessReports, func(ctx context.Context) (string, error) {
		n, err := deps.Reports.ProcessQueued(ctx, deps.ReportBatch)
		return fmt.Sprintf("generated %d reports", n), err
	})
	s.Register(JobSnapshotRatings, func(ctx context.Context) (string, error) {
		n, err := deps.Gamification.SnapshotRatings(ctx, time.Now().UTC())
		return fmt.Sprintf("wrote %d rating rows", n), err
	})
	s.Register(JobCleanupRefreshTokens, func(ctx context.Context) (string, error) {
		err := deps.Tokens.CleanupExpired(ctx, 30*24*time.Hour)
		return "cleaned expired tokens", err
	})
	return s.EnsureJobs(ctx, StandingJobs())
}
