package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }
func int64ptr(n int64) *int64 { return &n }
func timeptr(t time.Time) *time.Time { return &t }

func TestNextRun_Cron(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	job := Job{Name: "daily", CronExpression: strptr("15 0 * * *")}

	next, disable, err := NextRun(job, now)
	require.NoError(t, err)
	require.False(t, disable)
	require.Equal(t, time.Date(2026, 3, 11, 0, 15, 0, 0, time.UTC), *next)
}

func TestNextRun_CronDescriptor(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	job := Job{Name: "hourly", CronExpression: strptr("@hourly")}

	next, disable, err := NextRun(job, now)
	require.NoError(t, err)
	require.False(t, disable)
	require.Equal(t, time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC), *next)
}

func TestNextRun_BrokenCron(t *testing.T) {
	t.Parallel()

	job := Job{Name: "broken", CronExpression: strptr("not a cron line")}
	_, _, err := NextRun(job, time.Now())
	require.Error(t, err)
}

func TestNextRun_Interval(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	job := Job{Name: "sweep", IntervalSeconds: int64ptr(300)}

	next, disable, err := NextRun(job, now)
	require.NoError(t, err)
	require.False(t, disable)
	require.Equal(t, now.Add(5*time.Minute), *next)
}

func TestNextRun_IntervalBelowGuardIsRaised(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	job := Job{Name: "spin", IntervalSeconds: int64ptr(0)}

	next, _, err := NextRun(job, now)
	require.NoError(t, err)
	require.GreaterOrEqual(t, next.Sub(now), minJobInterval)
}

func TestNextRun_RunOnceDisables(t *testing.T) {
	t.Parallel()

	job := Job{Name: "once", RunOnceAt: timeptr(time.Now())}
	next, disable, err := NextRun(job, time.Now())
	require.NoError(t, err)
	require.True(t, disable)
	require.Nil(t, next)
}

func TestNextRun_NoSchedule(t *testing.T) {
	t.Parallel()

	_, _, err := NextRun(Job{Name: "empty"}, time.Now())
	require.Error(t, err)
}

func TestStandingJobs_ParseAndStayAboveGuard(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	for _, spec := range StandingJobs() {
		spec := spec
		t.Run(spec.Name, func(t *testing.T) {
			t.Parallel()
			job := Job{Name: spec.Name}
			if spec.CronExpression != "" {
				job.CronExpression = &spec.CronExpression
			} else {
				job.IntervalSeconds = &spec.IntervalSeconds
			}
			next, disable, err := NextRun(job, now)
			require.NoError(t, err)
			require.False(t, disable)
			require.GreaterOrEqual(t, next.Sub(now), minJobInterval)
		})
	}
}

func TestMinJobInterval_Value(t *testing.T) {
	t.Parallel()

	if minJobInterval < time.Second {
		t.Errorf("minJobInterval should be at least 1s, got %s", minJobInterval)
	}
	if minJobInterval > 10*time.Second {
		t.Errorf("minJobInterval should be reasonable, got %s", minJobInterval)
	}
}
