package api

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/decision-engine/optimization"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestScheduler_ReapStale(t *testing.T) {
	// GIVEN: one run stuck in running for an hour and one that just started
	s := newTestServer(t, nil)
	ctx := context.Background()
	old := s.asOf.Add(-time.Hour)
	recent := s.asOf.Add(-time.Minute)
	for id, started := range map[optimization.RunID]time.Time{"stuck": old, "fresh": recent} {
		started := started
		require.NoError(t, s.mem.CreateRun(ctx, optimization.Run{
			ID: id, TenantID: testTenant, Type: optimization.RunDeferralCost,
			Status: optimization.RunRunning, CreatedAt: started, StartedAt: &started,
		}))
	}

	sched := NewPriorityRefreshScheduler(s.engine, s.mem, quietLogger())
	sched.Now = func() time.Time { return s.asOf }

	// WHEN: the reaper runs
	n, err := sched.ReapStale(ctx)

	// THEN: only the stuck run is failed as abandoned
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stuck, err := s.mem.GetRun(ctx, testTenant, "stuck")
	require.NoError(t, err)
	assert.Equal(t, optimization.RunFailed, stuck.Status)
	assert.True(t, strings.HasPrefix(stuck.ErrorMessage, "abandoned"), stuck.ErrorMessage)
	require.NotNil(t, stuck.CompletedAt)

	fresh, err := s.mem.GetRun(ctx, testTenant, "fresh")
	require.NoError(t, err)
	assert.Equal(t, optimization.RunRunning, fresh.Status)

	// a second pass finds nothing
	n, err = sched.ReapStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_RunNowSkipsFailingTenants(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.mem.SetTenantFlags(ctx, "paused", optimization.FeatureFlags{EngineEnabled: false}))

	sched := NewPriorityRefreshScheduler(s.engine, s.mem, quietLogger())
	sched.Tenants = []optimization.TenantID{"paused", testTenant}

	assert.Equal(t, 1, sched.RunNow(ctx))

	run, err := s.mem.LatestRun(ctx, testTenant, optimization.RunMaintenancePriority, optimization.RunCompleted)
	require.NoError(t, err)
	assert.Equal(t, SchedulerUser, run.CreatedBy)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestServer(t, nil)
	sched := NewPriorityRefreshScheduler(s.engine, s.mem, quietLogger())
	sched.Tenants = []optimization.TenantID{testTenant}
	sched.Interval = time.Hour

	sched.Start()
	require.Eventually(t, func() bool {
		_, err := s.mem.LatestRun(context.Background(), testTenant, optimization.RunMaintenancePriority, optimization.RunCompleted)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	sched.Stop()
	sched.Stop()
}

func TestScheduler_DisabledOnlyReaps(t *testing.T) {
	s := newTestServer(t, nil)
	sched := NewPriorityRefreshScheduler(s.engine, s.mem, quietLogger())
	sched.Tenants = []optimization.TenantID{testTenant}
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	runs, err := s.mem.ListRuns(context.Background(), testTenant, optimization.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
