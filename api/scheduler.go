/*
scheduler.go - Periodic priority refresh and stale-run reaper

PURPOSE:
  Keeps each configured tenant's maintenance priority ranking fresh by
  re-running maintenance_priority on an interval, and cleans up runs left
  in "running" by a crashed process.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - On start, every run still "running" after StaleAfter is marked failed
    with the message "abandoned"; the reaper repeats on every tick
  - A refresh failure for one tenant (engine disabled, no cost model)
    is logged and does not stop the others

CONFIGURATION:
  - Interval:   How often to refresh (default: 1 hour)
  - StaleAfter: Age after which a running run is abandoned (default: 15m)
  - Tenants:    Tenants whose ranking is refreshed
  - Enabled:    Whether the refresh loop is active

USAGE:
  scheduler := NewPriorityRefreshScheduler(engine, store, logger)
  scheduler.Tenants = []optimization.TenantID{"acme"}
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - optimization/orchestrator.go: RunMaintenancePriority
  - config/config.go: scheduler.* keys
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/decision-engine/optimization"
)

// SchedulerUser is recorded as the creator of scheduled runs.
const SchedulerUser optimization.UserID = "scheduler"

// RunJanitor is the slice of the store the reaper needs.
type RunJanitor interface {
	StaleRuns(ctx context.Context, startedBefore time.Time) ([]optimization.Run, error)
	UpdateRun(ctx context.Context, run optimization.Run) error
}

// PriorityRefreshScheduler re-ranks assets for a fixed set of tenants.
type PriorityRefreshScheduler struct {
	Engine     Runner
	Runs       RunJanitor
	Tenants    []optimization.TenantID
	Interval   time.Duration
	StaleAfter time.Duration
	Enabled    bool
	Logger     *slog.Logger
	Now        func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPriorityRefreshScheduler creates a scheduler with default timings.
func NewPriorityRefreshScheduler(engine Runner, runs RunJanitor, log *slog.Logger) *PriorityRefreshScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &PriorityRefreshScheduler{
		Engine:     engine,
		Runs:       runs,
		Interval:   time.Hour,
		StaleAfter: 15 * time.Minute,
		Enabled:    true,
		Logger:     log.With("component", "scheduler"),
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start reaps abandoned runs and begins the refresh loop.
func (s *PriorityRefreshScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ReapStale(context.Background()); err != nil {
		s.Logger.Error("reap stale runs", "error", err)
	}
	if !s.Enabled {
		s.Logger.Info("priority refresh disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("priority refresh started", "interval", s.Interval, "tenants", len(s.Tenants))
}

// Stop stops the scheduler and waits for an in-flight refresh.
func (s *PriorityRefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("priority refresh stopped")
	}
}

func (s *PriorityRefreshScheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-s.ticker.C:
			if _, err := s.ReapStale(ctx); err != nil {
				s.Logger.Error("reap stale runs", "error", err)
			}
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow refreshes every tenant once and returns how many runs completed.
func (s *PriorityRefreshScheduler) RunNow(ctx context.Context) int {
	completed := 0
	for _, tenant := range s.Tenants {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Engine.Execute(ctx, optimization.RunRequest{
			Tenant: tenant,
			User:   SchedulerUser,
			Type:   optimization.RunMaintenancePriority,
			Params: optimization.MaintenancePriorityParams{},
		})
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, optimization.ErrEngineDisabled) {
				level = slog.LevelInfo
			}
			s.Logger.Log(ctx, level, "priority refresh failed", "tenant_id", tenant, "error", err)
			continue
		}
		completed++
		s.Logger.Info("priority refreshed", "tenant_id", tenant, "run_id", res.Run.ID,
			"recommendations", len(res.Recommendations))
	}
	return completed
}

// ReapStale fails every run still running after StaleAfter and returns how
// many it marked.
func (s *PriorityRefreshScheduler) ReapStale(ctx context.Context) (int, error) {
	if s.Runs == nil || s.StaleAfter <= 0 {
		return 0, nil
	}
	now := s.Now()
	stale, err := s.Runs.StaleRuns(ctx, now.Add(-s.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale runs: %w", err)
	}
	reaped := 0
	for _, run := range stale {
		run.ErrorKind = optimization.KindInternal
		run.ErrorMessage = fmt.Sprintf("abandoned: still running after %s", s.StaleAfter)
		if err := run.Transition(optimization.RunFailed, now); err != nil {
			s.Logger.Error("cannot abandon run", "run_id", run.ID, "error", err)
			continue
		}
		if err := s.Runs.UpdateRun(ctx, run); err != nil {
			s.Logger.Error("persist abandoned run", "run_id", run.ID, "tenant_id", run.TenantID, "error", err)
			continue
		}
		reaped++
		s.Logger.Warn("run abandoned", "run_id", run.ID, "tenant_id", run.TenantID, "run_type", run.Type)
	}
	return reaped, nil
}
