/*
dispatch.go - Workforce dispatch (assignment solver)

PURPOSE:
  Places pending maintenance tasks onto workers and calendar days.

HARD CONSTRAINTS:
  - A worker's hours on one day never exceed HoursPerDay.
  - A task goes to a worker whose skills include RequiredSkill (empty = any)
    and whose MaxTier covers RequiredTier.
  - Each task is assigned at most once and is never split across days.
  - Workers are never scheduled on their UnavailableDays.

OBJECTIVE:
  primary    Σ priority * lateness_days   over assigned tasks
             + Σ priority * (lateness on the last horizon day + 1) over unassigned tasks
  secondary  Σ over assets of the distinct workers touching that asset
             (continuity; only breaks ties in the primary objective)

  The unassigned penalty is strictly larger than any lateness the task
  could incur inside the horizon, so placing a task always beats leaving it.

SOLVERS:
  BranchAndBoundSolver  exact, context-bounded, returns SolverTimeoutError
  GreedySolver          always terminates, never optimal by contract

  Dispatcher runs the exact solver under SolverTimeout and falls back to
  the greedy plan on timeout. Both produce the same DispatchPlan shape; only
  SolvedOptimally tells them apart.

SEE ALSO:
  - solver_bnb.go, solver_greedy.go
*/
package optimization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
)

// =============================================================================
// PROBLEM
// =============================================================================

type DispatchTask struct {
	ID               string           `json:"id"`
	RecommendationID RecommendationID `json:"recommendation_id,omitempty"`
	AssetID          AssetID          `json:"asset_id,omitempty"`
	Hours            float64          `json:"hours"`
	RequiredSkill    string           `json:"required_skill,omitempty"`
	RequiredTier     Criticality      `json:"required_tier,omitempty"`
	DueDate          Date             `json:"due_date"`
	Priority         float64          `json:"priority"`
}

type Worker struct {
	ID              WorkerID    `json:"id"`
	Name            string      `json:"name,omitempty"`
	HoursPerDay     float64     `json:"hours_per_day"`
	Skills          []string    `json:"skills,omitempty"`
	MaxTier         Criticality `json:"max_tier,omitempty"`
	UnavailableDays []Date      `json:"unavailable_days,omitempty"`
}

// Qualified reports the skill and tier part of eligibility. An empty MaxTier
// means the worker may take any tier.
func (w Worker) Qualified(t DispatchTask) bool {
	if t.RequiredSkill != "" {
		found := false
		for _, s := range w.Skills {
			if s == t.RequiredSkill {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if t.RequiredTier != "" && w.MaxTier != "" && w.MaxTier.Rank() < t.RequiredTier.Rank() {
		return false
	}
	return true
}

// Eligible adds the daily hour limit to Qualified.
func (w Worker) Eligible(t DispatchTask) bool {
	return w.Qualified(t) && t.Hours <= w.HoursPerDay+hoursEpsilon
}

func (w Worker) availableOn(day Date) bool {
	for _, d := range w.UnavailableDays {
		if d.Equal(day) {
			return false
		}
	}
	return true
}

type DispatchProblem struct {
	Start   Date
	Days    int
	Tasks   []DispatchTask
	Workers []Worker
}

const hoursEpsilon = 1e-9

// Validate rejects malformed rosters and task lists.
func (p DispatchProblem) Validate() error {
	if p.Days < 1 {
		return InvalidInputError("horizon_days", fmt.Sprintf("horizon must be at least 1 day, got %d", p.Days))
	}
	if p.Start.IsZero() {
		return InvalidInputError("start_date", "dispatch start date is required")
	}
	seenTask := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return InvalidInputError("task.id", "task id is required")
		}
		if seenTask[t.ID] {
			return InvalidInputError("task.id", fmt.Sprintf("duplicate task %s", t.ID))
		}
		seenTask[t.ID] = true
		if math.IsNaN(t.Hours) || t.Hours <= 0 {
			return InvalidInputError("task.hours", fmt.Sprintf("task %s: hours must be > 0", t.ID))
		}
		if math.IsNaN(t.Priority) || t.Priority < 0 {
			return InvalidInputError("task.priority", fmt.Sprintf("task %s: priority must be >= 0", t.ID))
		}
		if t.RequiredTier != "" && !t.RequiredTier.Valid() {
			return InvalidInputError("task.required_tier", fmt.Sprintf("task %s: unknown tier %q", t.ID, t.RequiredTier))
		}
	}
	seenWorker := make(map[WorkerID]bool, len(p.Workers))
	for _, w := range p.Workers {
		if w.ID == "" {
			return InvalidInputError("worker.id", "worker id is required")
		}
		if seenWorker[w.ID] {
			return InvalidInputError("worker.id", fmt.Sprintf("duplicate worker %s", w.ID))
		}
		seenWorker[w.ID] = true
		if math.IsNaN(w.HoursPerDay) || w.HoursPerDay < 0 {
			return InvalidInputError("worker.hours_per_day", fmt.Sprintf("worker %s: hours per day must be >= 0", w.ID))
		}
		if w.MaxTier != "" && !w.MaxTier.Valid() {
			return InvalidInputError("worker.max_tier", fmt.Sprintf("worker %s: unknown tier %q", w.ID, w.MaxTier))
		}
	}
	return nil
}

// Day returns the calendar date of horizon day k.
func (p DispatchProblem) Day(k int) Date { return p.Start.AddDays(k) }

// Lateness is the whole days task t finishes after its due date when done on day k.
func (p DispatchProblem) Lateness(t DispatchTask, k int) int {
	if t.DueDate.IsZero() {
		return 0
	}
	late := t.DueDate.DaysUntil(p.Day(k))
	if late < 0 {
		return 0
	}
	return late
}

// Cost is the primary-objective contribution of task t done on day k.
func (p DispatchProblem) Cost(t DispatchTask, k int) float64 {
	return t.Priority * float64(p.Lateness(t, k))
}

// UnassignedPenalty is the contribution of leaving t unassigned.
func (p DispatchProblem) UnassignedPenalty(t DispatchTask) float64 {
	return t.Priority * float64(p.Lateness(t, p.Days-1)+1)
}

// orderTasks is the shared task ordering: priority desc, due date asc (none
// last), then ID.
func orderTasks(tasks []DispatchTask) []int {
	idx := make([]int, len(tasks))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		x, y := tasks[idx[a]], tasks[idx[b]]
		if x.Priority != y.Priority {
			return x.Priority > y.Priority
		}
		switch {
		case !x.DueDate.IsZero() && y.DueDate.IsZero():
			return true
		case x.DueDate.IsZero() && !y.DueDate.IsZero():
			return false
		case !x.DueDate.Equal(y.DueDate):
			return x.DueDate.Before(y.DueDate)
		}
		return x.ID < y.ID
	})
	return idx
}

// =============================================================================
// PLAN
// =============================================================================

type UnassignedTask struct {
	TaskID  string  `json:"task_id"`
	AssetID AssetID `json:"asset_id,omitempty"`
	Reason  string  `json:"reason"`
	Err     *Error  `json:"-"`
}

type DispatchPlan struct {
	Assignments     []WorkforceAssignment `json:"assignments"`
	Unassigned      []UnassignedTask      `json:"unassigned"`
	SolvedOptimally bool                  `json:"solved_optimally"`
	Solver          string                `json:"solver"`
	Objective       float64               `json:"objective"`
	Continuity      int                   `json:"continuity"`
	TotalHours      float64               `json:"total_hours"`
	Warnings        []string              `json:"warnings,omitempty"`
}

// slot is one task placement: worker index and day index. worker < 0 means unassigned.
type slot struct {
	worker int
	day    int
}

// buildPlan turns a per-task placement into the caller-facing plan. Both
// solvers go through here so their output is structurally identical.
func buildPlan(p DispatchProblem, placement []slot, solver string, optimal bool) *DispatchPlan {
	plan := &DispatchPlan{
		Assignments:     []WorkforceAssignment{},
		Unassigned:      []UnassignedTask{},
		SolvedOptimally: optimal,
		Solver:          solver,
	}
	for i, s := range placement {
		t := p.Tasks[i]
		if s.worker < 0 {
			reason := unassignedReason(p, t)
			plan.Unassigned = append(plan.Unassigned, UnassignedTask{
				TaskID:  t.ID,
				AssetID: t.AssetID,
				Reason:  reason,
				Err:     InfeasibleAssignmentError(t.ID, reason),
			})
			plan.Objective += p.UnassignedPenalty(t)
			continue
		}
		plan.Assignments = append(plan.Assignments, WorkforceAssignment{
			WorkerID: p.Workers[s.worker].ID,
			TaskID:   t.ID,
			AssetID:  t.AssetID,
			Date:     p.Day(s.day),
			DayIndex: s.day,
			Hours:    t.Hours,
		})
		plan.Objective += p.Cost(t, s.day)
		plan.TotalHours += t.Hours
	}
	plan.Continuity = continuity(p, placement)
	sort.SliceStable(plan.Assignments, func(i, j int) bool {
		a, b := plan.Assignments[i], plan.Assignments[j]
		if a.DayIndex != b.DayIndex {
			return a.DayIndex < b.DayIndex
		}
		if a.WorkerID != b.WorkerID {
			return a.WorkerID < b.WorkerID
		}
		return a.TaskID < b.TaskID
	})
	sort.SliceStable(plan.Unassigned, func(i, j int) bool { return plan.Unassigned[i].TaskID < plan.Unassigned[j].TaskID })
	return plan
}

func continuity(p DispatchProblem, placement []slot) int {
	touched := make(map[AssetID]map[int]bool)
	for i, s := range placement {
		aid := p.Tasks[i].AssetID
		if s.worker < 0 || aid == "" {
			continue
		}
		if touched[aid] == nil {
			touched[aid] = make(map[int]bool)
		}
		touched[aid][s.worker] = true
	}
	n := 0
	for _, ws := range touched {
		n += len(ws)
	}
	return n
}

func unassignedReason(p DispatchProblem, t DispatchTask) string {
	qualified := false
	for _, w := range p.Workers {
		if !w.Qualified(t) {
			continue
		}
		qualified = true
		if w.Eligible(t) {
			return "no_capacity_in_horizon"
		}
	}
	if qualified {
		return "exceeds_daily_hours"
	}
	return "no_eligible_worker"
}

// =============================================================================
// DISPATCHER - exact solver with greedy fallback
// =============================================================================

// Solver produces a plan for a problem. Implementations must honour ctx.
type Solver interface {
	Solve(ctx context.Context, p DispatchProblem) (*DispatchPlan, error)
	Name() string
}

const DefaultSolverTimeout = 10 * time.Second

type Dispatcher struct {
	Exact    Solver
	Fallback Solver
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewDispatcher wires the branch-and-bound solver with the greedy fallback.
// A zero timeout means DefaultSolverTimeout.
func NewDispatcher(timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSolverTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Exact:    &BranchAndBoundSolver{},
		Fallback: GreedySolver{},
		Timeout:  timeout,
		Logger:   logger,
	}
}

// Dispatch never fails because of the solver budget. It fails only on
// invalid input or when the caller's own context is done.
func (d *Dispatcher) Dispatch(ctx context.Context, p DispatchProblem) (*DispatchPlan, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	solveCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	plan, err := d.Exact.Solve(solveCtx, p)
	if err == nil {
		return plan, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !errors.Is(err, ErrSolverTimeout) {
		return nil, err
	}

	d.Logger.Warn("exact solver timed out, using greedy fallback",
		"solver", d.Exact.Name(), "timeout", d.Timeout.String(), "tasks", len(p.Tasks), "workers", len(p.Workers))
	plan, ferr := d.Fallback.Solve(ctx, p)
	if ferr != nil {
		return nil, ferr
	}
	plan.SolvedOptimally = false
	plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s; used %s fallback", err.Error(), d.Fallback.Name()))
	return plan, nil
}
