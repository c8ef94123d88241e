package optimization

import "context"

// GreedySolver is the always-terminating baseline: tasks by priority (then
// due date, then ID), each placed on the earliest day with the first worker
// in roster order that still has room. Its plans are never marked optimal.
type GreedySolver struct{}

func (GreedySolver) Name() string { return "greedy" }

func (GreedySolver) Solve(ctx context.Context, p DispatchProblem) (*DispatchPlan, error) {
	placement, err := greedyPlacement(ctx, p)
	if err != nil {
		return nil, err
	}
	return buildPlan(p, placement, "greedy", false), nil
}

func greedyPlacement(ctx context.Context, p DispatchProblem) ([]slot, error) {
	remaining := newCapacity(p)
	placement := make([]slot, len(p.Tasks))
	for i := range placement {
		placement[i] = slot{worker: -1}
	}
	for _, ti := range orderTasks(p.Tasks) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := p.Tasks[ti]
	days:
		for k := 0; k < p.Days; k++ {
			for wi, w := range p.Workers {
				if !w.Eligible(t) || !remaining.fits(wi, k, t.Hours) {
					continue
				}
				remaining.take(wi, k, t.Hours)
				placement[ti] = slot{worker: wi, day: k}
				break days
			}
		}
	}
	return placement, nil
}

// capacity tracks hours left per worker per day. Unavailable days start at zero.
type capacity [][]float64

func newCapacity(p DispatchProblem) capacity {
	c := make(capacity, len(p.Workers))
	for wi, w := range p.Workers {
		c[wi] = make([]float64, p.Days)
		for k := 0; k < p.Days; k++ {
			if w.availableOn(p.Day(k)) {
				c[wi][k] = w.HoursPerDay
			}
		}
	}
	return c
}

func (c capacity) fits(worker, day int, hours float64) bool {
	return c[worker][day]+hoursEpsilon >= hours
}

func (c capacity) take(worker, day int, hours float64) { c[worker][day] -= hours }
func (c capacity) release(worker, day int, hours float64) { c[worker][day] += hours }
