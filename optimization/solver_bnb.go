package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// =============================================================================
// BRANCH AND BOUND - exact solver over x[task, worker, day]
// =============================================================================

// BranchAndBoundSolver enumerates placements depth-first in task priority
// order. The greedy plan seeds the incumbent; a branch is pruned when its
// lower bound (cost so far plus each remaining task's cheapest placement,
// ignoring capacity) cannot beat the incumbent.
//
// Plans are compared lexicographically on (objective, unassigned count,
// continuity). Capacity and eligibility are enforced at every node.
type BranchAndBoundSolver struct {
	// CheckEvery is how many nodes pass between context checks. Zero means 1024.
	CheckEvery int
}

func (s *BranchAndBoundSolver) Name() string { return "branch_and_bound" }

type bnbOption struct {
	worker int
	day    int
	cost   float64
}

type bnbScore struct {
	objective  float64
	unassigned int
	continuity int
}

const objectiveEpsilon = 1e-9

func (a bnbScore) better(b bnbScore) bool {
	if a.objective < b.objective-objectiveEpsilon {
		return true
	}
	if a.objective > b.objective+objectiveEpsilon {
		return false
	}
	if a.unassigned != b.unassigned {
		return a.unassigned < b.unassigned
	}
	return a.continuity < b.continuity
}

type bnbSearch struct {
	ctx        context.Context
	p          DispatchProblem
	order      []int
	options    [][]bnbOption
	suffixLB   []float64
	remaining  capacity
	placement  []slot
	touched    map[AssetID]map[int]int
	score      bnbScore
	best       []slot
	bestScore  bnbScore
	nodes      int
	checkEvery int
	aborted    bool
}

func (s *BranchAndBoundSolver) Solve(ctx context.Context, p DispatchProblem) (*DispatchPlan, error) {
	incumbent, err := greedyPlacement(ctx, p)
	if err != nil {
		return nil, SolverTimeoutError(fmt.Sprintf("exact solver stopped before an incumbent was found: %v", err))
	}

	search := &bnbSearch{
		ctx:        ctx,
		p:          p,
		order:      orderTasks(p.Tasks),
		remaining:  newCapacity(p),
		placement:  make([]slot, len(p.Tasks)),
		touched:    make(map[AssetID]map[int]int),
		best:       incumbent,
		checkEvery: s.CheckEvery,
	}
	if search.checkEvery <= 0 {
		search.checkEvery = 1024
	}
	search.bestScore = scorePlacement(p, incumbent)
	search.buildOptions()

	if !search.provablyOptimal() {
		search.dfs(0)
	}
	if search.aborted {
		return nil, SolverTimeoutError(fmt.Sprintf("exact solver exceeded its time budget after %d nodes", search.nodes))
	}
	return buildPlan(p, search.best, s.Name(), true), nil
}

func scorePlacement(p DispatchProblem, placement []slot) bnbScore {
	var sc bnbScore
	for i, s := range placement {
		if s.worker < 0 {
			sc.objective += p.UnassignedPenalty(p.Tasks[i])
			sc.unassigned++
			continue
		}
		sc.objective += p.Cost(p.Tasks[i], s.day)
	}
	sc.continuity = continuity(p, placement)
	return sc
}

// buildOptions lists every (worker, day) a task may use, cheapest first, and
// the suffix lower bounds used for pruning.
func (b *bnbSearch) buildOptions() {
	b.options = make([][]bnbOption, len(b.p.Tasks))
	for ti, t := range b.p.Tasks {
		var opts []bnbOption
		for wi, w := range b.p.Workers {
			if !w.Eligible(t) {
				continue
			}
			for k := 0; k < b.p.Days; k++ {
				if b.remaining.fits(wi, k, t.Hours) {
					opts = append(opts, bnbOption{worker: wi, day: k, cost: b.p.Cost(t, k)})
				}
			}
		}
		sort.SliceStable(opts, func(i, j int) bool {
			if opts[i].cost != opts[j].cost {
				return opts[i].cost < opts[j].cost
			}
			if opts[i].day != opts[j].day {
				return opts[i].day < opts[j].day
			}
			return opts[i].worker < opts[j].worker
		})
		b.options[ti] = opts
	}
	b.suffixLB = make([]float64, len(b.order)+1)
	for j := len(b.order) - 1; j >= 0; j-- {
		ti := b.order[j]
		cheapest := b.p.UnassignedPenalty(b.p.Tasks[ti])
		if len(b.options[ti]) > 0 {
			cheapest = math.Min(cheapest, b.options[ti][0].cost)
		}
		b.suffixLB[j] = b.suffixLB[j+1] + cheapest
	}
}

// provablyOptimal reports whether the incumbent already meets every lower
// bound: cheapest objective, nothing unassigned, one worker per asset.
func (b *bnbSearch) provablyOptimal() bool {
	if b.bestScore.unassigned > 0 || b.bestScore.objective > b.suffixLB[0]+objectiveEpsilon {
		return false
	}
	assets := make(map[AssetID]bool)
	for _, t := range b.p.Tasks {
		if t.AssetID != "" {
			assets[t.AssetID] = true
		}
	}
	return b.bestScore.continuity <= len(assets)
}

func (b *bnbSearch) dfs(j int) {
	if b.aborted {
		return
	}
	b.nodes++
	if b.nodes%b.checkEvery == 0 && b.ctx.Err() != nil {
		b.aborted = true
		return
	}
	if j == len(b.order) {
		if b.score.better(b.bestScore) {
			b.bestScore = b.score
			b.best = append(b.best[:0:0], b.placement...)
		}
		return
	}
	bound := b.score
	bound.objective += b.suffixLB[j]
	if !bound.better(b.bestScore) {
		return
	}

	ti := b.order[j]
	t := b.p.Tasks[ti]
	for _, opt := range b.options[ti] {
		if !b.remaining.fits(opt.worker, opt.day, t.Hours) {
			continue
		}
		b.place(ti, t, opt)
		b.dfs(j + 1)
		b.unplace(ti, t, opt)
		if b.aborted {
			return
		}
	}

	penalty := b.p.UnassignedPenalty(t)
	b.placement[ti] = slot{worker: -1}
	b.score.objective += penalty
	b.score.unassigned++
	b.dfs(j + 1)
	b.score.objective -= penalty
	b.score.unassigned--
}

func (b *bnbSearch) place(ti int, t DispatchTask, opt bnbOption) {
	b.remaining.take(opt.worker, opt.day, t.Hours)
	b.placement[ti] = slot{worker: opt.worker, day: opt.day}
	b.score.objective += opt.cost
	if t.AssetID == "" {
		return
	}
	if b.touched[t.AssetID] == nil {
		b.touched[t.AssetID] = make(map[int]int)
	}
	if b.touched[t.AssetID][opt.worker] == 0 {
		b.score.continuity++
	}
	b.touched[t.AssetID][opt.worker]++
}

func (b *bnbSearch) unplace(ti int, t DispatchTask, opt bnbOption) {
	b.remaining.release(opt.worker, opt.day, t.Hours)
	b.placement[ti] = slot{worker: -1}
	b.score.objective -= opt.cost
	if t.AssetID == "" {
		return
	}
	b.touched[t.AssetID][opt.worker]--
	if b.touched[t.AssetID][opt.worker] == 0 {
		b.score.continuity--
	}
}
