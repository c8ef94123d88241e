// Package store provides Store implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/decision-engine/optimization"
)

// ErrDuplicateID is returned when a write reuses an existing primary key.
var ErrDuplicateID = errors.New("duplicate id")

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	assets     map[optimization.AssetID]optimization.Asset
	snapshots  map[optimization.AssetID][]optimization.AssetHealthSnapshot
	costModels []optimization.CostModel
	flags      map[optimization.TenantID]optimization.FeatureFlags
	runs       map[optimization.RunID]optimization.Run
	scenarios  map[optimization.RunID][]optimization.Scenario
	recs       map[optimization.RecommendationID]optimization.Recommendation
	recOrder   []optimization.RecommendationID
}

var _ optimization.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		assets:    make(map[optimization.AssetID]optimization.Asset),
		snapshots: make(map[optimization.AssetID][]optimization.AssetHealthSnapshot),
		flags:     make(map[optimization.TenantID]optimization.FeatureFlags),
		runs:      make(map[optimization.RunID]optimization.Run),
		scenarios: make(map[optimization.RunID][]optimization.Scenario),
		recs:      make(map[optimization.RecommendationID]optimization.Recommendation),
	}
}

// =============================================================================
// INPUTS
// =============================================================================

func (m *Memory) UpsertAsset(_ context.Context, a optimization.Asset) error {
	if a.ID == "" || a.TenantID == "" {
		return optimization.InvalidInputError("asset", "asset id and tenant are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.assets[a.ID]; ok && prev.TenantID != a.TenantID {
		return fmt.Errorf("%w: asset %s belongs to another tenant", ErrDuplicateID, a.ID)
	}
	m.assets[a.ID] = a
	return nil
}

// AppendSnapshot stores an immutable snapshot. Snapshot IDs are unique.
func (m *Memory) AppendSnapshot(_ context.Context, s optimization.AssetHealthSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.snapshots[s.AssetID] {
		if existing.ID == s.ID {
			return fmt.Errorf("%w: snapshot %s", ErrDuplicateID, s.ID)
		}
	}
	m.snapshots[s.AssetID] = append(m.snapshots[s.AssetID], s)
	return nil
}

func (m *Memory) ListAssets(_ context.Context, tenant optimization.TenantID, filter optimization.AssetFilter) ([]optimization.AssetView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var views []optimization.AssetView
	for _, a := range m.assets {
		if a.TenantID != tenant || !filter.Matches(a) {
			continue
		}
		var own []optimization.AssetHealthSnapshot
		for _, s := range m.snapshots[a.ID] {
			if s.TenantID == tenant {
				own = append(own, s)
			}
		}
		views = append(views, optimization.AssetView{Asset: a, Snapshot: optimization.LatestSnapshot(own)})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Asset.ID < views[j].Asset.ID })
	return views, nil
}

func (m *Memory) CreateCostModel(_ context.Context, cm optimization.CostModel) error {
	if err := cm.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.costModels {
		if existing.ID == cm.ID {
			return fmt.Errorf("%w: cost model %s", ErrDuplicateID, cm.ID)
		}
	}
	m.costModels = append(m.costModels, cm)
	return nil
}

func (m *Memory) ListCostModels(_ context.Context, tenant optimization.TenantID) ([]optimization.CostModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenantModelsLocked(tenant), nil
}

func (m *Memory) ResolveCostModel(_ context.Context, tenant optimization.TenantID, q optimization.CostQuery) (optimization.CostModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return optimization.ResolveCostModel(m.tenantModelsLocked(tenant), q)
}

func (m *Memory) tenantModelsLocked(tenant optimization.TenantID) []optimization.CostModel {
	var out []optimization.CostModel
	for _, cm := range m.costModels {
		if cm.TenantID == tenant {
			out = append(out, cm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) TenantFlags(_ context.Context, tenant optimization.TenantID) (optimization.FeatureFlags, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flags[tenant]
	return f, ok, nil
}

func (m *Memory) SetTenantFlags(_ context.Context, tenant optimization.TenantID, flags optimization.FeatureFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[tenant] = flags
	return nil
}

// =============================================================================
// RUN LIFECYCLE
// =============================================================================

func (m *Memory) CreateRun(_ context.Context, run optimization.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("%w: run %s", ErrDuplicateID, run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) UpdateRun(_ context.Context, run optimization.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRunLocked(run)
}

func (m *Memory) updateRunLocked(run optimization.Run) error {
	prev, ok := m.runs[run.ID]
	if !ok || prev.TenantID != run.TenantID {
		return fmt.Errorf("%w: %s", optimization.ErrRunNotFound, run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

// CommitRun writes the run, scenarios and recommendations as one unit.
// Simulated with a snapshot + restore on error.
func (m *Memory) CommitRun(_ context.Context, run optimization.Run, scenarios []optimization.Scenario, recs []optimization.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := m.commitLocked(run, scenarios, recs); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *Memory) commitLocked(run optimization.Run, scenarios []optimization.Scenario, recs []optimization.Recommendation) error {
	if err := m.updateRunLocked(run); err != nil {
		return err
	}
	for _, s := range scenarios {
		if s.TenantID != run.TenantID || s.RunID != run.ID {
			return fmt.Errorf("scenario %s does not belong to run %s", s.ID, run.ID)
		}
		m.scenarios[run.ID] = append(m.scenarios[run.ID], s)
	}
	for _, r := range recs {
		if r.TenantID != run.TenantID || r.RunID != run.ID {
			return fmt.Errorf("recommendation %s does not belong to run %s", r.ID, run.ID)
		}
		if _, ok := m.recs[r.ID]; ok {
			return fmt.Errorf("%w: recommendation %s", ErrDuplicateID, r.ID)
		}
		m.recs[r.ID] = r
		m.recOrder = append(m.recOrder, r.ID)
	}
	return nil
}

type memorySnapshot struct {
	runs      map[optimization.RunID]optimization.Run
	scenarios map[optimization.RunID][]optimization.Scenario
	recs      map[optimization.RecommendationID]optimization.Recommendation
	recOrder  []optimization.RecommendationID
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		runs:      make(map[optimization.RunID]optimization.Run, len(m.runs)),
		scenarios: make(map[optimization.RunID][]optimization.Scenario, len(m.scenarios)),
		recs:      make(map[optimization.RecommendationID]optimization.Recommendation, len(m.recs)),
		recOrder:  append([]optimization.RecommendationID{}, m.recOrder...),
	}
	for k, v := range m.runs {
		s.runs[k] = v
	}
	for k, v := range m.scenarios {
		s.scenarios[k] = append([]optimization.Scenario{}, v...)
	}
	for k, v := range m.recs {
		s.recs[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.runs = s.runs
	m.scenarios = s.scenarios
	m.recs = s.recs
	m.recOrder = s.recOrder
}

// =============================================================================
// RUN QUERIES
// =============================================================================

func (m *Memory) GetRun(_ context.Context, tenant optimization.TenantID, id optimization.RunID) (optimization.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok || r.TenantID != tenant {
		return optimization.Run{}, fmt.Errorf("%w: %s", optimization.ErrRunNotFound, id)
	}
	return r, nil
}

// ListRuns returns newest first.
func (m *Memory) ListRuns(_ context.Context, tenant optimization.TenantID, filter optimization.RunFilter) ([]optimization.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []optimization.Run
	for _, r := range m.runs {
		if r.TenantID != tenant {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (m *Memory) ListScenarios(_ context.Context, tenant optimization.TenantID, runID optimization.RunID) ([]optimization.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok || r.TenantID != tenant {
		return nil, fmt.Errorf("%w: %s", optimization.ErrRunNotFound, runID)
	}
	return append([]optimization.Scenario{}, m.scenarios[runID]...), nil
}

func (m *Memory) LatestRun(ctx context.Context, tenant optimization.TenantID, runType optimization.RunType, status optimization.RunStatus) (optimization.Run, error) {
	runs, err := m.ListRuns(ctx, tenant, optimization.RunFilter{Type: runType, Status: status, Limit: 1})
	if err != nil {
		return optimization.Run{}, err
	}
	if len(runs) == 0 {
		return optimization.Run{}, fmt.Errorf("%w: no %s %s run", optimization.ErrRunNotFound, status, runType)
	}
	return runs[0], nil
}

func (m *Memory) StaleRuns(_ context.Context, startedBefore time.Time) ([]optimization.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []optimization.Run
	for _, r := range m.runs {
		if r.Status == optimization.RunRunning && r.StartedAt != nil && r.StartedAt.Before(startedBefore) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

// ListRecommendations returns highest priority first, then insertion order.
func (m *Memory) ListRecommendations(_ context.Context, tenant optimization.TenantID, filter optimization.RecommendationFilter) ([]optimization.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []optimization.Recommendation
	for _, id := range m.recOrder {
		r := m.recs[id]
		if r.TenantID != tenant {
			continue
		}
		if filter.RunID != "" && r.RunID != filter.RunID {
			continue
		}
		if filter.AssetID != "" && r.AssetID != filter.AssetID {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PriorityScore > out[j].PriorityScore })
	return page(out, filter.Offset, filter.Limit), nil
}

func (m *Memory) GetRecommendation(_ context.Context, tenant optimization.TenantID, id optimization.RecommendationID) (optimization.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[id]
	if !ok || r.TenantID != tenant {
		return optimization.Recommendation{}, fmt.Errorf("%w: %s", optimization.ErrRecommendationNotFound, id)
	}
	return r, nil
}

func (m *Memory) UpdateRecommendation(_ context.Context, tenant optimization.TenantID, id optimization.RecommendationID, upd optimization.RecommendationUpdate) (optimization.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok || r.TenantID != tenant {
		return optimization.Recommendation{}, fmt.Errorf("%w: %s", optimization.ErrRecommendationNotFound, id)
	}
	next, err := optimization.ApplyRecommendationUpdate(r, upd)
	if err != nil {
		return optimization.Recommendation{}, err
	}
	m.recs[id] = next
	return next, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
