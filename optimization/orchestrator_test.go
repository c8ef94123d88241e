package optimization_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/decision-engine/optimization"
	"github.com/warp/decision-engine/optimization/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	tenantA optimization.TenantID = "tenant-a"
	tenantB optimization.TenantID = "tenant-b"
	planner optimization.UserID   = "planner-1"
)

var engineNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

// seedTenant writes the reference plant used across the orchestrator tests:
//
//	pump-1   critical  H=40  P=0.6   risk index 80
//	fan-2    medium    H=85  P=0.05  risk index 40
//	motor-3  high      no snapshot
func seedTenant(t *testing.T, mem *store.Memory, tenant optimization.TenantID) {
	t.Helper()
	ctx := context.Background()
	assets := []optimization.Asset{
		{ID: optimization.AssetID(string(tenant) + "/pump-1"), TenantID: tenant, SiteID: "site-1", Name: "Feed pump", Criticality: optimization.CriticalityCritical, Active: true},
		{ID: optimization.AssetID(string(tenant) + "/fan-2"), TenantID: tenant, SiteID: "site-1", Name: "Cooling fan", Criticality: optimization.CriticalityMedium, Active: true},
		{ID: optimization.AssetID(string(tenant) + "/motor-3"), TenantID: tenant, SiteID: "site-1", Name: "Drive motor", Criticality: optimization.CriticalityHigh, Active: true},
	}
	for _, a := range assets {
		require.NoError(t, mem.UpsertAsset(ctx, a))
	}
	snaps := []optimization.AssetHealthSnapshot{
		{ID: string(tenant) + "-s1", TenantID: tenant, AssetID: assets[0].ID, HealthScore: 40, FailureProbability: 0.6, ProductionRiskIndex: 80, ComputedAt: engineNow.Add(-time.Hour)},
		{ID: string(tenant) + "-s2", TenantID: tenant, AssetID: assets[1].ID, HealthScore: 85, FailureProbability: 0.05, ProductionRiskIndex: 40, ComputedAt: engineNow.Add(-time.Hour)},
	}
	for _, s := range snaps {
		require.NoError(t, mem.AppendSnapshot(ctx, s))
	}
	require.NoError(t, mem.CreateCostModel(ctx, optimization.CostModel{
		ID:                        string(tenant) + "-cm",
		TenantID:                  tenant,
		CostPerFailure:            optimization.NewMoney(100000, "SAR"),
		DowntimeCostPerHour:       optimization.NewMoney(5000, "SAR"),
		PreventiveMaintenanceCost: optimization.NewMoney(2000, "SAR"),
		Currency:                  "SAR",
		Active:                    true,
	}))
}

type harness struct {
	mem    *store.Memory
	engine *optimization.Engine
}

func newHarness(t *testing.T, flags optimization.FeatureFlags, mutate ...func(*optimization.EngineConfig)) *harness {
	t.Helper()
	mem := store.NewMemory()
	seedTenant(t, mem, tenantA)
	seedTenant(t, mem, tenantB)
	cfg := optimization.EngineConfig{
		Live:            mem,
		Runs:            mem,
		Recommendations: mem,
		Flags:           optimization.StaticFlags(flags),
		Clock:           func() time.Time { return engineNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	engine, err := optimization.NewEngine(cfg)
	require.NoError(t, err)
	return &harness{mem: mem, engine: engine}
}

var enabled = optimization.FeatureFlags{EngineEnabled: true}

func assetOf(tenant optimization.TenantID, name string) optimization.AssetID {
	return optimization.AssetID(string(tenant) + "/" + name)
}

// =============================================================================
// MAINTENANCE PRIORITY
// =============================================================================

func TestEngine_MaintenancePriority(t *testing.T) {
	// GIVEN: two scored assets and one never scored
	h := newHarness(t, enabled)
	ctx := context.Background()

	// WHEN: running the priority ranking
	res, err := h.engine.RunMaintenancePriority(ctx, tenantA, planner, optimization.MaintenancePriorityParams{})
	require.NoError(t, err)

	// THEN: completed run with one recommended scenario
	assert.Equal(t, optimization.RunCompleted, res.Run.Status)
	require.Len(t, res.Scenarios, 1)
	assert.True(t, res.Scenarios[0].Recommended)

	// recommendations in priority order, pump-1 first at 148
	require.Len(t, res.Recommendations, 2)
	top := res.Recommendations[0]
	assert.Equal(t, assetOf(tenantA, "pump-1"), top.AssetID)
	assert.InDelta(t, 148, top.PriorityScore, 1e-9)
	assert.Equal(t, "maintenance.immediate", top.ActionCode)
	assert.Equal(t, optimization.RecRepair, top.Type)
	assert.Equal(t, optimization.NewDate(2026, time.March, 3), *top.RecommendedDate)
	assert.Contains(t, top.Title, "Feed pump")
	assert.Equal(t, optimization.RecPending, top.Status)
	assert.Equal(t, "inspection.within_30_days", res.Recommendations[1].ActionCode)

	// the unscored asset is surfaced, never defaulted
	assert.Equal(t, 1, res.Run.Summary["skipped_assets"])
	require.NotEmpty(t, res.Run.Warnings)

	// everything is persisted and tenant-scoped
	stored, err := h.mem.GetRun(ctx, tenantA, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, optimization.RunCompleted, stored.Status)
	recs, err := h.mem.ListRecommendations(ctx, tenantA, optimization.RecommendationFilter{RunID: res.Run.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	_, err = h.mem.GetRun(ctx, tenantB, res.Run.ID)
	assert.ErrorIs(t, err, optimization.ErrRunNotFound)
}

func TestEngine_TopNLimitsRecommendations(t *testing.T) {
	h := newHarness(t, enabled)
	res, err := h.engine.RunMaintenancePriority(context.Background(), tenantA, planner, optimization.MaintenancePriorityParams{TopN: 1})
	require.NoError(t, err)
	assert.Len(t, res.Recommendations, 1)
}

// =============================================================================
// DEFERRAL COST
// =============================================================================

func TestEngine_DeferralCost(t *testing.T) {
	h := newHarness(t, enabled)

	res, err := h.engine.RunDeferralCost(context.Background(), tenantA, planner, optimization.DeferralCostParams{
		Windows:     []int{0, 7, 14},
		Escalation:  optimization.CurveConfig{Type: "linear", RatePerDay: 0.05, Cap: 1},
		RiskCeiling: optimization.Float64(1),
	})
	require.NoError(t, err)

	// one scenario per window, cheapest (no deferral) recommended
	require.Len(t, res.Scenarios, 3)
	rec, ok := res.RecommendedScenario()
	require.True(t, ok)
	assert.Equal(t, "Defer 0 days", rec.Name)
	// pump-1 60000 + fan-2 5000 at day 0
	assert.Equal(t, "65000", rec.TotalCost.Amount.String())
	assert.Equal(t, "SAR", rec.TotalCost.Currency)

	require.Len(t, res.Recommendations, 2)
	for _, r := range res.Recommendations {
		assert.Equal(t, "deferral.do_not_defer", r.ActionCode)
		assert.Equal(t, rec.ID, r.ScenarioID)
		assert.True(t, r.DeferralCost.IsPositive())
	}
	// highest cost of deferring to the longest window comes first
	assert.Equal(t, assetOf(tenantA, "pump-1"), res.Recommendations[0].AssetID)
}

func TestEngine_DeferralCost_CeilingNeverMet(t *testing.T) {
	// GIVEN: only positive windows and a ceiling below any increase
	h := newHarness(t, enabled)

	res, err := h.engine.RunDeferralCost(context.Background(), tenantA, planner, optimization.DeferralCostParams{
		Windows:     []int{7, 14},
		RiskCeiling: optimization.Float64(0.01),
	})

	// THEN: still completes, with a warning and the lowest-risk scenario
	require.NoError(t, err)
	rec, ok := res.RecommendedScenario()
	require.True(t, ok)
	assert.Equal(t, "Defer 7 days", rec.Name)
	found := false
	for _, w := range res.Run.Warnings {
		if strings.Contains(w, "risk ceiling") {
			found = true
		}
	}
	assert.True(t, found, "expected a risk ceiling warning, got %v", res.Run.Warnings)
}

func TestEngine_DeferralCost_Idempotent(t *testing.T) {
	h := newHarness(t, enabled)
	params := optimization.DeferralCostParams{Windows: []int{0, 7, 30}}

	first, err := h.engine.RunDeferralCost(context.Background(), tenantA, planner, params)
	require.NoError(t, err)
	second, err := h.engine.RunDeferralCost(context.Background(), tenantA, planner, params)
	require.NoError(t, err)

	a, _ := first.RecommendedScenario()
	b, _ := second.RecommendedScenario()
	assert.NotEqual(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, a.Name, b.Name)
	assert.True(t, a.TotalCost.Amount.Equal(b.TotalCost.Amount))
	assert.InDelta(t, a.TotalRisk, b.TotalRisk, 1e-12)
}

func TestEngine_DeferralCost_ZeroCeilingIsKept(t *testing.T) {
	// GIVEN: a tenant that accepts no added failure risk at all
	h := newHarness(t, enabled)
	ctx := context.Background()

	// WHEN: comparing no deferral with a 3-day deferral
	res, err := h.engine.RunDeferralCost(ctx, tenantA, planner, optimization.DeferralCostParams{
		Windows:     []int{0, 3},
		RiskCeiling: optimization.Float64(0),
	})
	require.NoError(t, err)

	// THEN: the zero ceiling is applied, reported and persisted as given
	assert.Equal(t, 0.0, res.Run.Summary["risk_ceiling"])
	var persisted map[string]any
	stored, err := h.mem.GetRun(ctx, tenantA, res.Run.ID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(stored.Parameters, &persisted))
	assert.Equal(t, 0.0, persisted["risk_ceiling"])
	assert.Equal(t, 24.0, persisted["mean_downtime_hours"], "unset fields still take the default")

	rec, ok := res.RecommendedScenario()
	require.True(t, ok)
	assert.Equal(t, "Defer 0 days", rec.Name)

	// pump-1 goes 0.60 -> 0.75 over three days, which breaks a zero ceiling
	deferred := res.Scenarios[1]
	require.Equal(t, "Defer 3 days", deferred.Name)
	raw, err := json.Marshal(deferred.Results)
	require.NoError(t, err)
	var results struct {
		CostAnalysis []struct {
			AssetID       optimization.AssetID `json:"asset_id"`
			RiskIncrease  float64              `json:"risk_increase"`
			WithinCeiling bool                 `json:"within_ceiling"`
		} `json:"cost_analysis"`
	}
	require.NoError(t, json.Unmarshal(raw, &results))
	require.NotEmpty(t, results.CostAnalysis)
	for _, a := range results.CostAnalysis {
		assert.Positive(t, a.RiskIncrease, a.AssetID)
		assert.False(t, a.WithinCeiling, a.AssetID)
	}
}

func TestEngine_DeferralCost_ZeroDowntimeIsKept(t *testing.T) {
	h := newHarness(t, enabled)

	res, err := h.engine.RunDeferralCost(context.Background(), tenantA, planner, optimization.DeferralCostParams{
		Windows:           []int{7},
		Escalation:        optimization.CurveConfig{Type: "linear", RatePerDay: 0.05, Cap: 1},
		MeanDowntimeHours: optimization.Float64(0),
		RiskCeiling:       optimization.Float64(1),
	})
	require.NoError(t, err)

	// only failure cost remains: pump-1 0.95*100000 + fan-2 0.40*100000
	require.Len(t, res.Scenarios, 1)
	assert.InDelta(t, 135000, res.Scenarios[0].TotalCost.Float64(), 1e-6)
}

// =============================================================================
// PRODUCTION RISK
// =============================================================================

func TestEngine_ProductionRisk(t *testing.T) {
	h := newHarness(t, enabled)

	res, err := h.engine.RunProductionRisk(context.Background(), tenantA, planner, optimization.ProductionRiskParams{
		Capacities:         []int{1, 2},
		TargetReductionPct: optimization.Float64(20),
	})
	require.NoError(t, err)

	// no-action baseline plus one scenario per capacity
	require.Len(t, res.Scenarios, 3)
	assert.Equal(t, "No action", res.Scenarios[0].Name)
	assert.InDelta(t, 120, res.Scenarios[0].TotalRisk, 1e-9)

	// ceiling 96: servicing pump-1 alone (risk 92, cost 2000) is cheapest within it
	rec, ok := res.RecommendedScenario()
	require.True(t, ok)
	assert.Equal(t, "Service up to 1 assets", rec.Name)
	assert.InDelta(t, 92, rec.TotalRisk, 1e-9)

	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, assetOf(tenantA, "pump-1"), res.Recommendations[0].AssetID)
	assert.Equal(t, "production.reduce_load_60", res.Recommendations[0].ActionCode)
	assert.InDelta(t, 28, res.Recommendations[0].RiskReduction, 1e-9)
}

// =============================================================================
// WORKFORCE DISPATCH
// =============================================================================

func TestEngine_WorkforceDispatch_ExplicitTasks(t *testing.T) {
	h := newHarness(t, enabled)

	res, err := h.engine.RunWorkforceDispatch(context.Background(), tenantA, planner, optimization.WorkforceDispatchParams{
		HorizonDays: 2,
		Workers:     []optimization.Worker{{ID: "eng-1", HoursPerDay: 8, Skills: []string{"mechanical"}}},
		Tasks: []optimization.DispatchTask{
			{ID: "t-4h", AssetID: assetOf(tenantA, "pump-1"), Hours: 4, RequiredSkill: "mechanical", Priority: 10},
			{ID: "t-6h", AssetID: assetOf(tenantA, "fan-2"), Hours: 6, RequiredSkill: "mechanical", Priority: 20},
			{ID: "t-hv", Hours: 1, RequiredSkill: "high_voltage", Priority: 5},
		},
	})

	// THEN: completed even though one task is infeasible
	require.NoError(t, err)
	assert.Equal(t, optimization.RunCompleted, res.Run.Status)
	require.Len(t, res.Recommendations, 2)
	for _, r := range res.Recommendations {
		assert.Equal(t, optimization.RecDispatch, r.Type)
		require.NotNil(t, r.AssignedTo)
		assert.Equal(t, optimization.WorkerID("eng-1"), *r.AssignedTo)
	}
	assert.NotEqual(t, *res.Recommendations[0].RecommendedDate, *res.Recommendations[1].RecommendedDate)

	// standard roster plus extended hours
	require.Len(t, res.Scenarios, 2)
	assert.Equal(t, 3, res.Run.Summary["total_tasks"])
	found := false
	for _, w := range res.Run.Warnings {
		if strings.Contains(w, "could not be assigned") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngine_WorkforceDispatch_FromPendingRecommendations(t *testing.T) {
	// GIVEN: a completed priority run leaves pending repair and inspect items
	h := newHarness(t, enabled)
	ctx := context.Background()
	_, err := h.engine.RunMaintenancePriority(ctx, tenantA, planner, optimization.MaintenancePriorityParams{})
	require.NoError(t, err)

	// WHEN: dispatching without explicit tasks
	res, err := h.engine.RunWorkforceDispatch(ctx, tenantA, planner, optimization.WorkforceDispatchParams{
		Workers: []optimization.Worker{{ID: "eng-1", HoursPerDay: 8}},
	})

	// THEN: both become tasks (repair 4h, inspect 2h) and fit on day 0
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 2)
	hours := 0.0
	for _, r := range res.Recommendations {
		hours += r.EstimatedHours
		assert.Equal(t, engineNow.Format("2006-01-02"), r.RecommendedDate.String())
	}
	assert.InDelta(t, 6, hours, 1e-9)
}

func TestEngine_WorkforceDispatch_ZeroOvertimePremium(t *testing.T) {
	// GIVEN: a 10h job, an 8h roster and overtime paid at the plain rate
	h := newHarness(t, enabled)

	res, err := h.engine.RunWorkforceDispatch(context.Background(), tenantA, planner, optimization.WorkforceDispatchParams{
		HorizonDays:     1,
		Workers:         []optimization.Worker{{ID: "eng-1", HoursPerDay: 8}},
		Tasks:           []optimization.DispatchTask{{ID: "overhaul", AssetID: assetOf(tenantA, "pump-1"), Hours: 10, Priority: 5}},
		LabourRate:      optimization.NewMoney(100, "SAR"),
		OvertimeFactor:  1.25,
		OvertimePremium: optimization.Float64(0),
	})
	require.NoError(t, err)

	// THEN: ten hours at 100 with no premium on the two overtime hours
	require.Len(t, res.Scenarios, 2)
	extended := res.Scenarios[1]
	require.Equal(t, "Extended hours", extended.Name)
	assert.True(t, extended.TotalCost.Amount.Equal(optimization.NewMoney(1000, "SAR").Amount), extended.TotalCost.Amount.String())

	// and the extended roster is recommended because only it gets the job done
	rec, ok := res.RecommendedScenario()
	require.True(t, ok)
	assert.Equal(t, "Extended hours", rec.Name)
	require.Len(t, res.Recommendations, 1)
	assert.InDelta(t, 10, res.Recommendations[0].EstimatedHours, 1e-9)
}

func TestEngine_WorkforceDispatch_StandardRosterWhenExtraHoursChangeNothing(t *testing.T) {
	h := newHarness(t, enabled)

	res, err := h.engine.RunWorkforceDispatch(context.Background(), tenantA, planner, optimization.WorkforceDispatchParams{
		HorizonDays: 1,
		Workers:     []optimization.Worker{{ID: "eng-1", HoursPerDay: 8}},
		Tasks:       []optimization.DispatchTask{{ID: "t1", Hours: 4, Priority: 5}},
	})
	require.NoError(t, err)

	rec, ok := res.RecommendedScenario()
	require.True(t, ok)
	assert.Equal(t, "Standard roster", rec.Name)
}

func TestEngine_WorkforceDispatch_SolverFallback(t *testing.T) {
	obs := &recordingObserver{}
	d := optimization.NewDispatcher(10*time.Millisecond, nil)
	d.Exact = slowSolver{}
	h := newHarness(t, enabled, func(c *optimization.EngineConfig) {
		c.Dispatcher = d
		c.Observer = obs
	})

	res, err := h.engine.RunWorkforceDispatch(context.Background(), tenantA, planner, optimization.WorkforceDispatchParams{
		Workers: []optimization.Worker{{ID: "eng-1", HoursPerDay: 8}},
		Tasks:   []optimization.DispatchTask{{ID: "t1", Hours: 2, Priority: 1}},
	})

	require.NoError(t, err)
	assert.Equal(t, optimization.RunCompleted, res.Run.Status)
	assert.Equal(t, false, res.Run.Summary["solved_optimally"])
	assert.NotEmpty(t, res.Run.Warnings)
	assert.Positive(t, obs.fallbacks)
}

// =============================================================================
// FAILURE PATHS
// =============================================================================

func TestEngine_DisabledFailsRun(t *testing.T) {
	h := newHarness(t, optimization.FeatureFlags{})
	ctx := context.Background()

	res, err := h.engine.RunMaintenancePriority(ctx, tenantA, planner, optimization.MaintenancePriorityParams{})

	require.Error(t, err)
	assert.ErrorIs(t, err, optimization.ErrEngineDisabled)
	assert.Equal(t, optimization.KindConfiguration, optimization.KindOf(err))
	require.NotNil(t, res)
	assert.Equal(t, optimization.RunFailed, res.Run.Status)

	stored, err := h.mem.GetRun(ctx, tenantA, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, optimization.RunFailed, stored.Status)
	assert.Equal(t, optimization.KindConfiguration, stored.ErrorKind)
	recs, err := h.mem.ListRecommendations(ctx, tenantA, optimization.RecommendationFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEngine_MissingCostModel(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.UpsertAsset(ctx, optimization.Asset{ID: "a-1", TenantID: tenantA, Criticality: optimization.CriticalityLow, Active: true}))
	require.NoError(t, mem.AppendSnapshot(ctx, optimization.AssetHealthSnapshot{ID: "s-1", TenantID: tenantA, AssetID: "a-1", HealthScore: 50, FailureProbability: 0.2, ComputedAt: engineNow}))
	engine, err := optimization.NewEngine(optimization.EngineConfig{Live: mem, Runs: mem, Flags: optimization.StaticFlags(enabled)})
	require.NoError(t, err)

	res, err := engine.RunDeferralCost(ctx, tenantA, planner, optimization.DeferralCostParams{})

	require.Error(t, err)
	assert.ErrorIs(t, err, optimization.ErrCostModelNotFound)
	assert.Equal(t, "cost_model_not_found", optimization.AsError(err).Code)
	assert.Equal(t, optimization.RunFailed, res.Run.Status)
}

func TestEngine_MixedCurrency(t *testing.T) {
	h := newHarness(t, enabled)
	ctx := context.Background()
	require.NoError(t, h.mem.CreateCostModel(ctx, optimization.CostModel{
		ID: "fan-usd", TenantID: tenantA, AssetID: assetOf(tenantA, "fan-2"),
		CostPerFailure: optimization.NewMoney(1000, "USD"), Currency: "USD", Active: true,
	}))

	_, err := h.engine.RunDeferralCost(ctx, tenantA, planner, optimization.DeferralCostParams{})
	require.Error(t, err)
	assert.Equal(t, "mixed_currency", optimization.AsError(err).Code)
}

// leakySource returns another tenant's asset alongside the requested ones.
type leakySource struct {
	optimization.DataSource
	foreign optimization.AssetView
}

func (l leakySource) ListAssets(ctx context.Context, tenant optimization.TenantID, f optimization.AssetFilter) ([]optimization.AssetView, error) {
	views, err := l.DataSource.ListAssets(ctx, tenant, f)
	return append(views, l.foreign), err
}

func TestEngine_CrossTenantDataFailsRun(t *testing.T) {
	mem := store.NewMemory()
	seedTenant(t, mem, tenantA)
	foreign := optimization.AssetView{Asset: optimization.Asset{ID: "other", TenantID: tenantB, Criticality: optimization.CriticalityLow, Active: true}}
	engine, err := optimization.NewEngine(optimization.EngineConfig{
		Live:  leakySource{DataSource: mem, foreign: foreign},
		Runs:  mem,
		Flags: optimization.StaticFlags(enabled),
	})
	require.NoError(t, err)

	res, err := engine.RunMaintenancePriority(context.Background(), tenantA, planner, optimization.MaintenancePriorityParams{})

	require.Error(t, err)
	assert.ErrorIs(t, err, optimization.ErrCrossTenantData)
	assert.Equal(t, optimization.KindCrossTenantData, res.Run.ErrorKind)
	assert.Equal(t, optimization.RunFailed, res.Run.Status)
}

// failingCommit refuses the final write.
type failingCommit struct {
	*store.Memory
}

func (f failingCommit) CommitRun(context.Context, optimization.Run, []optimization.Scenario, []optimization.Recommendation) error {
	return errors.New("disk full")
}

func TestEngine_CommitFailureLeavesNothing(t *testing.T) {
	mem := store.NewMemory()
	seedTenant(t, mem, tenantA)
	engine, err := optimization.NewEngine(optimization.EngineConfig{
		Live:  mem,
		Runs:  failingCommit{mem},
		Flags: optimization.StaticFlags(enabled),
	})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := engine.RunMaintenancePriority(ctx, tenantA, planner, optimization.MaintenancePriorityParams{})

	require.Error(t, err)
	assert.Equal(t, optimization.KindInternal, optimization.KindOf(err))
	stored, err := mem.GetRun(ctx, tenantA, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, optimization.RunFailed, stored.Status)
	scenarios, err := mem.ListScenarios(ctx, tenantA, res.Run.ID)
	require.NoError(t, err)
	assert.Empty(t, scenarios)
}

func TestEngine_CancelledRunIsFailed(t *testing.T) {
	h := newHarness(t, enabled)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.engine.RunMaintenancePriority(ctx, tenantA, planner, optimization.MaintenancePriorityParams{})

	require.Error(t, err)
	assert.Equal(t, optimization.KindCanceled, optimization.KindOf(err))
	stored, serr := h.mem.GetRun(context.Background(), tenantA, res.Run.ID)
	require.NoError(t, serr)
	assert.Equal(t, optimization.RunFailed, stored.Status)
	assert.True(t, strings.HasPrefix(stored.ErrorMessage, "canceled"), stored.ErrorMessage)
}

func TestEngine_RejectsMismatchedParams(t *testing.T) {
	h := newHarness(t, enabled)

	_, err := h.engine.Execute(context.Background(), optimization.RunRequest{
		Tenant: tenantA,
		Type:   optimization.RunDeferralCost,
		Params: optimization.MaintenancePriorityParams{},
	})
	require.Error(t, err)
	assert.Equal(t, optimization.KindInvalidInput, optimization.KindOf(err))

	runs, err := h.mem.ListRuns(context.Background(), tenantA, optimization.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs, "invalid parameters never create a run")
}

// =============================================================================
// SIMULATED DATA
// =============================================================================

func TestEngine_SimulatedDataSource(t *testing.T) {
	// GIVEN: the live store has no data, the simulated source has the plant
	sim := store.NewMemory()
	seedTenant(t, sim, tenantA)
	live := store.NewMemory()
	engine, err := optimization.NewEngine(optimization.EngineConfig{
		Live:      live,
		Simulated: sim,
		Runs:      live,
		Flags:     optimization.StaticFlags{EngineEnabled: true, SimulatedData: true},
		Clock:     func() time.Time { return engineNow },
	})
	require.NoError(t, err)

	res, err := engine.RunMaintenancePriority(context.Background(), tenantA, planner, optimization.MaintenancePriorityParams{})

	require.NoError(t, err)
	assert.Len(t, res.Recommendations, 2)
	assert.Equal(t, true, res.Run.Summary["simulated"])

	// simulated mode without a simulated source is a configuration error
	engine, err = optimization.NewEngine(optimization.EngineConfig{
		Live:  live,
		Runs:  live,
		Flags: optimization.StaticFlags{EngineEnabled: true, SimulatedData: true},
	})
	require.NoError(t, err)
	_, err = engine.RunMaintenancePriority(context.Background(), tenantA, planner, optimization.MaintenancePriorityParams{})
	assert.Equal(t, optimization.KindConfiguration, optimization.KindOf(err))
}

type recordingObserver struct {
	finished  []string
	fallbacks int
}

func (r *recordingObserver) RunFinished(_ context.Context, runType, status, _ string, _ time.Duration) {
	r.finished = append(r.finished, runType+":"+status)
}

func (r *recordingObserver) SolverFallback(context.Context, string) { r.fallbacks++ }

func TestEngine_ReportsOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	h := newHarness(t, enabled, func(c *optimization.EngineConfig) { c.Observer = obs })

	_, err := h.engine.RunMaintenancePriority(context.Background(), tenantA, planner, optimization.MaintenancePriorityParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"maintenance_priority:completed"}, obs.finished)
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := optimization.NewEngine(optimization.EngineConfig{})
	assert.Error(t, err)
}
