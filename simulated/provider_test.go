package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/decision-engine/optimization"
	"github.com/warp/decision-engine/optimization/store"
)

func TestProvider_EmbeddedFixture(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	views, err := p.ListAssets(context.Background(), "acme", optimization.AssetFilter{})
	require.NoError(t, err)

	// the inactive chiller is filtered, the tank has never been scored
	require.Len(t, views, 9)
	unscored := 0
	for _, v := range views {
		assert.Equal(t, optimization.TenantID("acme"), v.Asset.TenantID)
		assert.Contains(t, string(v.Asset.ID), "acme/")
		if v.Snapshot == nil {
			unscored++
			continue
		}
		assert.Equal(t, optimization.TenantID("acme"), v.Snapshot.TenantID)
		assert.Equal(t, p.AsOf(), v.Snapshot.ComputedAt)
	}
	assert.Equal(t, 1, unscored)
}

func TestProvider_IsDeterministicPerTenant(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	a1, err := p.ListAssets(ctx, "t1", optimization.AssetFilter{})
	require.NoError(t, err)
	a2, err := p.ListAssets(ctx, "t1", optimization.AssetFilter{})
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	b, err := p.ListAssets(ctx, "t2", optimization.AssetFilter{})
	require.NoError(t, err)
	require.Len(t, b, len(a1))
	assert.NotEqual(t, a1[0].Asset.ID, b[0].Asset.ID)
}

func TestProvider_CostModelResolution(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	ctx := context.Background()
	on := optimization.DateOf(p.AsOf())

	turbine, err := p.ResolveCostModel(ctx, "t1", optimization.CostQuery{AssetID: "t1/TURBINE-001", SiteID: "power", On: on})
	require.NoError(t, err)
	assert.Equal(t, "t1/turbine-1", turbine.ID)
	assert.Equal(t, optimization.TenantID("t1"), turbine.TenantID)

	fan, err := p.ResolveCostModel(ctx, "t1", optimization.CostQuery{AssetID: "t1/FAN-001", SiteID: "utilities", On: on})
	require.NoError(t, err)
	assert.Equal(t, "t1/utilities-site", fan.ID)
	assert.Equal(t, "30000", fan.CostPerFailure.Amount.String())

	pump, err := p.ResolveCostModel(ctx, "t1", optimization.CostQuery{AssetID: "t1/PUMP-001", SiteID: "process", On: on})
	require.NoError(t, err)
	assert.Equal(t, "t1/plant-default", pump.ID)
}

func TestProvider_FilterBySite(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	views, err := p.ListAssets(context.Background(), "t1", optimization.AssetFilter{SiteID: "power"})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "Turbine gearbox", views[0].Asset.Name)
}

func TestLoad_RejectsBadFixtures(t *testing.T) {
	_, err := Load([]byte("assets: [{id: X, criticality: extreme}]"))
	assert.Error(t, err)

	_, err = Load([]byte("assets: [{id: X, criticality: low}, {id: X, criticality: low}]"))
	assert.Error(t, err)

	_, err = Load([]byte(`cost_models: [{id: bad, cost_per_failure: "-1"}]`))
	assert.Error(t, err)

	_, err = Load([]byte("assets: ["))
	assert.Error(t, err)
}

func TestSeed_CopiesPlantIntoStore(t *testing.T) {
	// GIVEN: an empty store
	p, err := New()
	require.NoError(t, err)
	mem := store.NewMemory()
	ctx := context.Background()

	// WHEN: seeding two tenants
	stats, err := p.Seed(ctx, "t1", mem)
	require.NoError(t, err)
	_, err = p.Seed(ctx, "t2", mem)
	require.NoError(t, err)

	// THEN: live reads match the simulated ones
	assert.Equal(t, SeedStats{Assets: 10, Snapshots: 9, CostModels: 3}, stats)
	live, err := mem.ListAssets(ctx, "t1", optimization.AssetFilter{})
	require.NoError(t, err)
	sim, err := p.ListAssets(ctx, "t1", optimization.AssetFilter{})
	require.NoError(t, err)
	assert.Equal(t, sim, live)

	_, err = p.Seed(ctx, "", mem)
	assert.Error(t, err)
}

func TestProvider_DrivesEngine(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	live := store.NewMemory()
	engine, err := optimization.NewEngine(optimization.EngineConfig{
		Live:      live,
		Simulated: p,
		Runs:      live,
		Flags:     optimization.StaticFlags{EngineEnabled: true, SimulatedData: true},
		Clock:     func() time.Time { return p.AsOf() },
	})
	require.NoError(t, err)

	res, err := engine.RunMaintenancePriority(context.Background(), "t1", "planner", optimization.MaintenancePriorityParams{TopN: 3})
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 3)
	assert.Equal(t, optimization.AssetID("t1/PUMP-001"), res.Recommendations[0].AssetID)
}
