package optimization_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/decision-engine/optimization"
)

func defaultScorer(t *testing.T) *optimization.Scorer {
	t.Helper()
	s, err := optimization.NewScorer(optimization.DefaultScoringWeights(), nil)
	require.NoError(t, err)
	return s
}

func TestPriority_CriticalAsset(t *testing.T) {
	// GIVEN: H=40, P=0.6, tier critical (weight 10) with default weights
	s := defaultScorer(t)

	// WHEN: scoring
	got, err := s.Priority(40, 0.6, optimization.CriticalityCritical)

	// THEN: (60)(0.4) + (60)(0.4) + (10)(10) = 148
	require.NoError(t, err)
	assert.InDelta(t, 148.0, got, 1e-9)
}

func TestPriority_Monotonic(t *testing.T) {
	s := defaultScorer(t)

	base, err := s.Priority(50, 0.3, optimization.CriticalityMedium)
	require.NoError(t, err)

	lowerHealth, err := s.Priority(45, 0.3, optimization.CriticalityMedium)
	require.NoError(t, err)
	assert.Greater(t, lowerHealth, base, "lower health must not lower priority")

	higherP, err := s.Priority(50, 0.35, optimization.CriticalityMedium)
	require.NoError(t, err)
	assert.Greater(t, higherP, base, "higher failure probability must not lower priority")

	higherTier, err := s.Priority(50, 0.3, optimization.CriticalityHigh)
	require.NoError(t, err)
	assert.Greater(t, higherTier, base, "higher tier must not lower priority")
}

func TestPriority_RejectsOutOfRange(t *testing.T) {
	s := defaultScorer(t)

	tests := []struct {
		name   string
		health float64
		prob   float64
		tier   optimization.Criticality
		field  string
	}{
		{"health above 100", 101, 0.1, optimization.CriticalityLow, "health_score"},
		{"negative health", -1, 0.1, optimization.CriticalityLow, "health_score"},
		{"probability above 1", 50, 1.2, optimization.CriticalityLow, "failure_probability"},
		{"unknown tier", 50, 0.1, "extreme", "criticality"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Priority(tt.health, tt.prob, tt.tier)
			require.Error(t, err)
			assert.Equal(t, optimization.KindInvalidInput, optimization.KindOf(err))
			assert.Equal(t, tt.field, optimization.AsError(err).Code)
		})
	}
}

func TestNewScorer_RejectsUnorderedTiers(t *testing.T) {
	tiers := optimization.DefaultCriticalityWeights()
	tiers[optimization.CriticalityHigh] = 20

	_, err := optimization.NewScorer(optimization.DefaultScoringWeights(), tiers)
	require.Error(t, err)
	assert.Equal(t, optimization.KindInvalidInput, optimization.KindOf(err))
}

func TestRank_OrdersAndSkipsUnscored(t *testing.T) {
	// GIVEN: three scored assets and one without any snapshot
	s := defaultScorer(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	view := func(id string, tier optimization.Criticality, h, p float64) optimization.AssetView {
		return optimization.AssetView{
			Asset:    optimization.Asset{ID: optimization.AssetID(id), Criticality: tier, Active: true},
			Snapshot: &optimization.AssetHealthSnapshot{ID: "s-" + id, HealthScore: h, FailureProbability: p, ComputedAt: now},
		}
	}
	views := []optimization.AssetView{
		view("pump-1", optimization.CriticalityLow, 90, 0.05),
		view("pump-2", optimization.CriticalityCritical, 40, 0.6),
		{Asset: optimization.Asset{ID: "pump-3", Criticality: optimization.CriticalityHigh, Active: true}},
		view("pump-4", optimization.CriticalityHigh, 40, 0.6),
	}

	// WHEN: ranking
	ranked, unscored, err := s.Rank(views)

	// THEN: descending priority; the asset without a snapshot is reported, not defaulted
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, optimization.AssetID("pump-2"), ranked[0].Asset.ID)
	assert.Equal(t, optimization.AssetID("pump-4"), ranked[1].Asset.ID)
	assert.Equal(t, optimization.AssetID("pump-1"), ranked[2].Asset.ID)
	require.Len(t, unscored, 1)
	assert.Equal(t, optimization.AssetID("pump-3"), unscored[0].ID)
}

func TestActionBands_Classify(t *testing.T) {
	bands := optimization.DefaultActionBands()

	assert.Equal(t, "maintenance.immediate", bands.Classify(148).Code)
	assert.Equal(t, "maintenance.within_7_days", bands.Classify(80).Code)
	assert.Equal(t, "inspection.within_30_days", bands.Classify(79.9).Code)
	assert.Equal(t, "monitor", bands.Classify(0).Code)
	assert.Equal(t, optimization.RecInspect, bands.Classify(45).Type)
}

func TestLatestSnapshot_TieBreaksOnID(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snaps := []optimization.AssetHealthSnapshot{
		{ID: "snap-a", ComputedAt: at, HealthScore: 10},
		{ID: "snap-c", ComputedAt: at, HealthScore: 30},
		{ID: "snap-b", ComputedAt: at, HealthScore: 20},
		{ID: "snap-z", ComputedAt: at.Add(-time.Hour), HealthScore: 99},
	}

	latest := optimization.LatestSnapshot(snaps)
	require.NotNil(t, latest)
	assert.Equal(t, "snap-c", latest.ID)
	assert.Nil(t, optimization.LatestSnapshot(nil))
}
