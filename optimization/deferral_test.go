package optimization_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/decision-engine/optimization"
)

func sarCostModel(costPerFailure, downtimePerHour float64) optimization.CostModel {
	return optimization.CostModel{
		ID:                  "cm-tenant",
		TenantID:            "tenant-a",
		CostPerFailure:      optimization.NewMoney(costPerFailure, "SAR"),
		DowntimeCostPerHour: optimization.NewMoney(downtimePerHour, "SAR"),
		Currency:            "SAR",
		Active:              true,
	}
}

func TestAnalyzeDeferral_LinearEscalation(t *testing.T) {
	// GIVEN: CPF=100000, downtime 5000/h, P0=0.1, +5%/day capped at 1.0
	in := optimization.DeferralInput{
		AssetID:            "compressor-7",
		FailureProbability: 0.1,
		CostModel:          sarCostModel(100000, 5000),
		Windows:            []int{14, 0, 7},
		Curve:              optimization.LinearEscalation{RatePerDay: 0.05, Cap: 1.0},
		MeanDowntimeHours:  24,
		RiskCeiling:        1.0,
	}

	// WHEN: analysing the windows
	a, err := optimization.AnalyzeDeferral(in)
	require.NoError(t, err)

	// THEN: windows are sorted, day 0 is the baseline exposure
	require.Len(t, a.Options, 3)
	day0, ok := a.Option(0)
	require.True(t, ok)
	assert.Equal(t, "10000", day0.ExpectedCost.Amount.String())
	assert.InDelta(t, 0, day0.RiskIncrease, 1e-12)

	// day 7: P=0.45, failure term 45000 plus downtime 0.35*24h*5000 = 42000
	day7, ok := a.Option(7)
	require.True(t, ok)
	assert.InDelta(t, 0.45, day7.FailureProbability, 1e-9)
	assert.InDelta(t, 87000, day7.ExpectedCost.Float64(), 1e-6)

	day14, _ := a.Option(14)
	assert.InDelta(t, 0.8, day14.FailureProbability, 1e-9)
	assert.True(t, day14.ExpectedCost.GreaterThan(day7.ExpectedCost))

	// the cheapest window within the ceiling wins
	assert.Equal(t, 0, a.Recommended.DaysDeferred)
	assert.False(t, a.CeilingExceeded)
}

func TestAnalyzeDeferral_NonDecreasingInWindow(t *testing.T) {
	curves := []optimization.EscalationCurve{
		optimization.LinearEscalation{RatePerDay: 0.05, Cap: 1},
		optimization.ProportionalEscalation{RatePerDay: 0.1, Cap: 0.95},
		optimization.ExponentialEscalation{HazardPerDay: 0.03, Cap: 1},
	}
	for _, c := range curves {
		t.Run(c.Name(), func(t *testing.T) {
			a, err := optimization.AnalyzeDeferral(optimization.DeferralInput{
				AssetID:            "a-1",
				FailureProbability: 0.2,
				CostModel:          sarCostModel(50000, 1000),
				Windows:            []int{0, 3, 7, 14, 30, 60},
				Curve:              c,
				MeanDowntimeHours:  12,
				RiskCeiling:        1,
			})
			require.NoError(t, err)
			for i := 1; i < len(a.Options); i++ {
				prev, cur := a.Options[i-1], a.Options[i]
				assert.GreaterOrEqual(t, cur.FailureProbability, prev.FailureProbability)
				assert.GreaterOrEqual(t, cur.ExpectedCost.Cmp(prev.ExpectedCost), 0)
				assert.LessOrEqual(t, cur.FailureProbability, 1.0)
			}
		})
	}
}

func TestAnalyzeDeferral_CeilingExceededKeepsFlag(t *testing.T) {
	// GIVEN: a ceiling no positive window can satisfy and no zero window
	a, err := optimization.AnalyzeDeferral(optimization.DeferralInput{
		AssetID:            "a-1",
		FailureProbability: 0.5,
		CostModel:          sarCostModel(1000, 0),
		Windows:            []int{7, 14},
		Curve:              optimization.LinearEscalation{RatePerDay: 0.05, Cap: 1},
		RiskCeiling:        0.1,
	})
	require.NoError(t, err)

	// THEN: the shortest window is returned and the flag is set
	assert.True(t, a.CeilingExceeded)
	assert.Equal(t, 7, a.Recommended.DaysDeferred)
	assert.False(t, a.Recommended.WithinCeiling)
}

func TestAnalyzeDeferral_ShorterWindowWinsTies(t *testing.T) {
	// zero cost model: every window costs nothing
	a, err := optimization.AnalyzeDeferral(optimization.DeferralInput{
		AssetID:            "a-1",
		FailureProbability: 0.1,
		CostModel:          sarCostModel(0, 0),
		Windows:            []int{30, 7},
		Curve:              optimization.LinearEscalation{RatePerDay: 0.001, Cap: 1},
		RiskCeiling:        1,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, a.Recommended.DaysDeferred)
}

func TestAnalyzeDeferral_InvalidInput(t *testing.T) {
	base := optimization.DeferralInput{
		AssetID:            "a-1",
		FailureProbability: 0.1,
		CostModel:          sarCostModel(1000, 10),
		Windows:            []int{0, 7},
		RiskCeiling:        1,
	}

	bad := base
	bad.FailureProbability = 1.5
	_, err := optimization.AnalyzeDeferral(bad)
	assert.Equal(t, optimization.KindInvalidInput, optimization.KindOf(err))

	bad = base
	bad.Windows = []int{-1}
	_, err = optimization.AnalyzeDeferral(bad)
	assert.Equal(t, optimization.KindInvalidInput, optimization.KindOf(err))

	bad = base
	bad.CostModel.CostPerFailure = optimization.NewMoney(-1, "SAR")
	_, err = optimization.AnalyzeDeferral(bad)
	assert.Equal(t, optimization.KindInvalidInput, optimization.KindOf(err))
}

func TestNormalizeWindows(t *testing.T) {
	got, err := optimization.NormalizeWindows([]int{14, 0, 7, 7})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 7, 14}, got)

	_, err = optimization.NormalizeWindows(nil)
	assert.Error(t, err)
}

func TestEscalationCurves(t *testing.T) {
	lin := optimization.LinearEscalation{RatePerDay: 0.05, Cap: 1}
	assert.InDelta(t, 1.0, lin.Project(0.9, 30), 1e-12, "capped at 1")
	assert.InDelta(t, 0.9, lin.Project(0.9, 0), 1e-12)

	prop := optimization.ProportionalEscalation{RatePerDay: 0.1, Cap: 0.95}
	assert.InDelta(t, 0.4, prop.Project(0.2, 10), 1e-12)
	assert.InDelta(t, 0.95, prop.Project(0.5, 100), 1e-12)

	exp := optimization.ExponentialEscalation{HazardPerDay: 0.1, Cap: 1}
	assert.Greater(t, exp.Project(0.2, 10), 0.2)
	assert.Less(t, exp.Project(0.2, 10), 1.0)

	// a base above the cap never projects downwards
	assert.InDelta(t, 0.97, prop.Project(0.97, 5), 1e-12)
}

func TestCurveConfig(t *testing.T) {
	c, err := optimization.DefaultCurveConfig().Curve()
	require.NoError(t, err)
	assert.Equal(t, "linear", c.Name())

	c, err = optimization.CurveConfig{Type: "proportional", RatePerDay: 0.02}.Curve()
	require.NoError(t, err)
	assert.Equal(t, optimization.ProportionalEscalation{RatePerDay: 0.02, Cap: 0.95}, c)

	_, err = optimization.CurveConfig{Type: "quadratic"}.Curve()
	require.Error(t, err)
	assert.Equal(t, "escalation.type", optimization.AsError(err).Code)

	_, err = optimization.CurveConfig{Type: "linear", RatePerDay: 0.1, Cap: 1.5}.Curve()
	assert.Error(t, err)
}
