package factory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/decision-engine/optimization"
)

func TestParseRunParams_Maintenance(t *testing.T) {
	raw := json.RawMessage(`{"top_n": 5, "site_id": "north", "criticality": ["critical", "high"]}`)

	got, err := ParseRunParams(optimization.RunMaintenancePriority, raw)
	require.NoError(t, err)

	p, ok := got.(optimization.MaintenancePriorityParams)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, 5, p.TopN)
	assert.Equal(t, optimization.SiteID("north"), p.SiteID)
	assert.Equal(t, []optimization.Criticality{"critical", "high"}, p.Criticality)
}

func TestParseRunParams_EmptyIsZero(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage(`null`), json.RawMessage(` {} `)} {
		got, err := ParseRunParams(optimization.RunProductionRisk, raw)
		require.NoError(t, err)
		assert.Equal(t, optimization.ProductionRiskParams{}, got)
	}
}

func TestParseRunParams_DeferralShorthand(t *testing.T) {
	// GIVEN: the single-window shorthand
	got, err := ParseRunParams(optimization.RunDeferralCost, json.RawMessage(`{"deferral_days": 14}`))
	require.NoError(t, err)

	// THEN: it expands to "now" versus "in 14 days"
	p := got.(optimization.DeferralCostParams)
	assert.Equal(t, []int{0, 14}, p.Windows)

	// explicit windows win over the shorthand
	got, err = ParseRunParams(optimization.RunDeferralCost, json.RawMessage(`{"deferral_days": 14, "deferral_windows": [0, 30]}`))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 30}, got.(optimization.DeferralCostParams).Windows)

	_, err = ParseRunParams(optimization.RunDeferralCost, json.RawMessage(`{"deferral_days": -1}`))
	assert.Equal(t, optimization.KindInvalidInput, optimization.KindOf(err))
}

func TestParseRunParams_DeferralEscalation(t *testing.T) {
	raw := json.RawMessage(`{"escalation": {"type": "exponential", "hazard_per_day": 0.02}, "risk_ceiling": 0.3}`)

	got, err := ParseRunParams(optimization.RunDeferralCost, raw)
	require.NoError(t, err)

	p := got.(optimization.DeferralCostParams)
	assert.Equal(t, "exponential", p.Escalation.Type)
	assert.InDelta(t, 0.02, p.Escalation.HazardPerDay, 1e-12)
	require.NotNil(t, p.RiskCeiling)
	assert.InDelta(t, 0.3, *p.RiskCeiling, 1e-12)
	assert.Nil(t, p.MeanDowntimeHours, "absent fields stay unset for the engine to default")
}

func TestParseRunParams_ExplicitZerosAreKept(t *testing.T) {
	// GIVEN: zero is a real setting for the ceiling, downtime, target and premium
	got, err := ParseRunParams(optimization.RunDeferralCost, json.RawMessage(`{"risk_ceiling": 0, "mean_downtime_hours": 0}`))
	require.NoError(t, err)
	d := got.(optimization.DeferralCostParams)
	require.NotNil(t, d.RiskCeiling)
	require.NotNil(t, d.MeanDowntimeHours)
	assert.Zero(t, *d.RiskCeiling)
	assert.Zero(t, *d.MeanDowntimeHours)

	got, err = ParseRunParams(optimization.RunProductionRisk, json.RawMessage(`{"target_risk_reduction": 0}`))
	require.NoError(t, err)
	pr := got.(optimization.ProductionRiskParams)
	require.NotNil(t, pr.TargetReductionPct)
	assert.Zero(t, *pr.TargetReductionPct)

	got, err = ParseRunParams(optimization.RunWorkforceDispatch, json.RawMessage(`{"overtime_premium": 0}`))
	require.NoError(t, err)
	wd := got.(optimization.WorkforceDispatchParams)
	require.NotNil(t, wd.OvertimePremium)
	assert.Zero(t, *wd.OvertimePremium)
}

func TestParseRunParams_ProductionCapacityShorthand(t *testing.T) {
	got, err := ParseRunParams(optimization.RunProductionRisk, json.RawMessage(`{"capacity": 3, "aggregation": "weighted_sum"}`))
	require.NoError(t, err)

	p := got.(optimization.ProductionRiskParams)
	assert.Equal(t, []int{3}, p.Capacities)
	assert.Equal(t, optimization.AggregateWeightedSum, p.Aggregation)
}

func TestParseRunParams_Dispatch(t *testing.T) {
	raw := json.RawMessage(`{
		"start_date": "2026-03-02",
		"planning_days": 5,
		"max_hours_per_day": 6,
		"labour_rate_per_hour": 120,
		"workers": [
			{"id": "eng-1", "skills": ["mechanical"]},
			{"id": "eng-2", "hours_per_day": 10, "max_tier": "medium"}
		],
		"tasks": [{"id": "t1", "asset_id": "pump-1", "hours": 3, "priority": 40, "due_date": "2026-03-04"}]
	}`)

	got, err := ParseRunParams(optimization.RunWorkforceDispatch, raw)
	require.NoError(t, err)

	p := got.(optimization.WorkforceDispatchParams)
	assert.Equal(t, optimization.NewDate(2026, time.March, 2), p.Start)
	assert.Equal(t, 5, p.HorizonDays)
	require.Len(t, p.Workers, 2)
	assert.InDelta(t, 6, p.Workers[0].HoursPerDay, 1e-12, "shorthand fills missing hours")
	assert.InDelta(t, 10, p.Workers[1].HoursPerDay, 1e-12, "explicit hours win")
	assert.Equal(t, "120", p.LabourRate.Amount.String())
	assert.Equal(t, optimization.DefaultCurrency, p.LabourRate.Currency)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, optimization.NewDate(2026, time.March, 4), p.Tasks[0].DueDate)
}

func TestParseRunParams_Errors(t *testing.T) {
	_, err := ParseRunParams("optimise_everything", nil)
	assert.Equal(t, optimization.KindInvalidInput, optimization.KindOf(err))

	_, err = ParseRunParams(optimization.RunMaintenancePriority, json.RawMessage(`{"top_n": "many"}`))
	require.Error(t, err)
	assert.Equal(t, "parameters", optimization.AsError(err).Code)

	_, err = ParseRunParams(optimization.RunWorkforceDispatch, json.RawMessage(`{"start_date": "next tuesday"}`))
	assert.Error(t, err)

	_, err = ParseRunParams(optimization.RunWorkforceDispatch, json.RawMessage(`{"max_hours_per_day": 0}`))
	assert.Error(t, err)
}

func TestToJSON_RoundTrip(t *testing.T) {
	in := optimization.DeferralCostParams{Windows: []int{0, 7}, RiskCeiling: optimization.Float64(0.2)}

	raw, err := ToJSON(in)
	require.NoError(t, err)
	out, err := ParseRunParams(optimization.RunDeferralCost, raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = ToJSON(42)
	assert.Error(t, err)
}
