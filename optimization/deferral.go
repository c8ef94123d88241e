/*
deferral.go - Deferral cost analysis

PURPOSE:
  Answers "what does it cost to postpone maintenance on this asset by d
  days?" for a list of candidate windows, and picks the window to recommend.

MODEL:
  P(d)            = curve.Project(P0, d)                (non-decreasing)
  risk_increase   = P(d) - P0                           (>= 0)
  downtime_hours  = (P(d) - P0) * MeanDowntimeHours     (unplanned downtime caused by waiting)
  expected_cost   = cost_per_failure * P(d) + downtime_cost_per_hour * downtime_hours

  At d = 0 the downtime term vanishes, so expected_cost is the baseline
  failure exposure (cost_per_failure * P0).

RECOMMENDATION:
  Among windows with risk_increase <= ceiling pick the lowest expected_cost
  (ties -> shorter window). If no window qualifies, the shortest window is
  returned with CeilingExceeded = true. The flag is never dropped.
*/
package optimization

import (
	"fmt"
	"math"
	"sort"
)

// DeferralInput is everything one asset's analysis needs.
type DeferralInput struct {
	AssetID            AssetID
	FailureProbability float64
	CostModel          CostModel
	Windows            []int
	Curve              EscalationCurve
	MeanDowntimeHours  float64
	RiskCeiling        float64
}

type DeferralOption struct {
	DaysDeferred       int     `json:"days_deferred"`
	FailureProbability float64 `json:"failure_probability"`
	RiskIncrease       float64 `json:"risk_increase"`
	DowntimeHours      float64 `json:"expected_downtime_hours"`
	ExpectedCost       Money   `json:"expected_cost"`
	WithinCeiling      bool    `json:"within_ceiling"`
}

type DeferralAnalysis struct {
	AssetID         AssetID          `json:"asset_id"`
	BaseProbability float64          `json:"base_probability"`
	Options         []DeferralOption `json:"options"`
	Recommended     DeferralOption   `json:"recommended"`
	CeilingExceeded bool             `json:"ceiling_exceeded"`
}

// Option returns the analysed option for a window.
func (a DeferralAnalysis) Option(days int) (DeferralOption, bool) {
	for _, o := range a.Options {
		if o.DaysDeferred == days {
			return o, true
		}
	}
	return DeferralOption{}, false
}

// NormalizeWindows sorts and de-duplicates candidate windows, rejecting
// negative values and an empty list.
func NormalizeWindows(windows []int) ([]int, error) {
	if len(windows) == 0 {
		return nil, InvalidInputError("deferral_windows", "at least one deferral window is required")
	}
	seen := make(map[int]bool, len(windows))
	out := make([]int, 0, len(windows))
	for _, w := range windows {
		if w < 0 {
			return nil, InvalidInputError("deferral_windows", fmt.Sprintf("deferral window %d must be >= 0", w))
		}
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Ints(out)
	return out, nil
}

// AnalyzeDeferral evaluates every window for one asset.
func AnalyzeDeferral(in DeferralInput) (DeferralAnalysis, error) {
	if err := validateProbability(in.FailureProbability); err != nil {
		return DeferralAnalysis{}, fmt.Errorf("asset %s: %w", in.AssetID, err)
	}
	if err := in.CostModel.Validate(); err != nil {
		return DeferralAnalysis{}, err
	}
	if in.Curve == nil {
		in.Curve = DefaultEscalation()
	}
	if err := in.Curve.Validate(); err != nil {
		return DeferralAnalysis{}, err
	}
	if math.IsNaN(in.MeanDowntimeHours) || in.MeanDowntimeHours < 0 {
		return DeferralAnalysis{}, InvalidInputError("mean_downtime_hours", "mean downtime hours must be >= 0")
	}
	if math.IsNaN(in.RiskCeiling) || in.RiskCeiling < 0 {
		return DeferralAnalysis{}, InvalidInputError("risk_ceiling", "risk ceiling must be >= 0")
	}
	windows, err := NormalizeWindows(in.Windows)
	if err != nil {
		return DeferralAnalysis{}, err
	}

	currency := in.CostModel.Currency
	analysis := DeferralAnalysis{AssetID: in.AssetID, BaseProbability: in.FailureProbability}
	for _, d := range windows {
		p := in.Curve.Project(in.FailureProbability, d)
		increase := p - in.FailureProbability
		if increase < 0 {
			increase = 0
		}
		downtime := increase * in.MeanDowntimeHours
		cost := in.CostModel.CostPerFailure.MulFloat(p).
			Add(in.CostModel.DowntimeCostPerHour.MulFloat(downtime))
		cost.Currency = currency
		analysis.Options = append(analysis.Options, DeferralOption{
			DaysDeferred:       d,
			FailureProbability: p,
			RiskIncrease:       increase,
			DowntimeHours:      downtime,
			ExpectedCost:       cost,
			WithinCeiling:      increase <= in.RiskCeiling,
		})
	}

	best := -1
	for i, o := range analysis.Options {
		if !o.WithinCeiling {
			continue
		}
		// options are sorted by days, so strict < keeps the shorter window on ties
		if best < 0 || o.ExpectedCost.LessThan(analysis.Options[best].ExpectedCost) {
			best = i
		}
	}
	if best < 0 {
		analysis.CeilingExceeded = true
		best = 0
	}
	analysis.Recommended = analysis.Options[best]
	return analysis, nil
}
