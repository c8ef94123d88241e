/*
production.go - Production risk optimization

PURPOSE:
  Chooses which assets to service in a period when at most N can be
  serviced, maximising risk reduction per unit cost.

PER-ASSET REDUCTION:
  Servicing an asset lowers its production-risk index by a band fraction:
    r > 70  -> 35%  (suggested mode: reduce load to 60%)
    r > 50  -> 20%  (reduce load to 80%)
    r > 30  -> 10%  (monitor closely)
    else    ->  0   (normal operation)
  Bands are configurable through RiskBands.

AGGREGATION:
  sum           current = Σ r
  weighted_sum  current = Σ r * v   (v = production value weight)

SELECTION (greedy baseline):
  Sort by reduction/cost descending. Ratios are compared by cross
  multiplication so zero-cost assets with positive reduction sort first.
  Ties: higher criticality weight, then asset ID. Take the first N assets
  whose reduction is positive.
*/
package optimization

import (
	"fmt"
	"math"
	"sort"
)

type RiskAggregation string

const (
	AggregateSum         RiskAggregation = "sum"
	AggregateWeightedSum RiskAggregation = "weighted_sum"
)

// RiskBand is one step of the reduction schedule.
type RiskBand struct {
	Above         float64
	ReductionFrac float64
	Mode          string
}

// RiskBands are checked in order; the first band whose Above the risk exceeds wins.
type RiskBands []RiskBand

func DefaultRiskBands() RiskBands {
	return RiskBands{
		{Above: 70, ReductionFrac: 0.35, Mode: "reduce_load_60"},
		{Above: 50, ReductionFrac: 0.20, Mode: "reduce_load_80"},
		{Above: 30, ReductionFrac: 0.10, Mode: "monitor_closely"},
	}
}

// Apply returns the reduction fraction and mode for a risk index.
func (b RiskBands) Apply(risk float64) (float64, string) {
	for _, band := range b {
		if risk > band.Above {
			return band.ReductionFrac, band.Mode
		}
	}
	return 0, "normal"
}

type ProductionAsset struct {
	AssetID           AssetID
	Criticality       Criticality
	CriticalityWeight float64
	RiskIndex         float64
	ProductionWeight  float64 // v in the weighted aggregation; <= 0 treated as 1
	ServiceCost       Money
}

type ProductionRiskInput struct {
	Assets      []ProductionAsset
	Capacity    int
	Aggregation RiskAggregation
	Bands       RiskBands
}

type ProductionDecision struct {
	AssetID       AssetID     `json:"asset_id"`
	Criticality   Criticality `json:"criticality"`
	CurrentRisk   float64     `json:"current_risk"`
	OptimizedRisk float64     `json:"optimized_risk"`
	RiskReduction float64     `json:"risk_reduction"`
	ServiceCost   Money       `json:"service_cost"`
	SuggestedMode string      `json:"suggested_mode"`
	Selected      bool        `json:"selected"`
}

type ProductionRiskResult struct {
	CurrentRisk   float64              `json:"current_risk"`
	OptimizedRisk float64              `json:"optimized_risk"`
	RiskReduction float64              `json:"risk_reduction"`
	TotalCost     Money                `json:"total_cost"`
	Capacity      int                  `json:"capacity"`
	Selected      []ProductionDecision `json:"selected"`
	Deferred      []ProductionDecision `json:"deferred"`
}

// OptimizeProductionRisk runs the greedy ratio selection.
func OptimizeProductionRisk(in ProductionRiskInput) (ProductionRiskResult, error) {
	if in.Capacity < 0 {
		return ProductionRiskResult{}, InvalidInputError("capacity", fmt.Sprintf("capacity %d must be >= 0", in.Capacity))
	}
	agg := in.Aggregation
	if agg == "" {
		agg = AggregateSum
	}
	if agg != AggregateSum && agg != AggregateWeightedSum {
		return ProductionRiskResult{}, InvalidInputError("aggregation", fmt.Sprintf("unknown risk aggregation %q", agg))
	}
	bands := in.Bands
	if bands == nil {
		bands = DefaultRiskBands()
	}

	type candidate struct {
		ProductionDecision
		weight            float64
		criticalityWeight float64
	}
	cands := make([]candidate, 0, len(in.Assets))
	currency := ""
	for _, a := range in.Assets {
		if math.IsNaN(a.RiskIndex) || a.RiskIndex < 0 {
			return ProductionRiskResult{}, InvalidInputError("production_risk_index", fmt.Sprintf("asset %s: risk index %v must be >= 0", a.AssetID, a.RiskIndex))
		}
		if a.ServiceCost.IsNegative() {
			return ProductionRiskResult{}, InvalidInputError("service_cost", fmt.Sprintf("asset %s: service cost must be >= 0", a.AssetID))
		}
		if currency == "" {
			currency = a.ServiceCost.Currency
		}
		w := a.ProductionWeight
		if w <= 0 || math.IsNaN(w) {
			w = 1
		}
		frac, mode := bands.Apply(a.RiskIndex)
		reduction := a.RiskIndex * frac
		cands = append(cands, candidate{
			ProductionDecision: ProductionDecision{
				AssetID:       a.AssetID,
				Criticality:   a.Criticality,
				CurrentRisk:   a.RiskIndex,
				OptimizedRisk: a.RiskIndex,
				RiskReduction: reduction,
				ServiceCost:   a.ServiceCost,
				SuggestedMode: mode,
			},
			weight:            w,
			criticalityWeight: a.CriticalityWeight,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		// reduction_a/cost_a > reduction_b/cost_b  <=>  reduction_a*cost_b > reduction_b*cost_a
		left := a.RiskReduction * b.ServiceCost.Float64()
		right := b.RiskReduction * a.ServiceCost.Float64()
		if left != right {
			return left > right
		}
		// equal ratios (including both zero cost): larger absolute reduction first
		if a.ServiceCost.IsZero() && b.ServiceCost.IsZero() && a.RiskReduction != b.RiskReduction {
			return a.RiskReduction > b.RiskReduction
		}
		if a.criticalityWeight != b.criticalityWeight {
			return a.criticalityWeight > b.criticalityWeight
		}
		return a.AssetID < b.AssetID
	})

	res := ProductionRiskResult{Capacity: in.Capacity, TotalCost: ZeroMoney(currency)}
	taken := 0
	for _, c := range cands {
		weight := 1.0
		if agg == AggregateWeightedSum {
			weight = c.weight
		}
		res.CurrentRisk += c.CurrentRisk * weight
		d := c.ProductionDecision
		if taken < in.Capacity && d.RiskReduction > 0 {
			taken++
			d.Selected = true
			d.OptimizedRisk = d.CurrentRisk - d.RiskReduction
			res.TotalCost = res.TotalCost.Add(d.ServiceCost)
			res.Selected = append(res.Selected, d)
		} else {
			res.Deferred = append(res.Deferred, d)
		}
		res.OptimizedRisk += d.OptimizedRisk * weight
	}
	res.RiskReduction = res.CurrentRisk - res.OptimizedRisk
	return res, nil
}
