/*
scoring.go - Maintenance priority scoring

PURPOSE:
  Maps one asset's health indicators and criticality tier to a
  dimensionless priority. Higher priority means more urgent.

FORMULA:
  priority = (100 - H) * w_health + P * 100 * w_prob + tier_weight * w_crit

  H          health score in [0,100]
  P          failure probability in [0,1]
  tier_weight from CriticalityWeights (critical 10, high 7, medium 4, low 1)

  Defaults w_health=0.4, w_prob=0.4, w_crit=10:
    H=40, P=0.6, critical -> 60*0.4 + 60*0.4 + 10*10 = 148

MONOTONICITY:
  With non-negative weights the score is non-increasing in H, non-decreasing
  in P, and non-decreasing in tier as long as tier weights are ordered.
  Validate() enforces both.

RANKING:
  Rank() sorts by priority desc, then failure probability desc, then
  remaining useful life asc (unknown last), then asset ID.
*/
package optimization

import (
	"fmt"
	"math"
	"sort"
)

// ScoringWeights are the three coefficients of the priority formula.
type ScoringWeights struct {
	Health      float64
	Probability float64
	Criticality float64
}

func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Health: 0.4, Probability: 0.4, Criticality: 10}
}

// CriticalityWeights maps each tier to its scoring weight.
type CriticalityWeights map[Criticality]float64

func DefaultCriticalityWeights() CriticalityWeights {
	return CriticalityWeights{
		CriticalityCritical: 10,
		CriticalityHigh:     7,
		CriticalityMedium:   4,
		CriticalityLow:      1,
	}
}

// Scorer computes priorities. The zero value is not usable; use NewScorer.
type Scorer struct {
	Weights ScoringWeights
	Tiers   CriticalityWeights
}

func NewScorer(w ScoringWeights, tiers CriticalityWeights) (*Scorer, error) {
	if tiers == nil {
		tiers = DefaultCriticalityWeights()
	}
	s := &Scorer{Weights: w, Tiers: tiers}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks non-negative weights and tier weights ordered low <= medium <= high <= critical.
func (s *Scorer) Validate() error {
	if s.Weights.Health < 0 || s.Weights.Probability < 0 || s.Weights.Criticality < 0 {
		return InvalidInputError("scoring_weights", "scoring weights must be non-negative")
	}
	order := []Criticality{CriticalityLow, CriticalityMedium, CriticalityHigh, CriticalityCritical}
	prev := math.Inf(-1)
	for _, c := range order {
		w, ok := s.Tiers[c]
		if !ok {
			return InvalidInputError("criticality_weights", fmt.Sprintf("missing weight for tier %s", c))
		}
		if w < prev {
			return InvalidInputError("criticality_weights", fmt.Sprintf("weight for %s is lower than the tier below it", c))
		}
		prev = w
	}
	return nil
}

// TierWeight returns the weight for a tier or an InvalidInputError.
func (s *Scorer) TierWeight(c Criticality) (float64, error) {
	w, ok := s.Tiers[c]
	if !ok {
		return 0, InvalidInputError("criticality", fmt.Sprintf("unknown criticality tier %q", c))
	}
	return w, nil
}

// Priority scores one asset. H outside [0,100] or P outside [0,1] is rejected.
func (s *Scorer) Priority(health, probability float64, tier Criticality) (float64, error) {
	if err := validateHealth(health, probability); err != nil {
		return 0, err
	}
	tw, err := s.TierWeight(tier)
	if err != nil {
		return 0, err
	}
	return (100-health)*s.Weights.Health + probability*100*s.Weights.Probability + tw*s.Weights.Criticality, nil
}

func validateHealth(health, probability float64) error {
	if math.IsNaN(health) || health < 0 || health > 100 {
		return InvalidInputError("health_score", fmt.Sprintf("health score %v outside [0,100]", health))
	}
	if err := validateProbability(probability); err != nil {
		return err
	}
	return nil
}

func validateProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return InvalidInputError("failure_probability", fmt.Sprintf("failure probability %v outside [0,1]", p))
	}
	return nil
}

// =============================================================================
// RANKING
// =============================================================================

type ScoredAsset struct {
	Asset              Asset
	HealthScore        float64
	FailureProbability float64
	RemainingLifeDays  *float64
	Priority           float64
}

// Rank scores every asset that has a snapshot. Views without a snapshot are
// returned separately; the engine never invents health values.
func (s *Scorer) Rank(views []AssetView) (ranked []ScoredAsset, unscored []Asset, err error) {
	for _, v := range views {
		if v.Snapshot == nil {
			unscored = append(unscored, v.Asset)
			continue
		}
		p, err := s.Priority(v.Snapshot.HealthScore, v.Snapshot.FailureProbability, v.Asset.Criticality)
		if err != nil {
			return nil, nil, fmt.Errorf("asset %s: %w", v.Asset.ID, err)
		}
		ranked = append(ranked, ScoredAsset{
			Asset:              v.Asset,
			HealthScore:        v.Snapshot.HealthScore,
			FailureProbability: v.Snapshot.FailureProbability,
			RemainingLifeDays:  v.Snapshot.RemainingUsefulLifeDays,
			Priority:           p,
		})
	}
	SortByPriority(ranked)
	return ranked, unscored, nil
}

// SortByPriority applies the ranking order in place.
func SortByPriority(ranked []ScoredAsset) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.FailureProbability != b.FailureProbability {
			return a.FailureProbability > b.FailureProbability
		}
		switch {
		case a.RemainingLifeDays != nil && b.RemainingLifeDays == nil:
			return true
		case a.RemainingLifeDays == nil && b.RemainingLifeDays != nil:
			return false
		case a.RemainingLifeDays != nil && b.RemainingLifeDays != nil && *a.RemainingLifeDays != *b.RemainingLifeDays:
			return *a.RemainingLifeDays < *b.RemainingLifeDays
		}
		return a.Asset.ID < b.Asset.ID
	})
}

// =============================================================================
// ACTION BANDS - priority -> recommended action
// =============================================================================

// ActionBand maps a minimum priority to an action and a lead time.
type ActionBand struct {
	MinPriority float64
	Code        string
	Type        RecommendationType
	WithinDays  int
}

// ActionBands must be sorted by MinPriority descending; the last band is the catch-all.
type ActionBands []ActionBand

func DefaultActionBands() ActionBands {
	return ActionBands{
		{MinPriority: 120, Code: "maintenance.immediate", Type: RecRepair, WithinDays: 1},
		{MinPriority: 80, Code: "maintenance.within_7_days", Type: RecRepair, WithinDays: 7},
		{MinPriority: 40, Code: "inspection.within_30_days", Type: RecInspect, WithinDays: 30},
		{MinPriority: math.Inf(-1), Code: "monitor", Type: RecMonitor, WithinDays: 90},
	}
}

// Classify returns the first band whose threshold the priority reaches.
func (b ActionBands) Classify(priority float64) ActionBand {
	for _, band := range b {
		if priority >= band.MinPriority {
			return band
		}
	}
	if len(b) == 0 {
		return ActionBand{Code: "monitor", Type: RecMonitor}
	}
	return b[len(b)-1]
}
