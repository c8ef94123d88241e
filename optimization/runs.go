package optimization

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// =============================================================================
// RUN PARAMETERS - one type per algorithm
// =============================================================================
//
// Zero fields take the engine defaults (EngineDefaults). Settings where zero
// is a legitimate value (ceilings, premiums, downtime) are pointers: nil
// takes the default, an explicit zero is kept. The parameter struct after
// defaulting is what gets persisted on the run, so a run can be reproduced
// from its own record.

// AssetSelection narrows the assets a run looks at.
type AssetSelection struct {
	AssetIDs    []AssetID     `json:"asset_ids,omitempty"`
	Criticality []Criticality `json:"criticality,omitempty"`
	SiteID      SiteID        `json:"site_id,omitempty"`
}

func (s AssetSelection) Filter() AssetFilter {
	return AssetFilter{AssetIDs: s.AssetIDs, Criticality: s.Criticality, SiteID: s.SiteID}
}

type MaintenancePriorityParams struct {
	AssetSelection
	TopN int `json:"top_n"`
}

type DeferralCostParams struct {
	AssetSelection
	Windows           []int       `json:"deferral_windows"`
	Escalation        CurveConfig `json:"escalation"`
	MeanDowntimeHours *float64    `json:"mean_downtime_hours,omitempty"`
	RiskCeiling       *float64    `json:"risk_ceiling,omitempty"`
	TopN              int         `json:"top_n"`
}

type ProductionRiskParams struct {
	AssetSelection
	Capacities         []int           `json:"capacities"`
	Aggregation        RiskAggregation `json:"aggregation"`
	TargetReductionPct *float64        `json:"target_risk_reduction,omitempty"`
	TopN               int             `json:"top_n"`
}

type WorkforceDispatchParams struct {
	Start       Date     `json:"start_date"`
	HorizonDays int      `json:"planning_days"`
	Workers     []Worker `json:"workers"`

	// Tasks, when empty, are built from the tenant's pending inspect, repair
	// and replace recommendations.
	Tasks []DispatchTask `json:"tasks,omitempty"`

	TaskHours       map[RecommendationType]float64 `json:"task_hours,omitempty"`
	SkillByType     map[RecommendationType]string  `json:"skill_by_type,omitempty"`
	LabourRate      Money                          `json:"labour_rate"`
	OvertimeFactor  float64                        `json:"overtime_factor"`
	OvertimePremium *float64                       `json:"overtime_premium,omitempty"`
	RiskCeiling     *float64                       `json:"risk_ceiling,omitempty"`
	SolverTimeoutMS int                            `json:"solver_timeout_ms,omitempty"`
}

// EngineDefaults fill unset run parameters. Pointer fields follow the same
// rule as the parameter types: nil means unset, zero is a real setting.
type EngineDefaults struct {
	TopN                   int
	DeferralWindows        []int
	Escalation             CurveConfig
	MeanDowntimeHours      *float64
	DeferralRiskCeiling    *float64
	Capacities             []int
	Aggregation            RiskAggregation
	TargetRiskReductionPct *float64
	HorizonDays            int
	LabourRate             Money
	OvertimeFactor         float64
	OvertimePremium        *float64
	TaskHours              map[RecommendationType]float64
}

// Float64 returns a pointer to v, for the optional parameter fields.
func Float64(v float64) *float64 {
	return &v
}

func DefaultEngineDefaults() EngineDefaults {
	return EngineDefaults{
		TopN:                   20,
		DeferralWindows:        []int{0, 7, 14, 30},
		Escalation:             DefaultCurveConfig(),
		MeanDowntimeHours:      Float64(24),
		DeferralRiskCeiling:    Float64(0.25),
		Capacities:             []int{1, 3, 5},
		Aggregation:            AggregateSum,
		TargetRiskReductionPct: Float64(20),
		HorizonDays:            7,
		LabourRate:             NewMoney(150, DefaultCurrency),
		OvertimeFactor:         1.25,
		OvertimePremium:        Float64(0.5),
		TaskHours: map[RecommendationType]float64{
			RecInspect: 2,
			RecRepair:  4,
			RecReplace: 8,
		},
	}
}

func (d EngineDefaults) applyMaintenance(p MaintenancePriorityParams) (MaintenancePriorityParams, error) {
	if p.TopN < 0 {
		return p, InvalidInputError("top_n", "top_n must be >= 0")
	}
	if p.TopN == 0 {
		p.TopN = d.TopN
	}
	return p, nil
}

func (d EngineDefaults) applyDeferral(p DeferralCostParams) (DeferralCostParams, error) {
	if len(p.Windows) == 0 {
		p.Windows = append([]int(nil), d.DeferralWindows...)
	}
	windows, err := NormalizeWindows(p.Windows)
	if err != nil {
		return p, err
	}
	p.Windows = windows
	if p.Escalation.Type == "" && p.Escalation.RatePerDay == 0 && p.Escalation.HazardPerDay == 0 {
		p.Escalation = d.Escalation
	}
	if _, err := p.Escalation.Curve(); err != nil {
		return p, err
	}
	p.MeanDowntimeHours = orDefaultPtr(p.MeanDowntimeHours, d.MeanDowntimeHours)
	if math.IsNaN(*p.MeanDowntimeHours) || *p.MeanDowntimeHours < 0 {
		return p, InvalidInputError("mean_downtime_hours", "mean downtime hours must be >= 0")
	}
	p.RiskCeiling = orDefaultPtr(p.RiskCeiling, d.DeferralRiskCeiling)
	if math.IsNaN(*p.RiskCeiling) || *p.RiskCeiling < 0 {
		return p, InvalidInputError("risk_ceiling", "risk ceiling must be >= 0")
	}
	if p.TopN < 0 {
		return p, InvalidInputError("top_n", "top_n must be >= 0")
	}
	if p.TopN == 0 {
		p.TopN = d.TopN
	}
	return p, nil
}

func (d EngineDefaults) applyProduction(p ProductionRiskParams) (ProductionRiskParams, error) {
	if len(p.Capacities) == 0 {
		p.Capacities = append([]int(nil), d.Capacities...)
	}
	for _, c := range p.Capacities {
		if c < 0 {
			return p, InvalidInputError("capacities", fmt.Sprintf("capacity %d must be >= 0", c))
		}
	}
	if p.Aggregation == "" {
		p.Aggregation = d.Aggregation
	}
	p.TargetReductionPct = orDefaultPtr(p.TargetReductionPct, d.TargetRiskReductionPct)
	if pct := *p.TargetReductionPct; math.IsNaN(pct) || pct < 0 || pct > 100 {
		return p, InvalidInputError("target_risk_reduction", "target risk reduction must be within [0,100]")
	}
	if p.TopN < 0 {
		return p, InvalidInputError("top_n", "top_n must be >= 0")
	}
	if p.TopN == 0 {
		p.TopN = d.TopN
	}
	return p, nil
}

func (d EngineDefaults) applyDispatch(p WorkforceDispatchParams, today Date) (WorkforceDispatchParams, error) {
	if p.Start.IsZero() {
		p.Start = today
	}
	if p.HorizonDays == 0 {
		p.HorizonDays = d.HorizonDays
	}
	if p.HorizonDays < 1 {
		return p, InvalidInputError("planning_days", "planning_days must be >= 1")
	}
	hours := make(map[RecommendationType]float64, len(d.TaskHours))
	for k, v := range d.TaskHours {
		hours[k] = v
	}
	for k, v := range p.TaskHours {
		hours[k] = v
	}
	p.TaskHours = hours
	if p.LabourRate.Amount.IsZero() && p.LabourRate.Currency == "" {
		p.LabourRate = d.LabourRate
	}
	if p.LabourRate.IsNegative() {
		return p, InvalidInputError("labour_rate", "labour rate must be >= 0")
	}
	if p.OvertimeFactor == 0 {
		p.OvertimeFactor = d.OvertimeFactor
	}
	if p.OvertimeFactor < 1 {
		return p, InvalidInputError("overtime_factor", "overtime factor must be >= 1")
	}
	p.OvertimePremium = orDefaultPtr(p.OvertimePremium, d.OvertimePremium)
	if math.IsNaN(*p.OvertimePremium) || *p.OvertimePremium < 0 {
		return p, InvalidInputError("overtime_premium", "overtime premium must be >= 0")
	}
	if p.SolverTimeoutMS < 0 {
		return p, InvalidInputError("solver_timeout_ms", "solver timeout must be >= 0")
	}
	return p, nil
}

// orDefaultPtr keeps an explicit setting, zero included, and otherwise copies
// the default so the persisted parameters never alias engine state.
func orDefaultPtr(set, def *float64) *float64 {
	if set != nil {
		return Float64(*set)
	}
	if def == nil {
		return Float64(0)
	}
	return Float64(*def)
}

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// RunRequest is the uniform entry used by Execute. Params must be one of the
// four parameter types (value or pointer) matching Type.
type RunRequest struct {
	Tenant TenantID
	User   UserID
	Type   RunType
	Params any
}

// RunResult is returned for completed runs. Failed runs return the persisted
// run alongside the error.
type RunResult struct {
	Run             Run
	Scenarios       []Scenario
	Recommendations []Recommendation
}

// RecommendedScenario returns the scenario flagged as recommended.
func (r *RunResult) RecommendedScenario() (Scenario, bool) {
	for _, s := range r.Scenarios {
		if s.Recommended {
			return s, true
		}
	}
	return Scenario{}, false
}

func marshalParams(p any) json.RawMessage {
	b, err := json.Marshal(p)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func solverTimeout(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
