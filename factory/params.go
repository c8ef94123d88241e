/*
Package factory provides JSON to Go run-parameter conversion.

PURPOSE:
  Converts the free-form "parameters" object of a run request into the
  typed parameter struct of the requested optimization type. Unset fields
  stay zero so the engine fills them from its configured defaults.

JSON SCHEMA (per optimization_type):
  maintenance_priority:
    {"top_n": 20, "asset_ids": [...], "criticality": ["critical"], "site_id": "north"}

  deferral_cost:
    {"deferral_windows": [0, 7, 14, 30],
     "escalation": {"type": "linear", "rate_per_day": 0.05, "cap": 1},
     "mean_downtime_hours": 24, "risk_ceiling": 0.25, "top_n": 20}

  production_risk:
    {"capacities": [1, 3, 5], "aggregation": "sum", "target_risk_reduction": 20}

  workforce_dispatch:
    {"start_date": "2026-03-02", "planning_days": 7,
     "workers": [{"id": "eng-1", "hours_per_day": 8, "skills": ["mechanical"]}],
     "tasks": [...], "labour_rate": {"amount": "150", "currency": "SAR"},
     "overtime_factor": 1.25, "solver_timeout_ms": 2000}

ACCEPTED SHORTHANDS:
  - "deferral_days": 7         -> deferral_windows [0, 7]
  - "capacity": 3              -> capacities [3]
  - "max_hours_per_day": 8     -> hours_per_day for workers that omit it
  - "labour_rate_per_hour": 150 -> labour_rate in the default currency

  The explicit field always wins over its shorthand.

USAGE:
  params, err := factory.ParseRunParams(optimization.RunDeferralCost, raw)
  res, err := engine.Execute(ctx, optimization.RunRequest{Type: t, Params: params, ...})

SEE ALSO:
  - optimization/runs.go: parameter types and engine defaults
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/decision-engine/optimization"
)

// =============================================================================
// SHORTHAND FIELDS
// =============================================================================

type deferralShorthand struct {
	DeferralDays *int `json:"deferral_days"`
}

type productionShorthand struct {
	Capacity *int `json:"capacity"`
}

type dispatchShorthand struct {
	MaxHoursPerDay    *float64 `json:"max_hours_per_day"`
	LabourRatePerHour *float64 `json:"labour_rate_per_hour"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRunParams decodes raw into the parameter type matching t. The result
// is a value (not a pointer) suitable for RunRequest.Params. Empty or null
// raw yields the zero parameters.
func ParseRunParams(t optimization.RunType, raw json.RawMessage) (any, error) {
	if _, err := optimization.ParseRunType(string(t)); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	switch t {
	case optimization.RunMaintenancePriority:
		var p optimization.MaintenancePriorityParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return p, nil

	case optimization.RunDeferralCost:
		var p optimization.DeferralCostParams
		var s deferralShorthand
		if err := decode(raw, &p, &s); err != nil {
			return nil, err
		}
		if len(p.Windows) == 0 && s.DeferralDays != nil {
			if *s.DeferralDays < 0 {
				return nil, optimization.InvalidInputError("deferral_days", "deferral_days must be >= 0")
			}
			p.Windows = []int{0, *s.DeferralDays}
		}
		return p, nil

	case optimization.RunProductionRisk:
		var p optimization.ProductionRiskParams
		var s productionShorthand
		if err := decode(raw, &p, &s); err != nil {
			return nil, err
		}
		if len(p.Capacities) == 0 && s.Capacity != nil {
			p.Capacities = []int{*s.Capacity}
		}
		return p, nil

	case optimization.RunWorkforceDispatch:
		var p optimization.WorkforceDispatchParams
		var s dispatchShorthand
		if err := decode(raw, &p, &s); err != nil {
			return nil, err
		}
		if s.MaxHoursPerDay != nil {
			if *s.MaxHoursPerDay <= 0 {
				return nil, optimization.InvalidInputError("max_hours_per_day", "max_hours_per_day must be > 0")
			}
			for i := range p.Workers {
				if p.Workers[i].HoursPerDay == 0 {
					p.Workers[i].HoursPerDay = *s.MaxHoursPerDay
				}
			}
		}
		if p.LabourRate.Amount.IsZero() && p.LabourRate.Currency == "" && s.LabourRatePerHour != nil {
			p.LabourRate = optimization.NewMoney(*s.LabourRatePerHour, optimization.DefaultCurrency)
		}
		return p, nil
	}
	return nil, optimization.InvalidInputError("optimization_type", fmt.Sprintf("invalid optimization type %q", t))
}

// decode unmarshals raw into every target, reporting the first failure as
// invalid input on "parameters".
func decode(raw []byte, targets ...any) error {
	for _, target := range targets {
		if err := json.Unmarshal(raw, target); err != nil {
			return optimization.InvalidInputError("parameters", fmt.Sprintf("invalid parameters: %v", err))
		}
	}
	return nil
}

// ToJSON renders typed parameters back into their canonical JSON form.
func ToJSON(params any) (json.RawMessage, error) {
	switch params.(type) {
	case optimization.MaintenancePriorityParams, optimization.DeferralCostParams,
		optimization.ProductionRiskParams, optimization.WorkforceDispatchParams:
	default:
		return nil, fmt.Errorf("factory: %T is not a run parameter type", params)
	}
	return json.Marshal(params)
}
