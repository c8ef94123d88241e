/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Engine entities carry
  no JSON tags; these types fix the wire names so the engine can evolve
  without breaking clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Runs:
    CreateRunRequest, RunDTO, ScenarioDTO, RunResultResponse

  Recommendations:
    RecommendationDTO, UpdateRecommendationRequest

  Cost models:
    CostModelDTO, CreateCostModelRequest

  Flags:
    FlagsDTO, UpdateFlagsRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/params.go: run parameter decoding
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/decision-engine/optimization"
)

// =============================================================================
// RUNS
// =============================================================================

// CreateRunRequest submits one optimization run.
type CreateRunRequest struct {
	OptimizationType string          `json:"optimization_type"`
	Parameters       json.RawMessage `json:"parameters"`
}

type RunDTO struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Type         string          `json:"optimization_type"`
	Status       string          `json:"status"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Summary      map[string]any  `json:"summary,omitempty"`
	Warnings     []string        `json:"warnings"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    string          `json:"created_at"`
	StartedAt    *string         `json:"started_at,omitempty"`
	CompletedAt  *string         `json:"completed_at,omitempty"`
}

type ScenarioDTO struct {
	ID          string             `json:"id"`
	RunID       string             `json:"run_id"`
	Name        string             `json:"name"`
	Type        string             `json:"scenario_type"`
	Parameters  map[string]any     `json:"parameters,omitempty"`
	Results     any                `json:"results,omitempty"`
	TotalCost   optimization.Money `json:"total_cost"`
	TotalRisk   float64            `json:"total_risk"`
	Recommended bool               `json:"is_recommended"`
	CreatedAt   string             `json:"created_at"`
}

// RunResultResponse is returned for a submitted run and for run details.
type RunResultResponse struct {
	Run             RunDTO              `json:"run"`
	Scenarios       []ScenarioDTO       `json:"scenarios"`
	Recommendations []RecommendationDTO `json:"recommendations"`
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

type RecommendationDTO struct {
	ID              string             `json:"id"`
	RunID           string             `json:"run_id"`
	ScenarioID      string             `json:"scenario_id"`
	AssetID         string             `json:"asset_id"`
	Type            string             `json:"recommendation_type"`
	ActionCode      string             `json:"action_code"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	PriorityScore   float64            `json:"priority_score"`
	DeferralCost    optimization.Money `json:"deferral_cost"`
	RiskReduction   float64            `json:"risk_reduction"`
	EstimatedHours  float64            `json:"estimated_hours,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	RecommendedDate *optimization.Date `json:"recommended_date,omitempty"`
	Status          string             `json:"status"`
	AssignedTo      *string            `json:"assigned_to,omitempty"`
	CreatedAt       string             `json:"created_at"`
}

// UpdateRecommendationRequest is a reviewer's decision. Both fields are optional.
type UpdateRecommendationRequest struct {
	Status     *string `json:"status"`
	AssignedTo *string `json:"assigned_to"`
}

// =============================================================================
// COST MODELS
// =============================================================================

type CostModelDTO struct {
	ID                        string             `json:"id"`
	AssetID                   string             `json:"asset_id,omitempty"`
	SiteID                    string             `json:"site_id,omitempty"`
	Scope                     string             `json:"scope"`
	DowntimeCostPerHour       optimization.Money `json:"downtime_cost_per_hour"`
	CostPerFailure            optimization.Money `json:"cost_per_failure"`
	PreventiveMaintenanceCost optimization.Money `json:"maintenance_cost_preventive"`
	CorrectiveMaintenanceCost optimization.Money `json:"maintenance_cost_corrective"`
	EnergyCostPerUnit         optimization.Money `json:"energy_cost_per_unit"`
	ProductionValuePerUnit    optimization.Money `json:"production_value_per_unit"`
	Currency                  string             `json:"currency"`
	ValidFrom                 *optimization.Date `json:"valid_from,omitempty"`
	ValidTo                   *optimization.Date `json:"valid_to,omitempty"`
	Active                    bool               `json:"is_active"`
}

// CreateCostModelRequest takes amounts as decimal strings ("12500.50") in
// the request currency.
type CreateCostModelRequest struct {
	ID                        string             `json:"id"`
	AssetID                   string             `json:"asset_id"`
	SiteID                    string             `json:"site_id"`
	DowntimeCostPerHour       string             `json:"downtime_cost_per_hour"`
	CostPerFailure            string             `json:"cost_per_failure"`
	PreventiveMaintenanceCost string             `json:"maintenance_cost_preventive"`
	CorrectiveMaintenanceCost string             `json:"maintenance_cost_corrective"`
	EnergyCostPerUnit         string             `json:"energy_cost_per_unit"`
	ProductionValuePerUnit    string             `json:"production_value_per_unit"`
	Currency                  string             `json:"currency"`
	ValidFrom                 *optimization.Date `json:"valid_from"`
	ValidTo                   *optimization.Date `json:"valid_to"`
}

// =============================================================================
// FLAGS AND ERRORS
// =============================================================================

type FlagsDTO struct {
	EngineEnabled bool `json:"engine_enabled"`
	SimulatedData bool `json:"simulated_data"`
	Overridden    bool `json:"overridden"`
}

// UpdateFlagsRequest replaces the tenant override. Omitted fields keep the
// value currently in force.
type UpdateFlagsRequest struct {
	EngineEnabled *bool `json:"engine_enabled"`
	SimulatedData *bool `json:"simulated_data"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toRunDTO(r optimization.Run) RunDTO {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return RunDTO{
		ID:           string(r.ID),
		TenantID:     string(r.TenantID),
		Type:         string(r.Type),
		Status:       string(r.Status),
		Parameters:   r.Parameters,
		Summary:      r.Summary,
		Warnings:     warnings,
		ErrorKind:    string(r.ErrorKind),
		ErrorMessage: r.ErrorMessage,
		CreatedBy:    string(r.CreatedBy),
		CreatedAt:    formatTime(r.CreatedAt),
		StartedAt:    formatTimePtr(r.StartedAt),
		CompletedAt:  formatTimePtr(r.CompletedAt),
	}
}

func toScenarioDTOs(scenarios []optimization.Scenario) []ScenarioDTO {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = ScenarioDTO{
			ID:          string(s.ID),
			RunID:       string(s.RunID),
			Name:        s.Name,
			Type:        string(s.Type),
			Parameters:  s.Parameters,
			Results:     s.Results,
			TotalCost:   s.TotalCost,
			TotalRisk:   s.TotalRisk,
			Recommended: s.Recommended,
			CreatedAt:   formatTime(s.CreatedAt),
		}
	}
	return dtos
}

func toRecommendationDTO(r optimization.Recommendation) RecommendationDTO {
	dto := RecommendationDTO{
		ID:              string(r.ID),
		RunID:           string(r.RunID),
		ScenarioID:      string(r.ScenarioID),
		AssetID:         string(r.AssetID),
		Type:            string(r.Type),
		ActionCode:      r.ActionCode,
		Title:           r.Title,
		Description:     r.Description,
		PriorityScore:   r.PriorityScore,
		DeferralCost:    r.DeferralCost,
		RiskReduction:   r.RiskReduction,
		EstimatedHours:  r.EstimatedHours,
		Metrics:         r.Metrics,
		RecommendedDate: r.RecommendedDate,
		Status:          string(r.Status),
		CreatedAt:       formatTime(r.CreatedAt),
	}
	if r.AssignedTo != nil {
		w := string(*r.AssignedTo)
		dto.AssignedTo = &w
	}
	return dto
}

func toRecommendationDTOs(recs []optimization.Recommendation) []RecommendationDTO {
	dtos := make([]RecommendationDTO, len(recs))
	for i, r := range recs {
		dtos[i] = toRecommendationDTO(r)
	}
	return dtos
}

// NewRunResultResponse renders a run result in its wire form.
func NewRunResultResponse(res *optimization.RunResult) RunResultResponse {
	return RunResultResponse{
		Run:             toRunDTO(res.Run),
		Scenarios:       toScenarioDTOs(res.Scenarios),
		Recommendations: toRecommendationDTOs(res.Recommendations),
	}
}

func toCostModelDTO(m optimization.CostModel) CostModelDTO {
	return CostModelDTO{
		ID:                        m.ID,
		AssetID:                   string(m.AssetID),
		SiteID:                    string(m.SiteID),
		Scope:                     string(m.Scope()),
		DowntimeCostPerHour:       m.DowntimeCostPerHour,
		CostPerFailure:            m.CostPerFailure,
		PreventiveMaintenanceCost: m.PreventiveMaintenanceCost,
		CorrectiveMaintenanceCost: m.CorrectiveMaintenanceCost,
		EnergyCostPerUnit:         m.EnergyCostPerUnit,
		ProductionValuePerUnit:    m.ProductionValuePerUnit,
		Currency:                  m.Currency,
		ValidFrom:                 m.ValidFrom,
		ValidTo:                   m.ValidTo,
		Active:                    m.Active,
	}
}

// toCostModel converts a create request for tenant. Amounts that fail to
// parse are reported by field name.
func (req CreateCostModelRequest) toCostModel(tenant optimization.TenantID) (optimization.CostModel, error) {
	currency := req.Currency
	if currency == "" {
		currency = optimization.DefaultCurrency
	}
	m := optimization.CostModel{
		ID:        req.ID,
		TenantID:  tenant,
		AssetID:   optimization.AssetID(req.AssetID),
		SiteID:    optimization.SiteID(req.SiteID),
		Currency:  currency,
		ValidFrom: req.ValidFrom,
		ValidTo:   req.ValidTo,
		Active:    true,
	}
	fields := []struct {
		name string
		raw  string
		dst  *optimization.Money
	}{
		{"downtime_cost_per_hour", req.DowntimeCostPerHour, &m.DowntimeCostPerHour},
		{"cost_per_failure", req.CostPerFailure, &m.CostPerFailure},
		{"maintenance_cost_preventive", req.PreventiveMaintenanceCost, &m.PreventiveMaintenanceCost},
		{"maintenance_cost_corrective", req.CorrectiveMaintenanceCost, &m.CorrectiveMaintenanceCost},
		{"energy_cost_per_unit", req.EnergyCostPerUnit, &m.EnergyCostPerUnit},
		{"production_value_per_unit", req.ProductionValuePerUnit, &m.ProductionValuePerUnit},
	}
	for _, f := range fields {
		v, err := optimization.ParseMoney(f.raw, currency)
		if err != nil {
			return m, optimization.InvalidInputError(f.name, err.Error())
		}
		*f.dst = v
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}
