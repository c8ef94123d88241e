/*
Package optimization provides the decision-optimization engine.

PURPOSE:
  Turns per-tenant asset health/risk data and cost parameters into ranked
  maintenance actions, deferral-cost projections, production-risk trade-offs
  and workforce-to-task assignments. The engine is advisory only: it reads
  asset, health-snapshot and cost-model records through collaborator
  interfaces and writes Run/Scenario/Recommendation records through a
  writer interface. It never controls equipment and never dispatches work
  without a human accepting the recommendation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: typed strings so tenant/asset/run IDs cannot be mixed up
  - Asset, AssetHealthSnapshot: read-only inputs (latest snapshot wins)
  - CostModel: tenant/site/asset scoped cost parameters with validity window
  - Run, Scenario, Recommendation: the engine's outputs
  - WorkforceAssignment: transient solver output kept inside a scenario

COMPONENTS (leaf first):
  scoring.go      Scoring Model (priority of one asset)
  escalation.go   Failure-probability escalation curves
  deferral.go     Deferral cost analysis
  production.go   Production risk optimization (greedy ratio selection)
  dispatch.go     Assignment solver (branch-and-bound + greedy fallback)
  gate.go         Feature gate (engine enabled / simulated data)
  orchestrator.go Run orchestrator (lifecycle, persistence, error policy)

TENANCY:
  Every record carries a TenantID. A run never mixes tenants; the
  orchestrator fails fast with CrossTenantDataError if it ever sees a
  record whose tenant differs from the run's tenant.

SEE ALSO:
  - errors.go: error taxonomy
  - store.go: collaborator interfaces
  - store/memory.go: in-memory collaborators for tests
*/
package optimization

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type AssetID string
type SiteID string
type UserID string
type RunID string
type ScenarioID string
type RecommendationID string
type WorkerID string

// =============================================================================
// CRITICALITY
// =============================================================================

// Criticality is the coarse ordinal importance tier of an asset.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Rank orders tiers: low=1 .. critical=4. Unknown tiers rank 0.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityLow:
		return 1
	case CriticalityMedium:
		return 2
	case CriticalityHigh:
		return 3
	case CriticalityCritical:
		return 4
	default:
		return 0
	}
}

func (c Criticality) Valid() bool { return c.Rank() > 0 }

// ParseCriticality accepts any casing and surrounding whitespace.
func ParseCriticality(s string) (Criticality, error) {
	c := Criticality(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", InvalidInputError("criticality", fmt.Sprintf("unknown criticality tier %q", s))
	}
	return c, nil
}

// =============================================================================
// ASSETS AND HEALTH SNAPSHOTS - read-only inputs
// =============================================================================

type Asset struct {
	ID          AssetID
	TenantID    TenantID
	SiteID      SiteID
	Name        string
	Criticality Criticality
	Active      bool
}

// AssetHealthSnapshot is immutable once written. Newer snapshots for the
// same asset supersede older ones.
type AssetHealthSnapshot struct {
	ID                      string
	TenantID                TenantID
	AssetID                 AssetID
	HealthScore             float64  // [0,100]
	FailureProbability      float64  // [0,1]
	RemainingUsefulLifeDays *float64 // nil when unknown
	ProductionRiskIndex     float64
	Anomaly                 bool
	ComputedAt              time.Time
}

// AssetView is an asset joined with its authoritative (latest) snapshot.
// Snapshot is nil when the asset has never been scored.
type AssetView struct {
	Asset    Asset
	Snapshot *AssetHealthSnapshot
}

// LatestSnapshot returns the authoritative snapshot: latest ComputedAt,
// ties broken by the greatest snapshot ID. Returns nil for an empty slice.
func LatestSnapshot(snaps []AssetHealthSnapshot) *AssetHealthSnapshot {
	if len(snaps) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(snaps); i++ {
		s, b := snaps[i], snaps[best]
		if s.ComputedAt.After(b.ComputedAt) || (s.ComputedAt.Equal(b.ComputedAt) && s.ID > b.ID) {
			best = i
		}
	}
	latest := snaps[best]
	return &latest
}

// AssetFilter narrows what the asset reader returns.
type AssetFilter struct {
	AssetIDs    []AssetID
	Criticality []Criticality
	SiteID      SiteID
}

// Matches reports whether the asset passes the filter. Inactive assets never match.
func (f AssetFilter) Matches(a Asset) bool {
	if !a.Active {
		return false
	}
	if f.SiteID != "" && a.SiteID != f.SiteID {
		return false
	}
	if len(f.AssetIDs) > 0 && !containsAsset(f.AssetIDs, a.ID) {
		return false
	}
	if len(f.Criticality) > 0 {
		found := false
		for _, c := range f.Criticality {
			if c == a.Criticality {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsAsset(ids []AssetID, id AssetID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// =============================================================================
// COST MODEL
// =============================================================================

// CostScope identifies where a cost model applies.
type CostScope string

const (
	ScopeAsset  CostScope = "asset"
	ScopeSite   CostScope = "site"
	ScopeTenant CostScope = "tenant"
)

type CostModel struct {
	ID                        string
	TenantID                  TenantID
	AssetID                   AssetID // set for asset scope
	SiteID                    SiteID  // set for site scope (and optionally asset scope)
	DowntimeCostPerHour       Money
	CostPerFailure            Money
	PreventiveMaintenanceCost Money
	CorrectiveMaintenanceCost Money
	EnergyCostPerUnit         Money
	ProductionValuePerUnit    Money
	Currency                  string
	ValidFrom                 *Date
	ValidTo                   *Date
	Active                    bool
}

// Scope derives the scope from which identifiers are set.
func (m CostModel) Scope() CostScope {
	switch {
	case m.AssetID != "":
		return ScopeAsset
	case m.SiteID != "":
		return ScopeSite
	default:
		return ScopeTenant
	}
}

// EffectiveOn reports whether the model is active and its validity window covers day.
func (m CostModel) EffectiveOn(day Date) bool {
	if !m.Active {
		return false
	}
	if m.ValidFrom != nil && day.Before(*m.ValidFrom) {
		return false
	}
	if m.ValidTo != nil && day.After(*m.ValidTo) {
		return false
	}
	return true
}

// Validate rejects negative cost parameters.
func (m CostModel) Validate() error {
	fields := map[string]Money{
		"downtime_cost_per_hour":      m.DowntimeCostPerHour,
		"cost_per_failure":            m.CostPerFailure,
		"maintenance_cost_preventive": m.PreventiveMaintenanceCost,
		"maintenance_cost_corrective": m.CorrectiveMaintenanceCost,
		"energy_cost_per_unit":        m.EnergyCostPerUnit,
		"production_value_per_unit":   m.ProductionValuePerUnit,
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if fields[name].IsNegative() {
			return InvalidInputError(name, fmt.Sprintf("cost model %s: %s must not be negative", m.ID, name))
		}
	}
	if m.ValidFrom != nil && m.ValidTo != nil && m.ValidTo.Before(*m.ValidFrom) {
		return InvalidInputError("valid_to", fmt.Sprintf("cost model %s: valid_to before valid_from", m.ID))
	}
	return nil
}

// CostQuery asks for the model governing one asset on one day.
type CostQuery struct {
	AssetID AssetID
	SiteID  SiteID
	On      Date
}

// ResolveCostModel picks the active model for the query out of a tenant's
// models. Resolution order is asset, then site, then tenant default. More
// than one effective model in the winning scope is a configuration error;
// no effective model in any scope returns ErrCostModelNotFound.
//
// Stores share this function so resolution is identical everywhere.
func ResolveCostModel(models []CostModel, q CostQuery) (CostModel, error) {
	var asset, site, tenant []CostModel
	for _, m := range models {
		if !m.EffectiveOn(q.On) {
			continue
		}
		switch m.Scope() {
		case ScopeAsset:
			if m.AssetID == q.AssetID {
				asset = append(asset, m)
			}
		case ScopeSite:
			if q.SiteID != "" && m.SiteID == q.SiteID {
				site = append(site, m)
			}
		case ScopeTenant:
			tenant = append(tenant, m)
		}
	}
	for _, level := range []struct {
		scope      CostScope
		candidates []CostModel
	}{{ScopeAsset, asset}, {ScopeSite, site}, {ScopeTenant, tenant}} {
		switch len(level.candidates) {
		case 0:
			continue
		case 1:
			return level.candidates[0], nil
		default:
			ids := make([]string, len(level.candidates))
			for i, c := range level.candidates {
				ids[i] = c.ID
			}
			sort.Strings(ids)
			return CostModel{}, &Error{
				Kind:    KindConfiguration,
				Code:    "ambiguous_cost_model",
				Message: fmt.Sprintf("%d active %s-scope cost models for asset %s: %s", len(ids), level.scope, q.AssetID, strings.Join(ids, ", ")),
				Err:     ErrAmbiguousCostModel,
			}
		}
	}
	return CostModel{}, &Error{
		Kind:    KindConfiguration,
		Code:    "cost_model_not_found",
		Message: fmt.Sprintf("no active cost model for asset %s (site %q) on %s", q.AssetID, q.SiteID, q.On),
		Err:     ErrCostModelNotFound,
	}
}

// =============================================================================
// RUN - One invocation of one algorithm
// =============================================================================

type RunType string

const (
	RunMaintenancePriority RunType = "maintenance_priority"
	RunDeferralCost        RunType = "deferral_cost"
	RunProductionRisk      RunType = "production_risk"
	RunWorkforceDispatch   RunType = "workforce_dispatch"
)

// RunTypes lists every algorithm the engine can run.
var RunTypes = []RunType{RunMaintenancePriority, RunDeferralCost, RunProductionRisk, RunWorkforceDispatch}

func ParseRunType(s string) (RunType, error) {
	for _, t := range RunTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", InvalidInputError("optimization_type", fmt.Sprintf("invalid optimization type %q", s))
}

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

type Run struct {
	ID           RunID
	TenantID     TenantID
	Type         RunType
	Status       RunStatus
	Parameters   json.RawMessage
	Summary      map[string]any
	Warnings     []string
	ErrorKind    ErrorKind
	ErrorMessage string
	CreatedBy    UserID
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Transition moves the run through pending -> running -> {completed, failed}.
// A pending run may also fail directly (gate refusal, cancellation).
func (r *Run) Transition(to RunStatus, at time.Time) error {
	ok := false
	switch r.Status {
	case RunPending:
		ok = to == RunRunning || to == RunFailed
	case RunRunning:
		ok = to == RunCompleted || to == RunFailed
	}
	if !ok {
		return fmt.Errorf("%w: run %s %s -> %s", ErrIllegalTransition, r.ID, r.Status, to)
	}
	r.Status = to
	switch to {
	case RunRunning:
		r.StartedAt = &at
	case RunCompleted, RunFailed:
		r.CompletedAt = &at
	}
	return nil
}

// =============================================================================
// SCENARIO - One coherent alternative produced by a run
// =============================================================================

type Scenario struct {
	ID          ScenarioID
	TenantID    TenantID
	RunID       RunID
	Name        string
	Type        RunType
	Parameters  map[string]any
	Results     any
	TotalCost   Money
	TotalRisk   float64
	Recommended bool
	CreatedAt   time.Time
}

// SelectRecommended marks exactly one scenario as recommended: the lowest
// total cost whose total risk stays within ceiling, ties broken by lower
// risk then input order. When no scenario meets the ceiling the lowest-risk
// scenario is chosen and ok is false so the caller can surface it.
func SelectRecommended(scenarios []Scenario, ceiling float64) (index int, ok bool) {
	if len(scenarios) == 0 {
		return -1, false
	}
	best := -1
	for i, s := range scenarios {
		if s.TotalRisk > ceiling {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := scenarios[best]
		c := s.TotalCost.Cmp(b.TotalCost)
		if c < 0 || (c == 0 && s.TotalRisk < b.TotalRisk) {
			best = i
		}
	}
	ok = best >= 0
	if !ok {
		best = 0
		for i, s := range scenarios {
			b := scenarios[best]
			if s.TotalRisk < b.TotalRisk || (s.TotalRisk == b.TotalRisk && s.TotalCost.Cmp(b.TotalCost) < 0) {
				best = i
			}
		}
	}
	for i := range scenarios {
		scenarios[i].Recommended = i == best
	}
	return best, ok
}

// =============================================================================
// RECOMMENDATION - One actionable item within a scenario
// =============================================================================

type RecommendationType string

const (
	RecInspect  RecommendationType = "inspect"
	RecRepair   RecommendationType = "repair"
	RecReplace  RecommendationType = "replace"
	RecDefer    RecommendationType = "defer"
	RecMonitor  RecommendationType = "monitor"
	RecDispatch RecommendationType = "dispatch"
)

type RecommendationStatus string

const (
	RecPending   RecommendationStatus = "pending"
	RecAccepted  RecommendationStatus = "accepted"
	RecRejected  RecommendationStatus = "rejected"
	RecConverted RecommendationStatus = "converted"
)

// CanTransition reports whether a reviewer may move a recommendation from s to next.
func (s RecommendationStatus) CanTransition(next RecommendationStatus) bool {
	switch s {
	case RecPending:
		return next == RecAccepted || next == RecRejected
	case RecAccepted:
		return next == RecConverted || next == RecRejected
	default:
		return false
	}
}

func ParseRecommendationStatus(s string) (RecommendationStatus, error) {
	switch st := RecommendationStatus(s); st {
	case RecPending, RecAccepted, RecRejected, RecConverted:
		return st, nil
	}
	return "", InvalidInputError("status", fmt.Sprintf("invalid recommendation status %q", s))
}

// Recommendation core fields are immutable. Only Status and AssignedTo
// change after creation, and only through a reviewing human.
type Recommendation struct {
	ID              RecommendationID
	TenantID        TenantID
	RunID           RunID
	ScenarioID      ScenarioID
	AssetID         AssetID
	Type            RecommendationType
	ActionCode      string
	Title           string
	Description     string
	PriorityScore   float64
	DeferralCost    Money
	RiskReduction   float64
	EstimatedHours  float64
	Metrics         map[string]float64
	RecommendedDate *Date
	Status          RecommendationStatus
	AssignedTo      *WorkerID
	CreatedAt       time.Time
}

// RecommendationFilter is used by review listings.
type RecommendationFilter struct {
	RunID   RunID
	AssetID AssetID
	Type    RecommendationType
	Status  RecommendationStatus
	Limit   int
	Offset  int
}

// RecommendationUpdate carries the reviewer-mutable fields.
type RecommendationUpdate struct {
	Status     *RecommendationStatus
	AssignedTo *WorkerID
}

// ApplyRecommendationUpdate returns r with the update applied. Status moves
// that CanTransition rejects wrap ErrIllegalTransition. Every store shares it.
func ApplyRecommendationUpdate(r Recommendation, upd RecommendationUpdate) (Recommendation, error) {
	if upd.Status != nil && *upd.Status != r.Status {
		if !r.Status.CanTransition(*upd.Status) {
			return r, fmt.Errorf("%w: recommendation %s %s -> %s", ErrIllegalTransition, r.ID, r.Status, *upd.Status)
		}
		r.Status = *upd.Status
	}
	if upd.AssignedTo != nil {
		if *upd.AssignedTo == "" {
			r.AssignedTo = nil
		} else {
			w := *upd.AssignedTo
			r.AssignedTo = &w
		}
	}
	return r, nil
}

// RunFilter is used by run listings.
type RunFilter struct {
	Type   RunType
	Status RunStatus
	Limit  int
	Offset int
}

// =============================================================================
// WORKFORCE ASSIGNMENT - transient solver output
// =============================================================================

type WorkforceAssignment struct {
	WorkerID WorkerID `json:"worker_id"`
	TaskID   string   `json:"task_id"`
	AssetID  AssetID  `json:"asset_id,omitempty"`
	Date     Date     `json:"date"`
	DayIndex int      `json:"day_index"`
	Hours    float64  `json:"hours"`
}
