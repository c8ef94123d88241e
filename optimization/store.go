/*
store.go - Collaborator interfaces

PURPOSE:
  Defines what the engine reads and writes. The engine itself holds no
  state; every input comes through a reader and every output through the
  run writer. Implementations: in-memory (optimization/store) and SQLite
  (store/sqlite). The simulated provider implements DataSource.

KEY INTERFACES:
  AssetReader          assets joined with their latest health snapshot
  CostModelResolver    active cost model for (tenant, site, asset, day)
  DataSource           AssetReader + CostModelResolver (live or simulated)
  FlagReader           feature flags (gate.go)
  RunWriter            run lifecycle writes; CommitRun is all-or-nothing
  RunReader            run/scenario lookups for the hosting layer
  RecommendationStore  review listing and status/assignee updates

ATOMIC COMMIT:
  CommitRun persists the completed run, every scenario and every
  recommendation in one unit. If any row fails, none are visible and the
  run keeps its previous (running) state so the orchestrator can fail it.

TENANCY:
  Every method takes the tenant explicitly. Implementations must only
  return rows owned by that tenant; the orchestrator re-checks anyway.
*/
package optimization

import (
	"context"
	"time"
)

// =============================================================================
// READ SIDE - inputs
// =============================================================================

type AssetReader interface {
	// ListAssets returns active assets matching the filter, each joined with its
	// latest snapshot (nil when none exists). Order is by asset ID.
	ListAssets(ctx context.Context, tenant TenantID, filter AssetFilter) ([]AssetView, error)
}

type CostModelResolver interface {
	// ResolveCostModel follows asset -> site -> tenant resolution (see
	// ResolveCostModel in types.go). Absence is ErrCostModelNotFound.
	ResolveCostModel(ctx context.Context, tenant TenantID, q CostQuery) (CostModel, error)
}

// DataSource is the provenance switch of simulated-data mode.
type DataSource interface {
	AssetReader
	CostModelResolver
}

// =============================================================================
// WRITE SIDE - run lifecycle
// =============================================================================

type RunWriter interface {
	// CreateRun inserts a new pending run.
	CreateRun(ctx context.Context, run Run) error

	// UpdateRun writes status, timestamps, summary and error fields.
	UpdateRun(ctx context.Context, run Run) error

	// CommitRun atomically writes the completed run with its scenarios and
	// recommendations. Either every row is persisted or none is.
	CommitRun(ctx context.Context, run Run, scenarios []Scenario, recs []Recommendation) error
}

type RunReader interface {
	GetRun(ctx context.Context, tenant TenantID, id RunID) (Run, error)
	ListRuns(ctx context.Context, tenant TenantID, filter RunFilter) ([]Run, error)
	ListScenarios(ctx context.Context, tenant TenantID, runID RunID) ([]Scenario, error)

	// LatestRun returns the most recently created run of a type with the given
	// status, or ErrRunNotFound.
	LatestRun(ctx context.Context, tenant TenantID, runType RunType, status RunStatus) (Run, error)

	// StaleRuns lists runs of every tenant still running after cutoff.
	StaleRuns(ctx context.Context, startedBefore time.Time) ([]Run, error)
}

type RecommendationStore interface {
	ListRecommendations(ctx context.Context, tenant TenantID, filter RecommendationFilter) ([]Recommendation, error)
	GetRecommendation(ctx context.Context, tenant TenantID, id RecommendationID) (Recommendation, error)

	// UpdateRecommendation applies a reviewer's change. Status moves must pass
	// RecommendationStatus.CanTransition, otherwise ErrIllegalTransition.
	UpdateRecommendation(ctx context.Context, tenant TenantID, id RecommendationID, upd RecommendationUpdate) (Recommendation, error)
}

// =============================================================================
// ADMIN SIDE - hosting layer and seeding
// =============================================================================

type AssetWriter interface {
	UpsertAsset(ctx context.Context, a Asset) error
	AppendSnapshot(ctx context.Context, s AssetHealthSnapshot) error
}

type CostModelStore interface {
	CostModelResolver
	ListCostModels(ctx context.Context, tenant TenantID) ([]CostModel, error)
	CreateCostModel(ctx context.Context, m CostModel) error
}

// FlagOverrideStore keeps per-tenant flag overrides. ok is false when the
// tenant has none.
type FlagOverrideStore interface {
	TenantFlags(ctx context.Context, tenant TenantID) (flags FeatureFlags, ok bool, err error)
	SetTenantFlags(ctx context.Context, tenant TenantID, flags FeatureFlags) error
}

// Store is everything the hosting application needs from one backend.
type Store interface {
	DataSource
	AssetWriter
	CostModelStore
	FlagOverrideStore
	RunWriter
	RunReader
	RecommendationStore
}
