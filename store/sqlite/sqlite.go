/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements optimization.Store using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  optimization.DataSource:          Assets, health snapshots, cost models
  optimization.RunWriter/RunReader: Run lifecycle and history
  optimization.RecommendationStore: Review listing and updates
  optimization.FlagOverrideStore:   Per-tenant feature flags

KEY TABLES:
  assets:                       Asset master data (read-only for the engine)
  health_snapshots:             Immutable health snapshots, latest wins
  cost_models:                  Versioned cost parameters (asset/site/tenant scope)
  feature_flags:                Per-tenant overrides of the engine switches
  optimization_runs:            One row per run, lifecycle status
  optimization_scenarios:       Scenarios produced by a completed run
  optimization_recommendations: Recommendations of the recommended scenario

ATOMIC COMMIT:
  CommitRun writes the run update, scenarios and recommendations inside one
  database transaction. Any failed insert rolls back everything, so a
  half-written run never becomes visible.

TENANCY:
  Every query filters on tenant_id. Cross-tenant rows are unreachable
  through this store even when IDs collide.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/decision-engine.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/decision-engine/optimization"
)

// ErrDuplicateID is returned when an insert hits a primary key that exists.
var ErrDuplicateID = errors.New("duplicate id")

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ optimization.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an already-open, already-migrated database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Assets (master data, owned by the asset registry)
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		site_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		criticality TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_assets_tenant
		ON assets(tenant_id, active);

	-- Health snapshots (immutable, latest per asset is authoritative)
	CREATE TABLE IF NOT EXISTS health_snapshots (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		health_score REAL NOT NULL,
		failure_probability REAL NOT NULL,
		remaining_useful_life_days REAL,
		production_risk_index REAL NOT NULL DEFAULT 0,
		anomaly BOOLEAN NOT NULL DEFAULT FALSE,
		computed_at TEXT NOT NULL
	);

	-- Hot path: latest snapshot per asset
	CREATE INDEX IF NOT EXISTS idx_snapshots_tenant_asset_time
		ON health_snapshots(tenant_id, asset_id, computed_at DESC, id DESC);

	-- Cost models (asset, site or tenant scope)
	CREATE TABLE IF NOT EXISTS cost_models (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		asset_id TEXT NOT NULL DEFAULT '',
		site_id TEXT NOT NULL DEFAULT '',
		downtime_cost_per_hour TEXT NOT NULL,
		cost_per_failure TEXT NOT NULL,
		preventive_maintenance_cost TEXT NOT NULL,
		corrective_maintenance_cost TEXT NOT NULL,
		energy_cost_per_unit TEXT NOT NULL,
		production_value_per_unit TEXT NOT NULL,
		currency TEXT NOT NULL,
		valid_from TEXT,
		valid_to TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_cost_models_tenant
		ON cost_models(tenant_id, active);

	-- Feature flag overrides
	CREATE TABLE IF NOT EXISTS feature_flags (
		tenant_id TEXT PRIMARY KEY,
		engine_enabled BOOLEAN NOT NULL,
		simulated_data BOOLEAN NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Optimization runs
	CREATE TABLE IF NOT EXISTS optimization_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		run_type TEXT NOT NULL,
		status TEXT NOT NULL,
		parameters_json TEXT NOT NULL,
		summary_json TEXT,
		warnings_json TEXT,
		error_kind TEXT,
		error_message TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_tenant_created
		ON optimization_runs(tenant_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status
		ON optimization_runs(status, started_at);

	-- Scenarios
	CREATE TABLE IF NOT EXISTS optimization_scenarios (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		run_id TEXT NOT NULL REFERENCES optimization_runs(id),
		name TEXT NOT NULL,
		scenario_type TEXT NOT NULL,
		parameters_json TEXT,
		results_json TEXT,
		total_cost TEXT NOT NULL,
		currency TEXT NOT NULL,
		total_risk REAL NOT NULL,
		is_recommended BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scenarios_run
		ON optimization_scenarios(tenant_id, run_id);

	-- Recommendations
	CREATE TABLE IF NOT EXISTS optimization_recommendations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		run_id TEXT NOT NULL REFERENCES optimization_runs(id),
		scenario_id TEXT NOT NULL REFERENCES optimization_scenarios(id),
		asset_id TEXT NOT NULL DEFAULT '',
		rec_type TEXT NOT NULL,
		action_code TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		priority_score REAL NOT NULL,
		deferral_cost TEXT NOT NULL,
		currency TEXT NOT NULL,
		risk_reduction REAL NOT NULL DEFAULT 0,
		estimated_hours REAL NOT NULL DEFAULT 0,
		metrics_json TEXT,
		recommended_date TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		assigned_to TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recommendations_tenant_status
		ON optimization_recommendations(tenant_id, status, priority_score DESC);
	CREATE INDEX IF NOT EXISTS idx_recommendations_run
		ON optimization_recommendations(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// ASSETS AND SNAPSHOTS (optimization.AssetReader / AssetWriter)
// =============================================================================

func (s *Store) UpsertAsset(ctx context.Context, a optimization.Asset) error {
	if a.ID == "" || a.TenantID == "" {
		return optimization.InvalidInputError("asset", "asset id and tenant are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, tenant_id, site_id, name, criticality, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			site_id = excluded.site_id,
			name = excluded.name,
			criticality = excluded.criticality,
			active = excluded.active
		WHERE assets.tenant_id = excluded.tenant_id
	`, a.ID, a.TenantID, a.SiteID, a.Name, a.Criticality, a.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: asset %s belongs to another tenant", ErrDuplicateID, a.ID)
	}
	return nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap optimization.AssetHealthSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rul sql.NullFloat64
	if snap.RemainingUsefulLifeDays != nil {
		rul = sql.NullFloat64{Float64: *snap.RemainingUsefulLifeDays, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_snapshots
		(id, tenant_id, asset_id, health_score, failure_probability,
		 remaining_useful_life_days, production_risk_index, anomaly, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.TenantID, snap.AssetID, snap.HealthScore, snap.FailureProbability,
		rul, snap.ProductionRiskIndex, snap.Anomaly, formatTime(snap.ComputedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: snapshot %s", ErrDuplicateID, snap.ID)
		}
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// ListAssets joins each active asset with its latest snapshot.
func (s *Store) ListAssets(ctx context.Context, tenant optimization.TenantID, filter optimization.AssetFilter) ([]optimization.AssetView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, site_id, name, criticality, active
		FROM assets
		WHERE tenant_id = ? AND active = TRUE
		ORDER BY id ASC
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []optimization.Asset
	for rows.Next() {
		var a optimization.Asset
		if err := rows.Scan(&a.ID, &a.TenantID, &a.SiteID, &a.Name, &a.Criticality, &a.Active); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		if filter.Matches(a) {
			assets = append(assets, a)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snaps, err := s.snapshotsByAsset(ctx, tenant)
	if err != nil {
		return nil, err
	}
	views := make([]optimization.AssetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, optimization.AssetView{Asset: a, Snapshot: optimization.LatestSnapshot(snaps[a.ID])})
	}
	return views, nil
}

func (s *Store) snapshotsByAsset(ctx context.Context, tenant optimization.TenantID) (map[optimization.AssetID][]optimization.AssetHealthSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, asset_id, health_score, failure_probability,
		       remaining_useful_life_days, production_risk_index, anomaly, computed_at
		FROM health_snapshots
		WHERE tenant_id = ?
		ORDER BY asset_id ASC, computed_at ASC
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[optimization.AssetID][]optimization.AssetHealthSnapshot)
	for rows.Next() {
		var (
			snap       optimization.AssetHealthSnapshot
			rul        sql.NullFloat64
			computedAt string
		)
		if err := rows.Scan(&snap.ID, &snap.TenantID, &snap.AssetID, &snap.HealthScore, &snap.FailureProbability,
			&rul, &snap.ProductionRiskIndex, &snap.Anomaly, &computedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if rul.Valid {
			v := rul.Float64
			snap.RemainingUsefulLifeDays = &v
		}
		snap.ComputedAt = parseTime(computedAt)
		out[snap.AssetID] = append(out[snap.AssetID], snap)
	}
	return out, rows.Err()
}

// =============================================================================
// COST MODELS (optimization.CostModelStore)
// =============================================================================

func (s *Store) CreateCostModel(ctx context.Context, m optimization.CostModel) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Currency == "" {
		m.Currency = optimization.DefaultCurrency
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_models
		(id, tenant_id, asset_id, site_id, downtime_cost_per_hour, cost_per_failure,
		 preventive_maintenance_cost, corrective_maintenance_cost, energy_cost_per_unit,
		 production_value_per_unit, currency, valid_from, valid_to, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.TenantID, m.AssetID, m.SiteID,
		m.DowntimeCostPerHour.Amount.String(), m.CostPerFailure.Amount.String(),
		m.PreventiveMaintenanceCost.Amount.String(), m.CorrectiveMaintenanceCost.Amount.String(),
		m.EnergyCostPerUnit.Amount.String(), m.ProductionValuePerUnit.Amount.String(),
		m.Currency, nullDate(m.ValidFrom), nullDate(m.ValidTo), m.Active)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: cost model %s", ErrDuplicateID, m.ID)
		}
		return fmt.Errorf("failed to create cost model: %w", err)
	}
	return nil
}

func (s *Store) ListCostModels(ctx context.Context, tenant optimization.TenantID) ([]optimization.CostModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listCostModels(ctx, tenant)
}

// ResolveCostModel loads the tenant's models and applies the shared
// asset -> site -> tenant resolution.
func (s *Store) ResolveCostModel(ctx context.Context, tenant optimization.TenantID, q optimization.CostQuery) (optimization.CostModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	models, err := s.listCostModels(ctx, tenant)
	if err != nil {
		return optimization.CostModel{}, err
	}
	return optimization.ResolveCostModel(models, q)
}

func (s *Store) listCostModels(ctx context.Context, tenant optimization.TenantID) ([]optimization.CostModel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, asset_id, site_id, downtime_cost_per_hour, cost_per_failure,
		       preventive_maintenance_cost, corrective_maintenance_cost, energy_cost_per_unit,
		       production_value_per_unit, currency, valid_from, valid_to, active
		FROM cost_models
		WHERE tenant_id = ?
		ORDER BY id ASC
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost models: %w", err)
	}
	defer rows.Close()

	var out []optimization.CostModel
	for rows.Next() {
		var (
			m                                         optimization.CostModel
			downtime, failure, prev, corr, energy, pv string
			validFrom, validTo                        sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.AssetID, &m.SiteID, &downtime, &failure,
			&prev, &corr, &energy, &pv, &m.Currency, &validFrom, &validTo, &m.Active); err != nil {
			return nil, fmt.Errorf("failed to scan cost model: %w", err)
		}
		m.DowntimeCostPerHour = parseMoney(downtime, m.Currency)
		m.CostPerFailure = parseMoney(failure, m.Currency)
		m.PreventiveMaintenanceCost = parseMoney(prev, m.Currency)
		m.CorrectiveMaintenanceCost = parseMoney(corr, m.Currency)
		m.EnergyCostPerUnit = parseMoney(energy, m.Currency)
		m.ProductionValuePerUnit = parseMoney(pv, m.Currency)
		m.ValidFrom = parseNullDate(validFrom)
		m.ValidTo = parseNullDate(validTo)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// FEATURE FLAGS (optimization.FlagOverrideStore)
// =============================================================================

func (s *Store) TenantFlags(ctx context.Context, tenant optimization.TenantID) (optimization.FeatureFlags, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f optimization.FeatureFlags
	err := s.db.QueryRowContext(ctx,
		"SELECT engine_enabled, simulated_data FROM feature_flags WHERE tenant_id = ?",
		tenant,
	).Scan(&f.EngineEnabled, &f.SimulatedData)
	if errors.Is(err, sql.ErrNoRows) {
		return optimization.FeatureFlags{}, false, nil
	}
	if err != nil {
		return optimization.FeatureFlags{}, false, fmt.Errorf("failed to read feature flags: %w", err)
	}
	return f, true, nil
}

func (s *Store) SetTenantFlags(ctx context.Context, tenant optimization.TenantID, f optimization.FeatureFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_flags (tenant_id, engine_enabled, simulated_data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			engine_enabled = excluded.engine_enabled,
			simulated_data = excluded.simulated_data,
			updated_at = excluded.updated_at
	`, tenant, f.EngineEnabled, f.SimulatedData, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save feature flags: %w", err)
	}
	return nil
}

// =============================================================================
// RUN LIFECYCLE (optimization.RunWriter)
// =============================================================================

func (s *Store) CreateRun(ctx context.Context, run optimization.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	params := run.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO optimization_runs
		(id, tenant_id, run_type, status, parameters_json, summary_json, warnings_json,
		 error_kind, error_message, created_by, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TenantID, run.Type, run.Status, string(params),
		marshalJSON(run.Summary), marshalJSON(run.Warnings),
		nullString(string(run.ErrorKind)), nullString(run.ErrorMessage), nullString(string(run.CreatedBy)),
		formatTime(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.CompletedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: run %s", ErrDuplicateID, run.ID)
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run optimization.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRun(ctx, s.db, run)
}

func (s *Store) updateRun(ctx context.Context, db execer, run optimization.Run) error {
	res, err := db.ExecContext(ctx, `
		UPDATE optimization_runs
		SET status = ?, summary_json = ?, warnings_json = ?, error_kind = ?, error_message = ?,
		    started_at = ?, completed_at = ?
		WHERE id = ? AND tenant_id = ?
	`, run.Status, marshalJSON(run.Summary), marshalJSON(run.Warnings),
		nullString(string(run.ErrorKind)), nullString(run.ErrorMessage),
		nullTime(run.StartedAt), nullTime(run.CompletedAt), run.ID, run.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", optimization.ErrRunNotFound, run.ID)
	}
	return nil
}

// CommitRun writes the completed run with its scenarios and recommendations
// in one database transaction.
func (s *Store) CommitRun(ctx context.Context, run optimization.Run, scenarios []optimization.Scenario, recs []optimization.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.updateRun(ctx, sqlTx, run); err != nil {
		return err
	}
	for _, sc := range scenarios {
		if err := insertScenario(ctx, sqlTx, sc); err != nil {
			return err
		}
	}
	for _, r := range recs {
		if err := insertRecommendation(ctx, sqlTx, r); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

func insertScenario(ctx context.Context, db execer, sc optimization.Scenario) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO optimization_scenarios
		(id, tenant_id, run_id, name, scenario_type, parameters_json, results_json,
		 total_cost, currency, total_risk, is_recommended, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sc.ID, sc.TenantID, sc.RunID, sc.Name, sc.Type,
		marshalJSON(sc.Parameters), marshalJSON(sc.Results),
		sc.TotalCost.Amount.String(), sc.TotalCost.Currency, finite(sc.TotalRisk),
		sc.Recommended, formatTime(sc.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: scenario %s", ErrDuplicateID, sc.ID)
		}
		return fmt.Errorf("failed to insert scenario: %w", err)
	}
	return nil
}

func insertRecommendation(ctx context.Context, db execer, r optimization.Recommendation) error {
	var assigned sql.NullString
	if r.AssignedTo != nil {
		assigned = sql.NullString{String: string(*r.AssignedTo), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO optimization_recommendations
		(id, tenant_id, run_id, scenario_id, asset_id, rec_type, action_code, title, description,
		 priority_score, deferral_cost, currency, risk_reduction, estimated_hours, metrics_json,
		 recommended_date, status, assigned_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TenantID, r.RunID, r.ScenarioID, r.AssetID, r.Type, r.ActionCode, r.Title, r.Description,
		r.PriorityScore, r.DeferralCost.Amount.String(), r.DeferralCost.Currency, r.RiskReduction,
		r.EstimatedHours, marshalJSON(r.Metrics), nullDate(r.RecommendedDate), r.Status, assigned,
		formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: recommendation %s", ErrDuplicateID, r.ID)
		}
		return fmt.Errorf("failed to insert recommendation: %w", err)
	}
	return nil
}

// =============================================================================
// RUN QUERIES (optimization.RunReader)
// =============================================================================

const runColumns = `id, tenant_id, run_type, status, parameters_json, summary_json, warnings_json,
		       error_kind, error_message, created_by, created_at, started_at, completed_at`

func (s *Store) GetRun(ctx context.Context, tenant optimization.TenantID, id optimization.RunID) (optimization.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs, err := s.queryRuns(ctx, "SELECT "+runColumns+" FROM optimization_runs WHERE tenant_id = ? AND id = ?", tenant, id)
	if err != nil {
		return optimization.Run{}, err
	}
	if len(runs) == 0 {
		return optimization.Run{}, fmt.Errorf("%w: %s", optimization.ErrRunNotFound, id)
	}
	return runs[0], nil
}

// ListRuns returns newest first.
func (s *Store) ListRuns(ctx context.Context, tenant optimization.TenantID, filter optimization.RunFilter) ([]optimization.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + runColumns + " FROM optimization_runs WHERE tenant_id = ?"
	args := []any{tenant}
	if filter.Type != "" {
		query += " AND run_type = ?"
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC, id DESC"
	query, args = paginate(query, args, filter.Limit, filter.Offset)
	return s.queryRuns(ctx, query, args...)
}

func (s *Store) LatestRun(ctx context.Context, tenant optimization.TenantID, runType optimization.RunType, status optimization.RunStatus) (optimization.Run, error) {
	runs, err := s.ListRuns(ctx, tenant, optimization.RunFilter{Type: runType, Status: status, Limit: 1})
	if err != nil {
		return optimization.Run{}, err
	}
	if len(runs) == 0 {
		return optimization.Run{}, fmt.Errorf("%w: no %s %s run", optimization.ErrRunNotFound, status, runType)
	}
	return runs[0], nil
}

// StaleRuns spans every tenant; it feeds the stale-run reaper only.
func (s *Store) StaleRuns(ctx context.Context, startedBefore time.Time) ([]optimization.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRuns(ctx, "SELECT "+runColumns+` FROM optimization_runs
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
		ORDER BY id ASC`, optimization.RunRunning, formatTime(startedBefore))
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]optimization.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []optimization.Run
	for rows.Next() {
		var (
			r                                optimization.Run
			params                           string
			summary, warnings                sql.NullString
			errorKind, errorMessage, creator sql.NullString
			createdAt                        string
			startedAt, completedAt           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Type, &r.Status, &params, &summary, &warnings,
			&errorKind, &errorMessage, &creator, &createdAt, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Parameters = json.RawMessage(params)
		if summary.Valid && summary.String != "" && summary.String != "null" {
			json.Unmarshal([]byte(summary.String), &r.Summary)
		}
		if warnings.Valid && warnings.String != "" && warnings.String != "null" {
			json.Unmarshal([]byte(warnings.String), &r.Warnings)
		}
		r.ErrorKind = optimization.ErrorKind(errorKind.String)
		r.ErrorMessage = errorMessage.String
		r.CreatedBy = optimization.UserID(creator.String)
		r.CreatedAt = parseTime(createdAt)
		r.StartedAt = parseNullTime(startedAt)
		r.CompletedAt = parseNullTime(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListScenarios returns scenarios in creation order. Results come back as
// raw JSON.
func (s *Store) ListScenarios(ctx context.Context, tenant optimization.TenantID, runID optimization.RunID) ([]optimization.Scenario, error) {
	if _, err := s.GetRun(ctx, tenant, runID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, run_id, name, scenario_type, parameters_json, results_json,
		       total_cost, currency, total_risk, is_recommended, created_at
		FROM optimization_scenarios
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, tenant, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	var out []optimization.Scenario
	for rows.Next() {
		var (
			sc              optimization.Scenario
			params, results sql.NullString
			cost, currency  string
			createdAt       string
		)
		if err := rows.Scan(&sc.ID, &sc.TenantID, &sc.RunID, &sc.Name, &sc.Type, &params, &results,
			&cost, &currency, &sc.TotalRisk, &sc.Recommended, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan scenario: %w", err)
		}
		if params.Valid && params.String != "" && params.String != "null" {
			json.Unmarshal([]byte(params.String), &sc.Parameters)
		}
		if results.Valid && results.String != "" {
			sc.Results = json.RawMessage(results.String)
		}
		sc.TotalCost = parseMoney(cost, currency)
		sc.CreatedAt = parseTime(createdAt)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// =============================================================================
// RECOMMENDATIONS (optimization.RecommendationStore)
// =============================================================================

const recColumns = `id, tenant_id, run_id, scenario_id, asset_id, rec_type, action_code, title, description,
		       priority_score, deferral_cost, currency, risk_reduction, estimated_hours, metrics_json,
		       recommended_date, status, assigned_to, created_at`

// ListRecommendations returns highest priority first.
func (s *Store) ListRecommendations(ctx context.Context, tenant optimization.TenantID, filter optimization.RecommendationFilter) ([]optimization.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + recColumns + " FROM optimization_recommendations WHERE tenant_id = ?"
	args := []any{tenant}
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.AssetID != "" {
		query += " AND asset_id = ?"
		args = append(args, filter.AssetID)
	}
	if filter.Type != "" {
		query += " AND rec_type = ?"
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY priority_score DESC, rowid ASC"
	query, args = paginate(query, args, filter.Limit, filter.Offset)
	return s.queryRecommendations(ctx, s.db, query, args...)
}

func (s *Store) GetRecommendation(ctx context.Context, tenant optimization.TenantID, id optimization.RecommendationID) (optimization.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRecommendation(ctx, s.db, tenant, id)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) getRecommendation(ctx context.Context, db querier, tenant optimization.TenantID, id optimization.RecommendationID) (optimization.Recommendation, error) {
	recs, err := s.queryRecommendations(ctx, db,
		"SELECT "+recColumns+" FROM optimization_recommendations WHERE tenant_id = ? AND id = ?", tenant, id)
	if err != nil {
		return optimization.Recommendation{}, err
	}
	if len(recs) == 0 {
		return optimization.Recommendation{}, fmt.Errorf("%w: %s", optimization.ErrRecommendationNotFound, id)
	}
	return recs[0], nil
}

// UpdateRecommendation reads, validates and writes inside one transaction.
func (s *Store) UpdateRecommendation(ctx context.Context, tenant optimization.TenantID, id optimization.RecommendationID, upd optimization.RecommendationUpdate) (optimization.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return optimization.Recommendation{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	current, err := s.getRecommendation(ctx, sqlTx, tenant, id)
	if err != nil {
		return optimization.Recommendation{}, err
	}
	next, err := optimization.ApplyRecommendationUpdate(current, upd)
	if err != nil {
		return optimization.Recommendation{}, err
	}
	var assigned sql.NullString
	if next.AssignedTo != nil {
		assigned = sql.NullString{String: string(*next.AssignedTo), Valid: true}
	}
	if _, err := sqlTx.ExecContext(ctx,
		"UPDATE optimization_recommendations SET status = ?, assigned_to = ? WHERE tenant_id = ? AND id = ?",
		next.Status, assigned, tenant, id); err != nil {
		return optimization.Recommendation{}, fmt.Errorf("failed to update recommendation: %w", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return optimization.Recommendation{}, err
	}
	return next, nil
}

func (s *Store) queryRecommendations(ctx context.Context, db querier, query string, args ...any) ([]optimization.Recommendation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var out []optimization.Recommendation
	for rows.Next() {
		var (
			r                optimization.Recommendation
			cost, currency   string
			metrics, recDate sql.NullString
			assigned         sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.RunID, &r.ScenarioID, &r.AssetID, &r.Type, &r.ActionCode,
			&r.Title, &r.Description, &r.PriorityScore, &cost, &currency, &r.RiskReduction, &r.EstimatedHours,
			&metrics, &recDate, &r.Status, &assigned, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		r.DeferralCost = parseMoney(cost, currency)
		if metrics.Valid && metrics.String != "" && metrics.String != "null" {
			json.Unmarshal([]byte(metrics.String), &r.Metrics)
		}
		r.RecommendedDate = parseNullDate(recDate)
		if assigned.Valid {
			w := optimization.WorkerID(assigned.String)
			r.AssignedTo = &w
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullDate(d *optimization.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) *optimization.Date {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := optimization.ParseDate(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func parseMoney(amount, currency string) optimization.Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		d = decimal.Zero
	}
	return optimization.MoneyFromDecimal(d, currency)
}

func marshalJSON(v any) sql.NullString {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// finite maps +Inf (unbounded risk) to the largest float SQLite can store.
func finite(f float64) float64 {
	switch {
	case f > maxReal:
		return maxReal
	case f < -maxReal:
		return -maxReal
	}
	return f
}

const maxReal = 1.7976931348623157e308

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
