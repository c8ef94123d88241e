/*
Package simulated provides the synthetic data source behind simulated-data mode.

PURPOSE:
  Tenants that have not connected their historian yet can still exercise
  every optimization run. The provider serves a fixed demo plant (assets,
  latest health snapshots, cost models) from an embedded YAML fixture.

DETERMINISM:
  Nothing is random and nothing depends on the wall clock. Snapshots carry
  the fixture's as_of time, so two runs over simulated data with the same
  parameters produce the same scenarios.

TENANCY:
  The fixture has no tenant. Every record is stamped with the tenant being
  asked for and asset IDs are prefixed with it ("<tenant>/PUMP-001"), so
  seeding the same plant into several tenants never collides.

SEE ALSO:
  - fixture.yaml: the demo plant
  - optimization/store.go: DataSource interface implemented here
*/
package simulated

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/decision-engine/optimization"
)

//go:embed fixture.yaml
var fixtureYAML []byte

// =============================================================================
// FIXTURE SCHEMA
// =============================================================================

type Fixture struct {
	AsOf       time.Time      `yaml:"as_of"`
	Currency   string         `yaml:"currency"`
	CostModels []CostModelDef `yaml:"cost_models"`
	Assets     []AssetDef     `yaml:"assets"`
}

type CostModelDef struct {
	ID                        string `yaml:"id"`
	Site                      string `yaml:"site"`
	Asset                     string `yaml:"asset"`
	DowntimeCostPerHour       string `yaml:"downtime_cost_per_hour"`
	CostPerFailure            string `yaml:"cost_per_failure"`
	PreventiveMaintenanceCost string `yaml:"maintenance_cost_preventive"`
	CorrectiveMaintenanceCost string `yaml:"maintenance_cost_corrective"`
	EnergyCostPerUnit         string `yaml:"energy_cost_per_unit"`
	ProductionValuePerUnit    string `yaml:"production_value_per_unit"`
}

type AssetDef struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Site        string     `yaml:"site"`
	Criticality string     `yaml:"criticality"`
	Active      *bool      `yaml:"active"`
	Health      *HealthDef `yaml:"health"`
}

type HealthDef struct {
	Score               float64  `yaml:"score"`
	FailureProbability  float64  `yaml:"failure_probability"`
	RULDays             *float64 `yaml:"rul_days"`
	ProductionRiskIndex float64  `yaml:"production_risk_index"`
	Anomaly             bool     `yaml:"anomaly"`
}

// =============================================================================
// PROVIDER
// =============================================================================

// Provider implements optimization.DataSource over a parsed fixture.
type Provider struct {
	fixture Fixture
	models  []optimization.CostModel // unstamped, validated once
	assets  []optimization.Asset
	health  map[string]*HealthDef
}

var _ optimization.DataSource = (*Provider)(nil)

// New returns a provider over the embedded demo plant.
func New() (*Provider, error) {
	return Load(fixtureYAML)
}

// Load parses and validates a fixture document.
func Load(data []byte) (*Provider, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse simulated fixture: %w", err)
	}
	if f.Currency == "" {
		f.Currency = optimization.DefaultCurrency
	}
	p := &Provider{fixture: f, health: make(map[string]*HealthDef, len(f.Assets))}

	seen := make(map[string]bool, len(f.Assets))
	for _, def := range f.Assets {
		if def.ID == "" {
			return nil, fmt.Errorf("simulated fixture: asset without id")
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("simulated fixture: duplicate asset %s", def.ID)
		}
		seen[def.ID] = true
		crit, err := optimization.ParseCriticality(def.Criticality)
		if err != nil {
			return nil, fmt.Errorf("simulated fixture: asset %s: %w", def.ID, err)
		}
		active := def.Active == nil || *def.Active
		p.assets = append(p.assets, optimization.Asset{
			ID:          optimization.AssetID(def.ID),
			SiteID:      optimization.SiteID(def.Site),
			Name:        def.Name,
			Criticality: crit,
			Active:      active,
		})
		p.health[def.ID] = def.Health
	}

	for _, def := range f.CostModels {
		m, err := def.model(f.Currency)
		if err != nil {
			return nil, err
		}
		p.models = append(p.models, m)
	}
	return p, nil
}

func (d CostModelDef) model(currency string) (optimization.CostModel, error) {
	m := optimization.CostModel{
		ID:       d.ID,
		AssetID:  optimization.AssetID(d.Asset),
		SiteID:   optimization.SiteID(d.Site),
		Currency: currency,
		Active:   true,
	}
	fields := []struct {
		raw string
		dst *optimization.Money
	}{
		{d.DowntimeCostPerHour, &m.DowntimeCostPerHour},
		{d.CostPerFailure, &m.CostPerFailure},
		{d.PreventiveMaintenanceCost, &m.PreventiveMaintenanceCost},
		{d.CorrectiveMaintenanceCost, &m.CorrectiveMaintenanceCost},
		{d.EnergyCostPerUnit, &m.EnergyCostPerUnit},
		{d.ProductionValuePerUnit, &m.ProductionValuePerUnit},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = optimization.ZeroMoney(currency)
			continue
		}
		v, err := optimization.ParseMoney(f.raw, currency)
		if err != nil {
			return m, fmt.Errorf("simulated fixture: cost model %s: %w", d.ID, err)
		}
		*f.dst = v
	}
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("simulated fixture: %w", err)
	}
	return m, nil
}

// AsOf is the timestamp carried by every simulated snapshot.
func (p *Provider) AsOf() time.Time { return p.fixture.AsOf }

// ListAssets returns the demo plant for tenant, in asset ID order.
func (p *Provider) ListAssets(ctx context.Context, tenant optimization.TenantID, filter optimization.AssetFilter) ([]optimization.AssetView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var views []optimization.AssetView
	for _, a := range p.assets {
		a = stampAsset(tenant, a)
		if !filter.Matches(a) {
			continue
		}
		views = append(views, optimization.AssetView{Asset: a, Snapshot: p.snapshot(tenant, a)})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Asset.ID < views[j].Asset.ID })
	return views, nil
}

// ResolveCostModel resolves over the fixture's models stamped for tenant.
func (p *Provider) ResolveCostModel(ctx context.Context, tenant optimization.TenantID, q optimization.CostQuery) (optimization.CostModel, error) {
	if err := ctx.Err(); err != nil {
		return optimization.CostModel{}, err
	}
	return optimization.ResolveCostModel(p.CostModels(tenant), q)
}

// CostModels returns the fixture's cost models stamped for tenant.
func (p *Provider) CostModels(tenant optimization.TenantID) []optimization.CostModel {
	out := make([]optimization.CostModel, len(p.models))
	for i, m := range p.models {
		m.TenantID = tenant
		m.ID = string(tenant) + "/" + m.ID
		if m.AssetID != "" {
			m.AssetID = assetID(tenant, string(m.AssetID))
		}
		out[i] = m
	}
	return out
}

func (p *Provider) snapshot(tenant optimization.TenantID, a optimization.Asset) *optimization.AssetHealthSnapshot {
	h := p.health[localID(tenant, a.ID)]
	if h == nil {
		return nil
	}
	return &optimization.AssetHealthSnapshot{
		ID:                      string(a.ID) + "@simulated",
		TenantID:                tenant,
		AssetID:                 a.ID,
		HealthScore:             h.Score,
		FailureProbability:      h.FailureProbability,
		RemainingUsefulLifeDays: h.RULDays,
		ProductionRiskIndex:     h.ProductionRiskIndex,
		Anomaly:                 h.Anomaly,
		ComputedAt:              p.fixture.AsOf,
	}
}

func stampAsset(tenant optimization.TenantID, a optimization.Asset) optimization.Asset {
	a.TenantID = tenant
	a.ID = assetID(tenant, string(a.ID))
	return a
}

func assetID(tenant optimization.TenantID, local string) optimization.AssetID {
	return optimization.AssetID(string(tenant) + "/" + local)
}

func localID(tenant optimization.TenantID, id optimization.AssetID) string {
	return string(id)[len(tenant)+1:]
}

// =============================================================================
// SEEDING
// =============================================================================

// Seeder is what Seed writes into.
type Seeder interface {
	optimization.AssetWriter
	CreateCostModel(ctx context.Context, m optimization.CostModel) error
}

// SeedStats counts what Seed wrote.
type SeedStats struct {
	Assets     int `json:"assets"`
	Snapshots  int `json:"snapshots"`
	CostModels int `json:"cost_models"`
}

// Seed copies the demo plant into a real store for tenant, turning the
// simulated plant into live data.
func (p *Provider) Seed(ctx context.Context, tenant optimization.TenantID, dst Seeder) (SeedStats, error) {
	var stats SeedStats
	if tenant == "" {
		return stats, optimization.InvalidInputError("tenant_id", "tenant id is required")
	}
	for _, a := range p.assets {
		a = stampAsset(tenant, a)
		if err := dst.UpsertAsset(ctx, a); err != nil {
			return stats, fmt.Errorf("seed asset %s: %w", a.ID, err)
		}
		stats.Assets++
		if snap := p.snapshot(tenant, a); snap != nil {
			if err := dst.AppendSnapshot(ctx, *snap); err != nil {
				return stats, fmt.Errorf("seed snapshot %s: %w", snap.ID, err)
			}
			stats.Snapshots++
		}
	}
	for _, m := range p.CostModels(tenant) {
		if err := dst.CreateCostModel(ctx, m); err != nil {
			return stats, fmt.Errorf("seed cost model %s: %w", m.ID, err)
		}
		stats.CostModels++
	}
	return stats, nil
}
