/*
orchestrator.go - Run orchestrator

PURPOSE:
  The engine's only entry point. Owns the run lifecycle and is the single
  place that decides whether an error is fatal for a run.

LIFECYCLE:
  1. CreateRun(pending)        parameters snapshot after defaults
  2. Gate.Check                engine disabled -> failed (engine_disabled)
  3. pending -> running        UpdateRun
  4. load inputs               assets + snapshots, cost models, pending recs
  5. tenant check              any foreign record -> failed (cross_tenant_data)
  6. compute                   scoring / deferral / production / dispatch
  7. SelectRecommended         lowest cost within the risk ceiling
  8. CommitRun(completed)      run + scenarios + recommendations, atomically

  Any error in 2-8 fails the run with a stable ErrorKind. Failure writes
  use context.WithoutCancel so a cancelled caller still leaves the run in
  "failed" rather than "running".

RECOVERABLE CONDITIONS:
  Solver timeouts (greedy fallback) and unassignable tasks do not fail the
  run. They are recorded in Run.Warnings and the dispatch scenario results.

SIMULATED DATA:
  When the tenant's flags say SimulatedData, inputs come from the simulated
  DataSource. Algorithms are identical; only the provenance changes.
*/
package optimization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/warp/decision-engine/logger"
	"github.com/warp/decision-engine/observability"
)

// RunObserver receives run outcomes for metrics.
type RunObserver interface {
	RunFinished(ctx context.Context, runType, status, errorKind string, elapsed time.Duration)
	SolverFallback(ctx context.Context, solver string)
}

type nopObserver struct{}

func (nopObserver) RunFinished(context.Context, string, string, string, time.Duration) {}
func (nopObserver) SolverFallback(context.Context, string) {}

// RecommendationReader supplies pending recommendations to dispatch runs.
type RecommendationReader interface {
	ListRecommendations(ctx context.Context, tenant TenantID, filter RecommendationFilter) ([]Recommendation, error)
}

// EngineConfig wires an Engine. Live, Runs and Flags are required; every
// other zero field takes its default.
type EngineConfig struct {
	Live            DataSource
	Simulated       DataSource
	Runs            RunWriter
	Recommendations RecommendationReader
	Flags           FlagReader

	Weights       ScoringWeights
	Tiers         CriticalityWeights
	Bands         ActionBands
	Defaults      EngineDefaults
	SolverTimeout time.Duration
	Dispatcher    *Dispatcher
	Formatter     Formatter

	Logger   *slog.Logger
	Observer RunObserver
	Clock    func() time.Time
	NewID    func() string
}

type Engine struct {
	live       DataSource
	simulated  DataSource
	runs       RunWriter
	recs       RecommendationReader
	gate       Gate
	scorer     *Scorer
	bands      ActionBands
	dispatcher *Dispatcher
	formatter  Formatter
	defaults   EngineDefaults
	logger     *slog.Logger
	observer   RunObserver
	now        func() time.Time
	newID      func() string
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Live == nil || cfg.Runs == nil || cfg.Flags == nil {
		return nil, errors.New("optimization: engine requires a live data source, a run writer and a flag reader")
	}
	weights := cfg.Weights
	if weights == (ScoringWeights{}) {
		weights = DefaultScoringWeights()
	}
	scorer, err := NewScorer(weights, cfg.Tiers)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		live:      cfg.Live,
		simulated: cfg.Simulated,
		runs:      cfg.Runs,
		recs:      cfg.Recommendations,
		gate:      Gate{Reader: cfg.Flags},
		scorer:    scorer,
		bands:     cfg.Bands,
		formatter: cfg.Formatter,
		defaults:  fillDefaults(cfg.Defaults),
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		now:       cfg.Clock,
		newID:     cfg.NewID,
	}
	if e.bands == nil {
		e.bands = DefaultActionBands()
	}
	if e.formatter == nil {
		e.formatter = PlainFormatter{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.dispatcher = cfg.Dispatcher
	if e.dispatcher == nil {
		e.dispatcher = NewDispatcher(cfg.SolverTimeout, e.logger)
	}
	return e, nil
}

// fillDefaults replaces unset fields with DefaultEngineDefaults. Pointer
// fields are unset only when nil.
func fillDefaults(d EngineDefaults) EngineDefaults {
	def := DefaultEngineDefaults()
	if d.TopN == 0 {
		d.TopN = def.TopN
	}
	if len(d.DeferralWindows) == 0 {
		d.DeferralWindows = def.DeferralWindows
	}
	if d.Escalation == (CurveConfig{}) {
		d.Escalation = def.Escalation
	}
	if d.MeanDowntimeHours == nil {
		d.MeanDowntimeHours = def.MeanDowntimeHours
	}
	if d.DeferralRiskCeiling == nil {
		d.DeferralRiskCeiling = def.DeferralRiskCeiling
	}
	if len(d.Capacities) == 0 {
		d.Capacities = def.Capacities
	}
	if d.Aggregation == "" {
		d.Aggregation = def.Aggregation
	}
	if d.TargetRiskReductionPct == nil {
		d.TargetRiskReductionPct = def.TargetRiskReductionPct
	}
	if d.HorizonDays == 0 {
		d.HorizonDays = def.HorizonDays
	}
	if d.LabourRate.Amount.IsZero() && d.LabourRate.Currency == "" {
		d.LabourRate = def.LabourRate
	}
	if d.OvertimeFactor == 0 {
		d.OvertimeFactor = def.OvertimeFactor
	}
	if d.OvertimePremium == nil {
		d.OvertimePremium = def.OvertimePremium
	}
	if d.TaskHours == nil {
		d.TaskHours = def.TaskHours
	}
	return d
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

func (e *Engine) RunMaintenancePriority(ctx context.Context, tenant TenantID, user UserID, p MaintenancePriorityParams) (*RunResult, error) {
	return e.Execute(ctx, RunRequest{Tenant: tenant, User: user, Type: RunMaintenancePriority, Params: p})
}

func (e *Engine) RunDeferralCost(ctx context.Context, tenant TenantID, user UserID, p DeferralCostParams) (*RunResult, error) {
	return e.Execute(ctx, RunRequest{Tenant: tenant, User: user, Type: RunDeferralCost, Params: p})
}

func (e *Engine) RunProductionRisk(ctx context.Context, tenant TenantID, user UserID, p ProductionRiskParams) (*RunResult, error) {
	return e.Execute(ctx, RunRequest{Tenant: tenant, User: user, Type: RunProductionRisk, Params: p})
}

func (e *Engine) RunWorkforceDispatch(ctx context.Context, tenant TenantID, user UserID, p WorkforceDispatchParams) (*RunResult, error) {
	return e.Execute(ctx, RunRequest{Tenant: tenant, User: user, Type: RunWorkforceDispatch, Params: p})
}

// Execute runs one algorithm end to end. On failure the returned result
// still carries the persisted failed run (when one was created) and the
// error is always an *Error.
func (e *Engine) Execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Tenant == "" {
		return nil, InvalidInputError("tenant_id", "tenant id is required")
	}
	if _, err := ParseRunType(string(req.Type)); err != nil {
		return nil, err
	}
	params, err := e.prepareParams(req.Type, req.Params)
	if err != nil {
		return nil, err
	}

	started := e.now()
	run := Run{
		ID:         RunID(e.newID()),
		TenantID:   req.Tenant,
		Type:       req.Type,
		Status:     RunPending,
		Parameters: marshalParams(params),
		CreatedBy:  req.User,
		CreatedAt:  started,
	}

	ctx, span := observability.StartSpan(ctx, "optimization.run",
		attribute.String("run.id", string(run.ID)),
		attribute.String("run.type", string(run.Type)),
		attribute.String("tenant.id", string(run.TenantID)),
	)
	defer span.End()
	log := logger.FromContext(ctx, e.logger).With(
		"run_id", run.ID, "tenant_id", run.TenantID, "run_type", run.Type)

	if err := e.runs.CreateRun(ctx, run); err != nil {
		e.observer.RunFinished(ctx, string(run.Type), "rejected", string(KindInternal), e.now().Sub(started))
		return nil, &Error{Kind: KindInternal, Code: "persist_run", Message: fmt.Sprintf("create run: %v", err), Err: err}
	}

	flags, err := e.gate.Check(ctx, req.Tenant)
	if err != nil {
		return e.fail(ctx, log, span, run, err, started)
	}
	source, err := e.source(flags)
	if err != nil {
		return e.fail(ctx, log, span, run, err, started)
	}
	if err := run.Transition(RunRunning, e.now()); err != nil {
		return e.fail(ctx, log, span, run, err, started)
	}
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		return e.fail(ctx, log, span, run, err, started)
	}
	log.Info("optimization run started", "simulated", flags.SimulatedData)

	out, err := e.compute(ctx, run, source, params)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return e.fail(ctx, log, span, run, err, started)
	}

	idx, ok := SelectRecommended(out.scenarios, out.ceiling)
	if idx < 0 {
		return e.fail(ctx, log, span, run, &Error{Kind: KindInternal, Code: "no_scenarios", Message: "run produced no scenarios"}, started)
	}
	if !ok {
		out.warnings = append(out.warnings, fmt.Sprintf(
			"no scenario meets the risk ceiling %.4g; recommending the lowest-risk scenario %q", out.ceiling, out.scenarios[idx].Name))
	}
	recs := out.recommend(out.scenarios[idx])
	for i := range recs {
		e.finishRecommendation(&recs[i], run, out.scenarios[idx].ID, out.assets)
	}

	completed := run
	completed.Summary = out.summary
	if completed.Summary == nil {
		completed.Summary = map[string]any{}
	}
	completed.Summary["scenarios"] = len(out.scenarios)
	completed.Summary["recommendations"] = len(recs)
	completed.Summary["recommended_scenario"] = out.scenarios[idx].Name
	completed.Summary["simulated"] = flags.SimulatedData
	completed.Warnings = out.warnings
	if err := completed.Transition(RunCompleted, e.now()); err != nil {
		return e.fail(ctx, log, span, run, err, started)
	}
	if err := e.runs.CommitRun(ctx, completed, out.scenarios, recs); err != nil {
		return e.fail(ctx, log, span, run, &Error{Kind: KindInternal, Code: "commit_failed", Message: fmt.Sprintf("commit run: %v", err), Err: err}, started)
	}

	elapsed := e.now().Sub(started)
	e.observer.RunFinished(ctx, string(run.Type), string(RunCompleted), "", elapsed)
	span.SetAttributes(attribute.Int("run.scenarios", len(out.scenarios)), attribute.Int("run.recommendations", len(recs)))
	log.Info("optimization run completed",
		"scenarios", len(out.scenarios), "recommendations", len(recs),
		"recommended", out.scenarios[idx].Name, "warnings", len(out.warnings), "duration_ms", elapsed.Milliseconds())
	return &RunResult{Run: completed, Scenarios: out.scenarios, Recommendations: recs}, nil
}

func (e *Engine) prepareParams(t RunType, raw any) (any, error) {
	mismatch := func() error {
		return InvalidInputError("parameters", fmt.Sprintf("parameters of type %T do not match run type %s", raw, t))
	}
	switch t {
	case RunMaintenancePriority:
		var p MaintenancePriorityParams
		switch v := raw.(type) {
		case nil:
		case MaintenancePriorityParams:
			p = v
		case *MaintenancePriorityParams:
			p = *v
		default:
			return nil, mismatch()
		}
		return e.defaults.applyMaintenance(p)
	case RunDeferralCost:
		var p DeferralCostParams
		switch v := raw.(type) {
		case nil:
		case DeferralCostParams:
			p = v
		case *DeferralCostParams:
			p = *v
		default:
			return nil, mismatch()
		}
		return e.defaults.applyDeferral(p)
	case RunProductionRisk:
		var p ProductionRiskParams
		switch v := raw.(type) {
		case nil:
		case ProductionRiskParams:
			p = v
		case *ProductionRiskParams:
			p = *v
		default:
			return nil, mismatch()
		}
		return e.defaults.applyProduction(p)
	case RunWorkforceDispatch:
		var p WorkforceDispatchParams
		switch v := raw.(type) {
		case nil:
		case WorkforceDispatchParams:
			p = v
		case *WorkforceDispatchParams:
			p = *v
		default:
			return nil, mismatch()
		}
		return e.defaults.applyDispatch(p, DateOf(e.now()))
	}
	return nil, InvalidInputError("optimization_type", fmt.Sprintf("invalid optimization type %q", t))
}

func (e *Engine) source(flags FeatureFlags) (DataSource, error) {
	if !flags.SimulatedData {
		return e.live, nil
	}
	if e.simulated == nil {
		return nil, ConfigurationError("simulated_source_unavailable", "simulated-data mode is on but no simulated data source is configured", nil)
	}
	return e.simulated, nil
}

// fail moves the run to failed and persists it even if ctx is done.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, span trace.Span, run Run, cause error, started time.Time) (*RunResult, error) {
	ferr := AsError(cause)
	if ferr.Kind == KindCanceled {
		ferr = &Error{Kind: KindCanceled, Code: "canceled", Message: "canceled: " + cause.Error(), Err: cause}
	}
	run.Summary = nil
	run.ErrorKind = ferr.Kind
	run.ErrorMessage = ferr.Message
	if err := run.Transition(RunFailed, e.now()); err != nil {
		log.Error("cannot fail run", "status", run.Status, "error", err)
	}
	if err := e.runs.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("persist failed run", "error", err)
	}

	span.RecordError(ferr)
	span.SetStatus(codes.Error, string(ferr.Kind))
	e.observer.RunFinished(ctx, string(run.Type), string(RunFailed), string(ferr.Kind), e.now().Sub(started))
	switch ferr.Kind {
	case KindCrossTenantData:
		log.Error("optimization run failed", "error_kind", ferr.Kind, "error", ferr.Message, "defect", true)
	case KindInternal:
		log.Error("optimization run failed", "error_kind", ferr.Kind, "error", ferr.Message)
	default:
		log.Warn("optimization run failed", "error_kind", ferr.Kind, "code", ferr.Code, "error", ferr.Message)
	}
	return &RunResult{Run: run}, ferr
}

// finishRecommendation stamps identity, ownership and rendered text.
func (e *Engine) finishRecommendation(r *Recommendation, run Run, scenario ScenarioID, assets map[AssetID]Asset) {
	r.ID = RecommendationID(e.newID())
	r.TenantID = run.TenantID
	r.RunID = run.ID
	r.ScenarioID = scenario
	r.Status = RecPending
	r.CreatedAt = e.now()
	if r.DeferralCost.Currency == "" {
		r.DeferralCost.Currency = DefaultCurrency
	}
	r.Title, r.Description = e.formatter.Format(*r, assets[r.AssetID])
}

// =============================================================================
// COMPUTE - per run type
// =============================================================================

type computed struct {
	scenarios []Scenario
	ceiling   float64
	summary   map[string]any
	warnings  []string
	assets    map[AssetID]Asset
	recommend func(Scenario) []Recommendation
}

func (e *Engine) compute(ctx context.Context, run Run, src DataSource, params any) (*computed, error) {
	ctx, span := observability.StartSpan(ctx, "optimization.compute", attribute.String("run.type", string(run.Type)))
	defer span.End()
	switch p := params.(type) {
	case MaintenancePriorityParams:
		return e.computeMaintenance(ctx, run, src, p)
	case DeferralCostParams:
		return e.computeDeferral(ctx, run, src, p)
	case ProductionRiskParams:
		return e.computeProduction(ctx, run, src, p)
	case WorkforceDispatchParams:
		return e.computeDispatch(ctx, run, src, p)
	}
	return nil, &Error{Kind: KindInternal, Message: fmt.Sprintf("no algorithm for %T", params)}
}

func (e *Engine) newScenario(run Run, name string, params map[string]any) Scenario {
	return Scenario{
		ID:         ScenarioID(e.newID()),
		TenantID:   run.TenantID,
		RunID:      run.ID,
		Name:       name,
		Type:       run.Type,
		Parameters: params,
		CreatedAt:  e.now(),
	}
}

// loadAssets reads the tenant's assets and rejects any foreign record.
func (e *Engine) loadAssets(ctx context.Context, tenant TenantID, src DataSource, filter AssetFilter) ([]AssetView, map[AssetID]Asset, error) {
	views, err := src.ListAssets(ctx, tenant, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("load assets: %w", err)
	}
	byID := make(map[AssetID]Asset, len(views))
	for _, v := range views {
		if v.Asset.TenantID != tenant {
			return nil, nil, CrossTenantDataError(tenant, v.Asset.TenantID, "asset "+string(v.Asset.ID))
		}
		if v.Snapshot != nil && v.Snapshot.TenantID != tenant {
			return nil, nil, CrossTenantDataError(tenant, v.Snapshot.TenantID, "health snapshot "+v.Snapshot.ID)
		}
		byID[v.Asset.ID] = v.Asset
	}
	return views, byID, nil
}

// costModels resolves one model per asset and enforces a single currency.
func (e *Engine) costModels(ctx context.Context, tenant TenantID, src DataSource, assets []Asset, on Date) (map[AssetID]CostModel, string, error) {
	out := make(map[AssetID]CostModel, len(assets))
	currency := ""
	for _, a := range assets {
		m, err := src.ResolveCostModel(ctx, tenant, CostQuery{AssetID: a.ID, SiteID: a.SiteID, On: on})
		if err != nil {
			return nil, "", err
		}
		if m.TenantID != tenant {
			return nil, "", CrossTenantDataError(tenant, m.TenantID, "cost model "+m.ID)
		}
		if err := m.Validate(); err != nil {
			return nil, "", err
		}
		if m.Currency == "" {
			m.Currency = DefaultCurrency
		}
		if currency == "" {
			currency = m.Currency
		} else if m.Currency != currency {
			return nil, "", ConfigurationError("mixed_currency",
				fmt.Sprintf("cost models use both %s and %s; a run must use one currency", currency, m.Currency), nil)
		}
		out[a.ID] = withCurrency(m)
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return out, currency, nil
}

func withCurrency(m CostModel) CostModel {
	for _, f := range []*Money{&m.DowntimeCostPerHour, &m.CostPerFailure, &m.PreventiveMaintenanceCost,
		&m.CorrectiveMaintenanceCost, &m.EnergyCostPerUnit, &m.ProductionValuePerUnit} {
		f.Currency = m.Currency
	}
	return m
}

func scoredOnly(views []AssetView) (scored []AssetView, skipped []AssetID) {
	for _, v := range views {
		if v.Snapshot == nil {
			skipped = append(skipped, v.Asset.ID)
			continue
		}
		scored = append(scored, v)
	}
	return scored, skipped
}

func skippedWarning(skipped []AssetID) []string {
	if len(skipped) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("%d asset(s) skipped: no health snapshot", len(skipped))}
}

// ----- maintenance priority -----

type rankedAsset struct {
	AssetID            AssetID     `json:"asset_id"`
	Name               string      `json:"asset_name"`
	Criticality        Criticality `json:"criticality"`
	HealthScore        float64     `json:"health_score"`
	FailureProbability float64     `json:"failure_probability"`
	RemainingLifeDays  *float64    `json:"remaining_useful_life_days"`
	Priority           float64     `json:"priority_score"`
	ActionCode         string      `json:"action_code"`
}

type maintenanceResults struct {
	Ranked   []rankedAsset `json:"ranked_assets"`
	Unscored []AssetID     `json:"unscored_assets"`
}

func (e *Engine) computeMaintenance(ctx context.Context, run Run, src DataSource, p MaintenancePriorityParams) (*computed, error) {
	views, assets, err := e.loadAssets(ctx, run.TenantID, src, p.Filter())
	if err != nil {
		return nil, err
	}
	ranked, unscored, err := e.scorer.Rank(views)
	if err != nil {
		return nil, err
	}
	today := DateOf(e.now())

	res := maintenanceResults{Ranked: make([]rankedAsset, 0, len(ranked))}
	counts := map[string]int{}
	total := 0.0
	for _, r := range ranked {
		band := e.bands.Classify(r.Priority)
		counts[band.Code]++
		total += r.Priority
		res.Ranked = append(res.Ranked, rankedAsset{
			AssetID:            r.Asset.ID,
			Name:               r.Asset.Name,
			Criticality:        r.Asset.Criticality,
			HealthScore:        r.HealthScore,
			FailureProbability: r.FailureProbability,
			RemainingLifeDays:  r.RemainingLifeDays,
			Priority:           r.Priority,
			ActionCode:         band.Code,
		})
	}
	skipped := make([]AssetID, 0, len(unscored))
	for _, a := range unscored {
		skipped = append(skipped, a.ID)
	}
	res.Unscored = skipped

	sc := e.newScenario(run, "Maintenance priority ranking", map[string]any{"top_n": p.TopN})
	sc.Results = res
	sc.TotalCost = ZeroMoney(DefaultCurrency)
	if len(ranked) > 0 {
		sc.TotalRisk = total / float64(len(ranked))
	}

	return &computed{
		scenarios: []Scenario{sc},
		ceiling:   math.Inf(1),
		assets:    assets,
		warnings:  skippedWarning(skipped),
		summary: map[string]any{
			"total_assets":     len(ranked),
			"skipped_assets":   len(skipped),
			"band_counts":      counts,
			"high_priority":    counts[e.bands[0].Code],
			"average_priority": sc.TotalRisk,
		},
		recommend: func(Scenario) []Recommendation {
			n := min(p.TopN, len(ranked))
			recs := make([]Recommendation, 0, n)
			for _, r := range ranked[:n] {
				band := e.bands.Classify(r.Priority)
				metrics := map[string]float64{
					"health_score":        r.HealthScore,
					"failure_probability": r.FailureProbability,
					"priority_score":      r.Priority,
				}
				if r.RemainingLifeDays != nil {
					metrics["remaining_useful_life_days"] = *r.RemainingLifeDays
				}
				recs = append(recs, Recommendation{
					AssetID:         r.Asset.ID,
					Type:            band.Type,
					ActionCode:      band.Code,
					PriorityScore:   r.Priority,
					Metrics:         metrics,
					RecommendedDate: today.AddDays(band.WithinDays).Ptr(),
				})
			}
			return recs
		},
	}, nil
}

// ----- deferral cost -----

type deferralAssetResult struct {
	AssetID              AssetID `json:"asset_id"`
	FailureProbability   float64 `json:"failure_probability"`
	ProjectedProbability float64 `json:"projected_failure_probability"`
	RiskIncrease         float64 `json:"risk_increase"`
	ExpectedCost         Money   `json:"expected_cost"`
	WithinCeiling        bool    `json:"within_ceiling"`
}

func (e *Engine) computeDeferral(ctx context.Context, run Run, src DataSource, p DeferralCostParams) (*computed, error) {
	curve, err := p.Escalation.Curve()
	if err != nil {
		return nil, err
	}
	views, assets, err := e.loadAssets(ctx, run.TenantID, src, p.Filter())
	if err != nil {
		return nil, err
	}
	scored, skipped := scoredOnly(views)
	list := make([]Asset, len(scored))
	for i, v := range scored {
		list[i] = v.Asset
	}
	today := DateOf(e.now())
	models, currency, err := e.costModels(ctx, run.TenantID, src, list, today)
	if err != nil {
		return nil, err
	}

	analyses := make([]DeferralAnalysis, 0, len(scored))
	for _, v := range scored {
		a, err := AnalyzeDeferral(DeferralInput{
			AssetID:            v.Asset.ID,
			FailureProbability: v.Snapshot.FailureProbability,
			CostModel:          models[v.Asset.ID],
			Windows:            p.Windows,
			Curve:              curve,
			MeanDowntimeHours:  *p.MeanDowntimeHours,
			RiskCeiling:        *p.RiskCeiling,
		})
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}

	scenarios := make([]Scenario, 0, len(p.Windows))
	windowCosts := make(map[string]Money, len(p.Windows))
	for i, d := range p.Windows {
		sc := e.newScenario(run, fmt.Sprintf("Defer %d days", d), map[string]any{"days_deferred": d})
		results := make([]deferralAssetResult, 0, len(analyses))
		total := ZeroMoney(currency)
		worst := 0.0
		for _, a := range analyses {
			o := a.Options[i]
			results = append(results, deferralAssetResult{
				AssetID:              a.AssetID,
				FailureProbability:   a.BaseProbability,
				ProjectedProbability: o.FailureProbability,
				RiskIncrease:         o.RiskIncrease,
				ExpectedCost:         o.ExpectedCost,
				WithinCeiling:        o.WithinCeiling,
			})
			total = total.Add(o.ExpectedCost)
			worst = math.Max(worst, o.RiskIncrease)
		}
		sc.Results = map[string]any{"cost_analysis": results}
		sc.TotalCost = total
		sc.TotalRisk = worst
		scenarios = append(scenarios, sc)
		windowCosts[fmt.Sprint(d)] = total
	}

	exceeded := 0
	for _, a := range analyses {
		if a.CeilingExceeded {
			exceeded++
		}
	}
	byCost := append([]DeferralAnalysis(nil), analyses...)
	sort.SliceStable(byCost, func(i, j int) bool {
		ci := byCost[i].Options[len(byCost[i].Options)-1].ExpectedCost
		cj := byCost[j].Options[len(byCost[j].Options)-1].ExpectedCost
		if c := ci.Cmp(cj); c != 0 {
			return c > 0
		}
		return byCost[i].AssetID < byCost[j].AssetID
	})

	return &computed{
		scenarios: scenarios,
		ceiling:   *p.RiskCeiling,
		assets:    assets,
		warnings:  skippedWarning(skipped),
		summary: map[string]any{
			"assets_analyzed":         len(analyses),
			"skipped_assets":          len(skipped),
			"ceiling_exceeded_assets": exceeded,
			"window_costs":            windowCosts,
			"risk_ceiling":            *p.RiskCeiling,
			"escalation":              curve.Name(),
		},
		recommend: func(Scenario) []Recommendation {
			n := min(p.TopN, len(byCost))
			recs := make([]Recommendation, 0, n)
			for _, a := range byCost[:n] {
				recs = append(recs, deferralRecommendation(a, today))
			}
			return recs
		},
	}, nil
}

func deferralRecommendation(a DeferralAnalysis, today Date) Recommendation {
	longest := a.Options[len(a.Options)-1]
	rec := Recommendation{
		AssetID:       a.AssetID,
		DeferralCost:  longest.ExpectedCost,
		RiskReduction: longest.RiskIncrease,
		Metrics: map[string]float64{
			"failure_probability":           a.BaseProbability,
			"days_deferred":                 float64(longest.DaysDeferred),
			"projected_failure_probability": longest.FailureProbability,
			"recommended_days":              float64(a.Recommended.DaysDeferred),
			"recommended_expected_cost":     a.Recommended.ExpectedCost.Float64(),
		},
	}
	switch {
	case a.CeilingExceeded || a.Recommended.DaysDeferred == 0:
		rec.Type, rec.ActionCode = RecRepair, "deferral.do_not_defer"
		rec.RecommendedDate = today.Ptr()
	case a.Recommended.DaysDeferred == longest.DaysDeferred:
		rec.Type, rec.ActionCode = RecDefer, "deferral.safe"
		rec.RecommendedDate = today.AddDays(a.Recommended.DaysDeferred).Ptr()
	default:
		rec.Type, rec.ActionCode = RecDefer, "deferral.limited"
		rec.RecommendedDate = today.AddDays(a.Recommended.DaysDeferred).Ptr()
	}
	return rec
}

// ----- production risk -----

func (e *Engine) computeProduction(ctx context.Context, run Run, src DataSource, p ProductionRiskParams) (*computed, error) {
	views, assets, err := e.loadAssets(ctx, run.TenantID, src, p.Filter())
	if err != nil {
		return nil, err
	}
	scored, skipped := scoredOnly(views)
	list := make([]Asset, len(scored))
	for i, v := range scored {
		list[i] = v.Asset
	}
	today := DateOf(e.now())
	models, currency, err := e.costModels(ctx, run.TenantID, src, list, today)
	if err != nil {
		return nil, err
	}

	input := ProductionRiskInput{Aggregation: p.Aggregation}
	for _, v := range scored {
		m := models[v.Asset.ID]
		input.Assets = append(input.Assets, ProductionAsset{
			AssetID:           v.Asset.ID,
			Criticality:       v.Asset.Criticality,
			CriticalityWeight: e.scorer.Tiers[v.Asset.Criticality],
			RiskIndex:         v.Snapshot.ProductionRiskIndex,
			ProductionWeight:  m.ProductionValuePerUnit.Float64(),
			ServiceCost:       m.PreventiveMaintenanceCost,
		})
	}

	capacities := []int{0}
	seen := map[int]bool{0: true}
	for _, c := range p.Capacities {
		if !seen[c] {
			seen[c] = true
			capacities = append(capacities, c)
		}
	}
	sort.Ints(capacities)

	results := make(map[ScenarioID]ProductionRiskResult, len(capacities))
	scenarios := make([]Scenario, 0, len(capacities))
	var baseline ProductionRiskResult
	for _, c := range capacities {
		input.Capacity = c
		res, err := OptimizeProductionRisk(input)
		if err != nil {
			return nil, err
		}
		if res.TotalCost.Currency == "" {
			res.TotalCost.Currency = currency
		}
		name := fmt.Sprintf("Service up to %d assets", c)
		if c == 0 {
			name = "No action"
			baseline = res
		}
		sc := e.newScenario(run, name, map[string]any{"capacity": c, "aggregation": string(p.Aggregation)})
		sc.Results = res
		sc.TotalCost = res.TotalCost
		sc.TotalRisk = res.OptimizedRisk
		results[sc.ID] = res
		scenarios = append(scenarios, sc)
	}

	ceiling := baseline.CurrentRisk * (1 - *p.TargetReductionPct/100)
	needAction := 0
	for _, d := range baseline.Deferred {
		if d.RiskReduction > 0 {
			needAction++
		}
	}

	return &computed{
		scenarios: scenarios,
		ceiling:   ceiling,
		assets:    assets,
		warnings:  skippedWarning(skipped),
		summary: map[string]any{
			"total_current_risk":      baseline.CurrentRisk,
			"risk_ceiling":            ceiling,
			"target_risk_reduction":   *p.TargetReductionPct,
			"assets_requiring_action": needAction,
			"skipped_assets":          len(skipped),
			"aggregation":             string(p.Aggregation),
		},
		recommend: func(sc Scenario) []Recommendation {
			selected := results[sc.ID].Selected
			n := min(p.TopN, len(selected))
			recs := make([]Recommendation, 0, n)
			for _, d := range selected[:n] {
				typ := RecRepair
				if d.SuggestedMode == "monitor_closely" {
					typ = RecMonitor
				}
				recs = append(recs, Recommendation{
					AssetID:       d.AssetID,
					Type:          typ,
					ActionCode:    "production." + d.SuggestedMode,
					RiskReduction: d.RiskReduction,
					DeferralCost:  ZeroMoney(currency),
					Metrics: map[string]float64{
						"current_risk":   d.CurrentRisk,
						"optimized_risk": d.OptimizedRisk,
						"service_cost":   d.ServiceCost.Float64(),
					},
					RecommendedDate: today.Ptr(),
				})
			}
			return recs
		},
	}, nil
}

// ----- workforce dispatch -----

type dispatchResults struct {
	*DispatchPlan
	LabourCost    Money          `json:"labour_cost"`
	OvertimeHours float64        `json:"overtime_hours"`
	HoursFactor   float64        `json:"hours_factor"`
	Workers       int            `json:"workers"`
	HorizonDays   int            `json:"planning_days"`
	Tasks         []DispatchTask `json:"tasks"`
}

func (e *Engine) computeDispatch(ctx context.Context, run Run, src DataSource, p WorkforceDispatchParams) (*computed, error) {
	tasks, assets, err := e.dispatchTasks(ctx, run.TenantID, src, p)
	if err != nil {
		return nil, err
	}
	dispatcher := e.dispatcher
	if p.SolverTimeoutMS > 0 {
		d := *e.dispatcher
		d.Timeout = solverTimeout(p.SolverTimeoutMS)
		dispatcher = &d
	}

	variants := []struct {
		name   string
		factor float64
	}{{"Standard roster", 1}}
	if p.OvertimeFactor > 1 {
		variants = append(variants, struct {
			name   string
			factor float64
		}{"Extended hours", p.OvertimeFactor})
	}

	// the solver budget covers the whole run, not each roster variant
	deadline := time.Now().Add(dispatcher.Timeout)

	var warnings []string
	scenarios := make([]Scenario, 0, len(variants))
	plans := make(map[ScenarioID]*DispatchPlan, len(variants))
	byTask := make(map[string]DispatchTask, len(tasks))
	for _, t := range tasks {
		byTask[t.ID] = t
	}
	for _, v := range variants {
		workers := make([]Worker, len(p.Workers))
		for i, w := range p.Workers {
			w.HoursPerDay *= v.factor
			workers[i] = w
		}
		problem := DispatchProblem{Start: p.Start, Days: p.HorizonDays, Tasks: tasks, Workers: workers}
		_, span := observability.StartSpan(ctx, "optimization.dispatch",
			attribute.String("scenario", v.name), attribute.Int("tasks", len(tasks)), attribute.Int("workers", len(workers)))
		budgeted := *dispatcher
		budgeted.Timeout = max(time.Until(deadline), time.Millisecond)
		plan, err := budgeted.Dispatch(ctx, problem)
		span.End()
		if err != nil {
			return nil, err
		}
		if !plan.SolvedOptimally {
			e.observer.SolverFallback(ctx, dispatcher.Exact.Name())
			for _, w := range plan.Warnings {
				warnings = append(warnings, v.name+": "+w)
			}
		}
		labour, overtime := labourCost(plan, p.Workers, p.LabourRate, *p.OvertimePremium)
		sc := e.newScenario(run, v.name, map[string]any{"hours_factor": v.factor, "planning_days": p.HorizonDays})
		sc.Results = dispatchResults{
			DispatchPlan:  plan,
			LabourCost:    labour,
			OvertimeHours: overtime,
			HoursFactor:   v.factor,
			Workers:       len(workers),
			HorizonDays:   p.HorizonDays,
			Tasks:         tasks,
		}
		sc.TotalCost = labour
		sc.TotalRisk = plan.Objective
		plans[sc.ID] = plan
		scenarios = append(scenarios, sc)
	}

	// Without an explicit ceiling the best service level any roster reaches
	// is the bar, so extra hours win only when they lower the objective.
	ceiling := math.Inf(1)
	for _, sc := range scenarios {
		ceiling = math.Min(ceiling, sc.TotalRisk)
	}
	if p.RiskCeiling != nil {
		ceiling = *p.RiskCeiling
	}
	std := plans[scenarios[0].ID]
	if len(std.Unassigned) > 0 {
		warnings = append(warnings, fmt.Sprintf("%d task(s) could not be assigned in the standard roster", len(std.Unassigned)))
	}

	return &computed{
		scenarios: scenarios,
		ceiling:   ceiling,
		assets:    assets,
		warnings:  warnings,
		summary: map[string]any{
			"total_tasks":      len(tasks),
			"workers":          len(p.Workers),
			"planning_days":    p.HorizonDays,
			"solved_optimally": std.SolvedOptimally,
		},
		recommend: func(sc Scenario) []Recommendation {
			plan := plans[sc.ID]
			recs := make([]Recommendation, 0, len(plan.Assignments))
			for _, a := range plan.Assignments {
				t := byTask[a.TaskID]
				worker := a.WorkerID
				recs = append(recs, Recommendation{
					AssetID:         a.AssetID,
					Type:            RecDispatch,
					ActionCode:      "dispatch.assign",
					PriorityScore:   t.Priority,
					EstimatedHours:  a.Hours,
					AssignedTo:      &worker,
					RecommendedDate: a.Date.Ptr(),
					DeferralCost:    ZeroMoney(p.LabourRate.Currency),
					Metrics: map[string]float64{
						"day_index":     float64(a.DayIndex),
						"lateness_days": float64(max(0, dueLateness(t, a.Date))),
					},
				})
			}
			return recs
		},
	}, nil
}

func dueLateness(t DispatchTask, on Date) int {
	if t.DueDate.IsZero() {
		return 0
	}
	return t.DueDate.DaysUntil(on)
}

// labourCost prices a plan: every hour at rate, plus premium on hours above
// each worker's standard daily hours.
func labourCost(plan *DispatchPlan, standard []Worker, rate Money, premium float64) (Money, float64) {
	base := make(map[WorkerID]float64, len(standard))
	for _, w := range standard {
		base[w.ID] = w.HoursPerDay
	}
	type key struct {
		worker WorkerID
		day    int
	}
	used := make(map[key]float64)
	for _, a := range plan.Assignments {
		used[key{a.WorkerID, a.DayIndex}] += a.Hours
	}
	overtime := 0.0
	for k, h := range used {
		if extra := h - base[k.worker]; extra > hoursEpsilon {
			overtime += extra
		}
	}
	cost := rate.MulFloat(plan.TotalHours).Add(rate.MulFloat(overtime * premium))
	return cost.Round(2), overtime
}

// dispatchTasks returns explicit tasks, or builds them from pending
// recommendations.
func (e *Engine) dispatchTasks(ctx context.Context, tenant TenantID, src DataSource, p WorkforceDispatchParams) ([]DispatchTask, map[AssetID]Asset, error) {
	if len(p.Tasks) > 0 {
		ids := make([]AssetID, 0, len(p.Tasks))
		for _, t := range p.Tasks {
			if t.AssetID != "" {
				ids = append(ids, t.AssetID)
			}
		}
		assets := map[AssetID]Asset{}
		if len(ids) > 0 {
			var err error
			if _, assets, err = e.loadAssets(ctx, tenant, src, AssetFilter{AssetIDs: ids}); err != nil {
				return nil, nil, err
			}
		}
		return p.Tasks, assets, nil
	}
	if e.recs == nil {
		return nil, nil, ConfigurationError("recommendations_unavailable", "no tasks given and no recommendation reader configured", nil)
	}
	pending, err := e.recs.ListRecommendations(ctx, tenant, RecommendationFilter{Status: RecPending})
	if err != nil {
		return nil, nil, fmt.Errorf("load pending recommendations: %w", err)
	}
	var ids []AssetID
	var work []Recommendation
	for _, r := range pending {
		if r.TenantID != tenant {
			return nil, nil, CrossTenantDataError(tenant, r.TenantID, "recommendation "+string(r.ID))
		}
		switch r.Type {
		case RecInspect, RecRepair, RecReplace:
			work = append(work, r)
			ids = append(ids, r.AssetID)
		}
	}
	assets := map[AssetID]Asset{}
	if len(ids) > 0 {
		if _, assets, err = e.loadAssets(ctx, tenant, src, AssetFilter{AssetIDs: ids}); err != nil {
			return nil, nil, err
		}
	}
	tasks := make([]DispatchTask, 0, len(work))
	for _, r := range work {
		hours := r.EstimatedHours
		if hours <= 0 {
			hours = p.TaskHours[r.Type]
		}
		if hours <= 0 {
			hours = 4
		}
		t := DispatchTask{
			ID:               string(r.ID),
			RecommendationID: r.ID,
			AssetID:          r.AssetID,
			Hours:            hours,
			RequiredSkill:    p.SkillByType[r.Type],
			RequiredTier:     assets[r.AssetID].Criticality,
			Priority:         r.PriorityScore,
		}
		if r.RecommendedDate != nil {
			t.DueDate = *r.RecommendedDate
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, assets, nil
}
