/*
handlers.go - HTTP API handlers for the decision-optimization engine

PURPOSE:
  Exposes the optimization engine via REST API. Handles HTTP request and
  response, JSON serialization, and delegates to the engine and the store.

ENDPOINTS:
  Runs:
    POST   /api/optimization/runs                  Submit a run (rate limited)
    GET    /api/optimization/runs                  List runs (?run_type&status&limit&offset)
    GET    /api/optimization/runs/{id}             Run with scenarios and recommendations
    GET    /api/optimization/maintenance-priority  Latest completed priority run

  Recommendations:
    GET    /api/optimization/recommendations       List (?status&asset_id&recommendation_type&run_id&limit&offset)
    PUT    /api/optimization/recommendations/{id}  Accept, reject, convert, assign

  Cost models:
    GET    /api/optimization/cost-models           List tenant cost models
    POST   /api/optimization/cost-models           Create a cost model

  Flags:
    GET    /api/optimization/flags                 Flags in force for the tenant
    PUT    /api/optimization/flags                 Set the tenant override

TENANCY:
  X-Tenant-ID is required on every /api route; X-User-ID is recorded as the
  run's creator. Every store call is scoped by the caller's tenant.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: invalid input (bad parameters, unknown type, bad status)
  - 404: run or recommendation not found
  - 409: illegal status transition, duplicate id
  - 422: configuration (missing or ambiguous cost model)
  - 423: engine disabled for the tenant
  - 429: run submissions rate limited
  - 500: internal errors, cross-tenant defects
  Failed runs are persisted; the error body carries their run_id.

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: tenant extraction, request logging, rate limiting
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/decision-engine/factory"
	"github.com/warp/decision-engine/logger"
	"github.com/warp/decision-engine/optimization"
	"github.com/warp/decision-engine/optimization/store"
	"github.com/warp/decision-engine/store/sqlite"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var newID = uuid.NewString

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Runner executes optimization runs. *optimization.Engine implements it.
type Runner interface {
	Execute(ctx context.Context, req optimization.RunRequest) (*optimization.RunResult, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  optimization.Store
	Engine Runner

	// DefaultFlags apply to tenants without an override.
	DefaultFlags optimization.FeatureFlags

	Logger *slog.Logger
}

// NewHandler creates a new handler with the given store and engine.
func NewHandler(s optimization.Store, engine Runner, defaults optimization.FeatureFlags, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Store: s, Engine: engine, DefaultFlags: defaults, Logger: log}
}

func caller(r *http.Request) Caller {
	c, _ := CallerFromContext(r.Context())
	return c
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// CreateRun executes one optimization run synchronously.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	runType, err := optimization.ParseRunType(req.OptimizationType)
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	params, err := factory.ParseRunParams(runType, req.Parameters)
	if err != nil {
		writeEngineError(w, err, "")
		return
	}

	c := caller(r)
	res, err := h.Engine.Execute(r.Context(), optimization.RunRequest{
		Tenant: c.Tenant,
		User:   c.User,
		Type:   runType,
		Params: params,
	})
	if err != nil {
		runID := ""
		if res != nil {
			runID = string(res.Run.ID)
		}
		logger.FromContext(r.Context(), h.Logger).Info("run rejected",
			"tenant_id", c.Tenant, "run_type", runType, "run_id", runID, "error", err)
		writeEngineError(w, err, runID)
		return
	}
	writeJSON(w, http.StatusCreated, NewRunResultResponse(res))
}

// ListRuns returns the tenant's runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	filter := optimization.RunFilter{Limit: limit, Offset: offset}
	if v := r.URL.Query().Get("run_type"); v != "" {
		t, err := optimization.ParseRunType(v)
		if err != nil {
			writeEngineError(w, err, "")
			return
		}
		filter.Type = t
	}
	if v := r.URL.Query().Get("status"); v != "" {
		s, err := parseRunStatus(v)
		if err != nil {
			writeEngineError(w, err, "")
			return
		}
		filter.Status = s
	}

	runs, err := h.Store.ListRuns(r.Context(), caller(r).Tenant, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRun returns a run with its scenarios and recommendations.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	tenant := caller(r).Tenant
	run, err := h.Store.GetRun(r.Context(), tenant, optimization.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	res, err := h.loadResult(r.Context(), tenant, run)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load run results", err)
		return
	}
	writeJSON(w, http.StatusOK, NewRunResultResponse(res))
}

// GetMaintenancePriority returns the latest completed priority ranking.
func (h *Handler) GetMaintenancePriority(w http.ResponseWriter, r *http.Request) {
	tenant := caller(r).Tenant
	run, err := h.Store.LatestRun(r.Context(), tenant, optimization.RunMaintenancePriority, optimization.RunCompleted)
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	res, err := h.loadResult(r.Context(), tenant, run)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load run results", err)
		return
	}
	writeJSON(w, http.StatusOK, NewRunResultResponse(res))
}

func (h *Handler) loadResult(ctx context.Context, tenant optimization.TenantID, run optimization.Run) (*optimization.RunResult, error) {
	scenarios, err := h.Store.ListScenarios(ctx, tenant, run.ID)
	if err != nil {
		return nil, err
	}
	recs, err := h.Store.ListRecommendations(ctx, tenant, optimization.RecommendationFilter{RunID: run.ID})
	if err != nil {
		return nil, err
	}
	return &optimization.RunResult{Run: run, Scenarios: scenarios, Recommendations: recs}, nil
}

// =============================================================================
// RECOMMENDATION HANDLERS
// =============================================================================

// ListRecommendations returns the tenant's recommendations for review.
func (h *Handler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	q := r.URL.Query()
	filter := optimization.RecommendationFilter{
		RunID:   optimization.RunID(q.Get("run_id")),
		AssetID: optimization.AssetID(q.Get("asset_id")),
		Type:    optimization.RecommendationType(q.Get("recommendation_type")),
		Limit:   limit,
		Offset:  offset,
	}
	if v := q.Get("status"); v != "" {
		s, err := optimization.ParseRecommendationStatus(v)
		if err != nil {
			writeEngineError(w, err, "")
			return
		}
		filter.Status = s
	}

	recs, err := h.Store.ListRecommendations(r.Context(), caller(r).Tenant, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list recommendations", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecommendationDTOs(recs))
}

// UpdateRecommendation records a reviewer's decision.
func (h *Handler) UpdateRecommendation(w http.ResponseWriter, r *http.Request) {
	var req UpdateRecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	var upd optimization.RecommendationUpdate
	if req.Status != nil {
		s, err := optimization.ParseRecommendationStatus(*req.Status)
		if err != nil {
			writeEngineError(w, err, "")
			return
		}
		upd.Status = &s
	}
	if req.AssignedTo != nil {
		worker := optimization.WorkerID(*req.AssignedTo)
		upd.AssignedTo = &worker
	}
	if upd.Status == nil && upd.AssignedTo == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update", nil)
		return
	}

	c := caller(r)
	id := optimization.RecommendationID(chi.URLParam(r, "id"))
	rec, err := h.Store.UpdateRecommendation(r.Context(), c.Tenant, id, upd)
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	logger.FromContext(r.Context(), h.Logger).Info("recommendation reviewed",
		"tenant_id", c.Tenant, "recommendation_id", id, "status", rec.Status, "user_id", c.User)
	writeJSON(w, http.StatusOK, toRecommendationDTO(rec))
}

// =============================================================================
// COST MODEL HANDLERS
// =============================================================================

func (h *Handler) ListCostModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.Store.ListCostModels(r.Context(), caller(r).Tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list cost models", err)
		return
	}
	dtos := make([]CostModelDTO, len(models))
	for i, m := range models {
		dtos[i] = toCostModelDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCostModel(w http.ResponseWriter, r *http.Request) {
	var req CreateCostModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = newID()
	}
	m, err := req.toCostModel(caller(r).Tenant)
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	if err := h.Store.CreateCostModel(r.Context(), m); err != nil {
		writeEngineError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, toCostModelDTO(m))
}

// =============================================================================
// FLAG HANDLERS
// =============================================================================

func (h *Handler) GetFlags(w http.ResponseWriter, r *http.Request) {
	dto, err := h.flags(r.Context(), caller(r).Tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read flags", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) UpdateFlags(w http.ResponseWriter, r *http.Request) {
	var req UpdateFlagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c := caller(r)
	current, err := h.flags(r.Context(), c.Tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read flags", err)
		return
	}
	next := optimization.FeatureFlags{EngineEnabled: current.EngineEnabled, SimulatedData: current.SimulatedData}
	if req.EngineEnabled != nil {
		next.EngineEnabled = *req.EngineEnabled
	}
	if req.SimulatedData != nil {
		next.SimulatedData = *req.SimulatedData
	}
	if err := h.Store.SetTenantFlags(r.Context(), c.Tenant, next); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update flags", err)
		return
	}
	logger.FromContext(r.Context(), h.Logger).Info("feature flags updated",
		"tenant_id", c.Tenant, "engine_enabled", next.EngineEnabled, "simulated_data", next.SimulatedData, "user_id", c.User)
	writeJSON(w, http.StatusOK, FlagsDTO{EngineEnabled: next.EngineEnabled, SimulatedData: next.SimulatedData, Overridden: true})
}

func (h *Handler) flags(ctx context.Context, tenant optimization.TenantID) (FlagsDTO, error) {
	flags, ok, err := h.Store.TenantFlags(ctx, tenant)
	if err != nil {
		return FlagsDTO{}, err
	}
	if !ok {
		flags = h.DefaultFlags
	}
	return FlagsDTO{EngineEnabled: flags.EngineEnabled, SimulatedData: flags.SimulatedData, Overridden: ok}, nil
}

// Healthz reports liveness, and database reachability when the store can
// be pinged.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps an engine or store error onto its HTTP status and
// stable kind and code.
func writeEngineError(w http.ResponseWriter, err error, runID string) {
	e := optimization.AsError(err)
	writeJSON(w, statusFor(err), ErrorResponse{
		Error: e.Message,
		Kind:  string(e.Kind),
		Code:  e.Code,
		RunID: runID,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, optimization.ErrEngineDisabled):
		return http.StatusLocked
	case errors.Is(err, optimization.ErrRunNotFound), errors.Is(err, optimization.ErrRecommendationNotFound):
		return http.StatusNotFound
	case errors.Is(err, optimization.ErrIllegalTransition),
		errors.Is(err, store.ErrDuplicateID), errors.Is(err, sqlite.ErrDuplicateID):
		return http.StatusConflict
	}
	switch optimization.KindOf(err) {
	case optimization.KindInvalidInput:
		return http.StatusBadRequest
	case optimization.KindConfiguration:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func pagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageSize {
			return 0, 0, optimization.InvalidInputError("limit", "limit must be between 1 and 500")
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, optimization.InvalidInputError("offset", "offset must be >= 0")
		}
	}
	return limit, offset, nil
}

func parseRunStatus(s string) (optimization.RunStatus, error) {
	switch st := optimization.RunStatus(s); st {
	case optimization.RunPending, optimization.RunRunning, optimization.RunCompleted, optimization.RunFailed:
		return st, nil
	}
	return "", optimization.InvalidInputError("status", "invalid run status "+strconv.Quote(s))
}
