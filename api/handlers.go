/*
handlers.go - HTTP API handlers for the insurance back office

PURPOSE:
  Exposes the dual-store coordinator via REST API. Handles HTTP
  request/response and JSON serialization, and delegates every write to
  coordinator.Coordinator.

ENDPOINTS:
  Clients:
    POST   /api/clients         Create client (documents → graph)
    GET    /api/clients/{id}    Read the client document
    PATCH  /api/clients/{id}    Partial update, may append vehicles
    DELETE /api/clients/{id}    Delete client and its User node

  Policies / Accidents:
    POST   /api/policies        Emit policy (graph → documents)
    POST   /api/accidents       Register accident (graph only)

  Operations:
    PUT    /api/agents/{id}     Create or update an agent node
    GET    /api/sagas           Journal entries (?status=&operation=&limit=)
    GET    /healthz             Store connectivity

ERROR HANDLING:
  Coordinator errors map to HTTP status by category:
  - 400: Validation errors, malformed body
  - 404: Client, agent or policy not found
  - 409: Uniqueness conflict (dni, plates)
  - 422: Business rule (inactive party, blocking policy)
  - 502: Mirrored write failed after the primary committed
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/warp/insurance-engine/coordinator"
	"github.com/warp/insurance-engine/insurance"
)

const (
	defaultSagaLimit = 100
	maxSagaLimit     = 1000

	healthTimeout = 3 * time.Second
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ClientReader reads client documents.
type ClientReader interface {
	GetClient(ctx context.Context, id string) (*insurance.Client, error)
}

// AgentWriter seeds agent nodes.
type AgentWriter interface {
	UpsertAgent(ctx context.Context, a insurance.Agent) error
}

// Pinger is anything whose connectivity can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers. Coordinator and Clients
// are required; the rest switch on their endpoints when set.
type Handler struct {
	Coordinator *coordinator.Coordinator
	Clients     ClientReader

	Agents   AgentWriter
	Journal  insurance.IntentLog
	Gatherer prometheus.Gatherer
	Checks   map[string]Pinger

	Log zerolog.Logger
}

// NewHandler creates a new handler with the required dependencies.
func NewHandler(coord *coordinator.Coordinator, clients ClientReader) *Handler {
	return &Handler{
		Coordinator: coord,
		Clients:     clients,
		Log:         zerolog.Nop(),
	}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// CreateClient creates a client in both stores.
// POST /api/clients
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req insurance.ClientInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Coordinator.CreateClient(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetClient returns the client document.
// GET /api/clients/{id}
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	client, err := h.Clients.GetClient(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// UpdateClient applies a partial update.
// PATCH /api/clients/{id}
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req insurance.ClientUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Coordinator.UpdateClient(r.Context(), id, req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeleteClient removes the client document and its User node.
// DELETE /api/clients/{id}
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.Coordinator.DeleteClient(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// POLICY AND ACCIDENT HANDLERS
// =============================================================================

// EmitPolicy issues a policy.
// POST /api/policies
func (h *Handler) EmitPolicy(w http.ResponseWriter, r *http.Request) {
	var req insurance.PolicyInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Coordinator.EmitPolicy(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// EmitAccident registers an accident against a policy.
// POST /api/accidents
func (h *Handler) EmitAccident(w http.ResponseWriter, r *http.Request) {
	var req insurance.AccidentInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Coordinator.EmitAccident(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// =============================================================================
// OPERATIONS
// =============================================================================

// UpsertAgent creates or replaces an agent node. activo defaults to true.
// PUT /api/agents/{id}
func (h *Handler) UpsertAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var missing []string
	if strings.TrimSpace(req.Nombre) == "" {
		missing = append(missing, "nombre is required")
	}
	if strings.TrimSpace(req.Apellido) == "" {
		missing = append(missing, "apellido is required")
	}
	if len(missing) > 0 {
		h.writeDomainError(w, r, &insurance.ValidationError{Entity: "agent", Violations: missing})
		return
	}

	agent := req.agent(id)
	if err := h.Agents.UpsertAgent(r.Context(), agent); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save agent", err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// ListSagas returns journal entries, oldest first.
// GET /api/sagas?status=started,primary_committed&operation=emit_policy&limit=50
func (h *Handler) ListSagas(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeError(w, http.StatusNotFound, "Saga journal not configured", nil)
		return
	}

	query := r.URL.Query()
	filter := insurance.IntentFilter{Limit: defaultSagaLimit}

	for _, s := range splitQuery(query["status"]) {
		status := insurance.IntentStatus(s)
		if !knownStatus(status) {
			writeError(w, http.StatusBadRequest, "Unknown saga status: "+s, nil)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, op := range splitQuery(query["operation"]) {
		filter.Operations = append(filter.Operations, insurance.Operation(op))
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxSagaLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000", err)
			return
		}
		filter.Limit = limit
	}

	intents, err := h.Journal.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sagas", err)
		return
	}
	writeJSON(w, http.StatusOK, toSagaDTOs(intents))
}

// Health pings every configured store.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthDTO{Status: "ok"}
	status := http.StatusOK
	if len(h.Checks) > 0 {
		resp.Checks = make(map[string]string, len(h.Checks))
	}
	for name, p := range h.Checks {
		if err := p.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
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

// writeDomainError maps the coordinator's error taxonomy to a status code.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *insurance.ValidationError
		conflict   *insurance.ConflictError
		notFound   *insurance.NotFoundError
		rule       *insurance.BusinessRuleError
		secondary  *insurance.SecondaryWriteError
	)

	// A secondary failure unwraps to the Phase-2 error, which may itself be
	// one of the client errors below.
	switch {
	case errors.As(err, &secondary):
		h.Log.Warn().Err(err).Str("operation", secondary.Operation).
			Str("request_id", middleware.GetReqID(r.Context())).Msg("secondary write failed")
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error: err.Error(),
			Code:  "secondary_write_failed",
		})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   err.Error(),
			Code:    "validation_failed",
			Details: validation.Violations,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   err.Error(),
			Code:    "conflict",
			Details: conflict.Report,
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  notFound.Kind + "_not_found",
		})
	case errors.As(err, &rule):
		resp := ErrorResponse{Error: err.Error(), Code: rule.Rule}
		if rule.ExistingPolicy != "" {
			resp.Details = map[string]string{"nro_poliza": rule.ExistingPolicy}
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		h.Log.Error().Err(err).Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// splitQuery accepts both repeated keys and comma-separated values.
func splitQuery(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func knownStatus(s insurance.IntentStatus) bool {
	switch s {
	case insurance.IntentStarted, insurance.IntentPrimaryCommitted, insurance.IntentCompleted,
		insurance.IntentFailed, insurance.IntentCompensated, insurance.IntentCompensationFailed,
		insurance.IntentRecovered, insurance.IntentAbandoned:
		return true
	}
	return false
}
