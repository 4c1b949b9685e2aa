// Package admin provides the JSON admin API for access-gate: policy CRUD,
// decisions, explain and test, and audit queries.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Sentinel-Gate/accessgate/internal/ctxkey"
	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
	"github.com/Sentinel-Gate/accessgate/internal/domain/auth"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// maxBodyBytes caps request bodies accepted by the admin API.
const maxBodyBytes = 1 << 20

// Default per-IP rate limit for remote callers.
const (
	DefaultRequestsPerMinute = 600
	DefaultBurst             = 50
)

// AdminAPIHandler serves the admin JSON API.
type AdminAPIHandler struct {
	policyAdminService *service.PolicyAdminService
	policyEvalService  *service.PolicyEvaluationService
	auditQuery         audit.QueryStore
	stats              *service.StatsService
	keys               *auth.KeyRing
	logger             *slog.Logger

	requestsPerMinute int
	burst             int
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithPolicyAdminService sets the policy CRUD service.
func WithPolicyAdminService(s *service.PolicyAdminService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.policyAdminService = s }
}

// WithPolicyEvaluationService sets the decide/explain/test service.
func WithPolicyEvaluationService(s *service.PolicyEvaluationService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.policyEvalService = s }
}

// WithAuditQuery sets the store behind GET /admin/api/audit.
func WithAuditQuery(q audit.QueryStore) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.auditQuery = q }
}

// WithStats sets the counters behind GET /admin/api/stats.
func WithStats(s *service.StatsService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.stats = s }
}

// WithKeyRing enables API-key authentication. Without keys, or with an
// empty ring, the API only answers loopback callers.
func WithKeyRing(r *auth.KeyRing) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.keys = r }
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// WithRateLimit sets the per-IP limit for remote callers.
// Non-positive values keep the defaults.
func WithRateLimit(requestsPerMinute, burst int) AdminAPIOption {
	return func(h *AdminAPIHandler) {
		if requestsPerMinute > 0 {
			h.requestsPerMinute = requestsPerMinute
		}
		if burst > 0 {
			h.burst = burst
		}
	}
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:            slog.Default(),
		requestsPerMinute: DefaultRequestsPerMinute,
		burst:             DefaultBurst,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all admin API routes registered.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Policy CRUD.
	mux.HandleFunc("GET /admin/api/policies", h.handleListPolicies)
	mux.HandleFunc("POST /admin/api/policies", h.handleCreatePolicy)
	mux.HandleFunc("POST /admin/api/policies/test", h.handleTestPolicy)
	mux.HandleFunc("GET /admin/api/policies/{id}", h.handleGetPolicy)
	mux.HandleFunc("PUT /admin/api/policies/{id}", h.handleUpdatePolicy)
	mux.HandleFunc("PATCH /admin/api/policies/{id}", h.handlePatchPolicy)
	mux.HandleFunc("DELETE /admin/api/policies/{id}", h.handleDeletePolicy)

	// Decisions.
	mux.HandleFunc("POST /admin/api/v1/decide", h.handleDecide)
	mux.HandleFunc("POST /admin/api/v1/explain", h.handleExplain)
	mux.HandleFunc("GET /admin/api/v1/decisions/{request_id}", h.handleGetDecision)

	// Audit and counters.
	mux.HandleFunc("GET /admin/api/audit", h.handleQueryAudit)
	mux.HandleFunc("GET /admin/api/stats", h.handleStats)

	limited := h.rateLimitMiddleware(h.adminAuthMiddleware(mux))
	return securityHeaders(limited)
}

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors to status codes. Unexpected errors
// are logged and reported as a generic 500.
func (h *AdminAPIHandler) respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, policy.ErrInvalidPolicy):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, policy.ErrPolicyNotFound):
		h.respondError(w, http.StatusNotFound, "policy not found")
	case errors.Is(err, service.ErrPolicyExists), errors.Is(err, service.ErrVersionConflict):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		h.requestLogger(r).Error("policy store unavailable", "op", op, "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "policy store unavailable")
	default:
		h.requestLogger(r).Error("admin request failed", "op", op, "path", r.URL.Path, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// requestLogger returns the logger the server stored for this request,
// falling back to the handler's own.
func (h *AdminAPIHandler) requestLogger(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return h.logger
}

// readJSON decodes the request body into v. Unknown fields are rejected.
func (h *AdminAPIHandler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
