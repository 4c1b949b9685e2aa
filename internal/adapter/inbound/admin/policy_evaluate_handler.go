package admin

import (
	"net/http"
	"strings"

	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// readDecisionRequest decodes and checks a decision request body.
// It writes the error response itself and returns false on failure.
func (h *AdminAPIHandler) readDecisionRequest(w http.ResponseWriter, r *http.Request, req *service.DecisionRequest) bool {
	if err := h.readJSON(w, r, req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if strings.TrimSpace(req.Object) == "" {
		h.respondError(w, http.StatusBadRequest, "object is required")
		return false
	}
	return true
}

// handleDecide evaluates a request against the enabled policies. Store
// failures are reported in the body as an infrastructure_error deny, never
// as an HTTP error.
// POST /admin/api/v1/decide
func (h *AdminAPIHandler) handleDecide(w http.ResponseWriter, r *http.Request) {
	if h.policyEvalService == nil {
		h.respondError(w, http.StatusInternalServerError, "evaluation service not configured")
		return
	}

	var req service.DecisionRequest
	if !h.readDecisionRequest(w, r, &req) {
		return
	}
	h.respondJSON(w, http.StatusOK, h.policyEvalService.Evaluate(r.Context(), req))
}

// handleExplain is handleDecide plus a per-policy trace. Not audited.
// POST /admin/api/v1/explain
func (h *AdminAPIHandler) handleExplain(w http.ResponseWriter, r *http.Request) {
	if h.policyEvalService == nil {
		h.respondError(w, http.StatusInternalServerError, "evaluation service not configured")
		return
	}

	var req service.DecisionRequest
	if !h.readDecisionRequest(w, r, &req) {
		return
	}
	h.respondJSON(w, http.StatusOK, h.policyEvalService.Explain(r.Context(), req))
}

// handleGetDecision returns a recent decision by request ID.
// GET /admin/api/v1/decisions/{request_id}
func (h *AdminAPIHandler) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	if h.policyEvalService == nil {
		h.respondError(w, http.StatusInternalServerError, "evaluation service not configured")
		return
	}

	eval := h.policyEvalService.GetEvaluation(r.PathValue("request_id"))
	if eval == nil {
		h.respondError(w, http.StatusNotFound, "decision not found")
		return
	}
	h.respondJSON(w, http.StatusOK, eval)
}
