package admin

import (
	"net/http"

	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// policyTestRequest pairs a draft policy with a sample request.
type policyTestRequest struct {
	Policy  policyRequest           `json:"policy"`
	Request service.DecisionRequest `json:"request"`
}

// handleTestPolicy evaluates a draft policy without saving it.
// POST /admin/api/policies/test
func (h *AdminAPIHandler) handleTestPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyEvalService == nil {
		h.respondError(w, http.StatusInternalServerError, "evaluation service not configured")
		return
	}

	var req policyTestRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	result, err := h.policyEvalService.TestPolicy(r.Context(), toDomainPolicy(req.Policy), req.Request)
	if err != nil {
		h.respondServiceError(w, r, "test policy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}
