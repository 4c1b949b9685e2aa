package admin

import (
	"net/http"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// policyRequest is the JSON body for creating or replacing a policy.
type policyRequest struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Subject     string            `json:"subject"`
	Object      string            `json:"object"`
	Conditions  map[string]string `json:"conditions"`
	Action      string            `json:"action"`
	Priority    int               `json:"priority"`
	Enabled     *bool             `json:"enabled,omitempty"` // defaults to true
	Version     int64             `json:"version,omitempty"` // optimistic lock on PUT
}

// policyPatchRequest is the JSON body for PATCH. Absent fields are unchanged.
type policyPatchRequest struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	Subject     *string            `json:"subject,omitempty"`
	Object      *string            `json:"object,omitempty"`
	Conditions  *map[string]string `json:"conditions,omitempty"`
	Action      *string            `json:"action,omitempty"`
	Priority    *int               `json:"priority,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`
	Version     *int64             `json:"version,omitempty"`
}

// policyResponse is the JSON form of a stored policy.
type policyResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Subject     string            `json:"subject"`
	Object      string            `json:"object"`
	Conditions  map[string]string `json:"conditions"`
	Action      policy.Action     `json:"action"`
	Priority    int               `json:"priority"`
	Enabled     bool              `json:"enabled"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toPolicyResponse(p *policy.Policy) policyResponse {
	conds := p.Conditions
	if conds == nil {
		conds = map[string]string{}
	}
	return policyResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Subject:     p.Subject,
		Object:      p.Object,
		Conditions:  conds,
		Action:      p.Action,
		Priority:    p.Priority,
		Enabled:     p.Enabled,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// toDomainPolicy converts a request body to a domain policy. An unknown
// action is kept verbatim so validation reports it.
func toDomainPolicy(req policyRequest) policy.Policy {
	action, err := policy.ParseAction(req.Action)
	if err != nil {
		action = policy.Action(req.Action)
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return policy.Policy{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Subject:     req.Subject,
		Object:      req.Object,
		Conditions:  req.Conditions,
		Action:      action,
		Priority:    req.Priority,
		Enabled:     enabled,
		Version:     req.Version,
	}
}

func (req policyPatchRequest) toPatch() service.PolicyPatch {
	patch := service.PolicyPatch{
		Name:            req.Name,
		Description:     req.Description,
		Subject:         req.Subject,
		Object:          req.Object,
		Conditions:      req.Conditions,
		Priority:        req.Priority,
		Enabled:         req.Enabled,
		ExpectedVersion: req.Version,
	}
	if req.Action != nil {
		a, err := policy.ParseAction(*req.Action)
		if err != nil {
			a = policy.Action(*req.Action)
		}
		patch.Action = &a
	}
	return patch
}

// handleListPolicies returns all policies as a JSON array.
// GET /admin/api/policies
func (h *AdminAPIHandler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	policies, err := h.policyAdminService.List(r.Context())
	if err != nil {
		h.respondServiceError(w, r, "list policies", err)
		return
	}

	result := make([]policyResponse, len(policies))
	for i := range policies {
		result[i] = toPolicyResponse(&policies[i])
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleGetPolicy returns one policy.
// GET /admin/api/policies/{id}
func (h *AdminAPIHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	p, err := h.policyAdminService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, r, "get policy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, toPolicyResponse(p))
}

// handleCreatePolicy creates a new policy from the request body.
// POST /admin/api/policies
func (h *AdminAPIHandler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	var req policyRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	created, err := h.policyAdminService.Create(r.Context(), toDomainPolicy(req), actorFromContext(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, "create policy", err)
		return
	}
	w.Header().Set("Location", "/admin/api/policies/"+created.ID)
	h.respondJSON(w, http.StatusCreated, toPolicyResponse(created))
}

// handleUpdatePolicy replaces an existing policy.
// PUT /admin/api/policies/{id}
func (h *AdminAPIHandler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	var req policyRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	id := r.PathValue("id")
	if req.ID != "" && req.ID != id {
		h.respondError(w, http.StatusBadRequest, "policy ID in body does not match path")
		return
	}

	updated, err := h.policyAdminService.Update(r.Context(), id, toDomainPolicy(req), actorFromContext(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, "update policy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, toPolicyResponse(updated))
}

// handlePatchPolicy applies a partial update.
// PATCH /admin/api/policies/{id}
func (h *AdminAPIHandler) handlePatchPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	var req policyPatchRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	patched, err := h.policyAdminService.Patch(r.Context(), r.PathValue("id"), req.toPatch(), actorFromContext(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, "patch policy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, toPolicyResponse(patched))
}

// handleDeletePolicy removes a policy.
// DELETE /admin/api/policies/{id}
func (h *AdminAPIHandler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	if err := h.policyAdminService.Delete(r.Context(), r.PathValue("id"), actorFromContext(r.Context())); err != nil {
		h.respondServiceError(w, r, "delete policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
