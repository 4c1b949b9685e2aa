package admin

import (
	"net/http"

	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// statsResponse is the dashboard summary.
type statsResponse struct {
	service.Stats
	Policies        int `json:"policies"`
	EnabledPolicies int `json:"enabled_policies"`
}

// handleStats handles GET /admin/api/stats.
func (h *AdminAPIHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.respondError(w, http.StatusNotImplemented, "stats not configured")
		return
	}
	resp := statsResponse{Stats: h.stats.GetStats()}

	if h.policyAdminService != nil {
		policies, err := h.policyAdminService.List(r.Context())
		if err != nil {
			h.respondServiceError(w, r, "list policies", err)
			return
		}
		resp.Policies = len(policies)
		for _, p := range policies {
			if p.Enabled {
				resp.EnabledPolicies++
			}
		}
	}
	h.respondJSON(w, http.StatusOK, resp)
}
