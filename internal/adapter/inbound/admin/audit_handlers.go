package admin

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
)

// auditResponse wraps query results.
type auditResponse struct {
	Records []audit.Record `json:"records"`
	Count   int            `json:"count"`
}

// parseAuditFilter maps query parameters to an audit.Filter.
// Times accept RFC 3339; "since" accepts a Go duration relative to now.
func parseAuditFilter(q url.Values, now time.Time) (audit.Filter, error) {
	f := audit.Filter{
		EventType:   q.Get("event_type"),
		PrincipalID: q.Get("principal_id"),
		Object:      q.Get("object"),
		Action:      q.Get("action"),
		PolicyID:    q.Get("policy_id"),
	}

	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return f, fmt.Errorf("invalid since %q", v)
		}
		f.StartTime = now.Add(-d)
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid start %q", v)
		}
		f.StartTime = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid end %q", v)
		}
		f.EndTime = t
	}
	if !f.StartTime.IsZero() && !f.EndTime.IsZero() && f.EndTime.Before(f.StartTime) {
		return f, fmt.Errorf("end is before start")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

// handleQueryAudit returns audit records, newest first.
// GET /admin/api/audit
func (h *AdminAPIHandler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditQuery == nil {
		h.respondError(w, http.StatusNotImplemented, "audit output does not support queries")
		return
	}

	filter, err := parseAuditFilter(r.URL.Query(), time.Now().UTC())
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.auditQuery.Query(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, "query audit", err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	h.respondJSON(w, http.StatusOK, auditResponse{Records: records, Count: len(records)})
}
