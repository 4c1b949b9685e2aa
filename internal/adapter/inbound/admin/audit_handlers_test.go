package admin

import (
	"net/url"
	"testing"
	"time"
)

func TestParseAuditFilter(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	f, err := parseAuditFilter(url.Values{
		"principal_id": {"alice"},
		"action":       {"deny"},
		"policy_id":    {"B"},
		"since":        {"1h"},
		"limit":        {"5"},
	}, now)
	if err != nil {
		t.Fatalf("parseAuditFilter() error: %v", err)
	}
	if f.PrincipalID != "alice" || f.Action != "deny" || f.PolicyID != "B" || f.Limit != 5 {
		t.Errorf("filter = %+v", f)
	}
	if !f.StartTime.Equal(now.Add(-time.Hour)) {
		t.Errorf("StartTime = %v, want one hour ago", f.StartTime)
	}

	f, err = parseAuditFilter(url.Values{
		"start": {"2024-05-01T00:00:00Z"},
		"end":   {"2024-05-02T00:00:00Z"},
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	if f.StartTime.Day() != 1 || f.EndTime.Day() != 2 {
		t.Errorf("range = %v..%v", f.StartTime, f.EndTime)
	}

	bad := []url.Values{
		{"since": {"yesterday"}},
		{"since": {"-1h"}},
		{"start": {"2024-05-01"}},
		{"end": {"soon"}},
		{"limit": {"many"}},
		{"limit": {"-1"}},
		{"start": {"2024-05-02T00:00:00Z"}, "end": {"2024-05-01T00:00:00Z"}},
	}
	for _, q := range bad {
		if _, err := parseAuditFilter(q, now); err == nil {
			t.Errorf("parseAuditFilter(%v) error = nil, want error", q)
		}
	}
}
