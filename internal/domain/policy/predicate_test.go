package policy

import (
	"testing"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
)

func TestMatches_VacuousConjunction(t *testing.T) {
	t.Parallel()

	reg := condition.NewRegistry()
	p := Policy{ID: "p", Name: "open", Subject: "all_users", Object: "internal_network", Action: ActionAllow, Enabled: true}

	requests := []Request{
		{Subject: Subject{PrincipalID: "a"}, Object: "internal_network"},
		{Subject: Subject{PrincipalID: "b"}, Object: "internal_network", Context: RequestContext{IPAddress: "garbage"}},
		{Subject: Subject{PrincipalID: "c", RiskScore: ptr(99)}, Object: "internal_network", Context: RequestContext{Timestamp: time.Now()}},
	}
	for i, req := range requests {
		if !Matches(p, req, reg) {
			t.Errorf("request %d: Matches() = false, want true for empty condition set", i)
		}
	}

	p.Conditions = map[string]string{}
	if !Matches(p, requests[0], reg) {
		t.Error("Matches() = false with empty non-nil condition map, want true")
	}
}

func TestMatches_AllConditionsMustHold(t *testing.T) {
	t.Parallel()

	reg := condition.NewRegistry()
	p := Policy{
		ID:      "vpn",
		Name:    "VPN access",
		Subject: "admin_group",
		Object:  "internal_network",
		Conditions: map[string]string{
			"ip_range":   "192.168.1.0/24",
			"time_range": "09:00-18:00",
		},
		Action:  ActionAllow,
		Enabled: true,
	}

	base := Request{
		Subject: Subject{PrincipalID: "alice", Groups: []string{"admin_group"}},
		Object:  "internal_network",
		Context: RequestContext{
			IPAddress: "192.168.1.5",
			Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
	}

	if !Matches(p, base, reg) {
		t.Fatal("Matches() = false, want true when every condition holds")
	}

	late := base
	late.Context.Timestamp = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	if Matches(p, late, reg) {
		t.Error("Matches() = true outside time window, want false")
	}

	wrongSubject := base
	wrongSubject.Subject = Subject{PrincipalID: "bob", Groups: []string{"user_group"}}
	if Matches(p, wrongSubject, reg) {
		t.Error("Matches() = true for non-member subject, want false")
	}

	wrongObject := base
	wrongObject.Object = "finance_system"
	if Matches(p, wrongObject, reg) {
		t.Error("Matches() = true for other object, want false")
	}
}

func TestEvaluate_ReportsIssues(t *testing.T) {
	t.Parallel()

	reg := condition.NewRegistry()
	p := Policy{
		ID:      "admin-elevation",
		Name:    "admin elevation",
		Subject: "all_users",
		Object:  "all_systems",
		Conditions: map[string]string{
			"session_timeout": "30min",
			"ip_range":        "10.0.0.0/33",
			"location":        "office",
		},
		Action:  ActionAllow,
		Enabled: true,
	}
	cp := Compile(p, reg)

	if got := len(cp.Issues()); got != 2 {
		t.Fatalf("Issues() len = %d, want 2", got)
	}

	req := Request{Subject: Subject{PrincipalID: "x", Location: "office"}, Object: "vault"}
	ok, issues := cp.Evaluate(req)
	if ok {
		t.Error("Evaluate() matched = true, want false with unevaluable conditions")
	}
	if len(issues) != 2 {
		t.Fatalf("Evaluate() issues = %d, want 2", len(issues))
	}

	kinds := map[condition.Type]condition.Outcome{}
	for _, is := range issues {
		kinds[is.Type] = is.Outcome
	}
	if kinds["session_timeout"] != condition.OutcomeUnknownType {
		t.Errorf("session_timeout outcome = %v, want %v", kinds["session_timeout"], condition.OutcomeUnknownType)
	}
	if kinds["ip_range"] != condition.OutcomeMalformed {
		t.Errorf("ip_range outcome = %v, want %v", kinds["ip_range"], condition.OutcomeMalformed)
	}
}

func TestEvaluate_SkipsConditionsWhenSubjectMisses(t *testing.T) {
	t.Parallel()

	reg := condition.NewRegistry()
	p := Policy{ID: "p", Subject: "group:ops", Object: "*", Conditions: map[string]string{"bogus": "1"}}
	ok, issues := Compile(p, reg).Evaluate(Request{Subject: Subject{PrincipalID: "x"}, Object: "y"})
	if ok || len(issues) != 0 {
		t.Errorf("Evaluate() = (%v, %d issues), want (false, 0)", ok, len(issues))
	}
}

func TestTrace(t *testing.T) {
	t.Parallel()

	reg := condition.NewRegistry()
	p := Policy{
		ID:      "risky",
		Name:    "block risky devices",
		Subject: "all_users",
		Object:  "critical_systems",
		Conditions: map[string]string{
			"risk_score":  "> 70",
			"device_type": "mobile",
		},
		Action:   ActionDeny,
		Priority: 20,
	}
	req := Request{
		Subject: Subject{PrincipalID: "x", RiskScore: ptr(80), DeviceType: "laptop"},
		Object:  "critical_systems",
	}

	tr := Compile(p, reg).Trace(req)
	if !tr.SubjectMatched || !tr.ObjectMatched {
		t.Errorf("Trace() subject/object = %v/%v, want true/true", tr.SubjectMatched, tr.ObjectMatched)
	}
	if tr.Matched {
		t.Error("Trace() Matched = true, want false")
	}
	if len(tr.Conditions) != 2 {
		t.Fatalf("Trace() conditions = %d, want 2", len(tr.Conditions))
	}
	// Conditions are reported in type order.
	if tr.Conditions[0].Type != "device_type" || tr.Conditions[0].Outcome != "no_match" {
		t.Errorf("Conditions[0] = %+v, want device_type no_match", tr.Conditions[0])
	}
	if tr.Conditions[1].Type != "risk_score" || tr.Conditions[1].Outcome != "match" {
		t.Errorf("Conditions[1] = %+v, want risk_score match", tr.Conditions[1])
	}
	if tr.Enabled {
		t.Error("Trace() Enabled = true, want false")
	}
}

func TestCompile_DoesNotAliasConditions(t *testing.T) {
	t.Parallel()

	reg := condition.NewRegistry()
	p := Policy{ID: "p", Subject: "*", Object: "*", Conditions: map[string]string{"location": "office"}}
	cp := Compile(p, reg)
	p.Conditions["location"] = "home"

	if cp.Policy.Conditions["location"] != "office" {
		t.Errorf("compiled policy condition = %q, want %q", cp.Policy.Conditions["location"], "office")
	}
}

func ptr(f float64) *float64 { return &f }
