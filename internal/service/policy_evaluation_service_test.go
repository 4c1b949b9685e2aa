package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

func newEvalTestEnv(t *testing.T, store *stubStore) (*PolicyEvaluationService, *recordingAuditor) {
	t.Helper()
	auditor := &recordingAuditor{}
	decisions := newTestDecisionService(store)
	return NewPolicyEvaluationService(decisions, store, auditor, testLogger()), auditor
}

func lanDecisionRequest(ip string) DecisionRequest {
	return DecisionRequest{
		PrincipalID: "alice",
		Groups:      []string{"admin_group"},
		Object:      "internal_network",
		IPAddress:   ip,
	}
}

func TestPolicyEvaluationService_Evaluate(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	ps := lanPolicies()
	ps[1].Enabled = false
	store.set(ps...)
	svc, auditor := newEvalTestEnv(t, store)

	resp := svc.Evaluate(context.Background(), lanDecisionRequest("192.168.1.5"))
	if resp.RequestID == "" {
		t.Fatal("RequestID is empty")
	}
	if resp.Action != policy.ActionAllow || !resp.Allowed || resp.PolicyID != "A" {
		t.Errorf("Evaluate() = (%q, %v, %q), want (allow, true, A)", resp.Action, resp.Allowed, resp.PolicyID)
	}
	if resp.HelpText != "" {
		t.Errorf("HelpText = %q, want empty for allow", resp.HelpText)
	}

	eval := svc.GetEvaluation(resp.RequestID)
	if eval == nil || eval.PolicyID != "A" || eval.PrincipalID != "alice" {
		t.Errorf("GetEvaluation() = %+v, want stored record", eval)
	}
	if svc.GetEvaluation("unknown") != nil {
		t.Error("GetEvaluation(unknown) != nil")
	}

	recs := auditor.all()
	if len(recs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.EventType != audit.EventTypeDecision || r.RequestID != resp.RequestID || r.PolicyName != "admins on LAN" || r.PolicyVersion != 1 {
		t.Errorf("audit record = %+v", r)
	}
}

func TestPolicyEvaluationService_EvaluateDenyHelp(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	store.set(lanPolicies()...)
	svc, _ := newEvalTestEnv(t, store)

	resp := svc.Evaluate(context.Background(), lanDecisionRequest("192.168.1.5"))
	if resp.Allowed {
		t.Fatal("Allowed = true, want deny from policy B")
	}
	if !strings.Contains(resp.HelpText, "deny everyone") {
		t.Errorf("HelpText = %q, want policy name", resp.HelpText)
	}
	if resp.HelpURL != "/admin/api/policies/B" {
		t.Errorf("HelpURL = %q", resp.HelpURL)
	}
}

func TestPolicyEvaluationService_EvaluateStoreFailure(t *testing.T) {
	t.Parallel()

	svc, auditor := newEvalTestEnv(t, &stubStore{err: errors.New("down")})
	resp := svc.Evaluate(context.Background(), lanDecisionRequest("192.168.1.5"))
	if resp.Reason != policy.ReasonInfrastructureError || resp.Allowed {
		t.Errorf("Evaluate() = (%q, %v), want (%q, false)", resp.Reason, resp.Allowed, policy.ReasonInfrastructureError)
	}
	if resp.HelpURL != "/admin/api/policies" {
		t.Errorf("HelpURL = %q, want policy list", resp.HelpURL)
	}
	if recs := auditor.all(); len(recs) != 1 || recs[0].Error == "" {
		t.Errorf("audit = %+v, want one record with error", recs)
	}
}

func TestPolicyEvaluationService_HistoryIsBounded(t *testing.T) {
	t.Parallel()

	svc, _ := newEvalTestEnv(t, &stubStore{})
	svc.maxEvals = 3

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, svc.Evaluate(context.Background(), lanDecisionRequest("1.1.1.1")).RequestID)
	}
	if svc.GetEvaluation(ids[0]) != nil || svc.GetEvaluation(ids[1]) != nil {
		t.Error("oldest evaluations not evicted")
	}
	if svc.GetEvaluation(ids[4]) == nil {
		t.Error("newest evaluation missing")
	}
}

func TestPolicyEvaluationService_Explain(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	store.set(lanPolicies()...)
	svc, auditor := newEvalTestEnv(t, store)

	resp := svc.Explain(context.Background(), lanDecisionRequest("10.0.0.1"))
	if len(resp.Trace) != 2 {
		t.Fatalf("Trace = %d entries, want 2", len(resp.Trace))
	}
	if len(auditor.all()) != 0 {
		t.Error("Explain() was audited")
	}
}

func TestPolicyEvaluationService_TestPolicy(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	ps := lanPolicies()
	ps[1].Enabled = false
	store.set(ps...)
	svc, auditor := newEvalTestEnv(t, store)

	candidate := policy.Policy{
		Name:       "block high risk",
		Subject:    "all_users",
		Object:     "internal_network",
		Conditions: map[string]string{"risk_score": "> 70"},
		Action:     policy.ActionDeny,
		Priority:   100,
		Enabled:    true,
	}
	req := lanDecisionRequest("192.168.1.5")
	risk := 80.0
	req.RiskScore = &risk

	res, err := svc.TestPolicy(context.Background(), candidate, req)
	if err != nil {
		t.Fatalf("TestPolicy() error: %v", err)
	}
	if !res.Trace.Matched {
		t.Error("Trace.Matched = false, want true")
	}
	if res.Decision.Action != policy.ActionDeny || !res.Changed {
		t.Errorf("TestPolicy() decision = (%q, changed %v), want (deny, true)", res.Decision.Action, res.Changed)
	}

	low := 10.0
	req.RiskScore = &low
	res, err = svc.TestPolicy(context.Background(), candidate, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Trace.Matched || res.Changed || res.Decision.PolicyID != "A" {
		t.Errorf("TestPolicy() low risk = %+v, want unchanged allow from A", res)
	}

	candidate.Conditions = map[string]string{"risk_score": "very"}
	if _, err := svc.TestPolicy(context.Background(), candidate, req); !errors.Is(err, policy.ErrInvalidPolicy) {
		t.Errorf("TestPolicy() malformed error = %v, want ErrInvalidPolicy", err)
	}
	if len(auditor.all()) != 0 {
		t.Error("TestPolicy() was audited")
	}
	if store.calls.Load() == 0 {
		t.Error("TestPolicy() did not read the stored policies")
	}
}

func TestDecisionRequest_ToRequest(t *testing.T) {
	t.Parallel()

	req := DecisionRequest{PrincipalID: "a", Object: "o"}
	got := req.ToRequest(fixedNow)
	if !got.Context.Timestamp.Equal(fixedNow) {
		t.Errorf("Timestamp = %v, want now", got.Context.Timestamp)
	}

	ts := fixedNow.Add(-time.Hour)
	req.Timestamp = &ts
	if got := req.ToRequest(fixedNow); !got.Context.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Context.Timestamp, ts)
	}
}
