package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/accessgate/internal/config"
	"github.com/Sentinel-Gate/accessgate/internal/domain/auth"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
	"github.com/Sentinel-Gate/accessgate/internal/service"
)

const testPolicies = `
policies:
  - id: lan-admins
    name: admins on LAN
    subject: admin_group
    object: internal_network
    conditions:
      ip_range: 192.168.1.0/24
    action: allow
    priority: 10
  - name: everyone else
    subject: all_users
    object: internal_network
    action: deny
    priority: 1
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReadKey(t *testing.T) {
	t.Parallel()

	got, err := readKey(strings.NewReader("s3cret\r\nignored\n"))
	if err != nil || got != "s3cret" {
		t.Errorf("readKey() = %q, %v; want s3cret", got, err)
	}
	got, err = readKey(strings.NewReader("no-newline"))
	if err != nil || got != "no-newline" {
		t.Errorf("readKey() = %q, %v; want no-newline", got, err)
	}
	if _, err := readKey(strings.NewReader("")); err == nil {
		t.Error("readKey(empty) should fail")
	}
}

func TestReadRequestArg(t *testing.T) {
	t.Parallel()

	inline, err := readRequestArg(`{"object":"x"}`, nil)
	if err != nil || string(inline) != `{"object":"x"}` {
		t.Errorf("inline = %q, %v", inline, err)
	}

	fromStdin, err := readRequestArg("-", strings.NewReader(`{"object":"y"}`))
	if err != nil || string(fromStdin) != `{"object":"y"}` {
		t.Errorf("stdin = %q, %v", fromStdin, err)
	}

	path := writeFile(t, "req.json", `{"object":"z"}`)
	fromFile, err := readRequestArg("@"+path, nil)
	if err != nil || string(fromFile) != `{"object":"z"}` {
		t.Errorf("file = %q, %v", fromFile, err)
	}

	if _, err := readRequestArg("@"+filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Error("missing file should fail")
	}
}

func TestParseDecisionRequest(t *testing.T) {
	t.Parallel()

	req, err := parseDecisionRequest([]byte(`{"principal_id":"alice","groups":["eng"],"object":"repo"}`))
	if err != nil {
		t.Fatalf("parseDecisionRequest() error: %v", err)
	}
	if req.PrincipalID != "alice" || req.Object != "repo" || len(req.Groups) != 1 {
		t.Errorf("request = %+v", req)
	}

	for _, bad := range []string{
		`{"principal_id":"alice"}`,
		`{"object":"repo","colour":"blue"}`,
		`not json`,
	} {
		if _, err := parseDecisionRequest([]byte(bad)); err == nil {
			t.Errorf("parseDecisionRequest(%s) should fail", bad)
		}
	}
}

func TestLoadPolicySet_AssignsPositionalIDs(t *testing.T) {
	t.Parallel()

	policies, err := loadPolicySet(writeFile(t, "policies.yaml", testPolicies))
	if err != nil {
		t.Fatalf("loadPolicySet() error: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("policies = %d, want 2", len(policies))
	}
	if policies[0].ID != "lan-admins" || policies[1].ID != "policy-2" {
		t.Errorf("ids = %q, %q", policies[0].ID, policies[1].ID)
	}
	for _, p := range policies {
		if p.Version != 1 {
			t.Errorf("%s version = %d, want 1", p.ID, p.Version)
		}
	}
}

func TestOfflineDecisions(t *testing.T) {
	t.Parallel()

	policies, err := loadPolicySet(writeFile(t, "policies.yaml", testPolicies))
	if err != nil {
		t.Fatal(err)
	}
	decisions, store, err := newOfflineDecisions(policies, offlineFlags{defaultAction: "deny", timezone: "Europe/Berlin"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newOfflineDecisions() error: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("store len = %d, want 2", store.Len())
	}
	if decisions.Registry().Location().String() != "Europe/Berlin" {
		t.Errorf("location = %s", decisions.Registry().Location())
	}

	eval := service.NewPolicyEvaluationService(decisions, store, nil, slog.New(slog.DiscardHandler))
	allowed := eval.Evaluate(t.Context(), service.DecisionRequest{
		PrincipalID: "bob",
		Groups:      []string{"admin_group"},
		Object:      "internal_network",
		IPAddress:   "192.168.1.20",
	})
	if allowed.Action != policy.ActionAllow || allowed.PolicyID != "lan-admins" {
		t.Errorf("LAN admin decision = %s via %q", allowed.Action, allowed.PolicyID)
	}

	denied := eval.Evaluate(t.Context(), service.DecisionRequest{
		PrincipalID: "bob",
		Groups:      []string{"admin_group"},
		Object:      "internal_network",
		IPAddress:   "10.0.0.5",
	})
	if denied.Action != policy.ActionDeny || denied.PolicyID != "policy-2" {
		t.Errorf("off-LAN decision = %s via %q", denied.Action, denied.PolicyID)
	}

	if _, _, err := newOfflineDecisions(nil, offlineFlags{defaultAction: "permit", timezone: "UTC"}, &bytes.Buffer{}); err == nil {
		t.Error("bad default action should fail")
	}
	if _, _, err := newOfflineDecisions(nil, offlineFlags{defaultAction: "deny", timezone: "Mars/Olympus"}, &bytes.Buffer{}); err == nil {
		t.Error("bad timezone should fail")
	}
}

func TestRunEvaluate(t *testing.T) {
	policiesPath := writeFile(t, "policies.yaml", testPolicies)
	t.Cleanup(func() {
		evalPoliciesPath, evalRequest, evalExplain, evalExitCode = "", "", false, false
		evalFlags = offlineFlags{}
	})

	evalPoliciesPath = policiesPath
	evalRequest = `{"principal_id":"carol","object":"internal_network","ip_address":"10.1.1.1"}`
	evalExplain = true
	evalExitCode = true
	evalFlags = offlineFlags{defaultAction: "deny", timezone: "UTC"}

	var out bytes.Buffer
	evaluateCmd.SetOut(&out)
	evaluateCmd.SetErr(&bytes.Buffer{})
	err := runEvaluate(evaluateCmd, nil)
	if !errors.Is(err, errNotAllowed) {
		t.Fatalf("runEvaluate() error = %v, want errNotAllowed", err)
	}

	var resp service.DecisionResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("output is not a decision: %v\n%s", err, out.String())
	}
	if resp.Action != policy.ActionDeny || resp.Reason != policy.ReasonPolicyMatch {
		t.Errorf("decision = %s/%s", resp.Action, resp.Reason)
	}
	if len(resp.Trace) != 2 {
		t.Errorf("trace entries = %d, want 2", len(resp.Trace))
	}
}

func TestCheckPolicies(t *testing.T) {
	t.Parallel()

	policies := []policy.Policy{
		{ID: "a", Name: "ok", Subject: "*", Object: "*", Action: policy.ActionAllow, Enabled: true},
		{ID: "a", Name: "dup", Subject: "*", Object: "*", Action: policy.ActionDeny, Enabled: true},
		{ID: "b", Name: "bad cidr", Subject: "*", Object: "*", Action: policy.ActionDeny, Enabled: true,
			Conditions: map[string]string{"ip_range": "not-a-cidr"}},
		{ID: "c", Name: "", Subject: "*", Object: "*", Action: policy.ActionDeny},
	}
	decisions, _, err := newOfflineDecisions(nil, offlineFlags{defaultAction: "deny", timezone: "UTC"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}

	problems := checkPolicies(policies, decisions)
	if len(problems) != 3 {
		t.Fatalf("problems = %d, want 3: %v", len(problems), problems)
	}
	for i, want := range []string{"duplicate id", "ip_range", "name is required"} {
		if !strings.Contains(problems[i], want) {
			t.Errorf("problem %d = %q, want it to mention %q", i, problems[i], want)
		}
	}
}

func TestResetTargets(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Audit.Output = config.OutputFile
	cfg.Audit.Dir = "/var/lib/access-gate/audit"

	targets := resetTargets(cfg, "/tmp/state.json", false)
	if len(targets) != 2 || targets[1].path != "/tmp/state.json.bak" {
		t.Errorf("targets = %+v", targets)
	}
	targets = resetTargets(cfg, "/tmp/state.json", true)
	if len(targets) != 3 || targets[2].path != cfg.Audit.Dir {
		t.Errorf("targets with audit = %+v", targets)
	}

	existing := []resetTarget{{"/tmp/state.json.bak", ""}, {cfg.Audit.Dir, ""}}
	if n := stateTargetCount(existing, "/tmp/state.json"); n != 1 {
		t.Errorf("stateTargetCount = %d, want 1", n)
	}
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	if !confirm(strings.NewReader("y\n"), &bytes.Buffer{}) {
		t.Error("y should confirm")
	}
	if confirm(strings.NewReader("yes\n"), &bytes.Buffer{}) {
		t.Error("only y or Y confirms")
	}
	if confirm(strings.NewReader(""), &bytes.Buffer{}) {
		t.Error("empty input should not confirm")
	}
}

func TestPIDFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "server.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error: %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}

	garbage := writeFile(t, "bad.pid", "not-a-pid")
	if got := readPIDFile(garbage); got != 0 {
		t.Errorf("readPIDFile(garbage) = %d, want 0", got)
	}
	if got := readPIDFile(filepath.Join(t.TempDir(), "none.pid")); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}
}

func TestNewKeyRing(t *testing.T) {
	t.Parallel()

	hash, err := auth.HashKey("ops-key")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	cfg.Admin.APIKeys = []config.APIKeyConfig{{Name: "ops", KeyHash: hash}}

	ring, err := newKeyRing(cfg)
	if err != nil {
		t.Fatalf("newKeyRing() error: %v", err)
	}
	if name, err := ring.Authenticate("ops-key"); err != nil || name != "ops" {
		t.Errorf("Authenticate() = %q, %v", name, err)
	}
}
