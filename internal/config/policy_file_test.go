package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

const samplePolicyYAML = `
policies:
  - id: lan-admins
    name: admins on LAN
    subject: admin_group
    object: internal_network
    conditions:
      ip_range: 192.168.1.0/24
    action: allow
    priority: 10
  - name: deny everyone
    subject: all_users
    object: internal_network
    action: deny
    priority: 20
    enabled: false
`

func TestParsePolicyFile(t *testing.T) {
	t.Parallel()

	pf, err := ParsePolicyFile(strings.NewReader(samplePolicyYAML))
	if err != nil {
		t.Fatalf("ParsePolicyFile() error: %v", err)
	}
	ps := pf.ToPolicies()
	if len(ps) != 2 {
		t.Fatalf("policies = %d, want 2", len(ps))
	}
	if ps[0].ID != "lan-admins" || ps[0].Action != policy.ActionAllow || !ps[0].Enabled {
		t.Errorf("policy 0 = %+v", ps[0])
	}
	if ps[1].ID != "" || ps[1].Enabled {
		t.Errorf("policy 1 = %+v, want no ID and disabled", ps[1])
	}
}

func TestParsePolicyFile_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unknown key", "policies:\n  - name: x\n    subjekt: s\n", "subjekt"},
		{"missing subject", "policies:\n  - name: x\n    object: o\n    action: deny\n", "Subject is required"},
		{"bad action", "policies:\n  - name: x\n    subject: s\n    object: o\n    action: permit\n", "Action"},
		{"not yaml", "policies: [", "parse policy file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParsePolicyFile(strings.NewReader(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParsePolicyFile() error = %v, want to contain %q", err, tt.want)
			}
		})
	}
}

func TestParsePolicyFile_Empty(t *testing.T) {
	t.Parallel()

	pf, err := ParsePolicyFile(strings.NewReader(""))
	if err != nil || len(pf.Policies) != 0 {
		t.Errorf("ParsePolicyFile(\"\") = (%v, %v), want empty", pf, err)
	}
}

func TestLoadPolicyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeFile(t, path, samplePolicyYAML)
	if _, err := LoadPolicyFile(path); err != nil {
		t.Errorf("LoadPolicyFile() error: %v", err)
	}
	if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadPolicyFile(missing) error = nil")
	}
}

func TestMarshalPolicies_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []policy.Policy{{
		ID: "p", Name: "n", Subject: "s", Object: "o",
		Conditions: map[string]string{"risk_score": "> 70"},
		Action:     policy.ActionIsolate, Priority: 3, Enabled: false,
	}}
	data, err := MarshalPolicies(in)
	if err != nil {
		t.Fatalf("MarshalPolicies() error: %v", err)
	}
	pf, err := ParsePolicyFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ParsePolicyFile() error: %v\n%s", err, data)
	}
	got := pf.ToPolicies()[0]
	if got.Action != policy.ActionIsolate || got.Enabled || got.Conditions["risk_score"] != "> 70" {
		t.Errorf("round trip = %+v", got)
	}
}
