package cmd

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/accessgate/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Admin.Enabled = true
	cfg.Policies = []config.PolicyConfig{{
		ID:      "ops-all",
		Name:    "ops everywhere",
		Subject: "group:ops",
		Object:  "*",
		Action:  "allow",
	}}
	return cfg
}

func TestBuildApp_MemoryStack(t *testing.T) {
	cfg := testConfig(t)
	cfg.PolicyFile = writeFile(t, "policies.yaml", testPolicies)
	statePath := filepath.Join(t.TempDir(), "state.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := buildApp(t.Context(), cfg, statePath, logger)
	if err != nil {
		t.Fatalf("buildApp() error: %v", err)
	}
	defer a.close(logger)

	all, err := a.admin.List(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("seeded policies = %d, want 3 (file + inline)", len(all))
	}
	if a.stateStore == nil || !a.stateStore.Exists() {
		t.Error("memory driver should persist seeded policies to state.json")
	}

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}

	body := strings.NewReader(`{"principal_id":"dana","groups":["ops"],"object":"billing"}`)
	resp, err = http.Post(srv.URL+"/admin/api/v1/decide", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	out, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(out), `"policy_id":"ops-all"`) {
		t.Errorf("decide = %d %s", resp.StatusCode, out)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	out, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(out), "accessgate_decisions_total") {
		t.Error("/metrics should expose decision counters")
	}
}

func TestBuildApp_RestoresState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig(t)
	cfg.Policies = append(cfg.Policies, config.PolicyConfig{
		ID: "deny-rest", Name: "deny the rest", Subject: "*", Object: "*", Action: "deny",
	})

	first, err := buildApp(t.Context(), cfg, statePath, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.admin.Delete(t.Context(), "ops-all", "test"); err != nil {
		t.Fatal(err)
	}
	first.close(logger)

	// Seeds only apply to an empty store, so the deletion survives a restart.
	second, err := buildApp(t.Context(), cfg, statePath, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer second.close(logger)

	all, err := second.admin.List(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != "deny-rest" {
		t.Errorf("policies after restart = %+v, want only deny-rest", all)
	}
}

func TestBuildApp_AdminDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := buildApp(t.Context(), cfg, filepath.Join(t.TempDir(), "state.json"), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close(logger)

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/api/policies")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("admin status = %d, want 404 when disabled", resp.StatusCode)
	}
}

func TestBuildApp_BadPolicyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := buildApp(t.Context(), cfg, filepath.Join(t.TempDir(), "state.json"), logger); err == nil {
		t.Fatal("buildApp() should fail on a missing policy file")
	}
}
