// Package integration holds end-to-end tests that wire real stores,
// services and the HTTP server together.
package integration

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/adapter/inbound/admin"
	httpadapter "github.com/Sentinel-Gate/accessgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/sqlstore"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// testLogger returns a logger that writes to stderr at error level (quiet tests).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// auditSink is what the stack needs from an audit backend.
type auditSink interface {
	audit.Store
	audit.QueryStore
}

// stack is a fully wired access-gate instance behind an httptest server.
type stack struct {
	decisions *service.DecisionService
	admin     *service.PolicyAdminService
	audit     *service.AuditService
	sink      auditSink
	server    *httptest.Server
}

// newStack wires repo, an optional state store and sink into a running
// server. Everything is torn down with t.Cleanup.
func newStack(t *testing.T, repo policy.PolicyRepository, stateStore *state.FileStateStore, sink auditSink) *stack {
	t.Helper()
	logger := testLogger()

	reg := condition.NewRegistry()
	if err := cel.Register(reg); err != nil {
		t.Fatalf("cel.Register: %v", err)
	}

	auditService := service.NewAuditService(sink, logger, service.WithFlushInterval(10*time.Millisecond))
	auditService.Start(context.Background())

	decisions := service.NewDecisionService(repo, reg, logger)
	adminService := service.NewPolicyAdminService(repo, stateStore, decisions, auditService, logger)
	evalService := service.NewPolicyEvaluationService(decisions, repo, auditService, logger)

	api := admin.NewAdminAPIHandler(
		admin.WithPolicyAdminService(adminService),
		admin.WithPolicyEvaluationService(evalService),
		admin.WithAuditQuery(sink),
		admin.WithAPILogger(logger),
	)
	srv := httpadapter.NewServer(
		httpadapter.WithLogger(logger),
		httpadapter.WithAdminHandler(api.Routes()),
		httpadapter.WithHealthChecker(httpadapter.NewHealthChecker(decisions, auditService, "test")),
	)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		auditService.Stop()
		_ = sink.Close()
	})
	return &stack{
		decisions: decisions,
		admin:     adminService,
		audit:     auditService,
		sink:      sink,
		server:    ts,
	}
}

// TestBoot_StateSurvivesRestart verifies that policies written through the
// admin service with the memory driver come back from state.json.
func TestBoot_StateSurvivesRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	first := newStack(t, memory.NewPolicyStore(), state.NewFileStateStore(statePath, testLogger()), memory.NewAuditStore(100))
	created, err := first.admin.Create(ctx, policy.Policy{
		Name:    "contractors off-hours",
		Subject: "group:contractors",
		Object:  "prod/*",
		Conditions: map[string]string{
			"time_range": "09:00-17:00",
		},
		Action:  policy.ActionDeny,
		Enabled: true,
	}, "test")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	stateStore := state.NewFileStateStore(statePath, testLogger())
	appState, err := stateStore.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(appState.Policies) != 1 || appState.Policies[0].ID != created.ID {
		t.Fatalf("state policies = %+v, want %s", appState.Policies, created.ID)
	}

	second := newStack(t, memory.NewPolicyStore(), stateStore, memory.NewAuditStore(100))
	n, err := second.admin.LoadPoliciesFromState(ctx, appState)
	if err != nil || n != 1 {
		t.Fatalf("LoadPoliciesFromState() = %d, %v; want 1", n, err)
	}
	got, err := second.admin.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Version != created.Version || got.Conditions["time_range"] != "09:00-17:00" {
		t.Errorf("restored policy = %+v, want %+v", got, created)
	}
}

// TestBoot_SQLiteSurvivesRestart verifies that a file-backed SQLite store
// keeps policies and versions across reopen.
func TestBoot_SQLiteSurvivesRestart(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "policies.db")
	ctx := context.Background()

	open := func() *sqlstore.Store {
		s, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, dsn)
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() error: %v", err)
		}
		return s
	}

	first := open()
	st := newStack(t, first, nil, memory.NewAuditStore(10))
	p, err := st.admin.Create(ctx, policy.Policy{
		ID: "vpn-only", Name: "vpn only", Subject: "*", Object: "10.0.0.0/8",
		Conditions: map[string]string{"connection_type": "vpn"},
		Action:     policy.ActionAllow, Enabled: true,
	}, "test")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := st.admin.Patch(ctx, p.ID, service.PolicyPatch{Priority: ptr(5)}, "test"); err != nil {
		t.Fatalf("Patch() error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := open()
	defer second.Close()
	got, err := second.GetPolicy(ctx, "vpn-only")
	if err != nil {
		t.Fatalf("GetPolicy() after reopen: %v", err)
	}
	if got.Version != 2 || got.Priority != 5 || got.Conditions["connection_type"] != "vpn" {
		t.Errorf("reopened policy = %+v", got)
	}
}

// TestBoot_Health checks /health on a fresh stack.
func TestBoot_Health(t *testing.T) {
	st := newStack(t, memory.NewPolicyStore(), nil, memory.NewAuditStore(10))

	resp, err := http.Get(st.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d, want 200", resp.StatusCode)
	}
}

func ptr[T any](v T) *T { return &v }
