package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/accessgate/internal/config"
	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// offlineFlags are shared by commands that work on a policy file without
// a running server.
type offlineFlags struct {
	defaultAction string
	timezone      string
}

// loadPolicySet reads a policy file and gives unnamed entries a stable
// positional ID ("policy-1", "policy-2", ...).
func loadPolicySet(path string) ([]policy.Policy, error) {
	pf, err := config.LoadPolicyFile(path)
	if err != nil {
		return nil, err
	}
	policies := pf.ToPolicies()
	for i := range policies {
		if policies[i].ID == "" {
			policies[i].ID = fmt.Sprintf("policy-%d", i+1)
		}
		policies[i].Version = 1
	}
	return policies, nil
}

// newOfflineDecisions returns a decision service over an in-memory copy of
// policies. Conditions are compiled in the flags' timezone.
func newOfflineDecisions(policies []policy.Policy, flags offlineFlags, logOut io.Writer) (*service.DecisionService, *memory.PolicyStore, error) {
	action, err := policy.ParseAction(flags.defaultAction)
	if err != nil {
		return nil, nil, err
	}
	loc, err := time.LoadLocation(flags.timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timezone %q: %w", flags.timezone, err)
	}

	reg := condition.NewRegistry(condition.WithLocation(loc))
	if err := cel.Register(reg); err != nil {
		return nil, nil, err
	}

	store := memory.NewPolicyStore()
	for _, p := range policies {
		store.AddPolicy(p)
	}

	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelError}))
	return service.NewDecisionService(store, reg, logger, service.WithDefaultAction(action)), store, nil
}
