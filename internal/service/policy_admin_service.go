package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// Admin errors.
var (
	// ErrPolicyExists is returned when creating a policy with a taken ID.
	ErrPolicyExists = errors.New("policy already exists")
	// ErrVersionConflict is returned when an update names a stale version.
	ErrVersionConflict = errors.New("policy version conflict")
)

// PolicyPatch is a partial update. Nil fields are left unchanged.
type PolicyPatch struct {
	Name        *string
	Description *string
	Subject     *string
	Object      *string
	Conditions  *map[string]string
	Action      *policy.Action
	Priority    *int
	Enabled     *bool
	// ExpectedVersion, when set, must equal the stored version.
	ExpectedVersion *int64
}

// apply copies the set fields onto p.
func (pp PolicyPatch) apply(p *policy.Policy) {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.Subject != nil {
		p.Subject = *pp.Subject
	}
	if pp.Object != nil {
		p.Object = *pp.Object
	}
	if pp.Conditions != nil {
		conds := make(map[string]string, len(*pp.Conditions))
		for k, v := range *pp.Conditions {
			conds[k] = v
		}
		p.Conditions = conds
	}
	if pp.Action != nil {
		p.Action = *pp.Action
	}
	if pp.Priority != nil {
		p.Priority = *pp.Priority
	}
	if pp.Enabled != nil {
		p.Enabled = *pp.Enabled
	}
}

// PolicyAdminService provides validated CRUD on policies. Every mutation
// bumps the policy version, persists state.json when a state store is
// configured, and records a configuration audit event.
type PolicyAdminService struct {
	repo       policy.PolicyRepository
	stateStore *state.FileStateStore // nil when the repository persists itself
	decisions  *DecisionService
	recorder   AuditRecorder
	logger     *slog.Logger
	now        func() time.Time
	mu         sync.Mutex // serializes mutations and state writes
}

// NewPolicyAdminService creates a PolicyAdminService. stateStore and
// recorder may be nil.
func NewPolicyAdminService(
	repo policy.PolicyRepository,
	stateStore *state.FileStateStore,
	decisions *DecisionService,
	recorder AuditRecorder,
	logger *slog.Logger,
) *PolicyAdminService {
	return &PolicyAdminService{
		repo:       repo,
		stateStore: stateStore,
		decisions:  decisions,
		recorder:   recorder,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// List returns all policies, enabled or not, ordered by priority.
func (s *PolicyAdminService) List(ctx context.Context) ([]policy.Policy, error) {
	policies, err := s.repo.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

// Get returns one policy or policy.ErrPolicyNotFound.
func (s *PolicyAdminService) Get(ctx context.Context, id string) (*policy.Policy, error) {
	p, err := s.repo.GetPolicy(ctx, id)
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			return nil, policy.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// Create validates and stores a new policy at version 1. A caller-supplied
// ID is kept if unused; otherwise a UUID is generated.
func (s *PolicyAdminService) Create(ctx context.Context, p policy.Policy, actor string) (*policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = p.Clone()
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = uuid.New().String()
	} else if _, err := s.repo.GetPolicy(ctx, p.ID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrPolicyExists, p.ID)
	} else if !errors.Is(err, policy.ErrPolicyNotFound) {
		return nil, fmt.Errorf("check policy id: %w", err)
	}

	if err := s.validate(p); err != nil {
		return nil, err
	}

	now := s.now()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.save(ctx, &p); err != nil {
		return nil, err
	}
	s.recordChange(audit.EventTypePolicyCreate, p, actor)
	s.logger.Info("policy created", "id", p.ID, "name", p.Name, "action", p.Action, "priority", p.Priority)
	return &p, nil
}

// Update replaces a policy. ID and CreatedAt are preserved, the version is
// bumped. A non-zero p.Version must match the stored version.
func (s *PolicyAdminService) Update(ctx context.Context, id string, p policy.Policy, actor string) (*policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Version != 0 && p.Version != existing.Version {
		return nil, fmt.Errorf("%w: stored version is %d", ErrVersionConflict, existing.Version)
	}

	p = p.Clone()
	p.ID = id
	if err := s.validate(p); err != nil {
		return nil, err
	}
	p.CreatedAt = existing.CreatedAt
	p.Version = existing.Version + 1
	p.UpdatedAt = s.now()

	if err := s.save(ctx, &p); err != nil {
		return nil, err
	}
	s.recordChange(audit.EventTypePolicyUpdate, p, actor)
	s.logger.Info("policy updated", "id", id, "name", p.Name, "version", p.Version)
	return &p, nil
}

// Patch applies a partial update and bumps the version.
func (s *PolicyAdminService) Patch(ctx context.Context, id string, patch PolicyPatch, actor string) (*policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.ExpectedVersion != nil && *patch.ExpectedVersion != existing.Version {
		return nil, fmt.Errorf("%w: stored version is %d", ErrVersionConflict, existing.Version)
	}

	p := existing.Clone()
	patch.apply(&p)
	if err := s.validate(p); err != nil {
		return nil, err
	}
	p.Version = existing.Version + 1
	p.UpdatedAt = s.now()

	if err := s.save(ctx, &p); err != nil {
		return nil, err
	}
	s.recordChange(audit.EventTypePolicyUpdate, p, actor)
	s.logger.Info("policy patched", "id", id, "version", p.Version)
	return &p, nil
}

// Delete removes a policy. Past audit records keep their name and version
// snapshots.
func (s *PolicyAdminService) Delete(ctx context.Context, id, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeletePolicy(ctx, id); err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			return policy.ErrPolicyNotFound
		}
		return fmt.Errorf("delete policy: %w", err)
	}
	if err := s.persistState(ctx); err != nil {
		s.logger.Error("failed to persist state after delete", "policy_id", id, "error", err)
		return fmt.Errorf("persist state: %w", err)
	}

	s.recordChange(audit.EventTypePolicyDelete, *existing, actor)
	s.logger.Info("policy deleted", "id", id, "name", existing.Name)
	return nil
}

// SeedPolicies stores policies from configuration when the repository is
// empty. Conditions that do not compile are kept and logged; they fail
// closed at decision time. Returns the number of policies stored.
func (s *PolicyAdminService) SeedPolicies(ctx context.Context, seeds []policy.Policy) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.ListPolicies(ctx)
	if err != nil {
		return 0, fmt.Errorf("list policies: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Info("policy store not empty, skipping seed policies", "existing", len(existing), "seeds", len(seeds))
		return 0, nil
	}

	now := s.now()
	stored := 0
	for _, seed := range seeds {
		p := seed.Clone()
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if err := p.Validate(); err != nil {
			s.logger.Warn("skipping invalid seed policy", "id", p.ID, "name", p.Name, "error", err)
			continue
		}
		s.warnConditions(p)
		if p.Version < 1 {
			p.Version = 1
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = p.CreatedAt
		}
		if err := s.repo.SavePolicy(ctx, &p); err != nil {
			return stored, fmt.Errorf("seed policy %s: %w", p.ID, err)
		}
		stored++
	}

	if err := s.persistState(ctx); err != nil {
		return stored, fmt.Errorf("persist state: %w", err)
	}
	s.logger.Info("seed policies loaded", "count", stored)
	return stored, nil
}

// LoadPoliciesFromState loads persisted policies into the repository.
// Policies whose ID is already present are skipped.
func (s *PolicyAdminService) LoadPoliciesFromState(ctx context.Context, appState *state.AppState) (int, error) {
	if appState == nil || len(appState.Policies) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, entry := range appState.Policies {
		if _, err := s.repo.GetPolicy(ctx, entry.ID); err == nil {
			continue
		}
		p := entry.ToPolicy()
		if err := p.Validate(); err != nil {
			s.logger.Error("skipping invalid policy in state file", "id", entry.ID, "error", err)
			continue
		}
		s.warnConditions(p)
		if err := s.repo.SavePolicy(ctx, &p); err != nil {
			return loaded, fmt.Errorf("load policy %s: %w", entry.ID, err)
		}
		loaded++
	}
	s.logger.Info("policies loaded from state", "count", loaded, "path", s.statePath())
	return loaded, nil
}

func (s *PolicyAdminService) validate(p policy.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if s.decisions != nil {
		if err := s.decisions.ValidateConditions(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *PolicyAdminService) warnConditions(p policy.Policy) {
	if s.decisions == nil {
		return
	}
	if err := s.decisions.ValidateConditions(p); err != nil {
		s.logger.Warn("policy has conditions that will fail closed", "id", p.ID, "name", p.Name, "error", err)
	}
}

func (s *PolicyAdminService) save(ctx context.Context, p *policy.Policy) error {
	if err := s.repo.SavePolicy(ctx, p); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	if err := s.persistState(ctx); err != nil {
		s.logger.Error("failed to persist state", "policy_id", p.ID, "error", err)
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// persistState writes the full policy set to state.json. Callers hold s.mu.
func (s *PolicyAdminService) persistState(ctx context.Context) error {
	if s.stateStore == nil {
		return nil
	}

	policies, err := s.repo.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("list policies for persistence: %w", err)
	}
	entries := make([]state.PolicyEntry, 0, len(policies))
	for _, p := range policies {
		entries = append(entries, state.EntryFromPolicy(p))
	}

	appState, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("load state for persistence: %w", err)
	}
	appState.Policies = entries
	if s.decisions != nil {
		appState.DefaultAction = string(s.decisions.DefaultAction())
	}
	return s.stateStore.Save(appState)
}

func (s *PolicyAdminService) statePath() string {
	if s.stateStore == nil {
		return ""
	}
	return s.stateStore.Path()
}

func (s *PolicyAdminService) recordChange(eventType string, p policy.Policy, actor string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(audit.Record{
		Timestamp:     s.now(),
		EventType:     eventType,
		Action:        string(p.Action),
		PolicyID:      p.ID,
		PolicyName:    p.Name,
		PolicyVersion: p.Version,
		Actor:         actor,
	})
}
