package memory

import (
	"context"
	"sync"

	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// PolicyStore implements policy.PolicyRepository with an in-memory map.
// Every read and write copies, so callers never share state with the store.
type PolicyStore struct {
	policies map[string]policy.Policy // ID -> Policy
	mu       sync.RWMutex
}

// NewPolicyStore creates an empty in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		policies: make(map[string]policy.Policy),
	}
}

// GetEnabledPolicies returns copies of all enabled policies.
// The hint is ignored; the map is small enough to scan.
func (s *PolicyStore) GetEnabledPolicies(_ context.Context, _ policy.ScopeHint) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]policy.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if p.Enabled {
			result = append(result, p.Clone())
		}
	}
	return result, nil
}

// ListPolicies returns copies of all policies ordered by priority.
func (s *PolicyStore) ListPolicies(_ context.Context) ([]policy.Policy, error) {
	s.mu.RLock()
	result := make([]policy.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		result = append(result, p.Clone())
	}
	s.mu.RUnlock()

	policy.SortByPriority(result)
	return result, nil
}

// GetPolicy returns a copy of the policy with id, or policy.ErrPolicyNotFound.
func (s *PolicyStore) GetPolicy(_ context.Context, id string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, policy.ErrPolicyNotFound
	}
	c := p.Clone()
	return &c, nil
}

// SavePolicy creates or replaces a policy.
func (s *PolicyStore) SavePolicy(_ context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p.Clone()
	return nil
}

// AddPolicy stores a policy without a context. Used for seeding and tests.
func (s *PolicyStore) AddPolicy(p policy.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p.Clone()
}

// DeletePolicy removes a policy, or returns policy.ErrPolicyNotFound.
func (s *PolicyStore) DeletePolicy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return policy.ErrPolicyNotFound
	}
	delete(s.policies, id)
	return nil
}

// Len returns the number of stored policies.
func (s *PolicyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}
