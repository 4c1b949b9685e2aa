package policy

import (
	"context"
	"errors"
)

// ErrPolicyNotFound is returned when a policy ID does not exist.
var ErrPolicyNotFound = errors.New("policy not found")

// ScopeHint narrows the policies a store needs to return.
// Stores may ignore it; the decision path re-checks every policy.
type ScopeHint struct {
	// Object is the resource being accessed.
	Object string
	// PrincipalID is the requesting principal.
	PrincipalID string
	// Groups are the principal's groups.
	Groups []string
}

// PolicyStore supplies enabled policies to the decision path.
// Reads must be atomic per record: a policy is returned either wholly
// before or wholly after a concurrent update.
type PolicyStore interface {
	// GetEnabledPolicies returns copies of all enabled policies relevant to hint.
	GetEnabledPolicies(ctx context.Context, hint ScopeHint) ([]Policy, error)
}

// PolicyRepository is the authoring side of policy persistence.
type PolicyRepository interface {
	PolicyStore
	// ListPolicies returns all policies, enabled or not, ordered by priority.
	ListPolicies(ctx context.Context) ([]Policy, error)
	// GetPolicy returns a policy by ID or ErrPolicyNotFound.
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	// SavePolicy creates or replaces a policy.
	SavePolicy(ctx context.Context, p *Policy) error
	// DeletePolicy removes a policy by ID or returns ErrPolicyNotFound.
	DeletePolicy(ctx context.Context, id string) error
}
