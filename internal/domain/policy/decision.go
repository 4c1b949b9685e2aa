package policy

import (
	"sort"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
)

// Sentinel policy identifiers used when no stored policy decided.
const (
	// DefaultPolicyID marks a decision produced by the no-match default.
	DefaultPolicyID = "<default>"
	// ErrorPolicyID marks a decision produced by an infrastructure failure.
	ErrorPolicyID = "<error>"
)

// Reason classifies how a decision was reached.
type Reason string

const (
	// ReasonPolicyMatch means a stored policy matched and won.
	ReasonPolicyMatch Reason = "policy_match"
	// ReasonNoMatch means no policy matched and the default applied.
	ReasonNoMatch Reason = "no_match_default"
	// ReasonInfrastructureError means the policy set could not be loaded.
	ReasonInfrastructureError Reason = "infrastructure_error"
)

// Decision is the resolved outcome for one request.
type Decision struct {
	// Action is the resolved action.
	Action Action
	// PolicyID is the deciding policy, DefaultPolicyID or ErrorPolicyID.
	PolicyID string
	// PolicyName is a snapshot of the deciding policy's name.
	PolicyName string
	// PolicyVersion is a snapshot of the deciding policy's version.
	PolicyVersion int64
	// Reason explains how the decision was reached.
	Reason Reason
	// Timestamp is when the decision was made.
	Timestamp time.Time
	// MatchedPolicies is the number of policies that matched.
	MatchedPolicies int
	// Issues lists conditions that could not be evaluated.
	Issues []condition.Issue
	// Error describes the infrastructure failure for ReasonInfrastructureError.
	Error string
}

// Allowed reports whether the action lets the access proceed.
// Only allow and log-only do.
func (d Decision) Allowed() bool {
	return d.Action == ActionAllow || d.Action == ActionLogOnly
}

// DefaultDecision is returned when no policy matches.
// An invalid default falls back to deny.
func DefaultDecision(def Action, now time.Time) Decision {
	if !def.Valid() {
		def = ActionDeny
	}
	return Decision{
		Action:    def,
		PolicyID:  DefaultPolicyID,
		Reason:    ReasonNoMatch,
		Timestamp: now,
	}
}

// ErrorDecision is the fail-closed decision for an unavailable policy store.
func ErrorDecision(err error, now time.Time) Decision {
	d := Decision{
		Action:    ActionDeny,
		PolicyID:  ErrorPolicyID,
		Reason:    ReasonInfrastructureError,
		Timestamp: now,
	}
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

// Select resolves a decision from compiled policies.
//
// Disabled policies are skipped even if a store returned them. Among the
// matching policies the highest priority wins and ties go to the lowest ID.
// There is no implicit deny-overrides: priority alone decides. When nothing
// matches the default action applies.
func Select(req Request, policies []*CompiledPolicy, def Action, now time.Time) Decision {
	var (
		matched []*CompiledPolicy
		issues  []condition.Issue
	)
	for _, cp := range policies {
		if cp == nil || !cp.Policy.Enabled {
			continue
		}
		ok, found := cp.Evaluate(req)
		issues = append(issues, found...)
		if ok {
			matched = append(matched, cp)
		}
	}

	if len(matched) == 0 {
		d := DefaultDecision(def, now)
		d.Issues = issues
		return d
	}

	sort.Slice(matched, func(i, j int) bool {
		return Less(matched[i].Policy, matched[j].Policy)
	})
	winner := matched[0].Policy

	return Decision{
		Action:          winner.Action,
		PolicyID:        winner.ID,
		PolicyName:      winner.Name,
		PolicyVersion:   winner.Version,
		Reason:          ReasonPolicyMatch,
		Timestamp:       now,
		MatchedPolicies: len(matched),
		Issues:          issues,
	}
}

// Decide compiles policies and selects a decision in one step.
func Decide(req Request, policies []Policy, reg *condition.Registry, def Action, now time.Time) Decision {
	compiled := make([]*CompiledPolicy, 0, len(policies))
	for _, p := range policies {
		compiled = append(compiled, Compile(p, reg))
	}
	return Select(req, compiled, def, now)
}
