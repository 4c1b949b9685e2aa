// Package audit contains domain types for decision and change auditing.
package audit

import (
	"strings"
	"time"
)

// Event types recorded in the audit trail.
const (
	// EventTypeDecision is an access decision made by the decision service.
	EventTypeDecision = "access.decision"
	// EventTypePolicyCreate is a policy creation through the admin API.
	EventTypePolicyCreate = "config.policy_create"
	// EventTypePolicyUpdate is a full or partial policy update.
	EventTypePolicyUpdate = "config.policy_update"
	// EventTypePolicyDelete is a hard policy deletion.
	EventTypePolicyDelete = "config.policy_delete"
)

// Record is one append-only audit entry.
//
// For decisions the policy name and version are copied at decision time,
// so the entry stays meaningful after the policy is edited or deleted.
type Record struct {
	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
	// EventType is one of the EventType constants.
	EventType string `json:"event_type"`
	// RequestID correlates the record with an API call.
	RequestID string `json:"request_id,omitempty"`
	// PrincipalID is the subject of the decision.
	PrincipalID string `json:"principal_id,omitempty"`
	// Groups are the subject's groups at decision time.
	Groups []string `json:"groups,omitempty"`
	// Object is the resource the decision was about.
	Object string `json:"object,omitempty"`
	// IPAddress is the request's source address.
	IPAddress string `json:"ip_address,omitempty"`
	// Action is the resolved action, or the changed policy's action for config events.
	Action string `json:"action,omitempty"`
	// PolicyID is the deciding or changed policy.
	PolicyID string `json:"policy_id,omitempty"`
	// PolicyName is a snapshot of the policy name.
	PolicyName string `json:"policy_name,omitempty"`
	// PolicyVersion is a snapshot of the policy version.
	PolicyVersion int64 `json:"policy_version,omitempty"`
	// Reason is the decision reason.
	Reason string `json:"reason,omitempty"`
	// LatencyMicros is the decision latency in microseconds.
	LatencyMicros int64 `json:"latency_us,omitempty"`
	// Issues are conditions that could not be evaluated.
	Issues []string `json:"issues,omitempty"`
	// Error is the infrastructure error text, if any.
	Error string `json:"error,omitempty"`
	// Actor identifies who made a configuration change.
	Actor string `json:"actor,omitempty"`
}

// Filter specifies audit query parameters. Zero fields do not filter.
type Filter struct {
	// StartTime is the inclusive lower bound.
	StartTime time.Time
	// EndTime is the inclusive upper bound.
	EndTime time.Time
	// EventType filters by event type.
	EventType string
	// PrincipalID filters by subject.
	PrincipalID string
	// Object filters by resource.
	Object string
	// Action filters by resolved action.
	Action string
	// PolicyID filters by policy.
	PolicyID string
	// Limit caps the number of records returned (default 100, max 1000).
	Limit int
}

// Default and maximum query sizes.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// EffectiveLimit returns Limit clamped to [1, MaxQueryLimit].
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return f.Limit
	}
}

// Matches reports whether r passes the filter.
// String comparisons are case-insensitive.
func (f Filter) Matches(r Record) bool {
	if !f.StartTime.IsZero() && r.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && r.Timestamp.After(f.EndTime) {
		return false
	}
	return fieldMatches(f.EventType, r.EventType) &&
		fieldMatches(f.PrincipalID, r.PrincipalID) &&
		fieldMatches(f.Object, r.Object) &&
		fieldMatches(f.Action, r.Action) &&
		fieldMatches(f.PolicyID, r.PolicyID)
}

func fieldMatches(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}
