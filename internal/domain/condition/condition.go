// Package condition contains the typed condition model used to constrain
// when an access policy applies to a request.
//
// Conditions are stored as a type name plus a string value. The Registry
// turns that pair into a typed Condition once, so evaluation never has to
// re-parse raw strings.
package condition

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// Type names a registered condition kind.
type Type string

const (
	// TypeIPRange matches the request IP against CIDRs, single addresses or ranges.
	TypeIPRange Type = "ip_range"
	// TypeTimeRange matches the request time-of-day against an "HH:MM-HH:MM" window.
	TypeTimeRange Type = "time_range"
	// TypeRiskScore compares the device risk score against a threshold.
	TypeRiskScore Type = "risk_score"
	// TypeDeviceType matches the device type attribute.
	TypeDeviceType Type = "device_type"
	// TypeLocation matches the location attribute (e.g. "office").
	TypeLocation Type = "location"
	// TypeGeoLocation matches the geo-location attribute.
	TypeGeoLocation Type = "geo_location"
	// TypeConnectionType matches the connection type attribute (e.g. "vpn").
	TypeConnectionType Type = "connection_type"
	// TypeDepartment matches the subject's department.
	TypeDepartment Type = "department"
	// TypeRole matches the subject's role.
	TypeRole Type = "role"
	// TypeAuthStrength requires a minimum authentication strength.
	TypeAuthStrength Type = "auth_strength"
	// TypeMFARequired requires multi-factor authentication when "true".
	TypeMFARequired Type = "mfa_required"
	// TypeExpression is a boolean expression over request attributes.
	// It has no built-in parser and must be registered by an adapter.
	TypeExpression Type = "expression"
)

// Sentinel errors for condition compilation and evaluation.
var (
	// ErrMalformedCondition is returned when a condition value cannot be parsed.
	ErrMalformedCondition = errors.New("malformed condition")
	// ErrUnknownConditionType is returned when no parser is registered for a type.
	ErrUnknownConditionType = errors.New("unknown condition type")
)

// Attributes is the flattened view of a request that conditions read.
type Attributes struct {
	// PrincipalID identifies the requesting subject.
	PrincipalID string
	// Groups are the subject's group memberships.
	Groups []string
	// Role is the subject's role.
	Role string
	// RiskScore is the device risk score. Only meaningful when HasRiskScore is set.
	RiskScore float64
	// HasRiskScore reports whether the request carried a risk score.
	HasRiskScore bool
	// GeoLocation is the resolved geographic location (country, region).
	GeoLocation string
	// Location is the logical location (e.g. "office", "home").
	Location string
	// DeviceType is the class of device (e.g. "laptop", "mobile").
	DeviceType string
	// Department is the subject's organisational unit.
	Department string
	// AuthStrength is how strongly the subject authenticated.
	AuthStrength string
	// IP is the source address. The zero value means absent or unparseable.
	IP netip.Addr
	// Timestamp is when the access is attempted.
	Timestamp time.Time
	// ConnectionType is how the subject connects (e.g. "vpn", "lan").
	ConnectionType string
	// Object is the identifier of the resource being accessed.
	Object string
}

// Condition is a parsed constraint ready to be matched against attributes.
// Implementations must be safe for concurrent use and free of side effects.
type Condition interface {
	// Type returns the condition kind.
	Type() Type
	// Match reports whether the attributes satisfy the condition.
	Match(attrs Attributes) bool
}

// Outcome is the result of evaluating one condition.
type Outcome int

const (
	// OutcomeMatch means the condition holds.
	OutcomeMatch Outcome = iota
	// OutcomeNoMatch means the condition was evaluated and does not hold.
	OutcomeNoMatch
	// OutcomeMalformed means the value could not be parsed. Treated as no match.
	OutcomeMalformed
	// OutcomeUnknownType means no parser is registered. Treated as no match.
	OutcomeUnknownType
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnknownType:
		return "unknown_type"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Matched reports whether the outcome lets the policy apply.
// Only OutcomeMatch does; every failure mode fails closed.
func (o Outcome) Matched() bool {
	return o == OutcomeMatch
}

// Unevaluable reports whether the condition could not be evaluated at all.
func (o Outcome) Unevaluable() bool {
	return o == OutcomeMalformed || o == OutcomeUnknownType
}

// OutcomeOf maps a compile error to the outcome it produces.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeMatch
	case errors.Is(err, ErrUnknownConditionType):
		return OutcomeUnknownType
	default:
		return OutcomeMalformed
	}
}

// Issue records a condition that could not be evaluated.
type Issue struct {
	// Type is the condition type as written in the policy.
	Type Type `json:"type"`
	// Value is the raw condition value.
	Value string `json:"value"`
	// Outcome is OutcomeMalformed or OutcomeUnknownType.
	Outcome Outcome `json:"-"`
	// Kind is Outcome.String(), kept for serialisation.
	Kind string `json:"kind"`
	// Message is the underlying error text.
	Message string `json:"message"`
}

// NewIssue builds an Issue from a compile error.
func NewIssue(t Type, value string, err error) Issue {
	outcome := OutcomeOf(err)
	return Issue{
		Type:    t,
		Value:   value,
		Outcome: outcome,
		Kind:    outcome.String(),
		Message: err.Error(),
	}
}
