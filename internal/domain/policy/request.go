package policy

import (
	"net/netip"
	"strings"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
)

// Subject describes the principal asking for access.
type Subject struct {
	// PrincipalID identifies the user, device or service.
	PrincipalID string
	// Groups are the group tags the principal belongs to.
	Groups []string
	// Role is the principal's role.
	Role string
	// RiskScore is the device risk score, nil when unknown.
	RiskScore *float64
	// GeoLocation is the resolved geographic origin.
	GeoLocation string
	// Location is the logical location (e.g. "office").
	Location string
	// DeviceType is the class of device in use.
	DeviceType string
	// Department is the principal's organisational unit.
	Department string
	// AuthStrength is how strongly the principal authenticated
	// ("none", "password", "mfa", "hardware_key").
	AuthStrength string
}

// InGroup reports whether the subject belongs to group.
func (s Subject) InGroup(group string) bool {
	for _, g := range s.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// RequestContext carries the environmental attributes of a request.
type RequestContext struct {
	// Timestamp is when the access is attempted.
	Timestamp time.Time
	// IPAddress is the source address as text.
	IPAddress string
	// ConnectionType is how the subject connects (e.g. "vpn", "lan").
	ConnectionType string
}

// Request is a single authorization question. It is never persisted.
type Request struct {
	// Subject holds the principal's attributes.
	Subject Subject
	// Object is the identifier of the protected resource.
	Object string
	// Context holds the environmental attributes.
	Context RequestContext
}

// Attributes flattens the request into the bag conditions read.
// An unparseable IP address is left as the zero netip.Addr.
func (r Request) Attributes() condition.Attributes {
	attrs := condition.Attributes{
		PrincipalID:    r.Subject.PrincipalID,
		Groups:         r.Subject.Groups,
		Role:           r.Subject.Role,
		GeoLocation:    r.Subject.GeoLocation,
		Location:       r.Subject.Location,
		DeviceType:     r.Subject.DeviceType,
		Department:     r.Subject.Department,
		AuthStrength:   r.Subject.AuthStrength,
		Timestamp:      r.Context.Timestamp,
		ConnectionType: r.Context.ConnectionType,
		Object:         r.Object,
	}
	if r.Subject.RiskScore != nil {
		attrs.RiskScore = *r.Subject.RiskScore
		attrs.HasRiskScore = true
	}
	if ip, err := netip.ParseAddr(strings.TrimSpace(r.Context.IPAddress)); err == nil {
		attrs.IP = ip
	}
	return attrs
}

// ScopeHint returns the hint a store may use to pre-filter policies.
func (r Request) ScopeHint() ScopeHint {
	return ScopeHint{
		Object:      r.Object,
		PrincipalID: r.Subject.PrincipalID,
		Groups:      r.Subject.Groups,
	}
}
