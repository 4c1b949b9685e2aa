package cel

import (
	"net/netip"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
)

// NewConditionEnvironment creates the CEL environment used by expression conditions.
//
// Variables mirror condition.Attributes:
//   - principal_id, groups, role, department, object
//   - risk_score, has_risk_score
//   - geo_location, location, device_type, connection_type, auth_strength
//   - ip (empty when absent), request_time, request_hour
//
// Custom functions: glob(pattern, name), ip_in_cidr(ip, cidr).
func NewConditionEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("principal_id", cel.StringType),
		cel.Variable("groups", cel.ListType(cel.StringType)),
		cel.Variable("role", cel.StringType),
		cel.Variable("department", cel.StringType),
		cel.Variable("object", cel.StringType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("has_risk_score", cel.BoolType),
		cel.Variable("geo_location", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("device_type", cel.StringType),
		cel.Variable("connection_type", cel.StringType),
		cel.Variable("auth_strength", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),
		cel.Variable("request_hour", cel.IntType),

		// glob("reports/*", object)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(patternVal, nameVal ref.Val) ref.Val {
					name, ok1 := nameVal.Value().(string)
					pattern, ok2 := patternVal.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(pattern, name)
					return types.Bool(matched)
				}),
			),
		),

		// ip_in_cidr(ip, "10.0.0.0/8")
		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ipStr, ok1 := ipVal.Value().(string)
					cidrStr, ok2 := cidrVal.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					addr, err := netip.ParseAddr(strings.TrimSpace(ipStr))
					if err != nil {
						return types.Bool(false)
					}
					prefix, err := netip.ParsePrefix(strings.TrimSpace(cidrStr))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(prefix.Contains(addr.Unmap()))
				}),
			),
		),
	)
}

// BuildActivation flattens attrs into the variable map expected by the
// environment. request_hour is computed in loc.
func BuildActivation(attrs condition.Attributes, loc *time.Location) map[string]any {
	groups := attrs.Groups
	if groups == nil {
		groups = []string{}
	}
	if loc == nil {
		loc = time.UTC
	}

	ip := ""
	if attrs.IP.IsValid() {
		ip = attrs.IP.String()
	}

	return map[string]any{
		"principal_id":    attrs.PrincipalID,
		"groups":          groups,
		"role":            attrs.Role,
		"department":      attrs.Department,
		"object":          attrs.Object,
		"risk_score":      attrs.RiskScore,
		"has_risk_score":  attrs.HasRiskScore,
		"geo_location":    attrs.GeoLocation,
		"location":        attrs.Location,
		"device_type":     attrs.DeviceType,
		"connection_type": attrs.ConnectionType,
		"auth_strength":   attrs.AuthStrength,
		"ip":              ip,
		"request_time":    attrs.Timestamp,
		"request_hour":    int64(attrs.Timestamp.In(loc).Hour()),
	}
}
