package condition

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// OneOf matches a string attribute against one or more allowed values.
// Comparison is case-insensitive and ignores surrounding whitespace.
type OneOf struct {
	typ    Type
	values []string
	attr   func(Attributes) string
}

func oneOfParser(t Type, attr func(Attributes) string) ParseFunc {
	return func(raw string) (Condition, error) {
		return ParseOneOf(t, raw, attr)
	}
}

// ParseOneOf parses a comma-separated value set for a string attribute.
func ParseOneOf(t Type, raw string, attr func(Attributes) string) (OneOf, error) {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		v := normalize(part)
		if v != "" && !slices.Contains(values, v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return OneOf{}, errors.New("no values given")
	}
	return OneOf{typ: t, values: values, attr: attr}, nil
}

// Type implements Condition.
func (o OneOf) Type() Type { return o.typ }

// Match implements Condition. An empty attribute never matches.
func (o OneOf) Match(attrs Attributes) bool {
	v := normalize(o.attr(attrs))
	if v == "" {
		return false
	}
	return slices.Contains(o.values, v)
}

// Values returns the normalized value set.
func (o OneOf) Values() []string {
	return slices.Clone(o.values)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AuthLevel orders authentication strengths.
type AuthLevel int

const (
	AuthNone AuthLevel = iota
	AuthPassword
	AuthMFA
	AuthHardwareKey
)

var authLevels = map[string]AuthLevel{
	"none":         AuthNone,
	"password":     AuthPassword,
	"mfa":          AuthMFA,
	"hardware_key": AuthHardwareKey,
}

// ParseAuthLevel parses an authentication strength name.
func ParseAuthLevel(s string) (AuthLevel, bool) {
	lvl, ok := authLevels[normalize(s)]
	return lvl, ok
}

// String returns the level name.
func (l AuthLevel) String() string {
	for name, lvl := range authLevels {
		if lvl == l {
			return name
		}
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// MinAuthStrength requires the subject to have authenticated at least at a level.
// Unrecognised request strengths count as AuthNone.
type MinAuthStrength struct {
	typ Type
	min AuthLevel
}

// ParseAuthStrength parses an auth_strength value such as "mfa".
func ParseAuthStrength(raw string) (MinAuthStrength, error) {
	lvl, ok := ParseAuthLevel(raw)
	if !ok {
		return MinAuthStrength{}, fmt.Errorf("unknown auth strength %q (want none, password, mfa or hardware_key)", strings.TrimSpace(raw))
	}
	return MinAuthStrength{typ: TypeAuthStrength, min: lvl}, nil
}

// ParseMFARequired parses a boolean mfa_required value.
// "false" imposes no requirement.
func ParseMFARequired(raw string) (MinAuthStrength, error) {
	required, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return MinAuthStrength{}, fmt.Errorf("expected a boolean, got %q", strings.TrimSpace(raw))
	}
	if !required {
		return MinAuthStrength{typ: TypeMFARequired, min: AuthNone}, nil
	}
	return MinAuthStrength{typ: TypeMFARequired, min: AuthMFA}, nil
}

// Type implements Condition.
func (m MinAuthStrength) Type() Type { return m.typ }

// Match implements Condition.
func (m MinAuthStrength) Match(attrs Attributes) bool {
	lvl, ok := ParseAuthLevel(attrs.AuthStrength)
	if !ok {
		lvl = AuthNone
	}
	return lvl >= m.min
}
