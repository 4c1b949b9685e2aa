package condition

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// comparators is ordered so two-character operators are tried first.
var comparators = []string{"<=", ">=", "==", "<", ">"}

// RiskThreshold compares the request risk score against a fixed value.
type RiskThreshold struct {
	op    string
	value float64
}

// ParseRiskThreshold parses a comparator expression such as "< 30" or ">=70.5".
func ParseRiskThreshold(raw string) (RiskThreshold, error) {
	s := strings.TrimSpace(raw)
	for _, op := range comparators {
		if !strings.HasPrefix(s, op) {
			continue
		}
		num := strings.TrimSpace(s[len(op):])
		if num == "" {
			return RiskThreshold{}, fmt.Errorf("missing number after %q", op)
		}
		v, err := strconv.ParseFloat(num, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return RiskThreshold{}, fmt.Errorf("invalid number %q", num)
		}
		return RiskThreshold{op: op, value: v}, nil
	}
	return RiskThreshold{}, errors.New("expected one of <, >, <=, >=, == followed by a number")
}

// Type implements Condition.
func (RiskThreshold) Type() Type { return TypeRiskScore }

// Match implements Condition. A request without a risk score never matches.
func (t RiskThreshold) Match(attrs Attributes) bool {
	if !attrs.HasRiskScore {
		return false
	}
	score := attrs.RiskScore
	switch t.op {
	case "<":
		return score < t.value
	case ">":
		return score > t.value
	case "<=":
		return score <= t.value
	case ">=":
		return score >= t.value
	case "==":
		return score == t.value
	}
	return false
}

// String renders the threshold in its canonical form.
func (t RiskThreshold) String() string {
	return t.op + " " + strconv.FormatFloat(t.value, 'f', -1, 64)
}
