// Package policy contains domain types for access policy evaluation.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidPolicy is returned when a policy fails validation.
var ErrInvalidPolicy = errors.New("invalid policy")

// Action represents the outcome a matching policy prescribes.
type Action string

const (
	// ActionAllow permits the access.
	ActionAllow Action = "allow"
	// ActionDeny blocks the access.
	ActionDeny Action = "deny"
	// ActionStepUpAuth requires the subject to re-authenticate with a stronger factor.
	ActionStepUpAuth Action = "require-step-up-auth"
	// ActionLogOnly permits the access and flags it for review.
	ActionLogOnly Action = "log-only"
	// ActionIsolate moves the subject or device into a quarantine segment.
	ActionIsolate Action = "isolate"
	// ActionRedirect sends the subject elsewhere (e.g. a remediation portal).
	ActionRedirect Action = "redirect"
)

// Actions returns every valid action in declaration order.
func Actions() []Action {
	return []Action{ActionAllow, ActionDeny, ActionStepUpAuth, ActionLogOnly, ActionIsolate, ActionRedirect}
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction converts a string to an Action. Matching is case-insensitive.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Policy is one access rule: who (Subject) may do what (Action) to which
// resource (Object) under which Conditions.
type Policy struct {
	// ID is the unique identifier, assigned at creation and immutable.
	ID string
	// Name is a human-readable name. Not required to be unique.
	Name string
	// Description provides additional context about the policy.
	Description string
	// Subject is the principal matcher (see ParseSubject).
	Subject string
	// Object is the resource matcher (see ParseObject).
	Object string
	// Conditions maps condition type to value. All entries must hold.
	Conditions map[string]string
	// Action is applied when this policy wins.
	Action Action
	// Priority orders matching policies. Higher wins.
	Priority int
	// Enabled indicates if this policy takes part in evaluation.
	Enabled bool
	// Version increases on every update. Decisions snapshot it for audit.
	Version int64
	// CreatedAt is when the policy was created (UTC).
	CreatedAt time.Time
	// UpdatedAt is when the policy was last modified (UTC).
	UpdatedAt time.Time
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	cp := p
	if p.Conditions != nil {
		cp.Conditions = make(map[string]string, len(p.Conditions))
		for k, v := range p.Conditions {
			cp.Conditions[k] = v
		}
	}
	return cp
}

// Validate checks the structural fields of the policy.
// Condition values are checked separately against a condition registry.
func (p Policy) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(p.Subject) == "" {
		problems = append(problems, "subject is required")
	}
	if strings.TrimSpace(p.Object) == "" {
		problems = append(problems, "object is required")
	}
	if !p.Action.Valid() {
		problems = append(problems, fmt.Sprintf("action %q is not one of %s", p.Action, actionList()))
	}
	for k := range p.Conditions {
		if strings.TrimSpace(k) == "" {
			problems = append(problems, "condition type must not be empty")
			break
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, strings.Join(problems, "; "))
	}
	return nil
}

func actionList() string {
	names := make([]string, 0, len(Actions()))
	for _, a := range Actions() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}

// Less reports whether a ranks before b: higher priority first, then lower ID.
func Less(a, b Policy) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

// SortByPriority orders policies by priority descending, then ID ascending.
func SortByPriority(policies []Policy) {
	sort.Slice(policies, func(i, j int) bool {
		return Less(policies[i], policies[j])
	})
}
