package policy

import (
	"sort"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
)

// compiledCondition is one condition entry after parsing.
// Exactly one of cond and issue is set.
type compiledCondition struct {
	typ   condition.Type
	raw   string
	cond  condition.Condition
	issue *condition.Issue
}

// CompiledPolicy is a policy with its matchers and conditions parsed once.
// It is immutable and safe for concurrent use.
type CompiledPolicy struct {
	// Policy is the source record.
	Policy     Policy
	subject    SubjectMatcher
	object     ObjectMatcher
	conditions []compiledCondition
	issues     []condition.Issue
}

// Compile parses the subject, object and every condition of p.
// Conditions that cannot be compiled are kept as failing entries, so
// the policy still compiles but can never match.
func Compile(p Policy, reg *condition.Registry) *CompiledPolicy {
	cp := &CompiledPolicy{
		Policy:     p.Clone(),
		subject:    ParseSubject(p.Subject),
		object:     ParseObject(p.Object),
		conditions: make([]compiledCondition, 0, len(p.Conditions)),
	}

	keys := make([]string, 0, len(p.Conditions))
	for k := range p.Conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		typ, raw := condition.Type(k), p.Conditions[k]
		c, err := reg.Compile(typ, raw)
		if err != nil {
			issue := condition.NewIssue(typ, raw, err)
			cp.conditions = append(cp.conditions, compiledCondition{typ: typ, raw: raw, issue: &issue})
			cp.issues = append(cp.issues, issue)
			continue
		}
		cp.conditions = append(cp.conditions, compiledCondition{typ: typ, raw: raw, cond: c})
	}
	return cp
}

// Issues returns the compile-time condition problems of the policy.
func (cp *CompiledPolicy) Issues() []condition.Issue {
	return append([]condition.Issue(nil), cp.issues...)
}

// Matches reports whether the policy applies to req.
func (cp *CompiledPolicy) Matches(req Request) bool {
	ok, _ := cp.Evaluate(req)
	return ok
}

// Evaluate reports whether the policy applies to req, together with any
// conditions that could not be evaluated. Subject and object are checked
// first; conditions are only inspected when both match. Every condition
// is visited so that all problems are reported, not just the first.
func (cp *CompiledPolicy) Evaluate(req Request) (bool, []condition.Issue) {
	if !cp.subject.Match(req.Subject) || !cp.object.Match(req.Object) {
		return false, nil
	}

	attrs := req.Attributes()
	matched := true
	var issues []condition.Issue
	for _, cc := range cp.conditions {
		outcome, issue := cc.evaluate(attrs)
		if issue != nil {
			issues = append(issues, *issue)
		}
		if !outcome.Matched() {
			matched = false
		}
	}
	return matched, issues
}

func (cc compiledCondition) evaluate(attrs condition.Attributes) (condition.Outcome, *condition.Issue) {
	if cc.issue != nil {
		return cc.issue.Outcome, cc.issue
	}
	ok, err := condition.Match(cc.cond, attrs)
	if err != nil {
		issue := condition.NewIssue(cc.typ, cc.raw, err)
		return issue.Outcome, &issue
	}
	if ok {
		return condition.OutcomeMatch, nil
	}
	return condition.OutcomeNoMatch, nil
}

// ConditionTrace is the evaluation result of a single condition.
type ConditionTrace struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// PolicyTrace explains how a policy was evaluated against a request.
type PolicyTrace struct {
	PolicyID       string           `json:"policy_id"`
	PolicyName     string           `json:"policy_name"`
	Priority       int              `json:"priority"`
	Action         Action           `json:"action"`
	Enabled        bool             `json:"enabled"`
	SubjectMatched bool             `json:"subject_matched"`
	ObjectMatched  bool             `json:"object_matched"`
	Conditions     []ConditionTrace `json:"conditions"`
	Matched        bool             `json:"matched"`
}

// Trace evaluates every part of the policy, without short-circuiting.
// Matched is computed the same way as Evaluate and ignores Enabled.
func (cp *CompiledPolicy) Trace(req Request) PolicyTrace {
	tr := PolicyTrace{
		PolicyID:       cp.Policy.ID,
		PolicyName:     cp.Policy.Name,
		Priority:       cp.Policy.Priority,
		Action:         cp.Policy.Action,
		Enabled:        cp.Policy.Enabled,
		SubjectMatched: cp.subject.Match(req.Subject),
		ObjectMatched:  cp.object.Match(req.Object),
		Conditions:     make([]ConditionTrace, 0, len(cp.conditions)),
	}

	attrs := req.Attributes()
	allHold := true
	for _, cc := range cp.conditions {
		outcome, issue := cc.evaluate(attrs)
		ct := ConditionTrace{Type: string(cc.typ), Value: cc.raw, Outcome: outcome.String()}
		if issue != nil {
			ct.Message = issue.Message
		}
		if !outcome.Matched() {
			allHold = false
		}
		tr.Conditions = append(tr.Conditions, ct)
	}
	tr.Matched = tr.SubjectMatched && tr.ObjectMatched && allHold
	return tr
}

// Matches is the one-shot form of Compile(p, reg).Matches(req).
func Matches(p Policy, req Request, reg *condition.Registry) bool {
	return Compile(p, reg).Matches(req)
}
