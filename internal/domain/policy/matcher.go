package policy

import (
	"net/netip"
	"strings"
)

var (
	subjectWildcards = map[string]bool{"*": true, "all": true, "all_users": true}
	objectWildcards  = map[string]bool{"*": true, "all": true, "all_systems": true}
)

type subjectKind int

const (
	subjectNone subjectKind = iota
	subjectAny
	subjectPrincipal
	subjectGroup
	subjectRole
	subjectPrincipalOrGroup
)

// SubjectMatcher decides whether a policy's subject expression covers a principal.
//
// Accepted forms:
//
//	*, all, all_users      every principal
//	user:<id>              exact principal identifier
//	group:<tag>            group membership
//	role:<name>            role equality
//	<name>                 principal identifier or group membership
type SubjectMatcher struct {
	kind  subjectKind
	value string
}

// ParseSubject parses a subject expression. An empty expression matches nobody.
func ParseSubject(expr string) SubjectMatcher {
	e := strings.TrimSpace(expr)
	switch {
	case e == "":
		return SubjectMatcher{kind: subjectNone}
	case subjectWildcards[strings.ToLower(e)]:
		return SubjectMatcher{kind: subjectAny}
	}
	if prefix, rest, ok := strings.Cut(e, ":"); ok && rest != "" {
		switch strings.ToLower(prefix) {
		case "user":
			return SubjectMatcher{kind: subjectPrincipal, value: rest}
		case "group":
			return SubjectMatcher{kind: subjectGroup, value: rest}
		case "role":
			return SubjectMatcher{kind: subjectRole, value: rest}
		}
	}
	return SubjectMatcher{kind: subjectPrincipalOrGroup, value: e}
}

// Match reports whether s is covered.
func (m SubjectMatcher) Match(s Subject) bool {
	switch m.kind {
	case subjectAny:
		return true
	case subjectPrincipal:
		return s.PrincipalID == m.value
	case subjectGroup:
		return s.InGroup(m.value)
	case subjectRole:
		return strings.EqualFold(s.Role, m.value)
	case subjectPrincipalOrGroup:
		return s.PrincipalID == m.value || s.InGroup(m.value)
	default:
		return false
	}
}

type objectKind int

const (
	objectNone objectKind = iota
	objectAny
	objectExact
	objectPrefix
	objectNetwork
)

// ObjectMatcher decides whether a policy's object expression covers a resource.
//
// Accepted forms:
//
//	*, all, all_systems    every object
//	<prefix>*              string prefix
//	<cidr>                 network containment for address or CIDR objects
//	<name>                 exact string equality
type ObjectMatcher struct {
	kind    objectKind
	value   string
	network netip.Prefix
}

// ParseObject parses an object expression. An empty expression matches nothing.
func ParseObject(expr string) ObjectMatcher {
	e := strings.TrimSpace(expr)
	switch {
	case e == "":
		return ObjectMatcher{kind: objectNone}
	case objectWildcards[strings.ToLower(e)]:
		return ObjectMatcher{kind: objectAny}
	case strings.HasSuffix(e, "*"):
		return ObjectMatcher{kind: objectPrefix, value: strings.TrimSuffix(e, "*")}
	}
	if p, err := netip.ParsePrefix(e); err == nil {
		return ObjectMatcher{kind: objectNetwork, network: p.Masked(), value: e}
	}
	return ObjectMatcher{kind: objectExact, value: e}
}

// Match reports whether object is covered.
func (m ObjectMatcher) Match(object string) bool {
	o := strings.TrimSpace(object)
	switch m.kind {
	case objectAny:
		return true
	case objectExact:
		return o == m.value
	case objectPrefix:
		return strings.HasPrefix(o, m.value)
	case objectNetwork:
		return m.containsNetwork(o)
	default:
		return false
	}
}

func (m ObjectMatcher) containsNetwork(o string) bool {
	if addr, err := netip.ParseAddr(o); err == nil {
		return m.network.Contains(addr.Unmap())
	}
	if p, err := netip.ParsePrefix(o); err == nil {
		return p.Bits() >= m.network.Bits() && m.network.Contains(p.Addr())
	}
	return o == m.value
}
