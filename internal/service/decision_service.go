// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// ErrStoreUnavailable wraps any failure to load the policy set.
var ErrStoreUnavailable = errors.New("policy store unavailable")

// Defaults for DecisionService.
const (
	DefaultStoreTimeout     = 500 * time.Millisecond
	DefaultCompileCacheSize = 10000
)

// DecisionMetrics receives decision telemetry.
type DecisionMetrics interface {
	// ObserveDecision records one decision and how long it took.
	ObserveDecision(action policy.Action, reason policy.Reason, elapsed time.Duration)
	// ObserveConditionIssue records a condition that could not be evaluated.
	ObserveConditionIssue(t condition.Type, kind string)
	// ObserveStoreError records a failed or timed-out store fetch.
	ObserveStoreError()
}

type noopMetrics struct{}

type multiMetrics []DecisionMetrics

func (mm multiMetrics) ObserveDecision(a policy.Action, r policy.Reason, d time.Duration) {
	for _, m := range mm {
		m.ObserveDecision(a, r, d)
	}
}

func (mm multiMetrics) ObserveConditionIssue(t condition.Type, kind string) {
	for _, m := range mm {
		m.ObserveConditionIssue(t, kind)
	}
}

func (mm multiMetrics) ObserveStoreError() {
	for _, m := range mm {
		m.ObserveStoreError()
	}
}

func (noopMetrics) ObserveDecision(policy.Action, policy.Reason, time.Duration) {}
func (noopMetrics) ObserveConditionIssue(condition.Type, string)               {}
func (noopMetrics) ObserveStoreError()                                         {}

// DecisionService is the policy decision point. It fetches enabled policies
// from an injected store, compiles them through an LRU cache and selects a
// decision. It never returns an error: store failures fail closed.
type DecisionService struct {
	store         policy.PolicyStore
	registry      *condition.Registry
	cache         *CompileCache
	defaultAction policy.Action
	storeTimeout  time.Duration
	metrics       DecisionMetrics
	now           func() time.Time
	logger        *slog.Logger
}

// DecisionOption configures DecisionService.
type DecisionOption func(*DecisionService)

// WithDefaultAction sets the action used when no policy matches.
// Defaults to deny; invalid actions are ignored.
func WithDefaultAction(a policy.Action) DecisionOption {
	return func(s *DecisionService) {
		if a.Valid() {
			s.defaultAction = a
		}
	}
}

// WithStoreTimeout bounds each policy store fetch.
func WithStoreTimeout(d time.Duration) DecisionOption {
	return func(s *DecisionService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithCompileCacheSize sets the maximum number of cached compiled policies.
func WithCompileCacheSize(size int) DecisionOption {
	return func(s *DecisionService) {
		s.cache = NewCompileCache(size)
	}
}

// WithDecisionMetrics adds a metrics sink. Repeated options fan out to
// every sink in order.
func WithDecisionMetrics(m DecisionMetrics) DecisionOption {
	return func(s *DecisionService) {
		if m == nil {
			return
		}
		switch cur := s.metrics.(type) {
		case noopMetrics:
			s.metrics = m
		case multiMetrics:
			s.metrics = append(cur, m)
		default:
			s.metrics = multiMetrics{cur, m}
		}
	}
}

// WithClock overrides the decision timestamp source. Used by tests.
func WithClock(now func() time.Time) DecisionOption {
	return func(s *DecisionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDecisionService creates a DecisionService reading from store.
func NewDecisionService(store policy.PolicyStore, registry *condition.Registry, logger *slog.Logger, opts ...DecisionOption) *DecisionService {
	s := &DecisionService{
		store:         store,
		registry:      registry,
		cache:         NewCompileCache(DefaultCompileCacheSize),
		defaultAction: policy.ActionDeny,
		storeTimeout:  DefaultStoreTimeout,
		metrics:       noopMetrics{},
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.defaultAction == policy.ActionAllow {
		logger.Warn("default decision is allow: requests matching no policy will be permitted")
	}
	logger.Info("decision service initialized",
		"default_action", s.defaultAction,
		"store_timeout", s.storeTimeout,
		"compile_cache_size", s.cache.Capacity(),
		"condition_types", len(registry.Types()),
	)
	return s
}

// DefaultAction returns the configured no-match action.
func (s *DecisionService) DefaultAction() policy.Action {
	return s.defaultAction
}

// Registry returns the condition registry used for compilation.
func (s *DecisionService) Registry() *condition.Registry {
	return s.registry
}

// Decide resolves one request against the store's enabled policies.
func (s *DecisionService) Decide(ctx context.Context, req policy.Request) policy.Decision {
	start := time.Now()
	now := s.now()

	compiled, err := s.load(ctx, req.ScopeHint())
	if err != nil {
		s.metrics.ObserveStoreError()
		s.logger.Error("policy store unavailable, failing closed",
			"principal", req.Subject.PrincipalID,
			"object", req.Object,
			"error", err,
		)
		d := policy.ErrorDecision(err, now)
		s.metrics.ObserveDecision(d.Action, d.Reason, time.Since(start))
		return d
	}

	d := policy.Select(req, compiled, s.defaultAction, now)
	s.reportIssues(d.Issues)
	s.metrics.ObserveDecision(d.Action, d.Reason, time.Since(start))

	s.logger.Debug("decision made",
		"principal", req.Subject.PrincipalID,
		"object", req.Object,
		"action", d.Action,
		"policy_id", d.PolicyID,
		"reason", d.Reason,
		"matched", d.MatchedPolicies,
	)
	return d
}

// DecideWith resolves a request against an explicit policy set without
// touching the store. It has no side effects beyond the compile cache.
func (s *DecisionService) DecideWith(req policy.Request, policies []policy.Policy) policy.Decision {
	compiled := make([]*policy.CompiledPolicy, 0, len(policies))
	for _, p := range policies {
		compiled = append(compiled, s.Compile(p))
	}
	return policy.Select(req, compiled, s.defaultAction, s.now())
}

// Explain resolves a request and returns a trace for every enabled policy,
// ordered by priority. Store failures yield the error decision and no traces.
func (s *DecisionService) Explain(ctx context.Context, req policy.Request) (policy.Decision, []policy.PolicyTrace) {
	now := s.now()
	compiled, err := s.load(ctx, req.ScopeHint())
	if err != nil {
		s.metrics.ObserveStoreError()
		s.logger.Error("policy store unavailable during explain", "error", err)
		return policy.ErrorDecision(err, now), nil
	}

	ordered := make([]*policy.CompiledPolicy, 0, len(compiled))
	for _, cp := range compiled {
		if cp.Policy.Enabled {
			ordered = append(ordered, cp)
		}
	}
	sortCompiled(ordered)

	traces := make([]policy.PolicyTrace, 0, len(ordered))
	for _, cp := range ordered {
		traces = append(traces, cp.Trace(req))
	}
	return policy.Select(req, ordered, s.defaultAction, now), traces
}

// Compile returns the compiled form of p, using the cache.
func (s *DecisionService) Compile(p policy.Policy) *policy.CompiledPolicy {
	key := compileKey(p)
	if cp, ok := s.cache.Get(key); ok {
		return cp
	}
	cp := policy.Compile(p, s.registry)
	for _, issue := range cp.Issues() {
		s.logger.Warn("policy has an unevaluable condition",
			"policy_id", p.ID,
			"type", issue.Type,
			"kind", issue.Kind,
			"error", issue.Message,
		)
	}
	s.cache.Put(key, cp)
	return cp
}

// ValidateConditions compiles every condition of p and reports the first
// problem as an ErrInvalidPolicy.
func (s *DecisionService) ValidateConditions(p policy.Policy) error {
	issues := policy.Compile(p, s.registry).Issues()
	if len(issues) == 0 {
		return nil
	}
	return fmt.Errorf("%w: condition %q: %s", policy.ErrInvalidPolicy, issues[0].Type, issues[0].Message)
}

// Ping checks that the store answers within the store timeout.
func (s *DecisionService) Ping(ctx context.Context) error {
	_, err := s.fetch(ctx, policy.ScopeHint{})
	return err
}

// InvalidateCache drops every compiled policy.
func (s *DecisionService) InvalidateCache() {
	s.cache.Clear()
}

// CacheSize returns the number of cached compiled policies.
func (s *DecisionService) CacheSize() int {
	return s.cache.Size()
}

func (s *DecisionService) load(ctx context.Context, hint policy.ScopeHint) ([]*policy.CompiledPolicy, error) {
	policies, err := s.fetch(ctx, hint)
	if err != nil {
		return nil, err
	}
	compiled := make([]*policy.CompiledPolicy, 0, len(policies))
	for _, p := range policies {
		compiled = append(compiled, s.Compile(p))
	}
	return compiled, nil
}

type fetchResult struct {
	policies []policy.Policy
	err      error
}

// fetch calls the store with a deadline. The call runs in its own goroutine
// so a store that ignores its context still cannot hold up a decision.
func (s *DecisionService) fetch(ctx context.Context, hint policy.ScopeHint) ([]policy.Policy, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fetchResult{err: fmt.Errorf("store panic: %v", rec)}
			}
		}()
		ps, err := s.store.GetEnabledPolicies(ctx, hint)
		done <- fetchResult{policies: ps, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, r.err)
		}
		return r.policies, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
	}
}

func (s *DecisionService) reportIssues(issues []condition.Issue) {
	for _, issue := range issues {
		s.metrics.ObserveConditionIssue(issue.Type, issue.Kind)
		if issue.Outcome == condition.OutcomeUnknownType {
			s.logger.Warn("unevaluable condition: unknown type", "type", issue.Type, "value", issue.Value)
			continue
		}
		s.logger.Warn("unevaluable condition: malformed value", "type", issue.Type, "value", issue.Value, "error", issue.Message)
	}
}

func sortCompiled(cps []*policy.CompiledPolicy) {
	sort.Slice(cps, func(i, j int) bool {
		return policy.Less(cps[i].Policy, cps[j].Policy)
	})
}
