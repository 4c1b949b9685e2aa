package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// StatsService keeps in-process decision counters for the admin summary.
// It implements DecisionMetrics, so it can be attached to a DecisionService
// alongside the Prometheus sink. All methods are safe for concurrent use.
type StatsService struct {
	total       atomic.Int64
	allowed     atomic.Int64
	noMatch     atomic.Int64
	infraErrors atomic.Int64
	storeErrors atomic.Int64

	mu          sync.Mutex
	byAction    map[policy.Action]int64
	issueCounts map[string]int64 // "<type>/<kind>"
	since       time.Time

	now func() time.Time
}

// NewStatsService creates a StatsService with all counters at zero.
func NewStatsService() *StatsService {
	s := &StatsService{now: time.Now}
	s.Reset()
	return s
}

// ObserveDecision implements DecisionMetrics.
func (s *StatsService) ObserveDecision(action policy.Action, reason policy.Reason, _ time.Duration) {
	s.total.Add(1)
	if action == policy.ActionAllow || action == policy.ActionLogOnly {
		s.allowed.Add(1)
	}
	switch reason {
	case policy.ReasonNoMatch:
		s.noMatch.Add(1)
	case policy.ReasonInfrastructureError:
		s.infraErrors.Add(1)
	}
	s.mu.Lock()
	s.byAction[action]++
	s.mu.Unlock()
}

// ObserveConditionIssue implements DecisionMetrics.
func (s *StatsService) ObserveConditionIssue(t condition.Type, kind string) {
	s.mu.Lock()
	s.issueCounts[string(t)+"/"+kind]++
	s.mu.Unlock()
}

// ObserveStoreError implements DecisionMetrics.
func (s *StatsService) ObserveStoreError() {
	s.storeErrors.Add(1)
}

// Stats is a snapshot of the decision counters.
type Stats struct {
	Since                time.Time        `json:"since"`
	Total                int64            `json:"total"`
	Allowed              int64            `json:"allowed"`
	NotAllowed           int64            `json:"not_allowed"`
	NoMatch              int64            `json:"no_match_default"`
	InfrastructureErrors int64            `json:"infrastructure_errors"`
	StoreErrors          int64            `json:"store_errors"`
	ByAction             map[string]int64 `json:"by_action"`
	ConditionIssues      map[string]int64 `json:"condition_issues"`
}

// GetStats returns a snapshot. Counters are read individually, so totals
// may be off by in-flight decisions.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	byAction := make(map[string]int64, len(s.byAction))
	for a, n := range s.byAction {
		byAction[string(a)] = n
	}
	issues := make(map[string]int64, len(s.issueCounts))
	for k, n := range s.issueCounts {
		issues[k] = n
	}
	since := s.since
	s.mu.Unlock()

	total := s.total.Load()
	allowed := s.allowed.Load()
	return Stats{
		Since:                since,
		Total:                total,
		Allowed:              allowed,
		NotAllowed:           total - allowed,
		NoMatch:              s.noMatch.Load(),
		InfrastructureErrors: s.infraErrors.Load(),
		StoreErrors:          s.storeErrors.Load(),
		ByAction:             byAction,
		ConditionIssues:      issues,
	}
}

// Reset sets all counters to zero and restarts the window.
func (s *StatsService) Reset() {
	s.total.Store(0)
	s.allowed.Store(0)
	s.noMatch.Store(0)
	s.infraErrors.Store(0)
	s.storeErrors.Store(0)

	s.mu.Lock()
	s.byAction = make(map[policy.Action]int64)
	s.issueCounts = make(map[string]int64)
	s.since = s.now().UTC()
	s.mu.Unlock()
}
