package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// DefaultMaxEvaluations bounds the in-memory evaluation history.
const DefaultMaxEvaluations = 1000

// AuditRecorder accepts audit records. AuditService implements it.
type AuditRecorder interface {
	Record(r audit.Record)
}

// DecisionRequest is the API form of an access request.
type DecisionRequest struct {
	PrincipalID    string     `json:"principal_id"`
	Groups         []string   `json:"groups,omitempty"`
	Role           string     `json:"role,omitempty"`
	RiskScore      *float64   `json:"risk_score,omitempty"`
	GeoLocation    string     `json:"geo_location,omitempty"`
	Location       string     `json:"location,omitempty"`
	DeviceType     string     `json:"device_type,omitempty"`
	Department     string     `json:"department,omitempty"`
	AuthStrength   string     `json:"auth_strength,omitempty"`
	Object         string     `json:"object"`
	IPAddress      string     `json:"ip_address,omitempty"`
	ConnectionType string     `json:"connection_type,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// ToRequest converts the API form to a domain request.
// A missing timestamp is replaced with now.
func (r DecisionRequest) ToRequest(now time.Time) policy.Request {
	ts := now
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		ts = *r.Timestamp
	}
	return policy.Request{
		Subject: policy.Subject{
			PrincipalID:  r.PrincipalID,
			Groups:       r.Groups,
			Role:         r.Role,
			RiskScore:    r.RiskScore,
			GeoLocation:  r.GeoLocation,
			Location:     r.Location,
			DeviceType:   r.DeviceType,
			Department:   r.Department,
			AuthStrength: r.AuthStrength,
		},
		Object: r.Object,
		Context: policy.RequestContext{
			Timestamp:      ts,
			IPAddress:      r.IPAddress,
			ConnectionType: r.ConnectionType,
		},
	}
}

// DecisionResponse is the API form of a decision.
type DecisionResponse struct {
	RequestID     string               `json:"request_id"`
	Action        policy.Action        `json:"action"`
	Allowed       bool                 `json:"allowed"`
	PolicyID      string               `json:"policy_id"`
	PolicyName    string               `json:"policy_name,omitempty"`
	PolicyVersion int64                `json:"policy_version,omitempty"`
	Reason        policy.Reason        `json:"reason"`
	Matched       int                  `json:"matched_policies"`
	Issues        []IssueResponse      `json:"issues,omitempty"`
	Error         string               `json:"error,omitempty"`
	HelpText      string               `json:"help_text,omitempty"`
	HelpURL       string               `json:"help_url,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
	LatencyMicros int64                `json:"latency_us"`
	Trace         []policy.PolicyTrace `json:"trace,omitempty"`
}

// IssueResponse describes a condition that could not be evaluated.
type IssueResponse struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PolicyEvaluation is a stored summary of a past decision, kept for lookup
// by request ID.
type PolicyEvaluation struct {
	RequestID     string        `json:"request_id"`
	PrincipalID   string        `json:"principal_id"`
	Object        string        `json:"object"`
	Action        policy.Action `json:"action"`
	PolicyID      string        `json:"policy_id"`
	PolicyVersion int64         `json:"policy_version,omitempty"`
	Reason        policy.Reason `json:"reason"`
	LatencyMicros int64         `json:"latency_us"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PolicyTestResult reports how a candidate policy behaves for one request.
type PolicyTestResult struct {
	// Trace is the candidate's own evaluation, ignoring Enabled.
	Trace policy.PolicyTrace `json:"trace"`
	// Decision is what the stored policy set would decide with the candidate
	// added, or replacing the stored policy with the same ID.
	Decision DecisionResponse `json:"decision"`
	// Changed reports whether the candidate alters the current decision.
	Changed bool `json:"changed"`
}

// PolicyEvaluationService wraps the decision service for API callers. It
// assigns request IDs, measures latency, records audit entries and keeps a
// bounded history of recent evaluations.
type PolicyEvaluationService struct {
	decisions *DecisionService
	store     policy.PolicyStore
	recorder  AuditRecorder
	logger    *slog.Logger

	mu          sync.RWMutex
	evaluations map[string]*PolicyEvaluation
	evalOrder   []string // FIFO order for eviction
	maxEvals    int
}

// NewPolicyEvaluationService creates a PolicyEvaluationService.
// recorder may be nil to disable decision auditing.
func NewPolicyEvaluationService(decisions *DecisionService, store policy.PolicyStore, recorder AuditRecorder, logger *slog.Logger) *PolicyEvaluationService {
	return &PolicyEvaluationService{
		decisions:   decisions,
		store:       store,
		recorder:    recorder,
		logger:      logger,
		evaluations: make(map[string]*PolicyEvaluation),
		evalOrder:   make([]string, 0, DefaultMaxEvaluations),
		maxEvals:    DefaultMaxEvaluations,
	}
}

// Evaluate decides a request and records it. It never fails: store problems
// come back as a deny with reason infrastructure_error.
func (s *PolicyEvaluationService) Evaluate(ctx context.Context, req DecisionRequest) *DecisionResponse {
	requestID := uuid.New().String()
	start := time.Now()

	domainReq := req.ToRequest(time.Now().UTC())
	d := s.decisions.Decide(ctx, domainReq)
	latency := time.Since(start).Microseconds()

	resp := toDecisionResponse(requestID, d, latency)
	s.remember(requestID, domainReq, d, latency)
	s.audit(requestID, domainReq, d, latency)

	s.logger.Debug("evaluation completed",
		"request_id", requestID,
		"principal", req.PrincipalID,
		"object", req.Object,
		"action", d.Action,
		"latency_us", latency,
	)
	return resp
}

// Explain decides a request and attaches a per-policy trace. Explanations
// are not audited.
func (s *PolicyEvaluationService) Explain(ctx context.Context, req DecisionRequest) *DecisionResponse {
	requestID := uuid.New().String()
	start := time.Now()
	d, traces := s.decisions.Explain(ctx, req.ToRequest(time.Now().UTC()))
	resp := toDecisionResponse(requestID, d, time.Since(start).Microseconds())
	resp.Trace = traces
	return resp
}

// GetEvaluation returns a recent evaluation by request ID, or nil.
func (s *PolicyEvaluationService) GetEvaluation(requestID string) *PolicyEvaluation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluations[requestID]
}

// TestPolicy runs an unsaved candidate policy against a request without
// persisting or auditing anything.
func (s *PolicyEvaluationService) TestPolicy(ctx context.Context, candidate policy.Policy, req DecisionRequest) (*PolicyTestResult, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	if err := s.decisions.ValidateConditions(candidate); err != nil {
		return nil, err
	}
	if candidate.ID == "" {
		candidate.ID = "candidate"
	}

	current, err := s.store.GetEnabledPolicies(ctx, policy.ScopeHint{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	domainReq := req.ToRequest(time.Now().UTC())
	before := s.decisions.DecideWith(domainReq, current)

	withCandidate := make([]policy.Policy, 0, len(current)+1)
	for _, p := range current {
		if p.ID != candidate.ID {
			withCandidate = append(withCandidate, p)
		}
	}
	withCandidate = append(withCandidate, candidate)
	after := s.decisions.DecideWith(domainReq, withCandidate)

	return &PolicyTestResult{
		Trace:    s.decisions.Compile(candidate).Trace(domainReq),
		Decision: *toDecisionResponse("", after, 0),
		Changed:  before.Action != after.Action || before.PolicyID != after.PolicyID,
	}, nil
}

func (s *PolicyEvaluationService) remember(requestID string, req policy.Request, d policy.Decision, latency int64) {
	eval := &PolicyEvaluation{
		RequestID:     requestID,
		PrincipalID:   req.Subject.PrincipalID,
		Object:        req.Object,
		Action:        d.Action,
		PolicyID:      d.PolicyID,
		PolicyVersion: d.PolicyVersion,
		Reason:        d.Reason,
		LatencyMicros: latency,
		CreatedAt:     d.Timestamp,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.evalOrder) >= s.maxEvals {
		oldest := s.evalOrder[0]
		s.evalOrder = s.evalOrder[1:]
		delete(s.evaluations, oldest)
	}
	s.evaluations[requestID] = eval
	s.evalOrder = append(s.evalOrder, requestID)
}

func (s *PolicyEvaluationService) audit(requestID string, req policy.Request, d policy.Decision, latency int64) {
	if s.recorder == nil {
		return
	}
	issues := make([]string, 0, len(d.Issues))
	for _, is := range d.Issues {
		issues = append(issues, fmt.Sprintf("%s: %s", is.Type, is.Kind))
	}
	s.recorder.Record(audit.Record{
		Timestamp:     d.Timestamp,
		EventType:     audit.EventTypeDecision,
		RequestID:     requestID,
		PrincipalID:   req.Subject.PrincipalID,
		Groups:        req.Subject.Groups,
		Object:        req.Object,
		IPAddress:     req.Context.IPAddress,
		Action:        string(d.Action),
		PolicyID:      d.PolicyID,
		PolicyName:    d.PolicyName,
		PolicyVersion: d.PolicyVersion,
		Reason:        string(d.Reason),
		LatencyMicros: latency,
		Issues:        issues,
		Error:         d.Error,
	})
}

func toDecisionResponse(requestID string, d policy.Decision, latency int64) *DecisionResponse {
	resp := &DecisionResponse{
		RequestID:     requestID,
		Action:        d.Action,
		Allowed:       d.Allowed(),
		PolicyID:      d.PolicyID,
		PolicyName:    d.PolicyName,
		PolicyVersion: d.PolicyVersion,
		Reason:        d.Reason,
		Matched:       d.MatchedPolicies,
		Error:         d.Error,
		Timestamp:     d.Timestamp,
		LatencyMicros: latency,
	}
	for _, is := range d.Issues {
		resp.Issues = append(resp.Issues, IssueResponse{
			Type:    string(is.Type),
			Value:   is.Value,
			Kind:    is.Kind,
			Message: is.Message,
		})
	}
	if !d.Allowed() {
		resp.HelpText = GenerateHelpText(d)
		resp.HelpURL = GenerateHelpURL(d.PolicyID)
	}
	return resp
}

// GenerateHelpText describes a non-allow decision for end users.
func GenerateHelpText(d policy.Decision) string {
	switch d.Reason {
	case policy.ReasonInfrastructureError:
		return "Access could not be evaluated and was denied. Try again later."
	case policy.ReasonNoMatch:
		return "No policy grants this access. Contact your administrator."
	}

	name := d.PolicyName
	if name == "" {
		name = d.PolicyID
	}
	var verb string
	switch d.Action {
	case policy.ActionStepUpAuth:
		verb = "requires stronger authentication under"
	case policy.ActionIsolate:
		verb = "is isolated by"
	case policy.ActionRedirect:
		verb = "is redirected by"
	default:
		verb = "is blocked by"
	}
	return fmt.Sprintf("Access %s policy '%s'.", verb, name)
}

// GenerateHelpURL points at the deciding policy in the admin API.
func GenerateHelpURL(policyID string) string {
	if policyID == "" || strings.HasPrefix(policyID, "<") {
		return "/admin/api/policies"
	}
	return "/admin/api/policies/" + policyID
}
