package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"verdict/internal/audit"
	"verdict/internal/events"
	"verdict/internal/policy"
	id "verdict/pkg/domain"
	dErrors "verdict/pkg/domain-errors"
)

// Service is the approval state machine. It owns every transition an
// ApprovalRequest can take: auto-decision at creation, human decisions under
// the tier and two-man rules, and the escalation marker. All writes go
// through the store's compare-and-swap so concurrent decisions on the same
// request can never both win.
//
// The request and policy stores fail closed: when they are unreachable the
// operation is rejected rather than guessed at.
type Service struct {
	store     RequestStore
	policies  policy.Store
	matcher   *policy.Matcher
	cfg       Config
	publisher events.Publisher
	auditor   *audit.Recorder
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source. Tests use this to exercise the
// escalation window without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// NewService creates the approval service.
func NewService(store RequestStore, policies policy.Store, matcher *policy.Matcher, cfg Config, auditor *audit.Recorder, logger *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if matcher == nil {
		return nil, fmt.Errorf("matcher is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		store:     store,
		policies:  policies,
		matcher:   matcher,
		cfg:       cfg,
		publisher: events.Nop{},
		auditor:   auditor,
		logger:    logger,
		tracer:    otel.Tracer("verdict/approval"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateInput carries everything needed to open an approval request. Facts is
// the rule-evaluation input built by the caller; requester attributes are
// merged into it under their conventional names when absent.
type CreateInput struct {
	Facts          policy.FactMap
	RequesterID    string
	RequesterEmail string
	RequesterRole  string
	RiskScore      int
	Amount         float64
	RequestType    string
	Description    string
}

// AutoDecision describes a resolution taken at creation with no human step.
type AutoDecision struct {
	Action   policy.Action `json:"action"`
	RuleID   int64         `json:"rule_id,omitempty"`
	RuleName string        `json:"rule_name,omitempty"`
	Reason   string        `json:"reason"`
}

// CreateResult is the outcome of Create.
type CreateResult struct {
	Request               *Request
	AutoDecision          *AutoDecision
	RequiredApproverRoles []string
}

// Create opens a request. A matching active rule or the built-in
// auto-approve threshold resolves it immediately; otherwise it is created
// pending with the approver roles its tier requires.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "approval.create")
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, err
	}

	req := &Request{
		ID:             id.NewRequestID(),
		RequesterID:    in.RequesterID,
		RequesterEmail: in.RequesterEmail,
		RequesterRole:  in.RequesterRole,
		RiskScore:      in.RiskScore,
		Amount:         in.Amount,
		RequestType:    in.RequestType,
		Description:    in.Description,
		Status:         StatusPending,
	}

	result := &CreateResult{Request: req}

	// Authored rules take precedence over the built-in threshold.
	rules, err := s.policies.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "load active policies")
	}
	if rule := s.matcher.Match(s.factsFor(in), rules); rule != nil {
		switch rule.Action {
		case policy.ActionApprove:
			req.Status = StatusApproved
		case policy.ActionDeny:
			req.Status = StatusDenied
		}
		req.AutoDecided = true
		req.AutoRuleID = &rule.ID
		result.AutoDecision = &AutoDecision{
			Action:   rule.Action,
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Reason:   fmt.Sprintf("matched policy %q", rule.Name),
		}
	} else if s.cfg.CanAutoApprove(req) {
		req.Status = StatusApproved
		req.AutoDecided = true
		result.AutoDecision = &AutoDecision{
			Action: policy.ActionApprove,
			Reason: "below auto-approve thresholds",
		}
	} else {
		result.RequiredApproverRoles = s.cfg.RequiredApproverRoles(req)
	}

	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RequestsCreated.Inc()
	}
	s.publish(ctx, events.TypeRequestCreated, req, in.RequesterID)

	if req.AutoDecided {
		if s.metrics != nil {
			s.metrics.AutoDecisions.WithLabelValues(string(result.AutoDecision.Action)).Inc()
		}
		s.auditor.Record(ctx, audit.Entry{
			Actor:     "engine",
			Action:    audit.ActionAutoDecision,
			RequestID: req.ID.String(),
			RuleID:    req.AutoRuleID,
			After:     audit.Snapshot(req),
			Comment:   result.AutoDecision.Reason,
		})
		s.publish(ctx, events.TypeDecisionMade, req, "engine")
	}

	s.logger.Info("request created",
		"request_id", req.ID.String(),
		"status", string(req.Status),
		"auto_decided", req.AutoDecided,
		"risk_score", req.RiskScore,
	)
	return result, nil
}

func (in CreateInput) validate() error {
	var fields []string
	if in.RequesterID == "" {
		fields = append(fields, "requester_id")
	}
	if in.RiskScore < 0 || in.RiskScore > 100 {
		fields = append(fields, "risk_score")
	}
	if in.Amount < 0 {
		fields = append(fields, "amount")
	}
	if len(fields) > 0 {
		return dErrors.New(dErrors.CodeValidation, "missing or malformed request fields").WithFields(fields...)
	}
	return nil
}

// factsFor merges requester attributes into the caller-supplied fact map
// under their conventional names, without clobbering explicit entries.
func (s *Service) factsFor(in CreateInput) policy.FactMap {
	facts := make(policy.FactMap, len(in.Facts)+4)
	for k, v := range in.Facts {
		facts[k] = v
	}
	defaults := map[string]any{
		"user_role":    in.RequesterRole,
		"risk_score":   in.RiskScore,
		"amount":       in.Amount,
		"request_type": in.RequestType,
	}
	for k, v := range defaults {
		if _, ok := facts[k]; !ok {
			facts[k] = v
		}
	}
	return facts
}

// DecisionInput carries one approver's verdict.
type DecisionInput struct {
	RequestID    id.RequestID
	ApproverID   id.ApproverID
	ApproverRole string
	Decision     Decision
	Comment      string
}

// RecordDecision applies a human decision. The write is conditioned on the
// version observed at read time; a concurrent decision surfaces as
// CodeConflict and nothing is overwritten.
func (s *Service) RecordDecision(ctx context.Context, in DecisionInput) (*Request, error) {
	ctx, span := s.tracer.Start(ctx, "approval.record_decision")
	defer span.End()

	req, err := s.store.Get(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	observedVersion := req.Version

	if req.Status.IsTerminal() {
		if s.metrics != nil {
			s.metrics.ConflictRejections.Inc()
		}
		return nil, dErrors.Newf(dErrors.CodeConflict, "request %s is already %s", req.ID, req.Status)
	}

	if allowed, reason := s.cfg.CanDecide(in.ApproverRole, req); !allowed {
		s.rejectPermission(ctx, req, in, reason)
		return nil, dErrors.Newf(dErrors.CodePermission, "insufficient permissions: %s", reason)
	}

	now := s.now()
	switch {
	case req.FirstApproverID == nil:
		approver := in.ApproverID
		req.FirstApproverID = &approver
		req.FirstApprovalAt = &now
		if in.Decision == DecisionDeny {
			req.Status = StatusDenied
		} else if s.cfg.RequiresTwoManRule(req) {
			req.Status = StatusRequiresSecondApproval
		} else {
			req.Status = StatusApproved
		}

	case req.Status == StatusRequiresSecondApproval:
		if *req.FirstApproverID == in.ApproverID {
			reason := "same approver cannot supply both approvals"
			s.rejectPermission(ctx, req, in, reason)
			return nil, dErrors.Newf(dErrors.CodePermission, "insufficient permissions: %s", reason)
		}
		approver := in.ApproverID
		req.SecondApproverID = &approver
		req.SecondApprovalAt = &now
		if in.Decision == DecisionDeny {
			req.Status = StatusDenied
		} else {
			req.Status = StatusApproved
		}

	default:
		return nil, dErrors.Newf(dErrors.CodeConflict, "request %s is not in a decidable state", req.ID)
	}

	if err := s.store.UpdateIf(ctx, req, observedVersion); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) && s.metrics != nil {
			s.metrics.ConflictRejections.Inc()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.DecisionsRecorded.WithLabelValues(string(in.Decision)).Inc()
	}
	s.auditor.Record(ctx, audit.Entry{
		Actor:     in.ApproverID.String(),
		ActorRole: in.ApproverRole,
		Action:    audit.ActionDecisionRecorded,
		RequestID: req.ID.String(),
		After:     audit.Snapshot(req),
		Comment:   in.Comment,
	})
	s.publish(ctx, events.TypeDecisionMade, req, in.ApproverID.String())

	s.logger.Info("decision recorded",
		"request_id", req.ID.String(),
		"approver_id", in.ApproverID.String(),
		"decision", string(in.Decision),
		"status", string(req.Status),
	)
	return req, nil
}

func (s *Service) rejectPermission(ctx context.Context, req *Request, in DecisionInput, reason string) {
	if s.metrics != nil {
		s.metrics.PermissionRejections.Inc()
	}
	// Denied-for-insufficient-permission attempts are audited, not silently
	// dropped.
	s.auditor.Record(ctx, audit.Entry{
		Actor:     in.ApproverID.String(),
		ActorRole: in.ApproverRole,
		Action:    audit.ActionPermissionDenied,
		RequestID: req.ID.String(),
		Comment:   reason,
	})
}

// BulkResult is the per-request outcome of BulkDecide.
type BulkResult struct {
	RequestID id.RequestID
	Request   *Request
	Err       error
}

// BulkDecide applies the same decision to many requests with bounded
// concurrency. Each request succeeds or fails independently; one rejection
// never aborts the batch.
func (s *Service) BulkDecide(ctx context.Context, requestIDs []id.RequestID, approverID id.ApproverID, approverRole string, decision Decision, comment string) []BulkResult {
	results := make([]BulkResult, len(requestIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, reqID := range requestIDs {
		g.Go(func() error {
			req, err := s.RecordDecision(ctx, DecisionInput{
				RequestID:    reqID,
				ApproverID:   approverID,
				ApproverRole: approverRole,
				Decision:     decision,
				Comment:      comment,
			})
			results[i] = BulkResult{RequestID: reqID, Request: req, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// EscalationResult is the outcome of an escalation check.
type EscalationResult struct {
	RequestID id.RequestID
	Status    Status
	Escalated bool
	Reason    string
}

// CheckEscalation flags the request when it has sat undecided past the
// escalation window. The marker prompts human attention without changing the
// decision path: a later RecordDecision still resolves the request normally.
func (s *Service) CheckEscalation(ctx context.Context, requestID id.RequestID) (*EscalationResult, error) {
	ctx, span := s.tracer.Start(ctx, "approval.check_escalation")
	defer span.End()

	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.escalate(ctx, req)
}

func (s *Service) escalate(ctx context.Context, req *Request) (*EscalationResult, error) {
	result := &EscalationResult{RequestID: req.ID, Status: req.Status}

	if req.Status.IsTerminal() {
		return result, nil
	}
	if req.Escalated {
		result.Escalated = true
		result.Reason = req.EscalationReason
		return result, nil
	}
	if s.now().Sub(req.CreatedAt) <= s.cfg.EscalationWindow {
		return result, nil
	}

	observedVersion := req.Version
	req.Escalated = true
	req.EscalationReason = fmt.Sprintf("pending for more than %s", s.cfg.EscalationWindow)
	if err := s.store.UpdateIf(ctx, req, observedVersion); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Escalations.Inc()
	}
	s.publish(ctx, events.TypeRequestEscalated, req, "engine")
	s.logger.Warn("request escalated",
		"request_id", req.ID.String(),
		"pending_since", req.CreatedAt,
	)

	result.Escalated = true
	result.Reason = req.EscalationReason
	return result, nil
}

// SweepEscalations checks every undecided request. Invoked synchronously by
// an external scheduler; the engine itself runs no background work.
func (s *Service) SweepEscalations(ctx context.Context) ([]EscalationResult, error) {
	undecided, err := s.store.ListUndecided(ctx)
	if err != nil {
		return nil, err
	}
	var out []EscalationResult
	for _, req := range undecided {
		result, err := s.escalate(ctx, req)
		if err != nil {
			s.logger.Error("escalation check failed", "request_id", req.ID.String(), "error", err)
			continue
		}
		if result.Escalated {
			out = append(out, *result)
		}
	}
	return out, nil
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, requestID id.RequestID) (*Request, error) {
	return s.store.Get(ctx, requestID)
}

func (s *Service) publish(ctx context.Context, t events.Type, req *Request, actor string) {
	s.publisher.Publish(ctx, events.Event{
		ID:        uuid.New(),
		Type:      t,
		RequestID: req.ID.String(),
		Actor:     actor,
		NewStatus: string(req.Status),
		Timestamp: s.now(),
	})
}
