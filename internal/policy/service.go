package policy

import (
	"context"
	"fmt"
	"log/slog"

	"verdict/internal/audit"
)

// Service owns policy authoring. Every mutation is validated before it
// touches the store and lands in the append-only change log with before and
// after snapshots.
type Service struct {
	store   Store
	matcher *Matcher
	auditor *audit.Recorder
	logger  *slog.Logger
	metrics *Metrics
}

type ServiceOption func(*Service)

func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates the policy authoring service.
func NewService(store Store, matcher *Matcher, auditor *audit.Recorder, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
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

	svc := &Service{store: store, matcher: matcher, auditor: auditor, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create validates and stores a new rule. Rules are born inactive and must be
// activated by a second actor before the matcher sees them.
func (s *Service) Create(ctx context.Context, rule Rule, actor string) (*Rule, error) {
	rule.Active = false
	rule.ApprovedBy = ""
	rule.ApprovedAt = nil
	rule.CreatedBy = actor
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, &rule); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, audit.Entry{
		Actor:    actor,
		Action:   audit.ActionPolicyCreated,
		PolicyID: &rule.ID,
		After:    audit.Snapshot(rule),
	})
	return &rule, nil
}

// Update replaces the mutable fields of a rule.
func (s *Service) Update(ctx context.Context, rule Rule, actor string) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	before, err := s.store.Get(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, &rule); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, audit.Entry{
		Actor:    actor,
		Action:   audit.ActionPolicyUpdated,
		PolicyID: &rule.ID,
		Before:   audit.Snapshot(before),
		After:    audit.Snapshot(rule),
	})
	return &rule, nil
}

// SetActive activates or deactivates a rule. Activation stamps the approving
// actor; deactivation clears the approval so reactivation needs a fresh one.
func (s *Service) SetActive(ctx context.Context, id int64, active bool, actor string) (*Rule, error) {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rule, err := s.store.SetActive(ctx, id, active, actor)
	if err != nil {
		return nil, err
	}
	action := audit.ActionPolicyActivated
	if !active {
		action = audit.ActionPolicyDeactivated
	}
	s.auditor.Record(ctx, audit.Entry{
		Actor:    actor,
		Action:   action,
		PolicyID: &id,
		Before:   audit.Snapshot(before),
		After:    audit.Snapshot(rule),
	})
	return rule, nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, id int64, actor string) error {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Entry{
		Actor:    actor,
		Action:   audit.ActionPolicyDeleted,
		PolicyID: &id,
		Before:   audit.Snapshot(before),
	})
	return nil
}

// Get returns one rule.
func (s *Service) Get(ctx context.Context, id int64) (*Rule, error) {
	return s.store.Get(ctx, id)
}

// List returns all rules.
func (s *Service) List(ctx context.Context) ([]Rule, error) {
	return s.store.List(ctx)
}

// Simulate runs the supplied rules (or, when none are supplied, the stored
// rule set) against the sample fact maps. Read-only: no request record is
// touched and no events are emitted.
func (s *Service) Simulate(ctx context.Context, rules []Rule, samples []FactMap) (*Impact, error) {
	if len(rules) == 0 {
		stored, err := s.store.List(ctx)
		if err != nil {
			return nil, err
		}
		rules = stored
	}
	for i := range rules {
		if err := rules[i].Condition.Validate(); err != nil {
			return nil, err
		}
	}
	impact := s.matcher.Simulate(rules, samples)
	if s.metrics != nil {
		s.metrics.SimulationsRun.Inc()
	}
	s.logger.Debug("simulation complete",
		"rules", len(rules),
		"samples", impact.Total,
		"efficiency", impact.EfficiencyScore,
	)
	return &impact, nil
}
