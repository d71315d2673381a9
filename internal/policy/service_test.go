package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"verdict/internal/audit"
	"verdict/internal/platform/logger"
	dErrors "verdict/pkg/domain-errors"
)

type PolicyServiceSuite struct {
	suite.Suite
	ctx      context.Context
	service  *Service
	store    *MemoryStore
	auditLog *audit.MemoryStore
}

func TestPolicyServiceSuite(t *testing.T) {
	suite.Run(t, new(PolicyServiceSuite))
}

func (s *PolicyServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
	s.auditLog = audit.NewMemoryStore()

	log := logger.New()
	matcher := NewMatcher(NewEvaluator(log))
	service, err := NewService(s.store, matcher, audit.NewRecorder(s.auditLog, log), log)
	s.Require().NoError(err)
	s.service = service
}

func validRule() Rule {
	return Rule{
		Name:     "auto-approve admins",
		Priority: 10,
		Action:   ActionApprove,
		Condition: Condition{
			Field:    "user_role",
			Operator: OpEquals,
			Value:    "admin",
		},
	}
}

func (s *PolicyServiceSuite) TestCreate() {
	s.Run("rules are born inactive", func() {
		in := validRule()
		in.Active = true
		in.ApprovedBy = "smuggled"

		rule, err := s.service.Create(s.ctx, in, "alice")
		s.Require().NoError(err)
		s.False(rule.Active)
		s.Empty(rule.ApprovedBy)
		s.Nil(rule.ApprovedAt)
		s.Equal("alice", rule.CreatedBy)
		s.NotZero(rule.ID)
	})

	s.Run("invalid condition rejected", func() {
		in := validRule()
		in.Condition.Operator = Operator("matches")
		_, err := s.service.Create(s.ctx, in, "alice")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("creation is audited", func() {
		_, err := s.service.Create(s.ctx, validRule(), "alice")
		s.Require().NoError(err)

		entries := s.auditLog.Entries()
		s.Require().NotEmpty(entries)
		last := entries[len(entries)-1]
		s.Equal(audit.ActionPolicyCreated, last.Action)
		s.Equal("alice", last.Actor)
		s.NotEmpty(last.After)
	})
}

func (s *PolicyServiceSuite) TestActivation() {
	rule, err := s.service.Create(s.ctx, validRule(), "alice")
	s.Require().NoError(err)

	s.Run("activation stamps the approving actor", func() {
		activated, err := s.service.SetActive(s.ctx, rule.ID, true, "bob")
		s.Require().NoError(err)
		s.True(activated.Active)
		s.Equal("bob", activated.ApprovedBy)
		s.Require().NotNil(activated.ApprovedAt)
	})

	s.Run("deactivation clears the approval", func() {
		deactivated, err := s.service.SetActive(s.ctx, rule.ID, false, "carol")
		s.Require().NoError(err)
		s.False(deactivated.Active)
		s.Empty(deactivated.ApprovedBy)
		s.Nil(deactivated.ApprovedAt)
	})

	s.Run("unknown rule is not found", func() {
		_, err := s.service.SetActive(s.ctx, 9999, true, "bob")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *PolicyServiceSuite) TestUpdateAndDelete() {
	rule, err := s.service.Create(s.ctx, validRule(), "alice")
	s.Require().NoError(err)

	s.Run("update replaces fields and is audited", func() {
		changed := *rule
		changed.Priority = 1
		updated, err := s.service.Update(s.ctx, changed, "alice")
		s.Require().NoError(err)
		s.Equal(1, updated.Priority)

		entries := s.auditLog.Entries()
		last := entries[len(entries)-1]
		s.Equal(audit.ActionPolicyUpdated, last.Action)
		s.NotEmpty(last.Before)
		s.NotEmpty(last.After)
	})

	s.Run("delete removes the rule", func() {
		s.Require().NoError(s.service.Delete(s.ctx, rule.ID, "alice"))
		_, err := s.service.Get(s.ctx, rule.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *PolicyServiceSuite) TestSimulate() {
	s.Run("supplied rules are used", func() {
		impact, err := s.service.Simulate(s.ctx, []Rule{validRule()}, []FactMap{
			{"user_role": "admin"},
			{"user_role": "analyst"},
		})
		s.Require().NoError(err)
		s.Equal(1, impact.MatchCount)
	})

	s.Run("empty rules falls back to the stored set", func() {
		_, err := s.service.Create(s.ctx, validRule(), "alice")
		s.Require().NoError(err)

		impact, err := s.service.Simulate(s.ctx, nil, []FactMap{{"user_role": "admin"}})
		s.Require().NoError(err)
		s.Equal(1, impact.MatchCount)
	})

	s.Run("malformed supplied condition rejected", func() {
		bad := validRule()
		bad.Condition.Field = ""
		_, err := s.service.Simulate(s.ctx, []Rule{bad}, []FactMap{{"user_role": "admin"}})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
