package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"verdict/internal/audit"
	"verdict/internal/platform/logger"
	"verdict/internal/policy"
)

type HandlerSuite struct {
	suite.Suite
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	log := logger.New()
	store := policy.NewMemoryStore()
	matcher := policy.NewMatcher(policy.NewEvaluator(log))
	auditor := audit.NewRecorder(audit.NewMemoryStore(), log)

	service, err := policy.NewService(store, matcher, auditor, log)
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	New(service, log).Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any, actor string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func ruleRequest() RuleRequest {
	return RuleRequest{
		Name:     "auto-approve admins",
		Action:   "approve",
		Priority: 10,
		Condition: policy.Condition{
			Field:    "user_role",
			Operator: policy.OpEquals,
			Value:    "admin",
		},
	}
}

func (s *HandlerSuite) createRule() policy.Rule {
	w := s.do(http.MethodPost, "/policies", ruleRequest(), "alice")
	s.Require().Equal(http.StatusCreated, w.Code)
	var rule policy.Rule
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&rule))
	return rule
}

func (s *HandlerSuite) TestCreate() {
	s.Run("created inactive with the acting author", func() {
		rule := s.createRule()
		s.False(rule.Active)
		s.Equal("alice", rule.CreatedBy)
		s.NotZero(rule.ID)
	})

	s.Run("missing actor header rejected", func() {
		w := s.do(http.MethodPost, "/policies", ruleRequest(), "")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("invalid condition rejected", func() {
		bad := ruleRequest()
		bad.Condition.Operator = policy.Operator("regex")
		w := s.do(http.MethodPost, "/policies", bad, "alice")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestLifecycle() {
	rule := s.createRule()
	base := fmt.Sprintf("/policies/%d", rule.ID)

	s.Run("get returns the rule", func() {
		w := s.do(http.MethodGet, base, nil, "")
		s.Require().Equal(http.StatusOK, w.Code)
	})

	s.Run("activate stamps the approver", func() {
		w := s.do(http.MethodPost, base+"/activate", nil, "bob")
		s.Require().Equal(http.StatusOK, w.Code)

		var activated policy.Rule
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&activated))
		s.True(activated.Active)
		s.Equal("bob", activated.ApprovedBy)
		s.NotNil(activated.ApprovedAt)
	})

	s.Run("deactivate clears the approval", func() {
		w := s.do(http.MethodPost, base+"/deactivate", nil, "carol")
		s.Require().Equal(http.StatusOK, w.Code)

		var deactivated policy.Rule
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&deactivated))
		s.False(deactivated.Active)
		s.Empty(deactivated.ApprovedBy)
	})

	s.Run("update changes fields", func() {
		updated := ruleRequest()
		updated.Priority = 1
		w := s.do(http.MethodPut, base, updated, "alice")
		s.Require().Equal(http.StatusOK, w.Code)

		var rule policy.Rule
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&rule))
		s.Equal(1, rule.Priority)
	})

	s.Run("delete removes the rule", func() {
		w := s.do(http.MethodDelete, base, nil, "alice")
		s.Require().Equal(http.StatusNoContent, w.Code)

		w = s.do(http.MethodGet, base, nil, "")
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("malformed id rejected", func() {
		w := s.do(http.MethodGet, "/policies/abc", nil, "")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestList() {
	s.createRule()
	s.createRule()

	w := s.do(http.MethodGet, "/policies", nil, "")
	s.Require().Equal(http.StatusOK, w.Code)

	var resp struct {
		Policies []policy.Rule `json:"policies"`
		Count    int           `json:"count"`
	}
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
	s.Equal(2, resp.Count)
	s.Len(resp.Policies, 2)
}

func (s *HandlerSuite) TestSimulate() {
	s.Run("supplied rules against samples", func() {
		w := s.do(http.MethodPost, "/policies/simulate", SimulateRequest{
			Rules: []RuleRequest{ruleRequest()},
			Samples: []policy.FactMap{
				{"user_role": "admin"},
				{"user_role": "admin"},
				{"user_role": "analyst"},
				{"user_role": "analyst"},
			},
		}, "")
		s.Require().Equal(http.StatusOK, w.Code)

		var impact policy.Impact
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&impact))
		s.Equal(4, impact.Total)
		s.Equal(2, impact.MatchCount)
		s.InDelta(50.0, impact.MatchPercentage, 0.001)
		s.Equal(policy.RecommendationHigh, impact.Recommendation)
	})

	s.Run("empty samples rejected", func() {
		w := s.do(http.MethodPost, "/policies/simulate", SimulateRequest{
			Rules: []RuleRequest{ruleRequest()},
		}, "")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}
