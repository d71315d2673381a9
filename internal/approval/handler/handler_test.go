package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"verdict/internal/approval"
	"verdict/internal/audit"
	"verdict/internal/idempotency"
	"verdict/internal/platform/logger"
	"verdict/internal/policy"
	"verdict/internal/ratelimit"
	id "verdict/pkg/domain"
)

const testRateLimit = 60

type HandlerSuite struct {
	suite.Suite
	router  chi.Router
	service *approval.Service
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.router = s.newRouter(testRateLimit)
}

func (s *HandlerSuite) newRouter(rateLimit int) chi.Router {
	log := logger.New()
	store := approval.NewMemoryStore()
	policies := policy.NewMemoryStore()
	matcher := policy.NewMatcher(policy.NewEvaluator(log))
	auditor := audit.NewRecorder(audit.NewMemoryStore(), log)

	service, err := approval.NewService(store, policies, matcher, approval.DefaultConfig(), auditor, log)
	s.Require().NoError(err)
	s.service = service

	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), rateLimit, time.Hour, log)
	s.Require().NoError(err)
	guard, err := idempotency.NewGuard(idempotency.NewMemoryStore(), time.Hour, log)
	s.Require().NoError(err)

	r := chi.NewRouter()
	New(service, limiter, guard, log).Register(r)
	return r
}

func (s *HandlerSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) createPending() string {
	w := s.do(http.MethodPost, "/requests", CreateRequest{
		RequesterID:   "u-100",
		RequesterRole: "Engineer",
		RiskScore:     50,
		Amount:        100,
	}, nil)
	s.Require().Equal(http.StatusCreated, w.Code)

	var resp CreateResponse
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
	return resp.Request.ID
}

func (s *HandlerSuite) TestCreate() {
	s.Run("auto-approved request", func() {
		w := s.do(http.MethodPost, "/requests", CreateRequest{
			RequesterID:   "u-100",
			RequesterRole: "Engineer",
			RiskScore:     10,
			Amount:        50,
		}, nil)
		s.Require().Equal(http.StatusCreated, w.Code)

		var resp CreateResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
		s.Equal("approved", resp.Request.Status)
		s.Require().NotNil(resp.AutoDecision)
		s.Equal(policy.ActionApprove, resp.AutoDecision.Action)
	})

	s.Run("pending request lists required roles", func() {
		w := s.do(http.MethodPost, "/requests", CreateRequest{
			RequesterID:   "u-100",
			RequesterRole: "Engineer",
			RiskScore:     50,
			Amount:        100,
		}, nil)
		s.Require().Equal(http.StatusCreated, w.Code)

		var resp CreateResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
		s.Equal("pending", resp.Request.Status)
		s.Contains(resp.RequiredApproverRoles, "SecurityLead")
	})

	s.Run("malformed body rejected", func() {
		req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("missing requester rejected", func() {
		w := s.do(http.MethodPost, "/requests", CreateRequest{RiskScore: 10}, nil)
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestGet() {
	s.Run("existing request", func() {
		reqID := s.createPending()
		w := s.do(http.MethodGet, "/requests/"+reqID, nil, nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp RequestResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
		s.Equal(reqID, resp.ID)
	})

	s.Run("unknown request", func() {
		w := s.do(http.MethodGet, "/requests/"+id.NewRequestID().String(), nil, nil)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("malformed id", func() {
		w := s.do(http.MethodGet, "/requests/not-a-uuid", nil, nil)
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestDecision() {
	approver := id.NewApproverID().String()

	s.Run("approve resolves the request", func() {
		reqID := s.createPending()
		w := s.do(http.MethodPost, "/requests/"+reqID+"/decision", DecisionRequest{
			ApproverID:   approver,
			ApproverRole: "SecurityLead",
			Decision:     "approve",
		}, nil)
		s.Require().Equal(http.StatusOK, w.Code)
		s.NotEmpty(w.Header().Get("X-RateLimit-Remaining"))

		var resp RequestResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
		s.Equal("approved", resp.Status)
		s.Equal(approver, resp.FirstApproverID)
	})

	s.Run("unknown decision verb rejected", func() {
		reqID := s.createPending()
		w := s.do(http.MethodPost, "/requests/"+reqID+"/decision", DecisionRequest{
			ApproverID:   approver,
			ApproverRole: "SecurityLead",
			Decision:     "maybe",
		}, nil)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("unauthorized role forbidden", func() {
		reqID := s.createPending()
		w := s.do(http.MethodPost, "/requests/"+reqID+"/decision", DecisionRequest{
			ApproverID:   approver,
			ApproverRole: "Intern",
			Decision:     "approve",
		}, nil)
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("decided request conflicts", func() {
		reqID := s.createPending()
		first := s.do(http.MethodPost, "/requests/"+reqID+"/decision", DecisionRequest{
			ApproverID:   approver,
			ApproverRole: "SecurityLead",
			Decision:     "deny",
		}, nil)
		s.Require().Equal(http.StatusOK, first.Code)

		second := s.do(http.MethodPost, "/requests/"+reqID+"/decision", DecisionRequest{
			ApproverID:   id.NewApproverID().String(),
			ApproverRole: "CISO",
			Decision:     "approve",
		}, nil)
		s.Equal(http.StatusConflict, second.Code)
	})
}

func (s *HandlerSuite) TestIdempotency() {
	s.Run("repeated key is rejected as duplicate", func() {
		reqID := s.createPending()
		headers := map[string]string{"X-Idempotency-Key": "retry-abc"}
		body := DecisionRequest{
			ApproverID:   id.NewApproverID().String(),
			ApproverRole: "SecurityLead",
			Decision:     "approve",
		}

		first := s.do(http.MethodPost, "/requests/"+reqID+"/decision", body, headers)
		s.Require().Equal(http.StatusOK, first.Code)

		retry := s.do(http.MethodPost, "/requests/"+reqID+"/decision", body, headers)
		s.Equal(http.StatusConflict, retry.Code)

		var errBody map[string]string
		s.Require().NoError(json.NewDecoder(retry.Body).Decode(&errBody))
		s.Equal("duplicate submission", errBody["error_description"])
	})

	s.Run("identical payload without key is deduplicated by derivation", func() {
		reqID := s.createPending()
		body := DecisionRequest{
			ApproverID:   id.NewApproverID().String(),
			ApproverRole: "SecurityLead",
			Decision:     "approve",
		}

		first := s.do(http.MethodPost, "/requests/"+reqID+"/decision", body, nil)
		s.Require().Equal(http.StatusOK, first.Code)

		retry := s.do(http.MethodPost, "/requests/"+reqID+"/decision", body, nil)
		s.Equal(http.StatusConflict, retry.Code)
	})
}

func (s *HandlerSuite) TestRateLimit() {
	approver := id.NewApproverID().String()
	reqID := s.createPending()

	// Unique bodies so the idempotency guard does not reject first. The
	// request is decided by the first call; later calls fail on conflict but
	// still consume rate limit budget.
	for i := range testRateLimit {
		body := DecisionRequest{
			ApproverID:   approver,
			ApproverRole: "SecurityLead",
			Decision:     "approve",
			Comment:      fmt.Sprintf("attempt %d", i),
		}
		w := s.do(http.MethodPost, "/requests/"+reqID+"/decision", body, nil)
		s.Require().NotEqual(http.StatusTooManyRequests, w.Code)
	}

	over := s.do(http.MethodPost, "/requests/"+reqID+"/decision", DecisionRequest{
		ApproverID:   approver,
		ApproverRole: "SecurityLead",
		Decision:     "approve",
		Comment:      "over the limit",
	}, nil)
	s.Require().Equal(http.StatusTooManyRequests, over.Code)
	s.Equal("0", over.Header().Get("X-RateLimit-Remaining"))
	s.NotEmpty(over.Header().Get("Retry-After"))

	var body map[string]any
	s.Require().NoError(json.NewDecoder(over.Body).Decode(&body))
	s.EqualValues(3600, body["retry_after"])
}

func (s *HandlerSuite) TestRateLimitWindowsPerOperation() {
	s.router = s.newRouter(1)
	approver := id.NewApproverID().String()
	first := s.createPending()
	second := s.createPending()

	bulk := s.do(http.MethodPost, "/requests/bulk-decision", BulkDecisionRequest{
		RequestIDs:   []string{first},
		ApproverID:   approver,
		ApproverRole: "SecurityLead",
		Decision:     "approve",
	}, nil)
	s.Require().Equal(http.StatusOK, bulk.Code)

	// A bulk call must not consume the single-decision budget.
	single := s.do(http.MethodPost, "/requests/"+second+"/decision", DecisionRequest{
		ApproverID:   approver,
		ApproverRole: "SecurityLead",
		Decision:     "approve",
	}, nil)
	s.Require().Equal(http.StatusOK, single.Code)

	// A second bulk call exhausts its own window.
	again := s.do(http.MethodPost, "/requests/bulk-decision", BulkDecisionRequest{
		RequestIDs:   []string{second},
		ApproverID:   approver,
		ApproverRole: "SecurityLead",
		Decision:     "deny",
	}, nil)
	s.Equal(http.StatusTooManyRequests, again.Code)
}

func (s *HandlerSuite) TestBulkDecision() {
	a := s.createPending()
	b := s.createPending()

	w := s.do(http.MethodPost, "/requests/bulk-decision", BulkDecisionRequest{
		RequestIDs:   []string{a, b},
		ApproverID:   id.NewApproverID().String(),
		ApproverRole: "SecurityLead",
		Decision:     "approve",
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp BulkDecisionResponse
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
	s.Equal(2, resp.Succeeded)
	s.Equal(0, resp.Failed)
	s.Len(resp.Results, 2)
}

func (s *HandlerSuite) TestEscalationEndpoints() {
	s.Run("fresh request is not escalated", func() {
		reqID := s.createPending()
		w := s.do(http.MethodGet, "/requests/"+reqID+"/escalation", nil, nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp EscalationResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
		s.False(resp.Escalated)
	})

	s.Run("sweep reports nothing overdue", func() {
		s.createPending()
		w := s.do(http.MethodPost, "/escalations/sweep", nil, nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp struct {
			Count int `json:"count"`
		}
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
		s.Zero(resp.Count)
	})
}
