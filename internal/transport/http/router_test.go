package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"verdict/internal/approval"
	approvalhandler "verdict/internal/approval/handler"
	"verdict/internal/audit"
	"verdict/internal/idempotency"
	"verdict/internal/platform/logger"
	"verdict/internal/policy"
	policyhandler "verdict/internal/policy/handler"
	"verdict/internal/ratelimit"
)

type RouterSuite struct {
	suite.Suite
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) newRouter(checks map[string]HealthCheck) http.Handler {
	log := logger.New()
	matcher := policy.NewMatcher(policy.NewEvaluator(log))
	auditor := audit.NewRecorder(audit.NewMemoryStore(), log)
	policies := policy.NewMemoryStore()

	approvalService, err := approval.NewService(approval.NewMemoryStore(), policies, matcher, approval.DefaultConfig(), auditor, log)
	s.Require().NoError(err)
	policyService, err := policy.NewService(policies, matcher, auditor, log)
	s.Require().NoError(err)
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 60, time.Hour, log)
	s.Require().NoError(err)
	guard, err := idempotency.NewGuard(idempotency.NewMemoryStore(), time.Hour, log)
	s.Require().NoError(err)

	return NewRouter(Deps{
		Approval: approvalhandler.New(approvalService, limiter, guard, log),
		Policy:   policyhandler.New(policyService, log),
		Logger:   log,
		Checks:   checks,
	})
}

func (s *RouterSuite) TestHealthz() {
	s.Run("no dependencies is ok", func() {
		router := s.newRouter(nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("healthy dependencies reported", func() {
		router := s.newRouter(map[string]HealthCheck{
			"redis": func(ctx context.Context) error { return nil },
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		s.Require().Equal(http.StatusOK, w.Code)

		var body struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
		s.Equal("ok", body.Status)
		s.Equal("healthy", body.Components["redis"])
	})

	s.Run("failing dependency degrades", func() {
		router := s.newRouter(map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return errors.New("down") },
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		s.Equal(http.StatusServiceUnavailable, w.Code)
	})
}

func (s *RouterSuite) TestMetricsEndpoint() {
	router := s.newRouter(nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Equal(http.StatusOK, w.Code)
	s.NotEmpty(w.Body.String())
}

func (s *RouterSuite) TestEndpointsMounted() {
	router := s.newRouter(nil)

	s.Run("approval routes respond", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/not-a-uuid", nil))
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("policy routes respond", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/policies", nil))
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("unknown routes are 404", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
		s.Equal(http.StatusNotFound, w.Code)
	})
}
