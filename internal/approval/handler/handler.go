// Package handler wires the approval endpoints to the approval service.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"verdict/internal/approval"
	"verdict/internal/idempotency"
	"verdict/internal/ratelimit"
	id "verdict/pkg/domain"
	dErrors "verdict/pkg/domain-errors"
	"verdict/pkg/platform/httputil"
)

const idempotencyKeyHeader = "X-Idempotency-Key"

// Handler exposes approval request endpoints. Decision submissions pass
// through the rate limiter, windowed per approver and operation, and the
// idempotency guard before they reach the service.
type Handler struct {
	service *approval.Service
	limiter *ratelimit.Limiter
	guard   *idempotency.Guard
	logger  *slog.Logger
}

// New constructs an approval handler with its dependencies.
func New(service *approval.Service, limiter *ratelimit.Limiter, guard *idempotency.Guard, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		limiter: limiter,
		guard:   guard,
		logger:  logger,
	}
}

// Register mounts the approval endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/requests", h.HandleCreate)
	r.Get("/requests/{id}", h.HandleGet)
	r.Post("/requests/{id}/decision", h.HandleDecision)
	r.Post("/requests/bulk-decision", h.HandleBulkDecision)
	r.Get("/requests/{id}/escalation", h.HandleEscalationCheck)
	r.Post("/escalations/sweep", h.HandleEscalationSweep)
}

// HandleCreate handles POST /requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.Decode[CreateRequest](w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.service.Create(ctx, req.ToInput())
	if err != nil {
		h.logger.ErrorContext(ctx, "request creation failed",
			"requester_id", req.RequesterID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "request created",
		"request_id", result.Request.ID.String(),
		"status", string(result.Request.Status),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, CreateResponse{
		Request:               FromRequest(result.Request),
		AutoDecision:          result.AutoDecision,
		RequiredApproverRoles: result.RequiredApproverRoles,
	})
}

// HandleGet handles GET /requests/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.service.Get(r.Context(), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(req))
}

// HandleDecision handles POST /requests/{id}/decision.
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	body, req, ok := h.decodeDecision(w, r)
	if !ok {
		return
	}
	in, err := req.ToInput(requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if !h.admit(ctx, w, r, "record_decision", body, in.ApproverID.String()) {
		return
	}

	resolved, err := h.service.RecordDecision(ctx, in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(resolved))
}

// HandleBulkDecision handles POST /requests/bulk-decision.
func (h *Handler) HandleBulkDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, req, ok := decodeRaw[BulkDecisionRequest](w, r, h.logger)
	if !ok {
		return
	}

	requestIDs, err := req.ParsedRequestIDs()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	approverID, err := id.ParseApproverID(req.ApproverID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	decision, err := approval.ParseDecision(req.Decision)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if !h.admit(ctx, w, r, "bulk_decision", body, approverID.String()) {
		return
	}

	results := h.service.BulkDecide(ctx, requestIDs, approverID, req.ApproverRole, decision, req.Comment)

	resp := BulkDecisionResponse{Results: make([]BulkItemResponse, 0, len(results))}
	for _, res := range results {
		item := BulkItemResponse{RequestID: res.RequestID.String()}
		if res.Err != nil {
			item.Error = res.Err.Error()
			resp.Failed++
		} else {
			converted := FromRequest(res.Request)
			item.Request = &converted
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, item)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleEscalationCheck handles GET /requests/{id}/escalation.
func (h *Handler) HandleEscalationCheck(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.CheckEscalation(r.Context(), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEscalation(result))
}

// HandleEscalationSweep handles POST /escalations/sweep.
func (h *Handler) HandleEscalationSweep(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.SweepEscalations(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	escalated := make([]EscalationResponse, 0, len(results))
	for i := range results {
		escalated = append(escalated, FromEscalation(&results[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"escalated": escalated,
		"count":     len(escalated),
	})
}

// admit runs the rate limiter and the idempotency guard for a decision
// submission. It writes the rejection response itself and reports whether the
// handler should proceed. The window is keyed per approver and per operation:
// exhausting the bulk budget leaves single decisions unaffected.
func (h *Handler) admit(ctx context.Context, w http.ResponseWriter, r *http.Request, operation string, body []byte, approverID string) bool {
	res := h.limiter.Allow(ctx, approverID+":"+operation)
	writeRateLimitHeaders(w, res)
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       string(dErrors.CodeRateLimited),
			"retry_after": int(res.RetryAfter.Seconds()),
		})
		return false
	}

	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		key = idempotency.DeriveKey(operation, body, approverID)
	}
	if h.guard.Admit(ctx, key) == idempotency.Duplicate {
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "duplicate submission"))
		return false
	}
	return true
}

func writeRateLimitHeaders(w http.ResponseWriter, res *ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func (h *Handler) decodeDecision(w http.ResponseWriter, r *http.Request) ([]byte, DecisionRequest, bool) {
	return decodeRaw[DecisionRequest](w, r, h.logger)
}

// decodeRaw decodes the body while retaining the raw bytes for idempotency
// key derivation.
func decodeRaw[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) ([]byte, T, bool) {
	var req T
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return nil, req, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if logger != nil {
			logger.Debug("request body decode failed", "path", r.URL.Path, "error", err)
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return nil, req, false
	}
	return body, req, true
}
