// Package handler wires the policy authoring endpoints to the policy service.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"verdict/internal/policy"
	dErrors "verdict/pkg/domain-errors"
	"verdict/pkg/platform/httputil"
)

const actorHeader = "X-Actor-ID"

// Handler exposes policy rule CRUD, activation, and simulation.
type Handler struct {
	service *policy.Service
	logger  *slog.Logger
}

// New constructs a policy handler with its dependencies.
func New(service *policy.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the policy endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/policies", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Post("/simulate", h.HandleSimulate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Put("/", h.HandleUpdate)
			r.Delete("/", h.HandleDelete)
			r.Post("/activate", h.HandleActivate)
			r.Post("/deactivate", h.HandleDeactivate)
		})
	})
}

// RuleRequest is the create/update payload.
type RuleRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Condition   policy.Condition `json:"condition"`
	Action      string           `json:"action"`
	Priority    int              `json:"priority"`
	Confidence  int              `json:"confidence"`
}

func (r RuleRequest) toRule() policy.Rule {
	return policy.Rule{
		Name:        r.Name,
		Description: r.Description,
		Condition:   r.Condition,
		Action:      policy.Action(r.Action),
		Priority:    r.Priority,
		Confidence:  r.Confidence,
	}
}

// SimulateRequest is the POST /policies/simulate payload. An empty rules
// slice simulates the stored rule set.
type SimulateRequest struct {
	Rules   []RuleRequest    `json:"rules,omitempty"`
	Samples []policy.FactMap `json:"samples"`
}

// HandleCreate handles POST /policies.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[RuleRequest](w, r, h.logger)
	if !ok {
		return
	}

	rule, err := h.service.Create(ctx, req.toRule(), actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "policy created",
		"policy_id", rule.ID,
		"name", rule.Name,
		"actor", actor,
	)
	httputil.WriteJSON(w, http.StatusCreated, rule)
}

// HandleList handles GET /policies.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"policies": rules,
		"count":    len(rules),
	})
}

// HandleGet handles GET /policies/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	rule, err := h.service.Get(r.Context(), ruleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}

// HandleUpdate handles PUT /policies/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	ruleID, ok := h.ruleID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[RuleRequest](w, r, h.logger)
	if !ok {
		return
	}

	current, err := h.service.Get(ctx, ruleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rule := req.toRule()
	rule.ID = ruleID
	rule.Active = current.Active
	rule.CreatedBy = current.CreatedBy
	rule.ApprovedBy = current.ApprovedBy
	rule.ApprovedAt = current.ApprovedAt

	updated, err := h.service.Update(ctx, rule, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// HandleDelete handles DELETE /policies/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	ruleID, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), ruleID, actor); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleActivate handles POST /policies/{id}/activate.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// HandleDeactivate handles POST /policies/{id}/deactivate.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	ruleID, ok := h.ruleID(w, r)
	if !ok {
		return
	}

	rule, err := h.service.SetActive(ctx, ruleID, active, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "policy activation changed",
		"policy_id", ruleID,
		"active", active,
		"actor", actor,
	)
	httputil.WriteJSON(w, http.StatusOK, rule)
}

// HandleSimulate handles POST /policies/simulate.
func (h *Handler) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[SimulateRequest](w, r, h.logger)
	if !ok {
		return
	}
	if len(req.Samples) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "samples must not be empty").WithFields("samples"))
		return
	}

	rules := make([]policy.Rule, 0, len(req.Rules))
	for _, rr := range req.Rules {
		rules = append(rules, rr.toRule())
	}

	impact, err := h.service.Simulate(r.Context(), rules, req.Samples)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, impact)
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := r.Header.Get(actorHeader)
	if actor == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "X-Actor-ID header is required"))
		return "", false
	}
	return actor, true
}

func (h *Handler) ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	ruleID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ruleID < 1 {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeValidation, "invalid policy id %q", raw))
		return 0, false
	}
	return ruleID, true
}
