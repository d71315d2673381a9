package handler

import (
	"time"

	"verdict/internal/approval"
)

// RequestResponse is the JSON shape of an approval request.
type RequestResponse struct {
	ID               string     `json:"id"`
	RequesterID      string     `json:"requester_id"`
	RequesterEmail   string     `json:"requester_email,omitempty"`
	RequesterRole    string     `json:"requester_role,omitempty"`
	RiskScore        int        `json:"risk_score"`
	Amount           float64    `json:"amount"`
	RequestType      string     `json:"request_type,omitempty"`
	Description      string     `json:"description,omitempty"`
	Status           string     `json:"status"`
	Escalated        bool       `json:"escalated"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	AutoDecided      bool       `json:"auto_decided"`
	AutoRuleID       *int64     `json:"auto_rule_id,omitempty"`
	FirstApproverID  string     `json:"first_approver_id,omitempty"`
	FirstApprovalAt  *time.Time `json:"first_approval_at,omitempty"`
	SecondApproverID string     `json:"second_approver_id,omitempty"`
	SecondApprovalAt *time.Time `json:"second_approval_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// FromRequest converts a domain request to its response shape.
func FromRequest(r *approval.Request) RequestResponse {
	resp := RequestResponse{
		ID:               r.ID.String(),
		RequesterID:      r.RequesterID,
		RequesterEmail:   r.RequesterEmail,
		RequesterRole:    r.RequesterRole,
		RiskScore:        r.RiskScore,
		Amount:           r.Amount,
		RequestType:      r.RequestType,
		Description:      r.Description,
		Status:           string(r.Status),
		Escalated:        r.Escalated,
		EscalationReason: r.EscalationReason,
		AutoDecided:      r.AutoDecided,
		AutoRuleID:       r.AutoRuleID,
		FirstApprovalAt:  r.FirstApprovalAt,
		SecondApprovalAt: r.SecondApprovalAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.FirstApproverID != nil {
		resp.FirstApproverID = r.FirstApproverID.String()
	}
	if r.SecondApproverID != nil {
		resp.SecondApproverID = r.SecondApproverID.String()
	}
	return resp
}

// CreateResponse is the POST /requests response.
type CreateResponse struct {
	Request               RequestResponse        `json:"request"`
	AutoDecision          *approval.AutoDecision `json:"auto_decision,omitempty"`
	RequiredApproverRoles []string               `json:"required_approver_roles,omitempty"`
}

// BulkItemResponse is one entry in the bulk decision response.
type BulkItemResponse struct {
	RequestID string           `json:"request_id"`
	Request   *RequestResponse `json:"request,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// BulkDecisionResponse is the POST /requests/bulk-decision response.
type BulkDecisionResponse struct {
	Results   []BulkItemResponse `json:"results"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
}

// EscalationResponse is the escalation check response.
type EscalationResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Escalated bool   `json:"escalated"`
	Reason    string `json:"reason,omitempty"`
}

// FromEscalation converts an escalation result to its response shape.
func FromEscalation(r *approval.EscalationResult) EscalationResponse {
	return EscalationResponse{
		RequestID: r.RequestID.String(),
		Status:    string(r.Status),
		Escalated: r.Escalated,
		Reason:    r.Reason,
	}
}
