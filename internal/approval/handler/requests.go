package handler

import (
	"verdict/internal/approval"
	"verdict/internal/policy"
	id "verdict/pkg/domain"
	dErrors "verdict/pkg/domain-errors"
	pstrings "verdict/pkg/platform/strings"
)

// CreateRequest is the POST /requests payload.
type CreateRequest struct {
	RequesterID    string         `json:"requester_id"`
	RequesterEmail string         `json:"requester_email,omitempty"`
	RequesterRole  string         `json:"requester_role"`
	RiskScore      int            `json:"risk_score"`
	Amount         float64        `json:"amount"`
	RequestType    string         `json:"request_type,omitempty"`
	Description    string         `json:"description,omitempty"`
	Facts          map[string]any `json:"facts,omitempty"`
}

// ToInput converts the payload to the service input.
func (r CreateRequest) ToInput() approval.CreateInput {
	return approval.CreateInput{
		Facts:          policy.FactMap(r.Facts),
		RequesterID:    r.RequesterID,
		RequesterEmail: r.RequesterEmail,
		RequesterRole:  r.RequesterRole,
		RiskScore:      r.RiskScore,
		Amount:         r.Amount,
		RequestType:    r.RequestType,
		Description:    r.Description,
	}
}

// DecisionRequest is the POST /requests/{id}/decision payload.
type DecisionRequest struct {
	ApproverID   string `json:"approver_id"`
	ApproverRole string `json:"approver_role"`
	Decision     string `json:"decision"`
	Comment      string `json:"comment,omitempty"`
}

// ToInput validates the payload and converts it to the service input.
func (r DecisionRequest) ToInput(requestID id.RequestID) (approval.DecisionInput, error) {
	approverID, err := id.ParseApproverID(r.ApproverID)
	if err != nil {
		return approval.DecisionInput{}, err
	}
	if r.ApproverRole == "" {
		return approval.DecisionInput{}, dErrors.New(dErrors.CodeValidation, "approver_role is required").WithFields("approver_role")
	}
	decision, err := approval.ParseDecision(r.Decision)
	if err != nil {
		return approval.DecisionInput{}, err
	}
	return approval.DecisionInput{
		RequestID:    requestID,
		ApproverID:   approverID,
		ApproverRole: r.ApproverRole,
		Decision:     decision,
		Comment:      r.Comment,
	}, nil
}

// BulkDecisionRequest is the POST /requests/bulk-decision payload.
type BulkDecisionRequest struct {
	RequestIDs   []string `json:"request_ids"`
	ApproverID   string   `json:"approver_id"`
	ApproverRole string   `json:"approver_role"`
	Decision     string   `json:"decision"`
	Comment      string   `json:"comment,omitempty"`
}

// ParsedRequestIDs validates the ID list. Duplicate and blank entries are
// dropped rather than rejected so a sloppy bulk submission does not decide
// the same request twice.
func (r BulkDecisionRequest) ParsedRequestIDs() ([]id.RequestID, error) {
	unique := pstrings.DedupeAndTrim(r.RequestIDs)
	if len(unique) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "request_ids must not be empty").WithFields("request_ids")
	}
	ids := make([]id.RequestID, 0, len(unique))
	for _, raw := range unique {
		reqID, err := id.ParseRequestID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, reqID)
	}
	return ids, nil
}
