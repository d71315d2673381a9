package approval

import (
	"time"

	id "verdict/pkg/domain"
	dErrors "verdict/pkg/domain-errors"
)

// Status is the lifecycle state of an approval request. Transitions are
// monotonic: a request never leaves approved or denied, and the escalated
// marker rides on top of the two pending states without changing the
// decision path.
type Status string

const (
	StatusPending                Status = "pending"
	StatusRequiresSecondApproval Status = "requires_second_approval"
	StatusApproved               Status = "approved"
	StatusDenied                 Status = "denied"
)

// IsTerminal reports whether no further decision may be recorded.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// Decision is an approver's verdict on a request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// ParseDecision validates a decision string.
func ParseDecision(s string) (Decision, error) {
	d := Decision(s)
	if d != DecisionApprove && d != DecisionDeny {
		return "", dErrors.Newf(dErrors.CodeValidation, "decision must be approve or deny, got %q", s).WithFields("decision")
	}
	return d, nil
}

// RiskLevel buckets a risk score into the tier that picks the approver role
// set.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"    // 0-39
	RiskMedium RiskLevel = "medium" // 40-69
	RiskHigh   RiskLevel = "high"   // 70-100
)

// Request is one approval request. Version backs optimistic concurrency:
// every write is conditioned on the version observed at read time, and a
// stale write surfaces as CodeConflict instead of overwriting a concurrent
// decision.
type Request struct {
	ID               id.RequestID
	RequesterID      string
	RequesterEmail   string
	RequesterRole    string
	RiskScore        int
	Amount           float64
	RequestType      string
	Description      string
	Status           Status
	Escalated        bool
	EscalationReason string

	AutoDecided bool
	AutoRuleID  *int64

	FirstApproverID  *id.ApproverID
	FirstApprovalAt  *time.Time
	SecondApproverID *id.ApproverID
	SecondApprovalAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// CanDecideOn reports whether the request is still open for a decision.
func (r *Request) CanDecideOn() bool {
	return !r.Status.IsTerminal()
}
