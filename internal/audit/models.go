package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action labels what happened. The engine appends an entry for every policy
// mutation and for decision outcomes that compliance replay needs: who
// decided, when, under which role, and which rule fired for auto-decisions.
type Action string

const (
	ActionPolicyCreated     Action = "policy_created"
	ActionPolicyUpdated     Action = "policy_updated"
	ActionPolicyActivated   Action = "policy_activated"
	ActionPolicyDeactivated Action = "policy_deactivated"
	ActionPolicyDeleted     Action = "policy_deleted"
	ActionDecisionRecorded  Action = "decision_recorded"
	ActionAutoDecision      Action = "auto_decision"
	ActionPermissionDenied  Action = "permission_denied"
)

// Entry is one append-only audit record. Before/After hold JSON snapshots of
// the mutated record; entries are never updated or deleted.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	Actor     string          `json:"actor"`
	ActorRole string          `json:"actor_role,omitempty"`
	Action    Action          `json:"action"`
	PolicyID  *int64          `json:"policy_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	RuleID    *int64          `json:"rule_id,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Comment   string          `json:"comment,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
