// Package domain holds typed identifiers shared across the engine. Distinct
// wrapper types keep a request ID from being passed where an approver ID is
// expected; the compiler enforces it.
package domain

import (
	"github.com/google/uuid"

	dErrors "verdict/pkg/domain-errors"
)

// RequestID identifies an approval request.
type RequestID uuid.UUID

// ApproverID identifies a human approver.
type ApproverID uuid.UUID

// ActorID identifies whoever performed an auditable action (an approver, a
// policy author, or the engine itself for auto-decisions).
type ActorID string

func (id RequestID) String() string  { return uuid.UUID(id).String() }
func (id ApproverID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the ID is the nil UUID.
func (id RequestID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ApproverID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// NewRequestID generates a fresh request identifier.
func NewRequestID() RequestID { return RequestID(uuid.New()) }

// NewApproverID generates a fresh approver identifier.
func NewApproverID() ApproverID { return ApproverID(uuid.New()) }

// ParseRequestID validates and parses a request ID. IDs must be valid,
// non-nil UUIDs.
func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request_id")
	if err != nil {
		return RequestID{}, err
	}
	return RequestID(u), nil
}

// ParseApproverID validates and parses an approver ID.
func ParseApproverID(s string) (ApproverID, error) {
	u, err := parseUUID(s, "approver_id")
	if err != nil {
		return ApproverID{}, err
	}
	return ApproverID(u), nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s cannot be empty", field).WithFields(field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s is not a valid UUID", field).WithFields(field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s cannot be the nil UUID", field).WithFields(field)
	}
	return u, nil
}
