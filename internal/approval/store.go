package approval

import (
	"context"

	id "verdict/pkg/domain"
)

// RequestStore persists approval requests. UpdateIf is the optimistic
// concurrency primitive: the write succeeds only when the stored version
// still equals expectedVersion, in which case the record's version is
// incremented atomically with the update. A mismatch surfaces as
// CodeConflict and the caller re-reads and retries if appropriate.
//
// Requests are never deleted by the engine; archival is an external concern.
type RequestStore interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, requestID id.RequestID) (*Request, error)
	UpdateIf(ctx context.Context, req *Request, expectedVersion int64) error
	ListUndecided(ctx context.Context) ([]*Request, error)
}
