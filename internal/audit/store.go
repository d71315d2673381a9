package audit

import "context"

// Store is the append-only sink for audit entries. Swap memory for postgres
// without touching callers.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}
