package policy

import (
	"context"
)

// Store persists authored rules. Implementations must be safe for concurrent
// use; the matcher only ever reads through ListActive.
type Store interface {
	Create(ctx context.Context, rule *Rule) error
	Get(ctx context.Context, id int64) (*Rule, error)
	Update(ctx context.Context, rule *Rule) error
	SetActive(ctx context.Context, id int64, active bool, approvedBy string) (*Rule, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]Rule, error)
	ListActive(ctx context.Context) ([]Rule, error)
}
