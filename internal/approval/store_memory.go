package approval

import (
	"context"
	"sync"
	"time"

	id "verdict/pkg/domain"
	dErrors "verdict/pkg/domain-errors"
)

// MemoryStore is an in-memory RequestStore for tests and single-process use.
// UpdateIf holds the store lock for the whole compare-and-swap, giving the
// same precondition semantics as the SQL implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]Request
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[id.RequestID]Request),
		now:      time.Now,
	}
}

// WithClock overrides the timestamp source so tests can line the store up
// with the service clock.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return dErrors.Newf(dErrors.CodeConflict, "request %s already exists", req.ID)
	}
	now := s.now()
	req.CreatedAt = now
	req.UpdatedAt = now
	req.Version = 1
	s.requests[req.ID] = *req
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, requestID id.RequestID) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "request %s not found", requestID)
	}
	return &req, nil
}

func (s *MemoryStore) UpdateIf(ctx context.Context, req *Request, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[req.ID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "request %s not found", req.ID)
	}
	if current.Version != expectedVersion {
		return dErrors.Newf(dErrors.CodeConflict, "request %s changed concurrently (version %d, expected %d)",
			req.ID, current.Version, expectedVersion)
	}
	req.CreatedAt = current.CreatedAt
	req.UpdatedAt = s.now()
	req.Version = expectedVersion + 1
	s.requests[req.ID] = *req
	return nil
}

func (s *MemoryStore) ListUndecided(ctx context.Context) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, req := range s.requests {
		if !req.Status.IsTerminal() {
			copy := req
			out = append(out, &copy)
		}
	}
	return out, nil
}
