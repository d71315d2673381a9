package policy

import (
	"context"
	"sync"
	"time"

	dErrors "verdict/pkg/domain-errors"
)

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu     sync.RWMutex
	rules  map[int64]Rule
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:  make(map[int64]Rule),
		nextID: 1,
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule.ID = s.nextID
	s.nextID++
	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = *rule
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "policy %d not found", id)
	}
	return &rule, nil
}

func (s *MemoryStore) Update(ctx context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[rule.ID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "policy %d not found", rule.ID)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now()
	s.rules[rule.ID] = *rule
	return nil
}

func (s *MemoryStore) SetActive(ctx context.Context, id int64, active bool, approvedBy string) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "policy %d not found", id)
	}
	rule.Active = active
	if active {
		rule.ApprovedBy = approvedBy
		now := s.now()
		rule.ApprovedAt = &now
	} else {
		rule.ApprovedBy = ""
		rule.ApprovedAt = nil
	}
	rule.UpdatedAt = s.now()
	s.rules[id] = rule
	return &rule, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "policy %d not found", id)
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Rule
	for _, rule := range s.rules {
		if rule.Active {
			out = append(out, rule)
		}
	}
	return out, nil
}
