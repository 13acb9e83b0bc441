package audit

import (
	"context"
	"sync"

	"attestor/internal/domain"
)

// InMemoryStore keeps the chain in an append-only slice.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*domain.AuditEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, q Query) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.AuditEntry
	for _, e := range s.entries {
		if q.Matches(e) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	if q.Descending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *InMemoryStore) All(_ context.Context) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) LastHash(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return "", nil
	}
	return s.entries[len(s.entries)-1].IntegrityHash, nil
}

// Tamper mutates a stored entry in place, bypassing the append-only
// contract. Test hook for integrity validation scenarios.
func (s *InMemoryStore) Tamper(index int, mutate func(*domain.AuditEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.entries) {
		mutate(s.entries[index])
	}
}
