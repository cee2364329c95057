package retention

import (
	"context"
	"sort"
	"sync"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	policies map[domain.DataType]Policy
}

func NewInMemoryStore(defaults ...Policy) *InMemoryStore {
	s := &InMemoryStore{policies: make(map[domain.DataType]Policy)}
	for _, p := range defaults {
		s.policies[p.DataType] = p
	}
	return s
}

func (s *InMemoryStore) Get(_ context.Context, dataType domain.DataType) (Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[dataType]
	if !ok {
		return Policy{}, sentinel.ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, policy Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.DataType] = policy
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataType < out[j].DataType })
	return out, nil
}
