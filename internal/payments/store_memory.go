package payments

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodia/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Transaction
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]Transaction)}
}

func (s *InMemoryStore) Create(_ context.Context, txn Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[txn.ID]; exists {
		return sentinel.ErrConflict
	}
	s.byID[txn.ID] = txn
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.byID[id]
	if !ok {
		return Transaction{}, sentinel.ErrNotFound
	}
	return txn, nil
}

func (s *InMemoryStore) Update(_ context.Context, txn Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[txn.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.byID[txn.ID] = txn
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, txn := range s.byID {
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		if filter.RefundOf != "" && txn.RefundOf != filter.RefundOf {
			continue
		}
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(out[j].ProcessedAt) })
	return out, nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, cutoff time.Time) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, txn := range s.byID {
		if txn.ProcessedAt.Before(cutoff) && !txn.Card.Scrubbed {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(out[j].ProcessedAt) })
	return out, nil
}
