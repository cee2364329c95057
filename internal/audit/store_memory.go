package audit

import (
	"context"
	"sync"
)

const defaultQueryLimit = 100

// InMemoryStore keeps the ledger in process memory. Sequence assignment is
// serialized on a single mutex, which makes append linearizable by
// construction. Used in tests and non-durable deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Seq = uint64(len(s.entries)) + 1
	s.entries = append(s.entries, entry)
	return entry.Seq, nil
}

func (s *InMemoryStore) Query(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var out []Entry
	// Entries are stored in sequence order already; Seq == index+1.
	start := int(filter.AfterSeq)
	if start > len(s.entries) {
		start = len(s.entries)
	}
	for _, e := range s.entries[start:] {
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) LastSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries)), nil
}
