package consent

import (
	"context"
	"sync"
	"time"

	"custodia/pkg/domain"
)

// InMemoryStore keeps consent records in process memory. Used in tests and
// when no database is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.SubjectID] = append(s.records[record.SubjectID], record)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record{}, s.records[subjectID]...), nil
}

// Revoke marks every active grant for the purpose as revoked and returns how
// many grants it touched. Zero is not an error; the service records it as a
// no-op.
func (s *InMemoryStore) Revoke(_ context.Context, subjectID string, purpose domain.ConsentPurpose, revokedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.records[subjectID]
	revoked := 0
	for i := range records {
		if records[i].Purpose == purpose && records[i].RevokedAt == nil {
			at := revokedAt
			records[i].RevokedAt = &at
			revoked++
		}
	}
	s.records[subjectID] = records
	return revoked, nil
}
