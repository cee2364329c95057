package patients

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodia/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]Record)}
}

func (s *InMemoryStore) Create(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[record.PatientID]; exists {
		return sentinel.ErrConflict
	}
	s.byID[record.PatientID] = record
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, patientID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[patientID]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	return record, nil
}

func (s *InMemoryStore) Update(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[record.PatientID]; !ok {
		return sentinel.ErrNotFound
	}
	s.byID[record.PatientID] = record
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.byID {
		if r.Tombstoned && !filter.IncludeTombstoned {
			continue
		}
		if filter.LastName != "" && r.LastName != filter.LastName {
			continue
		}
		if filter.InsuranceID != "" && r.InsuranceID != filter.InsuranceID {
			continue
		}
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, cutoff time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.byID {
		if !r.Tombstoned && r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *InMemoryStore) All(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].PatientID < records[j].PatientID })
}
