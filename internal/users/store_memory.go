package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodia/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byName  map[string]string
	byEmail map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]User),
		byName:  make(map[string]string),
		byEmail: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[user.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byName[user.Username]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byEmail[user.Email]; exists {
		return sentinel.ErrConflict
	}
	s.byID[user.ID] = user
	s.byName[user.Username] = user.ID
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return User{}, sentinel.ErrNotFound
	}
	return user, nil
}

func (s *InMemoryStore) GetByUsername(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok {
		return User{}, sentinel.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) Update(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byID[user.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if prev.Email != user.Email {
		if owner, exists := s.byEmail[user.Email]; exists && owner != user.ID {
			return sentinel.ErrConflict
		}
		delete(s.byEmail, prev.Email)
		s.byEmail[user.Email] = user.ID
	}
	if prev.Username != user.Username {
		if owner, exists := s.byName[user.Username]; exists && owner != user.ID {
			return sentinel.ErrConflict
		}
		delete(s.byName, prev.Username)
		s.byName[user.Username] = user.ID
	}
	s.byID[user.ID] = user
	return nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, cutoff time.Time) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, u := range s.byID {
		if !u.Active && !u.Purged && u.UpdatedAt.Before(cutoff) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, u := range s.byID {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.ActiveOnly && !u.Active {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}
