package protect

import (
	"context"
	"sync"

	"custodia/pkg/platform/sentinel"
)

// TokenVault holds the tokenized-value mapping. Without the vault a token is
// an opaque random surrogate; deleting the mapping makes the tokenization
// irreversible, which is how purge destroys tokenized payloads.
type TokenVault interface {
	Put(ctx context.Context, token, value string) error
	Delete(ctx context.Context, token string) error
}

// InMemoryVault keeps the token mapping in process memory.
type InMemoryVault struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewInMemoryVault() *InMemoryVault {
	return &InMemoryVault{values: make(map[string]string)}
}

func (v *InMemoryVault) Put(_ context.Context, token, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.values[token]; exists {
		return sentinel.ErrConflict
	}
	v.values[token] = value
	return nil
}

func (v *InMemoryVault) Delete(_ context.Context, token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, token)
	return nil
}

// lookup is test-only surface for asserting unlinkability; the protector
// itself never exposes tokenized values.
func (v *InMemoryVault) lookup(token string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[token]
	return val, ok
}
