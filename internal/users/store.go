package users

import (
	"context"
	"time"
)

// Store persists user records.
//
// Errors: sentinel.ErrConflict on duplicate username or email,
// sentinel.ErrNotFound on unknown id. The service translates sentinels into
// coded domain errors.
type Store interface {
	Create(ctx context.Context, user User) error
	Get(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	Update(ctx context.Context, user User) error
	List(ctx context.Context, filter Filter) ([]User, error)
	// ListExpired returns deactivated, not yet purged accounts whose last
	// update predates the cutoff, oldest first.
	ListExpired(ctx context.Context, cutoff time.Time) ([]User, error)
}
