package payments

import (
	"context"
	"time"
)

// Store persists transactions.
//
// Errors: sentinel.ErrConflict on duplicate id, sentinel.ErrNotFound on
// unknown id.
type Store interface {
	Create(ctx context.Context, txn Transaction) error
	Get(ctx context.Context, id string) (Transaction, error)
	Update(ctx context.Context, txn Transaction) error
	List(ctx context.Context, filter Filter) ([]Transaction, error)
	// ListExpired returns transactions processed before the cutoff whose
	// card payload has not yet been scrubbed.
	ListExpired(ctx context.Context, cutoff time.Time) ([]Transaction, error)
}
