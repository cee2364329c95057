package retention

import (
	"context"

	"custodia/pkg/domain"
)

// Store persists retention policies keyed by data type.
//
// Errors: sentinel.ErrNotFound on an unknown data type.
type Store interface {
	Get(ctx context.Context, dataType domain.DataType) (Policy, error)
	Upsert(ctx context.Context, policy Policy) error
	List(ctx context.Context) ([]Policy, error)
}
