package patients

import (
	"context"
	"time"
)

// Store persists patient records.
//
// Errors: sentinel.ErrConflict on duplicate patient id, sentinel.ErrNotFound
// on unknown id.
type Store interface {
	Create(ctx context.Context, record Record) error
	Get(ctx context.Context, patientID string) (Record, error)
	Update(ctx context.Context, record Record) error
	Search(ctx context.Context, filter Filter) ([]Record, error)
	// ListExpired returns non-tombstoned records created before the cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]Record, error)
	// All returns every record including tombstones; the compliance
	// aggregator scans it.
	All(ctx context.Context) ([]Record, error)
}
