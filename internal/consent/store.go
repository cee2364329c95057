package consent

import (
	"context"
	"time"

	"custodia/pkg/domain"
)

// Store persists consent records.
//
// Errors: implementations return sentinel errors (sentinel.ErrNotFound); the
// service translates them into coded domain errors.
type Store interface {
	Save(ctx context.Context, record Record) error
	ListBySubject(ctx context.Context, subjectID string) ([]Record, error)
	Revoke(ctx context.Context, subjectID string, purpose domain.ConsentPurpose, revokedAt time.Time) (int, error)
}
