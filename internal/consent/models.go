// Package consent tracks purpose-bound consent for data subjects. Consent
// grants and revocations are themselves regulated events: every change
// appends a ledger entry, and those entries are what the GDPR evaluation
// reads back.
package consent

import (
	"time"

	"custodia/pkg/domain"
)

// Record captures a data subject's decision for a specific purpose. A revoked
// record is never deleted; revocation is a new fact about the same grant.
type Record struct {
	ID        string                `json:"id"`
	SubjectID string                `json:"subject_id"`
	Purpose   domain.ConsentPurpose `json:"purpose"`
	GrantedAt time.Time             `json:"granted_at"`
	ExpiresAt time.Time             `json:"expires_at,omitempty"`
	RevokedAt *time.Time            `json:"revoked_at,omitempty"`
}

// IsActive reports whether the grant is currently in force.
func (r Record) IsActive(now time.Time) bool {
	if r.RevokedAt != nil && !r.RevokedAt.After(now) {
		return false
	}
	return r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt)
}

// HasActive reports whether any record in the set covers the purpose at the
// given instant.
func HasActive(records []Record, purpose domain.ConsentPurpose, now time.Time) bool {
	for _, r := range records {
		if r.Purpose == purpose && r.IsActive(now) {
			return true
		}
	}
	return false
}
