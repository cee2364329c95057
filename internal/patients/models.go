// Package patients manages protected health information. SSNs and physician
// notes are ENCRYPTED fields; every read, reveal and update of a record is
// individually audited. Records are never hard-deleted: erasure and purge
// leave a tombstone that keeps the patient id and the audit trail while the
// payload is scrubbed.
package patients

import (
	"time"

	"custodia/internal/protect"
	dErrors "custodia/pkg/domain-errors"
)

// Record is a patient chart. AccessCount counts reads and reveals; the HIPAA
// evaluation cross-checks it against the ledger.
type Record struct {
	PatientID      string                 `json:"patient_id"`
	FirstName      string                 `json:"first_name"`
	LastName       string                 `json:"last_name"`
	DateOfBirth    time.Time              `json:"date_of_birth"`
	SSN            protect.SensitiveField `json:"ssn"`
	DiagnosisCodes []string               `json:"diagnosis_codes"`
	Medications    []string               `json:"medications"`
	PhysicianNotes protect.SensitiveField `json:"physician_notes"`
	InsuranceID    string                 `json:"insurance_id,omitempty"`
	AccessCount    int64                  `json:"access_count"`
	Tombstoned     bool                   `json:"tombstoned"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// digest fingerprints the visible record state for audit entries. Sensitive
// field material never enters the digest input in plaintext.
func (r Record) digest() string {
	state := "active"
	if r.Tombstoned {
		state = "tombstoned"
	}
	return protect.Digest(r.PatientID + "|" + r.FirstName + "|" + r.LastName + "|" + r.InsuranceID + "|" + state)
}

// CreateParams is the input to Service.Create. SSN and PhysicianNotes arrive
// in plaintext and are protected before anything is persisted.
type CreateParams struct {
	PatientID      string
	FirstName      string
	LastName       string
	DateOfBirth    time.Time
	SSN            string
	DiagnosisCodes []string
	Medications    []string
	PhysicianNotes string
	InsuranceID    string
}

func (p CreateParams) validate() error {
	if p.PatientID == "" {
		return dErrors.New(dErrors.CodeValidation, "patient id cannot be empty")
	}
	if p.FirstName == "" || p.LastName == "" {
		return dErrors.New(dErrors.CodeValidation, "patient name cannot be empty")
	}
	if p.DateOfBirth.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "date of birth is required")
	}
	if p.SSN == "" {
		return dErrors.New(dErrors.CodeValidation, "ssn is required")
	}
	return nil
}

// UpdateParams carries the mutable chart fields. Nil means unchanged.
type UpdateParams struct {
	DiagnosisCodes []string
	Medications    []string
	PhysicianNotes *string
	InsuranceID    *string
}

// Filter narrows Search results. Matching runs on non-sensitive fields only.
type Filter struct {
	LastName    string
	InsuranceID string
	// IncludeTombstoned widens the result set to erased records.
	IncludeTombstoned bool
}
