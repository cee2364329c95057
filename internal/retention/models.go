// Package retention owns the retention policy table and the background
// scheduler that enforces it. Policy changes are capability-gated and
// audited; enforcement destroys sensitive payloads while the audit trail
// stays behind.
package retention

import (
	"time"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Policy maps a data type to its maximum retention. MaxAgeDays zero means
// indefinite. Version increments on every change; changes take effect on the
// next scheduler pass, already-purged records are never reinterpreted.
type Policy struct {
	DataType   domain.DataType `json:"data_type"`
	MaxAgeDays int             `json:"max_age_days"`
	Version    int             `json:"version"`
	UpdatedBy  string          `json:"updated_by"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Indefinite reports whether records of this type are never purged.
func (p Policy) Indefinite() bool {
	return p.MaxAgeDays <= 0
}

func (p Policy) validate() error {
	if !p.DataType.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid data type %q", p.DataType)
	}
	retained := false
	for _, d := range domain.RetainedTypes() {
		if d == p.DataType {
			retained = true
			break
		}
	}
	if !retained {
		return dErrors.Newf(dErrors.CodeValidation, "data type %q has no retention policy", p.DataType)
	}
	if p.MaxAgeDays < 0 {
		return dErrors.New(dErrors.CodeValidation, "max age cannot be negative")
	}
	return nil
}

// Defaults returns the initial policy set: transactions kept seven years,
// patients and users indefinite.
func Defaults(transactionDays int) []Policy {
	return []Policy{
		{DataType: domain.DataTypeTransaction, MaxAgeDays: transactionDays, Version: 1, UpdatedBy: "system"},
		{DataType: domain.DataTypePatient, MaxAgeDays: 0, Version: 1, UpdatedBy: "system"},
		{DataType: domain.DataTypeUser, MaxAgeDays: 0, Version: 1, UpdatedBy: "system"},
	}
}
