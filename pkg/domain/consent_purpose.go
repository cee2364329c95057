package domain

import dErrors "custodia/pkg/domain-errors"

// ConsentPurpose is a domain value that identifies why regulated data is
// processed. Purpose binding allows selective revocation without affecting
// other flows.
//
// Usage: construct via ParseConsentPurpose at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type ConsentPurpose string

// Supported consent purposes.
const (
	ConsentPurposeTreatment   ConsentPurpose = "treatment"
	ConsentPurposePayment     ConsentPurpose = "payment_processing"
	ConsentPurposeDataStorage ConsentPurpose = "data_storage"
	ConsentPurposeMarketing   ConsentPurpose = "marketing"
)

// validConsentPurposes is the single source of truth for valid consent purposes.
var validConsentPurposes = map[ConsentPurpose]bool{
	ConsentPurposeTreatment:   true,
	ConsentPurposePayment:     true,
	ConsentPurposeDataStorage: true,
	ConsentPurposeMarketing:   true,
}

// ParseConsentPurpose constructs a ConsentPurpose from external input.
//
// Usage: call from handlers/adapters when parsing requests.
//
// Errors: returns CodeValidation when the value is empty or unsupported; no
// other errors are expected.
func ParseConsentPurpose(s string) (ConsentPurpose, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "purpose cannot be empty")
	}
	p := ConsentPurpose(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid purpose")
	}
	return p, nil
}

// IsValid checks if the consent purpose is one of the supported enum values.
func (p ConsentPurpose) IsValid() bool {
	return validConsentPurposes[p]
}

// String returns the string representation of the purpose.
func (p ConsentPurpose) String() string {
	return string(p)
}
