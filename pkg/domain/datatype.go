package domain

import dErrors "custodia/pkg/domain-errors"

// DataType identifies a regulated record category. The retention policy table
// is keyed by this value, and audit entries carry it as the subject type.
type DataType string

const (
	DataTypeUser        DataType = "user"
	DataTypeTransaction DataType = "transaction"
	DataTypePatient     DataType = "patient"
	DataTypeConsent     DataType = "consent"
	DataTypePolicy      DataType = "policy"
)

var validDataTypes = map[DataType]bool{
	DataTypeUser:        true,
	DataTypeTransaction: true,
	DataTypePatient:     true,
	DataTypeConsent:     true,
	DataTypePolicy:      true,
}

// ParseDataType constructs a DataType from external input.
//
// Errors: returns CodeValidation when the value is empty or unsupported.
func ParseDataType(s string) (DataType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "data type cannot be empty")
	}
	d := DataType(s)
	if !d.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid data type: "+s)
	}
	return d, nil
}

// IsValid checks if the data type is one of the supported enum values.
func (d DataType) IsValid() bool {
	return validDataTypes[d]
}

func (d DataType) String() string { return string(d) }

// RetainedTypes lists the data types the retention scheduler walks.
// Consent and policy records follow the audit trail's lifetime and are
// never purged independently.
func RetainedTypes() []DataType {
	return []DataType{DataTypeUser, DataTypeTransaction, DataTypePatient}
}
