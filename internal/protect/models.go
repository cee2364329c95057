// Package protect implements field-level protection for sensitive scalar
// values: reversible encryption, irreversible tokenization, and slow salted
// hashing. Every regulated record store delegates its sensitive fields here.
package protect

import (
	"crypto/sha256"
	"encoding/hex"

	dErrors "custodia/pkg/domain-errors"
)

// Mode classifies how a sensitive value is protected at rest.
type Mode string

const (
	// ModePlaintext is forbidden in storage; it exists only to name the
	// violation in compliance results.
	ModePlaintext Mode = "plaintext"
	// ModeEncrypted is reversible via the audited reveal operation.
	ModeEncrypted Mode = "encrypted"
	// ModeTokenized replaces the value with a random surrogate, unlinkable
	// without the protector's vault.
	ModeTokenized Mode = "tokenized"
	// ModeHashed is a slow salted one-way transform for credentials.
	ModeHashed Mode = "hashed"
)

// SensitiveField is a protected scalar as persisted by the record stores.
// Once persisted, Mode cannot silently change; mode transitions are audited
// events, never covert rewrites.
type SensitiveField struct {
	Mode Mode `json:"mode"`
	// Data holds the base64 ciphertext (encrypted), the surrogate token
	// (tokenized), or the bcrypt hash (hashed). Never plaintext.
	Data string `json:"data,omitempty"`
	// KeyVersion tags encrypted payloads with the key that sealed them.
	KeyVersion uint32 `json:"key_version,omitempty"`
	// Scrubbed marks a field destroyed by retention enforcement. The field
	// shape survives for traceability; the value is irrecoverable.
	Scrubbed bool `json:"scrubbed,omitempty"`
}

// IsZero reports whether the field has never been populated.
func (f SensitiveField) IsZero() bool {
	return f.Mode == "" && f.Data == ""
}

// Validate rejects fields that must never reach storage.
func (f SensitiveField) Validate() error {
	if f.Mode == ModePlaintext {
		return dErrors.New(dErrors.CodeValidation, "plaintext sensitive fields are forbidden in storage")
	}
	return nil
}

// Digest returns the hex SHA-256 of a value. Audit entries carry digests of
// previous/new sensitive values; the raw values never enter the ledger.
func Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
