// Package users manages operator and customer accounts. Passwords are stored
// as HASHED fields only; the plaintext exists for the duration of the create
// or authenticate call and nowhere else.
package users

import (
	"net/mail"
	"time"

	"custodia/internal/protect"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// User is an account record. Deletion is soft: Active drops to false and the
// audit trail for the account is retained. Once the retention window for a
// deactivated account lapses its identifying fields are scrubbed and Purged
// flips; the shell row and its ledger entries survive.
type User struct {
	ID        string                 `json:"id"`
	Username  string                 `json:"username"`
	Email     string                 `json:"email"`
	Role      domain.Role            `json:"role"`
	Active    bool                   `json:"active"`
	Purged    bool                   `json:"purged,omitempty"`
	Password  protect.SensitiveField `json:"-"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// digest is the fingerprint carried in audit entries for this record. It
// covers the visible state, never the password material.
func (u User) digest() string {
	return protect.Digest(u.Username + "|" + u.Email + "|" + u.Role.String() + "|" + boolString(u.Active) + "|" + boolString(u.Purged))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// CreateParams is the input to Service.Create.
type CreateParams struct {
	Username string
	Email    string
	Role     domain.Role
	Password string
}

func (p CreateParams) validate() error {
	if p.Username == "" {
		return dErrors.New(dErrors.CodeValidation, "username cannot be empty")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	if !p.Role.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid role %q", p.Role)
	}
	if len(p.Password) < 8 {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	return nil
}

// UpdateParams carries the mutable account fields. Nil means unchanged.
type UpdateParams struct {
	Email *string
	Role  *domain.Role
}

// Filter narrows List results.
type Filter struct {
	Role       domain.Role
	ActiveOnly bool
}
