// Package payments manages card transactions. The primary account number is
// stored only as a TOKENIZED field plus a last-four display value; the CVV is
// used for the authorization decision and discarded, never persisted, never
// logged.
package payments

import (
	"time"

	"custodia/internal/protect"
	dErrors "custodia/pkg/domain-errors"
)

// Status is a transaction's lifecycle state. Approved, declined and refunded
// are terminal; history is never rewritten, refunds create a new transaction
// linked through RefundOf.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
	StatusRefunded Status = "refunded"
)

// Terminal reports whether the status permits no further mutation.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDeclined || s == StatusRefunded
}

// Transaction is a charge or refund record. Amount is in minor units.
type Transaction struct {
	ID             string                 `json:"id"`
	Amount         int64                  `json:"amount"`
	Currency       string                 `json:"currency"`
	CardholderName string                 `json:"cardholder_name"`
	Card           protect.SensitiveField `json:"card"`
	CardLastFour   string                 `json:"card_last_four"`
	Status         Status                 `json:"status"`
	RefundOf       string                 `json:"refund_of,omitempty"`
	ProcessedAt    time.Time              `json:"processed_at"`
}

// digest fingerprints the visible transaction state for audit entries.
func (t Transaction) digest() string {
	return protect.Digest(t.Currency + "|" + t.CardLastFour + "|" + string(t.Status) + "|" + t.RefundOf)
}

// ChargeParams is the input to Service.Charge. CardNumber and CVV live only
// for the duration of the call.
type ChargeParams struct {
	Amount         int64
	Currency       string
	CardholderName string
	CardNumber     string
	CVV            string
}

func (p ChargeParams) validate() error {
	if p.Amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if len(p.Currency) != 3 {
		return dErrors.New(dErrors.CodeValidation, "currency must be a 3-letter code")
	}
	if p.CardholderName == "" {
		return dErrors.New(dErrors.CodeValidation, "cardholder name cannot be empty")
	}
	if !luhnValid(p.CardNumber) {
		return dErrors.New(dErrors.CodeValidation, "card number failed validation")
	}
	if !cvvValid(p.CVV) {
		return dErrors.New(dErrors.CodeValidation, "cvv must be 3 or 4 digits")
	}
	return nil
}

// luhnValid runs the Luhn checksum over a 12-19 digit card number.
func luhnValid(number string) bool {
	if len(number) < 12 || len(number) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func cvvValid(cvv string) bool {
	if len(cvv) != 3 && len(cvv) != 4 {
		return false
	}
	for i := 0; i < len(cvv); i++ {
		if cvv[i] < '0' || cvv[i] > '9' {
			return false
		}
	}
	return true
}

// Filter narrows List results.
type Filter struct {
	Status   Status
	RefundOf string
}
