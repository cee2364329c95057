// Package compliance derives regulatory posture from the ledger and the
// record stores. Snapshots are computed on demand and never stored; the
// ledger remains the only source of truth.
package compliance

import (
	"time"

	dErrors "custodia/pkg/domain-errors"
)

// Regime names a regulation the aggregator evaluates.
type Regime string

const (
	RegimeGDPR   Regime = "gdpr"
	RegimeSOC2   Regime = "soc2"
	RegimeHIPAA  Regime = "hipaa"
	RegimePCIDSS Regime = "pci_dss"
)

// Regimes lists every supported regime in evaluation order.
func Regimes() []Regime {
	return []Regime{RegimeGDPR, RegimeSOC2, RegimeHIPAA, RegimePCIDSS}
}

// ParseRegime constructs a Regime from external input.
//
// Errors: CodeValidation on an unsupported value.
func ParseRegime(s string) (Regime, error) {
	r := Regime(s)
	for _, known := range Regimes() {
		if r == known {
			return r, nil
		}
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown regime: "+s)
}

// Violation points an operator at a non-compliant record. It carries the
// record id and the failed expectation, never the record's values.
type Violation struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// RegimeResult is one regime's verdict.
type RegimeResult struct {
	Regime     Regime      `json:"regime"`
	Compliant  bool        `json:"compliant"`
	Violations []Violation `json:"violations,omitempty"`
}

// Snapshot is the full posture at a point in time. Derived, never persisted.
type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Results     []RegimeResult `json:"results"`
}
