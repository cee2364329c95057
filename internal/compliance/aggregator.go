package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"custodia/internal/audit"
	"custodia/internal/patients"
	"custodia/internal/payments"
	"custodia/internal/platform/metrics"
	"custodia/internal/protect"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// Ledger is the read-only slice of the audit ledger the aggregator scans.
type Ledger interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// PatientSource exposes the patient table, tombstones included.
type PatientSource interface {
	All(ctx context.Context) ([]patients.Record, error)
}

// TransactionSource exposes the transaction table.
type TransactionSource interface {
	List(ctx context.Context, filter payments.Filter) ([]payments.Transaction, error)
}

// Aggregator computes regime results. It is stateless and read-only; nothing
// it produces feeds back into the stores.
type Aggregator struct {
	ledger       Ledger
	patientsSrc  PatientSource
	transactions TransactionSource
	erasureSLA   time.Duration
	// authenticatedLedger asserts that the router exposes audit queries
	// only behind authentication; the SOC 2 check fails without it.
	authenticatedLedger bool
	logger              *slog.Logger
	metrics             *metrics.Metrics
}

type Option func(*Aggregator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithUnauthenticatedLedger marks deployments whose audit query path skips
// authentication. Exists for test wiring; production wiring never sets it.
func WithUnauthenticatedLedger() Option {
	return func(a *Aggregator) { a.authenticatedLedger = false }
}

func NewAggregator(ledger Ledger, patientsSrc PatientSource, transactions TransactionSource, erasureSLA time.Duration, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		ledger:              ledger,
		patientsSrc:         patientsSrc,
		transactions:        transactions,
		erasureSLA:          erasureSLA,
		authenticatedLedger: true,
		logger:              logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshot evaluates every regime. The result is derived from current state
// and carries no authority of its own.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{GeneratedAt: requestcontext.Now(ctx)}
	for _, regime := range Regimes() {
		result, err := a.Evaluate(ctx, regime)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Results = append(snap.Results, result)
	}
	return snap, nil
}

// Evaluate computes one regime's result.
func (a *Aggregator) Evaluate(ctx context.Context, regime Regime) (RegimeResult, error) {
	var (
		result RegimeResult
		err    error
	)
	switch regime {
	case RegimeGDPR:
		result, err = a.evaluateGDPR(ctx)
	case RegimeSOC2:
		result, err = a.evaluateSOC2(ctx)
	case RegimeHIPAA:
		result, err = a.evaluateHIPAA(ctx)
	case RegimePCIDSS:
		result, err = a.evaluatePCIDSS(ctx)
	default:
		return RegimeResult{}, dErrors.Newf(dErrors.CodeValidation, "unknown regime %q", regime)
	}
	if err != nil {
		return RegimeResult{}, err
	}

	verdict := "compliant"
	if !result.Compliant {
		verdict = "non_compliant"
	}
	a.metrics.IncrementEvaluation(string(regime), verdict)
	return result, nil
}

// evaluateGDPR checks two obligations: consent precedes the first processing
// of every patient and user subject, and every erasure request is fulfilled
// by a delete entry within the SLA window.
func (a *Aggregator) evaluateGDPR(ctx context.Context) (RegimeResult, error) {
	entries, err := a.allEntries(ctx)
	if err != nil {
		return RegimeResult{}, err
	}

	firstProcessing := make(map[string]uint64)
	firstConsent := make(map[string]uint64)
	type erasure struct {
		seq uint64
		at  time.Time
	}
	requests := make(map[string][]erasure)
	deletes := make(map[string][]erasure)

	for _, e := range entries {
		switch {
		case e.SubjectType == domain.DataTypeConsent:
			// Grants and revocations share the consent action; only a
			// successful grant is evidence that consent was given.
			if e.Outcome != audit.OutcomeOK || !strings.HasPrefix(e.Detail, "grant ") {
				continue
			}
			if _, seen := firstConsent[e.SubjectID]; !seen {
				firstConsent[e.SubjectID] = e.Seq
			}
		case e.SubjectType == domain.DataTypePatient || e.SubjectType == domain.DataTypeUser:
			switch e.Action {
			case audit.ActionCreate, audit.ActionRead, audit.ActionReveal, audit.ActionUpdate:
				if _, seen := firstProcessing[e.SubjectID]; !seen {
					firstProcessing[e.SubjectID] = e.Seq
				}
			case audit.ActionErasureRequest:
				requests[e.SubjectID] = append(requests[e.SubjectID], erasure{e.Seq, e.Timestamp})
			case audit.ActionDelete:
				if e.Outcome == audit.OutcomeOK {
					deletes[e.SubjectID] = append(deletes[e.SubjectID], erasure{e.Seq, e.Timestamp})
				}
			}
		}
	}

	result := RegimeResult{Regime: RegimeGDPR, Compliant: true}
	now := requestcontext.Now(ctx)

	for _, id := range sortedKeys(firstProcessing) {
		consentSeq, ok := firstConsent[id]
		if !ok {
			result.violate(id, "no consent entry on record")
			continue
		}
		if consentSeq > firstProcessing[id] {
			result.violate(id, "consent recorded after first processing")
		}
	}

	for _, id := range sortedKeys(requests) {
		for _, req := range requests[id] {
			fulfilled := false
			late := false
			for _, del := range deletes[id] {
				if del.seq <= req.seq {
					continue
				}
				if del.at.Sub(req.at) <= a.erasureSLA {
					fulfilled = true
					break
				}
				late = true
			}
			switch {
			case fulfilled:
			case late:
				result.violate(id, "erasure fulfilled outside the SLA window")
			case now.Sub(req.at) > a.erasureSLA:
				result.violate(id, "erasure request unfulfilled past the SLA window")
			}
		}
	}
	return result, nil
}

// evaluateSOC2 certifies the ledger itself: a gap-free sequence and no
// unauthenticated query path.
func (a *Aggregator) evaluateSOC2(ctx context.Context) (RegimeResult, error) {
	entries, err := a.allEntries(ctx)
	if err != nil {
		return RegimeResult{}, err
	}
	last, err := a.ledger.LastSeq(ctx)
	if err != nil {
		return RegimeResult{}, err
	}

	result := RegimeResult{Regime: RegimeSOC2, Compliant: true}

	expected := uint64(1)
	for _, e := range entries {
		if e.Seq != expected {
			result.violate(fmt.Sprintf("seq-%d", expected), "sequence gap in audit ledger")
			expected = e.Seq
		}
		expected++
	}
	if expected != last+1 {
		result.violate(fmt.Sprintf("seq-%d", expected), "ledger tail beyond last queried entry")
	}

	if !a.authenticatedLedger {
		result.violate("ledger", "audit query path reachable without authentication")
	}
	return result, nil
}

// evaluateHIPAA requires every patient sensitive field to be ENCRYPTED and
// every recorded access to have a ledger entry behind it.
func (a *Aggregator) evaluateHIPAA(ctx context.Context) (RegimeResult, error) {
	records, err := a.patientsSrc.All(ctx)
	if err != nil {
		return RegimeResult{}, err
	}
	entries, err := a.scan(ctx, audit.Filter{SubjectType: domain.DataTypePatient})
	if err != nil {
		return RegimeResult{}, err
	}

	audited := make(map[string]int64)
	for _, e := range entries {
		if e.Outcome != audit.OutcomeOK {
			continue
		}
		if e.Action == audit.ActionRead || e.Action == audit.ActionReveal {
			audited[e.SubjectID]++
		}
	}

	result := RegimeResult{Regime: RegimeHIPAA, Compliant: true}
	for _, r := range records {
		if r.SSN.Mode != protect.ModeEncrypted {
			result.violate(r.PatientID, "ssn not stored encrypted")
		}
		if !r.PhysicianNotes.IsZero() && !r.PhysicianNotes.Scrubbed && r.PhysicianNotes.Mode != protect.ModeEncrypted {
			result.violate(r.PatientID, "physician notes not stored encrypted")
		}
		if r.AccessCount > audited[r.PatientID] {
			result.violate(r.PatientID, "record access without a matching audit entry")
		}
	}
	return result, nil
}

// evaluatePCIDSS requires every persisted card to be a vault token. CVV
// non-persistence is structural: no transaction field can hold it, so the
// check guards against raw numbers smuggled into the card column.
func (a *Aggregator) evaluatePCIDSS(ctx context.Context) (RegimeResult, error) {
	txns, err := a.transactions.List(ctx, payments.Filter{})
	if err != nil {
		return RegimeResult{}, err
	}

	result := RegimeResult{Regime: RegimePCIDSS, Compliant: true}
	for _, txn := range txns {
		if txn.Card.Mode != protect.ModeTokenized {
			result.violate(txn.ID, "card not stored tokenized")
			continue
		}
		if txn.Card.Scrubbed {
			continue
		}
		if !strings.HasPrefix(txn.Card.Data, "tok_") || isAllDigits(txn.Card.Data) {
			result.violate(txn.ID, "card payload is not a vault token")
		}
	}
	return result, nil
}

const scanPageSize = 500

func (a *Aggregator) allEntries(ctx context.Context) ([]audit.Entry, error) {
	return a.scan(ctx, audit.Filter{})
}

// scan walks the ledger page by page with the sequence cursor until the
// stream is exhausted.
func (a *Aggregator) scan(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	filter.Limit = scanPageSize
	var all []audit.Entry
	for {
		page, err := a.ledger.Query(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < scanPageSize {
			return all, nil
		}
		filter.AfterSeq = page[len(page)-1].Seq
	}
}

func (r *RegimeResult) violate(recordID, reason string) {
	r.Compliant = false
	r.Violations = append(r.Violations, Violation{RecordID: recordID, Reason: reason})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
