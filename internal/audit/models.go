// Package audit implements the append-only ledger of every access or mutation
// to regulated records. Entries are totally ordered by a gap-free monotonic
// sequence; no update or delete path exists on this package.
package audit

import (
	"time"

	"github.com/google/uuid"

	"custodia/pkg/domain"
)

// Action is the verb an entry records.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionReveal Action = "reveal"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionPurge  Action = "purge"

	// ActionConsent records a consent grant or revocation; the GDPR
	// evaluation keys off these entries.
	ActionConsent Action = "consent"
	// ActionErasureRequest records a data subject's erasure request. The
	// GDPR evaluation pairs it with a later delete entry inside the SLA.
	ActionErasureRequest Action = "erasure_request"
	// ActionPolicyChange records an administrative retention policy update.
	ActionPolicyChange Action = "policy_change"
	// ActionAuth records credential verification attempts.
	ActionAuth Action = "auth"
)

// Outcome records how the audited operation ended.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeDenied Outcome = "denied"
	OutcomeError  Outcome = "error"
	// OutcomeNoop marks an operation that was requested but had no effect,
	// e.g. purging an already-purged record.
	OutcomeNoop Outcome = "noop"
)

// Entry is one immutable ledger record. Digests carry SHA-256 of previous and
// new field values where relevant; raw sensitive values never enter the ledger.
type Entry struct {
	// Seq is assigned by the store on append: strictly increasing, gap-free.
	Seq uint64
	ID  uuid.UUID

	Timestamp   time.Time
	Actor       string
	Action      Action
	SubjectType domain.DataType
	SubjectID   string

	PrevDigest string
	NewDigest  string
	Outcome    Outcome

	// Detail carries minimal non-sensitive context (e.g. which field was
	// revealed, the policy version applied).
	Detail string
}

// IsMutation reports whether the entry's action changes stored state. The
// mutation↔entry pairing invariant applies to these actions only.
func (e Entry) IsMutation() bool {
	switch e.Action {
	case ActionCreate, ActionUpdate, ActionDelete, ActionPurge, ActionPolicyChange:
		return true
	}
	return false
}

// Filter selects entries on Query. Zero fields match everything; results are
// always ordered by ascending sequence and restartable via AfterSeq.
type Filter struct {
	SubjectType domain.DataType
	SubjectID   string
	Actions     []Action
	From        *time.Time
	To          *time.Time

	// AfterSeq returns entries with Seq > AfterSeq (cursor pagination).
	AfterSeq uint64
	// Limit bounds the page size; 0 means the store default.
	Limit int
}

// Matches reports whether the entry passes the filter (pagination excluded).
func (f Filter) Matches(e Entry) bool {
	if f.SubjectType != "" && e.SubjectType != f.SubjectType {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
