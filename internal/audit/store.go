package audit

import "context"

// Store persists ledger entries. Implementations must assign a strictly
// increasing, gap-free sequence under concurrent appends and must not expose
// any mutation of persisted entries.
type Store interface {
	// Append persists the entry and returns its assigned sequence number.
	Append(ctx context.Context, entry Entry) (uint64, error)

	// Query returns entries matching the filter in ascending sequence order.
	Query(ctx context.Context, filter Filter) ([]Entry, error)

	// LastSeq returns the highest assigned sequence number, 0 when empty.
	LastSeq(ctx context.Context) (uint64, error)
}
