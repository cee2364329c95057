package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custodia/internal/platform/metrics"
	dErrors "custodia/pkg/domain-errors"
)

// Mirror receives a copy of each appended entry for downstream consumers
// (SIEM streaming). Mirror failures never fail the append; the store is the
// source of truth.
type Mirror interface {
	Publish(ctx context.Context, entry Entry)
}

// Ledger is the audit service every record store writes through. Append is
// fail-closed: a failed append must abort the operation it would have
// recorded. Query is read-only; no update or delete exists on any path.
type Ledger struct {
	store   Store
	mirror  Mirror
	logger  *slog.Logger
	metrics *metrics.Metrics

	// appendTimeout bounds each append so callers fail with a retryable
	// unavailable error instead of hanging.
	appendTimeout time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMirror attaches a downstream mirror for appended entries.
func WithMirror(m Mirror) Option {
	return func(l *Ledger) { l.mirror = m }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithAppendTimeout overrides the default 5s append timeout.
func WithAppendTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.appendTimeout = d }
}

func NewLedger(store Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:         store,
		logger:        logger,
		appendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append assigns entry defaults, persists it, and returns the sequence number.
//
// Errors: CodeUnavailable when the store cannot complete within the timeout or
// is unreachable. Callers must treat that as fatal to the operation being
// recorded; never proceed with an unaudited action.
func (l *Ledger) Append(ctx context.Context, entry Entry) (uint64, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeOK
	}

	appendCtx, cancel := context.WithTimeout(ctx, l.appendTimeout)
	defer cancel()

	seq, err := l.store.Append(appendCtx, entry)
	if err != nil {
		l.metrics.IncrementAuditAppend("error")
		l.logger.ErrorContext(ctx, "audit append failed",
			"action", string(entry.Action),
			"subject_type", string(entry.SubjectType),
			"subject_id", entry.SubjectID,
			"error", err.Error(),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit append timed out")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit backend unreachable")
	}
	l.metrics.IncrementAuditAppend("ok")

	entry.Seq = seq
	if l.mirror != nil {
		l.mirror.Publish(ctx, entry)
	}
	return seq, nil
}

// Query returns matching entries ordered by ascending sequence. The cursor in
// Filter.AfterSeq makes long scans restartable.
func (l *Ledger) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	entries, err := l.store.Query(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit query failed")
	}
	return entries, nil
}

// LastSeq returns the current ledger tail.
func (l *Ledger) LastSeq(ctx context.Context) (uint64, error) {
	seq, err := l.store.LastSeq(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit tail unavailable")
	}
	return seq, nil
}
