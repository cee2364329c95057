package consent

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"custodia/internal/audit"
	"custodia/internal/platform/metrics"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/keyedmutex"
	txcontext "custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// Recorder is the slice of the audit ledger the service needs.
type Recorder interface {
	Append(ctx context.Context, entry audit.Entry) (uint64, error)
}

// Service coordinates consent grants and revocations. Every change is paired
// with a ledger entry; when a database is configured, the record write and
// the entry share one transaction.
type Service struct {
	store    Store
	recorder Recorder
	db       *sql.DB
	locks    *keyedmutex.KeyedMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

// WithDB enables transactional pairing of record writes and audit appends.
func WithDB(db *sql.DB) Option {
	return func(s *Service) { s.db = db }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, recorder Recorder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		recorder: recorder,
		locks:    keyedmutex.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run executes fn transactionally when a database is present.
func (s *Service) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	return txcontext.Run(ctx, s.db, fn)
}

// Grant records consent for a purpose and appends a consent entry.
//
// Errors: CodeValidation on an empty subject or bad purpose; CodeUnavailable
// when the ledger append fails, in which case no grant is persisted.
func (s *Service) Grant(ctx context.Context, subjectID string, purpose domain.ConsentPurpose) (Record, error) {
	if subjectID == "" {
		return Record{}, dErrors.New(dErrors.CodeValidation, "subject id cannot be empty")
	}
	if !purpose.IsValid() {
		return Record{}, dErrors.Newf(dErrors.CodeValidation, "invalid purpose %q", purpose)
	}

	unlock := s.locks.Lock(subjectID)
	defer unlock()

	record := Record{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Purpose:   purpose,
		GrantedAt: requestcontext.Now(ctx),
	}

	err := s.run(ctx, func(ctx context.Context) error {
		if _, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionConsent,
			SubjectType: domain.DataTypeConsent,
			SubjectID:   subjectID,
			Outcome:     audit.OutcomeOK,
			Detail:      "grant purpose=" + purpose.String(),
		}); err != nil {
			return err
		}
		return s.store.Save(ctx, record)
	})
	if err != nil {
		return Record{}, err
	}

	s.metrics.IncrementMutation("consent", string(audit.ActionConsent))
	s.logger.InfoContext(ctx, "consent granted",
		"subject_id", subjectID, "purpose", purpose.String(), "request_id", requestcontext.RequestID(ctx))
	return record, nil
}

// Revoke withdraws every active grant for the purpose. Revoking when nothing
// is active succeeds and is recorded as a no-op entry.
func (s *Service) Revoke(ctx context.Context, subjectID string, purpose domain.ConsentPurpose) error {
	if subjectID == "" {
		return dErrors.New(dErrors.CodeValidation, "subject id cannot be empty")
	}
	if !purpose.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid purpose %q", purpose)
	}

	unlock := s.locks.Lock(subjectID)
	defer unlock()

	now := requestcontext.Now(ctx)
	return s.run(ctx, func(ctx context.Context) error {
		revoked, err := s.store.Revoke(ctx, subjectID, purpose, now)
		if err != nil {
			return err
		}
		outcome := audit.OutcomeOK
		if revoked == 0 {
			outcome = audit.OutcomeNoop
		}
		if _, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionConsent,
			SubjectType: domain.DataTypeConsent,
			SubjectID:   subjectID,
			Outcome:     outcome,
			Detail:      "revoke purpose=" + purpose.String(),
		}); err != nil {
			return err
		}
		s.metrics.IncrementMutation("consent", string(audit.ActionConsent))
		return nil
	})
}

// List returns every consent record for the subject, revoked ones included.
func (s *Service) List(ctx context.Context, subjectID string) ([]Record, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "subject id cannot be empty")
	}
	return s.store.ListBySubject(ctx, subjectID)
}

// ActiveFor reports whether the subject currently consents to the purpose.
// Record stores consult this before persisting regulated data.
func (s *Service) ActiveFor(ctx context.Context, subjectID string, purpose domain.ConsentPurpose) (bool, error) {
	records, err := s.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return HasActive(records, purpose, requestcontext.Now(ctx)), nil
}
