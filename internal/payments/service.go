package payments

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custodia/internal/audit"
	"custodia/internal/platform/metrics"
	"custodia/internal/protect"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/keyedmutex"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// defaultAuthLimit is the amount in minor units above which a charge is
// declined by the stand-in authorizer.
const defaultAuthLimit = 1_000_000

// Recorder is the slice of the audit ledger the service needs.
type Recorder interface {
	Append(ctx context.Context, entry audit.Entry) (uint64, error)
}

// Service coordinates charges and refunds. The card number is tokenized
// before persistence; no read path returns it.
type Service struct {
	store     Store
	protector *protect.Protector
	recorder  Recorder
	db        *sql.DB
	locks     *keyedmutex.KeyedMutex
	logger    *slog.Logger
	metrics   *metrics.Metrics
	authLimit int64
}

type Option func(*Service)

func WithDB(db *sql.DB) Option {
	return func(s *Service) { s.db = db }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuthorizationLimit overrides the decline threshold.
func WithAuthorizationLimit(limit int64) Option {
	return func(s *Service) { s.authLimit = limit }
}

func NewService(store Store, protector *protect.Protector, recorder Recorder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		protector: protector,
		recorder:  recorder,
		locks:     keyedmutex.New(),
		logger:    logger,
		authLimit: defaultAuthLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	return txcontext.Run(ctx, s.db, fn)
}

// Charge authorizes and records a transaction. The card number is tokenized
// and only the last four digits remain readable; the CVV is consumed by the
// authorization decision and discarded.
//
// Errors: CodeValidation on bad input; CodeUnavailable when the vault or the
// ledger cannot complete.
func (s *Service) Charge(ctx context.Context, params ChargeParams) (Transaction, error) {
	if err := params.validate(); err != nil {
		return Transaction{}, err
	}

	card, err := s.protector.Protect(ctx, params.CardNumber, protect.ModeTokenized)
	if err != nil {
		return Transaction{}, err
	}

	status := StatusApproved
	if params.Amount > s.authLimit {
		status = StatusDeclined
	}

	txn := Transaction{
		ID:             uuid.NewString(),
		Amount:         params.Amount,
		Currency:       params.Currency,
		CardholderName: params.CardholderName,
		Card:           card,
		CardLastFour:   params.CardNumber[len(params.CardNumber)-4:],
		Status:         status,
		ProcessedAt:    requestcontext.Now(ctx),
	}

	unlock := s.locks.Lock(txn.ID)
	defer unlock()

	err = s.run(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, txn); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "transaction id already exists")
			}
			return err
		}
		_, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionCreate,
			SubjectType: domain.DataTypeTransaction,
			SubjectID:   txn.ID,
			NewDigest:   txn.digest(),
			Outcome:     audit.OutcomeOK,
		})
		return err
	})
	if err != nil {
		// The token mapping is orphaned if the write failed after
		// tokenization; destroy it so no dangling card material remains.
		_ = s.protector.DestroyToken(ctx, card)
		return Transaction{}, err
	}

	s.metrics.IncrementMutation("payments", string(audit.ActionCreate))
	s.logger.InfoContext(ctx, "charge processed",
		"transaction_id", txn.ID, "status", string(txn.Status),
		"last_four", txn.CardLastFour, "request_id", requestcontext.RequestID(ctx))
	return txn, nil
}

// Refund records a refund as a new transaction linked to the original. The
// original record is immutable; only the link carries the relationship.
//
// Errors: CodeNotFound on an unknown id; CodeValidation when the original is
// not approved; CodeConflict when the original was already refunded.
func (s *Service) Refund(ctx context.Context, originalID string) (Transaction, error) {
	unlock := s.locks.Lock(originalID)
	defer unlock()

	var refund Transaction
	err := s.run(ctx, func(ctx context.Context) error {
		original, err := s.store.Get(ctx, originalID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "transaction not found")
			}
			return err
		}
		if original.Status != StatusApproved {
			return dErrors.Newf(dErrors.CodeValidation, "cannot refund a %s transaction", original.Status)
		}
		existing, err := s.store.List(ctx, Filter{RefundOf: originalID})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return dErrors.New(dErrors.CodeConflict, "transaction already refunded")
		}

		refund = Transaction{
			ID:             uuid.NewString(),
			Amount:         original.Amount,
			Currency:       original.Currency,
			CardholderName: original.CardholderName,
			Card:           original.Card,
			CardLastFour:   original.CardLastFour,
			Status:         StatusRefunded,
			RefundOf:       originalID,
			ProcessedAt:    requestcontext.Now(ctx),
		}
		if err := s.store.Create(ctx, refund); err != nil {
			return err
		}
		_, err = s.recorder.Append(ctx, audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionCreate,
			SubjectType: domain.DataTypeTransaction,
			SubjectID:   refund.ID,
			PrevDigest:  original.digest(),
			NewDigest:   refund.digest(),
			Outcome:     audit.OutcomeOK,
			Detail:      "refund_of=" + originalID,
		})
		return err
	})
	if err != nil {
		return Transaction{}, err
	}

	s.metrics.IncrementMutation("payments", string(audit.ActionCreate))
	return refund, nil
}

// Get returns the transaction by id.
func (s *Service) Get(ctx context.Context, id string) (Transaction, error) {
	txn, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Transaction{}, dErrors.New(dErrors.CodeNotFound, "transaction not found")
		}
		return Transaction{}, err
	}
	return txn, nil
}

// List returns transactions matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Transaction, error) {
	return s.store.List(ctx, filter)
}

// DataType identifies this store to the retention scheduler.
func (s *Service) DataType() domain.DataType {
	return domain.DataTypeTransaction
}

// PurgeExpired destroys the card payload of every transaction processed
// before the cutoff: the vault mapping is deleted so the token becomes
// permanently unlinkable, and the cardholder name is cleared. The record
// shape and its audit trail survive. Returns how many records were purged.
func (s *Service) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	expired, err := s.store.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, txn := range expired {
		if err := s.purgeOne(ctx, txn); err != nil {
			s.logger.ErrorContext(ctx, "purge failed, will retry next pass",
				"transaction_id", txn.ID, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		s.metrics.IncrementPurged(string(domain.DataTypeTransaction), purged)
	}
	return purged, nil
}

func (s *Service) purgeOne(ctx context.Context, txn Transaction) error {
	unlock := s.locks.Lock(txn.ID)
	defer unlock()

	current, err := s.store.Get(ctx, txn.ID)
	if err != nil {
		return err
	}
	entry := audit.Entry{
		Actor:       requestcontext.Actor(ctx).ID,
		Action:      audit.ActionPurge,
		SubjectType: domain.DataTypeTransaction,
		SubjectID:   txn.ID,
		PrevDigest:  current.digest(),
	}
	if current.Card.Scrubbed {
		entry.Outcome = audit.OutcomeNoop
		_, err := s.recorder.Append(ctx, entry)
		return err
	}

	if err := s.protector.DestroyToken(ctx, current.Card); err != nil {
		return err
	}
	return s.run(ctx, func(ctx context.Context) error {
		current.Card = protect.SensitiveField{Mode: current.Card.Mode, Scrubbed: true}
		current.CardholderName = ""
		if err := s.store.Update(ctx, current); err != nil {
			return err
		}
		entry.NewDigest = current.digest()
		entry.Outcome = audit.OutcomeOK
		_, err := s.recorder.Append(ctx, entry)
		return err
	})
}
