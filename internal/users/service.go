package users

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/mail"
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

// Recorder is the slice of the audit ledger the service needs.
type Recorder interface {
	Append(ctx context.Context, entry audit.Entry) (uint64, error)
}

// Service coordinates account mutations. Each mutation runs under the
// record's keyed lock and pairs with exactly one ledger entry; with a
// database configured both share one transaction.
type Service struct {
	store     Store
	protector *protect.Protector
	recorder  Recorder
	db        *sql.DB
	locks     *keyedmutex.KeyedMutex
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Service)

func WithDB(db *sql.DB) Option {
	return func(s *Service) { s.db = db }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, protector *protect.Protector, recorder Recorder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		protector: protector,
		recorder:  recorder,
		locks:     keyedmutex.New(),
		logger:    logger,
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

func translate(err error, notFoundMsg, conflictMsg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, conflictMsg)
	default:
		return err
	}
}

// Create registers an account. The password is hashed before anything is
// persisted; creation appends a create entry.
//
// Errors: CodeValidation on bad input; CodeConflict on a duplicate username
// or email; CodeUnavailable when the ledger append fails.
func (s *Service) Create(ctx context.Context, params CreateParams) (User, error) {
	if err := params.validate(); err != nil {
		return User{}, err
	}

	hashed, err := s.protector.Protect(ctx, params.Password, protect.ModeHashed)
	if err != nil {
		return User{}, err
	}

	now := requestcontext.Now(ctx)
	user := User{
		ID:        uuid.NewString(),
		Username:  params.Username,
		Email:     params.Email,
		Role:      params.Role,
		Active:    true,
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()

	err = s.run(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, user); err != nil {
			return translate(err, "user not found", "username or email already taken")
		}
		_, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionCreate,
			SubjectType: domain.DataTypeUser,
			SubjectID:   user.ID,
			NewDigest:   user.digest(),
			Outcome:     audit.OutcomeOK,
		})
		return err
	})
	if err != nil {
		return User{}, err
	}

	s.metrics.IncrementMutation("users", string(audit.ActionCreate))
	s.logger.InfoContext(ctx, "user created",
		"user_id", user.ID, "role", user.Role.String(), "request_id", requestcontext.RequestID(ctx))
	return user, nil
}

// Get returns the account by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return User{}, translate(err, "user not found", "")
	}
	return user, nil
}

// Update applies the given fields and appends an update entry carrying
// digests of the record before and after.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (User, error) {
	if params.Email != nil {
		if _, err := mail.ParseAddress(*params.Email); err != nil {
			return User{}, dErrors.New(dErrors.CodeValidation, "invalid email address")
		}
	}
	if params.Role != nil && !params.Role.IsValid() {
		return User{}, dErrors.Newf(dErrors.CodeValidation, "invalid role %q", *params.Role)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var updated User
	err := s.run(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return translate(err, "user not found", "")
		}
		prevDigest := current.digest()

		if params.Email != nil {
			current.Email = *params.Email
		}
		if params.Role != nil {
			current.Role = *params.Role
		}
		current.UpdatedAt = requestcontext.Now(ctx)

		if err := s.store.Update(ctx, current); err != nil {
			return translate(err, "user not found", "email already taken")
		}
		if _, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionUpdate,
			SubjectType: domain.DataTypeUser,
			SubjectID:   id,
			PrevDigest:  prevDigest,
			NewDigest:   current.digest(),
			Outcome:     audit.OutcomeOK,
		}); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return User{}, err
	}

	s.metrics.IncrementMutation("users", string(audit.ActionUpdate))
	return updated, nil
}

// Deactivate soft-deletes the account. The record and its audit trail
// survive; only the active flag drops. Deactivating an already inactive
// account succeeds and is recorded as a no-op.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.run(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return translate(err, "user not found", "")
		}

		entry := audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionDelete,
			SubjectType: domain.DataTypeUser,
			SubjectID:   id,
			PrevDigest:  current.digest(),
		}
		if !current.Active {
			entry.Outcome = audit.OutcomeNoop
			_, err := s.recorder.Append(ctx, entry)
			return err
		}

		current.Active = false
		current.UpdatedAt = requestcontext.Now(ctx)
		if err := s.store.Update(ctx, current); err != nil {
			return translate(err, "user not found", "")
		}
		entry.NewDigest = current.digest()
		entry.Outcome = audit.OutcomeOK
		if _, err := s.recorder.Append(ctx, entry); err != nil {
			return err
		}
		s.metrics.IncrementMutation("users", string(audit.ActionDelete))
		return nil
	})
}

// List returns accounts matching the filter. Password material never leaves
// the service; callers receive records with the field cleared.
func (s *Service) List(ctx context.Context, filter Filter) ([]User, error) {
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Password = protect.SensitiveField{}
	}
	return out, nil
}

// Authenticate verifies a credential pair. Every attempt appends an auth
// entry, failed ones included.
//
// Errors: CodeUnauthorized on an unknown username, wrong password, or
// inactive account. The error does not distinguish the three.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	entry := audit.Entry{
		Actor:       username,
		Action:      audit.ActionAuth,
		SubjectType: domain.DataTypeUser,
	}

	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		entry.Outcome = audit.OutcomeDenied
		if _, appendErr := s.recorder.Append(ctx, entry); appendErr != nil {
			return User{}, appendErr
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return User{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return User{}, err
	}
	entry.SubjectID = user.ID

	if !user.Active || s.protector.CompareHash(user.Password, password) != nil {
		entry.Outcome = audit.OutcomeDenied
		if _, err := s.recorder.Append(ctx, entry); err != nil {
			return User{}, err
		}
		return User{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	entry.Outcome = audit.OutcomeOK
	if _, err := s.recorder.Append(ctx, entry); err != nil {
		return User{}, err
	}
	return user, nil
}

// DataType identifies this store to the retention scheduler.
func (s *Service) DataType() domain.DataType {
	return domain.DataTypeUser
}

// PurgeExpired scrubs every deactivated account whose last update predates
// the cutoff: username and email are replaced with opaque placeholders and
// the password material is destroyed. The shell record and its audit trail
// survive. Returns how many accounts were purged.
func (s *Service) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	expired, err := s.store.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, user := range expired {
		if err := s.purgeOne(ctx, user.ID); err != nil {
			s.logger.ErrorContext(ctx, "purge failed, will retry next pass",
				"user_id", user.ID, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		s.metrics.IncrementPurged(string(domain.DataTypeUser), purged)
	}
	return purged, nil
}

func (s *Service) purgeOne(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.run(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		entry := audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionPurge,
			SubjectType: domain.DataTypeUser,
			SubjectID:   id,
			PrevDigest:  current.digest(),
		}
		if current.Purged {
			entry.Outcome = audit.OutcomeNoop
			_, err := s.recorder.Append(ctx, entry)
			return err
		}

		// Placeholders keep the unique indexes satisfied while unlinking
		// the account from the person it identified.
		current.Username = "purged-" + id
		current.Email = "purged-" + id + "@redacted.invalid"
		current.Password = protect.SensitiveField{Mode: current.Password.Mode, Scrubbed: true}
		current.Purged = true
		current.UpdatedAt = requestcontext.Now(ctx)
		if err := s.store.Update(ctx, current); err != nil {
			return translate(err, "user not found", "purge placeholder collision")
		}
		entry.NewDigest = current.digest()
		entry.Outcome = audit.OutcomeOK
		_, err = s.recorder.Append(ctx, entry)
		return err
	})
}
