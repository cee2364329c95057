package patients

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

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

// Service coordinates patient chart access. Reads are audited individually;
// mutations run under the record's keyed lock paired with a ledger entry.
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

// Create registers a chart. SSN and physician notes are encrypted before
// anything is persisted.
//
// Errors: CodeValidation on bad input; CodeConflict on a duplicate patient
// id; CodeUnavailable when the ledger append fails.
func (s *Service) Create(ctx context.Context, params CreateParams) (Record, error) {
	if err := params.validate(); err != nil {
		return Record{}, err
	}

	ssn, err := s.protector.Protect(ctx, params.SSN, protect.ModeEncrypted)
	if err != nil {
		return Record{}, err
	}
	var notes protect.SensitiveField
	if params.PhysicianNotes != "" {
		if notes, err = s.protector.Protect(ctx, params.PhysicianNotes, protect.ModeEncrypted); err != nil {
			return Record{}, err
		}
	}

	now := requestcontext.Now(ctx)
	record := Record{
		PatientID:      params.PatientID,
		FirstName:      params.FirstName,
		LastName:       params.LastName,
		DateOfBirth:    params.DateOfBirth,
		SSN:            ssn,
		DiagnosisCodes: params.DiagnosisCodes,
		Medications:    params.Medications,
		PhysicianNotes: notes,
		InsuranceID:    params.InsuranceID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	unlock := s.locks.Lock(record.PatientID)
	defer unlock()

	err = s.run(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "patient record already exists")
			}
			return err
		}
		_, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionCreate,
			SubjectType: domain.DataTypePatient,
			SubjectID:   record.PatientID,
			NewDigest:   record.digest(),
			Outcome:     audit.OutcomeOK,
		})
		return err
	})
	if err != nil {
		return Record{}, err
	}

	s.metrics.IncrementMutation("patients", string(audit.ActionCreate))
	s.logger.InfoContext(ctx, "patient record created",
		"patient_id", record.PatientID, "request_id", requestcontext.RequestID(ctx))
	return record, nil
}

// Get returns the chart with protected fields still sealed. Every call
// appends a read entry and bumps the record's access count; an erased record
// comes back as its tombstone.
func (s *Service) Get(ctx context.Context, patientID string) (Record, error) {
	unlock := s.locks.Lock(patientID)
	defer unlock()

	var record Record
	err := s.run(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, patientID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "patient record not found")
			}
			return err
		}
		current.AccessCount++
		if err := s.store.Update(ctx, current); err != nil {
			return err
		}
		if _, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionRead,
			SubjectType: domain.DataTypePatient,
			SubjectID:   patientID,
			Outcome:     audit.OutcomeOK,
		}); err != nil {
			return err
		}
		record = current
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// RevealSSN decrypts the patient's SSN for an actor holding the reveal
// capability. The reveal entry is appended by the protector on every path,
// denials and integrity failures included.
func (s *Service) RevealSSN(ctx context.Context, patientID string) (string, error) {
	unlock := s.locks.Lock(patientID)
	defer unlock()

	current, err := s.store.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "patient record not found")
		}
		return "", err
	}

	actor := requestcontext.Actor(ctx)
	ssn, err := s.protector.Reveal(ctx, current.SSN, actor, protect.SubjectRef{
		Type:  domain.DataTypePatient,
		ID:    patientID,
		Field: "ssn",
	})
	s.metrics.IncrementReveal(revealOutcome(err))
	if err != nil {
		return "", err
	}

	current.AccessCount++
	if err := s.store.Update(ctx, current); err != nil {
		return "", err
	}
	return ssn, nil
}

func revealOutcome(err error) string {
	switch {
	case err == nil:
		return string(audit.OutcomeOK)
	case dErrors.Is(err, dErrors.CodePermissionDenied):
		return string(audit.OutcomeDenied)
	default:
		return string(audit.OutcomeError)
	}
}

// Update applies chart changes. Notes are re-encrypted when provided.
//
// Errors: CodeNotFound on an unknown id; CodeValidation when the record is
// tombstoned.
func (s *Service) Update(ctx context.Context, patientID string, params UpdateParams) (Record, error) {
	unlock := s.locks.Lock(patientID)
	defer unlock()

	var updated Record
	err := s.run(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, patientID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "patient record not found")
			}
			return err
		}
		if current.Tombstoned {
			return dErrors.New(dErrors.CodeValidation, "record has been erased")
		}
		prevDigest := current.digest()

		if params.DiagnosisCodes != nil {
			current.DiagnosisCodes = params.DiagnosisCodes
		}
		if params.Medications != nil {
			current.Medications = params.Medications
		}
		if params.PhysicianNotes != nil {
			notes, err := s.protector.Protect(ctx, *params.PhysicianNotes, protect.ModeEncrypted)
			if err != nil {
				return err
			}
			current.PhysicianNotes = notes
		}
		if params.InsuranceID != nil {
			current.InsuranceID = *params.InsuranceID
		}
		current.UpdatedAt = requestcontext.Now(ctx)

		if err := s.store.Update(ctx, current); err != nil {
			return err
		}
		if _, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionUpdate,
			SubjectType: domain.DataTypePatient,
			SubjectID:   patientID,
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
		return Record{}, err
	}

	s.metrics.IncrementMutation("patients", string(audit.ActionUpdate))
	return updated, nil
}

// Erase handles a GDPR erasure request: the request is recorded, the payload
// is scrubbed and the record becomes a tombstone that keeps the patient id
// and the audit trail. Erasing an already erased record is a recorded no-op.
func (s *Service) Erase(ctx context.Context, patientID string) error {
	unlock := s.locks.Lock(patientID)
	defer unlock()

	err := s.run(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, patientID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "patient record not found")
			}
			return err
		}

		actor := requestcontext.Actor(ctx).ID
		if _, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       actor,
			Action:      audit.ActionErasureRequest,
			SubjectType: domain.DataTypePatient,
			SubjectID:   patientID,
			Outcome:     audit.OutcomeOK,
		}); err != nil {
			return err
		}

		if current.Tombstoned {
			_, err := s.recorder.Append(ctx, audit.Entry{
				Actor:       actor,
				Action:      audit.ActionDelete,
				SubjectType: domain.DataTypePatient,
				SubjectID:   patientID,
				Outcome:     audit.OutcomeNoop,
			})
			return err
		}
		prevDigest := current.digest()

		scrub(&current, requestcontext.Now(ctx))
		if err := s.store.Update(ctx, current); err != nil {
			return err
		}
		if _, err := s.recorder.Append(ctx, audit.Entry{
			Actor:       actor,
			Action:      audit.ActionDelete,
			SubjectType: domain.DataTypePatient,
			SubjectID:   patientID,
			PrevDigest:  prevDigest,
			NewDigest:   current.digest(),
			Outcome:     audit.OutcomeOK,
		}); err != nil {
			return err
		}
		s.metrics.IncrementMutation("patients", string(audit.ActionDelete))
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "patient record erased",
		"patient_id", patientID, "request_id", requestcontext.RequestID(ctx))
	return nil
}

// scrub destroys the payload in place. Ciphertext is dropped, not merely
// unlinked; only the patient id and timestamps survive.
func scrub(r *Record, now time.Time) {
	r.FirstName = ""
	r.LastName = ""
	r.DateOfBirth = time.Time{}
	r.SSN = protect.SensitiveField{Mode: r.SSN.Mode, Scrubbed: true}
	r.DiagnosisCodes = nil
	r.Medications = nil
	r.PhysicianNotes = protect.SensitiveField{Mode: r.PhysicianNotes.Mode, Scrubbed: true}
	r.InsuranceID = ""
	r.Tombstoned = true
	r.UpdatedAt = now
}

// Search matches on non-sensitive fields and never decrypts anything.
// Search results are not individually audited; only record-by-id access is.
func (s *Service) Search(ctx context.Context, filter Filter) ([]Record, error) {
	return s.store.Search(ctx, filter)
}

// DataType identifies this store to the retention scheduler.
func (s *Service) DataType() domain.DataType {
	return domain.DataTypePatient
}

// PurgeExpired tombstones every record created before the cutoff, appending
// a purge entry per record. Already erased records are skipped by selection,
// which makes repeated passes no-ops.
func (s *Service) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	expired, err := s.store.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, record := range expired {
		if err := s.purgeOne(ctx, record.PatientID); err != nil {
			s.logger.ErrorContext(ctx, "purge failed, will retry next pass",
				"patient_id", record.PatientID, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		s.metrics.IncrementPurged(string(domain.DataTypePatient), purged)
	}
	return purged, nil
}

func (s *Service) purgeOne(ctx context.Context, patientID string) error {
	unlock := s.locks.Lock(patientID)
	defer unlock()

	return s.run(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, patientID)
		if err != nil {
			return err
		}
		entry := audit.Entry{
			Actor:       requestcontext.Actor(ctx).ID,
			Action:      audit.ActionPurge,
			SubjectType: domain.DataTypePatient,
			SubjectID:   patientID,
			PrevDigest:  current.digest(),
		}
		if current.Tombstoned {
			entry.Outcome = audit.OutcomeNoop
			_, err := s.recorder.Append(ctx, entry)
			return err
		}

		scrub(&current, requestcontext.Now(ctx))
		if err := s.store.Update(ctx, current); err != nil {
			return err
		}
		entry.NewDigest = current.digest()
		entry.Outcome = audit.OutcomeOK
		_, err = s.recorder.Append(ctx, entry)
		return err
	})
}
