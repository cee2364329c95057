package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Recorder is the slice of the audit ledger the service needs.
type Recorder interface {
	Append(ctx context.Context, entry audit.Entry) (uint64, error)
}

// Service owns policy reads and the audited, capability-gated policy update.
type Service struct {
	store    Store
	recorder Recorder
	logger   *slog.Logger
}

func NewService(store Store, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, recorder: recorder, logger: logger}
}

// Policies returns the current policy set.
func (s *Service) Policies(ctx context.Context) ([]Policy, error) {
	return s.store.List(ctx)
}

// Policy returns the policy for one data type.
func (s *Service) Policy(ctx context.Context, dataType domain.DataType) (Policy, error) {
	p, err := s.store.Get(ctx, dataType)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Policy{}, dErrors.Newf(dErrors.CodeNotFound, "no retention policy for %q", dataType)
	}
	return p, err
}

// SetPolicy changes the retention for a data type. The actor must hold the
// policy capability; the change increments the version and appends a
// policy_change entry. It takes effect on the next scheduler pass.
//
// Errors: CodePermissionDenied without the capability; CodeValidation on a
// bad policy; CodeUnavailable when the ledger append fails.
func (s *Service) SetPolicy(ctx context.Context, dataType domain.DataType, maxAgeDays int) (Policy, error) {
	actor := requestcontext.Actor(ctx)
	if !actor.Can(domain.CapModifyPolicy) {
		return Policy{}, dErrors.New(dErrors.CodePermissionDenied, "actor lacks policy capability")
	}

	policy := Policy{
		DataType:   dataType,
		MaxAgeDays: maxAgeDays,
		Version:    1,
		UpdatedBy:  actor.ID,
		UpdatedAt:  requestcontext.Now(ctx),
	}
	if err := policy.validate(); err != nil {
		return Policy{}, err
	}

	prevDetail := "none"
	if current, err := s.store.Get(ctx, dataType); err == nil {
		policy.Version = current.Version + 1
		prevDetail = fmt.Sprintf("%dd", current.MaxAgeDays)
	}

	if _, err := s.recorder.Append(ctx, audit.Entry{
		Actor:       actor.ID,
		Action:      audit.ActionPolicyChange,
		SubjectType: domain.DataTypePolicy,
		SubjectID:   string(dataType),
		Outcome:     audit.OutcomeOK,
		Detail:      fmt.Sprintf("max_age %s -> %dd version=%d", prevDetail, maxAgeDays, policy.Version),
	}); err != nil {
		return Policy{}, err
	}
	if err := s.store.Upsert(ctx, policy); err != nil {
		return Policy{}, err
	}

	s.logger.InfoContext(ctx, "retention policy changed",
		"data_type", dataType.String(), "max_age_days", maxAgeDays,
		"version", policy.Version, "request_id", requestcontext.RequestID(ctx))
	return policy, nil
}
