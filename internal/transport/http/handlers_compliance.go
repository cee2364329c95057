package httptransport

import (
	"context"
	"net/http"
	"strconv"

	"custodia/internal/compliance"
	"custodia/internal/retention"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// ComplianceService is the slice of the aggregator the router needs.
type ComplianceService interface {
	Snapshot(ctx context.Context) (compliance.Snapshot, error)
}

// RetentionService is the slice of the retention service the router needs.
type RetentionService interface {
	Policies(ctx context.Context) ([]retention.Policy, error)
	SetPolicy(ctx context.Context, dataType domain.DataType, maxAgeDays int) (retention.Policy, error)
}

func handleComplianceSnapshot(svc ComplianceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.Snapshot(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleRetentionPolicies(svc RetentionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policies, err := svc.Policies(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, policies)
	}
}

func handleRetentionSetPolicy(svc RetentionService) http.HandlerFunc {
	type request struct {
		DataType   string `json:"data_type"`
		MaxAgeDays string `json:"max_age_days"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		dataType, err := domain.ParseDataType(req.DataType)
		if err != nil {
			writeError(w, err)
			return
		}
		days, err := parseMaxAge(req.MaxAgeDays)
		if err != nil {
			writeError(w, err)
			return
		}
		policy, err := svc.SetPolicy(r.Context(), dataType, days)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, policy)
	}
}

// parseMaxAge accepts a day count or the literal "indefinite".
func parseMaxAge(raw string) (int, error) {
	if raw == "indefinite" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, `max_age_days must be a non-negative integer or "indefinite"`)
	}
	return days, nil
}
