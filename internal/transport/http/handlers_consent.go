package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/consent"
	"custodia/pkg/domain"
)

// ConsentService is the slice of the consent service the router needs.
type ConsentService interface {
	Grant(ctx context.Context, subjectID string, purpose domain.ConsentPurpose) (consent.Record, error)
	Revoke(ctx context.Context, subjectID string, purpose domain.ConsentPurpose) error
	List(ctx context.Context, subjectID string) ([]consent.Record, error)
}

func handleConsentGrant(svc ConsentService) http.HandlerFunc {
	type request struct {
		SubjectID string `json:"subject_id"`
		Purpose   string `json:"purpose"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		purpose, err := domain.ParseConsentPurpose(req.Purpose)
		if err != nil {
			writeError(w, err)
			return
		}
		record, err := svc.Grant(r.Context(), req.SubjectID, purpose)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	}
}

func handleConsentRevoke(svc ConsentService) http.HandlerFunc {
	type request struct {
		SubjectID string `json:"subject_id"`
		Purpose   string `json:"purpose"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		purpose, err := domain.ParseConsentPurpose(req.Purpose)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := svc.Revoke(r.Context(), req.SubjectID, purpose); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleConsentList(svc ConsentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := svc.List(r.Context(), chi.URLParam(r, "subjectID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}
