package httptransport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// AuditService is the read-only slice of the ledger the router mounts.
type AuditService interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// handleAuditQuery exposes the ledger with subject, action, time and cursor
// filters. Mounted strictly behind authentication.
func handleAuditQuery(svc AuditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter audit.Filter

		if st := q.Get("subject_type"); st != "" {
			parsed, err := domain.ParseDataType(st)
			if err != nil {
				writeError(w, err)
				return
			}
			filter.SubjectType = parsed
		}
		filter.SubjectID = q.Get("subject_id")
		if action := q.Get("action"); action != "" {
			filter.Actions = []audit.Action{audit.Action(action)}
		}
		var err error
		if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
			writeError(w, err)
			return
		}
		if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
			writeError(w, err)
			return
		}
		if after := q.Get("after_seq"); after != "" {
			seq, err := strconv.ParseUint(after, 10, 64)
			if err != nil {
				writeError(w, dErrors.New(dErrors.CodeValidation, "after_seq must be a non-negative integer"))
				return
			}
			filter.AfterSeq = seq
		}
		if limit := q.Get("limit"); limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil || n < 1 {
				writeError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			filter.Limit = n
		}

		entries, err := svc.Query(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "time filters must be RFC 3339")
	}
	return &t, nil
}
