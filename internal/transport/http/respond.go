// Package httptransport is the thin HTTP layer over the core services. It
// parses and validates transport input, delegates to the services, and
// translates coded domain errors into JSON responses; no business rules live
// here.
package httptransport

import (
	"encoding/json"
	"net/http"

	dErrors "custodia/pkg/domain-errors"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps a coded domain error onto its HTTP status. Unknown errors
// collapse to 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := http.StatusInternalServerError
	message := "internal error"

	switch code {
	case dErrors.CodeValidation:
		status = http.StatusBadRequest
		message = err.Error()
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
		message = err.Error()
	case dErrors.CodeConflict:
		status = http.StatusConflict
		message = err.Error()
	case dErrors.CodeUnauthorized:
		status = http.StatusUnauthorized
		message = err.Error()
	case dErrors.CodePermissionDenied:
		status = http.StatusForbidden
		message = err.Error()
	case dErrors.CodeIntegrity:
		status = http.StatusConflict
		message = err.Error()
	case dErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
		message = "temporarily unavailable, retry"
	}

	writeJSON(w, status, errorResponse{Error: string(code), Message: message})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "malformed request body")
	}
	return nil
}
