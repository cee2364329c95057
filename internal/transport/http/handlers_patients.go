package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/patients"
	dErrors "custodia/pkg/domain-errors"
)

// PatientService is the slice of the patients service the router needs.
type PatientService interface {
	Create(ctx context.Context, params patients.CreateParams) (patients.Record, error)
	Get(ctx context.Context, patientID string) (patients.Record, error)
	Update(ctx context.Context, patientID string, params patients.UpdateParams) (patients.Record, error)
	RevealSSN(ctx context.Context, patientID string) (string, error)
	Erase(ctx context.Context, patientID string) error
	Search(ctx context.Context, filter patients.Filter) ([]patients.Record, error)
}

// patientResponse carries protected fields only as their storage mode;
// ciphertext and plaintext alike stay behind the service boundary.
type patientResponse struct {
	PatientID      string   `json:"patient_id"`
	FirstName      string   `json:"first_name,omitempty"`
	LastName       string   `json:"last_name,omitempty"`
	DateOfBirth    string   `json:"date_of_birth,omitempty"`
	SSNProtection  string   `json:"ssn_protection,omitempty"`
	DiagnosisCodes []string `json:"diagnosis_codes,omitempty"`
	Medications    []string `json:"medications,omitempty"`
	HasNotes       bool     `json:"has_physician_notes"`
	InsuranceID    string   `json:"insurance_id,omitempty"`
	Tombstoned     bool     `json:"tombstoned"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

func toPatientResponse(r patients.Record) patientResponse {
	resp := patientResponse{
		PatientID:      r.PatientID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		SSNProtection:  string(r.SSN.Mode),
		DiagnosisCodes: r.DiagnosisCodes,
		Medications:    r.Medications,
		HasNotes:       !r.PhysicianNotes.IsZero(),
		InsuranceID:    r.InsuranceID,
		Tombstoned:     r.Tombstoned,
		CreatedAt:      r.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:      r.UpdatedAt.UTC().Format(timeFormat),
	}
	if !r.DateOfBirth.IsZero() {
		resp.DateOfBirth = r.DateOfBirth.UTC().Format("2006-01-02")
	}
	return resp
}

func handlePatientCreate(svc PatientService) http.HandlerFunc {
	type request struct {
		PatientID      string   `json:"patient_id"`
		FirstName      string   `json:"first_name"`
		LastName       string   `json:"last_name"`
		DateOfBirth    string   `json:"date_of_birth"`
		SSN            string   `json:"ssn"`
		DiagnosisCodes []string `json:"diagnosis_codes"`
		Medications    []string `json:"medications"`
		PhysicianNotes string   `json:"physician_notes"`
		InsuranceID    string   `json:"insurance_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		dob, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeValidation, "date_of_birth must be YYYY-MM-DD"))
			return
		}
		record, err := svc.Create(r.Context(), patients.CreateParams{
			PatientID:      req.PatientID,
			FirstName:      req.FirstName,
			LastName:       req.LastName,
			DateOfBirth:    dob,
			SSN:            req.SSN,
			DiagnosisCodes: req.DiagnosisCodes,
			Medications:    req.Medications,
			PhysicianNotes: req.PhysicianNotes,
			InsuranceID:    req.InsuranceID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPatientResponse(record))
	}
}

func handlePatientGet(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientResponse(record))
	}
}

func handlePatientUpdate(svc PatientService) http.HandlerFunc {
	type request struct {
		DiagnosisCodes []string `json:"diagnosis_codes"`
		Medications    []string `json:"medications"`
		PhysicianNotes *string  `json:"physician_notes"`
		InsuranceID    *string  `json:"insurance_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		record, err := svc.Update(r.Context(), chi.URLParam(r, "id"), patients.UpdateParams{
			DiagnosisCodes: req.DiagnosisCodes,
			Medications:    req.Medications,
			PhysicianNotes: req.PhysicianNotes,
			InsuranceID:    req.InsuranceID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientResponse(record))
	}
}

func handlePatientRevealSSN(svc PatientService) http.HandlerFunc {
	type response struct {
		PatientID string `json:"patient_id"`
		SSN       string `json:"ssn"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ssn, err := svc.RevealSSN(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response{PatientID: id, SSN: ssn})
	}
}

func handlePatientErasure(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Erase(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePatientSearch(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := patients.Filter{
			LastName:          r.URL.Query().Get("last_name"),
			InsuranceID:       r.URL.Query().Get("insurance_id"),
			IncludeTombstoned: r.URL.Query().Get("include_tombstoned") == "true",
		}
		results, err := svc.Search(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]patientResponse, 0, len(results))
		for _, record := range results {
			out = append(out, toPatientResponse(record))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
