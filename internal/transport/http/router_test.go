package httptransport

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/internal/compliance"
	"custodia/internal/consent"
	"custodia/internal/jwttoken"
	"custodia/internal/patients"
	"custodia/internal/payments"
	"custodia/internal/platform/logger"
	"custodia/internal/protect"
	"custodia/internal/retention"
	"custodia/internal/users"
	"custodia/pkg/domain"
	"custodia/pkg/testutil"
)

type routerFixture struct {
	handler     http.Handler
	tokens      *jwttoken.Service
	adminToken  string
	viewerToken string
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	log := logger.New(logger.ParseLevel("error"))
	ledger := audit.NewLedger(audit.NewInMemoryStore(), log)
	protector, err := protect.New([]byte("0123456789abcdef0123456789abcdef"), 1, protect.NewInMemoryVault(), ledger)
	require.NoError(t, err)

	patientStore := patients.NewInMemoryStore()
	userSvc := users.NewService(users.NewInMemoryStore(), protector, ledger, log)
	paymentSvc := payments.NewService(payments.NewInMemoryStore(), protector, ledger, log)
	patientSvc := patients.NewService(patientStore, protector, ledger, log)
	consentSvc := consent.NewService(consent.NewInMemoryStore(), ledger, log)
	retentionSvc := retention.NewService(retention.NewInMemoryStore(retention.Defaults(365)...), ledger, log)
	aggregator := compliance.NewAggregator(ledger, patientStore, paymentSvc, 30*24*time.Hour, log)
	tokens := jwttoken.NewService("router-test-signing-key", "custodia", "custodia-core")

	handler := NewRouter(Services{
		Users:      userSvc,
		Payments:   paymentSvc,
		Patients:   patientSvc,
		Consent:    consentSvc,
		Audit:      ledger,
		Compliance: aggregator,
		Retention:  retentionSvc,
		Tokens:     tokens,
		Validator:  tokens,
		Health:     func() error { return nil },
	}, log, nil, 5*time.Second)

	adminToken, err := tokens.GenerateToken(domain.Actor{
		ID:   "admin-1",
		Role: domain.RoleAdmin,
		Capabilities: []domain.Capability{
			domain.CapRevealSensitive,
			domain.CapModifyPolicy,
		},
	}, time.Hour)
	require.NoError(t, err)

	viewerToken, err := tokens.GenerateToken(domain.Actor{ID: "viewer-1", Role: domain.RoleViewer}, time.Hour)
	require.NoError(t, err)

	return &routerFixture{
		handler:     handler,
		tokens:      tokens,
		adminToken:  adminToken,
		viewerToken: viewerToken,
	}
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(t, method, path, body)
	} else {
		req = testutil.NewRequest(t, method, path)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.Do(f.handler, req)
}

func TestRouterHealthIsPublic(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouterMetricsIsPublic(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRejectsUnauthenticated(t *testing.T) {
	f := newRouterFixture(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/audit"},
		{http.MethodGet, "/users/"},
		{http.MethodGet, "/patients/p-1"},
		{http.MethodGet, "/compliance/snapshot"},
	}
	for _, p := range paths {
		rec := f.do(t, p.method, p.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, p.path)
	}

	rec := f.do(t, http.MethodGet, "/audit", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterLoginFlow(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/users/", f.adminToken, map[string]string{
		"username": "mwilson",
		"email":    "mwilson@example.com",
		"role":     "editor",
		"password": "correct horse battery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "mwilson",
		"password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := testutil.DecodeJSON[struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}](t, rec)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, int64(3600), login.ExpiresIn)

	// The minted token must open authenticated routes.
	rec = f.do(t, http.MethodGet, "/users/", login.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "mwilson",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterChargeAndRefund(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/payments/charge", f.adminToken, map[string]any{
		"amount":          2499,
		"currency":        "EUR",
		"cardholder_name": "Maria Wilson",
		"card_number":     "4111111111111111",
		"cvv":             "042",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	charged := testutil.DecodeJSON[transactionResponse](t, rec)
	assert.Equal(t, "1111", charged.CardLastFour)
	assert.Equal(t, "approved", charged.Status)
	assert.NotContains(t, rec.Body.String(), "4111111111111111")

	rec = f.do(t, http.MethodGet, "/payments/"+charged.ID, f.adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/payments/"+charged.ID+"/refund", f.adminToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	refund := testutil.DecodeJSON[transactionResponse](t, rec)
	assert.Equal(t, charged.ID, refund.RefundOf)
	assert.Equal(t, "refunded", refund.Status)

	// The same transaction cannot be refunded twice.
	rec = f.do(t, http.MethodPost, "/payments/"+charged.ID+"/refund", f.adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouterChargeValidation(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/payments/charge", f.adminToken, map[string]any{
		"amount":          2499,
		"currency":        "EUR",
		"cardholder_name": "Maria Wilson",
		"card_number":     "4111111111111112",
		"cvv":             "042",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := testutil.DecodeJSON[errorResponse](t, rec)
	assert.Equal(t, "validation", resp.Error)
}

func createPatient(t *testing.T, f *routerFixture, id string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/patients/", f.adminToken, map[string]any{
		"patient_id":      id,
		"first_name":      "Ada",
		"last_name":       "Nowak",
		"date_of_birth":   "1974-03-14",
		"ssn":             "123-45-6789",
		"diagnosis_codes": []string{"E11.9"},
		"physician_notes": "stable, quarterly follow-up",
		"insurance_id":    "INS-22",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRouterRevealSSNRequiresCapability(t *testing.T) {
	f := newRouterFixture(t)
	createPatient(t, f, "MRN-100")

	rec := f.do(t, http.MethodPost, "/patients/MRN-100/reveal-ssn", f.viewerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/patients/MRN-100/reveal-ssn", f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := testutil.DecodeJSON[struct {
		PatientID string `json:"patient_id"`
		SSN       string `json:"ssn"`
	}](t, rec)
	assert.Equal(t, "MRN-100", resp.PatientID)
	assert.Equal(t, "123-45-6789", resp.SSN)
}

func TestRouterPatientResponsesNeverCarrySSN(t *testing.T) {
	f := newRouterFixture(t)
	createPatient(t, f, "MRN-101")

	rec := f.do(t, http.MethodGet, "/patients/MRN-101", f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "123-45-6789")

	rec = f.do(t, http.MethodGet, "/patients/?last_name=Nowak", f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "123-45-6789")
}

func TestRouterPatientErasure(t *testing.T) {
	f := newRouterFixture(t)
	createPatient(t, f, "MRN-102")

	rec := f.do(t, http.MethodPost, "/patients/MRN-102/erasure", f.adminToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/patients/MRN-102/reveal-ssn", f.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterConsentEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/consent/", f.adminToken, map[string]string{
		"subject_id": "subject-9",
		"purpose":    "marketing",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/consent/subject-9", f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := testutil.DecodeJSON[[]consent.Record](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ConsentPurposeMarketing, records[0].Purpose)

	rec = f.do(t, http.MethodPost, "/consent/revoke", f.adminToken, map[string]string{
		"subject_id": "subject-9",
		"purpose":    "marketing",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/consent/", f.adminToken, map[string]string{
		"subject_id": "subject-9",
		"purpose":    "world-domination",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsentWithdrawalScenario(t *testing.T) {
	f := newRouterFixture(t)

	testutil.Given(t, "a subject who consented to data storage", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/consent/", f.adminToken, map[string]string{
			"subject_id": "subject-42",
			"purpose":    "data_storage",
		})
		testutil.AssertStatus(t, rec, http.StatusCreated)
	})

	testutil.When(t, "the subject withdraws that consent", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/consent/revoke", f.adminToken, map[string]string{
			"subject_id": "subject-42",
			"purpose":    "data_storage",
		})
		testutil.AssertStatus(t, rec, http.StatusNoContent)
	})

	testutil.Then(t, "the grant survives as a revoked record", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/consent/subject-42", f.adminToken, nil)
		testutil.AssertStatus(t, rec, http.StatusOK)
		records := testutil.DecodeJSON[[]consent.Record](t, rec)
		require.Len(t, records, 1)
		assert.NotNil(t, records[0].RevokedAt)
	})
}

func TestRouterRetentionPolicyGate(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPut, "/retention/policy", f.viewerToken, map[string]string{
		"data_type":    "transaction",
		"max_age_days": "30",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, "/retention/policy", f.adminToken, map[string]string{
		"data_type":    "transaction",
		"max_age_days": "30",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	policy := testutil.DecodeJSON[retention.Policy](t, rec)
	assert.Equal(t, 30, policy.MaxAgeDays)

	rec = f.do(t, http.MethodPut, "/retention/policy", f.adminToken, map[string]string{
		"data_type":    "patient",
		"max_age_days": "indefinite",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	policy = testutil.DecodeJSON[retention.Policy](t, rec)
	assert.Equal(t, 0, policy.MaxAgeDays)

	rec = f.do(t, http.MethodPut, "/retention/policy", f.adminToken, map[string]string{
		"data_type":    "transaction",
		"max_age_days": "-3",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/retention/policy", f.viewerToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterAuditQuery(t *testing.T) {
	f := newRouterFixture(t)
	createPatient(t, f, "MRN-103")

	rec := f.do(t, http.MethodGet, "/audit?subject_type=patient&subject_id=MRN-103", f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := testutil.DecodeJSON[[]audit.Entry](t, rec)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, "MRN-103", e.SubjectID)
	}

	rec = f.do(t, http.MethodGet, "/audit?after_seq=banana", f.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/audit?limit=0", f.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/audit?subject_type=spaceship", f.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/audit?from=%s", time.Now().Add(time.Hour).UTC().Format(time.RFC3339)), f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRouterComplianceSnapshot(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/compliance/snapshot", f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := testutil.DecodeJSON[compliance.Snapshot](t, rec)
	assert.Len(t, snap.Results, 4)
}

func TestRouterRejectsUnknownJSONFields(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/consent/", f.adminToken, map[string]string{
		"subject_id": "subject-9",
		"purpose":    "marketing",
		"extra":      "field",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterRejectsWrongContentType(t *testing.T) {
	f := newRouterFixture(t)

	req := testutil.NewRawRequest(t, http.MethodPost, "/consent/", "subject_id=x")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+f.adminToken)
	rec := testutil.Do(f.handler, req)
	testutil.AssertStatus(t, rec, http.StatusUnsupportedMediaType)
}
