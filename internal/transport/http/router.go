package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/platform/metrics"
	"custodia/internal/platform/middleware"
	"custodia/pkg/domain"
)

// Services bundles everything the router mounts.
type Services struct {
	Users      UserService
	Payments   PaymentService
	Patients   PatientService
	Consent    ConsentService
	Audit      AuditService
	Compliance ComplianceService
	Retention  RetentionService
	Tokens     TokenIssuer
	Validator  middleware.ActorValidator
	Health     func() error
}

// NewRouter wires the full route table. Everything except the health check,
// the metrics endpoint and login sits behind authentication; the audit query
// path in particular is never mounted outside it.
func NewRouter(svcs Services, logger *slog.Logger, m *metrics.Metrics, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Latency(m))
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", handleHealth(svcs.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.With(middleware.ContentTypeJSON).Post("/auth/login", handleLogin(svcs.Users, svcs.Tokens))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(svcs.Validator, logger))

		r.Route("/users", func(r chi.Router) {
			r.With(middleware.ContentTypeJSON).Post("/", handleUserCreate(svcs.Users))
			r.Get("/", handleUserList(svcs.Users))
			r.Get("/{id}", handleUserGet(svcs.Users))
			r.With(middleware.ContentTypeJSON).Patch("/{id}", handleUserUpdate(svcs.Users))
			r.Delete("/{id}", handleUserDeactivate(svcs.Users))
		})

		r.Route("/payments", func(r chi.Router) {
			r.With(middleware.ContentTypeJSON).Post("/charge", handleCharge(svcs.Payments))
			r.Post("/{id}/refund", handleRefund(svcs.Payments))
			r.Get("/", handlePaymentList(svcs.Payments))
			r.Get("/{id}", handlePaymentGet(svcs.Payments))
		})

		r.Route("/patients", func(r chi.Router) {
			r.With(middleware.ContentTypeJSON).Post("/", handlePatientCreate(svcs.Patients))
			r.Get("/", handlePatientSearch(svcs.Patients))
			r.Get("/{id}", handlePatientGet(svcs.Patients))
			r.With(middleware.ContentTypeJSON).Patch("/{id}", handlePatientUpdate(svcs.Patients))
			r.With(middleware.RequireCapability(domain.CapRevealSensitive, logger)).
				Post("/{id}/reveal-ssn", handlePatientRevealSSN(svcs.Patients))
			r.Post("/{id}/erasure", handlePatientErasure(svcs.Patients))
		})

		r.Route("/consent", func(r chi.Router) {
			r.With(middleware.ContentTypeJSON).Post("/", handleConsentGrant(svcs.Consent))
			r.With(middleware.ContentTypeJSON).Post("/revoke", handleConsentRevoke(svcs.Consent))
			r.Get("/{subjectID}", handleConsentList(svcs.Consent))
		})

		r.Get("/audit", handleAuditQuery(svcs.Audit))
		r.Get("/compliance/snapshot", handleComplianceSnapshot(svcs.Compliance))

		r.Route("/retention", func(r chi.Router) {
			r.Get("/policy", handleRetentionPolicies(svcs.Retention))
			r.With(middleware.RequireCapability(domain.CapModifyPolicy, logger), middleware.ContentTypeJSON).
				Put("/policy", handleRetentionSetPolicy(svcs.Retention))
		})
	})

	return r
}

func handleHealth(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
