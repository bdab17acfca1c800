package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/audit"
	"github.com/meridian-fin/meridian/internal/auth"
	"github.com/meridian-fin/meridian/internal/authz"
	"github.com/meridian-fin/meridian/internal/consolidation"
	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/fx"
	"github.com/meridian-fin/meridian/internal/intercompany"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/observability"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/reports"
	"github.com/meridian-fin/meridian/internal/users"
	"github.com/meridian-fin/meridian/internal/yearend"
	"github.com/meridian-fin/meridian/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	Auth    *auth.Service

	AuthHandler          *auth.Handler
	UsersHandler         *users.Handler
	OrgHandler           *org.Handler
	AccountsHandler      *accounts.Handler
	FiscalHandler        *fiscal.Handler
	FXHandler            *fx.Handler
	LedgerHandler        *ledger.Handler
	YearEndHandler       *yearend.Handler
	IntercompanyHandler  *intercompany.Handler
	AuthzHandler         *authz.Handler
	ConsolidationHandler *consolidation.Handler
	ReportsHandler       *reports.Handler
	AuditHandler         *audit.Handler
	JobsHandler          *jobs.Handler
}

// NewRouter constructs the chi.Router serving the REST API. Everything lives
// under /api/v1; authentication, invitation acceptance, health and metrics are
// the only routes reachable without a session.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", params.AuthHandler.MountRoutes)
		params.UsersHandler.MountPublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(Authenticator(params.Auth))

			r.Route("/organization", params.OrgHandler.MountOrganizationRoutes)
			r.Route("/members", params.UsersHandler.MountRoutes)
			r.Route("/companies", func(r chi.Router) {
				params.OrgHandler.MountCompanyRoutes(r)
				r.Route("/{companyID}/accounts", params.AccountsHandler.MountRoutes)
				r.Route("/{companyID}/fiscal-years", params.FiscalHandler.MountYearRoutes)
				r.Route("/{companyID}/periods", params.FiscalHandler.MountPeriodRoutes)
				r.Route("/{companyID}/journal-entries", params.LedgerHandler.MountRoutes)
				r.Route("/{companyID}/year-end", params.YearEndHandler.MountRoutes)
				r.Route("/{companyID}/reports", params.ReportsHandler.MountCompanyRoutes)
			})
			r.Route("/exchange-rates", params.FXHandler.MountRoutes)
			r.Route("/intercompany", params.IntercompanyHandler.MountRoutes)
			r.Route("/authz/policies", params.AuthzHandler.MountRoutes)
			r.Route("/authz/denials", params.AuthzHandler.MountDenialRoutes)
			r.Route("/consolidation-groups", params.ConsolidationHandler.MountGroupRoutes)
			r.Route("/consolidation-runs", func(r chi.Router) {
				params.ConsolidationHandler.MountRunRoutes(r)
				params.ReportsHandler.MountRunRoutes(r)
			})
			r.Route("/audit-log", params.AuditHandler.MountRoutes)
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		})
	})

	return r
}
