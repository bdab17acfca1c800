package reports

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/reports/export"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires the reporting REST surface. Every endpoint negotiates the
// output format through the "format" query parameter: json (default), csv,
// xlsx or pdf.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountCompanyRoutes registers per-company statement routes. It expects a
// {companyID} URL parameter from the enclosing router.
func (h *Handler) MountCompanyRoutes(r chi.Router) {
	r.Get("/trial-balance", h.trialBalance)
	r.Get("/balance-sheet", h.balanceSheet)
	r.Get("/income-statement", h.incomeStatement)
	r.Get("/cash-flow", h.cashFlow)
	r.Get("/equity-statement", h.equityStatement)
}

// MountRunRoutes registers consolidated statement routes addressed by run id.
func (h *Handler) MountRunRoutes(r chi.Router) {
	r.Get("/{runID}/balance-sheet", h.consolidatedBalanceSheet)
	r.Get("/{runID}/income-statement", h.consolidatedIncomeStatement)
}

// respond writes the report in the negotiated format. The table is built
// lazily so the JSON path never pays for flattening.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, name string, payload any, table func() export.Table) {
	var err error
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		httpx.JSON(w, http.StatusOK, payload)
		return
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.csv"`)
		err = export.CSV(w, table())
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.xlsx"`)
		err = export.XLSX(w, table())
	case "pdf":
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.pdf"`)
		err = export.PDF(w, table())
	default:
		httpx.Error(w, r, ErrBadFormat)
		return
	}
	if err != nil {
		// Headers are already out; all we can do is log.
		h.logger.Warn("report export failed",
			slog.String("report", name),
			slog.Any("error", err))
	}
}

func asOfDateQuery(r *http.Request) (shared.Date, error) {
	raw := r.URL.Query().Get("asOfDate")
	if raw == "" {
		return shared.Date{}, ErrBadAsOfDate
	}
	d, err := shared.ParseDate(raw)
	if err != nil {
		return shared.Date{}, ErrBadAsOfDate
	}
	return d, nil
}

func periodQuery(r *http.Request) (int, int, error) {
	year := httpx.IntQuery(r, "year", 0)
	period := httpx.IntQuery(r, "period", 0)
	if year <= 0 || period <= 0 {
		return 0, 0, ErrBadPeriod
	}
	return year, period, nil
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	asOf, err := asOfDateQuery(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), actor.OrgID, companyID, asOf)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.respond(w, r, "trial-balance", tb, tb.Table)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	asOf, err := asOfDateQuery(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	bs, err := h.service.BalanceSheet(r.Context(), actor.OrgID, companyID, asOf)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.respond(w, r, "balance-sheet", bs, bs.Table)
}

func (h *Handler) incomeStatement(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	year, period, err := periodQuery(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	comparative := r.URL.Query().Get("comparative") == "true"
	is, err := h.service.IncomeStatement(r.Context(), actor.OrgID, companyID, year, period, comparative)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.respond(w, r, "income-statement", is, is.Table)
}

func (h *Handler) cashFlow(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	year, period, err := periodQuery(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	method := CashFlowMethod(r.URL.Query().Get("method"))
	if method == "" {
		method = CashFlowIndirect
	}
	cf, err := h.service.CashFlow(r.Context(), actor.OrgID, companyID, year, period, method)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.respond(w, r, "cash-flow", cf, cf.Table)
}

func (h *Handler) equityStatement(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	year := httpx.IntQuery(r, "year", 0)
	if year <= 0 {
		httpx.Error(w, r, ErrBadPeriod)
		return
	}
	es, err := h.service.EquityStatement(r.Context(), actor.OrgID, companyID, year)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.respond(w, r, "equity-statement", es, es.Table)
}

func (h *Handler) consolidatedBalanceSheet(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	runID, err := httpx.UUIDParam(r, "runID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	cs, err := h.service.ConsolidatedBalanceSheet(r.Context(), actor.OrgID, runID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.respond(w, r, "consolidated-balance-sheet", cs, func() export.Table {
		return cs.Table("Consolidated Balance Sheet")
	})
}

func (h *Handler) consolidatedIncomeStatement(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	runID, err := httpx.UUIDParam(r, "runID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	cs, err := h.service.ConsolidatedIncomeStatement(r.Context(), actor.OrgID, runID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.respond(w, r, "consolidated-income-statement", cs, func() export.Table {
		return cs.Table("Consolidated Income Statement")
	})
}
