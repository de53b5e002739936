package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/commission"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/fiscal"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/saleshistory"
)

// CommissionService is satisfied by *commission.Engine.
type CommissionService interface {
	Rate() decimal.Decimal
	Ranking(from, to time.Time) commission.Ranking
	Month(month string) (commission.Ranking, error)
	MonthlyTotal(ctx context.Context, month, user string) (decimal.Decimal, error)
}

// FiscalService is satisfied by *fiscal.Pool.
type FiscalService interface {
	List(status string) []fiscal.Entry
	Get(id string) (fiscal.Entry, bool)
	UpdateStatus(ctx context.Context, id string, u fiscal.StatusUpdate) (fiscal.Entry, error)
}

// AuditService is satisfied by *audit.Log.
type AuditService interface {
	Query(ctx context.Context, f audit.Filter) (audit.Page, error)
	ExportCSV(ctx context.Context, w io.Writer, f audit.Filter) error
}

// SalesService is satisfied by *saleshistory.Archive.
type SalesService interface {
	List(f saleshistory.Filter) []saleshistory.Entry
}

// ReportsHandler handles the read-mostly back-office endpoints.
type ReportsHandler struct {
	commission CommissionService
	fiscal     FiscalService
	audit      AuditService
	sales      SalesService
}

// NewReportsHandler creates a new ReportsHandler.
func NewReportsHandler(c CommissionService, f FiscalService, a AuditService, s SalesService) *ReportsHandler {
	return &ReportsHandler{commission: c, fiscal: f, audit: a, sales: s}
}

// RegisterRoutes registers the elevated report endpoints.
func (h *ReportsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/commissions/ranking", h.Ranking)
	r.Get("/commissions/ranking.xlsx", h.RankingXLSX)
	r.Get("/commissions/{month}", h.Monthly)
	r.Get("/audit", h.AuditQuery)
	r.Get("/audit/export.csv", h.AuditExport)
	r.Get("/sales", h.Sales)
	r.Get("/fiscal", h.FiscalList)
	r.Get("/fiscal/{id}", h.FiscalGet)
}

// RegisterEmitterRoutes registers the callback the fiscal emitter reports to.
func (h *ReportsHandler) RegisterEmitterRoutes(r chi.Router) {
	r.Post("/fiscal/{id}/status", h.FiscalStatus)
}

// --- Request types ---

type fiscalStatusRequest struct {
	Status        string `json:"status" validate:"required,oneof=pending emitted failed"`
	FiscalDocUUID string `json:"fiscal_doc_uuid"`
	Serie         string `json:"serie"`
	Number        string `json:"number"`
	Error         string `json:"error"`
}

// --- Handlers ---

func (h *ReportsHandler) rankingFromQuery(r *http.Request) (commission.Ranking, error) {
	if month := r.URL.Query().Get("month"); month != "" {
		return h.commission.Month(month)
	}
	from, err := queryTime(r, "from")
	if err != nil {
		return commission.Ranking{}, err
	}
	to, err := queryTime(r, "to")
	if err != nil {
		return commission.Ranking{}, err
	}
	return h.commission.Ranking(from, to), nil
}

// Ranking handles GET /reports/commissions/ranking?month= or ?from=&to=.
func (h *ReportsHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	rk, err := h.rankingFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rk)
}

// RankingXLSX streams the ranking as a spreadsheet.
func (h *ReportsHandler) RankingXLSX(w http.ResponseWriter, r *http.Request) {
	rk, err := h.rankingFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="comissoes_%s.xlsx"`, rk.From.Format("2006-01-02")))
	if err := rk.WriteXLSX(w, h.commission.Rate()); err != nil {
		writeError(w, apperr.Internal("commission xlsx", err))
	}
}

// Monthly handles GET /reports/commissions/{month}.
func (h *ReportsHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	month := chi.URLParam(r, "month")
	total, err := h.commission.MonthlyTotal(r.Context(), month, actor(r).Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": month, "rate": h.commission.Rate(), "total": total})
}

func auditFilter(r *http.Request) (audit.Filter, error) {
	from, err := queryTime(r, "from")
	if err != nil {
		return audit.Filter{}, err
	}
	to, err := queryTime(r, "to")
	if err != nil {
		return audit.Filter{}, err
	}
	q := r.URL.Query()
	return audit.Filter{
		From:       from,
		To:         to,
		Department: q.Get("department"),
		Actor:      q.Get("actor"),
		Action:     q.Get("action"),
		Severity:   q.Get("severity"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}, nil
}

// AuditQuery handles GET /reports/audit.
func (h *ReportsHandler) AuditQuery(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := h.audit.Query(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// AuditExport handles GET /reports/audit/export.csv.
func (h *ReportsHandler) AuditExport(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="auditoria.csv"`)
	if err := h.audit.ExportCSV(r.Context(), w, f); err != nil {
		writeError(w, err)
	}
}

// Sales handles GET /reports/sales?from=&to=&table=&waiter=.
func (h *ReportsHandler) Sales(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	entries := h.sales.List(saleshistory.Filter{From: from, To: to, TableID: q.Get("table"), Waiter: q.Get("waiter")})
	writeJSON(w, http.StatusOK, map[string]any{"sales": entries})
}

// FiscalList handles GET /reports/fiscal?status=.
func (h *ReportsHandler) FiscalList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entries": h.fiscal.List(r.URL.Query().Get("status"))})
}

// FiscalGet handles GET /reports/fiscal/{id}.
func (h *ReportsHandler) FiscalGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, ok := h.fiscal.Get(id)
	if !ok {
		writeError(w, apperr.NotFound("fiscal entry", id))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// FiscalStatus handles POST /fiscal/{id}/status from the emitter.
func (h *ReportsHandler) FiscalStatus(w http.ResponseWriter, r *http.Request) {
	var req fiscalStatusRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.fiscal.UpdateStatus(r.Context(), chi.URLParam(r, "id"), fiscal.StatusUpdate{
		Status:        req.Status,
		FiscalDocUUID: req.FiscalDocUUID,
		Serie:         req.Serie,
		Number:        req.Number,
		Error:         req.Error,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
