package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
)

// CashierService defines the ledger operations exposed over HTTP.
// Satisfied by *ledger.Ledger; narrow interface for testability.
type CashierService interface {
	OpenSession(ctx context.Context, typ, user string, opening decimal.Decimal) (ledger.Session, error)
	ActiveSession(typ string) (ledger.Session, bool)
	SessionByID(id string) (ledger.Session, bool)
	History(f ledger.HistoryFilter) ([]ledger.Session, error)
	CloseSession(ctx context.Context, id, user string, closing decimal.Decimal) (ledger.Session, error)
	AddTransaction(ctx context.Context, typ string, txn ledger.Transaction) (ledger.Transaction, error)
	ReverseTransaction(ctx context.Context, typ, txnID, description, user string) (ledger.Transaction, error)
	TransferEligibility(sourceType, targetType string) error
	TransferFunds(ctx context.Context, req ledger.TransferRequest) (ledger.Transfer, error)
	ReverseTransfer(ctx context.Context, documentID, user string) (ledger.Transfer, error)
}

// CashierHandler handles cashier session endpoints.
type CashierHandler struct {
	svc CashierService
}

// NewCashierHandler creates a new CashierHandler.
func NewCashierHandler(svc CashierService) *CashierHandler {
	return &CashierHandler{svc: svc}
}

// RegisterRoutes registers cashier endpoints, mounted at /cashier.
func (h *CashierHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.History)
	r.Post("/sessions", h.Open)
	r.Get("/sessions/active/{type}", h.Active)
	r.Get("/sessions/{id}", h.Get)
	r.Post("/sessions/{id}/close", h.Close)
	r.Post("/{type}/transactions", h.AddTransaction)
	r.Post("/{type}/transactions/{txnID}/reverse", h.Reverse)
	r.Get("/transfers/eligibility", h.Eligibility)
	r.Post("/transfers", h.Transfer)
	r.Post("/transfers/{doc}/reverse", h.ReverseTransfer)
}

// --- Request / Response types ---

type openSessionRequest struct {
	Type           string          `json:"type" validate:"required"`
	OpeningBalance decimal.Decimal `json:"opening_balance" validate:"gte=0"`
}

type closeSessionRequest struct {
	ClosingBalance decimal.Decimal `json:"closing_balance" validate:"gte=0"`
}

type manualTransactionRequest struct {
	Type          string          `json:"type" validate:"required,oneof=in out withdrawal"`
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentMethod string          `json:"payment_method" validate:"required"`
	Description   string          `json:"description" validate:"required"`
	Category      string          `json:"category"`
	Waiter        string          `json:"waiter"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type transferRequest struct {
	SourceType  string          `json:"source_type" validate:"required"`
	TargetType  string          `json:"target_type" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Description string          `json:"description"`
}

// sessionResponse adds the drawer figures and the folded display rows.
type sessionResponse struct {
	ledger.Session
	CashBalance decimal.Decimal     `json:"cash_balance"`
	Expected    decimal.Decimal     `json:"expected"`
	Display     []ledger.DisplayRow `json:"display"`
}

func toSessionResponse(s ledger.Session) sessionResponse {
	return sessionResponse{
		Session:     s,
		CashBalance: ledger.CashBalance(s),
		Expected:    ledger.Expected(s),
		Display:     ledger.GroupForDisplay(s.Transactions),
	}
}

// --- Handlers ---

// Open handles POST /cashier/sessions.
func (h *CashierHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.svc.OpenSession(r.Context(), req.Type, actor(r).Username, req.OpeningBalance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

// Active handles GET /cashier/sessions/active/{type}.
func (h *CashierHandler) Active(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	canonical, err := ledger.CanonicalType(typ)
	if err != nil {
		writeError(w, err)
		return
	}
	s, ok := h.svc.ActiveSession(canonical)
	if !ok {
		writeError(w, apperr.ErrNoOpenSession.WithDetail("type", canonical))
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// Get handles GET /cashier/sessions/{id}.
func (h *CashierHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := h.svc.SessionByID(id)
	if !ok {
		writeError(w, apperr.NotFound("session", id))
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// History handles GET /cashier/sessions?type=&from=&to=.
func (h *CashierHandler) History(w http.ResponseWriter, r *http.Request) {
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
	sessions, err := h.svc.History(ledger.HistoryFilter{Type: r.URL.Query().Get("type"), From: from, To: to})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Close handles POST /cashier/sessions/{id}/close.
func (h *CashierHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.svc.CloseSession(r.Context(), chi.URLParam(r, "id"), actor(r).Username, req.ClosingBalance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// AddTransaction handles POST /cashier/{type}/transactions: manual entries,
// supplies and withdrawals. Sales only come from the order book and billing.
func (h *CashierHandler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	var req manualTransactionRequest
	if !decode(w, r, &req) {
		return
	}
	category := req.Category
	if category == "" && req.Type == enum.TxnIn {
		category = enum.CategoryManualReceipt
	}
	t, err := h.svc.AddTransaction(r.Context(), chi.URLParam(r, "type"), ledger.Transaction{
		Type:          req.Type,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Description:   req.Description,
		Category:      category,
		User:          actor(r).Username,
		Waiter:        req.Waiter,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// Reverse handles POST /cashier/{type}/transactions/{txnID}/reverse.
func (h *CashierHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.svc.ReverseTransaction(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "txnID"), req.Reason, actor(r).Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// Eligibility handles GET /cashier/transfers/eligibility?source=&target=.
func (h *CashierHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.svc.TransferEligibility(q.Get("source"), q.Get("target")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"eligible": true})
}

// Transfer handles POST /cashier/transfers.
func (h *CashierHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.svc.TransferFunds(r.Context(), ledger.TransferRequest{
		SourceType:  req.SourceType,
		TargetType:  req.TargetType,
		Amount:      req.Amount,
		Description: req.Description,
		User:        actor(r).Username,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ReverseTransfer handles POST /cashier/transfers/{doc}/reverse.
func (h *CashierHandler) ReverseTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.ReverseTransfer(r.Context(), chi.URLParam(r, "doc"), actor(r).Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}
