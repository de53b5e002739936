package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/billing"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/orderbook"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/room"
)

// ChargeService defines the room billing operations exposed over HTTP.
// Satisfied by *billing.Book.
type ChargeService interface {
	AddCharge(ctx context.Context, c billing.Charge) (billing.Charge, error)
	GetCharge(id string) (billing.Charge, error)
	ListCharges(status string) []billing.Charge
	ListPending(number string) []billing.Charge
	PendingTotal(number string) decimal.Decimal
	CloseAccount(ctx context.Context, number string, payments []billing.Payment, actor auth.Actor) (billing.Settlement, error)
	PayCharge(ctx context.Context, id string, payments []billing.Payment, actor auth.Actor) (billing.Settlement, error)
	CancelCharge(ctx context.Context, id, reason string, actor auth.Actor) (billing.Charge, error)
}

// ChargeReturner moves a pending restaurant charge back onto a table.
// Satisfied by *orderbook.Book.
type ChargeReturner interface {
	ReturnChargeToTable(ctx context.Context, chargeID, target string, actor auth.Actor) (orderbook.Order, error)
}

// ChargeHandler handles room charge endpoints.
type ChargeHandler struct {
	svc      ChargeService
	returner ChargeReturner
}

// NewChargeHandler creates a new ChargeHandler.
func NewChargeHandler(svc ChargeService, returner ChargeReturner) *ChargeHandler {
	return &ChargeHandler{svc: svc, returner: returner}
}

// RegisterRoutes registers charge endpoints, mounted at /room-charges.
func (h *ChargeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Add)
	r.Get("/rooms/{room}", h.Room)
	r.Post("/rooms/{room}/close", h.CloseAccount)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/pay", h.Pay)
	r.Post("/{id}/return-to-table", h.ReturnToTable)
}

// RegisterAdminRoutes registers the admin-only charge endpoints.
func (h *ChargeHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/{id}/cancel", h.Cancel)
}

// --- Request / Response types ---

type chargeItemRequest struct {
	ProductID        string          `json:"product_id"`
	Name             string          `json:"name" validate:"required"`
	Category         string          `json:"category"`
	Price            decimal.Decimal `json:"price" validate:"gte=0"`
	Qty              decimal.Decimal `json:"qty" validate:"gt=0"`
	ServiceFeeExempt bool            `json:"service_fee_exempt"`
}

type addChargeRequest struct {
	RoomNumber room.Number         `json:"room_number" validate:"required"`
	Items      []chargeItemRequest `json:"items" validate:"required,min=1,dive"`
	ServiceFee decimal.Decimal     `json:"service_fee" validate:"gte=0"`
	GuestName  string              `json:"guest_name"`
}

type paymentsRequest struct {
	Payments []billing.Payment `json:"payments" validate:"required,min=1,dive"`
}

type cancelChargeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type returnToTableRequest struct {
	TableID string `json:"table_id"`
}

type roomChargesResponse struct {
	Room    string           `json:"room"`
	Charges []billing.Charge `json:"charges"`
	Total   decimal.Decimal  `json:"total"`
}

// --- Handlers ---

// List handles GET /room-charges?status=.
func (h *ChargeHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"charges": h.svc.ListCharges(r.URL.Query().Get("status"))})
}

// Add handles POST /room-charges: a reception-posted consumption.
func (h *ChargeHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addChargeRequest
	if !decode(w, r, &req) {
		return
	}
	a := actor(r)
	items := make([]billing.ChargeItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = billing.ChargeItem{
			ProductID:        it.ProductID,
			Name:             it.Name,
			Category:         it.Category,
			Price:            it.Price,
			Qty:              it.Qty,
			ServiceFeeExempt: it.ServiceFeeExempt,
		}
	}
	c, err := h.svc.AddCharge(r.Context(), billing.Charge{
		RoomNumber: req.RoomNumber,
		Items:      items,
		ServiceFee: req.ServiceFee,
		GuestName:  req.GuestName,
		CreatedBy:  a.Username,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// Get handles GET /room-charges/{id}.
func (h *ChargeHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetCharge(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Room handles GET /room-charges/rooms/{room}: the pending bill of a room.
func (h *ChargeHandler) Room(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "room")
	writeJSON(w, http.StatusOK, roomChargesResponse{
		Room:    room.Display(number),
		Charges: h.svc.ListPending(number),
		Total:   h.svc.PendingTotal(number),
	})
}

// CloseAccount handles POST /room-charges/rooms/{room}/close.
func (h *ChargeHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	var req paymentsRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.svc.CloseAccount(r.Context(), chi.URLParam(r, "room"), req.Payments, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Pay handles POST /room-charges/{id}/pay.
func (h *ChargeHandler) Pay(w http.ResponseWriter, r *http.Request) {
	var req paymentsRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.svc.PayCharge(r.Context(), chi.URLParam(r, "id"), req.Payments, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Cancel handles POST /room-charges/{id}/cancel.
func (h *ChargeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelChargeRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.svc.CancelCharge(r.Context(), chi.URLParam(r, "id"), req.Reason, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ReturnToTable handles POST /room-charges/{id}/return-to-table.
func (h *ChargeHandler) ReturnToTable(w http.ResponseWriter, r *http.Request) {
	var req returnToTableRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.returner.ReturnChargeToTable(r.Context(), chi.URLParam(r, "id"), req.TableID, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
