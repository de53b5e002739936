package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/billing"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/middleware"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/orderbook"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/room"
)

// TableService defines the order book operations exposed over HTTP.
// Satisfied by *orderbook.Book; narrow interface for testability.
type TableService interface {
	ListTables() ([]orderbook.Order, error)
	View(tableID string) (orderbook.TableView, error)
	OpenTable(ctx context.Context, req orderbook.OpenRequest, actor auth.Actor) (orderbook.Order, error)
	AddBatchItems(ctx context.Context, tableID string, inputs []orderbook.ItemInput, actor auth.Actor) ([]orderbook.Item, error)
	RemoveItem(ctx context.Context, req orderbook.RemoveRequest, actor auth.Actor) (orderbook.Item, error)
	SetKitchenStatus(ctx context.Context, tableID, itemID, status string) (orderbook.Item, error)
	MarkPrinted(ctx context.Context, tableID string, itemIDs []string) error
	AddPartialPayment(ctx context.Context, tableID string, pay orderbook.Payment, actor auth.Actor) (orderbook.PartialPayment, error)
	VoidPartialPayment(ctx context.Context, tableID, paymentID string, actor auth.Actor) (ledger.Transaction, error)
	CloseOrder(ctx context.Context, req orderbook.CloseRequest, actor auth.Actor) (orderbook.CloseResult, error)
	CancelTable(ctx context.Context, tableID, reason, password string, actor auth.Actor) error
	PullBill(ctx context.Context, tableID string, actor auth.Actor) (orderbook.TableView, error)
	UnlockTable(ctx context.Context, tableID, password string, actor auth.Actor) (orderbook.Order, error)
	TransferItem(ctx context.Context, req orderbook.TransferItemRequest, actor auth.Actor) (orderbook.Item, error)
	TransferTable(ctx context.Context, src, dst string, actor auth.Actor) (orderbook.Order, error)
	CancelTransfer(ctx context.Context, tableID string, actor auth.Actor) (orderbook.Order, error)
	TransferToRoom(ctx context.Context, req orderbook.RoomTransferRequest, actor auth.Actor) ([]billing.Charge, error)
	Settings() orderbook.Settings
	SetLiveMusic(ctx context.Context, on bool, actor auth.Actor) (orderbook.Settings, []string, error)
}

// TableHandler handles the restaurant floor endpoints.
type TableHandler struct {
	svc TableService
}

// NewTableHandler creates a new TableHandler.
func NewTableHandler(svc TableService) *TableHandler {
	return &TableHandler{svc: svc}
}

// RegisterRoutes registers table endpoints, mounted at /tables.
func (h *TableHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Open)
	r.Post("/items/transfer", h.TransferItem)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/items", h.AddItems)
		r.Post("/items/{itemID}/remove", h.RemoveItem)
		r.Patch("/items/{itemID}/kitchen", h.KitchenStatus)
		r.Post("/printed", h.MarkPrinted)
		r.Post("/partial-payments", h.AddPartial)
		r.Delete("/partial-payments/{pid}", h.VoidPartial)
		r.Post("/pull-bill", h.PullBill)
		r.Post("/unlock", h.Unlock)
		r.Post("/close", h.Close)
		r.Post("/cancel", h.Cancel)
		r.Post("/transfer", h.TransferTable)
		r.Post("/transfer/cancel", h.CancelTransfer)
		r.Post("/transfer-to-room", h.TransferToRoom)
	})
}

// RegisterSettingsRoutes registers the floor switches, mounted at /settings.
// Only elevated roles may toggle live music.
func (h *TableHandler) RegisterSettingsRoutes(r chi.Router) {
	r.Get("/", h.GetSettings)
	r.With(middleware.RequireElevated).Put("/live-music", h.LiveMusic)
}

// --- Request types ---

type addItemsRequest struct {
	Items []orderbook.ItemInput `json:"items" validate:"required,min=1,dive"`
}

type removeItemRequest struct {
	Qty          decimal.Decimal `json:"qty"`
	Reason       string          `json:"reason" validate:"required"`
	AuthPassword string          `json:"auth_password"`
}

type kitchenStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type printedRequest struct {
	ItemIDs []string `json:"item_ids" validate:"required,min=1"`
}

type closeRequest struct {
	Payments         []orderbook.Payment `json:"payments" validate:"dive"`
	Discount         decimal.Decimal     `json:"discount" validate:"gte=0"`
	RemoveServiceFee bool                `json:"remove_service_fee"`
	CustomerDocument string              `json:"customer_document"`
}

type cancelRequest struct {
	Reason       string `json:"reason" validate:"required"`
	AuthPassword string `json:"auth_password"`
}

type unlockRequest struct {
	AuthPassword string `json:"auth_password"`
}

type transferTableRequest struct {
	Target string `json:"target" validate:"required"`
}

type roomTransferRequest struct {
	RoomNumber       room.Number `json:"room_number"`
	RemoveServiceFee bool        `json:"remove_service_fee"`
}

type liveMusicRequest struct {
	Active bool `json:"active"`
}

// --- Handlers ---

// List handles GET /tables.
func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	tables, err := h.svc.ListTables()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// Get handles GET /tables/{id}.
func (h *TableHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.View(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Open handles POST /tables.
func (h *TableHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req orderbook.OpenRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.OpenTable(r.Context(), req, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// AddItems handles POST /tables/{id}/items. All items land or none do.
func (h *TableHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	var req addItemsRequest
	if !decode(w, r, &req) {
		return
	}
	items, err := h.svc.AddBatchItems(r.Context(), chi.URLParam(r, "id"), req.Items, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": items})
}

// RemoveItem handles POST /tables/{id}/items/{itemID}/remove.
func (h *TableHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	var req removeItemRequest
	if !decode(w, r, &req) {
		return
	}
	it, err := h.svc.RemoveItem(r.Context(), orderbook.RemoveRequest{
		TableID:      chi.URLParam(r, "id"),
		ItemID:       chi.URLParam(r, "itemID"),
		Qty:          req.Qty,
		Reason:       req.Reason,
		AuthPassword: req.AuthPassword,
	}, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// KitchenStatus handles PATCH /tables/{id}/items/{itemID}/kitchen.
func (h *TableHandler) KitchenStatus(w http.ResponseWriter, r *http.Request) {
	var req kitchenStatusRequest
	if !decode(w, r, &req) {
		return
	}
	it, err := h.svc.SetKitchenStatus(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// MarkPrinted handles POST /tables/{id}/printed.
func (h *TableHandler) MarkPrinted(w http.ResponseWriter, r *http.Request) {
	var req printedRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.MarkPrinted(r.Context(), chi.URLParam(r, "id"), req.ItemIDs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddPartial handles POST /tables/{id}/partial-payments.
func (h *TableHandler) AddPartial(w http.ResponseWriter, r *http.Request) {
	var req orderbook.Payment
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.AddPartialPayment(r.Context(), chi.URLParam(r, "id"), req, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// VoidPartial handles DELETE /tables/{id}/partial-payments/{pid}.
func (h *TableHandler) VoidPartial(w http.ResponseWriter, r *http.Request) {
	rev, err := h.svc.VoidPartialPayment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// PullBill handles POST /tables/{id}/pull-bill.
func (h *TableHandler) PullBill(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.PullBill(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Unlock handles POST /tables/{id}/unlock.
func (h *TableHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.UnlockTable(r.Context(), chi.URLParam(r, "id"), req.AuthPassword, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Close handles POST /tables/{id}/close.
func (h *TableHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.CloseOrder(r.Context(), orderbook.CloseRequest{
		TableID:          chi.URLParam(r, "id"),
		Payments:         req.Payments,
		Discount:         req.Discount,
		RemoveServiceFee: req.RemoveServiceFee,
		CustomerDocument: req.CustomerDocument,
	}, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Cancel handles POST /tables/{id}/cancel.
func (h *TableHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.CancelTable(r.Context(), chi.URLParam(r, "id"), req.Reason, req.AuthPassword, actor(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TransferItem handles POST /tables/items/transfer.
func (h *TableHandler) TransferItem(w http.ResponseWriter, r *http.Request) {
	var req orderbook.TransferItemRequest
	if !decode(w, r, &req) {
		return
	}
	it, err := h.svc.TransferItem(r.Context(), req, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// TransferTable handles POST /tables/{id}/transfer.
func (h *TableHandler) TransferTable(w http.ResponseWriter, r *http.Request) {
	var req transferTableRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.TransferTable(r.Context(), chi.URLParam(r, "id"), req.Target, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelTransfer handles POST /tables/{id}/transfer/cancel.
func (h *TableHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.CancelTransfer(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// TransferToRoom handles POST /tables/{id}/transfer-to-room.
func (h *TableHandler) TransferToRoom(w http.ResponseWriter, r *http.Request) {
	var req roomTransferRequest
	if !decode(w, r, &req) {
		return
	}
	charges, err := h.svc.TransferToRoom(r.Context(), orderbook.RoomTransferRequest{
		TableID:          chi.URLParam(r, "id"),
		RoomNumber:       req.RoomNumber,
		RemoveServiceFee: req.RemoveServiceFee,
	}, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"charges": charges})
}

// GetSettings handles GET /settings.
func (h *TableHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

// LiveMusic handles PUT /settings/live-music.
func (h *TableHandler) LiveMusic(w http.ResponseWriter, r *http.Request) {
	var req liveMusicRequest
	if !decode(w, r, &req) {
		return
	}
	s, charged, err := h.svc.SetLiveMusic(r.Context(), req.Active, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": s, "cover_charged": charged})
}
