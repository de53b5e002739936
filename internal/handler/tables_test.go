package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/billing"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/handler"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/middleware"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/orderbook"
)

// --- Mock TableService ---

type mockTableService struct {
	listFn          func() ([]orderbook.Order, error)
	viewFn          func(tableID string) (orderbook.TableView, error)
	openFn          func(ctx context.Context, req orderbook.OpenRequest, actor auth.Actor) (orderbook.Order, error)
	addItemsFn      func(ctx context.Context, tableID string, inputs []orderbook.ItemInput, actor auth.Actor) ([]orderbook.Item, error)
	removeItemFn    func(ctx context.Context, req orderbook.RemoveRequest, actor auth.Actor) (orderbook.Item, error)
	partialFn       func(ctx context.Context, tableID string, pay orderbook.Payment, actor auth.Actor) (orderbook.PartialPayment, error)
	closeFn         func(ctx context.Context, req orderbook.CloseRequest, actor auth.Actor) (orderbook.CloseResult, error)
	cancelFn        func(ctx context.Context, tableID, reason, password string, actor auth.Actor) error
	transferRoomFn  func(ctx context.Context, req orderbook.RoomTransferRequest, actor auth.Actor) ([]billing.Charge, error)
	transferTableFn func(ctx context.Context, src, dst string, actor auth.Actor) (orderbook.Order, error)
}

func (m *mockTableService) ListTables() ([]orderbook.Order, error) {
	if m.listFn != nil {
		return m.listFn()
	}
	return []orderbook.Order{}, nil
}

func (m *mockTableService) View(tableID string) (orderbook.TableView, error) {
	if m.viewFn != nil {
		return m.viewFn(tableID)
	}
	return orderbook.TableView{}, apperr.NotFound("table", tableID)
}

func (m *mockTableService) OpenTable(ctx context.Context, req orderbook.OpenRequest, actor auth.Actor) (orderbook.Order, error) {
	if m.openFn != nil {
		return m.openFn(ctx, req, actor)
	}
	return orderbook.Order{TableID: req.TableID, Status: enum.OrderStatusOpen}, nil
}

func (m *mockTableService) AddBatchItems(ctx context.Context, tableID string, inputs []orderbook.ItemInput, actor auth.Actor) ([]orderbook.Item, error) {
	if m.addItemsFn != nil {
		return m.addItemsFn(ctx, tableID, inputs, actor)
	}
	return []orderbook.Item{}, nil
}

func (m *mockTableService) RemoveItem(ctx context.Context, req orderbook.RemoveRequest, actor auth.Actor) (orderbook.Item, error) {
	if m.removeItemFn != nil {
		return m.removeItemFn(ctx, req, actor)
	}
	return orderbook.Item{}, nil
}

func (m *mockTableService) SetKitchenStatus(context.Context, string, string, string) (orderbook.Item, error) {
	return orderbook.Item{}, nil
}

func (m *mockTableService) MarkPrinted(context.Context, string, []string) error { return nil }

func (m *mockTableService) AddPartialPayment(ctx context.Context, tableID string, pay orderbook.Payment, actor auth.Actor) (orderbook.PartialPayment, error) {
	if m.partialFn != nil {
		return m.partialFn(ctx, tableID, pay, actor)
	}
	return orderbook.PartialPayment{}, nil
}

func (m *mockTableService) VoidPartialPayment(context.Context, string, string, auth.Actor) (ledger.Transaction, error) {
	return ledger.Transaction{}, nil
}

func (m *mockTableService) CloseOrder(ctx context.Context, req orderbook.CloseRequest, actor auth.Actor) (orderbook.CloseResult, error) {
	if m.closeFn != nil {
		return m.closeFn(ctx, req, actor)
	}
	return orderbook.CloseResult{}, nil
}

func (m *mockTableService) CancelTable(ctx context.Context, tableID, reason, password string, actor auth.Actor) error {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, tableID, reason, password, actor)
	}
	return nil
}

func (m *mockTableService) PullBill(context.Context, string, auth.Actor) (orderbook.TableView, error) {
	return orderbook.TableView{}, nil
}

func (m *mockTableService) UnlockTable(context.Context, string, string, auth.Actor) (orderbook.Order, error) {
	return orderbook.Order{}, nil
}

func (m *mockTableService) TransferItem(context.Context, orderbook.TransferItemRequest, auth.Actor) (orderbook.Item, error) {
	return orderbook.Item{}, nil
}

func (m *mockTableService) TransferTable(ctx context.Context, src, dst string, actor auth.Actor) (orderbook.Order, error) {
	if m.transferTableFn != nil {
		return m.transferTableFn(ctx, src, dst, actor)
	}
	return orderbook.Order{}, nil
}

func (m *mockTableService) CancelTransfer(context.Context, string, auth.Actor) (orderbook.Order, error) {
	return orderbook.Order{}, nil
}

func (m *mockTableService) TransferToRoom(ctx context.Context, req orderbook.RoomTransferRequest, actor auth.Actor) ([]billing.Charge, error) {
	if m.transferRoomFn != nil {
		return m.transferRoomFn(ctx, req, actor)
	}
	return []billing.Charge{}, nil
}

func (m *mockTableService) Settings() orderbook.Settings { return orderbook.Settings{} }

func (m *mockTableService) SetLiveMusic(context.Context, bool, auth.Actor) (orderbook.Settings, []string, error) {
	return orderbook.Settings{LiveMusicActive: true}, []string{"7"}, nil
}

// --- Helpers ---

var waiter = &auth.Claims{Username: "joao", Role: enum.RoleGarcom}

func tableRouter(svc handler.TableService) chi.Router {
	r := chi.NewRouter()
	r.Route("/tables", handler.NewTableHandler(svc).RegisterRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if claims != nil {
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	code, _ := body["code"].(string)
	return code
}

// --- Tests ---

func TestOpenTable_PassesActor(t *testing.T) {
	var got auth.Actor
	svc := &mockTableService{openFn: func(_ context.Context, req orderbook.OpenRequest, a auth.Actor) (orderbook.Order, error) {
		got = a
		return orderbook.Order{TableID: req.TableID, Status: enum.OrderStatusOpen, NumAdults: req.NumAdults}, nil
	}}

	rr := do(t, tableRouter(svc), "POST", "/tables", map[string]any{"table_id": "12", "num_adults": 2}, waiter)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "joao", got.Username)
	var o orderbook.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &o))
	assert.Equal(t, "12", o.TableID)
}

func TestOpenTable_MissingTableID(t *testing.T) {
	rr := do(t, tableRouter(&mockTableService{}), "POST", "/tables", map[string]any{"num_adults": 2}, waiter)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperr.CodeValidation, errorCode(t, rr))
}

func TestOpenTable_InvalidBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/tables", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	tableRouter(&mockTableService{}).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetTable_NotFound(t *testing.T) {
	rr := do(t, tableRouter(&mockTableService{}), "GET", "/tables/99", nil, waiter)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apperr.CodeNotFound, errorCode(t, rr))
}

func TestAddItems_RequiresAtLeastOne(t *testing.T) {
	rr := do(t, tableRouter(&mockTableService{}), "POST", "/tables/5/items", map[string]any{"items": []any{}}, waiter)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAddItems_ItemInvalidCarriesDetails(t *testing.T) {
	svc := &mockTableService{addItemsFn: func(context.Context, string, []orderbook.ItemInput, auth.Actor) ([]orderbook.Item, error) {
		return nil, apperr.ValidationCode(apperr.CodeItemInvalid, "invalid items").WithDetail("risoto", "missing answer")
	}}

	rr := do(t, tableRouter(svc), "POST", "/tables/5/items", map[string]any{"items": []map[string]any{{"product": "risoto", "qty": "1"}}}, waiter)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var body struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, apperr.CodeItemInvalid, body.Code)
	assert.Equal(t, "missing answer", body.Details["risoto"])
}

func TestRemoveItem_BuildsRequestFromPath(t *testing.T) {
	var got orderbook.RemoveRequest
	svc := &mockTableService{removeItemFn: func(_ context.Context, req orderbook.RemoveRequest, _ auth.Actor) (orderbook.Item, error) {
		got = req
		return orderbook.Item{ID: req.ItemID}, nil
	}}

	rr := do(t, tableRouter(svc), "POST", "/tables/5/items/it-1/remove", map[string]any{"reason": "cliente desistiu", "auth_password": "x"}, waiter)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "5", got.TableID)
	assert.Equal(t, "it-1", got.ItemID)
	assert.Equal(t, "x", got.AuthPassword)
}

func TestRemoveItem_AuthRequiredIsForbidden(t *testing.T) {
	svc := &mockTableService{removeItemFn: func(context.Context, orderbook.RemoveRequest, auth.Actor) (orderbook.Item, error) {
		return orderbook.Item{}, apperr.ErrAuthRequired
	}}
	rr := do(t, tableRouter(svc), "POST", "/tables/5/items/it-1/remove", map[string]any{"reason": "erro"}, waiter)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, apperr.CodeAuthRequired, errorCode(t, rr))
}

func TestClose_MapsBody(t *testing.T) {
	var got orderbook.CloseRequest
	svc := &mockTableService{closeFn: func(_ context.Context, req orderbook.CloseRequest, _ auth.Actor) (orderbook.CloseResult, error) {
		got = req
		return orderbook.CloseResult{Change: decimal.RequireFromString("5")}, nil
	}}

	rr := do(t, tableRouter(svc), "POST", "/tables/5/close", map[string]any{
		"payments":           []map[string]any{{"method": "Dinheiro", "amount": "170"}},
		"remove_service_fee": true,
	}, waiter)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "5", got.TableID)
	require.Len(t, got.Payments, 1)
	assert.Equal(t, "Dinheiro", got.Payments[0].Method)
	assert.True(t, got.RemoveServiceFee)
}

func TestClose_Conflicts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"underpaid", apperr.Conflict(apperr.CodeUnderpaid, "short"), apperr.CodeUnderpaid},
		{"payment bound", apperr.ErrPaymentBound, apperr.CodePaymentBound},
		{"no session", apperr.ErrNoOpenSession, apperr.CodeNoOpenSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTableService{closeFn: func(context.Context, orderbook.CloseRequest, auth.Actor) (orderbook.CloseResult, error) {
				return orderbook.CloseResult{}, tt.err
			}}
			rr := do(t, tableRouter(svc), "POST", "/tables/5/close", map[string]any{"payments": []any{}}, waiter)
			assert.Equal(t, http.StatusConflict, rr.Code)
			assert.Equal(t, tt.code, errorCode(t, rr))
		})
	}
}

func TestClose_NegativeDiscountRejected(t *testing.T) {
	rr := do(t, tableRouter(&mockTableService{}), "POST", "/tables/5/close", map[string]any{"discount": "-1"}, waiter)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLockTimeoutIsUnavailable(t *testing.T) {
	svc := &mockTableService{partialFn: func(context.Context, string, orderbook.Payment, auth.Actor) (orderbook.PartialPayment, error) {
		return orderbook.PartialPayment{}, apperr.ErrLockTimeout
	}}
	rr := do(t, tableRouter(svc), "POST", "/tables/5/partial-payments", map[string]any{"method": "Pix", "amount": "10"}, waiter)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestInternalErrorIsNotEchoed(t *testing.T) {
	svc := &mockTableService{listFn: func() ([]orderbook.Order, error) {
		return nil, apperr.Internal("read tables", assert.AnError)
	}}
	rr := do(t, tableRouter(svc), "GET", "/tables", nil, waiter)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), assert.AnError.Error())
}

func TestCancel_RequiresReason(t *testing.T) {
	called := false
	svc := &mockTableService{cancelFn: func(context.Context, string, string, string, auth.Actor) error {
		called = true
		return nil
	}}
	rr := do(t, tableRouter(svc), "POST", "/tables/5/cancel", map[string]any{}, waiter)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, called)

	rr = do(t, tableRouter(svc), "POST", "/tables/5/cancel", map[string]any{"reason": "mesa aberta por engano"}, waiter)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, called)
}

func TestTransferToRoom(t *testing.T) {
	var got orderbook.RoomTransferRequest
	svc := &mockTableService{transferRoomFn: func(_ context.Context, req orderbook.RoomTransferRequest, _ auth.Actor) ([]billing.Charge, error) {
		got = req
		return []billing.Charge{{ID: "CHG_1", RoomNumber: req.RoomNumber}}, nil
	}}

	rr := do(t, tableRouter(svc), "POST", "/tables/5/transfer-to-room", map[string]any{"room_number": 22}, waiter)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "5", got.TableID)
	assert.Equal(t, "22", got.RoomNumber.String())
}

func TestTransferTable_OccupiedTarget(t *testing.T) {
	svc := &mockTableService{transferTableFn: func(context.Context, string, string, auth.Actor) (orderbook.Order, error) {
		return orderbook.Order{}, apperr.Conflict(apperr.CodeTableLocked, "target locked")
	}}
	rr := do(t, tableRouter(svc), "POST", "/tables/5/transfer", map[string]any{"target": "6"}, waiter)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apperr.CodeTableLocked, errorCode(t, rr))
}

func TestLiveMusic(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/settings", handler.NewTableHandler(&mockTableService{}).RegisterSettingsRoutes)

	rr := do(t, r, "PUT", "/settings/live-music", map[string]any{"active": true}, &auth.Claims{Username: "chefe", Role: enum.RoleGerente})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"cover_charged":["7"]`)
}

func TestLiveMusic_WaiterForbidden(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/settings", handler.NewTableHandler(&mockTableService{}).RegisterSettingsRoutes)

	rr := do(t, r, "PUT", "/settings/live-music", map[string]any{"active": true}, waiter)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
