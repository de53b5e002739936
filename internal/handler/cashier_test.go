package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/handler"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
)

// --- Mock CashierService ---

type mockCashier struct {
	openFn     func(ctx context.Context, typ, user string, opening decimal.Decimal) (ledger.Session, error)
	activeFn   func(typ string) (ledger.Session, bool)
	addFn      func(ctx context.Context, typ string, txn ledger.Transaction) (ledger.Transaction, error)
	transferFn func(ctx context.Context, req ledger.TransferRequest) (ledger.Transfer, error)
	reverseFn  func(ctx context.Context, typ, txnID, description, user string) (ledger.Transaction, error)
}

func (m *mockCashier) OpenSession(ctx context.Context, typ, user string, opening decimal.Decimal) (ledger.Session, error) {
	if m.openFn != nil {
		return m.openFn(ctx, typ, user, opening)
	}
	return ledger.Session{}, nil
}

func (m *mockCashier) ActiveSession(typ string) (ledger.Session, bool) {
	if m.activeFn != nil {
		return m.activeFn(typ)
	}
	return ledger.Session{}, false
}

func (m *mockCashier) SessionByID(string) (ledger.Session, bool) { return ledger.Session{}, false }

func (m *mockCashier) History(ledger.HistoryFilter) ([]ledger.Session, error) {
	return []ledger.Session{}, nil
}

func (m *mockCashier) CloseSession(context.Context, string, string, decimal.Decimal) (ledger.Session, error) {
	return ledger.Session{}, nil
}

func (m *mockCashier) AddTransaction(ctx context.Context, typ string, txn ledger.Transaction) (ledger.Transaction, error) {
	if m.addFn != nil {
		return m.addFn(ctx, typ, txn)
	}
	return txn, nil
}

func (m *mockCashier) ReverseTransaction(ctx context.Context, typ, txnID, description, user string) (ledger.Transaction, error) {
	if m.reverseFn != nil {
		return m.reverseFn(ctx, typ, txnID, description, user)
	}
	return ledger.Transaction{}, nil
}

func (m *mockCashier) TransferEligibility(string, string) error { return nil }

func (m *mockCashier) TransferFunds(ctx context.Context, req ledger.TransferRequest) (ledger.Transfer, error) {
	if m.transferFn != nil {
		return m.transferFn(ctx, req)
	}
	return ledger.Transfer{}, nil
}

func (m *mockCashier) ReverseTransfer(context.Context, string, string) (ledger.Transfer, error) {
	return ledger.Transfer{}, nil
}

// --- Helpers ---

var cashierUser = &auth.Claims{Username: "caixa1", Role: enum.RoleCaixa}

func cashierRouter(svc handler.CashierService) chi.Router {
	r := chi.NewRouter()
	r.Route("/cashier", handler.NewCashierHandler(svc).RegisterRoutes)
	return r
}

// --- Tests ---

func TestOpenSession_UsesActorAsOpener(t *testing.T) {
	var gotUser string
	svc := &mockCashier{openFn: func(_ context.Context, typ, user string, opening decimal.Decimal) (ledger.Session, error) {
		gotUser = user
		return ledger.Session{ID: "S1", Type: typ, OpeningBalance: opening, Status: enum.SessionStatusOpen}, nil
	}}

	rr := do(t, cashierRouter(svc), "POST", "/cashier/sessions", map[string]any{"type": "restaurant_service", "opening_balance": "200"}, cashierUser)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "caixa1", gotUser)
	var body struct {
		Expected string `json:"expected"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "200", body.Expected)
}

func TestOpenSession_Conflict(t *testing.T) {
	svc := &mockCashier{openFn: func(context.Context, string, string, decimal.Decimal) (ledger.Session, error) {
		return ledger.Session{}, apperr.ErrSessionConflict
	}}
	rr := do(t, cashierRouter(svc), "POST", "/cashier/sessions", map[string]any{"type": "restaurant"}, cashierUser)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apperr.CodeSessionConflict, errorCode(t, rr))
}

func TestActiveSession_CanonicalizesLegacyType(t *testing.T) {
	var asked string
	svc := &mockCashier{activeFn: func(typ string) (ledger.Session, bool) {
		asked = typ
		return ledger.Session{ID: "S2", Type: typ}, true
	}}
	rr := do(t, cashierRouter(svc), "GET", "/cashier/sessions/active/reception_room_billing", nil, cashierUser)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, enum.SessionGuestConsumption, asked)
}

func TestActiveSession_NoneOpen(t *testing.T) {
	rr := do(t, cashierRouter(&mockCashier{}), "GET", "/cashier/sessions/active/restaurant", nil, cashierUser)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apperr.CodeNoOpenSession, errorCode(t, rr))
}

func TestAddTransaction_ManualReceiptDefaultCategory(t *testing.T) {
	var got ledger.Transaction
	svc := &mockCashier{addFn: func(_ context.Context, _ string, txn ledger.Transaction) (ledger.Transaction, error) {
		got = txn
		return txn, nil
	}}

	rr := do(t, cashierRouter(svc), "POST", "/cashier/guest_consumption/transactions", map[string]any{
		"type": "in", "amount": "30", "payment_method": "Pix", "description": "Recebimento avulso",
	}, cashierUser)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, enum.CategoryManualReceipt, got.Category)
	assert.Equal(t, "caixa1", got.User)
}

func TestAddTransaction_RejectsSaleType(t *testing.T) {
	rr := do(t, cashierRouter(&mockCashier{}), "POST", "/cashier/restaurant/transactions", map[string]any{
		"type": "sale", "amount": "30", "payment_method": "Pix", "description": "x",
	}, cashierUser)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAddTransaction_InsufficientCash(t *testing.T) {
	svc := &mockCashier{addFn: func(context.Context, string, ledger.Transaction) (ledger.Transaction, error) {
		return ledger.Transaction{}, apperr.Conflict(apperr.CodeInsufficientCash, "drawer short")
	}}
	rr := do(t, cashierRouter(svc), "POST", "/cashier/restaurant/transactions", map[string]any{
		"type": "withdrawal", "amount": "900", "payment_method": "Dinheiro", "description": "Sangria",
	}, cashierUser)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apperr.CodeInsufficientCash, errorCode(t, rr))
}

func TestReverse_PassesReason(t *testing.T) {
	var gotTxn, gotReason string
	svc := &mockCashier{reverseFn: func(_ context.Context, _, txnID, description, _ string) (ledger.Transaction, error) {
		gotTxn, gotReason = txnID, description
		return ledger.Transaction{ID: "TX_R"}, nil
	}}
	rr := do(t, cashierRouter(svc), "POST", "/cashier/restaurant/transactions/TX_1/reverse", map[string]any{"reason": "lançado em dobro"}, cashierUser)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "TX_1", gotTxn)
	assert.Equal(t, "lançado em dobro", gotReason)
}

func TestTransfer_RequiresPositiveAmount(t *testing.T) {
	rr := do(t, cashierRouter(&mockCashier{}), "POST", "/cashier/transfers", map[string]any{
		"source_type": "restaurant", "target_type": "reception", "amount": "0",
	}, cashierUser)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTransfer_MapsRequest(t *testing.T) {
	var got ledger.TransferRequest
	svc := &mockCashier{transferFn: func(_ context.Context, req ledger.TransferRequest) (ledger.Transfer, error) {
		got = req
		return ledger.Transfer{DocumentID: "DOC1"}, nil
	}}
	rr := do(t, cashierRouter(svc), "POST", "/cashier/transfers", map[string]any{
		"source_type": "restaurant", "target_type": "reception", "amount": "50",
	}, cashierUser)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "caixa1", got.User)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(50)))
}
