package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/fiscal"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/room"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// --- Mock implementations ---

type mockFiscal struct {
	mu        sync.Mutex
	entries   []fiscal.Entry
	enqueueFn func(e fiscal.Entry) error
}

func (m *mockFiscal) Enqueue(_ context.Context, e fiscal.Entry) (fiscal.Entry, error) {
	if m.enqueueFn != nil {
		if err := m.enqueueFn(e); err != nil {
			return fiscal.Entry{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return e, nil
}

type mockNotifier struct {
	mu    sync.Mutex
	kinds []string
	rooms []string
}

func (m *mockNotifier) NotifyGuest(_ context.Context, room, _, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = append(m.rooms, room)
	m.kinds = append(m.kinds, kind)
}

type mockRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *mockRecorder) Record(_ context.Context, e audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

// --- Test helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	book     *Book
	ledger   *ledger.Ledger
	docs     *store.Store
	fiscal   *mockFiscal
	notifier *mockNotifier
	audit    *mockRecorder
}

var (
	reception = auth.Actor{Username: "recep1", Role: enum.RoleRecepcao}
	admin     = auth.Actor{Username: "admin", Role: enum.RoleAdmin}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs, err := store.New(store.Options{Dir: t.TempDir(), LockTimeout: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, docs.Write(catalog.PaymentMethodsKey, []catalog.PaymentMethod{
		{ID: "dinheiro", Name: "Dinheiro", AvailableIn: []string{"restaurant", "reception"}},
		{ID: "pix", Name: "Pix", AvailableIn: []string{"restaurant", "reception"}, IsFiscal: true},
		{ID: "credito", Name: "Cartão de Crédito", AvailableIn: []string{"reception"}, IsFiscal: true},
		{ID: "vale", Name: "Vale Refeição", AvailableIn: []string{"restaurant"}},
	}))
	c := &clock.Fixed{T: time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)}
	ids := &clock.Sequence{Prefix: "id"}
	l := ledger.New(docs, c, ids, nil, nil)
	f := &fixture{ledger: l, docs: docs, fiscal: &mockFiscal{}, notifier: &mockNotifier{}, audit: &mockRecorder{}}
	f.book = New(Deps{
		Docs:     docs,
		Clock:    c,
		IDs:      ids,
		Cashier:  l,
		Methods:  catalog.NewMethods(docs),
		Fiscal:   f.fiscal,
		Notifier: f.notifier,
		Audit:    f.audit,
	})
	_, err = l.OpenSession(context.Background(), enum.SessionGuestConsumption, "recep1", dec("500"))
	require.NoError(t, err)
	return f
}

func restaurantCharge(number string, wb money.Breakdown, subtotal, fee string) Charge {
	return Charge{
		RoomNumber:      room.Number(number),
		Source:          enum.SourceRestaurant,
		Subtotal:        dec(subtotal),
		ServiceFee:      dec(fee),
		WaiterBreakdown: wb,
		Items: []ChargeItem{
			{ID: "i1", Name: "Moqueca", Price: dec(subtotal), Qty: dec("1"), Waiter: "ana"},
		},
	}
}

func guestTxns(t *testing.T, l *ledger.Ledger) []ledger.Transaction {
	t.Helper()
	s, ok := l.ActiveSession(enum.SessionGuestConsumption)
	require.True(t, ok)
	return s.Transactions
}

// --- Charges ---

func TestAddCharge_CanonicalRoomAndTotals(t *testing.T) {
	f := newFixture(t)
	c, err := f.book.AddCharge(context.Background(), restaurantCharge("022", money.Breakdown{"ana": dec("100")}, "150", "15"))
	require.NoError(t, err)

	assert.Equal(t, room.Number("22"), c.RoomNumber)
	assert.Equal(t, enum.ChargeStatusPending, c.Status)
	assert.True(t, c.Total.Equal(dec("165")))
	assert.Contains(t, c.ID, "CHG_")
	assert.Equal(t, []string{"charge_added"}, f.notifier.kinds)

	pending := f.book.ListPending("22")
	require.Len(t, pending, 1)
	assert.Len(t, f.book.ListPending(" 022 "), 1)
	assert.Empty(t, f.book.ListPending("23"))
}

func TestAddCharge_RequiresRoom(t *testing.T) {
	f := newFixture(t)
	_, err := f.book.AddCharge(context.Background(), Charge{Total: dec("10")})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestListPending_ToleratesIntegerRoomNumbers(t *testing.T) {
	f := newFixture(t)
	raw := []map[string]any{
		{"id": "CHG_legacy", "room_number": 33, "status": "pending", "total": 20, "subtotal": 20, "service_fee": 0, "items": []any{}, "source": "manual"},
	}
	require.NoError(t, f.docs.Write(ChargesKey, raw))

	for _, q := range []string{"33", "033", " 33 "} {
		got := f.book.ListPending(q)
		require.Len(t, got, 1, q)
		assert.Equal(t, "CHG_legacy", got[0].ID)
	}
}

// --- Settlement ---

func TestCloseAccount_PreservesWaiterBreakdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.AddCharge(ctx, restaurantCharge("22", money.Breakdown{"A": dec("10"), "B": dec("5")}, "150", "15"))
	require.NoError(t, err)

	res, err := f.book.CloseAccount(ctx, "022", []Payment{{Method: "Dinheiro", Amount: dec("165")}}, reception)
	require.NoError(t, err)

	require.Len(t, res.Transactions, 1)
	txn := res.Transactions[0]
	assert.Equal(t, enum.TxnSale, txn.Type)
	assert.True(t, txn.Amount.Equal(dec("165")))
	assert.Equal(t, enum.CategoryRoomPayment, txn.Category)
	assert.Equal(t, "Pagamento Quarto 22 (Dinheiro)", txn.Description)
	assert.True(t, txn.WaiterBreakdown["A"].Equal(dec("10")))
	assert.True(t, txn.WaiterBreakdown["B"].Equal(dec("5")))

	stored := guestTxns(t, f.ledger)
	require.Len(t, stored, 1)
	assert.Equal(t, txn.ID, stored[0].ID)

	got, err := f.book.GetCharge(res.Charges[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enum.ChargeStatusPaid, got.Status)
	assert.Equal(t, "Dinheiro", got.PaymentMethod)
	assert.Equal(t, res.PaymentGroupID, got.PaymentGroupID)
	assert.Empty(t, f.fiscal.entries)
	assert.Contains(t, f.audit.actions(), "Fechamento de Conta")
}

func TestCloseAccount_SplitsAcrossChargesAndMethods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.AddCharges(ctx, []Charge{
		restaurantCharge("10", money.Breakdown{"A": dec("60"), "B": dec("40")}, "100", "10"),
		{RoomNumber: "10", Source: enum.SourceMinibar, Subtotal: dec("20"), Items: []ChargeItem{{Name: "Água", Price: dec("10"), Qty: dec("2")}}},
	})
	require.NoError(t, err)

	res, err := f.book.CloseAccount(ctx, "10", []Payment{
		{Method: "pix", Amount: dec("50")},
		{Method: "Dinheiro", Amount: dec("100")},
	}, reception)
	require.NoError(t, err)

	// charge 1 (110): 50 pix + 60 cash; charge 2 (20): 20 cash
	require.Len(t, res.Transactions, 3)
	assert.True(t, res.Transactions[0].Amount.Equal(dec("50")))
	assert.True(t, res.Transactions[1].Amount.Equal(dec("60")))
	assert.True(t, res.Transactions[2].Amount.Equal(dec("20")))
	assert.True(t, res.Change.Equal(dec("20")))
	require.NotNil(t, res.Transactions[2].Details.Change)

	perWaiter := money.Breakdown{}
	for _, txn := range res.Transactions {
		assert.Equal(t, res.PaymentGroupID, txn.Details.PaymentGroupID)
		perWaiter.Add(txn.WaiterBreakdown)
	}
	assert.True(t, perWaiter["A"].Equal(dec("60")))
	assert.True(t, perWaiter["B"].Equal(dec("40")))

	require.Len(t, f.fiscal.entries, 1)
	e := f.fiscal.entries[0]
	assert.Equal(t, enum.OriginReception, e.Origin)
	assert.Equal(t, "CHARGE_"+res.Charges[0].ID, e.OriginalID)
	assert.Equal(t, "Múltiplo", res.Charges[0].PaymentMethod)
	assert.Empty(t, f.book.ListPending("10"))
}

func TestCloseAccount_ChangeStaysOnCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.AddCharge(ctx, restaurantCharge("22", nil, "100", "10"))
	require.NoError(t, err)

	res, err := f.book.CloseAccount(ctx, "22", []Payment{
		{Method: "Dinheiro", Amount: dec("100")},
		{Method: "pix", Amount: dec("20")},
	}, reception)
	require.NoError(t, err)

	assert.True(t, res.Change.Equal(dec("10")))
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "Pix", res.Transactions[0].PaymentMethod)
	assert.True(t, res.Transactions[0].Amount.Equal(dec("20")))
	assert.Nil(t, res.Transactions[0].Details.Change)
	assert.Equal(t, "Dinheiro", res.Transactions[1].PaymentMethod)
	assert.True(t, res.Transactions[1].Amount.Equal(dec("90")))
	require.NotNil(t, res.Transactions[1].Details.Change)

	s, ok := f.ledger.ActiveSession(enum.SessionGuestConsumption)
	require.True(t, ok)
	assert.True(t, ledger.CashBalance(s).Equal(dec("590")), "drawer: %s", ledger.CashBalance(s))

	require.Len(t, f.fiscal.entries, 1)
	for _, p := range f.fiscal.entries[0].PaymentMethods {
		if p.Method == "Pix" {
			assert.True(t, p.Amount.Equal(dec("20")))
		}
	}
}

func TestCloseAccount_NonCashOverpaymentIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.AddCharge(ctx, restaurantCharge("22", nil, "100", "10"))
	require.NoError(t, err)

	_, err = f.book.CloseAccount(ctx, "22", []Payment{
		{Method: "Dinheiro", Amount: dec("10")},
		{Method: "credito", Amount: dec("115")},
	}, reception)
	assert.Equal(t, apperr.CodeOverpaid, apperr.CodeOf(err))
	assert.Empty(t, guestTxns(t, f.ledger))
	assert.Len(t, f.book.ListPending("22"), 1)
}

func TestCloseAccount_Underpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.AddCharge(ctx, restaurantCharge("5", nil, "100", "10"))
	require.NoError(t, err)

	_, err = f.book.CloseAccount(ctx, "5", []Payment{{Method: "Dinheiro", Amount: dec("109.98")}}, reception)
	assert.Equal(t, apperr.CodeUnderpaid, apperr.CodeOf(err))
	assert.Empty(t, guestTxns(t, f.ledger))
	assert.Len(t, f.book.ListPending("5"), 1)
}

func TestCloseAccount_MethodNotAvailableAtReception(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.AddCharge(ctx, restaurantCharge("5", nil, "10", "0"))
	require.NoError(t, err)

	_, err = f.book.CloseAccount(ctx, "5", []Payment{{Method: "vale", Amount: dec("10")}}, reception)
	assert.Equal(t, apperr.CodeMethodInvalid, apperr.CodeOf(err))
}

func TestCloseAccount_NoOpenSessionLeavesChargesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.AddCharge(ctx, restaurantCharge("5", nil, "10", "0"))
	require.NoError(t, err)
	s, _ := f.ledger.ActiveSession(enum.SessionGuestConsumption)
	_, err = f.ledger.CloseSession(ctx, s.ID, "recep1", dec("500"))
	require.NoError(t, err)

	_, err = f.book.CloseAccount(ctx, "5", []Payment{{Method: "Dinheiro", Amount: dec("10")}}, reception)
	assert.True(t, errors.Is(err, apperr.ErrNoOpenSession))
	assert.Len(t, f.book.ListPending("5"), 1)
}

func TestCloseAccount_NothingPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.book.CloseAccount(context.Background(), "99", []Payment{{Method: "Dinheiro", Amount: dec("1")}}, reception)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCloseAccount_FiscalFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fiscal.enqueueFn = func(fiscal.Entry) error { return errors.New("pool down") }
	_, err := f.book.AddCharge(ctx, restaurantCharge("7", nil, "30", "0"))
	require.NoError(t, err)

	_, err = f.book.CloseAccount(ctx, "7", []Payment{{Method: "pix", Amount: dec("30")}}, reception)
	require.NoError(t, err)
	assert.Len(t, guestTxns(t, f.ledger), 1)
	assert.Contains(t, f.audit.actions(), "Falha Fiscal")
}

func TestPayCharge_ExactAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.book.AddCharge(ctx, restaurantCharge("8", money.Breakdown{"ana": dec("40")}, "40", "4"))
	require.NoError(t, err)
	_, err = f.book.AddCharge(ctx, restaurantCharge("8", nil, "10", "0"))
	require.NoError(t, err)

	_, err = f.book.PayCharge(ctx, a.ID, []Payment{{Method: "Dinheiro", Amount: dec("50")}}, reception)
	assert.Equal(t, apperr.CodeOverpaid, apperr.CodeOf(err))

	res, err := f.book.PayCharge(ctx, a.ID, []Payment{
		{Method: "Dinheiro", Amount: dec("20")},
		{Method: "credito", Amount: dec("24")},
	}, reception)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	sum := money.Breakdown{}
	for _, txn := range res.Transactions {
		sum.Add(txn.WaiterBreakdown)
	}
	assert.True(t, sum["ana"].Equal(dec("40")))
	assert.Len(t, f.book.ListPending("8"), 1)

	_, err = f.book.PayCharge(ctx, a.ID, []Payment{{Method: "Dinheiro", Amount: dec("44")}}, reception)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCloseAccount_ConcurrentSettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.AddCharge(ctx, restaurantCharge("12", nil, "50", "5"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.book.CloseAccount(ctx, "12", []Payment{{Method: "Dinheiro", Amount: dec("55")}}, reception); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Len(t, guestTxns(t, f.ledger), 1)
}

// --- Cancellation and return ---

func TestCancelCharge_AdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.book.AddCharge(ctx, restaurantCharge("3", nil, "10", "1"))
	require.NoError(t, err)

	_, err = f.book.CancelCharge(ctx, c.ID, "erro", auth.Actor{Username: "g", Role: enum.RoleGerente})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	assert.Contains(t, f.audit.actions(), "Cancelamento Negado")

	_, err = f.book.CancelCharge(ctx, c.ID, " ", admin)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := f.book.CancelCharge(ctx, c.ID, "lançado em duplicidade", admin)
	require.NoError(t, err)
	assert.Equal(t, enum.ChargeStatusCancelled, got.Status)
	assert.Equal(t, "admin", got.CanceledBy)
	assert.Contains(t, f.notifier.kinds, "charge_cancelled")

	_, err = f.book.CancelCharge(ctx, c.ID, "de novo", admin)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestTakePendingAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.book.AddCharge(ctx, restaurantCharge("4", nil, "10", "1"))
	require.NoError(t, err)

	taken, err := f.book.TakePending(ctx, c.ID, reception)
	require.NoError(t, err)
	assert.Equal(t, c.ID, taken.ID)
	assert.Empty(t, f.book.ListPending("4"))

	_, err = f.book.TakePending(ctx, c.ID, reception)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	require.NoError(t, f.book.Restore(ctx, c.ID))
	assert.Len(t, f.book.ListPending("4"), 1)
}

func TestListCharges_ByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.book.AddCharge(ctx, restaurantCharge("1", nil, "10", "0"))
	require.NoError(t, err)
	_, err = f.book.AddCharge(ctx, restaurantCharge("2", nil, "10", "0"))
	require.NoError(t, err)
	_, err = f.book.CancelCharge(ctx, a.ID, "x", admin)
	require.NoError(t, err)

	assert.Len(t, f.book.ListCharges(""), 2)
	assert.Len(t, f.book.ListCharges(enum.ChargeStatusPending), 1)
	assert.Len(t, f.book.ListCharges(enum.ChargeStatusCancelled), 1)
	assert.True(t, f.book.PendingTotal("2").Equal(dec("10")))
}

// --- Allocation ---

func TestAllocate_Waterfall(t *testing.T) {
	cash := catalog.PaymentMethod{ID: "dinheiro", Name: "Dinheiro"}
	pix := catalog.PaymentMethod{ID: "pix", Name: "Pix"}
	pieces := allocate(
		[]decimal.Decimal{dec("30"), dec("70")},
		[]tender{{method: pix, amount: dec("40")}, {method: cash, amount: dec("60")}},
	)
	require.Len(t, pieces, 3)
	assert.Equal(t, 0, pieces[0].charge)
	assert.True(t, pieces[0].amount.Equal(dec("30")))
	assert.Equal(t, "pix", pieces[1].method.ID)
	assert.True(t, pieces[1].amount.Equal(dec("10")))
	assert.Equal(t, "dinheiro", pieces[2].method.ID)
	assert.True(t, pieces[2].amount.Equal(dec("60")))
}

func TestSplitBreakdown_Conserves(t *testing.T) {
	wb := money.Breakdown{"A": dec("33.33"), "B": dec("66.67")}
	pieces := []piece{{amount: dec("36.67")}, {amount: dec("36.67")}, {amount: dec("36.66")}}
	shares := splitBreakdown(wb, pieces, dec("110"))
	sum := money.Breakdown{}
	for _, s := range shares {
		sum.Add(s)
	}
	assert.True(t, sum["A"].Equal(dec("33.33")))
	assert.True(t, sum["B"].Equal(dec("66.67")))
}
