package commission

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
)

// --- Mock implementations ---

type mockSource struct {
	sessions []ledger.Session
}

func (m *mockSource) Sessions() []ledger.Session { return m.sessions }

type mockRecorder struct {
	entries []audit.Entry
}

func (m *mockRecorder) Record(_ context.Context, e audit.Entry) { m.entries = append(m.entries, e) }

// --- Test helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var day = time.Date(2026, 4, 10, 20, 0, 0, 0, time.UTC)

func sale(id, amount, waiter string, bd money.Breakdown) ledger.Transaction {
	return ledger.Transaction{
		ID: id, Type: enum.TxnSale, Amount: dec(amount), PaymentMethod: "Dinheiro",
		Description: "Venda Mesa 5", Category: enum.CategoryRestaurantSale,
		Timestamp: day, Waiter: waiter, WaiterBreakdown: bd,
	}
}

func session(txns ...ledger.Transaction) []ledger.Session {
	return []ledger.Session{{ID: "s1", Type: enum.SessionRestaurant, Status: enum.SessionStatusOpen, Transactions: txns}}
}

func amounts(r Ranking) map[string]string {
	out := map[string]string{}
	for _, e := range r.Entries {
		out[e.Waiter] = e.Amount.StringFixed(2)
	}
	return out
}

// --- Compute ---

func TestCompute_OrdersByAmountThenName(t *testing.T) {
	r := Compute(session(
		sale("t1", "50", "bruno", nil),
		sale("t2", "80", "ana", nil),
		sale("t3", "50", "alice", nil),
	), time.Time{}, time.Time{})

	require.Len(t, r.Entries, 3)
	assert.Equal(t, "ana", r.Entries[0].Waiter)
	assert.Equal(t, "alice", r.Entries[1].Waiter)
	assert.Equal(t, "bruno", r.Entries[2].Waiter)
	assert.True(t, r.Base.Equal(dec("180")))
}

func TestCompute_UsesBreakdownWhenPresent(t *testing.T) {
	r := Compute(session(
		sale("t1", "165", "ana", money.Breakdown{"ana": dec("110"), "bia": dec("55")}),
		sale("t2", "20", "", nil),
	), time.Time{}, time.Time{})

	assert.Equal(t, map[string]string{"ana": "110.00", "bia": "55.00", unattributed: "20.00"}, amounts(r))
}

func TestCompute_SkipsPartialPaymentsAndTransfers(t *testing.T) {
	partial := sale("t1", "40", "ana", nil)
	partial.Category = enum.CategoryPartialPayment
	partial.Details.PartialPayment = true
	transfer := ledger.Transaction{ID: "t2", Type: enum.TxnTransfer, Amount: dec("300"), Category: enum.CategoryTransferReceived, Timestamp: day, Waiter: "ana"}
	out := ledger.Transaction{ID: "t3", Type: enum.TxnOut, Amount: dec("10"), Timestamp: day, Waiter: "ana"}

	r := Compute(session(partial, transfer, out, sale("t4", "100", "ana", nil)), time.Time{}, time.Time{})

	assert.Equal(t, map[string]string{"ana": "100.00"}, amounts(r))
}

func TestCompute_CountsReceptionReceipts(t *testing.T) {
	roomPay := ledger.Transaction{
		ID: "r1", Type: enum.TxnIn, Amount: dec("66"), Category: enum.CategoryRoomPayment, Timestamp: day,
		WaiterBreakdown: money.Breakdown{"ana": dec("66")},
	}
	manual := ledger.Transaction{ID: "r2", Type: enum.TxnIn, Amount: dec("12"), Category: enum.CategoryManualReceipt, Timestamp: day, Waiter: "bia"}
	other := ledger.Transaction{ID: "r3", Type: enum.TxnIn, Amount: dec("500"), Category: "Suprimento", Timestamp: day, Waiter: "bia"}

	r := Compute([]ledger.Session{{ID: "rec", Type: enum.SessionGuestConsumption, Transactions: []ledger.Transaction{roomPay, manual, other}}}, time.Time{}, time.Time{})

	assert.Equal(t, map[string]string{"ana": "66.00", "bia": "12.00"}, amounts(r))
}

func TestCompute_ReversalNetsOut(t *testing.T) {
	rev := sale("t2", "-100", "ana", money.Breakdown{"ana": dec("-100")})
	rev.Details.ReversesID = "t1"

	r := Compute(session(
		sale("t1", "100", "ana", money.Breakdown{"ana": dec("100")}),
		rev,
		sale("t3", "30", "bia", nil),
	), time.Time{}, time.Time{})

	assert.Equal(t, map[string]string{"bia": "30.00"}, amounts(r))
}

func TestCompute_FeeRemovedListedSeparately(t *testing.T) {
	noFee := sale("t1", "90", "ana", money.Breakdown{"ana": dec("90")})
	noFee.Details.ServiceFeeRemoved = true
	rev := sale("t2", "-90", "ana", money.Breakdown{"ana": dec("-90")})
	rev.Details.ReversesID = "t1"

	r := Compute(session(noFee, rev, sale("t3", "40", "ana", nil)), time.Time{}, time.Time{})

	assert.Equal(t, map[string]string{"ana": "40.00"}, amounts(r))
	require.Len(t, r.Removed, 1)
	assert.Equal(t, "t1", r.Removed[0].TransactionID)
	assert.Equal(t, "s1", r.Removed[0].SessionID)
}

func TestCompute_RespectsRange(t *testing.T) {
	early := sale("t1", "10", "ana", nil)
	early.Timestamp = day.AddDate(0, -1, 0)

	r := Compute(session(early, sale("t2", "20", "ana", nil)), day.Add(-time.Hour), day.Add(time.Hour))

	assert.Equal(t, map[string]string{"ana": "20.00"}, amounts(r))
}

func TestCompute_EmptyLedger(t *testing.T) {
	r := Compute(nil, time.Time{}, time.Time{})
	assert.Empty(t, r.Entries)
	assert.Empty(t, r.Removed)
	assert.True(t, r.Base.IsZero())
}

// --- Month helpers ---

func TestMonthRange(t *testing.T) {
	from, to, err := MonthRange("2026-02", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 28, to.Day())
	assert.Equal(t, time.February, to.Month())

	_, _, err = MonthRange("fevereiro", time.UTC)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestMonthlyTotal(t *testing.T) {
	march := sale("t0", "1000", "ana", nil)
	march.Timestamp = time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)

	total, err := MonthlyTotal(session(march, sale("t1", "110", "ana", nil), sale("t2", "55", "bia", nil)), "2026-04", dec("10"), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "16.50", total.StringFixed(2))
}

func TestCommission_Rounds(t *testing.T) {
	assert.Equal(t, "3.33", Commission(dec("33.33"), dec("10")).StringFixed(2))
}

// --- Engine ---

func TestEngine_MonthlyTotalAudits(t *testing.T) {
	rec := &mockRecorder{}
	e := NewEngine(&mockSource{sessions: session(sale("t1", "200", "ana", nil))}, dec("10"), time.UTC, rec)

	total, err := e.MonthlyTotal(context.Background(), "2026-04", "gerente1")
	require.NoError(t, err)
	assert.Equal(t, "20.00", total.StringFixed(2))
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "Cálculo de Comissão", rec.entries[0].Action)
	assert.Equal(t, enum.DeptFinance, rec.entries[0].DepartmentID)
	assert.Equal(t, "gerente1", rec.entries[0].ActorID)
}

func TestEngine_BadMonth(t *testing.T) {
	rec := &mockRecorder{}
	e := NewEngine(&mockSource{}, dec("10"), time.UTC, rec)

	_, err := e.MonthlyTotal(context.Background(), "2026/04", "gerente1")
	assert.Error(t, err)
	assert.Empty(t, rec.entries)
}

// --- Export ---

func TestWriteXLSX(t *testing.T) {
	noFee := sale("t9", "70", "bia", nil)
	noFee.Details.ServiceFeeRemoved = true
	r := Compute(session(sale("t1", "110", "ana", nil), sale("t2", "55", "bia", nil), noFee), time.Time{}, time.Time{})

	var buf bytes.Buffer
	require.NoError(t, r.WriteXLSX(&buf, dec("10")))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{rankingSheet, removedSheet}, f.GetSheetList())

	waiter, err := f.GetCellValue(rankingSheet, "B5")
	require.NoError(t, err)
	assert.Equal(t, "ana", waiter)
	total, err := f.GetCellValue(rankingSheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "Total", total)

	rows, err := f.GetRows(removedSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "t9", rows[1][1])
}
