// Package commission derives per-waiter commission bases from cashier
// transactions. It only reads; nothing here writes to the ledger.
package commission

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
)

// unattributed collects sales that carry neither a breakdown nor a waiter.
const unattributed = "Sem Garçom"

// Entry is one line of the ranking.
type Entry struct {
	Waiter string          `json:"waiter"`
	Amount decimal.Decimal `json:"amount"`
}

// Removed is a sale closed without the service fee; it earns no commission.
type Removed struct {
	TransactionID string          `json:"transaction_id"`
	SessionID     string          `json:"session_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Waiter        string          `json:"waiter,omitempty"`
	Breakdown     money.Breakdown `json:"waiter_breakdown,omitempty"`
}

// Ranking is the commission view of a period.
type Ranking struct {
	From    time.Time       `json:"from"`
	To      time.Time       `json:"to"`
	Entries []Entry         `json:"entries"`
	Removed []Removed       `json:"removed"`
	Base    decimal.Decimal `json:"base"`
}

// eligible reports whether t is a commission source.
func eligible(t ledger.Transaction) bool {
	switch t.Type {
	case enum.TxnSale:
		// the close of the order carries the whole breakdown
		return !t.Details.PartialPayment
	case enum.TxnIn:
		return t.Category == enum.CategoryRoomPayment || t.Category == enum.CategoryManualReceipt
	}
	return false
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}

// Compute builds the ranking over every transaction in [from, to]. Zero
// bounds are open. Reversals carry negated breakdowns and net out.
func Compute(sessions []ledger.Session, from, to time.Time) Ranking {
	// reversals do not copy the fee flag; they follow their original
	feeRemoved := map[string]bool{}
	for _, s := range sessions {
		for _, t := range s.Transactions {
			if t.Details.ServiceFeeRemoved {
				feeRemoved[t.ID] = true
			}
		}
	}

	totals := money.Breakdown{}
	r := Ranking{From: from, To: to, Entries: []Entry{}, Removed: []Removed{}}
	for _, s := range sessions {
		for _, t := range s.Transactions {
			if !eligible(t) || !inRange(t.Timestamp, from, to) {
				continue
			}
			if feeRemoved[t.Details.ReversesID] {
				continue
			}
			if t.Details.ServiceFeeRemoved {
				r.Removed = append(r.Removed, Removed{
					TransactionID: t.ID,
					SessionID:     s.ID,
					Timestamp:     t.Timestamp,
					Description:   t.Description,
					Amount:        t.Amount,
					Waiter:        t.Waiter,
					Breakdown:     t.WaiterBreakdown,
				})
				continue
			}
			if len(t.WaiterBreakdown) > 0 {
				totals.Add(t.WaiterBreakdown)
				continue
			}
			w := t.Waiter
			if w == "" {
				w = unattributed
			}
			totals[w] = totals[w].Add(t.Amount)
		}
	}

	for w, amount := range totals {
		amount = money.Round2(amount)
		if amount.IsZero() {
			continue
		}
		r.Entries = append(r.Entries, Entry{Waiter: w, Amount: amount})
		r.Base = r.Base.Add(amount)
	}
	sort.Slice(r.Entries, func(i, j int) bool {
		a, b := r.Entries[i], r.Entries[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.Waiter < b.Waiter
	})
	sort.Slice(r.Removed, func(i, j int) bool { return r.Removed[i].Timestamp.Before(r.Removed[j].Timestamp) })
	return r
}

// MonthRange returns the first and last instant of a "YYYY-MM" month in loc.
func MonthRange(month string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	start, err := time.ParseInLocation("2006-01", month, loc)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("month must be YYYY-MM, got %q", month)
	}
	return start, start.AddDate(0, 1, 0).Add(-time.Nanosecond), nil
}

// Commission applies a percentage rate to a base.
func Commission(base, ratePercent decimal.Decimal) decimal.Decimal {
	return money.Round2(base.Mul(ratePercent).Div(decimal.NewFromInt(100)))
}

// MonthlyTotal is the commission owed for month at ratePercent.
func MonthlyTotal(sessions []ledger.Session, month string, ratePercent decimal.Decimal, loc *time.Location) (decimal.Decimal, error) {
	from, to, err := MonthRange(month, loc)
	if err != nil {
		return decimal.Zero, err
	}
	return Commission(Compute(sessions, from, to).Base, ratePercent), nil
}
