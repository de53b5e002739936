// Package saleshistory archives closed orders for reporting.
package saleshistory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// HistoryKey is the store key of the archive.
const HistoryKey = "sales_history"

// Item is one sold line as archived.
type Item struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id,omitempty"`
	Name             string          `json:"name"`
	Category         string          `json:"category,omitempty"`
	Price            decimal.Decimal `json:"price"`
	Qty              decimal.Decimal `json:"qty"`
	Waiter           string          `json:"waiter,omitempty"`
	Source           string          `json:"source,omitempty"`
	ServiceFeeExempt bool            `json:"service_fee_exempt,omitempty"`
}

// Payment is one tender of the order, partial or final.
type Payment struct {
	Method        string          `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Partial       bool            `json:"partial,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

// Entry is a closed order summary.
type Entry struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	TableID           string          `json:"table_id"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedAt          time.Time       `json:"closed_at"`
	ClosedBy          string          `json:"closed_by"`
	Waiter            string          `json:"waiter,omitempty"`
	CustomerType      string          `json:"customer_type"`
	CustomerName      string          `json:"customer_name,omitempty"`
	CustomerDocument  string          `json:"customer_document,omitempty"`
	RoomNumber        string          `json:"room_number,omitempty"`
	NumAdults         int             `json:"num_adults"`
	IsBreakfast       bool            `json:"is_breakfast,omitempty"`
	Items             []Item          `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Discount          decimal.Decimal `json:"discount"`
	ServiceFee        decimal.Decimal `json:"service_fee"`
	ServiceFeeRemoved bool            `json:"service_fee_removed,omitempty"`
	FinalTotal        decimal.Decimal `json:"final_total"`
	TotalPaid         decimal.Decimal `json:"total_paid"`
	Change            decimal.Decimal `json:"change"`
	Payments          []Payment       `json:"payments"`
	PaymentGroupID    string          `json:"payment_group_id,omitempty"`
	WaiterBreakdown   money.Breakdown `json:"waiter_breakdown,omitempty"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	From    time.Time
	To      time.Time
	TableID string
	Waiter  string
}

// Archive is the store-backed sales history.
type Archive struct {
	docs store.Documents
}

func New(docs store.Documents) *Archive {
	return &Archive{docs: docs}
}

func (a *Archive) load() []Entry {
	return store.Load(a.docs, HistoryKey, []Entry{})
}

// Append archives e. An order is archived at most once.
func (a *Archive) Append(ctx context.Context, e Entry) error {
	if e.ID == "" || e.OrderID == "" {
		return apperr.Validation("sales history entry needs id and order id")
	}
	return a.docs.WithLock(ctx, HistoryKey, func() error {
		all := a.load()
		for _, existing := range all {
			if existing.OrderID == e.OrderID {
				return apperr.Conflict(apperr.CodeConflict, "order %s already archived", e.OrderID)
			}
		}
		all = append(all, e)
		return a.docs.Write(HistoryKey, all)
	})
}

// Remove drops an entry; used to undo an archive whose close failed later.
func (a *Archive) Remove(ctx context.Context, id string) error {
	return a.docs.WithLock(ctx, HistoryKey, func() error {
		all := a.load()
		for i := range all {
			if all[i].ID == id {
				all = append(all[:i], all[i+1:]...)
				return a.docs.Write(HistoryKey, all)
			}
		}
		return apperr.NotFound("sales history entry", id)
	})
}

// List returns matching entries, oldest first.
func (a *Archive) List(f Filter) []Entry {
	all := a.load()
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if !f.From.IsZero() && e.ClosedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.ClosedAt.After(f.To) {
			continue
		}
		if f.TableID != "" && e.TableID != f.TableID {
			continue
		}
		if f.Waiter != "" && e.Waiter != f.Waiter {
			continue
		}
		out = append(out, e)
	}
	return out
}
