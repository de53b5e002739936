// Package orderbook owns the restaurant tables: opening, items, partial
// payments, transfers between tables and to rooms, and the close-out that
// posts the sale to the restaurant cashier.
package orderbook

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/room"
)

// Collection is the store collection holding one document per table.
const Collection = "orders"

func tableKey(tableID string) string { return Collection + "/" + tableID }

// QuestionAnswer is a mandatory question answered when ordering.
type QuestionAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Item is one ordered line.
type Item struct {
	ID               string               `json:"id"`
	ProductID        string               `json:"product_id"`
	Name             string               `json:"name"`
	Category         string               `json:"category,omitempty"`
	Price            decimal.Decimal      `json:"price"`
	Qty              decimal.Decimal      `json:"qty"`
	Observations     []string             `json:"observations,omitempty"`
	Complements      []string             `json:"complements,omitempty"`
	QuestionsAnswers []QuestionAnswer     `json:"questions_answers,omitempty"`
	Waiter           string               `json:"waiter"`
	Printed          bool                 `json:"printed"`
	PrintStatus      string               `json:"print_status,omitempty"`
	PrinterID        string               `json:"printer_id,omitempty"`
	KDSStatus        string               `json:"kds_status"`
	Source           string               `json:"source,omitempty"`
	ServiceFeeExempt bool                 `json:"service_fee_exempt,omitempty"`
	Recipe           []catalog.Ingredient `json:"recipe,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	TransferredFrom  string               `json:"transferred_from,omitempty"`
}

// Total is price times quantity.
func (i Item) Total() decimal.Decimal { return i.Price.Mul(i.Qty) }

// PartialPayment is a payment taken before close.
type PartialPayment struct {
	ID                   string          `json:"id"`
	Amount               decimal.Decimal `json:"amount"`
	Method               string          `json:"method"`
	MethodID             string          `json:"method_id"`
	IsFiscal             bool            `json:"is_fiscal,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
	User                 string          `json:"user"`
	CashierTransactionID string          `json:"cashier_transaction_id"`
}

// TransferRecord remembers the last table transfer so it can be undone.
type TransferRecord struct {
	FromTable string    `json:"from_table"`
	ItemIDs   []string  `json:"item_ids"`
	At        time.Time `json:"at"`
	By        string    `json:"by"`
}

// Order is the state of one table.
type Order struct {
	ID                      string           `json:"id,omitempty"`
	TableID                 string           `json:"table_id"`
	Status                  string           `json:"status"`
	OpenedAt                time.Time        `json:"opened_at"`
	OpenedBy                string           `json:"opened_by,omitempty"`
	CustomerType            string           `json:"customer_type,omitempty"`
	CustomerName            string           `json:"customer_name,omitempty"`
	RoomNumber              room.Number      `json:"room_number,omitempty"`
	Waiter                  string           `json:"waiter,omitempty"`
	NumAdults               int              `json:"num_adults"`
	Items                   []Item           `json:"items"`
	Total                   decimal.Decimal  `json:"total"`
	TotalPaid               decimal.Decimal  `json:"total_paid"`
	PartialPayments         []PartialPayment `json:"partial_payments"`
	Locked                  bool             `json:"locked,omitempty"`
	PulledAt                *time.Time       `json:"pulled_at,omitempty"`
	ReopenedAfterPull       bool             `json:"reopened_after_pull,omitempty"`
	ItemsRemovedAfterReopen bool             `json:"items_removed_after_reopen,omitempty"`
	IsBreakfast             bool             `json:"is_breakfast,omitempty"`
	LastTransfer            *TransferRecord  `json:"last_transfer,omitempty"`
}

// Active reports whether the table is in use.
func (o Order) Active() bool {
	return o.Status == enum.OrderStatusOpen || o.Status == enum.OrderStatusLocked
}

func (o *Order) recompute() {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Total())
	}
	o.Total = total.Round(2)
	paid := decimal.Zero
	for _, p := range o.PartialPayments {
		paid = paid.Add(p.Amount)
	}
	o.TotalPaid = paid.Round(2)
}

func (o Order) itemIndex(ref string) int {
	for i := range o.Items {
		if o.Items[i].ID == ref {
			return i
		}
	}
	// legacy clients address items by position
	if n, err := strconv.Atoi(ref); err == nil && n >= 0 && n < len(o.Items) {
		return n
	}
	return -1
}

func validCustomerType(t string) bool {
	switch t {
	case enum.CustomerPassante, enum.CustomerHospede, enum.CustomerFuncionario, enum.CustomerExterno:
		return true
	}
	return false
}
