// Package billing keeps the pending charges posted against rooms and settles
// them at reception. A charge carries the waiter breakdown of the order it
// came from, and settlement copies it onto the cashier transactions.
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/fiscal"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/metrics"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/room"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// ChargesKey is the store key of the charge list.
const ChargesKey = "room_charges"

// ReasonReturnedToTable marks a charge taken back to a restaurant table.
const ReasonReturnedToTable = "Devolvido para mesa"

// ChargeItem is one consumed line on a room charge.
type ChargeItem struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id,omitempty"`
	Name             string          `json:"name"`
	Category         string          `json:"category,omitempty"`
	Price            decimal.Decimal `json:"price"`
	Qty              decimal.Decimal `json:"qty"`
	Waiter           string          `json:"waiter,omitempty"`
	Source           string          `json:"source,omitempty"`
	ServiceFeeExempt bool            `json:"service_fee_exempt,omitempty"`
	Observations     []string        `json:"observations,omitempty"`
	Printed          bool            `json:"printed,omitempty"`
	KDSStatus        string          `json:"kds_status,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Total is price times quantity.
func (i ChargeItem) Total() decimal.Decimal { return i.Price.Mul(i.Qty) }

// PaymentDetail is one tender applied to a charge.
type PaymentDetail struct {
	Method        string          `json:"method"`
	MethodID      string          `json:"method_id"`
	Amount        decimal.Decimal `json:"amount"`
	IsFiscal      bool            `json:"is_fiscal,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

// Charge is a deferred bill against a room.
type Charge struct {
	ID                 string          `json:"id"`
	RoomNumber         room.Number     `json:"room_number"`
	Status             string          `json:"status"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	ServiceFee         decimal.Decimal `json:"service_fee"`
	Total              decimal.Decimal `json:"total"`
	Items              []ChargeItem    `json:"items"`
	WaiterBreakdown    money.Breakdown `json:"waiter_breakdown,omitempty"`
	ServiceFeeRemoved  bool            `json:"service_fee_removed,omitempty"`
	Source             string          `json:"source"`
	TableID            string          `json:"table_id,omitempty"`
	GuestName          string          `json:"guest_name,omitempty"`
	Date               time.Time       `json:"date"`
	DateDisplay        string          `json:"date_display"`
	CreatedBy          string          `json:"created_by,omitempty"`
	PaymentMethod      string          `json:"payment_method,omitempty"`
	PaymentDetails     []PaymentDetail `json:"payment_details,omitempty"`
	PaymentGroupID     string          `json:"payment_group_id,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	PaidBy             string          `json:"paid_by,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CanceledBy         string          `json:"canceled_by,omitempty"`
	CanceledAt         *time.Time      `json:"canceled_at,omitempty"`
}

// IsPending reports whether the charge still awaits settlement.
func (c Charge) IsPending() bool { return c.Status == enum.ChargeStatusPending }

// Cashier is the slice of the ledger billing posts to.
type Cashier interface {
	AppendBatch(ctx context.Context, typ string, txns []ledger.Transaction) ([]ledger.Transaction, error)
	ReverseTransaction(ctx context.Context, typ, txnID, description, user string) (ledger.Transaction, error)
}

// MethodResolver validates payment methods for a context.
type MethodResolver interface {
	Resolve(ref, ctx string) (catalog.PaymentMethod, error)
}

// FiscalSink stages fiscal emissions.
type FiscalSink interface {
	Enqueue(ctx context.Context, e fiscal.Entry) (fiscal.Entry, error)
}

// GuestNotifier delivers best-effort messages to a room.
type GuestNotifier interface {
	NotifyGuest(ctx context.Context, room, message, kind string)
}

// Deps are the collaborators of a Book. Fiscal, Notifier, Audit and Metrics
// may be nil.
type Deps struct {
	Docs     store.Documents
	Clock    clock.Clock
	IDs      clock.IDGenerator
	Cashier  Cashier
	Methods  MethodResolver
	Fiscal   FiscalSink
	Notifier GuestNotifier
	Audit    audit.Recorder
	Metrics  *metrics.Metrics
}

// Book owns the room charge list.
type Book struct {
	docs     store.Documents
	clock    clock.Clock
	ids      clock.IDGenerator
	cashier  Cashier
	methods  MethodResolver
	fiscal   FiscalSink
	notifier GuestNotifier
	audit    audit.Recorder
	metrics  *metrics.Metrics
}

func New(d Deps) *Book {
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	return &Book{
		docs:     d.Docs,
		clock:    d.Clock,
		ids:      d.IDs,
		cashier:  d.Cashier,
		methods:  d.Methods,
		fiscal:   d.Fiscal,
		notifier: d.Notifier,
		audit:    d.Audit,
		metrics:  d.Metrics,
	}
}

func (b *Book) load() []Charge {
	return store.Load(b.docs, ChargesKey, []Charge{})
}

func indexOf(charges []Charge, id string) int {
	for i := range charges {
		if charges[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Book) notify(ctx context.Context, number room.Number, message, kind string) {
	if b.notifier != nil {
		b.notifier.NotifyGuest(ctx, number.String(), message, kind)
	}
}

// AddCharge posts one charge. See AddCharges.
func (b *Book) AddCharge(ctx context.Context, c Charge) (Charge, error) {
	out, err := b.AddCharges(ctx, []Charge{c})
	if err != nil {
		return Charge{}, err
	}
	return out[0], nil
}

// AddCharges posts every charge in one write. Missing totals are derived from
// the items; the room number is stored in canonical form.
func (b *Book) AddCharges(ctx context.Context, charges []Charge) ([]Charge, error) {
	now := b.clock.Now()
	prepared := make([]Charge, 0, len(charges))
	for i, c := range charges {
		c.RoomNumber = room.Number(room.Canonical(c.RoomNumber.String()))
		if c.RoomNumber == "" {
			return nil, apperr.Validation("charge[%d]: room number is required", i)
		}
		if c.ID == "" {
			c.ID = "CHG_" + b.ids.NewID()
		}
		if c.Source == "" {
			c.Source = enum.SourceManual
		}
		if c.Subtotal.IsZero() {
			for _, it := range c.Items {
				c.Subtotal = c.Subtotal.Add(it.Total())
			}
		}
		c.Subtotal = money.Round2(c.Subtotal)
		c.ServiceFee = money.Round2(c.ServiceFee)
		if c.Total.IsZero() {
			c.Total = c.Subtotal.Add(c.ServiceFee)
		}
		c.Total = money.Round2(c.Total)
		if c.Total.IsNegative() {
			return nil, apperr.Validation("charge[%d]: total must be >= 0", i)
		}
		if c.Items == nil {
			c.Items = []ChargeItem{}
		}
		c.Status = enum.ChargeStatusPending
		if c.Date.IsZero() {
			c.Date = now
		}
		c.DateDisplay = c.Date.Format(clock.DisplayLayout)
		prepared = append(prepared, c)
	}

	err := b.docs.WithLock(ctx, ChargesKey, func() error {
		all := b.load()
		for _, c := range prepared {
			if indexOf(all, c.ID) >= 0 {
				return apperr.Conflict(apperr.CodeConflict, "charge %s already exists", c.ID)
			}
		}
		all = append(all, prepared...)
		return b.docs.Write(ChargesKey, all)
	})
	if err != nil {
		return nil, err
	}
	for _, c := range prepared {
		b.audit.Record(ctx, audit.Entry{
			DepartmentID: enum.DeptReception,
			ActorID:      c.CreatedBy,
			Action:       "Lançamento de Consumo",
			Entity:       c.ID,
			Details: map[string]any{
				"room":   room.Display(c.RoomNumber.String()),
				"total":  c.Total.StringFixed(2),
				"source": c.Source,
				"table":  c.TableID,
			},
		})
		b.notify(ctx, c.RoomNumber, fmt.Sprintf("Novo consumo lançado: %s", money.Format(c.Total)), "charge_added")
	}
	return prepared, nil
}

// GetCharge returns one charge by id.
func (b *Book) GetCharge(id string) (Charge, error) {
	all := b.load()
	if i := indexOf(all, id); i >= 0 {
		return all[i], nil
	}
	return Charge{}, apperr.NotFound("room charge", id)
}

// ListCharges returns every charge, optionally only those in status.
func (b *Book) ListCharges(status string) []Charge {
	all := b.load()
	if status == "" {
		return all
	}
	out := make([]Charge, 0, len(all))
	for _, c := range all {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// ListPending returns the pending charges of a room.
func (b *Book) ListPending(number string) []Charge {
	var out []Charge
	for _, c := range b.load() {
		if c.IsPending() && room.Equal(c.RoomNumber.String(), number) {
			out = append(out, c)
		}
	}
	return out
}

// PendingTotal sums the pending charges of a room.
func (b *Book) PendingTotal(number string) decimal.Decimal {
	total := decimal.Zero
	for _, c := range b.ListPending(number) {
		total = total.Add(c.Total)
	}
	return total
}

// TakePending withdraws a pending charge so its items can go back to a table.
// The charge is marked cancelled; Restore undoes this.
func (b *Book) TakePending(ctx context.Context, id string, actor auth.Actor) (Charge, error) {
	var taken Charge
	err := b.docs.WithLock(ctx, ChargesKey, func() error {
		all := b.load()
		i := indexOf(all, id)
		if i < 0 {
			return apperr.NotFound("room charge", id)
		}
		if !all[i].IsPending() {
			return apperr.Conflict(apperr.CodeConflict, "charge %s is %s", id, all[i].Status)
		}
		now := b.clock.Now()
		taken = all[i]
		all[i].Status = enum.ChargeStatusCancelled
		all[i].CancellationReason = ReasonReturnedToTable
		all[i].CanceledBy = actor.Username
		all[i].CanceledAt = &now
		return b.docs.Write(ChargesKey, all)
	})
	if err != nil {
		return Charge{}, err
	}
	return taken, nil
}

// Restore puts a charge withdrawn by TakePending back to pending.
func (b *Book) Restore(ctx context.Context, id string) error {
	return b.docs.WithLock(ctx, ChargesKey, func() error {
		all := b.load()
		i := indexOf(all, id)
		if i < 0 {
			return apperr.NotFound("room charge", id)
		}
		if all[i].CancellationReason != ReasonReturnedToTable {
			return apperr.Conflict(apperr.CodeConflict, "charge %s was not returned to a table", id)
		}
		all[i].Status = enum.ChargeStatusPending
		all[i].CancellationReason = ""
		all[i].CanceledBy = ""
		all[i].CanceledAt = nil
		return b.docs.Write(ChargesKey, all)
	})
}

// CancelCharge cancels a pending charge. Only admins may cancel.
func (b *Book) CancelCharge(ctx context.Context, id, reason string, actor auth.Actor) (Charge, error) {
	if actor.Role != enum.RoleAdmin {
		b.audit.Record(ctx, audit.Entry{
			DepartmentID: enum.DeptReception,
			ActorID:      actor.Username,
			Action:       "Cancelamento Negado",
			Entity:       id,
			Severity:     enum.SeverityWarning,
			Details:      map[string]any{"role": actor.Role, "reason": reason},
		})
		return Charge{}, apperr.Authorization(apperr.CodeForbidden, "only admins may cancel room charges")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Charge{}, apperr.Validation("cancellation reason is required")
	}

	var cancelled Charge
	err := b.docs.WithLock(ctx, ChargesKey, func() error {
		all := b.load()
		i := indexOf(all, id)
		if i < 0 {
			return apperr.NotFound("room charge", id)
		}
		if !all[i].IsPending() {
			return apperr.Conflict(apperr.CodeConflict, "charge %s is %s", id, all[i].Status)
		}
		now := b.clock.Now()
		all[i].Status = enum.ChargeStatusCancelled
		all[i].CancellationReason = reason
		all[i].CanceledBy = actor.Username
		all[i].CanceledAt = &now
		cancelled = all[i]
		return b.docs.Write(ChargesKey, all)
	})
	if err != nil {
		return Charge{}, err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptReception,
		ActorID:      actor.Username,
		Action:       "Cancelamento de Consumo",
		Entity:       id,
		Severity:     enum.SeverityWarning,
		Details: map[string]any{
			"room":   room.Display(cancelled.RoomNumber.String()),
			"total":  cancelled.Total.StringFixed(2),
			"reason": reason,
		},
	})
	b.notify(ctx, cancelled.RoomNumber, fmt.Sprintf("Consumo de %s cancelado: %s", money.Format(cancelled.Total), reason), "charge_cancelled")
	return cancelled, nil
}
