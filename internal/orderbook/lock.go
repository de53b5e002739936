package orderbook

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/notify"
)

// PullBill prints the bill and locks the table against item changes.
func (b *Book) PullBill(ctx context.Context, tableID string, actor auth.Actor) (TableView, error) {
	var view TableView
	err := b.docs.WithLock(ctx, tableKey(tableID), func() error {
		o, err := b.editable(tableID)
		if err != nil {
			return err
		}
		now := b.clock.Now()
		o.Status = enum.OrderStatusLocked
		o.Locked = true
		o.PulledAt = &now
		if err := b.save(o); err != nil {
			return err
		}
		o.recompute()
		p := b.pricing(o, decimal.Zero, false)
		view = TableView{Order: o, Pricing: p, Subtotal: p.Subtotal, Fee: p.ServiceFee, Grand: p.GrandTotal, Remaining: p.GrandTotal.Sub(o.TotalPaid)}
		return nil
	})
	if err != nil {
		return TableView{}, err
	}
	b.print(ctx, notify.PrintJob{
		ID:        b.ids.NewID(),
		Kind:      notify.JobBill,
		TableID:   tableID,
		Title:     "Conta Mesa " + tableID,
		Lines:     billLines(view.Order, view.Pricing),
		CreatedAt: b.clock.Now(),
	})
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Puxar Conta",
		Entity:       "Mesa " + tableID,
		Details:      map[string]any{"total": view.Grand.StringFixed(2)},
	})
	b.publish("tables", "bill_pulled", map[string]any{"table_id": tableID})
	return view, nil
}

// UnlockTable reopens a pulled table. Needs an elevated actor or an elevated
// user's password; the order remembers it was reopened.
func (b *Book) UnlockTable(ctx context.Context, tableID, password string, actor auth.Actor) (Order, error) {
	approver, err := b.authorize(ctx, actor, password, "unlock_table", "Mesa "+tableID)
	if err != nil {
		return Order{}, err
	}
	var unlocked Order
	err = b.docs.WithLock(ctx, tableKey(tableID), func() error {
		o, err := b.active(tableID)
		if err != nil {
			return err
		}
		if o.Status != enum.OrderStatusLocked {
			return apperr.Conflict(apperr.CodeConflict, "table %s is not locked", tableID)
		}
		o.Status = enum.OrderStatusOpen
		o.Locked = false
		o.ReopenedAfterPull = true
		if err := b.save(o); err != nil {
			return err
		}
		o.recompute()
		unlocked = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Reabertura de Mesa",
		Entity:       "Mesa " + tableID,
		Severity:     enum.SeverityWarning,
		Details:      map[string]any{"approved_by": approver},
	})
	b.publish("tables", "table_unlocked", map[string]any{"table_id": tableID})
	return unlocked, nil
}
