package orderbook

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
)

func transferNote(from string) string { return "Transf de Mesa " + from }

// TransferItemRequest moves an item, or part of it, to another table.
type TransferItemRequest struct {
	Source       string          `json:"source" validate:"required"`
	Target       string          `json:"target" validate:"required"`
	ItemRef      string          `json:"item_id" validate:"required"`
	Qty          decimal.Decimal `json:"qty"`
	Observations string          `json:"observations"`
}

// receiving returns the active order at tableID ready to take items, or a
// fresh one modeled on like when the table is free.
func (b *Book) receiving(tableID string, like Order, actor auth.Actor) (Order, bool, error) {
	if o, ok := b.read(tableID); ok && o.Active() {
		if o.Status == enum.OrderStatusLocked {
			return Order{}, false, apperr.Conflict(apperr.CodeTableLocked, "table %s bill was pulled; unlock it first", tableID)
		}
		return o, false, nil
	}
	return Order{
		ID:              "ORD_" + b.ids.NewID(),
		TableID:         tableID,
		Status:          enum.OrderStatusOpen,
		OpenedAt:        b.clock.Now(),
		OpenedBy:        actor.Username,
		CustomerType:    like.CustomerType,
		CustomerName:    like.CustomerName,
		RoomNumber:      like.RoomNumber,
		Waiter:          like.Waiter,
		NumAdults:       like.NumAdults,
		Items:           []Item{},
		PartialPayments: []PartialPayment{},
		IsBreakfast:     like.IsBreakfast,
	}, true, nil
}

// checkPaymentBound rejects a change that would leave the table owing less
// than it already received.
func (b *Book) checkPaymentBound(o Order) error {
	o.recompute()
	grand := b.pricing(o, decimal.Zero, false).GrandTotal
	if money.GreaterBeyond(o.TotalPaid, grand) {
		return apperr.Conflict(apperr.CodePaymentBound,
			"table %s already received %s; the total would drop to %s", o.TableID, o.TotalPaid.StringFixed(2), grand.StringFixed(2))
	}
	return nil
}

// putBack restores a receiving table after the paired write failed.
func (b *Book) putBack(o Order, created bool) {
	if created {
		_ = b.docs.Delete(tableKey(o.TableID))
		return
	}
	_ = b.save(o)
}

// TransferItem moves qty of one item between tables. A free target table is
// opened on the fly.
func (b *Book) TransferItem(ctx context.Context, req TransferItemRequest, actor auth.Actor) (Item, error) {
	src, dst := strings.TrimSpace(req.Source), strings.TrimSpace(req.Target)
	if src == dst {
		return Item{}, apperr.Validation("source and target tables are the same")
	}
	if dst == "" || strings.ContainsAny(dst, `/\.`) {
		return Item{}, apperr.Validation("invalid table id %q", req.Target)
	}
	if req.Qty.IsNegative() {
		return Item{}, apperr.Validation("qty must be > 0")
	}

	var moved Item
	err := b.docs.WithLocks(ctx, []string{tableKey(src), tableKey(dst)}, func() error {
		so, err := b.editable(src)
		if err != nil {
			return err
		}
		idx := so.itemIndex(req.ItemRef)
		if idx < 0 {
			return apperr.NotFound("item", req.ItemRef)
		}
		it := so.Items[idx]
		qty := req.Qty
		if qty.IsZero() {
			qty = it.Qty
		}
		if qty.GreaterThan(it.Qty) {
			return apperr.Validation("cannot move %s of %s units", qty.String(), it.Qty.String())
		}

		moved = it
		moved.Qty = qty
		moved.TransferredFrom = src
		moved.Observations = append(append([]string{}, it.Observations...), transferNote(src))
		if obs := strings.TrimSpace(req.Observations); obs != "" {
			moved.Observations = append(moved.Observations, obs)
		}
		if qty.Equal(it.Qty) {
			so.Items = append(so.Items[:idx], so.Items[idx+1:]...)
		} else {
			so.Items[idx].Qty = it.Qty.Sub(qty)
			moved.ID = b.ids.NewID()
		}
		if err := b.checkPaymentBound(so); err != nil {
			return err
		}

		to, created, err := b.receiving(dst, so, actor)
		if err != nil {
			return err
		}
		before := to
		to.Items = append(to.Items, moved)
		if err := b.save(to); err != nil {
			return err
		}
		if len(so.Items) == 0 && so.TotalPaid.IsZero() {
			err = b.release(src)
		} else {
			err = b.save(so)
		}
		if err != nil {
			b.putBack(before, created)
			return err
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Transferência de Item",
		Entity:       "Mesa " + src,
		Details:      map[string]any{"item": moved.Name, "qty": moved.Qty.String(), "target": dst},
	})
	b.publish("tables", "item_transferred", map[string]any{"source": src, "target": dst, "item_id": moved.ID})
	return moved, nil
}

// TransferTable moves every item of src onto dst, merging into an open
// target. Tables holding partial payments cannot move.
func (b *Book) TransferTable(ctx context.Context, src, dst string, actor auth.Actor) (Order, error) {
	src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
	if src == dst {
		return Order{}, apperr.Validation("source and target tables are the same")
	}
	if dst == "" || strings.ContainsAny(dst, `/\.`) {
		return Order{}, apperr.Validation("invalid table id %q", dst)
	}

	var merged Order
	err := b.docs.WithLocks(ctx, []string{tableKey(src), tableKey(dst)}, func() error {
		so, err := b.editable(src)
		if err != nil {
			return err
		}
		if so.TotalPaid.IsPositive() {
			return apperr.Conflict(apperr.CodePaymentBound, "table %s has partial payments; void them before moving the table", src)
		}
		to, created, err := b.receiving(dst, so, actor)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(so.Items))
		for _, it := range so.Items {
			it.TransferredFrom = src
			it.Observations = append(append([]string{}, it.Observations...), transferNote(src))
			to.Items = append(to.Items, it)
			ids = append(ids, it.ID)
		}
		if created {
			to.OpenedAt = so.OpenedAt
		}
		to.LastTransfer = &TransferRecord{FromTable: src, ItemIDs: ids, At: b.clock.Now(), By: actor.Username}
		if err := b.save(to); err != nil {
			return err
		}
		if err := b.release(src); err != nil {
			if created {
				_ = b.docs.Delete(tableKey(dst))
			}
			return apperr.Internal("orderbook: release table", err)
		}
		to.recompute()
		merged = to
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Transferência de Mesa",
		Entity:       "Mesa " + src,
		Details:      map[string]any{"target": dst, "items": len(merged.LastTransfer.ItemIDs)},
	})
	b.publish("tables", "table_transferred", map[string]any{"source": src, "target": dst})
	return merged, nil
}

// CancelTransfer sends the items of the last table transfer back to the
// table they came from.
func (b *Book) CancelTransfer(ctx context.Context, tableID string, actor auth.Actor) (Order, error) {
	peek, err := b.editable(tableID)
	if err != nil {
		return Order{}, err
	}
	if peek.LastTransfer == nil {
		return Order{}, apperr.Conflict(apperr.CodeConflict, "table %s has no transfer to undo", tableID)
	}
	from := peek.LastTransfer.FromTable

	var restored Order
	err = b.docs.WithLocks(ctx, []string{tableKey(tableID), tableKey(from)}, func() error {
		to, err := b.editable(tableID)
		if err != nil {
			return err
		}
		rec := to.LastTransfer
		if rec == nil || rec.FromTable != from {
			return apperr.Conflict(apperr.CodeConflict, "table %s transfer changed; retry", tableID)
		}
		back, created, err := b.receiving(from, to, actor)
		if err != nil {
			return err
		}
		want := make(map[string]bool, len(rec.ItemIDs))
		for _, id := range rec.ItemIDs {
			want[id] = true
		}
		note := transferNote(from)
		kept := to.Items[:0:0]
		for _, it := range to.Items {
			if !want[it.ID] {
				kept = append(kept, it)
				continue
			}
			it.TransferredFrom = ""
			obs := it.Observations[:0:0]
			for _, o := range it.Observations {
				if o != note {
					obs = append(obs, o)
				}
			}
			it.Observations = obs
			back.Items = append(back.Items, it)
		}
		to.Items = kept
		to.LastTransfer = nil
		if err := b.checkPaymentBound(to); err != nil {
			return err
		}

		if err := b.save(back); err != nil {
			return err
		}
		if len(to.Items) == 0 && to.TotalPaid.IsZero() {
			err = b.release(tableID)
		} else {
			err = b.save(to)
		}
		if err != nil {
			if created {
				_ = b.docs.Delete(tableKey(from))
			}
			return apperr.Internal("orderbook: save table", err)
		}
		back.recompute()
		restored = back
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Cancelamento de Transferência",
		Entity:       "Mesa " + tableID,
		Details:      map[string]any{"returned_to": from, "items": len(restored.Items)},
	})
	b.publish("tables", "transfer_canceled", map[string]any{"source": tableID, "target": from})
	return restored, nil
}
