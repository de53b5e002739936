package orderbook

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/billing"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/room"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/saleshistory"
)

const (
	minibarCategory   = "frigobar"
	roomChargeMethod  = "Conta do Quarto"
	occupiedRoomState = "occupied"
)

// occupied returns the guest staying in number. Records without a status
// are legacy and count as occupied.
func (b *Book) occupied(number string) (catalog.Guest, error) {
	g, ok := b.occupancy.Lookup(number)
	if !ok {
		return catalog.Guest{}, apperr.Validation("room %s is not occupied", room.Display(number))
	}
	if g.Status != "" && g.Status != occupiedRoomState {
		return catalog.Guest{}, apperr.Validation("room %s is not occupied (status %s)", room.Display(number), g.Status)
	}
	return g, nil
}

func isMinibar(it Item) bool {
	return it.Source == enum.SourceMinibar || catalog.Normalize(it.Category) == minibarCategory
}

func chargeItems(items []Item) []billing.ChargeItem {
	out := make([]billing.ChargeItem, 0, len(items))
	for _, it := range items {
		out = append(out, billing.ChargeItem{
			ID:               it.ID,
			ProductID:        it.ProductID,
			Name:             it.Name,
			Category:         it.Category,
			Price:            it.Price,
			Qty:              it.Qty,
			Waiter:           it.Waiter,
			Source:           it.Source,
			ServiceFeeExempt: it.ServiceFeeExempt,
			Observations:     it.Observations,
			Printed:          it.Printed,
			KDSStatus:        it.KDSStatus,
			CreatedAt:        it.CreatedAt,
		})
	}
	return out
}

// RoomTransferRequest moves a table's bill onto a room account.
type RoomTransferRequest struct {
	TableID          string      `json:"table_id" validate:"required"`
	RoomNumber       room.Number `json:"room_number"`
	RemoveServiceFee bool        `json:"remove_service_fee"`
}

// TransferToRoom turns the table into pending room charges: one restaurant
// charge priced like a close, plus a fee-free minibar charge when minibar
// items are present. No cashier entry is posted; the room settles later.
func (b *Book) TransferToRoom(ctx context.Context, req RoomTransferRequest, actor auth.Actor) ([]billing.Charge, error) {
	if b.charges == nil {
		return nil, apperr.Internal("orderbook: transfer to room", errNoRoomBilling)
	}

	var (
		created []billing.Charge
		moved   Order
		number  string
	)
	err := b.docs.WithLock(ctx, tableKey(req.TableID), func() error {
		o, err := b.active(req.TableID)
		if err != nil {
			return err
		}
		number = room.Canonical(req.RoomNumber.String())
		if number == "" {
			number = room.Canonical(o.RoomNumber.String())
		}
		if number == "" {
			return apperr.Validation("room number is required")
		}
		guest, err := b.occupied(number)
		if err != nil {
			return err
		}
		if len(o.Items) == 0 {
			return apperr.Validation("table %s has no items to transfer", o.TableID)
		}
		if o.TotalPaid.IsPositive() {
			return apperr.Conflict(apperr.CodePaymentBound,
				"table %s has partial payments; close it at the restaurant cashier instead", o.TableID)
		}

		var restaurant, minibar []Item
		for _, it := range o.Items {
			if isMinibar(it) {
				minibar = append(minibar, it)
			} else {
				restaurant = append(restaurant, it)
			}
		}

		base := billing.Charge{
			RoomNumber: room.Number(number),
			TableID:    o.TableID,
			GuestName:  guest.GuestName,
			CreatedBy:  actor.Username,
		}
		var charges []billing.Charge
		if len(restaurant) > 0 {
			p := b.pricing(Order{Items: restaurant}, decimal.Zero, req.RemoveServiceFee)
			c := base
			c.Source = enum.SourceRestaurant
			c.Items = chargeItems(restaurant)
			c.Subtotal = p.Subtotal
			c.ServiceFee = p.ServiceFee
			c.Total = p.GrandTotal
			c.ServiceFeeRemoved = req.RemoveServiceFee
			if len(p.Commissionable) > 0 {
				c.WaiterBreakdown = p.Commissionable
			}
			charges = append(charges, c)
		}
		if len(minibar) > 0 {
			subtotal := decimal.Zero
			for _, it := range minibar {
				subtotal = subtotal.Add(it.Total())
			}
			c := base
			c.Source = enum.SourceMinibar
			c.Items = chargeItems(minibar)
			c.Subtotal = money.Round2(subtotal)
			c.Total = c.Subtotal
			charges = append(charges, c)
		}

		created, err = b.charges.AddCharges(ctx, charges)
		if err != nil {
			return err
		}
		undo := func() {
			for _, c := range created {
				if _, err := b.charges.TakePending(ctx, c.ID, actor); err != nil {
					log.Error().Err(err).Str("charge_id", c.ID).Msg("orderbook: withdraw room charge failed")
				}
			}
		}

		var entryID string
		if b.history != nil {
			entry := b.roomHistoryEntry(o, number, created, actor)
			if err := b.history.Append(ctx, entry); err != nil {
				undo()
				return err
			}
			entryID = entry.ID
		}
		if err := b.release(o.TableID); err != nil {
			if entryID != "" {
				_ = b.history.Remove(ctx, entryID)
			}
			undo()
			return apperr.Internal("orderbook: release table", err)
		}
		moved = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, c := range created {
		total = total.Add(c.Total)
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Transferência para Quarto",
		Entity:       "Mesa " + moved.TableID,
		Details: map[string]any{
			"order_id": moved.ID,
			"room":     room.Display(number),
			"total":    total.StringFixed(2),
			"charges":  len(created),
		},
	})
	b.metrics.OrderClosed("transferred")
	b.publish("tables", "table_transferred_to_room", map[string]any{"table_id": moved.TableID, "room_number": number})
	return created, nil
}

func (b *Book) roomHistoryEntry(o Order, number string, charges []billing.Charge, actor auth.Actor) saleshistory.Entry {
	p := b.pricing(o, decimal.Zero, false)
	items := make([]saleshistory.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, saleshistory.Item{
			ID: it.ID, ProductID: it.ProductID, Name: it.Name, Category: it.Category,
			Price: it.Price, Qty: it.Qty, Waiter: it.Waiter, Source: it.Source, ServiceFeeExempt: it.ServiceFeeExempt,
		})
	}
	total, fee := decimal.Zero, decimal.Zero
	breakdown := money.Breakdown{}
	removed := false
	for _, c := range charges {
		total = total.Add(c.Total)
		fee = fee.Add(c.ServiceFee)
		breakdown.Add(c.WaiterBreakdown)
		removed = removed || c.ServiceFeeRemoved
	}
	return saleshistory.Entry{
		ID:                "SALE_" + b.ids.NewID(),
		OrderID:           o.ID,
		TableID:           o.TableID,
		OpenedAt:          o.OpenedAt,
		ClosedAt:          b.clock.Now(),
		ClosedBy:          actor.Username,
		Waiter:            o.Waiter,
		CustomerType:      o.CustomerType,
		CustomerName:      o.CustomerName,
		RoomNumber:        number,
		NumAdults:         o.NumAdults,
		IsBreakfast:       o.IsBreakfast,
		Items:             items,
		Subtotal:          p.Subtotal,
		ServiceFee:        fee,
		ServiceFeeRemoved: removed,
		FinalTotal:        total,
		Payments:          []saleshistory.Payment{{Method: roomChargeMethod, Amount: total}},
		WaiterBreakdown:   breakdown,
	}
}

// ReturnChargeToTable withdraws a pending restaurant charge from its room and
// reopens it as a table. target defaults to the table the charge came from.
func (b *Book) ReturnChargeToTable(ctx context.Context, chargeID, target string, actor auth.Actor) (Order, error) {
	if b.charges == nil {
		return Order{}, apperr.Internal("orderbook: return charge", errNoRoomBilling)
	}
	c, err := b.charges.GetCharge(chargeID)
	if err != nil {
		return Order{}, err
	}
	if c.Source != enum.SourceRestaurant {
		return Order{}, apperr.Validation("only restaurant charges can go back to a table")
	}
	if !c.IsPending() {
		return Order{}, apperr.Conflict(apperr.CodeConflict, "charge %s is %s", c.ID, c.Status)
	}
	tableID := strings.TrimSpace(target)
	if tableID == "" {
		tableID = c.TableID
	}
	if tableID == "" || strings.ContainsAny(tableID, `/\.`) {
		return Order{}, apperr.Validation("a target table is required")
	}

	var reopened Order
	err = b.docs.WithLock(ctx, tableKey(tableID), func() error {
		if existing, ok := b.read(tableID); ok && existing.Active() {
			return apperr.Conflict(apperr.CodeTableOccupied, "table %s is already open", tableID)
		}
		taken, err := b.charges.TakePending(ctx, chargeID, actor)
		if err != nil {
			return err
		}
		waiter := mainWaiter(taken.WaiterBreakdown)
		if waiter == "" {
			waiter = actor.Username
		}
		items := make([]Item, 0, len(taken.Items))
		for _, ci := range taken.Items {
			id := ci.ID
			if id == "" {
				id = b.ids.NewID()
			}
			kds := ci.KDSStatus
			if kds == "" {
				kds = enum.KDSStatusDone
			}
			items = append(items, Item{
				ID:               id,
				ProductID:        ci.ProductID,
				Name:             ci.Name,
				Category:         ci.Category,
				Price:            ci.Price,
				Qty:              ci.Qty,
				Observations:     ci.Observations,
				Waiter:           ci.Waiter,
				Printed:          true,
				KDSStatus:        kds,
				Source:           ci.Source,
				ServiceFeeExempt: ci.ServiceFeeExempt,
				CreatedAt:        ci.CreatedAt,
			})
		}
		reopened = Order{
			ID:              "ORD_" + b.ids.NewID(),
			TableID:         tableID,
			Status:          enum.OrderStatusOpen,
			OpenedAt:        b.clock.Now(),
			OpenedBy:        actor.Username,
			CustomerType:    enum.CustomerHospede,
			CustomerName:    taken.GuestName,
			RoomNumber:      taken.RoomNumber,
			Waiter:          waiter,
			Items:           items,
			PartialPayments: []PartialPayment{},
		}
		if err := b.save(reopened); err != nil {
			if rErr := b.charges.Restore(ctx, chargeID); rErr != nil {
				log.Error().Err(rErr).Str("charge_id", chargeID).Msg("orderbook: restore room charge failed")
			}
			return err
		}
		reopened.recompute()
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Devolução de Consumo para Mesa",
		Entity:       "Mesa " + tableID,
		Details:      map[string]any{"charge_id": chargeID, "room": room.Display(c.RoomNumber.String()), "total": c.Total.StringFixed(2)},
	})
	b.publish("tables", "table_opened", map[string]any{"table_id": tableID, "from_charge": chargeID})
	return reopened, nil
}
