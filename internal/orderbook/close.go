package orderbook

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/fiscal"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/notify"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/saleshistory"
)

// CloseRequest settles a table.
type CloseRequest struct {
	TableID          string          `json:"table_id" validate:"required"`
	Payments         []Payment       `json:"payments" validate:"dive"`
	Discount         decimal.Decimal `json:"discount"`
	RemoveServiceFee bool            `json:"remove_service_fee"`
	CustomerDocument string          `json:"customer_document"`
}

// CloseResult is what a close produced.
type CloseResult struct {
	Entry        saleshistory.Entry   `json:"entry"`
	Transactions []ledger.Transaction `json:"transactions"`
	Change       decimal.Decimal      `json:"change"`
}

type tender struct {
	method catalog.PaymentMethod
	amount decimal.Decimal
}

func (b *Book) resolveTenders(payments []Payment) ([]tender, error) {
	out := make([]tender, 0, len(payments))
	for i, p := range payments {
		amount := money.Round2(p.Amount)
		if !amount.IsPositive() {
			return nil, apperr.Validation("payment %d: amount must be > 0", i)
		}
		m, err := b.methods.Resolve(p.Method, enum.ContextRestaurant)
		if err != nil {
			return nil, err
		}
		out = append(out, tender{method: m, amount: amount})
	}
	return out, nil
}

// deductChange takes change off the cash tenders, last one first, so the
// kept amounts sum to what was owed. It returns the index of the tender that
// handed the change back, or -1 when there is none. Card and Pix cannot give
// change, so a surplus larger than the cash tendered is refused.
func deductChange(tenders []tender, change decimal.Decimal) ([]decimal.Decimal, int, error) {
	net := make([]decimal.Decimal, len(tenders))
	for i, t := range tenders {
		net[i] = t.amount
	}
	if !change.IsPositive() {
		return net, -1, nil
	}
	left, giver := change, -1
	for i := len(net) - 1; i >= 0 && left.IsPositive(); i-- {
		if !ledger.IsCashMethod(tenders[i].method.Name) {
			continue
		}
		take := money.Min(net[i], left)
		net[i] = net[i].Sub(take)
		left = left.Sub(take)
		if giver < 0 {
			giver = i
		}
	}
	if money.GreaterBeyond(left, decimal.Zero) {
		return nil, -1, apperr.ValidationCode(apperr.CodeOverpaid,
			"change %s cannot be given back from non-cash payments", change.StringFixed(2)).
			WithDetail("change", change.StringFixed(2))
	}
	return net, giver, nil
}

// CloseOrder settles the table: posts one restaurant sale per new payment,
// archives the order and frees the table.
func (b *Book) CloseOrder(ctx context.Context, req CloseRequest, actor auth.Actor) (CloseResult, error) {
	if req.Discount.IsNegative() {
		return CloseResult{}, apperr.Validation("discount must be >= 0")
	}
	tenders, err := b.resolveTenders(req.Payments)
	if err != nil {
		return CloseResult{}, err
	}

	var (
		res    CloseResult
		closed Order
		p      Pricing
	)
	err = b.docs.WithLock(ctx, tableKey(req.TableID), func() error {
		o, err := b.active(req.TableID)
		if err != nil {
			return err
		}
		p = b.pricing(o, req.Discount, req.RemoveServiceFee)
		if money.GreaterBeyond(p.Discount, p.Subtotal) {
			return apperr.Validation("discount %s exceeds the subtotal %s", p.Discount.StringFixed(2), p.Subtotal.StringFixed(2))
		}
		if money.GreaterBeyond(o.TotalPaid, p.GrandTotal) {
			return apperr.Conflict(apperr.CodePaymentBound,
				"partial payments %s exceed the new total %s", o.TotalPaid.StringFixed(2), p.GrandTotal.StringFixed(2))
		}

		tendered := decimal.Zero
		for _, t := range tenders {
			tendered = tendered.Add(t.amount)
		}
		if !money.Covers(tendered.Add(o.TotalPaid), p.GrandTotal) {
			due := p.GrandTotal.Sub(o.TotalPaid)
			return apperr.ValidationCode(apperr.CodeUnderpaid,
				"payments %s do not cover the remaining %s", tendered.StringFixed(2), due.StringFixed(2)).
				WithDetail("remaining", due.StringFixed(2))
		}
		change := money.Max(money.Round2(tendered.Add(o.TotalPaid).Sub(p.GrandTotal)), decimal.Zero)
		net, giver, err := deductChange(tenders, change)
		if err != nil {
			return err
		}

		txns := b.closeTransactions(o, p, tenders, net, giver, change, req.RemoveServiceFee, actor)
		var appended []ledger.Transaction
		if len(txns) > 0 {
			appended, err = b.cashier.AppendBatch(ctx, enum.SessionRestaurant, txns)
			if err != nil {
				return err
			}
		}

		entry := b.historyEntry(o, p, req, tenders, appended, change, actor)
		if b.history != nil {
			if err := b.history.Append(ctx, entry); err != nil {
				b.reverse(ctx, appended, actor)
				return err
			}
		}
		if err := b.release(o.TableID); err != nil {
			if b.history != nil {
				if rmErr := b.history.Remove(ctx, entry.ID); rmErr != nil {
					log.Error().Err(rmErr).Str("entry_id", entry.ID).Msg("orderbook: undo sales history failed")
				}
			}
			b.reverse(ctx, appended, actor)
			return apperr.Internal("orderbook: release table", err)
		}
		closed = o
		res = CloseResult{Entry: entry, Transactions: appended, Change: change}
		return nil
	})
	if err != nil {
		b.metrics.OrderClosed("failed")
		return CloseResult{}, err
	}

	b.enqueueFiscal(ctx, closed, res.Entry, tenders, actor)
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Fechamento de Mesa",
		Entity:       "Mesa " + closed.TableID,
		Details: map[string]any{
			"order_id":    closed.ID,
			"total":       p.GrandTotal.StringFixed(2),
			"service_fee": p.ServiceFee.StringFixed(2),
			"discount":    p.Discount.StringFixed(2),
			"fee_removed": req.RemoveServiceFee,
		},
	})
	if closed.ReopenedAfterPull && closed.ItemsRemovedAfterReopen {
		b.audit.Record(ctx, audit.Entry{
			DepartmentID: enum.DeptRestaurant,
			ActorID:      actor.Username,
			Action:       "Fechamento Suspeito",
			Entity:       "Mesa " + closed.TableID,
			Severity:     enum.SeverityWarning,
			Details:      map[string]any{"order_id": closed.ID, "total": p.GrandTotal.StringFixed(2)},
		})
	}
	b.print(ctx, notify.PrintJob{
		ID:        b.ids.NewID(),
		Kind:      notify.JobReceipt,
		TableID:   closed.TableID,
		Title:     "Mesa " + closed.TableID,
		Lines:     billLines(closed, p),
		CreatedAt: b.clock.Now(),
	})
	b.metrics.OrderClosed("closed")
	b.publish("tables", "table_closed", map[string]any{"table_id": closed.TableID, "total": p.GrandTotal})
	return res, nil
}

// closeTransactions builds one sale per new tender. With no new tender a
// zero sale still carries the commission breakdown.
func (b *Book) closeTransactions(o Order, p Pricing, tenders []tender, net []decimal.Decimal, giver int, change decimal.Decimal, feeRemoved bool, actor auth.Actor) []ledger.Transaction {
	group := b.ids.NewID()
	waiter := mainWaiter(p.Commissionable)
	if waiter == "" {
		waiter = o.Waiter
	}
	base := ledger.Transaction{
		Type:        enum.TxnSale,
		Description: fmt.Sprintf("Venda Mesa %s", o.TableID),
		Category:    enum.CategoryRestaurantSale,
		User:        actor.Username,
		Waiter:      waiter,
	}
	details := func(isFiscal bool) ledger.Details {
		return ledger.Details{
			PaymentGroupID:    group,
			RelatedOrderID:    o.ID,
			ServiceFeeRemoved: feeRemoved,
			Fiscal:            isFiscal,
		}
	}

	if len(tenders) == 0 {
		if len(p.Commissionable) == 0 {
			return nil
		}
		t := base
		t.Amount = decimal.Zero
		t.PaymentMethod = "-"
		t.WaiterBreakdown = p.Commissionable.Clone()
		t.Details = details(false)
		return []ledger.Transaction{t}
	}

	shares := splitPro(p.Commissionable, net)
	txns := make([]ledger.Transaction, 0, len(tenders))
	for i, td := range tenders {
		t := base
		t.Amount = net[i]
		t.PaymentMethod = td.method.Name
		if len(shares[i]) > 0 {
			t.WaiterBreakdown = shares[i]
		}
		t.Details = details(td.method.IsFiscal)
		txns = append(txns, t)
	}
	if giver >= 0 {
		c := change
		txns[giver].Details.Change = &c
	}
	return txns
}

func (b *Book) historyEntry(o Order, p Pricing, req CloseRequest, tenders []tender, appended []ledger.Transaction, change decimal.Decimal, actor auth.Actor) saleshistory.Entry {
	items := make([]saleshistory.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, saleshistory.Item{
			ID:               it.ID,
			ProductID:        it.ProductID,
			Name:             it.Name,
			Category:         it.Category,
			Price:            it.Price,
			Qty:              it.Qty,
			Waiter:           it.Waiter,
			Source:           it.Source,
			ServiceFeeExempt: it.ServiceFeeExempt,
		})
	}
	payments := make([]saleshistory.Payment, 0, len(o.PartialPayments)+len(tenders))
	paid := decimal.Zero
	for _, pp := range o.PartialPayments {
		payments = append(payments, saleshistory.Payment{Method: pp.Method, Amount: pp.Amount, Partial: true, TransactionID: pp.CashierTransactionID})
		paid = paid.Add(pp.Amount)
	}
	group := ""
	for i := range tenders {
		if i >= len(appended) {
			break
		}
		t := appended[i]
		payments = append(payments, saleshistory.Payment{Method: t.PaymentMethod, Amount: t.Amount, TransactionID: t.ID})
		paid = paid.Add(t.Amount)
		group = t.Details.PaymentGroupID
	}
	if group == "" && len(appended) > 0 {
		group = appended[0].Details.PaymentGroupID
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
		CustomerDocument:  strings.TrimSpace(req.CustomerDocument),
		RoomNumber:        o.RoomNumber.String(),
		NumAdults:         o.NumAdults,
		IsBreakfast:       o.IsBreakfast,
		Items:             items,
		Subtotal:          p.Subtotal,
		Discount:          p.Discount,
		ServiceFee:        p.ServiceFee,
		ServiceFeeRemoved: req.RemoveServiceFee,
		FinalTotal:        p.GrandTotal,
		TotalPaid:         money.Round2(paid),
		Change:            change,
		Payments:          payments,
		PaymentGroupID:    group,
		WaiterBreakdown:   p.Commissionable.Clone(),
	}
}

// enqueueFiscal stages one entry per fiscal method used on the order,
// partial payments included.
func (b *Book) enqueueFiscal(ctx context.Context, o Order, e saleshistory.Entry, tenders []tender, actor auth.Actor) {
	if b.fiscal == nil {
		return
	}
	fiscalByName := map[string]bool{}
	for _, pp := range o.PartialPayments {
		if pp.IsFiscal {
			fiscalByName[pp.Method] = true
		}
	}
	for _, t := range tenders {
		if t.method.IsFiscal {
			fiscalByName[t.method.Name] = true
		}
	}
	var order []string
	totals := map[string]decimal.Decimal{}
	for _, pay := range e.Payments {
		if !fiscalByName[pay.Method] || !pay.Amount.IsPositive() {
			continue
		}
		if _, seen := totals[pay.Method]; !seen {
			order = append(order, pay.Method)
		}
		totals[pay.Method] = totals[pay.Method].Add(pay.Amount)
	}
	if len(order) == 0 {
		return
	}
	items := make([]fiscal.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, fiscal.Item{Name: it.Name, Qty: it.Qty, Price: it.Price})
	}
	for _, method := range order {
		total := money.Round2(totals[method])
		_, err := b.fiscal.Enqueue(ctx, fiscal.Entry{
			Origin:           enum.OriginRestaurant,
			OriginalID:       o.ID,
			TotalAmount:      total,
			Items:            items,
			PaymentMethods:   []fiscal.Payment{{Method: method, Amount: total, IsFiscal: true}},
			User:             actor.Username,
			CustomerDocument: e.CustomerDocument,
		})
		if err != nil {
			b.metrics.CollaboratorFailed("fiscal_pool")
			log.Error().Err(err).Str("order_id", o.ID).Str("method", method).Msg("orderbook: fiscal enqueue failed")
			b.audit.Record(ctx, audit.Entry{
				DepartmentID: enum.DeptRestaurant,
				ActorID:      actor.Username,
				Action:       "Falha Fiscal",
				Entity:       o.ID,
				Severity:     enum.SeverityCritical,
				Details:      map[string]any{"error": err.Error(), "method": method},
			})
		}
	}
}

// stockLines lists the recipe quantities a failed stock return left behind.
func stockLines(items []Item) []string {
	var out []string
	for _, it := range items {
		for _, ing := range it.Recipe {
			out = append(out, fmt.Sprintf("%s %s", ing.IngredientID, ing.Qty.Mul(it.Qty).String()))
		}
	}
	return out
}

// billLines renders the items and totals for a bill or receipt.
func billLines(o Order, p Pricing) []string {
	lines := make([]string, 0, len(o.Items)+4)
	for _, it := range o.Items {
		lines = append(lines, fmt.Sprintf("%s x %s  %s", it.Qty.String(), it.Name, money.Format(it.Total())))
	}
	lines = append(lines, "Subtotal "+money.Format(p.Subtotal))
	if p.Discount.IsPositive() {
		lines = append(lines, "Desconto "+money.Format(p.Discount))
	}
	if p.FeeApplied {
		lines = append(lines, "Serviço "+money.Format(p.ServiceFee))
	}
	lines = append(lines, "Total "+money.Format(p.GrandTotal))
	if o.TotalPaid.IsPositive() {
		lines = append(lines, "Pago "+money.Format(o.TotalPaid))
	}
	return lines
}

// CancelTable discards an open table: partial payments are reversed, stock
// returned and the table freed. Elevated only.
func (b *Book) CancelTable(ctx context.Context, tableID, reason, password string, actor auth.Actor) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.Validation("a cancellation reason is required")
	}
	approver, err := b.authorize(ctx, actor, password, "cancel_table", "Mesa "+tableID)
	if err != nil {
		return err
	}

	var canceled Order
	err = b.docs.WithLock(ctx, tableKey(tableID), func() error {
		o, err := b.active(tableID)
		if err != nil {
			return err
		}
		for len(o.PartialPayments) > 0 {
			pp := o.PartialPayments[0]
			_, err := b.cashier.ReverseTransaction(ctx, enum.SessionRestaurant, pp.CashierTransactionID,
				fmt.Sprintf("ESTORNO Cancelamento Mesa %s", tableID), actor.Username)
			if err != nil && apperr.CodeOf(err) != apperr.CodeConflict {
				// keep what was reversed so a retry picks up the rest
				if saveErr := b.save(o); saveErr != nil {
					log.Error().Err(saveErr).Str("table_id", tableID).Msg("orderbook: save after partial cancel failed")
				}
				return err
			}
			o.PartialPayments = o.PartialPayments[1:]
		}
		if _, err := b.moveStock(ctx, o.Items, 1, "Cancelamento", o.ID, actor.Username); err != nil {
			// the table is still freed; stock is fixed by hand from the audit trail
			log.Error().Err(err).Str("order_id", o.ID).Msg("orderbook: stock return on cancel failed")
			b.audit.Record(ctx, audit.Entry{
				DepartmentID: enum.DeptRestaurant,
				ActorID:      actor.Username,
				Action:       "Falha no Estorno de Estoque",
				Entity:       "Mesa " + tableID,
				Severity:     enum.SeverityCritical,
				Details: map[string]any{
					"order_id": o.ID,
					"items":    stockLines(o.Items),
					"error":    err.Error(),
				},
			})
		}
		if err := b.release(tableID); err != nil {
			return apperr.Internal("orderbook: release table", err)
		}
		canceled = o
		return nil
	})
	if err != nil {
		return err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Cancelamento de Mesa",
		Entity:       "Mesa " + tableID,
		Severity:     enum.SeverityWarning,
		Details: map[string]any{
			"order_id":    canceled.ID,
			"reason":      reason,
			"approved_by": approver,
			"total":       canceled.Total.StringFixed(2),
		},
	})
	b.metrics.OrderClosed("canceled")
	b.publish("tables", "table_canceled", map[string]any{"table_id": tableID})
	return nil
}
