package billing

import (
	"context"
	"fmt"

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
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/room"
)

// Payment is one tender submitted at settlement.
type Payment struct {
	Method string          `json:"method" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// Settlement is the outcome of CloseAccount or PayCharge.
type Settlement struct {
	PaymentGroupID string               `json:"payment_group_id"`
	Charges        []Charge             `json:"charges"`
	Transactions   []ledger.Transaction `json:"transactions"`
	Total          decimal.Decimal      `json:"total"`
	Paid           decimal.Decimal      `json:"paid"`
	Change         decimal.Decimal      `json:"change"`
}

type tender struct {
	method catalog.PaymentMethod
	amount decimal.Decimal
}

type piece struct {
	charge int
	method catalog.PaymentMethod
	amount decimal.Decimal
}

// CloseAccount settles every pending charge of a room.
func (b *Book) CloseAccount(ctx context.Context, number string, payments []Payment, actor auth.Actor) (Settlement, error) {
	canonical := room.Canonical(number)
	if canonical == "" {
		return Settlement{}, apperr.Validation("room number is required")
	}
	return b.settle(ctx, "room "+room.Display(canonical), func(c Charge) bool {
		return room.Equal(c.RoomNumber.String(), canonical)
	}, payments, actor, false)
}

// PayCharge settles one charge. Payments must match its total exactly.
func (b *Book) PayCharge(ctx context.Context, id string, payments []Payment, actor auth.Actor) (Settlement, error) {
	if _, err := b.GetCharge(id); err != nil {
		return Settlement{}, err
	}
	return b.settle(ctx, "charge "+id, func(c Charge) bool { return c.ID == id }, payments, actor, true)
}

func (b *Book) resolve(payments []Payment) ([]tender, decimal.Decimal, error) {
	if len(payments) == 0 {
		return nil, decimal.Zero, apperr.Validation("at least one payment is required")
	}
	out := make([]tender, 0, len(payments))
	paid := decimal.Zero
	for i, p := range payments {
		amount := money.Round2(p.Amount)
		if !amount.IsPositive() {
			return nil, decimal.Zero, apperr.Validation("payment[%d]: amount must be > 0", i)
		}
		pm, err := b.methods.Resolve(p.Method, enum.ContextReception)
		if err != nil {
			return nil, decimal.Zero, err
		}
		out = append(out, tender{method: pm, amount: amount})
		paid = paid.Add(amount)
	}
	return out, paid, nil
}

func (b *Book) settle(ctx context.Context, scope string, match func(Charge) bool, payments []Payment, actor auth.Actor, exact bool) (Settlement, error) {
	tenders, paid, err := b.resolve(payments)
	if err != nil {
		return Settlement{}, err
	}

	var result Settlement
	err = b.docs.WithLock(ctx, ChargesKey, func() error {
		all := b.load()
		var idx []int
		total := decimal.Zero
		for i, c := range all {
			if c.IsPending() && match(c) {
				idx = append(idx, i)
				total = total.Add(c.Total)
			}
		}
		if len(idx) == 0 {
			return apperr.NotFound("pending charges for", scope)
		}
		if !money.Covers(paid, total) {
			return apperr.ValidationCode(apperr.CodeUnderpaid, "payments %s do not cover %s", paid.StringFixed(2), total.StringFixed(2))
		}
		if exact && money.GreaterBeyond(paid, total) {
			return apperr.ValidationCode(apperr.CodeOverpaid, "payments %s exceed the charge total %s", paid.StringFixed(2), total.StringFixed(2))
		}

		ordered, err := cashLast(tenders, total)
		if err != nil {
			return err
		}
		dues := make([]decimal.Decimal, len(idx))
		for j, i := range idx {
			dues[j] = all[i].Total
		}
		pieces := allocate(dues, ordered)
		groupID := b.ids.NewID()
		change := money.Max(paid.Sub(total), decimal.Zero)

		txns := make([]ledger.Transaction, 0, len(pieces))
		for _, chunk := range piecesByCharge(pieces) {
			c := all[idx[chunk[0].charge]]
			shares := splitBreakdown(c.WaiterBreakdown, chunk, c.Total)
			for k, p := range chunk {
				txns = append(txns, ledger.Transaction{
					Type:            enum.TxnSale,
					Amount:          p.amount,
					PaymentMethod:   p.method.Name,
					Description:     fmt.Sprintf("Pagamento Quarto %s (%s)", room.Display(c.RoomNumber.String()), p.method.Name),
					Category:        enum.CategoryRoomPayment,
					User:            actor.Username,
					Waiter:          soleWaiter(shares[k]),
					WaiterBreakdown: shares[k],
					Details: ledger.Details{
						PaymentGroupID:    groupID,
						RelatedChargeID:   c.ID,
						ServiceFeeRemoved: c.ServiceFeeRemoved,
						Fiscal:            p.method.IsFiscal,
					},
				})
			}
		}
		if change.IsPositive() {
			for k := len(txns) - 1; k >= 0; k-- {
				if ledger.IsCashMethod(txns[k].PaymentMethod) {
					ch := change
					txns[k].Details.Change = &ch
					break
				}
			}
		}

		var appended []ledger.Transaction
		if len(txns) > 0 {
			var appendErr error
			appended, appendErr = b.cashier.AppendBatch(ctx, enum.SessionGuestConsumption, txns)
			if appendErr != nil {
				return appendErr
			}
		}

		now := b.clock.Now()
		settled := make([]Charge, 0, len(idx))
		for j, i := range idx {
			c := &all[i]
			var details []PaymentDetail
			methods := map[string]bool{}
			for t, p := range pieces {
				if p.charge != j {
					continue
				}
				details = append(details, PaymentDetail{
					Method:        p.method.Name,
					MethodID:      p.method.ID,
					Amount:        p.amount,
					IsFiscal:      p.method.IsFiscal,
					TransactionID: appended[t].ID,
				})
				methods[p.method.Name] = true
			}
			c.Status = enum.ChargeStatusPaid
			c.PaymentDetails = details
			c.PaymentMethod = methodLabel(methods)
			c.PaymentGroupID = groupID
			c.PaidAt = &now
			c.PaidBy = actor.Username
			settled = append(settled, *c)
		}
		if err := b.docs.Write(ChargesKey, all); err != nil {
			b.compensate(ctx, appended, actor)
			return apperr.Internal("billing: persist settled charges", err)
		}

		result = Settlement{
			PaymentGroupID: groupID,
			Charges:        settled,
			Transactions:   appended,
			Total:          money.Round2(total),
			Paid:           paid,
			Change:         change,
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			b.audit.Record(ctx, audit.Entry{
				DepartmentID: enum.DeptReception,
				ActorID:      actor.Username,
				Action:       "Falha no Fechamento de Conta",
				Severity:     enum.SeverityCritical,
				Details:      map[string]any{"error": err.Error()},
			})
		}
		return Settlement{}, err
	}

	b.enqueueFiscal(ctx, result, actor)
	ids := make([]string, 0, len(result.Charges))
	for _, c := range result.Charges {
		ids = append(ids, c.ID)
	}
	number := result.Charges[0].RoomNumber
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptReception,
		ActorID:      actor.Username,
		Action:       "Fechamento de Conta",
		Entity:       room.Display(number.String()),
		Details: map[string]any{
			"charges":          ids,
			"total":            result.Total.StringFixed(2),
			"paid":             result.Paid.StringFixed(2),
			"payment_group_id": result.PaymentGroupID,
		},
	})
	b.notify(ctx, number, fmt.Sprintf("Pagamento de %s recebido. Obrigado!", money.Format(result.Total)), "account_settled")
	return result, nil
}

// compensate reverses transactions whose charges could not be persisted.
func (b *Book) compensate(ctx context.Context, txns []ledger.Transaction, actor auth.Actor) {
	for _, t := range txns {
		if _, err := b.cashier.ReverseTransaction(ctx, enum.SessionGuestConsumption, t.ID, "ESTORNO AUTOMATICO "+t.Description, actor.Username); err != nil {
			log.Error().Err(err).Str("txn_id", t.ID).Msg("billing: compensating reversal failed")
		}
	}
}

func (b *Book) enqueueFiscal(ctx context.Context, s Settlement, actor auth.Actor) {
	if b.fiscal == nil {
		return
	}
	for _, c := range s.Charges {
		isFiscal := false
		payments := make([]fiscal.Payment, 0, len(c.PaymentDetails))
		for _, d := range c.PaymentDetails {
			isFiscal = isFiscal || d.IsFiscal
			payments = append(payments, fiscal.Payment{Method: d.Method, Amount: d.Amount, IsFiscal: d.IsFiscal})
		}
		if !isFiscal {
			continue
		}
		items := make([]fiscal.Item, 0, len(c.Items))
		for _, it := range c.Items {
			items = append(items, fiscal.Item{Name: it.Name, Qty: it.Qty, Price: it.Price})
		}
		_, err := b.fiscal.Enqueue(ctx, fiscal.Entry{
			Origin:         enum.OriginReception,
			OriginalID:     "CHARGE_" + c.ID,
			TotalAmount:    c.Total,
			Items:          items,
			PaymentMethods: payments,
			User:           actor.Username,
		})
		if err != nil {
			b.metrics.CollaboratorFailed("fiscal_pool")
			log.Error().Err(err).Str("charge_id", c.ID).Msg("billing: fiscal enqueue failed")
			b.audit.Record(ctx, audit.Entry{
				DepartmentID: enum.DeptReception,
				ActorID:      actor.Username,
				Action:       "Falha Fiscal",
				Entity:       c.ID,
				Severity:     enum.SeverityCritical,
				Details:      map[string]any{"error": err.Error()},
			})
		}
	}
}

// cashLast puts card and Pix tenders ahead of cash so a surplus is left on
// cash, the only method that can hand change back. Non-cash tenders beyond
// total are refused.
func cashLast(tenders []tender, total decimal.Decimal) ([]tender, error) {
	out := make([]tender, 0, len(tenders))
	nonCash := decimal.Zero
	for _, t := range tenders {
		if !ledger.IsCashMethod(t.method.Name) {
			out = append(out, t)
			nonCash = nonCash.Add(t.amount)
		}
	}
	if money.GreaterBeyond(nonCash, total) {
		return nil, apperr.ValidationCode(apperr.CodeOverpaid,
			"non-cash payments %s exceed the total %s; change can only be given in cash", nonCash.StringFixed(2), total.StringFixed(2))
	}
	for _, t := range tenders {
		if ledger.IsCashMethod(t.method.Name) {
			out = append(out, t)
		}
	}
	return out, nil
}

// allocate spreads the tenders over the dues in order, first tender first.
// Consecutive slices of the same method on the same charge are merged.
func allocate(dues []decimal.Decimal, tenders []tender) []piece {
	var out []piece
	t := 0
	left := decimal.Zero
	if len(tenders) > 0 {
		left = tenders[0].amount
	}
	for c, due := range dues {
		for due.IsPositive() && t < len(tenders) {
			if !left.IsPositive() {
				t++
				if t < len(tenders) {
					left = tenders[t].amount
				}
				continue
			}
			take := money.Min(due, left)
			m := tenders[t].method
			if n := len(out); n > 0 && out[n-1].charge == c && out[n-1].method.ID == m.ID {
				out[n-1].amount = out[n-1].amount.Add(take)
			} else {
				out = append(out, piece{charge: c, method: m, amount: take})
			}
			due = due.Sub(take)
			left = left.Sub(take)
		}
	}
	return out
}

func piecesByCharge(pieces []piece) [][]piece {
	var out [][]piece
	for _, p := range pieces {
		if n := len(out); n > 0 && out[n-1][0].charge == p.charge {
			out[n-1] = append(out[n-1], p)
			continue
		}
		out = append(out, []piece{p})
	}
	return out
}

// splitBreakdown divides a charge's waiter breakdown across its pieces in
// proportion to their amounts. The last piece takes the remainder so the
// shares sum back to the original per waiter.
func splitBreakdown(wb money.Breakdown, pieces []piece, total decimal.Decimal) []money.Breakdown {
	out := make([]money.Breakdown, len(pieces))
	if len(wb) == 0 {
		return out
	}
	if len(pieces) == 1 || !total.IsPositive() {
		out[len(pieces)-1] = wb.Clone()
		for k := 0; k < len(pieces)-1; k++ {
			out[k] = money.Breakdown{}
		}
		return out
	}
	base := wb.Total()
	given := money.Breakdown{}
	for k, p := range pieces {
		if k == len(pieces)-1 {
			last := money.Breakdown{}
			for w, v := range wb {
				last[w] = v.Sub(given[w])
			}
			out[k] = last
			break
		}
		share := money.Scale(wb, base.Mul(p.amount).Div(total))
		given.Add(share)
		out[k] = share
	}
	return out
}

func soleWaiter(b money.Breakdown) string {
	if len(b) != 1 {
		return ""
	}
	for w := range b {
		return w
	}
	return ""
}

func methodLabel(methods map[string]bool) string {
	switch len(methods) {
	case 0:
		return ""
	case 1:
		for m := range methods {
			return m
		}
	}
	return "Múltiplo"
}
