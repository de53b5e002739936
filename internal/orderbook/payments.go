package orderbook

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
)

// Payment is one tender submitted by the floor.
type Payment struct {
	Method string          `json:"method" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// AddPartialPayment takes money against an open table before close and posts
// it to the restaurant cashier.
func (b *Book) AddPartialPayment(ctx context.Context, tableID string, pay Payment, actor auth.Actor) (PartialPayment, error) {
	amount := money.Round2(pay.Amount)
	if !amount.IsPositive() {
		return PartialPayment{}, apperr.Validation("amount must be > 0")
	}
	method, err := b.methods.Resolve(pay.Method, enum.ContextRestaurant)
	if err != nil {
		return PartialPayment{}, err
	}

	var pp PartialPayment
	err = b.docs.WithLock(ctx, tableKey(tableID), func() error {
		o, err := b.active(tableID)
		if err != nil {
			return err
		}
		remaining := b.pricing(o, decimal.Zero, false).GrandTotal.Sub(o.TotalPaid)
		if money.GreaterBeyond(amount, remaining) {
			return apperr.ValidationCode(apperr.CodeOverpaid, "amount %s exceeds the remaining %s", amount.StringFixed(2), remaining.StringFixed(2))
		}

		txn, err := b.cashier.AddTransaction(ctx, enum.SessionRestaurant, ledger.Transaction{
			Type:          enum.TxnSale,
			Amount:        amount,
			PaymentMethod: method.Name,
			Description:   fmt.Sprintf("Pagamento Parcial Mesa %s", tableID),
			Category:      enum.CategoryPartialPayment,
			User:          actor.Username,
			Waiter:        o.Waiter,
			Details: ledger.Details{
				PaymentGroupID: b.ids.NewID(),
				RelatedOrderID: o.ID,
				PartialPayment: true,
				Fiscal:         method.IsFiscal,
			},
		})
		if err != nil {
			return err
		}

		pp = PartialPayment{
			ID:                   b.ids.NewID(),
			Amount:               amount,
			Method:               method.Name,
			MethodID:             method.ID,
			IsFiscal:             method.IsFiscal,
			Timestamp:            txn.Timestamp,
			User:                 actor.Username,
			CashierTransactionID: txn.ID,
		}
		o.PartialPayments = append(o.PartialPayments, pp)
		if err := b.save(o); err != nil {
			b.reverse(ctx, []ledger.Transaction{txn}, actor)
			return err
		}
		return nil
	})
	if err != nil {
		return PartialPayment{}, err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Pagamento Parcial",
		Entity:       "Mesa " + tableID,
		Details:      map[string]any{"amount": amount.StringFixed(2), "method": method.Name, "payment_id": pp.ID},
	})
	return pp, nil
}

// VoidPartialPayment removes a partial payment from an open table and posts
// the reversing cashier entry. Closed tables cannot be voided.
func (b *Book) VoidPartialPayment(ctx context.Context, tableID, paymentID string, actor auth.Actor) (ledger.Transaction, error) {
	var rev ledger.Transaction
	var voided PartialPayment
	err := b.docs.WithLock(ctx, tableKey(tableID), func() error {
		o, err := b.active(tableID)
		if err != nil {
			return err
		}
		idx := -1
		for i, p := range o.PartialPayments {
			if p.ID == paymentID {
				idx = i
			}
		}
		if idx < 0 {
			return apperr.NotFound("partial payment", paymentID)
		}
		voided = o.PartialPayments[idx]

		rev, err = b.cashier.ReverseTransaction(ctx, enum.SessionRestaurant, voided.CashierTransactionID,
			fmt.Sprintf("ESTORNO Pagamento Parcial Mesa %s", tableID), actor.Username)
		// a reversal left behind by an earlier attempt whose order write failed
		if apperr.KindOf(err) == apperr.KindConflict && apperr.CodeOf(err) == apperr.CodeConflict {
			log.Warn().Str("txn_id", voided.CashierTransactionID).Msg("orderbook: partial payment already reversed, dropping it")
			err = nil
		}
		if err != nil {
			return err
		}

		o.PartialPayments = append(o.PartialPayments[:idx], o.PartialPayments[idx+1:]...)
		return b.save(o)
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Estorno de Pagamento Parcial",
		Entity:       "Mesa " + tableID,
		Severity:     enum.SeverityWarning,
		Details:      map[string]any{"payment_id": paymentID, "amount": voided.Amount.StringFixed(2), "method": voided.Method},
	})
	return rev, nil
}

// reverse undoes restaurant transactions whose order change failed to persist.
func (b *Book) reverse(ctx context.Context, txns []ledger.Transaction, actor auth.Actor) {
	for _, t := range txns {
		if _, err := b.cashier.ReverseTransaction(ctx, enum.SessionRestaurant, t.ID, "ESTORNO AUTOMATICO "+t.Description, actor.Username); err != nil {
			log.Error().Err(err).Str("txn_id", t.ID).Msg("orderbook: compensating reversal failed")
			b.audit.Record(ctx, audit.Entry{
				DepartmentID: enum.DeptFinance,
				ActorID:      actor.Username,
				Action:       "Falha de Compensação",
				Entity:       t.ID,
				Severity:     enum.SeverityCritical,
				Details:      map[string]any{"error": err.Error()},
			})
		}
	}
}
