package ledger

import (
	"context"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
)

func isReversed(s Session, txnID string) bool {
	for _, t := range s.Transactions {
		if t.Details.ReversesID == txnID {
			return true
		}
	}
	return false
}

func (l *Ledger) reversalOf(orig Transaction, description, user string) Transaction {
	rev := Transaction{
		Type:          orig.Type,
		Amount:        orig.Amount.Neg(),
		PaymentMethod: orig.PaymentMethod,
		Description:   description,
		Category:      enum.CategoryReversal,
		User:          user,
		Waiter:        orig.Waiter,
		Details: Details{
			ReversesID:      orig.ID,
			RelatedOrderID:  orig.Details.RelatedOrderID,
			RelatedChargeID: orig.Details.RelatedChargeID,
			PartialPayment:  orig.Details.PartialPayment,
		},
	}
	if orig.WaiterBreakdown != nil {
		rev.WaiterBreakdown = make(money.Breakdown, len(orig.WaiterBreakdown))
		for k, v := range orig.WaiterBreakdown {
			rev.WaiterBreakdown[k] = v.Neg()
		}
	}
	return l.stamp(rev)
}

// ReverseTransaction appends a negated copy of txnID to the open session of
// typ. The original may live in an earlier, closed session of the same type.
func (l *Ledger) ReverseTransaction(ctx context.Context, typ, txnID, description, user string) (Transaction, error) {
	typ, err := CanonicalType(typ)
	if err != nil {
		return Transaction{}, err
	}
	var rev Transaction
	err = l.docs.WithLock(ctx, SessionsKey, func() error {
		sessions := l.load()
		open := findOpen(sessions, typ)
		if open < 0 {
			return apperr.ErrNoOpenSession.WithDetail("type", typ)
		}
		var orig *Transaction
		for si := range sessions {
			if sessions[si].Type != typ {
				continue
			}
			for ti := range sessions[si].Transactions {
				if sessions[si].Transactions[ti].ID == txnID {
					orig = &sessions[si].Transactions[ti]
				}
			}
		}
		if orig == nil {
			return apperr.NotFound("transaction", txnID)
		}
		if orig.Details.ReversesID != "" {
			return apperr.Conflict(apperr.CodeConflict, "transaction %s is itself a reversal", txnID)
		}
		for si := range sessions {
			if sessions[si].Type == typ && isReversed(sessions[si], txnID) {
				return apperr.Conflict(apperr.CodeConflict, "transaction %s already reversed", txnID)
			}
		}
		if description == "" {
			description = "ESTORNO " + orig.Description
		}
		rev = l.reversalOf(*orig, description, user)
		if err := checkCash(sessions[open], rev); err != nil {
			return err
		}
		sessions[open].Transactions = append(sessions[open].Transactions, rev)
		return l.docs.Write(SessionsKey, sessions)
	})
	if err != nil {
		return Transaction{}, err
	}
	l.metrics.Transaction(typ, rev.Type)
	l.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptFinance,
		ActorID:      user,
		Action:       "Estorno de Transação",
		Entity:       txnID,
		Severity:     enum.SeverityWarning,
		Details:      map[string]any{"reversal_id": rev.ID, "amount": rev.Amount.StringFixed(2)},
	})
	return rev, nil
}
