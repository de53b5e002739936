package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
)

var (
	cashKeywords    = []string{"dinheiro", "especie", "transfer"}
	nonCashKeywords = []string{"cartao", "credito", "debito", "pix", "cheque"}
)

// IsCashMethod reports whether a payment method moves physical cash.
// Internal transfers between drawers count as cash.
func IsCashMethod(method string) bool {
	m := catalog.Normalize(method)
	for _, k := range nonCashKeywords {
		if strings.Contains(m, k) {
			return false
		}
	}
	for _, k := range cashKeywords {
		if strings.Contains(m, k) {
			return true
		}
	}
	return false
}

// CashBalance is the physical cash expected in the drawer: the opening float
// plus cash-method movements.
func CashBalance(s Session) decimal.Decimal {
	total := s.OpeningBalance
	for _, t := range s.Transactions {
		if !IsCashMethod(t.PaymentMethod) {
			continue
		}
		switch t.Type {
		case enum.TxnSale, enum.TxnIn:
			total = total.Add(t.Amount)
		case enum.TxnOut, enum.TxnWithdrawal:
			total = total.Sub(t.Amount)
		}
	}
	return money.Round2(total)
}

// cashEffect is the signed change t makes to the drawer.
func cashEffect(t Transaction) decimal.Decimal {
	if !IsCashMethod(t.PaymentMethod) {
		return decimal.Zero
	}
	switch t.Type {
	case enum.TxnSale, enum.TxnIn:
		return t.Amount
	case enum.TxnOut, enum.TxnWithdrawal:
		return t.Amount.Neg()
	}
	return decimal.Zero
}

// checkCash rejects a transaction that would take more cash out of the drawer
// than it holds.
func checkCash(s Session, t Transaction) error {
	effect := cashEffect(t)
	if !effect.IsNegative() {
		return nil
	}
	available := CashBalance(s)
	if money.GreaterBeyond(effect.Neg(), available) {
		return apperr.Conflict(apperr.CodeInsufficientCash,
			"insufficient cash: available %s, requested %s", available.StringFixed(2), effect.Neg().StringFixed(2)).
			WithDetail("available", available.StringFixed(2))
	}
	return nil
}
