package orderbook

import (
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
)

// Pricing is the money view of an order at a point in time.
type Pricing struct {
	Subtotal   decimal.Decimal
	Taxable    decimal.Decimal
	Discount   decimal.Decimal
	ServiceFee decimal.Decimal
	FeeApplied bool
	GrandTotal decimal.Decimal
	// Commissionable is the per-waiter base: non-exempt items scaled by the
	// fee factor actually applied.
	Commissionable money.Breakdown
}

// Price computes the totals of items. The fee is charged on the
// pre-discount subtotal of non-exempt items; the discount comes off first.
func Price(items []Item, rate, discount decimal.Decimal, removeFee bool) Pricing {
	p := Pricing{Discount: money.Round2(discount), Commissionable: money.Breakdown{}}
	weights := money.Breakdown{}
	for _, it := range items {
		v := it.Total()
		p.Subtotal = p.Subtotal.Add(v)
		if it.ServiceFeeExempt {
			continue
		}
		p.Taxable = p.Taxable.Add(v)
		weights[it.Waiter] = weights[it.Waiter].Add(v)
	}
	p.Subtotal = money.Round2(p.Subtotal)
	p.Taxable = money.Round2(p.Taxable)

	factor := decimal.NewFromInt(1)
	if !removeFee && p.Taxable.IsPositive() && rate.IsPositive() {
		p.FeeApplied = true
		p.ServiceFee = money.Round2(p.Taxable.Mul(rate))
		factor = factor.Add(rate)
	}
	p.GrandTotal = money.Max(money.Round2(p.Subtotal.Sub(p.Discount).Add(p.ServiceFee)), decimal.Zero)
	if len(weights) > 0 {
		p.Commissionable = money.Scale(weights, p.Taxable.Mul(factor))
	}
	return p
}

// mainWaiter is the waiter with the largest share, ties by name.
func mainWaiter(b money.Breakdown) string {
	best := ""
	for w, v := range b {
		if best == "" || v.GreaterThan(b[best]) || (v.Equal(b[best]) && w < best) {
			best = w
		}
	}
	return best
}

// splitPro distributes wb over amounts in proportion; the last share takes
// the remainder so each waiter's total is conserved.
func splitPro(wb money.Breakdown, amounts []decimal.Decimal) []money.Breakdown {
	out := make([]money.Breakdown, len(amounts))
	if len(amounts) == 0 {
		return out
	}
	total := money.Sum(amounts...)
	if len(amounts) == 1 || !total.IsPositive() {
		for i := range out {
			out[i] = money.Breakdown{}
		}
		out[len(out)-1] = wb.Clone()
		return out
	}
	base := wb.Total()
	given := money.Breakdown{}
	for i, a := range amounts {
		if i == len(amounts)-1 {
			last := money.Breakdown{}
			for w, v := range wb {
				last[w] = v.Sub(given[w])
			}
			out[i] = last
			break
		}
		share := money.Scale(wb, base.Mul(a).Div(total))
		given.Add(share)
		out[i] = share
	}
	return out
}
