// Package money holds the two-decimal arithmetic used for every amount in the core.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance for amount comparisons.
var Epsilon = decimal.RequireFromString("0.01")

// Zero is a convenience alias.
var Zero = decimal.Zero

// Round2 rounds half away from zero to two places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Equal reports |a-b| < Epsilon.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Epsilon)
}

// GreaterBeyond reports a > b + Epsilon, i.e. a exceeds b by at least a cent.
func GreaterBeyond(a, b decimal.Decimal) bool {
	return a.Sub(b).GreaterThanOrEqual(Epsilon)
}

// Covers reports a >= b - Epsilon.
func Covers(a, b decimal.Decimal) bool {
	return !GreaterBeyond(b, a)
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// FromFloat converts a float read from legacy documents, rounding to cents.
func FromFloat(f float64) decimal.Decimal {
	return Round2(decimal.NewFromFloat(f))
}

// Parse reads an amount typed by a user: "12,50", "12.50", " 12 " are accepted.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Round2(d), nil
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Format renders an amount the way receipts show it: "R$ 1234.50".
func Format(d decimal.Decimal) string {
	return "R$ " + d.StringFixed(2)
}

// Breakdown maps a name (usually a waiter) to an amount.
type Breakdown map[string]decimal.Decimal

// Total sums every share.
func (b Breakdown) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range b {
		total = total.Add(v)
	}
	return total
}

// Clone returns an independent copy.
func (b Breakdown) Clone() Breakdown {
	if b == nil {
		return nil
	}
	out := make(Breakdown, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Add accumulates other into b.
func (b Breakdown) Add(other Breakdown) {
	for k, v := range other {
		b[k] = b[k].Add(v)
	}
}

// MarshalJSON writes amounts as fixed two-decimal numbers.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	raw := make(map[string]json.Number, len(b))
	for k, v := range b {
		raw[k] = json.Number(v.StringFixed(2))
	}
	return json.Marshal(raw)
}

// largestKey returns the key with the largest value, ties broken by name.
func (b Breakdown) largestKey() string {
	best := ""
	bestVal := decimal.Zero
	first := true
	for k, v := range b {
		if first || v.GreaterThan(bestVal) || (v.Equal(bestVal) && k < best) {
			best, bestVal, first = k, v, false
		}
	}
	return best
}

// Scale distributes target across the keys of weights proportionally, rounding
// every share to cents and assigning the rounding residual to the largest share
// so the result sums exactly to Round2(target).
func Scale(weights Breakdown, target decimal.Decimal) Breakdown {
	target = Round2(target)
	total := weights.Total()
	out := make(Breakdown, len(weights))
	if len(weights) == 0 {
		return out
	}
	if total.IsZero() {
		for k := range weights {
			out[k] = decimal.Zero
		}
		out[weights.largestKey()] = target
		return out
	}
	allocated := decimal.Zero
	for k, w := range weights {
		share := Round2(target.Mul(w).Div(total))
		out[k] = share
		allocated = allocated.Add(share)
	}
	if residual := target.Sub(allocated); !residual.IsZero() {
		key := weights.largestKey()
		out[key] = out[key].Add(residual)
	}
	return out
}
