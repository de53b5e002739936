package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DisplayPart is one payment inside a display group.
type DisplayPart struct {
	Method  string          `json:"method"`
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
}

// DisplayRow is a transaction, or several sharing a payment group folded
// into one row.
type DisplayRow struct {
	Transaction
	IsGroup bool          `json:"is_group"`
	Parts   []DisplayPart `json:"sub_transactions,omitempty"`
}

// MultipleMethods labels a folded row paid with several methods.
const MultipleMethods = "Múltiplo"

// GroupForDisplay folds transactions sharing a payment_group_id into one row
// positioned where the group's first transaction appears.
func GroupForDisplay(txns []Transaction) []DisplayRow {
	groups := make(map[string][]Transaction)
	for _, t := range txns {
		if gid := t.Details.PaymentGroupID; gid != "" {
			groups[gid] = append(groups[gid], t)
		}
	}

	rows := make([]DisplayRow, 0, len(txns))
	seen := make(map[string]bool)
	for _, t := range txns {
		gid := t.Details.PaymentGroupID
		if gid == "" || len(groups[gid]) == 1 {
			rows = append(rows, DisplayRow{Transaction: t})
			continue
		}
		if seen[gid] {
			continue
		}
		seen[gid] = true

		members := groups[gid]
		total := decimal.Zero
		for _, m := range members {
			total = total.Add(m.Amount)
		}
		row := DisplayRow{Transaction: members[0], IsGroup: true}
		row.Amount = total
		row.PaymentMethod = MultipleMethods
		if i := strings.LastIndex(row.Description, " - "); i > 0 {
			row.Description = row.Description[:i]
		}
		for _, m := range members {
			pct := decimal.Zero
			if !total.IsZero() {
				pct = m.Amount.Div(total).Mul(decimal.NewFromInt(100)).Round(1)
			}
			row.Parts = append(row.Parts, DisplayPart{Method: m.PaymentMethod, Amount: m.Amount, Percent: pct})
		}
		rows = append(rows, row)
	}
	return rows
}
