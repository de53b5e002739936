package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
)

// SessionSource lists every cashier session, open and closed.
type SessionSource interface {
	Sessions() []ledger.Session
}

// Engine binds the pure functions to the live ledger.
type Engine struct {
	source SessionSource
	rate   decimal.Decimal
	loc    *time.Location
	audit  audit.Recorder
}

// NewEngine returns an engine paying ratePercent of the base.
func NewEngine(source SessionSource, ratePercent decimal.Decimal, loc *time.Location, rec audit.Recorder) *Engine {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Engine{source: source, rate: ratePercent, loc: loc, audit: rec}
}

// Rate is the configured percentage.
func (e *Engine) Rate() decimal.Decimal { return e.rate }

// Ranking is Compute over the current ledger.
func (e *Engine) Ranking(from, to time.Time) Ranking {
	return Compute(e.source.Sessions(), from, to)
}

// Month ranks a "YYYY-MM" month.
func (e *Engine) Month(month string) (Ranking, error) {
	from, to, err := MonthRange(month, e.loc)
	if err != nil {
		return Ranking{}, err
	}
	return e.Ranking(from, to), nil
}

// MonthlyTotal computes and audits the commission owed for month.
func (e *Engine) MonthlyTotal(ctx context.Context, month, user string) (decimal.Decimal, error) {
	r, err := e.Month(month)
	if err != nil {
		return decimal.Zero, err
	}
	total := Commission(r.Base, e.rate)
	e.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptFinance,
		ActorID:      user,
		Action:       "Cálculo de Comissão",
		Entity:       month,
		Details: map[string]any{
			"base":    r.Base.StringFixed(2),
			"rate":    e.rate.String(),
			"total":   total.StringFixed(2),
			"waiters": len(r.Entries),
			"removed": len(r.Removed),
		},
	})
	return total, nil
}
