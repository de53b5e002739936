// Package stock records inventory movements produced by sales. Every
// movement is appended to a journal; levels are the running sum per product.
package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// MovementsKey is the journal's store key.
const MovementsKey = "stock_movements"

// Movement is one signed quantity change of an ingredient.
type Movement struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Delta     decimal.Decimal `json:"delta"`
	Reason    string          `json:"reason"`
	Ref       string          `json:"ref"`
	User      string          `json:"user,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Journal is the store-backed stock collaborator.
type Journal struct {
	docs  store.Documents
	clock clock.Clock
	ids   clock.IDGenerator
}

func NewJournal(docs store.Documents, c clock.Clock, ids clock.IDGenerator) *Journal {
	return &Journal{docs: docs, clock: c, ids: ids}
}

// ApplyMovement appends m to the journal.
func (j *Journal) ApplyMovement(ctx context.Context, m Movement) (Movement, error) {
	if m.ProductID == "" {
		return Movement{}, apperr.Validation("stock movement without product")
	}
	if m.Delta.IsZero() {
		return Movement{}, apperr.Validation("stock movement with zero quantity")
	}
	m.ID = j.ids.NewID()
	m.Timestamp = j.clock.Now()
	err := j.docs.WithLock(ctx, MovementsKey, func() error {
		all := store.Load(j.docs, MovementsKey, []Movement{})
		all = append(all, m)
		return j.docs.Write(MovementsKey, all)
	})
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

// Level returns the net movement for productID.
func (j *Journal) Level(productID string) decimal.Decimal {
	total := decimal.Zero
	for _, m := range store.Load(j.docs, MovementsKey, []Movement{}) {
		if m.ProductID == productID {
			total = total.Add(m.Delta)
		}
	}
	return total
}

// Movements returns the movements referencing ref.
func (j *Journal) Movements(ref string) []Movement {
	var out []Movement
	for _, m := range store.Load(j.docs, MovementsKey, []Movement{}) {
		if m.Ref == ref {
			out = append(out, m)
		}
	}
	return out
}
