package stock

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	s, err := store.New(store.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	return NewJournal(s, &clock.Fixed{T: time.Now()}, &clock.Sequence{Prefix: "mv"})
}

func TestApplyMovementAndLevel(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, err := j.ApplyMovement(ctx, Movement{ProductID: "farinha", Delta: decimal.RequireFromString("-0.2"), Ref: "item-1"})
	require.NoError(t, err)
	_, err = j.ApplyMovement(ctx, Movement{ProductID: "farinha", Delta: decimal.RequireFromString("-0.2"), Ref: "item-2"})
	require.NoError(t, err)
	_, err = j.ApplyMovement(ctx, Movement{ProductID: "farinha", Delta: decimal.RequireFromString("0.2"), Ref: "item-1"})
	require.NoError(t, err)

	assert.Equal(t, "-0.2", j.Level("farinha").String())
	assert.Len(t, j.Movements("item-1"), 2)
}

func TestApplyMovementValidation(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.ApplyMovement(context.Background(), Movement{ProductID: "x"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = j.ApplyMovement(context.Background(), Movement{Delta: decimal.NewFromInt(1)})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
