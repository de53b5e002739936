// Package fiscal stages entries for electronic fiscal document emission. The
// core only appends; an external emitter drives the status transitions.
package fiscal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/metrics"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// PoolKey is the store key of the pool.
const PoolKey = "fiscal_pool"

// Item is one sold line on the fiscal document.
type Item struct {
	Name  string          `json:"name"`
	Qty   decimal.Decimal `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

// Payment is one tender on the fiscal document.
type Payment struct {
	Method     string          `json:"method"`
	Amount     decimal.Decimal `json:"amount"`
	IsFiscal   bool            `json:"is_fiscal"`
	FiscalCNPJ string          `json:"fiscal_cnpj,omitempty"`
}

// Entry is a staged fiscal emission.
type Entry struct {
	ID               string          `json:"id"`
	Origin           string          `json:"origin"`
	OriginalID       string          `json:"original_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Items            []Item          `json:"items"`
	PaymentMethods   []Payment       `json:"payment_methods"`
	User             string          `json:"user"`
	CustomerDocument string          `json:"customer_document,omitempty"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        *time.Time      `json:"updated_at,omitempty"`
	FiscalDocUUID    string          `json:"fiscal_doc_uuid,omitempty"`
	FiscalSerie      string          `json:"fiscal_serie,omitempty"`
	FiscalNumber     string          `json:"fiscal_number,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
}

// StatusUpdate is what the emitter reports back.
type StatusUpdate struct {
	Status        string
	FiscalDocUUID string
	Serie         string
	Number        string
	Error         string
}

// Notifier tells the emitter a new entry is waiting.
type Notifier interface {
	Notify(ctx context.Context, entryID string) error
}

// Pool is the fiscal staging area.
type Pool struct {
	docs     store.Documents
	clock    clock.Clock
	ids      clock.IDGenerator
	notifier Notifier
	metrics  *metrics.Metrics
}

// NewPool creates a Pool. notifier and m may be nil.
func NewPool(docs store.Documents, c clock.Clock, ids clock.IDGenerator, notifier Notifier, m *metrics.Metrics) *Pool {
	return &Pool{docs: docs, clock: c, ids: ids, notifier: notifier, metrics: m}
}

// Enqueue stores e as pending and notifies the emitter. A notification
// failure is logged; the entry stays in the pool for the next sweep.
func (p *Pool) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	if e.Origin != enum.OriginRestaurant && e.Origin != enum.OriginReception {
		return Entry{}, apperr.Validation("invalid fiscal origin %q", e.Origin)
	}
	e.ID = p.ids.NewID()
	e.Status = enum.FiscalStatusPending
	e.CreatedAt = p.clock.Now()
	e.TotalAmount = e.TotalAmount.Round(2)

	err := p.docs.WithLock(ctx, PoolKey, func() error {
		entries := store.Load(p.docs, PoolKey, []Entry{})
		entries = append(entries, e)
		return p.docs.Write(PoolKey, entries)
	})
	if err != nil {
		return Entry{}, err
	}
	p.metrics.Fiscal(e.Origin)

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, e.ID); err != nil {
			p.metrics.CollaboratorFailed("fiscal_notifier")
			log.Warn().Err(err).Str("entry_id", e.ID).Msg("fiscal: notify emitter failed")
		}
	}
	return e, nil
}

// UpdateStatus applies an emitter report.
func (p *Pool) UpdateStatus(ctx context.Context, id string, u StatusUpdate) (Entry, error) {
	switch u.Status {
	case enum.FiscalStatusPending, enum.FiscalStatusEmitted, enum.FiscalStatusFailed:
	default:
		return Entry{}, apperr.Validation("invalid fiscal status %q", u.Status)
	}

	var updated Entry
	err := p.docs.WithLock(ctx, PoolKey, func() error {
		entries := store.Load(p.docs, PoolKey, []Entry{})
		for i := range entries {
			if entries[i].ID != id {
				continue
			}
			now := p.clock.Now()
			e := &entries[i]
			e.Status = u.Status
			e.UpdatedAt = &now
			if u.FiscalDocUUID != "" {
				e.FiscalDocUUID = u.FiscalDocUUID
			}
			if u.Serie != "" {
				e.FiscalSerie = u.Serie
			}
			if u.Number != "" {
				e.FiscalNumber = u.Number
			}
			e.LastError = u.Error
			updated = *e
			return p.docs.Write(PoolKey, entries)
		}
		return apperr.NotFound("fiscal entry", id)
	})
	return updated, err
}

// List returns entries, optionally only those with status.
func (p *Pool) List(status string) []Entry {
	entries := store.Load(p.docs, PoolKey, []Entry{})
	if status == "" {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// Get returns one entry.
func (p *Pool) Get(id string) (Entry, bool) {
	for _, e := range store.Load(p.docs, PoolKey, []Entry{}) {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
