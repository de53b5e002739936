// Package ledger owns the cashier sessions: one open session per stream type,
// append-only transaction lists and the closing variance.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/metrics"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// SessionsKey is the store key holding every session.
const SessionsKey = "cashier_sessions"

// Details is the structured metadata attached to a transaction.
type Details struct {
	PaymentGroupID    string            `json:"payment_group_id,omitempty"`
	DocumentID        string            `json:"document_id,omitempty"`
	RelatedChargeID   string            `json:"related_charge_id,omitempty"`
	RelatedOrderID    string            `json:"related_order_id,omitempty"`
	ReversesID        string            `json:"reverses_id,omitempty"`
	ServiceFeeRemoved bool              `json:"service_fee_removed,omitempty"`
	Fiscal            bool              `json:"fiscal,omitempty"`
	PartialPayment    bool              `json:"partial_payment,omitempty"`
	Change            *decimal.Decimal  `json:"change,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Transaction is one ledger entry. Amount is non-negative except for
// reversing entries, which carry the negated amount of the original.
type Transaction struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    string          `json:"payment_method"`
	Description      string          `json:"description"`
	Category         string          `json:"category,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	TimestampDisplay string          `json:"timestamp_display"`
	User             string          `json:"user"`
	Waiter           string          `json:"waiter,omitempty"`
	WaiterBreakdown  money.Breakdown `json:"waiter_breakdown,omitempty"`
	Details          Details         `json:"details"`
}

// Session is one cashier shift of a given type.
type Session struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Status          string           `json:"status"`
	OpenedAt        time.Time        `json:"opened_at"`
	OpenedBy        string           `json:"opened_by"`
	OpeningBalance  decimal.Decimal  `json:"opening_balance"`
	ClosingBalance  *decimal.Decimal `json:"closing_balance,omitempty"`
	ExpectedBalance *decimal.Decimal `json:"expected_balance,omitempty"`
	Difference      *decimal.Decimal `json:"difference,omitempty"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
	ClosedBy        string           `json:"closed_by,omitempty"`
	Transactions    []Transaction    `json:"transactions"`
}

// IsOpen reports whether the session still accepts transactions.
func (s Session) IsOpen() bool { return s.Status == enum.SessionStatusOpen }

// Ledger is the cashier component.
type Ledger struct {
	docs    store.Documents
	clock   clock.Clock
	ids     clock.IDGenerator
	audit   audit.Recorder
	metrics *metrics.Metrics
}

// New creates a Ledger. rec and m may be nil.
func New(docs store.Documents, c clock.Clock, ids clock.IDGenerator, rec audit.Recorder, m *metrics.Metrics) *Ledger {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Ledger{docs: docs, clock: c, ids: ids, audit: rec, metrics: m}
}

var typeAliases = map[string]string{
	"restaurant":             enum.SessionRestaurant,
	"reception":              enum.SessionGuestConsumption,
	"reception_room_billing": enum.SessionGuestConsumption,
	"daily_rates":            enum.SessionReceptionReservations,
}

// CanonicalType maps legacy names to the canonical session type.
func CanonicalType(t string) (string, error) {
	t = strings.TrimSpace(strings.ToLower(t))
	if a, ok := typeAliases[t]; ok {
		return a, nil
	}
	switch t {
	case enum.SessionRestaurant, enum.SessionGuestConsumption, enum.SessionReceptionReservations:
		return t, nil
	}
	return "", apperr.Validation("unknown cashier type %q", t)
}

// load reads every session, canonicalizing legacy type names.
func (l *Ledger) load() []Session {
	sessions := store.Load(l.docs, SessionsKey, []Session{})
	for i := range sessions {
		if c, err := CanonicalType(sessions[i].Type); err == nil {
			sessions[i].Type = c
		}
	}
	return sessions
}

func findOpen(sessions []Session, typ string) int {
	for i := range sessions {
		if sessions[i].Type == typ && sessions[i].IsOpen() {
			return i
		}
	}
	return -1
}

func findByID(sessions []Session, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// OpenSession starts a new session of typ.
func (l *Ledger) OpenSession(ctx context.Context, typ, user string, opening decimal.Decimal) (Session, error) {
	typ, err := CanonicalType(typ)
	if err != nil {
		return Session{}, err
	}
	if opening.IsNegative() {
		return Session{}, apperr.Validation("opening balance must be >= 0")
	}

	var created Session
	err = l.docs.WithLock(ctx, SessionsKey, func() error {
		sessions := l.load()
		if findOpen(sessions, typ) >= 0 {
			return apperr.ErrSessionConflict.WithDetail("type", typ)
		}
		now := l.clock.Now()
		created = Session{
			ID:             fmt.Sprintf("SESSION_%s_%s", strings.ToUpper(typ), l.ids.NewID()),
			Type:           typ,
			Status:         enum.SessionStatusOpen,
			OpenedAt:       now,
			OpenedBy:       user,
			OpeningBalance: money.Round2(opening),
			Transactions:   []Transaction{},
		}
		sessions = append(sessions, created)
		return l.docs.Write(SessionsKey, sessions)
	})
	if err != nil {
		return Session{}, err
	}
	l.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptFinance,
		ActorID:      user,
		Action:       "Abertura de Caixa",
		Entity:       created.ID,
		Details:      map[string]any{"type": typ, "opening_balance": created.OpeningBalance.StringFixed(2)},
	})
	return created, nil
}

// ActiveSession returns the open session of typ.
func (l *Ledger) ActiveSession(typ string) (Session, bool) {
	typ, err := CanonicalType(typ)
	if err != nil {
		return Session{}, false
	}
	sessions := l.load()
	if i := findOpen(sessions, typ); i >= 0 {
		return sessions[i], true
	}
	return Session{}, false
}

// SessionByID returns one session, open or closed.
func (l *Ledger) SessionByID(id string) (Session, bool) {
	sessions := l.load()
	if i := findByID(sessions, id); i >= 0 {
		return sessions[i], true
	}
	return Session{}, false
}

// HistoryFilter narrows History. Zero fields match everything.
type HistoryFilter struct {
	Type string
	From time.Time
	To   time.Time
}

// History returns sessions opened inside the filter range, newest first.
func (l *Ledger) History(f HistoryFilter) ([]Session, error) {
	var typ string
	if f.Type != "" {
		t, err := CanonicalType(f.Type)
		if err != nil {
			return nil, err
		}
		typ = t
	}
	all := l.load()
	out := make([]Session, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		s := all[i]
		if typ != "" && s.Type != typ {
			continue
		}
		if !f.From.IsZero() && s.OpenedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && s.OpenedAt.After(f.To) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Sessions returns every session. Used by the commission engine.
func (l *Ledger) Sessions() []Session {
	return l.load()
}

// CloseSession closes session id and records the variance.
func (l *Ledger) CloseSession(ctx context.Context, id, user string, closing decimal.Decimal) (Session, error) {
	var closed Session
	err := l.docs.WithLock(ctx, SessionsKey, func() error {
		sessions := l.load()
		i := findByID(sessions, id)
		if i < 0 {
			return apperr.NotFound("cashier session", id)
		}
		s := &sessions[i]
		if !s.IsOpen() {
			return apperr.ErrSessionClosed.WithDetail("session_id", id)
		}
		now := l.clock.Now()
		expected := Expected(*s)
		closingRounded := money.Round2(closing)
		diff := closingRounded.Sub(expected)
		s.Status = enum.SessionStatusClosed
		s.ClosedAt = &now
		s.ClosedBy = user
		s.ClosingBalance = &closingRounded
		s.ExpectedBalance = &expected
		s.Difference = &diff
		closed = *s
		return l.docs.Write(SessionsKey, sessions)
	})
	if err != nil {
		return Session{}, err
	}
	severity := enum.SeverityInfo
	if !money.Equal(*closed.Difference, decimal.Zero) {
		severity = enum.SeverityWarning
	}
	l.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptFinance,
		ActorID:      user,
		Action:       "Fechamento de Caixa",
		Entity:       closed.ID,
		Severity:     severity,
		Details: map[string]any{
			"expected":   closed.ExpectedBalance.StringFixed(2),
			"closing":    closed.ClosingBalance.StringFixed(2),
			"difference": closed.Difference.StringFixed(2),
		},
	})
	return closed, nil
}

// AddTransaction appends txn to the open session of typ.
func (l *Ledger) AddTransaction(ctx context.Context, typ string, txn Transaction) (Transaction, error) {
	out, err := l.AppendBatch(ctx, typ, []Transaction{txn})
	if err != nil {
		return Transaction{}, err
	}
	return out[0], nil
}

// AppendBatch appends every txn to the open session of typ in one write;
// either all are appended or none.
func (l *Ledger) AppendBatch(ctx context.Context, typ string, txns []Transaction) ([]Transaction, error) {
	typ, err := CanonicalType(typ)
	if err != nil {
		return nil, err
	}
	for i, t := range txns {
		if err := validateTransaction(t); err != nil {
			return nil, fmt.Errorf("transaction[%d]: %w", i, err)
		}
	}

	appended := make([]Transaction, 0, len(txns))
	err = l.docs.WithLock(ctx, SessionsKey, func() error {
		sessions := l.load()
		i := findOpen(sessions, typ)
		if i < 0 {
			return apperr.ErrNoOpenSession.WithDetail("type", typ)
		}
		s := &sessions[i]
		for _, t := range txns {
			t = l.stamp(t)
			if err := checkCash(*s, t); err != nil {
				return err
			}
			s.Transactions = append(s.Transactions, t)
			appended = append(appended, t)
		}
		return l.docs.Write(SessionsKey, sessions)
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInsufficientCash {
			l.audit.Record(ctx, audit.Entry{
				DepartmentID: enum.DeptFinance,
				Action:       "Sangria Bloqueada",
				Entity:       typ,
				Severity:     enum.SeverityWarning,
				Details:      map[string]any{"reason": err.Error()},
			})
		}
		return nil, err
	}
	for _, t := range appended {
		l.metrics.Transaction(typ, t.Type)
	}
	return appended, nil
}

func (l *Ledger) stamp(t Transaction) Transaction {
	now := l.clock.Now()
	if t.ID == "" {
		t.ID = "TX_" + l.ids.NewID()
	}
	t.Timestamp = now
	t.TimestampDisplay = now.Format(clock.DisplayLayout)
	t.Amount = money.Round2(t.Amount)
	return t
}

func validateTransaction(t Transaction) error {
	switch t.Type {
	case enum.TxnSale, enum.TxnIn, enum.TxnOut, enum.TxnWithdrawal, enum.TxnTransfer:
	default:
		return apperr.Validation("invalid transaction type %q", t.Type)
	}
	if t.Amount.IsNegative() && t.Details.ReversesID == "" {
		return apperr.Validation("amount must be >= 0")
	}
	return nil
}

// Expected is opening + Σ(sale, in) − Σ(out, withdrawal) over signed amounts.
func Expected(s Session) decimal.Decimal {
	total := s.OpeningBalance
	for _, t := range s.Transactions {
		switch t.Type {
		case enum.TxnSale, enum.TxnIn:
			total = total.Add(t.Amount)
		case enum.TxnOut, enum.TxnWithdrawal:
			total = total.Sub(t.Amount)
		}
	}
	return money.Round2(total)
}
