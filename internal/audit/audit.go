// Package audit is the append-only action log. Entries are keyed by
// department, actor and action; the persistence backend is chosen at startup.
package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
)

// Entry is one audit record.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	DepartmentID string         `json:"department_id"`
	ActorID      string         `json:"actor_id"`
	Action       string         `json:"action"`
	Entity       string         `json:"entity"`
	Details      map[string]any `json:"details,omitempty"`
	Severity     string         `json:"severity"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	From       time.Time
	To         time.Time
	Department string
	Actor      string
	Action     string
	Severity   string
	Limit      int
	Offset     int
}

// Page is one slice of a query result, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
}

// Backend persists entries.
type Backend interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) (Page, error)
}

// Log stamps and stores entries.
type Log struct {
	backend Backend
	clock   clock.Clock
	ids     clock.IDGenerator
}

func New(backend Backend, c clock.Clock, ids clock.IDGenerator) *Log {
	return &Log{backend: backend, clock: c, ids: ids}
}

// Write assigns id and timestamp and appends e.
func (l *Log) Write(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = l.ids.NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now()
	}
	if e.Severity == "" {
		e.Severity = enum.SeverityInfo
	}
	if err := l.backend.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Record writes e and only logs a failure. Used after the audited change has
// already been committed.
func (l *Log) Record(ctx context.Context, e Entry) {
	if _, err := l.Write(ctx, e); err != nil {
		log.Error().Err(err).Str("action", e.Action).Str("entity", e.Entity).Msg("audit: write failed")
	}
}

// Query returns entries matching f.
func (l *Log) Query(ctx context.Context, f Filter) (Page, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return l.backend.Query(ctx, f)
}

// CSVHeader is the fixed export column order.
var CSVHeader = []string{"id", "timestamp", "department_id", "actor_id", "action", "entity", "severity", "details"}

// ExportCSV writes every entry matching f (ignoring pagination) to w.
func (l *Log) ExportCSV(ctx context.Context, w io.Writer, f Filter) error {
	f.Offset = 0
	f.Limit = -1
	page, err := l.backend.Query(ctx, f)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, e := range page.Entries {
		details := ""
		if len(e.Details) > 0 {
			raw, err := json.Marshal(e.Details)
			if err != nil {
				return err
			}
			details = string(raw)
		}
		row := []string{
			e.ID,
			e.Timestamp.Format(time.RFC3339),
			e.DepartmentID,
			e.ActorID,
			e.Action,
			e.Entity,
			e.Severity,
			details,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (f Filter) matches(e Entry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Department != "" && e.DepartmentID != f.Department {
		return false
	}
	if f.Actor != "" && e.ActorID != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	return true
}

// Recorder is what components depend on to leave an audit trail.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
