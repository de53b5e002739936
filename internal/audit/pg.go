package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema creates the audit table and its three lookup indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id            TEXT PRIMARY KEY,
    timestamp     TIMESTAMPTZ NOT NULL,
    department_id TEXT NOT NULL DEFAULT '',
    actor_id      TEXT NOT NULL DEFAULT '',
    action        TEXT NOT NULL,
    entity        TEXT NOT NULL DEFAULT '',
    details       JSONB,
    severity      TEXT NOT NULL DEFAULT 'INFO'
);
CREATE INDEX IF NOT EXISTS idx_audit_department_ts ON audit_logs (department_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_actor_ts ON audit_logs (actor_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_action_ts ON audit_logs (action, timestamp);
`

// PgBackend stores entries in Postgres.
type PgBackend struct {
	db DBTX
}

func NewPgBackend(db DBTX) *PgBackend {
	return &PgBackend{db: db}
}

// EnsureSchema applies Schema.
func (b *PgBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.db.Exec(ctx, Schema); err != nil {
		return apperr.Dependency("audit database", err)
	}
	return nil
}

func (b *PgBackend) Append(ctx context.Context, e Entry) error {
	var details []byte
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return apperr.Internal("audit: encode details", err)
		}
		details = raw
	}
	_, err := b.db.Exec(ctx,
		`INSERT INTO audit_logs (id, timestamp, department_id, actor_id, action, entity, details, severity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Timestamp, e.DepartmentID, e.ActorID, e.Action, e.Entity, details, e.Severity,
	)
	if err != nil {
		return apperr.Dependency("audit database", err)
	}
	return nil
}

func (b *PgBackend) Query(ctx context.Context, f Filter) (Page, error) {
	where, args := buildWhere(f)

	var total int
	if err := b.db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return Page{}, apperr.Dependency("audit database", err)
	}

	sql, args := buildSelect(f, where, args)
	rows, err := b.db.Query(ctx, sql, args...)
	if err != nil {
		return Page{}, apperr.Dependency("audit database", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.DepartmentID, &e.ActorID, &e.Action, &e.Entity, &details, &e.Severity); err != nil {
			return Page{}, apperr.Dependency("audit database", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, apperr.Dependency("audit database", err)
	}
	return Page{Entries: entries, Total: total}, nil
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= $%d", f.To)
	}
	if f.Department != "" {
		add("department_id = $%d", f.Department)
	}
	if f.Actor != "" {
		add("actor_id = $%d", f.Actor)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Severity != "" {
		add("severity = $%d", f.Severity)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func buildSelect(f Filter, where string, args []any) (string, []any) {
	sql := "SELECT id, timestamp, department_id, actor_id, action, entity, details, severity FROM audit_logs" +
		where + " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return sql, args
}
