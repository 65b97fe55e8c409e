// Package audit maintains the append-only trail of attempted actions.
// Entries are written inside the same transaction as the mutation they
// describe, so a command never half-lands: either the mutation and its
// entry both commit or neither does.
package audit

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealdesk/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append inserts one entry. The id and timestamp are assigned here unless
// already set; nothing in this package updates or deletes rows.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) (domain.AuditEntry, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp == "" {
		e.Timestamp = now().UTC().Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_entries(id,ts,actor,action,status,severity,details) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp, e.Actor, e.Action, e.Status, e.Severity, nullable(e.Details))
	return e, err
}

// Filter narrows a query; zero values match everything.
type Filter struct {
	Status   domain.AuditStatus
	Severity domain.AuditSeverity
	Search   string
	Limit    int
}

// Query returns entries in insertion order. Most-recent-first is a
// presentation concern left to callers.
func (w Writer) Query(ctx context.Context, f Filter) ([]domain.AuditEntry, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	if f.Search != "" {
		clauses = append(clauses, "(instr(lower(action), lower(?))>0 OR instr(lower(COALESCE(details,'')), lower(?))>0 OR instr(lower(actor), lower(?))>0)")
		args = append(args, f.Search, f.Search, f.Search)
	}
	query := `SELECT id,ts,actor,action,status,severity,COALESCE(details,'') FROM audit_entries`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Status, &e.Severity, &e.Details); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (w Writer) Count(ctx context.Context) (int, error) {
	var n int
	err := w.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n)
	return n, err
}

// ExportCSV writes every entry as delimited rows with a header line.
func (w Writer) ExportCSV(ctx context.Context, out io.Writer) error {
	entries, err := w.Query(ctx, Filter{})
	if err != nil {
		return err
	}
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"id", "timestamp", "actor", "action", "status", "severity", "details"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.ID, e.Timestamp, e.Actor, e.Action, string(e.Status), string(e.Severity), e.Details}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
