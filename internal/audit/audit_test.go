package audit_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"testing"
	"time"

	"dealdesk/internal/audit"
	"dealdesk/internal/db"
	"dealdesk/internal/domain"
	"dealdesk/internal/migrate"
)

func newWriter(t *testing.T) (audit.Writer, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return audit.Writer{DB: conn, Now: func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}}, conn
}

func mustAppend(t *testing.T, w audit.Writer, conn *sql.DB, e domain.AuditEntry) domain.AuditEntry {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	out, err := w.Append(ctx, tx, e)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	w, conn := newWriter(t)
	e := mustAppend(t, w, conn, domain.AuditEntry{
		Actor: "sales", Action: "Create Lead",
		Status: domain.StatusSuccess, Severity: domain.SeverityMedium,
	})
	if e.ID == "" {
		t.Fatal("missing id")
	}
	if e.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("timestamp = %s", e.Timestamp)
	}
}

func TestQueryPreservesInsertionOrder(t *testing.T) {
	w, conn := newWriter(t)
	for _, action := range []string{"first", "second", "third"} {
		mustAppend(t, w, conn, domain.AuditEntry{
			Actor: "a", Action: action,
			Status: domain.StatusSuccess, Severity: domain.SeverityLow,
		})
	}
	entries, err := w.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Action != want {
			t.Fatalf("entry %d = %s", i, entries[i].Action)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	w, conn := newWriter(t)
	mustAppend(t, w, conn, domain.AuditEntry{Actor: "sales", Action: "Create Lead", Status: domain.StatusSuccess, Severity: domain.SeverityMedium})
	mustAppend(t, w, conn, domain.AuditEntry{Actor: "viewer", Action: "Create Lead", Status: domain.StatusDenied, Severity: domain.SeverityMedium})
	mustAppend(t, w, conn, domain.AuditEntry{Actor: "manager", Action: "Delete Lead", Status: domain.StatusSuccess, Severity: domain.SeverityHigh, Details: "deleted ACME"})

	ctx := context.Background()
	denied, err := w.Query(ctx, audit.Filter{Status: domain.StatusDenied})
	if err != nil || len(denied) != 1 || denied[0].Actor != "viewer" {
		t.Fatalf("denied = %+v err=%v", denied, err)
	}
	high, err := w.Query(ctx, audit.Filter{Severity: domain.SeverityHigh})
	if err != nil || len(high) != 1 || high[0].Action != "Delete Lead" {
		t.Fatalf("high = %+v err=%v", high, err)
	}
	// Search spans action, details, and actor, case-insensitively.
	found, err := w.Query(ctx, audit.Filter{Search: "acme"})
	if err != nil || len(found) != 1 {
		t.Fatalf("search = %+v err=%v", found, err)
	}
	limited, err := w.Query(ctx, audit.Filter{Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Fatalf("limit = %+v err=%v", limited, err)
	}
}

func TestExportCSV(t *testing.T) {
	w, conn := newWriter(t)
	mustAppend(t, w, conn, domain.AuditEntry{Actor: "sales", Action: "Create Lead", Status: domain.StatusSuccess, Severity: domain.SeverityMedium, Details: "created ACME"})

	var buf bytes.Buffer
	if err := w.ExportCSV(context.Background(), &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("rows = %d", len(records))
	}
	header := records[0]
	want := []string{"id", "timestamp", "actor", "action", "status", "severity", "details"}
	for i := range want {
		if header[i] != want[i] {
			t.Fatalf("header = %v", header)
		}
	}
	if records[1][3] != "Create Lead" || records[1][6] != "created ACME" {
		t.Fatalf("row = %v", records[1])
	}
}
