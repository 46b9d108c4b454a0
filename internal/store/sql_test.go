package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skywatch/skywatch/internal/types"
)

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	got := pg.rebind(`UPDATE alerts SET status = ? WHERE id IN (?,?)`)
	if got != `UPDATE alerts SET status = $1 WHERE id IN ($2,$3)` {
		t.Fatalf("unexpected postgres query %q", got)
	}

	my := &SQLStore{dialect: DialectMySQL}
	q := `SELECT 1 WHERE id = ?`
	if my.rebind(q) != q {
		t.Fatal("mysql queries must keep ? placeholders")
	}
}

func TestPlaceholders(t *testing.T) {
	tests := map[int]string{0: "", 1: "?", 3: "?,?,?"}
	for n, want := range tests {
		if got := placeholders(n); got != want {
			t.Errorf("placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestResolveDriver(t *testing.T) {
	for _, name := range []string{"postgres", "postgresql", "pgx"} {
		d, driver, err := resolveDriver(name)
		if err != nil || d != DialectPostgres || driver != "pgx" {
			t.Errorf("resolveDriver(%s) = %s %s %v", name, d, driver, err)
		}
	}
	for _, name := range []string{"sqlite", "sqlite3"} {
		d, driver, err := resolveDriver(name)
		if err != nil || d != DialectSQLite || driver != "sqlite" {
			t.Errorf("resolveDriver(%s) = %s %s %v", name, d, driver, err)
		}
	}
	if _, _, err := resolveDriver("oracle"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestNormalizeMySQLDSN(t *testing.T) {
	dsn, err := normalizeMySQLDSN("skywatch:secret@tcp(localhost:3306)/skywatch")
	if err != nil {
		t.Fatalf("normalizeMySQLDSN: %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("expected parseTime in %q", dsn)
	}
	if _, err := normalizeMySQLDSN("not a dsn"); err == nil {
		t.Fatal("expected error for malformed dsn")
	}
}

func TestSchemaPerDialect(t *testing.T) {
	pg := (&SQLStore{dialect: DialectPostgres}).schema()
	my := (&SQLStore{dialect: DialectMySQL}).schema()
	lite := (&SQLStore{dialect: DialectSQLite}).schema()
	if len(pg) != 3 || len(my) != 3 || len(lite) != 3 {
		t.Fatal("expected three tables per dialect")
	}
	if !strings.Contains(pg[0], "TIMESTAMPTZ") || !strings.Contains(my[0], "DATETIME(6)") || !strings.Contains(lite[0], "TIMESTAMP") {
		t.Fatal("unexpected timestamp types")
	}
}

func openSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL("sqlite", filepath.Join(t.TempDir(), "skywatch.db"))
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	runContract(t, openSQLiteStore(t))
}

func TestSQLiteEnsureSchemaIsIdempotent(t *testing.T) {
	s := openSQLiteStore(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestSQLiteUpdateTriggerStatusesIgnoresUnknownIDs(t *testing.T) {
	s := openSQLiteStore(t)
	ctx := context.Background()
	if err := s.CreateAlert(ctx, types.Alert{ID: "a1", Location: types.Location{Text: "eilat"}, Parameter: "temperature", Operator: types.OpGreater, Threshold: 40}); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n, err := s.UpdateTriggerStatuses(ctx, []string{"a1", "ghost"}, nil, at)
	if err != nil {
		t.Fatalf("UpdateTriggerStatuses: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row updated, got %d", n)
	}
}

func TestSQLiteAppendRollsBackOnDuplicate(t *testing.T) {
	s := openSQLiteStore(t)
	ctx := context.Background()
	evt := types.NewTriggeredEvent(types.Alert{ID: "a1", Location: types.Location{Text: "eilat"}}, 41, time.Now().UTC(), []string{"log"})
	evt.ID = "e1"
	if _, err := s.Append(ctx, evt); err != nil {
		t.Fatalf("Append: %v", err)
	}

	dup := evt
	dup.Notifications = map[string]types.Delivery{"kafka": {}}
	if _, err := s.Append(ctx, dup); err == nil {
		t.Fatal("expected duplicate event id to fail")
	}

	events, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if _, ok := events[0].Notifications["kafka"]; ok {
		t.Fatal("channel rows of a failed append must not be kept")
	}
}

// Requires a reachable database, e.g.
// SKYWATCH_TEST_DRIVER=postgres SKYWATCH_TEST_DSN=postgres://localhost/skywatch_test
func TestSQLStoreContract(t *testing.T) {
	driver, dsn := os.Getenv("SKYWATCH_TEST_DRIVER"), os.Getenv("SKYWATCH_TEST_DSN")
	if driver == "" || dsn == "" {
		t.Skip("Skipping SQL integration test (set SKYWATCH_TEST_DRIVER and SKYWATCH_TEST_DSN)")
	}

	s, err := OpenSQL(driver, dsn)
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	for _, table := range []string{"event_notifications", "triggered_events", "alerts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}
	runContract(t, s)
}
