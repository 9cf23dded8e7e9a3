package storage

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lotas/tabharvest/internal/run"
	"github.com/lotas/tabharvest/internal/session"
	"github.com/lotas/tabharvest/internal/types"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func record(window int, outcome string, finished time.Time) RunRecord {
	return RunRecord{
		Window:      window,
		Tab:         window * 10,
		Scope:       "right",
		Outcome:     outcome,
		StartedAt:   finished.Add(-3 * time.Second),
		FinishedAt:  finished,
		TabsLoaded:  2,
		ImagesSaved: 4,
		Title:       "Download finished",
		Body:        "4 saved",
	}
}

func TestOpenDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "tabharvest.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

func TestOpenDB_IdempotentMigrations(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "idempotent.db")

	// Open twice; the second time should be a no-op.
	db1, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("first OpenDB: %v", err)
	}
	if _, err := RecordRun(db1, record(1, "completed", time.Now())); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	db1.Close()

	db2, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("second OpenDB: %v", err)
	}
	defer db2.Close()

	runs, err := ListRuns(db2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run after reopen, got %d", len(runs))
	}
}

func TestDefaultDBPath(t *testing.T) {
	p, err := DefaultDBPath()
	if err != nil {
		t.Fatalf("DefaultDBPath: %v", err)
	}
	if filepath.Base(p) != "tabharvest.db" {
		t.Errorf("expected filename tabharvest.db, got %s", filepath.Base(p))
	}
	if !filepath.IsAbs(p) {
		t.Errorf("expected absolute path, got %s", p)
	}
}

func TestRecordAndListRuns(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, outcome := range []string{"completed", "no-images", "cancelled"} {
		if _, err := RecordRun(db, record(i+1, outcome, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("RecordRun %d: %v", i, err)
		}
	}

	runs, err := ListRuns(db, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Outcome != "cancelled" || runs[1].Outcome != "no-images" {
		t.Errorf("order = %s, %s", runs[0].Outcome, runs[1].Outcome)
	}
	if runs[0].Window != 3 || runs[0].Tab != 30 || runs[0].ImagesSaved != 4 || runs[0].Body != "4 saved" {
		t.Errorf("run = %+v", runs[0])
	}
	if d := runs[0].Duration(); d != 3*time.Second {
		t.Errorf("duration = %v", d)
	}

	all, err := ListRuns(db, 0)
	if err != nil || len(all) != 3 {
		t.Errorf("ListRuns(0) = %d, %v", len(all), err)
	}
}

func TestGetRun(t *testing.T) {
	db := testDB(t)
	id, err := RecordRun(db, record(7, "completed", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("RecordRun returned empty id")
	}

	got, err := GetRun(db, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Window != 7 || got.Title != "Download finished" {
		t.Errorf("run = %+v", got)
	}

	if _, err := GetRun(db, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) = %v, want ErrRunNotFound", err)
	}
}

func TestPruneRuns(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	RecordRun(db, record(1, "completed", base))
	RecordRun(db, record(2, "completed", base.Add(48*time.Hour)))

	n, err := PruneRuns(db, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	runs, _ := ListRuns(db, 0)
	if len(runs) != 1 || runs[0].Window != 2 {
		t.Errorf("remaining = %+v", runs)
	}
}

func TestRecordFromReport(t *testing.T) {
	s, _, err := session.NewRegistry().Create(4, 40, types.ScopeLeft)
	if err != nil {
		t.Fatal(err)
	}
	s.Update(func(c *session.Counters) {
		c.TabsLoaded = 1
		c.ImagesMatched = 2
		c.ImagesSaved = 1
		c.ImagesFailed = 1
	})
	rec := RecordFromReport(run.NewReport(s, s.Started.Add(time.Second)))

	if rec.ID == "" || rec.Window != 4 || rec.Tab != 40 || rec.Scope != "left" || rec.Outcome != "completed" {
		t.Errorf("record = %+v", rec)
	}
	if rec.ImagesFailed != 1 || rec.Duration() != time.Second {
		t.Errorf("record = %+v", rec)
	}

	db := testDB(t)
	if _, err := RecordRun(db, rec); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	got, err := GetRun(db, rec.ID)
	if err != nil || got.Body != rec.Body {
		t.Errorf("GetRun = %+v, %v", got, err)
	}
}
