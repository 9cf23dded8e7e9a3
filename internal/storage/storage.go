package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lotas/tabharvest/internal/run"
)

// ErrRunNotFound is returned by GetRun for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one finished harvest.
type RunRecord struct {
	ID         string
	Window     int
	Tab        int
	Scope      string
	Outcome    string
	StartedAt  time.Time
	FinishedAt time.Time

	TabsLoaded    int
	TabsSkipped   int
	TabsError     int
	ImagesMatched int
	ImagesSkipped int
	ImagesSaved   int
	ImagesFailed  int
	PathsFailed   int

	Title string
	Body  string
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordFromReport flattens a report into a record with a fresh id.
func RecordFromReport(r run.Report) RunRecord {
	c := r.Counters
	return RunRecord{
		ID:            uuid.NewString(),
		Window:        int(r.Window),
		Tab:           int(r.Tab),
		Scope:         r.Scope.String(),
		Outcome:       r.Outcome.String(),
		StartedAt:     r.Started,
		FinishedAt:    r.Finished,
		TabsLoaded:    c.TabsLoaded,
		TabsSkipped:   c.TabsSkipped,
		TabsError:     c.TabsError,
		ImagesMatched: c.ImagesMatched,
		ImagesSkipped: c.ImagesSkipped,
		ImagesSaved:   c.ImagesSaved,
		ImagesFailed:  c.ImagesFailed,
		PathsFailed:   c.PathsFailed,
		Title:         r.Title,
		Body:          r.Body,
	}
}

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    window_id       INTEGER NOT NULL,
    tab_id          INTEGER NOT NULL,
    scope           TEXT NOT NULL,
    outcome         TEXT NOT NULL,
    started_at      DATETIME NOT NULL,
    finished_at     DATETIME NOT NULL,
    tabs_loaded     INTEGER NOT NULL DEFAULT 0,
    tabs_skipped    INTEGER NOT NULL DEFAULT 0,
    tabs_error      INTEGER NOT NULL DEFAULT 0,
    images_matched  INTEGER NOT NULL DEFAULT 0,
    images_skipped  INTEGER NOT NULL DEFAULT 0,
    images_saved    INTEGER NOT NULL DEFAULT 0,
    images_failed   INTEGER NOT NULL DEFAULT 0,
    paths_failed    INTEGER NOT NULL DEFAULT 0
);`,
	},
	{
		Version:     2,
		Description: "keep notification text and index by finish time",
		SQL: `
ALTER TABLE runs ADD COLUMN title TEXT NOT NULL DEFAULT '';
ALTER TABLE runs ADD COLUMN body TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);`,
	},
}

// OpenDB opens (or creates) the SQLite database at path and brings the
// schema up to date.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The server and a history query may share the file.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/tabharvest/tabharvest.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tabharvest", "tabharvest.db"), nil
}

// RecordRun stores rec. An empty ID is filled in.
func RecordRun(db *sql.DB, rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := db.Exec(`INSERT INTO runs (
		id, window_id, tab_id, scope, outcome, started_at, finished_at,
		tabs_loaded, tabs_skipped, tabs_error,
		images_matched, images_skipped, images_saved, images_failed, paths_failed,
		title, body
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Window, rec.Tab, rec.Scope, rec.Outcome, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		rec.TabsLoaded, rec.TabsSkipped, rec.TabsError,
		rec.ImagesMatched, rec.ImagesSkipped, rec.ImagesSaved, rec.ImagesFailed, rec.PathsFailed,
		rec.Title, rec.Body,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return rec.ID, nil
}

const runColumns = `id, window_id, tab_id, scope, outcome, started_at, finished_at,
	tabs_loaded, tabs_skipped, tabs_error,
	images_matched, images_skipped, images_saved, images_failed, paths_failed,
	title, body`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRecord, error) {
	var r RunRecord
	err := s.Scan(&r.ID, &r.Window, &r.Tab, &r.Scope, &r.Outcome, &r.StartedAt, &r.FinishedAt,
		&r.TabsLoaded, &r.TabsSkipped, &r.TabsError,
		&r.ImagesMatched, &r.ImagesSkipped, &r.ImagesSaved, &r.ImagesFailed, &r.PathsFailed,
		&r.Title, &r.Body)
	return r, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func ListRuns(db *sql.DB, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		"SELECT "+runColumns+" FROM runs ORDER BY finished_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var result []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

// GetRun loads one run by id.
func GetRun(db *sql.DB, id string) (RunRecord, error) {
	r, err := scanRun(db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// PruneRuns deletes runs that finished before cutoff and returns how many
// were removed.
func PruneRuns(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec("DELETE FROM runs WHERE finished_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
