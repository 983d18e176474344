package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/chatlift/internal/snapshot"
)

// CatalogFile is the catalog's file name inside an output directory.
const CatalogFile = "store.db"

// Catalog persists the content store's Index in SQLite so that later runs
// writing to the same output directory deduplicate against earlier ones. It
// also records which run first stored each blob.
type Catalog struct {
	db     *sql.DB
	dbPath string
}

// CatalogStats summarizes a catalog.
type CatalogStats struct {
	Blobs int   `json:"blobs"`
	Bytes int64 `json:"bytes"`
	Runs  int   `json:"runs"`
}

// OpenCatalog opens or creates the catalog at path.
// Pass ":memory:" for in-memory databases (testing).
func OpenCatalog(path string) (*Catalog, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
		dsn = snapshot.URI(path, "")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging catalog: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	c := &Catalog{db: db, dbPath: path}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return c, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Vacuum runs VACUUM on the catalog. Manual only.
func (c *Catalog) Vacuum(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "VACUUM")
	return err
}

// LoadIndex returns every recorded hash whose stored file still exists.
func (c *Catalog) LoadIndex(ctx context.Context) (Index, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT sha256, path FROM blobs`)
	if err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	defer rows.Close()

	idx := make(Index)
	for rows.Next() {
		var hash, path string
		if err := rows.Scan(&hash, &path); err != nil {
			return nil, fmt.Errorf("loading index: %w", err)
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		idx[hash] = path
	}
	return idx, rows.Err()
}

// Record stores idx entries not yet in the catalog under runID and returns
// how many were new. Existing entries keep their original run.
func (c *Catalog) Record(ctx context.Context, runID string, idx Index) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO blobs (sha256, path, name, size, run_id, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	added := 0
	for hash, path := range idx {
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		res, err := stmt.ExecContext(ctx, hash, path, filepath.Base(path), size, runID, now)
		if err != nil {
			return 0, fmt.Errorf("recording %s: %w", hash, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, recorded_at, blobs_added) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET blobs_added = blobs_added + excluded.blobs_added`,
		runID, now, added); err != nil {
		return 0, fmt.Errorf("recording run %s: %w", runID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return added, nil
}

// RunOf returns the run that first stored hash, or "" if it is unknown.
func (c *Catalog) RunOf(ctx context.Context, hash string) (string, error) {
	var runID string
	err := c.db.QueryRowContext(ctx, `SELECT run_id FROM blobs WHERE sha256 = ?`, hash).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return runID, err
}

// Stats counts blobs, their bytes and the runs that recorded them.
func (c *Catalog) Stats(ctx context.Context) (*CatalogStats, error) {
	var s CatalogStats
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM blobs`).Scan(&s.Blobs, &s.Bytes)
	if err != nil {
		return nil, fmt.Errorf("counting blobs: %w", err)
	}
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&s.Runs); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}
	return &s, nil
}
