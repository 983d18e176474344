package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (c *Catalog) migrate() error {
	bootstrapDone, err := c.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := c.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := c.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := c.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: blob name column for catalogs created before it existed.
	if err := c.migrateNameColumn(); err != nil {
		return fmt.Errorf("migrating name column: %w", err)
	}
	return nil
}

func (c *Catalog) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS blobs (
			sha256      TEXT PRIMARY KEY,
			path        TEXT NOT NULL,
			size        INTEGER NOT NULL DEFAULT 0,
			run_id      TEXT NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			recorded_at DATETIME NOT NULL,
			blobs_added INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_blobs_run ON blobs(run_id)`,
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning bootstrap: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing DDL: %w\nStatement: %s", err, truncate(stmt, 100))
		}
	}
	return tx.Commit()
}

func (c *Catalog) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := c.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (c *Catalog) setMetaFlag(key string) error {
	_, err := c.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// migrateNameColumn adds the original file name to blobs if it doesn't exist.
func (c *Catalog) migrateNameColumn() error {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('blobs') WHERE name='name'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking for name column: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := c.db.Exec(`ALTER TABLE blobs ADD COLUMN name TEXT NOT NULL DEFAULT ''`); err != nil && !isDuplicateColumnError(err) {
		return fmt.Errorf("adding name column: %w", err)
	}
	return nil
}

// seedMeta initializes the meta table with defaults if not already set.
func (c *Catalog) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := c.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
