package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

// migration represents a single schema migration step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations. Each one is applied
// exactly once, tracked in the schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: channels, positions",
		SQL: `
		CREATE TABLE IF NOT EXISTS channels (
			id                  TEXT PRIMARY KEY,
			phone_number_id     TEXT NOT NULL UNIQUE,
			business_account_id TEXT NOT NULL DEFAULT '',
			access_token        TEXT NOT NULL DEFAULT '',
			verify_token_digest TEXT NOT NULL DEFAULT '',
			signing_secret      TEXT NOT NULL DEFAULT '',
			llm_api_key         TEXT NOT NULL DEFAULT '',
			owner_id            TEXT NOT NULL DEFAULT '',
			created_at          INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_channels_verify ON channels(verify_token_digest);

		CREATE TABLE IF NOT EXISTS positions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			title         TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			benefits      TEXT NOT NULL DEFAULT '',
			start_time    INTEGER,
			end_time      INTEGER,
			interval_time INTEGER,
			status        TEXT NOT NULL DEFAULT 'draft',
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
		`,
	},
	{
		Version:     2,
		Description: "v2: case-insensitive title index for open position search",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_positions_status_title ON positions(status, title COLLATE NOCASE);
		`,
	},
}

// RunMigrations applies all pending schema migrations inside one transaction
// each, recording them in the schema_version table.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		logger.Info("applying migration",
			"version", m.Version,
			"description", m.Description,
		)
		if err := applyMigration(db, m); err != nil {
			return err
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration v%d: %w", m.Version, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration, or 0 on a fresh
// database.
func SchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
