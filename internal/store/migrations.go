package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "archive: memory entries moved out of active memory",
		SQL: `
CREATE TABLE archive (
    id             INTEGER PRIMARY KEY,
    life_id        TEXT NOT NULL,
    seq            INTEGER NOT NULL,
    category       TEXT NOT NULL,
    significance   REAL NOT NULL CHECK (significance BETWEEN 0 AND 1),
    weight         REAL NOT NULL,
    access_count   INTEGER NOT NULL DEFAULT 0,
    subjective_at  REAL NOT NULL DEFAULT 0,
    payload        TEXT,

    created_at     INTEGER NOT NULL,
    last_access    INTEGER,
    archived_at    INTEGER NOT NULL,

    UNIQUE (life_id, seq)
);

CREATE INDEX idx_archive_category    ON archive(category);
CREATE INDEX idx_archive_archived_at ON archive(archived_at DESC);
`,
	},
	{
		Version:     2,
		Description: "causal_records: resolved action consequences",
		SQL: `
CREATE TABLE causal_records (
    id               INTEGER PRIMARY KEY,
    life_id          TEXT NOT NULL,
    action_id        TEXT NOT NULL,
    category         TEXT NOT NULL,
    delta_energy     REAL NOT NULL DEFAULT 0,
    delta_stability  REAL NOT NULL DEFAULT 0,
    delta_integrity  REAL NOT NULL DEFAULT 0,
    registered_tick  INTEGER NOT NULL,
    resolved_tick    INTEGER NOT NULL,
    recorded_at      INTEGER NOT NULL
);

CREATE INDEX idx_causal_action      ON causal_records(action_id);
CREATE INDEX idx_causal_recorded_at ON causal_records(recorded_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
