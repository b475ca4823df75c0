package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/vivarium/internal/memory"
)

// ArchivedEntry is a memory entry as recorded in the archive table.
type ArchivedEntry struct {
	ID         int64        `json:"id"`
	LifeID     string       `json:"life_id"`
	Entry      memory.Entry `json:"entry"`
	ArchivedAt time.Time    `json:"archived_at"`
}

// AppendArchive records entries archived from a life's active memory.
// Entries already recorded for the same life and seq are skipped. It
// returns the number of rows inserted.
func (db *DB) AppendArchive(lifeID string, entries []memory.Entry, at time.Time) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO archive
			(life_id, seq, category, significance, weight, access_count, subjective_at, payload, created_at, last_access, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare archive: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		var payload sql.NullString
		if e.Payload != nil {
			data, err := json.Marshal(e.Payload)
			if err != nil {
				return 0, fmt.Errorf("encode payload for seq %d: %w", e.Seq, err)
			}
			payload = sql.NullString{String: string(data), Valid: true}
		}
		var lastAccess sql.NullInt64
		if !e.LastAccess.IsZero() {
			lastAccess = sql.NullInt64{Int64: e.LastAccess.UnixMilli(), Valid: true}
		}
		res, err := stmt.Exec(lifeID, e.Seq, e.Category, e.Significance, e.Weight, e.AccessCount,
			e.SubjectiveAt, payload, e.CreatedAt.UnixMilli(), lastAccess, at.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("insert archive seq %d: %w", e.Seq, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive: %w", err)
	}
	return inserted, nil
}

// ListArchive returns archived entries, most recently archived first.
// An empty category matches all; limit <= 0 means no limit.
func (db *DB) ListArchive(category string, limit int) ([]ArchivedEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, life_id, seq, category, significance, weight, access_count, subjective_at,
		       payload, created_at, last_access, archived_at
		FROM archive
		WHERE ? = '' OR category = ?
		ORDER BY archived_at DESC, id DESC
		LIMIT ?
	`, category, category, limit)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	defer rows.Close()

	var out []ArchivedEntry
	for rows.Next() {
		var (
			a          ArchivedEntry
			payload    sql.NullString
			lastAccess sql.NullInt64
			createdAt  int64
			archivedAt int64
		)
		if err := rows.Scan(&a.ID, &a.LifeID, &a.Entry.Seq, &a.Entry.Category, &a.Entry.Significance,
			&a.Entry.Weight, &a.Entry.AccessCount, &a.Entry.SubjectiveAt, &payload, &createdAt,
			&lastAccess, &archivedAt); err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		a.Entry.CreatedAt = time.UnixMilli(createdAt)
		a.ArchivedAt = time.UnixMilli(archivedAt)
		if lastAccess.Valid {
			a.Entry.LastAccess = time.UnixMilli(lastAccess.Int64)
		}
		if payload.Valid {
			var p memory.Payload
			if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
				return nil, fmt.Errorf("decode payload for seq %d: %w", a.Entry.Seq, err)
			}
			a.Entry.Payload = &p
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountArchive returns the number of archived rows.
func (db *DB) CountArchive() (int, error) {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM archive`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return count, nil
}
