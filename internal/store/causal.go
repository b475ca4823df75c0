package store

import (
	"fmt"
	"time"

	"github.com/lazypower/vivarium/internal/life"
)

// CausalEntry is a resolved causal record as kept in the ledger.
type CausalEntry struct {
	ID         int64             `json:"id"`
	LifeID     string            `json:"life_id"`
	Record     life.CausalRecord `json:"record"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// AppendCausal adds resolved records to the causal ledger.
func (db *DB) AppendCausal(lifeID string, records []life.CausalRecord, at time.Time) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin causal: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if _, err := tx.Exec(`
			INSERT INTO causal_records
				(life_id, action_id, category, delta_energy, delta_stability, delta_integrity,
				 registered_tick, resolved_tick, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, lifeID, r.ActionID, r.Category, r.Delta.Energy, r.Delta.Stability, r.Delta.Integrity,
			r.RegisteredTick, r.ResolvedTick, at.UnixMilli()); err != nil {
			return fmt.Errorf("insert causal %s: %w", r.ActionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit causal: %w", err)
	}
	return nil
}

// ListCausal returns the most recent causal records first.
func (db *DB) ListCausal(limit int) ([]CausalEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, life_id, action_id, category, delta_energy, delta_stability, delta_integrity,
		       registered_tick, resolved_tick, recorded_at
		FROM causal_records
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list causal: %w", err)
	}
	defer rows.Close()

	var out []CausalEntry
	for rows.Next() {
		var (
			c          CausalEntry
			recordedAt int64
		)
		if err := rows.Scan(&c.ID, &c.LifeID, &c.Record.ActionID, &c.Record.Category,
			&c.Record.Delta.Energy, &c.Record.Delta.Stability, &c.Record.Delta.Integrity,
			&c.Record.RegisteredTick, &c.Record.ResolvedTick, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan causal: %w", err)
		}
		c.RecordedAt = time.UnixMilli(recordedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CausalSummary is the aggregate effect observed for one action.
type CausalSummary struct {
	ActionID      string  `json:"action_id"`
	Count         int     `json:"count"`
	MeanEnergy    float64 `json:"mean_energy"`
	MeanStability float64 `json:"mean_stability"`
	MeanIntegrity float64 `json:"mean_integrity"`
}

// SummarizeCausal aggregates the ledger per action, most frequent first.
func (db *DB) SummarizeCausal() ([]CausalSummary, error) {
	rows, err := db.Query(`
		SELECT action_id, COUNT(*), AVG(delta_energy), AVG(delta_stability), AVG(delta_integrity)
		FROM causal_records
		GROUP BY action_id
		ORDER BY COUNT(*) DESC, action_id
	`)
	if err != nil {
		return nil, fmt.Errorf("summarize causal: %w", err)
	}
	defer rows.Close()

	var out []CausalSummary
	for rows.Next() {
		var s CausalSummary
		if err := rows.Scan(&s.ActionID, &s.Count, &s.MeanEnergy, &s.MeanStability, &s.MeanIntegrity); err != nil {
			return nil, fmt.Errorf("scan causal summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
