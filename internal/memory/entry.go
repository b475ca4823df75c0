// Package memory holds the weighted, decaying experience store.
//
// Active entries are capped; entries that lose weight, age out, or are
// pushed past the cap move to an append-only archive instead of being
// deleted. Ordered indices over weight, significance and creation time are
// kept in step with every mutation so range queries never see stale data.
//
// The store has exactly one writer, the tick loop, and no internal locking.
package memory

import "time"

// Entry is one remembered experience.
type Entry struct {
	Seq          uint64    `json:"seq"`
	Category     string    `json:"category"`
	Significance float64   `json:"significance"`
	CreatedAt    time.Time `json:"created_at"`
	SubjectiveAt float64   `json:"subjective_at"`
	Weight       float64   `json:"weight"`
	AccessCount  int       `json:"access_count"`
	LastAccess   time.Time `json:"last_access"`
	DecayedAt    time.Time `json:"decayed_at"`
	Payload      *Payload  `json:"payload,omitempty"`
}

// Score is the activation ranking key.
func (e Entry) Score() float64 {
	return e.Significance * e.Weight
}

// Payload carries optional structured data. It is shared between copies of
// an entry and must not be mutated after the entry is appended.
type Payload struct {
	Consequence *Consequence      `json:"consequence,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Consequence records how the vitals moved after an action.
type Consequence struct {
	ActionID       string  `json:"action_id"`
	Category       string  `json:"category"`
	DeltaEnergy    float64 `json:"delta_energy"`
	DeltaStability float64 `json:"delta_stability"`
	DeltaIntegrity float64 `json:"delta_integrity"`
	RegisteredTick uint64  `json:"registered_tick"`
	ResolvedTick   uint64  `json:"resolved_tick"`
}

// Magnitude is the summed absolute vital change.
func (c Consequence) Magnitude() float64 {
	return abs(c.DeltaEnergy) + abs(c.DeltaStability) + abs(c.DeltaIntegrity)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
