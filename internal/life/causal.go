package life

import "github.com/lazypower/vivarium/internal/memory"

// ConsequencePrefix prefixes the memory category of resolved causal records.
const ConsequencePrefix = "consequence:"

// PendingLink waits for DueTick to compare vitals against Before.
type PendingLink struct {
	ActionID       string `json:"action_id"`
	Category       string `json:"category"`
	Before         Vitals `json:"before"`
	RegisteredTick uint64 `json:"registered_tick"`
	DueTick        uint64 `json:"due_tick"`
}

// CausalRecord is a resolved link: how the vitals moved after an action.
type CausalRecord struct {
	ActionID       string `json:"action_id"`
	Category       string `json:"category"`
	Delta          Vitals `json:"delta"`
	RegisteredTick uint64 `json:"registered_tick"`
	ResolvedTick   uint64 `json:"resolved_tick"`
}

// MemoryCategory is the category the record is remembered under.
func (r CausalRecord) MemoryCategory() string {
	return ConsequencePrefix + r.ActionID
}

// Consequence converts the record into a memory payload.
func (r CausalRecord) Consequence() *memory.Consequence {
	return &memory.Consequence{
		ActionID:       r.ActionID,
		Category:       r.Category,
		DeltaEnergy:    r.Delta.Energy,
		DeltaStability: r.Delta.Stability,
		DeltaIntegrity: r.Delta.Integrity,
		RegisteredTick: r.RegisteredTick,
		ResolvedTick:   r.ResolvedTick,
	}
}

// RegisterLink records the current vitals for an action and schedules
// resolution delay ticks from now. The pending list is capped; the oldest
// link is dropped to make room.
func (s *State) RegisterLink(actionID, category string, delay uint64) PendingLink {
	if delay == 0 {
		delay = 1
	}
	link := PendingLink{
		ActionID:       actionID,
		Category:       category,
		Before:         s.vitals,
		RegisteredTick: s.temporal.Ticks,
		DueTick:        s.temporal.Ticks + delay,
	}
	if len(s.pending) >= s.maxPending {
		drop := len(s.pending) - s.maxPending + 1
		s.pending = append(s.pending[:0], s.pending[drop:]...)
	}
	s.pending = append(s.pending, link)
	return link
}

// ResolveDue resolves every link whose due tick has been reached and drops
// links older than timeout ticks (0 disables the timeout). Expiry wins over
// resolution. Remaining links keep their order.
func (s *State) ResolveDue(timeout uint64) (resolved []CausalRecord, expired int) {
	now := s.temporal.Ticks
	keep := s.pending[:0]
	for _, p := range s.pending {
		age := now - p.RegisteredTick
		switch {
		case timeout > 0 && age > timeout:
			expired++
		case now >= p.DueTick:
			resolved = append(resolved, CausalRecord{
				ActionID:       p.ActionID,
				Category:       p.Category,
				Delta:          s.vitals.Sub(p.Before),
				RegisteredTick: p.RegisteredTick,
				ResolvedTick:   now,
			})
		default:
			keep = append(keep, p)
		}
	}
	s.pending = keep
	s.causalResolved += uint64(len(resolved))
	return resolved, expired
}

// PendingLinks returns a copy of the pending list, oldest first.
func (s *State) PendingLinks() []PendingLink {
	return append([]PendingLink(nil), s.pending...)
}

// CausalResolved is the total number of links resolved over the life.
func (s *State) CausalResolved() uint64 { return s.causalResolved }
