package life

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/vivarium/internal/memory"
)

// SnapshotFormat is the current snapshot document version.
const SnapshotFormat = 1

// ErrSnapshotFormat is returned for snapshots written by a newer format.
var ErrSnapshotFormat = errors.New("unsupported snapshot format")

// Snapshot is the serialisable form of a State. Optional fields may be
// absent in older documents and take defaults on Restore.
type Snapshot struct {
	Format         int               `json:"format"`
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	TakenAt        time.Time         `json:"taken_at"`
	Vitals         *Vitals           `json:"vitals,omitempty"`
	Bounds         *Bounds           `json:"bounds,omitempty"`
	Temporal       Temporal          `json:"temporal"`
	Arousal        float64           `json:"arousal,omitempty"`
	Learning       Table             `json:"learning,omitempty"`
	Adaptation     Table             `json:"adaptation,omitempty"`
	Memory         MemorySnapshot    `json:"memory"`
	PendingLinks   []PendingLink     `json:"pending_links,omitempty"`
	CausalResolved uint64            `json:"causal_resolved"`
	Recent         []StimulusSummary `json:"recent,omitempty"`
}

// MemorySnapshot holds the active entries newest first.
type MemorySnapshot struct {
	NextSeq uint64         `json:"next_seq"`
	Active  []memory.Entry `json:"active"`
}

// Snapshot captures the full state. The archive is not included; it lives
// in the durable store.
func (s *State) Snapshot(now time.Time) Snapshot {
	vitals := s.vitals
	bounds := s.bounds
	active := s.mem.Export()
	for i := range active {
		active[i].Payload = clonePayload(active[i].Payload)
	}
	return Snapshot{
		Format:         SnapshotFormat,
		ID:             s.id,
		CreatedAt:      s.createdAt,
		TakenAt:        now,
		Vitals:         &vitals,
		Bounds:         &bounds,
		Temporal:       s.temporal,
		Arousal:        s.arousal,
		Learning:       s.learning.Clone(),
		Adaptation:     s.adaptation.Clone(),
		Memory:         MemorySnapshot{NextSeq: s.mem.NextSeq(), Active: active},
		PendingLinks:   s.PendingLinks(),
		CausalResolved: s.causalResolved,
		Recent:         s.recent.list(),
	}
}

// Restore rebuilds a State from a snapshot. opts supply the memory cap,
// parameter limits and anything the snapshot leaves out.
func Restore(snap Snapshot, opts Options) (*State, error) {
	if snap.Format > SnapshotFormat {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotFormat, snap.Format)
	}
	opts = opts.withDefaults()
	s := New(opts)

	if _, err := uuid.Parse(snap.ID); err == nil {
		s.id = snap.ID
	}
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	if snap.Bounds != nil && snap.Bounds.valid() {
		s.bounds = *snap.Bounds
	}
	if snap.Vitals != nil {
		s.vitals = Vitals{
			Energy:    s.bounds.clamp(finite(snap.Vitals.Energy)),
			Stability: s.bounds.clamp(finite(snap.Vitals.Stability)),
			Integrity: s.bounds.clamp(finite(snap.Vitals.Integrity)),
		}
	} else {
		s.vitals = Vitals{Energy: s.bounds.Max, Stability: s.bounds.Max, Integrity: s.bounds.Max}
	}

	s.temporal = snap.Temporal
	if s.temporal.WallAge < 0 {
		s.temporal.WallAge = 0
	}
	if s.temporal.SubjectiveAge < 0 {
		s.temporal.SubjectiveAge = 0
	}
	if s.temporal.Dilation <= 0 {
		s.temporal.Dilation = 1
	}
	s.arousal = snap.Arousal

	for k, v := range snap.Learning {
		s.learning[k] = clampParam(v, s.params)
	}
	for k, v := range snap.Adaptation {
		s.adaptation[k] = clampParam(v, s.params)
	}

	// entries without timestamps are dated to the snapshot, not year 1
	stamp := snap.TakenAt
	if stamp.IsZero() {
		stamp = opts.Now
	}
	active := make([]memory.Entry, len(snap.Memory.Active))
	for i, e := range snap.Memory.Active {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = stamp
		}
		if e.DecayedAt.IsZero() {
			e.DecayedAt = stamp
		}
		active[i] = e
	}
	s.mem.Restore(active, snap.Memory.NextSeq)

	for _, p := range snap.PendingLinks {
		if len(s.pending) >= s.maxPending {
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, p)
	}
	s.causalResolved = snap.CausalResolved
	for _, r := range snap.Recent {
		s.recent.push(r)
	}
	return s, nil
}

func clampParam(v float64, l ParamLimits) float64 {
	v = finite(v)
	if v < l.Min {
		return l.Min
	}
	if v > l.Max {
		return l.Max
	}
	return v
}
