package life

import (
	"time"

	"github.com/lazypower/vivarium/internal/memory"
)

// View is an immutable projection of the state for readers outside the
// loop. It shares nothing mutable with the State it came from.
type View struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
	Running     bool      `json:"running"`
	Condition   string    `json:"condition"`

	Tick          uint64  `json:"tick"`
	WallAge       float64 `json:"wall_age"`
	SubjectiveAge float64 `json:"subjective_age"`
	Dilation      float64 `json:"dilation"`
	Arousal       float64 `json:"arousal"`

	Vitals Vitals `json:"vitals"`
	Bounds Bounds `json:"bounds"`

	Memory     MemoryView `json:"memory"`
	Learning   Table      `json:"learning"`
	Adaptation Table      `json:"adaptation"`

	PendingLinks   int    `json:"pending_links"`
	CausalResolved uint64 `json:"causal_resolved"`

	Recent []StimulusSummary `json:"recent"`

	Queue  QueueView `json:"queue"`
	Cache  CacheView `json:"cache"`
	Errors uint64    `json:"errors"`
}

// MemoryView summarises the memory store.
type MemoryView struct {
	Active     int            `json:"active"`
	Archived   int            `json:"archived"`
	NextSeq    uint64         `json:"next_seq"`
	Categories map[string]int `json:"categories"`
	Latest     []memory.Entry `json:"latest"`
}

// QueueView is filled in by the loop, which owns the queue.
type QueueView struct {
	Len      int    `json:"len"`
	Capacity int    `json:"capacity"`
	Pushed   uint64 `json:"pushed"`
	Dropped  uint64 `json:"dropped"`
}

// CacheView is filled in by the loop, which owns the cache.
type CacheView struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Len    int    `json:"len"`
}

// View projects the state. latest bounds the number of newest memory
// entries included.
func (s *State) View(now time.Time, latest int) View {
	active := s.mem.Active()
	if latest >= 0 && len(active) > latest {
		active = active[:latest]
	}
	for i := range active {
		active[i].Payload = clonePayload(active[i].Payload)
	}
	return View{
		ID:            s.id,
		CreatedAt:     s.createdAt,
		PublishedAt:   now,
		Tick:          s.temporal.Ticks,
		WallAge:       s.temporal.WallAge,
		SubjectiveAge: s.temporal.SubjectiveAge,
		Dilation:      s.temporal.Dilation,
		Arousal:       s.arousal,
		Vitals:        s.vitals,
		Bounds:        s.bounds,
		Memory: MemoryView{
			Active:     s.mem.Len(),
			Archived:   s.mem.ArchivedCount(),
			NextSeq:    s.mem.NextSeq(),
			Categories: s.mem.Categories(),
			Latest:     active,
		},
		Learning:       s.learning.Clone(),
		Adaptation:     s.adaptation.Clone(),
		PendingLinks:   len(s.pending),
		CausalResolved: s.causalResolved,
		Recent:         s.recent.list(),
	}
}

func clonePayload(p *memory.Payload) *memory.Payload {
	if p == nil {
		return nil
	}
	out := &memory.Payload{}
	if p.Consequence != nil {
		c := *p.Consequence
		out.Consequence = &c
	}
	if p.Tags != nil {
		out.Tags = make(map[string]string, len(p.Tags))
		for k, v := range p.Tags {
			out.Tags[k] = v
		}
	}
	return out
}
