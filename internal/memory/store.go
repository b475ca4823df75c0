package memory

import (
	"math"
	"sort"
	"time"
)

const (
	// DefaultReinforceStep is the weight added to each activated entry.
	DefaultReinforceStep = 0.1

	// nanosecond timestamps lose precision as float64 index keys; candidates
	// from the time index are widened by this much and then checked exactly.
	timeIndexSlack = float64(time.Microsecond)
)

// DecayResolution is the granularity of decay time. Elapsed time is
// truncated to it and the remainder carries over to the next pass.
const DecayResolution = time.Millisecond

// DecayCurve returns the multiplier applied to a weight after elapsed time.
type DecayCurve func(factor float64, elapsed, unit time.Duration) float64

// ExponentialDecay is factor^(elapsed/unit).
func ExponentialDecay(factor float64, elapsed, unit time.Duration) float64 {
	if elapsed <= 0 || unit <= 0 {
		return 1
	}
	return math.Pow(factor, float64(elapsed)/float64(unit))
}

// Option configures a Store.
type Option func(*Store)

// WithReinforceStep sets the weight bonus applied on activation.
func WithReinforceStep(step float64) Option {
	return func(s *Store) { s.reinforce = step }
}

// WithDecayCurve replaces the decay multiplier function.
func WithDecayCurve(c DecayCurve) Option {
	return func(s *Store) { s.curve = c }
}

// Store is the active memory plus its archive.
type Store struct {
	cap       int
	reinforce float64
	curve     DecayCurve

	active     map[uint64]*Entry
	order      []uint64 // ascending seq, i.e. append order
	byCategory map[string]map[uint64]struct{}
	nextSeq    uint64

	byWeight       index
	bySignificance index
	byTime         index

	archive     []Entry
	archivedSeq map[uint64]struct{}
	drained     int // archive[:drained] has been handed to DrainArchived
}

// New returns an empty store holding at most capacity active entries.
func New(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	s := &Store{
		cap:         capacity,
		reinforce:   DefaultReinforceStep,
		curve:       ExponentialDecay,
		active:      make(map[uint64]*Entry),
		byCategory:  make(map[string]map[uint64]struct{}),
		archivedSeq: make(map[uint64]struct{}),
		nextSeq:     1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cap returns the active-entry limit.
func (s *Store) Cap() int { return s.cap }

// Len returns the number of active entries.
func (s *Store) Len() int { return len(s.active) }

// ArchivedCount returns the number of archived entries.
func (s *Store) ArchivedCount() int { return len(s.archive) }

// NextSeq returns the sequence number the next append will receive.
func (s *Store) NextSeq() uint64 { return s.nextSeq }

// Append inserts e at the head of active memory and returns the stored copy.
// Weight starts at 1.0 and significance is clamped to [0, 1]. If the store
// is over capacity afterwards, the least recently appended entry is archived.
func (s *Store) Append(e Entry) Entry {
	e.Seq = s.nextSeq
	s.nextSeq++
	e.Weight = 1.0
	e.Significance = clamp01(e.Significance)
	if e.DecayedAt.IsZero() {
		e.DecayedAt = e.CreatedAt
	}

	s.insert(&e)
	for len(s.active) > s.cap {
		s.archiveSeq(s.order[0])
	}
	return e
}

func (s *Store) insert(e *Entry) {
	s.active[e.Seq] = e
	s.order = append(s.order, e.Seq)
	if n := len(s.order); n > 1 && s.order[n-2] > e.Seq {
		sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	}
	set := s.byCategory[e.Category]
	if set == nil {
		set = make(map[uint64]struct{})
		s.byCategory[e.Category] = set
	}
	set[e.Seq] = struct{}{}

	s.byWeight.insert(e.Weight, e.Seq)
	s.bySignificance.insert(e.Significance, e.Seq)
	s.byTime.insert(timeKey(e.CreatedAt), e.Seq)
}

func (s *Store) unlink(e *Entry) {
	delete(s.active, e.Seq)
	i := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= e.Seq })
	if i < len(s.order) && s.order[i] == e.Seq {
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
	if set := s.byCategory[e.Category]; set != nil {
		delete(set, e.Seq)
		if len(set) == 0 {
			delete(s.byCategory, e.Category)
		}
	}
	s.byWeight.remove(e.Weight, e.Seq)
	s.bySignificance.remove(e.Significance, e.Seq)
	s.byTime.remove(timeKey(e.CreatedAt), e.Seq)
}

// Archive moves an active entry to the archive. It reports whether a move
// happened; archiving an unknown or already archived seq is a no-op.
func (s *Store) Archive(seq uint64) bool {
	return s.archiveSeq(seq)
}

func (s *Store) archiveSeq(seq uint64) bool {
	if _, done := s.archivedSeq[seq]; done {
		return false
	}
	e, ok := s.active[seq]
	if !ok {
		return false
	}
	s.unlink(e)
	s.archive = append(s.archive, *e)
	s.archivedSeq[seq] = struct{}{}
	return true
}

// Activate returns up to limit active entries of category ("" matches all),
// ordered by Score descending and then newest first. Each returned entry is
// reinforced and its access bookkeeping updated; the returned copies reflect
// that update.
func (s *Store) Activate(category string, limit int, now time.Time) []Entry {
	if limit <= 0 || len(s.active) == 0 {
		return []Entry{}
	}

	var cands []*Entry
	if category == "" {
		cands = make([]*Entry, 0, len(s.active))
		for _, e := range s.active {
			cands = append(cands, e)
		}
	} else {
		set := s.byCategory[category]
		cands = make([]*Entry, 0, len(set))
		for seq := range set {
			cands = append(cands, s.active[seq])
		}
	}
	if len(cands) == 0 {
		return []Entry{}
	}

	sort.Slice(cands, func(i, j int) bool {
		si, sj := cands[i].Score(), cands[j].Score()
		if si != sj {
			return si > sj
		}
		return cands[i].Seq > cands[j].Seq
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}

	out := make([]Entry, len(cands))
	for i, e := range cands {
		w := math.Min(1.0, e.Weight+s.reinforce)
		s.byWeight.update(e.Weight, w, e.Seq)
		e.Weight = w
		e.AccessCount++
		e.LastAccess = now
		out[i] = *e
	}
	return out
}

// MaintenanceParams control one BatchMaintenance pass.
type MaintenanceParams struct {
	Now              time.Time
	DecayFactor      float64       // multiplier per DecayUnit of elapsed time
	DecayUnit        time.Duration
	MinWeight        float64       // decay never takes a weight below this floor
	MaxAge           time.Duration // 0 disables age-based archival
	ArchiveMinWeight float64
}

// MaintenanceResult reports what a pass changed.
type MaintenanceResult struct {
	Decayed  int `json:"decayed"`
	Archived int `json:"archived"`
	Active   int `json:"active"`
}

// BatchMaintenance decays every active weight by the time elapsed since its
// last decay and archives entries that fell below ArchiveMinWeight or are
// older than MaxAge, regardless of significance. With no elapsed time the
// weights are left unchanged.
func (s *Store) BatchMaintenance(p MaintenanceParams) MaintenanceResult {
	var res MaintenanceResult

	for _, seq := range s.order {
		e := s.active[seq]
		elapsed := p.Now.Sub(e.DecayedAt).Truncate(DecayResolution)
		if elapsed <= 0 {
			continue
		}
		w := e.Weight * s.curve(p.DecayFactor, elapsed, p.DecayUnit)
		if w < p.MinWeight {
			w = math.Min(e.Weight, p.MinWeight)
		}
		e.DecayedAt = e.DecayedAt.Add(elapsed)
		if w < e.Weight {
			s.byWeight.update(e.Weight, w, seq)
			e.Weight = w
			res.Decayed++
		}
	}

	var cands []uint64
	if p.ArchiveMinWeight > 0 {
		cands = append(cands, s.byWeight.below(p.ArchiveMinWeight)...)
	}
	if p.MaxAge > 0 {
		cutoff := p.Now.Add(-p.MaxAge)
		for _, seq := range s.byTime.below(timeKey(cutoff) + timeIndexSlack) {
			if p.Now.Sub(s.active[seq].CreatedAt) > p.MaxAge {
				cands = append(cands, seq)
			}
		}
	}
	for _, seq := range cands {
		if s.archiveSeq(seq) {
			res.Archived++
		}
	}

	res.Active = len(s.active)
	return res
}

// Active returns copies of the active entries, newest first.
func (s *Store) Active() []Entry {
	out := make([]Entry, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.active[s.order[i]])
	}
	return out
}

// Get returns a copy of the active entry with the given seq.
func (s *Store) Get(seq uint64) (Entry, bool) {
	e, ok := s.active[seq]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IsArchived reports whether seq has been archived.
func (s *Store) IsArchived(seq uint64) bool {
	_, ok := s.archivedSeq[seq]
	return ok
}

// RangeByWeight returns active entries with lo <= weight <= hi, lightest first.
func (s *Store) RangeByWeight(lo, hi float64) []Entry {
	return s.collect(s.byWeight.between(lo, hi))
}

// RangeBySignificance returns active entries with lo <= significance <= hi.
func (s *Store) RangeBySignificance(lo, hi float64) []Entry {
	return s.collect(s.bySignificance.between(lo, hi))
}

// OlderThan returns active entries created before cutoff, oldest first.
func (s *Store) OlderThan(cutoff time.Time) []Entry {
	var out []Entry
	for _, seq := range s.byTime.below(timeKey(cutoff) + timeIndexSlack) {
		if e := s.active[seq]; e.CreatedAt.Before(cutoff) {
			out = append(out, *e)
		}
	}
	return out
}

func (s *Store) collect(seqs []uint64) []Entry {
	out := make([]Entry, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, *s.active[seq])
	}
	return out
}

// Categories returns the active entry count per category.
func (s *Store) Categories() map[string]int {
	out := make(map[string]int, len(s.byCategory))
	for cat, set := range s.byCategory {
		out[cat] = len(set)
	}
	return out
}

// Archived returns a copy of the archive in archival order.
func (s *Store) Archived() []Entry {
	out := make([]Entry, len(s.archive))
	copy(out, s.archive)
	return out
}

// DrainArchived returns entries archived since the previous call, for
// mirroring to durable storage.
func (s *Store) DrainArchived() []Entry {
	if s.drained >= len(s.archive) {
		return nil
	}
	out := make([]Entry, len(s.archive)-s.drained)
	copy(out, s.archive[s.drained:])
	s.drained = len(s.archive)
	return out
}

// Export returns the active entries newest first, for snapshots.
func (s *Store) Export() []Entry {
	return s.Active()
}

// Restore replaces active memory with entries (newest first, as produced by
// Export). Entries without a seq are numbered in order; nextSeq is raised
// past every restored seq. Overflow beyond the cap is archived.
func (s *Store) Restore(entries []Entry, nextSeq uint64) {
	s.active = make(map[uint64]*Entry, len(entries))
	s.order = s.order[:0]
	s.byCategory = make(map[string]map[uint64]struct{})
	s.byWeight.reset()
	s.bySignificance.reset()
	s.byTime.reset()

	if nextSeq > s.nextSeq {
		s.nextSeq = nextSeq
	}
	for _, e := range entries {
		if e.Seq >= s.nextSeq {
			s.nextSeq = e.Seq + 1
		}
	}

	// oldest first so that unnumbered entries get ascending seqs
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Seq == 0 {
			e.Seq = s.nextSeq
			s.nextSeq++
		}
		if _, dup := s.active[e.Seq]; dup {
			continue
		}
		if e.Weight <= 0 || e.Weight > 1 {
			e.Weight = 1.0
		}
		e.Significance = clamp01(e.Significance)
		if e.DecayedAt.IsZero() {
			e.DecayedAt = e.CreatedAt
		}
		s.insert(&e)
	}
	for len(s.active) > s.cap {
		s.archiveSeq(s.order[0])
	}
}

func timeKey(t time.Time) float64 {
	return float64(t.UnixNano())
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
