// Package life holds the single mutable aggregate the tick loop owns:
// identity, bounded vitals, temporal counters, parameter tables, causal
// bookkeeping and the memory store.
//
// A State is not safe for concurrent use. Other goroutines read it only
// through the immutable View the loop publishes.
package life

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/vivarium/internal/memory"
)

// Vitals are the three bounded health quantities.
type Vitals struct {
	Energy    float64 `json:"energy"`
	Stability float64 `json:"stability"`
	Integrity float64 `json:"integrity"`
}

// Sub returns v - o component-wise.
func (v Vitals) Sub(o Vitals) Vitals {
	return Vitals{
		Energy:    v.Energy - o.Energy,
		Stability: v.Stability - o.Stability,
		Integrity: v.Integrity - o.Integrity,
	}
}

// Min returns the smallest of the three.
func (v Vitals) Min() float64 {
	return math.Min(v.Energy, math.Min(v.Stability, v.Integrity))
}

// Bounds is the inclusive range every vital is clamped to.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultBounds is [0, 1].
var DefaultBounds = Bounds{Min: 0, Max: 1}

func (b Bounds) clamp(v float64) float64 {
	return math.Max(b.Min, math.Min(b.Max, v))
}

// Normalize maps v into [0, 1] relative to the bounds.
func (b Bounds) Normalize(v float64) float64 {
	if b.Max <= b.Min {
		return 0
	}
	return (v - b.Min) / (b.Max - b.Min)
}

func (b Bounds) valid() bool {
	return b.Max > b.Min && !math.IsNaN(b.Min) && !math.IsNaN(b.Max)
}

// Temporal counters. Ticks and ages only ever grow.
type Temporal struct {
	Ticks         uint64  `json:"ticks"`
	WallAge       float64 `json:"wall_age"`       // seconds
	SubjectiveAge float64 `json:"subjective_age"` // seconds of experienced time
	Dilation      float64 `json:"dilation"`       // factor used for the last advance
}

// Delta is a requested change to vitals and temporal counters.
type Delta struct {
	Energy     float64
	Stability  float64
	Integrity  float64
	Ticks      uint64
	Wall       float64 // seconds
	Subjective float64 // seconds
	Dilation   float64 // recorded when non-zero
}

// VitalsOnly drops the temporal fields of d.
func (d Delta) VitalsOnly() Delta {
	return Delta{Energy: d.Energy, Stability: d.Stability, Integrity: d.Integrity}
}

// ParamLimits bound the adjustable parameter tables.
type ParamLimits struct {
	Min     float64
	Max     float64
	MaxStep float64
}

// DefaultParamLimits keeps multipliers in [0.1, 3] moving at most 0.05 per step.
var DefaultParamLimits = ParamLimits{Min: 0.1, Max: 3, MaxStep: 0.05}

// Options configure a new State.
type Options struct {
	Bounds       Bounds
	MemoryCap    int
	MemoryOpts   []memory.Option
	Params       ParamLimits
	RecentWindow int
	MaxPending   int
	Now          time.Time
}

func (o Options) withDefaults() Options {
	if !o.Bounds.valid() {
		o.Bounds = DefaultBounds
	}
	if o.MemoryCap <= 0 {
		o.MemoryCap = 1000
	}
	if o.Params.Max <= o.Params.Min {
		o.Params = DefaultParamLimits
	}
	if o.RecentWindow <= 0 {
		o.RecentWindow = 20
	}
	if o.MaxPending <= 0 {
		o.MaxPending = 256
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// State is the life's mutable aggregate.
type State struct {
	id        string
	createdAt time.Time

	bounds   Bounds
	vitals   Vitals
	temporal Temporal
	arousal  float64

	mem *memory.Store

	params     ParamLimits
	learning   Table
	adaptation Table

	pending        []PendingLink
	maxPending     int
	causalResolved uint64

	recent *recentRing
}

// New creates a fresh state with full vitals.
func New(opts Options) *State {
	opts = opts.withDefaults()
	return &State{
		id:         uuid.NewString(),
		createdAt:  opts.Now,
		bounds:     opts.Bounds,
		vitals:     Vitals{Energy: opts.Bounds.Max, Stability: opts.Bounds.Max, Integrity: opts.Bounds.Max},
		temporal:   Temporal{Dilation: 1},
		mem:        memory.New(opts.MemoryCap, opts.MemoryOpts...),
		params:     opts.Params,
		learning:   Table{},
		adaptation: Table{},
		maxPending: opts.MaxPending,
		recent:     newRecentRing(opts.RecentWindow),
	}
}

func (s *State) ID() string           { return s.id }
func (s *State) CreatedAt() time.Time { return s.createdAt }
func (s *State) Bounds() Bounds       { return s.bounds }
func (s *State) Vitals() Vitals       { return s.vitals }
func (s *State) Temporal() Temporal   { return s.temporal }
func (s *State) Ticks() uint64        { return s.temporal.Ticks }

// Memory returns the memory store. Only the owning goroutine may use it.
func (s *State) Memory() *memory.Store { return s.mem }

// NormalizedVitals maps the vitals into [0, 1] relative to the bounds.
func (s *State) NormalizedVitals() Vitals {
	return Vitals{
		Energy:    s.bounds.Normalize(s.vitals.Energy),
		Stability: s.bounds.Normalize(s.vitals.Stability),
		Integrity: s.bounds.Normalize(s.vitals.Integrity),
	}
}

// ApplyDelta is the only writer of vitals and temporal counters. Vitals are
// clamped to the bounds; NaN components and negative time increments are
// ignored. It returns the change actually applied.
func (s *State) ApplyDelta(d Delta) Delta {
	before := s.vitals
	s.vitals = Vitals{
		Energy:    s.bounds.clamp(before.Energy + finite(d.Energy)),
		Stability: s.bounds.clamp(before.Stability + finite(d.Stability)),
		Integrity: s.bounds.clamp(before.Integrity + finite(d.Integrity)),
	}

	wall := math.Max(0, finite(d.Wall))
	subj := math.Max(0, finite(d.Subjective))
	s.temporal.Ticks += d.Ticks
	s.temporal.WallAge += wall
	s.temporal.SubjectiveAge += subj
	if d.Dilation > 0 && !math.IsInf(d.Dilation, 0) {
		s.temporal.Dilation = d.Dilation
	}

	applied := s.vitals.Sub(before)
	return Delta{
		Energy:     applied.Energy,
		Stability:  applied.Stability,
		Integrity:  applied.Integrity,
		Ticks:      d.Ticks,
		Wall:       wall,
		Subjective: subj,
		Dilation:   s.temporal.Dilation,
	}
}

// Arousal is the smoothed recent stimulus magnitude in [0, 1].
func (s *State) Arousal() float64 { return s.arousal }

const arousalSmoothing = 0.2

// NoteTickIntensity folds one tick's mean stimulus magnitude into Arousal.
// Quiet ticks (mean 0) let it relax towards zero.
func (s *State) NoteTickIntensity(mean float64) {
	mean = math.Max(0, math.Min(1, finite(mean)))
	s.arousal += arousalSmoothing * (mean - s.arousal)
}

// RecordStimulus appends to the recent-activity ring.
func (s *State) RecordStimulus(sum StimulusSummary) {
	s.recent.push(sum)
}

// Recent returns the recent-activity ring, oldest first.
func (s *State) Recent() []StimulusSummary {
	return s.recent.list()
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
