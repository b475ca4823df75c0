package life

import (
	"math"
	"sort"
)

// Table maps a category key to a small multiplier. Missing keys read as 1.
type Table map[string]float64

// Get returns the multiplier for key, defaulting to 1.
func (t Table) Get(key string) float64 {
	if v, ok := t[key]; ok {
		return v
	}
	return 1
}

// Clone returns an independent copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order.
func (t Table) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TableKind names one of the adjustable tables.
type TableKind string

const (
	TableLearning   TableKind = "learning"
	TableAdaptation TableKind = "adaptation"
)

// Params returns a read-only copy of the named table.
func (s *State) Params(kind TableKind) Table {
	return s.table(kind).Clone()
}

func (s *State) table(kind TableKind) Table {
	if kind == TableAdaptation {
		return s.adaptation
	}
	return s.learning
}

// Adjust nudges entries of the named table. Each requested change is
// limited to MaxStep in magnitude and the result clamped to [Min, Max].
// It returns the number of keys that changed.
func (s *State) Adjust(kind TableKind, changes map[string]float64) int {
	t := s.table(kind)
	changed := 0
	for key, want := range changes {
		want = finite(want)
		if want == 0 || key == "" {
			continue
		}
		step := math.Max(-s.params.MaxStep, math.Min(s.params.MaxStep, want))
		cur := t.Get(key)
		next := math.Max(s.params.Min, math.Min(s.params.Max, cur+step))
		if next != cur {
			t[key] = next
			changed++
		}
	}
	return changed
}
