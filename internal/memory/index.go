package memory

import "sort"

type indexItem struct {
	v   float64
	seq uint64
}

func (a indexItem) less(b indexItem) bool {
	if a.v != b.v {
		return a.v < b.v
	}
	return a.seq < b.seq
}

// index is an ascending (value, seq) ordered slice. Lookups are O(log n);
// inserts and removals shift, which stays cheap at memory-cap sizes.
type index struct {
	items []indexItem
}

func (x *index) search(it indexItem) int {
	return sort.Search(len(x.items), func(i int) bool { return !x.items[i].less(it) })
}

func (x *index) insert(v float64, seq uint64) {
	it := indexItem{v: v, seq: seq}
	i := x.search(it)
	x.items = append(x.items, indexItem{})
	copy(x.items[i+1:], x.items[i:])
	x.items[i] = it
}

func (x *index) remove(v float64, seq uint64) bool {
	it := indexItem{v: v, seq: seq}
	i := x.search(it)
	if i >= len(x.items) || x.items[i] != it {
		return false
	}
	x.items = append(x.items[:i], x.items[i+1:]...)
	return true
}

func (x *index) update(old, new float64, seq uint64) {
	if old == new {
		return
	}
	x.remove(old, seq)
	x.insert(new, seq)
}

// below returns the seqs whose value is strictly less than v, ascending.
func (x *index) below(v float64) []uint64 {
	n := sort.Search(len(x.items), func(i int) bool { return x.items[i].v >= v })
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = x.items[i].seq
	}
	return out
}

// between returns the seqs with lo <= value <= hi, ascending.
func (x *index) between(lo, hi float64) []uint64 {
	start := sort.Search(len(x.items), func(i int) bool { return x.items[i].v >= lo })
	var out []uint64
	for i := start; i < len(x.items) && x.items[i].v <= hi; i++ {
		out = append(out, x.items[i].seq)
	}
	return out
}

func (x *index) len() int { return len(x.items) }

func (x *index) reset() { x.items = x.items[:0] }
