package memory

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(cat string, sig float64, at time.Time) Entry {
	return Entry{Category: cat, Significance: sig, CreatedAt: at}
}

func TestAppendAssignsSeqAndWeight(t *testing.T) {
	s := New(10)
	a := s.Append(entry("spike", 0.9, t0))
	b := s.Append(entry("spike", 1.7, t0))

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.Equal(t, 1.0, a.Weight)
	assert.Equal(t, 1.0, b.Significance, "significance clamped")
	assert.Equal(t, t0, a.DecayedAt)

	active := s.Active()
	require.Len(t, active, 2)
	assert.Equal(t, b.Seq, active[0].Seq, "head is newest")
}

func TestCapInvariantAndAppendOnlyArchive(t *testing.T) {
	s := New(5)
	rng := rand.New(rand.NewPCG(3, 4))
	prevArchived := 0
	for i := 0; i < 200; i++ {
		s.Append(entry(fmt.Sprintf("c%d", rng.IntN(4)), rng.Float64(), t0.Add(time.Duration(i)*time.Second)))
		if rng.IntN(5) == 0 {
			s.Activate("", 2, t0)
		}
		require.LessOrEqual(t, s.Len(), 5)
		require.GreaterOrEqual(t, s.ArchivedCount(), prevArchived)
		prevArchived = s.ArchivedCount()
	}
	assert.Equal(t, 195, s.ArchivedCount())
}

func TestCapEvictsLeastRecentlyAppended(t *testing.T) {
	s := New(2)
	first := s.Append(entry("a", 0.9, t0))
	s.Append(entry("b", 0.5, t0.Add(time.Second)))
	s.Append(entry("c", 0.1, t0.Add(2*time.Second)))

	archived := s.Archived()
	require.Len(t, archived, 1)
	assert.Equal(t, first.Seq, archived[0].Seq)
	assert.True(t, s.IsArchived(first.Seq))

	all := s.Activate("", 10, t0)
	require.Len(t, all, 2)
	cats := []string{all[0].Category, all[1].Category}
	assert.ElementsMatch(t, []string{"b", "c"}, cats)
}

func TestArchiveIdempotent(t *testing.T) {
	s := New(10)
	e := s.Append(entry("a", 0.5, t0))
	assert.True(t, s.Archive(e.Seq))
	assert.False(t, s.Archive(e.Seq))
	assert.False(t, s.Archive(999))
	assert.Equal(t, 1, s.ArchivedCount())
	assert.Equal(t, 0, s.Len())
}

func TestActivateProperties(t *testing.T) {
	s := New(100)
	rng := rand.New(rand.NewPCG(9, 9))
	for i := 0; i < 60; i++ {
		cat := []string{"spike", "calm", "touch"}[rng.IntN(3)]
		s.Append(entry(cat, rng.Float64(), t0))
	}
	// vary weights
	s.BatchMaintenance(MaintenanceParams{Now: t0.Add(3 * time.Minute), DecayFactor: 0.9, DecayUnit: time.Minute, MinWeight: 0.01})

	for _, limit := range []int{0, 1, 5, 100} {
		got := s.Activate("spike", limit, t0)
		assert.LessOrEqual(t, len(got), limit)
		for i, e := range got {
			assert.Equal(t, "spike", e.Category)
			if i > 0 {
				// order was decided before reinforcement; reinforcement adds at
				// most the step to each weight
				prev := got[i-1]
				assert.GreaterOrEqual(t, prev.Significance*(prev.Weight), e.Significance*(e.Weight-DefaultReinforceStep)-1e-9)
			}
		}
	}
	assert.Empty(t, s.Activate("missing", 5, t0))
}

func TestActivateSortsByScoreBeforeReinforcement(t *testing.T) {
	s := New(10)
	low := s.Append(entry("x", 0.2, t0))
	high := s.Append(entry("x", 0.8, t0))
	mid := s.Append(entry("x", 0.5, t0))

	got := s.Activate("x", 3, t0)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{high.Seq, mid.Seq, low.Seq}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
}

func TestActivateReinforcesAndTracksAccess(t *testing.T) {
	s := New(10)
	e := s.Append(entry("x", 0.5, t0))
	s.BatchMaintenance(MaintenanceParams{Now: t0.Add(time.Minute), DecayFactor: 0.5, DecayUnit: time.Minute, MinWeight: 0.01})
	before, _ := s.Get(e.Seq)
	require.InDelta(t, 0.5, before.Weight, 1e-9)

	at := t0.Add(2 * time.Minute)
	got := s.Activate("x", 1, at)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.6, got[0].Weight, 1e-9)
	assert.Equal(t, 1, got[0].AccessCount)
	assert.Equal(t, at, got[0].LastAccess)

	for i := 0; i < 10; i++ {
		s.Activate("x", 1, at)
	}
	after, _ := s.Get(e.Seq)
	assert.Equal(t, 1.0, after.Weight, "reinforcement caps at 1.0")
	assert.Len(t, s.RangeByWeight(1.0, 1.0), 1, "weight index follows reinforcement")
}

func TestActivateEmptyStore(t *testing.T) {
	s := New(3)
	assert.Empty(t, s.Activate("", 5, t0))
	assert.Empty(t, s.Active())
	assert.Empty(t, s.RangeByWeight(0, 1))
	res := s.BatchMaintenance(MaintenanceParams{Now: t0, DecayFactor: 0.5, DecayUnit: time.Minute, MinWeight: 0.01, ArchiveMinWeight: 0.1, MaxAge: time.Hour})
	assert.Equal(t, MaintenanceResult{}, res)
}

func TestMaintenanceIdempotentForZeroElapsed(t *testing.T) {
	s := New(10)
	for i := 0; i < 5; i++ {
		s.Append(entry("x", 0.5, t0.Add(time.Duration(i)*time.Second)))
	}
	p := MaintenanceParams{Now: t0.Add(10 * time.Minute), DecayFactor: 0.9, DecayUnit: time.Minute, MinWeight: 0.01}

	first := s.BatchMaintenance(p)
	assert.Equal(t, 5, first.Decayed)
	weights := map[uint64]float64{}
	for _, e := range s.Active() {
		weights[e.Seq] = e.Weight
	}

	second := s.BatchMaintenance(p)
	assert.Equal(t, 0, second.Decayed)
	for _, e := range s.Active() {
		assert.InDelta(t, weights[e.Seq], e.Weight, 1e-12)
	}
}

func TestMaintenanceDecayIsPerElapsedTime(t *testing.T) {
	one := New(10)
	split := New(10)
	one.Append(entry("x", 0.5, t0))
	split.Append(entry("x", 0.5, t0))

	base := MaintenanceParams{DecayFactor: 0.8, DecayUnit: time.Minute, MinWeight: 0.001}
	p := base
	p.Now = t0.Add(4 * time.Minute)
	one.BatchMaintenance(p)

	for i := 1; i <= 4; i++ {
		p := base
		p.Now = t0.Add(time.Duration(i) * time.Minute)
		split.BatchMaintenance(p)
	}
	assert.InDelta(t, one.Active()[0].Weight, split.Active()[0].Weight, 1e-9)
}

func TestMaintenanceCarriesSubResolutionRemainder(t *testing.T) {
	var total time.Duration
	recording := func(factor float64, elapsed, unit time.Duration) float64 {
		total += elapsed
		return ExponentialDecay(factor, elapsed, unit)
	}
	s := New(10, WithDecayCurve(recording))
	s.Append(entry("x", 0.5, t0))

	p := MaintenanceParams{DecayFactor: 0.5, DecayUnit: time.Second, MinWeight: 0.001}
	p.Now = t0.Add(1600 * time.Microsecond)
	s.BatchMaintenance(p)
	assert.Equal(t, time.Millisecond, total)
	assert.Equal(t, t0.Add(time.Millisecond), s.Active()[0].DecayedAt)

	p.Now = t0.Add(3200 * time.Microsecond)
	s.BatchMaintenance(p)
	assert.Equal(t, 3*time.Millisecond, total, "no decay time is lost between passes")
	assert.Equal(t, t0.Add(3*time.Millisecond), s.Active()[0].DecayedAt)
}

func TestMaintenanceFloorAndArchive(t *testing.T) {
	s := New(10)
	keep := s.Append(entry("x", 0.9, t0.Add(59*time.Minute)))
	old := s.Append(entry("x", 1.0, t0.Add(-2*time.Hour)))

	p := MaintenanceParams{
		Now:              t0.Add(time.Hour),
		DecayFactor:      0.5,
		DecayUnit:        time.Hour,
		MinWeight:        0.2,
		MaxAge:           90 * time.Minute,
		ArchiveMinWeight: 0.1,
	}
	res := s.BatchMaintenance(p)
	assert.Equal(t, 1, res.Archived)
	assert.True(t, s.IsArchived(old.Seq), "age exceeds max regardless of significance")
	_, ok := s.Get(keep.Seq)
	assert.True(t, ok)

	// drive the survivor to the floor: it stays above ArchiveMinWeight
	p.Now = t0.Add(100 * time.Hour)
	p.MaxAge = 0
	s.BatchMaintenance(p)
	got, ok := s.Get(keep.Seq)
	require.True(t, ok)
	assert.Equal(t, 0.2, got.Weight)

	// raising the archive threshold above the floor archives it
	p.ArchiveMinWeight = 0.25
	res = s.BatchMaintenance(p)
	assert.Equal(t, 1, res.Archived)
	assert.Equal(t, 0, s.Len())
}

func TestRangeQueries(t *testing.T) {
	s := New(10)
	s.Append(entry("a", 0.1, t0))
	s.Append(entry("b", 0.5, t0.Add(time.Minute)))
	s.Append(entry("c", 0.9, t0.Add(2*time.Minute)))

	mid := s.RangeBySignificance(0.4, 1.0)
	require.Len(t, mid, 2)
	assert.Equal(t, "b", mid[0].Category)

	old := s.OlderThan(t0.Add(90 * time.Second))
	require.Len(t, old, 2)
	assert.Equal(t, "a", old[0].Category)

	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, s.Categories())
}

func TestDrainArchived(t *testing.T) {
	s := New(1)
	s.Append(entry("a", 0.1, t0))
	s.Append(entry("b", 0.1, t0))
	got := s.DrainArchived()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Category)
	assert.Nil(t, s.DrainArchived())

	s.Append(entry("c", 0.1, t0))
	got = s.DrainArchived()
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Category)
	assert.Equal(t, 2, s.ArchivedCount(), "draining does not shrink the archive")
}

func TestExportRestorePreservesOrder(t *testing.T) {
	s := New(10)
	for i := 0; i < 4; i++ {
		s.Append(entry(fmt.Sprintf("c%d", i), 0.25*float64(i), t0.Add(time.Duration(i)*time.Second)))
	}
	s.Activate("c2", 1, t0)
	exported := s.Export()

	r := New(10)
	r.Restore(exported, s.NextSeq())
	assert.Equal(t, exported, r.Export())
	assert.Equal(t, s.NextSeq(), r.NextSeq())

	next := r.Append(entry("new", 0.5, t0))
	assert.Equal(t, s.NextSeq(), next.Seq)
}

func TestRestoreNumbersLegacyEntriesAndAppliesCap(t *testing.T) {
	legacy := []Entry{
		{Category: "newest", Significance: 0.5, CreatedAt: t0.Add(2 * time.Second)},
		{Category: "middle", Significance: 0.5, CreatedAt: t0.Add(time.Second)},
		{Category: "oldest", Significance: 0.5, CreatedAt: t0},
	}
	r := New(2)
	r.Restore(legacy, 0)

	active := r.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "newest", active[0].Category)
	assert.Equal(t, 1.0, active[0].Weight, "missing weight defaults to 1")
	assert.Greater(t, active[0].Seq, active[1].Seq)
	require.Len(t, r.Archived(), 1)
	assert.Equal(t, "oldest", r.Archived()[0].Category)
}

func TestIndexConsistency(t *testing.T) {
	s := New(20)
	rng := rand.New(rand.NewPCG(5, 6))
	now := t0
	for i := 0; i < 300; i++ {
		now = now.Add(time.Duration(rng.IntN(90)) * time.Second)
		switch rng.IntN(4) {
		case 0, 1:
			s.Append(entry(fmt.Sprintf("c%d", rng.IntN(3)), rng.Float64(), now))
		case 2:
			s.Activate(fmt.Sprintf("c%d", rng.IntN(3)), 3, now)
		case 3:
			s.BatchMaintenance(MaintenanceParams{Now: now, DecayFactor: 0.9, DecayUnit: time.Minute, MinWeight: 0.01, ArchiveMinWeight: 0.3, MaxAge: time.Hour})
		}
		require.Equal(t, s.Len(), s.byWeight.len())
		require.Equal(t, s.Len(), s.bySignificance.len())
		require.Equal(t, s.Len(), s.byTime.len())
		require.Len(t, s.order, s.Len())
		for _, it := range s.byWeight.items {
			require.Equal(t, s.active[it.seq].Weight, it.v)
		}
	}
}
