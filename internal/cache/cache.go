// Package cache memoizes pure per-tick computations behind a strict LRU.
//
// Every cached computation rounds its inputs before computing, and the
// uncached package-level function does the same rounding, so a Cache only
// ever changes latency, never results.
package cache

import (
	"math"
	"time"

	"github.com/golang/groupcache/lru"
)

// DefaultCapacity is used when a non-positive capacity is given.
const DefaultCapacity = 1000

const (
	dilationPrecision = 100 // two decimal places
	factorPrecision   = 1e6

	minDilation = 0.25
	maxDilation = 4.0
)

// Cache is a fixed-capacity LRU. It has a single writer (the tick loop)
// and no internal locking.
type Cache struct {
	lru    *lru.Cache
	hits   uint64
	misses uint64
}

// New returns an empty cache holding at most capacity values.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{lru: lru.New(capacity)}
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Len    int    `json:"len"`
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses, Len: c.lru.Len()}
}

// memo returns the cached value for key or computes and stores it.
func (c *Cache) memo(key lru.Key, compute func() float64) float64 {
	if v, ok := c.lru.Get(key); ok {
		c.hits++
		return v.(float64)
	}
	c.misses++
	v := compute()
	c.lru.Add(key, v)
	return v
}

// DilationInput are the normalized inputs to subjective-time dilation.
// Vitals are in [0, 1] relative to their bounds; Arousal is the mean
// recent stimulus magnitude in [0, 1].
type DilationInput struct {
	Energy    float64
	Stability float64
	Integrity float64
	Arousal   float64
}

type dilationKey struct {
	e, s, i, a int64
}

func (in DilationInput) key() dilationKey {
	return dilationKey{
		e: roundUnits(in.Energy, dilationPrecision),
		s: roundUnits(in.Stability, dilationPrecision),
		i: roundUnits(in.Integrity, dilationPrecision),
		a: roundUnits(in.Arousal, dilationPrecision),
	}
}

// Dilation returns the memoized dilation factor for in.
func (c *Cache) Dilation(in DilationInput) float64 {
	k := in.key()
	return c.memo(k, func() float64 { return dilationFromKey(k) })
}

// Dilation computes the dilation factor without a cache.
func Dilation(in DilationInput) float64 {
	return dilationFromKey(in.key())
}

// dilationFromKey: intense moments stretch subjective time, a depleted body
// compresses it. Result is clamped to [0.25, 4].
func dilationFromKey(k dilationKey) float64 {
	e := float64(k.e) / dilationPrecision
	s := float64(k.s) / dilationPrecision
	i := float64(k.i) / dilationPrecision
	a := float64(k.a) / dilationPrecision

	health := clamp01((e + s + i) / 3)
	arousal := clamp01(a)

	d := (1 + 0.75*math.Tanh(2*arousal)) * (0.6 + 0.4*math.Sqrt(health))
	return math.Max(minDilation, math.Min(maxDilation, d))
}

type decayKey struct {
	factor int64
	ms     int64
	unitMs int64
}

func newDecayKey(factor float64, elapsed, unit time.Duration) decayKey {
	return decayKey{
		factor: roundUnits(factor, factorPrecision),
		ms:     elapsed.Milliseconds(),
		unitMs: unit.Milliseconds(),
	}
}

// DecayMultiplier returns factor^(elapsed/unit), memoized.
func (c *Cache) DecayMultiplier(factor float64, elapsed, unit time.Duration) float64 {
	k := newDecayKey(factor, elapsed, unit)
	return c.memo(k, func() float64 { return decayFromKey(k) })
}

// DecayMultiplier computes factor^(elapsed/unit) without a cache.
func DecayMultiplier(factor float64, elapsed, unit time.Duration) float64 {
	return decayFromKey(newDecayKey(factor, elapsed, unit))
}

func decayFromKey(k decayKey) float64 {
	if k.ms <= 0 || k.unitMs <= 0 {
		return 1
	}
	f := float64(k.factor) / factorPrecision
	return math.Pow(f, float64(k.ms)/float64(k.unitMs))
}

func roundUnits(v, precision float64) int64 {
	return int64(math.Round(v * precision))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
