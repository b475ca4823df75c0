package stimulus

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
)

// polarity pins the sign of synthesized intensity for categories whose
// meaning is unambiguous. Others draw from the full signed range.
var polarity = map[string]float64{
	"threat":  -1,
	"pain":    -1,
	"nourish": 1,
	"rest":    1,
}

// Generator synthesizes stimuli from a weighted category table.
type Generator struct {
	queue    Pusher
	interval time.Duration
	names    []string
	cumul    []float64
	total    float64
	rng      *rand.Rand
	log      *zap.Logger
	now      func() time.Time
}

// NewGenerator builds a generator. Categories with non-positive weight are
// ignored; a zero seed picks one from the clock.
func NewGenerator(q Pusher, interval time.Duration, weights map[string]float64, seed uint64, log *zap.Logger) *Generator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if log == nil {
		log = zap.NewNop()
	}

	names := make([]string, 0, len(weights))
	for name, w := range weights {
		if w > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names) // deterministic draw order for a given seed

	g := &Generator{
		queue:    q,
		interval: interval,
		names:    names,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log:      log.Named("generator"),
		now:      time.Now,
	}
	for _, name := range names {
		g.total += weights[name]
		g.cumul = append(g.cumul, g.total)
	}
	return g
}

// Next draws one stimulus. ok is false when the table is empty.
func (g *Generator) Next() (Record, bool) {
	if len(g.names) == 0 {
		return Record{}, false
	}
	x := g.rng.Float64() * g.total
	idx := sort.SearchFloat64s(g.cumul, x)
	if idx >= len(g.names) {
		idx = len(g.names) - 1
	}
	cat := g.names[idx]

	var intensity float64
	if p, ok := polarity[cat]; ok {
		intensity = p * g.rng.Float64()
	} else {
		intensity = g.rng.Float64()*2 - 1
	}

	return Record{
		Category:  cat,
		Intensity: intensity,
		Timestamp: g.now(),
		Source:    "generator",
	}, true
}

// Run pushes one synthesized stimulus per jittered interval until ctx ends.
func (g *Generator) Run(ctx context.Context) error {
	if len(g.names) == 0 || g.interval <= 0 {
		g.log.Info("generator disabled: empty category table or interval")
		<-ctx.Done()
		return nil
	}
	g.log.Info("generator started", zap.Duration("interval", g.interval), zap.Strings("categories", g.names))

	for {
		// jitter in [0.5, 1.5) x interval
		wait := time.Duration(float64(g.interval) * (0.5 + g.rng.Float64()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		rec, ok := g.Next()
		if !ok {
			continue
		}
		if !g.queue.Push(rec) {
			g.log.Debug("queue full, synthetic stimulus dropped", zap.String("category", rec.Category))
		}
	}
}
