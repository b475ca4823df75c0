// Package engine runs the tick loop: the only goroutine that mutates the
// life state. Producers feed it through the stimulus queue; readers see
// the immutable view it publishes at the end of every tick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/vivarium/internal/cache"
	"github.com/lazypower/vivarium/internal/collab"
	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/memory"
	"github.com/lazypower/vivarium/internal/policy"
	"github.com/lazypower/vivarium/internal/stimulus"
	"github.com/lazypower/vivarium/internal/store"
)

// ErrRunning is returned by Run when the loop is already running.
var ErrRunning = errors.New("engine already running")

// ArchiveSink receives archived memory and resolved causal records for
// durable storage. *store.DB implements it. The loop never calls it
// directly; see Mirror.
type ArchiveSink interface {
	AppendArchive(lifeID string, entries []memory.Entry, at time.Time) (int, error)
	AppendCausal(lifeID string, records []life.CausalRecord, at time.Time) error
}

// TickSink receives one record per tick. *store.TickLog implements it.
type TickSink interface {
	Append(rec store.TickRecord) error
}

// Policies groups the policy managers the loop consults.
type Policies struct {
	Snapshot *policy.SnapshotPolicy
	Flush    *policy.LogFlushPolicy
	Weakness policy.WeaknessPolicy
}

// Engine owns a life state and advances it one tick at a time.
type Engine struct {
	state    *life.State
	queue    *stimulus.Queue
	collab   collab.Set
	policies Policies
	opts     Options

	cache   *cache.Cache
	ticks   TickSink
	mirror  *Mirror
	log     *zap.Logger
	now     func() time.Time
	rng     *rand.Rand

	lastStep time.Time
	view     atomic.Pointer[life.View]
	running  atomic.Bool
	errors   atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option       { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithCache(c *cache.Cache) Option       { return func(e *Engine) { e.cache = c } }
func WithTickSink(s TickSink) Option        { return func(e *Engine) { e.ticks = s } }
func WithMirror(m *Mirror) Option           { return func(e *Engine) { e.mirror = m } }

// New wires an engine. Nil collaborators fall back to the defaults.
func New(state *life.State, queue *stimulus.Queue, set collab.Set, policies Policies, opts Options, options ...Option) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		state:    state,
		queue:    queue,
		collab:   set.WithDefaults(),
		policies: policies,
		opts:     opts,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, o := range options {
		o(e)
	}
	if e.cache == nil {
		e.cache = cache.New(cache.DefaultCapacity)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	e.publish(e.now(), e.weakness().Condition(state.Vitals(), state.Bounds()))
	return e
}

// State returns the owned state. Only safe to touch while the loop is
// stopped.
func (e *Engine) State() *life.State { return e.state }

// Queue returns the stimulus queue producers push into.
func (e *Engine) Queue() *stimulus.Queue { return e.queue }

// Running reports whether Run is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Errors is the total number of collaborator failures.
func (e *Engine) Errors() uint64 { return e.errors.Load() }

// Status returns the most recently published view. It must not be modified.
func (e *Engine) Status() life.View {
	v := e.view.Load()
	if v == nil {
		return life.View{}
	}
	out := *v
	out.Running = e.running.Load()
	return out
}

// Run steps the loop every TickInterval until ctx is cancelled, then runs
// the shutdown sequence. A tick that overruns the interval is followed
// immediately by the next one; missed ticks are never made up.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer e.running.Store(false)

	e.log.Info("loop started",
		zap.String("life", e.state.ID()),
		zap.Uint64("tick", e.state.Ticks()),
		zap.Duration("interval", e.opts.TickInterval))

	for ctx.Err() == nil {
		start := time.Now()
		e.Step(ctx)

		wait := e.opts.TickInterval - time.Since(start)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}

	e.shutdown()
	e.log.Info("loop stopped", zap.Uint64("tick", e.state.Ticks()))
	return nil
}

// shutdown drains the mirror, flushes the tick log and writes a final
// snapshot.
func (e *Engine) shutdown() {
	now := e.now()
	if e.mirror != nil {
		// make room so the final batch is not dropped
		e.mirror.Drain()
		e.mirrorArchive(now, nil)
		e.mirror.Drain()
	}
	tick := e.state.Ticks()
	if p := e.policies.Flush; p != nil {
		p.MaybeFlush(tick, policy.Shutdown, false)
	}
	if p := e.policies.Snapshot; p != nil && p.Writer != nil {
		if err := p.Force(e.state); err != nil {
			e.log.Warn("final snapshot failed", zap.Uint64("tick", tick), zap.Error(err))
		}
	}
	e.publish(now, e.weakness().Condition(e.state.Vitals(), e.state.Bounds()))
}

// Report summarises one tick.
type Report struct {
	Tick          uint64
	Dilation      float64
	Stimuli       int
	Remembered    int
	Resolved      int
	Expired       int
	Errors        int
	Maintenance   *memory.MaintenanceResult
	Archived      int
	Weak          bool
	Condition     string
	SnapshotTaken bool
}

// Step runs exactly one tick without sleeping. The phase order is fixed.
func (e *Engine) Step(ctx context.Context) Report {
	now := e.now()
	dt := e.opts.TickInterval.Seconds()
	if !e.lastStep.IsZero() {
		dt = math.Max(0, now.Sub(e.lastStep).Seconds())
	}
	e.lastStep = now
	mem := e.state.Memory()
	archivedBefore := mem.ArchivedCount()

	// 1. temporal counters
	dilation := e.cache.Dilation(e.dilationInput())
	e.state.ApplyDelta(life.Delta{Ticks: 1, Wall: dt, Subjective: dt * dilation, Dilation: dilation})
	rep := Report{Tick: e.state.Ticks(), Dilation: dilation}

	// 2. causal links
	resolved, expired := e.state.ResolveDue(e.opts.CausalTimeout)
	rep.Resolved, rep.Expired = len(resolved), expired
	for _, r := range resolved {
		c := r.Consequence()
		mem.Append(memory.Entry{
			Category:     r.MemoryCategory(),
			Significance: math.Min(1, c.Magnitude()),
			CreatedAt:    now,
			SubjectiveAt: e.state.Temporal().SubjectiveAge,
			Payload:      &memory.Payload{Consequence: c},
		})
	}

	// 3. drain
	batch := e.queue.DrainAll()
	rep.Stimuli = len(batch)

	// 4-5. interpret, decide, act, remember
	var magnitude float64
	for _, r := range batch {
		magnitude += r.Magnitude()
		sum, ok := e.process(r, now, rep.Tick)
		if !ok {
			rep.Errors++
		}
		if sum.Remembered {
			rep.Remembered++
		}
		e.state.RecordStimulus(sum)
	}
	if len(batch) > 0 {
		e.state.NoteTickIntensity(magnitude / float64(len(batch)))
	} else {
		e.state.NoteTickIntensity(0)
	}

	// 6. slow adjustment
	if e.opts.LearnEvery > 0 && rep.Tick%e.opts.LearnEvery == 0 {
		rep.Errors += e.adjust(now, rep.Tick)
	}

	// 7. maintenance
	if e.opts.MaintainEvery > 0 && rep.Tick%e.opts.MaintainEvery == 0 {
		p := e.opts.Maintenance
		p.Now = now
		res := mem.BatchMaintenance(p)
		rep.Maintenance = &res
		if res.Archived > 0 {
			e.log.Debug("memory maintenance",
				zap.Uint64("tick", rep.Tick),
				zap.Int("decayed", res.Decayed),
				zap.Int("archived", res.Archived),
				zap.Int("active", res.Active))
		}
	}
	rep.Archived = mem.ArchivedCount() - archivedBefore
	e.mirrorArchive(now, resolved)

	// 8. weakness
	weak := e.weakness()
	if weak.IsWeak(e.state.Vitals(), e.state.Bounds()) {
		rep.Weak = true
		e.state.ApplyDelta(weak.Penalty(dt))
	}
	rep.Condition = weak.Condition(e.state.Vitals(), e.state.Bounds())

	// 9. observability
	e.publish(now, rep.Condition)
	e.recordTick(now, rep)

	// 10. log flush
	if p := e.policies.Flush; p != nil {
		p.MaybeFlush(rep.Tick, policy.Periodic, false)
		if rep.Errors > 0 {
			p.MaybeFlush(rep.Tick, policy.Error, false)
		}
	}

	// 11. snapshot
	if p := e.policies.Snapshot; p != nil && p.ShouldSnapshot(rep.Tick) {
		if f := e.policies.Flush; f != nil {
			f.MaybeFlush(rep.Tick, policy.PreSnapshot, false)
		}
		rep.SnapshotTaken = p.MaybeSnapshot(e.state)
		if f := e.policies.Flush; f != nil {
			f.MaybeFlush(rep.Tick, policy.PostSnapshot, rep.SnapshotTaken)
		}
	}
	return rep
}

func (e *Engine) weakness() policy.WeaknessPolicy { return e.policies.Weakness }

func (e *Engine) dilationInput() cache.DilationInput {
	v := e.state.NormalizedVitals()
	return cache.DilationInput{
		Energy:    v.Energy,
		Stability: v.Stability,
		Integrity: v.Integrity,
		Arousal:   e.state.Arousal(),
	}
}

// process runs one stimulus through the collaborator pipeline. ok is false
// when a collaborator failed and the rest of the pipeline was skipped.
func (e *Engine) process(r stimulus.Record, now time.Time, tick uint64) (sum life.StimulusSummary, ok bool) {
	sum = life.StimulusSummary{Tick: tick, Category: r.Category, Source: r.Source, Intensity: r.Intensity}
	fail := func(stage string, err error) (life.StimulusSummary, bool) {
		e.collaboratorFailed(stage, tick, r.Category, err)
		sum.Error = fmt.Sprintf("%s: %v", stage, err)
		return sum, false
	}

	c := e.context(now, tick)
	in, err := safeCall("interpret", func() (collab.Interpretation, error) {
		return e.collab.Interpreter.Interpret(r, c)
	})
	if err != nil {
		return fail("interpret", err)
	}
	sum.Significance = clamp01(in.Significance)
	// collaborators may move vitals, never time
	e.state.ApplyDelta(in.Delta.VitalsOnly())

	d, err := safeCall("decide", func() (collab.Decision, error) {
		return e.collab.Decider.Decide(r, in, c)
	})
	if err != nil {
		return fail("decide", err)
	}
	e.state.ApplyDelta(d.Delta.VitalsOnly())

	out, err := safeCall("act", func() (collab.Outcome, error) {
		return e.collab.Actor.Act(d, c)
	})
	if err != nil {
		return fail("act", err)
	}
	e.state.ApplyDelta(out.Delta.VitalsOnly())

	if d.ActionID != "" {
		e.state.RegisterLink(d.ActionID, r.Category, e.causalDelay())
		sum.Action = d.ActionID
	}

	if sum.Significance > e.opts.SignificanceThreshold {
		var payload *memory.Payload
		if len(r.Metadata) > 0 || r.Source != "" {
			tags := make(map[string]string, len(r.Metadata)+1)
			for k, v := range r.Metadata {
				tags[k] = v
			}
			if r.Source != "" {
				tags["source"] = r.Source
			}
			payload = &memory.Payload{Tags: tags}
		}
		e.state.Memory().Append(memory.Entry{
			Category:     r.Category,
			Significance: sum.Significance,
			CreatedAt:    now,
			SubjectiveAt: e.state.Temporal().SubjectiveAge,
			Payload:      payload,
		})
		sum.Remembered = true
	}
	return sum, true
}

// adjust runs the learner and adapter and returns the number of failures.
func (e *Engine) adjust(now time.Time, tick uint64) int {
	failures := 0
	c := e.context(now, tick)

	recent := e.state.Memory().Active()
	if len(recent) > e.opts.LearnWindow {
		recent = recent[:e.opts.LearnWindow]
	}
	learned, err := safeCall("learn", func() (collab.Adjustments, error) {
		return e.collab.Learner.Learn(c, recent)
	})
	if err != nil {
		e.collaboratorFailed("learn", tick, "", err)
		failures++
	} else {
		e.apply(learned)
	}

	adapted, err := safeCall("adapt", func() (collab.Adjustments, error) {
		return e.collab.Adapter.Adapt(c)
	})
	if err != nil {
		e.collaboratorFailed("adapt", tick, "", err)
		failures++
	} else {
		e.apply(adapted)
	}
	return failures
}

func (e *Engine) apply(a collab.Adjustments) {
	if a.Empty() {
		return
	}
	e.state.Adjust(life.TableLearning, a.Learning)
	e.state.Adjust(life.TableAdaptation, a.Adaptation)
}

func (e *Engine) context(now time.Time, tick uint64) collab.Context {
	mem := e.state.Memory()
	return collab.Context{
		Tick:       tick,
		Now:        now,
		Vitals:     e.state.NormalizedVitals(),
		Learning:   e.state.Params(life.TableLearning),
		Adaptation: e.state.Params(life.TableAdaptation),
		Recall: func(category string, limit int) []memory.Entry {
			return mem.Activate(category, limit, now)
		},
	}
}

func (e *Engine) collaboratorFailed(stage string, tick uint64, category string, err error) {
	e.errors.Add(1)
	e.log.Warn("collaborator failed",
		zap.String("stage", stage),
		zap.Uint64("tick", tick),
		zap.String("category", category),
		zap.Error(err))
	e.state.ApplyDelta(life.Delta{Integrity: -e.opts.CollaboratorPenalty})
}

func (e *Engine) causalDelay() uint64 {
	lo, hi := e.opts.CausalMinDelay, e.opts.CausalMaxDelay
	if hi <= lo {
		return lo
	}
	return lo + e.rng.Uint64N(hi-lo+1)
}

// mirrorArchive hands newly archived entries and resolved records to the
// mirror without blocking.
func (e *Engine) mirrorArchive(now time.Time, resolved []life.CausalRecord) {
	drained := e.state.Memory().DrainArchived()
	if e.mirror == nil {
		return
	}
	e.mirror.send(mirrorBatch{lifeID: e.state.ID(), at: now, archived: drained, causal: resolved})
}

func (e *Engine) publish(now time.Time, condition string) {
	v := e.state.View(now, e.opts.ViewLatest)
	v.Condition = condition
	v.Errors = e.errors.Load()
	v.Queue = life.QueueView{
		Len:      e.queue.Len(),
		Capacity: e.queue.Cap(),
		Pushed:   e.queue.Pushed(),
		Dropped:  e.queue.Dropped(),
	}
	st := e.cache.Stats()
	v.Cache = life.CacheView{Hits: st.Hits, Misses: st.Misses, Len: st.Len}
	e.view.Store(&v)
}

func (e *Engine) recordTick(now time.Time, rep Report) {
	if e.ticks == nil {
		return
	}
	t := e.state.Temporal()
	err := e.ticks.Append(store.TickRecord{
		Tick:          rep.Tick,
		At:            now,
		WallAge:       t.WallAge,
		SubjectiveAge: t.SubjectiveAge,
		Dilation:      rep.Dilation,
		Vitals:        e.state.Vitals(),
		Condition:     rep.Condition,
		Stimuli:       rep.Stimuli,
		Memories:      rep.Remembered,
		Archived:      rep.Archived,
		Errors:        rep.Errors,
	})
	if err != nil {
		e.log.Warn("tick log append failed", zap.Uint64("tick", rep.Tick), zap.Error(err))
	}
}

// safeCall runs a collaborator, converting a panic into an error.
func safeCall[T any](stage string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", stage, r)
		}
	}()
	return fn()
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(1, v)
}
