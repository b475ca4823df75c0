// Package collab defines the pluggable decision pipeline the tick loop
// drives: interpret a stimulus, decide on an action, act, and periodically
// learn and adapt. The loop owns all state; collaborators only see a
// read-only Context and return values the loop applies.
package collab

import (
	"time"

	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/memory"
	"github.com/lazypower/vivarium/internal/stimulus"
)

// Context is what a collaborator may look at during one call.
type Context struct {
	Tick       uint64
	Now        time.Time
	Vitals     life.Vitals // normalised to [0, 1]
	Learning   life.Table
	Adaptation life.Table

	// Recall activates up to limit memories of a category ("" for any),
	// reinforcing them. Nil when no memory is attached.
	Recall func(category string, limit int) []memory.Entry
}

// Interpretation is the meaning assigned to a stimulus. Delta is the cost
// of perceiving it.
type Interpretation struct {
	Category     string
	Valence      float64 // [-1, 1]
	Significance float64 // [0, 1]
	Tags         map[string]string
	Delta        life.Delta
}

// Decision is the chosen response. A non-empty ActionID asks the loop to
// watch the consequences of the action. Delta is the cost of deciding.
type Decision struct {
	ActionID string
	Strength float64 // [0, 1]
	Valence  float64
	Delta    life.Delta
}

// Outcome is the effect of acting.
//
// Each stage's Delta is applied through life.State.ApplyDelta as soon as
// the stage returns, so a later failure leaves earlier deltas in place.
// Only the vital fields are honoured.
type Outcome struct {
	Delta life.Delta
	Note  string
}

// Adjustments are requested parameter-table changes, bounded by the state.
type Adjustments struct {
	Learning   map[string]float64
	Adaptation map[string]float64
}

// Empty reports whether there is nothing to apply.
func (a Adjustments) Empty() bool {
	return len(a.Learning) == 0 && len(a.Adaptation) == 0
}

type Interpreter interface {
	Interpret(r stimulus.Record, c Context) (Interpretation, error)
}

type Decider interface {
	Decide(r stimulus.Record, in Interpretation, c Context) (Decision, error)
}

type Actor interface {
	Act(d Decision, c Context) (Outcome, error)
}

type Learner interface {
	Learn(c Context, recent []memory.Entry) (Adjustments, error)
}

type Adapter interface {
	Adapt(c Context) (Adjustments, error)
}

// Set bundles one implementation of each collaborator.
type Set struct {
	Interpreter Interpreter
	Decider     Decider
	Actor       Actor
	Learner     Learner
	Adapter     Adapter
}

// Defaults returns the built-in threshold strategies.
func Defaults() Set {
	return Set{
		Interpreter: ThresholdInterpreter{},
		Decider:     NewTableDecider(nil),
		Actor:       ValenceActor{Gain: 0.05, Cost: 0.002},
		Learner:     ConsequenceLearner{Step: 0.02},
		Adapter:     HomeostaticAdapter{Low: 0.3, Step: 0.02},
	}
}

// WithDefaults fills nil members from Defaults.
func (s Set) WithDefaults() Set {
	d := Defaults()
	if s.Interpreter == nil {
		s.Interpreter = d.Interpreter
	}
	if s.Decider == nil {
		s.Decider = d.Decider
	}
	if s.Actor == nil {
		s.Actor = d.Actor
	}
	if s.Learner == nil {
		s.Learner = d.Learner
	}
	if s.Adapter == nil {
		s.Adapter = d.Adapter
	}
	return s
}
