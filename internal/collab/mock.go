package collab

import (
	"sync/atomic"

	"github.com/lazypower/vivarium/internal/memory"
	"github.com/lazypower/vivarium/internal/stimulus"
)

// Mock implements every collaborator with optional function overrides and
// call counters. Nil functions fall back to the defaults.
type Mock struct {
	InterpretFunc func(stimulus.Record, Context) (Interpretation, error)
	DecideFunc    func(stimulus.Record, Interpretation, Context) (Decision, error)
	ActFunc       func(Decision, Context) (Outcome, error)
	LearnFunc     func(Context, []memory.Entry) (Adjustments, error)
	AdaptFunc     func(Context) (Adjustments, error)

	Interprets atomic.Int64
	Decides    atomic.Int64
	Acts       atomic.Int64
	Learns     atomic.Int64
	Adapts     atomic.Int64
}

// Set returns a Set whose members are all m.
func (m *Mock) Set() Set {
	return Set{Interpreter: m, Decider: m, Actor: m, Learner: m, Adapter: m}
}

func (m *Mock) Interpret(r stimulus.Record, c Context) (Interpretation, error) {
	m.Interprets.Add(1)
	if m.InterpretFunc != nil {
		return m.InterpretFunc(r, c)
	}
	return ThresholdInterpreter{}.Interpret(r, c)
}

func (m *Mock) Decide(r stimulus.Record, in Interpretation, c Context) (Decision, error) {
	m.Decides.Add(1)
	if m.DecideFunc != nil {
		return m.DecideFunc(r, in, c)
	}
	return NewTableDecider(nil).Decide(r, in, c)
}

func (m *Mock) Act(d Decision, c Context) (Outcome, error) {
	m.Acts.Add(1)
	if m.ActFunc != nil {
		return m.ActFunc(d, c)
	}
	return Outcome{Note: d.ActionID}, nil
}

func (m *Mock) Learn(c Context, recent []memory.Entry) (Adjustments, error) {
	m.Learns.Add(1)
	if m.LearnFunc != nil {
		return m.LearnFunc(c, recent)
	}
	return Adjustments{}, nil
}

func (m *Mock) Adapt(c Context) (Adjustments, error) {
	m.Adapts.Add(1)
	if m.AdaptFunc != nil {
		return m.AdaptFunc(c)
	}
	return Adjustments{}, nil
}
