package collab

import (
	"math"

	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/memory"
	"github.com/lazypower/vivarium/internal/stimulus"
)

// Built-in action names.
const (
	ActionIgnore   = "ignore"
	ActionApproach = "approach"
	ActionWithdraw = "withdraw"
)

// ThresholdInterpreter scores a stimulus by its magnitude scaled by the
// learned multiplier for its category.
type ThresholdInterpreter struct{}

func (ThresholdInterpreter) Interpret(r stimulus.Record, c Context) (Interpretation, error) {
	sig := math.Abs(r.Intensity) * c.Learning.Get(r.Category)
	return Interpretation{
		Category:     r.Category,
		Valence:      r.Intensity,
		Significance: math.Min(1, sig),
	}, nil
}

// TableDecider maps categories to actions. Unmapped categories approach
// positive stimuli and withdraw from negative ones; anything below
// MinSignificance is ignored.
type TableDecider struct {
	Actions         map[string]string
	MinSignificance float64
}

func NewTableDecider(actions map[string]string) TableDecider {
	return TableDecider{Actions: actions, MinSignificance: 0.2}
}

func (d TableDecider) Decide(r stimulus.Record, in Interpretation, c Context) (Decision, error) {
	if in.Significance < d.MinSignificance {
		return Decision{Valence: in.Valence}, nil
	}
	action, ok := d.Actions[in.Category]
	if !ok {
		switch {
		case in.Valence < 0:
			action = ActionWithdraw
		case in.Valence > 0:
			action = ActionApproach
		default:
			action = ActionIgnore
		}
	}
	if action == ActionIgnore {
		return Decision{Valence: in.Valence}, nil
	}
	return Decision{ActionID: action, Strength: in.Significance, Valence: in.Valence}, nil
}

// ValenceActor turns a decision into vital changes. Acting costs energy;
// the stimulus' valence feeds energy and, when negative, erodes stability.
// Withdrawing halves the negative impact. The adaptation table scales the
// effect per action.
type ValenceActor struct {
	Gain float64
	Cost float64
}

func (a ValenceActor) Act(d Decision, c Context) (Outcome, error) {
	if d.ActionID == "" {
		return Outcome{Delta: life.Delta{Energy: a.Gain * d.Valence * 0.2}, Note: ActionIgnore}, nil
	}
	scale := a.Gain * d.Strength * c.Adaptation.Get(d.ActionID)
	delta := life.Delta{Energy: -a.Cost + scale*d.Valence}
	if d.Valence < 0 {
		impact := scale * d.Valence
		if d.ActionID == ActionWithdraw {
			impact /= 2
			delta.Energy = -a.Cost + impact
		}
		delta.Stability = impact
	}
	return Outcome{Delta: delta, Note: d.ActionID}, nil
}

// ConsequenceLearner raises the learned weight of stimulus categories whose
// actions paid off and lowers it for those that hurt.
type ConsequenceLearner struct {
	Step float64
}

func (l ConsequenceLearner) Learn(c Context, recent []memory.Entry) (Adjustments, error) {
	net := map[string]float64{}
	for _, e := range recent {
		if e.Payload == nil || e.Payload.Consequence == nil {
			continue
		}
		cq := e.Payload.Consequence
		if cq.Category == "" {
			continue
		}
		net[cq.Category] += cq.DeltaEnergy + cq.DeltaStability + cq.DeltaIntegrity
	}
	out := Adjustments{}
	for cat, v := range net {
		if v == 0 {
			continue
		}
		if out.Learning == nil {
			out.Learning = map[string]float64{}
		}
		// categories with painful consequences deserve more attention
		if v < 0 {
			out.Learning[cat] = l.Step
		} else {
			out.Learning[cat] = -l.Step
		}
	}
	return out, nil
}

// HomeostaticAdapter biases actions towards whatever restores the lowest
// vital and otherwise relaxes the adaptation table back to 1.
type HomeostaticAdapter struct {
	Low  float64
	Step float64
}

func (a HomeostaticAdapter) Adapt(c Context) (Adjustments, error) {
	out := Adjustments{Adaptation: map[string]float64{}}
	switch {
	case c.Vitals.Energy < a.Low:
		out.Adaptation[ActionApproach] = a.Step
	case c.Vitals.Stability < a.Low:
		out.Adaptation[ActionWithdraw] = a.Step
	default:
		for _, k := range c.Adaptation.Keys() {
			v := c.Adaptation[k]
			if d := 1 - v; math.Abs(d) > 1e-9 {
				out.Adaptation[k] = math.Max(-a.Step, math.Min(a.Step, d))
			}
		}
	}
	if len(out.Adaptation) == 0 {
		out.Adaptation = nil
	}
	return out, nil
}
