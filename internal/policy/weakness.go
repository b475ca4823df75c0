package policy

import "github.com/lazypower/vivarium/internal/life"

// Condition names. There is no terminal state; weak is left again as soon
// as the vitals recover.
const (
	ConditionNominal = "nominal"
	ConditionWeak    = "weak"
)

// WeaknessPolicy derives the weak condition from current vitals and the
// standing penalty applied while weak.
type WeaknessPolicy struct {
	Band                float64 // fraction of the vital range above the floor
	EnergyRate          float64 // per second
	StabilityRate       float64
	IntegrityRate       float64
	StabilityMultiplier float64
	IntegrityMultiplier float64
}

// IsWeak is true when any vital is within Band of its floor.
func (p WeaknessPolicy) IsWeak(v life.Vitals, b life.Bounds) bool {
	edge := b.Min + p.Band*(b.Max-b.Min)
	return v.Energy <= edge || v.Stability <= edge || v.Integrity <= edge
}

// Condition returns ConditionWeak or ConditionNominal.
func (p WeaknessPolicy) Condition(v life.Vitals, b life.Bounds) string {
	if p.IsWeak(v, b) {
		return ConditionWeak
	}
	return ConditionNominal
}

// Penalty is the degradation for dt seconds spent weak.
func (p WeaknessPolicy) Penalty(dt float64) life.Delta {
	if dt <= 0 {
		return life.Delta{}
	}
	return life.Delta{
		Energy:    -p.EnergyRate * dt,
		Stability: -p.StabilityRate * p.StabilityMultiplier * dt,
		Integrity: -p.IntegrityRate * p.IntegrityMultiplier * dt,
	}
}
