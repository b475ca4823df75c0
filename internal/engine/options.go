package engine

import (
	"time"

	"github.com/lazypower/vivarium/internal/config"
	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/memory"
	"github.com/lazypower/vivarium/internal/policy"
)

// Options are the loop's tuning knobs.
type Options struct {
	TickInterval          time.Duration
	SignificanceThreshold float64 // memories need strictly more than this
	LearnEvery            uint64
	MaintainEvery         uint64
	LearnWindow           int // newest memories handed to the learner
	CollaboratorPenalty   float64
	Maintenance           memory.MaintenanceParams

	CausalMinDelay uint64
	CausalMaxDelay uint64
	CausalTimeout  uint64

	ViewLatest int
	Seed       uint64
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.LearnWindow <= 0 {
		o.LearnWindow = 50
	}
	if o.CausalMinDelay == 0 {
		o.CausalMinDelay = 1
	}
	if o.CausalMaxDelay < o.CausalMinDelay {
		o.CausalMaxDelay = o.CausalMinDelay
	}
	if o.ViewLatest <= 0 {
		o.ViewLatest = 10
	}
	return o
}

// OptionsFromConfig maps the loop, memory and causal sections.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		TickInterval:          cfg.Loop.TickInterval,
		SignificanceThreshold: cfg.Loop.SignificanceThreshold,
		LearnEvery:            cfg.Loop.LearnEvery,
		MaintainEvery:         cfg.Loop.MaintainEvery,
		LearnWindow:           cfg.Memory.ActivateLimit * 10,
		CollaboratorPenalty:   cfg.Loop.CollaboratorPenalty,
		Maintenance: memory.MaintenanceParams{
			DecayFactor:      cfg.Memory.DecayFactor,
			DecayUnit:        cfg.Memory.DecayUnit,
			MinWeight:        cfg.Memory.MinWeight,
			MaxAge:           cfg.Memory.MaxAge,
			ArchiveMinWeight: cfg.Memory.ArchiveMinWeight,
		},
		CausalMinDelay: cfg.Causal.MinDelay,
		CausalMaxDelay: cfg.Causal.MaxDelay,
		CausalTimeout:  cfg.Causal.Timeout,
		ViewLatest:     cfg.Memory.ActivateLimit * 2,
		Seed:           cfg.Producers.Generator.Seed,
	}
}

// StateOptions maps the vitals, memory and params sections. Extra memory
// options (such as a cached decay curve) are appended.
func StateOptions(cfg config.Config, memOpts ...memory.Option) life.Options {
	opts := []memory.Option{memory.WithReinforceStep(cfg.Memory.ReinforceStep)}
	return life.Options{
		Bounds:       life.Bounds{Min: cfg.Vitals.Min, Max: cfg.Vitals.Max},
		MemoryCap:    cfg.Memory.Cap,
		MemoryOpts:   append(opts, memOpts...),
		Params:       life.ParamLimits{Min: cfg.Params.Min, Max: cfg.Params.Max, MaxStep: cfg.Params.MaxStep},
		RecentWindow: cfg.Loop.RecentWindow,
		MaxPending:   cfg.Causal.MaxPending,
	}
}

// WeaknessFromConfig builds the weakness policy.
func WeaknessFromConfig(cfg config.Config) policy.WeaknessPolicy {
	w := cfg.Weakness
	return policy.WeaknessPolicy{
		Band:                w.Band,
		EnergyRate:          w.EnergyRate,
		StabilityRate:       w.StabilityRate,
		IntegrityRate:       w.IntegrityRate,
		StabilityMultiplier: w.StabilityMultiplier,
		IntegrityMultiplier: w.IntegrityMultiplier,
	}
}
