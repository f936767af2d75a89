package round

import (
	"fmt"

	"pythia-bench/internal/config"
	"pythia-bench/internal/evict"
)

// Plan is what one round measures.
type Plan struct {
	Round     int
	Target    int
	Mode      evict.CheckMode
	Strategy  evict.Strategy
	EvictSize int
}

type scheduleEntry struct {
	mode     evict.CheckMode
	strategy evict.Strategy
}

// Schedule derives each round's plan from its index alone, so attacker and
// client agree on targets without talking.
type Schedule struct {
	targets []int
	modulo  int
	scale   int
	entries []scheduleEntry
	size    config.EvictSizeConfig
}

// NewSchedule builds the schedule. targets, when non-empty, replaces the
// modulo target sequence.
func NewSchedule(cfg *config.BenchmarkConfig, targets []int) (*Schedule, error) {
	s := &Schedule{
		targets: targets,
		modulo:  cfg.Target.Modulo,
		scale:   cfg.Target.Scale,
		size:    cfg.Probe.EvictSize,
	}
	if len(targets) == 0 && (s.modulo < 1 || s.scale < 1) {
		return nil, fmt.Errorf("target modulo %d and scale %d must be positive", s.modulo, s.scale)
	}
	if s.size.Base < 1 || s.size.GrowEvery < 1 || s.size.Cycle < 1 {
		return nil, fmt.Errorf("invalid evict size schedule %+v", s.size)
	}
	for i, e := range cfg.Probe.Schedule {
		mode, err := evict.ParseCheckMode(e.Mode)
		if err != nil {
			return nil, fmt.Errorf("schedule entry %d: %w", i, err)
		}
		strategy, err := evict.StrategyFor(e.Strategy)
		if err != nil {
			return nil, fmt.Errorf("schedule entry %d: %w", i, err)
		}
		s.entries = append(s.entries, scheduleEntry{mode: mode, strategy: strategy})
	}
	if len(s.entries) == 0 {
		return nil, fmt.Errorf("schedule has no entries")
	}
	return s, nil
}

func (s *Schedule) Target(round int) int {
	if len(s.targets) > 0 {
		return s.targets[round%len(s.targets)]
	}
	return (round % s.modulo) * s.scale
}

func (s *Schedule) EvictSize(round int) int {
	return s.size.Base << ((round % s.size.Cycle) / s.size.GrowEvery)
}

func (s *Schedule) Plan(round int) Plan {
	e := s.entries[round%len(s.entries)]
	return Plan{
		Round:     round,
		Target:    s.Target(round),
		Mode:      e.mode,
		Strategy:  e.strategy,
		EvictSize: s.EvictSize(round),
	}
}
