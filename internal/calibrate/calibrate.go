package calibrate

import (
	"context"
	"fmt"
	"time"

	"pythia-bench/internal/logging"
	"pythia-bench/internal/rendezvous"

	"github.com/sirupsen/logrus"
)

// Config bounds what counts as a usable calibration.
type Config struct {
	Trials int
	// MinMargin is the smallest evict-hit gap trusted to separate the classes.
	MinMargin time.Duration
	// MaxMargin is the largest gap before the sample is considered noise.
	MaxMargin     time.Duration
	FallbackHit   time.Duration
	FallbackEvict time.Duration
}

func DefaultConfig() Config {
	return Config{
		Trials:        100,
		MinMargin:     100 * time.Nanosecond,
		MaxMargin:     10000 * time.Nanosecond,
		FallbackHit:   1900 * time.Nanosecond,
		FallbackEvict: 2400 * time.Nanosecond,
	}
}

func (c Config) Validate() error {
	if c.Trials < 1 {
		return fmt.Errorf("calibration trials must be positive, got %d", c.Trials)
	}
	if c.MinMargin < 0 || c.MaxMargin < c.MinMargin {
		return fmt.Errorf("calibration margins [%v, %v] are inconsistent", c.MinMargin, c.MaxMargin)
	}
	if c.FallbackEvict <= c.FallbackHit {
		return fmt.Errorf("fallback evict latency %v must exceed fallback hit latency %v", c.FallbackEvict, c.FallbackHit)
	}
	return nil
}

type Result struct {
	HitLatencyNs   float64 `json:"hit_ns"`
	EvictLatencyNs float64 `json:"evict_ns"`
	Degraded       bool    `json:"degraded"`
	// Means actually measured, before any fallback substitution.
	SampledHitNs   float64 `json:"sampled_hit_ns"`
	SampledEvictNs float64 `json:"sampled_evict_ns"`
}

// Threshold is the decision boundary: reloads at or above it are misses.
func (r Result) Threshold() float64 {
	return (r.HitLatencyNs + r.EvictLatencyNs) / 2
}

// Evaluate turns sampled means into a result, substituting the fallback
// constants when the gap is outside [MinMargin, MaxMargin].
func Evaluate(cfg Config, hitNs, evictNs float64) Result {
	r := Result{
		HitLatencyNs:   hitNs,
		EvictLatencyNs: evictNs,
		SampledHitNs:   hitNs,
		SampledEvictNs: evictNs,
	}
	gap := evictNs - hitNs
	if gap < float64(cfg.MinMargin.Nanoseconds()) || gap > float64(cfg.MaxMargin.Nanoseconds()) {
		r.Degraded = true
		r.HitLatencyNs = float64(cfg.FallbackHit.Nanoseconds())
		r.EvictLatencyNs = float64(cfg.FallbackEvict.Nanoseconds())
	}
	return r
}

// Prober is the attacker's handle on the target.
type Prober interface {
	Evict() error
	// Reload reads the target once and returns how long it took.
	Reload() (time.Duration, error)
}

// Accessor is the client's handle on the target.
type Accessor interface {
	Access() error
}

const (
	stageAccessReady = iota + 1
	stageAccessDone
	stageIdleReady
	stageIdleDone
)

// Attack runs the attacker half: Trials rounds where the client touches the
// target after eviction, then Trials rounds where it stays idle.
func Attack(ctx context.Context, cfg Config, rv *rendezvous.Channel, round int, p Prober) (Result, error) {
	hit, err := sample(ctx, cfg.Trials, rv, round, p, stageAccessReady, stageAccessDone)
	if err != nil {
		return Result{}, fmt.Errorf("hit calibration: %w", err)
	}
	evict, err := sample(ctx, cfg.Trials, rv, round, p, stageIdleReady, stageIdleDone)
	if err != nil {
		return Result{}, fmt.Errorf("evict calibration: %w", err)
	}

	r := Evaluate(cfg, hit, evict)
	fields := logrus.Fields{
		"round":    round,
		"hit_ns":   hit,
		"evict_ns": evict,
	}
	if r.Degraded {
		logging.GetLogger().WithFields(fields).Warn("Calibration outside trusted margin, using fallback latencies")
	} else {
		logging.GetLogger().WithFields(fields).Debug("Calibration complete")
	}
	return r, nil
}

func sample(ctx context.Context, trials int, rv *rendezvous.Channel, round int, p Prober, ready, done int) (float64, error) {
	var sum time.Duration
	for i := 0; i < trials; i++ {
		if err := p.Evict(); err != nil {
			return 0, err
		}
		if err := rv.PublishSignal(ctx, rendezvous.WarmupReady(round, i, ready), 1); err != nil {
			return 0, err
		}
		if _, err := rv.Await(ctx, rendezvous.WarmupReady(round, i, done)); err != nil {
			return 0, err
		}
		lat, err := p.Reload()
		if err != nil {
			return 0, err
		}
		sum += lat
	}
	return float64(sum.Nanoseconds()) / float64(trials), nil
}

// Mirror runs the client half of Attack.
func Mirror(ctx context.Context, cfg Config, rv *rendezvous.Channel, round int, a Accessor) error {
	for i := 0; i < cfg.Trials; i++ {
		if _, err := rv.Await(ctx, rendezvous.WarmupReady(round, i, stageAccessReady)); err != nil {
			return err
		}
		if err := a.Access(); err != nil {
			return fmt.Errorf("calibration access %d: %w", i, err)
		}
		if err := rv.PublishSignal(ctx, rendezvous.WarmupReady(round, i, stageAccessDone), 1); err != nil {
			return err
		}
	}
	for i := 0; i < cfg.Trials; i++ {
		if _, err := rv.Await(ctx, rendezvous.WarmupReady(round, i, stageIdleReady)); err != nil {
			return err
		}
		if err := rv.PublishSignal(ctx, rendezvous.WarmupReady(round, i, stageIdleDone), 1); err != nil {
			return err
		}
	}
	return nil
}
