package calibrate

import (
	"context"
	"testing"
	"time"

	"pythia-bench/internal/rendezvous"
)

func TestEvaluate_SmallGapIsDegraded(t *testing.T) {
	r := Evaluate(DefaultConfig(), 1000, 1050)
	if !r.Degraded {
		t.Fatalf("expected degraded result for a 50ns gap")
	}
	if r.HitLatencyNs != 1900 || r.EvictLatencyNs != 2400 {
		t.Fatalf("expected fallback 1900/2400, got %v/%v", r.HitLatencyNs, r.EvictLatencyNs)
	}
	if r.SampledHitNs != 1000 || r.SampledEvictNs != 1050 {
		t.Fatalf("sampled means lost: %v/%v", r.SampledHitNs, r.SampledEvictNs)
	}
	if r.Threshold() != 2150 {
		t.Fatalf("expected threshold 2150, got %v", r.Threshold())
	}
}

func TestEvaluate_FallbackIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a := Evaluate(cfg, 3000, 2000)
	b := Evaluate(cfg, 500, 90000)
	if !a.Degraded || !b.Degraded {
		t.Fatalf("expected both inverted and oversized gaps to degrade")
	}
	if a.HitLatencyNs != b.HitLatencyNs || a.EvictLatencyNs != b.EvictLatencyNs {
		t.Fatalf("fallback differs between degraded results: %+v vs %+v", a, b)
	}
}

func TestEvaluate_AcceptsGapInsideMargins(t *testing.T) {
	r := Evaluate(DefaultConfig(), 1900, 2400)
	if r.Degraded {
		t.Fatalf("500ns gap should be trusted")
	}
	if r.Threshold() != 2150 {
		t.Fatalf("expected threshold 2150, got %v", r.Threshold())
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Trials = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero trials")
	}
	cfg = DefaultConfig()
	cfg.FallbackEvict = cfg.FallbackHit
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for equal fallback latencies")
	}
}

// fakeTarget models one cached line: Evict clears it, Access fills it and
// Reload costs hit or miss latency accordingly.
type fakeTarget struct {
	cached bool
	hit    time.Duration
	miss   time.Duration
	reads  int
}

func (f *fakeTarget) Evict() error {
	f.cached = false
	return nil
}

func (f *fakeTarget) Reload() (time.Duration, error) {
	f.reads++
	if f.cached {
		return f.hit, nil
	}
	f.cached = true
	return f.miss, nil
}

type fakeAccessor struct {
	target *fakeTarget
	calls  int
}

func (a *fakeAccessor) Access() error {
	a.calls++
	a.target.cached = true
	return nil
}

func TestAttackAndMirror(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trials = 5
	rv := rendezvous.NewChannel(rendezvous.NewMemoryStore(), "", time.Millisecond)
	ctx := context.Background()
	target := &fakeTarget{hit: 1000 * time.Nanosecond, miss: 1600 * time.Nanosecond}
	client := &fakeAccessor{target: target}

	errs := make(chan error, 1)
	go func() { errs <- Mirror(ctx, cfg, rv, 7, client) }()

	r, err := Attack(ctx, cfg, rv, 7, target)
	if err != nil {
		t.Fatalf("Attack: %v", err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if r.Degraded {
		t.Fatalf("unexpected degradation: %+v", r)
	}
	if r.HitLatencyNs != 1000 || r.EvictLatencyNs != 1600 {
		t.Fatalf("expected 1000/1600, got %v/%v", r.HitLatencyNs, r.EvictLatencyNs)
	}
	if client.calls != 5 {
		t.Fatalf("client should access only in the first phase, got %d calls", client.calls)
	}
	if target.reads != 10 {
		t.Fatalf("expected 10 timed reloads, got %d", target.reads)
	}
}
