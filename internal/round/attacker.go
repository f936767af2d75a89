package round

import (
	"context"
	"fmt"
	"time"

	"pythia-bench/internal/calibrate"
	"pythia-bench/internal/evict"
	"pythia-bench/internal/fabric"
	"pythia-bench/internal/logging"
	"pythia-bench/internal/region"
	"pythia-bench/internal/rendezvous"

	"github.com/sirupsen/logrus"
)

// Attacker drives rounds: build an eviction set for the scheduled target,
// calibrate, then classify the client's accesses by reload latency.
type Attacker struct {
	env      *Env
	layout   *layout
	schedule *Schedule
	params   evict.Params
	cal      calibrate.Config
	opcode   fabric.Opcode
}

func NewAttacker(ctx context.Context, env *Env) (*Attacker, error) {
	cfg := env.Config
	schedule, err := NewSchedule(cfg, env.Targets)
	if err != nil {
		return nil, err
	}
	opcode, err := fabric.ParseOpcode(cfg.Fabric.EvictOpcode)
	if err != nil {
		return nil, err
	}
	l, err := fetchLayout(ctx, env, true, cfg.Fabric.UseExtraKey)
	if err != nil {
		return nil, err
	}
	if len(l.accessSet) < cfg.Probe.Access.Range {
		return nil, fmt.Errorf("published access set has %d offsets, need %d", len(l.accessSet), cfg.Probe.Access.Range)
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"probe_entries": l.probe.Len(),
		"evict_entries": l.evict.Len(),
		"access_set":    l.accessSet,
	}).Info("Memory regions received")
	return &Attacker{
		env:      env,
		layout:   l,
		schedule: schedule,
		params:   cfg.ProbeParams(),
		cal:      cfg.CalibrationSettings(),
		opcode:   opcode,
	}, nil
}

// Run executes every configured round and then joins the terminate barrier.
func (a *Attacker) Run(ctx context.Context) error {
	cfg := a.env.Config
	for r := 0; r < cfg.Experiment.Rounds; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep, err := a.Round(ctx, r)
		if err != nil {
			return fmt.Errorf("round %d: %w", r, err)
		}
		if err := a.emit(rep); err != nil {
			return err
		}
	}
	return a.env.Rendezvous.Barrier(ctx, a.env.MachineID, cfg.Participants())
}

func RunAttacker(ctx context.Context, env *Env) error {
	a, err := NewAttacker(ctx, env)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// prober times reloads of one target and replays an eviction set.
type prober struct {
	env     *Env
	target  region.Handle
	length  uint32
	batches []*fabric.Batch
}

func (p *prober) Evict() error {
	return fabric.Issue(p.env.evictChannel(), p.batches)
}

func (p *prober) Reload() (time.Duration, error) {
	clock := p.env.clock()
	start := clock.Now()
	if err := fabric.Read(p.env.Reload, p.env.Local, p.target, p.length, 0); err != nil {
		return 0, err
	}
	return clock.Now().Sub(start), nil
}

// Round runs one complete round and returns its finalized report.
func (a *Attacker) Round(ctx context.Context, r int) (*Report, error) {
	cfg := a.env.Config
	rv := a.env.Rendezvous
	plan := a.schedule.Plan(r)

	reload, err := a.layout.probe.Window(plan.Target, cfg.Probe.Access.Range, a.layout.accessSet)
	if err != nil {
		return nil, fmt.Errorf("reload window: %w", err)
	}
	target := evict.Target{Index: plan.Target, Handle: reload[0]}

	pool := a.layout.probe
	if plan.Mode == evict.ModeMR {
		pool = a.layout.evict
	}
	res, err := evict.Build(pool, target, plan.EvictSize, plan.Strategy, a.params)
	if err != nil {
		return nil, err
	}
	defer res.Set.Release()
	if plan.Mode == evict.ModeUniform {
		if err := res.Set.CheckUniform(); err != nil {
			return nil, err
		}
	}

	opts := fabric.FormatOptions{
		Opcode: a.opcode,
		Length: cfg.Fabric.EvictLength,
		Offset: cfg.Fabric.EvictOffset,
		Depth:  cfg.Fabric.CQDepth,
	}
	if cfg.Fabric.UseExtraKey && plan.Mode != evict.ModeMR {
		opts.OverrideKey = a.layout.extraKey
	}
	batches, err := fabric.Form(a.env.Local, res.Set.Entries, opts)
	if err != nil {
		return nil, err
	}

	p := &prober{env: a.env, target: target.Handle, length: cfg.Fabric.ReloadLength, batches: batches}

	cal, err := calibrate.Attack(ctx, a.cal, rv, r, p)
	if err != nil {
		return nil, err
	}
	threshold := cal.Threshold()

	rep := &Report{
		Experiment:  cfg.Experiment.Name,
		Checksum:    a.env.Checksum,
		Round:       r,
		Target:      plan.Target,
		Mode:        plan.Mode.String(),
		Strategy:    res.Strategy,
		TargetAddr:  target.Handle.Address,
		TargetKey:   target.Handle.Key,
		Calibration: cal,
		ThresholdNs: threshold,
		Span:        res.Span,
		Requested:   res.Requested,
		Achieved:    res.Achieved,
		Records:     make([]Trial, 0, cfg.Experiment.Trials),
	}
	if res.Set.Len() > 0 {
		rep.FirstEvictKey = res.Set.Entries[0].Key
		if opts.OverrideKey != 0 {
			rep.FirstEvictKey = opts.OverrideKey
		}
	}

	clock := a.env.clock()
	var evictTotal time.Duration
	for i := 0; i < cfg.Experiment.Trials; i++ {
		start := clock.Now()
		if err := p.Evict(); err != nil {
			return nil, err
		}
		evictTotal += clock.Now().Sub(start)

		if err := rv.PublishSignal(ctx, rendezvous.EvictReady(r, i), uint64(i)); err != nil {
			return nil, err
		}
		actual, err := rv.AwaitSignal(ctx, rendezvous.AccessReady(r, i))
		if err != nil {
			return nil, err
		}
		if actual > 1 {
			return nil, fmt.Errorf("client published bit %d for trial %d", actual, i)
		}

		lat, err := p.Reload()
		if err != nil {
			return nil, err
		}
		latNs := float64(lat.Nanoseconds())
		rep.Records = append(rep.Records, Trial{
			Actual:    int(actual),
			Predicted: Classify(latNs, threshold),
			LatencyNs: latNs,
		})
	}
	if cfg.Experiment.Trials > 0 {
		rep.EvictLatencyUs = float64(evictTotal.Nanoseconds()) / float64(cfg.Experiment.Trials) / 1000
	}

	rep.finalize()
	return rep, nil
}

func (a *Attacker) emit(rep *Report) error {
	logging.GetRoundLogger().WithFields(logrus.Fields{
		"round":    rep.Round,
		"target":   rep.Target,
		"status":   rep.Status,
		"accuracy": fmt.Sprintf("%0.2f", rep.Accuracy),
		"achieved": rep.Achieved,
	}).Info(rep.Line())
	for _, s := range a.env.Sinks {
		if err := s.WriteReport(rep); err != nil {
			return fmt.Errorf("round %d report: %w", rep.Round, err)
		}
	}
	return nil
}
