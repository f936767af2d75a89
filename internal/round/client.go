package round

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"pythia-bench/internal/calibrate"
	"pythia-bench/internal/fabric"
	"pythia-bench/internal/logging"
	"pythia-bench/internal/region"
	"pythia-bench/internal/rendezvous"

	"github.com/sirupsen/logrus"
)

const progressEvery = 100

// Client is the victim: per trial it flips a coin and touches the target
// only on 0, then tells the attacker which it was.
type Client struct {
	env      *Env
	layout   *layout
	schedule *Schedule
	cal      calibrate.Config
	opcode   fabric.Opcode
	rng      *rand.Rand
}

func NewClient(ctx context.Context, env *Env) (*Client, error) {
	cfg := env.Config
	schedule, err := NewSchedule(cfg, env.Targets)
	if err != nil {
		return nil, err
	}
	opcode, err := fabric.ParseOpcode(cfg.Fabric.AccessOpcode)
	if err != nil {
		return nil, err
	}
	l, err := fetchLayout(ctx, env, false, false)
	if err != nil {
		return nil, err
	}
	if len(l.accessSet) < cfg.Probe.Access.Touch {
		return nil, fmt.Errorf("published access set has %d offsets, need %d", len(l.accessSet), cfg.Probe.Access.Touch)
	}
	rng := env.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Client{
		env:      env,
		layout:   l,
		schedule: schedule,
		cal:      cfg.CalibrationSettings(),
		opcode:   opcode,
		rng:      rng,
	}, nil
}

func RunClient(ctx context.Context, env *Env) error {
	c, err := NewClient(ctx, env)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

type toucher struct {
	env     *Env
	op      fabric.Opcode
	entries []region.Handle
	length  uint32
}

func (t *toucher) Access() error {
	return fabric.Access(t.env.Reload, t.op, t.env.Local, t.entries, t.length, 0)
}

func (c *Client) Run(ctx context.Context) error {
	logger := logging.GetLogger()
	cfg := c.env.Config
	start := time.Now()
	for r := 0; r < cfg.Experiment.Rounds; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r%progressEvery == 0 {
			logger.WithFields(logrus.Fields{
				"round":   r,
				"rounds":  cfg.Experiment.Rounds,
				"elapsed": time.Since(start).Round(time.Second).String(),
			}).Info("Client progress")
		}
		if err := c.Round(ctx, r); err != nil {
			return fmt.Errorf("round %d: %w", r, err)
		}
	}
	return c.env.Rendezvous.Barrier(ctx, c.env.MachineID, cfg.Participants())
}

// Round mirrors the attacker's calibration and then answers every trial.
func (c *Client) Round(ctx context.Context, r int) error {
	cfg := c.env.Config
	rv := c.env.Rendezvous
	target := c.schedule.Target(r)

	entries, err := c.layout.probe.Window(target, cfg.Probe.Access.Touch, c.layout.accessSet)
	if err != nil {
		return fmt.Errorf("access window: %w", err)
	}
	t := &toucher{env: c.env, op: c.opcode, entries: entries, length: cfg.Fabric.AccessLength}

	if err := calibrate.Mirror(ctx, c.cal, rv, r, t); err != nil {
		return err
	}

	for i := 0; i < cfg.Experiment.Trials; i++ {
		seq, err := rv.AwaitSignal(ctx, rendezvous.EvictReady(r, i))
		if err != nil {
			return err
		}
		if seq != uint64(i) {
			logging.GetLogger().WithFields(logrus.Fields{"round": r, "trial": i, "got": seq}).Warn("Evict signal out of sequence")
		}

		bit := c.rng.Intn(2)
		if bit == 0 {
			if err := t.Access(); err != nil {
				return err
			}
		}
		if err := rv.PublishSignal(ctx, rendezvous.AccessReady(r, i), uint64(bit)); err != nil {
			return err
		}
	}
	return nil
}
