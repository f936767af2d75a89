package config

import (
	"time"

	"pythia-bench/internal/calibrate"
	"pythia-bench/internal/evict"
	"pythia-bench/internal/fabric"
	"pythia-bench/internal/region"
)

type BenchmarkConfig struct {
	Experiment  ExperimentInfo    `yaml:"experiment"`
	Pool        PoolConfig        `yaml:"pool"`
	EvictPool   PoolConfig        `yaml:"evict_pool"`
	Probe       ProbeConfig       `yaml:"probe"`
	Target      TargetConfig      `yaml:"target"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Fabric      FabricConfig      `yaml:"fabric"`
	Rendezvous  RendezvousConfig  `yaml:"rendezvous"`
	Data        DataConfig        `yaml:"data"`
	Host        HostConfig        `yaml:"host"`
}

type ExperimentInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Rounds      int    `yaml:"rounds"`
	Trials      int    `yaml:"trials"`
	LogLevel    string `yaml:"log_level"`
	LogDir      string `yaml:"log_dir"`
	// Machines is how many processes join the terminate barrier; their
	// machine ids are 0..Machines-1.
	Machines int `yaml:"machines"`
	// Seed for the client's access decisions; 0 picks one from the clock.
	Seed int64 `yaml:"seed"`
}

type PoolConfig struct {
	Entries   int    `yaml:"entries"`
	BlockSize uint64 `yaml:"block_size"`
	Policy    string `yaml:"policy"`
	MaxExtent uint64 `yaml:"max_extent"`
}

// AccessConfig describes the pool offsets, relative to the target, that the
// client touches and the attacker reloads.
type AccessConfig struct {
	Range   int `yaml:"range"`
	Spacing int `yaml:"spacing"`
	Touch   int `yaml:"touch"`
}

type ProbeConfig struct {
	Schedule             []ScheduleEntry `yaml:"schedule"`
	DefaultStartDistance int             `yaml:"default_start_distance"`
	StartDistance        int             `yaml:"start_distance"`
	IndexStride          int             `yaml:"index_stride"`
	Shift                int             `yaml:"shift"`
	BitShift             int             `yaml:"bit_shift"`
	GroupStride          int             `yaml:"group_stride"`
	AcceptWrap           bool            `yaml:"accept_wrap"`
	EvictSize            EvictSizeConfig `yaml:"evict_size"`
	Access               AccessConfig    `yaml:"access"`
}

// ScheduleEntry is one (check mode, strategy) pair; rounds cycle through them.
type ScheduleEntry struct {
	Mode     string `yaml:"mode"`
	Strategy string `yaml:"strategy"`
}

// EvictSizeConfig yields Base << ((round % Cycle) / GrowEvery).
type EvictSizeConfig struct {
	Base      int `yaml:"base"`
	GrowEvery int `yaml:"grow_every"`
	Cycle     int `yaml:"cycle"`
}

type TargetConfig struct {
	IndexFile string `yaml:"index_file"`
	Modulo    int    `yaml:"modulo"`
	Scale     int    `yaml:"scale"`
}

type CalibrationConfig struct {
	Trials          int `yaml:"trials"`
	MinMarginNs     int `yaml:"min_margin_ns"`
	MaxMarginNs     int `yaml:"max_margin_ns"`
	FallbackHitNs   int `yaml:"fallback_hit_ns"`
	FallbackEvictNs int `yaml:"fallback_evict_ns"`
}

type FabricConfig struct {
	Provider     string          `yaml:"provider"`
	CQDepth      int             `yaml:"cq_depth"`
	EvictLength  uint32          `yaml:"evict_length"`
	EvictOffset  uint64          `yaml:"evict_offset"`
	EvictOpcode  string          `yaml:"evict_opcode"`
	ReloadLength uint32          `yaml:"reload_length"`
	AccessLength uint32          `yaml:"access_length"`
	AccessOpcode string          `yaml:"access_opcode"`
	UseExtraKey  bool            `yaml:"use_extra_key"`
	Simulator    SimulatorConfig `yaml:"simulator"`
}

type SimulatorConfig struct {
	Sets     int   `yaml:"sets"`
	Ways     int   `yaml:"ways"`
	HitNs    int   `yaml:"hit_ns"`
	MissNs   int   `yaml:"miss_ns"`
	JitterNs int   `yaml:"jitter_ns"`
	Seed     int64 `yaml:"seed"`
}

type RendezvousConfig struct {
	Backend        string `yaml:"backend"`
	Address        string `yaml:"address"`
	Namespace      string `yaml:"namespace"`
	PollIntervalUs int    `yaml:"poll_interval_us"`
}

type DataConfig struct {
	DB       DatabaseConfig `yaml:"db"`
	SpoolDir string         `yaml:"spool_dir"`
	// TrialsDir, when set, receives a CSV row per classified trial.
	TrialsDir string `yaml:"trials_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// Enabled reports whether round metrics should be exported.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type HostConfig struct {
	// PinCore < 0 leaves the role thread unpinned.
	PinCore int `yaml:"pin_core"`
}

// Participants lists every machine id expected at the terminate barrier.
func (c *BenchmarkConfig) Participants() []int {
	ids := make([]int, c.Experiment.Machines)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (c *BenchmarkConfig) PoolPolicy() (region.Policy, error) {
	return region.ParsePolicy(c.Pool.Policy)
}

func (c *BenchmarkConfig) EvictPoolPolicy() (region.Policy, error) {
	return region.ParsePolicy(c.EvictPool.Policy)
}

// ProbeParams are the strategy parameters shared by every round.
func (c *BenchmarkConfig) ProbeParams() evict.Params {
	return evict.Params{
		IndexStride:          c.Probe.IndexStride,
		Shift:                c.Probe.Shift,
		BitShift:             c.Probe.BitShift,
		GroupStride:          c.Probe.GroupStride,
		DefaultStartDistance: c.Probe.DefaultStartDistance,
		StartDistance:        c.Probe.StartDistance,
		AcceptWrap:           c.Probe.AcceptWrap,
	}
}

func (c *BenchmarkConfig) CalibrationSettings() calibrate.Config {
	return calibrate.Config{
		Trials:        c.Calibration.Trials,
		MinMargin:     time.Duration(c.Calibration.MinMarginNs),
		MaxMargin:     time.Duration(c.Calibration.MaxMarginNs),
		FallbackHit:   time.Duration(c.Calibration.FallbackHitNs),
		FallbackEvict: time.Duration(c.Calibration.FallbackEvictNs),
	}
}

func (c *BenchmarkConfig) SimConfig() fabric.SimConfig {
	s := c.Fabric.Simulator
	return fabric.SimConfig{
		Sets:        s.Sets,
		Ways:        s.Ways,
		PageShift:   12,
		HitLatency:  time.Duration(s.HitNs),
		MissLatency: time.Duration(s.MissNs),
		Jitter:      time.Duration(s.JitterNs),
		Seed:        s.Seed,
	}
}

func (c *BenchmarkConfig) PollInterval() time.Duration {
	return time.Duration(c.Rendezvous.PollIntervalUs) * time.Microsecond
}
