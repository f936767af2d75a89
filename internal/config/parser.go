package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"pythia-bench/internal/evict"
	"pythia-bench/internal/fabric"
	"pythia-bench/internal/logging"
	"pythia-bench/internal/region"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the published experiment: a 40 GiB probe pool of 4 KiB
// blocks, 4096 per-entry evict regions and the pythia stride schedule.
func Defaults() BenchmarkConfig {
	return BenchmarkConfig{
		Experiment: ExperimentInfo{
			Rounds:   5000,
			Trials:   100,
			LogLevel: "info",
			LogDir:   ".",
			Machines: 3,
		},
		Pool: PoolConfig{
			Entries:   (40 << 30) / region.PageSize,
			BlockSize: region.PageSize,
			Policy:    "space_oriented",
			MaxExtent: 40 << 30,
		},
		EvictPool: PoolConfig{
			Entries:   4096,
			BlockSize: region.PageSize,
			Policy:    "per_entry",
		},
		Probe: ProbeConfig{
			Schedule:             []ScheduleEntry{{Mode: "stride", Strategy: "pythia"}},
			DefaultStartDistance: 0,
			StartDistance:        (1 << 25) / region.PageSize,
			Shift:                -1,
			GroupStride:          1,
			EvictSize:            EvictSizeConfig{Base: 64, GrowEvery: 1000, Cycle: 5000},
			Access:               AccessConfig{Range: 2, Spacing: 8, Touch: 1},
		},
		Target: TargetConfig{Modulo: 4096, Scale: 8},
		Calibration: CalibrationConfig{
			Trials:          100,
			MinMarginNs:     100,
			MaxMarginNs:     10000,
			FallbackHitNs:   1900,
			FallbackEvictNs: 2400,
		},
		Fabric: FabricConfig{
			Provider:     "sim",
			CQDepth:      1024,
			EvictLength:  8,
			EvictOpcode:  "read",
			ReloadLength: 1024,
			AccessLength: 1024,
			AccessOpcode: "read",
			Simulator: SimulatorConfig{
				Sets:     64,
				Ways:     8,
				HitNs:    1900,
				MissNs:   2400,
				JitterNs: 50,
				Seed:     1,
			},
		},
		Rendezvous: RendezvousConfig{
			Backend:        "memcached",
			Address:        "127.0.0.1:11211",
			PollIntervalUs: 100,
		},
		Host: HostConfig{PinCore: -1},
	}
}

func LoadConfig(filepath string) (*BenchmarkConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*BenchmarkConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	// Expand environment variables
	expanded := expandEnvVars(originalContent)

	config := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	if err := validateConfig(&config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &config, originalContent, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// LoadTargetIndices reads a victim index file: one pool index per line,
// blank lines ignored.
func LoadTargetIndices(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var indices []int
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		idx, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid index %q", path, line, text)
		}
		if idx < 0 {
			return nil, fmt.Errorf("%s:%d: negative index %d", path, line, idx)
		}
		indices = append(indices, idx)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("%s: no target indices", path)
	}
	return indices, nil
}

func validatePool(name string, p PoolConfig) error {
	if p.Entries <= 0 {
		return fmt.Errorf("%s: entries must be greater than 0", name)
	}
	if p.BlockSize < 8 {
		return fmt.Errorf("%s: block_size must be at least 8", name)
	}
	policy, err := region.ParsePolicy(p.Policy)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if policy == region.SpaceOriented && p.MaxExtent < p.BlockSize {
		return fmt.Errorf("%s: max_extent %d cannot hold one %d byte block", name, p.MaxExtent, p.BlockSize)
	}
	return nil
}

// validateEvictReach rejects a schedule whose largest eviction set can never
// be supplied. mr entries draw from the evict pool and never wrap; window and
// pythia entries draw from the probe pool unless accept_wrap lets them reuse it.
func validateEvictReach(config *BenchmarkConfig) error {
	size := config.Probe.EvictSize
	largest := size.Base << ((size.Cycle - 1) / size.GrowEvery)
	for i, entry := range config.Probe.Schedule {
		mode, err := evict.ParseCheckMode(entry.Mode)
		if err != nil {
			return fmt.Errorf("probe schedule %d: %w", i, err)
		}
		if mode == evict.ModeMR {
			if largest > config.EvictPool.Entries {
				return fmt.Errorf("probe schedule %d: evict_size reaches %d but evict_pool has %d entries", i, largest, config.EvictPool.Entries)
			}
			continue
		}
		if largest > config.Pool.Entries && !config.Probe.AcceptWrap {
			return fmt.Errorf("probe schedule %d: evict_size reaches %d but pool has %d entries and accept_wrap is off", i, largest, config.Pool.Entries)
		}
	}
	return nil
}

func validateConfig(config *BenchmarkConfig) error {
	if config.Experiment.Name == "" {
		return fmt.Errorf("experiment name is required")
	}

	if config.Experiment.Rounds <= 0 {
		return fmt.Errorf("rounds must be greater than 0")
	}

	if config.Experiment.Trials <= 0 {
		return fmt.Errorf("trials must be greater than 0")
	}

	if config.Experiment.Machines <= 0 {
		return fmt.Errorf("machines must be greater than 0")
	}

	if err := validatePool("pool", config.Pool); err != nil {
		return err
	}
	if err := validatePool("evict_pool", config.EvictPool); err != nil {
		return err
	}

	probe := config.Probe
	if len(probe.Schedule) == 0 {
		return fmt.Errorf("probe schedule must contain at least one entry")
	}
	for i, entry := range probe.Schedule {
		mode, err := evict.ParseCheckMode(entry.Mode)
		if err != nil {
			return fmt.Errorf("probe schedule %d: %w", i, err)
		}
		if mode == evict.ModeAssociate {
			return fmt.Errorf("probe schedule %d: associate mode is not supported", i)
		}
		strategy, err := evict.StrategyFor(entry.Strategy)
		if err != nil {
			return fmt.Errorf("probe schedule %d: %w", i, err)
		}
		_, modulo := strategy.(evict.Modulo)
		if (mode == evict.ModeMR) != modulo {
			return fmt.Errorf("probe schedule %d: mode %s cannot use strategy %s", i, mode, strategy.Name())
		}
	}
	if probe.DefaultStartDistance < 0 || probe.StartDistance < 0 || probe.IndexStride < 0 || probe.BitShift < 0 {
		return fmt.Errorf("probe distances must not be negative")
	}
	size := probe.EvictSize
	if size.Base <= 0 || size.GrowEvery <= 0 || size.Cycle <= 0 {
		return fmt.Errorf("evict_size fields must be greater than 0")
	}
	if (size.Cycle-1)/size.GrowEvery > 24 {
		return fmt.Errorf("evict_size grows past %d doublings", 24)
	}
	if err := validateEvictReach(config); err != nil {
		return err
	}
	access := probe.Access
	if access.Range < 1 || access.Spacing < 1 || access.Touch < 1 || access.Touch > access.Range {
		return fmt.Errorf("access range %d, spacing %d, touch %d are inconsistent", access.Range, access.Spacing, access.Touch)
	}

	if config.Target.IndexFile == "" {
		if config.Target.Modulo <= 0 || config.Target.Scale <= 0 {
			return fmt.Errorf("target modulo and scale must be greater than 0 without an index file")
		}
		last := (config.Target.Modulo-1)*config.Target.Scale + (access.Range-1)*access.Spacing
		if last >= config.Pool.Entries {
			return fmt.Errorf("targets reach index %d but the pool has %d entries", last, config.Pool.Entries)
		}
	}

	if err := config.CalibrationSettings().Validate(); err != nil {
		return err
	}

	fab := config.Fabric
	if strings.TrimSpace(fab.Provider) == "" {
		return fmt.Errorf("fabric provider is required")
	}
	if fab.CQDepth <= 0 {
		return fmt.Errorf("cq_depth must be greater than 0")
	}
	if fab.EvictLength == 0 || fab.ReloadLength == 0 || fab.AccessLength == 0 {
		return fmt.Errorf("request lengths must be greater than 0")
	}
	if uint64(fab.ReloadLength) > config.Pool.BlockSize || uint64(fab.AccessLength) > config.Pool.BlockSize {
		return fmt.Errorf("reload and access lengths must fit in one %d byte block", config.Pool.BlockSize)
	}
	if fab.EvictOffset+uint64(fab.EvictLength) > config.Pool.BlockSize || fab.EvictOffset+uint64(fab.EvictLength) > config.EvictPool.BlockSize {
		return fmt.Errorf("evict offset %d plus length %d overruns a block", fab.EvictOffset, fab.EvictLength)
	}
	if _, err := fabric.ParseOpcode(fab.EvictOpcode); err != nil {
		return fmt.Errorf("evict_opcode: %w", err)
	}
	if _, err := fabric.ParseOpcode(fab.AccessOpcode); err != nil {
		return fmt.Errorf("access_opcode: %w", err)
	}

	switch strings.ToLower(config.Rendezvous.Backend) {
	case "memory", "memcached", "sqlite":
	default:
		return fmt.Errorf("unknown rendezvous backend %q", config.Rendezvous.Backend)
	}
	if config.Rendezvous.Backend != "memory" && config.Rendezvous.Address == "" {
		return fmt.Errorf("rendezvous address is required for backend %s", config.Rendezvous.Backend)
	}
	if config.Rendezvous.PollIntervalUs < 0 {
		return fmt.Errorf("poll_interval_us must not be negative")
	}

	// Validate database config
	db := config.Data.DB
	if db.Enabled() && (db.Name == "" || db.User == "" || db.Password == "" || db.Org == "") {
		return fmt.Errorf("incomplete database configuration")
	}

	if config.Host.PinCore < -1 {
		return fmt.Errorf("pin_core must be -1 or a core number")
	}

	return nil
}
