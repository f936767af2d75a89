package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"pythia-bench/internal/config"
	"pythia-bench/internal/database"
	"pythia-bench/internal/fabric"
	"pythia-bench/internal/host"
	"pythia-bench/internal/logging"
	"pythia-bench/internal/region"
	"pythia-bench/internal/rendezvous"
	"pythia-bench/internal/round"
	"pythia-bench/internal/runlog"
	"pythia-bench/internal/storage"

	"github.com/sirupsen/logrus"
)

const (
	roleServer   = "server"
	roleClient   = "client"
	roleAttacker = "attacker"
)

// Run is one invocation of the bench: the loaded experiment and the
// rendezvous store every role of this process talks through.
type Run struct {
	config        *config.BenchmarkConfig
	configFile    string
	configContent string
	checksum      string
	runID         string
	targets       []int
	store         rendezvous.Store
	rendezvous    *rendezvous.Channel
	startTime     time.Time
	endTime       time.Time
}

func openRun(configFile string) (*Run, error) {
	logger := logging.GetLogger()

	run := &Run{configFile: configFile}

	var err error
	run.config, run.configContent, err = config.LoadConfigWithContent(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := run.config

	// Set log level from configuration
	if err := logging.SetLogLevel(cfg.Experiment.LogLevel); err != nil {
		logger.WithField("log_level", cfg.Experiment.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
		logging.SetLogLevel("info")
	} else {
		logger.WithField("log_level", cfg.Experiment.LogLevel).Debug("Log level set from configuration")
	}

	run.checksum, err = config.Checksum(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Target.IndexFile != "" {
		run.targets, err = config.LoadTargetIndices(cfg.Target.IndexFile)
		if err != nil {
			logger.WithField("index_file", cfg.Target.IndexFile).WithError(err).Error("Failed to load target indices")
			return nil, err
		}
	}

	run.store, err = rendezvous.Open(cfg.Rendezvous.Backend, cfg.Rendezvous.Address)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"backend": cfg.Rendezvous.Backend,
			"address": cfg.Rendezvous.Address,
		}).WithError(err).Error("Failed to open rendezvous store")
		return nil, err
	}
	run.rendezvous = rendezvous.NewChannel(run.store, cfg.Rendezvous.Namespace, cfg.PollInterval())

	run.startTime = time.Now()
	run.runID = fmt.Sprintf("%s-%d", run.checksum, run.startTime.Unix())

	logger.WithFields(logrus.Fields{
		"experiment": cfg.Experiment.Name,
		"checksum":   run.checksum,
		"rounds":     cfg.Experiment.Rounds,
		"trials":     cfg.Experiment.Trials,
		"backend":    cfg.Rendezvous.Backend,
		"targets":    len(run.targets),
	}).Info("Experiment loaded")

	return run, nil
}

func (r *Run) Close() {
	if r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		logging.GetLogger().WithError(err).Warn("Failed to close rendezvous store")
	}
}

func (r *Run) newEnv(machineID int) *round.Env {
	return &round.Env{
		Config:     r.config,
		Checksum:   r.checksum,
		MachineID:  machineID,
		Rendezvous: r.rendezvous,
		Targets:    r.targets,
	}
}

func (r *Run) clientRand() *rand.Rand {
	seed := r.config.Experiment.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// attachDevice gives env its own queue pairs on dev and a registered local
// page to read into.
func attachDevice(env *round.Env, dev fabric.Device) error {
	local, err := fabric.LocalRegion(dev, region.PageSize)
	if err != nil {
		return err
	}
	env.Registrar = dev
	env.Reload = dev.Channel()
	env.Evict = dev.Channel()
	env.Clock = dev.Clock()
	env.Local = local
	return nil
}

// outputs are the attacker's report sinks.
type outputs struct {
	log       *runlog.Writer
	collector *database.Collector
	influx    *database.InfluxDBClient
	trials    *storage.TrialExport
}

func (r *Run) openOutputs(machineID int, role string) (*outputs, error) {
	logger := logging.GetLogger()
	cfg := r.config

	out := &outputs{collector: &database.Collector{}}

	w, err := runlog.Create(cfg.Experiment.LogDir, cfg.Experiment.Name, r.startTime)
	if err != nil {
		logger.WithField("log_dir", cfg.Experiment.LogDir).WithError(err).Error("Failed to create run log")
		return nil, err
	}
	out.log = w
	logger.WithField("path", w.Path()).Info("Writing round log")

	if cfg.Data.TrialsDir != "" {
		out.trials, err = storage.NewTrialExport(cfg.Data.TrialsDir, cfg.Experiment.Name, r.checksum, r.startTime)
		if err != nil {
			out.log.Close()
			return nil, fmt.Errorf("failed to create trial export: %w", err)
		}
	}

	if cfg.Data.DB.Enabled() {
		out.influx, err = database.NewInfluxDBClient(cfg.Data.DB)
		if err != nil {
			out.log.Close()
			if out.trials != nil {
				out.trials.Close(time.Now())
			}
			return nil, fmt.Errorf("failed to create database client: %w", err)
		}
		tags := map[string]string{
			"run_id":     r.runID,
			"machine_id": fmt.Sprint(machineID),
			"role":       role,
		}
		if hc, err := host.GetHostConfig(); err == nil {
			for k, v := range hc.Tags() {
				tags[k] = v
			}
		}
		out.influx.SetRunTags(tags)
	}

	return out, nil
}

func (o *outputs) sinks() []round.Sink {
	sinks := []round.Sink{o.log, o.collector}
	if o.trials != nil {
		sinks = append(sinks, o.trials)
	}
	if o.influx != nil {
		sinks = append(sinks, o.influx)
	}
	return sinks
}

// finish writes the run summary and closes every sink. It runs whether or
// not the rounds completed so a partial run keeps what it measured.
func (r *Run) finish(out *outputs, machineID int, role string) {
	logger := logging.GetLogger()

	r.endTime = time.Now()
	reports := out.collector.Reports()
	metadata := database.CollectRunMetadata(r.runID, r.config, r.checksum, machineID, role, reports, r.startTime, r.endTime)
	metadata.ConfigFile = r.configFile

	if out.influx != nil {
		if err := out.influx.WriteMetadata(metadata); err != nil {
			logger.WithError(err).Error("Failed to write run metadata")
		}
		out.influx.Close()
	}

	artifact := database.BuildSpoolArtifact(metadata, r.configContent, reports, r.startTime, r.endTime)
	if path, err := database.WriteSpoolArtifact(r.config.Data.SpoolDir, artifact); err != nil {
		logger.WithError(err).Error("Failed to write spool artifact")
	} else {
		logger.WithField("path", path).Info("Spool artifact written")
	}

	if out.trials != nil {
		if err := out.trials.Close(r.endTime); err != nil {
			logger.WithError(err).Error("Failed to close trial export")
		}
	}

	if err := out.log.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close round log")
	}

	logger.WithFields(logrus.Fields{
		"run_id":        r.runID,
		"rounds":        metadata.Rounds,
		"successful":    metadata.Successful,
		"failed":        metadata.Failed,
		"not_enough":    metadata.NotEnough,
		"mean_accuracy": metadata.MeanAccuracy,
		"duration":      r.endTime.Sub(r.startTime).String(),
	}).Info("Run finished")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func logHost() {
	logger := logging.GetLogger()
	hostConfig, err := host.GetHostConfig()
	if err != nil {
		logger.WithError(err).Warn("Failed to read host configuration")
		return
	}
	logger.WithFields(logrus.Fields{
		"hostname":     hostConfig.Hostname,
		"cpu_model":    hostConfig.CPUModel,
		"threads":      hostConfig.TotalThreads,
		"kernel":       hostConfig.KernelVersion,
		"rdma_devices": strings.Join(hostConfig.RDMADevices, ","),
	}).Info("Host configuration initialized")
}

// runRole runs one role against a hardware fabric provider. The simulated
// NIC lives inside a single process, so it is only reachable through
// simulate.
func runRole(configFile, role string, machineID int) error {
	logger := logging.GetLogger()

	run, err := openRun(configFile)
	if err != nil {
		return err
	}
	defer run.Close()
	cfg := run.config

	provider := strings.ToLower(strings.TrimSpace(cfg.Fabric.Provider))
	if provider == "sim" || provider == "" {
		return fmt.Errorf("fabric provider %q cannot span processes, use the simulate command", cfg.Fabric.Provider)
	}
	dev, err := fabric.OpenDevice(provider, cfg.SimConfig())
	if err != nil {
		logger.WithField("provider", provider).WithError(err).Error("Failed to open fabric device")
		return err
	}

	logHost()

	ctx, stop := signalContext()
	defer stop()

	env := run.newEnv(machineID)
	if err := attachDevice(env, dev); err != nil {
		return err
	}

	// The role runs on this goroutine so pinning covers it.
	if err := host.PinToCore(cfg.Host.PinCore); err != nil {
		logger.WithField("core", cfg.Host.PinCore).WithError(err).Warn("Failed to pin role to core")
	}

	logger.WithFields(logrus.Fields{
		"role":       role,
		"machine_id": machineID,
		"provider":   provider,
	}).Info("Starting role")

	switch role {
	case roleServer:
		err = round.RunServer(ctx, env)
	case roleClient:
		env.Rand = run.clientRand()
		err = round.RunClient(ctx, env)
	case roleAttacker:
		out, oerr := run.openOutputs(machineID, role)
		if oerr != nil {
			return oerr
		}
		env.Sinks = out.sinks()
		err = round.RunAttacker(ctx, env)
		run.finish(out, machineID, role)
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if err != nil {
		logger.WithField("role", role).WithError(err).Error("Role failed")
		return err
	}
	return nil
}

// runSimulation runs all three roles in this process against one simulated
// NIC, talking through the configured rendezvous store.
func runSimulation(configFile string) error {
	logger := logging.GetLogger()

	run, err := openRun(configFile)
	if err != nil {
		return err
	}
	defer run.Close()
	cfg := run.config

	if cfg.Experiment.Machines != 3 {
		return fmt.Errorf("simulate runs exactly 3 machines, config has %d", cfg.Experiment.Machines)
	}

	nic, err := fabric.NewSimNIC(cfg.SimConfig())
	if err != nil {
		return err
	}

	logHost()

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := run.newEnv(0)
	attacker := run.newEnv(1)
	client := run.newEnv(2)
	for _, env := range []*round.Env{server, attacker, client} {
		if err := attachDevice(env, nic); err != nil {
			return err
		}
	}
	client.Rand = run.clientRand()

	out, err := run.openOutputs(attacker.MachineID, roleAttacker)
	if err != nil {
		return err
	}
	attacker.Sinks = out.sinks()

	logger.WithFields(logrus.Fields{
		"sets":    cfg.Fabric.Simulator.Sets,
		"ways":    cfg.Fabric.Simulator.Ways,
		"hit_ns":  cfg.Fabric.Simulator.HitNs,
		"miss_ns": cfg.Fabric.Simulator.MissNs,
	}).Info("Starting simulation")

	roles := map[string]func(context.Context, *round.Env) error{
		roleServer:   round.RunServer,
		roleClient:   round.RunClient,
		roleAttacker: round.RunAttacker,
	}
	envs := map[string]*round.Env{
		roleServer:   server,
		roleClient:   client,
		roleAttacker: attacker,
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for name, fn := range roles {
		wg.Add(1)
		go func(name string, fn func(context.Context, *round.Env) error) {
			defer wg.Done()
			if err := fn(ctx, envs[name]); err != nil {
				logger.WithField("role", name).WithError(err).Error("Role failed")
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", name, err)
				}
				mu.Unlock()
				cancel()
			}
		}(name, fn)
	}
	wg.Wait()

	run.finish(out, attacker.MachineID, roleAttacker)
	logger.WithField("requests_served", nic.Served()).Debug("Simulated NIC drained")
	return firstErr
}
