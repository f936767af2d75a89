package round

import (
	"context"
	"fmt"

	"pythia-bench/internal/logging"
	"pythia-bench/internal/region"
	"pythia-bench/internal/rendezvous"

	"github.com/sirupsen/logrus"
)

// RunServer is the memory owner: it allocates and publishes the probe and
// evict pools, then waits at the terminate barrier until every peer is done.
func RunServer(ctx context.Context, env *Env) error {
	logger := logging.GetLogger()
	cfg := env.Config
	rv := env.Rendezvous

	policy, err := cfg.PoolPolicy()
	if err != nil {
		return err
	}
	probe, err := region.Allocate(env.Registrar, cfg.Pool.Entries, cfg.Pool.BlockSize, policy, cfg.Pool.MaxExtent)
	if err != nil {
		return fmt.Errorf("probe pool: %w", err)
	}
	extra, err := probe.RegisterExtra(env.Registrar)
	if err != nil {
		return err
	}

	evictPolicy, err := cfg.EvictPoolPolicy()
	if err != nil {
		return err
	}
	evictPool, err := region.Allocate(env.Registrar, cfg.EvictPool.Entries, cfg.EvictPool.BlockSize, evictPolicy, cfg.EvictPool.MaxExtent)
	if err != nil {
		return fmt.Errorf("evict pool: %w", err)
	}

	if err := rv.PublishJSON(ctx, rendezvous.ProbeRegion, probe.Descriptor()); err != nil {
		return err
	}
	if err := rv.PublishJSON(ctx, rendezvous.EvictRegion, evictPool.Descriptor()); err != nil {
		return err
	}
	if err := rv.PublishJSON(ctx, rendezvous.AccessSet, AccessSet(cfg.Probe.Access)); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"probe_entries": probe.Len(),
		"probe_base":    fmt.Sprintf("%#x", probe.Base()),
		"probe_policy":  policy.String(),
		"evict_entries": evictPool.Len(),
		"extra_rkey":    extra,
	}).Info("Memory regions published")

	if err := rv.Barrier(ctx, env.MachineID, cfg.Participants()); err != nil {
		return err
	}
	logger.Info("All participants terminated")
	return nil
}
