package round

import (
	"context"
	"fmt"
	"math/rand"

	"pythia-bench/internal/config"
	"pythia-bench/internal/fabric"
	"pythia-bench/internal/region"
	"pythia-bench/internal/rendezvous"
)

// Env is everything a role works with. The probe engine reads no globals;
// each role gets its own Env.
type Env struct {
	Config     *config.BenchmarkConfig
	Checksum   string
	MachineID  int
	Rendezvous *rendezvous.Channel

	// Registrar backs the memory owner's pools.
	Registrar region.Registrar

	// Reload carries timed reloads and client accesses, Evict carries
	// eviction batches. Evict may be nil, then Reload is used for both.
	Reload fabric.Channel
	Evict  fabric.Channel
	Clock  fabric.Clock
	Local  fabric.LocalBuffer

	// Targets replaces the modulo target sequence when non-empty.
	Targets []int
	// Rand drives the client's access decisions.
	Rand  *rand.Rand
	Sinks []Sink
}

func (e *Env) evictChannel() fabric.Channel {
	if e.Evict != nil {
		return e.Evict
	}
	return e.Reload
}

func (e *Env) clock() fabric.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return fabric.WallClock{}
}

// AccessSet lists the pool offsets, relative to a target, that the client
// touches and the attacker reloads.
func AccessSet(a config.AccessConfig) []int {
	set := make([]int, a.Range)
	for i := range set {
		set[i] = i * a.Spacing
	}
	return set
}

// layout is what the memory owner publishes, as seen by a peer.
type layout struct {
	probe     *region.Pool
	evict     *region.Pool
	accessSet []int
	extraKey  uint32
}

func fetchLayout(ctx context.Context, env *Env, withEvict, withExtra bool) (*layout, error) {
	rv := env.Rendezvous
	l := &layout{}

	var desc region.Descriptor
	if err := rv.AwaitJSON(ctx, rendezvous.ProbeRegion, &desc); err != nil {
		return nil, err
	}
	probe, err := region.FromDescriptor(desc)
	if err != nil {
		return nil, fmt.Errorf("probe region: %w", err)
	}
	l.probe = probe

	if withEvict {
		var edesc region.Descriptor
		if err := rv.AwaitJSON(ctx, rendezvous.EvictRegion, &edesc); err != nil {
			return nil, err
		}
		if l.evict, err = region.FromDescriptor(edesc); err != nil {
			return nil, fmt.Errorf("evict region: %w", err)
		}
	}

	if withExtra {
		if l.extraKey = probe.ExtraKey(); l.extraKey == 0 {
			return nil, fmt.Errorf("probe region was published without an extra key")
		}
	}

	if err := rv.AwaitJSON(ctx, rendezvous.AccessSet, &l.accessSet); err != nil {
		return nil, err
	}
	if len(l.accessSet) == 0 {
		return nil, fmt.Errorf("published access set is empty")
	}
	return l, nil
}
