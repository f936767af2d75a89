package rendezvous

import "fmt"

type Phase int

const (
	// per-trial handshakes
	PhaseEvictReady Phase = iota + 1
	PhaseAccessReady
	PhaseWarmupReady
	PhaseTerminate

	// published once by the memory owner
	PhaseProbeRegion
	PhaseEvictRegion
	PhaseAccessSet
)

// Key names one rendezvous entry. Round and Trial scope the handshake keys,
// Stage picks the calibration phase (1..4) and Node the participant joining
// the terminate barrier.
type Key struct {
	Phase Phase
	Round int
	Trial int
	Stage int
	Node  int
}

func EvictReady(round, trial int) Key {
	return Key{Phase: PhaseEvictReady, Round: round, Trial: trial}
}

func AccessReady(round, trial int) Key {
	return Key{Phase: PhaseAccessReady, Round: round, Trial: trial}
}

func WarmupReady(round, trial, stage int) Key {
	return Key{Phase: PhaseWarmupReady, Round: round, Trial: trial, Stage: stage}
}

func Terminate(node int) Key {
	return Key{Phase: PhaseTerminate, Node: node}
}

var (
	ProbeRegion = Key{Phase: PhaseProbeRegion}
	EvictRegion = Key{Phase: PhaseEvictRegion}
	AccessSet   = Key{Phase: PhaseAccessSet}
)

func (k Key) String() string {
	switch k.Phase {
	case PhaseEvictReady:
		return fmt.Sprintf("%d-%d-evict-ready", k.Round, k.Trial)
	case PhaseAccessReady:
		return fmt.Sprintf("%d-%d-access-ready", k.Round, k.Trial)
	case PhaseWarmupReady:
		return fmt.Sprintf("%d-%d-%d-warmup-ready", k.Round, k.Trial, k.Stage)
	case PhaseTerminate:
		return fmt.Sprintf("%d-terminate", k.Node)
	case PhaseProbeRegion:
		return "mr-key"
	case PhaseEvictRegion:
		return "evict-mr-key"
	case PhaseAccessSet:
		return "access-set"
	default:
		return fmt.Sprintf("phase-%d", int(k.Phase))
	}
}
