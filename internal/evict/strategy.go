package evict

import (
	"fmt"
	"strings"

	"pythia-bench/internal/region"
)

// Target is the entry the attacker wants evicted.
type Target struct {
	Index  int
	Handle region.Handle
}

// Params tune a strategy for one round. Distances are in pool index units.
type Params struct {
	// IndexStride overrides the window strategies' stop distance when > 0.
	IndexStride int
	// Shift offsets every window candidate from its stop. Negative means none.
	Shift int
	// BitShift > 0 puts pythia into single-bucket mode keyed on target>>BitShift.
	BitShift int
	// GroupStride drives the modulo strategy: UniformPick, a fixed group
	// (<= 0, group -GroupStride) or a bucket walk stride (> 0).
	GroupStride int
	// Stops below DefaultStartDistance are never used.
	DefaultStartDistance int
	// Stops closer than StartDistance to the target are never used.
	StartDistance int
	// AcceptWrap lets a walk restart from index 0 and reuse entries.
	AcceptWrap bool
}

// Selection is a strategy's answer: pool indices in access order.
type Selection struct {
	Indices   []int
	Span      IndexSpan
	Requested int
}

// Strategy picks eviction candidates from a pool for one target.
type Strategy interface {
	Name() string
	Select(pool *region.Pool, target Target, requested int, p Params) Selection
}

// StrategyFor resolves a configured strategy name.
func StrategyFor(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pythia":
		return Pythia{}, nil
	case "half":
		return Window{Kind: WindowHalf}, nil
	case "naive":
		return Window{Kind: WindowNaive}, nil
	case "stride", "generic", "null", "":
		return Window{Kind: WindowGeneric}, nil
	case "mr", "modulo":
		return Modulo{}, nil
	default:
		return nil, fmt.Errorf("unknown eviction strategy %q", name)
	}
}

// CheckMode is the per-round collision check mode. It decides which pool the
// set is drawn from and whether the uniform assertion runs.
type CheckMode int

const (
	ModeMR CheckMode = iota
	ModeProbe
	ModeAlways
	ModeUniform
	ModeAssociate
	ModeStride
)

var checkModeNames = []string{"mr", "probe", "always", "uniform", "associate", "stride"}

func (m CheckMode) String() string {
	if int(m) >= 0 && int(m) < len(checkModeNames) {
		return checkModeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseCheckMode(s string) (CheckMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range checkModeNames {
		if s == name {
			return CheckMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown check mode %q", s)
}

// collector accumulates candidates until it holds want of them.
type collector struct {
	want    int
	indices []int
	span    IndexSpan
}

func newCollector(want, indexStride, realStride int) *collector {
	span := emptySpan()
	span.IndexStride = indexStride
	span.RealStride = realStride
	return &collector{want: want, indices: make([]int, 0, want), span: span}
}

func (c *collector) full() bool {
	return len(c.indices) >= c.want
}

func (c *collector) add(idx int) bool {
	if c.full() {
		return true
	}
	if len(c.indices) == 0 {
		c.span.First = idx
	}
	c.span.Last = idx
	c.indices = append(c.indices, idx)
	return c.full()
}

func (c *collector) selection() Selection {
	return Selection{Indices: c.indices, Span: c.span, Requested: c.want}
}
