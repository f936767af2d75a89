package evict

import (
	"fmt"

	"pythia-bench/internal/logging"
	"pythia-bench/internal/region"

	"github.com/sirupsen/logrus"
)

// Result is what the coordinator gets back for one round.
type Result struct {
	Set      *Set
	Span     IndexSpan
	Strategy string
	// Requested is the effective request after any strategy adjustment.
	Requested int
	Achieved  int
}

// UnderFilled reports whether the pool ran out before the request was met.
func (r Result) UnderFilled() bool {
	return r.Achieved < r.Requested
}

// Build selects an eviction set for target and deep-copies it out of pool.
func Build(pool *region.Pool, target Target, requested int, strategy Strategy, p Params) (Result, error) {
	if pool == nil || pool.Len() == 0 {
		return Result{}, fmt.Errorf("empty pool")
	}
	if strategy == nil {
		return Result{}, fmt.Errorf("no strategy")
	}
	if requested < 1 {
		return Result{}, fmt.Errorf("requested eviction set size %d must be positive", requested)
	}

	sel := strategy.Select(pool, target, requested, p)
	if len(sel.Indices) < sel.Requested {
		logging.GetLogger().WithFields(logrus.Fields{
			"strategy":  strategy.Name(),
			"target":    target.Index,
			"requested": sel.Requested,
			"achieved":  len(sel.Indices),
			"pool":      pool.Len(),
		}).Debug("Pool ran out of eviction candidates")
	}

	set := &Set{
		Indices: make([]int, len(sel.Indices)),
		Entries: make([]region.Handle, len(sel.Indices)),
	}
	for k, idx := range sel.Indices {
		set.Indices[k] = idx
		set.Entries[k] = pool.At(idx)
	}

	return Result{
		Set:       set,
		Span:      sel.Span,
		Strategy:  strategy.Name(),
		Requested: sel.Requested,
		Achieved:  set.Len(),
	}, nil
}
