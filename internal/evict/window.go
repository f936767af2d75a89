package evict

import "pythia-bench/internal/region"

// Stop distances, in pool index units, for the window strategies.
const (
	DefaultIndexStride = (1 << 17) / region.PageSize
	halfIndexStride    = (1 << 17) / region.PageSize
	naiveIndexStride   = (1 << 15) / region.PageSize
	halfShiftModulo    = 32
)

type WindowKind int

const (
	WindowGeneric WindowKind = iota
	WindowHalf
	WindowNaive
)

// Window walks the pool at a fixed stride, outside the exclusion zones around
// index 0 and the target, and takes one candidate per stop at stop+shift.
type Window struct {
	Kind WindowKind
}

func (w Window) Name() string {
	switch w.Kind {
	case WindowHalf:
		return "half"
	case WindowNaive:
		return "naive"
	default:
		return "stride"
	}
}

func (w Window) geometry(target int, p Params) (stride, shift int) {
	switch w.Kind {
	case WindowHalf:
		return halfIndexStride, target % halfShiftModulo
	case WindowNaive:
		return naiveIndexStride, 0
	default:
		stride = DefaultIndexStride
		if p.IndexStride > 0 {
			stride = p.IndexStride
		}
		if p.Shift > 0 {
			shift = p.Shift
		}
		return stride, shift
	}
}

func (w Window) Select(pool *region.Pool, target Target, requested int, p Params) Selection {
	stride, shift := w.geometry(target.Index, p)
	c := newCollector(requested, stride, stride*int(pool.Stride()))
	n := pool.Len()
	walk(n, target.Index, stride, p, c, func(stop int) {
		c.offer(stop+shift, n, target.Index, p)
	})
	return c.selection()
}

// walk visits every usable stop until the collector fills. With AcceptWrap it
// starts over from index 0, but only while a pass still yields candidates.
func walk(n, target, stride int, p Params, c *collector, visit func(stop int)) {
	if stride < 1 {
		stride = 1
	}
	for {
		before := len(c.indices)
		for stop := 0; stop < n; stop += stride {
			if stop < p.DefaultStartDistance {
				continue
			}
			if abs(stop-target) < p.StartDistance {
				continue
			}
			visit(stop)
			if c.full() {
				return
			}
		}
		if !p.AcceptWrap || len(c.indices) == before {
			return
		}
	}
}

// offer adds idx if it lies inside the pool and outside the target's
// exclusion radius.
func (c *collector) offer(idx, n, target int, p Params) {
	if c.full() || idx < 0 || idx >= n {
		return
	}
	if abs(idx-target) < p.StartDistance {
		return
	}
	c.add(idx)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
