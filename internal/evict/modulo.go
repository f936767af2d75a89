package evict

import "pythia-bench/internal/region"

const (
	// GroupCount is M in the rkey mod M grouping.
	GroupCount = 16
	// UniformPick ignores grouping and takes the first entries in order.
	UniformPick = -32768
)

// Modulo groups pool entries by access key mod GroupCount and picks whole
// groups, starting from the one the target's key falls in.
type Modulo struct{}

func (Modulo) Name() string { return "mr" }

func (Modulo) Select(pool *region.Pool, target Target, requested int, p Params) Selection {
	c := newCollector(requested, p.GroupStride, -1)
	n := pool.Len()

	switch {
	case p.GroupStride == UniformPick:
		takeMatching(pool, c, p.AcceptWrap, func(region.Handle) bool { return true })
		c.span.IndexStride = 1
		c.span.RealStride = int(pool.Stride())
	case p.GroupStride <= 0:
		group := uint32(-p.GroupStride)
		takeMatching(pool, c, p.AcceptWrap, func(h region.Handle) bool {
			return h.Key%GroupCount == group
		})
	default:
		var buckets [GroupCount][]int
		for i := 0; i < n; i++ {
			g := pool.At(i).Key % GroupCount
			buckets[g] = append(buckets[g], i)
		}
		start := int(target.Handle.Key % GroupCount)
		for !c.full() {
			before := len(c.indices)
			var used [GroupCount]bool
			g := start
			for !c.full() {
				g = nextGroup(&buckets, &used, g)
				if g < 0 {
					break
				}
				for _, idx := range buckets[g] {
					if c.add(idx) {
						break
					}
				}
				used[g] = true
				g = (g + p.GroupStride) % GroupCount
			}
			if !p.AcceptWrap || len(c.indices) == before {
				break
			}
		}
	}
	return c.selection()
}

// nextGroup returns g, or the first group after it that is unused and
// non-empty. It returns -1 once every group is exhausted.
func nextGroup(buckets *[GroupCount][]int, used *[GroupCount]bool, g int) int {
	for k := 0; k < GroupCount; k++ {
		cand := (g + k) % GroupCount
		if !used[cand] && len(buckets[cand]) > 0 {
			return cand
		}
	}
	return -1
}

func takeMatching(pool *region.Pool, c *collector, wrap bool, match func(region.Handle) bool) {
	for !c.full() {
		before := len(c.indices)
		for i := 0; i < pool.Len(); i++ {
			if match(pool.At(i)) && c.add(i) {
				return
			}
		}
		if !wrap || len(c.indices) == before {
			return
		}
	}
}
