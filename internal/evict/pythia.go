package evict

import "pythia-bench/internal/region"

const (
	// PythiaK is the number of low index bits that select a translation set.
	PythiaK           = 13
	pythiaIndexStride = (1 << (12 + PythiaK)) / region.PageSize
	pythiaHighShift   = 9
)

// Pythia takes up to two candidates per stop, one per translation-set bucket
// derived from the target's index bits. When the two buckets coincide the
// requested count is halved, since both candidates would be the same entry,
// but never below one.
type Pythia struct{}

func (Pythia) Name() string { return "pythia" }

// Buckets returns the bucket offsets for target and whether two distinct
// buckets are in play.
func (Pythia) Buckets(target int, p Params) (b1, b2 int, two bool) {
	mod := 1 << PythiaK
	if p.BitShift > 0 {
		b1 = ((target >> p.BitShift) % mod >> 3) * 8
		return b1, b1, false
	}
	b1 = ((target >> pythiaHighShift) % mod >> 3) * 8
	b2 = ((target % mod) >> 3) * 8
	return b1, b2, b1 != b2
}

func (s Pythia) Select(pool *region.Pool, target Target, requested int, p Params) Selection {
	b1, b2, two := s.Buckets(target.Index, p)
	if !two && p.BitShift <= 0 && requested > 1 {
		requested /= 2
	}
	stride := pythiaIndexStride
	c := newCollector(requested, stride, stride*int(pool.Stride()))
	n := pool.Len()
	walk(n, target.Index, stride, p, c, func(stop int) {
		c.offer(stop+b1, n, target.Index, p)
		if two {
			c.offer(stop+b2, n, target.Index, p)
		}
	})
	return c.selection()
}
