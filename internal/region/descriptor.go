package region

import "fmt"

// Descriptor is the published form of a pool. Peers rebuild the full handle
// list from it instead of shipping every handle through the registry.
type Descriptor struct {
	Base     uint64   `json:"base"`
	Stride   uint64   `json:"stride"`
	Count    int      `json:"count"`
	Extents  []Extent `json:"extents"`
	ExtraKey uint32   `json:"extra_rkey,omitempty"`
}

func (p *Pool) Descriptor() Descriptor {
	extents := make([]Extent, len(p.extents))
	copy(extents, p.extents)
	return Descriptor{
		Base:     p.base,
		Stride:   p.stride,
		Count:    len(p.handles),
		Extents:  extents,
		ExtraKey: p.extraKey,
	}
}

// FromDescriptor rebuilds a read-only pool. Extents must tile 0..Count-1 in
// order.
func FromDescriptor(d Descriptor) (*Pool, error) {
	if d.Count < 1 {
		return nil, fmt.Errorf("descriptor has no entries")
	}
	if d.Stride == 0 {
		return nil, fmt.Errorf("descriptor has zero stride")
	}
	p := &Pool{
		base:     d.Base,
		stride:   d.Stride,
		handles:  make([]Handle, d.Count),
		extents:  make([]Extent, len(d.Extents)),
		extraKey: d.ExtraKey,
	}
	copy(p.extents, d.Extents)

	next := 0
	for _, e := range d.Extents {
		if e.First != next || e.Count < 1 {
			return nil, fmt.Errorf("extent at %d does not continue from entry %d", e.First, next)
		}
		for j := 0; j < e.Count; j++ {
			i := e.First + j
			if i >= d.Count {
				return nil, fmt.Errorf("extent at %d runs past %d entries", e.First, d.Count)
			}
			p.handles[i] = Handle{Address: d.Base + uint64(i)*d.Stride, Key: e.Key}
		}
		next = e.First + e.Count
	}
	if next != d.Count {
		return nil, fmt.Errorf("extents cover %d of %d entries", next, d.Count)
	}
	return p, nil
}
