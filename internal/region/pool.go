package region

import (
	"fmt"
	"strings"
)

// PageSize is the granularity backing memory is reserved at.
const PageSize = 4096

// Handle is a remotely accessible block: its address and the key that grants
// access to it. Handles are values; copying one never aliases pool state.
type Handle struct {
	Address uint64 `json:"addr"`
	Key     uint32 `json:"rkey"`
}

func (h Handle) String() string {
	return fmt.Sprintf("%x/%x", h.Address, h.Key)
}

// Policy selects how the backing memory of a pool is registered.
type Policy int

const (
	// PerEntryRegistration registers one credential per pool entry.
	PerEntryRegistration Policy = iota + 1
	// SpaceOriented registers large extents and slices entries out of them.
	SpaceOriented
)

func (p Policy) String() string {
	switch p {
	case PerEntryRegistration:
		return "per_entry"
	case SpaceOriented:
		return "space_oriented"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "per_entry", "mr_oriented":
		return PerEntryRegistration, nil
	case "space_oriented", "":
		return SpaceOriented, nil
	default:
		return 0, fmt.Errorf("unknown allocation policy %q", s)
	}
}

// Registrar is the memory owner's view of the NIC. Allocate reserves a
// contiguous backing range and Register makes part of it remotely accessible.
type Registrar interface {
	Allocate(size uint64) (uint64, error)
	Register(addr, length uint64) (uint32, error)
}

// Extent is a run of consecutive pool entries sharing one registration key.
type Extent struct {
	First int    `json:"first"`
	Count int    `json:"count"`
	Key   uint32 `json:"rkey"`
}

// Pool is the ordered set of remotely accessible blocks. Entry i always lives
// at Base()+i*Stride(); eviction-set construction relies on that.
type Pool struct {
	base     uint64
	stride   uint64
	handles  []Handle
	extents  []Extent
	extraKey uint32
}

// Allocate reserves count blocks of blockSize bytes and registers them
// according to policy. maxExtent bounds a single registration under
// SpaceOriented and is ignored otherwise.
func Allocate(reg Registrar, count int, blockSize uint64, policy Policy, maxExtent uint64) (*Pool, error) {
	if reg == nil {
		return nil, fmt.Errorf("registrar is nil")
	}
	if count < 1 {
		return nil, fmt.Errorf("pool needs at least one entry, got %d", count)
	}
	if blockSize < 8 {
		return nil, fmt.Errorf("block size %d is below the 8 byte minimum", blockSize)
	}

	total := roundUp(uint64(count)*blockSize, PageSize)
	base, err := reg.Allocate(total)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes: %w", total, err)
	}
	if base%PageSize != 0 {
		return nil, fmt.Errorf("backing memory at %#x is not page aligned", base)
	}

	p := &Pool{
		base:    base,
		stride:  blockSize,
		handles: make([]Handle, count),
	}

	switch policy {
	case PerEntryRegistration:
		for i := 0; i < count; i++ {
			addr := base + uint64(i)*blockSize
			key, err := reg.Register(addr, blockSize)
			if err != nil {
				return nil, fmt.Errorf("failed to register entry %d: %w", i, err)
			}
			p.handles[i] = Handle{Address: addr, Key: key}
			p.extents = append(p.extents, Extent{First: i, Count: 1, Key: key})
		}
	case SpaceOriented:
		perExtent := int(maxExtent / blockSize)
		if perExtent < 1 {
			return nil, fmt.Errorf("extent limit %d cannot hold a %d byte block", maxExtent, blockSize)
		}
		for first := 0; first < count; first += perExtent {
			n := perExtent
			if first+n > count {
				n = count - first
			}
			addr := base + uint64(first)*blockSize
			key, err := reg.Register(addr, uint64(n)*blockSize)
			if err != nil {
				return nil, fmt.Errorf("failed to register extent at entry %d: %w", first, err)
			}
			for j := 0; j < n; j++ {
				p.handles[first+j] = Handle{Address: addr + uint64(j)*blockSize, Key: key}
			}
			p.extents = append(p.extents, Extent{First: first, Count: n, Key: key})
		}
	default:
		return nil, fmt.Errorf("unsupported allocation policy %v", policy)
	}

	return p, nil
}

// RegisterExtra registers the whole backing range once more. The resulting key
// can stand in for every per-entry key when issuing requests.
func (p *Pool) RegisterExtra(reg Registrar) (uint32, error) {
	key, err := reg.Register(p.base, uint64(len(p.handles))*p.stride)
	if err != nil {
		return 0, fmt.Errorf("failed to register extra key: %w", err)
	}
	p.extraKey = key
	return key, nil
}

func (p *Pool) Len() int         { return len(p.handles) }
func (p *Pool) Base() uint64     { return p.base }
func (p *Pool) Stride() uint64   { return p.stride }
func (p *Pool) ExtraKey() uint32 { return p.extraKey }

// At returns a copy of entry i.
func (p *Pool) At(i int) Handle {
	return p.handles[i]
}

// Window copies pool[first+order[k]] for every k. A nil order means
// consecutive entries starting at first, n of them.
func (p *Pool) Window(first, n int, order []int) ([]Handle, error) {
	if order != nil && len(order) < n {
		return nil, fmt.Errorf("order has %d offsets, need %d", len(order), n)
	}
	out := make([]Handle, n)
	for k := 0; k < n; k++ {
		idx := first + k
		if order != nil {
			idx = first + order[k]
		}
		if idx < 0 || idx >= len(p.handles) {
			return nil, fmt.Errorf("window index %d outside pool of %d", idx, len(p.handles))
		}
		out[k] = p.handles[idx]
	}
	return out, nil
}

func roundUp(n, unit uint64) uint64 {
	return ((n + unit - 1) / unit) * unit
}
