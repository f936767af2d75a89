package evict

import (
	"errors"
	"fmt"

	"pythia-bench/internal/region"
)

// ErrUnevenStride is returned when a set built for uniform checking is not
// equidistant in address space.
var ErrUnevenStride = errors.New("eviction set entries are not equidistant")

// Set is a round-owned eviction set. Entries are copies of pool handles, so
// releasing or mutating a Set never touches the pool it came from.
type Set struct {
	Indices []int
	Entries []region.Handle
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Release drops the round's copies.
func (s *Set) Release() {
	s.Indices = nil
	s.Entries = nil
}

// CheckUniform asserts addr[2]-addr[1] == addr[1]-addr[0]. Sets shorter than
// three entries pass trivially.
func (s *Set) CheckUniform() error {
	if s.Len() < 3 {
		return nil
	}
	a := s.Entries
	d1 := int64(a[1].Address) - int64(a[0].Address)
	d2 := int64(a[2].Address) - int64(a[1].Address)
	if d1 != d2 {
		return fmt.Errorf("%w: %#x, %#x, %#x", ErrUnevenStride, a[0].Address, a[1].Address, a[2].Address)
	}
	return nil
}

// IndexSpan records the selection window a set was drawn from. It is only
// ever logged.
type IndexSpan struct {
	First       int `json:"first"`
	Last        int `json:"last"`
	IndexStride int `json:"index_stride"`
	RealStride  int `json:"real_stride"`
}

func emptySpan() IndexSpan {
	return IndexSpan{First: -1, Last: -1, IndexStride: -1, RealStride: -1}
}
