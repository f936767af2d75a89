package fabric

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pythia-bench/internal/region"
)

// SimConfig describes the translation cache of a simulated NIC.
type SimConfig struct {
	Sets        int
	Ways        int
	PageShift   uint
	HitLatency  time.Duration
	MissLatency time.Duration
	Jitter      time.Duration
	Seed        int64
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		Sets:        64,
		Ways:        8,
		PageShift:   12,
		HitLatency:  1900 * time.Nanosecond,
		MissLatency: 2400 * time.Nanosecond,
		Jitter:      50 * time.Nanosecond,
		Seed:        1,
	}
}

type span struct {
	addr   uint64
	length uint64
}

// SimNIC is an in-process stand-in for the remote NIC. It keeps a
// set-associative LRU cache of page translations and advances its clock by a
// hit or miss latency for every request it serves.
type SimNIC struct {
	mu      sync.Mutex
	cfg     SimConfig
	clock   *ManualClock
	rng     *rand.Rand
	sets    [][]uint64
	next    uint64
	nextKey uint32
	keys    map[uint32]span
	served  int
}

func NewSimNIC(cfg SimConfig) (*SimNIC, error) {
	if cfg.Sets < 1 || cfg.Ways < 1 {
		return nil, fmt.Errorf("translation cache needs at least one set and one way, got %dx%d", cfg.Sets, cfg.Ways)
	}
	if cfg.MissLatency < cfg.HitLatency {
		return nil, errors.New("miss latency must not be below hit latency")
	}
	return &SimNIC{
		cfg:     cfg,
		clock:   NewManualClock(time.Unix(0, 0)),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		sets:    make([][]uint64, cfg.Sets),
		next:    1 << 32,
		nextKey: 0x100,
		keys:    make(map[uint32]span),
	}, nil
}

// Allocate hands out page-aligned address space.
func (n *SimNIC) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		return 0, errors.New("zero-sized allocation")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	page := uint64(1) << n.cfg.PageShift
	addr := n.next
	n.next += (size + page - 1) &^ (page - 1)
	return addr, nil
}

// Register issues a key covering [addr, addr+length).
func (n *SimNIC) Register(addr, length uint64) (uint32, error) {
	if length == 0 {
		return 0, errors.New("zero-length registration")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextKey++
	n.keys[n.nextKey] = span{addr: addr, length: length}
	return n.nextKey, nil
}

func (n *SimNIC) Clock() Clock { return n.clock }

// Channel opens a new queue pair on the NIC.
func (n *SimNIC) Channel() Channel { return &simChannel{nic: n} }

// Cached reports whether the translation for addr is resident.
func (n *SimNIC) Cached(addr uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	page := addr >> n.cfg.PageShift
	for _, p := range n.sets[page%uint64(len(n.sets))] {
		if p == page {
			return true
		}
	}
	return false
}

// Served is the number of requests processed so far.
func (n *SimNIC) Served() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.served
}

func (n *SimNIC) serve(wr WorkRequest) Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.served++
	addr := wr.Remote.Address + wr.Offset
	s, ok := n.keys[wr.Remote.Key]
	if !ok || addr < s.addr || addr+uint64(wr.Length) > s.addr+s.length {
		return StatusRemoteAccessError
	}

	lat := n.cfg.MissLatency
	if n.touch(addr >> n.cfg.PageShift) {
		lat = n.cfg.HitLatency
	}
	if n.cfg.Jitter > 0 {
		lat += time.Duration(n.rng.Int63n(int64(n.cfg.Jitter)))
	}
	n.clock.Advance(lat)
	return StatusSuccess
}

// touch moves page to the MRU position of its set and reports whether it was
// already present.
func (n *SimNIC) touch(page uint64) bool {
	idx := page % uint64(len(n.sets))
	ways := n.sets[idx]
	for i, p := range ways {
		if p == page {
			copy(ways[i:], ways[i+1:])
			ways[len(ways)-1] = page
			return true
		}
	}
	if len(ways) == n.cfg.Ways {
		copy(ways, ways[1:])
		ways[len(ways)-1] = page
	} else {
		ways = append(ways, page)
	}
	n.sets[idx] = ways
	return false
}

type simChannel struct {
	nic     *SimNIC
	mu      sync.Mutex
	pending []Completion
}

func (c *simChannel) Post(b *Batch) error {
	if b == nil || len(b.Requests) == 0 {
		return errors.New("empty batch")
	}
	failed := StatusSuccess
	var failedOn region.Handle
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, wr := range b.Requests {
		st := c.nic.serve(wr)
		if st != StatusSuccess && failed == StatusSuccess {
			failed, failedOn = st, wr.Remote
		}
		if wr.Signaled {
			comp := Completion{Status: failed, Remote: wr.Remote}
			if failed != StatusSuccess {
				comp.Remote = failedOn
			}
			c.pending = append(c.pending, comp)
			failed = StatusSuccess
		}
	}
	return nil
}

func (c *simChannel) Poll(count int) ([]Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if count > len(c.pending) {
		return nil, fmt.Errorf("polling for %d completions with %d outstanding", count, len(c.pending))
	}
	out := make([]Completion, count)
	copy(out, c.pending[:count])
	c.pending = c.pending[count:]
	return out, nil
}

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock { return &ManualClock{now: start} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
