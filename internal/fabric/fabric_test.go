package fabric

import (
	"errors"
	"testing"
	"time"

	"pythia-bench/internal/region"
)

func handles(n int) []region.Handle {
	out := make([]region.Handle, n)
	for i := range out {
		out[i] = region.Handle{Address: uint64(0x10000 + i*region.PageSize), Key: uint32(i + 1)}
	}
	return out
}

func TestForm_BatchesRespectDepth(t *testing.T) {
	local := LocalBuffer{Address: 0x1, Length: 8, Key: 99}
	batches, err := Form(local, handles(2500), FormatOptions{Opcode: OpRead, Length: 8, Depth: 1024})
	if err != nil {
		t.Fatalf("Form: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	sizes := []int{1024, 1024, 452}
	for i, b := range batches {
		if len(b.Requests) != sizes[i] {
			t.Fatalf("batch %d: expected %d requests, got %d", i, sizes[i], len(b.Requests))
		}
		if b.Signals() != 1 {
			t.Fatalf("batch %d: expected one signalled request, got %d", i, b.Signals())
		}
		if !b.Requests[len(b.Requests)-1].Signaled {
			t.Fatalf("batch %d: last request not signalled", i)
		}
		if b.Requests[0].Inline {
			t.Fatalf("reads must not be inline")
		}
	}
	if batches[2].Requests[451].Remote.Key != 2500 {
		t.Fatalf("requests out of order: last key %d", batches[2].Requests[451].Remote.Key)
	}
}

func TestForm_OverrideKeyAndInlineWrites(t *testing.T) {
	batches, err := Form(LocalBuffer{}, handles(3), FormatOptions{Opcode: OpWrite, Length: 8, Depth: 16, OverrideKey: 777, Offset: 64})
	if err != nil {
		t.Fatalf("Form: %v", err)
	}
	for _, wr := range batches[0].Requests {
		if wr.Remote.Key != 777 {
			t.Fatalf("override key not applied: %d", wr.Remote.Key)
		}
		if !wr.Inline {
			t.Fatalf("writes should be inline")
		}
		if wr.Offset != 64 {
			t.Fatalf("offset lost: %d", wr.Offset)
		}
	}
}

func TestForm_EmptyAndInvalid(t *testing.T) {
	batches, err := Form(LocalBuffer{}, nil, FormatOptions{Opcode: OpRead, Depth: 4})
	if err != nil || len(batches) != 0 {
		t.Fatalf("empty input: got %d batches, err %v", len(batches), err)
	}
	if _, err := Form(LocalBuffer{}, handles(1), FormatOptions{Opcode: OpRead, Depth: 0}); err == nil {
		t.Fatalf("expected error for zero depth")
	}
	if _, err := Form(LocalBuffer{}, handles(1), FormatOptions{Opcode: Opcode(9), Depth: 1}); err == nil {
		t.Fatalf("expected error for unknown opcode")
	}
}

func newNIC(t *testing.T, sets, ways int) *SimNIC {
	t.Helper()
	nic, err := NewSimNIC(SimConfig{Sets: sets, Ways: ways, PageShift: 12, HitLatency: 100 * time.Nanosecond, MissLatency: 300 * time.Nanosecond})
	if err != nil {
		t.Fatalf("NewSimNIC: %v", err)
	}
	return nic
}

func TestSimNIC_EvictionRaisesReloadLatency(t *testing.T) {
	nic := newNIC(t, 1, 2)
	pool, err := region.Allocate(nic, 8, region.PageSize, region.PerEntryRegistration, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ch := nic.Channel()
	clock := nic.Clock()
	local := LocalBuffer{}
	target := pool.At(0)

	if err := Read(ch, local, target, 8, 0); err != nil {
		t.Fatalf("warm read: %v", err)
	}
	start := clock.Now()
	if err := Read(ch, local, target, 8, 0); err != nil {
		t.Fatalf("hit read: %v", err)
	}
	if got := clock.Now().Sub(start); got != 100*time.Nanosecond {
		t.Fatalf("expected hit latency, got %v", got)
	}

	batches, _ := Form(local, []region.Handle{pool.At(1), pool.At(2)}, FormatOptions{Opcode: OpRead, Length: 8, Depth: 1})
	if err := Issue(ch, batches); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if nic.Cached(target.Address) {
		t.Fatalf("target should have been evicted")
	}
	start = clock.Now()
	if err := Read(ch, local, target, 8, 0); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := clock.Now().Sub(start); got != 300*time.Nanosecond {
		t.Fatalf("expected miss latency, got %v", got)
	}
}

func TestSimNIC_BadKeyFailsCompletion(t *testing.T) {
	nic := newNIC(t, 4, 4)
	pool, err := region.Allocate(nic, 2, region.PageSize, region.PerEntryRegistration, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	bad := pool.At(0)
	bad.Key = pool.At(1).Key
	err = Read(nic.Channel(), LocalBuffer{}, bad, 8, 0)
	if !errors.Is(err, ErrCompletion) {
		t.Fatalf("expected ErrCompletion, got %v", err)
	}
}

func TestSimNIC_UnsignaledFailureSurfacesOnBatchCompletion(t *testing.T) {
	nic := newNIC(t, 4, 4)
	pool, err := region.Allocate(nic, 3, region.PageSize, region.PerEntryRegistration, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	entries, err := pool.Window(0, 3, nil)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	entries[0].Key = 0
	batches, _ := Form(LocalBuffer{}, entries, FormatOptions{Opcode: OpRead, Length: 8, Depth: 8})
	if err := Issue(nic.Channel(), batches); !errors.Is(err, ErrCompletion) {
		t.Fatalf("expected ErrCompletion, got %v", err)
	}
}

func TestSimChannel_PollWithoutWork(t *testing.T) {
	nic := newNIC(t, 1, 1)
	if _, err := nic.Channel().Poll(1); err == nil {
		t.Fatalf("expected error polling an idle channel")
	}
}

func TestAccess_WaitsForEveryRequest(t *testing.T) {
	nic := newNIC(t, 8, 8)
	pool, err := region.Allocate(nic, 4, region.PageSize, region.SpaceOriented, 1<<20)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	entries, err := pool.Window(0, 4, nil)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if err := Access(nic.Channel(), OpWrite, LocalBuffer{}, entries, 8, 0); err != nil {
		t.Fatalf("Access: %v", err)
	}
	if nic.Served() != 4 {
		t.Fatalf("expected 4 requests served, got %d", nic.Served())
	}
	for i := 0; i < 4; i++ {
		if !nic.Cached(pool.At(i).Address) {
			t.Fatalf("entry %d not cached after access", i)
		}
	}
}

func TestParseOpcode(t *testing.T) {
	if op, err := ParseOpcode("WRITE"); err != nil || op != OpWrite {
		t.Fatalf("ParseOpcode(WRITE) = %v, %v", op, err)
	}
	if _, err := ParseOpcode("atomic"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenDevice(t *testing.T) {
	dev, err := OpenDevice("sim", DefaultSimConfig())
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	local, err := LocalRegion(dev, region.PageSize)
	if err != nil {
		t.Fatalf("LocalRegion: %v", err)
	}
	if local.Key == 0 || local.Length != region.PageSize {
		t.Fatalf("unexpected local buffer %+v", local)
	}
	if _, err := OpenDevice("verbs", DefaultSimConfig()); err == nil {
		t.Fatalf("expected error for unavailable provider")
	}
}
