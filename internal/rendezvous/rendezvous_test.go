package rendezvous

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyNames(t *testing.T) {
	cases := map[Key]string{
		EvictReady(3, 7):     "3-7-evict-ready",
		AccessReady(0, 99):   "0-99-access-ready",
		WarmupReady(2, 5, 4): "2-5-4-warmup-ready",
		Terminate(1):         "1-terminate",
		ProbeRegion:          "mr-key",
		EvictRegion:          "evict-mr-key",
		AccessSet:            "access-set",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("key %+v: expected %q, got %q", k, want, got)
		}
	}
}

func TestMemoryStore_FetchMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Fetch(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChannel_AwaitSeesLaterPublish(t *testing.T) {
	ch := NewChannel(NewMemoryStore(), "run1", time.Hour)
	ctx := context.Background()

	done := make(chan uint64, 1)
	errs := make(chan error, 1)
	go func() {
		v, err := ch.AwaitSignal(ctx, EvictReady(1, 2))
		if err != nil {
			errs <- err
			return
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	if err := ch.PublishSignal(ctx, EvictReady(1, 2), 42); err != nil {
		t.Fatalf("PublishSignal: %v", err)
	}
	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	case err := <-errs:
		t.Fatalf("AwaitSignal: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("await did not wake up on publish")
	}
}

func TestChannel_NamespacesAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	a := NewChannel(store, "a", time.Millisecond)
	b := NewChannel(store, "b", time.Millisecond)
	ctx := context.Background()
	if err := a.PublishSignal(ctx, Terminate(0), 1); err != nil {
		t.Fatalf("PublishSignal: %v", err)
	}
	if _, err := store.Fetch(ctx, "a:0-terminate"); err != nil {
		t.Fatalf("namespaced key missing: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := b.Await(cctx, Terminate(0)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected other namespace to block until cancelled, got %v", err)
	}
}

func TestChannel_JSONRoundTrip(t *testing.T) {
	type desc struct {
		Base  uint64 `json:"base"`
		Count int    `json:"count"`
	}
	ch := NewChannel(NewMemoryStore(), "", 0)
	ctx := context.Background()
	if err := ch.PublishJSON(ctx, ProbeRegion, desc{Base: 1 << 32, Count: 4096}); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}
	var got desc
	if err := ch.AwaitJSON(ctx, ProbeRegion, &got); err != nil {
		t.Fatalf("AwaitJSON: %v", err)
	}
	if got.Base != 1<<32 || got.Count != 4096 {
		t.Fatalf("unexpected descriptor %+v", got)
	}
}

func TestChannel_AwaitSignalRejectsShortValue(t *testing.T) {
	ch := NewChannel(NewMemoryStore(), "", 0)
	ctx := context.Background()
	if err := ch.Publish(ctx, AccessReady(0, 0), []byte{1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := ch.AwaitSignal(ctx, AccessReady(0, 0)); err == nil {
		t.Fatalf("expected error for 1-byte signal")
	}
}

func TestChannel_Barrier(t *testing.T) {
	ch := NewChannel(NewMemoryStore(), "", time.Millisecond)
	ctx := context.Background()
	errs := make(chan error, 3)
	for node := 0; node < 3; node++ {
		go func(n int) { errs <- ch.Barrier(ctx, n, []int{0, 1, 2}) }(node)
	}
	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("Barrier: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("barrier did not release")
		}
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "rv.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Fetch(ctx, "mr-key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Publish(ctx, "mr-key", []byte("one")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := s.Publish(ctx, "mr-key", []byte("two")); err != nil {
		t.Fatalf("Publish overwrite: %v", err)
	}
	v, err := s.Fetch(ctx, "mr-key")
	if err != nil || string(v) != "two" {
		t.Fatalf("expected overwritten value, got %q, %v", v, err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("etcd", ""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	s, err := Open("memory", "")
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", s)
	}
}
