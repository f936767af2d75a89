package evict

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"pythia-bench/internal/logging"
	"pythia-bench/internal/region"

	"github.com/sirupsen/logrus"
)

type seqRegistrar struct {
	next    uint64
	nextKey uint32
}

func (r *seqRegistrar) Allocate(size uint64) (uint64, error) {
	if r.next == 0 {
		r.next = 0x10000000
	}
	addr := r.next
	r.next += size
	return addr, nil
}

func (r *seqRegistrar) Register(addr, length uint64) (uint32, error) {
	r.nextKey++
	return r.nextKey, nil
}

func makePool(t *testing.T, n int, policy region.Policy) *region.Pool {
	t.Helper()
	p, err := region.Allocate(&seqRegistrar{}, n, region.PageSize, policy, 1<<30)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return p
}

func targetAt(p *region.Pool, idx int) Target {
	return Target{Index: idx, Handle: p.At(idx)}
}

func TestBuild_WindowScenarioSkipsExclusionZone(t *testing.T) {
	pool := makePool(t, 16, region.SpaceOriented)
	params := Params{IndexStride: 1, Shift: 0, DefaultStartDistance: 2, StartDistance: 3}

	res, err := Build(pool, targetAt(pool, 4), 4, Window{Kind: WindowGeneric}, params)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []int{7, 8, 9, 10}
	if len(res.Set.Indices) != len(want) {
		t.Fatalf("expected %v, got %v", want, res.Set.Indices)
	}
	for i := range want {
		if res.Set.Indices[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, res.Set.Indices)
		}
	}
	if res.Achieved != 4 || res.UnderFilled() {
		t.Fatalf("expected achieved 4 without under-fill, got %d/%d", res.Achieved, res.Requested)
	}
	if res.Span.First != 7 || res.Span.Last != 10 {
		t.Fatalf("expected span 7..10, got %d..%d", res.Span.First, res.Span.Last)
	}
	if res.Span.IndexStride != 1 || res.Span.RealStride != region.PageSize {
		t.Fatalf("unexpected strides %+v", res.Span)
	}
}

func TestBuild_NeverSelectsInsideExclusionRadius(t *testing.T) {
	pool := makePool(t, 1<<16, region.SpaceOriented)
	strategies := []Strategy{
		Window{Kind: WindowGeneric},
		Window{Kind: WindowHalf},
		Window{Kind: WindowNaive},
		Pythia{},
	}
	params := []Params{
		{DefaultStartDistance: 64, StartDistance: 4096},
		{DefaultStartDistance: 0, StartDistance: 8192, Shift: 3},
		{DefaultStartDistance: 1024, StartDistance: 2000, IndexStride: 7, Shift: 1500},
		{DefaultStartDistance: 0, StartDistance: 9000, BitShift: 4},
	}
	targets := []int{0, 5, 4095, 8192, 20000, 40007, 65535}

	for _, s := range strategies {
		for _, p := range params {
			for _, tgt := range targets {
				res, err := Build(pool, targetAt(pool, tgt), 256, s, p)
				if err != nil {
					t.Fatalf("%s: Build: %v", s.Name(), err)
				}
				for _, e := range res.Set.Indices {
					if abs(e-tgt) < p.StartDistance {
						t.Fatalf("%s target %d: index %d within radius %d", s.Name(), tgt, e, p.StartDistance)
					}
					if e < 0 || e >= pool.Len() {
						t.Fatalf("%s target %d: index %d outside pool", s.Name(), tgt, e)
					}
				}
				if res.Achieved != len(res.Set.Entries) {
					t.Fatalf("%s: achieved %d but copied %d", s.Name(), res.Achieved, len(res.Set.Entries))
				}
			}
		}
	}
}

func TestBuild_UniformWindowIsEquidistant(t *testing.T) {
	pool := makePool(t, 4096, region.SpaceOriented)
	res, err := Build(pool, targetAt(pool, 100), 16, Window{Kind: WindowGeneric}, Params{StartDistance: 200, IndexStride: 9})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := res.Set.CheckUniform(); err != nil {
		t.Fatalf("CheckUniform: %v", err)
	}
	a := res.Set.Entries
	if a[2].Address-a[1].Address != a[1].Address-a[0].Address {
		t.Fatalf("entries not equidistant: %v", a[:3])
	}
}

func TestSet_CheckUniformRejectsUnevenSpacing(t *testing.T) {
	s := &Set{Entries: []region.Handle{{Address: 0x1000}, {Address: 0x2000}, {Address: 0x4000}}}
	err := s.CheckUniform()
	if !errors.Is(err, ErrUnevenStride) {
		t.Fatalf("expected ErrUnevenStride, got %v", err)
	}
}

func TestBuild_UnderFillReportsAchievedCount(t *testing.T) {
	pool := makePool(t, 16, region.SpaceOriented)
	params := Params{IndexStride: 1, DefaultStartDistance: 2, StartDistance: 3}

	res, err := Build(pool, targetAt(pool, 4), 20, Window{}, params)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.UnderFilled() {
		t.Fatalf("expected under-fill, got %d/%d", res.Achieved, res.Requested)
	}
	// 0,1 and 2..6 are excluded, leaving 7..15.
	if res.Achieved != 9 || len(res.Set.Entries) != 9 {
		t.Fatalf("expected 9 entries, got %d (%d copied)", res.Achieved, len(res.Set.Entries))
	}
	if res.Span.Last != 15 {
		t.Fatalf("expected last index 15, got %d", res.Span.Last)
	}
}

func TestBuild_UnderFillIsLogged(t *testing.T) {
	logger := logging.GetLogger()
	var buf bytes.Buffer
	prevOut, prevLevel := logger.Out, logger.GetLevel()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	defer func() {
		logger.SetOutput(prevOut)
		logger.SetLevel(prevLevel)
	}()

	pool := makePool(t, 16, region.SpaceOriented)
	params := Params{IndexStride: 1, DefaultStartDistance: 2, StartDistance: 3}
	if _, err := Build(pool, targetAt(pool, 4), 20, Window{}, params); err != nil {
		t.Fatalf("Build: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "ran out of eviction candidates") || !strings.Contains(out, "achieved=9") || !strings.Contains(out, "requested=20") {
		t.Fatalf("expected under-fill debug line, got %q", out)
	}

	buf.Reset()
	if _, err := Build(pool, targetAt(pool, 4), 4, Window{}, params); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("a full build should not log, got %q", buf.String())
	}
}

func TestBuild_AcceptWrapReusesEntries(t *testing.T) {
	pool := makePool(t, 16, region.SpaceOriented)
	params := Params{IndexStride: 1, DefaultStartDistance: 2, StartDistance: 3, AcceptWrap: true}

	res, err := Build(pool, targetAt(pool, 4), 20, Window{}, params)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.UnderFilled() || res.Achieved != 20 {
		t.Fatalf("expected full set with wrap, got %d/%d", res.Achieved, res.Requested)
	}
	if res.Set.Indices[9] != 7 {
		t.Fatalf("expected wrap back to 7 at position 9, got %d", res.Set.Indices[9])
	}
}

func TestBuild_WrapStopsWhenNothingQualifies(t *testing.T) {
	pool := makePool(t, 8, region.SpaceOriented)
	params := Params{IndexStride: 1, StartDistance: 100, AcceptWrap: true}

	res, err := Build(pool, targetAt(pool, 4), 4, Window{}, params)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Achieved != 0 || res.Span.First != -1 {
		t.Fatalf("expected empty set, got %v", res.Set.Indices)
	}
}

func TestPythia_TwoBucketsPerStop(t *testing.T) {
	pool := makePool(t, 1<<16, region.SpaceOriented)
	res, err := Build(pool, targetAt(pool, 8), 8, Pythia{}, Params{StartDistance: 100})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []int{8192, 8200, 16384, 16392, 24576, 24584, 32768, 32776}
	if res.Requested != 8 || res.Achieved != 8 {
		t.Fatalf("expected 8/8, got %d/%d", res.Achieved, res.Requested)
	}
	for i := range want {
		if res.Set.Indices[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, res.Set.Indices)
		}
	}
	if res.Span.IndexStride != 8192 {
		t.Fatalf("expected index stride 8192, got %d", res.Span.IndexStride)
	}
}

func TestPythia_CoincidingBucketsHalveRequest(t *testing.T) {
	pool := makePool(t, 1<<16, region.SpaceOriented)
	b1, b2, two := Pythia{}.Buckets(0, Params{})
	if two || b1 != b2 {
		t.Fatalf("expected coinciding buckets for target 0, got %d %d", b1, b2)
	}

	res, err := Build(pool, targetAt(pool, 0), 8, Pythia{}, Params{StartDistance: 100})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Requested != 4 || res.Achieved != 4 {
		t.Fatalf("expected halved request 4/4, got %d/%d", res.Achieved, res.Requested)
	}
	for k, idx := range res.Set.Indices {
		if idx != (k+1)*8192 {
			t.Fatalf("unexpected indices %v", res.Set.Indices)
		}
	}
}

func TestPythia_CoincidingBucketsKeepSingleRequest(t *testing.T) {
	pool := makePool(t, 1<<16, region.SpaceOriented)
	res, err := Build(pool, targetAt(pool, 0), 1, Pythia{}, Params{StartDistance: 100})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Requested != 1 || res.Achieved != 1 || res.UnderFilled() {
		t.Fatalf("expected 1/1, got %d/%d", res.Achieved, res.Requested)
	}
	if res.Set.Indices[0] != 8192 {
		t.Fatalf("unexpected indices %v", res.Set.Indices)
	}
}

func TestPythia_SingleBucketModeKeepsRequest(t *testing.T) {
	pool := makePool(t, 1<<16, region.SpaceOriented)
	res, err := Build(pool, targetAt(pool, 0), 6, Pythia{}, Params{StartDistance: 100, BitShift: 3})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Requested != 6 {
		t.Fatalf("expected request to stay 6, got %d", res.Requested)
	}
	if res.Achieved != 6 {
		t.Fatalf("expected 6 entries, got %d", res.Achieved)
	}
}

func TestModulo_UniformPickTakesPoolPrefix(t *testing.T) {
	pool := makePool(t, 64, region.PerEntryRegistration)
	res, err := Build(pool, Target{}, 10, Modulo{}, Params{GroupStride: UniformPick})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i, idx := range res.Set.Indices {
		if idx != i {
			t.Fatalf("expected prefix, got %v", res.Set.Indices)
		}
	}
	if err := res.Set.CheckUniform(); err != nil {
		t.Fatalf("uniform pick should be equidistant: %v", err)
	}
}

func TestModulo_FixedGroup(t *testing.T) {
	pool := makePool(t, 64, region.PerEntryRegistration)
	res, err := Build(pool, Target{}, 3, Modulo{}, Params{GroupStride: -3})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, h := range res.Set.Entries {
		if h.Key%GroupCount != 3 {
			t.Fatalf("entry %v not in group 3", h)
		}
	}
	if res.Achieved != 3 {
		t.Fatalf("expected 3 entries, got %d", res.Achieved)
	}
}

func TestModulo_WalksGroupsFromTargetKey(t *testing.T) {
	pool := makePool(t, 64, region.PerEntryRegistration)
	target := Target{Index: 0, Handle: region.Handle{Key: 5}}

	res, err := Build(pool, target, 6, Modulo{}, Params{GroupStride: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// keys are index+1: group 5 holds 4,20,36,52 and group 7 holds 6,22,...
	want := []int{4, 20, 36, 52, 6, 22}
	for i := range want {
		if res.Set.Indices[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, res.Set.Indices)
		}
	}
}

func TestModulo_ExhaustedGroupsUnderFill(t *testing.T) {
	pool := makePool(t, 20, region.PerEntryRegistration)
	res, err := Build(pool, Target{Handle: region.Handle{Key: 1}}, 50, Modulo{}, Params{GroupStride: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Achieved != 20 || !res.UnderFilled() {
		t.Fatalf("expected every entry once and under-fill, got %d/%d", res.Achieved, res.Requested)
	}
}

func TestBuild_DeepCopiesEntries(t *testing.T) {
	pool := makePool(t, 64, region.SpaceOriented)
	res, err := Build(pool, targetAt(pool, 0), 4, Window{}, Params{IndexStride: 2, StartDistance: 10})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	idx := res.Set.Indices[0]
	orig := pool.At(idx)
	res.Set.Entries[0].Address = 0
	res.Set.Release()
	if pool.At(idx) != orig {
		t.Fatalf("pool entry %d changed through the set", idx)
	}
	if res.Set.Len() != 0 {
		t.Fatalf("expected released set to be empty")
	}
}

func TestBuild_RejectsBadInput(t *testing.T) {
	pool := makePool(t, 4, region.SpaceOriented)
	if _, err := Build(pool, Target{}, 0, Window{}, Params{}); err == nil {
		t.Fatalf("expected error for zero request")
	}
	if _, err := Build(pool, Target{}, 1, nil, Params{}); err == nil {
		t.Fatalf("expected error for nil strategy")
	}
}

func TestStrategyFor(t *testing.T) {
	for name, want := range map[string]string{
		"pythia": "pythia",
		"HALF":   "half",
		"naive":  "naive",
		"stride": "stride",
		"mr":     "mr",
	} {
		s, err := StrategyFor(name)
		if err != nil {
			t.Fatalf("StrategyFor(%q): %v", name, err)
		}
		if s.Name() != want {
			t.Fatalf("StrategyFor(%q) = %q, want %q", name, s.Name(), want)
		}
	}
	if _, err := StrategyFor("bogus"); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
	m, err := ParseCheckMode("uniform")
	if err != nil || m != ModeUniform {
		t.Fatalf("ParseCheckMode(uniform) = %v, %v", m, err)
	}
}
