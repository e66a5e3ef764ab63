package mem

import (
	"testing"

	"ukcore/defs"
)

func TestTwoRegionMerge(t *testing.T) {
	l := NewList(8)
	l.Insert(Region{Pbase: 0x1000, Len: 0x3000, Type: defs.RegionFree})
	l.Insert(Region{Pbase: 0x4000, Len: 0x1000, Type: defs.RegionFree})

	if err := l.Coalesce(); err != 0 {
		t.Fatalf("coalesce: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 region, got %d", l.Len())
	}
	got := l.At(0)
	if got.Pbase != 0x1000 || got.Len != 0x4000 {
		t.Fatalf("unexpected merged region: %+v", got)
	}
}

func TestPrioritySplit(t *testing.T) {
	l := NewList(8)
	l.Insert(Region{Pbase: 0x0, Len: 0x10000, Type: defs.RegionFree})
	l.Insert(Region{Pbase: 0x4000, Len: 0x1000, Type: defs.RegionKernel})

	if err := l.Coalesce(); err != 0 {
		t.Fatalf("coalesce: %v", err)
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 regions, got %d: %+v", l.Len(), l.Slice())
	}
	want := []Region{
		{Pbase: 0x0, Len: 0x4000, Type: defs.RegionFree},
		{Pbase: 0x4000, Len: 0x1000, Type: defs.RegionKernel},
		{Pbase: 0x5000, Len: 0xb000, Type: defs.RegionFree},
	}
	for i, w := range want {
		g := l.At(i)
		if g.Pbase != w.Pbase || g.Len != w.Len || g.Type != w.Type {
			t.Fatalf("region %d: want %+v, got %+v", i, w, g)
		}
	}
}

func TestCoalesceIdempotent(t *testing.T) {
	l := NewList(8)
	l.Insert(Region{Pbase: 0x0, Len: 0x10000, Type: defs.RegionFree})
	l.Insert(Region{Pbase: 0x4000, Len: 0x1000, Type: defs.RegionKernel})
	l.Coalesce()
	before := l.Slice()
	if err := l.Coalesce(); err != 0 {
		t.Fatalf("second coalesce: %v", err)
	}
	after := l.Slice()
	if len(before) != len(after) {
		t.Fatalf("coalesce not idempotent: %+v vs %+v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("coalesce not idempotent at %d: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func TestEqualPriorityDifferentFlagsIsFatal(t *testing.T) {
	l := NewList(8)
	l.Insert(Region{Pbase: 0x0, Len: 0x2000, Type: defs.RegionReserved, Flags: defs.FlagRead})
	l.Insert(Region{Pbase: 0x1000, Len: 0x2000, Type: defs.RegionReserved, Flags: defs.FlagWrite})

	if err := l.Coalesce(); err != -defs.EINVAL {
		t.Fatalf("expected -EINVAL, got %v", err)
	}
}

func TestInsertDeleteRoundTrip(t *testing.T) {
	l := NewList(8)
	idx, err := l.Insert(Region{Pbase: 0x1000, Len: 0x1000, Type: defs.RegionFree})
	if err != 0 {
		t.Fatalf("insert: %v", err)
	}
	l.Delete(idx)
	if l.Len() != 0 {
		t.Fatalf("expected empty list, got %d", l.Len())
	}
}

func TestMemregionAllocExactConsumption(t *testing.T) {
	l := NewList(8)
	l.Insert(Region{Pbase: 0x1000, Len: PageSize, Type: defs.RegionFree})

	r, ok := l.MemregionAlloc(PageSize, 0x10000, defs.RegionStack, defs.FlagRead|defs.FlagWrite)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if r.Pbase != 0x1000 {
		t.Fatalf("unexpected base: %x", r.Pbase)
	}
	if l.Len() != 1 {
		t.Fatalf("expected the FREE region to be retyped in place, got %d regions", l.Len())
	}
	if l.At(0).Type != defs.RegionStack {
		t.Fatalf("expected region retyped to STACK, got %v", l.At(0).Type)
	}
}

func TestMemregionAllocNoFit(t *testing.T) {
	l := NewList(8)
	l.Insert(Region{Pbase: 0x1000, Len: PageSize, Type: defs.RegionFree})

	if _, ok := l.MemregionAlloc(PageSize*2, 0x10000, defs.RegionStack, 0); ok {
		t.Fatal("expected allocation to fail")
	}
}

func TestMemregionAllocShrinksFreeRegion(t *testing.T) {
	l := NewList(8)
	l.Insert(Region{Pbase: 0x1000, Len: 0x3000, Type: defs.RegionFree})

	r, ok := l.MemregionAlloc(PageSize, 0x10000, defs.RegionStack, 0)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if r.Pbase != 0x1000 {
		t.Fatalf("unexpected base: %x", r.Pbase)
	}
	if l.Len() != 2 {
		t.Fatalf("expected FREE remainder plus STACK region, got %d", l.Len())
	}
	if l.At(1).Type != defs.RegionFree || l.At(1).Pbase != 0x2000 {
		t.Fatalf("unexpected remainder: %+v", l.At(1))
	}
}

func TestForeachMasks(t *testing.T) {
	l := NewList(8)
	l.Insert(Region{Pbase: 0x0, Len: 0x1000, Type: defs.RegionFree})
	l.Insert(Region{Pbase: 0x1000, Len: 0x1000, Type: defs.RegionKernel, Flags: defs.FlagRead | defs.FlagExec})

	var seen []defs.RegionType
	l.Foreach(int(defs.RegionKernel), 0, 0, func(r Region) bool {
		seen = append(seen, r.Type)
		return true
	})
	if len(seen) != 1 || seen[0] != defs.RegionKernel {
		t.Fatalf("unexpected foreach result: %+v", seen)
	}
}
