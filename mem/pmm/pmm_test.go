package pmm

import (
	"testing"

	"ukcore/defs"
	"ukcore/mem"
)

func newTestAllocator(t *testing.T, pages uint64) *Allocator {
	t.Helper()
	a := &Allocator{}
	if err := a.AddMem(0, pages, 0x1000); err != 0 {
		t.Fatalf("AddMem: %v", err)
	}
	return a
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 64)
	free0 := a.FreeFrames()

	p, err := a.Alloc(4, 1)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	if a.FreeFrames() != free0-4 {
		t.Fatalf("expected 4 frames consumed, free=%d", a.FreeFrames())
	}
	if err := a.Free(p, 4); err != 0 {
		t.Fatalf("free: %v", err)
	}
	if a.FreeFrames() != free0 {
		t.Fatalf("expected frames returned, free=%d", a.FreeFrames())
	}
}

func TestAllocExhaustion(t *testing.T) {
	a := newTestAllocator(t, 8)
	if _, err := a.Alloc(9, 1); err != -defs.ENOMEM {
		t.Fatalf("expected -ENOMEM, got %v", err)
	}
}

func TestAllocAlignment(t *testing.T) {
	a := newTestAllocator(t, 64)
	p, err := a.Alloc(2, 4)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	frame := uint64(p) / uint64(mem.PageSize)
	if frame%4 != 0 {
		t.Fatalf("expected 4-frame aligned start, got frame %d", frame)
	}
}

func TestDoubleFreeRejected(t *testing.T) {
	a := newTestAllocator(t, 8)
	p, _ := a.Alloc(1, 1)
	if err := a.Free(p, 1); err != 0 {
		t.Fatalf("first free: %v", err)
	}
	if err := a.Free(p, 1); err != -defs.EINVAL {
		t.Fatalf("expected -EINVAL on double free, got %v", err)
	}
}

func TestDirectMap(t *testing.T) {
	a := newTestAllocator(t, 64)
	p, _ := a.Alloc(1, 1)
	v, err := a.DirectMap(p)
	if err != 0 {
		t.Fatalf("DirectMap: %v", err)
	}
	if v != uintptr(p)+0x1000 {
		t.Fatalf("expected v == p+dmOff, got %x vs %x", v, p)
	}
}

func TestTrackingSnapshot(t *testing.T) {
	a := newTestAllocator(t, 64)
	a.EnableTracking(true)
	p, _ := a.Alloc(2, 1)

	snap := a.Snapshot()
	if len(snap) != 1 || snap[0].Paddr != p || snap[0].Pages != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	a.Free(p, 2)
	if len(a.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot after free")
	}
}
