package main

import (
	"testing"

	"ukcore/defs"
	"ukcore/mem"
	"ukcore/mem/pmm"
)

func TestDonateFreeRegionsSkipsNonFreeAndZeroLength(t *testing.T) {
	regions := mem.NewList(0)
	regions.Insert(mem.Region{Pbase: 0, Vbase: 0, Len: 16 * mem.PageSize, Type: defs.RegionFree})
	regions.Insert(mem.Region{Pbase: 0x100000, Vbase: 0x100000, Len: 4 * mem.PageSize, Type: defs.RegionKernel})
	regions.Insert(mem.Region{Pbase: 0x200000, Vbase: 0x200000, Len: 0, Type: defs.RegionFree})

	alloc := &pmm.Allocator{}
	donated := donateFreeRegions(alloc, regions)
	if donated != 1 {
		t.Fatalf("expected exactly one FREE region donated, got %d", donated)
	}
	if alloc.FreeFrames() == 0 {
		t.Fatal("expected donated region to contribute free frames")
	}
}

func TestDonateFreeRegionsCountsEachDonatedRegion(t *testing.T) {
	regions := mem.NewList(0)
	regions.Insert(mem.Region{Pbase: 0, Vbase: 0, Len: 16 * mem.PageSize, Type: defs.RegionFree})
	regions.Insert(mem.Region{Pbase: 0x100000, Vbase: 0x100000, Len: 16 * mem.PageSize, Type: defs.RegionFree})

	alloc := &pmm.Allocator{}
	if got := donateFreeRegions(alloc, regions); got != 2 {
		t.Fatalf("expected 2 donated regions, got %d", got)
	}
}
