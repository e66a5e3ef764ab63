// Package vmm implements the paging core (component C): an
// architecture-agnostic page-table abstraction over a generic
// multi-level walker, a frame allocator bound to a direct-mapped
// region, and a mapper supporting multiple page sizes, attribute
// changes, permission-preserving splits, and caller-supplied PTE
// transformers (mapx).
package vmm

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"ukcore/defs"
	"ukcore/mem"
	"ukcore/mem/pmm"
)

/// PTE is an opaque, architecture-encoded page-table entry.
type PTE uint64

/// AnyPaddr requests that Mapx choose and allocate backing frames
/// itself rather than mapping a caller-supplied physical address.
const AnyPaddr uint64 = ^uint64(0)

const entriesPerTable = 512
const bitsPerLevel = 9

/// Arch abstracts the architecture-specific PTE encoding. Levels runs
/// from 1 (base page, PAGE_LEVEL) up to Levels() (the root table);
/// LeafCapable reports whether a given level may terminate a mapping
/// (e.g. 2MB/1GB pages on x86-64, or their AArch64 equivalents).
type Arch interface {
	Levels() int
	LeafCapable(level int) bool
	Present(pte PTE) bool
	Encode(paddr uint64, attr defs.Attr, level int, leaf bool) PTE
	Decode(pte PTE, level int) (paddr uint64, attr defs.Attr, leaf bool)
	Invalidate(vaddr uint64)
}

/// MapxAction is the verdict a Mapx callback returns for a proposed PTE.
type MapxAction int

const (
	MapxApply  MapxAction = iota /// accept the proposed PTE
	MapxSkip                     /// leave the existing slot unchanged
	MapxTooBig                   /// request a smaller page size (unless ForceSize)
)

/// MapxFunc is invoked just before each leaf PTE write when the
/// target slot is already present. It is not consulted for slots that
/// are not yet present.
type MapxFunc func(proposed PTE, vaddr uint64, level int) (MapxAction, defs.Err_t)

func levelSpan(level int) uint64 {
	return uint64(mem.PageSize) << (bitsPerLevel * (level - 1))
}

func levelIndex(vaddr uint64, level int) int {
	return int((vaddr >> (mem.PageShift + bitsPerLevel*(level-1))) & (entriesPerTable - 1))
}

/// PageTable is an opaque page-table handle: (pt_vbase, pt_pbase, fa,
/// arch_state) in spec.md terms. It owns a frame allocator domain
/// seeded by Init/AddMem and is not safe for concurrent map/unmap by
/// more than one logical context (spec.md §5).
type PageTable struct {
	mu    sync.Mutex
	arch  Arch
	fa    *pmm.Allocator
	root  uint64
	dmOff int64

	kmapMu    sync.Mutex
	kmapBase  uint64
	kmapSlots int
	kmapUsed  []bool
}

func (pt *PageTable) table(paddr uint64) *[entriesPerTable]PTE {
	v := uintptr(int64(paddr) + pt.dmOff)
	return (*[entriesPerTable]PTE)(unsafe.Pointer(v))
}

/// Init constructs a fresh page table using [start, start+len) as the
/// frame-allocator domain, direct-mapped at the given offset.
func (pt *PageTable) Init(arch Arch, start uint64, length uint64, dmOff int64) defs.Err_t {
	pt.arch = arch
	pt.dmOff = dmOff
	pt.fa = &pmm.Allocator{}
	if err := pt.fa.AddMem(pmm.Pa(start), length/uint64(mem.PageSize), dmOff); err != 0 {
		return err
	}
	p, err := pt.fa.Alloc(1, 1)
	if err != 0 {
		return err
	}
	pt.root = uint64(p)
	tbl := pt.table(pt.root)
	for i := range tbl {
		tbl[i] = 0
	}
	return 0
}

/// AddMem donates more physical memory to this page table's frame allocator.
func (pt *PageTable) AddMem(start uint64, length uint64) defs.Err_t {
	return pt.fa.AddMem(pmm.Pa(start), length/uint64(mem.PageSize), pt.dmOff)
}

/// Allocator exposes the page table's backing frame allocator, e.g.
/// for diag.FrameProfile snapshots.
func (pt *PageTable) Allocator() *pmm.Allocator { return pt.fa }

/// RootPaddr returns the physical address of the top-level table.
func (pt *PageTable) RootPaddr() uint64 { return pt.root }

func (pt *PageTable) walkCreate(vaddr uint64, targetLevel int) (*[entriesPerTable]PTE, int, defs.Err_t) {
	level := pt.arch.Levels()
	tbl := pt.table(pt.root)
	for level > targetLevel {
		idx := levelIndex(vaddr, level)
		pte := tbl[idx]
		var childPaddr uint64
		if !pt.arch.Present(pte) {
			p, err := pt.fa.Alloc(1, 1)
			if err != 0 {
				return nil, 0, err
			}
			childPaddr = uint64(p)
			child := pt.table(childPaddr)
			for i := range child {
				child[i] = 0
			}
			tbl[idx] = pt.arch.Encode(childPaddr, defs.AttrRead|defs.AttrWrite, level-1, false)
		} else {
			var leaf bool
			childPaddr, _, leaf = pt.arch.Decode(pte, level)
			if leaf {
				return nil, 0, -defs.EINVAL
			}
		}
		tbl = pt.table(childPaddr)
		level--
	}
	return tbl, levelIndex(vaddr, targetLevel), 0
}

func (pt *PageTable) findLeaf(vaddr uint64) (int, *[entriesPerTable]PTE, int, defs.Err_t) {
	level := pt.arch.Levels()
	tbl := pt.table(pt.root)
	for {
		idx := levelIndex(vaddr, level)
		pte := tbl[idx]
		if !pt.arch.Present(pte) {
			return level, tbl, idx, -defs.ENOTFOUND
		}
		_, _, leaf := pt.arch.Decode(pte, level)
		if leaf || level == 1 {
			return level, tbl, idx, 0
		}
		childPaddr, _, _ := pt.arch.Decode(pte, level)
		tbl = pt.table(childPaddr)
		level--
	}
}

/// Walk resolves a virtual address, stopping at the deepest present level.
func (pt *PageTable) Walk(vaddr uint64) (level int, pte PTE, ok bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	lvl, tbl, idx, err := pt.findLeaf(vaddr)
	if err != 0 {
		return lvl, 0, false
	}
	return lvl, tbl[idx], true
}

func (pt *PageTable) chooseLevel(vaddr, paddr, remaining uint64, flags defs.MapFlags, anyPaddr bool) int {
	if flags&defs.ForceSize != 0 {
		return flags.SizeLevel()
	}
	return pt.largestLevelFor(vaddr, paddr, remaining, anyPaddr, pt.arch.Levels()-1)
}

// largestLevelFor returns the largest LeafCapable level at or below
// startLevel whose span satisfies address alignment and the
// remaining run length. Used both for the initial page-size choice
// and, under AnyPaddr, to retry at a smaller size when the frame
// allocator can't satisfy the larger one.
func (pt *PageTable) largestLevelFor(vaddr, paddr, remaining uint64, anyPaddr bool, startLevel int) int {
	for level := startLevel; level >= 1; level-- {
		if !pt.arch.LeafCapable(level) {
			continue
		}
		span := levelSpan(level)
		if remaining < span {
			continue
		}
		if vaddr%span != 0 {
			continue
		}
		if !anyPaddr && paddr%span != 0 {
			continue
		}
		return level
	}
	return 1
}

// splitAt splits the leaf mapping covering vaddr at the given level
// into a new subordinate table at level-1, pre-populating entries so
// the existing mapping is preserved at finer granularity.
func (pt *PageTable) splitAt(vaddr uint64, level int) defs.Err_t {
	parentTbl, idx, err := pt.walkCreate(vaddr, level)
	if err != 0 {
		return err
	}
	existing := parentTbl[idx]
	if !pt.arch.Present(existing) {
		return -defs.EINVAL
	}
	basePaddr, attr, leaf := pt.arch.Decode(existing, level)
	if !leaf {
		return 0
	}
	p, aerr := pt.fa.Alloc(1, 1)
	if aerr != 0 {
		return aerr
	}
	childPaddr := uint64(p)
	child := pt.table(childPaddr)
	childSpan := levelSpan(level - 1)
	for i := 0; i < entriesPerTable; i++ {
		child[i] = pt.arch.Encode(basePaddr+uint64(i)*childSpan, attr, level-1, level-1 > 1)
	}
	parentTbl[idx] = pt.arch.Encode(childPaddr, defs.AttrRead|defs.AttrWrite, level, false)
	pt.arch.Invalidate(vaddr)
	return 0
}

func (pt *PageTable) installLeaf(vaddr, paddr uint64, level int, attr defs.Attr, flags defs.MapFlags, mapx MapxFunc) (int, defs.Err_t) {
	for {
		tbl, idx, err := pt.walkCreate(vaddr, level)
		if err == -defs.EINVAL {
			if serr := pt.splitAt(vaddr, level+1); serr != 0 {
				return level, serr
			}
			continue
		}
		if err != 0 {
			return level, err
		}

		existing := tbl[idx]
		proposed := pt.arch.Encode(paddr, attr, level, level > 1)

		if pt.arch.Present(existing) {
			if mapx != nil {
				action, merr := mapx(proposed, vaddr, level)
				switch action {
				case MapxSkip:
					return level, 0
				case MapxTooBig:
					if flags&defs.ForceSize != 0 {
						return level, -defs.EINVAL
					}
					if level <= 1 {
						return level, -defs.EINVAL
					}
					if serr := pt.splitAt(vaddr, level); serr != 0 {
						return level, serr
					}
					level--
					continue
				default:
					if merr != 0 {
						return level, merr
					}
					tbl[idx] = proposed
					pt.arch.Invalidate(vaddr)
					return level, 0
				}
			}
			if flags&defs.KeepPTEs != 0 {
				existPaddr, _, _ := pt.arch.Decode(existing, level)
				tbl[idx] = pt.arch.Encode(existPaddr, attr, level, level > 1)
				pt.arch.Invalidate(vaddr)
				return level, 0
			}
			return level, -defs.EEXIST
		}

		tbl[idx] = proposed
		return level, 0
	}
}

/// Mapx maps `pages` virtually-contiguous pages starting at vaddr. It
/// attempts the largest page size consistent with alignment,
/// remaining length, and (when paddr == AnyPaddr) available
/// contiguous physical memory; ForceSize pins the nominated size. The
/// returned int is the number of leaf mappings installed before any
/// error (the caller's "failing index").
func (pt *PageTable) Mapx(vaddr uint64, paddr uint64, pages uint64, attr defs.Attr, flags defs.MapFlags, mapx MapxFunc) (int, defs.Err_t) {
	if vaddr%uint64(mem.PageSize) != 0 {
		return 0, -defs.EINVAL
	}
	if flags&defs.ForceSize != 0 {
		lvl := flags.SizeLevel()
		if lvl < 1 || lvl >= pt.arch.Levels() || !pt.arch.LeafCapable(lvl) {
			return 0, -defs.ENOTSUP
		}
		if vaddr%levelSpan(lvl) != 0 {
			return 0, -defs.EINVAL
		}
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	anyPaddr := paddr == AnyPaddr
	end := vaddr + pages*uint64(mem.PageSize)
	cur := vaddr
	curPaddr := paddr
	count := 0

	forced := flags&defs.ForceSize != 0

	for cur < end {
		level := pt.chooseLevel(cur, curPaddr, end-cur, flags, anyPaddr)

		var framePaddr uint64
		var span uint64
		if anyPaddr {
			var aerr defs.Err_t
			for {
				span = levelSpan(level)
				p, err := pt.fa.Alloc(span/uint64(mem.PageSize), span/uint64(mem.PageSize))
				if err == 0 {
					framePaddr = uint64(p)
					break
				}
				aerr = err
				// The chosen size doesn't fit in a fragmented pool: fall
				// back to the next-smaller page size rather than failing
				// a mapping that could still succeed at finer granularity.
				if forced || level <= 1 {
					return count, aerr
				}
				next := pt.largestLevelFor(cur, curPaddr, end-cur, anyPaddr, level-1)
				if next >= level {
					return count, aerr
				}
				level = next
			}
		} else {
			span = levelSpan(level)
			framePaddr = curPaddr
		}

		installed, err := pt.installLeaf(cur, framePaddr, level, attr, flags, mapx)
		if err != 0 {
			return count, err
		}
		if installed < level {
			// A MapxTooBig answer split the existing leaf: advance by the
			// size actually installed and return the unused frames.
			used := levelSpan(installed)
			if anyPaddr {
				pt.fa.Free(pmm.Pa(framePaddr+used), (span-used)/uint64(mem.PageSize))
			}
			span = used
		}
		cur += span
		if !anyPaddr {
			curPaddr += span
		}
		count++
	}
	return count, 0
}

/// Unmap removes mappings in [vaddr, vaddr+pages*PageSize); frees
/// frames unless KeepFrames is set. With ForceSize, larger-than-
/// requested pages are split before unmap rather than unmapped whole.
func (pt *PageTable) Unmap(vaddr uint64, pages uint64, flags defs.MapFlags) (int, defs.Err_t) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	end := vaddr + pages*uint64(mem.PageSize)
	cur := vaddr
	count := 0
	for cur < end {
		level, tbl, idx, err := pt.findLeaf(cur)
		if err != 0 {
			cur += uint64(mem.PageSize)
			continue
		}
		span := levelSpan(level)
		if flags&defs.ForceSize != 0 && flags.SizeLevel() < level {
			if serr := pt.splitAt(cur, level); serr != 0 {
				return count, serr
			}
			continue
		}
		paddr, _, _ := pt.arch.Decode(tbl[idx], level)
		tbl[idx] = 0
		pt.arch.Invalidate(cur)
		if flags&defs.KeepFrames == 0 {
			pt.fa.Free(pmm.Pa(paddr), span/uint64(mem.PageSize))
		}
		count++
		cur += span
	}
	return count, 0
}

/// SetAttr changes permissions/cacheability over [vaddr,
/// vaddr+pages*PageSize) without touching physical addresses.
func (pt *PageTable) SetAttr(vaddr uint64, pages uint64, attr defs.Attr, flags defs.MapFlags) (int, defs.Err_t) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	end := vaddr + pages*uint64(mem.PageSize)
	cur := vaddr
	count := 0
	for cur < end {
		level, tbl, idx, err := pt.findLeaf(cur)
		if err != 0 {
			return count, -defs.EINVAL
		}
		paddr, _, leaf := pt.arch.Decode(tbl[idx], level)
		tbl[idx] = pt.arch.Encode(paddr, attr, level, leaf)
		pt.arch.Invalidate(cur)
		count++
		cur += levelSpan(level)
	}
	return count, 0
}

/// KmapInit reserves a fixed virtual window of `slots` base pages for
/// Kmap/Kunmap, pre-populating every intermediate table level so that
/// Kmap never needs to allocate a table page itself.
func (pt *PageTable) KmapInit(base uint64, slots int) defs.Err_t {
	pt.kmapMu.Lock()
	defer pt.kmapMu.Unlock()
	pt.kmapBase = base
	pt.kmapSlots = slots
	pt.kmapUsed = make([]bool, slots)
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for i := 0; i < slots; i++ {
		if _, _, err := pt.walkCreate(base+uint64(i)*uint64(mem.PageSize), 1); err != 0 {
			return err
		}
	}
	return 0
}

/// Kmap establishes a short-lived, guaranteed-non-allocating mapping
/// of `pages` frames starting at paddr, returning the chosen virtual
/// address.
func (pt *PageTable) Kmap(paddr uint64, pages uint64, flags defs.MapFlags) (uint64, defs.Err_t) {
	pt.kmapMu.Lock()
	start := -1
	for i := 0; i+int(pages) <= pt.kmapSlots; i++ {
		free := true
		for j := 0; j < int(pages); j++ {
			if pt.kmapUsed[i+j] {
				free = false
				break
			}
		}
		if free {
			start = i
			break
		}
	}
	if start < 0 {
		pt.kmapMu.Unlock()
		return 0, -defs.ENOMEM
	}
	for j := 0; j < int(pages); j++ {
		pt.kmapUsed[start+j] = true
	}
	pt.kmapMu.Unlock()

	vaddr := pt.kmapBase + uint64(start)*uint64(mem.PageSize)
	pt.mu.Lock()
	for i := uint64(0); i < pages; i++ {
		if _, err := pt.installLeaf(vaddr+i*uint64(mem.PageSize), paddr+i*uint64(mem.PageSize), 1, defs.AttrRead|defs.AttrWrite, defs.KeepPTEs, nil); err != 0 {
			pt.mu.Unlock()
			return 0, err
		}
	}
	pt.mu.Unlock()
	return vaddr, 0
}

/// Kunmap releases a mapping established by Kmap.
func (pt *PageTable) Kunmap(vaddr uint64, pages uint64, flags defs.MapFlags) defs.Err_t {
	pt.mu.Lock()
	for i := uint64(0); i < pages; i++ {
		_, tbl, idx, err := pt.findLeaf(vaddr + i*uint64(mem.PageSize))
		if err == 0 {
			tbl[idx] = 0
			pt.arch.Invalidate(vaddr + i*uint64(mem.PageSize))
		}
	}
	pt.mu.Unlock()

	idxStart := int((vaddr - pt.kmapBase) / uint64(mem.PageSize))
	pt.kmapMu.Lock()
	for i := 0; i < int(pages); i++ {
		pt.kmapUsed[idxStart+i] = false
	}
	pt.kmapMu.Unlock()
	return 0
}

/// Clone duplicates the top-level table into dst; with CloneNew it
/// produces an empty top-level instead.
func (pt *PageTable) Clone(dst *PageTable, flags defs.MapFlags) defs.Err_t {
	dst.arch = pt.arch
	dst.dmOff = pt.dmOff
	dst.fa = pt.fa
	p, err := pt.fa.Alloc(1, 1)
	if err != 0 {
		return err
	}
	dst.root = uint64(p)
	dstTbl := pt.table(dst.root)
	if flags&defs.CloneNew != 0 {
		for i := range dstTbl {
			dstTbl[i] = 0
		}
		return 0
	}
	srcTbl := pt.table(pt.root)
	copy(dstTbl[:], srcTbl[:])
	return 0
}

func (pt *PageTable) freeLevel(paddr uint64, level int, flags defs.MapFlags) {
	tbl := pt.table(paddr)
	for i := 0; i < entriesPerTable; i++ {
		pte := tbl[i]
		if !pt.arch.Present(pte) {
			continue
		}
		childPaddr, _, leaf := pt.arch.Decode(pte, level)
		if !leaf && level > 1 {
			pt.freeLevel(childPaddr, level-1, flags)
		} else if leaf && flags&defs.KeepFrames == 0 {
			pt.fa.Free(pmm.Pa(childPaddr), levelSpan(level)/uint64(mem.PageSize))
		}
	}
	pt.fa.Free(pmm.Pa(paddr), 1)
}

/// Free tears down the hierarchy. With KeepFrames, leaf physical
/// frames are not returned to the allocator.
func (pt *PageTable) Free(flags defs.MapFlags) defs.Err_t {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.freeLevel(pt.root, pt.arch.Levels(), flags)
	return 0
}

var activePT atomic.Pointer[PageTable]

/// SetActive records pt as the active page table returned by
/// GetActive; no hardware page-table base register is written.
func (pt *PageTable) SetActive() {
	activePT.Store(pt)
}

/// GetActive reads the currently active page table, or nil if none
/// has been activated yet.
func GetActive() *PageTable {
	return activePT.Load()
}
