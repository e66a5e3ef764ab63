// Package pmm implements the frame allocator (component B): a
// page-granular owner of one or more physical address ranges donated
// by the memory-region list, supporting alloc/free of aligned runs
// and a per-range direct-map offset.
package pmm

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"ukcore/defs"
	"ukcore/mem"
)

/// Frame is a physical frame number (Pa >> PageShift).
type Frame uint64

/// Pa is a physical address.
type Pa uint64

/// InvalidFrame is returned by Alloc on failure.
const InvalidFrame Frame = ^Frame(0)

const bitsPerWord = 64

/// frameRange tracks one donated [start, start+pages*PageSize) range.
/// The bitmap is sized proportionally to the frame count, as required
/// by the spec; in this hosted implementation the bitmap itself lives
/// on the Go heap rather than literally in the first frames of the
/// range (there is no bare-metal backing store to write it into when
/// running under `go test`), but AddMem still reserves and excludes
/// metaFrames frames from the free count, preserving the sizing
/// invariant a bare-metal build would observe.
type frameRange struct {
	sync.Mutex
	start     Pa
	pages     uint64
	dmOff     int64
	metaFrame uint64
	bitmap    []uint64 // 1 bit == frame is free
	free      uint64
}

func words(pages uint64) uint64 {
	return (pages + bitsPerWord - 1) / bitsPerWord
}

func (r *frameRange) setFree(i uint64, free bool) {
	w, b := i/bitsPerWord, i%bitsPerWord
	if free {
		r.bitmap[w] |= 1 << b
	} else {
		r.bitmap[w] &^= 1 << b
	}
}

func (r *frameRange) isFree(i uint64) bool {
	w, b := i/bitsPerWord, i%bitsPerWord
	return r.bitmap[w]&(1<<b) != 0
}

func (r *frameRange) contains(p Pa) bool {
	return p >= r.start && uint64(p-r.start) < r.pages*uint64(mem.PageSize)
}

// findRun searches for n contiguous free frames whose starting
// physical frame number (address / PageSize) is a multiple of
// alignFrames. Returns the starting index within r and ok.
func (r *frameRange) findRun(n, alignFrames uint64) (uint64, bool) {
	if alignFrames == 0 {
		alignFrames = 1
	}
	base := uint64(r.start) / uint64(mem.PageSize)
	first := (alignFrames - base%alignFrames) % alignFrames
	for i := first; i+n <= r.pages; i += alignFrames {
		ok := true
		for j := uint64(0); j < n; j++ {
			if !r.isFree(i + j) {
				ok = false
				break
			}
		}
		if ok {
			return i, true
		}
	}
	return 0, false
}

/// Allocator is a page-granular frame allocator serialized internally;
/// call sites assume short critical sections. Per-CPU free lists are
/// intentionally not layered on top of the bitmap here (unlike the
/// teacher's Physmem_t): the contiguous-run search required by
/// page_mapx's largest-page-size selection needs a global view, so a
/// single lock per range is kept instead of biscuit's per-CPU split
/// free lists.
type Allocator struct {
	mu     sync.Mutex
	ranges []*frameRange

	track int32 // atomic bool: record outstanding allocations for diag.FrameProfile
	live  sync.Map
}

/// AllocRecord describes one outstanding allocation, captured only
/// while tracking is enabled (see EnableTracking). It is consumed by
/// diag.FrameProfile to build a pprof heap-style profile.
type AllocRecord struct {
	Paddr  Pa
	Pages  uint64
	Caller string
}

/// EnableTracking turns per-allocation bookkeeping on or off. Disabled
/// by default, matching the teacher's stats.Stats-style opt-in
/// instrumentation.
func (a *Allocator) EnableTracking(on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	atomic.StoreInt32(&a.track, v)
}

/// AddMem registers a donated physical range with the allocator. The
/// first metaFrames frames (sized to hold the range's free bitmap)
/// are excluded from the free set.
func (a *Allocator) AddMem(start Pa, pages uint64, dmOff int64) defs.Err_t {
	if pages == 0 {
		return -defs.EINVAL
	}
	if uint64(start)%uint64(mem.PageSize) != 0 {
		return -defs.EINVAL
	}

	bitmapBytes := words(pages) * 8
	metaFrames := (bitmapBytes + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	if metaFrames >= pages {
		return -defs.EINVAL
	}

	r := &frameRange{
		start:     start + Pa(metaFrames*uint64(mem.PageSize)),
		pages:     pages - metaFrames,
		dmOff:     dmOff,
		metaFrame: metaFrames,
		bitmap:    make([]uint64, words(pages-metaFrames)),
	}
	for i := uint64(0); i < r.pages; i++ {
		r.setFree(i, true)
	}
	r.free = r.pages

	a.mu.Lock()
	a.ranges = append(a.ranges, r)
	a.mu.Unlock()
	return 0
}

/// Alloc returns the physical address of n contiguous free frames
/// aligned to alignPages, or -ENOMEM.
func (a *Allocator) Alloc(n uint64, alignPages uint64) (Pa, defs.Err_t) {
	if n == 0 {
		return 0, -defs.EINVAL
	}
	a.mu.Lock()
	ranges := append([]*frameRange(nil), a.ranges...)
	a.mu.Unlock()

	for _, r := range ranges {
		r.Lock()
		idx, ok := r.findRun(n, alignPages)
		if ok {
			for j := uint64(0); j < n; j++ {
				r.setFree(idx+j, false)
			}
			r.free -= n
		}
		r.Unlock()
		if ok {
			paddr := r.start + Pa(idx*uint64(mem.PageSize))
			a.recordAlloc(paddr, n)
			return paddr, 0
		}
	}
	return 0, -defs.ENOMEM
}

/// Free returns n frames starting at paddr to their owning range.
func (a *Allocator) Free(paddr Pa, n uint64) defs.Err_t {
	a.mu.Lock()
	ranges := append([]*frameRange(nil), a.ranges...)
	a.mu.Unlock()

	for _, r := range ranges {
		if !r.contains(paddr) {
			continue
		}
		idx := uint64(paddr-r.start) / uint64(mem.PageSize)
		r.Lock()
		for j := uint64(0); j < n; j++ {
			if r.isFree(idx + j) {
				r.Unlock()
				return -defs.EINVAL
			}
			r.setFree(idx+j, true)
		}
		r.free += n
		r.Unlock()
		a.live.Delete(paddr)
		return 0
	}
	return -defs.EINVAL
}

/// DirectMap returns the virtual address corresponding to a physical
/// address previously donated via AddMem: paddr + dm_off.
func (a *Allocator) DirectMap(paddr Pa) (uintptr, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.ranges {
		if r.contains(paddr) {
			return uintptr(int64(paddr) + r.dmOff), 0
		}
		// the metadata frames carved out by AddMem are also
		// direct-mappable even though they aren't allocatable.
		metaStart := r.start - Pa(r.metaFrame*uint64(mem.PageSize))
		if paddr >= metaStart && paddr < r.start {
			return uintptr(int64(paddr) + r.dmOff), 0
		}
	}
	return 0, -defs.ENOTFOUND
}

/// FreeFrames reports the number of currently free frames across all
/// ranges.
func (a *Allocator) FreeFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint64
	for _, r := range a.ranges {
		r.Lock()
		total += r.free
		r.Unlock()
	}
	return total
}

func (a *Allocator) recordAlloc(paddr Pa, pages uint64) {
	if atomic.LoadInt32(&a.track) == 0 {
		return
	}
	pc, file, line, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
		caller += " " + file + ":" + strconv.Itoa(line)
	}
	a.live.Store(paddr, AllocRecord{Paddr: paddr, Pages: pages, Caller: caller})
}

/// Snapshot returns the set of currently outstanding allocations
/// recorded while tracking was enabled.
func (a *Allocator) Snapshot() []AllocRecord {
	var out []AllocRecord
	a.live.Range(func(_, v interface{}) bool {
		out = append(out, v.(AllocRecord))
		return true
	})
	return out
}
