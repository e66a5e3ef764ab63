// Package mem implements the memory-region list (MRD list): a typed,
// ordered, non-overlapping description of all physical memory ranges
// known at boot. It is produced by the boot shim and consumed by the
// frame allocator and paging core.
package mem

import (
	"sort"

	"ukcore/defs"
	"ukcore/util"
)

/// PageShift is the base-2 exponent of the platform's base page size.
const PageShift = 12

/// PageSize is the platform's base page size in bytes.
const PageSize uint64 = 1 << PageShift

/// Region is a memory-region descriptor (MRD): a typed, flagged,
/// contiguous physical range.
///
/// Vbase equals Pbase unless a mapping operation has explicitly
/// remapped the region.
type Region struct {
	Pbase uint64
	Vbase uint64
	Len   uint64
	Type  defs.RegionType
	Flags defs.RegionFlags
}

/// End returns the exclusive end address of the region.
func (r Region) End() uint64 { return r.Pbase + r.Len }

/// Overlaps reports whether r and o share any address.
func (r Region) Overlaps(o Region) bool {
	return r.Pbase < o.End() && o.Pbase < r.End()
}

/// Contiguous reports whether r immediately precedes o with no gap.
func (r Region) Contiguous(o Region) bool {
	return r.End() == o.Pbase
}

/// Contains reports whether r fully covers o.
func (r Region) Contains(o Region) bool {
	return r.Pbase <= o.Pbase && o.End() <= r.End()
}

/// sameMerge reports whether two adjacent regions of equal priority
/// may be merged: identical type and flags.
func sameMerge(a, b Region) bool {
	return a.Type == b.Type && a.Flags == b.Flags
}

/// List is an ordered, capacity-bounded collection of regions. It is
/// not safe for concurrent use; the spec requires all mutation to
/// happen before secondary CPUs are started (spec.md §5).
type List struct {
	regions []Region
	cap     int
}

/// NewList creates an empty list with the given capacity. A capacity
/// of 0 means unbounded (growable), matching the common in-test usage;
/// production boot shims should pass the platform's fixed MRD capacity.
func NewList(capacity int) *List {
	return &List{regions: make([]Region, 0, capacity), cap: capacity}
}

/// Len returns the number of regions currently held.
func (l *List) Len() int { return len(l.regions) }

/// At returns the region at index i.
func (l *List) At(i int) Region { return l.regions[i] }

/// Slice returns a read-only view of the region list in order.
func (l *List) Slice() []Region {
	out := make([]Region, len(l.regions))
	copy(out, l.regions)
	return out
}

func (l *List) less(a, b Region) bool {
	if a.Pbase != b.Pbase {
		return a.Pbase < b.Pbase
	}
	return a.Len < b.Len
}

/// Insert places r in sorted position (ascending Pbase, then
/// ascending Len). It does not coalesce. Returns the new index, or
/// -ENOMEM if the list's capacity is exhausted.
func (l *List) Insert(r Region) (int, defs.Err_t) {
	if l.cap != 0 && len(l.regions) >= l.cap {
		return 0, -defs.ENOMEM
	}
	i := sort.Search(len(l.regions), func(i int) bool {
		return l.less(r, l.regions[i])
	})
	return l.InsertAt(r, i)
}

/// InsertAt inserts r at index i without checking sort order. Used by
/// Coalesce to split a region in place.
func (l *List) InsertAt(r Region, i int) (int, defs.Err_t) {
	if l.cap != 0 && len(l.regions) >= l.cap {
		return 0, -defs.ENOMEM
	}
	l.regions = append(l.regions, Region{})
	copy(l.regions[i+1:], l.regions[i:])
	l.regions[i] = r
	return i, 0
}

/// Delete removes the entry at index i, shifting the tail down by one.
func (l *List) Delete(i int) {
	l.regions = append(l.regions[:i], l.regions[i+1:]...)
}

/// Foreach yields every region matching the given masks, in order.
/// typeMask selects a single RegionType (or -1 to match any type).
/// A region matches the flags masks when (region.Flags & flagsAll) ==
/// flagsAll and (region.Flags & flagsAny) != 0 (flagsAny == 0 means
/// "don't care").
func (l *List) Foreach(typeMask int, flagsAll, flagsAny defs.RegionFlags, fn func(Region) bool) {
	for _, r := range l.regions {
		if typeMask >= 0 && defs.RegionType(typeMask) != r.Type {
			continue
		}
		if r.Flags&flagsAll != flagsAll {
			continue
		}
		if flagsAny != 0 && r.Flags&flagsAny == 0 {
			continue
		}
		if !fn(r) {
			return
		}
	}
}

/// alignOutward page-aligns a [start, end) pair outward: start down,
/// end up.
func alignOutward(start, end uint64) (uint64, uint64) {
	return util.Rounddown(start, PageSize), util.Roundup(end, PageSize)
}

/// Coalesce restores the ordered/disjoint invariant across the whole
/// list by repeatedly resolving adjacent pairs per the decision table
/// in spec.md §4.A. It runs until a full pass makes no further
/// changes, so callers need not know how many overlaps are chained.
func (l *List) Coalesce() defs.Err_t {
	for {
		changed, err := l.coalescePass()
		if err != 0 {
			return err
		}
		if !changed {
			return 0
		}
	}
}

func (l *List) coalescePass() (bool, defs.Err_t) {
	sort.SliceStable(l.regions, func(i, j int) bool {
		return l.less(l.regions[i], l.regions[j])
	})

	for i := 0; i+1 < len(l.regions); i++ {
		L, R := l.regions[i], l.regions[i+1]

		if !L.Overlaps(R) && !L.Contiguous(R) {
			continue
		}

		pL, pR := defs.Priority(L.Type), defs.Priority(R.Type)

		switch {
		case L.Contiguous(R) && pL == pR && sameMerge(L, R):
			l.regions[i].Len = R.End() - L.Pbase
			l.Delete(i + 1)
			return true, 0

		case L.Overlaps(R) && pL == pR && sameMerge(L, R):
			l.regions[i].Len = util.Max(L.End(), R.End()) - L.Pbase
			l.Delete(i + 1)
			return true, 0

		case L.Overlaps(R) && pL == pR:
			return false, -defs.EINVAL

		case L.Overlaps(R) && pL > pR && L.Contains(R):
			l.Delete(i + 1)
			return true, 0

		case L.Overlaps(R) && pL > pR:
			l.shrinkLowToHigh(i+1, i, &R, &L)
			return true, 0

		case L.Overlaps(R) && pL < pR && R.Contains(L):
			l.Delete(i)
			return true, 0

		case L.Overlaps(R) && pL < pR && L.Contains(R):
			l.splitAroundHigher(i, L, R)
			return true, 0

		case L.Overlaps(R) && pL < pR:
			l.shrinkLowToHigh(i, i+1, &L, &R)
			return true, 0
		}
	}
	return false, 0
}

// shrinkLowToHigh shrinks the lower-priority region (at lowIdx) to the
// portion of it that lies outside the higher-priority region. FREE
// regions absorb page-alignment rounding permanently; non-FREE
// regions keep their original (possibly sub-page) endpoints once the
// overlap is resolved.
func (l *List) shrinkLowToHigh(lowIdx, highIdx int, low, high *Region) {
	a, b := alignOutward(low.Pbase, low.End())
	lo := *low
	lo.Pbase, lo.Len = a, b-a

	if lo.Pbase < high.Pbase {
		// low extends below high: keep the prefix.
		newLen := high.Pbase - lo.Pbase
		if low.Type != defs.RegionFree {
			newLen = util.Min(newLen, high.Pbase-low.Pbase)
			lo.Pbase = low.Pbase
		}
		lo.Len = newLen
	} else {
		// low extends above high: keep the suffix.
		start := high.End()
		if low.Type != defs.RegionFree && low.End() > high.End() {
			start = high.End()
		}
		lo.Pbase = start
		lo.Len = util.Max(low.End(), high.End()) - start
	}
	l.regions[lowIdx] = lo
}

// splitAroundHigher handles the case where the lower-priority L fully
// contains the higher-priority R: L is split into a prefix before R
// and a suffix after R, and R is left untouched in the list.
func (l *List) splitAroundHigher(lIdx int, L, R Region) {
	prefix := L
	prefix.Len = R.Pbase - L.Pbase

	suffix := L
	suffix.Pbase = R.End()
	suffix.Len = L.End() - R.End()

	l.regions[lIdx] = prefix
	// R already occupies lIdx+1; insert the suffix after it.
	l.InsertAt(suffix, lIdx+2)
}

/// MemregionAlloc is the only allocator available before the frame
/// allocator exists. It walks FREE regions searching for the
/// lowest-addressed contiguous aligned tail within [0, mappedLimit)
/// large enough for size, then either overwrites the FREE region (if
/// the chosen slice consumes it fully — this intentionally preserves
/// the FREE region's slot rather than leaving an empty one) or
/// shrinks the FREE region and inserts a new Region with the
/// requested type/flags. It returns ok=false if no region qualifies.
func (l *List) MemregionAlloc(size uint64, mappedLimit uint64, typ defs.RegionType, flags defs.RegionFlags) (Region, bool) {
	size = util.Roundup(size, PageSize)

	for i := range l.regions {
		r := l.regions[i]
		if r.Type != defs.RegionFree {
			continue
		}
		lo := util.Roundup(r.Pbase, PageSize)
		hi := util.Min(r.End(), mappedLimit)
		if hi < lo || hi-lo < size {
			continue
		}
		// Lowest-addressed qualifying tail, per
		// original_source/plat/common/memory.c.
		allocBase := lo
		allocEnd := allocBase + size

		out := Region{Pbase: allocBase, Vbase: allocBase, Len: size, Type: typ, Flags: flags}

		switch {
		case allocBase == r.Pbase && allocEnd == r.End():
			// Slice consumes the FREE region exactly: retype in place.
			l.regions[i] = out
		case allocBase == r.Pbase:
			l.regions[i].Pbase = allocEnd
			l.regions[i].Vbase = allocEnd
			l.regions[i].Len = r.End() - allocEnd
			l.Insert(out)
		case allocEnd == r.End():
			l.regions[i].Len = allocBase - r.Pbase
			l.Insert(out)
		default:
			l.regions[i].Len = allocBase - r.Pbase
			tail := Region{Pbase: allocEnd, Vbase: allocEnd, Len: r.End() - allocEnd, Type: defs.RegionFree, Flags: r.Flags}
			l.Insert(tail)
			l.Insert(out)
		}
		return out, true
	}
	return Region{}, false
}
