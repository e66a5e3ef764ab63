// Package defs holds the error codes, memory-region types and flags,
// and page-table attribute/flag bits shared across the core.
package defs

// Err_t is the error type returned by every public core operation.
// Zero is success; negative values identify an error kind. No
// operation in this core uses the error interface.
type Err_t int

/// Error kinds. A FATAL invariant violation halts the executing CPU
/// instead of being returned (see lcpu.Halt), with one exception:
/// mem.List.Coalesce returns an equal-priority overlap with conflicting
/// flags as -EINVAL, and its caller halts on it.
const (
	ENOMEM    Err_t = 1 /// insufficient free memory or full region list
	EINVAL    Err_t = 2 /// malformed input (misaligned address, bad level, unknown type)
	EEXIST    Err_t = 3 /// attempt to map over a present PTE without mapx or KeepPTEs
	EAGAIN    Err_t = 4 /// LCPU function slot contended with DoNotBlock set
	EBUSY     Err_t = 5 /// resource momentarily unavailable
	ENOTSUP   Err_t = 6 /// architecture lacks a required feature
	ETIMEDOUT Err_t = 7 /// lcpu.Wait deadline passed
	ENOTFOUND Err_t = 8 /// discovery produced no matching device
)

func (e Err_t) String() string {
	switch e {
	case 0:
		return "ok"
	case ENOMEM:
		return "out of memory"
	case EINVAL:
		return "invalid argument"
	case EEXIST:
		return "already mapped"
	case EAGAIN:
		return "would block"
	case EBUSY:
		return "busy"
	case ENOTSUP:
		return "not supported"
	case ETIMEDOUT:
		return "timed out"
	case ENOTFOUND:
		return "not found"
	default:
		return "unknown error"
	}
}

/// RegionType classifies a memory-region descriptor (MRD).
type RegionType uint16

const (
	RegionFree RegionType = iota
	RegionReserved
	RegionKernel
	RegionInitrd
	RegionCmdline
	RegionStack
	RegionDeviceTree
	RegionAllocated
)

func (t RegionType) String() string {
	switch t {
	case RegionFree:
		return "FREE"
	case RegionReserved:
		return "RESERVED"
	case RegionKernel:
		return "KERNEL"
	case RegionInitrd:
		return "INITRD"
	case RegionCmdline:
		return "CMDLINE"
	case RegionStack:
		return "STACK"
	case RegionDeviceTree:
		return "DEVICETREE"
	case RegionAllocated:
		return "ALLOCATED"
	default:
		return "UNKNOWN"
	}
}

/// RegionFlags is a bitset of permission/mapping hints carried by an MRD.
type RegionFlags uint16

const (
	FlagRead RegionFlags = 1 << iota
	FlagWrite
	FlagExec
	FlagMap
	FlagUnmap
	FlagWriteCombine
)

/// Priority orders region types for coalesce conflict resolution:
/// RESERVED > {KERNEL, INITRD, CMDLINE, STACK, DEVICETREE} > FREE.
func Priority(t RegionType) int {
	switch t {
	case RegionReserved:
		return 2
	case RegionFree:
		return 0
	default:
		return 1
	}
}

/// Attr is the page-protection/cacheability attribute requested of a mapping.
type Attr uint32

const (
	AttrNone         Attr = 0
	AttrRead         Attr = 1 << 0
	AttrWrite        Attr = 1 << 1
	AttrExec         Attr = 1 << 2
	AttrWriteCombine Attr = 1 << 3
)

/// MapFlags controls page_mapx/page_unmap/page_set_attr behavior.
type MapFlags uint32

const (
	KeepPTEs MapFlags = 1 << iota
	KeepFrames
	ForceSize
	CloneNew
)

/// sizeShift is the bit offset at which a requested page-table level
/// is encoded into a MapFlags value by Size.
const sizeShift = 8

/// Size encodes the requested page-table level (1 = base page, 2 =
/// large, 3 = huge, ...) into a MapFlags value.
func Size(level int) MapFlags {
	return MapFlags(level) << sizeShift
}

/// SizeLevel extracts the page-table level encoded by Size.
func (f MapFlags) SizeLevel() int {
	return int(f >> sizeShift)
}
