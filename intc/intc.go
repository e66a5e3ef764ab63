// Package intc implements the interrupt-controller core (component F):
// an ARM-GIC-class distributor + CPU-interface/redistributor model,
// grounded on original_source/drivers/ukintctlr/gic/gic-v2.c and
// plat/drivers/gic/gic-v3.c for register offsets and the init/ack/EOI
// sequence. The teacher repo (Oichkatzelesfrettschen-biscuit) carries
// no interrupt-controller code of its own (its apic/ package is an
// empty stub), so the register-access idiom is adapted from the
// direct-mapped unsafe.Pointer access the vmm package already uses for
// page-table walking.
package intc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"ukcore/defs"
)

// Trigger selects edge- or level-sensitivity for an SPI/PPI.
type Trigger int

const (
	Level Trigger = iota
	Edge
)

// MaxIRQ bounds the handler table; GIC implementations report their
// true IRQ count (ITLinesNumber/IIDR) at probe time but this core
// caps dispatch at a fixed size to avoid a runtime-sized allocation
// in the handler table.
const MaxIRQ = 1024

/// SpuriousIRQ is the GICC_IAR / ICC_IAR sentinel for "no pending IRQ".
const SpuriousIRQ = 1023

/// HandlerFunc is invoked by HandleIRQ for each acknowledged IRQ id.
type HandlerFunc func(id uint32)

/// SGITarget selects the destination set of an SGI.
type SGITarget struct {
	Self      bool
	AllOthers bool
	CPUList   []uint32 // GICv2: target-list bitmask members; GICv3: affinity list
}

/// Controller is the version-independent interrupt-controller API;
/// GICv2 and GICv3 differ in register layout and affinity routing
/// but not in operation shape.
type Controller interface {
	Initialize(bsp bool) defs.Err_t
	AckIRQ() uint32
	EOIIRQ(stat uint32)
	EnableIRQ(irq uint32) defs.Err_t
	DisableIRQ(irq uint32) defs.Err_t
	SetIRQTrigger(irq uint32, t Trigger) defs.Err_t
	SetIRQPriority(irq uint32, prio uint8) defs.Err_t
	SetIRQAffinity(irq uint32, affinity uint32) defs.Err_t
	SGIGen(sgiID uint32, target SGITarget)
	RegisterHandler(id uint32, h HandlerFunc) defs.Err_t
	HandleIRQ()
}

// regs is the direct-mapped MMIO accessor shared by both GIC
// versions, mirroring vmm.PageTable.table's dmOff-relative
// unsafe.Pointer cast.
type regs struct {
	dmOff int64
}

func (r regs) ptr32(base uint64, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(int64(base+uint64(off)) + r.dmOff)))
}

func (r regs) ptr8(base uint64, off uint32) *uint8 {
	return (*uint8)(unsafe.Pointer(uintptr(int64(base+uint64(off)) + r.dmOff)))
}

func (r regs) read32(base uint64, off uint32) uint32    { return atomic.LoadUint32(r.ptr32(base, off)) }
func (r regs) write32(base uint64, off uint32, v uint32) { atomic.StoreUint32(r.ptr32(base, off), v) }
func (r regs) read8(base uint64, off uint32) uint8       { return *r.ptr8(base, off) }
func (r regs) write8(base uint64, off uint32, v uint8)   { *r.ptr8(base, off) = v }

// handlerTable is shared by both GIC versions.
type handlerTable struct {
	mu       sync.RWMutex
	handlers [MaxIRQ]HandlerFunc
}

func (h *handlerTable) register(id uint32, fn HandlerFunc) defs.Err_t {
	if id >= MaxIRQ {
		return -defs.EINVAL
	}
	h.mu.Lock()
	h.handlers[id] = fn
	h.mu.Unlock()
	return 0
}

func (h *handlerTable) invoke(id uint32) {
	h.mu.RLock()
	fn := h.handlers[id]
	h.mu.RUnlock()
	if fn != nil {
		fn(id)
	}
}

// handleIRQLoop implements the shared drain loop from spec.md §4.F:
// ack, dispatch while id < maxIRQ and id is not SpuriousIRQ, EOI,
// repeat; break on spurious or on a non-spurious id >= maxIRQ (still
// EOI'd once).
func handleIRQLoop(maxIRQ uint32, ack func() uint32, idOf func(stat uint32) uint32, eoi func(stat uint32), handlers *handlerTable) {
	for {
		stat := ack()
		id := idOf(stat)
		if id < maxIRQ && id != SpuriousIRQ {
			handlers.invoke(id)
			eoi(stat)
			continue
		}
		if id != SpuriousIRQ {
			eoi(stat)
		}
		break
	}
}

/// Discovery carries the base addresses a platform's device-tree/ACPI
/// walk produced for one GIC version.
type Discovery struct {
	Version     int // 2 or 3
	DistBase    uint64
	CPUBase     uint64   // GICv2 only
	RedistBases []uint64 // GICv3 only, one per possible CPU
	DMOff       int64
}

var cached atomic.Pointer[cachedDevice]

type cachedDevice struct {
	ctrl Controller
}

/// Probe discovers a GIC from d, caching the result so that repeated
/// probe calls from different CPUs observe the same device instance
/// without re-walking firmware tables.
func Probe(d Discovery) (Controller, defs.Err_t) {
	if c := cached.Load(); c != nil {
		return c.ctrl, 0
	}

	var ctrl Controller
	switch d.Version {
	case 2:
		if d.DistBase == 0 || d.CPUBase == 0 {
			return nil, -defs.ENOTFOUND
		}
		ctrl = newGICv2(d)
	case 3:
		if d.DistBase == 0 || len(d.RedistBases) == 0 {
			return nil, -defs.ENOTFOUND
		}
		ctrl = newGICv3(d)
	default:
		return nil, -defs.ENOTSUP
	}

	nc := &cachedDevice{ctrl: ctrl}
	if cached.CompareAndSwap(nil, nc) {
		return ctrl, 0
	}
	return cached.Load().ctrl, 0
}

/// ResetProbeCache clears the cached device. Production boot code
/// never calls this; it exists so tests can probe a fresh fake device
/// per test case.
func ResetProbeCache() {
	cached.Store(nil)
}
