package intc

import (
	"sync"

	"ukcore/defs"
)

// GICv2 distributor (GICD) and CPU-interface (GICC) register offsets,
// grounded on original_source/drivers/ukintctlr/gic/gic-v2.c. Exact
// bit positions follow the macro names retrieved from that source;
// this core has no hardware to validate them against, so treat these
// as representative of the GICv2 architecture spec rather than
// byte-audited against it.
const (
	gicdCTLR        = 0x000
	gicdTYPER       = 0x004
	gicdISENABLERn  = 0x100
	gicdICENABLERn  = 0x180
	gicdIPRIORITYRn = 0x400
	gicdITARGETSRn  = 0x800
	gicdICFGRn      = 0xc00
	gicdSGIR        = 0xf00

	giccCTLR = 0x000
	giccPMR  = 0x004
	giccIAR  = 0x00c
	giccEOIR = 0x010

	gicSPIBase = 32
	gicSGIMax  = 15

	gicdICFGRTrigMask = 0x2
	gicdICFGRTrigLvl  = 0x0
	gicdICFGRTrigEdge = 0x2

	gicdIPriorityDef   = 0xa0
	gicdITargetsDefBSP = 0x01

	gicdCTLREnable   = 0x1
	giccCTLREnable   = 0x1
	giccPMRAcceptAll = 0xff

	gicIAROrSGIRShift = 24 // SGIR[25:24] TargetListFilter field
)

/// GICv2 implements Controller for a GICv2 distributor + per-CPU
/// interface pair.
type GICv2 struct {
	regs
	distBase uint64
	cpuBase  uint64

	distLock sync.Mutex
	handlers handlerTable

	distInit bool
}

func newGICv2(d Discovery) *GICv2 {
	return &GICv2{
		regs:     regs{dmOff: d.DMOff},
		distBase: d.DistBase,
		cpuBase:  d.CPUBase,
	}
}

/// Initialize programs the distributor on the first (BSP) call and
/// the local CPU interface on every call, per spec.md §4.F.
func (g *GICv2) Initialize(bsp bool) defs.Err_t {
	if bsp {
		g.distLock.Lock()
		if !g.distInit {
			g.write32(g.distBase, gicdCTLR, 0) // disable distributor

			numIRQs := int(32 * ((g.read32(g.distBase, gicdTYPER) & 0x1f) + 1))
			for irq := gicSPIBase; irq < numIRQs; irq++ {
				g.write8(g.distBase, gicdITARGETSRn+uint32(irq), gicdITargetsDefBSP)
				g.write8(g.distBase, gicdIPRIORITYRn+uint32(irq), gicdIPriorityDef)
				g.setTriggerLocked(uint32(irq), Level)
				g.clearEnableLocked(uint32(irq))
			}
			g.write32(g.distBase, gicdCTLR, gicdCTLREnable)
			g.distInit = true
		}
		g.distLock.Unlock()
	}

	g.write32(g.cpuBase, giccPMR, giccPMRAcceptAll)
	g.write32(g.cpuBase, giccCTLR, giccCTLREnable)
	return 0
}

/// AckIRQ reads GICC_IAR.
func (g *GICv2) AckIRQ() uint32 {
	return g.read32(g.cpuBase, giccIAR)
}

/// EOIIRQ writes GICC_EOIR with the acknowledge value.
func (g *GICv2) EOIIRQ(stat uint32) {
	g.write32(g.cpuBase, giccEOIR, stat)
}

func (g *GICv2) clearEnableLocked(irq uint32) {
	g.write32(g.distBase, gicdICENABLERn+4*(irq/32), 1<<(irq%32))
}

/// EnableIRQ sets the GICD_ISENABLER bit for irq.
func (g *GICv2) EnableIRQ(irq uint32) defs.Err_t {
	if irq >= MaxIRQ {
		return -defs.EINVAL
	}
	g.distLock.Lock()
	g.write32(g.distBase, gicdISENABLERn+4*(irq/32), 1<<(irq%32))
	g.distLock.Unlock()
	return 0
}

/// DisableIRQ clears the GICD_ISENABLER bit for irq via GICD_ICENABLER.
func (g *GICv2) DisableIRQ(irq uint32) defs.Err_t {
	if irq >= MaxIRQ {
		return -defs.EINVAL
	}
	g.distLock.Lock()
	g.clearEnableLocked(irq)
	g.distLock.Unlock()
	return 0
}

func (g *GICv2) setTriggerLocked(irq uint32, t Trigger) {
	off := gicdICFGRn + 4*(irq/16)
	shift := (irq % 16) * 2
	val := g.read32(g.distBase, off)
	val &^= uint32(gicdICFGRTrigMask) << shift
	if t == Edge {
		val |= uint32(gicdICFGRTrigEdge) << shift
	} else {
		val |= uint32(gicdICFGRTrigLvl) << shift
	}
	g.write32(g.distBase, off, val)
}

/// SetIRQTrigger sets edge/level sensitivity for an SPI/PPI; irq must
/// not name an SGI (0..15).
func (g *GICv2) SetIRQTrigger(irq uint32, t Trigger) defs.Err_t {
	if irq >= MaxIRQ {
		return -defs.EINVAL
	}
	if irq <= gicSGIMax {
		return -defs.EINVAL
	}
	g.distLock.Lock()
	g.setTriggerLocked(irq, t)
	g.distLock.Unlock()
	return 0
}

/// SetIRQPriority writes GICD_IPRIORITYR for irq; lower value is
/// higher priority, and hardware may ignore low-order bits.
func (g *GICv2) SetIRQPriority(irq uint32, prio uint8) defs.Err_t {
	if irq >= MaxIRQ {
		return -defs.EINVAL
	}
	g.distLock.Lock()
	g.write8(g.distBase, gicdIPRIORITYRn+irq, prio)
	g.distLock.Unlock()
	return 0
}

/// SetIRQAffinity writes GICD_ITARGETSR with an 8-bit CPU target-list
/// bitmask.
func (g *GICv2) SetIRQAffinity(irq uint32, affinity uint32) defs.Err_t {
	if irq >= MaxIRQ {
		return -defs.EINVAL
	}
	g.distLock.Lock()
	g.write8(g.distBase, gicdITARGETSRn+irq, uint8(affinity))
	g.distLock.Unlock()
	return 0
}

/// SGIGen writes GICD_SGIR to raise sgiID on the CPUs named by target.
/// The distributor lock serializes SGIR writes.
func (g *GICv2) SGIGen(sgiID uint32, target SGITarget) {
	var val uint32
	switch {
	case target.Self:
		val = (2 << gicIAROrSGIRShift) | sgiID // TargetListFilter = current CPU only
	case target.AllOthers:
		val = (1 << gicIAROrSGIRShift) | sgiID // TargetListFilter = all but self
	default:
		var mask uint32
		for _, cpu := range target.CPUList {
			mask |= 1 << cpu
		}
		val = (mask << 16) | sgiID
	}
	g.distLock.Lock()
	g.write32(g.distBase, gicdSGIR, val)
	g.distLock.Unlock()
}

/// RegisterHandler installs the handler invoked by HandleIRQ for id.
func (g *GICv2) RegisterHandler(id uint32, h HandlerFunc) defs.Err_t {
	return g.handlers.register(id, h)
}

/// HandleIRQ drains pending IRQs per spec.md §4.F's ack/dispatch/EOI loop.
func (g *GICv2) HandleIRQ() {
	handleIRQLoop(MaxIRQ, g.AckIRQ, func(stat uint32) uint32 { return stat & 0x3ff }, g.EOIIRQ, &g.handlers)
}
