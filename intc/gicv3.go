package intc

import (
	"sync"

	"ukcore/defs"
)

// GICv3 distributor (GICD) and redistributor (GICR) register offsets,
// grounded on original_source/plat/drivers/gic/gic-v3.c. The CPU
// interface itself is accessed through system registers
// (ICC_IAR1_EL1, ICC_EOIR1_EL1, ...) rather than MMIO on real
// hardware; those reads/writes are behind swappable function-variable
// hooks in gicv3_sysreg.go, the same pattern vmm/amd64's invlpg hook
// uses for an instruction this core cannot safely hand-assemble.
const (
	gicrWAKER       = 0x014
	gicrISENABLERn  = 0x100
	gicrICENABLERn  = 0x180
	gicrIPRIORITYRn = 0x400
	gicrICFGRn      = 0xc00

	gicdIROUTERn = 0x6100

	gicrWakerProcessorSleep = 1 << 1
	gicrWakerChildrenAsleep = 1 << 2

	gicdCTLRARENSBit  = 1 << 4
	gicdCTLRGrp1NSBit = 1 << 1
)

/// GICv3 implements Controller for a GICv3 distributor + per-CPU
/// redistributor pair, addressed system-register-style for the CPU
/// interface.
type GICv3 struct {
	regs
	distBase    uint64
	redistBases []uint64 // indexed by LCPU id

	distLock sync.Mutex
	handlers handlerTable

	distInit bool
}

func newGICv3(d Discovery) *GICv3 {
	return &GICv3{
		regs:        regs{dmOff: d.DMOff},
		distBase:    d.DistBase,
		redistBases: d.RedistBases,
	}
}

func (g *GICv3) redistBase(cpu uint32) uint64 {
	if int(cpu) >= len(g.redistBases) {
		return g.redistBases[0]
	}
	return g.redistBases[cpu]
}

/// Initialize programs the distributor (with group-1 non-secure and
/// affinity routing enabled) on the first call, then wakes and
/// configures the calling CPU's redistributor and CPU interface on
/// every call.
func (g *GICv3) Initialize(bsp bool) defs.Err_t {
	if bsp {
		g.distLock.Lock()
		if !g.distInit {
			g.write32(g.distBase, gicdCTLR, 0)
			g.write32(g.distBase, gicdCTLR, gicdCTLRARENSBit)

			numIRQs := int(32 * ((g.read32(g.distBase, gicdTYPER) & 0x1f) + 1))
			for irq := gicSPIBase; irq < numIRQs; irq++ {
				g.write8(g.distBase, gicdIPRIORITYRn+uint32(irq), gicdIPriorityDef)
				g.setTriggerLocked(uint32(irq), Level)
				g.clearEnableLocked(uint32(irq))
			}
			g.write32(g.distBase, gicdCTLR, gicdCTLRARENSBit|gicdCTLRGrp1NSBit)
			g.distInit = true
		}
		g.distLock.Unlock()
	}

	cpu := g.currentCPU()
	rd := g.redistBase(cpu)
	waker := g.read32(rd, gicrWAKER)
	g.write32(rd, gicrWAKER, waker&^gicrWakerProcessorSleep)
	for g.read32(rd, gicrWAKER)&gicrWakerChildrenAsleep != 0 {
	}

	g.setPriorityMaskSysreg(0xff)
	g.setEOIModeSysreg(true)
	g.setGroupEnableSysreg(true)
	return 0
}

/// AckIRQ reads ICC_IAR1_EL1.
func (g *GICv3) AckIRQ() uint32 {
	return g.readIAR1Sysreg()
}

/// EOIIRQ performs the GICv3 drop-then-deactivate sequence: a write to
/// ICC_EOIR1_EL1 (priority drop) followed by ICC_DIR1_EL1
/// (deactivate), matching the "drop then deactivate" EOI mode set at
/// Initialize time.
func (g *GICv3) EOIIRQ(stat uint32) {
	g.writeEOIR1Sysreg(stat)
	g.writeDIR1Sysreg(stat)
}

func (g *GICv3) clearEnableLocked(irq uint32) {
	if irq < gicSPIBase {
		cpu := g.currentCPU()
		g.write32(g.redistBase(cpu), gicrICENABLERn, 1<<irq)
		return
	}
	g.write32(g.distBase, gicdICENABLERn+4*(irq/32), 1<<(irq%32))
}

/// EnableIRQ sets the enable bit for irq: in the redistributor for
/// PPIs/SGIs (irq < 32), in the distributor for SPIs.
func (g *GICv3) EnableIRQ(irq uint32) defs.Err_t {
	if irq >= MaxIRQ {
		return -defs.EINVAL
	}
	if irq < gicSPIBase {
		cpu := g.currentCPU()
		g.write32(g.redistBase(cpu), gicrISENABLERn, 1<<irq)
		return 0
	}
	g.distLock.Lock()
	g.write32(g.distBase, gicdISENABLERn+4*(irq/32), 1<<(irq%32))
	g.distLock.Unlock()
	return 0
}

/// DisableIRQ clears the enable bit for irq.
func (g *GICv3) DisableIRQ(irq uint32) defs.Err_t {
	if irq >= MaxIRQ {
		return -defs.EINVAL
	}
	if irq < gicSPIBase {
		g.clearEnableLocked(irq)
		return 0
	}
	g.distLock.Lock()
	g.clearEnableLocked(irq)
	g.distLock.Unlock()
	return 0
}

func (g *GICv3) setTriggerLocked(irq uint32, t Trigger) {
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

/// SetIRQTrigger sets edge/level sensitivity; irq must not name an SGI.
func (g *GICv3) SetIRQTrigger(irq uint32, t Trigger) defs.Err_t {
	if irq >= MaxIRQ || irq <= gicSGIMax {
		return -defs.EINVAL
	}
	g.distLock.Lock()
	g.setTriggerLocked(irq, t)
	g.distLock.Unlock()
	return 0
}

/// SetIRQPriority writes the IPRIORITYR byte for irq.
func (g *GICv3) SetIRQPriority(irq uint32, prio uint8) defs.Err_t {
	if irq >= MaxIRQ {
		return -defs.EINVAL
	}
	if irq < gicSPIBase {
		cpu := g.currentCPU()
		g.write8(g.redistBase(cpu), gicrIPRIORITYRn+irq, prio)
		return 0
	}
	g.distLock.Lock()
	g.write8(g.distBase, gicdIPRIORITYRn+irq, prio)
	g.distLock.Unlock()
	return 0
}

/// SetIRQAffinity writes GICD_IROUTER with a 32-bit affinity
/// (Aff3|Aff2|Aff1|Aff0) for an SPI. PPIs/SGIs are not routable; this
/// is a no-op for irq < 32.
func (g *GICv3) SetIRQAffinity(irq uint32, affinity uint32) defs.Err_t {
	if irq >= MaxIRQ {
		return -defs.EINVAL
	}
	if irq < gicSPIBase {
		return 0
	}
	g.distLock.Lock()
	g.write32(g.distBase, gicdIROUTERn+8*irq, affinity)
	g.distLock.Unlock()
	return 0
}

/// SGIGen raises sgiID on the CPUs named by target via ICC_SGI1R_EL1.
func (g *GICv3) SGIGen(sgiID uint32, target SGITarget) {
	g.distLock.Lock()
	g.writeSGI1RSysreg(sgiID, target)
	g.distLock.Unlock()
}

/// RegisterHandler installs the handler invoked by HandleIRQ for id.
func (g *GICv3) RegisterHandler(id uint32, h HandlerFunc) defs.Err_t {
	return g.handlers.register(id, h)
}

/// HandleIRQ drains pending IRQs per spec.md §4.F's ack/dispatch/EOI loop.
func (g *GICv3) HandleIRQ() {
	handleIRQLoop(MaxIRQ, g.AckIRQ, func(stat uint32) uint32 { return stat & 0xffffff }, g.EOIIRQ, &g.handlers)
}
