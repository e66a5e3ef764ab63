package intc

// GICv3's CPU interface (ICC_* registers) is accessed through system
// registers (MSR/MRS on arm64), not MMIO, so it cannot be modeled with
// the regs.read32/write32 helpers the distributor and redistributor
// use. As with vmm/amd64's invlpg hook, hand-assembling the real
// instruction sequence is not something this core can verify compiles
// without running the toolchain, so the sysreg accesses are swappable
// function-variable hooks that a real arm64 target installs at boot.
// The defaults here are enough to keep HandleIRQ's drain loop
// well-defined under go test: AckIRQ always observes SpuriousIRQ.

var (
	readIAR1Func   = func() uint32 { return SpuriousIRQ }
	writeEOIR1Func = func(stat uint32) {}
	writeDIR1Func  = func(stat uint32) {}
	setPriMaskFunc = func(mask uint8) {}
	setEOIModeFunc = func(dropThenDeactivate bool) {}
	setGroupEnFunc = func(enabled bool) {}
	writeSGI1RFunc = func(sgiID uint32, target SGITarget) {}
	currentCPUFunc = func() uint32 { return 0 }
)

func (g *GICv3) readIAR1Sysreg() uint32                  { return readIAR1Func() }
func (g *GICv3) writeEOIR1Sysreg(stat uint32)            { writeEOIR1Func(stat) }
func (g *GICv3) writeDIR1Sysreg(stat uint32)             { writeDIR1Func(stat) }
func (g *GICv3) setPriorityMaskSysreg(mask uint8)        { setPriMaskFunc(mask) }
func (g *GICv3) setEOIModeSysreg(dropThenDeact bool)     { setEOIModeFunc(dropThenDeact) }
func (g *GICv3) setGroupEnableSysreg(enabled bool)       { setGroupEnFunc(enabled) }
func (g *GICv3) writeSGI1RSysreg(id uint32, t SGITarget) { writeSGI1RFunc(id, t) }
func (g *GICv3) currentCPU() uint32                      { return currentCPUFunc() }

/// SetSysregHooks installs the system-register access functions a
/// real arm64 boot target provides for the GICv3 CPU interface and
/// for reporting the executing CPU's LCPU id (MPIDR_EL1-derived).
func SetSysregHooks(readIAR1 func() uint32, writeEOIR1, writeDIR1 func(uint32), setPriMask func(uint8), setEOIMode, setGroupEn func(bool), writeSGI1R func(uint32, SGITarget), currentCPU func() uint32) {
	if readIAR1 != nil {
		readIAR1Func = readIAR1
	}
	if writeEOIR1 != nil {
		writeEOIR1Func = writeEOIR1
	}
	if writeDIR1 != nil {
		writeDIR1Func = writeDIR1
	}
	if setPriMask != nil {
		setPriMaskFunc = setPriMask
	}
	if setEOIMode != nil {
		setEOIModeFunc = setEOIMode
	}
	if setGroupEn != nil {
		setGroupEnFunc = setGroupEn
	}
	if writeSGI1R != nil {
		writeSGI1RFunc = writeSGI1R
	}
	if currentCPU != nil {
		currentCPUFunc = currentCPU
	}
}
