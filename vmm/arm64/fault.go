package arm64

import (
	"ukcore/diag"
	"ukcore/lcpu"
)

/// CaptureFault builds the FaultContext a synchronous-exception
/// handler passes to lcpu.Record.HaltFault: this package's
/// architecture tag plus the faulting instruction bytes the caller
/// has already sliced out of the direct map at ip (a real handler
/// reads ELR_EL1/FAR_EL1 to find them).
func CaptureFault(ip uint64, code []byte) lcpu.FaultContext {
	return lcpu.FaultContext{Arch: diag.ArchARM64, Code: code, IP: ip, HaveCode: len(code) > 0}
}
