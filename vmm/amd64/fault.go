package amd64

import (
	"ukcore/diag"
	"ukcore/lcpu"
)

/// CaptureFault builds the FaultContext a page-fault handler passes to
/// lcpu.Record.HaltFault: this package's architecture tag plus the
/// faulting instruction bytes the caller has already sliced out of
/// the direct map at ip. A real handler reads CR2/the exception frame
/// to find ip and code; this core has no such handler yet (no ISR
/// wiring exists until cmd/kernel installs one), so this is the
/// documented hand-off point for when it does.
func CaptureFault(ip uint64, code []byte) lcpu.FaultContext {
	return lcpu.FaultContext{Arch: diag.ArchAMD64, Code: code, IP: ip, HaveCode: len(code) > 0}
}
