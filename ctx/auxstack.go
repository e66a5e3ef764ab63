package ctx

import "sync/atomic"

// AuxStack is the per-CPU auxiliary-stack control block living at the
// high end of each auxiliary stack: (curr_fp, sysctx), per
// spec.md's "Execution context" data model. It is used by exception
// and IPI handlers that must run on a dedicated stack rather than
// whatever context happened to be interrupted.
type AuxStack struct {
	base uintptr
	size uintptr

	currFP atomic.Uintptr
	uktlsp atomic.Uintptr
}

/// Init records the auxiliary stack's [base, base+size) extent and
/// resets its control-block fields.
func (a *AuxStack) Init(base, size uintptr) {
	a.base = base
	a.size = size
	a.currFP.Store(base + size)
	a.uktlsp.Store(0)
}

/// Top returns the initial stack-pointer value for this auxiliary stack.
func (a *AuxStack) Top() uintptr { return a.base + a.size }

/// CurrFP returns the saved frame pointer of whatever was last
/// interrupted onto this auxiliary stack, or Top() if none.
func (a *AuxStack) CurrFP() uintptr { return a.currFP.Load() }

/// SetCurrFP updates the saved frame pointer.
func (a *AuxStack) SetCurrFP(fp uintptr) { a.currFP.Store(fp) }

/// UkTLSP returns the system-context (TLS pointer) slot.
func (a *AuxStack) UkTLSP() uintptr { return a.uktlsp.Load() }

/// SetUkTLSP updates the system-context (TLS pointer) slot.
func (a *AuxStack) SetUkTLSP(p uintptr) { a.uktlsp.Store(p) }
