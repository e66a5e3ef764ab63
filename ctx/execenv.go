package ctx

// Entry-point and exception-trampoline stack-image construction,
// grounded on original_source/include/uk/arch/ctx.h and arch/arm/ctx.c
// (ctx_init_entryN / ctx_init_ehtrampoN / _call0.._call6 / _clearregs).
//
// The word sequences built here are introspectable stand-ins for the
// bytes a real assembler-backed trampoline would push: useful for
// testing the construction rules (argument order, keep_regs handling,
// ExecEnv field layout) independent of the goroutine-driven hosted
// resumption in ctx.go.

const maxEntryArgs = 6

// sentinel IP values identifying which trampoline a real target would
// resume into; there is no backing machine code for these under go test.
const (
	markerClearRegs uintptr = 0xc1ea2000
	markerCallBase  uintptr = 0xca110000
)

func callMarker(argc int) uintptr { return markerCallBase + uintptr(argc) }

/// EntryImage is the constructed stack image for ctx_init_entryN: the
/// words are listed in push order (Words[0] was pushed first and
/// therefore ends up at the highest address; the last word is what SP
/// ends up pointing at).
type EntryImage struct {
	Words []uint64
	IP    uintptr
}

func buildEntryImage(entry uintptr, args []uint64, keepRegs bool) EntryImage {
	argc := len(args)
	call := callMarker(argc)

	words := make([]uint64, 0, argc+3)
	words = append(words, uint64(entry))
	for i := argc - 1; i >= 0; i-- {
		words = append(words, args[i])
	}
	words = append(words, uint64(call))

	ip := call
	if !keepRegs {
		words = append(words, uint64(call))
		ip = markerClearRegs
	}
	return EntryImage{Words: words, IP: ip}
}

// buildEntryContext lays out the stack image for a stack whose top
// (highest address, first free byte) is stackTop, and returns the
// resulting Context plus the image for introspection.
func buildEntryContext(stackTop uintptr, entry uintptr, args []uint64, keepRegs bool, fn func()) (*Context, EntryImage) {
	img := buildEntryImage(entry, args, keepRegs)
	sp := stackTop - uintptr(8*len(img.Words))
	c := &Context{SP: sp, IP: img.IP}
	c.ensureResumeChan()
	c.SetEntryFunc(fn)
	return c, img
}

/// InitEntry0 arranges for entry() to run when the returned context is
/// first switched to. entryAddr is the architecturally-faithful
/// function address used only for stack-image construction; fn is the
/// callable this hosted implementation actually resumes.
func InitEntry0(stackTop uintptr, entryAddr uintptr, keepRegs bool, fn func()) (*Context, EntryImage) {
	return buildEntryContext(stackTop, entryAddr, nil, keepRegs, fn)
}

func InitEntry1(stackTop, entryAddr uintptr, keepRegs bool, a0 uint64, fn func()) (*Context, EntryImage) {
	return buildEntryContext(stackTop, entryAddr, []uint64{a0}, keepRegs, fn)
}

func InitEntry2(stackTop, entryAddr uintptr, keepRegs bool, a0, a1 uint64, fn func()) (*Context, EntryImage) {
	return buildEntryContext(stackTop, entryAddr, []uint64{a0, a1}, keepRegs, fn)
}

func InitEntry3(stackTop, entryAddr uintptr, keepRegs bool, a0, a1, a2 uint64, fn func()) (*Context, EntryImage) {
	return buildEntryContext(stackTop, entryAddr, []uint64{a0, a1, a2}, keepRegs, fn)
}

func InitEntry4(stackTop, entryAddr uintptr, keepRegs bool, a0, a1, a2, a3 uint64, fn func()) (*Context, EntryImage) {
	return buildEntryContext(stackTop, entryAddr, []uint64{a0, a1, a2, a3}, keepRegs, fn)
}

func InitEntry5(stackTop, entryAddr uintptr, keepRegs bool, a0, a1, a2, a3, a4 uint64, fn func()) (*Context, EntryImage) {
	return buildEntryContext(stackTop, entryAddr, []uint64{a0, a1, a2, a3, a4}, keepRegs, fn)
}

func InitEntry6(stackTop, entryAddr uintptr, keepRegs bool, a0, a1, a2, a3, a4, a5 uint64, fn func()) (*Context, EntryImage) {
	return buildEntryContext(stackTop, entryAddr, []uint64{a0, a1, a2, a3, a4, a5}, keepRegs, fn)
}

/// GeneralRegs is the general-purpose register snapshot carried by an
/// ExecEnv. Field names follow amd64; an arm64 target's real
/// assembly-level layout differs but is not re-derived here since
/// nothing in this hosted core reads it with raw machine code.
type GeneralRegs struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	BP, DI, SI, DX, CX, BX, AX           uint64
	TrapNo, ErrorCode                    uint64
	IP, CS, Flags, SP, SS                uint64
}

/// SysCtx is the system-context slice of an ExecEnv: TLS pointer and
/// any other per-thread system register state.
type SysCtx struct {
	TLSPtr uint64
}

/// ExecEnv is the stack-embedded execution-environment block an
/// exception trampoline builds: general registers, system context,
/// then extended (FPU/SIMD) context, with no padding added;
/// InitEhTrampoline aligns the stack pointer down to Align().
type ExecEnv struct {
	Regs GeneralRegs
	Sys  SysCtx
	Ext  Ectx
}

/// InitEhTrampoline arranges for entry(ee, args...) to run on the
/// given stack with a fully populated ExecEnv visible to entry, using
/// regsSnapshot as the initial register values copied into ee.Regs.
func InitEhTrampoline(stackTop uintptr, regsSnapshot GeneralRegs, entryAddr uintptr, args []uint64, fn func(ee *ExecEnv)) (*Context, *ExecEnv, EntryImage) {
	ee := &ExecEnv{Regs: regsSnapshot}
	ee.Ext.Sanitize()

	img := buildEntryImage(entryAddr, args, true)
	sp := stackTop - uintptr(8*len(img.Words)) - Size()
	sp = alignDown(sp, Align())

	c := &Context{SP: sp, IP: img.IP}
	c.ensureResumeChan()
	c.SetEntryFunc(func() { fn(ee) })
	return c, ee, img
}

func alignDown(v uintptr, align uintptr) uintptr {
	return v &^ (align - 1)
}
