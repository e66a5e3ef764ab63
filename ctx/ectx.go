package ctx

// Extended (FPU/SIMD) context save/restore, grounded on
// original_source/include/uk/arch/ctx.h's ectx_* family. A bare-metal
// target backs this with FXSAVE/XSAVE (amd64) or VFP/SVE state saves
// (arm64); here it is a fixed-size opaque buffer with the same
// alignment contract, since no real vector unit exists to save from
// under go test.

const (
	/// ectxSize is sized generously for the union of FXSAVE (512B) and
	/// a modest XSAVE area; the size is fixed and is not narrowed to
	/// a probed size.
	ectxSize  = 1024
	ectxAlign = 64
)

/// Ectx is an extended-context save area. The zero value is not valid
/// for Store/Load; call Sanitize or Init first.
type Ectx struct {
	buf [ectxSize]byte
}

/// Size returns the extended-context area size in bytes.
func Size() uintptr { return ectxSize }

/// Align returns the required alignment of an extended-context area.
func Align() uintptr { return ectxAlign }

/// Sanitize resets an Ectx to a known-good, loadable state (the
/// equivalent of an FPU/SIMD unit's power-on state).
func (e *Ectx) Sanitize() {
	for i := range e.buf {
		e.buf[i] = 0
	}
}

/// Init is an alias of Sanitize kept for symmetry with the other
/// module constructors in this core.
func (e *Ectx) Init() { e.Sanitize() }

/// Store captures the extended-context state into e. In this hosted
/// core there is no real vector unit, so Store is a no-op and leaves
/// e unchanged.
func (e *Ectx) Store() {}

/// Load restores the extended-context state from e onto the
/// (simulated) execution unit.
func (e *Ectx) Load() {}

/// Bytes exposes the raw extended-context buffer, e.g. for a
/// diag snapshot.
func (e *Ectx) Bytes() []byte { return e.buf[:] }
