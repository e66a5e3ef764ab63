// Package arm64 implements vmm.Arch for AArch64's 4-level, 9-bit,
// 4KB-granule translation tables, with block descriptors at levels 1
// and 2 standing in for x86-64's large/huge pages.
package arm64

import (
	"ukcore/defs"
	"ukcore/vmm"
)

// Descriptor bits, encoded analogously to the ARM architecture
// reference rather than bit-for-bit (attribute index / shareability /
// access-permission fields are collapsed into the same Attr-driven
// scheme used on amd64, since this core does not model a full MAIR
// table).
const (
	descValid = 1 << 0
	descTable = 1 << 1 // 1 at levels 2-4 means "points at a subordinate table", 0 at levels 2-3 marks a block; always 1 at level 1 (base page)
	descAF    = 1 << 10 // access flag, always set so a real MMU never takes an access fault
	descAPRO  = 1 << 7  // AP[2]: 1 = read-only
	descUXN   = 1 << 54
	descPXN   = 1 << 53
	addrMask  = 0x0000_ffff_ffff_f000
)

/// Arch is the AArch64 translation-table backend.
type Arch struct{}

func (Arch) Levels() int { return 4 }

func (Arch) LeafCapable(level int) bool {
	switch level {
	case 1, 2, 3:
		return true
	default:
		return false
	}
}

func (Arch) Present(pte vmm.PTE) bool {
	return uint64(pte)&descValid != 0
}

func (Arch) Encode(paddr uint64, attr defs.Attr, level int, leaf bool) vmm.PTE {
	v := paddr & addrMask
	v |= descValid
	v |= descAF
	if attr&defs.AttrWrite == 0 {
		v |= descAPRO
	}
	if attr&defs.AttrExec == 0 {
		v |= descUXN | descPXN
	}
	if leaf && level > 1 {
		// block descriptor: bit 1 clear distinguishes a block from a
		// table at levels 2-3.
		v &^= descTable
	} else if !leaf {
		v |= descTable
	} else {
		// level 1 (base page) leaf descriptors always carry bit 1 set.
		v |= descTable
	}
	return vmm.PTE(v)
}

func (Arch) Decode(pte vmm.PTE, level int) (paddr uint64, attr defs.Attr, leaf bool) {
	v := uint64(pte)
	paddr = v & addrMask
	attr |= defs.AttrRead
	if v&descAPRO == 0 {
		attr |= defs.AttrWrite
	}
	if v&(descUXN|descPXN) == 0 {
		attr |= defs.AttrExec
	}
	if level == 1 {
		leaf = true
	} else {
		leaf = v&descTable == 0
	}
	return paddr, attr, leaf
}

func (Arch) Invalidate(vaddr uint64) {
	tlbiFunc(vaddr)
}

// tlbiFunc is the TLBI+DSB+ISB hook; a bare-metal boot target
// overrides it with the real instruction sequence.
var tlbiFunc = func(vaddr uint64) {}

// SetInvalidateHook lets a platform init routine install the real
// TLBI trampoline.
func SetInvalidateHook(fn func(vaddr uint64)) {
	tlbiFunc = fn
}
