// Package amd64 implements vmm.Arch for x86-64's 4-level, 9-bit,
// 4KB-granule page tables (PML4/PDPT/PD/PT), including 2MB (PD) and
// 1GB (PDPT) large-page leaves.
package amd64

import (
	"ukcore/defs"
	"ukcore/vmm"
)

const (
	pteP    = 1 << 0 // present
	pteW    = 1 << 1 // writable
	pteU    = 1 << 2 // user-accessible (unused: no user/kernel split in this core)
	ptePWT  = 1 << 3 // write-through
	ptePCD  = 1 << 4 // cache-disable
	ptePS   = 1 << 7 // page size (1 at PD/PDPT level marks a large/huge leaf)
	pteNX   = 1 << 63
	addrMask = 0x000f_ffff_ffff_f000
)

/// Arch is the x86-64 long-mode paging backend.
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
	return uint64(pte)&pteP != 0
}

func (Arch) Encode(paddr uint64, attr defs.Attr, level int, leaf bool) vmm.PTE {
	v := paddr & addrMask
	v |= pteP
	if attr&defs.AttrWrite != 0 {
		v |= pteW
	}
	if attr&defs.AttrExec == 0 {
		v |= pteNX
	}
	if attr&defs.AttrWriteCombine != 0 {
		v |= ptePWT | ptePCD
	}
	if leaf && level > 1 {
		v |= ptePS
	}
	return vmm.PTE(v)
}

func (Arch) Decode(pte vmm.PTE, level int) (paddr uint64, attr defs.Attr, leaf bool) {
	v := uint64(pte)
	paddr = v & addrMask
	if v&pteW != 0 {
		attr |= defs.AttrWrite
	}
	attr |= defs.AttrRead
	if v&pteNX == 0 {
		attr |= defs.AttrExec
	}
	if v&(ptePWT|ptePCD) != 0 {
		attr |= defs.AttrWriteCombine
	}
	leaf = level == 1 || v&ptePS != 0
	return paddr, attr, leaf
}

func (Arch) Invalidate(vaddr uint64) {
	invlpg(vaddr)
}
