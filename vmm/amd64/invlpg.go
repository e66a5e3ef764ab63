package amd64

// invlpgFunc is the TLB single-page invalidation hook. A bare-metal
// boot target overrides it with the actual INVLPG instruction; the
// hosted test harness leaves it a no-op since there is no real TLB to
// flush.
var invlpgFunc = func(vaddr uint64) {}

func invlpg(vaddr uint64) {
	invlpgFunc(vaddr)
}

// SetInvalidateHook lets a platform init routine install the real
// INVLPG trampoline.
func SetInvalidateHook(fn func(vaddr uint64)) {
	invlpgFunc = fn
}
