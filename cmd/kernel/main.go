// Command kernel is the core's top-level entry point glue: it decodes
// the boot hand-off block, donates free memory to the frame
// allocator, brings up paging, starts the LCPU module, and probes the
// interrupt controller, in the order spec.md §2's data-flow diagram
// describes (boot -> mem -> mem/pmm -> vmm -> lcpu -> intc). Grounded
// on gopher-os/kernel/kmain/kmain.go's single non-returning Kmain
// shape (init steps chained, first error wins) and the teacher's own
// top-level glue package, biscuit/src/kernel/chentry.go.
package main

import (
	"os"

	"ukcore/boot"
	"ukcore/defs"
	"ukcore/intc"
	"ukcore/klog"
	"ukcore/lcpu"
	"ukcore/mem"
	"ukcore/mem/pmm"
	"ukcore/vmm"
)

/// Config carries the platform-specific values a boot shim derives
/// from firmware discovery, alongside the raw decoded boot.Info: this
/// core's own LCPU id assignment, the paging core's arch backend, the
/// physical range reserved for the page table's own bootstrap pool
/// (distinct from the general frame allocator's donated ranges, since
/// vmm.PageTable.Init carves its root and internal tables from a pool
/// of its own), and the GIC discovery record.
type Config struct {
	Info *boot.Info

	BSPID int
	APIDs []int

	Arch vmm.Arch

	PTPoolBase uint64
	PTPoolSize uint64

	GIC intc.Discovery
}

/// Kmain sequences the core's startup. It does not return: a
/// successful boot leaves the BSP parked in lcpu's idle loop; any
/// Init-time failure halts the BSP with the failing operation's error
/// code via lcpu.Record.Halt, matching spec.md §7's "boot failure
/// halts all CPUs with their error codes" policy.
//
//go:noinline
func Kmain(cfg Config) {
	klog.Printf("starting core boot (hypervisor=%v)\n", cfg.Info.HypervisorKind)

	tbl := lcpu.NewTable()
	bsp, err := tbl.InitBSP(cfg.BSPID)
	if err != 0 {
		fatalBoot(nil, err)
	}

	regions := cfg.Info.Regions
	if err := regions.Coalesce(); err != 0 {
		fatalBoot(bsp, err)
	}

	alloc := &pmm.Allocator{}
	donated := donateFreeRegions(alloc, regions)
	klog.Printf("frame allocator: %d region(s) donated, %d page(s) free\n", donated, alloc.FreeFrames())

	var pt vmm.PageTable
	if err := pt.Init(cfg.Arch, cfg.PTPoolBase, cfg.PTPoolSize, int64(cfg.PTPoolBase)); err != 0 {
		fatalBoot(bsp, err)
	}
	pt.SetActive()

	if len(cfg.APIDs) > 0 {
		entries := make([]func(), len(cfg.APIDs))
		for _, id := range cfg.APIDs {
			tbl.Alloc(id)
		}
		if _, err := tbl.Start(cfg.APIDs, entries); err != 0 {
			klog.Printf("lcpu.Start reported a partial failure starting secondaries: %v\n", err)
		}
	}

	ctrl, err := intc.Probe(cfg.GIC)
	if err != 0 {
		klog.Printf("interrupt controller probe failed: %v\n", err)
	} else if err := ctrl.Initialize(true); err != 0 {
		klog.Printf("interrupt controller init failed: %v\n", err)
	}

	klog.Printf("core boot complete, BSP %d idling\n", cfg.BSPID)
	select {}
}

// donateFreeRegions hands every FREE-typed region in regions to alloc,
// returning the number of regions successfully donated. A region that
// fails to donate (too small to hold its own metadata, or
// misaligned) is logged and skipped rather than treated as fatal,
// matching spec.md §7's "errors in bulk operations leave partial
// progress visible" policy.
func donateFreeRegions(alloc *pmm.Allocator, regions *mem.List) int {
	donated := 0
	regions.Foreach(int(defs.RegionFree), 0, 0, func(r mem.Region) bool {
		pages := r.Len / mem.PageSize
		if pages == 0 {
			return true
		}
		if err := alloc.AddMem(pmm.Pa(r.Pbase), pages, int64(r.Vbase)-int64(r.Pbase)); err != 0 {
			klog.Printf("pmm.AddMem skipped region %+v: %v\n", r, err)
			return true
		}
		donated++
		return true
	})
	return donated
}

// fatalBoot records a boot-time failure. bsp is nil only when InitBSP
// itself failed (there is no record to halt yet); otherwise the BSP's
// own record carries the error code per spec.md §6's "exit codes"
// hand-off.
func fatalBoot(bsp *lcpu.Record, err defs.Err_t) {
	klog.Printf("fatal boot error: %v\n", err)
	if bsp != nil {
		bsp.Halt(err)
	}
	os.Exit(int(-err))
}

func main() {
	klog.Printf("ukcore: no platform boot shim wired into this build; nothing to do\n")
}
