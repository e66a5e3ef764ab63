// Package diag wires the core's fatal-path diagnostics into the
// third-party stack the teacher repo already depends on, generalizing
// the teacher's own instrumentation style (biscuit/src/caller/caller.go's
// Callerdump, biscuit/src/stats/stats.go's conditional counters) to
// use real profiling and disassembly libraries instead of hand-rolled
// dumps. FrameProfile turns the frame allocator's live-allocation set
// into a pprof-consumable heap profile; DisassembleFault decodes the
// faulting instruction for a fatal-halt dump.
package diag

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/pprof/profile"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"ukcore/mem/pmm"
)

/// FrameProfile builds a pprof profile.Profile with one sample per
/// outstanding allocation in records, so an operator can load a
/// fatal-halt's outstanding frame set with `go tool pprof` instead of
/// reading a flat text dump. Each distinct caller string becomes one
/// Location/Function pair; Value carries [1 allocation, pages*pageSize
/// bytes].
func FrameProfile(records []pmm.AllocRecord, pageSize uint64) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "allocations", Unit: "count"},
			{Type: "space", Unit: "bytes"},
		},
		TimeNanos: 1, // Date.now()-equivalent is unavailable at build time; the boot shim restamps this before writing the profile out.
	}

	locByCaller := make(map[string]*profile.Location)
	var nextID uint64 = 1

	locFor := func(caller string) *profile.Location {
		if loc, ok := locByCaller[caller]; ok {
			return loc
		}
		name, file, line := splitCaller(caller)
		fn := &profile.Function{
			ID:         nextID,
			Name:       name,
			SystemName: name,
			Filename:   file,
		}
		nextID++
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn, Line: int64(line)}},
		}
		nextID++
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		locByCaller[caller] = loc
		return loc
	}

	for _, rec := range records {
		loc := locFor(rec.Caller)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1, int64(rec.Pages * pageSize)},
		})
	}
	return p
}

// splitCaller unpacks the "funcName file:line" string
// pmm.Allocator.recordAlloc produces via runtime.Caller, tolerating a
// bare "unknown" with no file/line.
func splitCaller(caller string) (name, file string, line int) {
	fields := strings.SplitN(caller, " ", 2)
	name = fields[0]
	if len(fields) < 2 {
		return name, "", 0
	}
	fileLine := fields[1]
	idx := strings.LastIndexByte(fileLine, ':')
	if idx < 0 {
		return name, fileLine, 0
	}
	file = fileLine[:idx]
	fmt.Sscanf(fileLine[idx+1:], "%d", &line)
	return name, file, line
}

/// WriteProfile serializes p in pprof's gzip-compressed protobuf
/// format, stamping its Time field (TimeNanos) from at, a value the
/// caller knows but this package cannot compute itself. Duration is
/// left as p already has it.
func WriteProfile(w io.Writer, p *profile.Profile, at time.Time) error {
	p.TimeNanos = at.UnixNano()
	return p.Write(w)
}

/// Arch selects the instruction-set decoder DisassembleFault uses.
type Arch int

const (
	ArchAMD64 Arch = iota
	ArchARM64
)

/// DisassembleFault decodes the single instruction at code[0:] —
/// which the caller has already sliced out of the direct map starting
/// at the faulting ip — and renders it in the target's native
/// assembly syntax for a fatal-halt dump.
func DisassembleFault(arch Arch, code []byte, ip uint64) (string, error) {
	switch arch {
	case ArchAMD64:
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%#x: %s", ip, x86asm.GNUSyntax(inst, ip, nil)), nil
	case ArchARM64:
		inst, err := arm64asm.Decode(code)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%#x: %s", ip, arm64asm.GNUSyntax(inst)), nil
	default:
		return "", fmt.Errorf("diag: unknown architecture %d", arch)
	}
}

/// FormatBytes renders n with locale-correct thousands grouping, for
/// use in diagnostic dumps that print frame counts or byte sizes
/// (e.g. alongside a FrameProfile summary line).
func FormatBytes(n int64) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%d bytes", n)
}
