package boot

import (
	"testing"

	"ukcore/defs"
	"ukcore/mem"
)

func TestEncodeDecodeRegionsRoundTrip(t *testing.T) {
	src := mem.NewList(0)
	src.Insert(mem.Region{Pbase: 0x1000, Vbase: 0x1000, Len: 0x3000, Type: defs.RegionFree})
	src.Insert(mem.Region{Pbase: 0x4000, Vbase: 0x4000, Len: 0x1000, Type: defs.RegionKernel, Flags: defs.FlagRead | defs.FlagExec})

	raw := EncodeRegions(src)
	if len(raw)%wireRegionSize != 0 {
		t.Fatalf("unexpected wire size: %d", len(raw))
	}

	got, err := DecodeRegions(raw, 0)
	if err != 0 {
		t.Fatalf("DecodeRegions: %v", err)
	}
	if got.Len() != src.Len() {
		t.Fatalf("expected %d regions, got %d", src.Len(), got.Len())
	}
	for i := 0; i < src.Len(); i++ {
		if got.At(i) != src.At(i) {
			t.Fatalf("region %d mismatch: got %+v want %+v", i, got.At(i), src.At(i))
		}
	}
}

func TestDecodeRegionsRejectsTruncatedRecord(t *testing.T) {
	if _, err := DecodeRegions(make([]byte, wireRegionSize-1), 0); err != -defs.EINVAL {
		t.Fatalf("expected -EINVAL for truncated record, got %v", err)
	}
}

func TestDecodeRegionsRejectsOverCapacity(t *testing.T) {
	src := mem.NewList(0)
	src.Insert(mem.Region{Pbase: 0, Len: 0x1000, Type: defs.RegionFree})
	src.Insert(mem.Region{Pbase: 0x1000, Len: 0x1000, Type: defs.RegionFree})
	raw := EncodeRegions(src)

	if _, err := DecodeRegions(raw, 1); err != -defs.EINVAL {
		t.Fatalf("expected -EINVAL when region count exceeds capacity, got %v", err)
	}
}

func TestDecodeBuildsInfoWithCmdlineString(t *testing.T) {
	src := mem.NewList(0)
	src.Insert(mem.Region{Pbase: 0x1000, Vbase: 0x1000, Len: 0x3000, Type: defs.RegionFree})
	src.Insert(mem.Region{Pbase: 0x5000, Vbase: 0x5000, Len: 0x40, Type: defs.RegionCmdline})
	raw := EncodeRegions(src)

	info, err := Decode(0xdeadbeef, 0x7fff0000, raw, 0, 0x5000, 0x3f000000, 0x10000, Xen)
	if err != 0 {
		t.Fatalf("Decode: %v", err)
	}
	if info.FirmwareRoot != 0xdeadbeef || info.InitialSP != 0x7fff0000 {
		t.Fatal("unexpected scalar hand-off fields")
	}
	if info.ECAMBase != 0x3f000000 || info.ECAMSize != 0x10000 {
		t.Fatal("unexpected ECAM hand-off fields")
	}
	if info.HypervisorKind != Xen {
		t.Fatalf("expected Xen hand-off kind, got %v", info.HypervisorKind)
	}
	if info.CmdlineString == "" {
		t.Fatal("expected non-empty cmdline string when a CMDLINE region is present")
	}
}

func TestDecodeOmitsCmdlineStringWithoutRegion(t *testing.T) {
	src := mem.NewList(0)
	src.Insert(mem.Region{Pbase: 0x1000, Len: 0x1000, Type: defs.RegionFree})
	raw := EncodeRegions(src)

	info, err := Decode(0, 0, raw, 0, 0, 0, 0, BareMetal)
	if err != 0 {
		t.Fatalf("Decode: %v", err)
	}
	if info.CmdlineString != "" {
		t.Fatalf("expected empty cmdline string, got %q", info.CmdlineString)
	}
}

func TestHypervisorKindString(t *testing.T) {
	cases := map[HypervisorKind]string{BareMetal: "bare-metal", Xen: "xen", KVM: "kvm"}
	for k, want := range cases {
		if k.String() != want {
			t.Fatalf("HypervisorKind(%d).String() = %q, want %q", k, k.String(), want)
		}
	}
}
