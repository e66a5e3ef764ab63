package arm64

import (
	"testing"

	"ukcore/diag"
)

func TestCaptureFaultSetsArchAndCode(t *testing.T) {
	fc := CaptureFault(0x4000, []byte{0x1f, 0x20, 0x03, 0xd5})
	if fc.Arch != diag.ArchARM64 {
		t.Fatalf("expected arm64 arch tag, got %v", fc.Arch)
	}
	if !fc.HaveCode {
		t.Fatal("expected HaveCode true with non-empty code")
	}
}

func TestCaptureFaultNoCodeLeavesHaveCodeFalse(t *testing.T) {
	fc := CaptureFault(0x4000, nil)
	if fc.HaveCode {
		t.Fatal("expected HaveCode false with no captured bytes")
	}
}
