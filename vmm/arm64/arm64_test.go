package arm64

import (
	"testing"

	"ukcore/defs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := Arch{}
	pte := a.Encode(0x123000, defs.AttrRead|defs.AttrWrite|defs.AttrExec, 1, true)
	if !a.Present(pte) {
		t.Fatal("expected valid descriptor")
	}
	paddr, attr, leaf := a.Decode(pte, 1)
	if paddr != 0x123000 {
		t.Fatalf("unexpected paddr: %x", paddr)
	}
	if !leaf {
		t.Fatal("expected leaf at level 1")
	}
	if attr&defs.AttrWrite == 0 || attr&defs.AttrExec == 0 {
		t.Fatalf("unexpected attr: %v", attr)
	}
}

func TestReadOnlyClearsWriteAttr(t *testing.T) {
	a := Arch{}
	pte := a.Encode(0x400000, defs.AttrRead, 1, true)
	_, attr, _ := a.Decode(pte, 1)
	if attr&defs.AttrWrite != 0 {
		t.Fatal("expected no write attribute")
	}
}

func TestBlockDescriptorAtLevel2(t *testing.T) {
	a := Arch{}
	pte := a.Encode(0x800000, defs.AttrRead, 2, true)
	_, _, leaf := a.Decode(pte, 2)
	if !leaf {
		t.Fatal("expected block descriptor to decode as leaf")
	}
}

func TestTableDescriptorNotLeaf(t *testing.T) {
	a := Arch{}
	pte := a.Encode(0x900000, defs.AttrRead|defs.AttrWrite, 3, false)
	_, _, leaf := a.Decode(pte, 3)
	if leaf {
		t.Fatal("expected table descriptor to decode as non-leaf")
	}
}
