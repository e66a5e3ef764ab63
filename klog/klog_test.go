package klog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestPrintfWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Printf("reserved %d pages (%dMB)\n", 512, 2)
	if got := buf.String(); !strings.Contains(got, "reserved 512 pages (2MB)") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestPrintlnWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Println("dmap via 1GB pages")
	if got := buf.String(); !strings.Contains(got, "dmap via 1GB pages") {
		t.Fatalf("unexpected output: %q", got)
	}
}
