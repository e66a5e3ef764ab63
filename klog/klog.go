// Package klog is a minimal printf-style logger over an io.Writer,
// standing in for the teacher's direct fmt.Printf call sites (e.g.
// mem.Phys_init's "Reserved %v pages (%vMB)\n", mem.Dmap_init's
// "dmap via 1GB pages\n") so the rest of the core has one call site to
// redirect instead of a bare os.Stderr write scattered through every
// package. It carries no structure, level filtering, or formatting
// beyond fmt's own verbs, matching the teacher's own logging texture.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

/// SetOutput redirects subsequent Printf/Println calls to w. Boot
/// shims and tests call this before first use; the zero value is
/// os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

/// Printf writes a formatted message, matching fmt.Printf's verbs.
func Printf(format string, args ...any) {
	mu.Lock()
	fmt.Fprintf(out, format, args...)
	mu.Unlock()
}

/// Println writes args space-separated with a trailing newline,
/// matching fmt.Println.
func Println(args ...any) {
	mu.Lock()
	fmt.Fprintln(out, args...)
	mu.Unlock()
}
