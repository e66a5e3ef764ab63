// Package ctx implements execution-context management (component D):
// stack-frame construction for cooperatively-scheduled threads and
// exception trampolines, context switch, and extended/system state
// save-restore.
//
// A bare-metal target realizes Switch as a raw (sp, ip) register swap
// in architecture-specific assembly. Under go test there is no
// freestanding stack to resume onto without the Go runtime's own
// stack-growth bookkeeping, so this implementation keeps the
// architecturally-faithful stack-image construction (see execenv.go)
// but drives actual resumption with a parked goroutine per context,
// woken and re-parked over a pair of unbuffered-style channels. The
// SP/IP fields on Context still hold the values a real target would
// load into the stack-pointer and program-counter registers.
package ctx

import "sync"

/// Context is a saved (stack pointer, instruction pointer) pair.
type Context struct {
	SP uintptr
	IP uintptr

	mu      sync.Mutex
	resume  chan struct{}
	started bool
	fn      func()
}

// ensureStarted spawns the goroutine that represents to's execution
// the first time to is switched into. A context that was instead
// reached as the `from` side of a prior Switch call is already
// "started": the calling goroutine blocked in that Switch is its
// execution, so no wrapper goroutine is spawned for it.
func (c *Context) ensureStarted() chan struct{} {
	c.mu.Lock()
	if c.resume == nil {
		c.resume = make(chan struct{}, 1)
	}
	resume := c.resume
	if c.started {
		c.mu.Unlock()
		return resume
	}
	c.started = true
	fn := c.fn
	c.mu.Unlock()

	go func() {
		<-resume
		if fn != nil {
			fn()
		}
		// entry is declared non-returning; parking here stands in for
		// the undefined behavior a bare-metal target has if it returns.
		select {}
	}()
	return resume
}

// ensureResumeChan allocates c's resumption channel if it has none yet.
func (c *Context) ensureResumeChan() {
	c.mu.Lock()
	if c.resume == nil {
		c.resume = make(chan struct{}, 1)
	}
	c.mu.Unlock()
}

/// InitBare constructs a context that resumes directly at ip on the
/// given stack, running nothing but whatever the caller separately
/// arranges via SetEntryFunc. It is used for the bootstrap/idle
/// context of an LCPU that was never built via InitEntryN.
func InitBare(sp, ip uintptr) *Context {
	return &Context{SP: sp, IP: ip}
}

/// SetEntryFunc binds the hosted resumption callback for a context.
/// Production InitEntryN callers use this internally; it is exported
/// so boot code can give the bootstrap context a body.
func (c *Context) SetEntryFunc(fn func()) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

/// Switch transfers control from the calling context to to, blocking
/// until some later Switch transfers control back to from.
func Switch(from, to *Context) {
	from.mu.Lock()
	if from.resume == nil {
		from.resume = make(chan struct{}, 1)
	}
	from.started = true
	fromResume := from.resume
	from.mu.Unlock()

	toResume := to.ensureStarted()
	toResume <- struct{}{}
	<-fromResume
}
