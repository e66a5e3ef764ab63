package lcpu

import (
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"ukcore/defs"
	"ukcore/diag"
)

func TestInitBSPReachesIdle(t *testing.T) {
	tbl := NewTable()
	r, err := tbl.InitBSP(0)
	if err != 0 {
		t.Fatalf("InitBSP: %v", err)
	}
	if r.State() != 0 {
		t.Fatalf("expected BSP idle (state 0), got %d", r.State())
	}
	if tbl.Count() != 1 {
		t.Fatalf("expected count 1, got %d", tbl.Count())
	}
}

func TestAllocRejectsDuplicate(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Alloc(1); err != 0 {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := tbl.Alloc(1); err != -defs.EEXIST {
		t.Fatalf("expected EEXIST, got %v", err)
	}
}

func TestStartDefaultEntryReachesIdle(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Alloc(1); err != 0 {
		t.Fatalf("Alloc: %v", err)
	}

	num, err := tbl.Start([]int{1}, []func(){nil})
	if err != 0 || num != 1 {
		t.Fatalf("Start: num=%d err=%v", num, err)
	}

	if waitErr := tbl.Wait([]int{1}, time.Second); waitErr != 0 {
		t.Fatalf("Wait: %v", waitErr)
	}

	r, _ := tbl.Get(1)
	if r.State() != 0 {
		t.Fatalf("expected idle after default entry, got %d", r.State())
	}
}

func TestStartAgainstOfflineOnlyRecord(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Alloc(2); err != 0 {
		t.Fatalf("Alloc: %v", err)
	}
	// Starting twice: the second attempt finds INIT/IDLE, not OFFLINE,
	// and must halt that record rather than silently succeed.
	if _, err := tbl.Start([]int{2}, []func(){nil}); err != 0 {
		t.Fatalf("first Start: %v", err)
	}
	tbl.Wait([]int{2}, time.Second)

	num, err := tbl.Start([]int{2}, []func(){nil})
	if num != 0 || err != -defs.EINVAL {
		t.Fatalf("expected rejection of non-OFFLINE start, got num=%d err=%v", num, err)
	}
	r, _ := tbl.Get(2)
	if r.State() != StateHalted {
		t.Fatalf("expected record halted after bad start, got %d", r.State())
	}
}

// TestCrossCPURun exercises the scenario: lcpu_run([idx], 1, fn, 0)
// returns 0; the target's state transitions IDLE -> BUSY1 -> (after the
// handler runs fn) back to IDLE; lcpu_wait then observes it idle.
func TestCrossCPURun(t *testing.T) {
	tbl := NewTable()
	tbl.Alloc(3)
	tbl.Start([]int{3}, []func(){nil})
	if err := tbl.Wait([]int{3}, time.Second); err != 0 {
		t.Fatalf("Wait before run: %v", err)
	}

	var ran int32
	var seenArg unsafe.Pointer
	arg := new(int)
	*arg = 42

	num, err := tbl.Run([]int{3}, func(u unsafe.Pointer) {
		atomic.StoreInt32(&ran, 1)
		seenArg = u
	}, unsafe.Pointer(arg), false)
	if err != 0 || num != 1 {
		t.Fatalf("Run: num=%d err=%v", num, err)
	}

	if err := tbl.Wait([]int{3}, time.Second); err != 0 {
		t.Fatalf("Wait after run: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("function was not run")
	}
	if (*int)(seenArg) != arg {
		t.Fatal("user argument did not reach function")
	}

	r, _ := tbl.Get(3)
	if r.State() != 0 {
		t.Fatalf("expected idle after run completes, got %d", r.State())
	}
}

func TestRunDoNotBlockReturnsEAGAINOnContention(t *testing.T) {
	tbl := NewTable()
	tbl.Alloc(4)
	tbl.Start([]int{4}, []func(){nil})
	tbl.Wait([]int{4}, time.Second)

	r, _ := tbl.Get(4)
	block := make(chan struct{})
	release := make(chan struct{})

	tbl.Run([]int{4}, func(unsafe.Pointer) {
		close(block)
		<-release
	}, nil, false)
	<-block

	// serviceRun empties the slot before calling the function above, so
	// a second run occupies it while the first is still in flight.
	tbl.Run([]int{4}, func(unsafe.Pointer) {}, nil, false)

	// The slot is held by that pending function; a third, DoNotBlock
	// run against the same target must not spin.
	num, err := tbl.Run([]int{4}, func(unsafe.Pointer) {}, nil, true)
	if err != -defs.EAGAIN || num != 0 {
		close(release)
		t.Fatalf("expected EAGAIN, got num=%d err=%v", num, err)
	}
	if r.State() != 2 {
		close(release)
		t.Fatalf("expected busy count 2 after rollback, got %d", r.State())
	}
	close(release)

	if err := tbl.Wait([]int{4}, time.Second); err != 0 {
		t.Fatalf("Wait after release: %v", err)
	}
}

func TestRunAgainstOfflineReturnsEINVAL(t *testing.T) {
	tbl := NewTable()
	tbl.Alloc(5)
	num, err := tbl.Run([]int{5}, func(unsafe.Pointer) {}, nil, false)
	if num != 0 || err != -defs.EINVAL {
		t.Fatalf("expected EINVAL for offline target, got num=%d err=%v", num, err)
	}
}

func TestWaitTimesOutWhileBusy(t *testing.T) {
	tbl := NewTable()
	tbl.Alloc(6)
	tbl.Start([]int{6}, []func(){nil})
	tbl.Wait([]int{6}, time.Second)

	release := make(chan struct{})
	tbl.Run([]int{6}, func(unsafe.Pointer) { <-release }, nil, false)

	if err := tbl.Wait([]int{6}, 10*time.Millisecond); err != -defs.ETIMEDOUT {
		close(release)
		t.Fatalf("expected ETIMEDOUT, got %v", err)
	}
	close(release)
	tbl.Wait([]int{6}, time.Second)
}

func TestHaltIsTerminalAndRejectsRun(t *testing.T) {
	tbl := NewTable()
	tbl.Alloc(7)
	tbl.Start([]int{7}, []func(){nil})
	tbl.Wait([]int{7}, time.Second)

	r, _ := tbl.Get(7)
	r.Halt(-defs.ENOTSUP)
	if r.State() != StateHalted {
		t.Fatalf("expected HALTED, got %d", r.State())
	}
	if r.ErrorCode() != -defs.ENOTSUP {
		t.Fatalf("expected recorded error code, got %v", r.ErrorCode())
	}

	num, err := tbl.Run([]int{7}, func(unsafe.Pointer) {}, nil, false)
	if num != 0 || err != -defs.EINVAL {
		t.Fatalf("expected run against halted target to fail, got num=%d err=%v", num, err)
	}

	// Halt is idempotent: a second call must not panic on double-close.
	r.Halt(-defs.EINVAL)
	if r.ErrorCode() != -defs.ENOTSUP {
		t.Fatal("expected first halt's error code to stick")
	}
}

func TestHaltFaultWithCodeStillHaltsOnBadInstruction(t *testing.T) {
	tbl := NewTable()
	tbl.Alloc(9)
	tbl.Start([]int{9}, []func(){nil})
	tbl.Wait([]int{9}, time.Second)

	r, _ := tbl.Get(9)
	// An undecodable byte sequence must not prevent the halt itself;
	// DisassembleFault's error is logged, not propagated.
	r.HaltFault(-defs.EINVAL, FaultContext{Arch: diag.ArchAMD64, Code: []byte{0x0f}, IP: 0x4000, HaveCode: true})
	if r.State() != StateHalted {
		t.Fatalf("expected HALTED, got %d", r.State())
	}
	if r.ErrorCode() != -defs.EINVAL {
		t.Fatalf("expected recorded error code, got %v", r.ErrorCode())
	}
}

func TestHaltFaultWithDecodableInstructionHalts(t *testing.T) {
	tbl := NewTable()
	tbl.Alloc(10)
	tbl.Start([]int{10}, []func(){nil})
	tbl.Wait([]int{10}, time.Second)

	r, _ := tbl.Get(10)
	r.HaltFault(-defs.ENOTSUP, FaultContext{Arch: diag.ArchAMD64, Code: []byte{0xc3}, IP: 0x4000, HaveCode: true})
	if r.State() != StateHalted || r.ErrorCode() != -defs.ENOTSUP {
		t.Fatalf("expected HALTED with recorded error, got state=%d err=%v", r.State(), r.ErrorCode())
	}
}

func TestWakeupIsNoopOnOfflineTarget(t *testing.T) {
	tbl := NewTable()
	tbl.Alloc(8)
	if err := tbl.Wakeup([]int{8}); err != 0 {
		t.Fatalf("Wakeup: %v", err)
	}
}

func TestGetUnknownIndexReturnsENOTFOUND(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Get(9); err != -defs.ENOTFOUND {
		t.Fatalf("expected ENOTFOUND, got %v", err)
	}
}

func TestGetOutOfRangeReturnsEINVAL(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Get(-1); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL for negative index, got %v", err)
	}
	if _, err := tbl.Get(MaxLCPU); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL for out-of-range index, got %v", err)
	}
}

func TestHaltIRQUntilReturnsAfterDeadline(t *testing.T) {
	start := time.Now()
	HaltIRQUntil(start.Add(10 * time.Millisecond))
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("returned before deadline")
	}
}

func TestStartWithUserEntrySkipsIdleLoop(t *testing.T) {
	tbl := NewTable()
	tbl.Alloc(10)

	done := make(chan struct{})
	num, err := tbl.Start([]int{10}, []func(){func() {
		close(done)
	}})
	if err != 0 || num != 1 {
		t.Fatalf("Start: num=%d err=%v", num, err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("user entry never ran")
	}

	r, _ := tbl.Get(10)
	if r.State() != 1 {
		t.Fatalf("expected record to remain busy (count 1) once handed to user entry, got %d", r.State())
	}
}
