package tracer

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/note"
	"github.com/prootgo/prootgo/pkg/regs"
	"github.com/prootgo/prootgo/pkg/tracee"
)

// handleOrdinaryEvent is spec.md §4.10 steps 4-5: classify a stop that
// pkg/ptraceemu didn't fully consume, run whatever translation it needs,
// and restart the tracee with the signal/mode the classification leaves
// behind.
func (t *Tracer) handleOrdinaryEvent(tr *tracee.Tracee, ws syscall.WaitStatus) {
	if ws.Exited() || ws.Signaled() {
		t.onTerminated(tr, ws)
		return
	}
	if !ws.Stopped() {
		return
	}

	if !t.optionsSet[tr.Pid()] {
		t.installPtraceOptions(tr)
		return
	}

	sig := ws.StopSignal()
	cause := ws.TrapCause()
	restartSignal := 0

	switch {
	case sig == syscall.SIGTRAP|0x80:
		t.handleSyscallStop(tr)

	case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_FORK:
		t.handleNewChild(tr, false)
	case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_VFORK:
		t.handleNewChild(tr, false)
	case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_CLONE:
		t.handleNewChild(tr, true)

	case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_VFORK_DONE:
		// Nothing to do: the parent's own memory/fd state, unshared
		// again now that the child has exec'd or exited, needs no
		// bookkeeping on our side.

	case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_EXEC:
		// The exec that triggered this already ran through
		// enterExecve/exitExecve as an ordinary syscall stop; this
		// event carries no extra information we need.

	case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_EXIT:
		// The tracee is about to exit; the next wait on it reports
		// Exited()/Signaled(), handled above.

	case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_SECCOMP:
		// The engine never installs a kernel seccomp filter (see
		// DESIGN.md); a real kernel-level tracee stopping here anyway
		// means some other tracer in the tree set one up, which we
		// don't interpret. Restart unchanged.

	default:
		if !tr.Chain.Empty() {
			tr.Chain.SuppressedSignal = int(sig)
		} else {
			restartSignal = int(sig)
		}
	}

	if !tr.RestartTracee(restartSignal) {
		t.table.Remove(tr.Pid())
		tr.Destroy()
	}
}

// handleSyscallStop is the SIGTRAP|0x80 half of spec.md §4.10: one call
// per enter, one per exit, bracketing exactly one syscalls.Engine.Enter/
// Exit pair and the one ptrace GETREGS/SETREGS spec.md §4.1 budgets for
// it.
func (t *Tracer) handleSyscallStop(tr *tracee.Tracee) {
	// Bank.Fetch refreshes every version; at sysexit ORIGINAL is put back
	// to its sysenter values so the exit-stage dispatch sees the syscall
	// the tracee asked for, not the one it was rewritten or voided into.
	var original syscall.PtraceRegs
	if tr.InSysexit() {
		original = *tr.Bank().PtraceRegsPtr(regs.ORIGINAL)
	}
	if err := tr.Bank().Fetch(tr.Pid()); err != nil {
		note.Note(note.ERROR, note.INTERNAL, "pid %d: %v", tr.Pid(), err)
		return
	}
	if tr.InSysexit() {
		*tr.Bank().PtraceRegsPtr(regs.ORIGINAL) = original
	}

	signal := 0

	if !tr.InSysexit() {
		t.engine.Enter(tr)
		tr.SetInSysexit(true)
	} else {
		t.engine.Exit(tr)
		tr.SetInSysexit(false)

		// ChainNextSyscall rewrites the bank for the next synthetic
		// call and sets InSysexit back to false->true won't happen
		// here (chain.Advance rewinds IP to re-enter sysenter); once
		// the chain actually drains, any signal that arrived mid-chain
		// can finally be delivered without landing on the wrong
		// instruction (spec.md §7).
		if !tr.ChainNextSyscall() && tr.Chain.SuppressedSignal != 0 {
			signal = tr.Chain.SuppressedSignal
			tr.Chain.SuppressedSignal = 0
		}
	}

	if err := tr.Bank().Push(tr.Pid()); err != nil {
		note.Note(note.ERROR, note.INTERNAL, "pid %d: %v", tr.Pid(), err)
	}

	if !tr.RestartTracee(signal) {
		t.table.Remove(tr.Pid())
		tr.Destroy()
	}
}

// handleNewChild registers a just-forked/cloned child under its real
// parent and decides what it shares with it: CLONE_FS keeps the same
// *pathengine.Namespace pointer instead of registry.GetTracee's default
// copy-on-fork, and CLONE_VM keeps the same *heap.Heap (spec.md §3, §9
// "heap sharing"). isClone is true for PTRACE_EVENT_CLONE, where the
// kernel clone(2) flags (read from the parent's own syscall arguments,
// still sitting in ORIGINAL since no further Fetch has happened since
// sysenter) decide sharing; FORK/VFORK never share either.
func (t *Tracer) handleNewChild(parent *tracee.Tracee, isClone bool) {
	childPid, err := syscall.PtraceGetEventMsg(parent.Pid())
	if err != nil {
		note.System(note.WARNING, err.(syscall.Errno), "pid %d: ptrace geteventmsg", parent.Pid())
		return
	}

	generic := t.table.GetTracee(parent, int(childPid), true)
	child, ok := generic.(*tracee.Tracee)
	if !ok {
		return
	}

	if isClone {
		flags := parent.Bank().Peek(regs.ORIGINAL, arch.SYSARG_1)
		if flags&uint64(syscall.CLONE_FS) != 0 {
			child.NS = parent.NS
		}
		if flags&uint64(syscall.CLONE_VM) != 0 {
			child.Heap = parent.Heap
		}
		if flags&uint64(syscall.CLONE_THREAD) != 0 {
			child.CloneChild = true
		}
	}
}

// installPtraceOptions runs once per pid, on whichever stop is the first
// this tracer ever sees for it: the initial tracee's TRACEME-induced
// SIGTRAP, or a new fork/clone child's own group-stop SIGSTOP (the
// kernel auto-attaches it to the same tracer under PTRACE_O_TRACEFORK/
// VFORK/CLONE, but does not inherit the parent's options).
func (t *Tracer) installPtraceOptions(tr *tracee.Tracee) {
	t.optionsSet[tr.Pid()] = true

	if err := unix.PtraceSetOptions(tr.Pid(), ptraceSetOptions); err != nil {
		note.System(note.ERROR, err.(syscall.Errno), "pid %d: ptrace setoptions", tr.Pid())
	}

	if !tr.RestartTracee(0) {
		t.table.Remove(tr.Pid())
		tr.Destroy()
	}
}

// onTerminated reaps a tracee that the kernel has just reported as
// exited or signal-killed: its own Destroy() runs the arena destructors
// registered against it, and its exit status becomes the process exit
// code candidate spec.md §6 describes ("mirrors the last terminated
// tracee's exit status").
func (t *Tracer) onTerminated(tr *tracee.Tracee, ws syscall.WaitStatus) {
	tr.Terminated = true
	t.table.Remove(tr.Pid())
	tr.Destroy()

	switch {
	case ws.Exited():
		t.lastExitCode = ws.ExitStatus()
	case ws.Signaled():
		t.lastExitCode = 128 + int(ws.Signal())
	}

	if t.cfg.KillOnExit && tr.Pid() == t.initialPid {
		t.killAllTracees()
	}
}
