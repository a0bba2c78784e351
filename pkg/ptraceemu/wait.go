package ptraceemu

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/errno"
	"github.com/prootgo/prootgo/pkg/regs"
)

const wnohang = 1 // WNOHANG, stable across every Linux ABI

// TranslateWaitEnter cancels a ptracer's wait*(2) call when the requested
// pid is (or might be) one of its own ptracees, so its exit can be
// answered from PRoot's own bookkeeping instead of the real kernel
// (original_source/ptrace/wait.c translate_wait_enter).
func TranslateWaitEnter(ptracer Tracee, reg Registry) {
	pst := ptracer.PtracerState()
	pst.WaitsIn = WaitsInKernel

	if pst.NbPtracees == 0 {
		return
	}

	pid := int64(ptracer.Bank().Peek(regs.ORIGINAL, arch.SYSARG_1))
	if pid != -1 {
		ptracee := reg.GetTracee(ptracer, int(pid), false)
		if ptracee == nil || ptracee.PtraceeState().Ptracer != ptracer {
			return
		}
	}

	ptracer.SetSysnum(arch.Void)
	pst.WaitsIn = WaitsInProot
}

// updateWaitStatus fills in ptracer's wait(2) result for ptracee and
// reports whether the wait syscall should be restarted (0, the event was
// instead passed straight back to the real kernel) or the ptracee's pid.
func updateWaitStatus(ptracer, ptracee Tracee, reg Registry) int64 {
	st := ptracee.PtraceeState()

	// The kernel reports a terminating event to both a process's real
	// parent and its tracer, except when they're the same process. When
	// PRoot's ptracer is also the ptracee's real parent, let the second,
	// parent-facing report go through to the kernel unmolested so the
	// child doesn't become a permanent zombie from the kernel's own
	// point of view.
	if st.Ptracer == ptracee.Parent() &&
		(syscall.WaitStatus(st.Event4Ptracer.Value).Exited() ||
			syscall.WaitStatus(st.Event4Ptracer.Value).Signaled()) {
		ptracer.RestartOriginalSyscall()
		DetachFromPtracer(ptracee)
		if st.IsZombie {
			reg.Detach(ptracee)
		}
		return 0
	}

	address := ptracer.Bank().Peek(regs.ORIGINAL, arch.SYSARG_2)
	if address != 0 {
		if err := ptracer.WriteWord(address, uint64(int32(st.Event4Ptracer.Value))); err != nil {
			return errno.Value(err)
		}
	}
	st.Event4Ptracer.Pending = false

	result := int64(ptracee.Pid())

	if st.IsZombie {
		DetachFromPtracer(ptracee)
		reg.Detach(ptracee)
	}

	return result
}

// TranslateWaitExit answers a ptracer's emulated wait*(2) once an event is
// (or becomes) available, or parks it in the WaitPid/WaitOptions fields
// for handlePtraceeEvent to wake later.
func TranslateWaitExit(ptracer Tracee, reg Registry) int64 {
	pst := ptracer.PtracerState()
	pst.WaitsIn = DoesntWait

	pid := int64(ptracer.Bank().Peek(regs.ORIGINAL, arch.SYSARG_1))
	options := ptracer.Bank().Peek(regs.ORIGINAL, arch.SYSARG_3)

	ptracee := reg.GetStoppedPtracee(ptracer, int(pid), true, options)
	if ptracee == nil {
		if pst.NbPtracees == 0 {
			return errno.Value(errno.New(syscall.ECHILD))
		}

		if options&wnohang != 0 {
			if reg.HasPtracees(ptracer, int(pid), options) {
				return 0
			}
			return errno.Value(errno.New(syscall.ECHILD))
		}

		pst.WaitPid = int(pid)
		pst.WaitOptions = options
		return 0
	}

	return updateWaitStatus(ptracer, ptracee, reg)
}

// HandlePtraceeEvent records ptracee's newly observed wait-status event
// and, if its ptracer is already blocked waiting for it, answers that
// wait immediately; otherwise the event sits pending until the ptracer
// next calls wait*(2) or another ptrace(2) request folds it in. Returns
// whether ptracee should remain stopped (true) or be restarted now
// (false) (original_source/ptrace/wait.c handle_ptracee_event).
func HandlePtraceeEvent(ptracee Tracee, event int, reg Registry, seccompAfterEnterSigtrap bool) bool {
	st := ptracee.PtraceeState()
	st.Event4Proot = Event{Value: event, Pending: true}

	ptracer := st.Ptracer
	if ptracer == nil {
		return false
	}
	pst := ptracer.PtracerState()

	keepStopped := true
	handledByProotFirst := false
	mayBeSuppressed := false

	status := syscall.WaitStatus(event)
	switch {
	case status.Stopped():
		sig := status.StopSignal()
		cause := status.TrapCause()
		switch {
		case sig == syscall.SIGTRAP|0x80:
			if st.IgnoreSyscalls || st.IgnoreLoaderSyscalls {
				return false
			}
			if st.Options&unix.PTRACE_O_TRACESYSGOOD == 0 {
				event &^= 0x80 << 8
			}
			handledByProotFirst = isInSysexit(ptracee)

		case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_FORK:
			if st.Options&unix.PTRACE_O_TRACEFORK == 0 {
				return false
			}
			st.TracingStarted, handledByProotFirst = true, true
		case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_VFORK:
			if st.Options&unix.PTRACE_O_TRACEVFORK == 0 {
				return false
			}
			st.TracingStarted, handledByProotFirst = true, true
		case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_VFORK_DONE:
			if st.Options&unix.PTRACE_O_TRACEVFORKDONE == 0 {
				return false
			}
			st.TracingStarted, handledByProotFirst = true, true
		case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_CLONE:
			if st.Options&unix.PTRACE_O_TRACECLONE == 0 {
				return false
			}
			st.TracingStarted, handledByProotFirst = true, true
		case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_EXIT:
			if st.Options&unix.PTRACE_O_TRACEEXIT == 0 {
				return false
			}
			st.TracingStarted, handledByProotFirst = true, true
		case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_EXEC:
			if st.Options&unix.PTRACE_O_TRACEEXEC == 0 {
				return false
			}
			st.TracingStarted, handledByProotFirst = true, true

		case sig == syscall.SIGTRAP && cause == unix.PTRACE_EVENT_SECCOMP:
			// Not supported under ptrace emulation.
			return false

		case sig == syscall.SIGSYS:
			handledByProotFirst = true
			mayBeSuppressed = true

		default:
			st.TracingStarted = true
		}

	case status.Exited(), status.Signaled():
		st.TracingStarted = true
		keepStopped = false
	}

	// A process is not "traced" from the TRACEME request itself; it's
	// traced from its first received signal, whether self-raised or
	// induced by a PTRACE_EVENT_*.
	if !st.TracingStarted {
		return false
	}

	if handledByProotFirst {
		signal := ptracee.HandleEvent(st.Event4Proot.Value)
		st.Event4Proot.Value = signal

		if mayBeSuppressed && signal == 0 {
			if seccompAfterEnterSigtrap {
				if st.IgnoreSyscalls {
					ptracee.RestartTracee(0)
					return true
				}
				// Already told the ptracer about syscall
				// entry before learning seccomp would block
				// it; tell it about the (suppressed) exit too.
				st.Event4Proot.Value = 0
				if st.Options&unix.PTRACE_O_TRACESYSGOOD != 0 {
					event = int(syscall.SIGTRAP|0x80) | (0x7f << 8)
				} else {
					event = int(syscall.SIGTRAP) | (0x7f << 8)
				}
			} else {
				ptracee.RestartTracee(0)
				return true
			}
		}
	}

	st.Event4Ptracer = Event{Value: event, Pending: true}

	_ = reg.Kill(ptracer.Pid(), syscall.SIGCHLD)

	if (pst.WaitPid == -1 || pst.WaitPid == ptracee.Pid()) && expectedWaitClone(pst.WaitOptions, ptracee) {
		result := updateWaitStatus(ptracer, ptracee, reg)
		if result == 0 {
			ptracer.ChainNextSyscall()
		} else {
			ptracer.Bank().Poke(regs.CURRENT, arch.SYSARG_RESULT, uint64(result))
		}

		pst.WaitPid = 0
		restarted := ptracer.RestartTracee(0)
		if !restarted {
			keepStopped = false
		}
		return keepStopped
	}

	return keepStopped
}

// isInSysexit reports whether ptracee is currently stopped at a syscall
// exit rather than an enter, used to decide whether a SIGTRAP|0x80 event
// needs PRoot's own exit translator to run before the ptracer sees it.
// A concrete Tracee is expected to track this alongside its register
// bank; wired in by pkg/tracee.
func isInSysexit(ptracee Tracee) bool {
	type sysexitReporter interface{ InSysexit() bool }
	if r, ok := ptracee.(sysexitReporter); ok {
		return r.InSysexit()
	}
	return false
}

// ExpectedWaitClone is the exported face of expectedWaitClone, used by a
// Registry implementation's GetStoppedPtracee/HasPtracees to apply the
// same __WCLONE/__WALL matching rule this package uses internally.
func ExpectedWaitClone(options uint64, ptracee Tracee) bool {
	return expectedWaitClone(options, ptracee)
}

// expectedWaitClone mirrors EXPECTED_WAIT_CLONE: a __WCLONE-only wait only
// matches a ptracee that isn't a normal SIGCHLD-delivering child, and vice
// versa, unless __WALL was given.
func expectedWaitClone(options uint64, ptracee Tracee) bool {
	const (
		wclone = 0x80000000
		wall   = 0x40000000
	)
	if options&wall != 0 {
		return true
	}
	type cloneReporter interface{ IsCloneChild() bool }
	isClone := false
	if r, ok := ptracee.(cloneReporter); ok {
		isClone = r.IsCloneChild()
	}
	return (options&wclone != 0) == isClone
}
