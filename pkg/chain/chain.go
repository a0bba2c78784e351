// Package chain implements chained-syscall queuing: a tracee can have
// synthetic syscalls appended at sysexit, triggered in order once the
// current syscall is done (spec.md §4.7, original_source/syscall/chain.c).
package chain

import (
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/regs"
)

// ChainedSyscall is one queued synthetic syscall (spec.md §3).
type ChainedSyscall struct {
	Sysnum arch.Sysnum
	Args   [6]uint64
}

// WorkaroundState tracks the sysnum-write-rejection workaround some
// kernels need: certain ABI/arch combos reject changing SYSARG_NUM
// mid-stop, so the original call is instead replayed as the first
// entry of a forced chain (original_source/syscall/chain.c
// restart_current_syscall_as_chained).
type WorkaroundState int

const (
	WorkaroundInactive WorkaroundState = iota
	WorkaroundProcessFaultyCall
	WorkaroundAfterFaultyCall
)

// Queue is a tracee's FIFO of pending chained syscalls plus the
// bookkeeping needed to force a final result once the chain drains.
type Queue struct {
	pending          []ChainedSyscall
	ForceFinalResult bool
	FinalResult      uint64
	WorkaroundState  WorkaroundState

	// SuppressedSignal holds a signal that arrived while a chained
	// syscall was in flight: delivering it immediately would land on the
	// wrong instruction (the synthetic call, not whatever the tracee was
	// really doing), so the event loop parks it here and redelivers it
	// once the chain drains (spec.md §7, original_source/syscall/chain.c
	// suppressed signal handling).
	SuppressedSignal int
}

// Register appends sysnum(args) to the end of the chain (spec.md §4.7
// register_chained_syscall): these run, in order, once the syscall
// currently being emulated completes.
func (q *Queue) Register(sysnum arch.Sysnum, args [6]uint64) {
	q.pending = append(q.pending, ChainedSyscall{Sysnum: sysnum, Args: args})
}

// registerFront inserts sysnum(args) at the head of the chain, used by
// restart_current_syscall_as_chained to force a replay of the syscall
// that couldn't have its SYSARG_NUM rewritten in place.
func (q *Queue) registerFront(sysnum arch.Sysnum, args [6]uint64) {
	q.pending = append([]ChainedSyscall{{Sysnum: sysnum, Args: args}}, q.pending...)
}

// Empty reports whether no chained syscalls remain.
func (q *Queue) Empty() bool { return len(q.pending) == 0 }

// Next pops and returns the first queued syscall; it must only be
// called when Empty() is false.
func (q *Queue) Next() ChainedSyscall {
	s := q.pending[0]
	q.pending = q.pending[1:]
	return s
}

// Advance is chain_next_syscall: called at the end of sysexit, it
// either rewrites the register bank for the next chained syscall and
// asks for another PTRACE_SYSCALL restart, or — if the chain is
// drained — pokes the forced final result (if any) and reports nothing
// more to do.
func Advance(bank *regs.Bank, profile *arch.Profile, q *Queue) (continueChain bool) {
	if q.Empty() {
		if q.ForceFinalResult {
			bank.Poke(regs.CURRENT, arch.SYSARG_RESULT, q.FinalResult)
		}
		q.ForceFinalResult = false
		q.FinalResult = 0
		return false
	}

	next := q.Next()

	bank.SetArg(regs.CURRENT, 0, next.Args[0])
	bank.SetArg(regs.CURRENT, 1, next.Args[1])
	bank.SetArg(regs.CURRENT, 2, next.Args[2])
	bank.SetArg(regs.CURRENT, 3, next.Args[3])
	bank.SetArg(regs.CURRENT, 4, next.Args[4])
	bank.SetArg(regs.CURRENT, 5, next.Args[5])

	bank.SetSysnum(regs.CURRENT, next.Sysnum)

	// Move the instruction pointer back to the original trap so the
	// kernel re-enters the syscall path for the chained call.
	ip := bank.Peek(regs.CURRENT, arch.INSTR_POINTER)
	bank.Poke(regs.CURRENT, arch.INSTR_POINTER, ip-uint64(profile.SystrapSize))

	return true
}

// RestartOriginal re-queues the tracee's ORIGINAL syscall as the (only,
// for now) entry of the chain, overwriting whatever result the current
// syscall would otherwise report (spec.md §4.7 restart_original_syscall).
func RestartOriginal(bank *regs.Bank, q *Queue) {
	q.Register(bank.Sysnum(regs.ORIGINAL), bank.Args(regs.ORIGINAL))
}

// RestartCurrentAsChained implements restart_current_syscall_as_chained:
// when the kernel rejects an in-place SYSARG_NUM rewrite, the current
// syscall is instead pushed to the front of the chain and replayed via
// the ordinary chain-advance mechanism, with the workaround state
// machine tracking that this replay is a faulty-call recovery, not a
// normal chained syscall.
func RestartCurrentAsChained(bank *regs.Bank, q *Queue) error {
	if q.WorkaroundState != WorkaroundInactive {
		return syscall.EINVAL
	}
	q.WorkaroundState = WorkaroundProcessFaultyCall
	q.registerFront(bank.Sysnum(regs.CURRENT), bank.Args(regs.CURRENT))
	return nil
}
