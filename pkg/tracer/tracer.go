// Package tracer drives the single waitpid event loop that every traced
// process, forked child and emulated ptracee passes through (spec.md
// §4.10, original_source/tracee/event.c launch_process/main_loop). It
// owns no syscall semantics of its own: each stop is classified here and
// handed off to pkg/syscalls (real syscall translation) or pkg/ptraceemu
// (a tracee acting as a ptracer of its own children).
package tracer

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/prootgo/prootgo/pkg/note"
	"github.com/prootgo/prootgo/pkg/ownership"
	"github.com/prootgo/prootgo/pkg/ptraceemu"
	"github.com/prootgo/prootgo/pkg/syscalls"
	"github.com/prootgo/prootgo/pkg/tracee"
)

// Config carries the event loop's startup-time knobs, resolved from
// spec.md §6's CLI flags and environment variables.
type Config struct {
	// AssumeNewSeccomp selects which of the two PTRACE_EVENT_SECCOMP/
	// SIGTRAP orderings the running kernel uses (PROOT_ASSUME_NEW_
	// SECCOMP). The engine never actually installs a seccomp filter
	// (see DESIGN.md), so in practice this only affects the ptrace-
	// emulation SIGSYS-suppression branch; exposed here for parity with
	// the original's command-line surface.
	AssumeNewSeccomp bool

	// KillOnExit terminates every remaining tracee the moment the
	// initial command's own tracee exits, rather than waiting for the
	// whole process tree to drain on its own (spec.md §6 --kill-on-exit).
	KillOnExit bool
}

// Tracer is the process-wide event loop: one per prootgo invocation,
// built by pkg/supervisor once the initial tracee has been started.
type Tracer struct {
	cfg    Config
	table  *tracee.Table
	engine *syscalls.Engine
	arena  *ownership.Node

	initialPid int

	// optionsSet tracks which pids have already had PTRACE_SETOPTIONS
	// applied; a pid's very first wait stop (the TRACEME-induced SIGTRAP
	// for the initial tracee, or the group-stop SIGSTOP a new fork/clone
	// child reports before its parent's event is even processed) is
	// always spent installing options rather than being dispatched as
	// an ordinary syscall/signal event.
	optionsSet map[int]bool

	lastExitCode int
}

// ptraceSetOptions are the events pkg/ptraceemu and pkg/syscalls need
// visibility into: syscall-stop disambiguation (TRACESYSGOOD) and every
// fork/clone/exec/exit variant a ptracee relationship might need to
// observe (spec.md §4.10, §4.9).
const ptraceSetOptions = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEVFORKDONE |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEEXIT

// New builds a Tracer. initialPid is the pid of the tracee pkg/supervisor
// already started with PTRACE_TRACEME and is waiting, stopped, in the
// table under.
func New(cfg Config, table *tracee.Table, engine *syscalls.Engine, arena *ownership.Node, initialPid int) *Tracer {
	return &Tracer{
		cfg:        cfg,
		table:      table,
		engine:     engine,
		arena:      arena,
		initialPid: initialPid,
		optionsSet: make(map[int]bool),
	}
}

// Run is the main loop: a single blocking waitpid(-1, &status, __WALL)
// per iteration, dispatched through handleStop, until no tracee remains.
// It returns the process exit code spec.md §6 promises: the last
// terminated tracee's own exit status.
func (t *Tracer) Run() int {
	for {
		var ws syscall.WaitStatus
		var rusage syscall.Rusage
		pid, err := syscall.Wait4(-1, &ws, unix.WALL, &rusage)
		if err != nil {
			if err == syscall.ECHILD {
				break
			}
			if err == syscall.EINTR {
				continue
			}
			note.System(note.ERROR, err.(syscall.Errno), "wait4 failed")
			break
		}
		t.handleStop(pid, ws)
	}
	return t.lastExitCode
}

// handleStop is step 2-3 of spec.md §4.10's algorithm: locate (or lazily
// create) the tracee the event belongs to, then give pkg/ptraceemu first
// refusal if something is emulating a ptracer relationship over it.
func (t *Tracer) handleStop(pid int, ws syscall.WaitStatus) {
	tr := t.table.Lookup(pid)
	if tr == nil {
		tr = t.registerNewTracee(pid)
	}

	if tr.PtraceeState().Ptracer != nil {
		handled := ptraceemu.HandlePtraceeEvent(tr, int(ws), t.table, t.cfg.AssumeNewSeccomp)
		if handled {
			return
		}
	}

	t.handleOrdinaryEvent(tr, ws)
}

// registerNewTracee creates a placeholder entry for a pid the table has
// never seen stop before: a fork/clone child whose own wait event raced
// ahead of its parent's PTRACE_EVENT_FORK/VFORK/CLONE notification (the
// initial tracee is added to the table by pkg/supervisor before Run).
func (t *Tracer) registerNewTracee(pid int) *tracee.Tracee {
	generic := t.table.GetTracee(nil, pid, true)
	tr, _ := generic.(*tracee.Tracee)
	return tr
}
